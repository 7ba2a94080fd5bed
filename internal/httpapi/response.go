// Package httpapi is the HTTP surface of §6.2: a chi router wiring the
// project/cache/job/schedule/OGC/on-demand subsystems together behind one
// listener.
package httpapi

import (
	"encoding/json"
	"net/http"
)

// errorBody is the standard error shape of §6.2: {error, details?}.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code string, details string) {
	writeJSON(w, status, errorBody{Error: code, Details: details})
}
