package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/ondemand"
)

type onDemandAbortBody struct {
	SessionID string `json:"sessionId"`
}

// onDemandAbortSession implements POST /on-demand/abort and POST
// /viewer/abort (§4.7): drop any queued render carrying the given viewer
// session id and remember it as aborted for a grace window.
func (h *handler) onDemandAbortSession(w http.ResponseWriter, r *http.Request) {
	if h.deps.OnDemand == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	var body onDemandAbortBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.SessionID == "" {
		body.SessionID = r.Header.Get("X-Viewer-Session")
	}
	h.deps.OnDemand.AbortSession(body.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (h *handler) onDemandStatus(w http.ResponseWriter, r *http.Request) {
	if h.deps.OnDemand == nil {
		writeJSON(w, http.StatusOK, ondemand.Status{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.OnDemand.Status())
}

type onDemandAbortAllBody struct {
	WindowMS int64 `json:"windowMs"`
}

// onDemandAbortAll implements POST /on-demand/abort-all: pauses the whole
// pool for a bounded window, draining every queued render.
func (h *handler) onDemandAbortAll(w http.ResponseWriter, r *http.Request) {
	if h.deps.OnDemand == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	var body onDemandAbortAllBody
	_ = json.NewDecoder(r.Body).Decode(&body)
	window := time.Duration(body.WindowMS) * time.Millisecond
	h.deps.OnDemand.AbortAll(window)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}
