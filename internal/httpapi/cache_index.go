package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
)

// getIndex implements GET /cache/:project/index.json (§4.4).
func (h *handler) getIndex(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if h.deps.Index == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "index store unavailable")
		return
	}
	idx, err := h.deps.Index.Load(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, idx)
}

// indexPatchBody carries a subset of per-entry fields an operator may edit
// directly, mirroring the spec's "manual index edit" affordance (§4.4) used
// to correct a stuck status or adjust published zoom bounds without a
// re-render.
type indexPatchBody struct {
	Kind             cacheindex.Kind   `json:"kind"`
	Name             string            `json:"name"`
	Status           cacheindex.Status `json:"status,omitempty"`
	PublishedZoomMin *int              `json:"published_zoom_min,omitempty"`
	PublishedZoomMax *int              `json:"published_zoom_max,omitempty"`
}

// patchIndex implements PATCH /cache/:project/index.json.
func (h *handler) patchIndex(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if h.deps.Index == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "index store unavailable")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	var patch indexPatchBody
	if err := json.Unmarshal(body, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if patch.Name == "" {
		writeError(w, http.StatusBadRequest, "target_required", "")
		return
	}

	entry, err := h.deps.Index.Upsert(project, patch.Kind, patch.Name, func(e cacheindex.Entry) cacheindex.Entry {
		if patch.Status != "" {
			e.Status = patch.Status
		}
		if patch.PublishedZoomMin != nil {
			e.PublishedZoomMin = *patch.PublishedZoomMin
		}
		if patch.PublishedZoomMax != nil {
			e.PublishedZoomMax = *patch.PublishedZoomMax
		}
		return e
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// deleteProjectCache implements DELETE /cache/:project (§4.4): wipe every
// cached layer and theme's on-disk tiles and mark the whole index
// uncached, without touching project config.
func (h *handler) deleteProjectCache(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	if h.deps.Index == nil || h.deps.Tiles == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "cache stores unavailable")
		return
	}

	idx, err := h.deps.Index.Load(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	for _, entry := range idx.Layers {
		if err := h.purge.Purge(project, entry.Name); err != nil {
			writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// deleteLayerCache implements DELETE /cache/:project/:name, purging one
// layer or theme's tile tree and clearing its index entry.
func (h *handler) deleteLayerCache(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "name")
	if h.purge == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "cache stores unavailable")
		return
	}
	if err := h.purge.Purge(project, name); err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
