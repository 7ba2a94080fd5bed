package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/MeKo-Tech/tilecache/internal/sanitize"
	"github.com/MeKo-Tech/tilecache/internal/schedule"
)

type projectSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	File string `json:"file,omitempty"`
}

// listProjects implements GET /projects. The project source file (and its
// upload) is an external collaborator's concern (§1); this only reports
// what has a cache directory bootstrapped under it.
func (h *handler) listProjects(w http.ResponseWriter, r *http.Request) {
	ids := h.deps.projectIDs()
	out := make([]projectSummary, 0, len(ids))
	for _, id := range ids {
		out = append(out, projectSummary{ID: id, Name: id})
	}
	writeJSON(w, http.StatusOK, out)
}

// createProject implements POST /projects. Multipart upload and project
// bootstrap from an external project source file are explicitly out of
// this core's scope (§1 Non-goals: "parsing project source files"); a real
// deployment fronts this with the admin UI's own upload handler.
func (h *handler) createProject(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "project_upload_not_implemented",
		"project creation is handled by the external admin surface")
}

// deleteProject implements DELETE /projects/:id (§4.5.5): abort every
// running job for the project, wait for them to clear, then delete its
// entire cache directory.
func (h *handler) deleteProject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "project_id_required", "")
		return
	}

	if h.deps.Jobs != nil {
		for _, job := range h.deps.Jobs.List() {
			snap := job.Snapshot()
			if snap.ProjectID != id {
				continue
			}
			_ = h.deps.Jobs.Abort(snap.ID)
		}
		if !h.waitForProjectJobsToClear(id, 10*time.Second) {
			writeError(w, http.StatusInternalServerError, "job_abort_failed", "jobs did not stop within the grace period")
			return
		}
	}

	if h.deps.Tiles != nil {
		dir := filepath.Join(h.deps.CacheRoot, sanitize.ProjectID(id))
		if err := h.deps.Tiles.DeleteTree(dir); err != nil {
			writeError(w, http.StatusInternalServerError, "delete_failed", err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *handler) waitForProjectJobsToClear(projectID string, timeout time.Duration) bool {
	if h.deps.Jobs == nil {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		clear := true
		for _, job := range h.deps.Jobs.List() {
			snap := job.Snapshot()
			if snap.ProjectID != projectID {
				continue
			}
			if snap.Status != "completed" && snap.Status != "error" && snap.Status != "aborted" {
				clear = false
				break
			}
		}
		if clear {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

func (h *handler) getProjectConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.deps.Projects == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "project config service unavailable")
		return
	}
	cfg, err := h.deps.Projects.Read(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) patchProjectConfig(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.deps.Projects == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "project config service unavailable")
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	patch, err := projectmodel.BuildPatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	cfg, err := h.deps.Projects.Update(id, patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *handler) getProjectBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.deps.Batches == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	runID, active := h.deps.Batches.ActiveForProject(id)
	if !active {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	run, ok := h.deps.Batches.Get(runID)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type postProjectBatchBody struct {
	Layers []string `json:"layers,omitempty"`
}

func (h *handler) postProjectBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if h.deps.Batches == nil || h.deps.Projects == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "batch registry unavailable")
		return
	}

	var body postProjectBatchBody
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	cfg, err := h.deps.Projects.Read(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	run, err := h.deps.Batches.StartAsync(context.Background(), id, body.Layers, cfg, "manual-project", "api", "")
	if errors.Is(err, schedule.ErrBatchRunning) {
		existing, _ := h.deps.Batches.ActiveForProject(id)
		writeError(w, http.StatusConflict, "batch_running", existing)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "started", "id": run.ID})
}
