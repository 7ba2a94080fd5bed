package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/tilecache/internal/jobmanager"
	"github.com/MeKo-Tech/tilecache/internal/sanitize"
)

// generateCacheBody is the decoded POST /generate-cache body (§6.2).
type generateCacheBody struct {
	Project          string      `json:"project"`
	Layer            string      `json:"layer"`
	Theme            string      `json:"theme"`
	ZoomMin          *int        `json:"zoom_min"`
	ZoomMax          *int        `json:"zoom_max"`
	Scheme           string      `json:"scheme"`
	XYZMode          string      `json:"xyz_mode"`
	TileCRS          string      `json:"tile_crs"`
	WMTS             bool        `json:"wmts"`
	ProjectExtent    *[4]float64 `json:"project_extent"`
	ExtentCRS        string      `json:"extent_crs"`
	AllowRemote      bool        `json:"allow_remote"`
	ThrottleMs       int         `json:"throttle_ms"`
	RenderTimeoutMs  int         `json:"render_timeout_ms"`
	TileRetries      *int        `json:"tile_retries"`
	PngCompression   *int        `json:"png_compression"`
	TileMatrixPreset string      `json:"tile_matrix_preset"`
	PublishZoomMin   *int        `json:"publish_zoom_min"`
	PublishZoomMax   *int        `json:"publish_zoom_max"`
	Recache          *struct {
		Mode string `json:"mode"`
	} `json:"recache"`
	SkipExisting    bool   `json:"skip_existing"`
	Force           bool   `json:"force"`
	RunReason       string `json:"run_reason"`
	Trigger         string `json:"trigger"`
	RunID           string `json:"run_id"`
	BatchIndex      *int   `json:"batch_index"`
	BatchTotal      *int   `json:"batch_total"`
	ViewerSessionID string `json:"viewer_session_id"`
}

// postGenerateCache implements POST /generate-cache (§6.2, §4.5.1).
func (h *handler) postGenerateCache(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "job manager unavailable")
		return
	}

	var body generateCacheBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if body.Project == "" {
		writeError(w, http.StatusBadRequest, "project_id_required", "")
		return
	}
	if !h.projectKnown(body.Project) {
		writeError(w, http.StatusNotFound, "project_not_found", body.Project)
		return
	}
	if body.Layer == "" && body.Theme == "" {
		writeError(w, http.StatusBadRequest, "target_required", "")
		return
	}
	if body.Layer != "" && body.Theme != "" {
		writeError(w, http.StatusBadRequest, "too_many_targets", "")
		return
	}
	name := body.Layer
	if body.Theme != "" {
		name = body.Theme
	}
	if sanitize.StorageName(name) != name {
		writeError(w, http.StatusBadRequest, "invalid_target_name", name)
		return
	}

	req := jobmanager.Request{
		ProjectID:        body.Project,
		Layer:            body.Layer,
		Theme:            body.Theme,
		ZoomMin:          body.ZoomMin,
		ZoomMax:          body.ZoomMax,
		PublishZoomMin:   body.PublishZoomMin,
		PublishZoomMax:   body.PublishZoomMax,
		TileMatrixPreset: body.TileMatrixPreset,
		Scheme:           body.Scheme,
		XYZMode:          body.XYZMode,
		TileCRS:          body.TileCRS,
		WMTS:             body.WMTS,
		ProjectExtent:    body.ProjectExtent,
		ExtentCRS:        body.ExtentCRS,
		AllowRemote:      body.AllowRemote,
		ThrottleMs:       body.ThrottleMs,
		RenderTimeoutMs:  body.RenderTimeoutMs,
		TileRetries:      body.TileRetries,
		PngCompression:   body.PngCompression,
		Force:            body.Force,
		RunReason:        body.RunReason,
		Trigger:          body.Trigger,
		RunID:            body.RunID,
		BatchIndex:       body.BatchIndex,
		BatchTotal:       body.BatchTotal,
		ViewerSessionID:  body.ViewerSessionID,
	}
	if body.Recache != nil && body.Recache.Mode == "incremental" {
		req.Incremental = true
	}

	job, err := h.deps.Jobs.Submit(r.Context(), req)
	switch {
	case errors.Is(err, jobmanager.ErrConcurrencyLimit):
		writeError(w, http.StatusTooManyRequests, "server_busy", "")
		return
	case errors.Is(err, jobmanager.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "job_already_running", "")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	kind, _ := req.Target()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "started",
		"id":         job.ID,
		"target":     name,
		"targetMode": string(kind),
	})
}

// projectKnown reports whether id is among the configured project lister's
// ids. When no lister is wired, every id is accepted (e.g. in unit tests).
func (h *handler) projectKnown(id string) bool {
	ids := h.deps.projectIDs()
	if ids == nil {
		return true
	}
	for _, known := range ids {
		if known == id {
			return true
		}
	}
	return false
}

func (h *handler) getRunningJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []jobmanager.Snapshot{})
		return
	}
	jobs := h.deps.Jobs.List()
	out := make([]jobmanager.Snapshot, 0, len(jobs))
	for _, j := range jobs {
		snap := j.Snapshot()
		if snap.Status == jobmanager.StatusRunning || snap.Status == jobmanager.StatusAborting {
			out = append(out, snap)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.deps.Jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found", id)
		return
	}
	snap := job.Snapshot()
	if tail := r.URL.Query().Get("tail"); tail != "" {
		if n, err := strconv.Atoi(tail); err == nil && n >= 0 && n < len(snap.StderrTail) {
			snap.StderrTail = snap.StderrTail[len(snap.StderrTail)-n:]
		}
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	h.abortJob(w, r)
}

func (h *handler) abortJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.Jobs.Abort(id)
	switch {
	case errors.Is(err, jobmanager.ErrNotFound):
		writeError(w, http.StatusNotFound, "job_not_found", id)
	case err != nil:
		var abortFailed *jobmanager.AbortFailedError
		if errors.As(err, &abortFailed) {
			writeError(w, http.StatusInternalServerError, "abort_failed", abortFailed.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "abort_failed", err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
	}
}

func (h *handler) abortAllForProject(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	layer := chi.URLParam(r, "layer")

	var failed []string
	for _, job := range h.deps.Jobs.List() {
		snap := job.Snapshot()
		if snap.ProjectID != project {
			continue
		}
		if layer != "" && snap.Name != layer {
			continue
		}
		if err := h.deps.Jobs.Abort(snap.ID); err != nil {
			failed = append(failed, snap.ID)
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "abort_failed", "pids": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}

func (h *handler) listOrphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.deps.Jobs.ScanOrphans()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, orphans)
}

func (h *handler) killOrphan(w http.ResponseWriter, r *http.Request) {
	pidStr := chi.URLParam(r, "pid")
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "pid must be an integer")
		return
	}
	if err := h.deps.Jobs.KillOrphan(jobmanager.OrphanJob{Pid: pid}); err != nil {
		writeError(w, http.StatusInternalServerError, "abort_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

// diagnoseJob reports a job's current snapshot, optionally aborting it in
// the same call (?kill=1) for operators chasing a stuck renderer.
func (h *handler) diagnoseJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := h.deps.Jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found", id)
		return
	}
	if r.URL.Query().Get("kill") == "1" {
		if err := h.deps.Jobs.Abort(id); err != nil {
			writeError(w, http.StatusInternalServerError, "abort_failed", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

type killPidBody struct {
	Pid int `json:"pid"`
}

func (h *handler) killPid(w http.ResponseWriter, r *http.Request) {
	var body killPidBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Pid == 0 {
		writeError(w, http.StatusBadRequest, "invalid_body", "pid is required")
		return
	}
	if err := h.deps.Jobs.KillOrphan(jobmanager.OrphanJob{Pid: body.Pid}); err != nil {
		writeError(w, http.StatusInternalServerError, "abort_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}
