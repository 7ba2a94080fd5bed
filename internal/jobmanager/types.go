// Package jobmanager spawns the external tile renderer, tracks its
// progress, enforces concurrency limits, and tears it down cleanly or
// forcibly (§4.5).
package jobmanager

import (
	"context"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
)

// Status is a render job's lifecycle state.
type Status string

const (
	StatusRunning  Status = "running"
	StatusAborting Status = "aborting"
	StatusAborted  Status = "aborted"
	StatusCompleted Status = "completed"
	StatusError    Status = "error"
)

// Request is the validated body of POST /generate-cache (§6.2).
type Request struct {
	ProjectID        string
	Layer            string // mutually exclusive with Theme
	Theme            string
	ZoomMin          *int
	ZoomMax          *int
	PublishZoomMin   *int
	PublishZoomMax   *int
	TileMatrixPreset string
	Scheme           string
	XYZMode          string
	TileCRS          string
	WMTS             bool
	ProjectExtent    *[4]float64
	ExtentCRS        string
	AllowRemote      bool
	ThrottleMs       int
	RenderTimeoutMs  int
	TileRetries      *int
	PngCompression   *int
	Incremental      bool
	Force            bool
	RunReason        string
	Trigger          string
	RunID            string
	BatchIndex       *int
	BatchTotal       *int
	ViewerSessionID  string
}

// Target returns the (kind, name) pair this request resolves to.
func (r Request) Target() (kind cacheindex.Kind, name string) {
	if r.Theme != "" {
		return cacheindex.KindTheme, r.Theme
	}
	return cacheindex.KindLayer, r.Layer
}

// activeKey is the uniqueness key enforced across concurrently running
// jobs: one render per (project, kind, name) at a time.
type activeKey struct {
	ProjectID string
	Kind      cacheindex.Kind
	Name      string
}

// RecachePlan is computed at admission time (§4.5.1) from the request and
// any prior index entry for the same target.
type RecachePlan struct {
	Mode             string // "full" | "incremental"
	SkipExisting     bool
	TileMatrixPreset string
	Scheme           string
	XYZMode          string
	TileCRS          string
	PublishZoomMin   int
	PublishZoomMax   int
	ZoomMin          int
	ZoomMax          int
}

// PidRecord is the on-disk record at data/job-pids/<id>.json, surviving a
// process restart so a later abort or orphan sweep can still find the
// child.
type PidRecord struct {
	JobID     string    `json:"jobId"`
	Pid       int       `json:"pid"`
	ProjectID string    `json:"projectId"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	OutputDir string    `json:"outputDir"`
	Args      []string  `json:"args"`
	StartedAt time.Time `json:"startedAt"`
}

// OrphanJob is a renderer process found running at startup (or by a live
// sweep) with no corresponding in-memory Job.
type OrphanJob struct {
	Pid       int    `json:"pid"`
	JobID     string `json:"jobId,omitempty"`
	Synthetic bool   `json:"synthetic"`
}

// StdoutEvent is one parsed JSON line of renderer stdout (§4.5.2).
type StdoutEvent struct {
	Debug           string  `json:"debug,omitempty"`
	Status          string  `json:"status,omitempty"`
	Progress        float64 `json:"progress,omitempty"`
	TotalGenerated  int64   `json:"total_generated,omitempty"`
	ExpectedTotal   int64   `json:"expected_total,omitempty"`
	OutputDir       string  `json:"output_dir,omitempty"`
	StorageName     string  `json:"storage_name,omitempty"`
	ProjectExtent   *[4]float64 `json:"project_extent,omitempty"`
	TileCRS         string  `json:"tile_crs,omitempty"`
	Scheme          string  `json:"scheme,omitempty"`
	XYZMode         string  `json:"xyz_mode,omitempty"`
}

// Job is the live, in-memory state of one running or recently finished
// render.
type Job struct {
	ID        string
	ProjectID string
	Kind      cacheindex.Kind
	Name      string
	Plan      RecachePlan
	StartedAt time.Time

	mu               sync.Mutex
	status           Status
	lastProgress     *float64
	totalGenerated   int64
	expectedTotal    int64
	lastIndexWriteAt time.Time
	lastConfigWriteAt time.Time
	stderrTail       []string
	outputDir        string
	pid              int

	cancel context.CancelFunc
	done   chan struct{}
}

func (j *Job) snapshotStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Snapshot is the JSON-serializable view of a job returned by the HTTP
// admin surface (§6.2 GET /generate-cache/:id).
type Snapshot struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project"`
	Kind           string    `json:"kind"`
	Name           string    `json:"name"`
	Status         Status    `json:"status"`
	Progress       *float64  `json:"progress,omitempty"`
	TotalGenerated int64     `json:"totalGenerated"`
	ExpectedTotal  int64     `json:"expectedTotal"`
	StartedAt      time.Time `json:"startedAt"`
	StderrTail     []string  `json:"stderrTail,omitempty"`
}

// Snapshot returns a point-in-time copy of the job's externally visible
// state.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Snapshot{
		ID:             j.ID,
		ProjectID:      j.ProjectID,
		Kind:           string(j.Kind),
		Name:           j.Name,
		Status:         j.status,
		Progress:       j.lastProgress,
		TotalGenerated: j.totalGenerated,
		ExpectedTotal:  j.expectedTotal,
		StartedAt:      j.StartedAt,
		StderrTail:     append([]string(nil), j.stderrTail...),
	}
}

const maxStderrLines = 5

func (j *Job) appendStderr(line string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.stderrTail = append(j.stderrTail, line)
	if len(j.stderrTail) > maxStderrLines {
		j.stderrTail = j.stderrTail[len(j.stderrTail)-maxStderrLines:]
	}
}
