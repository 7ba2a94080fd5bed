package jobmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/jsonstore"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/projectlog"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
	"github.com/google/uuid"
)

// ErrConcurrencyLimit is returned when JOB_MAX running jobs are already in
// flight (§4.5.1 step 5); callers translate this to HTTP 429.
var ErrConcurrencyLimit = errors.New("jobmanager: concurrency limit reached")

// ErrAlreadyRunning is returned when a job targeting the same
// (project, kind, name) is already active (§4.5.1 step 6); callers
// translate this to HTTP 409.
var ErrAlreadyRunning = errors.New("jobmanager: target already has a running job")

// ErrNotFound is returned by Abort when no job with the given id is known
// to this process.
var ErrNotFound = errors.New("jobmanager: job not found")

// Config holds the tunables of §4.5. The CLI layer sets the paths from
// flags and JobMax, JobTTL, the flush intervals and AbortGrace from
// environment (through viper); AbortPollWindow keeps its default.
type Config struct {
	RendererPath          string
	JobMax                int
	JobTTL                time.Duration
	IndexFlushInterval    time.Duration
	ConfigFlushInterval   time.Duration
	AbortPollWindow       time.Duration
	AbortGrace            time.Duration
	PidDir                string // data/job-pids
	LogsRoot              string // logs/, per-project event log (§6.4)
}

// DefaultConfig returns §4.5's documented defaults.
func DefaultConfig() Config {
	return Config{
		JobMax:              4,
		JobTTL:              5 * time.Minute,
		IndexFlushInterval:  180 * time.Second,
		ConfigFlushInterval: 180 * time.Second,
		AbortPollWindow:     2 * time.Second,
		AbortGrace:          1 * time.Second,
		PidDir:              "data/job-pids",
		LogsRoot:            "logs",
	}
}

// Manager owns every in-flight render job for this process.
type Manager struct {
	cfg       Config
	index     *cacheindex.Store
	projects  *projectconfig.Service
	tiles     *tilestore.Store
	log       *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*Job
	active    map[activeKey]string // key -> job id

	plogMu sync.Mutex
	plogs  map[string]*slog.Logger
}

// New constructs a Manager. index and projects are the stores the job
// manager flushes progress into; tiles resolves the renderer's
// --output_dir (§6.1); log is the application logger.
func New(cfg Config, index *cacheindex.Store, projects *projectconfig.Service, tiles *tilestore.Store, log *slog.Logger) *Manager {
	if cfg.JobMax <= 0 {
		cfg.JobMax = DefaultConfig().JobMax
	}
	if cfg.LogsRoot == "" {
		cfg.LogsRoot = DefaultConfig().LogsRoot
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		index:    index,
		projects: projects,
		tiles:    tiles,
		log:      log,
		jobs:     map[string]*Job{},
		active:   map[activeKey]string{},
		plogs:    map[string]*slog.Logger{},
	}
}

// projectLogger returns the cached per-project event logger (§6.4
// logs/project-<id>.log), opening and caching one lazily on first use so
// the dedup-against-previous-line behavior in projectlog.Writer works
// across the whole process lifetime rather than resetting per call. Falls
// back to the application logger if the file can't be opened.
func (m *Manager) projectLogger(projectID string) *slog.Logger {
	m.plogMu.Lock()
	defer m.plogMu.Unlock()
	if lg, ok := m.plogs[projectID]; ok {
		return lg
	}
	lg, _, err := projectlog.NewLogger(m.cfg.LogsRoot, projectID, slog.LevelInfo)
	if err != nil {
		m.log.Warn("jobmanager: open project log failed", "project", projectID, "err", err)
		return m.log
	}
	m.plogs[projectID] = lg
	return lg
}

// runningCount returns the number of jobs currently in status=running.
func (m *Manager) runningCount() int {
	n := 0
	for _, j := range m.jobs {
		if j.snapshotStatus() == StatusRunning {
			n++
		}
	}
	return n
}

// Submit validates admission (§4.5.1) and, if accepted, spawns the
// renderer and registers the job.
func (m *Manager) Submit(ctx context.Context, req Request) (*Job, error) {
	kind, name := req.Target()
	key := activeKey{ProjectID: req.ProjectID, Kind: kind, Name: name}

	cfg, err := m.projects.Read(req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: read project config: %w", err)
	}
	idx, err := m.index.Load(req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("jobmanager: load index: %w", err)
	}
	existing, _ := idx.Find(kind, name)

	plan := buildRecachePlan(req, existing, cfg.CachePreferences)

	m.mu.Lock()
	if m.runningCount() >= m.cfg.JobMax {
		m.mu.Unlock()
		return nil, ErrConcurrencyLimit
	}
	if _, taken := m.active[key]; taken {
		m.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	jobID := uuid.NewString()
	m.active[key] = jobID
	m.mu.Unlock()

	jobCtx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        jobID,
		ProjectID: req.ProjectID,
		Kind:      kind,
		Name:      name,
		Plan:      plan,
		StartedAt: time.Now(),
		status:    StatusRunning,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	cmd, err := m.buildCommand(jobCtx, req, plan, jobID)
	if err != nil {
		cancel()
		m.releaseKey(key)
		return nil, err
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		m.releaseKey(key)
		return nil, fmt.Errorf("jobmanager: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		m.releaseKey(key)
		return nil, fmt.Errorf("jobmanager: stderr pipe: %w", err)
	}

	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		cancel()
		m.releaseKey(key)
		return nil, fmt.Errorf("jobmanager: start renderer: %w", err)
	}
	job.pid = cmd.Process.Pid

	m.mu.Lock()
	m.jobs[jobID] = job
	m.mu.Unlock()

	if err := m.writePidRecord(job, req); err != nil {
		m.log.Error("jobmanager: failed to persist pid record", "job", jobID, "err", err)
	}
	m.projectLogger(req.ProjectID).Info("recache started", "job", jobID, "kind", kind, "name", name, "mode", plan.Mode)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); m.consumeStdout(job, stdout) }()
	go func() { defer wg.Done(); m.consumeStderr(job, stderr) }()

	go func() {
		wg.Wait()
		err := cmd.Wait()
		m.finish(job, key, err)
	}()

	return job, nil
}

func (m *Manager) releaseKey(key activeKey) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
}

// buildCommand constructs the renderer invocation per the contract of
// §6.1. The external renderer is a long-lived child process (a separate
// Python pipeline, per the Non-goal that this server never rasterizes
// tiles itself); it is passed its job id as --job_id. Abort locates the
// child only by its recorded pid and process group; it does not search
// running processes by command line.
func (m *Manager) buildCommand(ctx context.Context, req Request, plan RecachePlan, jobID string) (*exec.Cmd, error) {
	if m.cfg.RendererPath == "" {
		return nil, errors.New("jobmanager: renderer path not configured")
	}

	kind, name := req.Target()
	target := tilestore.TargetLayer
	if kind == cacheindex.KindTheme {
		target = tilestore.TargetTheme
	}
	outputDir := m.tiles.Dir(req.ProjectID, target, name)

	args := []string{}
	if kind == cacheindex.KindTheme {
		args = append(args, "--theme", name)
	} else {
		args = append(args, "--layer", name)
	}
	args = append(args,
		"--zoom_min", fmt.Sprintf("%d", plan.ZoomMin),
		"--zoom_max", fmt.Sprintf("%d", plan.ZoomMax),
		"--publish_zoom_min", fmt.Sprintf("%d", plan.PublishZoomMin),
		"--publish_zoom_max", fmt.Sprintf("%d", plan.PublishZoomMax),
		"--output_dir", outputDir,
		"--index_path", m.index.Path(req.ProjectID),
		"--scheme", plan.Scheme,
		"--xyz_mode", plan.XYZMode,
	)
	if plan.TileCRS != "" {
		args = append(args, "--tile_crs", plan.TileCRS)
	}
	if plan.TileMatrixPreset != "" {
		args = append(args, "--tile_matrix_preset", plan.TileMatrixPreset)
	}
	if req.WMTS {
		args = append(args, "--wmts")
	}
	if req.AllowRemote {
		args = append(args, "--allow_remote")
	}
	if plan.SkipExisting {
		args = append(args, "--skip_existing")
	}
	if req.ThrottleMs > 0 {
		args = append(args, "--throttle_ms", fmt.Sprintf("%d", req.ThrottleMs))
	}
	if req.RenderTimeoutMs > 0 {
		args = append(args, "--render_timeout_ms", fmt.Sprintf("%d", req.RenderTimeoutMs))
	}
	if req.TileRetries != nil {
		args = append(args, "--tile_retries", fmt.Sprintf("%d", *req.TileRetries))
	}
	if req.PngCompression != nil {
		args = append(args, "--png_compression", fmt.Sprintf("%d", *req.PngCompression))
	}
	if req.ProjectExtent != nil {
		e := *req.ProjectExtent
		args = append(args, "--project_extent4",
			fmt.Sprintf("%g", e[0]), fmt.Sprintf("%g", e[1]), fmt.Sprintf("%g", e[2]), fmt.Sprintf("%g", e[3]))
		if req.ExtentCRS != "" {
			args = append(args, "--extent_crs", req.ExtentCRS)
		}
	}
	args = append(args, "--job_id", jobID)

	cmd := exec.CommandContext(ctx, m.cfg.RendererPath, args...)
	return cmd, nil
}

func (m *Manager) consumeStdout(job *Job, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		var evt StdoutEvent
		if err := json.Unmarshal([]byte(line), &evt); err != nil {
			continue
		}
		m.handleEvent(job, evt)
	}
}

func (m *Manager) consumeStderr(job *Job, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		job.appendStderr(line)
		m.log.Error("renderer stderr", "job", job.ID, "project", job.ProjectID, "line", line)
	}
}

// writePidRecord persists data/job-pids/<id>.json so a cross-worker abort
// or a post-restart orphan sweep can still locate this child (§4.5.3,
// §4.5.4).
func (m *Manager) writePidRecord(job *Job, req Request) error {
	rec := PidRecord{
		JobID:     job.ID,
		Pid:       job.pid,
		ProjectID: job.ProjectID,
		Kind:      string(job.Kind),
		Name:      job.Name,
		StartedAt: job.StartedAt,
	}
	path := filepath.Join(m.cfg.PidDir, job.ID+".json")
	return jsonstore.WriteAtomic(path, rec)
}

func (m *Manager) removePidRecord(jobID string) {
	_ = os.Remove(filepath.Join(m.cfg.PidDir, jobID+".json"))
}

// finish runs once the renderer process exits, flushing terminal status
// and scheduling the job's in-memory removal (§4.5.3).
func (m *Manager) finish(job *Job, key activeKey, waitErr error) {
	job.mu.Lock()
	if job.status != StatusAborted && job.status != StatusAborting {
		if waitErr == nil {
			job.status = StatusCompleted
		} else {
			job.status = StatusError
		}
	} else if job.status == StatusAborting {
		job.status = StatusAborted
	}
	finalStatus := job.status
	tail := append([]string(nil), job.stderrTail...)
	job.mu.Unlock()

	close(job.done)
	m.flushTerminal(job, finalStatus, tail)
	m.releaseKey(key)

	plog := m.projectLogger(job.ProjectID)
	if finalStatus == StatusError {
		plog.Error("recache finished", "job", job.ID, "status", finalStatus)
	} else {
		plog.Info("recache finished", "job", job.ID, "status", finalStatus)
	}

	time.AfterFunc(m.cfg.JobTTL, func() {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		m.removePidRecord(job.ID)
	})
}

// Get returns the in-memory job for id, if this process owns it.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	return j, ok
}

// List returns a snapshot of every job this process currently tracks.
func (m *Manager) List() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// buildRecachePlan implements §4.5.1 steps 2-4.
func buildRecachePlan(req Request, existing cacheindex.Entry, prefs projectmodel.CachePreferences) RecachePlan {
	zoomMin, zoomMax := existing.ZoomMin, existing.ZoomMax
	if req.ZoomMin != nil {
		zoomMin = *req.ZoomMin
	}
	if req.ZoomMax != nil {
		zoomMax = *req.ZoomMax
	}

	mode := "full"
	skipExisting := false
	if req.Incremental && existing.CachedZoomMin != nil && existing.CachedZoomMax != nil &&
		existing.TileCRS == prefs.TileCRS && (zoomMin != *existing.CachedZoomMin || zoomMax != *existing.CachedZoomMax) {
		mode = "incremental"
		noOverlap := zoomMax < *existing.CachedZoomMin || zoomMin > *existing.CachedZoomMax
		skipExisting = noOverlap
	}

	preset := req.TileMatrixPreset
	if preset == "" {
		preset = existing.TileMatrixPreset
	}

	scheme := req.Scheme
	if scheme == "" {
		scheme = string(existing.Scheme)
	}
	if scheme == "" {
		scheme = "auto"
	}
	xyzMode := req.XYZMode
	if xyzMode == "" {
		xyzMode = existing.XYZMode
	}
	tileCRS := req.TileCRS
	if tileCRS == "" {
		tileCRS = existing.TileCRS
	}

	publishMin, publishMax := existing.PublishedZoomMin, existing.PublishedZoomMax
	if publishMin == 0 && publishMax == 0 {
		publishMin, publishMax = zoomMin, zoomMax
	}
	if req.PublishZoomMin != nil {
		publishMin = *req.PublishZoomMin
	}
	if req.PublishZoomMax != nil {
		publishMax = *req.PublishZoomMax
	}
	if publishMin > zoomMin {
		publishMin = zoomMin
	}
	if publishMax < zoomMax {
		publishMax = zoomMax
	}
	if publishMax < publishMin {
		publishMax = publishMin
	}

	return RecachePlan{
		Mode:             mode,
		SkipExisting:     skipExisting,
		TileMatrixPreset: preset,
		Scheme:           scheme,
		XYZMode:          xyzMode,
		TileCRS:          tileCRS,
		PublishZoomMin:   publishMin,
		PublishZoomMax:   publishMax,
		ZoomMin:          zoomMin,
		ZoomMax:          zoomMax,
	}
}
