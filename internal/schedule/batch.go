package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/google/uuid"
)

// BatchStatus is the lifecycle state of a project-wide batch run (§3
// BatchRun).
type BatchStatus string

const (
	BatchQueued    BatchStatus = "queued"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchError     BatchStatus = "error"
)

// BatchRun is the in-memory record of one project-wide recache, evicted
// after DefaultBatchTTL once terminal.
type BatchRun struct {
	ID           string
	ProjectID    string
	Status       BatchStatus
	Reason       string
	Trigger      string
	StartedAt    time.Time
	EndedAt      time.Time
	Layers       []string
	TotalCount   int
	CompletedCount int
	CurrentLayer string
	CurrentIndex int
	Result       projectmodel.RunResult
	Error        string
}

// DefaultBatchTTL is the in-memory retention window for a finished batch
// (§4.6.4, env PROJECT_BATCH_TTL_MS).
const DefaultBatchTTL = 15 * time.Minute

// PurgeFunc removes a layer/theme's on-disk cache before a batch re-runs
// it, matching runRecacheForProject's "purge its cache (force=true,
// silent)" step. Implemented by the tilestore-backed cache-delete
// handler; errors are logged and otherwise ignored, per spec.
type PurgeFunc func(projectID, layer string) error

// BatchRegistry tracks in-flight and recently finished batch runs across
// the process, keyed by project id (one active batch per project at a
// time, matching the spec's "batch_running" 409).
type BatchRegistry struct {
	runner JobRunner
	purge  PurgeFunc
	log    *slog.Logger
	ttl    time.Duration

	mu    sync.Mutex
	byID  map[string]*BatchRun
	byProj map[string]string // project -> active batch id
}

// NewBatchRegistry constructs a registry that drives batches via runner
// and purges stale caches via purge before each layer is re-rendered.
func NewBatchRegistry(runner JobRunner, purge PurgeFunc, log *slog.Logger) *BatchRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &BatchRegistry{
		runner: runner,
		purge:  purge,
		log:    log,
		ttl:    DefaultBatchTTL,
		byID:   map[string]*BatchRun{},
		byProj: map[string]string{},
	}
}

// WithTTL overrides the in-memory retention window for finished batches
// (default DefaultBatchTTL, env PROJECT_BATCH_TTL_MS), returning the
// registry for chaining at construction time.
func (b *BatchRegistry) WithTTL(ttl time.Duration) *BatchRegistry {
	if ttl > 0 {
		b.ttl = ttl
	}
	return b
}

// ErrBatchRunning is returned when a batch is already active for the
// project (§7 "batch_running").
var ErrBatchRunning = fmt.Errorf("schedule: batch already running for project")

// Start resolves the layer list (explicit, or every auto-recache-eligible
// layer in cfg), registers a BatchRun, and runs it synchronously to
// completion, sequentially, one layer at a time (§4.6.4). The scheduler's
// timer-fired path calls it directly and blocks until the batch is done;
// StartAsync is the fire-and-forget variant.
func (b *BatchRegistry) Start(ctx context.Context, projectID string, explicitLayers []string, cfg projectmodel.ProjectConfig, reason, trigger, runID string) (*BatchRun, error) {
	run, err := b.register(projectID, explicitLayers, cfg, reason, trigger, runID)
	if err != nil {
		return nil, err
	}
	b.runBatch(ctx, run)
	return run, nil
}

// StartAsync registers a batch exactly like Start but runs it on its own
// goroutine, returning as soon as the run is recorded. This is the HTTP
// POST /projects/:id/cache/project entry point: a manually triggered batch
// must not hold the request open for the whole recache, unlike the
// scheduler's timer-fired path, which runs items sequentially on purpose
// (§4.6.3) and so calls Start directly.
func (b *BatchRegistry) StartAsync(ctx context.Context, projectID string, explicitLayers []string, cfg projectmodel.ProjectConfig, reason, trigger, runID string) (*BatchRun, error) {
	run, err := b.register(projectID, explicitLayers, cfg, reason, trigger, runID)
	if err != nil {
		return nil, err
	}
	go b.runBatch(ctx, run)
	return run, nil
}

func (b *BatchRegistry) register(projectID string, explicitLayers []string, cfg projectmodel.ProjectConfig, reason, trigger, runID string) (*BatchRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, active := b.byProj[projectID]; active {
		return nil, ErrBatchRunning
	}
	layers := explicitLayers
	if len(layers) == 0 {
		for name, entry := range cfg.Layers {
			if entry.AutoRecacheEnabled() {
				layers = append(layers, name)
			}
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &BatchRun{
		ID:         runID,
		ProjectID:  projectID,
		Status:     BatchRunning,
		Reason:     reason,
		Trigger:    trigger,
		StartedAt:  time.Now(),
		Layers:     layers,
		TotalCount: len(layers),
	}
	b.byID[run.ID] = run
	b.byProj[projectID] = run.ID
	return run, nil
}

func (b *BatchRegistry) runBatch(ctx context.Context, run *BatchRun) {
	for i, layer := range run.Layers {
		b.mu.Lock()
		run.CurrentLayer = layer
		run.CurrentIndex = i
		b.mu.Unlock()

		if b.purge != nil {
			if err := b.purge(run.ProjectID, layer); err != nil {
				b.log.Warn("schedule: batch purge failed", "project", run.ProjectID, "layer", layer, "err", err)
			}
		}

		idx := i
		total := len(run.Layers)
		req := GenerateCacheRequest{
			Project:    run.ProjectID,
			Layer:      layer,
			RunReason:  run.Reason,
			Trigger:    run.Trigger,
			RunID:      run.ID,
			BatchIndex: &idx,
			BatchTotal: &total,
		}

		var outcome RunOutcome
		var err error
		if hr, isHTTP := b.runner.(*HTTPJobRunner); isHTTP {
			_, outcome, err = hr.RunAndWait(ctx, req)
		} else {
			var jobID string
			jobID, err = b.runner.Start(ctx, req)
			if err == nil {
				outcome, err = b.waitGeneric(ctx, jobID)
			}
		}

		b.mu.Lock()
		if err != nil {
			run.Error = err.Error()
			b.log.Error("schedule: batch layer failed", "project", run.ProjectID, "layer", layer, "err", err)
		} else {
			run.CompletedCount++
			if outcome.Status == "error" {
				run.Error = outcome.Message
			}
		}
		b.mu.Unlock()
		// Continue with the next layer regardless of this one's outcome
		// (§4.6.4 step 3: "Record any failure but continue").
	}

	b.mu.Lock()
	run.EndedAt = time.Now()
	if run.Error != "" {
		run.Status = BatchError
		run.Result = projectmodel.ResultError
	} else {
		run.Status = BatchCompleted
		run.Result = projectmodel.ResultSuccess
	}
	delete(b.byProj, run.ProjectID)
	b.mu.Unlock()

	time.AfterFunc(b.ttl, func() {
		b.mu.Lock()
		delete(b.byID, run.ID)
		b.mu.Unlock()
	})
}

// waitGeneric is the fallback poll loop for a non-HTTPJobRunner
// (exercised by tests with a fake JobRunner).
func (b *BatchRegistry) waitGeneric(ctx context.Context, jobID string) (RunOutcome, error) {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return RunOutcome{}, ctx.Err()
		case <-ticker.C:
			outcome, ok, err := b.runner.Poll(ctx, jobID)
			if err != nil {
				return RunOutcome{}, err
			}
			if ok {
				return outcome, nil
			}
		}
	}
	return RunOutcome{}, fmt.Errorf("schedule: batch job %s timed out", jobID)
}

// Get returns a batch run by id.
func (b *BatchRegistry) Get(id string) (*BatchRun, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.byID[id]
	return r, ok
}

// ActiveForProject returns the active batch id for a project, if any.
func (b *BatchRegistry) ActiveForProject(projectID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byProj[projectID]
	return id, ok
}
