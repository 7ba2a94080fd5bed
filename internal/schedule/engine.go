// Package schedule implements the recurrence engine of §4.6: computing
// weekly/monthly/yearly next-run times, maintaining one timer per
// project, firing due layer/theme/project-level runs in order, and a
// heartbeat that catches work a suspended host or dropped timer missed.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"golang.org/x/time/rate"
)

// DefaultHeartbeatInterval and DefaultOverdueGrace are §4.6.5's defaults.
const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultOverdueGrace      = 5 * time.Second
)

// Config tunes the engine; zero values take the documented defaults.
type Config struct {
	HeartbeatInterval time.Duration
	OverdueGrace      time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.OverdueGrace <= 0 {
		c.OverdueGrace = DefaultOverdueGrace
	}
	return c
}

// ProjectLister returns every known project id, used by the heartbeat to
// discover projects with derivable schedules but no registered timer.
type ProjectLister func() []string

type projectTimer struct {
	timer      *time.Timer
	targetTime time.Time
}

// Engine owns the per-project timer set and drives scheduled runs. It
// implements projectconfig.Rescheduler so the config service can notify
// it of every write.
type Engine struct {
	cfg     Config
	projects *projectconfig.Service
	runner  JobRunner
	purge   PurgeFunc
	batches *BatchRegistry
	list    ProjectLister
	log     *slog.Logger

	mu     sync.Mutex
	timers map[string]*projectTimer

	stopHeartbeat chan struct{}

	// overdueLogLimiter caps how often the heartbeat logs a force-fired
	// overdue timer: a host suspend can leave many projects overdue at
	// once, and logging every one of them on the same tick is noise
	// (§4.6.5).
	overdueLogLimiter *rate.Limiter
}

// New constructs an Engine. list may be nil if the heartbeat's
// unregistered-project sweep is not needed (e.g. in tests).
func New(cfg Config, projects *projectconfig.Service, runner JobRunner, purge PurgeFunc, batches *BatchRegistry, list ProjectLister, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:               cfg.withDefaults(),
		projects:          projects,
		runner:            runner,
		purge:             purge,
		batches:           batches,
		list:              list,
		log:               log,
		timers:            map[string]*projectTimer{},
		overdueLogLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Reschedule implements projectconfig.Rescheduler: it recomputes and
// (re)registers projectID's single timer from its current configuration
// (§4.6.2).
func (e *Engine) Reschedule(projectID string) {
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: reschedule read failed", "project", projectID, "err", err)
		return
	}
	e.registerTimer(projectID, cfg, time.Now())
}

// registerTimer derives this project's schedule items and arms a single
// timer at the earliest one, replacing any previously registered timer.
// A project with no derivable items clears its timer entirely.
func (e *Engine) registerTimer(projectID string, cfg projectmodel.ProjectConfig, now time.Time) {
	items := DeriveItems(cfg, now)

	e.mu.Lock()
	if existing, ok := e.timers[projectID]; ok {
		existing.timer.Stop()
		delete(e.timers, projectID)
	}
	e.mu.Unlock()

	if len(items) == 0 {
		return
	}

	target := items[0].NextTs
	delay := clampDelay(target.Sub(now))

	pt := &projectTimer{targetTime: target}
	pt.timer = time.AfterFunc(delay, func() { e.handleProjectTimer(projectID, target) })

	e.mu.Lock()
	e.timers[projectID] = pt
	e.mu.Unlock()
}

// handleProjectTimer is idempotent: if the timer currently registered for
// projectID no longer targets targetTime (a later write superseded it),
// this firing is a stale no-op (§5 "Scheduling model").
func (e *Engine) handleProjectTimer(projectID string, targetTime time.Time) {
	e.mu.Lock()
	current, ok := e.timers[projectID]
	stale := !ok || !current.targetTime.Equal(targetTime)
	e.mu.Unlock()
	if stale {
		return
	}

	e.runDueItems(projectID, targetTime)
}

// runDueItems executes every item due at or before now+60s, in ascending
// NextTs order, then re-derives and re-arms the project's timer from the
// post-run configuration (§4.6.3).
func (e *Engine) runDueItems(projectID string, reference time.Time) {
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: run read failed", "project", projectID, "err", err)
		return
	}

	cutoff := reference.Add(60 * time.Second)
	items := DeriveItems(cfg, reference)

	for _, item := range items {
		if item.NextTs.After(cutoff) {
			break
		}
		switch item.Kind {
		case ItemLayer, ItemTheme:
			e.runLayerOrTheme(projectID, item)
		case ItemProject:
			e.runProjectBatch(projectID, item)
		}
		// Re-read after each run: the run's own completion handler has
		// already persisted lastRunAt/history for this item, and later
		// items in this same firing should see that.
		cfg, err = e.projects.Read(projectID)
		if err != nil {
			e.log.Error("schedule: reread after run failed", "project", projectID, "err", err)
			return
		}
	}

	e.registerTimer(projectID, cfg, time.Now())
}

// runLayerOrTheme executes one due layer/theme schedule (§4.6.3): derives
// fallback params if the layer has never been rendered, purges first when
// the schedule carries no explicit zoom override, runs the job via the
// JobRunner, and records the outcome into the schedule's history.
func (e *Engine) runLayerOrTheme(projectID string, item Item) {
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: read before run failed", "project", projectID, "err", err)
		return
	}

	entry, hasEntry := lookupEntry(cfg, item.Kind, item.Name)
	req := GenerateCacheRequest{
		Project:   projectID,
		RunReason: "scheduled-" + string(item.Kind),
		Trigger:   "timer",
	}
	if item.Kind == ItemTheme {
		req.Theme = item.Name
	} else {
		req.Layer = item.Name
	}

	if !hasEntry || entry.LastParams == nil {
		applyFallbackParams(&req, cfg)
	}
	if item.Schedule.ZoomMin == nil && item.Schedule.ZoomMax == nil && e.purge != nil {
		// No explicit zoom override: best-effort purge before the run so
		// the new render isn't shadowed by stale tiles (§4.6.3).
		if err := e.purge(projectID, item.Name); err != nil {
			e.log.Warn("schedule: pre-run purge failed", "project", projectID, "name", item.Name, "err", err)
		}
	}
	if item.Schedule.ZoomMin != nil {
		req.ZoomMin = item.Schedule.ZoomMin
	}
	if item.Schedule.ZoomMax != nil {
		req.ZoomMax = item.Schedule.ZoomMax
	}

	result := projectmodel.ResultError
	msg := ""
	if e.runner != nil {
		if hr, ok := e.runner.(*HTTPJobRunner); ok {
			_, outcome, err := hr.RunAndWait(context.Background(), req)
			if err != nil {
				msg = err.Error()
			} else {
				msg = outcome.Message
				result = outcomeResult(outcome.Status)
			}
		} else {
			jobID, err := e.runner.Start(context.Background(), req)
			if err != nil {
				msg = err.Error()
			} else {
				outcome, waitErr := e.pollUntilDone(jobID)
				if waitErr != nil {
					msg = waitErr.Error()
				} else {
					msg = outcome.Message
					result = outcomeResult(outcome.Status)
				}
			}
		}
	}

	e.recordOutcome(projectID, item.Kind, item.Name, result, msg)
}

func (e *Engine) pollUntilDone(jobID string) (RunOutcome, error) {
	ticker := time.NewTicker(DefaultPollInterval)
	defer ticker.Stop()
	deadline := time.Now().Add(DefaultTimeout)
	for time.Now().Before(deadline) {
		<-ticker.C
		outcome, ok, err := e.runner.Poll(context.Background(), jobID)
		if err != nil {
			return RunOutcome{}, err
		}
		if ok {
			return outcome, nil
		}
	}
	return RunOutcome{}, context.DeadlineExceeded
}

func outcomeResult(status string) projectmodel.RunResult {
	switch status {
	case "completed":
		return projectmodel.ResultSuccess
	case "aborted":
		return projectmodel.ResultAborted
	default:
		return projectmodel.ResultError
	}
}

// runProjectBatch executes the project-level schedule by starting a
// batch run over every auto-recache-eligible layer (§4.6.4). runDueItems
// processes items sequentially in ascending-time order (§4.6.3), so this
// call blocks until the batch completes.
func (e *Engine) runProjectBatch(projectID string, item Item) {
	if e.batches == nil {
		return
	}
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: batch read failed", "project", projectID, "err", err)
		return
	}
	run, err := e.batches.Start(context.Background(), projectID, nil, cfg, "scheduled-project", "timer", "")
	if err != nil {
		e.log.Warn("schedule: project batch did not start", "project", projectID, "err", err)
		return
	}
	e.recordBatchOutcome(projectID, run)
}

func (e *Engine) recordBatchOutcome(projectID string, run *BatchRun) {
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: record batch outcome read failed", "project", projectID, "err", err)
		return
	}

	now := time.Now()
	cfg.Recache.Schedule.LastRunAt = &now
	cfg.Recache.Schedule.LastResult = run.Result
	cfg.Recache.Schedule.LastMsg = run.Error
	cfg.Recache.Schedule.AppendHistory(projectmodel.HistoryEntry{RunAt: now, Result: run.Result, Message: run.Error})

	cfg.ProjectCache.LastResult = run.Result
	cfg.ProjectCache.History = append(cfg.ProjectCache.History, projectmodel.BatchHistoryEntry{
		RunID: run.ID, StartedAt: run.StartedAt, EndedAt: run.EndedAt,
		Layers: run.Layers, Result: run.Result, Message: run.Error,
	})
	if len(cfg.ProjectCache.History) > projectmodel.MaxHistory {
		cfg.ProjectCache.History = cfg.ProjectCache.History[len(cfg.ProjectCache.History)-projectmodel.MaxHistory:]
	}

	if _, err := e.projects.Write(projectID, cfg, projectconfig.SkipReschedule()); err != nil {
		e.log.Error("schedule: record batch outcome write failed", "project", projectID, "err", err)
	}
}

// recordOutcome persists a layer/theme schedule's run result and history
// entry directly (bypassing the external Patch type, which only models
// user-supplied PATCH bodies, not system-computed run outcomes).
func (e *Engine) recordOutcome(projectID string, kind ItemKind, name string, result projectmodel.RunResult, msg string) {
	cfg, err := e.projects.Read(projectID)
	if err != nil {
		e.log.Error("schedule: record outcome read failed", "project", projectID, "err", err)
		return
	}

	now := time.Now()
	apply := func(entry projectmodel.LayerEntry) projectmodel.LayerEntry {
		entry.LastResult = result
		entry.LastMessage = msg
		entry.LastRunAt = &now
		entry.Schedule.LastRunAt = &now
		entry.Schedule.LastResult = result
		entry.Schedule.LastMsg = msg
		entry.Schedule.AppendHistory(projectmodel.HistoryEntry{RunAt: now, Result: result, Message: msg})
		return entry
	}

	if kind == ItemTheme {
		if cfg.Themes == nil {
			cfg.Themes = map[string]projectmodel.ThemeEntry{}
		}
		cfg.Themes[name] = apply(cfg.Themes[name])
	} else {
		if cfg.Layers == nil {
			cfg.Layers = map[string]projectmodel.LayerEntry{}
		}
		cfg.Layers[name] = apply(cfg.Layers[name])
	}

	if _, err := e.projects.Write(projectID, cfg, projectconfig.SkipReschedule()); err != nil {
		e.log.Error("schedule: record outcome write failed", "project", projectID, "err", err)
	}
}

// lookupEntry returns the layer/theme's current LayerEntry, if any.
func lookupEntry(cfg projectmodel.ProjectConfig, kind ItemKind, name string) (projectmodel.LayerEntry, bool) {
	if kind == ItemTheme {
		e, ok := cfg.Themes[name]
		return e, ok
	}
	e, ok := cfg.Layers[name]
	return e, ok
}

// applyFallbackParams derives a layer/theme's render parameters from
// project-level config when it has never been rendered before (§4.6.3):
// zoom, tile CRS, and remote-fetch inheritance.
func applyFallbackParams(req *GenerateCacheRequest, cfg projectmodel.ProjectConfig) {
	if cfg.Zoom.Min != nil {
		req.ZoomMin = cfg.Zoom.Min
	}
	if cfg.Zoom.Max != nil {
		req.ZoomMax = cfg.Zoom.Max
	}
	req.TileCRS = cfg.CachePreferences.TileCRS
	req.AllowRemote = cfg.CachePreferences.AllowRemote
}

// StartHeartbeat launches the periodic overdue-catcher described in
// §4.6.5. It returns a stop function. The heartbeat loop is itself
// non-blocking to process exit: it runs on a goroutine tied to a ticker,
// not a foreground loop.
func (e *Engine) StartHeartbeat() func() {
	ticker := time.NewTicker(e.cfg.HeartbeatInterval)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				e.tick()
			}
		}
	}()
	return func() { close(stop) }
}

// tick implements one heartbeat pass: force-fire any timer that is within
// OverdueGrace of (or past) its target, and register a timer for any
// known project that doesn't have one yet but has a derivable schedule
// item.
func (e *Engine) tick() {
	now := time.Now()

	e.mu.Lock()
	overdue := make(map[string]time.Time)
	for projectID, pt := range e.timers {
		if now.After(pt.targetTime.Add(-e.cfg.OverdueGrace)) {
			overdue[projectID] = pt.targetTime
		}
	}
	e.mu.Unlock()

	for projectID, target := range overdue {
		if e.overdueLogLimiter.Allow() {
			e.log.Warn("schedule: heartbeat force-firing overdue timer", "project", projectID, "target", target)
		}
		e.handleProjectTimer(projectID, target)
	}

	if e.list == nil {
		return
	}
	for _, projectID := range e.list() {
		e.mu.Lock()
		_, registered := e.timers[projectID]
		e.mu.Unlock()
		if registered {
			continue
		}
		cfg, err := e.projects.Read(projectID)
		if err != nil {
			continue
		}
		if len(DeriveItems(cfg, now)) > 0 {
			e.registerTimer(projectID, cfg, now)
		}
	}
}
