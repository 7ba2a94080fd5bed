// Package projectconfig is the project configuration service of §4.3: it
// loads, merges, patches, and persists cache/<id>/project-config.json,
// caches the result per project id, and triggers the scheduler's
// per-project re-registration on every successful write.
package projectconfig

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/jsonstore"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
)

// Rescheduler is notified whenever a project's configuration changes so
// the schedule engine can recompute its per-project timer (§4.6.2). It is
// implemented by the schedule package; projectconfig only depends on this
// narrow interface to avoid an import cycle.
type Rescheduler interface {
	Reschedule(projectID string)
}

// noopRescheduler is used when a Service is built without one, e.g. in
// tests that only exercise persistence.
type noopRescheduler struct{}

func (noopRescheduler) Reschedule(string) {}

// NextRunFunc computes a schedule's next firing instant; it is
// internal/schedule.NextRun in production. Taking it as a constructor
// parameter (rather than importing package schedule directly) avoids a
// projectconfig <-> schedule import cycle, since the schedule engine
// itself depends on this service to read/write project configuration.
type NextRunFunc func(projectmodel.Schedule, time.Time) *time.Time

// Service is the project configuration service: single process, in-memory
// cache over the on-disk JSON store.
type Service struct {
	cacheRoot   string
	rescheduler Rescheduler
	nextRun     NextRunFunc

	mu    sync.RWMutex
	cache map[string]projectmodel.ProjectConfig
}

// New creates a Service rooted at cacheRoot (the "cache/" directory). If
// resched is nil, reschedule notifications are dropped. If nextRun is
// nil, schedules are left disabled (NextRunAt always nil) — useful for
// tests that only exercise persistence.
func New(cacheRoot string, resched Rescheduler, nextRun NextRunFunc) *Service {
	if resched == nil {
		resched = noopRescheduler{}
	}
	if nextRun == nil {
		nextRun = func(projectmodel.Schedule, time.Time) *time.Time { return nil }
	}
	return &Service{
		cacheRoot:   cacheRoot,
		rescheduler: resched,
		nextRun:     nextRun,
		cache:       map[string]projectmodel.ProjectConfig{},
	}
}

func (s *Service) path(projectID string) string {
	return filepath.Join(s.cacheRoot, projectID, "project-config.json")
}

// Read returns the merged (defaults ⊕ on-disk) configuration for
// projectID, using the in-memory cache when present.
func (s *Service) Read(projectID string) (projectmodel.ProjectConfig, error) {
	s.mu.RLock()
	if cfg, ok := s.cache[projectID]; ok {
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	return s.reload(projectID)
}

func (s *Service) reload(projectID string) (projectmodel.ProjectConfig, error) {
	now := time.Now()
	defaults := projectmodel.Defaults(projectID, now)

	var loaded projectmodel.ProjectConfig
	err := jsonstore.Read(s.path(projectID), &loaded)
	switch err {
	case nil:
		// fall through
	case jsonstore.ErrNotExist:
		loaded = defaults
	default:
		// A parse error on load is non-fatal: log it and fall back to
		// defaults rather than fail the caller outright (§4.3 failure
		// modes).
		slog.Warn("projectconfig: load failed, using defaults", "project", projectID, "err", err)
		loaded = defaults
	}

	merged := projectmodel.MergeDefaults(defaults, loaded)

	s.mu.Lock()
	s.cache[projectID] = merged
	s.mu.Unlock()

	return merged, nil
}

// writeOptions controls the side effects of Write.
type writeOptions struct {
	skipReschedule bool
}

// WriteOption customizes a single Write call.
type WriteOption func(*writeOptions)

// SkipReschedule suppresses the per-project timer re-registration this
// write would otherwise trigger; used by the scheduler itself when it
// writes back a run's outcome and will recompute the timer explicitly.
func SkipReschedule() WriteOption {
	return func(o *writeOptions) { o.skipReschedule = true }
}

// Write applies defaults, bounds history, recomputes schedule nextRunAt
// fields, persists atomically, refreshes the cache, and (unless
// SkipReschedule is given) notifies the rescheduler.
func (s *Service) Write(projectID string, cfg projectmodel.ProjectConfig, opts ...WriteOption) (projectmodel.ProjectConfig, error) {
	var o writeOptions
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now()
	cfg = projectmodel.MergeDefaults(projectmodel.Defaults(projectID, now), cfg)
	cfg.ProjectID = projectID
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now

	s.finalizeSchedules(&cfg, now)

	if err := jsonstore.WriteAtomic(s.path(projectID), cfg); err != nil {
		return projectmodel.ProjectConfig{}, fmt.Errorf("projectconfig: write %s: %w", projectID, err)
	}

	s.mu.Lock()
	s.cache[projectID] = cfg
	s.mu.Unlock()

	if !o.skipReschedule {
		s.rescheduler.Reschedule(projectID)
	}

	return cfg, nil
}

// Update is Write(id, Read(id) ⊕ patch): a read-modify-write cycle with
// CreatedAt preserved by Patch.Apply.
func (s *Service) Update(projectID string, patch projectmodel.Patch, opts ...WriteOption) (projectmodel.ProjectConfig, error) {
	current, err := s.Read(projectID)
	if err != nil {
		return projectmodel.ProjectConfig{}, err
	}
	updated := patch.Apply(current)
	return s.Write(projectID, updated, opts...)
}

// finalizeSchedules trims every schedule's history to
// projectmodel.MaxHistory and recomputes nextRunAt according to its
// current enabled state and mode (§4.3 applyScheduleFinalization).
func (s *Service) finalizeSchedules(cfg *projectmodel.ProjectConfig, now time.Time) {
	finalizeOne := func(sch *projectmodel.Schedule) {
		if len(sch.History) > projectmodel.MaxHistory {
			sch.History = sch.History[len(sch.History)-projectmodel.MaxHistory:]
		}
		sch.NextRunAt = s.nextRun(*sch, now)
	}

	for name, entry := range cfg.Layers {
		finalizeOne(&entry.Schedule)
		cfg.Layers[name] = entry
	}
	for name, entry := range cfg.Themes {
		finalizeOne(&entry.Schedule)
		cfg.Themes[name] = entry
	}
	finalizeOne(&cfg.Recache.Schedule)

	if len(cfg.ProjectCache.History) > projectmodel.MaxHistory {
		cfg.ProjectCache.History = cfg.ProjectCache.History[len(cfg.ProjectCache.History)-projectmodel.MaxHistory:]
	}
}
