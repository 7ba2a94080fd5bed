package schedule

import (
	"sort"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
)

// ItemKind distinguishes the three schedulable target shapes (§4.6.2).
type ItemKind string

const (
	ItemLayer   ItemKind = "layer"
	ItemTheme   ItemKind = "theme"
	ItemProject ItemKind = "project"
)

// Item is one derivable schedule entry for a project: a layer, theme, or
// the project-level batch schedule, with its next firing instant.
type Item struct {
	Kind     ItemKind
	Name     string
	NextTs   time.Time
	Schedule projectmodel.Schedule
}

// DueTolerance is how far a stored NextRunAt may drift from a freshly
// computed value before resolveNextRunAt recomputes it
// (§4.6.2).
const DueTolerance = 60 * time.Second

// DeriveItems computes every enabled, derivable schedule item for a
// project's current configuration, recomputing any stored NextRunAt that
// has drifted by more than DueTolerance from what NextRun would produce
// now.
func DeriveItems(cfg projectmodel.ProjectConfig, now time.Time) []Item {
	var items []Item

	collect := func(kind ItemKind, name string, sch projectmodel.Schedule) {
		if !sch.Enabled {
			return
		}
		next := resolveNextRunAt(sch, now)
		if next == nil {
			return
		}
		items = append(items, Item{Kind: kind, Name: name, NextTs: *next, Schedule: sch})
	}

	for name, entry := range cfg.Layers {
		collect(ItemLayer, name, entry.Schedule)
	}
	for name, entry := range cfg.Themes {
		collect(ItemTheme, name, entry.Schedule)
	}
	collect(ItemProject, cfg.ProjectID, cfg.Recache.Schedule)

	sort.Slice(items, func(i, j int) bool { return items[i].NextTs.Before(items[j].NextTs) })
	return items
}

// resolveNextRunAt returns sch.NextRunAt if present and not more than
// DueTolerance stale, otherwise recomputes it from scratch.
func resolveNextRunAt(sch projectmodel.Schedule, now time.Time) *time.Time {
	fresh := NextRun(sch, now)
	if sch.NextRunAt == nil {
		return fresh
	}
	if fresh == nil {
		return nil
	}
	if absDuration(sch.NextRunAt.Sub(*fresh)) > DueTolerance {
		return fresh
	}
	return sch.NextRunAt
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// MaxTimerDelay clamps a timer delay against the platform's maximum
// representable duration for a single timer (§4.6.2: "min(delay,
// 2^31-1 ms)").
const MaxTimerDelay = (1<<31 - 1) * time.Millisecond

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if d > MaxTimerDelay {
		return MaxTimerDelay
	}
	return d
}
