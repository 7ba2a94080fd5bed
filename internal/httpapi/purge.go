package httpapi

import (
	"fmt"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/schedule"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
)

// Purger removes a layer or theme's on-disk tile tree and marks its index
// entry uncached, without touching project config. It is shared by the
// cache-delete HTTP handlers and the scheduler's pre-run purge step
// (schedule.PurgeFunc), which is why it is exported: the CLI's `serve`
// wiring needs the same logic to build the scheduler's PurgeFunc before
// an httpapi.Deps even exists.
type Purger = purger

type purger struct {
	tiles    *tilestore.Store
	index    *cacheindex.Store
	projects *projectconfig.Service
}

func newPurger(tiles *tilestore.Store, index *cacheindex.Store, projects *projectconfig.Service) *purger {
	return &purger{tiles: tiles, index: index, projects: projects}
}

// NewPurgeFunc adapts a Purger into schedule.PurgeFunc, for callers that
// need the batch/schedule engine's pre-run purge step wired before the
// rest of the HTTP layer is assembled.
func NewPurgeFunc(tiles *tilestore.Store, index *cacheindex.Store, projects *projectconfig.Service) schedule.PurgeFunc {
	p := newPurger(tiles, index, projects)
	return p.Purge
}

// Purge implements schedule.PurgeFunc.
func (p *purger) Purge(projectID, name string) error {
	target := p.targetKind(projectID, name)
	dir := p.tiles.Dir(projectID, target, name)
	if err := p.tiles.DeleteTree(dir); err != nil {
		return fmt.Errorf("httpapi: purge %s/%s: %w", projectID, name, err)
	}
	kind := cacheindex.KindLayer
	if target == tilestore.TargetTheme {
		kind = cacheindex.KindTheme
	}
	if _, err := p.index.ClearCache(projectID, kind, name); err != nil {
		return fmt.Errorf("httpapi: clear index %s/%s: %w", projectID, name, err)
	}
	return nil
}

// targetKind infers whether name is a layer or a theme from the project's
// current configuration, defaulting to layer when neither map has an
// entry (e.g. a cache-only row with no config counterpart yet).
func (p *purger) targetKind(projectID, name string) tilestore.Target {
	if p.projects == nil {
		return tilestore.TargetLayer
	}
	cfg, err := p.projects.Read(projectID)
	if err != nil {
		return tilestore.TargetLayer
	}
	if _, ok := cfg.Themes[name]; ok {
		return tilestore.TargetTheme
	}
	return tilestore.TargetLayer
}
