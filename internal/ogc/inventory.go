// Package ogc builds the WMTS/WMS capability documents and tile-request
// resolution logic of §4.8, working off the same cache index and project
// config stores as the rest of the server.
package ogc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/sanitize"
	"github.com/MeKo-Tech/tilecache/internal/tilemath"
	"github.com/MeKo-Tech/tilecache/internal/worker"
)

// indexLoader adapts cacheindex.Store.Load to worker.Runner so
// BuildInventory can load every project's index.json concurrently instead
// of one at a time; GetCapabilities over a large install is otherwise
// dominated by sequential disk reads.
type indexLoader struct {
	index *cacheindex.Store

	mu      sync.Mutex
	results map[string]cacheindex.Index
}

func (l *indexLoader) Run(_ context.Context, task worker.Task) error {
	idx, err := l.index.Load(task.Name)
	l.mu.Lock()
	l.results[task.Name] = idx
	l.mu.Unlock()
	return err
}

const maxInventoryLoaders = 8

// LayerRecord is one normalized, servable layer or theme, built from a
// project's cache index entry (§4.8.1).
type LayerRecord struct {
	Identifier      string // <normalizedProject>_<normalizedLayer>
	ProjectID       string
	ProjectKey      string
	LayerName       string
	LayerKey        string
	Kind            cacheindex.Kind
	TileMatrixSetID string
	Extent          [4]float64
	ExtentWGS84     [4]float64
	ZoomMin         int
	ZoomMax         int
	TileCRS         string
	Scheme          cacheindex.Scheme
}

// Inventory is the full set of servable layers across every project, plus
// the matrix sets they reference.
type Inventory struct {
	Layers     []LayerRecord
	MatrixSets map[string]tilemath.MatrixSet
	MaxZoom    int
}

// BuildInventory walks cache/*/index.json for every known project and
// produces the normalized inventory GetCapabilities needs (§4.8.1).
func BuildInventory(index *cacheindex.Store, projects *projectconfig.Service, projectIDs []string, presets map[string]tilemath.Preset) (Inventory, error) {
	inv := Inventory{MatrixSets: map[string]tilemath.MatrixSet{}}

	loader := &indexLoader{index: index, results: map[string]cacheindex.Index{}}
	tasks := make([]worker.Task, len(projectIDs))
	for i, pid := range projectIDs {
		tasks[i] = worker.Task{Name: pid}
	}
	workers := maxInventoryLoaders
	if len(tasks) < workers {
		workers = len(tasks)
	}
	pool := worker.New(worker.Config{Workers: workers, Runner: loader})
	for _, res := range pool.Run(context.Background(), tasks) {
		if res.Err != nil {
			return Inventory{}, fmt.Errorf("ogc: load index for %s: %w", res.Task.Name, res.Err)
		}
	}

	for _, pid := range projectIDs {
		idx := loader.results[pid]
		projectKey := sanitize.ProjectID(pid)

		for _, e := range idx.Layers {
			if !e.Cacheable && e.Status == cacheindex.StatusUncached {
				continue
			}
			layerKey := sanitize.StorageName(e.Name)
			rec := LayerRecord{
				Identifier: projectKey + "_" + layerKey,
				ProjectID:  pid,
				ProjectKey: projectKey,
				LayerName:  e.Name,
				LayerKey:   layerKey,
				Kind:       e.Kind,
				ZoomMin:    e.ZoomMin,
				ZoomMax:    e.ZoomMax,
				TileCRS:    e.TileCRS,
				Scheme:     e.Scheme,
			}
			if e.Extent != nil {
				rec.Extent = *e.Extent
			}
			if e.ExtentWGS84 != nil {
				rec.ExtentWGS84 = *e.ExtentWGS84
			}

			if e.TileMatrixPreset != "" {
				rec.TileMatrixSetID = e.TileMatrixPreset
				if preset, ok := presets[e.TileMatrixPreset]; ok {
					inv.MatrixSets[preset.ID] = preset.ToMatrixSet()
				}
			} else {
				rec.TileMatrixSetID = "EPSG_3857"
				if e.ZoomMax > inv.MaxZoom {
					inv.MaxZoom = e.ZoomMax
				}
			}

			inv.Layers = append(inv.Layers, rec)
		}
	}

	inv.MatrixSets["EPSG_3857"] = tilemath.BuildEPSG3857(inv.MaxZoom)

	sort.Slice(inv.Layers, func(i, j int) bool { return inv.Layers[i].Identifier < inv.Layers[j].Identifier })
	return inv, nil
}

// Find locates a layer record by its combined identifier.
func (inv Inventory) Find(identifier string) (LayerRecord, bool) {
	for _, l := range inv.Layers {
		if l.Identifier == identifier {
			return l, true
		}
	}
	return LayerRecord{}, false
}

// FindByProjectAndLayer locates a layer record by its normalized
// ProjectKey and LayerKey, as used by the REST route (the legacy route
// uses FindByProjectAndLayerKind).
func (inv Inventory) FindByProjectAndLayer(projectKey, layerKey string) (LayerRecord, bool) {
	for _, l := range inv.Layers {
		if l.ProjectKey == projectKey && l.LayerKey == layerKey {
			return l, true
		}
	}
	return LayerRecord{}, false
}

// FindByProjectAndLayerKind is FindByProjectAndLayer narrowed to a single
// kind, so the legacy route (§4.8.4) can tell a theme miss from a layer
// miss instead of matching whichever kind happens to share the name.
func (inv Inventory) FindByProjectAndLayerKind(projectKey, layerKey string, kind cacheindex.Kind) (LayerRecord, bool) {
	for _, l := range inv.Layers {
		if l.ProjectKey == projectKey && l.LayerKey == layerKey && l.Kind == kind {
			return l, true
		}
	}
	return LayerRecord{}, false
}

// FindByKVPName matches the WMTS KVP LAYER parameter against identifier,
// layerName, layerKey, or an identifier suffix (§4.8.3).
func (inv Inventory) FindByKVPName(name string) (LayerRecord, bool) {
	for _, l := range inv.Layers {
		if l.Identifier == name || l.LayerName == name || l.LayerKey == name {
			return l, true
		}
	}
	for _, l := range inv.Layers {
		if len(name) < len(l.Identifier) && l.Identifier[len(l.Identifier)-len(name):] == name {
			return l, true
		}
	}
	return LayerRecord{}, false
}
