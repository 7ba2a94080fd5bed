// Package cacheindex manages cache/<project>/index.json: the catalog of
// every layer/theme a project has ever cached, its tile-matrix binding,
// zoom range, and render status (§4.4 of the spec).
package cacheindex

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/jsonstore"
)

// Kind distinguishes a layer target from a theme target.
type Kind string

const (
	KindLayer Kind = "layer"
	KindTheme Kind = "theme"
)

// Scheme is the tile addressing scheme a layer/theme publishes under.
type Scheme string

const (
	SchemeXYZ    Scheme = "xyz"
	SchemeWMTS   Scheme = "wmts"
	SchemeCustom Scheme = "custom"
)

// Status is the lifecycle state of an index entry.
type Status string

const (
	StatusUncached Status = "uncached"
	StatusRunning  Status = "running"
	StatusCached   Status = "cached"
	StatusError    Status = "error"
)

// Entry is one layer or theme's row in index.json.
type Entry struct {
	Name               string   `json:"name"`
	Kind               Kind     `json:"kind"`
	Scheme             Scheme   `json:"scheme"`
	TileCRS            string   `json:"tile_crs"`
	CRS                string   `json:"crs"`
	Cacheable          bool     `json:"cacheable"`
	Extent             *[4]float64 `json:"extent,omitempty"`
	ExtentWGS84        *[4]float64 `json:"extent_wgs84,omitempty"`
	ZoomMin            int      `json:"zoom_min"`
	ZoomMax            int      `json:"zoom_max"`
	PublishedZoomMin   int      `json:"published_zoom_min"`
	PublishedZoomMax   int      `json:"published_zoom_max"`
	CachedZoomMin      *int     `json:"cached_zoom_min,omitempty"`
	CachedZoomMax      *int     `json:"cached_zoom_max,omitempty"`
	LastZoomMin        *int     `json:"last_zoom_min,omitempty"`
	LastZoomMax        *int     `json:"last_zoom_max,omitempty"`
	TileFormat         string   `json:"tile_format"`
	XYZMode            string   `json:"xyz_mode,omitempty"`
	Path               string   `json:"path,omitempty"`
	TileMatrixPreset   string   `json:"tile_matrix_preset,omitempty"`
	TileMatrixSet      string   `json:"tile_matrix_set,omitempty"`
	TileProfileSource  string   `json:"tile_profile_source,omitempty"`
	Status             Status   `json:"status"`
	Partial            bool     `json:"partial,omitempty"`
	Progress           *float64 `json:"progress,omitempty"`
	Generated          time.Time `json:"generated"`
	Updated            time.Time `json:"updated"`
	TileCount          *int64   `json:"tile_count,omitempty"`
	CacheExists        bool     `json:"cache_exists"`
	CacheRemovedAt     *time.Time `json:"cache_removed_at,omitempty"`
}

// Index is the full contents of cache/<project>/index.json.
type Index struct {
	Project string    `json:"project"`
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`
	Layers  []Entry   `json:"layers"`
}

// path returns the on-disk location of a project's index file.
func path(cacheRoot, projectID string) string {
	return filepath.Join(cacheRoot, projectID, "index.json")
}

// Path returns the on-disk location of projectID's index.json, for callers
// (the renderer's --index_path argument, §6.1) that need the path without
// loading the file.
func (s *Store) Path(projectID string) string {
	return path(s.cacheRoot, projectID)
}

// Store loads and mutates per-project index.json files, serializing
// concurrent access from within this process with a per-project mutex
// (cross-process safety comes from jsonstore's atomic-with-backup write).
type Store struct {
	cacheRoot string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore creates an index Store rooted at cacheRoot (the "cache/"
// directory).
func NewStore(cacheRoot string) *Store {
	return &Store{cacheRoot: cacheRoot, locks: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(projectID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[projectID] = l
	}
	return l
}

// Load reads a project's index, returning an empty, freshly-stamped Index
// if none exists yet.
func (s *Store) Load(projectID string) (Index, error) {
	var idx Index
	err := jsonstore.Read(path(s.cacheRoot, projectID), &idx)
	if err == jsonstore.ErrNotExist {
		now := time.Now()
		return Index{Project: projectID, ID: projectID, Created: now, Updated: now, Layers: []Entry{}}, nil
	}
	if err != nil {
		return Index{}, fmt.Errorf("cacheindex: load %s: %w", projectID, err)
	}
	return idx, nil
}

// Save persists idx atomically.
func (s *Store) Save(idx Index) error {
	idx.Updated = time.Now()
	if err := jsonstore.WriteAtomic(path(s.cacheRoot, idx.Project), idx); err != nil {
		return fmt.Errorf("cacheindex: save %s: %w", idx.Project, err)
	}
	return nil
}

// Upsert loads the index for projectID, removes any existing entry keyed
// by (kind, name), calls updater with that prior entry (or a zero Entry
// if none existed) to produce the replacement, appends it, and persists
// the result. The (kind, name) pair is the only stable identity an entry
// has across re-renders.
func (s *Store) Upsert(projectID string, kind Kind, name string, updater func(existing Entry) Entry) (Entry, error) {
	lock := s.lockFor(projectID)
	lock.Lock()
	defer lock.Unlock()

	idx, err := s.Load(projectID)
	if err != nil {
		return Entry{}, err
	}

	var existing Entry
	filtered := idx.Layers[:0:0]
	for _, e := range idx.Layers {
		if e.Kind == kind && e.Name == name {
			existing = e
			continue
		}
		filtered = append(filtered, e)
	}

	updated := updater(existing)
	updated.Kind = kind
	updated.Name = name
	updated.Updated = time.Now()
	filtered = append(filtered, updated)
	idx.Layers = filtered

	if err := s.Save(idx); err != nil {
		return Entry{}, err
	}
	return updated, nil
}

// ClearCache marks an entry as uncached without removing its row: the UI
// must still display the logical layer, just without an on-disk cache
// (§4.4).
func (s *Store) ClearCache(projectID string, kind Kind, name string) (Entry, error) {
	now := time.Now()
	return s.Upsert(projectID, kind, name, func(e Entry) Entry {
		e.CachedZoomMin = nil
		e.CachedZoomMax = nil
		e.Path = ""
		e.CacheExists = false
		e.CacheRemovedAt = &now
		e.Status = StatusUncached
		e.Partial = false
		return e
	})
}

// Find returns the entry for (kind, name), if present.
func (idx Index) Find(kind Kind, name string) (Entry, bool) {
	for _, e := range idx.Layers {
		if e.Kind == kind && e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}
