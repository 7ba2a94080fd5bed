// Package projectmodel defines the on-disk shape of a project's
// configuration (project-config.json, §3 of the spec) and the
// defaulting/deep-merge rules applied to it.
package projectmodel

import "time"

// CacheMode selects how a project's tiles are addressed on disk.
type CacheMode string

const (
	ModeXYZ    CacheMode = "xyz"
	ModeWMTS   CacheMode = "wmts"
	ModeCustom CacheMode = "custom"
	ModeAuto   CacheMode = "auto"
)

// Extent is a bounding box with a known CRS, stamped with its last update
// time. CRS is nil until an extent has actually been computed.
type Extent struct {
	Bbox      *[4]float64 `json:"bbox"`
	CRS       *string     `json:"crs"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// ZoomRange is the min/max zoom a project (or layer) is configured for.
type ZoomRange struct {
	Min       *int      `json:"min"`
	Max       *int      `json:"max"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CachePreferences are the project-wide defaults new layers inherit.
type CachePreferences struct {
	Mode        CacheMode `json:"mode"`
	TileCRS     string    `json:"tileCrs"`
	AllowRemote bool      `json:"allowRemote"`
	ThrottleMs  int       `json:"throttleMs"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// LayerEntry is the per-layer slice of project configuration: the
// parameters of its last render, its schedule, and its last outcome.
type LayerEntry struct {
	LastParams      map[string]any `json:"lastParams,omitempty"`
	AutoRecache     *bool          `json:"autoRecache,omitempty"`
	LastRequestedAt *time.Time     `json:"lastRequestedAt,omitempty"`
	LastResult      RunResult      `json:"lastResult,omitempty"`
	LastMessage     string         `json:"lastMessage,omitempty"`
	LastRunAt       *time.Time     `json:"lastRunAt,omitempty"`
	Progress        *float64       `json:"progress,omitempty"`
	Schedule        Schedule       `json:"schedule"`
	WFSEditable     *bool          `json:"wfsEditable,omitempty"`
	TileGridID      string         `json:"tileGridId,omitempty"`
	CRS             string         `json:"crs,omitempty"`
	Extent          *[4]float64    `json:"extent,omitempty"`
	Resolutions     []float64      `json:"resolutions,omitempty"`
}

// AutoRecacheEnabled reports whether this layer should be picked up by an
// unscoped batch recache: true unless explicitly disabled, and only when
// a prior render's parameters exist to replay.
func (l LayerEntry) AutoRecacheEnabled() bool {
	if l.AutoRecache != nil && !*l.AutoRecache {
		return false
	}
	return l.LastParams != nil
}

// ThemeEntry mirrors LayerEntry for theme targets.
type ThemeEntry = LayerEntry

// RecacheState is the project-level schedule plus its run history.
type RecacheState struct {
	Schedule Schedule `json:"schedule"`
}

// ProjectCacheState is the history of project-wide batch runs.
type ProjectCacheState struct {
	History    []BatchHistoryEntry `json:"history,omitempty"`
	LastResult RunResult           `json:"lastResult,omitempty"`
}

// BatchHistoryEntry records one completed batch run against the project.
type BatchHistoryEntry struct {
	RunID     string    `json:"runId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Layers    []string  `json:"layers"`
	Result    RunResult `json:"result"`
	Message   string    `json:"message,omitempty"`
}

// ProjectConfig is the full contents of cache/<id>/project-config.json.
type ProjectConfig struct {
	ProjectID        string                `json:"projectId"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
	Extent           Extent                `json:"extent"`
	ExtentWGS84      Extent                `json:"extentWgs84"`
	Zoom             ZoomRange             `json:"zoom"`
	CachePreferences CachePreferences      `json:"cachePreferences"`
	Layers           map[string]LayerEntry `json:"layers"`
	Themes           map[string]ThemeEntry `json:"themes"`
	Recache          RecacheState          `json:"recache"`
	ProjectCache     ProjectCacheState     `json:"projectCache"`
}

// Defaults returns a fresh ProjectConfig with every required substructure
// allocated, suitable as the base of a deep merge.
func Defaults(projectID string, now time.Time) ProjectConfig {
	crs4326 := "EPSG:4326"
	return ProjectConfig{
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
		Extent: Extent{
			UpdatedAt: now,
		},
		ExtentWGS84: Extent{
			CRS:       &crs4326,
			UpdatedAt: now,
		},
		Zoom: ZoomRange{UpdatedAt: now},
		CachePreferences: CachePreferences{
			Mode:        ModeAuto,
			TileCRS:     "EPSG:3857",
			AllowRemote: false,
			ThrottleMs:  0,
			UpdatedAt:   now,
		},
		Layers: map[string]LayerEntry{},
		Themes: map[string]ThemeEntry{},
	}
}
