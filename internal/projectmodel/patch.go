package projectmodel

import (
	"encoding/json"
	"strings"
)

// Patch is the typed, validated shape of a PATCH /projects/:id/config body.
// Only fields recognized here ever reach ProjectConfig: json.Unmarshal
// silently drops anything else, which is the enumerate-and-discard
// replacement for the duck-typed merges the spec calls out in its design
// notes (§9).
type Patch struct {
	Extent           *ExtentPatch            `json:"extent,omitempty"`
	ExtentWGS84      *ExtentPatch            `json:"extentWgs84,omitempty"`
	Zoom             *ZoomPatch              `json:"zoom,omitempty"`
	CachePreferences *CachePreferencesPatch  `json:"cachePreferences,omitempty"`
	Layers           map[string]EntryPatch   `json:"layers,omitempty"`
	Themes           map[string]EntryPatch   `json:"themes,omitempty"`
	Recache          *SchedulePatch          `json:"recache,omitempty"`
}

type ExtentPatch struct {
	Bbox *[4]float64 `json:"bbox,omitempty"`
	CRS  *string     `json:"crs,omitempty"`
}

type ZoomPatch struct {
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

type CachePreferencesPatch struct {
	Mode        *CacheMode `json:"mode,omitempty"`
	TileCRS     *string    `json:"tileCrs,omitempty"`
	AllowRemote *bool      `json:"allowRemote,omitempty"`
	ThrottleMs  *int       `json:"throttleMs,omitempty"`
}

// EntryPatch is the recognized subset of a LayerEntry/ThemeEntry that a
// PATCH body may change.
type EntryPatch struct {
	LastParams  map[string]any `json:"lastParams,omitempty"`
	AutoRecache *bool          `json:"autoRecache,omitempty"`
	Schedule    *SchedulePatch `json:"schedule,omitempty"`
	WFSEditable *bool          `json:"wfsEditable,omitempty"`
	TileGridID  *string        `json:"tileGridId,omitempty"`
	CRS         *string        `json:"crs,omitempty"`
	Extent      *[4]float64    `json:"extent,omitempty"`
	Resolutions []float64      `json:"resolutions,omitempty"`
}

type SchedulePatch struct {
	Enabled *bool         `json:"enabled,omitempty"`
	Mode    *ScheduleMode `json:"mode,omitempty"`
	Weekly  *WeeklySpec   `json:"weekly,omitempty"`
	Monthly *MonthlySpec  `json:"monthly,omitempty"`
	Yearly  *YearlySpec   `json:"yearly,omitempty"`
	ZoomMin *int          `json:"zoomMin,omitempty"`
	ZoomMax *int          `json:"zoomMax,omitempty"`
}

// BuildPatch decodes and validates a raw PATCH body. Unknown fields are
// silently dropped by json.Unmarshal. Schedule modes outside the three
// recognized values are rejected (the mode is dropped from the patch, so
// the schedule keeps its current mode); weekday tokens are normalized;
// yearly occurrences are capped at 3.
func BuildPatch(body []byte) (Patch, error) {
	var p Patch
	if err := json.Unmarshal(body, &p); err != nil {
		return Patch{}, err
	}
	normalizeSchedule(p.Recache)
	for name, e := range p.Layers {
		normalizeSchedule(e.Schedule)
		p.Layers[name] = e
	}
	for name, e := range p.Themes {
		normalizeSchedule(e.Schedule)
		p.Themes[name] = e
	}
	return p, nil
}

func normalizeSchedule(sp *SchedulePatch) {
	if sp == nil {
		return
	}
	if sp.Mode != nil {
		switch *sp.Mode {
		case ScheduleWeekly, ScheduleMonthly, ScheduleYearly:
		default:
			sp.Mode = nil
		}
	}
	if sp.Weekly != nil {
		sp.Weekly.Days = normalizeWeekdays(sp.Weekly.Days)
	}
	if sp.Yearly != nil && len(sp.Yearly.Occurrences) > 3 {
		sp.Yearly.Occurrences = sp.Yearly.Occurrences[:3]
	}
}

var validWeekdays = map[string]bool{
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true, "sun": true,
}

func normalizeWeekdays(days []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(days))
	for _, d := range days {
		token := strings.ToLower(strings.TrimSpace(d))
		if len(token) > 3 {
			token = token[:3]
		}
		if !validWeekdays[token] || seen[token] {
			continue
		}
		seen[token] = true
		out = append(out, token)
	}
	return out
}

// Apply returns cfg with the patch applied. CreatedAt is always preserved.
func (p Patch) Apply(cfg ProjectConfig) ProjectConfig {
	createdAt := cfg.CreatedAt

	if p.Extent != nil {
		if p.Extent.Bbox != nil {
			cfg.Extent.Bbox = p.Extent.Bbox
		}
		if p.Extent.CRS != nil {
			cfg.Extent.CRS = p.Extent.CRS
		}
	}
	if p.ExtentWGS84 != nil {
		if p.ExtentWGS84.Bbox != nil {
			cfg.ExtentWGS84.Bbox = p.ExtentWGS84.Bbox
		}
	}
	if p.Zoom != nil {
		if p.Zoom.Min != nil {
			cfg.Zoom.Min = p.Zoom.Min
		}
		if p.Zoom.Max != nil {
			cfg.Zoom.Max = p.Zoom.Max
		}
	}
	if p.CachePreferences != nil {
		cp := p.CachePreferences
		if cp.Mode != nil {
			cfg.CachePreferences.Mode = *cp.Mode
		}
		if cp.TileCRS != nil {
			cfg.CachePreferences.TileCRS = *cp.TileCRS
		}
		if cp.AllowRemote != nil {
			cfg.CachePreferences.AllowRemote = *cp.AllowRemote
		}
		if cp.ThrottleMs != nil {
			cfg.CachePreferences.ThrottleMs = *cp.ThrottleMs
		}
	}

	if cfg.Layers == nil {
		cfg.Layers = map[string]LayerEntry{}
	}
	for name, ep := range p.Layers {
		entry := cfg.Layers[name]
		applyEntryPatch(&entry, ep)
		cfg.Layers[name] = entry
	}

	if cfg.Themes == nil {
		cfg.Themes = map[string]ThemeEntry{}
	}
	for name, ep := range p.Themes {
		entry := cfg.Themes[name]
		applyEntryPatch(&entry, ep)
		cfg.Themes[name] = entry
	}

	if p.Recache != nil {
		applySchedulePatch(&cfg.Recache.Schedule, p.Recache)
	}

	cfg.CreatedAt = createdAt
	return cfg
}

func applyEntryPatch(entry *LayerEntry, ep EntryPatch) {
	if ep.LastParams != nil {
		entry.LastParams = ep.LastParams
	}
	if ep.AutoRecache != nil {
		entry.AutoRecache = ep.AutoRecache
	}
	if ep.Schedule != nil {
		applySchedulePatch(&entry.Schedule, ep.Schedule)
	}
	if ep.WFSEditable != nil {
		entry.WFSEditable = ep.WFSEditable
	}
	if ep.TileGridID != nil {
		entry.TileGridID = *ep.TileGridID
	}
	if ep.CRS != nil {
		entry.CRS = *ep.CRS
	}
	if ep.Extent != nil {
		entry.Extent = ep.Extent
	}
	if ep.Resolutions != nil {
		entry.Resolutions = ep.Resolutions
	}
}

func applySchedulePatch(sch *Schedule, sp *SchedulePatch) {
	if sp.Mode != nil {
		sch.Mode = *sp.Mode
	}
	if sp.Enabled != nil {
		sch.Enabled = *sp.Enabled
	}
	if sp.Weekly != nil {
		sch.Weekly = sp.Weekly
	}
	if sp.Monthly != nil {
		sch.Monthly = sp.Monthly
	}
	if sp.Yearly != nil {
		sch.Yearly = sp.Yearly
	}
	if sp.ZoomMin != nil {
		sch.ZoomMin = sp.ZoomMin
	}
	if sp.ZoomMax != nil {
		sch.ZoomMax = sp.ZoomMax
	}
}
