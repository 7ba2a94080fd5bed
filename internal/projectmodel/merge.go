package projectmodel

// MergeDefaults overlays loaded on top of defaults: scalar fields left at
// their Go zero value in loaded (meaning: absent from the on-disk JSON)
// inherit the default; maps merge key-by-key, with loaded's entries
// winning (arrays/slices inside an entry replace the default's wholesale,
// per §4.3 — there is nothing to merge element-wise in a layer's
// resolutions or a schedule's weekday list).
func MergeDefaults(defaults, loaded ProjectConfig) ProjectConfig {
	out := loaded

	if out.ProjectID == "" {
		out.ProjectID = defaults.ProjectID
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = defaults.CreatedAt
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = defaults.UpdatedAt
	}

	out.Extent = mergeExtent(defaults.Extent, loaded.Extent)
	out.ExtentWGS84 = mergeExtent(defaults.ExtentWGS84, loaded.ExtentWGS84)

	if out.Zoom.Min == nil {
		out.Zoom.Min = defaults.Zoom.Min
	}
	if out.Zoom.Max == nil {
		out.Zoom.Max = defaults.Zoom.Max
	}
	if out.Zoom.UpdatedAt.IsZero() {
		out.Zoom.UpdatedAt = defaults.Zoom.UpdatedAt
	}

	out.CachePreferences = mergeCachePreferences(defaults.CachePreferences, loaded.CachePreferences)

	if out.Layers == nil {
		out.Layers = map[string]LayerEntry{}
	}
	if out.Themes == nil {
		out.Themes = map[string]ThemeEntry{}
	}

	return out
}

func mergeExtent(def, loaded Extent) Extent {
	out := loaded
	if out.Bbox == nil {
		out.Bbox = def.Bbox
	}
	if out.CRS == nil {
		out.CRS = def.CRS
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = def.UpdatedAt
	}
	return out
}

func mergeCachePreferences(def, loaded CachePreferences) CachePreferences {
	out := loaded
	if out.Mode == "" {
		out.Mode = def.Mode
	}
	if out.TileCRS == "" {
		out.TileCRS = def.TileCRS
	}
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = def.UpdatedAt
	}
	return out
}
