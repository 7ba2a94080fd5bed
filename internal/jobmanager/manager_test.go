package jobmanager

import (
	"testing"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/stretchr/testify/assert"
)

func TestBuildRecachePlanFullWhenNoPriorEntry(t *testing.T) {
	req := Request{ProjectID: "orto", Layer: "parcels"}
	min, max := 0, 5
	req.ZoomMin, req.ZoomMax = &min, &max

	plan := buildRecachePlan(req, cacheindex.Entry{}, projectmodel.CachePreferences{})
	assert.Equal(t, "full", plan.Mode)
	assert.False(t, plan.SkipExisting)
	assert.Equal(t, 0, plan.ZoomMin)
	assert.Equal(t, 5, plan.ZoomMax)
}

func TestBuildRecachePlanIncrementalWithOverlap(t *testing.T) {
	cMin, cMax := 0, 5
	existing := cacheindex.Entry{
		TileCRS:       "EPSG:3857",
		CachedZoomMin: &cMin,
		CachedZoomMax: &cMax,
	}
	min, max := 0, 8
	req := Request{ProjectID: "orto", Layer: "parcels", Incremental: true, ZoomMin: &min, ZoomMax: &max}
	prefs := projectmodel.CachePreferences{TileCRS: "EPSG:3857"}

	plan := buildRecachePlan(req, existing, prefs)
	assert.Equal(t, "incremental", plan.Mode)
	assert.False(t, plan.SkipExisting, "overlapping ranges must not skip existing tiles")
}

func TestBuildRecachePlanIncrementalWithoutOverlapSkipsExisting(t *testing.T) {
	cMin, cMax := 0, 5
	existing := cacheindex.Entry{
		TileCRS:       "EPSG:3857",
		CachedZoomMin: &cMin,
		CachedZoomMax: &cMax,
	}
	min, max := 6, 10
	req := Request{ProjectID: "orto", Layer: "parcels", Incremental: true, ZoomMin: &min, ZoomMax: &max}
	prefs := projectmodel.CachePreferences{TileCRS: "EPSG:3857"}

	plan := buildRecachePlan(req, existing, prefs)
	assert.Equal(t, "incremental", plan.Mode)
	assert.True(t, plan.SkipExisting, "disjoint new zoom levels should only render what's missing")
}

func TestBuildRecachePlanFallsBackToFullOnCRSMismatch(t *testing.T) {
	cMin, cMax := 0, 5
	existing := cacheindex.Entry{
		TileCRS:       "EPSG:4326",
		CachedZoomMin: &cMin,
		CachedZoomMax: &cMax,
	}
	min, max := 0, 8
	req := Request{ProjectID: "orto", Layer: "parcels", Incremental: true, ZoomMin: &min, ZoomMax: &max}
	prefs := projectmodel.CachePreferences{TileCRS: "EPSG:3857"}

	plan := buildRecachePlan(req, existing, prefs)
	assert.Equal(t, "full", plan.Mode)
}

func TestRequestTargetDistinguishesLayerAndTheme(t *testing.T) {
	kind, name := Request{Layer: "parcels"}.Target()
	assert.Equal(t, cacheindex.KindLayer, kind)
	assert.Equal(t, "parcels", name)

	kind, name = Request{Theme: "roads"}.Target()
	assert.Equal(t, cacheindex.KindTheme, kind)
	assert.Equal(t, "roads", name)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5, 0, 100))
	assert.Equal(t, 100.0, clamp(500, 0, 100))
	assert.Equal(t, 42.0, clamp(42, 0, 100))
}
