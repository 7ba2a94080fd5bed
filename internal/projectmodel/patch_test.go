package projectmodel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPatchDropsUnknownFields(t *testing.T) {
	body := []byte(`{
		"cachePreferences": {"mode": "wmts", "bogusField": 123},
		"somethingElse": "ignored",
		"layers": {"parcels": {"autoRecache": false, "bogus": true}}
	}`)

	p, err := BuildPatch(body)
	require.NoError(t, err)
	require.NotNil(t, p.CachePreferences)
	assert.Equal(t, ModeWMTS, *p.CachePreferences.Mode)
	require.Contains(t, p.Layers, "parcels")
	assert.False(t, *p.Layers["parcels"].AutoRecache)
}

func TestBuildPatchRejectsUnknownScheduleMode(t *testing.T) {
	body := []byte(`{"layers": {"parcels": {"schedule": {"mode": "hourly", "enabled": true}}}}`)
	p, err := BuildPatch(body)
	require.NoError(t, err)
	assert.Nil(t, p.Layers["parcels"].Schedule.Mode)
}

func TestBuildPatchNormalizesWeekdaysAndCapsYearly(t *testing.T) {
	body := []byte(`{
		"recache": {
			"mode": "weekly",
			"enabled": true,
			"weekly": {"days": ["Monday", "mon", "TUE ", "xyz"], "time": "02:00"},
			"yearly": {"occurrences": [
				{"month": 1, "day": 1, "time": "01:00"},
				{"month": 4, "day": 1, "time": "01:00"},
				{"month": 7, "day": 1, "time": "01:00"},
				{"month": 10, "day": 1, "time": "01:00"}
			]}
		}
	}`)
	p, err := BuildPatch(body)
	require.NoError(t, err)
	require.NotNil(t, p.Recache.Weekly)
	assert.Equal(t, []string{"mon", "tue"}, p.Recache.Weekly.Days)
	require.NotNil(t, p.Recache.Yearly)
	assert.Len(t, p.Recache.Yearly.Occurrences, 3)
}

func TestPatchApplyPreservesCreatedAt(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Defaults("orto", created)

	enabled := true
	mode := ScheduleWeekly
	patch := Patch{
		Layers: map[string]EntryPatch{
			"parcels": {
				Schedule: &SchedulePatch{Enabled: &enabled, Mode: &mode},
			},
		},
	}

	updated := patch.Apply(cfg)
	assert.Equal(t, created, updated.CreatedAt)
	assert.True(t, updated.Layers["parcels"].Schedule.Enabled)
}
