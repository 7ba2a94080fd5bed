package projectconfig

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRescheduler struct {
	ids []string
}

func (r *recordingRescheduler) Reschedule(id string) { r.ids = append(r.ids, id) }

func TestReadReturnsDefaultsWhenMissing(t *testing.T) {
	svc := New(t.TempDir(), nil, nil)
	cfg, err := svc.Read("orto")
	require.NoError(t, err)
	assert.Equal(t, "orto", cfg.ProjectID)
	assert.Equal(t, projectmodel.ModeAuto, cfg.CachePreferences.Mode)
	assert.NotNil(t, cfg.Layers)
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	svc := New(t.TempDir(), nil, nil)
	cfg, err := svc.Read("orto")
	require.NoError(t, err)

	wmts := projectmodel.ModeWMTS
	patch := projectmodel.Patch{CachePreferences: &projectmodel.CachePreferencesPatch{Mode: &wmts}}
	updated := patch.Apply(cfg)

	_, err = svc.Write("orto", updated)
	require.NoError(t, err)

	reread, err := svc.Read("orto")
	require.NoError(t, err)
	assert.Equal(t, projectmodel.ModeWMTS, reread.CachePreferences.Mode)
}

func TestWriteNotifiesReschedulerUnlessSkipped(t *testing.T) {
	resched := &recordingRescheduler{}
	svc := New(t.TempDir(), resched, nil)

	cfg, err := svc.Read("orto")
	require.NoError(t, err)

	_, err = svc.Write("orto", cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"orto"}, resched.ids)

	_, err = svc.Write("orto", cfg, SkipReschedule())
	require.NoError(t, err)
	assert.Equal(t, []string{"orto"}, resched.ids, "SkipReschedule must suppress the notification")
}

func TestUpdatePreservesCreatedAt(t *testing.T) {
	svc := New(t.TempDir(), nil, nil)
	cfg, err := svc.Read("orto")
	require.NoError(t, err)
	_, err = svc.Write("orto", cfg)
	require.NoError(t, err)

	first, err := svc.Read("orto")
	require.NoError(t, err)

	mode := projectmodel.ModeXYZ
	updated, err := svc.Update("orto", projectmodel.Patch{
		CachePreferences: &projectmodel.CachePreferencesPatch{Mode: &mode},
	})
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, updated.CreatedAt)
}

func TestWriteFinalizesScheduleNextRunAt(t *testing.T) {
	// package schedule imports projectconfig, so a stand-in NextRunFunc is
	// used here instead of schedule.NextRun.
	nextRun := func(sch projectmodel.Schedule, now time.Time) *time.Time {
		if !sch.Enabled {
			return nil
		}
		next := now.Add(time.Hour)
		return &next
	}
	svc := New(t.TempDir(), nil, nextRun)
	cfg, err := svc.Read("orto")
	require.NoError(t, err)

	enabled := true
	mode := projectmodel.ScheduleWeekly
	patch := projectmodel.Patch{
		Layers: map[string]projectmodel.EntryPatch{
			"parcels": {
				Schedule: &projectmodel.SchedulePatch{
					Enabled: &enabled,
					Mode:    &mode,
					Weekly:  &projectmodel.WeeklySpec{Days: []string{"mon"}, Time: "02:00"},
				},
			},
		},
	}

	updated, err := svc.Update("orto", patch)
	require.NoError(t, err)
	require.NotNil(t, updated.Layers["parcels"].Schedule.NextRunAt)
	assert.True(t, updated.Layers["parcels"].Schedule.NextRunAt.After(time.Now()))
}

func TestWriteTrimsHistoryTo25(t *testing.T) {
	svc := New(t.TempDir(), nil, nil)
	cfg, err := svc.Read("orto")
	require.NoError(t, err)

	entry := cfg.Layers["parcels"]
	for i := 0; i < 30; i++ {
		entry.Schedule.AppendHistory(projectmodel.HistoryEntry{RunAt: time.Now(), Result: projectmodel.ResultSuccess})
	}
	cfg.Layers["parcels"] = entry

	updated, err := svc.Write("orto", cfg)
	require.NoError(t, err)
	assert.Len(t, updated.Layers["parcels"].Schedule.History, projectmodel.MaxHistory)
}
