package schedule

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustLoc() *time.Location { return time.UTC }

func TestNextRunWeeklyBoundary(t *testing.T) {
	// Sunday 23:59:30, schedule fires Sunday 23:59 -> must roll to the
	// following Sunday, not re-fire immediately (§8 boundary behavior).
	now := time.Date(2026, 8, 2, 23, 59, 30, 0, mustLoc()) // a Sunday
	require.Equal(t, time.Sunday, now.Weekday())

	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleWeekly,
		Weekly:  &projectmodel.WeeklySpec{Days: []string{"sun"}, Time: "23:59"},
	}

	next := NextRun(sch, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Sunday, next.Weekday())
	assert.Equal(t, now.AddDate(0, 0, 7).Day(), next.Day())
	assert.Equal(t, 23, next.Hour())
	assert.Equal(t, 59, next.Minute())
}

func TestNextRunWeeklyPicksEarliestDay(t *testing.T) {
	now := time.Date(2026, 8, 3, 10, 0, 0, 0, mustLoc()) // Monday
	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleWeekly,
		Weekly:  &projectmodel.WeeklySpec{Days: []string{"fri", "wed"}, Time: "02:00"},
	}
	next := NextRun(sch, now)
	require.NotNil(t, next)
	assert.Equal(t, time.Wednesday, next.Weekday())
}

func TestNextRunMonthlyClampsFebruary(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, mustLoc())
	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleMonthly,
		Monthly: &projectmodel.MonthlySpec{Days: []int{31}, Time: "00:00"},
	}
	next := NextRun(sch, now)
	require.NotNil(t, next)
	assert.Equal(t, time.February, next.Month())
	assert.Equal(t, 28, next.Day(), "2026 is not a leap year")
}

func TestNextRunMonthlyClampsLeapFebruary(t *testing.T) {
	now := time.Date(2028, 2, 1, 0, 0, 0, 0, mustLoc())
	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleMonthly,
		Monthly: &projectmodel.MonthlySpec{Days: []int{31}, Time: "00:00"},
	}
	next := NextRun(sch, now)
	require.NotNil(t, next)
	assert.Equal(t, 29, next.Day(), "2028 is a leap year")
}

func TestNextRunYearlyPicksEarliestOccurrence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, mustLoc())
	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleYearly,
		Yearly: &projectmodel.YearlySpec{Occurrences: []projectmodel.YearlyOccurrence{
			{Month: 6, Day: 15, Time: "03:00"},
			{Month: 3, Day: 1, Time: "03:00"},
		}},
	}
	next := NextRun(sch, now)
	require.NotNil(t, next)
	assert.Equal(t, time.March, next.Month())
	assert.Equal(t, 1, next.Day())
}

func TestNextRunDisabledReturnsNil(t *testing.T) {
	sch := projectmodel.Schedule{Enabled: false, Mode: projectmodel.ScheduleWeekly,
		Weekly: &projectmodel.WeeklySpec{Days: []string{"mon"}, Time: "00:00"}}
	assert.Nil(t, NextRun(sch, time.Now()))
}

func TestNextRunIsMonotoneInNow(t *testing.T) {
	sch := projectmodel.Schedule{
		Enabled: true,
		Mode:    projectmodel.ScheduleWeekly,
		Weekly:  &projectmodel.WeeklySpec{Days: []string{"mon", "thu"}, Time: "09:00"},
	}
	base := time.Date(2026, 8, 3, 0, 0, 0, 0, mustLoc())
	prev := NextRun(sch, base)
	require.NotNil(t, prev)
	for i := 1; i <= 20; i++ {
		now := base.Add(time.Duration(i) * time.Hour)
		next := NextRun(sch, now)
		require.NotNil(t, next)
		assert.False(t, next.Before(*prev), "next run must never move backwards as now advances")
		prev = next
	}
}
