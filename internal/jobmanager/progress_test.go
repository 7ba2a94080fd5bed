package jobmanager

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	root := t.TempDir()
	index := cacheindex.NewStore(root)
	projects := projectconfig.New(root, nil, nil)
	return New(DefaultConfig(), index, projects, nil, nil)
}

func newTestJob(projectID, name string) *Job {
	return &Job{
		ID:        "job-1",
		ProjectID: projectID,
		Kind:      cacheindex.KindLayer,
		Name:      name,
		Plan:      RecachePlan{ZoomMin: 0, ZoomMax: 5, TileMatrixPreset: "webmercator"},
		status:    StatusRunning,
		done:      make(chan struct{}),
		cancel:    func() {},
	}
}

func TestHandleEventStartGenerateForcesZeroProgressWrite(t *testing.T) {
	m := newTestManager(t)
	job := newTestJob("orto", "parcels")

	m.handleEvent(job, StdoutEvent{Debug: "start_generate", OutputDir: "/cache/orto/parcels"})

	idx, err := m.index.Load("orto")
	require.NoError(t, err)
	entry, ok := idx.Find(cacheindex.KindLayer, "parcels")
	require.True(t, ok)
	assert.Equal(t, cacheindex.StatusRunning, entry.Status)
	require.NotNil(t, entry.Progress)
	assert.Equal(t, 0.0, *entry.Progress)
}

func TestHandleEventComputesClampedPercent(t *testing.T) {
	m := newTestManager(t)
	job := newTestJob("orto", "parcels")

	m.handleEvent(job, StdoutEvent{Status: "running", TotalGenerated: 50, ExpectedTotal: 100})

	job.mu.Lock()
	defer job.mu.Unlock()
	require.NotNil(t, job.lastProgress)
	assert.Equal(t, 50.0, *job.lastProgress)
}

func TestHandleEventWithNoExpectedTotalLeavesPercentNil(t *testing.T) {
	m := newTestManager(t)
	job := newTestJob("orto", "parcels")

	m.handleEvent(job, StdoutEvent{TotalGenerated: 50})

	job.mu.Lock()
	defer job.mu.Unlock()
	assert.Nil(t, job.lastProgress)
}

func TestHandleEventRespectsFlushInterval(t *testing.T) {
	m := newTestManager(t)
	m.cfg.IndexFlushInterval = time.Hour
	m.cfg.ConfigFlushInterval = time.Hour
	job := newTestJob("orto", "parcels")
	job.lastIndexWriteAt = time.Now()
	job.lastConfigWriteAt = time.Now()

	m.handleEvent(job, StdoutEvent{TotalGenerated: 10, ExpectedTotal: 100})

	idx, err := m.index.Load("orto")
	require.NoError(t, err)
	_, ok := idx.Find(cacheindex.KindLayer, "parcels")
	assert.False(t, ok, "a progress-only event inside the flush interval must not write yet")
}

func TestFlushTerminalJoinsStderrTail(t *testing.T) {
	m := newTestManager(t)
	job := newTestJob("orto", "parcels")
	job.stderrTail = []string{"first error", "second error"}

	m.flushTerminal(job, StatusError, job.stderrTail)

	cfg, err := m.projects.Read("orto")
	require.NoError(t, err)
	entry := cfg.Layers["parcels"]
	assert.Contains(t, entry.LastMessage, "first error")
	assert.Contains(t, entry.LastMessage, "second error")
}
