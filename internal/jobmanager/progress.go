package jobmanager

import (
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
)

// handleEvent applies one parsed stdout line to job state and, if a flush
// interval elapsed or the status changed, persists progress into the
// index and project config (§4.5.2).
func (m *Manager) handleEvent(job *Job, evt StdoutEvent) {
	job.mu.Lock()
	statusChanged := false
	forceWrite := false

	switch {
	case evt.Debug == "start_generate":
		job.outputDir = evt.OutputDir
		job.totalGenerated = 0
		zero := 0.0
		job.lastProgress = &zero
		forceWrite = true
	case evt.Debug == "index_written":
		forceWrite = true
	case evt.Status != "":
		statusChanged = evt.Status != string(job.status)
		fallthrough
	default:
		if evt.TotalGenerated > 0 {
			job.totalGenerated = evt.TotalGenerated
		}
		if evt.ExpectedTotal > 0 {
			job.expectedTotal = evt.ExpectedTotal
		}
	}

	var percent *float64
	if job.expectedTotal > 0 {
		p := clamp(100*float64(job.totalGenerated)/float64(job.expectedTotal), 0, 100)
		percent = &p
	} else if evt.Debug == "start_generate" {
		percent = job.lastProgress
	}
	job.lastProgress = percent

	now := time.Now()
	writeIndex := forceWrite || statusChanged || now.Sub(job.lastIndexWriteAt) >= m.cfg.IndexFlushInterval
	writeConfig := forceWrite || statusChanged || now.Sub(job.lastConfigWriteAt) >= m.cfg.ConfigFlushInterval
	if writeIndex {
		job.lastIndexWriteAt = now
	}
	if writeConfig {
		job.lastConfigWriteAt = now
	}
	status := job.status
	job.mu.Unlock()

	if writeIndex {
		m.flushIndex(job, status, percent)
	}
	if writeConfig {
		m.flushConfig(job, status, percent)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (m *Manager) flushIndex(job *Job, status Status, percent *float64) {
	_, err := m.index.Upsert(job.ProjectID, job.Kind, job.Name, func(e cacheindex.Entry) cacheindex.Entry {
		e.Status = indexStatus(status)
		e.Progress = percent
		e.ZoomMin, e.ZoomMax = job.Plan.ZoomMin, job.Plan.ZoomMax
		e.PublishedZoomMin, e.PublishedZoomMax = job.Plan.PublishZoomMin, job.Plan.PublishZoomMax
		e.TileMatrixPreset = job.Plan.TileMatrixPreset
		return e
	})
	if err != nil {
		m.log.Error("jobmanager: index flush failed", "job", job.ID, "err", err)
	}
}

func indexStatus(s Status) cacheindex.Status {
	switch s {
	case StatusCompleted:
		return cacheindex.StatusCached
	case StatusError:
		return cacheindex.StatusError
	case StatusAborted:
		return cacheindex.StatusUncached
	default:
		return cacheindex.StatusRunning
	}
}

func (m *Manager) flushConfig(job *Job, status Status, percent *float64) {
	cfg, err := m.projects.Read(job.ProjectID)
	if err != nil {
		m.log.Error("jobmanager: config read for flush failed", "job", job.ID, "err", err)
		return
	}

	apply := func(entry projectmodel.LayerEntry) projectmodel.LayerEntry {
		entry.Progress = percent
		entry.LastResult = runResult(status)
		now := time.Now()
		entry.LastRequestedAt = &now
		if status == StatusCompleted || status == StatusError || status == StatusAborted {
			entry.LastRunAt = &now
		}
		return entry
	}

	if job.Kind == cacheindex.KindTheme {
		if cfg.Themes == nil {
			cfg.Themes = map[string]projectmodel.ThemeEntry{}
		}
		cfg.Themes[job.Name] = apply(cfg.Themes[job.Name])
	} else {
		if cfg.Layers == nil {
			cfg.Layers = map[string]projectmodel.LayerEntry{}
		}
		cfg.Layers[job.Name] = apply(cfg.Layers[job.Name])
	}

	if _, err := m.projects.Write(job.ProjectID, cfg); err != nil {
		m.log.Error("jobmanager: config flush failed", "job", job.ID, "err", err)
	}
}

func runResult(s Status) projectmodel.RunResult {
	switch s {
	case StatusCompleted:
		return projectmodel.ResultSuccess
	case StatusError:
		return projectmodel.ResultError
	case StatusAborted:
		return projectmodel.ResultAborted
	default:
		return ""
	}
}

// flushTerminal forces a final index+config write including the terminal
// status and the last stderr lines as the entry's message (§4.5.3).
func (m *Manager) flushTerminal(job *Job, status Status, stderrTail []string) {
	percent := job.lastProgress
	m.flushIndex(job, status, percent)

	cfg, err := m.projects.Read(job.ProjectID)
	if err != nil {
		m.log.Error("jobmanager: terminal config read failed", "job", job.ID, "err", err)
		return
	}
	msg := ""
	if len(stderrTail) > 0 {
		msg = stderrTail[len(stderrTail)-1]
		for i := len(stderrTail) - 2; i >= 0; i-- {
			msg = stderrTail[i] + "\n" + msg
		}
	}

	now := time.Now()
	apply := func(entry projectmodel.LayerEntry) projectmodel.LayerEntry {
		entry.Progress = percent
		entry.LastResult = runResult(status)
		entry.LastMessage = msg
		entry.LastRunAt = &now
		return entry
	}
	if job.Kind == cacheindex.KindTheme {
		if cfg.Themes == nil {
			cfg.Themes = map[string]projectmodel.ThemeEntry{}
		}
		cfg.Themes[job.Name] = apply(cfg.Themes[job.Name])
	} else {
		if cfg.Layers == nil {
			cfg.Layers = map[string]projectmodel.LayerEntry{}
		}
		cfg.Layers[job.Name] = apply(cfg.Layers[job.Name])
	}
	if _, err := m.projects.Write(job.ProjectID, cfg); err != nil {
		m.log.Error("jobmanager: terminal config flush failed", "job", job.ID, "err", err)
	}
}
