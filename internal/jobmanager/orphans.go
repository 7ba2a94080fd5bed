package jobmanager

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/MeKo-Tech/tilecache/internal/jsonstore"
)

// ScanOrphans implements §4.5.4: it reads every recorded PidRecord under
// the pid directory and reports ones whose process is still alive but
// that this process does not itself own (e.g. left behind by a restart).
func (m *Manager) ScanOrphans() ([]OrphanJob, error) {
	entries, err := os.ReadDir(m.cfg.PidDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var orphans []OrphanJob
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var rec PidRecord
		path := filepath.Join(m.cfg.PidDir, entry.Name())
		if err := jsonstore.Read(path, &rec); err != nil {
			continue
		}
		if !pidAlive(rec.Pid) {
			continue
		}
		if _, owned := m.Get(rec.JobID); owned {
			continue
		}
		orphans = append(orphans, OrphanJob{Pid: rec.Pid, JobID: rec.JobID})
	}
	return orphans, nil
}

// KillOrphan force-kills an orphaned process tree and removes its pid
// record, for the admin sweep endpoint.
func (m *Manager) KillOrphan(o OrphanJob) error {
	if err := killTree(o.Pid, syscall.SIGKILL); err != nil {
		return err
	}
	if o.JobID != "" {
		m.removePidRecord(o.JobID)
	}
	return nil
}
