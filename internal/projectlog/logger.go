package projectlog

import (
	"log/slog"
	"path/filepath"

	"github.com/MeKo-Tech/tilecache/internal/sanitize"
)

// Path returns the on-disk location of a project's log file under the
// logs/ directory (§6.4: logs/project-<projectId>.log).
func Path(logsRoot, projectID string) string {
	return filepath.Join(logsRoot, "project-"+sanitize.ProjectID(projectID)+".log")
}

// NewLogger opens a project's log file and returns an slog.Logger backed
// by it, plus a close function the caller must invoke when done logging
// to this project (e.g. when a job or batch finishes).
func NewLogger(logsRoot, projectID string, level slog.Leveler) (*slog.Logger, func() error, error) {
	w, err := Open(Path(logsRoot, projectID))
	if err != nil {
		return nil, nil, err
	}
	return slog.New(NewHandler(w, level)), w.Close, nil
}
