// Package projectlog writes the append-only per-project event log of
// §6.4 (logs/project-<id>.log): one line per event, deduplicated against
// the immediately preceding line so a noisy repeated event (a stalled
// render retried every poll tick, say) doesn't fill the file with
// identical lines.
package projectlog

import (
	"fmt"
	"os"
	"sync"
)

// Writer appends lines to a single project's log file, skipping any line
// identical to the one it wrote last.
type Writer struct {
	path string

	mu       sync.Mutex
	file     *os.File
	lastLine string
}

// Open opens (creating if needed) the log file at path for appending.
func Open(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("projectlog: open %s: %w", path, err)
	}
	return &Writer{path: path, file: f}, nil
}

// WriteLine appends line (without a trailing newline) unless it is
// identical to the previously written line.
func (w *Writer) WriteLine(line string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if line == w.lastLine {
		return nil
	}
	if _, err := w.file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("projectlog: write %s: %w", w.path, err)
	}
	w.lastLine = line
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}
