// Package tilestore maps layer/theme tiles onto the on-disk cache layout
// (§4.2), validates tiles read back off disk, and deletes a cache
// directory with the rename-then-remove pattern needed to tolerate a
// renderer process that is still releasing file handles.
package tilestore

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/sanitize"
)

// Target identifies whether a tile belongs to a layer or a theme.
type Target string

const (
	TargetLayer Target = "layer"
	TargetTheme Target = "theme"
)

// Store maps (project, target, name) tile requests to filesystem paths
// under a cache root and performs safe reads/deletes against them.
type Store struct {
	cacheRoot string

	// MinTileBytes rejects any cached file smaller than this as invalid.
	// Zero disables the minimum-size check.
	MinTileBytes int64
}

// New creates a Store rooted at cacheRoot (the "cache/" directory).
func New(cacheRoot string) *Store {
	return &Store{cacheRoot: cacheRoot}
}

// Dir returns the directory a layer or theme's tiles live under, e.g.
// cache/<project>/<storageName> or cache/<project>/_themes/<storageName>.
func (s *Store) Dir(projectID string, target Target, name string) string {
	storage := sanitize.StorageName(name)
	if target == TargetTheme {
		return filepath.Join(s.cacheRoot, sanitize.ProjectID(projectID), "_themes", storage)
	}
	return filepath.Join(s.cacheRoot, sanitize.ProjectID(projectID), storage)
}

// Path returns the on-disk path of a single tile.
func (s *Store) Path(projectID string, target Target, name string, z, x, y int, ext string) string {
	return filepath.Join(s.Dir(projectID, target, name), strconv.Itoa(z), strconv.Itoa(x), fmt.Sprintf("%d.%s", y, ext))
}

// Read returns the bytes of a cached tile, deleting and reporting it as
// missing (os.ErrNotExist) if it fails the invalid-tile checks of §4.2.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := s.validate(data); err != nil {
		_ = os.Remove(path)
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (s *Store) validate(data []byte) error {
	if len(data) == 0 {
		return errors.New("tilestore: empty tile")
	}
	if s.MinTileBytes > 0 && int64(len(data)) < s.MinTileBytes {
		return errors.New("tilestore: tile smaller than configured minimum")
	}
	if looksLikePNG(data) {
		return validatePNGStructure(data)
	}
	return nil
}

// Write atomically stores tile bytes at path, creating parent
// directories as needed.
func (s *Store) Write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("tilestore: mkdir: %w", err)
	}
	tmp := path + fmt.Sprintf(".tmp-%d", rand.Int63())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("tilestore: write temp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("tilestore: rename into place: %w", err)
	}
	return nil
}

// purgeBackoff is the retry schedule for the recursive remove step:
// exponential, up to 6 attempts.
var purgeBackoff = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
}

// DeleteTree removes an entire layer/theme cache directory. It first
// renames the directory aside (so a renderer process still closing file
// handles on the old name can't race a fresh render into the same path),
// then recursively removes the renamed directory, retrying transient
// failures with exponential backoff. If the rename itself fails (e.g.
// cross-device), it falls back to removing the directory in place under
// the same retry policy.
func (s *Store) DeleteTree(dir string) error {
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	purgeName := fmt.Sprintf("%s.__purge_%d_%d", dir, time.Now().UnixNano(), rand.Int63())
	target := dir
	if err := os.Rename(dir, purgeName); err == nil {
		target = purgeName
	}

	var lastErr error
	for attempt := 0; attempt < len(purgeBackoff); attempt++ {
		lastErr = os.RemoveAll(target)
		if lastErr == nil {
			return nil
		}
		if !isRetryableRemoveErr(lastErr) || attempt == len(purgeBackoff)-1 {
			break
		}
		time.Sleep(purgeBackoff[attempt])
	}
	return fmt.Errorf("tilestore: delete %s: %w", dir, lastErr)
}

// isRetryableRemoveErr reports whether err looks like one of
// ENOTEMPTY/EBUSY/EPERM/EACCES: transient conditions worth a retry rather
// than failing the delete outright.
func isRetryableRemoveErr(err error) bool {
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"not empty", "device or resource busy", "permission denied", "access is denied"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
