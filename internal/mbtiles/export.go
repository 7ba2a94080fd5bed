package mbtiles

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Export walks a cache directory laid out as <dir>/<z>/<x>/<y>.png (the
// tilestore layout of §4.2) and writes every tile it finds into a fresh
// MBTiles database at destPath, tagged with meta.
func Export(dir, destPath string, meta Metadata) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("mbtiles: export source %s: %w", dir, err)
	}

	writer, err := New(destPath, meta)
	if err != nil {
		return 0, fmt.Errorf("mbtiles: export: %w", err)
	}

	count := 0
	walkErr := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}

		z, x, y, ok := parseTileTriple(dir, path)
		if !ok {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("mbtiles: read tile %s: %w", path, err)
		}
		if err := writer.WriteTile(z, x, y, data); err != nil {
			return fmt.Errorf("mbtiles: write tile %d/%d/%d: %w", z, x, y, err)
		}
		count++
		return nil
	})
	if walkErr != nil {
		writer.Close() //nolint:errcheck
		return count, fmt.Errorf("mbtiles: export %s: %w", dir, walkErr)
	}

	if err := writer.Close(); err != nil {
		return count, fmt.Errorf("mbtiles: export: %w", err)
	}
	return count, nil
}

// parseTileTriple recovers z/x/y from a tile path relative to its cache
// root, e.g. <root>/7/41/49.png -> 7, 41, 49.
func parseTileTriple(root, path string) (z, x, y int, ok bool) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return 0, 0, 0, false
	}
	rel = filepath.ToSlash(rel)
	name := filepath.Base(rel)
	yStr := name[:len(name)-len(filepath.Ext(name))]
	xStr := filepath.Base(filepath.Dir(rel))
	zStr := filepath.Base(filepath.Dir(filepath.Dir(rel)))

	zi, err1 := strconv.Atoi(zStr)
	xi, err2 := strconv.Atoi(xStr)
	yi, err3 := strconv.Atoi(yStr)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, 0, 0, false
	}
	return zi, xi, yi, true
}
