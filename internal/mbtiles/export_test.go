package mbtiles

import (
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestExport_WalksTileTree(t *testing.T) {
	srcDir := t.TempDir()

	writeTile := func(z, x, y int) {
		dir := filepath.Join(srcDir, strconv.Itoa(z), strconv.Itoa(x))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		path := filepath.Join(dir, strconv.Itoa(y)+".png")
		if err := os.WriteFile(path, []byte("fake png"), 0o644); err != nil {
			t.Fatalf("write tile: %v", err)
		}
	}
	writeTile(5, 10, 11)
	writeTile(5, 10, 12)
	writeTile(6, 20, 22)

	destPath := filepath.Join(t.TempDir(), "export.mbtiles")
	meta := Metadata{Name: "orto/roads", Format: "png", MinZoom: 5, MaxZoom: 6}

	count, err := Export(srcDir, destPath, meta)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 tiles exported, got %d", count)
	}

	db, err := sql.Open("sqlite", destPath)
	if err != nil {
		t.Fatalf("open exported db: %v", err)
	}
	defer db.Close()

	var tiles int
	if err := db.QueryRow("SELECT COUNT(*) FROM tiles").Scan(&tiles); err != nil {
		t.Fatalf("query tiles: %v", err)
	}
	if tiles != 3 {
		t.Errorf("expected 3 rows in tiles table, got %d", tiles)
	}

	var name string
	if err := db.QueryRow("SELECT value FROM metadata WHERE name='name'").Scan(&name); err != nil {
		t.Fatalf("query metadata: %v", err)
	}
	if name != "orto/roads" {
		t.Errorf("expected metadata name %q, got %q", "orto/roads", name)
	}
}

func TestExport_MissingSourceDir(t *testing.T) {
	destPath := filepath.Join(t.TempDir(), "export.mbtiles")
	_, err := Export(filepath.Join(t.TempDir(), "does-not-exist"), destPath, Metadata{})
	if err == nil {
		t.Fatal("expected error for missing source directory")
	}
}
