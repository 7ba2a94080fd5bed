package httpapi

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/mbtiles"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
)

// exportMBTiles implements POST /cache/:project/:name/export-mbtiles,
// packaging a layer or theme's already-rendered tiles into a standalone
// MBTiles database the caller can download, without touching the index or
// the live cache directory it reads from.
func (h *handler) exportMBTiles(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "name")

	if h.deps.Index == nil || h.deps.Tiles == nil {
		writeError(w, http.StatusInternalServerError, "write_failed", "cache stores unavailable")
		return
	}

	idx, err := h.deps.Index.Load(project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	entry, found := idx.Find(cacheindex.KindLayer, name)
	if !found {
		entry, found = idx.Find(cacheindex.KindTheme, name)
	}
	if !found {
		writeError(w, http.StatusNotFound, "not_found", "layer or theme not cached")
		return
	}
	if !entry.CacheExists {
		writeError(w, http.StatusNotFound, "not_found", "layer or theme has no on-disk cache")
		return
	}

	target := tilestore.TargetLayer
	if entry.Kind == cacheindex.KindTheme {
		target = tilestore.TargetTheme
	}
	srcDir := h.deps.Tiles.Dir(project, target, name)

	tmpDir, err := os.MkdirTemp("", "tilecache-export-*")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	defer os.RemoveAll(tmpDir)

	destPath := filepath.Join(tmpDir, name+".mbtiles")
	meta := mbtiles.Metadata{
		Name:    project + "/" + name,
		Format:  "png",
		Type:    "baselayer",
		MinZoom: entry.ZoomMin,
		MaxZoom: entry.ZoomMax,
	}
	if entry.Extent != nil {
		meta.Bounds = *entry.Extent
	}

	count, err := mbtiles.Export(srcDir, destPath, meta)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "export_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-sqlite3")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+name+".mbtiles\"")
	http.ServeFile(w, r, destPath)
	h.deps.logger().Info("exported mbtiles", "project", project, "name", name, "tiles", count)
}
