package ogc

import (
	"errors"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/tilemath"
)

// Resolution errors map directly onto the 400/404 outcomes of §4.8.2/.3.
var (
	ErrLayerNotFound  = errors.New("ogc: layer not found")
	ErrSetMismatch    = errors.New("ogc: tile matrix set mismatch")
	ErrNegativeIndex  = errors.New("ogc: negative tile index")
	ErrUnsupportedExt = errors.New("ogc: unsupported extension")
	ErrMatrixNotFound = errors.New("ogc: tile matrix not found")
	ErrOutOfBounds    = errors.New("ogc: tile index out of matrix bounds")
)

// ResolvedTile is the outcome of resolving a WMTS tile request against the
// inventory: the on-disk source coordinates and the cache file path.
type ResolvedTile struct {
	Layer       LayerRecord
	SourceLevel int
	Col, Row    int64
	FilePath    string
}

// ResolveREST implements the routing/validation steps of §4.8.2.
func ResolveREST(inv Inventory, cacheRoot, projectKey, layerKey, setID, tileMatrix string, tileRow, tileCol int64, ext string) (ResolvedTile, error) {
	if ext != "png" {
		return ResolvedTile{}, ErrUnsupportedExt
	}
	if tileRow < 0 || tileCol < 0 {
		return ResolvedTile{}, ErrNegativeIndex
	}
	layer, ok := inv.FindByProjectAndLayer(projectKey, layerKey)
	if !ok {
		return ResolvedTile{}, ErrLayerNotFound
	}
	if layer.TileMatrixSetID != setID {
		return ResolvedTile{}, ErrSetMismatch
	}
	set, ok := inv.MatrixSets[setID]
	if !ok {
		return ResolvedTile{}, ErrMatrixNotFound
	}
	return resolveAgainstSet(layer, set, tileMatrix, tileRow, tileCol, cacheRoot)
}

func resolveAgainstSet(layer LayerRecord, set tilemath.MatrixSet, tileMatrix string, row, col int64, cacheRoot string) (ResolvedTile, error) {
	m, ok := set.Find(tileMatrix)
	if !ok {
		return ResolvedTile{}, ErrMatrixNotFound
	}
	if col >= m.MatrixWidth || row >= m.MatrixHeight {
		return ResolvedTile{}, ErrOutOfBounds
	}
	level, ok := set.ZoomOf(m.Identifier)
	if !ok {
		level = 0
	}
	return ResolvedTile{
		Layer:       layer,
		SourceLevel: level,
		Col:         col,
		Row:         row,
		FilePath:    layerFilePath(cacheRoot, layer, level, col, row),
	}, nil
}

// layerFilePath builds cache/<project>/[_themes/]<layerName>/<z>/<x>/<y>.png
// (§4.8.2).
func layerFilePath(cacheRoot string, layer LayerRecord, z int, x, y int64) string {
	dir := layer.LayerName
	base := filepath.Join(cacheRoot, layer.ProjectID)
	if layer.Kind == "theme" {
		base = filepath.Join(base, "_themes")
	}
	return filepath.Join(base, dir, strconv.Itoa(z), strconv.FormatInt(x, 10), strconv.FormatInt(y, 10)+".png")
}

// ResolveKVP implements §4.8.3: LAYER lookup by identifier, layer name,
// layer key, or identifier suffix (FindByKVPName), TileMatrix
// normalization, nearest-matrix remap, and the TMS-origin row flip.
func ResolveKVP(inv Inventory, cacheRoot, layerName, tileMatrix string, tileRow, tileCol int64) (ResolvedTile, error) {
	layer, ok := inv.FindByKVPName(layerName)
	if !ok {
		return ResolvedTile{}, ErrLayerNotFound
	}
	set, ok := inv.MatrixSets[layer.TileMatrixSetID]
	if !ok {
		return ResolvedTile{}, ErrMatrixNotFound
	}

	norm := tileMatrix
	if idx := strings.LastIndex(norm, ":"); idx >= 0 {
		norm = norm[idx+1:]
	}

	m, ok := set.Find(norm)
	col, row := tileCol, tileRow
	if !ok {
		wantZoom, err := strconv.Atoi(norm)
		if err != nil {
			return ResolvedTile{}, ErrMatrixNotFound
		}
		nearest, ok2 := set.Nearest(wantZoom)
		if !ok2 {
			return ResolvedTile{}, ErrMatrixNotFound
		}
		targetZoom, _ := set.ZoomOf(nearest.Identifier)
		factor := tilemath.RemapFactor(wantZoom, targetZoom)
		col = int64(float64(col) * factor)
		row = int64(float64(row) * factor)
		m = nearest
	}

	if col >= m.MatrixWidth || row >= m.MatrixHeight {
		flipped := m.MatrixHeight - 1 - row
		if flipped < 0 || flipped >= m.MatrixHeight || col >= m.MatrixWidth {
			return ResolvedTile{}, ErrOutOfBounds
		}
		row = flipped
	}

	level, ok := set.ZoomOf(m.Identifier)
	if !ok {
		level = 0
	}
	return ResolvedTile{
		Layer:       layer,
		SourceLevel: level,
		Col:         col,
		Row:         row,
		FilePath:    layerFilePath(cacheRoot, layer, level, col, row),
	}, nil
}

// ResolveLegacy implements the direct path match of §4.8.4: a request made
// against the theme route that misses falls back to a layer of the same
// name (logged by the caller); a request made against the layer route
// never falls back to a theme.
func ResolveLegacy(inv Inventory, cacheRoot, projectKey, name string, isTheme bool, z, x, y int64) (ResolvedTile, bool, error) {
	wantKind := cacheindex.KindLayer
	if isTheme {
		wantKind = cacheindex.KindTheme
	}

	layer, ok := inv.FindByProjectAndLayerKind(projectKey, name, wantKind)
	fellBack := false
	if !ok && isTheme {
		layer, ok = inv.FindByProjectAndLayerKind(projectKey, name, cacheindex.KindLayer)
		fellBack = ok
	}
	if !ok {
		return ResolvedTile{}, false, ErrLayerNotFound
	}
	return ResolvedTile{
		Layer:       layer,
		SourceLevel: int(z),
		Col:         x,
		Row:         y,
		FilePath:    layerFilePath(cacheRoot, layer, int(z), x, y),
	}, fellBack, nil
}
