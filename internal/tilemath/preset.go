package tilemath

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/tilecache/internal/jsonstore"
)

// Preset describes a custom tile-grid definition loaded from
// config/tile-grids/<id>.json: an explicit origin, resolution list, and
// tile pixel size, used by layers whose TileMatrixPreset is set instead of
// relying on Web Mercator (§4.2, §4.8.1 "preset id otherwise").
type Preset struct {
	ID          string    `json:"id"`
	CRS         string    `json:"crs"`
	OriginX     float64   `json:"origin_x"`
	OriginY     float64   `json:"origin_y"`
	Resolutions []float64 `json:"resolutions"`
	TileWidth   int       `json:"tile_width"`
	TileHeight  int       `json:"tile_height"`
	MatrixWidth []int64   `json:"matrix_width,omitempty"`
	MatrixHeight []int64  `json:"matrix_height,omitempty"`
}

// ToMatrixSet converts a custom preset into a MatrixSet whose matrix
// identifiers are the preset's zero-based resolution indices.
func (p Preset) ToMatrixSet() MatrixSet {
	set := MatrixSet{ID: p.ID, CRS: p.CRS}
	for i, res := range p.Resolutions {
		mw, mh := int64(0), int64(0)
		if i < len(p.MatrixWidth) {
			mw = p.MatrixWidth[i]
		}
		if i < len(p.MatrixHeight) {
			mh = p.MatrixHeight[i]
		}
		set.Matrices = append(set.Matrices, Matrix{
			Identifier:       itoa(i),
			ScaleDenominator: res / 0.00028, // standard WMTS pixel size of 0.28mm
			MatrixWidth:      mw,
			MatrixHeight:     mh,
			TileWidth:        p.TileWidth,
			TileHeight:       p.TileHeight,
			TopLeftX:         p.OriginX,
			TopLeftY:         p.OriginY,
		})
	}
	return set
}

// TileBounds returns the native-CRS bounding box of tile (level, col, row)
// under this preset's resolution at the given level.
func (p Preset) TileBounds(level, col, row int64) [4]float64 {
	if level < 0 || level >= int64(len(p.Resolutions)) {
		return [4]float64{}
	}
	res := p.Resolutions[level]
	tileSpanX := res * float64(p.TileWidth)
	tileSpanY := res * float64(p.TileHeight)
	minX := p.OriginX + float64(col)*tileSpanX
	maxY := p.OriginY - float64(row)*tileSpanY
	maxX := minX + tileSpanX
	minY := maxY - tileSpanY
	return [4]float64{minX, minY, maxX, maxY}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ClosestLevel returns the level whose resolution is nearest targetRes,
// used by WMS GetMap (§4.8.5) to pick a matrix from a requested pixel
// resolution.
func (p Preset) ClosestLevel(targetRes float64) int {
	best := 0
	bestDist := math.MaxFloat64
	for i, res := range p.Resolutions {
		d := math.Abs(res - targetRes)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return best
}

// LoadPresets reads every `<id>.json` file under dir (config/tile-grids/,
// §6.4) as a Preset, keyed by its file-stem id. A missing directory is not
// an error — installs with no custom tile-matrix sets only ever resolve
// the built-in Web Mercator grid.
func LoadPresets(dir string) (map[string]Preset, error) {
	out := map[string]Preset{}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tilemath: read preset dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		var preset Preset
		if err := jsonstore.Read(filepath.Join(dir, entry.Name()), &preset); err != nil {
			return nil, fmt.Errorf("tilemath: load preset %s: %w", id, err)
		}
		if preset.ID == "" {
			preset.ID = id
		}
		out[id] = preset
	}
	return out, nil
}
