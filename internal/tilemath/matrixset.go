// Package tilemath builds on internal/tile's Web Mercator coordinate math to
// add the WMTS TileMatrixSet normalization and KVP remapping logic of §4.8.
package tilemath

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/tilecache/internal/tile"
)

// Matrix is one zoom level of a TileMatrixSet: a deterministic identifier,
// scale denominator, matrix dimensions in tiles, tile pixel dimensions, and
// the top-left corner in (x, y) order regardless of the set's native axis
// order (§4.8.1).
type Matrix struct {
	Identifier       string
	ScaleDenominator float64
	MatrixWidth      int64
	MatrixHeight     int64
	TileWidth        int
	TileHeight       int
	TopLeftX         float64
	TopLeftY         float64
}

// MatrixSet is a named, ordered collection of Matrix levels plus the CRS
// URN it is defined against.
type MatrixSet struct {
	ID       string
	CRS      string
	Matrices []Matrix
}

// webMercatorScaleDenominator is the canonical WMTS scale denominator for
// Web Mercator zoom level z: 559082264.0287178 / 2^z (§4.8.1).
func webMercatorScaleDenominator(z int) float64 {
	return 559082264.0287178 / math.Pow(2, float64(z))
}

const (
	webMercatorOriginX = -20037508.342789244
	webMercatorOriginY = 20037508.342789244
)

// BuildEPSG3857 builds the global EPSG:3857 matrix set spanning zoom levels
// 0..maxZoom inclusive with canonical scale denominators (§4.8.1).
func BuildEPSG3857(maxZoom int) MatrixSet {
	set := MatrixSet{ID: "EPSG_3857", CRS: "urn:ogc:def:crs:EPSG::3857"}
	for z := 0; z <= maxZoom; z++ {
		dim := int64(1) << uint(z)
		set.Matrices = append(set.Matrices, Matrix{
			Identifier:       fmt.Sprintf("%d", z),
			ScaleDenominator: webMercatorScaleDenominator(z),
			MatrixWidth:      dim,
			MatrixHeight:     dim,
			TileWidth:        256,
			TileHeight:       256,
			TopLeftX:         webMercatorOriginX,
			TopLeftY:         webMercatorOriginY,
		})
	}
	return set
}

// Find returns the matrix with the given identifier.
func (s MatrixSet) Find(identifier string) (Matrix, bool) {
	for _, m := range s.Matrices {
		if m.Identifier == identifier {
			return m, true
		}
	}
	return Matrix{}, false
}

// ZoomOf returns the integer zoom level implied by a matrix identifier in
// the EPSG_3857 set, where identifiers are simply the zoom as a string.
func (s MatrixSet) ZoomOf(identifier string) (int, bool) {
	var z int
	if _, err := fmt.Sscanf(identifier, "%d", &z); err != nil {
		return 0, false
	}
	if z < 0 || z >= len(s.Matrices) {
		return 0, false
	}
	return z, true
}

// Nearest returns the matrix in s whose identifier, parsed as a zoom level,
// is closest to want (§4.8.3 KVP remap when the requested matrix is
// missing but a numeric zoom is given).
func (s MatrixSet) Nearest(want int) (Matrix, bool) {
	best := -1
	bestDist := -1
	for i, m := range s.Matrices {
		z, ok := s.ZoomOf(m.Identifier)
		if !ok {
			continue
		}
		d := z - want
		if d < 0 {
			d = -d
		}
		if bestDist == -1 || d < bestDist {
			bestDist = d
			best = i
		}
	}
	if best == -1 {
		return Matrix{}, false
	}
	return s.Matrices[best], true
}

// RemapFactor returns 2^(target-requested), the column/row scaling factor
// used when a KVP GetTile request names a zoom the matrix set doesn't have
// and the nearest available matrix is substituted (§4.8.3).
func RemapFactor(requestedZoom, targetZoom int) float64 {
	return math.Pow(2, float64(targetZoom-requestedZoom))
}

// TileBoundsWGS84 returns the WGS84 bounding box of tile (z,x,y) using the
// shared Web Mercator tile math.
func TileBoundsWGS84(z, x, y uint32) [4]float64 {
	return tile.NewCoords(z, x, y).Bounds()
}

// TileBoundsMercator returns the Web Mercator bounding box of tile (z,x,y).
func TileBoundsMercator(z, x, y uint32) [4]float64 {
	return tile.NewCoords(z, x, y).BoundsMercator()
}
