package ogc

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrGetMapUnsupportedFormat is returned when a GetMap request asks for
// anything but image/png (§4.8.5: "Only image/png is produced").
var ErrGetMapUnsupportedFormat = errors.New("ogc: unsupported GetMap format")

// GetMapRequest is the parsed query of a WMS GetMap call.
type GetMapRequest struct {
	Layers string
	Bbox   [4]float64
	Width  int
	Height int
	CRS    string
	Format string
}

// ResolveGetMap identifies the target layer from LAYERS (falling back to
// normalized matches), picks the matrix whose resolution is closest to the
// requested pixel density, computes the (z,x,y) of the bbox center clamped
// to matrix bounds, and returns the WMTS REST tile URL to redirect to
// (§4.8.5).
func ResolveGetMap(inv Inventory, req GetMapRequest, baseURL string) (string, error) {
	if req.Format != "" && req.Format != "image/png" {
		return "", ErrGetMapUnsupportedFormat
	}

	layerName := req.Layers
	if idx := strings.IndexByte(layerName, ','); idx >= 0 {
		layerName = layerName[:idx]
	}

	layer, ok := inv.Find(layerName)
	if !ok {
		layer, ok = inv.FindByKVPName(layerName)
	}
	if !ok {
		return "", ErrLayerNotFound
	}

	set, ok := inv.MatrixSets[layer.TileMatrixSetID]
	if !ok {
		return "", ErrMatrixNotFound
	}

	bboxW := req.Bbox[2] - req.Bbox[0]
	bboxH := req.Bbox[3] - req.Bbox[1]
	if req.Width <= 0 {
		req.Width = 1
	}
	if req.Height <= 0 {
		req.Height = 1
	}
	targetRes := math.Max(bboxW/float64(req.Width), bboxH/float64(req.Height))

	best := set.Matrices[0]
	bestDist := math.MaxFloat64
	for _, m := range set.Matrices {
		res := scaleDenomToResolution(m.ScaleDenominator)
		d := math.Abs(res - targetRes)
		if d < bestDist {
			bestDist = d
			best = m
		}
	}

	centerX := (req.Bbox[0] + req.Bbox[2]) / 2
	centerY := (req.Bbox[1] + req.Bbox[3]) / 2

	res := scaleDenomToResolution(best.ScaleDenominator)
	tileSpanX := res * float64(best.TileWidth)
	tileSpanY := res * float64(best.TileHeight)

	col := int64((centerX - best.TopLeftX) / tileSpanX)
	row := int64((best.TopLeftY - centerY) / tileSpanY)
	col = clampInt64(col, 0, best.MatrixWidth-1)
	row = clampInt64(row, 0, best.MatrixHeight-1)

	return fmt.Sprintf("%s/wmts/rest/%s/%s/default/%s/%s/%d/%d.png",
		baseURL, layer.ProjectKey, layer.LayerKey, layer.TileMatrixSetID, best.Identifier, row, col), nil
}

func scaleDenomToResolution(scaleDenom float64) float64 {
	return scaleDenom * 0.00028
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
