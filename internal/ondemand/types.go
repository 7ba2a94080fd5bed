// Package ondemand drives the persistent pool of external renderer
// workers that satisfy on-the-fly WMTS/WMS tile requests (§4.7), queueing
// duplicate in-flight requests onto a single render and supporting
// viewer-session and global abort.
package ondemand

import (
	"time"
)

// Request is one on-demand tile render request.
type Request struct {
	ProjectID        string
	OutputFile       string
	Z, X, Y          int
	Bbox             [4]float64
	TileCRS          string
	Layer            string
	Theme            string
	TileMatrixPreset string
	SessionID        string
}

// target returns the (project|mode|name) the request resolves to, used
// for throttled metadata recording.
func (r Request) target() string {
	name := r.Layer
	mode := "layer"
	if r.Theme != "" {
		name, mode = r.Theme, "theme"
	}
	return r.ProjectID + "|" + mode + "|" + name
}

// dedupKey identifies a single (project, target, tile) render; concurrent
// requests for the same tile share one render (§4.7 step 4).
func (r Request) dedupKey() string {
	name := r.Layer
	if r.Theme != "" {
		name = r.Theme
	}
	return r.ProjectID + "|" + name + "|" + itoa(r.Z) + "|" + itoa(r.X) + "|" + itoa(r.Y)
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

// Response is the outcome of a render.
type Response struct {
	Path string
	Err  error
}

// Worker is one external renderer process in the pool: it accepts a
// Request and blocks until the tile is on disk (or the render failed).
type Worker interface {
	Render(req Request) (string, error)
}

const abortedSessionTTL = 5 * time.Minute
