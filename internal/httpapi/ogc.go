package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MeKo-Tech/tilecache/internal/ogc"
)

// buildInventory is called once per request rather than cached: a project
// config edit or a fresh render can change the servable set between
// requests, and the index load itself is already a bounded worker-pool
// fan-out (internal/worker), not a sequential scan.
func (h *handler) buildInventory() (ogc.Inventory, error) {
	return ogc.BuildInventory(h.deps.Index, h.deps.Projects, h.deps.projectIDs(), h.deps.Presets)
}

func (h *handler) serveResolved(w http.ResponseWriter, r *http.Request, tile ogc.ResolvedTile) {
	data, err := h.deps.Tiles.Read(tile.FilePath)
	if err != nil {
		writeError(w, http.StatusNotFound, "tile_not_found", tile.FilePath)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(h.deps.maxAge()/time.Second)))
	_, _ = w.Write(data)
}

func ogcStatus(err error) int {
	switch {
	case errors.Is(err, ogc.ErrLayerNotFound), errors.Is(err, ogc.ErrMatrixNotFound):
		return http.StatusNotFound
	case errors.Is(err, ogc.ErrOutOfBounds):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

// wmtsKVP implements GET /wmts (§4.8.3): KVP-style GetCapabilities and
// GetTile, dispatched on the REQUEST query parameter.
func (h *handler) wmtsKVP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := func(key string) string {
		for k, v := range q {
			if strings.EqualFold(k, key) && len(v) > 0 {
				return v[0]
			}
		}
		return ""
	}
	request := strings.ToUpper(param("REQUEST"))

	inv, err := h.buildInventory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	switch request {
	case "GETCAPABILITIES", "":
		h.writeWMTSCapabilities(w, inv)
	case "GETTILE":
		layer := param("LAYER")
		tileMatrix := param("TILEMATRIX")
		row, err1 := strconv.ParseInt(param("TILEROW"), 10, 64)
		col, err2 := strconv.ParseInt(param("TILECOL"), 10, 64)
		if layer == "" || tileMatrix == "" || err1 != nil || err2 != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "LAYER, TILEMATRIX, TILEROW, and TILECOL are required")
			return
		}
		tile, err := ogc.ResolveKVP(inv, h.deps.CacheRoot, layer, tileMatrix, row, col)
		if err != nil {
			writeError(w, ogcStatus(err), "tile_not_found", err.Error())
			return
		}
		h.serveResolved(w, r, tile)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported REQUEST value")
	}
}

func (h *handler) writeWMTSCapabilities(w http.ResponseWriter, inv ogc.Inventory) {
	doc, err := ogc.BuildWMTSCapabilities(inv, h.deps.BaseURL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(doc)
}

// splitExt splits a chi path segment like "5.png" on its last dot; chi
// doesn't treat a trailing extension as a separate capture group the way
// some routers do, so routes that end in an image extension combine the
// numeric value and the extension into one segment for the handler to
// split.
func splitExt(combined string) (value, ext string) {
	idx := strings.LastIndexByte(combined, '.')
	if idx < 0 {
		return combined, ""
	}
	return combined[:idx], combined[idx+1:]
}

// wmtsREST implements GET /wmts/rest/... (§4.8.2).
func (h *handler) wmtsREST(w http.ResponseWriter, r *http.Request) {
	projectKey := chi.URLParam(r, "projectKey")
	layerKey := chi.URLParam(r, "layerKey")
	setID := chi.URLParam(r, "setId")
	tileMatrix := chi.URLParam(r, "tileMatrix")
	rowStr := chi.URLParam(r, "tileRow")
	colExt := chi.URLParam(r, "tileColExt")

	colStr, ext := splitExt(colExt)
	row, err1 := strconv.ParseInt(rowStr, 10, 64)
	col, err2 := strconv.ParseInt(colStr, 10, 64)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "tileRow and tileCol must be integers")
		return
	}

	inv, err := h.buildInventory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	tile, err := ogc.ResolveREST(inv, h.deps.CacheRoot, projectKey, layerKey, setID, tileMatrix, row, col, ext)
	if err != nil {
		writeError(w, ogcStatus(err), "tile_not_found", err.Error())
		return
	}
	h.serveResolved(w, r, tile)
}

func (h *handler) wmtsLegacy(w http.ResponseWriter, r *http.Request) {
	h.serveLegacy(w, r, false)
}

func (h *handler) wmtsLegacyTheme(w http.ResponseWriter, r *http.Request) {
	h.serveLegacy(w, r, true)
}

// serveLegacy implements §4.8.4: the pre-WMTS direct path layout
// /wmts/:project/[themes/]:name/:z/:x/:y.png, kept for viewer clients that
// predate the REST endpoint.
func (h *handler) serveLegacy(w http.ResponseWriter, r *http.Request, isTheme bool) {
	project := chi.URLParam(r, "project")
	name := chi.URLParam(r, "name")
	z, err1 := strconv.ParseInt(chi.URLParam(r, "z"), 10, 64)
	x, err2 := strconv.ParseInt(chi.URLParam(r, "x"), 10, 64)
	yStr, ext := splitExt(chi.URLParam(r, "yExt"))
	y, err3 := strconv.ParseInt(yStr, 10, 64)
	if err1 != nil || err2 != nil || err3 != nil || ext != "png" {
		writeError(w, http.StatusBadRequest, "invalid_request", "z, x, and y must be integers with a .png extension")
		return
	}

	inv, err := h.buildInventory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	tile, fellBack, err := ogc.ResolveLegacy(inv, h.deps.CacheRoot, project, name, isTheme, z, x, y)
	if err != nil {
		writeError(w, ogcStatus(err), "tile_not_found", err.Error())
		return
	}
	if fellBack {
		h.deps.logger().Debug("ogc: legacy theme route fell back to layer", "project", project, "name", name)
	}
	h.serveResolved(w, r, tile)
}

// wms implements GET /wms (§4.8.5): GetCapabilities, or a GetMap redirect
// to the equivalent WMTS REST tile.
func (h *handler) wms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	request := strings.ToUpper(q.Get("REQUEST"))

	inv, err := h.buildInventory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return
	}

	switch request {
	case "GETCAPABILITIES", "":
		doc, err := ogc.BuildWMSCapabilities(inv, h.deps.BaseURL)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write(doc)
	case "GETMAP":
		req, err := parseGetMapRequest(q)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		target, err := ogc.ResolveGetMap(inv, req, h.deps.BaseURL)
		if err != nil {
			writeError(w, ogcStatus(err), "tile_not_found", err.Error())
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	default:
		writeError(w, http.StatusBadRequest, "invalid_request", "unsupported REQUEST value")
	}
}

func parseGetMapRequest(q map[string][]string) (ogc.GetMapRequest, error) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	bboxParts := strings.Split(get("BBOX"), ",")
	if len(bboxParts) != 4 {
		return ogc.GetMapRequest{}, errors.New("BBOX must have 4 comma-separated values")
	}
	var bbox [4]float64
	for i, p := range bboxParts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return ogc.GetMapRequest{}, errors.New("BBOX values must be numeric")
		}
		bbox[i] = v
	}
	width, _ := strconv.Atoi(get("WIDTH"))
	height, _ := strconv.Atoi(get("HEIGHT"))
	return ogc.GetMapRequest{
		Layers: get("LAYERS"),
		Bbox:   bbox,
		Width:  width,
		Height: height,
		CRS:    get("CRS"),
		Format: get("FORMAT"),
	}, nil
}

// wfsStub implements GET /wfs: the spec scopes WFS out as a feature service
// (§1 Non-goals); every request, GetCapabilities included, gets a 501
// wfs_not_implemented error body, so a client that speaks plain OGC
// discovery doesn't see a bare 404 on a route this server otherwise
// advertises.
func (h *handler) wfsStub(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotImplemented, "wfs_not_implemented", "feature querying is not served by this cache")
}
