package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/jobmanager"
	"github.com/MeKo-Tech/tilecache/internal/ondemand"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/schedule"
	"github.com/MeKo-Tech/tilecache/internal/tilemath"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
)

// DefaultTileCacheMaxAge is WMTS_TILE_CACHE_MAX_AGE_S's default (§6.3).
const DefaultTileCacheMaxAge = 3600 * time.Second

// Deps wires every subsystem the HTTP surface calls into. Fields left nil
// disable the routes that need them (useful in tests that only exercise
// one slice of the API).
type Deps struct {
	CacheRoot string
	BaseURL   string

	Projects *projectconfig.Service
	Index    *cacheindex.Store
	Jobs     *jobmanager.Manager
	Tiles    *tilestore.Store
	OnDemand *ondemand.Pool
	Engine   *schedule.Engine
	Batches  *schedule.BatchRegistry

	Presets    map[string]tilemath.Preset
	ProjectIDs func() []string

	TileCacheMaxAge time.Duration

	// AdminGuard wraps admin-only routes. The auth decision itself is an
	// external collaborator (§1 Non-goals); the default passes every
	// request through unchanged.
	AdminGuard func(http.Handler) http.Handler

	Log *slog.Logger
}

func (d Deps) adminGuard() func(http.Handler) http.Handler {
	if d.AdminGuard != nil {
		return d.AdminGuard
	}
	return func(next http.Handler) http.Handler { return next }
}

func (d Deps) maxAge() time.Duration {
	if d.TileCacheMaxAge > 0 {
		return d.TileCacheMaxAge
	}
	return DefaultTileCacheMaxAge
}

func (d Deps) logger() *slog.Logger {
	if d.Log != nil {
		return d.Log
	}
	return slog.Default()
}

func (d Deps) projectIDs() []string {
	if d.ProjectIDs == nil {
		return nil
	}
	return d.ProjectIDs()
}

func (d Deps) purger() *purger {
	return newPurger(d.Tiles, d.Index, d.Projects)
}

// New builds the full router of §6.2.
func New(deps Deps) http.Handler {
	h := &handler{deps: deps, purge: deps.purger()}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Viewer-Session"},
		AllowCredentials: false,
	}))

	admin := h.deps.adminGuard()

	r.Get("/projects", h.listProjects)
	r.Post("/projects", h.createProject) // external concern; see handler doc
	r.With(admin).Delete("/projects/{id}", h.deleteProject)
	r.Get("/projects/{id}/config", h.getProjectConfig)
	r.Patch("/projects/{id}/config", h.patchProjectConfig)
	r.Get("/projects/{id}/cache/project", h.getProjectBatch)
	r.Post("/projects/{id}/cache/project", h.postProjectBatch)

	r.Post("/generate-cache", h.postGenerateCache)
	r.Get("/generate-cache/running", h.getRunningJobs)
	r.Get("/generate-cache/{id}", h.getJob)
	r.Delete("/generate-cache/{id}", h.deleteJob)
	r.Post("/generate-cache/{id}/abort", h.abortJob)
	r.Delete("/generate-cache/abort-all/{project}", h.abortAllForProject)
	r.Delete("/generate-cache/abort-all/{project}/{layer}", h.abortAllForProject)
	r.With(admin).Get("/generate-cache/admin/orphans", h.listOrphans)
	r.With(admin).Post("/generate-cache/admin/orphans/{pid}/kill", h.killOrphan)
	r.With(admin).Post("/generate-cache/admin/{id}/diagnose", h.diagnoseJob)
	r.With(admin).Post("/admin/kill-pid", h.killPid)

	r.Get("/cache/{project}/index.json", h.getIndex)
	r.Patch("/cache/{project}/index.json", h.patchIndex)
	r.Delete("/cache/{project}", h.deleteProjectCache)
	r.Delete("/cache/{project}/{name}", h.deleteLayerCache)
	r.Post("/cache/{project}/{name}/export-mbtiles", h.exportMBTiles)

	r.Get("/wmts", h.wmtsKVP)
	r.Get("/wmts/rest/{projectKey}/{layerKey}/{styleId}/{setId}/{tileMatrix}/{tileRow}/{tileColExt}", h.wmtsREST)
	r.Get("/wmts/{project}/themes/{name}/{z}/{x}/{yExt}", h.wmtsLegacyTheme)
	r.Get("/wmts/{project}/{name}/{z}/{x}/{yExt}", h.wmtsLegacy)
	r.Get("/wms", h.wms)
	r.Get("/wfs", h.wfsStub)

	r.Post("/on-demand/abort", h.onDemandAbortSession)
	r.With(admin).Get("/on-demand/status", h.onDemandStatus)
	r.With(admin).Post("/on-demand/abort-all", h.onDemandAbortAll)
	r.Post("/viewer/abort", h.onDemandAbortSession)

	return r
}

type handler struct {
	deps  Deps
	purge *purger
}
