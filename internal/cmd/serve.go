package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/clustersup"
	"github.com/MeKo-Tech/tilecache/internal/httpapi"
	"github.com/MeKo-Tech/tilecache/internal/jobmanager"
	"github.com/MeKo-Tech/tilecache/internal/ondemand"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/sanitize"
	"github.com/MeKo-Tech/tilecache/internal/schedule"
	"github.com/MeKo-Tech/tilecache/internal/tilemath"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server: tile cache, OGC endpoints, job manager, and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "127.0.0.1:8080", "Listen address (host:port)")
	serveCmd.Flags().String("base-url", "", "Public base URL used in OGC capability documents (defaults to http://<addr>)")
	serveCmd.Flags().String("cache-root", "cache", "Root directory of per-project tile caches (cache/<id>/...)")
	serveCmd.Flags().String("data-root", "data", "Root directory for process-crash-recovery state (data/job-pids/...)")
	serveCmd.Flags().String("logs-root", "logs", "Root directory for per-project event logs (§6.4 logs/project-<id>.log)")
	serveCmd.Flags().String("presets-dir", filepath.Join("config", "tile-grids"), "Directory of tile-matrix-set preset JSON files")
	serveCmd.Flags().String("renderer-path", "", "Path to the external batch renderer invoked by generate-cache jobs (§6.1)")
	serveCmd.Flags().String("on-demand-renderer-path", "", "Path to the persistent single-tile renderer worker binary (§4.7); if empty, on-demand rendering is disabled")
	serveCmd.Flags().Bool("cluster", false, "Fork WORKER_COUNT worker processes sharing one listener (§4.9)")

	mustBind := func(key, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}
	mustBind("serve.addr", "addr")
	mustBind("serve.base_url", "base-url")
	mustBind("serve.cache_root", "cache-root")
	mustBind("serve.data_root", "data-root")
	mustBind("serve.logs_root", "logs-root")
	mustBind("serve.presets_dir", "presets-dir")
	mustBind("serve.renderer_path", "renderer-path")
	mustBind("serve.on_demand_renderer_path", "on-demand-renderer-path")
	mustBind("serve.cluster", "cluster")

	// §6.3's recognized environment variables, bound by their documented
	// bare names rather than the TILECACHE_ prefix initConfig sets up for
	// everything else: these are the renderer/operator-facing knobs the
	// spec names explicitly, so they keep working unprefixed.
	bindEnv := func(key, env string) {
		if err := viper.BindEnv(key, env); err != nil {
			panic(fmt.Sprintf("failed to bind env %s: %v", env, err))
		}
	}
	bindEnv("env.job_max", "JOB_MAX")
	bindEnv("env.job_ttl_ms", "JOB_TTL_MS")
	bindEnv("env.abort_grace_ms", "ABORT_GRACE_MS")
	bindEnv("env.progress_config_interval_ms", "PROGRESS_CONFIG_INTERVAL_MS")
	bindEnv("env.index_flush_interval_ms", "INDEX_FLUSH_INTERVAL_MS")
	bindEnv("env.schedule_heartbeat_interval_ms", "SCHEDULE_HEARTBEAT_INTERVAL_MS")
	bindEnv("env.schedule_overdue_grace_ms", "SCHEDULE_OVERDUE_GRACE_MS")
	bindEnv("env.project_batch_ttl_ms", "PROJECT_BATCH_TTL_MS")
	bindEnv("env.wmts_tile_cache_max_age_s", "WMTS_TILE_CACHE_MAX_AGE_S")
	bindEnv("env.min_tile_bytes", "MIN_TILE_BYTES")
	bindEnv("env.on_demand_record_throttle_ms", "ON_DEMAND_RECORD_THROTTLE_MS")
	bindEnv("env.py_worker_pool_size", "PY_WORKER_POOL_SIZE")
	bindEnv("env.worker_count", "WORKER_COUNT")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	addr := viper.GetString("serve.addr")
	cacheRoot := viper.GetString("serve.cache_root")
	dataRoot := viper.GetString("serve.data_root")
	logsRoot := viper.GetString("serve.logs_root")
	presetsDir := viper.GetString("serve.presets_dir")
	baseURL := viper.GetString("serve.base_url")
	if baseURL == "" {
		baseURL = "http://" + addr
	}

	if clustersup.IsWorker() {
		return serveWorker(cacheRoot, dataRoot, logsRoot, presetsDir, baseURL)
	}

	if viper.GetBool("serve.cluster") {
		return serveCluster(addr)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", addr, err)
	}
	return serveOn(listener, cacheRoot, dataRoot, logsRoot, presetsDir, baseURL)
}

// serveCluster starts the clustering supervisor of §4.9 instead of
// serving directly: the primary process binds the listener, forks
// WORKER_COUNT copies of this same binary (each re-entering runServe as
// a worker via clustersup.IsWorker), and restarts them on exit or over
// their memory budget.
func serveCluster(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", addr, err)
	}

	workerCount := intEnv("env.worker_count", runtime.NumCPU())
	sup := clustersup.NewSupervisor(workerCount, listener, logger)
	logger.Info("clustering supervisor starting", "addr", addr, "workers", workerCount)
	return sup.Run(context.Background())
}

// serveWorker is the re-exec'd path: it answers the supervisor's control
// channel on stdin/stdout while serving HTTP on the inherited listener.
func serveWorker(cacheRoot, dataRoot, logsRoot, presetsDir, baseURL string) error {
	listener, err := clustersup.InheritedListener()
	if err != nil {
		return err
	}
	clustersup.RunWorker(context.Background(), logger)
	logger.Info("cluster worker started", "index", clustersup.WorkerIndex())
	return serveOn(listener, cacheRoot, dataRoot, logsRoot, presetsDir, baseURL)
}

// serveOn wires every subsystem of §4 together and serves the HTTP
// surface of §6.2 on listener until the process exits.
func serveOn(listener net.Listener, cacheRoot, dataRoot, logsRoot, presetsDir, baseURL string) error {
	presets, err := tilemath.LoadPresets(presetsDir)
	if err != nil {
		return fmt.Errorf("serve: load tile-matrix presets: %w", err)
	}

	// projectconfig.Service and schedule.Engine reference each other
	// (Service notifies Engine on every write; Engine reads through
	// Service to compute batches and purge stale caches), so the
	// rescheduler is handed to the service as an indirection that is
	// only pointed at the real engine once both exist.
	resched := &reschedulerHandle{}
	projects := projectconfig.New(cacheRoot, resched, schedule.NextRun)

	index := cacheindex.NewStore(cacheRoot)
	tiles := tilestore.New(cacheRoot)
	tiles.MinTileBytes = int64(intEnv("env.min_tile_bytes", 0))

	projectIDs := func() []string { return listProjectIDs(cacheRoot) }

	purgeFn := httpapi.NewPurgeFunc(tiles, index, projects)

	runner := &schedule.HTTPJobRunner{BaseURL: baseURL}

	batches := schedule.NewBatchRegistry(runner, purgeFn, logger).
		WithTTL(durationMsEnv("env.project_batch_ttl_ms", schedule.DefaultBatchTTL))

	engineCfg := schedule.Config{
		HeartbeatInterval: durationMsEnv("env.schedule_heartbeat_interval_ms", schedule.DefaultHeartbeatInterval),
		OverdueGrace:      durationMsEnv("env.schedule_overdue_grace_ms", schedule.DefaultOverdueGrace),
	}
	engine := schedule.New(engineCfg, projects, runner, purgeFn, batches, projectIDs, logger)
	resched.set(engine)

	jobCfg := jobmanager.DefaultConfig()
	jobCfg.RendererPath = viper.GetString("serve.renderer_path")
	jobCfg.PidDir = filepath.Join(dataRoot, "job-pids")
	jobCfg.LogsRoot = logsRoot
	jobCfg.JobMax = intEnv("env.job_max", jobCfg.JobMax)
	jobCfg.JobTTL = durationMsEnv("env.job_ttl_ms", jobCfg.JobTTL)
	jobCfg.IndexFlushInterval = durationMsEnv("env.index_flush_interval_ms", jobCfg.IndexFlushInterval)
	jobCfg.ConfigFlushInterval = durationMsEnv("env.progress_config_interval_ms", jobCfg.ConfigFlushInterval)
	jobCfg.AbortGrace = durationMsEnv("env.abort_grace_ms", jobCfg.AbortGrace)
	jobs := jobmanager.New(jobCfg, index, projects, tiles, logger)

	var pool *ondemand.Pool
	rendererPath := viper.GetString("serve.on_demand_renderer_path")
	if rendererPath != "" {
		odCfg := ondemand.Config{
			PoolSize:       intEnv("env.py_worker_pool_size", 4),
			RecordThrottle: durationMsEnv("env.on_demand_record_throttle_ms", ondemand.DefaultRecordThrottle),
			NewWorker:      func() (ondemand.Worker, error) { return ondemand.NewProcessWorker(rendererPath) },
		}
		pool, err = ondemand.NewPool(odCfg, tiles, index, projects, logger)
		if err != nil {
			return fmt.Errorf("serve: start on-demand renderer pool: %w", err)
		}
	} else {
		logger.Warn("serve: --on-demand-renderer-path not set, on-demand tile rendering is disabled")
	}

	for _, id := range projectIDs() {
		engine.Reschedule(id)
	}
	stopHeartbeat := engine.StartHeartbeat()
	defer stopHeartbeat()

	deps := httpapi.Deps{
		CacheRoot:       cacheRoot,
		BaseURL:         baseURL,
		Projects:        projects,
		Index:           index,
		Jobs:            jobs,
		Tiles:           tiles,
		OnDemand:        pool,
		Engine:          engine,
		Batches:         batches,
		Presets:         presets,
		ProjectIDs:      projectIDs,
		TileCacheMaxAge: durationSecEnv("env.wmts_tile_cache_max_age_s", httpapi.DefaultTileCacheMaxAge),
		Log:             logger,
	}

	handler := httpapi.New(deps)
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	logger.Info("tilecache server listening", "addr", listener.Addr().String(), "cache_root", cacheRoot, "base_url", baseURL)
	return srv.Serve(listener)
}

// listProjectIDs discovers every project with a cache directory already
// bootstrapped under cacheRoot (§6.2 GET /projects: "what has a cache
// directory bootstrapped under it").
func listProjectIDs(cacheRoot string) []string {
	entries, err := os.ReadDir(cacheRoot)
	if err != nil {
		return nil
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() != sanitize.ProjectID(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids
}

// reschedulerHandle breaks the projectconfig.Service <-> schedule.Engine
// construction cycle: the service is built first with this handle as its
// Rescheduler, then set() points it at the engine once the engine exists.
type reschedulerHandle struct {
	engine *schedule.Engine
}

func (h *reschedulerHandle) set(e *schedule.Engine) { h.engine = e }

func (h *reschedulerHandle) Reschedule(projectID string) {
	if h.engine != nil {
		h.engine.Reschedule(projectID)
	}
}

func intEnv(key string, def int) int {
	if viper.IsSet(key) {
		if v := viper.GetInt(key); v != 0 {
			return v
		}
	}
	return def
}

func durationMsEnv(key string, def time.Duration) time.Duration {
	if viper.IsSet(key) {
		if v := viper.GetInt(key); v > 0 {
			return time.Duration(v) * time.Millisecond
		}
	}
	return def
}

func durationSecEnv(key string, def time.Duration) time.Duration {
	if viper.IsSet(key) {
		if v := viper.GetInt(key); v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return def
}
