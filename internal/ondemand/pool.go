package ondemand

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/projectmodel"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
)

// ErrPaused is returned while the global pause window (set by
// /on-demand/abort-all) is active.
var ErrPaused = errors.New("ondemand: renderer pool is paused")

// ErrSessionAborted is returned when the request's viewer session is in
// the aborted set.
var ErrSessionAborted = errors.New("ondemand: viewer session aborted")

// ErrAborted is returned to any waiter whose request was drained by a
// global abort before it started rendering.
var ErrAborted = errors.New("ondemand: request aborted")

// DefaultRecordThrottle is the default minimum spacing between on-demand metadata writes
// for the same (project, mode, name), default 5s (§4.7 step 3).
const DefaultRecordThrottle = 5 * time.Second

// Config configures the on-demand pool.
type Config struct {
	PoolSize       int
	RecordThrottle time.Duration
	NewWorker      func() (Worker, error)
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = 4
	}
	if c.RecordThrottle <= 0 {
		c.RecordThrottle = DefaultRecordThrottle
	}
	return c
}

type queuedRequest struct {
	req     Request
	waiters []chan Response
	queued  bool
}

// Pool is the persistent renderer worker pool of §4.7.
type Pool struct {
	cfg      Config
	store    *tilestore.Store
	index    *cacheindex.Store
	projects *projectconfig.Service
	log      *slog.Logger

	jobs    chan *queuedRequest
	workers []Worker

	mu            sync.Mutex
	inflight      map[string]*queuedRequest
	lastRecordAt  map[string]time.Time
	abortedSIDs   map[string]time.Time

	paused     atomic.Bool
	pauseUntil atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// NewPool starts cfg.PoolSize worker goroutines, each owning one
// persistent renderer process built by cfg.NewWorker.
func NewPool(cfg Config, store *tilestore.Store, index *cacheindex.Store, projects *projectconfig.Service, log *slog.Logger) (*Pool, error) {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	p := &Pool{
		cfg:          cfg,
		store:        store,
		index:        index,
		projects:     projects,
		log:          log,
		jobs:         make(chan *queuedRequest, 256),
		inflight:     map[string]*queuedRequest{},
		lastRecordAt: map[string]time.Time{},
		abortedSIDs:  map[string]time.Time{},
		done:         make(chan struct{}),
	}

	for i := 0; i < cfg.PoolSize; i++ {
		w, err := cfg.NewWorker()
		if err != nil {
			return nil, fmt.Errorf("ondemand: start worker %d: %w", i, err)
		}
		p.workers = append(p.workers, w)
		go p.runWorker(w)
	}

	return p, nil
}

// Submit implements queueTileRender (§4.7): pause/session checks,
// throttled metadata recording, dedup against in-flight requests, and
// queueing onto the pool.
func (p *Pool) Submit(ctx context.Context, req Request) (string, error) {
	if p.paused.Load() {
		if time.Now().Before(time.Unix(0, p.pauseUntil.Load())) {
			return "", ErrPaused
		}
		p.paused.Store(false)
	}

	if req.SessionID != "" {
		p.mu.Lock()
		expiry, aborted := p.abortedSIDs[req.SessionID]
		p.mu.Unlock()
		if aborted && time.Now().Before(expiry) {
			return "", ErrSessionAborted
		}
	}

	p.recordMetadata(req)

	key := req.dedupKey()
	result := make(chan Response, 1)

	p.mu.Lock()
	if existing, ok := p.inflight[key]; ok {
		existing.waiters = append(existing.waiters, result)
		p.mu.Unlock()
	} else {
		qr := &queuedRequest{req: req, waiters: []chan Response{result}}
		p.inflight[key] = qr
		p.mu.Unlock()
		select {
		case p.jobs <- qr:
		case <-ctx.Done():
			p.mu.Lock()
			delete(p.inflight, key)
			p.mu.Unlock()
			return "", ctx.Err()
		}
	}

	select {
	case resp := <-result:
		return resp.Path, resp.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// recordMetadata writes throttled on-demand progress into the cache
// index and project config (§4.7 step 3): at most once every
// RecordThrottle per (project, mode, name).
func (p *Pool) recordMetadata(req Request) {
	target := req.target()
	now := time.Now()

	p.mu.Lock()
	last, ok := p.lastRecordAt[target]
	if ok && now.Sub(last) < p.cfg.RecordThrottle {
		p.mu.Unlock()
		return
	}
	p.lastRecordAt[target] = now
	p.mu.Unlock()

	kind, name := cacheindex.KindLayer, req.Layer
	if req.Theme != "" {
		kind, name = cacheindex.KindTheme, req.Theme
	}

	if p.index != nil {
		_, err := p.index.Upsert(req.ProjectID, kind, name, func(e cacheindex.Entry) cacheindex.Entry {
			e.TileCRS = req.TileCRS
			e.Updated = now
			return e
		})
		if err != nil {
			p.log.Error("ondemand: index record failed", "project", req.ProjectID, "target", target, "err", err)
		}
	}

	if p.projects != nil {
		cfg, err := p.projects.Read(req.ProjectID)
		if err != nil {
			p.log.Error("ondemand: config read for record failed", "project", req.ProjectID, "err", err)
			return
		}
		apply := func(entry projectmodel.LayerEntry) projectmodel.LayerEntry {
			entry.LastRequestedAt = &now
			return entry
		}
		if kind == cacheindex.KindTheme {
			if cfg.Themes == nil {
				cfg.Themes = map[string]projectmodel.ThemeEntry{}
			}
			cfg.Themes[name] = apply(cfg.Themes[name])
		} else {
			if cfg.Layers == nil {
				cfg.Layers = map[string]projectmodel.LayerEntry{}
			}
			cfg.Layers[name] = apply(cfg.Layers[name])
		}
		if _, err := p.projects.Write(req.ProjectID, cfg, projectconfig.SkipReschedule()); err != nil {
			p.log.Error("ondemand: config record failed", "project", req.ProjectID, "err", err)
		}
	}
}

// runWorker drains jobs for one renderer process for the pool's
// lifetime, rendering each and fanning the result out to every waiter
// that deduped onto it.
func (p *Pool) runWorker(w Worker) {
	for {
		select {
		case <-p.done:
			return
		case qr, ok := <-p.jobs:
			if !ok {
				return
			}
			p.render(w, qr)
		}
	}
}

func (p *Pool) render(w Worker, qr *queuedRequest) {
	path, err := w.Render(qr.req)
	if err == nil && p.store != nil {
		if _, verifyErr := p.store.Read(path); verifyErr != nil {
			err = fmt.Errorf("ondemand: rendered tile failed validation: %w", verifyErr)
		}
	}

	p.mu.Lock()
	delete(p.inflight, qr.req.dedupKey())
	p.mu.Unlock()

	resp := Response{Path: path, Err: err}
	for _, waiter := range qr.waiters {
		waiter <- resp
	}
}

// Close signals the worker goroutines to stop; a worker exits once its
// current render returns. Submit does not check whether the pool is
// closed, and requests still queued at Close are not rendered.
func (p *Pool) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}
