package ondemand

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/tilecache/internal/cacheindex"
	"github.com/MeKo-Tech/tilecache/internal/projectconfig"
	"github.com/MeKo-Tech/tilecache/internal/tilestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingWorker struct {
	calls   atomic.Int32
	release chan struct{}
	path    string
	err     error
}

func (w *blockingWorker) Render(req Request) (string, error) {
	w.calls.Add(1)
	if w.release != nil {
		<-w.release
	}
	return w.path, w.err
}

func newTestPool(t *testing.T, poolSize int, mkWorker func() Worker) *Pool {
	t.Helper()
	root := t.TempDir()
	store := tilestore.New(root)
	index := cacheindex.NewStore(root)
	projects := projectconfig.New(root, nil, nil)

	pool, err := NewPool(Config{
		PoolSize:  poolSize,
		NewWorker: func() (Worker, error) { return mkWorker(), nil },
	}, store, index, projects, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestSubmitDedupsConcurrentRequestsForSameTile(t *testing.T) {
	w := &blockingWorker{release: make(chan struct{}), path: "/cache/orto/parcels/4/9/6.png"}
	pool := newTestPool(t, 1, func() Worker { return w })

	req := Request{ProjectID: "orto", Layer: "parcels", Z: 4, X: 9, Y: 6}

	type result struct {
		path string
		err  error
	}
	results := make(chan result, 2)
	go func() {
		path, err := pool.Submit(context.Background(), req)
		results <- result{path, err}
	}()
	time.Sleep(20 * time.Millisecond) // let the first request register before the dedup'd one arrives
	go func() {
		path, err := pool.Submit(context.Background(), req)
		results <- result{path, err}
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), w.calls.Load(), "two dedup'd requests must only render once")
	close(w.release)

	for i := 0; i < 2; i++ {
		<-results
	}
}

func TestSubmitRejectsDuringGlobalPause(t *testing.T) {
	w := &blockingWorker{path: "/tmp/x.png"}
	pool := newTestPool(t, 1, func() Worker { return w })

	pool.AbortAll(time.Minute)

	_, err := pool.Submit(context.Background(), Request{ProjectID: "orto", Layer: "parcels"})
	assert.ErrorIs(t, err, ErrPaused)
}

func TestSubmitRejectsAbortedSession(t *testing.T) {
	w := &blockingWorker{path: "/tmp/x.png"}
	pool := newTestPool(t, 1, func() Worker { return w })

	pool.AbortSession("sid-1")

	_, err := pool.Submit(context.Background(), Request{ProjectID: "orto", Layer: "parcels", SessionID: "sid-1"})
	assert.ErrorIs(t, err, ErrSessionAborted)
}

func TestRecordMetadataIsThrottled(t *testing.T) {
	w := &blockingWorker{path: "/tmp/x.png"}
	pool := newTestPool(t, 1, func() Worker { return w })
	pool.cfg.RecordThrottle = time.Hour

	req := Request{ProjectID: "orto", Layer: "parcels", Z: 1, X: 0, Y: 0}
	pool.recordMetadata(req)

	cfg, err := pool.projects.Read("orto")
	require.NoError(t, err)
	first := cfg.Layers["parcels"].LastRequestedAt
	require.NotNil(t, first)

	pool.recordMetadata(Request{ProjectID: "orto", Layer: "parcels", Z: 2, X: 0, Y: 0})
	cfg, err = pool.projects.Read("orto")
	require.NoError(t, err)
	assert.Equal(t, *first, *cfg.Layers["parcels"].LastRequestedAt, "a second request inside the throttle window must not re-record")
}
