package pool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
)

// testConfig builds a config with connection checks disabled so the pgx pool
// can be constructed lazily without a reachable server.
func testConfig(t *testing.T, opts ...config.Option) config.Config {
	t.Helper()
	all := append([]config.Option{
		config.WithCheckConnection(false),
		config.WithConnectTimeout(time.Second),
	}, opts...)
	cfg, err := config.New(all...)
	if err != nil {
		t.Fatalf("build test config: %v", err)
	}
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := config.Config{Port: -1}
	if _, err := New(bad); !errs.IsKind(err, errs.KindConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestPoolCreatedLazilyAndReused(t *testing.T) {
	mgr, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(mgr.Close)

	if got := mgr.Stats(); got.Status != StatusNotInitialized {
		t.Fatalf("expected not_initialized before first use, got %q", got.Status)
	}

	ctx := context.Background()
	first, err := mgr.Pool(ctx)
	if err != nil {
		t.Fatalf("first acquisition: %v", err)
	}
	second, err := mgr.Pool(ctx)
	if err != nil {
		t.Fatalf("second acquisition: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same pool on repeated acquisition")
	}
	if got := mgr.Stats(); got.Status != StatusOK {
		t.Fatalf("expected ok status once created, got %q", got.Status)
	}
}

func TestForkDetectionRebuildsWithoutClosing(t *testing.T) {
	mgr, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(mgr.Close)

	pid := 1000
	mgr.pidFn = func() int { return pid }

	ctx := context.Background()
	parentPool, err := mgr.Pool(ctx)
	if err != nil {
		t.Fatalf("parent acquisition: %v", err)
	}

	// Simulated fork: the child sees a different PID.
	pid = 2000
	childPool, err := mgr.Pool(ctx)
	if err != nil {
		t.Fatalf("child acquisition: %v", err)
	}
	if childPool == parentPool {
		t.Fatalf("expected a fresh pool after fork")
	}

	// The parent's pool must survive the child's rebuild.
	_ = parentPool.Stat()
}

func TestCloseIsIdempotentAndFailsFurtherAccess(t *testing.T) {
	mgr, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	ctx := context.Background()
	if _, err := mgr.Pool(ctx); err != nil {
		t.Fatalf("acquisition: %v", err)
	}

	mgr.Close()
	mgr.Close() // no-op

	if got := mgr.Stats(); got.Status != StatusClosed {
		t.Fatalf("expected closed status, got %q", got.Status)
	}
	if _, err := mgr.Pool(ctx); !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("expected connection error after close, got %v", err)
	}
	if _, err := mgr.Get(ctx); !errs.IsKind(err, errs.KindConnection) {
		t.Fatalf("expected connection error from Get after close, got %v", err)
	}
}

func TestConcurrentAcquisitionYieldsOnePool(t *testing.T) {
	mgr, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(mgr.Close)

	const workers = 16
	var (
		mu    sync.Mutex
		pools = make(map[*pgxpool.Pool]struct{})
		wg    conc.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Go(func() {
			p, err := mgr.Pool(context.Background())
			if err != nil {
				t.Errorf("concurrent acquisition: %v", err)
				return
			}
			mu.Lock()
			pools[p] = struct{}{}
			mu.Unlock()
		})
	}
	wg.Wait()
	if len(pools) != 1 {
		t.Fatalf("expected exactly one pool under contention, got %d", len(pools))
	}
}

func TestSharedManagerFirstWriterWins(t *testing.T) {
	t.Cleanup(Reset)
	Reset()

	ctx := context.Background()
	first, err := Acquire(ctx, testConfig(t, config.WithDatabase("first_db")))
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	second, err := Acquire(ctx, testConfig(t, config.WithDatabase("second_db")))
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if first != second {
		t.Fatalf("expected the shared manager to be reused")
	}
	if second.cfg.Database != "first_db" {
		t.Fatalf("second configuration must be ignored, got %q", second.cfg.Database)
	}
}

func TestStatsStringIsJSON(t *testing.T) {
	s := Stats{Status: StatusNotInitialized}
	out := s.String()
	if out == "" || out[0] != '{' {
		t.Fatalf("expected JSON rendering, got %q", out)
	}
}
