// Package pool manages the process-wide pgx connection pool for pgkit.
package pool

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/kestreldb/pgkit/config"
	"github.com/kestreldb/pgkit/errs"
	"github.com/kestreldb/pgkit/observability"
)

const readinessAttempts = 5

// Manager wraps a pgxpool.Pool with lazy creation, fork detection, and
// idempotent teardown. The zero value is not usable; construct with New.
//
// pgxpool is internally thread-safe for checkout/checkin; the manager only
// serialises pool creation, invalidation, and close.
type Manager struct {
	mu         sync.Mutex
	cfg        config.Config
	pool       *pgxpool.Pool
	closed     bool
	createdPID int
	pidFn      func() int
	recreate   *rate.Limiter
}

// New constructs a Manager for the given configuration. The pool itself is
// created lazily on first acquisition.
func New(cfg config.Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Manager{
		cfg:   cfg,
		pidFn: os.Getpid,
		// Bounds how often a failed or fork-invalidated pool may be rebuilt.
		recreate: rate.NewLimiter(rate.Every(500*time.Millisecond), 5),
	}, nil
}

// Pool returns the underlying pool, creating it on first use. After a fork
// the inherited pool reference is discarded (never closed: the parent process
// owns those sockets) and a fresh pool is built for the current process.
func (m *Manager) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errs.New(errs.KindConnection,
			errs.WithOp("acquire"),
			errs.WithMessage("pool manager is closed"))
	}

	if m.pool != nil && m.createdPID != m.pidFn() {
		observability.Log().Info("pool invalidated after fork",
			observability.F("created_pid", m.createdPID),
			observability.F("current_pid", m.pidFn()))
		m.pool = nil
		m.createdPID = 0
	}

	if m.pool == nil {
		if !m.recreate.Allow() {
			return nil, errs.New(errs.KindConnection,
				errs.WithOp("acquire"),
				errs.WithMessage("pool creation attempts throttled"))
		}
		pool, err := m.createPool(ctx)
		if err != nil {
			return nil, err
		}
		m.pool = pool
		m.createdPID = m.pidFn()
	}
	return m.pool, nil
}

func (m *Manager) createPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(m.cfg.DSN())
	if err != nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithOp("createPool"),
			errs.WithMessage("parse connection string"),
			errs.WithCause(err))
	}
	poolCfg.MinConns = m.cfg.MinConns
	poolCfg.MaxConns = m.cfg.MaxConns
	poolCfg.MaxConnIdleTime = m.cfg.MaxConnIdleTime
	poolCfg.MaxConnLifetime = m.cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = m.cfg.HealthCheckPeriod
	poolCfg.ConnConfig.ConnectTimeout = m.cfg.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithOp("createPool"),
			errs.WithMessage("create connection pool"),
			errs.WithCause(err))
	}

	if !m.cfg.SkipConnCheck {
		if err := m.waitReady(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}

	observability.Log().Info("connection pool created",
		observability.F("database", m.cfg.Database),
		observability.F("min_conns", m.cfg.MinConns),
		observability.F("max_conns", m.cfg.MaxConns))
	return pool, nil
}

// waitReady pings until the pool can hand out a live connection, bounded by
// the configured connect timeout.
func (m *Manager) waitReady(ctx context.Context, pool *pgxpool.Pool) error {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 100 * time.Millisecond
	backoffCfg.MaxInterval = 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < readinessAttempts; attempt++ {
		lastErr = pool.Ping(waitCtx)
		if lastErr == nil {
			return nil
		}
		select {
		case <-waitCtx.Done():
			return errs.New(errs.KindConnection,
				errs.WithOp("createPool"),
				errs.WithMessage(fmt.Sprintf("pool readiness wait aborted after %s", m.cfg.ConnectTimeout)),
				errs.WithCause(lastErr))
		case <-time.After(backoffCfg.NextBackOff()):
		}
	}
	return errs.New(errs.KindConnection,
		errs.WithOp("createPool"),
		errs.WithMessage(fmt.Sprintf("pool not ready after %d attempts", readinessAttempts)),
		errs.WithCause(lastErr))
}

// Get checks a connection out of the pool. Callers must Release it.
func (m *Manager) Get(ctx context.Context) (*pgxpool.Conn, error) {
	pool, err := m.Pool(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, errs.New(errs.KindConnection,
			errs.WithOp("get"),
			errs.WithMessage("acquire connection from pool"),
			errs.WithCause(err))
	}
	return conn, nil
}

// Release returns a checked-out connection to the pool.
func (m *Manager) Release(conn *pgxpool.Conn) {
	if conn != nil {
		conn.Release()
	}
}

// WithConn runs fn with a pooled connection, releasing it on every exit path.
func (m *Manager) WithConn(ctx context.Context, fn func(*pgxpool.Conn) error) error {
	conn, err := m.Get(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// Close tears the pool down. The first call closes; subsequent calls are
// no-ops. Close does not wait for in-flight connections to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.pool != nil {
		// pgxpool.Close blocks until checked-out connections are released;
		// the contract here is non-blocking teardown.
		go m.pool.Close()
		m.pool = nil
		observability.Log().Info("connection pool closed")
	}
}

// Stats status values.
const (
	StatusOK             = "ok"
	StatusNotInitialized = "not_initialized"
	StatusClosed         = "closed"
)

// Stats is a point-in-time snapshot of pool health.
type Stats struct {
	Status            string `json:"status"`
	MinConns          int32  `json:"min_conns"`
	MaxConns          int32  `json:"max_conns"`
	TotalConns        int32  `json:"total_conns"`
	IdleConns         int32  `json:"idle_conns"`
	AcquiredConns     int32  `json:"acquired_conns"`
	ConstructingConns int32  `json:"constructing_conns"`
	EmptyAcquires     int64  `json:"empty_acquires"`
}

// String renders the snapshot as JSON for log and diagnostic output.
func (s Stats) String() string {
	out, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("Stats(status=%s)", s.Status)
	}
	return string(out)
}

// Stats reports the current pool state. A manager whose pool was never
// created reports the not-initialized sentinel.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Stats{Status: StatusClosed}
	}
	if m.pool == nil {
		return Stats{Status: StatusNotInitialized}
	}
	stat := m.pool.Stat()
	return Stats{
		Status:            StatusOK,
		MinConns:          m.pool.Config().MinConns,
		MaxConns:          stat.MaxConns(),
		TotalConns:        stat.TotalConns(),
		IdleConns:         stat.IdleConns(),
		AcquiredConns:     stat.AcquiredConns(),
		ConstructingConns: stat.ConstructingConns(),
		EmptyAcquires:     stat.EmptyAcquireCount(),
	}
}

var (
	sharedMu      sync.Mutex
	sharedManager *Manager
)

// Acquire returns the process-wide Manager, creating it from cfg on first
// call. Later calls return the existing manager and ignore cfg entirely
// (first-writer-wins), mirroring the singleton contract of the pool.
func Acquire(ctx context.Context, cfg config.Config) (*Manager, error) {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedManager != nil {
		return sharedManager, nil
	}
	mgr, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := mgr.Pool(ctx); err != nil {
		return nil, err
	}
	sharedManager = mgr
	return sharedManager, nil
}

// Reset closes and forgets the process-wide Manager. Intended for tests and
// explicit reinitialisation.
func Reset() {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if sharedManager != nil {
		sharedManager.Close()
		sharedManager = nil
	}
}
