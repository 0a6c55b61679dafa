package clients

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// OpenFunc opens a database/sql pool. sql.Open is the default.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// errCreateFailed stops the connect retry loop.
var errCreateFailed = errors.New("database creation failed")

// Manager owns the pool for one store configuration and hands out dedicated
// connections.
type Manager struct {
	store       config.StoreConfig
	reliability config.ReliabilityConfig
	dialect     dialect.Dialect
	registry    *PoolRegistry
	retry       *RetryPolicy
	open        OpenFunc
	logger      *zap.Logger

	mu  sync.Mutex
	key string
	db  *sql.DB
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry shares an existing pool registry.
func WithRegistry(r *PoolRegistry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithOpenFunc replaces sql.Open.
func WithOpenFunc(open OpenFunc) ManagerOption {
	return func(m *Manager) { m.open = open }
}

// WithRetryPolicy overrides the policy derived from the reliability config.
func WithRetryPolicy(p *RetryPolicy) ManagerOption {
	return func(m *Manager) { m.retry = p }
}

// NewManager creates a connection manager. No connection is made until
// Pool or Acquire is called.
func NewManager(store config.StoreConfig, reliability config.ReliabilityConfig, d dialect.Dialect, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		reliability: reliability,
		dialect:     d,
		retry:       RetryPolicyFrom(reliability),
		open:        sql.Open,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logger.OrGlobal(m.logger).With(
		zap.String("component", "connection_manager"),
		zap.String("dialect", d.Name()))
	if m.registry == nil {
		m.registry = NewPoolRegistry(m.logger)
	}
	return m
}

// Dialect returns the manager's dialect.
func (m *Manager) Dialect() dialect.Dialect { return m.dialect }

// Registry returns the pool registry the manager draws from.
func (m *Manager) Registry() *PoolRegistry { return m.registry }

// Pool returns the shared pool, connecting on first use. A database that
// does not exist is created once when the reliability config allows it.
func (m *Manager) Pool(ctx context.Context) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		return m.db, nil
	}

	key := PoolKey(m.store)
	db, err := m.registry.Acquire(key, func() (*sql.DB, error) { return m.connect(ctx) })
	if err != nil {
		return nil, err
	}
	m.key, m.db = key, db
	return db, nil
}

func (m *Manager) connect(ctx context.Context) (*sql.DB, error) {
	dsn, err := m.dialect.DSN(m.store)
	if err != nil {
		return nil, err
	}

	var (
		db      *sql.DB
		created bool
	)
	err = m.retry.ExecuteWithCondition(ctx, func() error {
		conn, err := m.openAndPing(ctx, dsn)
		if err == nil {
			db = conn
			return nil
		}
		if created || !m.reliability.CreateDatabase || !m.dialect.IsDatabaseMissing(err) {
			return err
		}

		m.logger.Info("database missing, creating it",
			zap.String("database", m.store.Database),
			zap.String("charset", m.store.Charset))
		created = true
		if cerr := m.createDatabase(ctx); cerr != nil {
			return errors.Join(errCreateFailed, cerr)
		}
		conn, err = m.openAndPing(ctx, dsn)
		if err != nil {
			return err
		}
		db = conn
		return nil
	}, func(err error) bool {
		return !errors.Is(err, errCreateFailed)
	})
	if err != nil {
		metrics.ConnectionAttempts.WithLabelValues(m.dialect.Name(), "failure").Inc()
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeConnection, "failed to connect to store").
			WithDetail("dialect", m.dialect.Name()).
			WithDetail("database", m.store.Database)
	}
	metrics.ConnectionAttempts.WithLabelValues(m.dialect.Name(), "success").Inc()
	return db, nil
}

func (m *Manager) openAndPing(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := m.open(m.dialect.DriverName(), dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(m.dialect.MaxOpenConns(m.store.MaxOpenConns))
	db.SetMaxIdleConns(m.store.MaxIdleConns)
	db.SetConnMaxLifetime(m.store.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		m.logger.Warn("connection attempt failed", zap.Error(err))
		return nil, err
	}
	return db, nil
}

func (m *Manager) createDatabase(ctx context.Context) error {
	dsn, err := m.dialect.ServerDSN(m.store)
	if err != nil {
		return err
	}
	db, err := m.open(m.dialect.DriverName(), dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, stmt := range m.dialect.CreateDatabase(m.store) {
		if _, err := db.ExecContext(ctx, stmt.SQL, stmt.Args...); err != nil {
			if m.dialect.Classifier().AlreadyApplied(err.Error()) {
				continue
			}
			return err
		}
	}
	m.logger.Info("created database", zap.String("database", m.store.Database))
	return nil
}

// Executor returns an executor over the shared pool.
func (m *Manager) Executor(ctx context.Context) (*SQLExecutor, error) {
	db, err := m.Pool(ctx)
	if err != nil {
		return nil, err
	}
	return NewSQLExecutor(db), nil
}

// Acquire takes a dedicated connection from the pool.
func (m *Manager) Acquire(ctx context.Context) (*Handle, error) {
	h := &Handle{mgr: m}
	if err := h.connect(ctx); err != nil {
		return nil, err
	}
	metrics.OpenHandles.WithLabelValues(m.dialect.Name()).Inc()
	return h, nil
}

// Close releases the manager's reference to the shared pool.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	m.db = nil
	return m.registry.Release(m.key)
}

// Handle is a dedicated connection that survives connection loss by
// re-acquiring itself on a failed health check. It satisfies Conner.
type Handle struct {
	mgr *Manager

	mu     sync.Mutex
	conn   *sql.Conn
	closed bool
}

func (h *Handle) connect(ctx context.Context) error {
	db, err := h.mgr.Pool(ctx)
	if err != nil {
		return err
	}
	return h.mgr.retry.Execute(ctx, func() error {
		conn, err := db.Conn(ctx)
		if err != nil {
			return sinkerrors.Wrap(err, sinkerrors.ErrorTypeConnection, "failed to acquire connection")
		}
		h.conn = conn
		return nil
	})
}

// HealthCheck pings the connection and replaces it when the ping fails.
// After a failed replacement the handle holds no connection; statements fail
// with sql.ErrConnDone until a later health check re-acquires one.
func (h *Handle) HealthCheck(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return sinkerrors.New(sinkerrors.ErrorTypeClosed, "handle is closed")
	}
	if h.conn != nil {
		err := h.conn.PingContext(ctx)
		if err == nil {
			return nil
		}
		h.mgr.logger.Warn("connection lost, re-acquiring", zap.Error(err))
		_ = h.conn.Close()
		h.conn = nil
	}

	err := h.connect(ctx)
	if err != nil && !sinkerrors.IsRetryable(err) {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeConnection, "failed to re-acquire connection")
	}
	return err
}

func (h *Handle) current() (*sql.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn == nil {
		return nil, sinkerrors.Wrap(sql.ErrConnDone, sinkerrors.ErrorTypeConnection, "handle has no connection")
	}
	return h.conn, nil
}

func (h *Handle) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	conn, err := h.current()
	if err != nil {
		return nil, err
	}
	return conn.BeginTx(ctx, opts)
}

func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	conn, err := h.current()
	if err != nil {
		return nil, err
	}
	return conn.QueryContext(ctx, query, args...)
}

// Close returns the connection to the pool. It is safe to call twice.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	metrics.OpenHandles.WithLabelValues(h.mgr.dialect.Name()).Dec()
	if h.conn == nil {
		return nil
	}
	return h.conn.Close()
}
