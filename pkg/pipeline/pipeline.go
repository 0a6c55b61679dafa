package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/clients"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/dialect"
	"github.com/ajitpratap0/healsink/pkg/evolution"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Pipeline wires a configuration into a ready write path.
type Pipeline struct {
	cfg      *config.Config
	dialect  dialect.Dialect
	registry *registry.Registry
	manager  *clients.Manager
	writer   *Writer
	strategy Strategy
	logger   *zap.Logger
	callback Callback
}

type options struct {
	logger      *zap.Logger
	callback    Callback
	pools       *clients.PoolRegistry
	managerOpts []clients.ManagerOption
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger for every component.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithCallback runs cb after every completed write, including writes
// rejected during normalization.
func WithCallback(cb Callback) Option {
	return func(o *options) { o.callback = cb }
}

// WithPoolRegistry shares connection pools with other pipelines.
func WithPoolRegistry(r *clients.PoolRegistry) Option {
	return func(o *options) { o.pools = r }
}

// WithManagerOptions passes options to the connection manager.
func WithManagerOptions(opts ...clients.ManagerOption) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// New validates cfg and builds the pipeline. The store is contacted before
// New returns.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, sinkerrors.Wrap(err, sinkerrors.ErrorTypeConfig, "invalid configuration")
	}

	d, err := dialect.Get(cfg.Store.Dialect)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(cfg.Tables.Prefix, cfg.Tables.Entries)
	if err != nil {
		return nil, err
	}

	log := logger.OrGlobal(o.logger).With(
		zap.String("pipeline", cfg.Name),
		zap.String("dialect", d.Name()))

	managerOpts := []clients.ManagerOption{clients.WithLogger(log)}
	if o.pools != nil {
		managerOpts = append(managerOpts, clients.WithRegistry(o.pools))
	}
	mgr := clients.NewManager(cfg.Store, cfg.Reliability, d, append(managerOpts, o.managerOpts...)...)

	engine := evolution.New(d, reg,
		evolution.WithLogger(log),
		evolution.WithTableOptions(dialect.TableOptionsFrom(cfg.Store)))
	writer := NewWriter(d, engine, WriterConfig{
		Options: dialect.WriteOptions{
			Upsert:       cfg.Write.Upsert,
			InsertIgnore: cfg.Write.InsertIgnore,
		},
		MaxRemediations: cfg.Write.MaxRemediations,
		Logger:          log,
	})

	scfg := StrategyConfig{
		Name:        cfg.Name,
		Callback:    o.callback,
		HealthCheck: cfg.Reliability.HealthCheck,
		Logger:      log,
	}
	var strategy Strategy
	if cfg.Write.IsQueued() {
		exec, err := mgr.Executor(ctx)
		if err != nil {
			return nil, errors.Join(err, mgr.Close())
		}
		strategy = NewQueued(exec, writer, cfg.Write.Workers, cfg.Write.QueueSize, scfg)
	} else {
		b, err := NewBlocking(ctx, mgr, writer, scfg)
		if err != nil {
			return nil, errors.Join(err, mgr.Close())
		}
		strategy = b
	}

	log.Info("pipeline ready",
		zap.String("strategy", strategy.Name()),
		zap.Int("registered_tables", len(reg.Tables())))

	return &Pipeline{
		cfg:      cfg,
		dialect:  d,
		registry: reg,
		manager:  mgr,
		writer:   writer,
		strategy: strategy,
		logger:   log,
		callback: o.callback,
	}, nil
}

// Process normalizes item and submits it. Normalization errors complete the
// future immediately.
func (p *Pipeline) Process(ctx context.Context, item any) *Future {
	rec, err := record.Normalize(item, record.WithDefaultTable(p.cfg.Write.DefaultTable))
	if err != nil {
		p.logger.Warn("rejected item", zap.Error(err))
		return completedFuture(nil, p.callback, err)
	}
	return p.strategy.Submit(ctx, rec)
}

// Write processes item and waits for the result.
func (p *Pipeline) Write(ctx context.Context, item any) error {
	return p.Process(ctx, item).Wait(ctx)
}

// Close shuts the strategy down, bounded by the configured shutdown timeout,
// then releases the connection pool.
func (p *Pipeline) Close(ctx context.Context) error {
	if timeout := p.cfg.Reliability.ShutdownTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	serr := p.strategy.Close(ctx)
	merr := p.manager.Close()
	if serr != nil || merr != nil {
		return fmt.Errorf("close pipeline %s: %w", p.cfg.Name, errors.Join(serr, merr))
	}
	return nil
}

// Strategy returns the execution strategy.
func (p *Pipeline) Strategy() Strategy { return p.strategy }

// Dialect returns the store dialect.
func (p *Pipeline) Dialect() dialect.Dialect { return p.dialect }

// Registry returns the table registry.
func (p *Pipeline) Registry() *registry.Registry { return p.registry }

// Manager returns the connection manager.
func (p *Pipeline) Manager() *clients.Manager { return p.manager }

// Writer returns the write algorithm shared by the strategies.
func (p *Pipeline) Writer() *Writer { return p.writer }
