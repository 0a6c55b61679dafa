package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/clients"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// Blocking resolves one record completely before accepting the next. All
// writes share a single dedicated connection.
type Blocking struct {
	writer *Writer
	handle *clients.Handle
	exec   *clients.SQLExecutor
	cfg    StrategyConfig
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewBlocking acquires a dedicated connection from mgr.
func NewBlocking(ctx context.Context, mgr *clients.Manager, w *Writer, cfg StrategyConfig) (*Blocking, error) {
	h, err := mgr.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &Blocking{
		writer: w,
		handle: h,
		exec:   clients.NewSQLExecutor(h),
		cfg:    cfg,
		logger: logger.OrGlobal(cfg.Logger).With(zap.String("component", "blocking_strategy")),
	}, nil
}

func (b *Blocking) Name() string { return config.StrategyBlocking }

// Submit writes rec before returning; the returned future is already
// complete.
func (b *Blocking) Submit(ctx context.Context, rec *record.Record) *Future {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return completedFuture(rec, b.cfg.Callback,
			sinkerrors.Wrap(ErrClosed, sinkerrors.ErrorTypeClosed, "blocking strategy is closed"))
	}

	if b.cfg.HealthCheck {
		if err := b.handle.HealthCheck(ctx); err != nil {
			b.logger.Error("connection health check failed", zap.Error(err))
			return completedFuture(rec, b.cfg.Callback, err)
		}
	}

	ctx = logger.ContextWith(ctx, logger.StrategyKey, b.Name())
	return completedFuture(rec, b.cfg.Callback, b.writer.Write(ctx, b.exec, rec))
}

// Close releases the dedicated connection. The pool stays open.
func (b *Blocking) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.logger.Debug("closing blocking strategy")
	return b.handle.Close()
}
