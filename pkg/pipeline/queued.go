package pipeline

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/clients"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/logger"
	"github.com/ajitpratap0/healsink/pkg/metrics"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

type job struct {
	ctx    context.Context
	rec    *record.Record
	future *Future
}

// Queued runs writes on a fixed worker pool fed by a bounded queue. Workers
// share one executor over the connection pool.
type Queued struct {
	writer  *Writer
	exec    clients.Executor
	cfg     StrategyConfig
	workers int
	logger  *zap.Logger

	jobs chan job
	wg   sync.WaitGroup

	// ctx is cancelled when a shutdown deadline expires
	ctx    context.Context
	cancel context.CancelFunc

	// closing is closed first on shutdown so blocked submitters give up
	// before jobs is closed
	closing     chan struct{}
	closingOnce sync.Once
	mu          sync.RWMutex
	closed      bool

	submitted atomic.Int64
	completed atomic.Int64
	startTime time.Time
}

// NewQueued starts workers goroutines.
func NewQueued(exec clients.Executor, w *Writer, workers, queueSize int, cfg StrategyConfig) *Queued {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queued{
		writer:    w,
		exec:      exec,
		cfg:       cfg,
		workers:   workers,
		logger:    logger.OrGlobal(cfg.Logger).With(zap.String("component", "queued_strategy")),
		jobs:      make(chan job, queueSize),
		closing:   make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.logger.Info("queued strategy started",
		zap.Int("workers", workers),
		zap.Int("queue_size", queueSize))
	return q
}

func (q *Queued) Name() string { return config.StrategyQueued }

// Submit enqueues rec, blocking while the queue is full. If ctx ends first
// the returned future fails with the ctx error; if Close starts first it
// fails with ErrClosed.
func (q *Queued) Submit(ctx context.Context, rec *record.Record) *Future {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || q.isClosing() {
		return completedFuture(rec, q.cfg.Callback, closedError())
	}

	f := newFuture(rec, q.cfg.Callback)
	select {
	case q.jobs <- job{ctx: ctx, rec: rec, future: f}:
		q.submitted.Add(1)
		metrics.QueueDepth.WithLabelValues(q.cfg.Name).Inc()
	case <-ctx.Done():
		f.complete(ctx.Err())
	case <-q.closing:
		f.complete(closedError())
	}
	return f
}

func (q *Queued) isClosing() bool {
	select {
	case <-q.closing:
		return true
	default:
		return false
	}
}

func closedError() error {
	return sinkerrors.Wrap(ErrClosed, sinkerrors.ErrorTypeClosed, "queued strategy is closed")
}

func (q *Queued) worker(id int) {
	defer q.wg.Done()

	for j := range q.jobs {
		metrics.QueueDepth.WithLabelValues(q.cfg.Name).Dec()
		j.future.complete(q.run(id, j))
	}
}

func (q *Queued) run(id int, j job) error {
	if err := q.ctx.Err(); err != nil {
		return sinkerrors.Wrap(err, sinkerrors.ErrorTypeClosed, "queued strategy shut down before write")
	}

	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(q.ctx, cancel)
	defer stop()

	ctx = logger.ContextWith(ctx, logger.StrategyKey, q.Name())
	ctx = logger.ContextWith(ctx, logger.WorkerKey, strconv.Itoa(id))

	err := q.writer.Write(ctx, q.exec, j.rec)
	q.completed.Add(1)
	return err
}

// Pending returns the number of queued writes not yet picked up.
func (q *Queued) Pending() int {
	return len(q.jobs)
}

// Close stops intake and waits for the queue to drain. If ctx ends first,
// in-flight writes are cancelled, queued ones fail, and ctx's error is
// returned once every worker has stopped.
func (q *Queued) Close(ctx context.Context) error {
	q.closingOnce.Do(func() { close(q.closing) })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("queued strategy drained",
			zap.Int64("submitted", q.submitted.Load()),
			zap.Int64("completed", q.completed.Load()),
			zap.Duration("uptime", time.Since(q.startTime)))
		return nil
	case <-ctx.Done():
		q.logger.Warn("shutdown deadline reached, cancelling in-flight writes",
			zap.Int("pending", len(q.jobs)))
		q.cancel()
		<-done
		return ctx.Err()
	}
}
