package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/healsink/pkg/record"
)

// Strategy executes writes. Every submission completes its Future exactly
// once.
type Strategy interface {
	Name() string
	Submit(ctx context.Context, rec *record.Record) *Future
	Close(ctx context.Context) error
}

// Callback is invoked when a submitted record completes.
type Callback func(rec *record.Record, err error)

// StrategyConfig holds settings shared by the strategies.
type StrategyConfig struct {
	// Name labels queue metrics
	Name string
	// Callback runs after every completed write
	Callback Callback
	// HealthCheck pings the blocking connection before each write
	HealthCheck bool
	Logger      *zap.Logger
}

// Future is the pending result of a submitted write.
type Future struct {
	rec      *record.Record
	callback Callback

	once sync.Once
	done chan struct{}
	err  error
}

func newFuture(rec *record.Record, cb Callback) *Future {
	return &Future{rec: rec, callback: cb, done: make(chan struct{})}
}

// completedFuture returns a future that has already finished with err.
func completedFuture(rec *record.Record, cb Callback, err error) *Future {
	f := newFuture(rec, cb)
	f.complete(err)
	return f
}

func (f *Future) complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
		if f.callback != nil {
			f.callback(f.rec, err)
		}
	})
}

// Wait blocks until the write completes or ctx is done. A ctx expiry does
// not cancel the write itself.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the write completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the write's result, or nil while it is still pending.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Record returns the submitted record. It is nil when normalization failed.
func (f *Future) Record() *record.Record {
	return f.rec
}
