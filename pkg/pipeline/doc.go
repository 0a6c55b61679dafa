// Package pipeline is healsink's write path: it turns records into upserts
// and repairs the destination schema when the store rejects them.
//
// # Overview
//
// The package provides:
//
//   - Writer: the self-healing write algorithm
//   - Blocking and Queued: execution strategies sharing one Writer
//   - Future: the completion handle returned by every submission
//   - Pipeline: a facade wiring configuration, dialect, registry,
//     connection manager, writer and strategy
//
// # Write Algorithm
//
// A write moves through these states:
//
//	Building -> Executing -> Success
//	                      -> Classifying -> Remediating -> Building
//	                                     -> Failed
//
// A failed statement is classified from the driver's error text. Missing
// tables, missing columns, oversized values and missing conflict indexes are
// remedied with DDL and the write is rebuilt and retried. Anything else fails
// the write with ErrUnrecoverable, keeping the driver error in the chain.
//
// Retries are bounded: a write may apply at most 2*len(fields)+3
// remediations (configurable with write.max_remediations), and applying the
// same remediation twice aborts the write with ErrNotConverged.
//
// # Basic Usage
//
//	cfg, err := config.Load("healsink.yaml")
//	if err != nil {
//		return err
//	}
//
//	p, err := pipeline.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer p.Close(ctx)
//
//	err = p.Write(ctx, map[string]any{
//		"_table":         "orders",
//		"_conflict_cols": "order_id",
//		"order_id":       "O-1",
//		"amount":         "9.99",
//	})
//
// # Strategies
//
// Blocking serializes writes on the caller's goroutine over one dedicated
// connection, health-checked before every write.
//
// Queued runs write.workers workers over a bounded queue. Process returns
// immediately with a Future:
//
//	f := p.Process(ctx, item)
//	...
//	if err := f.Wait(ctx); err != nil {
//		log.Error("write failed", zap.Error(err))
//	}
//
// Closing a queued pipeline stops intake and drains the queue. If the close
// context expires first, in-flight writes are cancelled.
//
// Concurrent workers may race to apply the same DDL. The loser's duplicate
// column, table or index error is treated as success.
package pipeline
