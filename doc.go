// Package healsink provides a self-healing relational write path. It takes
// semi-structured records, writes each one with idempotent upsert semantics,
// and evolves the destination schema whenever the store reports that the
// schema does not fit the record.
//
// # How a write heals
//
// A write is attempted as a single parameterized upsert. When the store
// rejects it, the driver's error text is classified into one structural
// defect and the matching DDL is applied before the upsert is retried:
//
//	unknown column     ALTER TABLE ... ADD COLUMN (type chosen from the name)
//	missing table      CREATE TABLE from the table registry, or a bare table
//	value too long     widen the column one step (VARCHAR -> TEXT -> LONGTEXT)
//	no conflict index  CREATE UNIQUE INDEX on the conflict key
//
// A missing database is created on connect. Errors that match no signature
// pass through untouched, and every write is bounded by a remediation
// ceiling so a misbehaving store cannot loop forever.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/healsink/pkg/config"
//	    "github.com/ajitpratap0/healsink/pkg/pipeline"
//	)
//
//	cfg := config.NewConfig("shop")
//	cfg.Store.Dialect = "postgres"
//	cfg.Store.Host = "localhost"
//	cfg.Store.Database = "shop"
//
//	p, err := pipeline.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer p.Close(ctx)
//
//	err = p.Write(ctx, map[string]any{
//	    "_table": "orders",
//	    "id":     1,
//	    "sku":    map[string]any{"value": "A-1", "notes": "stock keeping unit"},
//	})
//
// # Key Packages
//
//	pkg/record        - Normalizes maps, annotated pairs and structs into records
//	pkg/dialect       - Statement builder for mysql, postgres and sqlite
//	pkg/classify      - Ordered error-signature classifier
//	pkg/evolution     - Schema remediation engine
//	pkg/registry      - Static table catalogue used when provisioning tables
//	pkg/clients       - Connection manager, pool registry, retry policy
//	pkg/pipeline      - Writer algorithm, blocking and queued strategies
//	pkg/config        - Configuration loading and validation
//	pkg/sinkerrors    - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//	pkg/observability - OpenTelemetry tracing
//
// # Execution Strategies
//
// The blocking strategy resolves one record completely before accepting the
// next over a single dedicated connection. The queued strategy feeds a fixed
// worker pool from a bounded queue; its workers share the connection pool
// and may race on the same DDL, in which case the loser's duplicate-column
// or duplicate-table error is treated as success.
//
// # Configuration
//
// Configuration is a single YAML or JSON file:
//
//	type Config struct {
//	    Name          string
//	    Store         StoreConfig         // Dialect, host, database, charset, pool limits
//	    Tables        TablesConfig        // Registry prefix and entries
//	    Write         WriteConfig         // Strategy, workers, upsert toggles
//	    Reliability   ReliabilityConfig   // Connect retries, health checks, shutdown
//	    Observability ObservabilityConfig // Logging, metrics, tracing
//	}
//
// Environment variables are supported with ${VAR_NAME} syntax, and
// HEALSINK_* variables override individual settings.
//
// # Command Line
//
//	healsink run --config healsink.yaml --input orders.jsonl
//	healsink tables --config healsink.yaml
//	healsink classify --dialect postgres 'column "sku" of relation "orders" does not exist'
package healsink
