// Package dialect generates parameterized write and DDL statements for each
// supported relational backend, and carries the backend-specific error
// signatures and connection details.
//
// Backends register themselves from init():
//
//	dialect.Register(&MySQL{})
//
// and are looked up by name from configuration:
//
//	d, err := dialect.Get(cfg.Store.Dialect)
package dialect

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

// ErrUnsupported is returned for DDL a backend cannot express.
var ErrUnsupported = errors.New("operation not supported by dialect")

// Column sizes and names shared by all backends.
const (
	IdentityColumn   = "id"
	BoundedStringLen = 190
	maxIndexNameLen  = 63
)

// Statement is one SQL statement with its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

func (s Statement) String() string { return s.SQL }

// WriteOptions shape the upsert statement.
type WriteOptions struct {
	// Upsert adds the update-on-conflict clause
	Upsert bool
	// InsertIgnore skips conflicting rows when Upsert is off
	InsertIgnore bool
}

// TableOptions carry store-level settings used by CREATE TABLE.
type TableOptions struct {
	Engine  string
	Charset string
	Collate string
}

// TableOptionsFrom derives table options from the store configuration.
func TableOptionsFrom(cfg config.StoreConfig) TableOptions {
	return TableOptions{
		Engine:  cfg.Engine,
		Charset: cfg.Charset,
		Collate: CollationFor(cfg.Charset, cfg.Collate),
	}
}

// Dialect is a backend adapter behind the statement builder.
type Dialect interface {
	// Name is the configuration name of the dialect.
	Name() string
	// DriverName is the database/sql driver to open.
	DriverName() string
	// QuoteIdentifier quotes a table or column name.
	QuoteIdentifier(name string) string

	// BuildUpsert emits the insert-or-update statement for rec.
	BuildUpsert(rec *record.Record, opts WriteOptions) Statement
	// BuildAddColumn emits DDL adding column with a heuristic type.
	BuildAddColumn(table, column, notes string) []Statement
	// BuildWidenColumn emits DDL escalating column to a wider text type.
	BuildWidenColumn(table, column, currentType, notes string) ([]Statement, error)
	// BuildCreateTable emits DDL creating a table with only an identity key.
	BuildCreateTable(desc registry.TableDescriptor, opts TableOptions) []Statement
	// BuildUniqueIndex emits DDL creating a unique index on columns.
	BuildUniqueIndex(table string, columns []string) []Statement
	// ColumnTypeQuery returns a query yielding the declared column type.
	ColumnTypeQuery(table, column string) Statement

	// Classifier recognises this backend's error signatures.
	Classifier() *classify.Classifier

	// DSN is the connection string for the configured database.
	DSN(cfg config.StoreConfig) (string, error)
	// ServerDSN is a connection string that does not select a database.
	ServerDSN(cfg config.StoreConfig) (string, error)
	// CreateDatabase emits the statements creating the configured database.
	CreateDatabase(cfg config.StoreConfig) []Statement
	// IsDatabaseMissing reports a connect error caused by an absent database.
	IsDatabaseMissing(err error) bool
	// MaxOpenConns adjusts the configured pool size for the backend.
	MaxOpenConns(configured int) int
}

var (
	mu       sync.RWMutex
	dialects = map[string]Dialect{}
	aliases  = map[string]string{
		"mariadb":    "mysql",
		"postgresql": "postgres",
		"pg":         "postgres",
		"sqlite3":    "sqlite",
	}
)

// Register registers (or replaces) a dialect under its name. It is called
// from the backend files' init functions.
func Register(d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	dialects[d.Name()] = d
}

// Get returns the dialect registered under name or one of its aliases.
func Get(name string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}

	mu.RLock()
	d, ok := dialects[key]
	mu.RUnlock()
	if !ok {
		return nil, sinkerrors.Newf(sinkerrors.ErrorTypeConfig, "no dialect registered for %q", name).
			WithDetail("available", Names())
	}
	return d, nil
}

// Names lists registered dialects.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnClass is the type family chosen for a newly discovered column.
type ColumnClass int

const (
	// ClassString is a bounded string with an empty default.
	ClassString ColumnClass = iota
	// ClassLink is a long text for URLs.
	ClassLink
	// ClassTimestamp is a date for creation and ingestion times.
	ClassTimestamp
)

var timestampColumns = map[string]struct{}{
	"create_time": {},
	"crawl_time":  {},
	"update_time": {},
	"created_at":  {},
	"updated_at":  {},
	"crawled_at":  {},
	"ingested_at": {},
}

// ColumnClassOf picks the type family for a column from its name.
func ColumnClassOf(name string) ColumnClass {
	n := strings.ToLower(name)
	if _, ok := timestampColumns[n]; ok {
		return ClassTimestamp
	}
	switch {
	case n == "url", n == "link", n == "href",
		strings.HasSuffix(n, "_url"), strings.HasSuffix(n, "_link"):
		return ClassLink
	}
	return ClassString
}

var collations = map[string]string{
	"utf8mb4": "utf8mb4_general_ci",
	"utf8":    "utf8_general_ci",
	"utf8mb3": "utf8mb3_general_ci",
	"gbk":     "gbk_chinese_ci",
	"gb2312":  "gb2312_chinese_ci",
	"big5":    "big5_chinese_ci",
	"latin1":  "latin1_swedish_ci",
	"ascii":   "ascii_general_ci",
}

// CollationFor returns override when set, else the default collation of
// charset, else an empty string.
func CollationFor(charset, override string) string {
	if override != "" {
		return override
	}
	return collations[strings.ToLower(charset)]
}

// IndexName derives a unique index name from the table and columns.
func IndexName(table string, columns []string) string {
	name := "uk_" + table + "_" + strings.Join(columns, "_")
	if len(name) > maxIndexNameLen {
		name = name[:maxIndexNameLen]
	}
	return name
}

func quoteAll(d Dialect, names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = d.QuoteIdentifier(n)
	}
	return out
}

// placeholders renders n positional markers.
func placeholders(n int, marker func(i int) string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = marker(i + 1)
	}
	return strings.Join(parts, ", ")
}

func questionMark(int) string { return "?" }

func dollar(i int) string { return fmt.Sprintf("$%d", i) }

// insertHead renders "<verb> <table> (<cols>) VALUES (<markers>)".
func insertHead(d Dialect, verb string, rec *record.Record, marker func(int) string) string {
	return fmt.Sprintf("%s %s (%s) VALUES (%s)",
		verb,
		d.QuoteIdentifier(rec.Table),
		strings.Join(quoteAll(d, rec.Columns()), ", "),
		placeholders(len(rec.Fields), marker))
}
