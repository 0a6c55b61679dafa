package dialect

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
	"github.com/ajitpratap0/healsink/pkg/sinkerrors"
)

const sqliteBusyTimeoutMS = "5000"

func init() {
	Register(NewSQLite())
}

// SQLite is the embedded dialect backed by mattn/go-sqlite3. Column types
// are affinities without length limits, so values never need widening.
type SQLite struct {
	classifier *classify.Classifier
}

// NewSQLite builds the SQLite dialect.
func NewSQLite() *SQLite {
	return &SQLite{
		classifier: classify.NewClassifier([]classify.Matcher{
			{
				Kind:    classify.MissingTable,
				Pattern: regexp.MustCompile(`no such table: (\S+)`),
				Table:   1,
			},
			{
				Kind:    classify.UnknownColumn,
				Pattern: regexp.MustCompile(`table (\S+) has no column named (\S+)`),
				Table:   1,
				Column:  2,
			},
			{
				Kind:    classify.UnknownColumn,
				Pattern: regexp.MustCompile(`no such column: (?:\S+\.)?(\S+)`),
				Column:  1,
			},
			{
				Kind:    classify.MissingConflictTarget,
				Pattern: regexp.MustCompile(`ON CONFLICT clause does not match any PRIMARY KEY or UNIQUE constraint`),
			},
		}, []*regexp.Regexp{
			regexp.MustCompile(`duplicate column name`),
			regexp.MustCompile(`already exists`),
		}),
	}
}

func (s *SQLite) Name() string       { return "sqlite" }
func (s *SQLite) DriverName() string { return "sqlite3" }

func (s *SQLite) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *SQLite) BuildUpsert(rec *record.Record, opts WriteOptions) Statement {
	return Statement{SQL: conflictUpsert(s, rec, opts, questionMark, "excluded"), Args: rec.Values()}
}

func (s *SQLite) BuildAddColumn(table, column, _ string) []Statement {
	var def string
	switch ColumnClassOf(column) {
	case ClassLink:
		def = "TEXT"
	case ClassTimestamp:
		def = "DATE"
	default:
		def = fmt.Sprintf("VARCHAR(%d) DEFAULT ''", BoundedStringLen)
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s",
		s.QuoteIdentifier(table), s.QuoteIdentifier(column), def)}}
}

func (s *SQLite) BuildWidenColumn(table, column, _, _ string) ([]Statement, error) {
	return nil, sinkerrors.Wrap(ErrUnsupported, sinkerrors.ErrorTypeCapability, "sqlite columns cannot be widened").
		WithDetail("table", table).
		WithDetail("column", column)
}

// BuildCreateTable keeps the table comment as a block comment inside the
// column list, where it survives in sqlite_master.sql.
func (s *SQLite) BuildCreateTable(desc registry.TableDescriptor, _ TableOptions) []Statement {
	comment := ""
	if c := desc.Comment(); c != "" {
		comment = " /* " + strings.ReplaceAll(c, "*/", "* /") + " */"
	}
	return []Statement{{SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s INTEGER PRIMARY KEY AUTOINCREMENT%s)",
		s.QuoteIdentifier(desc.Name), s.QuoteIdentifier(IdentityColumn), comment)}}
}

func (s *SQLite) BuildUniqueIndex(table string, columns []string) []Statement {
	return []Statement{{SQL: fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		s.QuoteIdentifier(IndexName(table, columns)), s.QuoteIdentifier(table),
		strings.Join(quoteAll(s, columns), ", "))}}
}

func (s *SQLite) ColumnTypeQuery(table, column string) Statement {
	return Statement{
		SQL:  "SELECT type FROM pragma_table_info(?) WHERE name = ?",
		Args: []any{table, column},
	}
}

func (s *SQLite) Classifier() *classify.Classifier { return s.classifier }

// DSN uses Database as the file path and applies a busy timeout unless one
// is configured.
func (s *SQLite) DSN(cfg config.StoreConfig) (string, error) {
	if cfg.Database == "" {
		return "", sinkerrors.New(sinkerrors.ErrorTypeConfig, "sqlite requires store.database to be a file path")
	}
	q := url.Values{}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	if q.Get("_busy_timeout") == "" {
		q.Set("_busy_timeout", sqliteBusyTimeoutMS)
	}
	return cfg.Database + "?" + q.Encode(), nil
}

func (s *SQLite) ServerDSN(cfg config.StoreConfig) (string, error) {
	return s.DSN(cfg)
}

// CreateDatabase is empty: opening the file creates it.
func (s *SQLite) CreateDatabase(config.StoreConfig) []Statement { return nil }

func (s *SQLite) IsDatabaseMissing(error) bool { return false }

// MaxOpenConns pins the pool to one connection; sqlite serializes writers.
func (s *SQLite) MaxOpenConns(int) int { return 1 }
