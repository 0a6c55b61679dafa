package dialect

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
)

const (
	postgresDefaultPort  = 5432
	postgresAdminDB      = "postgres"
	pgInvalidCatalogName = "3D000"
)

func init() {
	Register(NewPostgres())
}

// Postgres is the PostgreSQL dialect, driven through pgx's database/sql
// adapter.
type Postgres struct {
	classifier *classify.Classifier
}

// NewPostgres builds the PostgreSQL dialect.
func NewPostgres() *Postgres {
	return &Postgres{
		classifier: classify.NewClassifier([]classify.Matcher{
			{
				Kind:    classify.UnknownColumn,
				Code:    "42703",
				Pattern: regexp.MustCompile(`column "([^"]+)" of relation "([^"]+)" does not exist`),
				Column:  1,
				Table:   2,
			},
			{
				Kind:    classify.MissingTable,
				Code:    "42P01",
				Pattern: regexp.MustCompile(`relation "([^"]+)" does not exist`),
				Table:   1,
			},
			{
				Kind:    classify.UnknownColumn,
				Code:    "42703",
				Pattern: regexp.MustCompile(`column (?:[a-z_]+\.)?"?([^" ]+)"? does not exist`),
				Column:  1,
			},
			{
				Kind:    classify.ValueTooLong,
				Code:    "22001",
				Pattern: regexp.MustCompile(`value too long for type`),
			},
			{
				Kind:    classify.MissingConflictTarget,
				Code:    "42P10",
				Pattern: regexp.MustCompile(`there is no unique or exclusion constraint matching the ON CONFLICT specification`),
			},
		}, []*regexp.Regexp{
			regexp.MustCompile(`column "[^"]+" of relation "[^"]+" already exists`),
			regexp.MustCompile(`relation "[^"]+" already exists`),
		}),
	}
}

func (p *Postgres) Name() string       { return "postgres" }
func (p *Postgres) DriverName() string { return "pgx" }

func (p *Postgres) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

// BuildUpsert emits INSERT ... ON CONFLICT (key) DO UPDATE.
func (p *Postgres) BuildUpsert(rec *record.Record, opts WriteOptions) Statement {
	return Statement{SQL: conflictUpsert(p, rec, opts, dollar, "EXCLUDED"), Args: rec.Values()}
}

// conflictUpsert renders the ON CONFLICT form shared with sqlite.
func conflictUpsert(d Dialect, rec *record.Record, opts WriteOptions, marker func(int) string, excluded string) string {
	sql := insertHead(d, "INSERT INTO", rec, marker)
	switch {
	case opts.Upsert:
		target := strings.Join(quoteAll(d, rec.ConflictColumns()), ", ")
		set := rec.UpdateSet()
		if len(set) == 0 {
			return sql + " ON CONFLICT (" + target + ") DO NOTHING"
		}
		assigns := make([]string, len(set))
		for i, c := range set {
			q := d.QuoteIdentifier(c)
			assigns[i] = q + " = " + excluded + "." + q
		}
		return sql + " ON CONFLICT (" + target + ") DO UPDATE SET " + strings.Join(assigns, ", ")
	case opts.InsertIgnore:
		return sql + " ON CONFLICT DO NOTHING"
	}
	return sql
}

func (p *Postgres) BuildAddColumn(table, column, notes string) []Statement {
	var def string
	switch ColumnClassOf(column) {
	case ClassLink:
		def = "TEXT"
	case ClassTimestamp:
		def = "DATE"
	default:
		def = fmt.Sprintf("VARCHAR(%d) DEFAULT ''", BoundedStringLen)
	}
	t, c := p.QuoteIdentifier(table), p.QuoteIdentifier(column)
	return []Statement{
		{SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", t, c, def)},
		{SQL: fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", t, c, pq.QuoteLiteral(notes))},
	}
}

// BuildWidenColumn converts the column to TEXT, the unbounded string type.
func (p *Postgres) BuildWidenColumn(table, column, _, notes string) ([]Statement, error) {
	t, c := p.QuoteIdentifier(table), p.QuoteIdentifier(column)
	return []Statement{
		{SQL: fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE TEXT", t, c)},
		{SQL: fmt.Sprintf("COMMENT ON COLUMN %s.%s IS %s", t, c, pq.QuoteLiteral(notes))},
	}, nil
}

func (p *Postgres) BuildCreateTable(desc registry.TableDescriptor, _ TableOptions) []Statement {
	t := p.QuoteIdentifier(desc.Name)
	stmts := []Statement{{SQL: fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s BIGSERIAL PRIMARY KEY)",
		t, p.QuoteIdentifier(IdentityColumn))}}
	if comment := desc.Comment(); comment != "" {
		stmts = append(stmts, Statement{SQL: fmt.Sprintf("COMMENT ON TABLE %s IS %s", t, pq.QuoteLiteral(comment))})
	}
	return stmts
}

func (p *Postgres) BuildUniqueIndex(table string, columns []string) []Statement {
	return []Statement{{SQL: fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
		p.QuoteIdentifier(IndexName(table, columns)), p.QuoteIdentifier(table),
		strings.Join(quoteAll(p, columns), ", "))}}
}

func (p *Postgres) ColumnTypeQuery(table, column string) Statement {
	return Statement{
		SQL: "SELECT CASE WHEN character_maximum_length IS NULL THEN data_type " +
			"ELSE data_type || '(' || character_maximum_length || ')' END " +
			"FROM information_schema.columns " +
			"WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2",
		Args: []any{table, column},
	}
}

func (p *Postgres) Classifier() *classify.Classifier { return p.classifier }

func (p *Postgres) DSN(cfg config.StoreConfig) (string, error) {
	return p.formatDSN(cfg, cfg.Database), nil
}

func (p *Postgres) ServerDSN(cfg config.StoreConfig) (string, error) {
	return p.formatDSN(cfg, postgresAdminDB), nil
}

func (p *Postgres) formatDSN(cfg config.StoreConfig, database string) string {
	port := cfg.Port
	if port == 0 {
		port = postgresDefaultPort
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + database,
	}
	if cfg.User != "" {
		if cfg.Password != "" {
			u.User = url.UserPassword(cfg.User, cfg.Password)
		} else {
			u.User = url.User(cfg.User)
		}
	}
	if len(cfg.Params) > 0 {
		q := url.Values{}
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (p *Postgres) CreateDatabase(cfg config.StoreConfig) []Statement {
	sql := "CREATE DATABASE " + p.QuoteIdentifier(cfg.Database)
	if enc := postgresEncoding(cfg.Charset); enc != "" {
		sql += " WITH ENCODING " + pq.QuoteLiteral(enc)
	}
	return []Statement{{SQL: sql}}
}

func postgresEncoding(charset string) string {
	switch strings.ToLower(charset) {
	case "":
		return ""
	case "utf8", "utf8mb4", "utf8mb3", "utf-8":
		return "UTF8"
	case "latin1":
		return "LATIN1"
	}
	return strings.ToUpper(charset)
}

func (p *Postgres) IsDatabaseMissing(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgInvalidCatalogName
	}
	return err != nil && strings.Contains(err.Error(), "SQLSTATE "+pgInvalidCatalogName)
}

func (p *Postgres) MaxOpenConns(configured int) int { return configured }
