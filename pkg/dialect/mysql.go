package dialect

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	gomysql "github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-sql-driver/mysql"

	"github.com/ajitpratap0/healsink/pkg/classify"
	"github.com/ajitpratap0/healsink/pkg/config"
	"github.com/ajitpratap0/healsink/pkg/record"
	"github.com/ajitpratap0/healsink/pkg/registry"
)

const mysqlDefaultPort = 3306

func init() {
	Register(NewMySQL())
}

// MySQL is the MySQL and MariaDB dialect.
type MySQL struct {
	classifier *classify.Classifier
}

// NewMySQL builds the MySQL dialect.
func NewMySQL() *MySQL {
	code := func(n uint16) string { return strconv.Itoa(int(n)) }
	return &MySQL{
		classifier: classify.NewClassifier([]classify.Matcher{
			{
				Kind:    classify.UnknownColumn,
				Code:    code(gomysql.ER_BAD_FIELD_ERROR),
				Pattern: regexp.MustCompile(`Unknown column '(?:[^'.]+\.)?([^'.]+)' in`),
				Column:  1,
			},
			{
				Kind:    classify.MissingTable,
				Code:    code(gomysql.ER_NO_SUCH_TABLE),
				Pattern: regexp.MustCompile(`Table '([^']+)' doesn't exist`),
				Table:   1,
			},
			{
				Kind:    classify.ValueTooLong,
				Code:    code(gomysql.ER_DATA_TOO_LONG),
				Pattern: regexp.MustCompile(`Data too long for column '([^']+)'`),
				Column:  1,
			},
			{
				Kind:    classify.ValueTruncated,
				Code:    code(gomysql.WARN_DATA_TRUNCATED),
				Pattern: regexp.MustCompile(`Data truncated for column '([^']+)'`),
				Column:  1,
			},
		}, []*regexp.Regexp{
			regexp.MustCompile(`Duplicate column name '`),
			regexp.MustCompile(`Table '[^']+' already exists`),
			regexp.MustCompile(`Duplicate key name '`),
		}),
	}
}

func (m *MySQL) Name() string       { return "mysql" }
func (m *MySQL) DriverName() string { return "mysql" }

func (m *MySQL) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (m *MySQL) quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// BuildUpsert emits INSERT ... ON DUPLICATE KEY UPDATE. The conflict target
// is whichever unique index the row collides with.
func (m *MySQL) BuildUpsert(rec *record.Record, opts WriteOptions) Statement {
	verb := "INSERT INTO"
	if !opts.Upsert && opts.InsertIgnore {
		verb = "INSERT IGNORE INTO"
	}
	sql := insertHead(m, verb, rec, questionMark)

	if opts.Upsert {
		set := rec.UpdateSet()
		if len(set) == 0 {
			// keep the row untouched without INSERT IGNORE, which would hide
			// oversized values as warnings
			set = rec.Columns()[:1]
			q := m.QuoteIdentifier(set[0])
			sql += " ON DUPLICATE KEY UPDATE " + q + " = " + q
		} else {
			assigns := make([]string, len(set))
			for i, c := range set {
				q := m.QuoteIdentifier(c)
				assigns[i] = q + " = VALUES(" + q + ")"
			}
			sql += " ON DUPLICATE KEY UPDATE " + strings.Join(assigns, ", ")
		}
	}
	return Statement{SQL: sql, Args: rec.Values()}
}

func (m *MySQL) BuildAddColumn(table, column, notes string) []Statement {
	var def string
	switch ColumnClassOf(column) {
	case ClassLink:
		def = "TEXT NULL"
	case ClassTimestamp:
		def = "DATE NULL DEFAULT NULL"
	default:
		def = fmt.Sprintf("VARCHAR(%d) NULL DEFAULT ''", BoundedStringLen)
	}
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s COMMENT %s",
		m.QuoteIdentifier(table), m.QuoteIdentifier(column), def, m.quoteLiteral(notes))}}
}

// BuildWidenColumn escalates bounded strings to TEXT and any text type to
// LONGTEXT.
func (m *MySQL) BuildWidenColumn(table, column, currentType, notes string) ([]Statement, error) {
	target := "TEXT"
	switch strings.ToLower(strings.TrimSpace(currentType)) {
	case "text", "mediumtext", "longtext":
		target = "LONGTEXT"
	}
	q := m.QuoteIdentifier(column)
	return []Statement{{SQL: fmt.Sprintf("ALTER TABLE %s CHANGE COLUMN %s %s %s NULL DEFAULT NULL COMMENT %s",
		m.QuoteIdentifier(table), q, q, target, m.quoteLiteral(notes))}}, nil
}

func (m *MySQL) BuildCreateTable(desc registry.TableDescriptor, opts TableOptions) []Statement {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (%s BIGINT NOT NULL AUTO_INCREMENT COMMENT 'id', PRIMARY KEY (%s))",
		m.QuoteIdentifier(desc.Name), m.QuoteIdentifier(IdentityColumn), m.QuoteIdentifier(IdentityColumn))
	if opts.Engine != "" {
		fmt.Fprintf(&b, " ENGINE=%s", opts.Engine)
	}
	if opts.Charset != "" {
		fmt.Fprintf(&b, " DEFAULT CHARSET=%s", opts.Charset)
	}
	if collate := CollationFor(opts.Charset, opts.Collate); collate != "" {
		fmt.Fprintf(&b, " COLLATE=%s", collate)
	}
	if comment := desc.Comment(); comment != "" {
		fmt.Fprintf(&b, " COMMENT=%s", m.quoteLiteral(comment))
	}
	return []Statement{{SQL: b.String()}}
}

func (m *MySQL) BuildUniqueIndex(table string, columns []string) []Statement {
	return []Statement{{SQL: fmt.Sprintf("CREATE UNIQUE INDEX %s ON %s (%s)",
		m.QuoteIdentifier(IndexName(table, columns)), m.QuoteIdentifier(table),
		strings.Join(quoteAll(m, columns), ", "))}}
}

func (m *MySQL) ColumnTypeQuery(table, column string) Statement {
	return Statement{
		SQL: "SELECT COLUMN_TYPE FROM information_schema.COLUMNS " +
			"WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? AND COLUMN_NAME = ?",
		Args: []any{table, column},
	}
}

func (m *MySQL) Classifier() *classify.Classifier { return m.classifier }

func (m *MySQL) DSN(cfg config.StoreConfig) (string, error) {
	return m.formatDSN(cfg, cfg.Database), nil
}

func (m *MySQL) ServerDSN(cfg config.StoreConfig) (string, error) {
	return m.formatDSN(cfg, ""), nil
}

func (m *MySQL) formatDSN(cfg config.StoreConfig, database string) string {
	port := cfg.Port
	if port == 0 {
		port = mysqlDefaultPort
	}

	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = database
	mc.ParseTime = true
	if collate := CollationFor(cfg.Charset, cfg.Collate); collate != "" {
		mc.Collation = collate
	}
	if len(cfg.Params) > 0 {
		mc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func (m *MySQL) CreateDatabase(cfg config.StoreConfig) []Statement {
	sql := "CREATE DATABASE IF NOT EXISTS " + m.QuoteIdentifier(cfg.Database)
	if cfg.Charset != "" {
		sql += " CHARACTER SET " + cfg.Charset
		if collate := CollationFor(cfg.Charset, cfg.Collate); collate != "" {
			sql += " COLLATE " + collate
		}
	}
	return []Statement{{SQL: sql}}
}

func (m *MySQL) IsDatabaseMissing(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == gomysql.ER_BAD_DB_ERROR
	}
	return err != nil && strings.Contains(err.Error(), "Unknown database")
}

func (m *MySQL) MaxOpenConns(configured int) int { return configured }
