package store

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_migrations/0001_init.sql
var sqliteSchema string

// Timestamp layouts for SQLite text columns. Fixed width keeps
// lexicographic order equal to chronological order.
const (
	sqliteTimeLayout = "2006-01-02 15:04:05.000000"
	sqliteDateLayout = "2006-01-02"
)

// SQLiteConfig holds SQLite connection configuration.
type SQLiteConfig struct {
	Path string `yaml:"path" json:"path"`
}

// SQLiteStore wraps a database/sql handle over modernc.org/sqlite and
// provides access to all domain stores. It is suitable for single-node
// deployments and local development; PostgreSQL remains the production
// backend.
type SQLiteStore struct {
	db *sql.DB

	tickets   *SQLiteTicketStore
	fields    *SQLiteFieldValueStore
	flowLogs  *SQLiteFlowLogStore
	catalog   *SQLiteCatalog
	directory *SQLiteDirectory
}

// NewSQLiteStore opens (or creates) the SQLite database at cfg.Path and
// applies the embedded schema. Use ":memory:" for tests.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	dsn := cfg.Path
	if dsn == "" {
		dsn = ":memory:"
	}
	// Append pragmas to the DSN so they apply to every connection in the pool.
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One open connection serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if dsn == ":memory:" {
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	s.tickets = &SQLiteTicketStore{db: db}
	s.fields = &SQLiteFieldValueStore{db: db}
	s.flowLogs = &SQLiteFlowLogStore{db: db}
	s.catalog = &SQLiteCatalog{db: db}
	s.directory = &SQLiteDirectory{db: db}
	return s, nil
}

// DB returns the underlying database handle.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() { s.db.Close() }

// Tickets returns the TicketStore.
func (s *SQLiteStore) Tickets() TicketStore { return s.tickets }

// Fields returns the FieldValueStore.
func (s *SQLiteStore) Fields() FieldValueStore { return s.fields }

// FlowLogs returns the FlowLogStore.
func (s *SQLiteStore) FlowLogs() FlowLogStore { return s.flowLogs }

// Catalog returns the workflow Catalog.
func (s *SQLiteStore) Catalog() Catalog { return s.catalog }

// Directory returns the Directory.
func (s *SQLiteStore) Directory() Directory { return s.directory }

func isSQLiteDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sqlite time %q: %w", s, err)
	}
	return t, nil
}

// sqliteTimeArg renders an optional timestamp for a nullable text column.
func sqliteTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatSQLiteTime(*t)
}

// sqliteDateArg renders an optional date for a nullable text column.
func sqliteDateArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteDateLayout)
}

func nullStringPtr(v sql.Null[string]) *string {
	if !v.Valid {
		return nil
	}
	return &v.V
}

func nullTimePtr(v sql.Null[string], layout string) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.ParseInLocation(layout, v.V, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("parse sqlite time %q: %w", v.V, err)
	}
	return &t, nil
}
