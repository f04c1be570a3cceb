package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSqlite   dialect = "sqlite"
)

var placeholderRe = regexp.MustCompile(`\$\d+`)

// SQLLedger stores messages in PostgreSQL or SQLite.
type SQLLedger struct {
	conn    *sql.DB
	dialect dialect
}

func NewPgLedger(dsn string) (*SQLLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	drv, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate driver: %w", err)
	}

	if err := runMigrations(drv, dialectPostgres); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLLedger{conn: db, dialect: dialectPostgres}, nil
}

func NewSqliteLedger(path string) (*SQLLedger, error) {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	db, err := sql.Open("sqlite", path+sep+"_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate driver: %w", err)
	}

	if err := runMigrations(drv, dialectSqlite); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLLedger{conn: db, dialect: dialectSqlite}, nil
}

func runMigrations(drv migratedb.Driver, d dialect) error {
	src, err := iofs.New(migrations, "migrations/"+string(d))
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(d), drv)
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

// rebind rewrites $n placeholders for drivers that only accept '?'.
func (db *SQLLedger) rebind(query string) string {
	if db.dialect == dialectPostgres {
		return query
	}
	return placeholderRe.ReplaceAllString(query, "?")
}

func (db *SQLLedger) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
