package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

// Dialect carries the statements whose syntax differs between engines.
type Dialect struct {
	Name string

	insertCart string
	upsertLine string
}

var (
	MySQL = Dialect{
		Name: "mysql",
		insertCart: `
			INSERT IGNORE INTO carts (user_id, total, created_at, updated_at)
			VALUES (?, ?, ?, ?)`,
		upsertLine: `
			INSERT INTO cart_lines (id, user_id, book_id, quantity, price_snapshot, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE quantity = quantity + VALUES(quantity), updated_at = VALUES(updated_at)`,
	}

	SQLite = Dialect{
		Name: "sqlite",
		insertCart: `
			INSERT INTO carts (user_id, total, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
		upsertLine: `
			INSERT INTO cart_lines (id, user_id, book_id, quantity, price_snapshot, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, book_id) DO UPDATE SET quantity = cart_lines.quantity + excluded.quantity, updated_at = excluded.updated_at`,
	}
)

func DialectByName(name string) (Dialect, error) {
	switch name {
	case MySQL.Name:
		return MySQL, nil
	case SQLite.Name:
		return SQLite, nil
	}
	return Dialect{}, fmt.Errorf("unsupported storage driver %q", name)
}

// SQLStore keeps the catalog and carts in one relational database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, now: time.Now}
}

func (s *SQLStore) timestamp() int64 {
	return s.now().UnixMilli()
}

// NormalizeMySQLDSN forces the options the store relies on: affected-row
// counts that include matched-but-unchanged rows, multi-statement
// migrations and time parsing.
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	cfg.MultiStatements = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	normalized, err := NormalizeMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("mysql", normalized)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

// OpenSQLite opens a single-connection database file in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded migrations for dialect. The caller keeps
// ownership of db.
func Migrate(db *sql.DB, dialect Dialect) error {
	src, err := iofs.New(migrations, "migrations/"+dialect.Name)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}

	var driver database.Driver
	switch dialect.Name {
	case MySQL.Name:
		driver, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	case SQLite.Name:
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		return fmt.Errorf("unsupported storage driver %q", dialect.Name)
	}
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, dialect.Name, driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func affected(result sql.Result) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}
