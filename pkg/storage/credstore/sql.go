package credstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Driver names a database/sql driver supported by SQLStore.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

const (
	queryIsAuthorized = `SELECT COUNT(1) FROM authorized_users WHERE user_id = $1`
	queryAuthorize    = `INSERT INTO authorized_users (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`
	queryList         = `SELECT user_id FROM authorized_users ORDER BY user_id`
)

// SQLStore keeps authorized users in a single-column relational table.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects with the given driver, configures the pool, and applies
// the embedded migrations.
func OpenSQL(ctx context.Context, driver Driver, dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("open credential database: empty DATABASE_URL")
	}
	if driver == DriverSQLite {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	switch driver {
	case DriverPostgres:
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	case DriverSQLite:
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	default:
		_ = db.Close()
		return nil, fmt.Errorf("unsupported sql driver: %s", driver)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return newSQLStore(db), nil
}

func newSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func runMigrations(ctx context.Context, db *sql.DB, driver Driver) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case DriverPostgres:
		// Closing a driver built from the *sql.DB would close the pool, so
		// postgres migrates over a single borrowed connection instead.
		var conn *sql.Conn
		conn, err = db.Conn(ctx)
		if err != nil {
			return fmt.Errorf("acquire migration connection: %w", err)
		}
		dbDriver, err = migratepg.WithConnection(ctx, conn, &migratepg.Config{})
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("create migration db driver: %w", err)
		}
		defer dbDriver.Close() //nolint:errcheck
	case DriverSQLite:
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		err = fmt.Errorf("unsupported sql driver: %s", driver)
	}
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, string(driver), dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *SQLStore) IsAuthorized(ctx context.Context, userID int64) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, queryIsAuthorized, userID).Scan(&count); err != nil {
		return false, unavailable("query authorized user", err)
	}
	return count > 0, nil
}

func (s *SQLStore) Authorize(ctx context.Context, userID int64) (Result, error) {
	res, err := s.db.ExecContext(ctx, queryAuthorize, userID)
	if err != nil {
		return 0, unavailable("insert authorized user", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("insert authorized user", err)
	}
	if n == 0 {
		return AlreadyPresent, nil
	}
	return Added, nil
}

func (s *SQLStore) List(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, queryList)
	if err != nil {
		return nil, unavailable("list authorized users", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("scan authorized user", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list authorized users", err)
	}
	return ids, nil
}

// Close closes the underlying database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
