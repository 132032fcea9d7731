package credstore

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

// newMockStore creates a sqlmock-backed store with automatic expectation checking.
func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
		db.Close()
	})
	return newSQLStore(db), mock
}

func TestSQLStoreAuthorize(t *testing.T) {
	for _, tc := range []struct {
		name     string
		affected int64
		want     Result
	}{
		{"new user", 1, Added},
		{"existing user", 0, AlreadyPresent},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(`INSERT INTO authorized_users \(user_id\) VALUES \(\$1\) ON CONFLICT \(user_id\) DO NOTHING`).
				WithArgs(int64(42)).
				WillReturnResult(sqlmock.NewResult(0, tc.affected))

			got, err := store.Authorize(context.Background(), 42)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if got != tc.want {
				t.Fatalf("Authorize = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSQLStoreIsAuthorized(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM authorized_users WHERE user_id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM authorized_users WHERE user_id = \$1`).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := store.IsAuthorized(context.Background(), 7)
	if err != nil || !ok {
		t.Fatalf("IsAuthorized(7) = %v, %v", ok, err)
	}
	ok, err = store.IsAuthorized(context.Background(), 8)
	if err != nil || ok {
		t.Fatalf("IsAuthorized(8) = %v, %v", ok, err)
	}
}

func TestSQLStoreErrorsAreUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	connErr := errors.New("connection refused")
	mock.ExpectQuery(`SELECT COUNT\(1\)`).WithArgs(int64(1)).WillReturnError(connErr)
	mock.ExpectExec(`INSERT INTO authorized_users`).WithArgs(int64(1)).WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery(`SELECT user_id FROM authorized_users`).WillReturnError(connErr)

	ok, err := store.IsAuthorized(context.Background(), 1)
	if ok || !errors.Is(err, ErrUnavailable) || !errors.Is(err, connErr) {
		t.Fatalf("IsAuthorized = %v, %v; want false, ErrUnavailable", ok, err)
	}
	if _, err := store.Authorize(context.Background(), 1); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Authorize err = %v, want ErrUnavailable", err)
	}
	if _, err := store.List(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("List err = %v, want ErrUnavailable", err)
	}
}

func TestSQLStoreList(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT user_id FROM authorized_users ORDER BY user_id`).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(int64(1)).AddRow(int64(5)))

	ids, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !slices.Equal(ids, []int64{1, 5}) {
		t.Fatalf("List = %v", ids)
	}
}

func TestSQLiteStoreEndToEnd(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "credentials.db")

	store, err := New(ctx, Config{Backend: "sqlite", DatabaseURL: dsn})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if res, err := store.Authorize(ctx, 123); err != nil || res != Added {
		t.Fatalf("Authorize = %v, %v", res, err)
	}
	if res, err := store.Authorize(ctx, 123); err != nil || res != AlreadyPresent {
		t.Fatalf("repeat Authorize = %v, %v", res, err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening re-runs migrations as a no-op and sees prior writes.
	reopened, err := New(ctx, Config{Backend: "sqlite", DatabaseURL: "sqlite://" + dsn})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	ok, err := reopened.IsAuthorized(ctx, 123)
	if err != nil || !ok {
		t.Fatalf("IsAuthorized = %v, %v", ok, err)
	}
	ids, err := reopened.List(ctx)
	if err != nil || !slices.Equal(ids, []int64{123}) {
		t.Fatalf("List = %v, %v", ids, err)
	}
}

// assertPoolIdle fails when OpenSQL left a connection checked out of the pool.
func assertPoolIdle(t *testing.T, store *SQLStore) {
	t.Helper()
	if inUse := store.db.Stats().InUse; inUse != 0 {
		t.Fatalf("connections in use after open = %d, want 0", inUse)
	}
}

func TestOpenSQLReleasesMigrationConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("sqlite", func(t *testing.T) {
		store, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "credentials.db"))
		if err != nil {
			t.Fatalf("OpenSQL: %v", err)
		}
		defer store.Close()
		assertPoolIdle(t, store)
		if _, err := store.IsAuthorized(ctx, 1); err != nil {
			t.Fatalf("IsAuthorized after migrations: %v", err)
		}
	})

	t.Run("postgres", func(t *testing.T) {
		dsn := os.Getenv("VOXRELAY_TEST_POSTGRES_URL")
		if dsn == "" {
			t.Skip("VOXRELAY_TEST_POSTGRES_URL not set")
		}
		store, err := OpenSQL(ctx, DriverPostgres, dsn)
		if err != nil {
			t.Fatalf("OpenSQL: %v", err)
		}
		defer store.Close()
		assertPoolIdle(t, store)
		if _, err := store.IsAuthorized(ctx, 1); err != nil {
			t.Fatalf("IsAuthorized after migrations: %v", err)
		}
		assertPoolIdle(t, store)
	})
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), Config{Backend: "redis"}); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
