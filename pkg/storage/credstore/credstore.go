// Package credstore persists the set of users that passed the /auth step.
//
// Membership is monotonic: a user is added once and never removed. Every
// backend reports backend failures as ErrUnavailable so callers never mistake
// an unreachable store for "not authorized".
package credstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnavailable marks failures of the backing store itself.
var ErrUnavailable = errors.New("credential store unavailable")

// Result describes what Authorize did.
type Result int

const (
	// Added means the user was not present and is now durably recorded.
	Added Result = iota + 1
	// AlreadyPresent means the call was a no-op.
	AlreadyPresent
)

func (r Result) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Store is the capability set the authorization gate relies on.
type Store interface {
	IsAuthorized(ctx context.Context, userID int64) (bool, error)
	Authorize(ctx context.Context, userID int64) (Result, error)
	List(ctx context.Context) ([]int64, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend     string
	FilePath    string
	DatabaseURL string
}

// New opens the configured backend.
func New(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "file", "":
		return OpenFile(cfg.FilePath)
	case "postgres":
		return OpenSQL(ctx, DriverPostgres, cfg.DatabaseURL)
	case "sqlite":
		return OpenSQL(ctx, DriverSQLite, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported credential backend: %s", cfg.Backend)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
