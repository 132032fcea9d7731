// Package auth implements the shared-secret gate in front of conversions.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/your-org/voxrelay/pkg/storage/credstore"
)

// Outcome is the result of an /auth attempt.
type Outcome int

const (
	OutcomeAuthorized Outcome = iota + 1
	OutcomeAlreadyAuthorized
	OutcomeWrongSecret
	// OutcomeUsage means the command did not carry exactly one argument.
	OutcomeUsage
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthorized:
		return "authorized"
	case OutcomeAlreadyAuthorized:
		return "already_authorized"
	case OutcomeWrongSecret:
		return "wrong_secret"
	case OutcomeUsage:
		return "usage"
	default:
		return "unknown"
	}
}

// GateParams wires a Gate.
type GateParams struct {
	Store  credstore.Store
	Secret string
	Logger *zap.Logger
}

// Gate answers whether a user may submit media and records successful
// authorizations. Authorized users are mirrored in memory; the store is
// written first and the mirror only after the write commits.
type Gate struct {
	store  credstore.Store
	secret []byte
	logger *zap.Logger

	mu    sync.RWMutex
	users map[int64]struct{}
}

// NewGate builds a Gate and rehydrates its mirror from the store.
func NewGate(ctx context.Context, p GateParams) (*Gate, error) {
	if p.Store == nil {
		return nil, errors.New("auth gate: nil credential store")
	}
	if p.Secret == "" {
		return nil, errors.New("auth gate: empty secret")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ids, err := p.Store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load authorized users: %w", err)
	}
	users := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		users[id] = struct{}{}
	}
	logger.Info("authorization gate ready", zap.Int("authorized_users", len(users)))

	return &Gate{
		store:  p.Store,
		secret: []byte(p.Secret),
		logger: logger,
		users:  users,
	}, nil
}

// CheckAndMaybeAuthorize validates the /auth arguments for userID. A store
// failure is returned as an error wrapping credstore.ErrUnavailable and
// leaves the mirror untouched.
func (g *Gate) CheckAndMaybeAuthorize(ctx context.Context, userID int64, args []string) (Outcome, error) {
	if len(args) != 1 {
		return OutcomeUsage, nil
	}
	if subtle.ConstantTimeCompare([]byte(args[0]), g.secret) != 1 {
		g.logger.Info("authorization rejected", zap.Int64("user_id", userID))
		return OutcomeWrongSecret, nil
	}

	if g.cached(userID) {
		return OutcomeAlreadyAuthorized, nil
	}

	res, err := g.store.Authorize(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("authorize user %d: %w", userID, err)
	}

	g.mu.Lock()
	g.users[userID] = struct{}{}
	g.mu.Unlock()

	if res == credstore.AlreadyPresent {
		return OutcomeAlreadyAuthorized, nil
	}
	g.logger.Info("user authorized", zap.Int64("user_id", userID))
	return OutcomeAuthorized, nil
}

// RequireAuthorized reports whether userID may submit media. A mirror miss
// falls through to the store so grants made elsewhere are honoured. When the
// store cannot answer, it returns false together with the store error.
func (g *Gate) RequireAuthorized(ctx context.Context, userID int64) (bool, error) {
	if g.cached(userID) {
		return true, nil
	}

	ok, err := g.store.IsAuthorized(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check user %d: %w", userID, err)
	}
	if ok {
		g.mu.Lock()
		g.users[userID] = struct{}{}
		g.mu.Unlock()
	}
	return ok, nil
}

func (g *Gate) cached(userID int64) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.users[userID]
	return ok
}
