package guard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rle/grps/internal/provider"
)

// Circuit keys. Group role updates and datastore access fail independently.
const (
	KeyGroups    = "roblox_groups"
	KeyDatastore = "roblox_datastore"
)

// Platform is the set of game platform calls the services make.
type Platform interface {
	UpdateGroupRole(ctx context.Context, userID, roleID int64) error
	ListDatastoreEntries(ctx context.Context, p provider.ListEntriesParams) (*provider.DatastoreListing, error)
	ReadDatastoreEntry(ctx context.Context, p provider.EntryParams) (json.RawMessage, error)
	WriteDatastoreEntry(ctx context.Context, p provider.EntryParams, value any) error
}

// GuardedPlatform short-circuits platform calls while the upstream is failing.
type GuardedPlatform struct {
	inner   Platform
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// NewGuardedPlatform wraps inner with breaker. A nil breaker returns inner unchanged.
func NewGuardedPlatform(inner Platform, breaker *CircuitBreaker, logger *slog.Logger) Platform {
	if breaker == nil {
		return inner
	}
	return &GuardedPlatform{inner: inner, breaker: breaker, logger: logger}
}

func (g *GuardedPlatform) UpdateGroupRole(ctx context.Context, userID, roleID int64) error {
	return g.call(KeyGroups, func() error {
		return g.inner.UpdateGroupRole(ctx, userID, roleID)
	})
}

func (g *GuardedPlatform) ListDatastoreEntries(ctx context.Context, p provider.ListEntriesParams) (*provider.DatastoreListing, error) {
	var listing *provider.DatastoreListing
	err := g.call(KeyDatastore, func() error {
		var err error
		listing, err = g.inner.ListDatastoreEntries(ctx, p)
		return err
	})
	return listing, err
}

func (g *GuardedPlatform) ReadDatastoreEntry(ctx context.Context, p provider.EntryParams) (json.RawMessage, error) {
	var raw json.RawMessage
	err := g.call(KeyDatastore, func() error {
		var err error
		raw, err = g.inner.ReadDatastoreEntry(ctx, p)
		return err
	})
	return raw, err
}

func (g *GuardedPlatform) WriteDatastoreEntry(ctx context.Context, p provider.EntryParams, value any) error {
	return g.call(KeyDatastore, func() error {
		return g.inner.WriteDatastoreEntry(ctx, p, value)
	})
}

func (g *GuardedPlatform) call(key string, fn func() error) error {
	if err := g.breaker.Allow(key); err != nil {
		return err
	}
	err := fn()
	switch {
	case err == nil, !tripsCircuit(err):
		g.breaker.RecordSuccess(key)
	default:
		g.breaker.RecordFailure(key)
		if g.breaker.State(key) == CircuitOpen {
			g.logger.Warn("platform circuit open", "circuit", key, "error", err)
		}
	}
	return err
}

// tripsCircuit reports whether err says the upstream is unhealthy. Client
// errors such as a missing datastore key do not count.
func tripsCircuit(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return true
}
