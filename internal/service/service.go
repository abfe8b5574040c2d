// Package service holds the progression use cases: snapshot ingestion,
// automation decisions, leaderboards and datastore reconciliation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/provider"
	"github.com/rle/grps/internal/repository"
)

var tracer = otel.Tracer("github.com/rle/grps/internal/service")

// RoleSyncer changes a user's role in the platform group.
type RoleSyncer interface {
	UpdateGroupRole(ctx context.Context, userID, roleID int64) error
}

// Datastore is the platform key/value store holding per-player progression entries.
type Datastore interface {
	ListDatastoreEntries(ctx context.Context, p provider.ListEntriesParams) (*provider.DatastoreListing, error)
	ReadDatastoreEntry(ctx context.Context, p provider.EntryParams) (json.RawMessage, error)
	WriteDatastoreEntry(ctx context.Context, p provider.EntryParams, value any) error
}

// DatastoreConfig locates the progression datastore. UniverseID 0 means unset.
type DatastoreConfig struct {
	UniverseID int64
	Name       string
	Scope      string
	Prefix     string
}

// EntryFor addresses the entry of one player.
func (c DatastoreConfig) EntryFor(userID int64) provider.EntryParams {
	return c.Entry(c.Prefix + strconv.FormatInt(userID, 10))
}

// Entry addresses an entry by its full key.
func (c DatastoreConfig) Entry(key string) provider.EntryParams {
	return provider.EntryParams{
		UniverseID:    c.UniverseID,
		DatastoreName: c.Name,
		Scope:         c.Scope,
		Key:           key,
	}
}

// Repos bundles the persistence dependencies shared by the services.
type Repos struct {
	DB        repository.DBTX
	Tx        repository.TxRunner
	Players   repository.PlayerRepository
	Snapshots repository.SnapshotRepository
	Outbox    repository.OutboxRepository
}

// asAppError passes AppErrors through and wraps anything else as internal.
func asAppError(msg string, err error) error {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return domain.ErrInternal(msg, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
