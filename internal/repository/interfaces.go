package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rle/grps/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// TxRunner runs a unit of work inside one database transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// PlayerRepository provides access to players.
type PlayerRepository interface {
	// FindByID returns a player by platform user id, or nil when absent.
	FindByID(ctx context.Context, db DBTX, userID int64) (*domain.Player, error)

	// LockForUpdate acquires a row-level lock (SELECT FOR UPDATE) and returns the player.
	LockForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Player, error)

	// InsertIfAbsent inserts the seed row unless the user id already exists.
	// It reports whether a row was created.
	InsertIfAbsent(ctx context.Context, db DBTX, player *domain.Player) (bool, error)

	// Update writes every mutable column of the player.
	Update(ctx context.Context, db DBTX, player *domain.Player) error

	// TopByPoints orders by rank points, then KOs.
	TopByPoints(ctx context.Context, db DBTX, limit int) ([]domain.Player, error)

	// TopByKOs orders by KOs only.
	TopByKOs(ctx context.Context, db DBTX, limit int) ([]domain.Player, error)

	// TopByWOs orders by WOs only.
	TopByWOs(ctx context.Context, db DBTX, limit int) ([]domain.Player, error)
}

// SnapshotRepository provides access to the append-only player_snapshots log.
type SnapshotRepository interface {
	Insert(ctx context.Context, db DBTX, snap *domain.PlayerSnapshot) error

	// ListByUser returns the newest snapshots first.
	ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.PlayerSnapshot, error)
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the player change).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events in insertion order.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRecord, error)

	// MarkPublished stamps the given rows as published.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
