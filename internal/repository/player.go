package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rle/grps/internal/domain"
)

const playerColumns = `user_id, username, display_name, rank, previous_rank, next_rank,
	rank_points, kos, wos, warnings, recommendations, privileged,
	punishment_status, punishment_expires_at, metadata,
	created_at, updated_at, last_synced_at`

type playerRepo struct{}

// NewPlayerRepository returns a pgx-backed PlayerRepository.
func NewPlayerRepository() PlayerRepository {
	return &playerRepo{}
}

func (r *playerRepo) FindByID(ctx context.Context, db DBTX, userID int64) (*domain.Player, error) {
	row := db.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE user_id = $1`, userID)
	return scanPlayer(row)
}

func (r *playerRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*domain.Player, error) {
	row := tx.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE user_id = $1 FOR UPDATE`, userID)
	return scanPlayer(row)
}

// InsertIfAbsent relies on ON CONFLICT so concurrent first ingests of one id
// collapse into a single row.
func (r *playerRepo) InsertIfAbsent(ctx context.Context, db DBTX, player *domain.Player) (bool, error) {
	meta, err := json.Marshal(player.Metadata)
	if err != nil {
		return false, fmt.Errorf("marshal metadata: %w", err)
	}
	tag, err := db.Exec(ctx, `
		INSERT INTO players (user_id, username, rank, rank_points, kos, wos, warnings, recommendations, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO NOTHING`,
		player.UserID,
		player.Username,
		player.Rank,
		player.RankPoints,
		player.KOs,
		player.WOs,
		player.Warnings,
		player.Recommendations,
		meta,
	)
	if err != nil {
		return false, fmt.Errorf("insert player: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *playerRepo) Update(ctx context.Context, db DBTX, player *domain.Player) error {
	meta, err := json.Marshal(player.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	row := db.QueryRow(ctx, `
		UPDATE players SET
		  username = $2, display_name = $3, rank = $4, previous_rank = $5, next_rank = $6,
		  rank_points = $7, kos = $8, wos = $9, warnings = $10, recommendations = $11,
		  privileged = $12, punishment_status = $13, punishment_expires_at = $14,
		  metadata = $15, last_synced_at = $16, updated_at = now()
		WHERE user_id = $1
		RETURNING updated_at`,
		player.UserID,
		player.Username,
		player.DisplayName,
		player.Rank,
		player.PreviousRank,
		player.NextRank,
		player.RankPoints,
		player.KOs,
		player.WOs,
		player.Warnings,
		player.Recommendations,
		player.Privileged,
		player.PunishmentStatus,
		player.PunishmentExpiresAt,
		meta,
		player.LastSyncedAt,
	)
	if err := row.Scan(&player.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("update player %d: no such row", player.UserID)
		}
		return fmt.Errorf("update player: %w", err)
	}
	return nil
}

func (r *playerRepo) TopByPoints(ctx context.Context, db DBTX, limit int) ([]domain.Player, error) {
	return r.list(ctx, db, `ORDER BY rank_points DESC, kos DESC, user_id ASC`, limit)
}

func (r *playerRepo) TopByKOs(ctx context.Context, db DBTX, limit int) ([]domain.Player, error) {
	return r.list(ctx, db, `ORDER BY kos DESC, user_id ASC`, limit)
}

func (r *playerRepo) TopByWOs(ctx context.Context, db DBTX, limit int) ([]domain.Player, error) {
	return r.list(ctx, db, `ORDER BY wos DESC, user_id ASC`, limit)
}

func (r *playerRepo) list(ctx context.Context, db DBTX, orderBy string, limit int) ([]domain.Player, error) {
	rows, err := db.Query(ctx, `SELECT `+playerColumns+` FROM players `+orderBy+` LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	var players []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, *p)
	}
	return players, rows.Err()
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	var meta []byte
	err := row.Scan(
		&p.UserID, &p.Username, &p.DisplayName, &p.Rank, &p.PreviousRank, &p.NextRank,
		&p.RankPoints, &p.KOs, &p.WOs, &p.Warnings, &p.Recommendations, &p.Privileged,
		&p.PunishmentStatus, &p.PunishmentExpiresAt, &meta,
		&p.CreatedAt, &p.UpdatedAt, &p.LastSyncedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan player: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, fmt.Errorf("decode player metadata: %w", err)
		}
	}
	return &p, nil
}
