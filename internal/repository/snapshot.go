package repository

import (
	"context"
	"fmt"

	"github.com/rle/grps/internal/domain"
)

type snapshotRepo struct{}

// NewSnapshotRepository returns a pgx-backed SnapshotRepository.
func NewSnapshotRepository() SnapshotRepository {
	return &snapshotRepo{}
}

func (r *snapshotRepo) Insert(ctx context.Context, db DBTX, snap *domain.PlayerSnapshot) error {
	row := db.QueryRow(ctx, `
		INSERT INTO player_snapshots (user_id, source, payload, experience_key, actor_user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		snap.UserID,
		snap.Source,
		[]byte(snap.Payload),
		snap.ExperienceKey,
		snap.ActorUserID,
	)
	if err := row.Scan(&snap.ID, &snap.CreatedAt); err != nil {
		return fmt.Errorf("insert player snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepo) ListByUser(ctx context.Context, db DBTX, userID int64, limit int) ([]domain.PlayerSnapshot, error) {
	rows, err := db.Query(ctx, `
		SELECT id, user_id, source, payload, experience_key, actor_user_id, created_at
		FROM player_snapshots
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list player snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PlayerSnapshot
	for rows.Next() {
		var s domain.PlayerSnapshot
		var payload []byte
		if err := rows.Scan(&s.ID, &s.UserID, &s.Source, &payload, &s.ExperienceKey, &s.ActorUserID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan player snapshot: %w", err)
		}
		s.Payload = payload
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
