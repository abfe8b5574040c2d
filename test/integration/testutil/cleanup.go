//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates all tables.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := env.Pool.Exec(ctx, "TRUNCATE player_snapshots, players, event_outbox RESTART IDENTITY CASCADE"); err != nil {
		env.t.Fatalf("CleanAll: %v", err)
	}
}
