package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rle/grps/internal/domain"
)

func TestIngest_CreatesPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingestion.Ingest(ctx, snap(42, "", 150, 0), IngestOptions{ActorUserID: ptr(int64(7))})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "Shock Trooper I", res.Player.Rank)
	require.NotNil(t, res.Player.LastSyncedAt)
	assert.Equal(t, fixedNow, *res.Player.LastSyncedAt)

	snaps, err := f.repos.Snapshots.ListByUser(ctx, nil, 42, 10)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, SourceRoblox, snaps[0].Source)
	assert.Equal(t, int64(7), *snaps[0].ActorUserID)
	assert.Nil(t, snaps[0].ExperienceKey)

	var stored domain.Snapshot
	require.NoError(t, json.Unmarshal(snaps[0].Payload, &stored))
	assert.Equal(t, int64(150), stored.RankPoints)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventPlayerCreated, events[0].EventType)
	assert.Equal(t, "42", events[0].PartitionKey)
}

func TestIngest_UpdatesExistingPlayer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.ingest(t, snap(42, "", 150, 0))

	next := snap(42, "", 600, 2)
	next.Username = "renamed"
	next.Experience = &domain.ExperienceContext{ExperienceKey: ptr("main-server")}
	res, err := f.ingestion.Ingest(ctx, next, IngestOptions{Source: SourceDatastoreSync})
	require.NoError(t, err)

	assert.False(t, res.Created)
	assert.Equal(t, "Sergeant", res.Player.Rank)
	assert.Equal(t, "renamed", res.Player.Username)
	assert.Equal(t, int64(2), res.Player.Warnings)
	assert.True(t, res.Player.Privileged)
	assert.Equal(t, first.CreatedAt, res.Player.CreatedAt)

	snaps, _ := f.repos.Snapshots.ListByUser(ctx, nil, 42, 10)
	require.Len(t, snaps, 2)
	assert.Equal(t, SourceDatastoreSync, snaps[0].Source)
	assert.Equal(t, "main-server", *snaps[0].ExperienceKey)

	assert.Len(t, f.events(t), 1, "only the first ingest emits player.created")
}

func TestIngest_ExplicitExperienceKeyWins(t *testing.T) {
	f := newFixture(t)
	s := snap(42, "", 0, 0)
	s.Experience = &domain.ExperienceContext{ExperienceKey: ptr("from-body")}

	_, err := f.ingestion.Ingest(context.Background(), s, IngestOptions{ExperienceKey: "from-header"})
	require.NoError(t, err)

	snaps, _ := f.repos.Snapshots.ListByUser(context.Background(), nil, 42, 1)
	require.Len(t, snaps, 1)
	assert.Equal(t, "from-header", *snaps[0].ExperienceKey)
}

func TestIngest_ConcurrentFirstIngestsCreateOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	created := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ingestion.Ingest(context.Background(), snap(42, "", 10, 0), IngestOptions{})
			assert.NoError(t, err)
			if err == nil {
				created <- res.Created
			}
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for c := range created {
		if c {
			n++
		}
	}
	assert.Equal(t, 1, n)
	assert.Len(t, f.events(t), 1)
}

func TestIngest_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ingestion.Ingest(ctx, snap(42, "", 10, 0), IngestOptions{})
	requireAppError(t, err, "INTERNAL_ERROR")

	p, _ := f.repos.Players.FindByID(context.Background(), nil, 42)
	assert.Nil(t, p)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ingestion.History(ctx, 42, 0)
	requireAppError(t, err, "NOT_FOUND")

	f.ingest(t, snap(42, "", 10, 0))
	f.ingest(t, snap(42, "", 20, 0))
	f.ingest(t, snap(42, "", 30, 0))

	snaps, err := f.ingestion.History(ctx, 42, 2)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Greater(t, snaps[0].ID, snaps[1].ID)

	_, err = f.ingestion.History(ctx, 42, 101)
	requireAppError(t, err, "VALIDATION_ERROR")
}

func TestIngest_EvaluateAppliesInSameTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.ingestion.Ingest(ctx, snap(42, "Sergeant", 1200, 0), IngestOptions{
		Evaluate: &EvaluateOptions{Apply: true, ActorUserID: ptr(int64(9))},
	})
	require.NoError(t, err)
	drain(t, f.automation)

	require.NotNil(t, res.Decision)
	assert.Equal(t, domain.ActionPromote, res.Decision.Action)
	assert.Equal(t, "Lieutenant", res.Player.Rank)
	assert.Equal(t, "Lieutenant", f.player(t, 42).Rank)
	assert.Equal(t, [][2]int64{{42, 5}}, f.roles.Calls())

	events := f.events(t)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPlayerCreated, events[0].EventType)
	assert.Equal(t, domain.EventPlayerPromoted, events[1].EventType)

	_, mirrored := f.datastore.written("Player_42")
	assert.True(t, mirrored)
}

func TestIngest_EvaluateWithoutApply(t *testing.T) {
	f := newFixture(t)

	res, err := f.ingestion.Ingest(context.Background(), snap(42, "Sergeant", 1200, 0), IngestOptions{
		Evaluate: &EvaluateOptions{},
	})
	require.NoError(t, err)

	require.NotNil(t, res.Decision)
	assert.Equal(t, domain.ActionPromote, res.Decision.Action)
	assert.False(t, res.Decision.Apply)
	assert.Equal(t, "Sergeant", f.player(t, 42).Rank)
	assert.Empty(t, f.roles.Calls())
}

func TestIngest_FailedApplyRollsBackIngest(t *testing.T) {
	t.Run("new player", func(t *testing.T) {
		f := newFixture(t)
		f.roles.err = errors.New("403 forbidden")

		_, err := f.ingestion.Ingest(context.Background(), snap(42, "Sergeant", 1200, 0), IngestOptions{
			Evaluate: &EvaluateOptions{Apply: true},
		})
		requireAppError(t, err, "EXTERNAL_SERVICE_ERROR")

		p, err := f.repos.Players.FindByID(context.Background(), nil, 42)
		require.NoError(t, err)
		assert.Nil(t, p)
		assert.Empty(t, f.events(t))
	})

	t.Run("existing player", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		f.ingest(t, snap(42, "Sergeant", 600, 0))
		f.roles.err = errors.New("403 forbidden")

		_, err := f.ingestion.Ingest(ctx, snap(42, "Sergeant", 1200, 0), IngestOptions{
			Evaluate: &EvaluateOptions{Apply: true},
		})
		requireAppError(t, err, "EXTERNAL_SERVICE_ERROR")

		assert.Equal(t, int64(600), f.player(t, 42).RankPoints)
		snaps, err := f.repos.Snapshots.ListByUser(ctx, nil, 42, 10)
		require.NoError(t, err)
		assert.Len(t, snaps, 1)
		assert.Len(t, f.events(t), 1)
	})
}

func TestIngest_EvaluateRequiresAutomation(t *testing.T) {
	f := newFixture(t)
	ingestion := NewIngestionService(f.repos, f.calc, nil, f.metrics, discardLogger())

	_, err := ingestion.Ingest(context.Background(), snap(42, "", 10, 0), IngestOptions{
		Evaluate: &EvaluateOptions{},
	})
	requireAppError(t, err, "CONFIGURATION_ERROR")
}
