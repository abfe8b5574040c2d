package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
	"github.com/rle/grps/internal/provider"
	"github.com/rle/grps/internal/repository"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeRoles records every role change and fails when err is set.
type fakeRoles struct {
	mu    sync.Mutex
	calls [][2]int64
	err   error
}

func (f *fakeRoles) UpdateGroupRole(_ context.Context, userID, roleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, [2]int64{userID, roleID})
	return nil
}

func (f *fakeRoles) Calls() [][2]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][2]int64(nil), f.calls...)
}

// fakeDatastore serves a fixed set of raw entries and records writes.
type fakeDatastore struct {
	mu       sync.Mutex
	entries  map[string]string
	order    []string
	cursor   string
	listErr  error
	readErr  map[string]error
	writeErr error
	writes   map[string]any
	lastList provider.ListEntriesParams
}

func newFakeDatastore() *fakeDatastore {
	return &fakeDatastore{
		entries: map[string]string{},
		readErr: map[string]error{},
		writes:  map[string]any{},
	}
}

func (f *fakeDatastore) put(key, value string) {
	f.entries[key] = value
	f.order = append(f.order, key)
}

func (f *fakeDatastore) ListDatastoreEntries(_ context.Context, p provider.ListEntriesParams) (*provider.DatastoreListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastList = p
	if f.listErr != nil {
		return nil, f.listErr
	}
	listing := &provider.DatastoreListing{NextPageCursor: f.cursor}
	for i, key := range f.order {
		if i%2 == 0 {
			listing.Entries = append(listing.Entries, provider.DatastoreEntryRef{EntryKey: key})
		} else {
			listing.Entries = append(listing.Entries, provider.DatastoreEntryRef{Key: key})
		}
	}
	return listing, nil
}

func (f *fakeDatastore) ReadDatastoreEntry(_ context.Context, p provider.EntryParams) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.readErr[p.Key]; err != nil {
		return nil, err
	}
	v, ok := f.entries[p.Key]
	if !ok {
		return nil, &provider.APIError{Operation: "read_datastore_entry", StatusCode: 404}
	}
	return json.RawMessage(v), nil
}

func (f *fakeDatastore) WriteDatastoreEntry(_ context.Context, p provider.EntryParams, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes[p.Key] = value
	return nil
}

func (f *fakeDatastore) written(key string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.writes[key]
	return v, ok
}

type fixture struct {
	store      *repository.InMemoryStore
	repos      Repos
	calc       *calculation.Service
	roles      *fakeRoles
	datastore  *fakeDatastore
	registry   *prometheus.Registry
	metrics    *infra.Metrics
	ingestion  *IngestionService
	automation *AutomationService
	syncer     *SyncService
}

var testDatastore = DatastoreConfig{UniverseID: 777, Name: "PlayerData", Scope: "global", Prefix: "Player_"}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p, err := policy.New([]policy.Rank{
		{Name: "Suspended", IsPunishment: true, RoleID: ptr(int64(90))},
		{Name: "Initiate", RoleID: ptr(int64(1))},
		{Name: "Shock Trooper I", MinPoints: 100, RoleID: ptr(int64(2))},
		{Name: "Shock Trooper II", MinPoints: 250, RoleID: ptr(int64(3))},
		{Name: "Sergeant", MinPoints: 500, Level: "CMD", RoleID: ptr(int64(4))},
		{Name: "Lieutenant", MinPoints: 1000, Privileged: true, RoleID: ptr(int64(5))},
		{Name: "Commander", MinPoints: 2000, Level: "LDR"},
	})
	require.NoError(t, err)

	store := repository.NewInMemoryStore()
	f := &fixture{
		store: store,
		repos: Repos{
			Tx:        store,
			Players:   store.Players(),
			Snapshots: store.Snapshots(),
			Outbox:    store.Outbox(),
		},
		calc:      calculation.NewService(p),
		roles:     &fakeRoles{},
		datastore: newFakeDatastore(),
		registry:  prometheus.NewRegistry(),
	}
	f.metrics = infra.MustNewMetrics(f.registry)
	logger := discardLogger()

	f.automation = NewAutomationService(f.repos, f.calc, f.roles, f.datastore,
		MirrorConfig{Enabled: true, Datastore: testDatastore}, f.metrics, logger)
	f.automation.now = func() time.Time { return fixedNow }
	f.ingestion = NewIngestionService(f.repos, f.calc, f.automation, f.metrics, logger)
	f.ingestion.now = func() time.Time { return fixedNow }
	f.syncer = NewSyncService(f.datastore, testDatastore, f.ingestion, f.metrics, logger)
	return f
}

func (f *fixture) ingest(t *testing.T, snap domain.Snapshot) *domain.Player {
	t.Helper()
	res, err := f.ingestion.Ingest(context.Background(), snap, IngestOptions{})
	require.NoError(t, err)
	return res.Player
}

func (f *fixture) player(t *testing.T, id int64) *domain.Player {
	t.Helper()
	p, err := f.repos.Players.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func (f *fixture) events(t *testing.T) []domain.OutboxRecord {
	t.Helper()
	events, err := f.repos.Outbox.FetchUnpublished(context.Background(), nil, 100)
	require.NoError(t, err)
	return events
}

func snap(id int64, rank string, points, warnings int64) domain.Snapshot {
	return domain.Snapshot{
		UserID:     id,
		Username:   "trooper",
		Rank:       rank,
		RankPoints: points,
		KOs:        3,
		WOs:        1,
		Warnings:   warnings,
		Metadata:   map[string]any{},
	}
}

func requireAppError(t *testing.T, err error, code string) *domain.AppError {
	t.Helper()
	var appErr *domain.AppError
	require.True(t, errors.As(err, &appErr), "expected AppError, got %v", err)
	require.Equal(t, code, appErr.Code)
	return appErr
}
