package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rle/grps/internal/domain"
)

// InMemoryStore keeps players, snapshots and outbox rows in process memory for
// development and tests. It implements TxRunner: units of work are serialized and
// a failed unit leaves no trace. The DBTX and pgx.Tx arguments are ignored.
type InMemoryStore struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	players   map[int64]domain.Player
	snapshots []domain.PlayerSnapshot
	outbox    []memOutboxRow
	nextSnap  int64
	nextEvent int64
}

type memOutboxRow struct {
	record    domain.OutboxRecord
	published bool
}

type memCheckpoint struct {
	players   map[int64]domain.Player
	snapshots []domain.PlayerSnapshot
	outbox    []memOutboxRow
	nextSnap  int64
	nextEvent int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{players: make(map[int64]domain.Player)}
}

// Players returns a PlayerRepository over the store.
func (s *InMemoryStore) Players() PlayerRepository { return memPlayerRepo{s} }

// Snapshots returns a SnapshotRepository over the store.
func (s *InMemoryStore) Snapshots() SnapshotRepository { return memSnapshotRepo{s} }

// Outbox returns an OutboxRepository over the store.
func (s *InMemoryStore) Outbox() OutboxRepository { return memOutboxRepo{s} }

func (s *InMemoryStore) WithinTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	cp := s.checkpoint()
	if err := fn(nil); err != nil {
		s.restore(cp)
		return err
	}
	return nil
}

func (s *InMemoryStore) checkpoint() memCheckpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return memCheckpoint{
		players:   maps.Clone(s.players),
		snapshots: slices.Clone(s.snapshots),
		outbox:    slices.Clone(s.outbox),
		nextSnap:  s.nextSnap,
		nextEvent: s.nextEvent,
	}
}

func (s *InMemoryStore) restore(cp memCheckpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.players = cp.players
	s.snapshots = cp.snapshots
	s.outbox = cp.outbox
	s.nextSnap = cp.nextSnap
	s.nextEvent = cp.nextEvent
}

func clonePlayer(p domain.Player) domain.Player {
	p.Metadata.Extra = maps.Clone(p.Metadata.Extra)
	return p
}

type memPlayerRepo struct{ s *InMemoryStore }

func (r memPlayerRepo) FindByID(_ context.Context, _ DBTX, userID int64) (*domain.Player, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.players[userID]
	if !ok {
		return nil, nil
	}
	cp := clonePlayer(p)
	return &cp, nil
}

func (r memPlayerRepo) LockForUpdate(ctx context.Context, _ pgx.Tx, userID int64) (*domain.Player, error) {
	return r.FindByID(ctx, nil, userID)
}

func (r memPlayerRepo) InsertIfAbsent(_ context.Context, _ DBTX, player *domain.Player) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, exists := r.s.players[player.UserID]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	row := clonePlayer(*player)
	row.CreatedAt, row.UpdatedAt = now, now
	r.s.players[player.UserID] = row
	return true, nil
}

func (r memPlayerRepo) Update(_ context.Context, _ DBTX, player *domain.Player) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.players[player.UserID]
	if !ok {
		return fmt.Errorf("update player %d: no such row", player.UserID)
	}
	player.CreatedAt = existing.CreatedAt
	player.UpdatedAt = time.Now().UTC()
	r.s.players[player.UserID] = clonePlayer(*player)
	return nil
}

func (r memPlayerRepo) TopByPoints(_ context.Context, _ DBTX, limit int) ([]domain.Player, error) {
	return r.sorted(limit, func(a, b domain.Player) bool {
		if a.RankPoints != b.RankPoints {
			return a.RankPoints > b.RankPoints
		}
		if a.KOs != b.KOs {
			return a.KOs > b.KOs
		}
		return a.UserID < b.UserID
	}), nil
}

func (r memPlayerRepo) TopByKOs(_ context.Context, _ DBTX, limit int) ([]domain.Player, error) {
	return r.sorted(limit, func(a, b domain.Player) bool {
		if a.KOs != b.KOs {
			return a.KOs > b.KOs
		}
		return a.UserID < b.UserID
	}), nil
}

func (r memPlayerRepo) TopByWOs(_ context.Context, _ DBTX, limit int) ([]domain.Player, error) {
	return r.sorted(limit, func(a, b domain.Player) bool {
		if a.WOs != b.WOs {
			return a.WOs > b.WOs
		}
		return a.UserID < b.UserID
	}), nil
}

func (r memPlayerRepo) sorted(limit int, less func(a, b domain.Player) bool) []domain.Player {
	r.s.mu.RLock()
	all := make([]domain.Player, 0, len(r.s.players))
	for _, p := range r.s.players {
		all = append(all, clonePlayer(p))
	}
	r.s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return less(all[i], all[j]) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all
}

type memSnapshotRepo struct{ s *InMemoryStore }

func (r memSnapshotRepo) Insert(_ context.Context, _ DBTX, snap *domain.PlayerSnapshot) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.players[snap.UserID]; !ok {
		return fmt.Errorf("insert player snapshot: unknown player %d", snap.UserID)
	}
	r.s.nextSnap++
	snap.ID = r.s.nextSnap
	snap.CreatedAt = time.Now().UTC()
	r.s.snapshots = append(r.s.snapshots, *snap)
	return nil
}

func (r memSnapshotRepo) ListByUser(_ context.Context, _ DBTX, userID int64, limit int) ([]domain.PlayerSnapshot, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.PlayerSnapshot
	for i := len(r.s.snapshots) - 1; i >= 0 && len(out) < limit; i-- {
		if r.s.snapshots[i].UserID == userID {
			out = append(out, r.s.snapshots[i])
		}
	}
	return out, nil
}

type memOutboxRepo struct{ s *InMemoryStore }

func (r memOutboxRepo) Insert(_ context.Context, _ DBTX, draft domain.OutboxDraft) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.nextEvent++
	r.s.outbox = append(r.s.outbox, memOutboxRow{
		record: domain.OutboxRecord{ID: r.s.nextEvent, OutboxDraft: draft},
	})
	return nil
}

func (r memOutboxRepo) FetchUnpublished(_ context.Context, _ DBTX, limit int) ([]domain.OutboxRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.OutboxRecord
	for _, row := range r.s.outbox {
		if len(out) == limit {
			break
		}
		if !row.published {
			out = append(out, row.record)
		}
	}
	return out, nil
}

func (r memOutboxRepo) MarkPublished(_ context.Context, _ DBTX, ids []int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.outbox {
		if slices.Contains(ids, r.s.outbox[i].record.ID) {
			r.s.outbox[i].published = true
		}
	}
	return nil
}
