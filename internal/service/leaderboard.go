package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
)

// Leaderboard limits.
const (
	DefaultLeaderboardLimit = 25
	MaxLeaderboardLimit     = 100
	DefaultRecordsLimit     = 5
	MaxRecordsLimit         = 50
)

// TopPlayers is the points leaderboard. LastSyncedAt is taken from the leader.
type TopPlayers struct {
	Players      []domain.LeaderboardPlayer `json:"players"`
	LastSyncedAt *time.Time                 `json:"lastSyncedAt"`
}

type cachedBoard struct {
	value    any
	storedAt time.Time
}

// LeaderboardService serves read-only rankings, optionally through a short-lived cache.
type LeaderboardService struct {
	repos  Repos
	calc   *calculation.Service
	cache  *lru.Cache[string, cachedBoard]
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewLeaderboardService creates a LeaderboardService. A zero ttl disables caching.
func NewLeaderboardService(repos Repos, calc *calculation.Service, ttl time.Duration, cacheSize int, logger *slog.Logger) *LeaderboardService {
	s := &LeaderboardService{
		repos:  repos,
		calc:   calc,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
	if ttl > 0 {
		if cacheSize <= 0 {
			cacheSize = 64
		}
		cache, err := lru.New[string, cachedBoard](cacheSize)
		if err != nil {
			logger.Warn("leaderboard cache disabled", "error", err)
		} else {
			s.cache = cache
		}
	}
	return s
}

// FetchTopPlayers returns players ordered by rank points, then KOs, then user id.
func (s *LeaderboardService) FetchTopPlayers(ctx context.Context, limit int) (res *TopPlayers, err error) {
	limit, err = domain.ValidateLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	key := fmt.Sprintf("top:%d", limit)
	if v, ok := s.cached(key); ok {
		return v.(*TopPlayers), nil
	}

	ctx, span := tracer.Start(ctx, "LeaderboardService.FetchTopPlayers",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer func() { endSpan(span, err) }()

	players, err := s.repos.Players.TopByPoints(ctx, s.repos.DB, limit)
	if err != nil {
		return nil, domain.ErrInternal("list top players", err)
	}

	out := &TopPlayers{Players: make([]domain.LeaderboardPlayer, 0, len(players))}
	for i := range players {
		out.Players = append(out.Players, leaderboardEntry(s.calc.SerializePlayer(&players[i])))
	}
	if len(out.Players) > 0 {
		out.LastSyncedAt = out.Players[0].LastSyncedAt
	}
	s.store(key, out)
	return out, nil
}

// FetchRecordHolders returns the KO and WO leaders. The two lists are independent.
func (s *LeaderboardService) FetchRecordHolders(ctx context.Context, limit int) (res *domain.RecordHolders, err error) {
	limit, err = domain.ValidateLimit(limit, DefaultRecordsLimit, MaxRecordsLimit)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	key := fmt.Sprintf("records:%d", limit)
	if v, ok := s.cached(key); ok {
		return v.(*domain.RecordHolders), nil
	}

	ctx, span := tracer.Start(ctx, "LeaderboardService.FetchRecordHolders",
		trace.WithAttributes(attribute.Int("limit", limit)))
	defer func() { endSpan(span, err) }()

	out := &domain.RecordHolders{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		players, err := s.repos.Players.TopByKOs(gctx, s.repos.DB, limit)
		if err != nil {
			return fmt.Errorf("list KO leaders: %w", err)
		}
		out.KOs = make([]domain.LeaderboardRecord, 0, len(players))
		for _, p := range players {
			kos := p.KOs
			out.KOs = append(out.KOs, domain.LeaderboardRecord{UserID: p.UserID, Username: p.Username, KOs: &kos})
		}
		return nil
	})
	g.Go(func() error {
		players, err := s.repos.Players.TopByWOs(gctx, s.repos.DB, limit)
		if err != nil {
			return fmt.Errorf("list WO leaders: %w", err)
		}
		out.WOs = make([]domain.LeaderboardRecord, 0, len(players))
		for _, p := range players {
			wos := p.WOs
			out.WOs = append(out.WOs, domain.LeaderboardRecord{UserID: p.UserID, Username: p.Username, WOs: &wos})
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, domain.ErrInternal("list record holders", err)
	}
	s.store(key, out)
	return out, nil
}

// leaderboardEntry projects the public view onto a leaderboard row.
func leaderboardEntry(view domain.PlayerView) domain.LeaderboardPlayer {
	return domain.LeaderboardPlayer{
		UserID:       view.UserID,
		Username:     view.Username,
		Rank:         view.Rank,
		Points:       view.RankPoints,
		KOs:          view.KOs,
		WOs:          view.WOs,
		LastSyncedAt: view.LastSyncedAt,
	}
}

func (s *LeaderboardService) cached(key string) (any, bool) {
	if s.cache == nil {
		return nil, false
	}
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if s.now().Sub(entry.storedAt) >= s.ttl {
		s.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

func (s *LeaderboardService) store(key string, value any) {
	if s.cache == nil {
		return
	}
	s.cache.Add(key, cachedBoard{value: value, storedAt: s.now()})
}
