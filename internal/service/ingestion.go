package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/infra"
)

// Snapshot audit sources.
const (
	SourceRoblox        = "roblox"
	SourceDatastoreSync = "datastore_sync"
)

// IngestOptions carries request context recorded with the snapshot.
type IngestOptions struct {
	ExperienceKey string
	ActorUserID   *int64
	Source        string
	// Evaluate runs the automation rules against the updated player inside the
	// ingest transaction. A failed apply discards the ingest too.
	Evaluate *EvaluateOptions
}

// IngestResult is the stored player after ingestion.
type IngestResult struct {
	Player  *domain.Player
	Created bool
	// Decision is set when IngestOptions.Evaluate was given.
	Decision *domain.AutomationDecision
}

// IngestionService persists snapshots and keeps the player record current.
type IngestionService struct {
	repos      Repos
	calc       *calculation.Service
	automation *AutomationService
	metrics    *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewIngestionService creates an IngestionService. automation may be nil when
// ingests never request evaluation.
func NewIngestionService(repos Repos, calc *calculation.Service, automation *AutomationService, metrics *infra.Metrics, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		repos:      repos,
		calc:       calc,
		automation: automation,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest upserts the player named by the snapshot and appends the snapshot to
// the audit log, all in one transaction. Concurrent ingests of one user id are
// serialized on the player row.
func (s *IngestionService) Ingest(ctx context.Context, snap domain.Snapshot, opts IngestOptions) (res *IngestResult, err error) {
	ctx, span := tracer.Start(ctx, "IngestionService.Ingest",
		trace.WithAttributes(attribute.Int64("user_id", snap.UserID)))
	defer func() { endSpan(span, err) }()

	source := opts.Source
	if source == "" {
		source = SourceRoblox
	}
	experienceKey := opts.ExperienceKey
	if experienceKey == "" {
		experienceKey = snap.ExperienceKey()
	}

	if opts.Evaluate != nil && s.automation == nil {
		return nil, domain.ErrConfiguration("automation is not configured for ingestion")
	}

	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, domain.ErrInternal("encode snapshot", err)
	}

	var (
		result  IngestResult
		applied bool
	)
	err = s.repos.Tx.WithinTx(ctx, func(tx pgx.Tx) error {
		created, err := s.repos.Players.InsertIfAbsent(ctx, tx, domain.NewSeedPlayer(snap.UserID, snap.Username))
		if err != nil {
			return err
		}

		player, err := s.repos.Players.LockForUpdate(ctx, tx, snap.UserID)
		if err != nil {
			return err
		}
		if player == nil {
			return fmt.Errorf("player %d vanished after insert", snap.UserID)
		}

		s.calc.ApplySnapshot(player, snap)
		now := s.now().UTC()
		player.LastSyncedAt = &now
		if err := s.repos.Players.Update(ctx, tx, player); err != nil {
			return err
		}

		record := &domain.PlayerSnapshot{
			UserID:      snap.UserID,
			Source:      source,
			Payload:     payload,
			ActorUserID: opts.ActorUserID,
		}
		if experienceKey != "" {
			record.ExperienceKey = &experienceKey
		}
		if err := s.repos.Snapshots.Insert(ctx, tx, record); err != nil {
			return err
		}

		if created {
			if err := s.repos.Outbox.Insert(ctx, tx, domain.NewPlayerCreatedEvent(player, source)); err != nil {
				return err
			}
		}

		result = IngestResult{Player: player, Created: created}
		if opts.Evaluate != nil {
			decision, ok, err := s.automation.evaluateLocked(ctx, tx, player, *opts.Evaluate)
			if err != nil {
				return err
			}
			result.Decision = &decision
			applied = ok
		}
		return nil
	})
	if err != nil {
		return nil, asAppError("ingest snapshot", err)
	}

	s.metrics.IncIngest(result.Created)
	if result.Decision != nil {
		s.automation.afterCommit(result.Player, *result.Decision, applied)
	}
	s.logger.Debug("snapshot ingested",
		"user_id", snap.UserID,
		"rank", result.Player.Rank,
		"created", result.Created,
		"source", source,
	)
	return &result, nil
}

// History returns the most recent snapshots recorded for a player.
func (s *IngestionService) History(ctx context.Context, userID int64, limit int) ([]domain.PlayerSnapshot, error) {
	limit, err := domain.ValidateLimit(limit, 20, 100)
	if err != nil {
		return nil, domain.ErrValidation(err.Error())
	}
	player, err := s.repos.Players.FindByID(ctx, s.repos.DB, userID)
	if err != nil {
		return nil, domain.ErrInternal("find player", err)
	}
	if player == nil {
		return nil, domain.ErrNotFound("player", fmt.Sprint(userID))
	}
	snaps, err := s.repos.Snapshots.ListByUser(ctx, s.repos.DB, userID, limit)
	if err != nil {
		return nil, domain.ErrInternal("list snapshots", err)
	}
	return snaps, nil
}
