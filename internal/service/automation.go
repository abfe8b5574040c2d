package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rle/grps/internal/calculation"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
)

const defaultMirrorTimeout = 10 * time.Second

// EvaluateOptions controls a single automation evaluation.
type EvaluateOptions struct {
	Apply       bool
	Reason      string
	ActorUserID *int64
}

// AutomationResult is the decision together with the player as it stands afterwards.
type AutomationResult struct {
	Decision domain.AutomationDecision
	Player   *domain.Player
}

// MirrorConfig enables the best-effort copy of applied changes back to the datastore.
type MirrorConfig struct {
	Enabled   bool
	Datastore DatastoreConfig
	Timeout   time.Duration
}

// AutomationService evaluates the decision rules and applies their outcomes.
type AutomationService struct {
	repos     Repos
	calc      *calculation.Service
	roles     RoleSyncer
	datastore Datastore
	mirror    MirrorConfig
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time

	inflight sync.WaitGroup
}

// NewAutomationService creates an AutomationService. datastore may be nil, which
// disables mirroring.
func NewAutomationService(
	repos Repos,
	calc *calculation.Service,
	roles RoleSyncer,
	datastore Datastore,
	mirror MirrorConfig,
	metrics *infra.Metrics,
	logger *slog.Logger,
) *AutomationService {
	if mirror.Timeout <= 0 {
		mirror.Timeout = defaultMirrorTimeout
	}
	return &AutomationService{
		repos:     repos,
		calc:      calc,
		roles:     roles,
		datastore: datastore,
		mirror:    mirror,
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Evaluate decides what should happen to a player and, when opts.Apply is set,
// carries the decision out. The group role is changed before any local state,
// so a failed role sync leaves the player untouched.
func (s *AutomationService) Evaluate(ctx context.Context, userID int64, opts EvaluateOptions) (res *AutomationResult, err error) {
	ctx, span := tracer.Start(ctx, "AutomationService.Evaluate",
		trace.WithAttributes(
			attribute.Int64("user_id", userID),
			attribute.Bool("apply", opts.Apply),
		))
	defer func() { endSpan(span, err) }()

	if !opts.Apply {
		player, err := s.repos.Players.FindByID(ctx, s.repos.DB, userID)
		if err != nil {
			return nil, domain.ErrInternal("find player", err)
		}
		if player == nil {
			return nil, domain.ErrNotFound("player", fmt.Sprint(userID))
		}
		decision := s.decide(player, opts)
		s.metrics.IncDecision(string(decision.Action), false)
		return &AutomationResult{Decision: decision, Player: player}, nil
	}

	var (
		decision domain.AutomationDecision
		player   *domain.Player
		applied  bool
	)
	err = s.repos.Tx.WithinTx(ctx, func(tx pgx.Tx) error {
		var err error
		player, err = s.repos.Players.LockForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if player == nil {
			return domain.ErrNotFound("player", fmt.Sprint(userID))
		}
		decision, applied, err = s.evaluateLocked(ctx, tx, player, opts)
		return err
	})
	if err != nil {
		return nil, asAppError("apply automation decision", err)
	}

	s.afterCommit(player, decision, applied)
	return &AutomationResult{Decision: decision, Player: player}, nil
}

// evaluateLocked decides for a player already locked in tx and, when opts.Apply
// is set, persists the outcome in the same transaction. The caller commits and
// then calls afterCommit.
func (s *AutomationService) evaluateLocked(ctx context.Context, tx pgx.Tx, player *domain.Player, opts EvaluateOptions) (domain.AutomationDecision, bool, error) {
	decision := s.decide(player, opts)
	if !opts.Apply || !decision.Applicable() {
		return decision, false, nil
	}

	previousRank := player.Rank
	if err := s.apply(ctx, player, decision); err != nil {
		return decision, false, err
	}
	if err := s.repos.Players.Update(ctx, tx, player); err != nil {
		return decision, false, err
	}
	if evt, ok := domain.NewDecisionAppliedEvent(player, previousRank, decision, opts.ActorUserID); ok {
		if err := s.repos.Outbox.Insert(ctx, tx, evt); err != nil {
			return decision, false, err
		}
	}
	return decision, true, nil
}

func (s *AutomationService) afterCommit(player *domain.Player, decision domain.AutomationDecision, applied bool) {
	s.metrics.IncDecision(string(decision.Action), applied)
	if !applied {
		return
	}
	s.logger.Info("automation decision applied",
		"user_id", player.UserID,
		"action", decision.Action,
		"rank", player.Rank,
		"request_id", decision.RequestID,
	)
	s.mirrorPlayer(player)
}

func (s *AutomationService) decide(player *domain.Player, opts EvaluateOptions) domain.AutomationDecision {
	outcome := policy.EvaluateAutomation(s.calc.Policy(), policy.StateOf(player))
	reason := outcome.Message
	if opts.Reason != "" {
		reason = opts.Reason
	}
	decision := domain.AutomationDecision{
		Action:    outcome.Action,
		Reason:    reason,
		Apply:     opts.Apply,
		RequestID: uuid.NewString(),
	}
	if outcome.TargetRank != "" {
		target := outcome.TargetRank
		decision.TargetRank = &target
	}
	return decision
}

// apply mutates player in memory; the caller persists it.
func (s *AutomationService) apply(ctx context.Context, player *domain.Player, decision domain.AutomationDecision) error {
	now := s.now().UTC()
	switch decision.Action {
	case domain.ActionSuspend:
		if err := s.transition(ctx, player, domain.RankSuspended); err != nil {
			return err
		}
		status := domain.PunishmentTrial
		expires := now.Add(domain.TrialPunishmentDuration)
		player.PunishmentStatus = &status
		player.PunishmentExpiresAt = &expires
	case domain.ActionBan:
		status := domain.PunishmentSevere
		player.PunishmentStatus = &status
	case domain.ActionPromote, domain.ActionDemote:
		if decision.TargetRank == nil {
			return domain.ErrConfiguration(fmt.Sprintf("%s decision without target rank", decision.Action))
		}
		if err := s.transition(ctx, player, *decision.TargetRank); err != nil {
			return err
		}
	}
	player.LastSyncedAt = &now
	return nil
}

// transition moves the player to rankName, syncing the group role first.
func (s *AutomationService) transition(ctx context.Context, player *domain.Player, rankName string) error {
	rank, ok := s.calc.Policy().RankByName(rankName)
	if !ok {
		return domain.ErrConfiguration(fmt.Sprintf("rank %q is not defined in the rank policy", rankName))
	}
	if rank.RoleID == nil {
		return domain.ErrConfiguration(fmt.Sprintf("rank %q has no roleId configured", rankName))
	}
	if err := s.roles.UpdateGroupRole(ctx, player.UserID, *rank.RoleID); err != nil {
		return domain.ErrExternal("failed to update group role", err)
	}

	previous := player.Rank
	player.PreviousRank = &previous
	player.Rank = rank.Name
	player.NextRank = nil
	if next, ok := s.calc.Policy().NextRankByName(rank.Name); ok {
		player.NextRank = &next.Name
	}
	player.Privileged = rank.Privileged
	return nil
}

// mirrorPlayer writes the player view back to the datastore in the background.
// Failures are logged and counted, never returned.
func (s *AutomationService) mirrorPlayer(player *domain.Player) {
	if !s.mirror.Enabled || s.datastore == nil || s.mirror.Datastore.UniverseID == 0 {
		return
	}
	view := s.calc.SerializePlayer(player)
	entry := s.mirror.Datastore.EntryFor(player.UserID)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				s.metrics.IncMirrorFailure()
				s.logger.Error("datastore mirror panic", "user_id", view.UserID, "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), s.mirror.Timeout)
		defer cancel()
		if err := s.datastore.WriteDatastoreEntry(ctx, entry, view); err != nil {
			s.metrics.IncMirrorFailure()
			s.logger.Warn("datastore mirror failed", "user_id", view.UserID, "key", entry.Key, "error", err)
		}
	}()
}

// Drain blocks until in-flight datastore mirrors finish or ctx is done.
func (s *AutomationService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
