// Package calculation derives ladder context from player snapshots and records.
package calculation

import (
	"time"

	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/policy"
)

// DerivedRecord is the player state computed from one snapshot.
type DerivedRecord struct {
	UserID                     int64
	Username                   string
	DisplayName                *string
	Rank                       string
	RankPoints                 int64
	KOs                        int64
	WOs                        int64
	Warnings                   int64
	Recommendations            int64
	PunishmentStatus           *string
	PunishmentExpiresAt        *time.Time
	Privileged                 bool
	PreviousRank               *string
	NextRank                   *string
	NextRankRequiredPoints     *int64
	PreviousRankRequiredPoints *int64
	Metadata                   domain.PlayerMetadata
}

// Service is stateless apart from the ladder it reads.
type Service struct {
	policy *policy.RankPolicy
}

// NewService creates a calculation service over the given ladder.
func NewService(p *policy.RankPolicy) *Service {
	return &Service{policy: p}
}

// Policy returns the ladder the service evaluates against.
func (s *Service) Policy() *policy.RankPolicy {
	return s.policy
}

// BuildPlayerRecord resolves the rank and its neighbours for a snapshot. A rank
// reported by the game server wins over the one earned by points.
func (s *Service) BuildPlayerRecord(snap domain.Snapshot) DerivedRecord {
	resolved, hasResolved := s.policy.RankForPoints(snap.RankPoints)

	rankName := snap.Rank
	if rankName == "" {
		rankName = domain.RankInitiate
		if hasResolved {
			rankName = resolved.Name
		}
	}

	descriptor, hasDescriptor := s.policy.RankByName(rankName)
	if !hasDescriptor && hasResolved {
		descriptor, hasDescriptor = resolved, true
	}

	var next, prev policy.Rank
	var hasNext, hasPrev bool
	if hasDescriptor {
		next, hasNext = s.policy.NextRankByName(descriptor.Name)
		prev, hasPrev = s.policy.PreviousRankByName(descriptor.Name)
	} else {
		next, hasNext = s.policy.NextRankForPoints(snap.RankPoints)
		prev, hasPrev = s.policy.PreviousRankForPoints(snap.RankPoints)
	}

	meta := domain.MetadataFromMap(snap.Metadata)
	if snap.PunishmentStatus != nil && *snap.PunishmentStatus == domain.PunishmentTrial {
		meta.DecisionsBlocked = true
	}

	rec := DerivedRecord{
		UserID:              snap.UserID,
		Username:            snap.Username,
		DisplayName:         snap.DisplayName,
		Rank:                rankName,
		RankPoints:          snap.RankPoints,
		KOs:                 snap.KOs,
		WOs:                 snap.WOs,
		Warnings:            snap.Warnings,
		Recommendations:     snap.Recommendations,
		PunishmentStatus:    snap.PunishmentStatus,
		PunishmentExpiresAt: snap.PunishmentExpiresAt,
		Privileged:          s.policy.IsPrivileged(rankName),
		Metadata:            meta,
	}
	if hasNext {
		rec.NextRank = &next.Name
		rec.NextRankRequiredPoints = &next.MinPoints
	}
	if hasPrev {
		rec.PreviousRank = &prev.Name
		rec.PreviousRankRequiredPoints = &prev.MinPoints
	}
	return rec
}

// ApplySnapshot overwrites every snapshot-derived field of player and returns it.
// Identity, CreatedAt and LastSyncedAt are left alone.
func (s *Service) ApplySnapshot(player *domain.Player, snap domain.Snapshot) *domain.Player {
	rec := s.BuildPlayerRecord(snap)
	player.Username = rec.Username
	player.DisplayName = rec.DisplayName
	player.Rank = rec.Rank
	player.RankPoints = rec.RankPoints
	player.KOs = rec.KOs
	player.WOs = rec.WOs
	player.Warnings = rec.Warnings
	player.Recommendations = rec.Recommendations
	player.PunishmentStatus = rec.PunishmentStatus
	player.PunishmentExpiresAt = rec.PunishmentExpiresAt
	player.Privileged = rec.Privileged
	player.PreviousRank = rec.PreviousRank
	player.NextRank = rec.NextRank
	player.Metadata = rec.Metadata
	return player
}

// SerializePlayer builds the external view. Neighbour ranks and thresholds come
// from the current ladder; when the stored rank is no longer on it, the stored
// neighbour names are reported without thresholds.
func (s *Service) SerializePlayer(player *domain.Player) domain.PlayerView {
	view := domain.PlayerView{
		UserID:              player.UserID,
		Username:            player.Username,
		DisplayName:         player.DisplayName,
		Rank:                player.Rank,
		PreviousRank:        player.PreviousRank,
		NextRank:            player.NextRank,
		RankPoints:          player.RankPoints,
		KOs:                 player.KOs,
		WOs:                 player.WOs,
		Warnings:            player.Warnings,
		Recommendations:     player.Recommendations,
		Privileged:          player.Privileged,
		PunishmentStatus:    player.PunishmentStatus,
		PunishmentExpiresAt: player.PunishmentExpiresAt,
		CreatedAt:           player.CreatedAt,
		LastSyncedAt:        player.LastSyncedAt,
		DecisionsBlocked:    player.Metadata.DecisionsBlocked || player.HasPunishment(domain.PunishmentTrial),
		Metadata:            player.Metadata,
	}

	if _, known := s.policy.RankByName(player.Rank); known {
		view.NextRank, view.NextRankRequiredPoints = nil, nil
		view.PreviousRank, view.PreviousRankRequiredPoints = nil, nil
		if next, ok := s.policy.NextRankByName(player.Rank); ok {
			view.NextRank = &next.Name
			view.NextRankRequiredPoints = &next.MinPoints
		}
		if prev, ok := s.policy.PreviousRankByName(player.Rank); ok {
			view.PreviousRank = &prev.Name
			view.PreviousRankRequiredPoints = &prev.MinPoints
		}
	}
	return view
}
