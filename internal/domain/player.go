package domain

import (
	"encoding/json"
	"time"
)

// Well-known rank and punishment names shared by the ladder file and the game servers.
const (
	RankInitiate  = "Initiate"
	RankSuspended = "Suspended"

	PunishmentTrial  = "Trial_Punishment"
	PunishmentSevere = "Punishment_Severe"
)

// TrialPunishmentDuration is how long an applied suspension lasts.
const TrialPunishmentDuration = 14 * 24 * time.Hour

const metadataDecisionsBlocked = "decisionsBlocked"

// PlayerMetadata is the metadata column of a player row. The blocked flag is typed;
// every other key is carried through untouched.
type PlayerMetadata struct {
	DecisionsBlocked bool
	Extra            map[string]any
}

// MarshalJSON flattens the typed flag and the residual keys into one object.
func (m PlayerMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	out[metadataDecisionsBlocked] = m.DecisionsBlocked
	return json.Marshal(out)
}

// UnmarshalJSON splits a stored metadata object back into flag and residual keys.
func (m *PlayerMetadata) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*m = MetadataFromMap(raw)
	return nil
}

// MetadataFromMap lifts the decisionsBlocked key out of a free-form map.
func MetadataFromMap(raw map[string]any) PlayerMetadata {
	var m PlayerMetadata
	for k, v := range raw {
		if k == metadataDecisionsBlocked {
			b, _ := v.(bool)
			m.DecisionsBlocked = b
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return m
}

// Player is the persisted progression record, one per platform user id.
type Player struct {
	UserID              int64          `json:"userId"`
	Username            string         `json:"username"`
	DisplayName         *string        `json:"displayName"`
	Rank                string         `json:"rank"`
	PreviousRank        *string        `json:"previousRank"`
	NextRank            *string        `json:"nextRank"`
	RankPoints          int64          `json:"rankPoints"`
	KOs                 int64          `json:"kos"`
	WOs                 int64          `json:"wos"`
	Warnings            int64          `json:"warnings"`
	Recommendations     int64          `json:"recommendations"`
	Privileged          bool           `json:"privileged"`
	PunishmentStatus    *string        `json:"punishmentStatus"`
	PunishmentExpiresAt *time.Time     `json:"punishmentExpiresAt"`
	Metadata            PlayerMetadata `json:"metadata"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
	LastSyncedAt        *time.Time     `json:"lastSyncedAt"`
}

// HasPunishment reports whether the player's punishment status equals status.
func (p *Player) HasPunishment(status string) bool {
	return p.PunishmentStatus != nil && *p.PunishmentStatus == status
}

// NewSeedPlayer returns the row inserted the first time a user id is seen.
func NewSeedPlayer(userID int64, username string) *Player {
	return &Player{
		UserID:   userID,
		Username: username,
		Rank:     RankInitiate,
	}
}

// PlayerView is the external representation of a player, enriched with ladder context.
type PlayerView struct {
	UserID                     int64          `json:"userId"`
	Username                   string         `json:"username"`
	DisplayName                *string        `json:"displayName"`
	Rank                       string         `json:"rank"`
	PreviousRank               *string        `json:"previousRank"`
	NextRank                   *string        `json:"nextRank"`
	RankPoints                 int64          `json:"rankPoints"`
	KOs                        int64          `json:"kos"`
	WOs                        int64          `json:"wos"`
	Warnings                   int64          `json:"warnings"`
	Recommendations            int64          `json:"recommendations"`
	Privileged                 bool           `json:"privileged"`
	PunishmentStatus           *string        `json:"punishmentStatus"`
	PunishmentExpiresAt        *time.Time     `json:"punishmentExpiresAt"`
	CreatedAt                  time.Time      `json:"createdAt"`
	LastSyncedAt               *time.Time     `json:"lastSyncedAt"`
	NextRankRequiredPoints     *int64         `json:"nextRankRequiredPoints"`
	PreviousRankRequiredPoints *int64         `json:"previousRankRequiredPoints"`
	DecisionsBlocked           bool           `json:"decisionsBlocked"`
	Metadata                   PlayerMetadata `json:"metadata"`
}

// PlayerSnapshot is one row of the append-only ingest audit log.
type PlayerSnapshot struct {
	ID            int64           `json:"id"`
	UserID        int64           `json:"userId"`
	Source        string          `json:"source"`
	Payload       json.RawMessage `json:"payload"`
	ExperienceKey *string         `json:"experienceKey,omitempty"`
	ActorUserID   *int64          `json:"actorUserId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// LeaderboardPlayer is one row of the points leaderboard.
type LeaderboardPlayer struct {
	UserID       int64      `json:"userId"`
	Username     string     `json:"username"`
	Rank         string     `json:"rank"`
	Points       int64      `json:"points"`
	KOs          int64      `json:"kos"`
	WOs          int64      `json:"wos"`
	LastSyncedAt *time.Time `json:"lastSyncedAt"`
}

// LeaderboardRecord is one row of a KO or WO record-holder list; only the
// counter for that list is set.
type LeaderboardRecord struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	KOs      *int64 `json:"kos,omitempty"`
	WOs      *int64 `json:"wos,omitempty"`
}

// RecordHolders groups the two independent record-holder lists.
type RecordHolders struct {
	KOs []LeaderboardRecord `json:"kos"`
	WOs []LeaderboardRecord `json:"wos"`
}
