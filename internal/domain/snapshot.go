package domain

import (
	"strings"
	"time"
)

// ExperienceContext identifies the game server a snapshot came from.
type ExperienceContext struct {
	UniverseID    *int64  `json:"universeId,omitempty"`
	PlaceID       *int64  `json:"placeId,omitempty"`
	Server        *string `json:"server,omitempty"`
	ExperienceKey *string `json:"experienceKey,omitempty"`
}

// SnapshotPayload is the inbound wire form of a snapshot. Required fields are
// pointers so that absence can be told apart from zero.
type SnapshotPayload struct {
	UserID              *int64             `json:"userId"`
	Username            *string            `json:"username"`
	DisplayName         *string            `json:"displayName"`
	Rank                *string            `json:"rank"`
	RankPoints          *int64             `json:"rankPoints"`
	KOs                 *int64             `json:"kos"`
	WOs                 *int64             `json:"wos"`
	Warnings            *int64             `json:"warnings"`
	Recommendations     *int64             `json:"recommendations"`
	PunishmentStatus    *string            `json:"punishmentStatus"`
	PunishmentExpiresAt *time.Time         `json:"punishmentExpiresAt"`
	Experience          *ExperienceContext `json:"experience"`
	Metadata            map[string]any     `json:"metadata"`
	GroupID             *int64             `json:"groupId"`
}

// Snapshot is a validated, normalized snapshot. Rank is empty when the
// game server did not report one.
type Snapshot struct {
	UserID              int64              `json:"userId"`
	Username            string             `json:"username"`
	DisplayName         *string            `json:"displayName,omitempty"`
	Rank                string             `json:"rank,omitempty"`
	RankPoints          int64              `json:"rankPoints"`
	KOs                 int64              `json:"kos"`
	WOs                 int64              `json:"wos"`
	Warnings            int64              `json:"warnings"`
	Recommendations     int64              `json:"recommendations"`
	PunishmentStatus    *string            `json:"punishmentStatus,omitempty"`
	PunishmentExpiresAt *time.Time         `json:"punishmentExpiresAt,omitempty"`
	Experience          *ExperienceContext `json:"experience,omitempty"`
	Metadata            map[string]any     `json:"metadata"`
	GroupID             *int64             `json:"groupId,omitempty"`
}

// Validate checks the payload and returns its normalized form. All field
// problems are reported together.
func (p SnapshotPayload) Validate() (Snapshot, error) {
	var fields []FieldError
	fail := func(field, msg string) {
		fields = append(fields, FieldError{Field: field, Message: msg})
	}

	counter := func(field string, v *int64, required bool) int64 {
		if v == nil {
			if required {
				fail(field, "is required")
			}
			return 0
		}
		if *v < 0 {
			fail(field, "must be greater than or equal to 0")
			return 0
		}
		return *v
	}

	var snap Snapshot
	switch {
	case p.UserID == nil:
		fail("userId", "is required")
	case *p.UserID <= 0:
		fail("userId", "must be a positive integer")
	default:
		snap.UserID = *p.UserID
	}
	if p.Username == nil || strings.TrimSpace(*p.Username) == "" {
		fail("username", "is required")
	} else {
		snap.Username = *p.Username
	}

	snap.RankPoints = counter("rankPoints", p.RankPoints, true)
	snap.KOs = counter("kos", p.KOs, true)
	snap.WOs = counter("wos", p.WOs, true)
	snap.Warnings = counter("warnings", p.Warnings, false)
	snap.Recommendations = counter("recommendations", p.Recommendations, false)

	if len(fields) > 0 {
		return Snapshot{}, ErrInvalidFields(fields)
	}

	if p.Rank != nil {
		snap.Rank = strings.TrimSpace(*p.Rank)
	}
	snap.DisplayName = p.DisplayName
	snap.PunishmentStatus = p.PunishmentStatus
	snap.PunishmentExpiresAt = p.PunishmentExpiresAt
	snap.Experience = p.Experience
	snap.GroupID = p.GroupID
	snap.Metadata = p.Metadata
	if snap.Metadata == nil {
		snap.Metadata = map[string]any{}
	}
	return snap, nil
}

// ExperienceKey returns the experience key reported inside the snapshot, if any.
func (s Snapshot) ExperienceKey() string {
	if s.Experience == nil || s.Experience.ExperienceKey == nil {
		return ""
	}
	return *s.Experience.ExperienceKey
}
