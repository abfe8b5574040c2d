package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

// --- Validator Tests ---

func TestParseUserID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int64
		wantErr bool
	}{
		{"plain", "42", 42, false},
		{"padded", " 7 ", 7, false},
		{"zero", "0", 0, true},
		{"negative", "-3", 0, true},
		{"not a number", "abc", 0, true},
		{"empty", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUserID(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateLimit(t *testing.T) {
	tests := []struct {
		name    string
		limit   int
		want    int
		wantErr bool
	}{
		{"zero uses default", 0, 25, false},
		{"lower bound", 1, 1, false},
		{"upper bound", 100, 100, false},
		{"above max", 101, 0, true},
		{"negative", -1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateLimit(tt.limit, 25, 100)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// --- Snapshot Tests ---

func validPayload() SnapshotPayload {
	return SnapshotPayload{
		UserID:     ptr(int64(101)),
		Username:   ptr("trooper"),
		Rank:       ptr("  Shock Trooper I "),
		RankPoints: ptr(int64(150)),
		KOs:        ptr(int64(12)),
		WOs:        ptr(int64(3)),
	}
}

func TestSnapshotPayload_Validate(t *testing.T) {
	t.Run("valid payload is normalized", func(t *testing.T) {
		snap, err := validPayload().Validate()
		require.NoError(t, err)
		assert.Equal(t, int64(101), snap.UserID)
		assert.Equal(t, "Shock Trooper I", snap.Rank)
		assert.Equal(t, int64(0), snap.Warnings)
		assert.NotNil(t, snap.Metadata)
	})

	t.Run("missing required fields are all reported", func(t *testing.T) {
		_, err := SnapshotPayload{}.Validate()
		require.Error(t, err)

		var appErr *AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "VALIDATION_ERROR", appErr.Code)

		var names []string
		for _, f := range appErr.Fields {
			names = append(names, f.Field)
		}
		assert.ElementsMatch(t, []string{"userId", "username", "rankPoints", "kos", "wos"}, names)
	})

	t.Run("negative counters rejected", func(t *testing.T) {
		p := validPayload()
		p.Warnings = ptr(int64(-1))
		p.KOs = ptr(int64(-5))
		_, err := p.Validate()

		var appErr *AppError
		require.True(t, errors.As(err, &appErr))
		require.Len(t, appErr.Fields, 2)
	})

	t.Run("non-positive user id rejected", func(t *testing.T) {
		p := validPayload()
		p.UserID = ptr(int64(0))
		_, err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "userId")
	})

	t.Run("blank username rejected", func(t *testing.T) {
		p := validPayload()
		p.Username = ptr("   ")
		_, err := p.Validate()
		require.Error(t, err)
	})

	t.Run("decodes from wire json", func(t *testing.T) {
		body := `{"userId":5,"username":"a","rankPoints":0,"kos":0,"wos":0,
			"experience":{"experienceKey":"main"},"metadata":{"zone":"north"}}`
		var p SnapshotPayload
		require.NoError(t, json.Unmarshal([]byte(body), &p))
		snap, err := p.Validate()
		require.NoError(t, err)
		assert.Equal(t, "main", snap.ExperienceKey())
		assert.Equal(t, "north", snap.Metadata["zone"])
	})
}

// --- Metadata Tests ---

func TestPlayerMetadata_JSON(t *testing.T) {
	m := PlayerMetadata{DecisionsBlocked: true, Extra: map[string]any{"zone": "north"}}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"decisionsBlocked":true,"zone":"north"}`, string(data))

	var back PlayerMetadata
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.DecisionsBlocked)
	assert.Equal(t, "north", back.Extra["zone"])
	_, leaked := back.Extra["decisionsBlocked"]
	assert.False(t, leaked)
}

func TestMetadataFromMap_NonBoolFlag(t *testing.T) {
	m := MetadataFromMap(map[string]any{"decisionsBlocked": "yes"})
	assert.False(t, m.DecisionsBlocked)
	assert.Empty(t, m.Extra)
}

// --- AppError Tests ---

func TestAppError_Error(t *testing.T) {
	t.Run("without cause", func(t *testing.T) {
		err := ErrNotFound("player", "123")
		assert.Equal(t, "NOT_FOUND: player 123 not found", err.Error())
	})

	t.Run("with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := ErrExternal("role update failed", cause)
		assert.Contains(t, err.Error(), "EXTERNAL_SERVICE_ERROR")
		assert.Contains(t, err.Error(), "connection refused")
	})
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrInternal("wrapped", cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorFactories(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"ErrNotFound", ErrNotFound("player", "123"), "NOT_FOUND", 404},
		{"ErrValidation", ErrValidation("bad input"), "VALIDATION_ERROR", 400},
		{"ErrInvalidFields", ErrInvalidFields([]FieldError{{Field: "kos", Message: "is required"}}), "VALIDATION_ERROR", 400},
		{"ErrUnauthorized", ErrUnauthorized("no token"), "UNAUTHORIZED", 401},
		{"ErrConfiguration", ErrConfiguration("no role id"), "CONFIGURATION_ERROR", 500},
		{"ErrExternal", ErrExternal("upstream", nil), "EXTERNAL_SERVICE_ERROR", 502},
		{"ErrInternal", ErrInternal("oops", nil), "INTERNAL_ERROR", 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.Equal(t, tt.wantStatus, tt.err.Status)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// --- Event Factory Tests ---

func TestNewPlayerCreatedEvent(t *testing.T) {
	p := NewSeedPlayer(77, "newbie")
	event := NewPlayerCreatedEvent(p, "roblox")

	assert.Equal(t, AggregatePlayer, event.AggregateType)
	assert.Equal(t, "77", event.AggregateID)
	assert.Equal(t, "77", event.PartitionKey)
	assert.Equal(t, EventPlayerCreated, event.EventType)
	assert.False(t, event.OccurredAt.IsZero())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "newbie", payload["username"])
	assert.Equal(t, RankInitiate, payload["rank"])
}

func TestNewDecisionAppliedEvent(t *testing.T) {
	p := &Player{UserID: 9, Rank: RankSuspended, PunishmentStatus: ptr(PunishmentTrial)}

	t.Run("suspend", func(t *testing.T) {
		d := AutomationDecision{Action: ActionSuspend, Reason: "Trial punishment in effect", RequestID: "r1"}
		event, ok := NewDecisionAppliedEvent(p, "Shock Trooper I", d, ptr(int64(5)))
		require.True(t, ok)
		assert.Equal(t, EventPlayerSuspended, event.EventType)

		var payload map[string]any
		require.NoError(t, json.Unmarshal(event.Payload, &payload))
		assert.Equal(t, "Shock Trooper I", payload["previous_rank"])
		assert.Equal(t, float64(5), payload["actor_user_id"])
		assert.Equal(t, PunishmentTrial, payload["punishment_status"])
	})

	t.Run("none produces no event", func(t *testing.T) {
		_, ok := NewDecisionAppliedEvent(p, "x", AutomationDecision{Action: ActionNone}, nil)
		assert.False(t, ok)
	})
}
