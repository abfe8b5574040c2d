//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// CountSnapshots returns the number of stored snapshots for a player.
func CountSnapshots(t *testing.T, env *TestEnv, userID int64) int {
	t.Helper()
	return env.count(t, "SELECT COUNT(*) FROM player_snapshots WHERE user_id = $1", userID)
}

// CountOutboxEvents returns the number of outbox rows of eventType for a player.
func CountOutboxEvents(t *testing.T, env *TestEnv, userID int64, eventType string) int {
	t.Helper()
	return env.count(t, `SELECT COUNT(*) FROM event_outbox WHERE "aggregateId" = $1 AND "eventType" = $2`,
		strconv.FormatInt(userID, 10), eventType)
}

// PlayerRank reads the stored rank for a player.
func PlayerRank(t *testing.T, env *TestEnv, userID int64) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var rank string
	if err := env.Pool.QueryRow(ctx, "SELECT rank FROM players WHERE user_id = $1", userID).Scan(&rank); err != nil {
		t.Fatalf("PlayerRank: %v", err)
	}
	return rank
}

func (env *TestEnv) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var n int
	if err := env.Pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}
