package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rle/grps/internal/auth"
	"github.com/rle/grps/internal/domain"
	"github.com/rle/grps/internal/handler"
	"github.com/rle/grps/internal/infra"
	"github.com/rle/grps/internal/policy"
	"github.com/rle/grps/internal/provider"
	"github.com/rle/grps/internal/repository"
	"github.com/rle/grps/internal/service"
)

const (
	testAPIKey     = "game-server-key"
	testSigSecret  = "sync-signing-secret"
	testStaffToken = "staff-secret-of-at-least-thirty-two-chars"
)

const testLadder = `{"ranks": [
	{"name": "Suspended", "minPoints": 0, "isPunishment": true, "roleId": 90},
	{"name": "Initiate", "minPoints": 0, "roleId": 1},
	{"name": "Shock Trooper I", "minPoints": 100, "roleId": 2},
	{"name": "Sergeant", "minPoints": 500, "level": "CMD", "roleId": 4},
	{"name": "Lieutenant", "minPoints": 1000, "privileged": true, "roleId": 5}
]}`

type fakePlatform struct {
	mu      sync.Mutex
	roles   [][2]int64
	entries map[string]string
	writes  int
	roleErr error
}

func (f *fakePlatform) UpdateGroupRole(_ context.Context, userID, roleID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roleErr != nil {
		return f.roleErr
	}
	f.roles = append(f.roles, [2]int64{userID, roleID})
	return nil
}

func (f *fakePlatform) ListDatastoreEntries(context.Context, provider.ListEntriesParams) (*provider.DatastoreListing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	listing := &provider.DatastoreListing{}
	for k := range f.entries {
		listing.Entries = append(listing.Entries, provider.DatastoreEntryRef{EntryKey: k})
	}
	return listing, nil
}

func (f *fakePlatform) ReadDatastoreEntry(_ context.Context, p provider.EntryParams) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[p.Key]
	if !ok {
		return nil, errors.New("not found")
	}
	return json.RawMessage(v), nil
}

func (f *fakePlatform) WriteDatastoreEntry(context.Context, provider.EntryParams, any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes++
	return nil
}

type testApp struct {
	router   http.Handler
	services *Services
	platform *fakePlatform
	jwt      *auth.JWTManager
}

func newTestApp(t *testing.T, secure bool) *testApp {
	t.Helper()
	rankPolicy, err := policy.Load(strings.NewReader(testLadder), policy.FormatJSON)
	require.NoError(t, err)

	store := repository.NewInMemoryStore()
	repos := service.Repos{
		Tx:        store,
		Players:   store.Players(),
		Snapshots: store.Snapshots(),
		Outbox:    store.Outbox(),
	}
	cfg := &infra.Config{
		RobloxUniverseID: 777,
		DatastoreName:    "GRPS_Points",
		DatastoreScope:   "global",
		DatastorePrefix:  "player:",
		MirrorEnabled:    true,
		ExternalTimeout:  time.Second,
	}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	metrics := infra.MustNewMetrics(prometheus.NewRegistry())
	platform := &fakePlatform{entries: map[string]string{}}
	svcs := BuildServices(cfg, rankPolicy, repos, platform, metrics, logger)

	deps := RouterDeps{
		Services:     svcs,
		Repos:        repos,
		Metrics:      metrics,
		Logger:       logger,
		APIKeyHeader: "x-grps-api-key",
		CORSOrigins:  "*",
	}
	app := &testApp{services: svcs, platform: platform}
	if secure {
		app.jwt = auth.NewJWTManager(testStaffToken, time.Hour)
		deps.StaffJWT = app.jwt
		deps.APIKeys = []string{testAPIKey}
		deps.SignatureSecret = testSigSecret
	}
	app.router = NewRouter(deps)
	t.Cleanup(func() {
		_ = svcs.Automation.Drain(context.Background())
	})
	return app
}

func (a *testApp) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

const activity = `{"userId": 42, "username": "trooper", "rankPoints": 600, "kos": 10, "wos": 2}`

type ingestBody struct {
	Player   domain.PlayerView          `json:"player"`
	Decision *domain.AutomationDecision `json:"decision"`
}

func TestHealthLive(t *testing.T) {
	app := newTestApp(t, false)
	rec := app.do(t, http.MethodGet, "/health/live", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode[map[string]string](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthReady_NoDatabase(t *testing.T) {
	app := newTestApp(t, false)
	rec := app.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIngestThenGetPlayer(t *testing.T) {
	app := newTestApp(t, false)

	rec := app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, map[string]string{
		handler.HeaderExperience: "main",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode[ingestBody](t, rec)
	assert.Equal(t, "Sergeant", body.Player.Rank)
	assert.True(t, body.Player.Privileged)
	assert.Equal(t, "Lieutenant", *body.Player.NextRank)
	assert.Equal(t, int64(1000), *body.Player.NextRankRequiredPoints)
	assert.Nil(t, body.Decision)

	rec = app.do(t, http.MethodGet, "/players/42", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[domain.PlayerView](t, rec)
	assert.Equal(t, int64(600), view.RankPoints)

	rec = app.do(t, http.MethodGet, "/players/42/snapshots", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[map[string][]domain.PlayerSnapshot](t, rec)
	require.Len(t, history["snapshots"], 1)
	assert.Equal(t, "main", *history["snapshots"][0].ExperienceKey)
}

func TestIngest_ValidationErrors(t *testing.T) {
	app := newTestApp(t, false)

	rec := app.do(t, http.MethodPost, "/roblox/events/player-activity", `{"userId": 0, "kos": -1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Code   string              `json:"code"`
		Fields []domain.FieldError `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "VALIDATION_ERROR", body.Code)
	assert.NotEmpty(t, body.Fields)

	rec = app.do(t, http.MethodPost, "/roblox/events/player-activity", `{broken`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, map[string]string{
		handler.HeaderEvaluate: "maybe",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngest_EvaluateAndApply(t *testing.T) {
	app := newTestApp(t, false)
	body := `{"userId": 42, "username": "trooper", "rank": "Sergeant", "rankPoints": 1200, "kos": 1, "wos": 1}`

	rec := app.do(t, http.MethodPost, "/roblox/events/player-activity", body, map[string]string{
		handler.HeaderEvaluate: "true",
		handler.HeaderApply:    "1",
		handler.HeaderActor:    "9",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[ingestBody](t, rec)

	require.NotNil(t, got.Decision)
	assert.Equal(t, domain.ActionPromote, got.Decision.Action)
	assert.True(t, got.Decision.Apply)
	assert.Equal(t, "Lieutenant", got.Player.Rank)
	assert.Equal(t, [][2]int64{{42, 5}}, app.platform.roles)
}

func TestIngest_FailedApplyDiscardsIngest(t *testing.T) {
	app := newTestApp(t, false)
	app.platform.roleErr = errors.New("group service unavailable")
	body := `{"userId": 42, "username": "trooper", "rank": "Sergeant", "rankPoints": 1200, "kos": 1, "wos": 1}`

	rec := app.do(t, http.MethodPost, "/roblox/events/player-activity", body, map[string]string{
		handler.HeaderEvaluate: "true",
		handler.HeaderApply:    "true",
	})
	require.Equal(t, http.StatusBadGateway, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "EXTERNAL_SERVICE_ERROR")

	rec = app.do(t, http.MethodGet, "/players/42", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodGet, "/players/42/snapshots", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	snaps, err := app.services.Ingestion.History(context.Background(), 42, 10)
	assert.Nil(t, snaps)
	assert.Error(t, err)
	assert.Equal(t, 0, app.platform.writes)
}

func TestIngest_RequiresAPIKeyWhenConfigured(t *testing.T) {
	app := newTestApp(t, true)

	rec := app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, map[string]string{
		"x-grps-api-key": testAPIKey,
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetPlayer_Errors(t *testing.T) {
	app := newTestApp(t, false)

	rec := app.do(t, http.MethodGet, "/players/42", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodGet, "/players/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeaderboardRoutes(t *testing.T) {
	app := newTestApp(t, false)
	app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, nil)

	rec := app.do(t, http.MethodGet, "/leaderboard/top?limit=10", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decode[service.TopPlayers](t, rec)
	require.Len(t, top.Players, 1)
	assert.Equal(t, int64(600), top.Players[0].Points)
	assert.NotNil(t, top.LastSyncedAt)

	rec = app.do(t, http.MethodGet, "/leaderboard/records", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	records := decode[domain.RecordHolders](t, rec)
	require.Len(t, records.KOs, 1)
	assert.Equal(t, int64(10), *records.KOs[0].KOs)

	for _, path := range []string{"/leaderboard/top?limit=0", "/leaderboard/top?limit=101", "/leaderboard/records?limit=51", "/leaderboard/top?limit=x"} {
		rec = app.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestAutomationDecisions(t *testing.T) {
	app := newTestApp(t, false)
	app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, nil)

	rec := app.do(t, http.MethodPost, "/automation/decisions", `{"userId": 42}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Decision domain.AutomationDecision `json:"decision"`
		Player   domain.PlayerView         `json:"player"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.ActionNone, body.Decision.Action)
	assert.Equal(t, "manual automation request", body.Decision.Reason)
	assert.NotEmpty(t, body.Decision.RequestID)
	assert.Equal(t, int64(42), body.Player.UserID)

	rec = app.do(t, http.MethodPost, "/automation/decisions", `{"userId": 404}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = app.do(t, http.MethodPost, "/automation/decisions", `{}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAutomationDecisions_StaffToken(t *testing.T) {
	app := newTestApp(t, true)
	app.do(t, http.MethodPost, "/roblox/events/player-activity", `{"userId": 42, "username": "t", "rankPoints": 0, "kos": 0, "wos": 0, "warnings": 5}`,
		map[string]string{"x-grps-api-key": testAPIKey})

	rec := app.do(t, http.MethodPost, "/automation/decisions", `{"userId": 42, "apply": true}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := app.jwt.GenerateToken(77)
	require.NoError(t, err)
	rec = app.do(t, http.MethodPost, "/automation/decisions", `{"userId": 42, "apply": true, "reason": "spam"}`, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Decision domain.AutomationDecision `json:"decision"`
		Player   domain.PlayerView         `json:"player"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.ActionSuspend, body.Decision.Action)
	assert.Equal(t, "spam", body.Decision.Reason)
	assert.Equal(t, domain.RankSuspended, body.Player.Rank)
	assert.True(t, body.Player.DecisionsBlocked)
}

func TestSyncRoblox(t *testing.T) {
	app := newTestApp(t, false)
	app.platform.entries["player:42"] = `{"name": "synced", "points": 150}`

	rec := app.do(t, http.MethodPost, "/sync/roblox", `{"activity": "leaderboard", "limit": 10}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[service.SyncResult](t, rec)
	assert.Equal(t, 1, result.Created)
	assert.Nil(t, result.NextCursor)

	rec = app.do(t, http.MethodPost, "/sync/roblox", `{"activity": "quests"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/sync/roblox", `{"activity": "leaderboard", "limit": 0}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncRoblox_Signature(t *testing.T) {
	app := newTestApp(t, true)
	body := `{"activity": "leaderboard"}`

	rec := app.do(t, http.MethodPost, "/sync/roblox", body, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/sync/roblox", body, map[string]string{
		auth.SignatureHeader: auth.Sign(testSigSecret, []byte(body)),
	})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t, false)
	app.do(t, http.MethodPost, "/roblox/events/player-activity", activity, nil)

	rec := app.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `grps_ingest_total{result="created"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	app := newTestApp(t, false)
	rec := app.do(t, http.MethodOptions, "/automation/decisions", "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
