package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rle/grps/internal/domain"
)

func echoActor() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor, ok := ActorFromContext(r.Context()); ok {
			w.Header().Set("X-Actor", strconv.FormatInt(actor, 10))
		}
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	})
}

func TestAuthenticateStaff(t *testing.T) {
	mgr := newTestJWTManager()
	token, err := mgr.GenerateToken(7)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/automation/decisions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			AuthenticateStaff(mgr)(echoActor()).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "7", rec.Header().Get("X-Actor"))
			} else {
				assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestUnauthorizedBodyMatchesAppError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/roblox/events/player-activity", nil)
	rec := httptest.NewRecorder()
	RequireAPIKey("x-grps-api-key", []string{"key"})(echoActor()).ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	want := domain.ErrUnauthorized("invalid api key")
	assert.Equal(t, map[string]any{"code": want.Code, "message": want.Message}, body)
}

func TestAuthenticateStaff_NilManagerDisables(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/automation/decisions", nil)
	rec := httptest.NewRecorder()
	AuthenticateStaff(nil)(echoActor()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Actor"))
}

func TestRequireAPIKey(t *testing.T) {
	mw := RequireAPIKey("x-grps-api-key", []string{"alpha", "bravo"})

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{"first key", "alpha", http.StatusOK},
		{"second key", "bravo", http.StatusOK},
		{"unknown key", "charlie", http.StatusUnauthorized},
		{"prefix of key", "alp", http.StatusUnauthorized},
		{"missing key", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/roblox/events/player-activity", nil)
			if tt.key != "" {
				req.Header.Set("x-grps-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			mw(echoActor()).ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRequireAPIKey_EmptyListDisables(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/roblox/events/player-activity", nil)
	rec := httptest.NewRecorder()
	RequireAPIKey("x-grps-api-key", nil)(echoActor()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
