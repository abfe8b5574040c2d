//go:build integration

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/rle/grps/internal/auth"
)

// Do performs a request with a JSON body and extra headers.
func (env *TestEnv) Do(method, path string, body interface{}, headers map[string]string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	return env.Do(http.MethodGet, path, nil, nil)
}

// IngestActivity posts a game server activity report with the test API key.
func (env *TestEnv) IngestActivity(payload interface{}, headers map[string]string) *http.Response {
	env.t.Helper()
	h := map[string]string{"x-grps-api-key": TestAPIKey}
	for k, v := range headers {
		h[k] = v
	}
	return env.Do(http.MethodPost, "/roblox/events/player-activity", payload, h)
}

// StaffToken issues a staff JWT for actorUserID.
func (env *TestEnv) StaffToken(actorUserID int64) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(actorUserID)
	if err != nil {
		env.t.Fatalf("StaffToken: %v", err)
	}
	return token
}

// Decide posts a manual automation request as a staff member.
func (env *TestEnv) Decide(actorUserID int64, body interface{}) *http.Response {
	env.t.Helper()
	return env.Do(http.MethodPost, "/automation/decisions", body, map[string]string{
		"Authorization": "Bearer " + env.StaffToken(actorUserID),
	})
}

// SignedSync posts a signed reconciliation request.
func (env *TestEnv) SignedSync(body string) *http.Response {
	env.t.Helper()
	req, err := http.NewRequest(http.MethodPost, env.Server.URL+"/sync/roblox", bytes.NewBufferString(body))
	if err != nil {
		env.t.Fatalf("SignedSync: new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.SignatureHeader, auth.Sign(TestSignatureSecret, []byte(body)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("SignedSync: %v", err)
	}
	return resp
}
