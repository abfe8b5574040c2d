package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSign_KnownVector(t *testing.T) {
	// RFC 4231 test case 2.
	got := Sign("Jefe", []byte("what do ya want for nothing?"))
	assert.Equal(t, "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843", got)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"activity":"leaderboard"}`)
	sig := Sign("secret", body)

	assert.True(t, VerifySignature("secret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("secret", []byte(`{}`), sig))
	assert.False(t, VerifySignature("secret", body, strings.ToUpper(sig)))
}

func TestRequireSignature(t *testing.T) {
	const secret = "sync-secret"
	body := `{"activity":"leaderboard","limit":10}`

	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{"valid", Sign(secret, []byte(body)), http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"tampered", Sign(secret, []byte(body+" ")), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/sync/roblox", strings.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			RequireSignature(secret)(echoActor()).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, body, rec.Body.String(), "body is restored for the handler")
			}
		})
	}
}

func TestRequireSignature_NoSecretDisables(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/sync/roblox", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	RequireSignature("")(echoActor()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
