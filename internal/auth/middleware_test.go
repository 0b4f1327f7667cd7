package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imadgeboyega/kiekky-chat/internal/common/utils"
)

func TestAuthenticate(t *testing.T) {
	tokens := NewTokenService("secret", time.Hour)
	access, err := tokens.IssueAccessToken("u1", "alice", "a@example.com")
	require.NoError(t, err)

	refresh, err := utils.GenerateJWT(&utils.JWTClaims{
		UserID: "u1",
		Type:   "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}, "secret")
	require.NoError(t, err)

	var seen Identity
	handler := NewMiddleware(tokens).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer header", "Bearer " + access, "", http.StatusNoContent},
		{"query parameter", "", access, http.StatusNoContent},
		{"missing token", "", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + access, "", http.StatusUnauthorized},
		{"bad signature", "Bearer " + access + "x", "", http.StatusUnauthorized},
		{"refresh token", "Bearer " + refresh, "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = Identity{}
			target := "/ws"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, Identity{UserID: "u1", Username: "alice", Email: "a@example.com"}, seen)
			}
		})
	}
}

func TestIssueAccessToken_RequiresUser(t *testing.T) {
	_, err := NewTokenService("secret", 0).IssueAccessToken("", "x", "")
	assert.ErrorIs(t, err, ErrMissingUser)
}

func TestFromContext_Empty(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}
