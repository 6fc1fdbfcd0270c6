package auth_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/clock"
	"ms-raffle/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier map[string]auth.Principal

func (s stubVerifier) Verify(_ context.Context, raw string) (auth.Principal, error) {
	p, ok := s[raw]
	if !ok {
		return auth.Principal{}, errors.New("signature mismatch")
	}
	return p, nil
}

func TestMiddlewareAndRequireRole(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	verifier := stubVerifier{
		"admin-token": {Subject: "u1", Email: "admin@example.com", Roles: []string{"raffle-admin"}},
		"buyer-token": {Subject: "u2"},
	}
	var seenActor string
	handler := auth.Middleware(verifier, log)(auth.RequireRole("raffle-admin", log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenActor = auth.Actor(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token admin-token", http.StatusUnauthorized},
		{"unknown token", "Bearer forged", http.StatusUnauthorized},
		{"no role", "Bearer buyer-token", http.StatusForbidden},
		{"admin", "bearer admin-token", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/admin/promoters", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
	assert.Equal(t, "admin@example.com", seenActor)
}

func TestUserIDWithoutPrincipal(t *testing.T) {
	assert.Empty(t, auth.UserID(context.Background()))
	ctx := auth.WithPrincipal(context.Background(), auth.Principal{Subject: "u1"})
	assert.Equal(t, "u1", auth.UserID(ctx))
	assert.Equal(t, "u1", auth.Actor(ctx))
}

func TestHoldTokenRoundTrip(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	issuer := auth.NewHoldTokenIssuer("s3cret", clk)

	token, err := issuer.Issue("raffle-1", "holder-1", []string{"t1", "t2"}, clk.Now().Add(3*time.Hour))
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "holder-1", claims.Subject)
	assert.Equal(t, "raffle-1", claims.RaffleID)
	assert.Equal(t, []string{"t1", "t2"}, claims.TicketIDs)

	clk.Advance(3*time.Hour + time.Minute)
	_, err = issuer.Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidHoldToken, "token expires with the hold")
}

func TestHoldTokenRejectsOtherSecret(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	token, err := auth.NewHoldTokenIssuer("one", clk).Issue("r", "h", []string{"t"}, clk.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = auth.NewHoldTokenIssuer("two", clk).Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidHoldToken)

	_, err = auth.NewHoldTokenIssuer("one", clk).Parse("not-a-jwt")
	assert.ErrorIs(t, err, auth.ErrInvalidHoldToken)
}
