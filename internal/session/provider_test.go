package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/logging"
	"taskhub/api/internal/rbac"
)

var secret = []byte("test-secret")

func newProvider(t *testing.T) (*Provider, *RedisStore) {
	t.Helper()
	store, _ := setupTestRedis(t)
	return NewProvider(secret, store, logging.Discard()), store
}

func TestProviderIssueAndResolve(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	token, err := p.Issue(ctx, "usr_1", "org_1", "Avery", time.Hour)
	require.NoError(t, err)

	actor, err := p.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, rbac.Actor{UserID: "usr_1", OrganizationID: "org_1"}, actor)
}

func TestProviderRejects(t *testing.T) {
	p, store := newProvider(t)
	ctx := context.Background()
	now := time.Now()

	// Signed but never registered.
	orphan, err := auth.IssueToken(secret, auth.NewClaims("usr_1", "org_1", "", "jti-orphan", now, now.Add(time.Hour)))
	require.NoError(t, err)

	// Registered under a different organization than the claims say.
	mismatched, err := auth.IssueToken(secret, auth.NewClaims("usr_1", "org_2", "", "jti-mismatch", now, now.Add(time.Hour)))
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, "jti-mismatch", Record{UserID: "usr_1", OrganizationID: "org_1"}, now.Add(time.Hour)))

	cases := map[string]string{
		"empty":      "",
		"garbage":    "not-a-token",
		"orphan":     orphan,
		"mismatched": mismatched,
	}
	for name, bearer := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Resolve(ctx, bearer)
			assert.ErrorIs(t, err, apperr.Unauthenticated())
		})
	}
}

func TestProviderRevoke(t *testing.T) {
	p, _ := newProvider(t)
	ctx := context.Background()

	token, err := p.Issue(ctx, "usr_1", "org_1", "", time.Hour)
	require.NoError(t, err)
	require.NoError(t, p.Revoke(ctx, token))

	_, err = p.Resolve(ctx, token)
	assert.ErrorIs(t, err, apperr.Unauthenticated())
}
