package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/auth"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/util"
)

// Sessions is the storage the provider needs. RedisStore satisfies it.
type Sessions interface {
	SaveSession(ctx context.Context, jti string, record Record, expiresAt time.Time) error
	LookupSession(ctx context.Context, jti string) (Record, error)
	RevokeSession(ctx context.Context, jti string) error
}

// Provider resolves bearer tokens to actors. A token is only accepted while
// its jti has a live session record that agrees with the signed claims.
type Provider struct {
	secret   []byte
	sessions Sessions
	now      func() time.Time
	logger   *slog.Logger
}

func NewProvider(secret []byte, sessions Sessions, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		secret:   secret,
		sessions: sessions,
		now:      time.Now,
		logger:   logger.With("component", "session"),
	}
}

// Issue starts a session for the user and returns the signed bearer token.
func (p *Provider) Issue(ctx context.Context, userID, orgID, name string, ttl time.Duration) (string, error) {
	now := p.now().UTC()
	jti := util.NewID("ses")
	exp := now.Add(ttl)
	token, err := auth.IssueToken(p.secret, auth.NewClaims(userID, orgID, name, jti, now, exp))
	if err != nil {
		return "", err
	}
	record := Record{UserID: userID, OrganizationID: orgID, CreatedAt: now}
	if err := p.sessions.SaveSession(ctx, jti, record, exp); err != nil {
		return "", err
	}
	return token, nil
}

// Resolve turns a raw bearer token into the acting identity.
func (p *Provider) Resolve(ctx context.Context, bearer string) (rbac.Actor, error) {
	claims, err := p.claims(bearer)
	if err != nil {
		return rbac.Actor{}, err
	}
	record, err := p.sessions.LookupSession(ctx, claims.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return rbac.Actor{}, apperr.Unauthenticated()
	}
	if err != nil {
		return rbac.Actor{}, fmt.Errorf("resolve session: %w", err)
	}
	if record.UserID != claims.Subject || record.OrganizationID != claims.OrganizationID {
		p.logger.Warn("session record does not match token", "jti", claims.ID)
		return rbac.Actor{}, apperr.Unauthenticated()
	}
	return rbac.Actor{UserID: record.UserID, OrganizationID: record.OrganizationID}, nil
}

// Revoke ends the session behind the bearer token.
func (p *Provider) Revoke(ctx context.Context, bearer string) error {
	claims, err := p.claims(bearer)
	if err != nil {
		return err
	}
	return p.sessions.RevokeSession(ctx, claims.ID)
}

func (p *Provider) claims(bearer string) (auth.Claims, error) {
	raw := strings.TrimSpace(bearer)
	if raw == "" {
		return auth.Claims{}, apperr.Unauthenticated()
	}
	claims, err := auth.ParseToken(p.secret, raw)
	if err != nil {
		p.logger.Debug("rejected bearer token", "error", err)
		return auth.Claims{}, apperr.Unauthenticated()
	}
	return claims, nil
}
