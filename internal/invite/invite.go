// Package invite governs invitation creation, acceptance and removal.
package invite

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
)

const tokenBytes = 32

type CreateInput struct {
	Email          string               `validate:"required,email,max=320"`
	Type           store.InvitationType `validate:"required,oneof=ORGANIZATION SPACE PROJECT"`
	Role           rbac.Role            `validate:"required"`
	OrganizationID string               `validate:"required"`
	SpaceID        string               `validate:"required_if=Type SPACE"`
	ProjectID      string               `validate:"required_if=Type PROJECT"`
	InvitedByID    string               `validate:"required"`
}

type AcceptInput struct {
	Token string `validate:"required"`
	Name  string `validate:"max=200"`
}

// Membership is what accepting an invitation granted.
type Membership struct {
	User       store.User
	Scope      rbac.Scope
	Role       rbac.Role
	Invitation store.Invitation
	// NewUser is false when the invitee already belonged to the organization.
	NewUser bool
}

type Lifecycle struct {
	now      func() time.Time
	ttl      time.Duration
	newID    func(prefix string) string
	newToken func() (string, error)
	validate *validator.Validate
}

func New(now func() time.Time, ttl time.Duration) *Lifecycle {
	if now == nil {
		now = time.Now
	}
	return &Lifecycle{
		now:      now,
		ttl:      ttl,
		newID:    util.NewID,
		newToken: func() (string, error) { return util.NewToken(tokenBytes) },
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// HashToken is the stored form of an invitation token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Create stores a PENDING invitation and returns it with the raw token,
// which is not persisted.
func (l *Lifecycle) Create(ctx context.Context, q store.Queries, in CreateInput) (store.Invitation, string, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Role = rbac.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
	if err := l.validate.Struct(in); err != nil {
		return store.Invitation{}, "", validationError(err)
	}
	if err := checkRole(in.Type, in.Role); err != nil {
		return store.Invitation{}, "", err
	}

	inv := store.Invitation{
		Email:          in.Email,
		Type:           in.Type,
		Role:           in.Role,
		OrganizationID: in.OrganizationID,
		Status:         store.InvitationPending,
		InvitedByID:    in.InvitedByID,
	}
	switch in.Type {
	case store.InvitationSpace:
		if err := checkScope(ctx, q, rbac.Space(in.SpaceID), in.OrganizationID); err != nil {
			return store.Invitation{}, "", err
		}
		inv.SpaceID = &in.SpaceID
	case store.InvitationProject:
		if err := checkScope(ctx, q, rbac.Project(in.ProjectID), in.OrganizationID); err != nil {
			return store.Invitation{}, "", err
		}
		inv.ProjectID = &in.ProjectID
	}

	if _, err := q.FindUserByEmail(ctx, in.OrganizationID, in.Email); err == nil {
		return store.Invitation{}, "", apperr.Conflict(apperr.DuplicateMembership, "a member with this email already exists")
	} else if !errors.Is(err, store.ErrNotFound) {
		return store.Invitation{}, "", fmt.Errorf("check existing member: %w", err)
	}

	now := l.now().UTC()
	pending, err := q.FindPendingInvitation(ctx, in.OrganizationID, in.Email)
	switch {
	case err == nil && !pending.Expired(now):
		return store.Invitation{}, "", apperr.Conflict(apperr.DuplicatePendingInvitation, "an invitation is already pending for this email")
	case err == nil:
		if err := q.DeleteInvitation(ctx, pending.ID); err != nil {
			return store.Invitation{}, "", fmt.Errorf("replace expired invitation: %w", err)
		}
	case !errors.Is(err, store.ErrNotFound):
		return store.Invitation{}, "", fmt.Errorf("check pending invitation: %w", err)
	}

	token, err := l.newToken()
	if err != nil {
		return store.Invitation{}, "", fmt.Errorf("generate invitation token: %w", err)
	}
	inv.ID = l.newID("inv")
	inv.TokenHash = HashToken(token)
	inv.CreatedAt = now
	inv.ExpiresAt = now.Add(l.ttl)

	if err := q.InsertInvitation(ctx, inv); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Invitation{}, "", apperr.Conflict(apperr.DuplicatePendingInvitation, "an invitation is already pending for this email")
		}
		return store.Invitation{}, "", fmt.Errorf("insert invitation: %w", err)
	}
	return inv, token, nil
}

// Lookup returns the PENDING, unexpired invitation for token.
func (l *Lifecycle) Lookup(ctx context.Context, q store.Queries, token string) (store.Invitation, error) {
	inv, err := q.GetInvitationByTokenHash(ctx, HashToken(strings.TrimSpace(token)))
	if errors.Is(err, store.ErrNotFound) {
		return store.Invitation{}, apperr.NotFound("invitation")
	}
	if err != nil {
		return store.Invitation{}, fmt.Errorf("load invitation: %w", err)
	}
	if inv.Status != store.InvitationPending {
		return store.Invitation{}, apperr.NotFound("invitation")
	}
	if inv.Expired(l.now()) {
		return store.Invitation{}, apperr.Conflict(apperr.ExpiredInvitation, "invitation has expired")
	}
	return inv, nil
}

// Accept creates the invitee's organization user when needed, grants the
// scoped membership for SPACE and PROJECT invitations, and marks the
// invitation ACCEPTED.
func (l *Lifecycle) Accept(ctx context.Context, q store.Queries, in AcceptInput) (Membership, error) {
	if err := l.validate.Struct(in); err != nil {
		return Membership{}, validationError(err)
	}
	inv, err := l.Lookup(ctx, q, in.Token)
	if err != nil {
		return Membership{}, err
	}

	now := l.now().UTC()
	result := Membership{Invitation: inv, Role: inv.Role}

	user, err := q.FindUserByEmail(ctx, inv.OrganizationID, inv.Email)
	switch {
	case err == nil:
		if inv.Type == store.InvitationOrganization {
			return Membership{}, apperr.Conflict(apperr.DuplicateMembership, "already a member of this organization")
		}
	case errors.Is(err, store.ErrNotFound):
		user = store.User{
			ID:             l.newID("usr"),
			OrganizationID: inv.OrganizationID,
			Name:           displayName(in.Name, inv.Email),
			Email:          inv.Email,
			Role:           rbac.RoleMember,
			CreatedAt:      now,
		}
		if inv.Type == store.InvitationOrganization {
			user.Role = inv.Role
		}
		if err := q.InsertUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return Membership{}, apperr.Conflict(apperr.DuplicateMembership, "already a member of this organization")
			}
			return Membership{}, fmt.Errorf("create user: %w", err)
		}
		result.NewUser = true
	default:
		return Membership{}, fmt.Errorf("check existing member: %w", err)
	}
	result.User = user

	var grantErr error
	switch inv.Type {
	case store.InvitationOrganization:
		result.Scope = rbac.Organization(inv.OrganizationID)
	case store.InvitationSpace:
		result.Scope = rbac.Space(*inv.SpaceID)
		grantErr = q.InsertSpaceMembership(ctx, store.SpaceMembership{SpaceID: *inv.SpaceID, UserID: user.ID, Role: inv.Role, CreatedAt: now})
	case store.InvitationProject:
		result.Scope = rbac.Project(*inv.ProjectID)
		grantErr = q.InsertProjectMembership(ctx, store.ProjectMembership{ProjectID: *inv.ProjectID, UserID: user.ID, Role: inv.Role, CreatedAt: now})
	}
	if errors.Is(grantErr, store.ErrConflict) {
		return Membership{}, apperr.Conflict(apperr.DuplicateMembership, "already a member")
	}
	if grantErr != nil {
		return Membership{}, fmt.Errorf("grant membership: %w", grantErr)
	}

	if err := q.UpdateInvitationStatus(ctx, inv.ID, store.InvitationAccepted); err != nil {
		return Membership{}, fmt.Errorf("mark invitation accepted: %w", err)
	}
	result.Invitation.Status = store.InvitationAccepted
	return result, nil
}

// Decline removes a pending invitation on behalf of its invitee. No record
// of the declined invitation is kept.
func (l *Lifecycle) Decline(ctx context.Context, q store.Queries, token string) error {
	inv, err := q.GetInvitationByTokenHash(ctx, HashToken(strings.TrimSpace(token)))
	if errors.Is(err, store.ErrNotFound) || (err == nil && inv.Status != store.InvitationPending) {
		return apperr.NotFound("invitation")
	}
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	return l.remove(ctx, q, inv.ID)
}

// Cancel removes a pending invitation of organizationID on behalf of an
// inviter.
func (l *Lifecycle) Cancel(ctx context.Context, q store.Queries, organizationID, invitationID string) error {
	inv, err := q.GetInvitation(ctx, invitationID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (inv.OrganizationID != organizationID || inv.Status != store.InvitationPending)) {
		return apperr.NotFound("invitation")
	}
	if err != nil {
		return fmt.Errorf("load invitation: %w", err)
	}
	return l.remove(ctx, q, inv.ID)
}

func (l *Lifecycle) remove(ctx context.Context, q store.Queries, id string) error {
	if err := q.DeleteInvitation(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("invitation")
		}
		return fmt.Errorf("delete invitation: %w", err)
	}
	return nil
}

func checkRole(kind store.InvitationType, role rbac.Role) error {
	if kind == store.InvitationOrganization {
		if !rbac.ValidOrgRole(role) {
			return apperr.Validation("role", "organization invitations take ADMIN, MEMBER or READ_ONLY")
		}
		return nil
	}
	if !rbac.ValidScopedRole(role) {
		return apperr.Validation("role", "space and project invitations take OWNER, ADMIN or MEMBER")
	}
	return nil
}

func checkScope(ctx context.Context, q store.Queries, scope rbac.Scope, organizationID string) error {
	info, err := q.ScopeInfo(ctx, scope)
	if errors.Is(err, store.ErrNotFound) || (err == nil && info.OrganizationID != organizationID) {
		return apperr.NotFound(string(scope.Kind))
	}
	if err != nil {
		return fmt.Errorf("resolve %s: %w", scope, err)
	}
	return nil
}

func displayName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func validationError(err error) error {
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) && len(invalid) > 0 {
		first := invalid[0]
		return apperr.Validation(lowerFirst(first.Field()), fmt.Sprintf("%s failed %q validation", first.Field(), first.Tag()))
	}
	return apperr.Validation("", err.Error())
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
