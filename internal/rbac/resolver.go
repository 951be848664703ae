package rbac

import (
	"context"
	"fmt"
)

type DenyReason string

const (
	NotAMember        DenyReason = "NotAMember"
	InsufficientRole  DenyReason = "InsufficientRole"
	ReadOnlyCeiling   DenyReason = "ReadOnlyCeiling"
	CrossOrganization DenyReason = "CrossOrganization"
)

// Actor is the caller identity resolved by the session provider.
type Actor struct {
	UserID         string
	OrganizationID string
}

// ScopeInfo locates a scope inside the organization tree.
type ScopeInfo struct {
	OrganizationID string
	SpaceID        string
	IsPublic       bool
}

// MembershipStore answers role questions one scope at a time. Roles are not
// inherited between scopes.
type MembershipStore interface {
	RoleOf(ctx context.Context, userID string, scope Scope) (Role, bool, error)
	HasProjectMembershipInSpace(ctx context.Context, userID, spaceID string) (bool, error)
	ScopeInfo(ctx context.Context, scope Scope) (ScopeInfo, error)
}

type Decision struct {
	Allowed bool
	Reason  DenyReason
	// Override is set when the grant comes from the organization ADMIN role
	// rather than a membership at the target scope.
	Override bool
	// Role is the role that decided the outcome, when one was found.
	Role Role
}

func allow(role Role) Decision { return Decision{Allowed: true, Role: role} }

func deny(reason DenyReason, role Role) Decision {
	return Decision{Allowed: false, Reason: reason, Role: role}
}

type Resolver struct {
	store MembershipStore
}

func NewResolver(store MembershipStore) *Resolver {
	return &Resolver{store: store}
}

// Check decides whether actor may perform action on scope. A non-nil error
// means the decision could not be made (unknown scope, storage failure).
func (r *Resolver) Check(ctx context.Context, actor Actor, action Action, scope Scope) (Decision, error) {
	if !action.Valid(scope.Kind) {
		return Decision{}, fmt.Errorf("action %q does not apply to %s scope", action, scope.Kind)
	}

	info, err := r.store.ScopeInfo(ctx, scope)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve %s: %w", scope, err)
	}
	if info.OrganizationID != actor.OrganizationID {
		return deny(CrossOrganization, ""), nil
	}

	orgRole, ok, err := r.store.RoleOf(ctx, actor.UserID, Organization(info.OrganizationID))
	if err != nil {
		return Decision{}, fmt.Errorf("read organization role: %w", err)
	}
	if !ok {
		return deny(NotAMember, ""), nil
	}

	if action.orgAdministrative() {
		if orgRole == RoleAdmin {
			return allow(orgRole), nil
		}
		if orgRole == RoleReadOnly {
			return deny(ReadOnlyCeiling, orgRole), nil
		}
		return deny(InsufficientRole, orgRole), nil
	}

	if orgRole == RoleAdmin && action.overridable() {
		return Decision{Allowed: true, Override: true, Role: orgRole}, nil
	}
	if orgRole == RoleReadOnly && action.Mutating() {
		return deny(ReadOnlyCeiling, orgRole), nil
	}

	switch action {
	case ActionCreateSpace:
		return allow(orgRole), nil
	case ActionViewSpace:
		return r.checkSpaceVisible(ctx, actor, scope.ID, info)
	case ActionCreateProject:
		// seeing a public space is not enough; a space role is required
		role, ok, err := r.store.RoleOf(ctx, actor.UserID, scope)
		if err != nil {
			return Decision{}, fmt.Errorf("read space role: %w", err)
		}
		if !ok {
			return deny(NotAMember, ""), nil
		}
		if !canEdit(role) {
			return deny(InsufficientRole, role), nil
		}
		return allow(role), nil
	case ActionViewProject:
		if role, ok, err := r.store.RoleOf(ctx, actor.UserID, scope); err != nil {
			return Decision{}, fmt.Errorf("read project role: %w", err)
		} else if ok {
			return allow(role), nil
		}
		return r.checkSpaceVisible(ctx, actor, info.SpaceID, info)
	case ActionEditContent, ActionComment:
		role, ok, err := r.store.RoleOf(ctx, actor.UserID, scope)
		if err != nil {
			return Decision{}, fmt.Errorf("read project role: %w", err)
		}
		if !ok {
			return deny(NotAMember, ""), nil
		}
		if !canEdit(role) {
			return deny(InsufficientRole, role), nil
		}
		return allow(role), nil
	}

	if action.administrative() {
		role, ok, err := r.nearestRole(ctx, actor.UserID, scope, info)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			return deny(NotAMember, ""), nil
		}
		if !canAdminister(role) {
			return deny(InsufficientRole, role), nil
		}
		return allow(role), nil
	}

	return deny(InsufficientRole, orgRole), nil
}

func (r *Resolver) checkSpaceVisible(ctx context.Context, actor Actor, spaceID string, info ScopeInfo) (Decision, error) {
	role, ok, err := r.store.RoleOf(ctx, actor.UserID, Space(spaceID))
	if err != nil {
		return Decision{}, fmt.Errorf("read space role: %w", err)
	}
	if ok {
		return allow(role), nil
	}
	if info.IsPublic {
		return allow(""), nil
	}
	member, err := r.store.HasProjectMembershipInSpace(ctx, actor.UserID, spaceID)
	if err != nil {
		return Decision{}, fmt.Errorf("read project memberships: %w", err)
	}
	if member {
		return allow(RoleMember), nil
	}
	return deny(NotAMember, ""), nil
}

// nearestRole prefers the project membership for project scopes and falls
// back to the enclosing space membership.
func (r *Resolver) nearestRole(ctx context.Context, userID string, scope Scope, info ScopeInfo) (Role, bool, error) {
	role, ok, err := r.store.RoleOf(ctx, userID, scope)
	if err != nil {
		return "", false, fmt.Errorf("read %s role: %w", scope.Kind, err)
	}
	if ok || scope.Kind != ScopeProject {
		return role, ok, nil
	}
	role, ok, err = r.store.RoleOf(ctx, userID, Space(info.SpaceID))
	if err != nil {
		return "", false, fmt.Errorf("read space role: %w", err)
	}
	return role, ok, nil
}
