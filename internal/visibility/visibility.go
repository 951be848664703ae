// Package visibility applies the membership side effects of changing a
// space between private and public.
package visibility

import (
	"context"
	"fmt"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
)

type Store interface {
	GetSpace(ctx context.Context, id string) (store.Space, error)
	ListSpaceMemberships(ctx context.Context, spaceID string) ([]store.SpaceMembership, error)
	UpdateSpaceVisibility(ctx context.Context, id string, isPublic bool) error
	DeleteSpaceMembershipsExcept(ctx context.Context, spaceID string, keep rbac.Role) ([]store.SpaceMembership, error)
}

type Result struct {
	Space   store.Space
	Changed bool
	// Removed lists memberships deleted because the space became public.
	Removed []store.SpaceMembership
}

// Transition sets the space's visibility to public and applies its side
// effects through q, which must be the caller's transaction.
//
// Going public deletes every membership other than OWNER. Going private
// keeps memberships as they are and requires at least one OWNER.
func Transition(ctx context.Context, q Store, spaceID string, public bool) (Result, error) {
	space, err := q.GetSpace(ctx, spaceID)
	if err != nil {
		return Result{}, fmt.Errorf("load space: %w", err)
	}
	if space.IsPublic == public {
		return Result{Space: space}, nil
	}

	result := Result{Changed: true}
	if public {
		removed, err := q.DeleteSpaceMembershipsExcept(ctx, spaceID, rbac.RoleOwner)
		if err != nil {
			return Result{}, fmt.Errorf("remove non-owner memberships: %w", err)
		}
		result.Removed = removed
	} else {
		members, err := q.ListSpaceMemberships(ctx, spaceID)
		if err != nil {
			return Result{}, fmt.Errorf("list space memberships: %w", err)
		}
		if !hasOwner(members) {
			return Result{}, apperr.Validation("isPublic", "a private space needs at least one owner")
		}
	}

	if err := q.UpdateSpaceVisibility(ctx, spaceID, public); err != nil {
		return Result{}, fmt.Errorf("update space visibility: %w", err)
	}
	space.IsPublic = public
	result.Space = space
	return result, nil
}

func hasOwner(members []store.SpaceMembership) bool {
	for _, m := range members {
		if m.Role == rbac.RoleOwner {
			return true
		}
	}
	return false
}
