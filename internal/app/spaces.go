package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/visibility"
)

type CreateSpaceInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=5000"`
	IsPublic    bool   `json:"isPublic"`
}

type CreateProjectInput struct {
	SpaceID            string `json:"spaceId" validate:"required"`
	Name               string `json:"name" validate:"required,max=200"`
	Description        string `json:"description" validate:"max=5000"`
	WorkflowTemplateID string `json:"workflowTemplateId"`
}

// CreateSpace creates a space in the actor's organization with the actor as
// its OWNER.
func (s *Service) CreateSpace(ctx context.Context, actor rbac.Actor, in CreateSpaceInput) (store.Space, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return store.Space{}, err
	}
	var space store.Space
	err := s.tx(ctx, "CreateSpace", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionCreateSpace, rbac.Organization(actor.OrganizationID)); err != nil {
			return err
		}
		now := s.now().UTC()
		space = store.Space{
			ID:             util.NewID("spc"),
			OrganizationID: actor.OrganizationID,
			Name:           in.Name,
			Description:    in.Description,
			IsPublic:       in.IsPublic,
			CreatedByID:    actor.UserID,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := q.InsertSpace(ctx, space); err != nil {
			return fmt.Errorf("insert space: %w", err)
		}
		return q.InsertSpaceMembership(ctx, store.SpaceMembership{SpaceID: space.ID, UserID: actor.UserID, Role: rbac.RoleOwner, CreatedAt: now})
	})
	if err != nil {
		return store.Space{}, err
	}
	return space, nil
}

// CreateProject creates a project in a space with the actor as its OWNER.
func (s *Service) CreateProject(ctx context.Context, actor rbac.Actor, in CreateProjectInput) (store.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return store.Project{}, err
	}
	if in.WorkflowTemplateID == "" {
		in.WorkflowTemplateID = s.workflows.DefaultID()
	}
	if _, ok := s.workflows.Get(in.WorkflowTemplateID); !ok {
		return store.Project{}, apperr.Validation("workflowTemplateId", fmt.Sprintf("unknown workflow template %q", in.WorkflowTemplateID))
	}

	var project store.Project
	err := s.tx(ctx, "CreateProject", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionCreateProject, rbac.Space(in.SpaceID)); err != nil {
			return err
		}
		space, err := q.GetSpace(ctx, in.SpaceID)
		if err != nil {
			return missing(err, "space")
		}
		now := s.now().UTC()
		project = store.Project{
			ID:                 util.NewID("prj"),
			SpaceID:            space.ID,
			OrganizationID:     space.OrganizationID,
			Name:               in.Name,
			Description:        in.Description,
			WorkflowTemplateID: in.WorkflowTemplateID,
			CreatedByID:        actor.UserID,
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := q.InsertProject(ctx, project); err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return q.InsertProjectMembership(ctx, store.ProjectMembership{ProjectID: project.ID, UserID: actor.UserID, Role: rbac.RoleOwner, CreatedAt: now})
	})
	if err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// TransitionSpaceVisibility flips a space between private and public. Going
// public drops every membership other than OWNER; the removed rows are
// returned.
func (s *Service) TransitionSpaceVisibility(ctx context.Context, actor rbac.Actor, spaceID string, public bool) (visibility.Result, error) {
	var result visibility.Result
	err := s.tx(ctx, "TransitionSpaceVisibility", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionUpdateSpaceSettings, rbac.Space(spaceID)); err != nil {
			return err
		}
		var err error
		result, err = visibility.Transition(ctx, q, spaceID, public)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("space")
		}
		return err
	}, attribute.String("space_id", spaceID), attribute.Bool("public", public))
	if err != nil {
		return visibility.Result{}, err
	}
	if result.Changed {
		visibilityRemovals.Add(float64(len(result.Removed)))
		s.logger.InfoContext(ctx, "space visibility changed",
			slog.String("space_id", spaceID),
			slog.Bool("public", public),
			slog.Int("removed", len(result.Removed)))
	}
	if result.Removed == nil {
		result.Removed = []store.SpaceMembership{}
	}
	return result, nil
}

// DeleteSpace removes an empty space.
func (s *Service) DeleteSpace(ctx context.Context, actor rbac.Actor, spaceID string) error {
	return s.tx(ctx, "DeleteSpace", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionDeleteScope, rbac.Space(spaceID)); err != nil {
			return err
		}
		count, err := q.CountSpaceProjects(ctx, spaceID)
		if err != nil {
			return fmt.Errorf("count space projects: %w", err)
		}
		if count > 0 {
			return apperr.Conflict(apperr.NonEmptyDeleteTarget, fmt.Sprintf("space still has %d projects", count))
		}
		if err := q.DeleteSpace(ctx, spaceID); err != nil {
			return missing(err, "space")
		}
		return nil
	})
}

// DeleteProject removes a project without tasks.
func (s *Service) DeleteProject(ctx context.Context, actor rbac.Actor, projectID string) error {
	return s.tx(ctx, "DeleteProject", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionDeleteScope, rbac.Project(projectID)); err != nil {
			return err
		}
		count, err := q.CountProjectTasks(ctx, projectID)
		if err != nil {
			return fmt.Errorf("count project tasks: %w", err)
		}
		if count > 0 {
			return apperr.Conflict(apperr.NonEmptyDeleteTarget, fmt.Sprintf("project still has %d tasks", count))
		}
		if err := q.DeleteProject(ctx, projectID); err != nil {
			return missing(err, "project")
		}
		return nil
	})
}

// member is a scope-neutral view of a space or project membership.
type member struct {
	UserID string
	Role   rbac.Role
}

// memberships abstracts the space and project membership tables so the
// add, remove and role change rules are written once.
type memberships struct {
	scope  rbac.Scope
	event  notify.EventType
	name   func(ctx context.Context) (string, error)
	list   func(ctx context.Context) ([]member, error)
	insert func(ctx context.Context, userID string, role rbac.Role) error
	update func(ctx context.Context, userID string, role rbac.Role) error
	remove func(ctx context.Context, userID string) error
}

func (s *Service) spaceMemberships(q store.Queries, spaceID string) memberships {
	return memberships{
		scope: rbac.Space(spaceID),
		event: notify.SpaceMemberAdded,
		name: func(ctx context.Context) (string, error) {
			space, err := q.GetSpace(ctx, spaceID)
			return space.Name, err
		},
		list: func(ctx context.Context) ([]member, error) {
			rows, err := q.ListSpaceMemberships(ctx, spaceID)
			out := make([]member, 0, len(rows))
			for _, row := range rows {
				out = append(out, member{UserID: row.UserID, Role: row.Role})
			}
			return out, err
		},
		insert: func(ctx context.Context, userID string, role rbac.Role) error {
			return q.InsertSpaceMembership(ctx, store.SpaceMembership{SpaceID: spaceID, UserID: userID, Role: role, CreatedAt: s.now().UTC()})
		},
		update: func(ctx context.Context, userID string, role rbac.Role) error {
			return q.UpdateSpaceMembershipRole(ctx, spaceID, userID, role)
		},
		remove: func(ctx context.Context, userID string) error {
			return q.DeleteSpaceMembership(ctx, spaceID, userID)
		},
	}
}

func (s *Service) projectMemberships(q store.Queries, projectID string) memberships {
	return memberships{
		scope: rbac.Project(projectID),
		event: notify.ProjectMemberAdded,
		name: func(ctx context.Context) (string, error) {
			project, err := q.GetProject(ctx, projectID)
			return project.Name, err
		},
		list: func(ctx context.Context) ([]member, error) {
			rows, err := q.ListProjectMemberships(ctx, projectID)
			out := make([]member, 0, len(rows))
			for _, row := range rows {
				out = append(out, member{UserID: row.UserID, Role: row.Role})
			}
			return out, err
		},
		insert: func(ctx context.Context, userID string, role rbac.Role) error {
			return q.InsertProjectMembership(ctx, store.ProjectMembership{ProjectID: projectID, UserID: userID, Role: role, CreatedAt: s.now().UTC()})
		},
		update: func(ctx context.Context, userID string, role rbac.Role) error {
			return q.UpdateProjectMembershipRole(ctx, projectID, userID, role)
		},
		remove: func(ctx context.Context, userID string) error {
			return q.DeleteProjectMembership(ctx, projectID, userID)
		},
	}
}

func (s *Service) AddSpaceMember(ctx context.Context, actor rbac.Actor, spaceID, userID string, role rbac.Role) error {
	return s.addMember(ctx, actor, userID, role, func(q store.Queries) memberships { return s.spaceMemberships(q, spaceID) })
}

func (s *Service) AddProjectMember(ctx context.Context, actor rbac.Actor, projectID, userID string, role rbac.Role) error {
	return s.addMember(ctx, actor, userID, role, func(q store.Queries) memberships { return s.projectMemberships(q, projectID) })
}

func (s *Service) RemoveSpaceMember(ctx context.Context, actor rbac.Actor, spaceID, userID string) error {
	return s.removeMember(ctx, actor, userID, func(q store.Queries) memberships { return s.spaceMemberships(q, spaceID) })
}

func (s *Service) RemoveProjectMember(ctx context.Context, actor rbac.Actor, projectID, userID string) error {
	return s.removeMember(ctx, actor, userID, func(q store.Queries) memberships { return s.projectMemberships(q, projectID) })
}

func (s *Service) ChangeSpaceMemberRole(ctx context.Context, actor rbac.Actor, spaceID, userID string, role rbac.Role) error {
	return s.changeRole(ctx, actor, userID, role, func(q store.Queries) memberships { return s.spaceMemberships(q, spaceID) })
}

func (s *Service) ChangeProjectMemberRole(ctx context.Context, actor rbac.Actor, projectID, userID string, role rbac.Role) error {
	return s.changeRole(ctx, actor, userID, role, func(q store.Queries) memberships { return s.projectMemberships(q, projectID) })
}

func (s *Service) addMember(ctx context.Context, actor rbac.Actor, userID string, role rbac.Role, open func(store.Queries) memberships) error {
	if !rbac.ValidScopedRole(role) {
		return apperr.Validation("role", "role must be OWNER, ADMIN or MEMBER")
	}
	var event notify.Event
	err := s.tx(ctx, "AddMember", func(ctx context.Context, q store.Queries) error {
		m := open(q)
		decision, err := s.authorize(ctx, q, actor, rbac.ActionManageMembers, m.scope)
		if err != nil {
			return err
		}
		if err := canGrant(decision, role); err != nil {
			return err
		}
		user, err := q.GetUser(ctx, userID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && user.OrganizationID != actor.OrganizationID) {
			return apperr.NotFound("user")
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}
		if err := m.insert(ctx, user.ID, role); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return apperr.Conflict(apperr.DuplicateMembership, "user is already a member")
			}
			return fmt.Errorf("insert membership: %w", err)
		}
		name, err := m.name(ctx)
		if err != nil {
			return missing(err, string(m.scope.Kind))
		}
		event = notify.Event{
			Type:        m.event,
			ActorID:     actor.UserID,
			ActorName:   actorName(ctx, q, actor.UserID),
			ScopeName:   name,
			AddedUserID: user.ID,
		}
		if m.scope.Kind == rbac.ScopeSpace {
			event.SpaceID = m.scope.ID
		} else {
			event.ProjectID = m.scope.ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.DispatchEvent(ctx, event)
	return nil
}

// removeMember deletes a membership. Members may always remove themselves;
// removing anyone else needs member management rights. The last OWNER
// cannot be removed.
func (s *Service) removeMember(ctx context.Context, actor rbac.Actor, userID string, open func(store.Queries) memberships) error {
	return s.tx(ctx, "RemoveMember", func(ctx context.Context, q store.Queries) error {
		m := open(q)
		if userID != actor.UserID {
			if _, err := s.authorize(ctx, q, actor, rbac.ActionManageMembers, m.scope); err != nil {
				return err
			}
		}
		members, err := m.list(ctx)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		target, ok := find(members, userID)
		if !ok {
			return apperr.NotFound("membership")
		}
		if target.Role == rbac.RoleOwner && owners(members) == 1 {
			return apperr.Conflict(apperr.LastOwnerRemoval, "cannot remove the last owner")
		}
		if err := m.remove(ctx, userID); err != nil {
			return missing(err, "membership")
		}
		return nil
	})
}

func (s *Service) changeRole(ctx context.Context, actor rbac.Actor, userID string, role rbac.Role, open func(store.Queries) memberships) error {
	if !rbac.ValidScopedRole(role) {
		return apperr.Validation("role", "role must be OWNER, ADMIN or MEMBER")
	}
	return s.tx(ctx, "ChangeMemberRole", func(ctx context.Context, q store.Queries) error {
		m := open(q)
		decision, err := s.authorize(ctx, q, actor, rbac.ActionManageMembers, m.scope)
		if err != nil {
			return err
		}
		members, err := m.list(ctx)
		if err != nil {
			return fmt.Errorf("list memberships: %w", err)
		}
		target, ok := find(members, userID)
		if !ok {
			return apperr.NotFound("membership")
		}
		if target.Role == role {
			return nil
		}
		if err := canGrant(decision, role); err != nil {
			return err
		}
		if target.Role == rbac.RoleOwner {
			if err := canGrant(decision, target.Role); err != nil {
				return err
			}
			if owners(members) == 1 {
				return apperr.Conflict(apperr.LastOwnerRemoval, "cannot demote the last owner")
			}
		}
		if err := m.update(ctx, userID, role); err != nil {
			return missing(err, "membership")
		}
		return nil
	})
}

// canGrant limits OWNER grants and revocations to owners and organization
// admins.
func canGrant(decision rbac.Decision, role rbac.Role) error {
	if role != rbac.RoleOwner || decision.Role == rbac.RoleOwner || decision.Override {
		return nil
	}
	return apperr.Forbidden(string(rbac.InsufficientRole))
}

func find(members []member, userID string) (member, bool) {
	for _, m := range members {
		if m.UserID == userID {
			return m, true
		}
	}
	return member{}, false
}

func owners(members []member) int {
	count := 0
	for _, m := range members {
		if m.Role == rbac.RoleOwner {
			count++
		}
	}
	return count
}
