package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/dispatch"
	"taskhub/api/internal/email"
	"taskhub/api/internal/invite"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
)

type CreateInvitationInput struct {
	Email     string               `json:"email"`
	Type      store.InvitationType `json:"type"`
	Role      rbac.Role            `json:"role"`
	SpaceID   string               `json:"spaceId"`
	ProjectID string               `json:"projectId"`
}

// CreatedInvitation is returned to the inviter. AcceptURL carries the one
// time token and is only filled in when no mail will be sent for it.
type CreatedInvitation struct {
	Invitation store.Invitation
	AcceptURL  string
	Emailed    bool
}

// CreateInvitation stores a PENDING invitation and mails its link on the
// queue. Organization invitations need organization admin rights; space and
// project invitations need member management rights on the target.
func (s *Service) CreateInvitation(ctx context.Context, actor rbac.Actor, in CreateInvitationInput) (CreatedInvitation, error) {
	in.Type = store.InvitationType(strings.ToUpper(strings.TrimSpace(string(in.Type))))
	var (
		created CreatedInvitation
		token   string
		mail    email.InvitationData
	)
	err := s.tx(ctx, "CreateInvitation", func(ctx context.Context, q store.Queries) error {
		scope, action, err := invitationScope(in.Type, actor.OrganizationID, in.SpaceID, in.ProjectID)
		if err != nil {
			return err
		}
		decision, err := s.authorize(ctx, q, actor, action, scope)
		if err != nil {
			return err
		}
		role := rbac.Role(strings.ToUpper(strings.TrimSpace(string(in.Role))))
		if scope.Kind != rbac.ScopeOrganization {
			if err := canGrant(decision, role); err != nil {
				return err
			}
		}

		inv, raw, err := s.invites.Create(ctx, q, invite.CreateInput{
			Email:          in.Email,
			Type:           in.Type,
			Role:           role,
			OrganizationID: actor.OrganizationID,
			SpaceID:        in.SpaceID,
			ProjectID:      in.ProjectID,
			InvitedByID:    actor.UserID,
		})
		if err != nil {
			return err
		}
		created.Invitation, token = inv, raw
		mail = email.InvitationData{
			InviterName: actorName(ctx, q, actor.UserID),
			TargetName:  invitationTarget(ctx, q, inv),
			Role:        string(inv.Role),
			AcceptURL:   s.acceptURL(raw),
			ExpiresAt:   inv.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		return CreatedInvitation{}, err
	}

	if s.mailer != nil && s.mailer.IsConfigured() {
		to := created.Invitation.Email
		created.Emailed = s.submit("invitation.email", func(context.Context) error {
			err := s.mailer.SendInvitationEmail(to, mail)
			if errors.Is(err, email.ErrNotConfigured) {
				return dispatch.Permanent(err)
			}
			return err
		})
	}
	if !created.Emailed {
		created.AcceptURL = s.acceptURL(token)
		s.logger.InfoContext(ctx, "invitation email not sent, returning link to inviter",
			slog.String("invitation_id", created.Invitation.ID))
	}
	return created, nil
}

// AcceptInvitation redeems a token. It needs no session since invitees
// usually have no account yet.
func (s *Service) AcceptInvitation(ctx context.Context, in invite.AcceptInput) (invite.Membership, error) {
	var membership invite.Membership
	err := s.tx(ctx, "AcceptInvitation", func(ctx context.Context, q store.Queries) error {
		var err error
		membership, err = s.invites.Accept(ctx, q, in)
		return err
	})
	if err != nil {
		return invite.Membership{}, err
	}
	s.logger.InfoContext(ctx, "invitation accepted",
		slog.String("invitation_id", membership.Invitation.ID),
		slog.String("user_id", membership.User.ID),
		slog.String("scope", membership.Scope.String()),
		slog.Bool("new_user", membership.NewUser))
	return membership, nil
}

// PreviewInvitation returns the pending invitation behind token.
func (s *Service) PreviewInvitation(ctx context.Context, token string) (store.Invitation, error) {
	var inv store.Invitation
	err := s.tx(ctx, "PreviewInvitation", func(ctx context.Context, q store.Queries) error {
		var err error
		inv, err = s.invites.Lookup(ctx, q, token)
		return err
	})
	return inv, err
}

// DeclineInvitation deletes the invitation behind token.
func (s *Service) DeclineInvitation(ctx context.Context, token string) error {
	return s.tx(ctx, "DeclineInvitation", func(ctx context.Context, q store.Queries) error {
		return s.invites.Decline(ctx, q, token)
	})
}

// CancelInvitation lets the inviter, or anyone who could have sent it,
// withdraw a pending invitation.
func (s *Service) CancelInvitation(ctx context.Context, actor rbac.Actor, invitationID string) error {
	return s.tx(ctx, "CancelInvitation", func(ctx context.Context, q store.Queries) error {
		inv, err := q.GetInvitation(ctx, invitationID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && inv.OrganizationID != actor.OrganizationID) {
			return apperr.NotFound("invitation")
		}
		if err != nil {
			return fmt.Errorf("load invitation: %w", err)
		}
		if inv.InvitedByID != actor.UserID {
			scope, action, err := invitationScope(inv.Type, inv.OrganizationID, deref(inv.SpaceID), deref(inv.ProjectID))
			if err != nil {
				return err
			}
			if _, err := s.authorize(ctx, q, actor, action, scope); err != nil {
				return err
			}
		}
		return s.invites.Cancel(ctx, q, actor.OrganizationID, inv.ID)
	})
}

func invitationScope(kind store.InvitationType, orgID, spaceID, projectID string) (rbac.Scope, rbac.Action, error) {
	switch kind {
	case store.InvitationOrganization:
		return rbac.Organization(orgID), rbac.ActionManageInvitations, nil
	case store.InvitationSpace:
		if strings.TrimSpace(spaceID) == "" {
			return rbac.Scope{}, "", apperr.Validation("spaceId", "spaceId is required for space invitations")
		}
		return rbac.Space(spaceID), rbac.ActionManageMembers, nil
	case store.InvitationProject:
		if strings.TrimSpace(projectID) == "" {
			return rbac.Scope{}, "", apperr.Validation("projectId", "projectId is required for project invitations")
		}
		return rbac.Project(projectID), rbac.ActionManageMembers, nil
	default:
		return rbac.Scope{}, "", apperr.Validation("type", "type must be ORGANIZATION, SPACE or PROJECT")
	}
}

func invitationTarget(ctx context.Context, q store.Queries, inv store.Invitation) string {
	switch inv.Type {
	case store.InvitationSpace:
		if space, err := q.GetSpace(ctx, deref(inv.SpaceID)); err == nil {
			return space.Name
		}
	case store.InvitationProject:
		if project, err := q.GetProject(ctx, deref(inv.ProjectID)); err == nil {
			return project.Name
		}
	}
	if org, err := q.GetOrganization(ctx, inv.OrganizationID); err == nil {
		return org.Name
	}
	return "your team"
}

func (s *Service) acceptURL(token string) string {
	return s.appBaseURL + "/invitations/accept?token=" + url.QueryEscape(token)
}
