package store

import (
	"context"

	"taskhub/api/internal/rbac"
)

// Queries is the persistence surface used inside one unit of work. Lookups
// of missing rows return ErrNotFound; unique constraint violations return
// ErrConflict.
type Queries interface {
	rbac.MembershipStore

	InsertOrganization(ctx context.Context, org Organization) error
	GetOrganization(ctx context.Context, id string) (Organization, error)

	InsertUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, organizationID, email string) (User, error)
	ListOrganizationUsers(ctx context.Context, organizationID string) ([]User, error)

	InsertSpace(ctx context.Context, space Space) error
	GetSpace(ctx context.Context, id string) (Space, error)
	UpdateSpaceVisibility(ctx context.Context, id string, isPublic bool) error
	DeleteSpace(ctx context.Context, id string) error
	CountSpaceProjects(ctx context.Context, spaceID string) (int, error)

	InsertSpaceMembership(ctx context.Context, m SpaceMembership) error
	ListSpaceMemberships(ctx context.Context, spaceID string) ([]SpaceMembership, error)
	UpdateSpaceMembershipRole(ctx context.Context, spaceID, userID string, role rbac.Role) error
	DeleteSpaceMembership(ctx context.Context, spaceID, userID string) error
	// DeleteSpaceMembershipsExcept removes every membership of the space
	// whose role differs from keep and returns the removed rows.
	DeleteSpaceMembershipsExcept(ctx context.Context, spaceID string, keep rbac.Role) ([]SpaceMembership, error)

	InsertProject(ctx context.Context, project Project) error
	GetProject(ctx context.Context, id string) (Project, error)
	DeleteProject(ctx context.Context, id string) error
	CountProjectTasks(ctx context.Context, projectID string) (int, error)

	InsertProjectMembership(ctx context.Context, m ProjectMembership) error
	ListProjectMemberships(ctx context.Context, projectID string) ([]ProjectMembership, error)
	UpdateProjectMembershipRole(ctx context.Context, projectID, userID string, role rbac.Role) error
	DeleteProjectMembership(ctx context.Context, projectID, userID string) error

	InsertTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, task Task) error
	SearchTasks(ctx context.Context, organizationID, query string, limit int) ([]Task, error)

	InsertEpic(ctx context.Context, epic Epic) error
	GetEpic(ctx context.Context, id string) (Epic, error)
	InsertSprint(ctx context.Context, sprint Sprint) error
	GetSprint(ctx context.Context, id string) (Sprint, error)

	InsertComment(ctx context.Context, comment Comment) error

	InsertInvitation(ctx context.Context, inv Invitation) error
	GetInvitation(ctx context.Context, id string) (Invitation, error)
	GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error)
	FindPendingInvitation(ctx context.Context, organizationID, email string) (Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id string, status InvitationStatus) error
	DeleteInvitation(ctx context.Context, id string) error

	InsertAuditLogEntries(ctx context.Context, entries []AuditLogEntry) error
	ListTaskAudit(ctx context.Context, taskID string) ([]AuditLogEntry, error)

	InsertNotification(ctx context.Context, n Notification) error
	ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
	DeleteNotification(ctx context.Context, userID, id string) error
}

// Repository hands out transactional Queries. fn's error rolls the unit of
// work back; a nil return commits it.
type Repository interface {
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
}

var (
	_ Repository = (*PostgresStore)(nil)
	_ Repository = (*MemoryStore)(nil)
	_ Queries    = (*pgQueries)(nil)
	_ Queries    = (*memState)(nil)
)
