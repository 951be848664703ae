package store

import (
	"time"

	"taskhub/api/internal/rbac"
)

type Organization struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User belongs to exactly one organization. Role is the organization role.
type User struct {
	ID             string
	OrganizationID string
	Name           string
	Email          string
	Role           rbac.Role
	CreatedAt      time.Time
}

type Space struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	IsPublic       bool
	CreatedByID    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type SpaceMembership struct {
	SpaceID   string
	UserID    string
	Role      rbac.Role
	CreatedAt time.Time
}

type Project struct {
	ID                 string
	SpaceID            string
	OrganizationID     string
	Name               string
	Description        string
	WorkflowTemplateID string
	CreatedByID        string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ProjectMembership struct {
	ProjectID string
	UserID    string
	Role      rbac.Role
	CreatedAt time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Priority    string
	AssigneeID  *string
	EpicID      *string
	SprintID    *string
	DueDate     *time.Time
	CreatedByID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Epic struct {
	ID        string
	ProjectID string
	Name      string
	Status    string
	CreatedAt time.Time
}

type Sprint struct {
	ID        string
	ProjectID string
	Name      string
	Status    string
	CreatedAt time.Time
}

type Comment struct {
	ID        string
	TaskID    string
	AuthorID  string
	Body      string
	CreatedAt time.Time
}

type InvitationType string

const (
	InvitationOrganization InvitationType = "ORGANIZATION"
	InvitationSpace        InvitationType = "SPACE"
	InvitationProject      InvitationType = "PROJECT"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

type Invitation struct {
	ID             string
	Email          string
	Type           InvitationType
	Role           rbac.Role
	OrganizationID string
	SpaceID        *string
	ProjectID      *string
	Status         InvitationStatus
	TokenHash      string
	InvitedByID    string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// Expired reports whether the invitation lapsed at now.
func (i Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

type AuditLogEntry struct {
	ID        string
	TaskID    string
	UserID    string
	Field     string
	OldValue  string
	NewValue  string
	Action    string
	CreatedAt time.Time
}

type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      string
	Link      string
	IsRead    bool
	CreatedAt time.Time
}
