package rbac

import "strings"

// Role is held at one scope. Organization roles are ADMIN, MEMBER and
// READ_ONLY; Space and Project roles are OWNER, ADMIN and MEMBER.
type Role string

const (
	RoleOwner    Role = "OWNER"
	RoleAdmin    Role = "ADMIN"
	RoleMember   Role = "MEMBER"
	RoleReadOnly Role = "READ_ONLY"
)

type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeSpace        ScopeKind = "space"
	ScopeProject      ScopeKind = "project"
)

type Scope struct {
	Kind ScopeKind
	ID   string
}

func Organization(id string) Scope { return Scope{Kind: ScopeOrganization, ID: id} }
func Space(id string) Scope        { return Scope{Kind: ScopeSpace, ID: id} }
func Project(id string) Scope      { return Scope{Kind: ScopeProject, ID: id} }

func (s Scope) String() string {
	return string(s.Kind) + ":" + s.ID
}

type Action string

const (
	ActionViewSpace           Action = "view_space"
	ActionViewProject         Action = "view_project"
	ActionEditContent         Action = "edit_content"
	ActionComment             Action = "comment"
	ActionCreateSpace         Action = "create_space"
	ActionCreateProject       Action = "create_project"
	ActionUpdateSpaceSettings Action = "update_space_settings"
	ActionManageMembers       Action = "manage_members"
	ActionDeleteScope         Action = "delete_scope"
	ActionManageOrgMembers    Action = "manage_org_members"
	ActionManageInvitations   Action = "manage_invitations"
)

var actionScopes = map[Action][]ScopeKind{
	ActionViewSpace:           {ScopeSpace},
	ActionViewProject:         {ScopeProject},
	ActionEditContent:         {ScopeProject},
	ActionComment:             {ScopeProject},
	ActionCreateSpace:         {ScopeOrganization},
	ActionCreateProject:       {ScopeSpace},
	ActionUpdateSpaceSettings: {ScopeSpace},
	ActionManageMembers:       {ScopeSpace, ScopeProject},
	ActionDeleteScope:         {ScopeSpace, ScopeProject},
	ActionManageOrgMembers:    {ScopeOrganization},
	ActionManageInvitations:   {ScopeOrganization},
}

// Valid reports whether the action is known and applies to the scope kind.
func (a Action) Valid(kind ScopeKind) bool {
	for _, k := range actionScopes[a] {
		if k == kind {
			return true
		}
	}
	return false
}

// Mutating actions are capped by the READ_ONLY organization role.
func (a Action) Mutating() bool {
	return a != ActionViewSpace && a != ActionViewProject
}

func (a Action) orgAdministrative() bool {
	return a == ActionManageOrgMembers || a == ActionManageInvitations
}

// overridable actions are granted to organization admins at any space or
// project of their organization without a scoped membership.
func (a Action) overridable() bool {
	switch a {
	case ActionViewSpace, ActionViewProject, ActionCreateProject,
		ActionUpdateSpaceSettings, ActionManageMembers, ActionDeleteScope:
		return true
	default:
		return false
	}
}

func (a Action) administrative() bool {
	return a == ActionManageMembers || a == ActionDeleteScope || a == ActionUpdateSpaceSettings
}

// ParseRole normalizes user input into a known role. ok is false for
// anything outside the role vocabulary.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	switch role {
	case RoleOwner, RoleAdmin, RoleMember, RoleReadOnly:
		return role, true
	default:
		return "", false
	}
}

// ValidOrgRole reports whether role may be held at the organization level.
func ValidOrgRole(role Role) bool {
	return role == RoleAdmin || role == RoleMember || role == RoleReadOnly
}

// ValidScopedRole reports whether role may be held at a space or project.
func ValidScopedRole(role Role) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleMember
}

func canAdminister(role Role) bool {
	return role == RoleOwner || role == RoleAdmin
}

func canEdit(role Role) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleMember
}
