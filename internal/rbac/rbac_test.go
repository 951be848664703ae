package rbac

import (
	"context"
	"errors"
	"testing"
)

type fakeMemberships struct {
	roles  map[string]Role // key: userID + "|" + scope
	scopes map[Scope]ScopeInfo
	// projectSpaces maps project id to its space for HasProjectMembershipInSpace.
	projectSpaces map[string]string
}

func (f *fakeMemberships) RoleOf(_ context.Context, userID string, scope Scope) (Role, bool, error) {
	role, ok := f.roles[userID+"|"+scope.String()]
	return role, ok, nil
}

func (f *fakeMemberships) HasProjectMembershipInSpace(_ context.Context, userID, spaceID string) (bool, error) {
	for projectID, space := range f.projectSpaces {
		if space != spaceID {
			continue
		}
		if _, ok := f.roles[userID+"|"+Project(projectID).String()]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMemberships) ScopeInfo(_ context.Context, scope Scope) (ScopeInfo, error) {
	info, ok := f.scopes[scope]
	if !ok {
		return ScopeInfo{}, errors.New("not found")
	}
	return info, nil
}

// fixture:
//
//	org o1: space s1 (private) with project p1; space s2 (public) with project p2
//	org o2: space s9 with project p9
func newFixture() *fakeMemberships {
	f := &fakeMemberships{
		roles: map[string]Role{},
		scopes: map[Scope]ScopeInfo{
			Organization("o1"): {OrganizationID: "o1"},
			Space("s1"):        {OrganizationID: "o1", SpaceID: "s1"},
			Project("p1"):      {OrganizationID: "o1", SpaceID: "s1"},
			Space("s2"):        {OrganizationID: "o1", SpaceID: "s2", IsPublic: true},
			Project("p2"):      {OrganizationID: "o1", SpaceID: "s2", IsPublic: true},
			Organization("o2"): {OrganizationID: "o2"},
			Space("s9"):        {OrganizationID: "o2", SpaceID: "s9"},
			Project("p9"):      {OrganizationID: "o2", SpaceID: "s9"},
		},
		projectSpaces: map[string]string{"p1": "s1", "p2": "s2", "p9": "s9"},
	}
	set := func(user string, scope Scope, role Role) { f.roles[user+"|"+scope.String()] = role }
	set("admin", Organization("o1"), RoleAdmin)
	set("owner", Organization("o1"), RoleMember)
	set("owner", Space("s1"), RoleOwner)
	set("owner", Project("p1"), RoleOwner)
	set("member", Organization("o1"), RoleMember)
	set("member", Project("p1"), RoleMember)
	set("reader", Organization("o1"), RoleReadOnly)
	set("reader", Project("p1"), RoleMember)
	set("reader-admin", Organization("o1"), RoleReadOnly)
	set("reader-admin", Space("s1"), RoleAdmin)
	set("u3", Organization("o1"), RoleMember)
	set("spaceadmin", Organization("o1"), RoleMember)
	set("spaceadmin", Space("s1"), RoleAdmin)
	set("spacemember", Organization("o1"), RoleMember)
	set("spacemember", Space("s1"), RoleMember)
	set("mixed", Organization("o1"), RoleMember)
	set("mixed", Space("s1"), RoleAdmin)
	set("mixed", Project("p1"), RoleMember)
	set("admin2", Organization("o2"), RoleAdmin)
	return f
}

func TestResolverCheck(t *testing.T) {
	resolver := NewResolver(newFixture())

	cases := []struct {
		name     string
		user     string
		org      string
		action   Action
		scope    Scope
		allow    bool
		reason   DenyReason
		override bool
	}{
		{name: "org admin deletes project without membership", user: "admin", org: "o1", action: ActionDeleteScope, scope: Project("p1"), allow: true, override: true},
		{name: "org admin manages space members", user: "admin", org: "o1", action: ActionManageMembers, scope: Space("s1"), allow: true, override: true},
		{name: "org admin views private space", user: "admin", org: "o1", action: ActionViewSpace, scope: Space("s1"), allow: true, override: true},
		{name: "org admin manages invitations", user: "admin", org: "o1", action: ActionManageInvitations, scope: Organization("o1"), allow: true},
		{name: "org admin cannot act in another organization", user: "admin", org: "o1", action: ActionDeleteScope, scope: Project("p9"), reason: CrossOrganization},
		{name: "org admin without project membership cannot edit tasks", user: "admin", org: "o1", action: ActionEditContent, scope: Project("p1"), reason: NotAMember},
		{name: "read only member denied edit", user: "reader", org: "o1", action: ActionEditContent, scope: Project("p1"), reason: ReadOnlyCeiling},
		{name: "read only member denied comment", user: "reader", org: "o1", action: ActionComment, scope: Project("p1"), reason: ReadOnlyCeiling},
		{name: "read only member may view", user: "reader", org: "o1", action: ActionViewProject, scope: Project("p1"), allow: true},
		{name: "read only space admin denied member changes", user: "reader-admin", org: "o1", action: ActionManageMembers, scope: Space("s1"), reason: ReadOnlyCeiling},
		{name: "member edits project content", user: "member", org: "o1", action: ActionEditContent, scope: Project("p1"), allow: true},
		{name: "member cannot delete project", user: "member", org: "o1", action: ActionDeleteScope, scope: Project("p1"), reason: InsufficientRole},
		{name: "member views private space through project", user: "member", org: "o1", action: ActionViewSpace, scope: Space("s1"), allow: true},
		{name: "non member denied private space", user: "u3", org: "o1", action: ActionViewSpace, scope: Space("s1"), reason: NotAMember},
		{name: "non member views public space", user: "u3", org: "o1", action: ActionViewSpace, scope: Space("s2"), allow: true},
		{name: "non member views project in public space", user: "u3", org: "o1", action: ActionViewProject, scope: Project("p2"), allow: true},
		{name: "non member cannot edit project in public space", user: "u3", org: "o1", action: ActionEditContent, scope: Project("p2"), reason: NotAMember},
		{name: "non member cannot manage invitations", user: "u3", org: "o1", action: ActionManageInvitations, scope: Organization("o1"), reason: InsufficientRole},
		{name: "space admin manages project through space role", user: "spaceadmin", org: "o1", action: ActionManageMembers, scope: Project("p1"), allow: true},
		{name: "space member cannot delete space", user: "spacemember", org: "o1", action: ActionDeleteScope, scope: Space("s1"), reason: InsufficientRole},
		{name: "project owner deletes project", user: "owner", org: "o1", action: ActionDeleteScope, scope: Project("p1"), allow: true},
		{name: "space member cannot manage project members", user: "spacemember", org: "o1", action: ActionManageMembers, scope: Project("p1"), reason: InsufficientRole},
		{name: "project role precedes space role", user: "mixed", org: "o1", action: ActionManageMembers, scope: Project("p1"), reason: InsufficientRole},
		{name: "member creates space", user: "u3", org: "o1", action: ActionCreateSpace, scope: Organization("o1"), allow: true},
		{name: "read only cannot create space", user: "reader", org: "o1", action: ActionCreateSpace, scope: Organization("o1"), reason: ReadOnlyCeiling},
		{name: "space member creates project", user: "spacemember", org: "o1", action: ActionCreateProject, scope: Space("s1"), allow: true},
		{name: "non member cannot create project in public space", user: "u3", org: "o1", action: ActionCreateProject, scope: Space("s2"), reason: NotAMember},
		{name: "project member cannot create project in its space", user: "member", org: "o1", action: ActionCreateProject, scope: Space("s1"), reason: NotAMember},
		{name: "org admin creates project by override", user: "admin", org: "o1", action: ActionCreateProject, scope: Space("s2"), allow: true, override: true},
		{name: "read only space admin cannot create project", user: "reader-admin", org: "o1", action: ActionCreateProject, scope: Space("s1"), reason: ReadOnlyCeiling},
		{name: "unknown user", user: "ghost", org: "o1", action: ActionViewSpace, scope: Space("s2"), reason: NotAMember},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolver.Check(context.Background(), Actor{UserID: tc.user, OrganizationID: tc.org}, tc.action, tc.scope)
			if err != nil {
				t.Fatalf("Check() error = %v", err)
			}
			if got.Allowed != tc.allow {
				t.Fatalf("Check() allowed = %v, want %v (reason %q)", got.Allowed, tc.allow, got.Reason)
			}
			if !tc.allow && got.Reason != tc.reason {
				t.Fatalf("Check() reason = %q, want %q", got.Reason, tc.reason)
			}
			if got.Override != tc.override {
				t.Fatalf("Check() override = %v, want %v", got.Override, tc.override)
			}
		})
	}
}

func TestResolverRejectsActionOnWrongScope(t *testing.T) {
	resolver := NewResolver(newFixture())
	if _, err := resolver.Check(context.Background(), Actor{UserID: "admin", OrganizationID: "o1"}, ActionEditContent, Space("s1")); err == nil {
		t.Fatal("expected error for project action on space scope")
	}
}

func TestResolverUnknownScope(t *testing.T) {
	resolver := NewResolver(newFixture())
	if _, err := resolver.Check(context.Background(), Actor{UserID: "admin", OrganizationID: "o1"}, ActionViewSpace, Space("missing")); err == nil {
		t.Fatal("expected error for unknown scope")
	}
}

func TestParseRole(t *testing.T) {
	cases := []struct {
		in   string
		want Role
		ok   bool
	}{
		{in: "owner", want: RoleOwner, ok: true},
		{in: " Admin ", want: RoleAdmin, ok: true},
		{in: "read_only", want: RoleReadOnly, ok: true},
		{in: "editor", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseRole(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if ValidOrgRole(RoleOwner) {
		t.Fatal("OWNER is not an organization role")
	}
	if ValidScopedRole(RoleReadOnly) {
		t.Fatal("READ_ONLY is not a scoped role")
	}
}
