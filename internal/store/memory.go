package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"taskhub/api/internal/rbac"
)

// MemoryStore is an in-process Repository. Transactions are serialized and
// run against a copy of the state that replaces the live state on commit.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	working := s.state.clone()
	if err := fn(working); err != nil {
		return err
	}
	s.state = working
	return nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

type memState struct {
	orgs           map[string]Organization
	users          map[string]User
	spaces         map[string]Space
	spaceMembers   map[string]map[string]SpaceMembership
	projects       map[string]Project
	projectMembers map[string]map[string]ProjectMembership
	tasks          map[string]Task
	epics          map[string]Epic
	sprints        map[string]Sprint
	comments       map[string]Comment
	invitations    map[string]Invitation
	audit          []AuditLogEntry
	notifications  map[string]Notification
}

func newMemState() *memState {
	return &memState{
		orgs:           map[string]Organization{},
		users:          map[string]User{},
		spaces:         map[string]Space{},
		spaceMembers:   map[string]map[string]SpaceMembership{},
		projects:       map[string]Project{},
		projectMembers: map[string]map[string]ProjectMembership{},
		tasks:          map[string]Task{},
		epics:          map[string]Epic{},
		sprints:        map[string]Sprint{},
		comments:       map[string]Comment{},
		invitations:    map[string]Invitation{},
		notifications:  map[string]Notification{},
	}
}

func (m *memState) clone() *memState {
	c := &memState{
		orgs:           maps.Clone(m.orgs),
		users:          maps.Clone(m.users),
		spaces:         maps.Clone(m.spaces),
		spaceMembers:   make(map[string]map[string]SpaceMembership, len(m.spaceMembers)),
		projects:       maps.Clone(m.projects),
		projectMembers: make(map[string]map[string]ProjectMembership, len(m.projectMembers)),
		tasks:          maps.Clone(m.tasks),
		epics:          maps.Clone(m.epics),
		sprints:        maps.Clone(m.sprints),
		comments:       maps.Clone(m.comments),
		invitations:    maps.Clone(m.invitations),
		audit:          append([]AuditLogEntry(nil), m.audit...),
		notifications:  maps.Clone(m.notifications),
	}
	for id, members := range m.spaceMembers {
		c.spaceMembers[id] = maps.Clone(members)
	}
	for id, members := range m.projectMembers {
		c.projectMembers[id] = maps.Clone(members)
	}
	return c
}

func notFound(op string) error { return fmt.Errorf("%s: %w", op, ErrNotFound) }
func conflict(op string) error { return fmt.Errorf("%s: %w", op, ErrConflict) }

func (m *memState) RoleOf(_ context.Context, userID string, scope rbac.Scope) (rbac.Role, bool, error) {
	switch scope.Kind {
	case rbac.ScopeOrganization:
		user, ok := m.users[userID]
		if !ok || user.OrganizationID != scope.ID {
			return "", false, nil
		}
		return user.Role, true, nil
	case rbac.ScopeSpace:
		member, ok := m.spaceMembers[scope.ID][userID]
		return member.Role, ok, nil
	case rbac.ScopeProject:
		member, ok := m.projectMembers[scope.ID][userID]
		return member.Role, ok, nil
	default:
		return "", false, fmt.Errorf("role of: unknown scope kind %q", scope.Kind)
	}
}

func (m *memState) HasProjectMembershipInSpace(_ context.Context, userID, spaceID string) (bool, error) {
	for projectID, members := range m.projectMembers {
		if _, ok := members[userID]; !ok {
			continue
		}
		if m.projects[projectID].SpaceID == spaceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memState) ScopeInfo(_ context.Context, scope rbac.Scope) (rbac.ScopeInfo, error) {
	op := "scope info " + scope.String()
	switch scope.Kind {
	case rbac.ScopeOrganization:
		if _, ok := m.orgs[scope.ID]; !ok {
			return rbac.ScopeInfo{}, notFound(op)
		}
		return rbac.ScopeInfo{OrganizationID: scope.ID}, nil
	case rbac.ScopeSpace:
		space, ok := m.spaces[scope.ID]
		if !ok {
			return rbac.ScopeInfo{}, notFound(op)
		}
		return rbac.ScopeInfo{OrganizationID: space.OrganizationID, SpaceID: space.ID, IsPublic: space.IsPublic}, nil
	case rbac.ScopeProject:
		project, ok := m.projects[scope.ID]
		if !ok {
			return rbac.ScopeInfo{}, notFound(op)
		}
		space := m.spaces[project.SpaceID]
		return rbac.ScopeInfo{OrganizationID: project.OrganizationID, SpaceID: project.SpaceID, IsPublic: space.IsPublic}, nil
	default:
		return rbac.ScopeInfo{}, fmt.Errorf("scope info: unknown scope kind %q", scope.Kind)
	}
}

func (m *memState) InsertOrganization(_ context.Context, org Organization) error {
	if _, ok := m.orgs[org.ID]; ok {
		return conflict("insert organization")
	}
	m.orgs[org.ID] = org
	return nil
}

func (m *memState) GetOrganization(_ context.Context, id string) (Organization, error) {
	org, ok := m.orgs[id]
	if !ok {
		return Organization{}, notFound("get organization")
	}
	return org, nil
}

func (m *memState) InsertUser(_ context.Context, user User) error {
	if _, ok := m.users[user.ID]; ok {
		return conflict("insert user")
	}
	for _, existing := range m.users {
		if existing.OrganizationID == user.OrganizationID && strings.EqualFold(existing.Email, user.Email) {
			return conflict("insert user")
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memState) GetUser(_ context.Context, id string) (User, error) {
	user, ok := m.users[id]
	if !ok {
		return User{}, notFound("get user")
	}
	return user, nil
}

func (m *memState) FindUserByEmail(_ context.Context, organizationID, email string) (User, error) {
	for _, user := range m.users {
		if user.OrganizationID == organizationID && strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, notFound("find user by email")
}

func (m *memState) ListOrganizationUsers(_ context.Context, organizationID string) ([]User, error) {
	items := make([]User, 0)
	for _, user := range m.users {
		if user.OrganizationID == organizationID {
			items = append(items, user)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (m *memState) InsertSpace(_ context.Context, space Space) error {
	if _, ok := m.spaces[space.ID]; ok {
		return conflict("insert space")
	}
	space.UpdatedAt = space.CreatedAt
	m.spaces[space.ID] = space
	return nil
}

func (m *memState) GetSpace(_ context.Context, id string) (Space, error) {
	space, ok := m.spaces[id]
	if !ok {
		return Space{}, notFound("get space")
	}
	return space, nil
}

func (m *memState) UpdateSpaceVisibility(_ context.Context, id string, isPublic bool) error {
	space, ok := m.spaces[id]
	if !ok {
		return notFound("update space visibility")
	}
	space.IsPublic = isPublic
	m.spaces[id] = space
	return nil
}

func (m *memState) DeleteSpace(_ context.Context, id string) error {
	if _, ok := m.spaces[id]; !ok {
		return notFound("delete space")
	}
	delete(m.spaces, id)
	delete(m.spaceMembers, id)
	return nil
}

func (m *memState) CountSpaceProjects(_ context.Context, spaceID string) (int, error) {
	count := 0
	for _, project := range m.projects {
		if project.SpaceID == spaceID {
			count++
		}
	}
	return count, nil
}

func (m *memState) InsertSpaceMembership(_ context.Context, member SpaceMembership) error {
	if _, ok := m.spaces[member.SpaceID]; !ok {
		return notFound("insert space membership")
	}
	members := m.spaceMembers[member.SpaceID]
	if members == nil {
		members = map[string]SpaceMembership{}
		m.spaceMembers[member.SpaceID] = members
	}
	if _, ok := members[member.UserID]; ok {
		return conflict("insert space membership")
	}
	members[member.UserID] = member
	return nil
}

func (m *memState) ListSpaceMemberships(_ context.Context, spaceID string) ([]SpaceMembership, error) {
	items := make([]SpaceMembership, 0, len(m.spaceMembers[spaceID]))
	for _, member := range m.spaceMembers[spaceID] {
		items = append(items, member)
	}
	sortSpaceMemberships(items)
	return items, nil
}

func sortSpaceMemberships(items []SpaceMembership) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].UserID < items[j].UserID
	})
}

func (m *memState) UpdateSpaceMembershipRole(_ context.Context, spaceID, userID string, role rbac.Role) error {
	member, ok := m.spaceMembers[spaceID][userID]
	if !ok {
		return notFound("update space membership role")
	}
	member.Role = role
	m.spaceMembers[spaceID][userID] = member
	return nil
}

func (m *memState) DeleteSpaceMembership(_ context.Context, spaceID, userID string) error {
	if _, ok := m.spaceMembers[spaceID][userID]; !ok {
		return notFound("delete space membership")
	}
	delete(m.spaceMembers[spaceID], userID)
	return nil
}

func (m *memState) DeleteSpaceMembershipsExcept(_ context.Context, spaceID string, keep rbac.Role) ([]SpaceMembership, error) {
	removed := make([]SpaceMembership, 0)
	for userID, member := range m.spaceMembers[spaceID] {
		if member.Role == keep {
			continue
		}
		removed = append(removed, member)
		delete(m.spaceMembers[spaceID], userID)
	}
	sortSpaceMemberships(removed)
	return removed, nil
}

func (m *memState) InsertProject(_ context.Context, project Project) error {
	if _, ok := m.projects[project.ID]; ok {
		return conflict("insert project")
	}
	if _, ok := m.spaces[project.SpaceID]; !ok {
		return notFound("insert project")
	}
	project.UpdatedAt = project.CreatedAt
	m.projects[project.ID] = project
	return nil
}

func (m *memState) GetProject(_ context.Context, id string) (Project, error) {
	project, ok := m.projects[id]
	if !ok {
		return Project{}, notFound("get project")
	}
	return project, nil
}

func (m *memState) DeleteProject(_ context.Context, id string) error {
	if _, ok := m.projects[id]; !ok {
		return notFound("delete project")
	}
	delete(m.projects, id)
	delete(m.projectMembers, id)
	return nil
}

func (m *memState) CountProjectTasks(_ context.Context, projectID string) (int, error) {
	count := 0
	for _, task := range m.tasks {
		if task.ProjectID == projectID {
			count++
		}
	}
	return count, nil
}

func (m *memState) InsertProjectMembership(_ context.Context, member ProjectMembership) error {
	if _, ok := m.projects[member.ProjectID]; !ok {
		return notFound("insert project membership")
	}
	members := m.projectMembers[member.ProjectID]
	if members == nil {
		members = map[string]ProjectMembership{}
		m.projectMembers[member.ProjectID] = members
	}
	if _, ok := members[member.UserID]; ok {
		return conflict("insert project membership")
	}
	members[member.UserID] = member
	return nil
}

func (m *memState) ListProjectMemberships(_ context.Context, projectID string) ([]ProjectMembership, error) {
	items := make([]ProjectMembership, 0, len(m.projectMembers[projectID]))
	for _, member := range m.projectMembers[projectID] {
		items = append(items, member)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].UserID < items[j].UserID
	})
	return items, nil
}

func (m *memState) UpdateProjectMembershipRole(_ context.Context, projectID, userID string, role rbac.Role) error {
	member, ok := m.projectMembers[projectID][userID]
	if !ok {
		return notFound("update project membership role")
	}
	member.Role = role
	m.projectMembers[projectID][userID] = member
	return nil
}

func (m *memState) DeleteProjectMembership(_ context.Context, projectID, userID string) error {
	if _, ok := m.projectMembers[projectID][userID]; !ok {
		return notFound("delete project membership")
	}
	delete(m.projectMembers[projectID], userID)
	return nil
}

func (m *memState) InsertTask(_ context.Context, task Task) error {
	if _, ok := m.tasks[task.ID]; ok {
		return conflict("insert task")
	}
	if _, ok := m.projects[task.ProjectID]; !ok {
		return notFound("insert task")
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *memState) GetTask(_ context.Context, id string) (Task, error) {
	task, ok := m.tasks[id]
	if !ok {
		return Task{}, notFound("get task")
	}
	return task, nil
}

func (m *memState) UpdateTask(_ context.Context, task Task) error {
	existing, ok := m.tasks[task.ID]
	if !ok {
		return notFound("update task")
	}
	task.ProjectID = existing.ProjectID
	task.CreatedByID = existing.CreatedByID
	task.CreatedAt = existing.CreatedAt
	m.tasks[task.ID] = task
	return nil
}

func (m *memState) SearchTasks(_ context.Context, organizationID, query string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	items := make([]Task, 0)
	for _, task := range m.tasks {
		if m.projects[task.ProjectID].OrganizationID != organizationID {
			continue
		}
		if strings.Contains(strings.ToLower(task.Title), needle) || strings.Contains(strings.ToLower(task.Description), needle) {
			items = append(items, task)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memState) InsertEpic(_ context.Context, epic Epic) error {
	if _, ok := m.epics[epic.ID]; ok {
		return conflict("insert epic")
	}
	m.epics[epic.ID] = epic
	return nil
}

func (m *memState) GetEpic(_ context.Context, id string) (Epic, error) {
	epic, ok := m.epics[id]
	if !ok {
		return Epic{}, notFound("get epic")
	}
	return epic, nil
}

func (m *memState) InsertSprint(_ context.Context, sprint Sprint) error {
	if _, ok := m.sprints[sprint.ID]; ok {
		return conflict("insert sprint")
	}
	m.sprints[sprint.ID] = sprint
	return nil
}

func (m *memState) GetSprint(_ context.Context, id string) (Sprint, error) {
	sprint, ok := m.sprints[id]
	if !ok {
		return Sprint{}, notFound("get sprint")
	}
	return sprint, nil
}

func (m *memState) InsertComment(_ context.Context, comment Comment) error {
	if _, ok := m.tasks[comment.TaskID]; !ok {
		return notFound("insert comment")
	}
	m.comments[comment.ID] = comment
	return nil
}

func (m *memState) InsertInvitation(_ context.Context, inv Invitation) error {
	for _, existing := range m.invitations {
		if existing.TokenHash == inv.TokenHash {
			return conflict("insert invitation")
		}
		if inv.Status == InvitationPending && existing.Status == InvitationPending &&
			existing.OrganizationID == inv.OrganizationID && strings.EqualFold(existing.Email, inv.Email) {
			return conflict("insert invitation")
		}
	}
	m.invitations[inv.ID] = inv
	return nil
}

func (m *memState) GetInvitation(_ context.Context, id string) (Invitation, error) {
	inv, ok := m.invitations[id]
	if !ok {
		return Invitation{}, notFound("get invitation")
	}
	return inv, nil
}

func (m *memState) GetInvitationByTokenHash(_ context.Context, tokenHash string) (Invitation, error) {
	for _, inv := range m.invitations {
		if inv.TokenHash == tokenHash {
			return inv, nil
		}
	}
	return Invitation{}, notFound("get invitation by token")
}

func (m *memState) FindPendingInvitation(_ context.Context, organizationID, email string) (Invitation, error) {
	for _, inv := range m.invitations {
		if inv.Status == InvitationPending && inv.OrganizationID == organizationID && strings.EqualFold(inv.Email, email) {
			return inv, nil
		}
	}
	return Invitation{}, notFound("find pending invitation")
}

func (m *memState) UpdateInvitationStatus(_ context.Context, id string, status InvitationStatus) error {
	inv, ok := m.invitations[id]
	if !ok {
		return notFound("update invitation status")
	}
	inv.Status = status
	m.invitations[id] = inv
	return nil
}

func (m *memState) DeleteInvitation(_ context.Context, id string) error {
	if _, ok := m.invitations[id]; !ok {
		return notFound("delete invitation")
	}
	delete(m.invitations, id)
	return nil
}

func (m *memState) InsertAuditLogEntries(_ context.Context, entries []AuditLogEntry) error {
	m.audit = append(m.audit, entries...)
	return nil
}

func (m *memState) ListTaskAudit(_ context.Context, taskID string) ([]AuditLogEntry, error) {
	items := make([]AuditLogEntry, 0)
	for _, entry := range m.audit {
		if entry.TaskID == taskID {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (m *memState) InsertNotification(_ context.Context, n Notification) error {
	if _, ok := m.users[n.UserID]; !ok {
		return notFound("insert notification")
	}
	if _, ok := m.notifications[n.ID]; ok {
		return conflict("insert notification")
	}
	m.notifications[n.ID] = n
	return nil
}

func (m *memState) ListNotifications(_ context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	items := make([]Notification, 0)
	for _, n := range m.notifications {
		if n.UserID != userID || (unreadOnly && n.IsRead) {
			continue
		}
		items = append(items, n)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memState) MarkNotificationRead(_ context.Context, userID, id string) error {
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return notFound("mark notification read")
	}
	n.IsRead = true
	m.notifications[id] = n
	return nil
}

func (m *memState) MarkAllNotificationsRead(_ context.Context, userID string) (int, error) {
	count := 0
	for id, n := range m.notifications {
		if n.UserID != userID || n.IsRead {
			continue
		}
		n.IsRead = true
		m.notifications[id] = n
		count++
	}
	return count, nil
}

func (m *memState) DeleteNotification(_ context.Context, userID, id string) error {
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return notFound("delete notification")
	}
	delete(m.notifications, id)
	return nil
}
