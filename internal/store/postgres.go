package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskhub/api/internal/rbac"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore is the Repository backed by database/sql and the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(q Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&pgQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type pgQueries struct {
	q querier
}

func nullable(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func fromNullable(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func nullableTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

func fromNullableTime(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func (p *pgQueries) RoleOf(ctx context.Context, userID string, scope rbac.Scope) (rbac.Role, bool, error) {
	var query string
	switch scope.Kind {
	case rbac.ScopeOrganization:
		query = `SELECT role FROM users WHERE id=$1 AND organization_id=$2`
	case rbac.ScopeSpace:
		query = `SELECT role FROM space_memberships WHERE user_id=$1 AND space_id=$2`
	case rbac.ScopeProject:
		query = `SELECT role FROM project_memberships WHERE user_id=$1 AND project_id=$2`
	default:
		return "", false, fmt.Errorf("role of: unknown scope kind %q", scope.Kind)
	}
	var role string
	err := p.q.QueryRowContext(ctx, query, userID, scope.ID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s role: %w", scope.Kind, err)
	}
	return rbac.Role(role), true, nil
}

func (p *pgQueries) HasProjectMembershipInSpace(ctx context.Context, userID, spaceID string) (bool, error) {
	var exists bool
	err := p.q.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM project_memberships pm
			JOIN projects pr ON pr.id = pm.project_id
			WHERE pm.user_id=$1 AND pr.space_id=$2
		)
	`, userID, spaceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check project memberships in space: %w", err)
	}
	return exists, nil
}

func (p *pgQueries) ScopeInfo(ctx context.Context, scope rbac.Scope) (rbac.ScopeInfo, error) {
	var info rbac.ScopeInfo
	var err error
	switch scope.Kind {
	case rbac.ScopeOrganization:
		err = p.q.QueryRowContext(ctx, `SELECT id FROM organizations WHERE id=$1`, scope.ID).Scan(&info.OrganizationID)
	case rbac.ScopeSpace:
		info.SpaceID = scope.ID
		err = p.q.QueryRowContext(ctx, `SELECT organization_id, is_public FROM spaces WHERE id=$1`, scope.ID).Scan(&info.OrganizationID, &info.IsPublic)
	case rbac.ScopeProject:
		err = p.q.QueryRowContext(ctx, `
			SELECT pr.organization_id, pr.space_id, s.is_public
			FROM projects pr
			JOIN spaces s ON s.id = pr.space_id
			WHERE pr.id=$1
		`, scope.ID).Scan(&info.OrganizationID, &info.SpaceID, &info.IsPublic)
	default:
		return rbac.ScopeInfo{}, fmt.Errorf("scope info: unknown scope kind %q", scope.Kind)
	}
	if err != nil {
		return rbac.ScopeInfo{}, wrap("scope info "+scope.String(), err)
	}
	return info, nil
}

func (p *pgQueries) InsertOrganization(ctx context.Context, org Organization) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO organizations (id, name, created_at) VALUES ($1, $2, $3)`, org.ID, org.Name, org.CreatedAt)
	return wrap("insert organization", err)
}

func (p *pgQueries) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	err := p.q.QueryRowContext(ctx, `SELECT id, name, created_at FROM organizations WHERE id=$1`, id).Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err != nil {
		return Organization{}, wrap("get organization", err)
	}
	return org, nil
}

const userColumns = `id, organization_id, name, email, role, created_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	var role string
	if err := row.Scan(&user.ID, &user.OrganizationID, &user.Name, &user.Email, &role, &user.CreatedAt); err != nil {
		return User{}, err
	}
	user.Role = rbac.Role(role)
	return user, nil
}

func (p *pgQueries) InsertUser(ctx context.Context, user User) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO users (id, organization_id, name, email, role, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.OrganizationID, user.Name, user.Email, string(user.Role), user.CreatedAt)
	return wrap("insert user", err)
}

func (p *pgQueries) GetUser(ctx context.Context, id string) (User, error) {
	user, err := scanUser(p.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, wrap("get user", err)
	}
	return user, nil
}

func (p *pgQueries) FindUserByEmail(ctx context.Context, organizationID, email string) (User, error) {
	user, err := scanUser(p.q.QueryRowContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE organization_id=$1 AND LOWER(email)=LOWER($2)
	`, organizationID, email))
	if err != nil {
		return User{}, wrap("find user by email", err)
	}
	return user, nil
}

func (p *pgQueries) ListOrganizationUsers(ctx context.Context, organizationID string) ([]User, error) {
	rows, err := p.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE organization_id=$1 ORDER BY created_at ASC, id ASC`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("list organization users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (p *pgQueries) InsertSpace(ctx context.Context, space Space) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO spaces (id, organization_id, name, description, is_public, created_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, space.ID, space.OrganizationID, space.Name, space.Description, space.IsPublic, space.CreatedByID, space.CreatedAt)
	return wrap("insert space", err)
}

func (p *pgQueries) GetSpace(ctx context.Context, id string) (Space, error) {
	var item Space
	err := p.q.QueryRowContext(ctx, `
		SELECT id, organization_id, name, description, is_public, created_by_id, created_at, updated_at
		FROM spaces
		WHERE id=$1
	`, id).Scan(&item.ID, &item.OrganizationID, &item.Name, &item.Description, &item.IsPublic, &item.CreatedByID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Space{}, wrap("get space", err)
	}
	return item, nil
}

func (p *pgQueries) UpdateSpaceVisibility(ctx context.Context, id string, isPublic bool) error {
	result, err := p.q.ExecContext(ctx, `UPDATE spaces SET is_public=$2, updated_at=NOW() WHERE id=$1`, id, isPublic)
	if err != nil {
		return wrap("update space visibility", err)
	}
	return affected("update space visibility", result)
}

func (p *pgQueries) DeleteSpace(ctx context.Context, id string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM spaces WHERE id=$1`, id)
	if err != nil {
		return wrap("delete space", err)
	}
	return affected("delete space", result)
}

func (p *pgQueries) CountSpaceProjects(ctx context.Context, spaceID string) (int, error) {
	var count int
	if err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE space_id=$1`, spaceID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count space projects: %w", err)
	}
	return count, nil
}

func (p *pgQueries) InsertSpaceMembership(ctx context.Context, m SpaceMembership) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO space_memberships (space_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.SpaceID, m.UserID, string(m.Role), m.CreatedAt)
	return wrap("insert space membership", err)
}

func (p *pgQueries) ListSpaceMemberships(ctx context.Context, spaceID string) ([]SpaceMembership, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT space_id, user_id, role, created_at
		FROM space_memberships
		WHERE space_id=$1
		ORDER BY created_at ASC, user_id ASC
	`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("list space memberships: %w", err)
	}
	return collectSpaceMemberships(rows)
}

func collectSpaceMemberships(rows *sql.Rows) ([]SpaceMembership, error) {
	defer rows.Close()
	items := make([]SpaceMembership, 0)
	for rows.Next() {
		var item SpaceMembership
		var role string
		if err := rows.Scan(&item.SpaceID, &item.UserID, &role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan space membership: %w", err)
		}
		item.Role = rbac.Role(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate space memberships: %w", err)
	}
	return items, nil
}

func (p *pgQueries) UpdateSpaceMembershipRole(ctx context.Context, spaceID, userID string, role rbac.Role) error {
	result, err := p.q.ExecContext(ctx, `UPDATE space_memberships SET role=$3 WHERE space_id=$1 AND user_id=$2`, spaceID, userID, string(role))
	if err != nil {
		return wrap("update space membership role", err)
	}
	return affected("update space membership role", result)
}

func (p *pgQueries) DeleteSpaceMembership(ctx context.Context, spaceID, userID string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM space_memberships WHERE space_id=$1 AND user_id=$2`, spaceID, userID)
	if err != nil {
		return wrap("delete space membership", err)
	}
	return affected("delete space membership", result)
}

func (p *pgQueries) DeleteSpaceMembershipsExcept(ctx context.Context, spaceID string, keep rbac.Role) ([]SpaceMembership, error) {
	rows, err := p.q.QueryContext(ctx, `
		DELETE FROM space_memberships
		WHERE space_id=$1 AND role<>$2
		RETURNING space_id, user_id, role, created_at
	`, spaceID, string(keep))
	if err != nil {
		return nil, fmt.Errorf("delete space memberships: %w", err)
	}
	return collectSpaceMemberships(rows)
}

func (p *pgQueries) InsertProject(ctx context.Context, project Project) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO projects (id, space_id, organization_id, name, description, workflow_template_id, created_by_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`, project.ID, project.SpaceID, project.OrganizationID, project.Name, project.Description, project.WorkflowTemplateID, project.CreatedByID, project.CreatedAt)
	return wrap("insert project", err)
}

func (p *pgQueries) GetProject(ctx context.Context, id string) (Project, error) {
	var item Project
	err := p.q.QueryRowContext(ctx, `
		SELECT id, space_id, organization_id, name, description, workflow_template_id, created_by_id, created_at, updated_at
		FROM projects
		WHERE id=$1
	`, id).Scan(&item.ID, &item.SpaceID, &item.OrganizationID, &item.Name, &item.Description, &item.WorkflowTemplateID, &item.CreatedByID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Project{}, wrap("get project", err)
	}
	return item, nil
}

func (p *pgQueries) DeleteProject(ctx context.Context, id string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return wrap("delete project", err)
	}
	return affected("delete project", result)
}

func (p *pgQueries) CountProjectTasks(ctx context.Context, projectID string) (int, error) {
	var count int
	if err := p.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE project_id=$1`, projectID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count project tasks: %w", err)
	}
	return count, nil
}

func (p *pgQueries) InsertProjectMembership(ctx context.Context, m ProjectMembership) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO project_memberships (project_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
	`, m.ProjectID, m.UserID, string(m.Role), m.CreatedAt)
	return wrap("insert project membership", err)
}

func (p *pgQueries) ListProjectMemberships(ctx context.Context, projectID string) ([]ProjectMembership, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT project_id, user_id, role, created_at
		FROM project_memberships
		WHERE project_id=$1
		ORDER BY created_at ASC, user_id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project memberships: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMembership, 0)
	for rows.Next() {
		var item ProjectMembership
		var role string
		if err := rows.Scan(&item.ProjectID, &item.UserID, &role, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project membership: %w", err)
		}
		item.Role = rbac.Role(role)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project memberships: %w", err)
	}
	return items, nil
}

func (p *pgQueries) UpdateProjectMembershipRole(ctx context.Context, projectID, userID string, role rbac.Role) error {
	result, err := p.q.ExecContext(ctx, `UPDATE project_memberships SET role=$3 WHERE project_id=$1 AND user_id=$2`, projectID, userID, string(role))
	if err != nil {
		return wrap("update project membership role", err)
	}
	return affected("update project membership role", result)
}

func (p *pgQueries) DeleteProjectMembership(ctx context.Context, projectID, userID string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM project_memberships WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return wrap("delete project membership", err)
	}
	return affected("delete project membership", result)
}

const taskColumns = `id, project_id, title, description, status, priority, assignee_id, epic_id, sprint_id, due_date, created_by_id, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var task Task
	var assignee, epic, sprint sql.NullString
	var due sql.NullTime
	if err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status, &task.Priority,
		&assignee, &epic, &sprint, &due, &task.CreatedByID, &task.CreatedAt, &task.UpdatedAt); err != nil {
		return Task{}, err
	}
	task.AssigneeID = fromNullable(assignee)
	task.EpicID = fromNullable(epic)
	task.SprintID = fromNullable(sprint)
	task.DueDate = fromNullableTime(due)
	return task, nil
}

func (p *pgQueries) InsertTask(ctx context.Context, task Task) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, task.ID, task.ProjectID, task.Title, task.Description, task.Status, task.Priority,
		nullable(task.AssigneeID), nullable(task.EpicID), nullable(task.SprintID), nullableTime(task.DueDate),
		task.CreatedByID, task.CreatedAt, task.UpdatedAt)
	return wrap("insert task", err)
}

func (p *pgQueries) GetTask(ctx context.Context, id string) (Task, error) {
	task, err := scanTask(p.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if err != nil {
		return Task{}, wrap("get task", err)
	}
	return task, nil
}

// UpdateTask writes the mutable columns. created_by_id is never updated.
func (p *pgQueries) UpdateTask(ctx context.Context, task Task) error {
	result, err := p.q.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, status=$4, priority=$5, assignee_id=$6, epic_id=$7, sprint_id=$8, due_date=$9, updated_at=$10
		WHERE id=$1
	`, task.ID, task.Title, task.Description, task.Status, task.Priority,
		nullable(task.AssigneeID), nullable(task.EpicID), nullable(task.SprintID), nullableTime(task.DueDate), task.UpdatedAt)
	if err != nil {
		return wrap("update task", err)
	}
	return affected("update task", result)
}

func (p *pgQueries) SearchTasks(ctx context.Context, organizationID, query string, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := p.q.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.title, t.description, t.status, t.priority, t.assignee_id, t.epic_id, t.sprint_id, t.due_date, t.created_by_id, t.created_at, t.updated_at
		FROM tasks t
		JOIN projects pr ON pr.id = t.project_id
		WHERE pr.organization_id=$1
			AND (t.title ILIKE $2 OR t.description ILIKE $2)
		ORDER BY t.updated_at DESC
		LIMIT $3
	`, organizationID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}

func (p *pgQueries) InsertEpic(ctx context.Context, epic Epic) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO epics (id, project_id, name, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		epic.ID, epic.ProjectID, epic.Name, epic.Status, epic.CreatedAt)
	return wrap("insert epic", err)
}

func (p *pgQueries) GetEpic(ctx context.Context, id string) (Epic, error) {
	var item Epic
	err := p.q.QueryRowContext(ctx, `SELECT id, project_id, name, status, created_at FROM epics WHERE id=$1`, id).
		Scan(&item.ID, &item.ProjectID, &item.Name, &item.Status, &item.CreatedAt)
	if err != nil {
		return Epic{}, wrap("get epic", err)
	}
	return item, nil
}

func (p *pgQueries) InsertSprint(ctx context.Context, sprint Sprint) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO sprints (id, project_id, name, status, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sprint.ID, sprint.ProjectID, sprint.Name, sprint.Status, sprint.CreatedAt)
	return wrap("insert sprint", err)
}

func (p *pgQueries) GetSprint(ctx context.Context, id string) (Sprint, error) {
	var item Sprint
	err := p.q.QueryRowContext(ctx, `SELECT id, project_id, name, status, created_at FROM sprints WHERE id=$1`, id).
		Scan(&item.ID, &item.ProjectID, &item.Name, &item.Status, &item.CreatedAt)
	if err != nil {
		return Sprint{}, wrap("get sprint", err)
	}
	return item, nil
}

func (p *pgQueries) InsertComment(ctx context.Context, comment Comment) error {
	_, err := p.q.ExecContext(ctx, `INSERT INTO comments (id, task_id, author_id, body, created_at) VALUES ($1, $2, $3, $4, $5)`,
		comment.ID, comment.TaskID, comment.AuthorID, comment.Body, comment.CreatedAt)
	return wrap("insert comment", err)
}

const invitationColumns = `id, email, type, role, organization_id, space_id, project_id, status, token_hash, invited_by_id, expires_at, created_at`

func scanInvitation(row interface{ Scan(...any) error }) (Invitation, error) {
	var inv Invitation
	var kind, role, status string
	var spaceID, projectID sql.NullString
	if err := row.Scan(&inv.ID, &inv.Email, &kind, &role, &inv.OrganizationID, &spaceID, &projectID,
		&status, &inv.TokenHash, &inv.InvitedByID, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		return Invitation{}, err
	}
	inv.Type = InvitationType(kind)
	inv.Role = rbac.Role(role)
	inv.Status = InvitationStatus(status)
	inv.SpaceID = fromNullable(spaceID)
	inv.ProjectID = fromNullable(projectID)
	return inv, nil
}

func (p *pgQueries) InsertInvitation(ctx context.Context, inv Invitation) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO invitations (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, inv.ID, inv.Email, string(inv.Type), string(inv.Role), inv.OrganizationID, nullable(inv.SpaceID), nullable(inv.ProjectID),
		string(inv.Status), inv.TokenHash, inv.InvitedByID, inv.ExpiresAt, inv.CreatedAt)
	return wrap("insert invitation", err)
}

func (p *pgQueries) GetInvitation(ctx context.Context, id string) (Invitation, error) {
	inv, err := scanInvitation(p.q.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE id=$1`, id))
	if err != nil {
		return Invitation{}, wrap("get invitation", err)
	}
	return inv, nil
}

func (p *pgQueries) GetInvitationByTokenHash(ctx context.Context, tokenHash string) (Invitation, error) {
	inv, err := scanInvitation(p.q.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash=$1`, tokenHash))
	if err != nil {
		return Invitation{}, wrap("get invitation by token", err)
	}
	return inv, nil
}

func (p *pgQueries) FindPendingInvitation(ctx context.Context, organizationID, email string) (Invitation, error) {
	inv, err := scanInvitation(p.q.QueryRowContext(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE organization_id=$1 AND LOWER(email)=LOWER($2) AND status='PENDING'
	`, organizationID, email))
	if err != nil {
		return Invitation{}, wrap("find pending invitation", err)
	}
	return inv, nil
}

func (p *pgQueries) UpdateInvitationStatus(ctx context.Context, id string, status InvitationStatus) error {
	result, err := p.q.ExecContext(ctx, `UPDATE invitations SET status=$2 WHERE id=$1`, id, string(status))
	if err != nil {
		return wrap("update invitation status", err)
	}
	return affected("update invitation status", result)
}

func (p *pgQueries) DeleteInvitation(ctx context.Context, id string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM invitations WHERE id=$1`, id)
	if err != nil {
		return wrap("delete invitation", err)
	}
	return affected("delete invitation", result)
}

func (p *pgQueries) InsertAuditLogEntries(ctx context.Context, entries []AuditLogEntry) error {
	for _, entry := range entries {
		_, err := p.q.ExecContext(ctx, `
			INSERT INTO audit_log_entries (id, task_id, user_id, field, old_value, new_value, action, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, entry.ID, entry.TaskID, entry.UserID, entry.Field, entry.OldValue, entry.NewValue, entry.Action, entry.CreatedAt)
		if err != nil {
			return wrap("insert audit log entry", err)
		}
	}
	return nil
}

func (p *pgQueries) ListTaskAudit(ctx context.Context, taskID string) ([]AuditLogEntry, error) {
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, task_id, user_id, field, old_value, new_value, action, created_at
		FROM audit_log_entries
		WHERE task_id=$1
		ORDER BY created_at ASC, id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task audit: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLogEntry, 0)
	for rows.Next() {
		var item AuditLogEntry
		if err := rows.Scan(&item.ID, &item.TaskID, &item.UserID, &item.Field, &item.OldValue, &item.NewValue, &item.Action, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit log: %w", err)
	}
	return items, nil
}

func (p *pgQueries) InsertNotification(ctx context.Context, n Notification) error {
	_, err := p.q.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, type, link, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.ID, n.UserID, n.Title, n.Message, n.Type, n.Link, n.IsRead, n.CreatedAt)
	return wrap("insert notification", err)
}

func (p *pgQueries) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.q.QueryContext(ctx, `
		SELECT id, user_id, title, message, type, link, is_read, created_at
		FROM notifications
		WHERE user_id=$1 AND ($2::boolean = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Title, &item.Message, &item.Type, &item.Link, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (p *pgQueries) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := p.q.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return wrap("mark notification read", err)
	}
	return affected("mark notification read", result)
}

func (p *pgQueries) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	result, err := p.q.ExecContext(ctx, `UPDATE notifications SET is_read=TRUE WHERE user_id=$1 AND is_read=FALSE`, userID)
	if err != nil {
		return 0, wrap("mark all notifications read", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: rows affected: %w", err)
	}
	return int(n), nil
}

func (p *pgQueries) DeleteNotification(ctx context.Context, userID, id string) error {
	result, err := p.q.ExecContext(ctx, `DELETE FROM notifications WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return wrap("delete notification", err)
	}
	return affected("delete notification", result)
}
