package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/audit"
	"taskhub/api/internal/mention"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/workflow"
)

const defaultPriority = "MEDIUM"

var priorities = map[string]struct{}{
	"LOW":    {},
	"MEDIUM": {},
	"HIGH":   {},
	"URGENT": {},
}

type CreateTaskInput struct {
	ProjectID   string     `json:"projectId" validate:"required"`
	Title       string     `json:"title" validate:"required,max=500"`
	Description string     `json:"description" validate:"max=20000"`
	Status      string     `json:"status"`
	Priority    string     `json:"priority"`
	AssigneeID  *string    `json:"assigneeId"`
	EpicID      *string    `json:"epicId"`
	SprintID    *string    `json:"sprintId"`
	DueDate     *time.Time `json:"dueDate"`
}

// TaskPatch carries the fields to change. Absent fields keep their value;
// the nullable ones can be cleared with an explicit null.
type TaskPatch struct {
	Title       *string             `json:"title"`
	Description *string             `json:"description"`
	Status      *string             `json:"status"`
	Priority    *string             `json:"priority"`
	AssigneeID  Nullable[string]    `json:"assigneeId"`
	DueDate     Nullable[time.Time] `json:"dueDate"`
	EpicID      Nullable[string]    `json:"epicId"`
	SprintID    Nullable[string]    `json:"sprintId"`
}

type MutationResult struct {
	Task    store.Task
	Changes []audit.FieldChange
}

type CommentResult struct {
	Comment   store.Comment
	Mentioned []string
}

func (s *Service) CreateTask(ctx context.Context, actor rbac.Actor, in CreateTaskInput) (store.Task, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := s.check(in); err != nil {
		return store.Task{}, err
	}

	var (
		task   store.Task
		orgID  string
		events []notify.Event
	)
	err := s.tx(ctx, "CreateTask", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionEditContent, rbac.Project(in.ProjectID)); err != nil {
			return err
		}
		project, err := q.GetProject(ctx, in.ProjectID)
		if err != nil {
			return missing(err, "project")
		}
		orgID = project.OrganizationID
		tmpl := s.template(ctx, project)

		now := s.now().UTC()
		task = store.Task{
			ID:          util.NewID("tsk"),
			ProjectID:   project.ID,
			Title:       in.Title,
			Description: in.Description,
			Status:      strings.TrimSpace(in.Status),
			Priority:    strings.ToUpper(strings.TrimSpace(in.Priority)),
			AssigneeID:  blankToNil(in.AssigneeID),
			EpicID:      blankToNil(in.EpicID),
			SprintID:    blankToNil(in.SprintID),
			DueDate:     in.DueDate,
			CreatedByID: actor.UserID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if task.Status == "" {
			task.Status = tmpl.Initial()
		}
		if task.Priority == "" {
			task.Priority = defaultPriority
		}
		if err := validateTask(ctx, q, project, tmpl, task); err != nil {
			return err
		}
		if err := q.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if task.AssigneeID != nil {
			events = append(events, notify.Event{
				Type:       notify.TaskAssigned,
				ActorID:    actor.UserID,
				ActorName:  actorName(ctx, q, actor.UserID),
				TaskID:     task.ID,
				TaskTitle:  task.Title,
				ProjectID:  task.ProjectID,
				AssigneeID: *task.AssigneeID,
			})
		}
		return nil
	}, attribute.String("project_id", in.ProjectID))
	if err != nil {
		return store.Task{}, err
	}

	s.dispatchAll(ctx, events)
	s.index(orgID, task)
	return task, nil
}

// ApplyTaskMutation patches a task, records one audit row per changed field
// in the same transaction and, after commit, notifies assignment and
// completion. A patch that changes nothing writes nothing.
func (s *Service) ApplyTaskMutation(ctx context.Context, actor rbac.Actor, taskID string, patch TaskPatch) (MutationResult, error) {
	var (
		result MutationResult
		orgID  string
		events []notify.Event
	)
	err := s.tx(ctx, "ApplyTaskMutation", func(ctx context.Context, q store.Queries) error {
		before, err := q.GetTask(ctx, taskID)
		if err != nil {
			return missing(err, "task")
		}
		if _, err := s.authorize(ctx, q, actor, rbac.ActionEditContent, rbac.Project(before.ProjectID)); err != nil {
			return err
		}
		project, err := q.GetProject(ctx, before.ProjectID)
		if err != nil {
			return missing(err, "project")
		}
		orgID = project.OrganizationID
		tmpl := s.template(ctx, project)

		after, err := applyPatch(before, patch)
		if err != nil {
			return err
		}
		if err := validateTask(ctx, q, project, tmpl, after); err != nil {
			return err
		}

		labels := audit.StoreLabeler{Lookup: q, Template: tmpl}
		changes := s.audit.Diff(ctx, audit.FromTask(before), audit.FromTask(after), labels)
		if len(changes) == 0 {
			result = MutationResult{Task: before, Changes: []audit.FieldChange{}}
			return nil
		}

		now := s.now().UTC()
		after.UpdatedAt = now
		if err := q.UpdateTask(ctx, after); err != nil {
			return missing(err, "task")
		}
		entries := audit.Entries(changes, after.ID, actor.UserID, now, func() string { return util.NewID("aud") })
		if err := q.InsertAuditLogEntries(ctx, entries); err != nil {
			return fmt.Errorf("insert audit entries: %w", err)
		}
		auditEntriesWritten.Add(float64(len(entries)))

		result = MutationResult{Task: after, Changes: changes}
		events = mutationEvents(ctx, q, actor, tmpl, before, after)
		return nil
	}, attribute.String("task_id", taskID))
	if err != nil {
		return MutationResult{}, err
	}

	if len(result.Changes) > 0 {
		s.dispatchAll(ctx, events)
		s.index(orgID, result.Task)
	}
	return result, nil
}

func mutationEvents(ctx context.Context, q store.Queries, actor rbac.Actor, tmpl workflow.Template, before, after store.Task) []notify.Event {
	var events []notify.Event
	name := ""
	base := func(t notify.EventType) notify.Event {
		if name == "" {
			name = actorName(ctx, q, actor.UserID)
		}
		return notify.Event{
			Type:      t,
			ActorID:   actor.UserID,
			ActorName: name,
			TaskID:    after.ID,
			TaskTitle: after.Title,
			ProjectID: after.ProjectID,
		}
	}
	if after.AssigneeID != nil && deref(after.AssigneeID) != deref(before.AssigneeID) {
		event := base(notify.TaskAssigned)
		event.AssigneeID = *after.AssigneeID
		events = append(events, event)
	}
	if tmpl.IsTerminal(after.Status) && !tmpl.IsTerminal(before.Status) {
		event := base(notify.TaskCompleted)
		event.PreviousAssigneeID = deref(before.AssigneeID)
		event.CreatorID = after.CreatedByID
		events = append(events, event)
	}
	return events
}

func applyPatch(task store.Task, patch TaskPatch) (store.Task, error) {
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return store.Task{}, apperr.Validation("title", "title is required")
		}
		task.Title = title
	}
	if patch.Description != nil {
		task.Description = *patch.Description
	}
	if patch.Status != nil {
		task.Status = strings.TrimSpace(*patch.Status)
	}
	if patch.Priority != nil {
		task.Priority = strings.ToUpper(strings.TrimSpace(*patch.Priority))
	}
	task.AssigneeID = blankToNil(patch.AssigneeID.apply(task.AssigneeID))
	task.DueDate = patch.DueDate.apply(task.DueDate)
	task.EpicID = blankToNil(patch.EpicID.apply(task.EpicID))
	task.SprintID = blankToNil(patch.SprintID.apply(task.SprintID))
	return task, nil
}

// validateTask checks the references of task against its project.
func validateTask(ctx context.Context, q store.Queries, project store.Project, tmpl workflow.Template, task store.Task) error {
	if !tmpl.Has(task.Status) {
		return apperr.Validation("status", fmt.Sprintf("status %q is not a state of workflow %q", task.Status, tmpl.ID))
	}
	if _, ok := priorities[task.Priority]; !ok {
		return apperr.Validation("priority", "priority must be one of LOW, MEDIUM, HIGH, URGENT")
	}
	if task.AssigneeID != nil {
		user, err := q.GetUser(ctx, *task.AssigneeID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && user.OrganizationID != project.OrganizationID) {
			return apperr.Validation("assigneeId", "assignee is not a member of this organization")
		}
		if err != nil {
			return fmt.Errorf("load assignee: %w", err)
		}
	}
	if task.EpicID != nil {
		epic, err := q.GetEpic(ctx, *task.EpicID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && epic.ProjectID != project.ID) {
			return apperr.Validation("epicId", "epic does not belong to this project")
		}
		if err != nil {
			return fmt.Errorf("load epic: %w", err)
		}
	}
	if task.SprintID != nil {
		sprint, err := q.GetSprint(ctx, *task.SprintID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && sprint.ProjectID != project.ID) {
			return apperr.Validation("sprintId", "sprint does not belong to this project")
		}
		if err != nil {
			return fmt.Errorf("load sprint: %w", err)
		}
	}
	return nil
}

// template resolves the project's workflow, falling back to the default when
// the configured template is gone.
func (s *Service) template(ctx context.Context, project store.Project) workflow.Template {
	tmpl, err := s.workflows.Resolve(project.WorkflowTemplateID)
	if err == nil {
		return tmpl
	}
	s.logger.WarnContext(ctx, "workflow template missing, using default",
		slog.String("project_id", project.ID),
		slog.String("template", project.WorkflowTemplateID))
	tmpl, _ = s.workflows.Resolve("")
	return tmpl
}

// AddComment stores a comment and notifies the task's assignee and creator
// plus every organization member mentioned in body.
func (s *Service) AddComment(ctx context.Context, actor rbac.Actor, taskID, body string) (CommentResult, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return CommentResult{}, apperr.Validation("body", "comment body is required")
	}

	var (
		result CommentResult
		events []notify.Event
	)
	err := s.tx(ctx, "AddComment", func(ctx context.Context, q store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return missing(err, "task")
		}
		if _, err := s.authorize(ctx, q, actor, rbac.ActionComment, rbac.Project(task.ProjectID)); err != nil {
			return err
		}
		comment := store.Comment{
			ID:        util.NewID("cmt"),
			TaskID:    task.ID,
			AuthorID:  actor.UserID,
			Body:      body,
			CreatedAt: s.now().UTC(),
		}
		if err := q.InsertComment(ctx, comment); err != nil {
			return fmt.Errorf("insert comment: %w", err)
		}

		mentioned, err := mention.Resolve(ctx, q, actor.OrganizationID, mention.Extract(body))
		if err != nil {
			// mentions are a notification concern; the comment stands
			s.logger.WarnContext(ctx, "mention resolution failed", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			mentioned = nil
		}
		result = CommentResult{Comment: comment, Mentioned: mentioned}

		name := actorName(ctx, q, actor.UserID)
		event := notify.Event{
			Type:       notify.CommentAdded,
			ActorID:    actor.UserID,
			ActorName:  name,
			TaskID:     task.ID,
			TaskTitle:  task.Title,
			ProjectID:  task.ProjectID,
			AssigneeID: deref(task.AssigneeID),
			CreatorID:  task.CreatedByID,
		}
		events = append(events, event)
		if len(mentioned) > 0 {
			event.Type = notify.Mentioned
			event.AssigneeID, event.CreatorID = "", ""
			event.MentionedUserIDs = mentioned
			events = append(events, event)
		}
		return nil
	}, attribute.String("task_id", taskID))
	if err != nil {
		return CommentResult{}, err
	}

	s.dispatchAll(ctx, events)
	return result, nil
}

type CreateEpicInput struct {
	ProjectID string `json:"projectId" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	Status    string `json:"status" validate:"omitempty,oneof=OPEN IN_PROGRESS DONE"`
}

type CreateSprintInput struct {
	ProjectID string `json:"projectId" validate:"required"`
	Name      string `json:"name" validate:"required,max=200"`
	Status    string `json:"status" validate:"omitempty,oneof=PLANNED ACTIVE COMPLETED"`
}

func (s *Service) CreateEpic(ctx context.Context, actor rbac.Actor, in CreateEpicInput) (store.Epic, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return store.Epic{}, err
	}
	epic := store.Epic{ID: util.NewID("epc"), ProjectID: in.ProjectID, Name: in.Name, Status: in.Status}
	if epic.Status == "" {
		epic.Status = "OPEN"
	}
	err := s.tx(ctx, "CreateEpic", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionEditContent, rbac.Project(in.ProjectID)); err != nil {
			return err
		}
		epic.CreatedAt = s.now().UTC()
		if err := q.InsertEpic(ctx, epic); err != nil {
			return fmt.Errorf("insert epic: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Epic{}, err
	}
	return epic, nil
}

func (s *Service) CreateSprint(ctx context.Context, actor rbac.Actor, in CreateSprintInput) (store.Sprint, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := s.check(in); err != nil {
		return store.Sprint{}, err
	}
	sprint := store.Sprint{ID: util.NewID("spr"), ProjectID: in.ProjectID, Name: in.Name, Status: in.Status}
	if sprint.Status == "" {
		sprint.Status = "PLANNED"
	}
	err := s.tx(ctx, "CreateSprint", func(ctx context.Context, q store.Queries) error {
		if _, err := s.authorize(ctx, q, actor, rbac.ActionEditContent, rbac.Project(in.ProjectID)); err != nil {
			return err
		}
		sprint.CreatedAt = s.now().UTC()
		if err := q.InsertSprint(ctx, sprint); err != nil {
			return fmt.Errorf("insert sprint: %w", err)
		}
		return nil
	})
	if err != nil {
		return store.Sprint{}, err
	}
	return sprint, nil
}

// ListTaskAudit returns the task's audit trail, oldest first.
func (s *Service) ListTaskAudit(ctx context.Context, actor rbac.Actor, taskID string) ([]store.AuditLogEntry, error) {
	var entries []store.AuditLogEntry
	err := s.tx(ctx, "ListTaskAudit", func(ctx context.Context, q store.Queries) error {
		task, err := q.GetTask(ctx, taskID)
		if err != nil {
			return missing(err, "task")
		}
		if _, err := s.authorize(ctx, q, actor, rbac.ActionViewProject, rbac.Project(task.ProjectID)); err != nil {
			return err
		}
		entries, err = q.ListTaskAudit(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("list task audit: %w", err)
		}
		return nil
	})
	return entries, err
}

// SearchTasks searches the actor's organization and keeps only hits in
// projects the actor may view.
func (s *Service) SearchTasks(ctx context.Context, actor rbac.Actor, text string, limit int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}, nil
	}
	resp := s.search.Search(ctx, search.Query{OrganizationID: actor.OrganizationID, Text: text, Limit: limit})
	if len(resp.Results) == 0 {
		return resp, nil
	}

	visible := make([]search.Result, 0, len(resp.Results))
	err := s.tx(ctx, "SearchTasks", func(ctx context.Context, q store.Queries) error {
		allowed := map[string]bool{}
		for _, hit := range resp.Results {
			ok, seen := allowed[hit.ProjectID]
			if !seen {
				decision, err := s.decide(ctx, q, actor, rbac.ActionViewProject, rbac.Project(hit.ProjectID))
				switch {
				case apperr.KindOf(err) == apperr.KindNotFound:
					// stale index entry for a deleted project
					ok = false
				case err != nil:
					return err
				default:
					ok = decision.Allowed
				}
				allowed[hit.ProjectID] = ok
			}
			if ok {
				visible = append(visible, hit)
			}
		}
		return nil
	})
	if err != nil {
		return search.Response{}, err
	}
	resp.Results = visible
	resp.Total = len(visible)
	return resp, nil
}

// index pushes task to the search engine on the queue.
func (s *Service) index(orgID string, task store.Task) {
	if s.search == nil || !s.search.Enabled() {
		return
	}
	rec := search.TaskRecord{
		ID:             task.ID,
		OrganizationID: orgID,
		ProjectID:      task.ProjectID,
		Title:          task.Title,
		Description:    task.Description,
		Status:         task.Status,
	}
	s.submit("search.index", func(ctx context.Context) error {
		return s.search.IndexTask(ctx, rec)
	})
}

func blankToNil(value *string) *string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
