// Package audit turns task before/after snapshots into ordered field changes
// and the audit log rows that record them.
package audit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"taskhub/api/internal/store"
)

type Field string

const (
	FieldTitle       Field = "title"
	FieldDescription Field = "description"
	FieldStatus      Field = "status"
	FieldPriority    Field = "priority"
	FieldAssignee    Field = "assigneeId"
	FieldDueDate     Field = "dueDate"
	FieldEpic        Field = "epicId"
	FieldSprint      Field = "sprintId"
)

// TrackedFields is the comparison order of Diff.
var TrackedFields = []Field{
	FieldTitle, FieldDescription, FieldStatus, FieldPriority,
	FieldAssignee, FieldDueDate, FieldEpic, FieldSprint,
}

const (
	ActionUpdate = "UPDATE"
	dateLayout   = "2006-01-02"
	noneLabel    = "None"
)

// Snapshot holds the tracked attributes of a task at one point in time.
type Snapshot struct {
	Title       string
	Description string
	Status      string
	Priority    string
	AssigneeID  *string
	DueDate     *time.Time
	EpicID      *string
	SprintID    *string
}

func FromTask(task store.Task) Snapshot {
	return Snapshot{
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
		Priority:    task.Priority,
		AssigneeID:  task.AssigneeID,
		DueDate:     task.DueDate,
		EpicID:      task.EpicID,
		SprintID:    task.SprintID,
	}
}

type FieldChange struct {
	Field    Field
	OldValue string
	NewValue string
	OldLabel string
	NewLabel string
}

// Labeler resolves referenced ids to display names. A lookup error or a
// missing entity makes the engine fall back to "<Type> <id>".
type Labeler interface {
	StatusLabel(ctx context.Context, status string) (string, error)
	UserName(ctx context.Context, userID string) (string, error)
	EpicName(ctx context.Context, epicID string) (string, error)
	SprintName(ctx context.Context, sprintID string) (string, error)
}

type Engine struct {
	logger *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger.With(slog.String("component", "audit"))}
}

// Diff compares before and after field by field in TrackedFields order.
// Identical snapshots yield no changes.
func (e *Engine) Diff(ctx context.Context, before, after Snapshot, labels Labeler) []FieldChange {
	var changes []FieldChange

	text := func(field Field, prev, next string) {
		if prev == next {
			return
		}
		changes = append(changes, FieldChange{
			Field: field, OldValue: prev, NewValue: next,
			OldLabel: orNone(prev), NewLabel: orNone(next),
		})
	}
	ref := func(field Field, prev, next *string, kind string, lookup func(context.Context, string) (string, error), empty string) {
		if ptrValue(prev) == ptrValue(next) {
			return
		}
		changes = append(changes, FieldChange{
			Field: field, OldValue: ptrValue(prev), NewValue: ptrValue(next),
			OldLabel: e.label(ctx, field, kind, ptrValue(prev), lookup, empty),
			NewLabel: e.label(ctx, field, kind, ptrValue(next), lookup, empty),
		})
	}

	text(FieldTitle, before.Title, after.Title)
	text(FieldDescription, before.Description, after.Description)
	if before.Status != after.Status {
		changes = append(changes, FieldChange{
			Field: FieldStatus, OldValue: before.Status, NewValue: after.Status,
			OldLabel: e.label(ctx, FieldStatus, "Status", before.Status, labels.StatusLabel, noneLabel),
			NewLabel: e.label(ctx, FieldStatus, "Status", after.Status, labels.StatusLabel, noneLabel),
		})
	}
	text(FieldPriority, before.Priority, after.Priority)
	ref(FieldAssignee, before.AssigneeID, after.AssigneeID, "User", labels.UserName, "Unassigned")
	if !sameInstant(before.DueDate, after.DueDate) {
		changes = append(changes, FieldChange{
			Field: FieldDueDate, OldValue: dateValue(before.DueDate, time.RFC3339Nano), NewValue: dateValue(after.DueDate, time.RFC3339Nano),
			OldLabel: dueLabel(before.DueDate), NewLabel: dueLabel(after.DueDate),
		})
	}
	ref(FieldEpic, before.EpicID, after.EpicID, "Epic", labels.EpicName, noneLabel)
	ref(FieldSprint, before.SprintID, after.SprintID, "Sprint", labels.SprintName, noneLabel)

	return changes
}

func (e *Engine) label(ctx context.Context, field Field, kind, id string, lookup func(context.Context, string) (string, error), empty string) string {
	if id == "" {
		return empty
	}
	name, err := lookup(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		e.logger.DebugContext(ctx, "audit label target missing", slog.String("field", string(field)), slog.String("id", id))
	case err != nil:
		e.logger.WarnContext(ctx, "audit label lookup failed",
			slog.String("field", string(field)),
			slog.String("id", id),
			slog.String("error", err.Error()))
	case name != "":
		return name
	}
	return kind + " " + id
}

// Entries converts changes into one audit row per field.
func Entries(changes []FieldChange, taskID, actorID string, at time.Time, newID func() string) []store.AuditLogEntry {
	entries := make([]store.AuditLogEntry, 0, len(changes))
	for _, change := range changes {
		entries = append(entries, store.AuditLogEntry{
			ID:        newID(),
			TaskID:    taskID,
			UserID:    actorID,
			Field:     string(change.Field),
			OldValue:  change.OldLabel,
			NewValue:  change.NewLabel,
			Action:    ActionUpdate,
			CreatedAt: at,
		})
	}
	return entries
}

func ptrValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func orNone(value string) string {
	if value == "" {
		return noneLabel
	}
	return value
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// dueLabel shows a bare date for midnight UTC and the full instant
// otherwise, so two distinct due dates never share a label.
func dueLabel(value *time.Time) string {
	if value == nil {
		return noneLabel
	}
	utc := value.UTC()
	if utc.Equal(utc.Truncate(24 * time.Hour)) {
		return utc.Format(dateLayout)
	}
	return utc.Format(time.RFC3339Nano)
}

func dateValue(value *time.Time, layout string) string {
	if value == nil {
		return ""
	}
	return value.UTC().Format(layout)
}
