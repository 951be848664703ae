package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/api/internal/logging"
	"taskhub/api/internal/store"
	"taskhub/api/internal/workflow"
)

type fakeLookup struct {
	users   map[string]string
	epics   map[string]string
	sprints map[string]string
	failOn  string
}

func (f fakeLookup) GetUser(_ context.Context, id string) (store.User, error) {
	if id == f.failOn {
		return store.User{}, errors.New("connection reset")
	}
	name, ok := f.users[id]
	if !ok {
		return store.User{}, fmt.Errorf("get user: %w", store.ErrNotFound)
	}
	return store.User{ID: id, Name: name}, nil
}

func (f fakeLookup) GetEpic(_ context.Context, id string) (store.Epic, error) {
	name, ok := f.epics[id]
	if !ok {
		return store.Epic{}, fmt.Errorf("get epic: %w", store.ErrNotFound)
	}
	return store.Epic{ID: id, Name: name}, nil
}

func (f fakeLookup) GetSprint(_ context.Context, id string) (store.Sprint, error) {
	name, ok := f.sprints[id]
	if !ok {
		return store.Sprint{}, fmt.Errorf("get sprint: %w", store.ErrNotFound)
	}
	return store.Sprint{ID: id, Name: name}, nil
}

func ptr[T any](v T) *T { return &v }

func newLabeler() StoreLabeler {
	tmpl, err := workflow.Default().Resolve("")
	if err != nil {
		panic(err)
	}
	return StoreLabeler{
		Lookup: fakeLookup{
			users:   map[string]string{"u1": "Ada", "u2": "Bob"},
			epics:   map[string]string{"e1": "Onboarding"},
			sprints: map[string]string{"s1": "Sprint 4"},
			failOn:  "u-broken",
		},
		Template: tmpl,
	}
}

func TestDiffIdenticalSnapshotsProducesNothing(t *testing.T) {
	engine := NewEngine(logging.Discard())
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{Title: "A", Status: "PENDING", AssigneeID: ptr("u1"), DueDate: &due}

	again := snap
	sameInstant := due.In(time.FixedZone("UTC+2", 2*60*60))
	again.DueDate = &sameInstant
	again.AssigneeID = ptr("u1")

	assert.Empty(t, engine.Diff(context.Background(), snap, again, newLabeler()))
}

func TestDiffOnlyChangedFields(t *testing.T) {
	engine := NewEngine(logging.Discard())
	before := Snapshot{Title: "A", Status: "PENDING"}
	after := Snapshot{Title: "A", Status: "DONE"}

	changes := engine.Diff(context.Background(), before, after, newLabeler())
	require.Len(t, changes, 1)
	assert.Equal(t, FieldStatus, changes[0].Field)
	assert.Equal(t, "Pending", changes[0].OldLabel)
	assert.Equal(t, "Done", changes[0].NewLabel)
	assert.Equal(t, "DONE", changes[0].NewValue)
}

func TestDiffOrderAndLabels(t *testing.T) {
	engine := NewEngine(logging.Discard())
	due := time.Date(2026, 5, 17, 15, 0, 0, 0, time.UTC)
	before := Snapshot{Title: "Old", Description: "d", Status: "PENDING", Priority: "LOW"}
	after := Snapshot{
		Title: "New", Description: "d", Status: "PENDING", Priority: "HIGH",
		AssigneeID: ptr("u2"), DueDate: &due, EpicID: ptr("e1"), SprintID: ptr("s-gone"),
	}

	changes := engine.Diff(context.Background(), before, after, newLabeler())
	fields := make([]Field, 0, len(changes))
	for _, c := range changes {
		fields = append(fields, c.Field)
	}
	assert.Equal(t, []Field{FieldTitle, FieldPriority, FieldAssignee, FieldDueDate, FieldEpic, FieldSprint}, fields)

	byField := map[Field]FieldChange{}
	for _, c := range changes {
		byField[c.Field] = c
	}
	assert.Equal(t, "Unassigned", byField[FieldAssignee].OldLabel)
	assert.Equal(t, "Bob", byField[FieldAssignee].NewLabel)
	assert.Equal(t, "None", byField[FieldDueDate].OldLabel)
	assert.Equal(t, "2026-05-17T15:00:00Z", byField[FieldDueDate].NewLabel)
	assert.Equal(t, "Onboarding", byField[FieldEpic].NewLabel)
	assert.Equal(t, "Sprint s-gone", byField[FieldSprint].NewLabel)
}

func TestDiffDueDateLabels(t *testing.T) {
	engine := NewEngine(logging.Discard())
	day := func(hour, minute int) *time.Time {
		v := time.Date(2026, 1, 1, hour, minute, 0, 0, time.UTC)
		return &v
	}
	cases := []struct {
		name     string
		before   *time.Time
		after    *time.Time
		oldLabel string
		newLabel string
	}{
		{name: "time of day only", before: day(9, 0), after: day(17, 0), oldLabel: "2026-01-01T09:00:00Z", newLabel: "2026-01-01T17:00:00Z"},
		{name: "midnight to time", before: day(0, 0), after: day(0, 30), oldLabel: "2026-01-01", newLabel: "2026-01-01T00:30:00Z"},
		{name: "cleared", before: day(0, 0), after: nil, oldLabel: "2026-01-01", newLabel: "None"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changes := engine.Diff(context.Background(), Snapshot{Status: "PENDING", DueDate: tc.before}, Snapshot{Status: "PENDING", DueDate: tc.after}, newLabeler())
			require.Len(t, changes, 1)
			assert.Equal(t, tc.oldLabel, changes[0].OldLabel)
			assert.Equal(t, tc.newLabel, changes[0].NewLabel)

			entries := Entries(changes, "t1", "u1", time.Now(), func() string { return "a1" })
			require.Len(t, entries, 1)
			assert.NotEqual(t, entries[0].OldValue, entries[0].NewValue)
		})
	}
}

func TestDiffLookupFailureFallsBack(t *testing.T) {
	engine := NewEngine(logging.Discard())
	changes := engine.Diff(context.Background(),
		Snapshot{AssigneeID: ptr("u1")},
		Snapshot{AssigneeID: ptr("u-broken")},
		newLabeler())

	require.Len(t, changes, 1)
	assert.Equal(t, "Ada", changes[0].OldLabel)
	assert.Equal(t, "User u-broken", changes[0].NewLabel)
}

func TestEntriesOnePerChange(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	n := 0
	newID := func() string { n++; return fmt.Sprintf("aud_%d", n) }
	changes := []FieldChange{
		{Field: FieldTitle, OldLabel: "A", NewLabel: "B"},
		{Field: FieldStatus, OldLabel: "Pending", NewLabel: "Done"},
	}

	entries := Entries(changes, "t1", "u1", at, newID)
	require.Len(t, entries, 2)
	assert.Equal(t, "aud_1", entries[0].ID)
	assert.Equal(t, "title", entries[0].Field)
	assert.Equal(t, "Done", entries[1].NewValue)
	assert.Equal(t, ActionUpdate, entries[1].Action)
	assert.Empty(t, Entries(nil, "t1", "u1", at, newID))
}
