package audit

import (
	"context"

	"taskhub/api/internal/store"
	"taskhub/api/internal/workflow"
)

// Lookup is the subset of store.Queries the store labeler reads.
type Lookup interface {
	GetUser(ctx context.Context, id string) (store.User, error)
	GetEpic(ctx context.Context, id string) (store.Epic, error)
	GetSprint(ctx context.Context, id string) (store.Sprint, error)
}

// StoreLabeler labels statuses from the project's workflow template and
// resolves user, epic and sprint names through the store.
type StoreLabeler struct {
	Lookup   Lookup
	Template workflow.Template
}

func (l StoreLabeler) StatusLabel(_ context.Context, status string) (string, error) {
	return l.Template.Label(status), nil
}

func (l StoreLabeler) UserName(ctx context.Context, userID string) (string, error) {
	user, err := l.Lookup.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Name, nil
}

func (l StoreLabeler) EpicName(ctx context.Context, epicID string) (string, error) {
	epic, err := l.Lookup.GetEpic(ctx, epicID)
	if err != nil {
		return "", err
	}
	return epic.Name, nil
}

func (l StoreLabeler) SprintName(ctx context.Context, sprintID string) (string, error) {
	sprint, err := l.Lookup.GetSprint(ctx, sprintID)
	if err != nil {
		return "", err
	}
	return sprint.Name, nil
}
