package app

import (
	"context"
	"fmt"

	"taskhub/api/internal/rbac"
	"taskhub/api/internal/store"
)

const maxInboxPage = 100

// ListNotifications returns the actor's inbox, newest first.
func (s *Service) ListNotifications(ctx context.Context, actor rbac.Actor, unreadOnly bool, limit int) ([]store.Notification, error) {
	if limit <= 0 || limit > maxInboxPage {
		limit = 50
	}
	var items []store.Notification
	err := s.tx(ctx, "ListNotifications", func(ctx context.Context, q store.Queries) error {
		var err error
		items, err = q.ListNotifications(ctx, actor.UserID, unreadOnly, limit)
		if err != nil {
			return fmt.Errorf("list notifications: %w", err)
		}
		return nil
	})
	return items, err
}

// MarkNotificationRead marks one of the actor's notifications read. Another
// user's notification is reported as missing.
func (s *Service) MarkNotificationRead(ctx context.Context, actor rbac.Actor, id string) error {
	return s.tx(ctx, "MarkNotificationRead", func(ctx context.Context, q store.Queries) error {
		if err := q.MarkNotificationRead(ctx, actor.UserID, id); err != nil {
			return missing(err, "notification")
		}
		return nil
	})
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, actor rbac.Actor) (int, error) {
	var count int
	err := s.tx(ctx, "MarkAllNotificationsRead", func(ctx context.Context, q store.Queries) error {
		var err error
		count, err = q.MarkAllNotificationsRead(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("mark all notifications read: %w", err)
		}
		return nil
	})
	return count, err
}

func (s *Service) DeleteNotification(ctx context.Context, actor rbac.Actor, id string) error {
	return s.tx(ctx, "DeleteNotification", func(ctx context.Context, q store.Queries) error {
		if err := q.DeleteNotification(ctx, actor.UserID, id); err != nil {
			return missing(err, "notification")
		}
		return nil
	})
}
