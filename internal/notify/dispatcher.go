package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskhub/api/internal/dispatch"
	"taskhub/api/internal/store"
)

var notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "taskhub_notifications_total",
	Help: "Notifications by event type and outcome",
}, []string{"type", "outcome"})

// Submitter accepts detached work without blocking.
type Submitter interface {
	Submit(task dispatch.Task) bool
}

type Dispatcher struct {
	repo   store.Repository
	queue  Submitter
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewDispatcher(repo store.Repository, queue Submitter, now func() time.Time, newID func() string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:   repo,
		queue:  queue,
		now:    now,
		newID:  newID,
		logger: logger.With(slog.String("component", "notify")),
	}
}

// Dispatch builds one notification per recipient of event and submits each
// write to the queue. It returns the notifications that were accepted for
// delivery. Failures are logged and never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) []store.Notification {
	recipients := Recipients(event)
	if len(recipients) == 0 {
		return nil
	}

	msg := render(event)
	createdAt := d.now().UTC()
	enqueued := make([]store.Notification, 0, len(recipients))
	for _, userID := range recipients {
		n := store.Notification{
			ID:        d.newID(),
			UserID:    userID,
			Title:     msg.title,
			Message:   msg.body,
			Type:      string(event.Type),
			Link:      msg.link,
			CreatedAt: createdAt,
		}
		if !d.queue.Submit(dispatch.Task{Kind: "notification", Run: d.persist(n)}) {
			notificationsTotal.WithLabelValues(n.Type, "dropped").Inc()
			d.logger.WarnContext(ctx, "notification dropped",
				slog.String("type", n.Type),
				slog.String("user_id", userID))
			continue
		}
		notificationsTotal.WithLabelValues(n.Type, "enqueued").Inc()
		enqueued = append(enqueued, n)
	}
	return enqueued
}

func (d *Dispatcher) persist(n store.Notification) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		err := d.repo.WithTx(ctx, func(q store.Queries) error {
			return q.InsertNotification(ctx, n)
		})
		// A conflict means an earlier attempt already committed this row.
		if err == nil || errors.Is(err, store.ErrConflict) {
			notificationsTotal.WithLabelValues(n.Type, "written").Inc()
			return nil
		}
		notificationsTotal.WithLabelValues(n.Type, "failed").Inc()
		d.logger.Warn("notification write failed",
			slog.String("id", n.ID),
			slog.String("user_id", n.UserID),
			slog.String("error", err.Error()))
		if errors.Is(err, store.ErrNotFound) {
			return dispatch.Permanent(err)
		}
		return err
	}
}
