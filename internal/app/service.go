// Package app is the engine facade the route layer calls. Every mutation runs
// in one repository transaction with its access check, and every side effect
// that is not part of the success contract runs after commit on the
// dispatch queue.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/audit"
	"taskhub/api/internal/dispatch"
	"taskhub/api/internal/email"
	"taskhub/api/internal/invite"
	"taskhub/api/internal/notify"
	"taskhub/api/internal/rbac"
	"taskhub/api/internal/search"
	"taskhub/api/internal/store"
	"taskhub/api/internal/util"
	"taskhub/api/internal/workflow"
)

var tracer = otel.Tracer("taskhub/api/internal/app")

// Mailer sends invitation mail. *email.Service satisfies it.
type Mailer interface {
	IsConfigured() bool
	SendInvitationEmail(to string, data email.InvitationData) error
}

type Deps struct {
	Repo      store.Repository
	Workflows *workflow.Registry
	// Queue runs notification writes, search indexing and invitation mail.
	Queue notify.Submitter
	// Search and Mailer are optional.
	Search *search.Service
	Mailer Mailer

	Now           func() time.Time
	Logger        *slog.Logger
	InvitationTTL time.Duration
	AppBaseURL    string
}

type Service struct {
	repo       store.Repository
	workflows  *workflow.Registry
	queue      notify.Submitter
	dispatcher *notify.Dispatcher
	audit      *audit.Engine
	invites    *invite.Lifecycle
	search     *search.Service
	mailer     Mailer
	validate   *validator.Validate
	now        func() time.Time
	logger     *slog.Logger
	appBaseURL string
}

func New(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Workflows == nil {
		d.Workflows = workflow.Default()
	}
	if d.InvitationTTL <= 0 {
		d.InvitationTTL = 7 * 24 * time.Hour
	}
	logger := d.Logger.With(slog.String("component", "app"))
	return &Service{
		repo:       d.Repo,
		workflows:  d.Workflows,
		queue:      d.Queue,
		dispatcher: notify.NewDispatcher(d.Repo, d.Queue, d.Now, func() string { return util.NewID("ntf") }, d.Logger),
		audit:      audit.NewEngine(d.Logger),
		invites:    invite.New(d.Now, d.InvitationTTL),
		search:     d.Search,
		mailer:     d.Mailer,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        d.Now,
		logger:     logger,
		appBaseURL: strings.TrimRight(d.AppBaseURL, "/"),
	}
}

// Ping checks the repository.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// CheckAccess decides action on scope for actor. A denial is a Decision, not
// an error.
func (s *Service) CheckAccess(ctx context.Context, actor rbac.Actor, action rbac.Action, scope rbac.Scope) (rbac.Decision, error) {
	var decision rbac.Decision
	err := s.tx(ctx, "CheckAccess", func(ctx context.Context, q store.Queries) error {
		var err error
		decision, err = s.decide(ctx, q, actor, action, scope)
		return err
	}, attribute.String("action", string(action)), attribute.String("scope", scope.String()))
	return decision, err
}

// DispatchEvent fans event out to its recipients. Delivery failures are
// logged by the dispatcher and never returned.
func (s *Service) DispatchEvent(ctx context.Context, event notify.Event) []store.Notification {
	_, span := tracer.Start(ctx, "app.DispatchEvent", trace.WithAttributes(attribute.String("event", string(event.Type))))
	defer span.End()
	return s.dispatcher.Dispatch(ctx, event)
}

// tx runs fn in one unit of work under a span named after the operation.
func (s *Service) tx(ctx context.Context, op string, fn func(ctx context.Context, q store.Queries) error, attrs ...attribute.KeyValue) error {
	ctx, span := tracer.Start(ctx, "app."+op, trace.WithAttributes(attrs...))
	defer span.End()
	err := s.repo.WithTx(ctx, func(q store.Queries) error {
		return fn(ctx, q)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) decide(ctx context.Context, q store.Queries, actor rbac.Actor, action rbac.Action, scope rbac.Scope) (rbac.Decision, error) {
	decision, err := rbac.NewResolver(q).Check(ctx, actor, action, scope)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return rbac.Decision{}, apperr.NotFound(string(scope.Kind))
		}
		return rbac.Decision{}, fmt.Errorf("check access: %w", err)
	}
	observeDecision(action, decision)
	if decision.Override {
		s.logger.InfoContext(ctx, "organization admin override",
			slog.String("user_id", actor.UserID),
			slog.String("action", string(action)),
			slog.String("scope", scope.String()))
	}
	if !decision.Allowed {
		s.logger.DebugContext(ctx, "access denied",
			slog.String("user_id", actor.UserID),
			slog.String("action", string(action)),
			slog.String("scope", scope.String()),
			slog.String("reason", string(decision.Reason)))
	}
	return decision, nil
}

// authorize is decide for callers that only proceed on allow.
func (s *Service) authorize(ctx context.Context, q store.Queries, actor rbac.Actor, action rbac.Action, scope rbac.Scope) (rbac.Decision, error) {
	decision, err := s.decide(ctx, q, actor, action, scope)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, apperr.Forbidden(string(decision.Reason))
	}
	return decision, nil
}

// submit runs fn detached. A refused task is logged and dropped.
func (s *Service) submit(kind string, fn func(ctx context.Context) error) bool {
	if !s.queue.Submit(dispatch.Task{Kind: kind, Run: fn}) {
		s.logger.Warn("detached task refused", slog.String("kind", kind))
		return false
	}
	return true
}

func (s *Service) dispatchAll(ctx context.Context, events []notify.Event) {
	for _, event := range events {
		s.DispatchEvent(ctx, event)
	}
}

// missing maps a store miss to a NotFound for entity and wraps other errors.
func missing(err error, entity string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}

func (s *Service) check(input any) error {
	if err := s.validate.Struct(input); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			first := invalid[0]
			return apperr.Validation(lowerFirst(first.Field()), fmt.Sprintf("%s failed %q validation", first.Field(), first.Tag()))
		}
		return apperr.Validation("", err.Error())
	}
	return nil
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func actorName(ctx context.Context, q store.Queries, userID string) string {
	user, err := q.GetUser(ctx, userID)
	if err != nil {
		return "Someone"
	}
	return user.Name
}
