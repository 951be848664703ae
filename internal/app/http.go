package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskhub/api/internal/apperr"
	"taskhub/api/internal/invite"
	"taskhub/api/internal/rbac"
)

// Authenticator turns bearer tokens into actors. *session.Provider
// satisfies it.
type Authenticator interface {
	Resolve(ctx context.Context, bearer string) (rbac.Actor, error)
	Issue(ctx context.Context, userID, orgID, name string, ttl time.Duration) (string, error)
	Revoke(ctx context.Context, bearer string) error
}

// ReadinessCheck is one dependency probed by /api/ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HTTPConfig struct {
	CORSOrigin string
	SessionTTL time.Duration
	Readiness  []ReadinessCheck
}

type HTTPServer struct {
	service *Service
	auth    Authenticator
	cfg     HTTPConfig
	logger  *slog.Logger
}

func NewHTTPServer(service *Service, auth Authenticator, cfg HTTPConfig, logger *slog.Logger) *HTTPServer {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 12 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPServer{service: service, auth: auth, cfg: cfg, logger: logger.With(slog.String("component", "http"))}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(s.cfg.CORSOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
		r.Get("/ready", s.handleReady)

		r.Get("/invitations/preview", s.handlePreviewInvitation)
		r.Post("/invitations/accept", s.handleAcceptInvitation)
		r.Post("/invitations/decline", s.handleDeclineInvitation)

		r.Group(func(r chi.Router) {
			r.Use(s.requireActor)

			r.Get("/session", s.handleSession)
			r.Post("/session/logout", s.handleLogout)
			r.Get("/access", s.handleCheckAccess)

			r.Post("/spaces", s.handleCreateSpace)
			r.Route("/spaces/{spaceID}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteSpace)
				r.Patch("/visibility", s.handleSpaceVisibility)
				r.Post("/members", s.handleAddMember(rbac.ScopeSpace, "spaceID"))
				r.Patch("/members/{userID}", s.handleChangeMemberRole(rbac.ScopeSpace, "spaceID"))
				r.Delete("/members/{userID}", s.handleRemoveMember(rbac.ScopeSpace, "spaceID"))
			})

			r.Post("/projects", s.handleCreateProject)
			r.Route("/projects/{projectID}", func(r chi.Router) {
				r.Delete("/", s.handleDeleteProject)
				r.Post("/epics", s.handleCreateEpic)
				r.Post("/sprints", s.handleCreateSprint)
				r.Post("/members", s.handleAddMember(rbac.ScopeProject, "projectID"))
				r.Patch("/members/{userID}", s.handleChangeMemberRole(rbac.ScopeProject, "projectID"))
				r.Delete("/members/{userID}", s.handleRemoveMember(rbac.ScopeProject, "projectID"))
			})

			r.Post("/tasks", s.handleCreateTask)
			r.Route("/tasks/{taskID}", func(r chi.Router) {
				r.Patch("/", s.handleMutateTask)
				r.Post("/comments", s.handleAddComment)
				r.Get("/audit", s.handleTaskAudit)
			})
			r.Get("/search", s.handleSearch)

			r.Post("/invitations", s.handleCreateInvitation)
			r.Delete("/invitations/{invitationID}", s.handleCancelInvitation)

			r.Get("/notifications", s.handleListNotifications)
			r.Post("/notifications/read-all", s.handleMarkAllRead)
			r.Post("/notifications/{notificationID}/read", s.handleMarkRead)
			r.Delete("/notifications/{notificationID}", s.handleDeleteNotification)
		})
	})
	return r
}

func (s *HTTPServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.InfoContext(r.Context(), "request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()))
	})
}

type actorKey struct{}

func (s *HTTPServer) requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := s.auth.Resolve(r.Context(), bearerToken(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func actorFrom(r *http.Request) rbac.Actor {
	actor, _ := r.Context().Value(actorKey{}).(rbac.Actor)
	return actor
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for _, check := range append([]ReadinessCheck{{Name: "database", Check: s.service.Ping}}, s.cfg.Readiness...) {
		if err := check.Check(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[check.Name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[check.Name] = map[string]any{"status": "ok"}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated":  true,
		"userId":         actor.UserID,
		"organizationId": actor.OrganizationID,
	})
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Revoke(r.Context(), bearerToken(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind := rbac.ScopeKind(strings.ToLower(strings.TrimSpace(query.Get("scope"))))
	scope := rbac.Scope{Kind: kind, ID: strings.TrimSpace(query.Get("id"))}
	action := rbac.Action(strings.ToLower(strings.TrimSpace(query.Get("action"))))
	if scope.ID == "" || !action.Valid(kind) {
		writeError(w, http.StatusBadRequest, string(apperr.KindValidation), "a valid action, scope and id are required", nil)
		return
	}
	decision, err := s.service.CheckAccess(r.Context(), actorFrom(r), action, scope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusForbidden
	}
	writeJSON(w, status, decisionView(decision))
}

func (s *HTTPServer) handleCreateSpace(w http.ResponseWriter, r *http.Request) {
	var body CreateSpaceInput
	if !s.decode(w, r, &body) {
		return
	}
	space, err := s.service.CreateSpace(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, spaceView(space))
}

func (s *HTTPServer) handleDeleteSpace(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSpace(r.Context(), actorFrom(r), chi.URLParam(r, "spaceID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSpaceVisibility(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsPublic *bool `json:"isPublic"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if body.IsPublic == nil {
		s.fail(w, r, apperr.Validation("isPublic", "isPublic is required"))
		return
	}
	result, err := s.service.TransitionSpaceVisibility(r.Context(), actorFrom(r), chi.URLParam(r, "spaceID"), *body.IsPublic)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	removed := make([]map[string]any, 0, len(result.Removed))
	for _, m := range result.Removed {
		removed = append(removed, map[string]any{"userId": m.UserID, "role": m.Role})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"space":   spaceView(result.Space),
		"changed": result.Changed,
		"removed": removed,
	})
}

func (s *HTTPServer) handleAddMember(kind rbac.ScopeKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId"`
			Role   string `json:"role"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		role, _ := rbac.ParseRole(body.Role)
		id := chi.URLParam(r, param)
		var err error
		if kind == rbac.ScopeSpace {
			err = s.service.AddSpaceMember(r.Context(), actorFrom(r), id, strings.TrimSpace(body.UserID), role)
		} else {
			err = s.service.AddProjectMember(r.Context(), actorFrom(r), id, strings.TrimSpace(body.UserID), role)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"userId": body.UserID, "role": role})
	}
}

func (s *HTTPServer) handleChangeMemberRole(kind rbac.ScopeKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Role string `json:"role"`
		}
		if !s.decode(w, r, &body) {
			return
		}
		role, _ := rbac.ParseRole(body.Role)
		id, userID := chi.URLParam(r, param), chi.URLParam(r, "userID")
		var err error
		if kind == rbac.ScopeSpace {
			err = s.service.ChangeSpaceMemberRole(r.Context(), actorFrom(r), id, userID, role)
		} else {
			err = s.service.ChangeProjectMemberRole(r.Context(), actorFrom(r), id, userID, role)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "role": role})
	}
}

func (s *HTTPServer) handleRemoveMember(kind rbac.ScopeKind, param string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, userID := chi.URLParam(r, param), chi.URLParam(r, "userID")
		var err error
		if kind == rbac.ScopeSpace {
			err = s.service.RemoveSpaceMember(r.Context(), actorFrom(r), id, userID)
		} else {
			err = s.service.RemoveProjectMember(r.Context(), actorFrom(r), id, userID)
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *HTTPServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var body CreateProjectInput
	if !s.decode(w, r, &body) {
		return
	}
	project, err := s.service.CreateProject(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, projectView(project))
}

func (s *HTTPServer) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteProject(r.Context(), actorFrom(r), chi.URLParam(r, "projectID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleCreateEpic(w http.ResponseWriter, r *http.Request) {
	var body CreateEpicInput
	if !s.decode(w, r, &body) {
		return
	}
	body.ProjectID = chi.URLParam(r, "projectID")
	epic, err := s.service.CreateEpic(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": epic.ID, "projectId": epic.ProjectID, "name": epic.Name, "status": epic.Status})
}

func (s *HTTPServer) handleCreateSprint(w http.ResponseWriter, r *http.Request) {
	var body CreateSprintInput
	if !s.decode(w, r, &body) {
		return
	}
	body.ProjectID = chi.URLParam(r, "projectID")
	sprint, err := s.service.CreateSprint(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": sprint.ID, "projectId": sprint.ProjectID, "name": sprint.Name, "status": sprint.Status})
}

func (s *HTTPServer) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body CreateTaskInput
	if !s.decode(w, r, &body) {
		return
	}
	task, err := s.service.CreateTask(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, taskView(task))
}

func (s *HTTPServer) handleMutateTask(w http.ResponseWriter, r *http.Request) {
	var patch TaskPatch
	if !s.decode(w, r, &patch) {
		return
	}
	result, err := s.service.ApplyTaskMutation(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	changes := make([]map[string]any, 0, len(result.Changes))
	for _, c := range result.Changes {
		changes = append(changes, map[string]any{
			"field":    c.Field,
			"oldValue": c.OldValue,
			"newValue": c.NewValue,
			"oldLabel": c.OldLabel,
			"newLabel": c.NewLabel,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": taskView(result.Task), "changes": changes})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Body string `json:"body"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	result, err := s.service.AddComment(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"), body.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	mentioned := result.Mentioned
	if mentioned == nil {
		mentioned = []string{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        result.Comment.ID,
		"taskId":    result.Comment.TaskID,
		"authorId":  result.Comment.AuthorID,
		"body":      result.Comment.Body,
		"createdAt": result.Comment.CreatedAt,
		"mentioned": mentioned,
	})
}

func (s *HTTPServer) handleTaskAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListTaskAudit(r.Context(), actorFrom(r), chi.URLParam(r, "taskID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"id":        e.ID,
			"userId":    e.UserID,
			"field":     e.Field,
			"oldValue":  e.OldValue,
			"newValue":  e.NewValue,
			"action":    e.Action,
			"createdAt": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	resp, err := s.service.SearchTasks(r.Context(), actorFrom(r), r.URL.Query().Get("q"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var body CreateInvitationInput
	if !s.decode(w, r, &body) {
		return
	}
	created, err := s.service.CreateInvitation(r.Context(), actorFrom(r), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view := invitationView(created.Invitation)
	view["emailed"] = created.Emailed
	if created.AcceptURL != "" {
		view["acceptUrl"] = created.AcceptURL
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *HTTPServer) handleCancelInvitation(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelInvitation(r.Context(), actorFrom(r), chi.URLParam(r, "invitationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handlePreviewInvitation(w http.ResponseWriter, r *http.Request) {
	inv, err := s.service.PreviewInvitation(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invitationView(inv))
}

// handleAcceptInvitation redeems the token and starts a session for the
// invitee.
func (s *HTTPServer) handleAcceptInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
		Name  string `json:"name"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	membership, err := s.service.AcceptInvitation(r.Context(), invite.AcceptInput{Token: body.Token, Name: body.Name})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := s.auth.Issue(r.Context(), membership.User.ID, membership.User.OrganizationID, membership.User.Name, s.cfg.SessionTTL)
	if err != nil {
		s.fail(w, r, fmt.Errorf("issue session: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":             membership.User.ID,
			"organizationId": membership.User.OrganizationID,
			"name":           membership.User.Name,
			"email":          membership.User.Email,
			"role":           membership.User.Role,
		},
		"scope":   map[string]any{"kind": membership.Scope.Kind, "id": membership.Scope.ID},
		"role":    membership.Role,
		"newUser": membership.NewUser,
	})
}

func (s *HTTPServer) handleDeclineInvitation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.DeclineInvitation(r.Context(), body.Token); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	unread, _ := strconv.ParseBool(query.Get("unread"))
	limit, _ := strconv.Atoi(query.Get("limit"))
	items, err := s.service.ListNotifications(r.Context(), actorFrom(r), unread, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]map[string]any, 0, len(items))
	for _, n := range items {
		views = append(views, map[string]any{
			"id":        n.ID,
			"title":     n.Title,
			"message":   n.Message,
			"type":      n.Type,
			"link":      n.Link,
			"isRead":    n.IsRead,
			"createdAt": n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (s *HTTPServer) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	if err := s.service.MarkNotificationRead(r.Context(), actorFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.MarkAllNotificationsRead(r.Context(), actorFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": count})
}

func (s *HTTPServer) handleDeleteNotification(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteNotification(r.Context(), actorFrom(r), chi.URLParam(r, "notificationID")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail writes err with the status of its kind. Errors outside the taxonomy
// are logged and reported as 500.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := apperr.As(err); ok {
		writeError(w, e.Status(), e.Code, e.Message, e.Details)
		return
	}
	s.logger.ErrorContext(r.Context(), "request failed",
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "INTERNAL", "Internal error", nil)
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if len(details) > 0 {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
