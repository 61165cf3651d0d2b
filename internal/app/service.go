package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"taskdeps/api/internal/auth"
	"taskdeps/api/internal/config"
	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/rbac"
	"taskdeps/api/internal/store"
	"taskdeps/api/internal/tenant"
	"taskdeps/api/internal/util"
)

const maxTaskTitleLen = 500

var (
	taskPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}
	taskStatuses   = map[string]bool{
		store.TaskStatusPending:    true,
		store.TaskStatusInProgress: true,
		store.TaskStatusCompleted:  true,
		store.TaskStatusCancelled:  true,
	}
)

// Session is the authenticated caller of one request, with the scope and
// role already resolved.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      rbac.Role
	Scope     tenant.ScopeKey
	JTI       string
	ExpiresAt time.Time
}

func (s Session) Actor() depgraph.Actor {
	return depgraph.Actor{UserID: s.UserID, Name: s.UserName, Role: s.Role}
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
}

// DataStore is everything the API needs from persistence.
type DataStore interface {
	depgraph.Store
	Ping(context.Context) error
	MembershipRole(context.Context, string, string) (string, bool, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	CreateTask(context.Context, store.Task) error
	GetTask(context.Context, tenant.ScopeKey, string) (store.Task, error)
	ListTasks(context.Context, tenant.ScopeKey, store.TaskFilter) ([]store.Task, error)
	CompleteTask(context.Context, tenant.ScopeKey, string, time.Time) (bool, error)
}

type pinger interface {
	Ping(context.Context) error
}

type Service struct {
	cfg      config.Config
	store    DataStore
	cache    depgraph.Cache
	verifier *auth.Verifier
	graph    *depgraph.Service
	logger   *logrus.Logger
	now      func() time.Time
}

// New wires the API service. cache may be nil.
func New(cfg config.Config, dataStore DataStore, cache depgraph.Cache, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		cache:    cache,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		graph:    depgraph.NewService(dataStore, cache, logger),
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Logger() *logrus.Logger {
	return s.logger
}

// Ping checks the database and, when configured, the graph cache.
func (s *Service) Ping(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if p, ok := s.cache.(pinger); ok {
		checks["cache"] = p.Ping(ctx)
	}
	return checks
}

// SessionFromToken authenticates token and resolves the tenant scope. The
// workspace comes from the X-Workspace-ID header, then the token's ws claim;
// without either the caller works in their personal scope.
func (s *Service) SessionFromToken(ctx context.Context, token, workspaceID string) (Session, error) {
	claims, err := s.verifier.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	session := Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}

	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		workspaceID = strings.TrimSpace(claims.Workspace)
	}
	if workspaceID == "" {
		session.Scope = tenant.User(claims.Sub)
		session.Role = rbac.RoleMember
		if claims.Role != "" {
			session.Role = rbac.Normalize(claims.Role)
		}
		return session, nil
	}

	role, member, err := s.store.MembershipRole(ctx, workspaceID, claims.Sub)
	if err != nil {
		return Session{}, err
	}
	if !member {
		return Session{}, errNotMember
	}
	session.Scope = tenant.Workspace(workspaceID)
	session.Role = rbac.Normalize(role)
	return session, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
}

func (s *Service) ListTasks(ctx context.Context, session Session, filter store.TaskFilter) ([]store.Task, error) {
	if !rbac.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden
	}
	return s.store.ListTasks(ctx, session.Scope, filter)
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	if !rbac.Can(session.Role, rbac.ActionRead) {
		return store.Task{}, errForbidden
	}
	return s.store.GetTask(ctx, session.Scope, strings.TrimSpace(taskID))
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (store.Task, error) {
	if !rbac.Can(session.Role, rbac.ActionWrite) {
		return store.Task{}, errForbidden
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if len(title) > maxTaskTitleLen {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("title must be at most %d characters", maxTaskTitleLen), nil)
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = store.DefaultTaskPriority
	}
	if !taskPriorities[priority] {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "priority must be one of low, medium, high, urgent", nil)
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = store.TaskStatusPending
	}
	if !taskStatuses[status] {
		return store.Task{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status is not recognised", nil)
	}

	now := s.now().UTC()
	task := store.Task{
		ID:          util.NewID("task"),
		UserID:      session.UserID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Priority:    priority,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if session.Scope.Kind() == tenant.KindWorkspace {
		workspaceID := session.Scope.ID()
		task.WorkspaceID = &workspaceID
	}
	if status == store.TaskStatusCompleted {
		task.CompletedAt = &now
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return store.Task{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"scope":   session.Scope.String(),
		"actor":   session.UserID,
		"task_id": task.ID,
	}).Info("task created")
	return task, nil
}

// CompleteTask marks the task completed, which unblocks anything waiting on
// it.
func (s *Service) CompleteTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	if !rbac.Can(session.Role, rbac.ActionWrite) {
		return store.Task{}, errForbidden
	}
	taskID = strings.TrimSpace(taskID)
	updated, err := s.store.CompleteTask(ctx, session.Scope, taskID, s.now().UTC())
	if err != nil {
		return store.Task{}, err
	}
	if !updated {
		return store.Task{}, depgraph.ErrTaskNotFound
	}
	return s.store.GetTask(ctx, session.Scope, taskID)
}

func (s *Service) ListDependencies(ctx context.Context, session Session, taskID string) (depgraph.Listing, error) {
	return s.graph.ListDependencies(ctx, session.Actor(), session.Scope, taskID)
}

func (s *Service) AddDependency(ctx context.Context, session Session, taskID, dependsOnTaskID, dependencyType string) (depgraph.Edge, error) {
	return s.graph.AddDependency(ctx, session.Actor(), session.Scope, taskID, dependsOnTaskID, dependencyType)
}

func (s *Service) RemoveDependency(ctx context.Context, session Session, taskID, dependencyID string) error {
	return s.graph.RemoveDependency(ctx, session.Actor(), session.Scope, taskID, dependencyID)
}

func (s *Service) CheckBlocked(ctx context.Context, session Session, taskID string) (depgraph.BlockStatus, error) {
	return s.graph.IsBlocked(ctx, session.Actor(), session.Scope, taskID)
}
