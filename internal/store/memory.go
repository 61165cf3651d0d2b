package store

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"sync"
	"time"

	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/tenant"
)

// MemoryStore keeps everything in process. It backs `serve --in-memory` and
// the service tests; data is lost on exit.
type MemoryStore struct {
	mu          sync.RWMutex
	workspaces  map[string]Workspace
	memberships map[[2]string]Membership
	revoked     map[string]time.Time
	tasks       map[string]Task
	deps        []depgraph.Dependency
}

var (
	_ depgraph.Store = (*MemoryStore)(nil)
	_ depgraph.Tx    = (*memoryTx)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workspaces:  make(map[string]Workspace),
		memberships: make(map[[2]string]Membership),
		revoked:     make(map[string]time.Time),
		tasks:       make(map[string]Task),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateWorkspace(_ context.Context, ws Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workspaces[ws.ID] = ws
	return nil
}

func (s *MemoryStore) UpsertMembership(_ context.Context, m Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[[2]string{m.WorkspaceID, m.UserID}] = m
	return nil
}

func (s *MemoryStore) MembershipRole(_ context.Context, workspaceID, userID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[[2]string{workspaceID, userID}]
	return m.Role, ok, nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = exp
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.revoked[jti]
	return ok, nil
}

func (s *MemoryStore) CreateTask(_ context.Context, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.UpdatedAt = task.CreatedAt
	s.tasks[task.ID] = task
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, scope tenant.ScopeKey, taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	if !ok || !inScope(task, scope) {
		return Task{}, sql.ErrNoRows
	}
	return task, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, scope tenant.ScopeKey, filter TaskFilter) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	text := strings.ToLower(strings.TrimSpace(filter.Text))
	items := make([]Task, 0)
	for _, task := range s.tasks {
		if !inScope(task, scope) {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		if filter.Priority != "" && task.Priority != filter.Priority {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(task.Title+" "+task.Description), text) {
			continue
		}
		items = append(items, task)
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) CompleteTask(_ context.Context, scope tenant.ScopeKey, taskID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok || !inScope(task, scope) {
		return false, nil
	}
	task.Status = TaskStatusCompleted
	task.CompletedAt = &at
	task.UpdatedAt = at
	s.tasks[taskID] = task
	return true, nil
}

func (s *MemoryStore) TaskInScope(_ context.Context, scope tenant.ScopeKey, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	return ok && inScope(task, scope), nil
}

func (s *MemoryStore) TaskRef(_ context.Context, taskID string) (depgraph.TaskRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.taskRefLocked(taskID)
}

func (s *MemoryStore) ListDependsOn(_ context.Context, scope tenant.ScopeKey, taskID string) ([]depgraph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(scope, func(d depgraph.Dependency) (bool, string) {
		return d.TaskID == taskID, d.DependsOnTaskID
	}), nil
}

func (s *MemoryStore) ListBlocking(_ context.Context, scope tenant.ScopeKey, taskID string) ([]depgraph.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesLocked(scope, func(d depgraph.Dependency) (bool, string) {
		return d.DependsOnTaskID == taskID, d.TaskID
	}), nil
}

// WithScopeLock holds the store-wide write lock for the duration of fn and
// applies fn's edge changes only when it succeeds.
func (s *MemoryStore) WithScopeLock(_ context.Context, _ tenant.ScopeKey, fn func(depgraph.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, deps: append([]depgraph.Dependency(nil), s.deps...)}
	if err := fn(tx); err != nil {
		return err
	}
	s.deps = tx.deps
	return nil
}

func (s *MemoryStore) taskRefLocked(taskID string) (depgraph.TaskRef, error) {
	task, ok := s.tasks[taskID]
	if !ok {
		return depgraph.TaskRef{}, sql.ErrNoRows
	}
	return depgraph.TaskRef{ID: task.ID, Title: task.Title, Status: task.Status, Priority: task.Priority}, nil
}

func (s *MemoryStore) edgesLocked(scope tenant.ScopeKey, match func(depgraph.Dependency) (bool, string)) []depgraph.Edge {
	edges := make([]depgraph.Edge, 0)
	for _, dep := range s.deps {
		ok, otherID := match(dep)
		if !ok {
			continue
		}
		other, found := s.tasks[otherID]
		if !found || !inScope(other, scope) {
			continue
		}
		edges = append(edges, depgraph.Edge{
			Dependency: dep,
			Title:      other.Title,
			Status:     other.Status,
			Priority:   other.Priority,
		})
	}
	return edges
}

type memoryTx struct {
	store *MemoryStore
	deps  []depgraph.Dependency
}

func (t *memoryTx) TaskInScope(_ context.Context, scope tenant.ScopeKey, taskID string) (bool, error) {
	task, ok := t.store.tasks[taskID]
	return ok && inScope(task, scope), nil
}

func (t *memoryTx) TaskRef(_ context.Context, taskID string) (depgraph.TaskRef, error) {
	return t.store.taskRefLocked(taskID)
}

func (t *memoryTx) DependencyTargets(_ context.Context, taskID string) ([]string, error) {
	targets := make([]string, 0)
	for _, dep := range t.deps {
		if dep.TaskID == taskID {
			targets = append(targets, dep.DependsOnTaskID)
		}
	}
	return targets, nil
}

func (t *memoryTx) Adjacency(_ context.Context, scope tenant.ScopeKey) (depgraph.Adjacency, error) {
	adj := make(depgraph.Adjacency)
	for _, dep := range t.deps {
		task, ok := t.store.tasks[dep.TaskID]
		if !ok || !inScope(task, scope) {
			continue
		}
		adj[dep.TaskID] = append(adj[dep.TaskID], dep.DependsOnTaskID)
	}
	return adj, nil
}

func (t *memoryTx) EdgeExists(_ context.Context, taskID, dependsOnTaskID string) (bool, error) {
	for _, dep := range t.deps {
		if dep.TaskID == taskID && dep.DependsOnTaskID == dependsOnTaskID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertDependency(ctx context.Context, dep depgraph.Dependency) error {
	if dep.TaskID == dep.DependsOnTaskID {
		return depgraph.ErrSelfDependency
	}
	exists, _ := t.EdgeExists(ctx, dep.TaskID, dep.DependsOnTaskID)
	if exists {
		return depgraph.ErrDuplicateDependency
	}
	t.deps = append(t.deps, dep)
	return nil
}

func (t *memoryTx) DeleteDependency(_ context.Context, taskID, dependencyID string) (bool, error) {
	for i, dep := range t.deps {
		if dep.ID == dependencyID && dep.TaskID == taskID {
			t.deps = append(t.deps[:i:i], t.deps[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func inScope(task Task, scope tenant.ScopeKey) bool {
	switch scope.Kind() {
	case tenant.KindWorkspace:
		return task.WorkspaceID != nil && *task.WorkspaceID == scope.ID()
	case tenant.KindUser:
		return task.WorkspaceID == nil && task.UserID == scope.ID()
	default:
		return false
	}
}
