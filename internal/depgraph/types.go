package depgraph

import (
	"context"
	"time"

	"taskdeps/api/internal/rbac"
	"taskdeps/api/internal/tenant"
)

const (
	DefaultDependencyType = "blocks"
	StatusCompleted       = "completed"

	maxDependencyTypeLen = 50
)

// Actor is the authenticated user performing an operation, with the role
// they hold in the resolved scope.
type Actor struct {
	UserID string
	Name   string
	Role   rbac.Role
}

// Dependency is a stored edge: TaskID cannot be unblocked until
// DependsOnTaskID is completed.
type Dependency struct {
	ID              string    `json:"id" db:"id"`
	TaskID          string    `json:"task_id" db:"task_id"`
	DependsOnTaskID string    `json:"depends_on_task_id" db:"depends_on_task_id"`
	DependencyType  string    `json:"dependency_type" db:"dependency_type"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Edge is a Dependency annotated with the task on its other end: the
// prerequisite for depends_on listings, the waiting task for blocking ones.
type Edge struct {
	Dependency
	Title    string `json:"title" db:"title"`
	Status   string `json:"status" db:"status"`
	Priority string `json:"priority" db:"priority"`
}

type TaskRef struct {
	ID       string `json:"id" db:"id"`
	Title    string `json:"title" db:"title"`
	Status   string `json:"status" db:"status"`
	Priority string `json:"priority" db:"priority"`
}

type Listing struct {
	DependsOn []Edge `json:"depends_on"`
	Blocking  []Edge `json:"blocking"`
}

type BlockingTask struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type BlockStatus struct {
	IsBlocked     bool           `json:"is_blocked"`
	BlockingTasks []BlockingTask `json:"blocking_tasks"`
}

// TaskReader is the task collaborator: existence within a scope plus the
// display fields edges are annotated with.
type TaskReader interface {
	TaskInScope(ctx context.Context, scope tenant.ScopeKey, taskID string) (bool, error)
	TaskRef(ctx context.Context, taskID string) (TaskRef, error)
}

type Store interface {
	TaskReader
	ListDependsOn(ctx context.Context, scope tenant.ScopeKey, taskID string) ([]Edge, error)
	ListBlocking(ctx context.Context, scope tenant.ScopeKey, taskID string) ([]Edge, error)
	// WithScopeLock runs fn in one transaction that holds the scope's
	// mutation lock. fn's error rolls the transaction back.
	WithScopeLock(ctx context.Context, scope tenant.ScopeKey, fn func(Tx) error) error
}

type Tx interface {
	TaskReader
	DependencyTargets(ctx context.Context, taskID string) ([]string, error)
	Adjacency(ctx context.Context, scope tenant.ScopeKey) (Adjacency, error)
	EdgeExists(ctx context.Context, taskID, dependsOnTaskID string) (bool, error)
	InsertDependency(ctx context.Context, dep Dependency) error
	DeleteDependency(ctx context.Context, taskID, dependencyID string) (bool, error)
}

// Cache holds adjacency snapshots per scope. Entries are written only by
// transactions holding the scope lock and dropped before any edge mutation
// commits.
type Cache interface {
	Get(ctx context.Context, scope tenant.ScopeKey) (Adjacency, bool, error)
	Set(ctx context.Context, scope tenant.ScopeKey, adj Adjacency) error
	Invalidate(ctx context.Context, scope tenant.ScopeKey) error
}
