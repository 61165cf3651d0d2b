package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/tenant"
)

type PostgresStore struct {
	db *sqlx.DB
}

var (
	_ depgraph.Store = (*PostgresStore)(nil)
	_ depgraph.Tx    = (*graphTx)(nil)
)

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sqlx.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// scopeClause filters the tasks row aliased as alias to scope, using
// placeholder $arg for the scope id. User scope only covers tasks that are
// not in any workspace.
func scopeClause(alias string, scope tenant.ScopeKey, arg int) string {
	clause := fmt.Sprintf("%s.%s = $%d", alias, scope.Column(), arg)
	if scope.Kind() == tenant.KindUser {
		clause += fmt.Sprintf(" AND %s.workspace_id IS NULL", alias)
	}
	return clause
}

const taskColumns = `t.id, t.workspace_id, t.user_id, t.title, t.description, t.priority, t.status, t.completed_at, t.created_at, t.updated_at`

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO workspaces (id, name, created_at) VALUES ($1, $2, $3)`, ws.ID, ws.Name, ws.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, m Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_memberships (workspace_id, user_id, role, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, m.WorkspaceID, m.UserID, m.Role, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

// MembershipRole returns the user's role in the workspace and whether they
// are a member at all.
func (s *PostgresStore) MembershipRole(ctx context.Context, workspaceID, userID string) (string, bool, error) {
	var role string
	err := s.db.GetContext(ctx, &role, `SELECT role FROM workspace_memberships WHERE workspace_id=$1 AND user_id=$2`, workspaceID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read membership: %w", err)
	}
	return role, true, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.GetContext(ctx, &revoked, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, workspace_id, user_id, title, description, priority, status, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, task.ID, task.WorkspaceID, task.UserID, task.Title, task.Description, task.Priority, task.Status, task.CompletedAt, task.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, scope tenant.ScopeKey, taskID string) (Task, error) {
	var task Task
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE t.id = $1 AND ` + scopeClause("t", scope, 2)
	if err := s.db.GetContext(ctx, &task, query, taskID, scope.ID()); err != nil {
		return Task{}, err
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, scope tenant.ScopeKey, filter TaskFilter) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE ` + scopeClause("t", scope, 1)
	args := []any{scope.ID()}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND t.status = $%d", len(args))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		query += fmt.Sprintf(" AND t.priority = $%d", len(args))
	}
	if text := strings.TrimSpace(filter.Text); text != "" {
		args = append(args, text)
		query += fmt.Sprintf(" AND to_tsvector('english', t.title || ' ' || t.description) @@ plainto_tsquery('english', $%d)", len(args))
	}
	query += ` ORDER BY t.created_at DESC, t.id`

	items := make([]Task, 0)
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CompleteTask(ctx context.Context, scope tenant.ScopeKey, taskID string, at time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks t SET status=$3, completed_at=$4, updated_at=$4
		WHERE t.id = $1 AND `+scopeClause("t", scope, 2),
		taskID, scope.ID(), TaskStatusCompleted, at)
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete task: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) TaskInScope(ctx context.Context, scope tenant.ScopeKey, taskID string) (bool, error) {
	return taskInScope(ctx, s.db, scope, taskID)
}

func (s *PostgresStore) TaskRef(ctx context.Context, taskID string) (depgraph.TaskRef, error) {
	return taskRef(ctx, s.db, taskID)
}

func (s *PostgresStore) ListDependsOn(ctx context.Context, scope tenant.ScopeKey, taskID string) ([]depgraph.Edge, error) {
	return listEdges(ctx, s.db, "d.depends_on_task_id", "d.task_id", scope, taskID)
}

func (s *PostgresStore) ListBlocking(ctx context.Context, scope tenant.ScopeKey, taskID string) ([]depgraph.Edge, error) {
	return listEdges(ctx, s.db, "d.task_id", "d.depends_on_task_id", scope, taskID)
}

// WithScopeLock serializes edge mutations per scope with a transaction-level
// advisory lock, released on commit or rollback.
func (s *PostgresStore) WithScopeLock(ctx context.Context, scope tenant.ScopeKey, fn func(depgraph.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, scope.String()); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("lock scope %s: %w", scope, err)
	}
	if err := fn(&graphTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit graph tx: %w", err)
	}
	return nil
}

type graphTx struct {
	tx *sqlx.Tx
}

func (g *graphTx) TaskInScope(ctx context.Context, scope tenant.ScopeKey, taskID string) (bool, error) {
	return taskInScope(ctx, g.tx, scope, taskID)
}

func (g *graphTx) TaskRef(ctx context.Context, taskID string) (depgraph.TaskRef, error) {
	return taskRef(ctx, g.tx, taskID)
}

func (g *graphTx) DependencyTargets(ctx context.Context, taskID string) ([]string, error) {
	targets := make([]string, 0)
	err := g.tx.SelectContext(ctx, &targets, `
		SELECT depends_on_task_id FROM task_dependencies
		WHERE task_id = $1
		ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependency targets: %w", err)
	}
	return targets, nil
}

func (g *graphTx) Adjacency(ctx context.Context, scope tenant.ScopeKey) (depgraph.Adjacency, error) {
	var rows []struct {
		TaskID          string `db:"task_id"`
		DependsOnTaskID string `db:"depends_on_task_id"`
	}
	err := g.tx.SelectContext(ctx, &rows, `
		SELECT d.task_id, d.depends_on_task_id
		FROM task_dependencies d
		JOIN tasks t ON t.id = d.task_id
		WHERE `+scopeClause("t", scope, 1)+`
		ORDER BY d.created_at, d.id
	`, scope.ID())
	if err != nil {
		return nil, fmt.Errorf("load adjacency: %w", err)
	}
	adj := make(depgraph.Adjacency, len(rows))
	for _, row := range rows {
		adj[row.TaskID] = append(adj[row.TaskID], row.DependsOnTaskID)
	}
	return adj, nil
}

func (g *graphTx) EdgeExists(ctx context.Context, taskID, dependsOnTaskID string) (bool, error) {
	var exists bool
	err := g.tx.GetContext(ctx, &exists, `
		SELECT EXISTS(SELECT 1 FROM task_dependencies WHERE task_id=$1 AND depends_on_task_id=$2)
	`, taskID, dependsOnTaskID)
	if err != nil {
		return false, fmt.Errorf("check dependency: %w", err)
	}
	return exists, nil
}

func (g *graphTx) InsertDependency(ctx context.Context, dep depgraph.Dependency) error {
	_, err := g.tx.NamedExecContext(ctx, `
		INSERT INTO task_dependencies (id, task_id, depends_on_task_id, dependency_type, created_at)
		VALUES (:id, :task_id, :depends_on_task_id, :dependency_type, :created_at)
	`, dep)
	switch pgErrorCode(err) {
	case "":
	case sqlStateUniqueViolation:
		return depgraph.ErrDuplicateDependency
	case sqlStateCheckViolation:
		return depgraph.ErrSelfDependency
	}
	if err != nil {
		return fmt.Errorf("insert dependency: %w", err)
	}
	return nil
}

func (g *graphTx) DeleteDependency(ctx context.Context, taskID, dependencyID string) (bool, error) {
	result, err := g.tx.ExecContext(ctx, `DELETE FROM task_dependencies WHERE id=$1 AND task_id=$2`, dependencyID, taskID)
	if err != nil {
		return false, fmt.Errorf("delete dependency: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete dependency: %w", err)
	}
	return affected > 0, nil
}

func taskInScope(ctx context.Context, q sqlx.QueryerContext, scope tenant.ScopeKey, taskID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM tasks t WHERE t.id = $1 AND ` + scopeClause("t", scope, 2) + `)`
	if err := sqlx.GetContext(ctx, q, &exists, query, taskID, scope.ID()); err != nil {
		return false, fmt.Errorf("check task scope: %w", err)
	}
	return exists, nil
}

func taskRef(ctx context.Context, q sqlx.QueryerContext, taskID string) (depgraph.TaskRef, error) {
	var ref depgraph.TaskRef
	err := sqlx.GetContext(ctx, q, &ref, `SELECT id, title, status, priority FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return depgraph.TaskRef{}, err
	}
	return ref, nil
}

// listEdges lists edges whose `match` column equals taskID, annotated with
// the task on the `join` side.
func listEdges(ctx context.Context, q sqlx.QueryerContext, join, match string, scope tenant.ScopeKey, taskID string) ([]depgraph.Edge, error) {
	query := strings.NewReplacer("{join}", join, "{match}", match).Replace(`
		SELECT d.id, d.task_id, d.depends_on_task_id, d.dependency_type, d.created_at,
			t.title, t.status, t.priority
		FROM task_dependencies d
		JOIN tasks t ON t.id = {join}
		WHERE {match} = $1 AND `) + scopeClause("t", scope, 2) + `
		ORDER BY d.created_at, d.id`

	edges := make([]depgraph.Edge, 0)
	if err := sqlx.SelectContext(ctx, q, &edges, query, taskID, scope.ID()); err != nil {
		return nil, fmt.Errorf("list dependencies: %w", err)
	}
	return edges, nil
}
