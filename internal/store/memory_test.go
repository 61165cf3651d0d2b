package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/tenant"
)

func memoryTask(id string, workspaceID *string, userID, status string, created time.Time) Task {
	return Task{
		ID:          id,
		WorkspaceID: workspaceID,
		UserID:      userID,
		Title:       "Task " + id,
		Priority:    DefaultTaskPriority,
		Status:      status,
		CreatedAt:   created,
	}
}

func TestMemoryStoreScopes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	ws := "ws_1"
	now := time.Now()

	require.NoError(t, s.CreateTask(ctx, memoryTask("in_ws", &ws, "u_1", TaskStatusPending, now)))
	require.NoError(t, s.CreateTask(ctx, memoryTask("personal", nil, "u_1", TaskStatusPending, now.Add(time.Second))))
	require.NoError(t, s.CreateTask(ctx, memoryTask("someone_else", nil, "u_2", TaskStatusPending, now)))

	ok, err := s.TaskInScope(ctx, tenant.Workspace(ws), "in_ws")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TaskInScope(ctx, tenant.User("u_1"), "in_ws")
	require.NoError(t, err)
	assert.False(t, ok, "workspace tasks are not in the creator's personal scope")

	ok, err = s.TaskInScope(ctx, tenant.User("u_1"), "someone_else")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetTask(ctx, tenant.User("u_2"), "personal")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	items, err := s.ListTasks(ctx, tenant.User("u_1"), TaskFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "personal", items[0].ID)
}

func TestMemoryStoreListTasksOrderAndFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	older := memoryTask("older", nil, "u_1", TaskStatusPending, now)
	newer := memoryTask("newer", nil, "u_1", TaskStatusCompleted, now.Add(time.Minute))
	newer.Priority = "high"
	require.NoError(t, s.CreateTask(ctx, older))
	require.NoError(t, s.CreateTask(ctx, newer))

	items, err := s.ListTasks(ctx, tenant.User("u_1"), TaskFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "newer", items[0].ID)

	items, err = s.ListTasks(ctx, tenant.User("u_1"), TaskFilter{Status: TaskStatusPending})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "older", items[0].ID)

	items, err = s.ListTasks(ctx, tenant.User("u_1"), TaskFilter{Priority: "high"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "newer", items[0].ID)
}

func TestMemoryStoreScopeLockRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := tenant.User("u_1")
	now := time.Now()
	require.NoError(t, s.CreateTask(ctx, memoryTask("a", nil, "u_1", TaskStatusPending, now)))
	require.NoError(t, s.CreateTask(ctx, memoryTask("b", nil, "u_1", TaskStatusPending, now)))

	dep := depgraph.Dependency{ID: "d1", TaskID: "a", DependsOnTaskID: "b", DependencyType: "blocks", CreatedAt: now}
	boom := errors.New("boom")
	err := s.WithScopeLock(ctx, scope, func(tx depgraph.Tx) error {
		require.NoError(t, tx.InsertDependency(ctx, dep))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	edges, err := s.ListDependsOn(ctx, scope, "a")
	require.NoError(t, err)
	assert.Empty(t, edges)

	err = s.WithScopeLock(ctx, scope, func(tx depgraph.Tx) error {
		if err := tx.InsertDependency(ctx, dep); err != nil {
			return err
		}
		adj, err := tx.Adjacency(ctx, scope)
		require.NoError(t, err)
		assert.Equal(t, depgraph.Adjacency{"a": {"b"}}, adj)

		assert.ErrorIs(t, tx.InsertDependency(ctx, dep), depgraph.ErrDuplicateDependency)
		self := dep
		self.ID, self.DependsOnTaskID = "d2", "a"
		assert.ErrorIs(t, tx.InsertDependency(ctx, self), depgraph.ErrSelfDependency)
		return nil
	})
	require.NoError(t, err)

	edges, err = s.ListDependsOn(ctx, scope, "a")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Task b", edges[0].Title)

	edges, err = s.ListBlocking(ctx, scope, "b")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Task a", edges[0].Title)
}

func TestMemoryStoreDeleteDependencyChecksOwner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	scope := tenant.User("u_1")
	now := time.Now()
	dep := depgraph.Dependency{ID: "d1", TaskID: "a", DependsOnTaskID: "b", DependencyType: "blocks", CreatedAt: now}

	require.NoError(t, s.WithScopeLock(ctx, scope, func(tx depgraph.Tx) error {
		return tx.InsertDependency(ctx, dep)
	}))

	require.NoError(t, s.WithScopeLock(ctx, scope, func(tx depgraph.Tx) error {
		deleted, err := tx.DeleteDependency(ctx, "b", "d1")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = tx.DeleteDependency(ctx, "a", "d1")
		require.NoError(t, err)
		assert.True(t, deleted)

		targets, err := tx.DependencyTargets(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, targets)
		return nil
	}))
}

func TestMemoryStoreMembershipsAndTokens(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := s.MembershipRole(ctx, "ws_1", "u_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpsertMembership(ctx, Membership{WorkspaceID: "ws_1", UserID: "u_1", Role: "viewer"}))
	require.NoError(t, s.UpsertMembership(ctx, Membership{WorkspaceID: "ws_1", UserID: "u_1", Role: "admin"}))
	role, ok, err := s.MembershipRole(ctx, "ws_1", "u_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "admin", role)

	require.NoError(t, s.RevokeAccessToken(ctx, "jti_1", time.Now()))
	revoked, err := s.IsAccessTokenRevoked(ctx, "jti_1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestMemoryStoreTextFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	docs := memoryTask("docs", nil, "u_1", TaskStatusPending, now)
	docs.Title = "Write Release Notes"
	deploy := memoryTask("deploy", nil, "u_1", TaskStatusPending, now)
	deploy.Title = "Deploy"
	deploy.Description = "after the release notes are out"
	other := memoryTask("other", nil, "u_1", TaskStatusPending, now)
	for _, task := range []Task{docs, deploy, other} {
		require.NoError(t, s.CreateTask(ctx, task))
	}

	items, err := s.ListTasks(ctx, tenant.User("u_1"), TaskFilter{Text: " release NOTES "})
	require.NoError(t, err)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	assert.ElementsMatch(t, []string{"docs", "deploy"}, ids)
}
