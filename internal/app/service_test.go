package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeps/api/internal/auth"
	"taskdeps/api/internal/config"
	"taskdeps/api/internal/depgraph"
	"taskdeps/api/internal/rbac"
	"taskdeps/api/internal/store"
	"taskdeps/api/internal/tenant"
)

func TestSessionFromTokenScopes(t *testing.T) {
	env := newTestEnv(t)
	env.member("ws_1", "u_1", "admin")
	ctx := context.Background()

	session, err := env.svc.SessionFromToken(ctx, env.token("u_1", "", ""), "")
	require.NoError(t, err)
	assert.Equal(t, tenant.User("u_1"), session.Scope)
	assert.Equal(t, rbac.RoleMember, session.Role)

	session, err = env.svc.SessionFromToken(ctx, env.token("u_1", "viewer", ""), "")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleViewer, session.Role)

	session, err = env.svc.SessionFromToken(ctx, env.token("u_1", "viewer", ""), " ws_1 ")
	require.NoError(t, err)
	assert.Equal(t, tenant.Workspace("ws_1"), session.Scope)
	assert.Equal(t, rbac.RoleAdmin, session.Role)

	// The header wins over the claim.
	_, err = env.svc.SessionFromToken(ctx, env.token("u_1", "", "ws_1"), "ws_other")
	assert.ErrorIs(t, err, errNotMember)
}

func TestSessionFromTokenRejectsExpired(t *testing.T) {
	env := newTestEnv(t)
	token, err := auth.NewVerifier(testSecret).Issue(auth.Claims{
		Sub: "u_1",
		JTI: "jti_1",
		Exp: time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)

	_, err = env.svc.SessionFromToken(context.Background(), token, "")
	assert.ErrorIs(t, err, auth.ErrExpiredToken)
}

func TestCreateTaskInWorkspace(t *testing.T) {
	env := newTestEnv(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env.svc.now = func() time.Time { return fixed }
	session := Session{UserID: "u_1", Role: rbac.RoleMember, Scope: tenant.Workspace("ws_1")}

	task, err := env.svc.CreateTask(context.Background(), session, CreateTaskInput{Title: "Done already", Status: "completed"})
	require.NoError(t, err)
	require.NotNil(t, task.WorkspaceID)
	assert.Equal(t, "ws_1", *task.WorkspaceID)
	assert.Equal(t, "u_1", task.UserID)
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, fixed, *task.CompletedAt)

	stored, err := env.mem.GetTask(context.Background(), tenant.Workspace("ws_1"), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, stored.Title)
}

func TestCompleteTaskUnblocksDependents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	session := Session{UserID: "u_1", Role: rbac.RoleMember, Scope: tenant.User("u_1")}

	first, err := env.svc.CreateTask(ctx, session, CreateTaskInput{Title: "First"})
	require.NoError(t, err)
	second, err := env.svc.CreateTask(ctx, session, CreateTaskInput{Title: "Second"})
	require.NoError(t, err)

	_, err = env.svc.AddDependency(ctx, session, second.ID, first.ID, "")
	require.NoError(t, err)

	status, err := env.svc.CheckBlocked(ctx, session, second.ID)
	require.NoError(t, err)
	assert.True(t, status.IsBlocked)

	completed, err := env.svc.CompleteTask(ctx, session, first.ID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStatusCompleted, completed.Status)

	status, err = env.svc.CheckBlocked(ctx, session, second.ID)
	require.NoError(t, err)
	assert.False(t, status.IsBlocked)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "task missing", err: depgraph.ErrTaskNotFound, status: 404, code: "NOT_FOUND"},
		{name: "wrapped conflict", err: errors.Join(errors.New("ctx"), depgraph.ErrDuplicateDependency), status: 409, code: "DUPLICATE_DEPENDENCY"},
		{name: "cycle", err: &depgraph.CycleError{Path: []string{"a", "b", "a"}}, status: 400, code: "CIRCULAR_DEPENDENCY"},
		{name: "forbidden", err: depgraph.ErrForbidden, status: 403, code: "FORBIDDEN"},
		{name: "domain", err: errNotMember, status: 403, code: "FORBIDDEN"},
		{name: "expired", err: auth.ErrExpiredToken, status: 401, code: "UNAUTHORIZED"},
		{name: "unknown", err: errors.New("boom"), status: 500, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}

	_, _, _, details := mapError(&depgraph.CycleError{Path: []string{"a", "b", "a"}})
	assert.Equal(t, map[string]any{"cycle": []string{"a", "b", "a"}}, details)
}

func TestNewAcceptsNilLogger(t *testing.T) {
	svc := New(config.Config{JWTSecret: testSecret}, store.NewMemoryStore(), nil, nil)
	assert.NotNil(t, svc.Logger())
}
