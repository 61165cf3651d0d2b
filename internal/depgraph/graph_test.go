package depgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindPath(t *testing.T) {
	adj := Adjacency{
		"a": {"b"},
		"b": {"c", "d"},
		"c": {"e"},
		"d": {"e"},
	}

	tests := []struct {
		name     string
		from, to string
		want     []string
	}{
		{name: "direct edge", from: "a", to: "b", want: []string{"a", "b"}},
		{name: "shortest of two routes", from: "a", to: "e", want: []string{"a", "b", "c", "e"}},
		{name: "same node", from: "c", to: "c", want: []string{"c"}},
		{name: "edges point the other way", from: "e", to: "a", want: nil},
		{name: "unknown node", from: "x", to: "a", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := findPath(context.Background(), tt.from, tt.to, adj.Targets)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindPathTerminatesOnExistingCycle(t *testing.T) {
	adj := Adjacency{"a": {"b"}, "b": {"a"}}

	got, err := findPath(context.Background(), "a", "z", adj.Targets)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFindPathVisitsEachNodeOnce(t *testing.T) {
	adj := Adjacency{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": {},
	}
	calls := make(map[string]int)
	targets := func(ctx context.Context, id string) ([]string, error) {
		calls[id]++
		return adj.Targets(ctx, id)
	}

	_, err := findPath(context.Background(), "a", "z", targets)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, calls)
}

func TestFindPathPropagatesLookupErrors(t *testing.T) {
	boom := errors.New("boom")
	targets := func(context.Context, string) ([]string, error) { return nil, boom }

	_, err := findPath(context.Background(), "a", "b", targets)
	assert.ErrorIs(t, err, boom)
}

func TestNormalizeType(t *testing.T) {
	got, err := normalizeType("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultDependencyType, got)

	got, err = normalizeType(" relates_to ")
	require.NoError(t, err)
	assert.Equal(t, "relates_to", got)

	_, err = normalizeType(string(make([]byte, maxDependencyTypeLen+1)))
	assert.ErrorIs(t, err, ErrInvalidType)
}

func TestCycleErrorMatchesSentinel(t *testing.T) {
	err := error(&CycleError{Path: []string{"a", "b", "a"}})
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.Contains(t, err.Error(), "a -> b -> a")
}
