package tenant

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeColumns(t *testing.T) {
	assert.Equal(t, "workspace_id", Workspace("ws_1").Column())
	assert.Equal(t, "user_id", User("usr_1").Column())
}

func TestScopeValidity(t *testing.T) {
	assert.True(t, Workspace("ws_1").Valid())
	assert.False(t, Workspace("  ").Valid())
	assert.False(t, ScopeKey{}.Valid())
}

func TestParseRoundTrip(t *testing.T) {
	for _, key := range []ScopeKey{Workspace("ws_1"), User("usr_9")} {
		parsed, err := Parse(key.String())
		require.NoError(t, err)
		assert.Equal(t, key, parsed)
	}
}

func TestParseRejectsUnknownKinds(t *testing.T) {
	for _, raw := range []string{"", "workspace", "team:1", "user:"} {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidScope, raw)
	}
}
