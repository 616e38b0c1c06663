package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewGlobFilter(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users", "orders"})
	require.NoError(t, err)
	require.NotNil(t, filter)

	assert.Len(t, filter.collectionGlobs, 2)
}

func TestNewGlobFilterEmptyPatterns(t *testing.T) {
	// Empty patterns should match everything
	filter, err := NewGlobFilter(nil)
	require.NoError(t, err)

	assert.True(t, filter.Match("any_collection"))
	assert.True(t, filter.Match(""))
}

func TestGlobFilterExactMatch(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users"})
	require.NoError(t, err)

	assert.True(t, filter.Match("users"))
	assert.False(t, filter.Match("orders"))
	assert.False(t, filter.Match("users_archive"))
}

func TestGlobFilterWildcard(t *testing.T) {
	filter, err := NewGlobFilter([]string{"user*", "logs.?"})
	require.NoError(t, err)

	assert.True(t, filter.Match("users"))
	assert.True(t, filter.Match("user"))
	assert.True(t, filter.Match("logs.a"))
	assert.False(t, filter.Match("logs.ab"))
	assert.False(t, filter.Match("orders"))
}

func TestGlobFilterCharacterClass(t *testing.T) {
	filter, err := NewGlobFilter([]string{"shard_[0-9]", "{a,b}_events"})
	require.NoError(t, err)

	assert.True(t, filter.Match("shard_3"))
	assert.False(t, filter.Match("shard_x"))
	assert.True(t, filter.Match("a_events"))
	assert.True(t, filter.Match("b_events"))
	assert.False(t, filter.Match("c_events"))
}

func TestGlobFilterMemoizesMatches(t *testing.T) {
	filter, err := NewGlobFilter([]string{"users"})
	require.NoError(t, err)

	assert.True(t, filter.Match("users"))
	assert.False(t, filter.Match("orders"))

	cached, ok := filter.matches.Get("orders")
	require.True(t, ok)
	assert.False(t, cached)
	assert.Equal(t, 2, filter.matches.Len())
}

func TestGlobFilterInvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"user["})
	assert.Error(t, err)
}
