package id

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	t.Parallel()

	prev := New()
	for i := 0; i < 100; i++ {
		next := New()
		require.NotEqual(t, prev, next)
		assert.Less(t, prev, next, "ulids within one process must be increasing")
		prev = next
	}
}

func TestClientOrderIDPrefix(t *testing.T) {
	t.Parallel()

	cid := ClientOrderID("trend")
	assert.True(t, HasPrefix(cid, "trend"))
	assert.False(t, HasPrefix(cid, "maker"))
	assert.False(t, HasPrefix(cid, "tre"), "prefix match must be whole-segment")
}

func TestHasPrefixRejectsForeignIDs(t *testing.T) {
	t.Parallel()

	assert.False(t, HasPrefix("web_abc123", "trend"))
	assert.False(t, HasPrefix("", "trend"))
}
