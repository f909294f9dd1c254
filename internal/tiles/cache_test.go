package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestByteCache_PutGet(t *testing.T) {
	c := newByteCache(1024)
	c.put("a", []byte("payload"))

	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "payload", string(got))

	_, ok = c.get("missing")
	assert.False(t, ok)
}

func TestByteCache_EvictsByBytes(t *testing.T) {
	c := newByteCache(10)
	c.put("a", []byte("12345"))
	c.put("b", []byte("12345"))
	c.put("c", []byte("12345")) // pushes total to 15, evicts the oldest

	_, ok := c.get("a")
	assert.False(t, ok)
	_, ok = c.get("b")
	assert.True(t, ok)
	_, ok = c.get("c")
	assert.True(t, ok)
}

func TestByteCache_GetRefreshesRecency(t *testing.T) {
	c := newByteCache(10)
	c.put("a", []byte("12345"))
	c.put("b", []byte("12345"))

	_, ok := c.get("a")
	require.True(t, ok)

	c.put("c", []byte("12345")) // "b" is now least recently used

	_, ok = c.get("a")
	assert.True(t, ok)
	_, ok = c.get("b")
	assert.False(t, ok)
}

func TestByteCache_OversizeValueIgnored(t *testing.T) {
	c := newByteCache(4)
	c.put("big", []byte("too large"))
	_, ok := c.get("big")
	assert.False(t, ok)
}

func TestByteCache_UpdateExistingKey(t *testing.T) {
	c := newByteCache(100)
	c.put("a", []byte("old"))
	c.put("a", []byte("newer"))

	got, ok := c.get("a")
	require.True(t, ok)
	assert.Equal(t, "newer", string(got))
	assert.Equal(t, 5, c.bytes)
}
