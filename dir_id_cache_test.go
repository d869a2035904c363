package vaultfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absfs/vaultfs/store"
)

func testInfo(id string) DirIDInfo {
	return DirIDInfo{ID: id, Shard: store.NewRoot("/d/" + id)}
}

func TestDirIDCache_GetPut(t *testing.T) {
	c := newDirIDCache(10)
	key := dirIDKey{path: "/a"}

	_, ok := c.get(key)
	assert.False(t, ok)

	c.put(key, testInfo("one"))
	info, ok := c.get(key)
	require.True(t, ok)
	assert.Equal(t, "one", info.ID)

	c.put(key, testInfo("two"))
	info, _ = c.get(key)
	assert.Equal(t, "two", info.ID)
	assert.Equal(t, 1, c.len())
}

func TestDirIDCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := newDirIDCache(2)
	c.put(dirIDKey{path: "/a"}, testInfo("a"))
	c.put(dirIDKey{path: "/b"}, testInfo("b"))

	// touch /a so /b becomes the oldest entry
	_, ok := c.get(dirIDKey{path: "/a"})
	require.True(t, ok)
	c.put(dirIDKey{path: "/c"}, testInfo("c"))

	assert.Equal(t, 2, c.len())
	_, ok = c.get(dirIDKey{path: "/b"})
	assert.False(t, ok)
	_, ok = c.get(dirIDKey{path: "/a"})
	assert.True(t, ok)
	_, ok = c.get(dirIDKey{path: "/c"})
	assert.True(t, ok)
}

func TestDirIDCache_LegacyKeyIncludesModification(t *testing.T) {
	c := newDirIDCache(10)
	folder := &CryptoFolder{nodeBase: nodeBase{name: "a", path: "/a"}}
	t1 := time.Unix(100, 0)
	t2 := time.Unix(200, 0)

	c.put(legacyKey(folder, t1), testInfo("old"))
	_, ok := c.get(legacyKey(folder, t2))
	assert.False(t, ok, "a changed directory file must miss the cache")

	c.put(legacyKey(folder, t2), testInfo("new"))
	c.evict("/a")
	assert.Equal(t, 0, c.len())
}

func TestDirIDCache_LegacyKeyUnknownModification(t *testing.T) {
	c := newDirIDCache(10)
	folder := &CryptoFolder{nodeBase: nodeBase{name: "a", path: "/a"}}

	key := legacyKey(folder, time.Time{})
	assert.Equal(t, dirIDKey{path: "/a"}, key)

	c.put(key, testInfo("created"))
	info, ok := c.get(legacyKey(folder, time.Time{}))
	require.True(t, ok)
	assert.Equal(t, "created", info.ID)

	_, ok = c.get(legacyKey(folder, time.Unix(100, 0)))
	assert.False(t, ok)
}

func TestDirIDCache_EvictSubtree(t *testing.T) {
	c := newDirIDCache(10)
	for _, p := range []string{"/a", "/a/b", "/a/b/c", "/ab", "/x"} {
		c.put(dirIDKey{path: p}, testInfo(p))
	}

	c.evictSubtree("/a")

	for _, p := range []string{"/a", "/a/b", "/a/b/c"} {
		_, ok := c.get(dirIDKey{path: p})
		assert.False(t, ok, p)
	}
	for _, p := range []string{"/ab", "/x"} {
		_, ok := c.get(dirIDKey{path: p})
		assert.True(t, ok, p)
	}
}
