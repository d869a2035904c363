package vaultfs

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/absfs/vaultfs/store"
)

// DirIDInfo is the resolved identity of a cleartext folder: its directory id
// and the shard folder holding its children.
type DirIDInfo struct {
	ID    string
	Shard *store.Folder
}

// dirIDKey identifies a cache entry. modified is only set in legacy vaults,
// where a changed directory file invalidates the entry on its own.
type dirIDKey struct {
	path     string
	modified int64
}

func modernKey(f *CryptoFolder) dirIDKey {
	return dirIDKey{path: f.Path()}
}

func legacyKey(f *CryptoFolder, modified time.Time) dirIDKey {
	// An unknown modification time keys as 0. UnixNano is undefined for the
	// zero time.
	if modified.IsZero() {
		return dirIDKey{path: f.Path()}
	}
	return dirIDKey{path: f.Path(), modified: modified.UnixNano()}
}

type dirIDEntry struct {
	key  dirIDKey
	info DirIDInfo
}

// dirIDCache is a bounded LRU of directory ids keyed by cleartext path.
type dirIDCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[dirIDKey]*list.Element
}

func newDirIDCache(capacity int) *dirIDCache {
	return &dirIDCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[dirIDKey]*list.Element),
	}
}

func (c *dirIDCache) get(key dirIDKey) (DirIDInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return DirIDInfo{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*dirIDEntry).info, true
}

func (c *dirIDCache) put(key dirIDKey, info DirIDInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*dirIDEntry).info = info
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&dirIDEntry{key: key, info: info})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*dirIDEntry).key)
	}
}

// evict removes the entries of the folder at path.
func (c *dirIDCache) evict(path string) {
	c.removeIf(func(p string) bool { return p == path })
}

// evictSubtree removes the entries of the folder at path and of all folders
// below it.
func (c *dirIDCache) evictSubtree(path string) {
	prefix := strings.TrimSuffix(path, "/") + "/"
	c.removeIf(func(p string) bool { return p == path || strings.HasPrefix(p, prefix) })
}

func (c *dirIDCache) removeIf(match func(path string) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.entries {
		if match(key.path) {
			c.order.Remove(elem)
			delete(c.entries, key)
		}
	}
}

func (c *dirIDCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
