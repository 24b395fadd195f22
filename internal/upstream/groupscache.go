package upstream

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/coocood/freecache"
	"go.uber.org/zap"
)

// groupListCacheTTL bounds how stale a ListGroups response may be; a UI that
// polls /api/groups/list repeatedly (the normal usage pattern while a user
// browses chats to pick download targets) reuses the cached page instead of
// re-paging every dialog from the upstream each time.
const groupListCacheTTL = 15

// groupListCache wraps freecache the same way the teacher's internal/cache
// wraps it for file-location lookups, here sized much smaller since it only
// ever holds one gob-encoded []Chat slice per active user.
type groupListCache struct {
	mu    sync.Mutex
	cache *freecache.Cache
	log   *zap.Logger
}

func newGroupListCache(log *zap.Logger) *groupListCache {
	return &groupListCache{
		cache: freecache.NewCache(4 * 1024 * 1024),
		log:   log.Named("GroupListCache"),
	}
}

func groupListCacheKey(userID int64) []byte {
	return []byte(fmt.Sprintf("groups:%d", userID))
}

func (c *groupListCache) Get(userID int64) ([]Chat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := c.cache.Get(groupListCacheKey(userID))
	if err != nil {
		return nil, false
	}
	var chats []Chat
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&chats); err != nil {
		c.log.Warn("failed to decode cached group list", zap.Error(err))
		return nil, false
	}
	return chats, true
}

func (c *groupListCache) Set(userID int64, chats []Chat) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(chats); err != nil {
		c.log.Warn("failed to encode group list for cache", zap.Error(err))
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.cache.Set(groupListCacheKey(userID), buf.Bytes(), groupListCacheTTL); err != nil {
		c.log.Warn("failed to cache group list", zap.Error(err))
	}
}

func (c *groupListCache) Invalidate(userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Del(groupListCacheKey(userID))
}
