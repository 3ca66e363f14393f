// Copyright 2024-2026 Aiku AI

package relay

import (
	"container/list"

	"github.com/aiku/mattermost-hookrelay/pkg/chat"
)

type cacheKey struct {
	guildID string
	appID   uint32
}

type cacheEntry struct {
	key    cacheKey
	thread chat.Thread
}

// threadCache is a small LRU of resolved threads. Entries are hints only and
// are re-validated against the platform before use. Not safe for concurrent
// use; the worker is its only caller.
type threadCache struct {
	cap  int
	ll   *list.List
	dict map[cacheKey]*list.Element
}

func newThreadCache(capacity int) *threadCache {
	if capacity < 1 {
		return nil
	}
	return &threadCache{
		cap:  capacity,
		ll:   list.New(),
		dict: make(map[cacheKey]*list.Element, capacity),
	}
}

func (c *threadCache) get(key cacheKey) (chat.Thread, bool) {
	if ele, hit := c.dict[key]; hit {
		c.ll.MoveToFront(ele)
		return ele.Value.(cacheEntry).thread, true
	}
	return chat.Thread{}, false
}

func (c *threadCache) add(key cacheKey, t chat.Thread) {
	if ele, hit := c.dict[key]; hit {
		ele.Value = cacheEntry{key, t}
		c.ll.MoveToFront(ele)
		return
	}
	c.dict[key] = c.ll.PushFront(cacheEntry{key, t})
	if c.ll.Len() > c.cap {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.dict, last.Value.(cacheEntry).key)
	}
}

func (c *threadCache) remove(key cacheKey) {
	if ele, hit := c.dict[key]; hit {
		c.ll.Remove(ele)
		delete(c.dict, key)
	}
}

func (c *threadCache) len() int { return c.ll.Len() }
