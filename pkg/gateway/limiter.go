// Copyright 2024-2026 Aiku AI

package gateway

import (
	"container/list"
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the pool. Ids are attacker-chosen, so the least
// recently used bucket is evicted once the pool is full.
const maxLimiters = 10000

type limiterEntry struct {
	appID   uint32
	limiter *rate.Limiter
}

// limiterPool hands out one token bucket per app id.
type limiterPool struct {
	mu       sync.Mutex
	ll       *list.List
	m        map[uint32]*list.Element
	capacity int
	rps      float64
	burst    int
}

func newLimiterPool(rps float64, burst, capacity int) *limiterPool {
	if burst <= 0 {
		burst = 1
	}
	if capacity <= 0 {
		capacity = maxLimiters
	}
	return &limiterPool{
		ll:       list.New(),
		m:        make(map[uint32]*list.Element),
		capacity: capacity,
		rps:      rps,
		burst:    burst,
	}
}

func (p *limiterPool) get(appID uint32) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if el, ok := p.m[appID]; ok {
		p.ll.MoveToFront(el)
		return el.Value.(*limiterEntry).limiter
	}
	if p.ll.Len() >= p.capacity {
		oldest := p.ll.Back()
		p.ll.Remove(oldest)
		delete(p.m, oldest.Value.(*limiterEntry).appID)
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[appID] = p.ll.PushFront(&limiterEntry{appID: appID, limiter: l})
	return l
}

func (p *limiterPool) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ll.Len()
}

// Allow reports whether a request for appID may proceed. A non-positive
// rate disables limiting.
func (p *limiterPool) Allow(appID uint32) bool {
	if p.rps <= 0 {
		return true
	}
	return p.get(appID).Allow()
}
