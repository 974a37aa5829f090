// ABOUTME: Thread-safe TTL set of claimed idempotency keys
// ABOUTME: Rejects a repeated send key until it expires or is forgotten

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type claim struct {
	at   time.Time
	elem *list.Element
}

// Cache remembers claimed keys for a TTL, bounded to maxSize entries with the
// oldest claim evicted first.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest claim at the front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache. A background goroutine sweeps expired claims until
// Close is called.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

// Claim records key and reports true when it was not already claimed within
// the TTL. A false result means the caller is repeating itself.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if cl, ok := c.claims[key]; ok {
		if now.Sub(cl.at) < c.ttl {
			return false
		}
		cl.at = now
		c.order.MoveToBack(cl.elem)
		return true
	}

	if len(c.claims) >= c.maxSize {
		c.evictOldest()
	}
	c.claims[key] = &claim{at: now, elem: c.order.PushBack(key)}
	return true
}

// Seen reports whether key is currently claimed.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.claims[key]
	return ok && time.Since(cl.at) < c.ttl
}

// Forget drops a claim so the key can be used again.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.claims[key]; ok {
		c.order.Remove(cl.elem)
		delete(c.claims, key)
	}
}

// Len reports the number of stored claims, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.claims, key)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep drops expired claims. Claims are ordered by time, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for e := c.order.Front(); e != nil; {
		key, _ := e.Value.(string)
		cl := c.claims[key]
		if cl != nil && now.Sub(cl.at) < c.ttl {
			return
		}
		next := e.Next()
		c.order.Remove(e)
		delete(c.claims, key)
		e = next
	}
}

// Close stops the sweeper. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return time.Minute
	case ttl < time.Minute:
		return ttl
	default:
		return time.Minute
	}
}
