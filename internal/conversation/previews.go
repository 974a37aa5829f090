// ABOUTME: Registry of revocable attachment preview handles
// ABOUTME: Each handle is released at most once no matter how often release is requested

package conversation

import (
	"sync"

	"github.com/google/uuid"
)

// Previews tracks live preview handles. Generating the preview itself is the
// presentation layer's job; the registry only owns the handle lifetime.
type Previews struct {
	mu        sync.Mutex
	live      map[string]struct{}
	onRelease func(id string)
}

// NewPreviews creates a registry. onRelease, if set, is called exactly once
// per released handle, outside the registry lock.
func NewPreviews(onRelease func(id string)) *Previews {
	return &Previews{
		live:      make(map[string]struct{}),
		onRelease: onRelease,
	}
}

// Acquire creates a new live handle.
func (p *Previews) Acquire() string {
	id := uuid.New().String()
	p.mu.Lock()
	p.live[id] = struct{}{}
	p.mu.Unlock()
	return id
}

// Release revokes the given handles. Unknown or already released handles
// are ignored. It returns how many handles were actually released.
func (p *Previews) Release(ids ...string) int {
	var released []string
	p.mu.Lock()
	for _, id := range ids {
		if _, ok := p.live[id]; ok {
			delete(p.live, id)
			released = append(released, id)
		}
	}
	p.mu.Unlock()

	if p.onRelease != nil {
		for _, id := range released {
			p.onRelease(id)
		}
	}
	return len(released)
}

// Live reports how many handles are outstanding.
func (p *Previews) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}
