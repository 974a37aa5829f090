// ABOUTME: Tests for the preview handle registry
// ABOUTME: Verifies each handle is released exactly once, including under concurrent release

package conversation

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreviews_ReleaseOnce(t *testing.T) {
	rc := newReleaseCounter()
	p := NewPreviews(rc.release)

	a, b := p.Acquire(), p.Acquire()
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, p.Live())

	assert.Equal(t, 1, p.Release(a))
	assert.Equal(t, 0, p.Release(a), "second release is a no-op")
	assert.Equal(t, 1, p.Release(a, b, "unknown"))

	assert.Equal(t, 1, rc.get(a))
	assert.Equal(t, 1, rc.get(b))
	assert.Zero(t, p.Live())
}

func TestPreviews_ConcurrentRelease(t *testing.T) {
	var calls atomic.Int32
	p := NewPreviews(func(string) { calls.Add(1) })
	id := p.Acquire()

	var released atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Go(func() {
			released.Add(int32(p.Release(id)))
		})
	}
	wg.Wait()

	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestPreviews_NilHook(t *testing.T) {
	p := NewPreviews(nil)
	id := p.Acquire()

	assert.Equal(t, 1, p.Release(id))
}
