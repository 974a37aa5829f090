// ABOUTME: Tests for the store change broadcaster
// ABOUTME: Covers subscribe, publish, unsubscribe, context cancellation, concurrency

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcaster_SubscribersReceiveChange(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	ch1, _ := b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	b.Publish(Change{Kind: ChangeAppended, MessageIDs: []string{"m1"}})

	for i, ch := range []<-chan Change{ch1, ch2} {
		select {
		case c := <-ch:
			assert.Equal(t, ChangeAppended, c.Kind, "subscriber %d", i)
			assert.Equal(t, []string{"m1"}, c.MessageIDs)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_SlowConsumerDoesNotBlockPublisher(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()

	// Never read from the first subscriber.
	_, _ = b.Subscribe(ctx)
	ch2, _ := b.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for range 100 {
			b.Publish(Change{Kind: ChangeReplaced})
		}
		close(done)
	}()

	received := 0
	for {
		select {
		case <-ch2:
			received++
		case <-time.After(200 * time.Millisecond):
			select {
			case <-done:
			default:
				t.Fatal("publisher blocked on a slow subscriber")
			}
			assert.Positive(t, received)
			return
		}
	}
}

func TestBroadcaster_ContextCancellationCleansUp(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := b.Subscribe(ctx)

	b.mu.RLock()
	_, exists := b.subscribers[subID]
	b.mu.RUnlock()
	assert.True(t, exists, "subscription should exist before cancel")

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after context cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}

	b.mu.RLock()
	_, exists = b.subscribers[subID]
	b.mu.RUnlock()
	assert.False(t, exists)
}

func TestBroadcaster_ManualUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, subID := b.Subscribe(t.Context())
	b.Unsubscribe(subID)
	b.Unsubscribe(subID)

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic.
	b.Publish(Change{Kind: ChangeReset})
}

func TestBroadcaster_CloseClosesAllSubscriptions(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context())
	ch2, _ := b.Subscribe(t.Context())

	b.Close()

	for i, ch := range []<-chan Change{ch1, ch2} {
		select {
		case _, ok := <-ch:
			assert.False(t, ok, "channel %d should be closed after Close()", i)
		case <-time.After(time.Second):
			t.Fatalf("channel %d not closed after Close()", i)
		}
	}

	late, _ := b.Subscribe(t.Context())
	_, ok := <-late
	assert.False(t, ok, "subscribing after Close yields a closed channel")
}

func TestBroadcaster_ConcurrentPublishSubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	ctx := t.Context()

	for range 10 {
		wg.Go(func() {
			ch, subID := b.Subscribe(ctx)
			defer b.Unsubscribe(subID)
			for range 5 {
				select {
				case <-ch:
				case <-time.After(500 * time.Millisecond):
					return
				}
			}
		})
	}

	for range 10 {
		wg.Go(func() {
			for range 10 {
				b.Publish(Change{Kind: ChangeReplaced})
			}
		})
	}

	wg.Wait()
}

func TestBroadcaster_SubscribeReturnsUniqueIDs(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, id1 := b.Subscribe(t.Context())
	_, id2 := b.Subscribe(t.Context())

	require.NotEqual(t, id1, id2)
}
