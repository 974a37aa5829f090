// ABOUTME: In-memory fan-out of transcript changes to presentation subscribers
// ABOUTME: Slow subscribers drop changes instead of blocking the store

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ChangeKind says what kind of mutation a Change reports.
type ChangeKind string

const (
	ChangeAppended   ChangeKind = "appended"
	ChangeReplaced   ChangeKind = "replaced"
	ChangeVersion    ChangeKind = "version"
	ChangeAttachment ChangeKind = "attachment"
	ChangeReset      ChangeKind = "reset"
	ChangeLoaded     ChangeKind = "loaded"
)

// Change notifies subscribers that messages were committed. Subscribers read
// the new state back from the store.
type Change struct {
	Kind       ChangeKind
	SessionID  string
	MessageIDs []string
}

// Broadcaster provides in-memory pub/sub for store changes.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. It returns the change channel and a
// subscription ID for Unsubscribe. The subscription is removed when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	b.subscribers[subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(subID)
	}()

	return ch, subID
}

// Publish sends c to every subscriber without blocking.
func (b *Broadcaster) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			b.logger.Debug("dropped change for slow subscriber",
				"sub_id", id,
				"kind", c.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subscribers[subID]
	if !ok {
		return
	}
	delete(b.subscribers, subID)
	close(ch)

	b.logger.Debug("subscriber removed", "sub_id", subID)
}

// Close closes every subscriber channel. Later subscriptions receive a
// closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for subID, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, subID)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
