// ABOUTME: In-memory fan-out of transcript updates to session observers
// ABOUTME: Slow subscribers drop updates instead of blocking the session loop

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/live-companion/internal/conversation"
)

const subscriberBufferSize = 64

// UpdateKind identifies what changed
type UpdateKind int

const (
	// UpdateMessage carries a new or extended transcript message
	UpdateMessage UpdateKind = iota
	// UpdateState carries a lifecycle transition
	UpdateState
	// UpdateCleared means the transcript was reset
	UpdateCleared
)

// Update is one change observed on the session
type Update struct {
	Kind    UpdateKind
	Message conversation.Message
	State   State
}

// Broadcaster provides in-memory pub/sub for session updates.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]chan Update
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]chan Update),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber. The subscription is removed and its
// channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context) (<-chan Update, string) {
	subID := uuid.New().String()
	ch := make(chan Update, subscriberBufferSize)

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

// Publish sends u to every subscriber. Never blocks.
func (b *Broadcaster) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subscribers {
		select {
		case ch <- u:
		default:
			b.logger.Debug("dropped update for slow subscriber", "sub_id", id, "kind", u.Kind)
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

// Close closes all subscriber channels. Later subscriptions receive a closed channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
	b.closed = true
}
