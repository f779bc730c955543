// Package bus provides a small in-process publish/subscribe fabric used to
// fan ingestion events out from the collector endpoints to the session loop
// without coupling the two. Delivery is best-effort per subscriber: a full
// subscriber buffer drops the message rather than blocking the publisher.
package bus

import (
	"sync"
	"time"

	"github.com/sells-group/signal-sink/internal/model"
)

// Topic names carried on the bus.
const (
	TopicIngest   = "ingest"
	TopicDrainNow = "drain_now"
)

// Message is a single event published to a topic.
type Message struct {
	Topic       string
	Source      string
	Payload     []byte
	PayloadText string
	Binary      bool
	Label       string
	Origin      *model.OriginMeta
	At          time.Time
}

type subscriber struct {
	topic string
	ch    chan Message
}

// Bus is a named-topic broadcast hub. The zero value is not usable; use New.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	backlog int
	closed  bool
}

// New creates a Bus whose subscribers buffer up to backlog messages each.
func New(backlog int) *Bus {
	if backlog <= 0 {
		backlog = 64
	}
	return &Bus{
		subs:    make(map[*subscriber]struct{}),
		backlog: backlog,
	}
}

// Subscribe registers interest in a topic. The returned cancel function
// removes the subscription and closes the channel; it is safe to call more
// than once.
func (b *Bus) Subscribe(topic string) (<-chan Message, func()) {
	sub := &subscriber{topic: topic, ch: make(chan Message, b.backlog)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			_, active := b.subs[sub]
			delete(b.subs, sub)
			b.mu.Unlock()
			if active { // Close may have already torn the channel down
				close(sub.ch)
			}
		})
	}
	return sub.ch, cancel
}

// Publish delivers msg to every subscriber of its topic and reports how many
// received it. Subscribers with full buffers are skipped.
func (b *Bus) Publish(msg Message) int {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0
	}

	delivered := 0
	for sub := range b.subs {
		if sub.topic != msg.Topic {
			continue
		}
		select {
		case sub.ch <- msg:
			delivered++
		default:
		}
	}
	return delivered
}

// SubscriberCount reports the number of active subscriptions for a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for sub := range b.subs {
		if sub.topic == topic {
			n++
		}
	}
	return n
}

// Close shuts the bus down and closes all subscriber channels. Publishing
// after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*subscriber]struct{})
}
