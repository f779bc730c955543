package relay

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/store"
)

// Broadcaster hands captured payloads to the ingestion session. It tries
// the live channel first and falls back to the durable staging queue when
// no session is listening, so captures survive until the next drain.
type Broadcaster struct {
	bus   *bus.Bus
	store store.Store
}

// NewBroadcaster wires a Broadcaster to the bus and the staging queue.
func NewBroadcaster(b *bus.Bus, st store.Store) *Broadcaster {
	return &Broadcaster{bus: b, store: st}
}

// Offer delivers a payload. It reports true when a live subscriber picked
// the message up and false when the payload was staged instead. origin may
// be nil when the delivery vector has nothing to report.
func (b *Broadcaster) Offer(ctx context.Context, source model.Source, payload model.Payload, label string, origin *model.OriginMeta) (bool, error) {
	msg := bus.Message{
		Topic:  bus.TopicIngest,
		Source: string(source),
		Label:  label,
		Binary: payload.IsBinary(),
		Origin: origin,
	}
	if text, ok := payload.Text(); ok {
		msg.PayloadText = text
	} else {
		msg.Payload = payload.Bytes()
	}

	if b.bus.Publish(msg) > 0 {
		return true, nil
	}

	entry := &model.StagingEntry{
		ID:         uuid.New().String(),
		Payload:    payload,
		Source:     source,
		Label:      label,
		Origin:     origin,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := b.store.EnqueueStaging(ctx, entry); err != nil {
		return false, err
	}
	zap.L().Debug("payload staged for later drain",
		zap.String("source", string(source)),
		zap.Int("size", payload.Size()),
	)
	return false, nil
}

// DrainNow nudges any listening session to drain the staging queue.
func (b *Broadcaster) DrainNow() {
	b.bus.Publish(bus.Message{Topic: bus.TopicDrainNow})
}
