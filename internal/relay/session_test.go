package relay

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/store"
)

func newTestSession(t *testing.T, settings *model.Settings) (*Session, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(t.TempDir() + "/relay.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	sess, err := NewSession(st, bus.New(16), settings, Config{DedupCacheSize: 64})
	require.NoError(t, err)
	return sess, st
}

type recordingScheduler struct {
	ids []string
}

func (r *recordingScheduler) Schedule(rec *model.Record) {
	r.ids = append(r.ids, rec.ID)
}

func TestSignature_TextNormalization(t *testing.T) {
	// "é" precomposed vs combining sequence must collapse to one signature.
	composed := model.TextPayload("caf\u00e9")
	decomposed := model.TextPayload("cafe\u0301")
	assert.Equal(t,
		Signature(model.SourceClipboard, composed),
		Signature(model.SourceClipboard, decomposed),
	)

	// Same content from a different source is a different identity.
	assert.NotEqual(t,
		Signature(model.SourceClipboard, composed),
		Signature(model.SourceGlobalAPI, composed),
	)
}

func TestSignature_Binary(t *testing.T) {
	a := model.BinaryPayload([]byte{0x00, 0x01})
	b := model.BinaryPayload([]byte{0x00, 0x02})
	assert.NotEqual(t,
		Signature(model.SourceFileDrop, a),
		Signature(model.SourceFileDrop, b),
	)
}

func TestDeduper_BoundedSeenSet(t *testing.T) {
	d, err := NewDeduper(2)
	require.NoError(t, err)

	assert.False(t, d.Seen("a"))
	assert.False(t, d.Seen("b"))
	assert.True(t, d.Seen("a"))

	// "c" evicts the least recently used entry ("b").
	assert.False(t, d.Seen("c"))
	assert.False(t, d.Seen("b"))
	assert.Equal(t, 2, d.Len())
}

func TestAccept_DedupIdempotence(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	ctx := context.Background()

	payload := model.TextPayload("the same signal")

	rec, captured, err := sess.Accept(ctx, model.SourceGlobalAPI, payload, "")
	require.NoError(t, err)
	require.True(t, captured)
	require.NotNil(t, rec)
	assert.Equal(t, model.StatusRaw, rec.Status)

	// Re-submitting identical content is silently dropped.
	dup, captured, err := sess.Accept(ctx, model.SourceGlobalAPI, payload, "")
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Nil(t, dup)

	status, err := sess.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Records)
	assert.Equal(t, int64(1), status.Ingested)
	assert.Equal(t, int64(1), status.Duplicates)
}

func TestPrime_RemembersStoredRecords(t *testing.T) {
	sess, st := newTestSession(t, nil)
	ctx := context.Background()

	payload := model.TextPayload("persisted earlier")
	_, captured, err := sess.Accept(ctx, model.SourceManualInput, payload, "")
	require.NoError(t, err)
	require.True(t, captured)

	// A fresh session over the same store starts with an empty seen set;
	// priming restores the dedup identity of everything persisted.
	fresh, err := NewSession(st, bus.New(16), nil, Config{DedupCacheSize: 64})
	require.NoError(t, err)
	require.NoError(t, fresh.Prime(ctx))

	dup, captured, err := fresh.Accept(ctx, model.SourceManualInput, payload, "")
	require.NoError(t, err)
	assert.False(t, captured)
	assert.Nil(t, dup)

	n, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// New content still gets through.
	_, captured, err = fresh.Accept(ctx, model.SourceManualInput, model.TextPayload("never seen"), "")
	require.NoError(t, err)
	assert.True(t, captured)
}

func TestAccept_RetentionEviction(t *testing.T) {
	settings := model.DefaultSettings()
	settings.MaxRetention = 2
	settings.AutoAnalyze = false
	sess, st := newTestSession(t, settings)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, captured, err := sess.Accept(ctx, model.SourceManualInput, model.TextPayload(text), "")
		require.NoError(t, err)
		require.True(t, captured)
	}

	n, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, err := sess.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.Evicted)
}

func TestAccept_ClipboardSourceRecordsHistory(t *testing.T) {
	sess, st := newTestSession(t, nil)
	ctx := context.Background()

	_, captured, err := sess.Accept(ctx, model.SourceClipboard, model.TextPayload("copied text"), "")
	require.NoError(t, err)
	require.True(t, captured)

	entries, err := st.ListClipboard(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "copied text", entries[0].Content)

	// Non-clipboard sources leave history untouched.
	_, _, err = sess.Accept(ctx, model.SourceGlobalAPI, model.TextPayload("api text"), "")
	require.NoError(t, err)
	entries, err = st.ListClipboard(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAccept_SchedulesAnalysisWhenEnabled(t *testing.T) {
	sess, _ := newTestSession(t, nil)
	sched := &recordingScheduler{}
	sess.SetScheduler(sched)
	ctx := context.Background()

	rec, _, err := sess.Accept(ctx, model.SourceManualInput, model.TextPayload("analyze me"), "")
	require.NoError(t, err)
	require.Len(t, sched.ids, 1)
	assert.Equal(t, rec.ID, sched.ids[0])

	off := model.DefaultSettings()
	off.AutoAnalyze = false
	require.NoError(t, sess.UpdateSettings(ctx, off))

	_, _, err = sess.Accept(ctx, model.SourceManualInput, model.TextPayload("leave me raw"), "")
	require.NoError(t, err)
	assert.Len(t, sched.ids, 1)
}

func TestDrain_MovesStagedEntriesIntoRecords(t *testing.T) {
	sess, st := newTestSession(t, nil)
	ctx := context.Background()

	for _, text := range []string{"staged one", "staged two", "staged one"} {
		require.NoError(t, st.EnqueueStaging(ctx, &model.StagingEntry{
			ID:         uuid.New().String(),
			Payload:    model.TextPayload(text),
			Source:     model.SourceStealthBeacon,
			EnqueuedAt: time.Now().UTC(),
		}))
	}

	accepted, err := sess.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, accepted) // third entry duplicates the first

	// Queue is empty afterwards, duplicates included.
	staged, err := st.CountStaging(ctx)
	require.NoError(t, err)
	assert.Zero(t, staged)

	records, err := st.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, records)
}

func TestDrain_CarriesOriginIntoRecord(t *testing.T) {
	sess, st := newTestSession(t, nil)
	ctx := context.Background()

	require.NoError(t, st.EnqueueStaging(ctx, &model.StagingEntry{
		ID:      uuid.New().String(),
		Payload: model.TextPayload("staged with origin"),
		Source:  model.SourceStealthBeacon,
		Origin: &model.OriginMeta{
			Host:       "collector.example:8080",
			RemoteAddr: "203.0.113.7:51442",
			UserAgent:  "Mozilla/5.0",
		},
		EnqueuedAt: time.Now().UTC(),
	}))

	accepted, err := sess.Drain(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, accepted)

	records, err := st.ListRecords(ctx, store.RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Origin)
	assert.Equal(t, "203.0.113.7:51442", records[0].Origin.RemoteAddr)
	assert.Equal(t, "Mozilla/5.0", records[0].Origin.UserAgent)
}

func TestDrain_EmptyQueue(t *testing.T) {
	sess, _ := newTestSession(t, nil)

	accepted, err := sess.Drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, accepted)
}

func TestRun_ConsumesBusTraffic(t *testing.T) {
	st, err := store.NewSQLite(t.TempDir() + "/run.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	b := bus.New(16)
	sess, err := NewSession(st, b, nil, Config{DedupCacheSize: 64, DrainInterval: time.Hour})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	// Wait for the session to subscribe before publishing.
	require.Eventually(t, func() bool {
		return b.SubscriberCount(bus.TopicIngest) == 1
	}, time.Second, 10*time.Millisecond)

	require.Equal(t, 1, b.Publish(bus.Message{
		Topic:       bus.TopicIngest,
		Source:      string(model.SourceWindowMessage),
		PayloadText: "posted from a frame",
	}))

	require.Eventually(t, func() bool {
		n, err := st.CountRecords(context.Background())
		return err == nil && n == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBroadcaster_StagesWhenNoSubscriber(t *testing.T) {
	st, err := store.NewSQLite(t.TempDir() + "/bcast.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	ctx := context.Background()

	b := bus.New(4)
	bc := NewBroadcaster(b, st)

	delivered, err := bc.Offer(ctx, model.SourceProxyRelay, model.TextPayload("no one home"), "Headless: GET", nil)
	require.NoError(t, err)
	assert.False(t, delivered)

	staged, err := st.ListStaging(ctx)
	require.NoError(t, err)
	require.Len(t, staged, 1)
	assert.Equal(t, "Headless: GET", staged[0].Label)

	// With a live subscriber the bus path wins and nothing is staged.
	ch, cancel := b.Subscribe(bus.TopicIngest)
	defer cancel()
	delivered, err = bc.Offer(ctx, model.SourceProxyRelay, model.TextPayload("someone home"), "", nil)
	require.NoError(t, err)
	assert.True(t, delivered)

	msg := <-ch
	assert.Equal(t, "someone home", msg.PayloadText)
	n, err := st.CountStaging(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
