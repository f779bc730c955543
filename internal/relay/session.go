package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-sink/internal/bus"
	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/store"
)

// AnalysisScheduler receives freshly captured records for background
// analysis. Implementations must not block.
type AnalysisScheduler interface {
	Schedule(rec *model.Record)
}

// Config tunes a Session.
type Config struct {
	DedupCacheSize int
	LogCap         int
	ClipboardCap   int
	DrainInterval  time.Duration
}

// Session is the ingestion hub: every capture channel funnels into Accept,
// which dedups, persists with retention, records activity and hands the
// record to the analysis scheduler. One Session runs per collector process.
type Session struct {
	store     store.Store
	bus       *bus.Bus
	dedup     *Deduper
	scheduler AnalysisScheduler
	logCap    int
	clipCap   int
	drainGap  time.Duration

	mu       sync.RWMutex
	settings *model.Settings

	ingested   atomic.Int64
	duplicates atomic.Int64
	evicted    atomic.Int64
}

// NewSession creates a Session with the given persisted settings.
func NewSession(st store.Store, b *bus.Bus, settings *model.Settings, cfg Config) (*Session, error) {
	if settings == nil {
		settings = model.DefaultSettings()
	}
	dedup, err := NewDeduper(cfg.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = 500
	}
	if cfg.ClipboardCap <= 0 {
		cfg.ClipboardCap = 100
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = 5 * time.Second
	}
	return &Session{
		store:    st,
		bus:      b,
		dedup:    dedup,
		logCap:   cfg.LogCap,
		clipCap:  cfg.ClipboardCap,
		drainGap: cfg.DrainInterval,
		settings: settings,
	}, nil
}

// SetScheduler attaches the analysis hand-off. Call before Run.
func (s *Session) SetScheduler(sched AnalysisScheduler) {
	s.scheduler = sched
}

// Settings returns a copy of the active settings.
func (s *Session) Settings() model.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.settings
}

// UpdateSettings swaps the active settings and persists them.
func (s *Session) UpdateSettings(ctx context.Context, settings *model.Settings) error {
	if err := s.store.SetSettings(ctx, settings); err != nil {
		return err
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
	return nil
}

// Prime seeds the seen set from records already persisted, so identical
// payloads are rejected as duplicates across restarts and separate command
// invocations. Only the newest records up to the cache capacity are loaded.
func (s *Session) Prime(ctx context.Context) error {
	records, err := s.store.ListRecords(ctx, store.RecordFilter{Limit: s.dedup.Cap()})
	if err != nil {
		return eris.Wrap(err, "relay: prime seen set")
	}
	// Oldest first, so the newest records end up most recent in the LRU.
	for i := len(records) - 1; i >= 0; i-- {
		s.dedup.Seen(Signature(records[i].Source, records[i].Payload))
	}
	return nil
}

// Accept runs one payload through the full ingestion path. It returns the
// stored record and true on capture, or nil and false when the payload was
// a duplicate. Duplicates are not an error.
func (s *Session) Accept(ctx context.Context, source model.Source, payload model.Payload, label string) (*model.Record, bool, error) {
	return s.accept(ctx, source, payload, label, nil)
}

func (s *Session) accept(ctx context.Context, source model.Source, payload model.Payload, label string, origin *model.OriginMeta) (*model.Record, bool, error) {
	sig := Signature(source, payload)
	if s.dedup.Seen(sig) {
		s.duplicates.Add(1)
		zap.L().Debug("duplicate payload ignored",
			zap.String("source", string(source)),
			zap.String("signature", sig[:12]),
		)
		return nil, false, nil
	}

	now := time.Now().UTC()
	rec := &model.Record{
		ID:        uuid.New().String(),
		CreatedAt: now,
		Source:    source,
		Payload:   payload,
		Size:      payload.Size(),
		Label:     label,
		Status:    model.StatusRaw,
		Origin:    origin,
	}

	settings := s.Settings()
	evicted, err := s.store.AppendRecord(ctx, rec, settings.MaxRetention)
	if err != nil {
		s.dedup.Forget(sig) // failed capture may be retried
		return nil, false, eris.Wrap(err, "relay: persist record")
	}
	s.ingested.Add(1)
	s.evicted.Add(int64(evicted))

	if source == model.SourceClipboard {
		if text, ok := payload.Text(); ok {
			s.appendClipboard(ctx, text, now)
		}
	}
	s.logActivity(ctx, model.LogSuccess, "payload captured: "+string(source), label)

	if settings.AutoAnalyze && s.scheduler != nil {
		s.scheduler.Schedule(rec)
	}

	zap.L().Info("record captured",
		zap.String("id", rec.ID),
		zap.String("source", string(source)),
		zap.Int("size", rec.Size),
		zap.Int("evicted", evicted),
	)
	return rec, true, nil
}

// Drain pulls every staged entry through Accept and removes it from the
// queue. Entries are removed after hand-off whether or not they turned out
// to be duplicates; only a persistence failure leaves an entry queued for
// the next pass.
func (s *Session) Drain(ctx context.Context) (int, error) {
	entries, err := s.store.ListStaging(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "relay: list staging")
	}

	accepted := 0
	for i := range entries {
		entry := &entries[i]
		_, captured, err := s.accept(ctx, entry.Source, entry.Payload, entry.Label, entry.Origin)
		if err != nil {
			zap.L().Warn("drain: capture failed, entry stays queued",
				zap.String("id", entry.ID), zap.Error(err))
			continue
		}
		if captured {
			accepted++
		}
		if err := s.store.DeleteStaging(ctx, entry.ID); err != nil {
			zap.L().Warn("drain: delete staged entry", zap.String("id", entry.ID), zap.Error(err))
		}
	}
	if len(entries) > 0 {
		zap.L().Info("staging drained",
			zap.Int("entries", len(entries)),
			zap.Int("accepted", accepted),
		)
	}
	return accepted, nil
}

// Run processes bus traffic and drains the staging queue periodically until
// ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ingestCh, cancelIngest := s.bus.Subscribe(bus.TopicIngest)
	defer cancelIngest()
	drainCh, cancelDrain := s.bus.Subscribe(bus.TopicDrainNow)
	defer cancelDrain()

	// Pick up anything staged while no session was running.
	if _, err := s.Drain(ctx); err != nil {
		zap.L().Warn("initial drain", zap.Error(err))
	}

	ticker := time.NewTicker(s.drainGap)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ingestCh:
			if !ok {
				return nil
			}
			if _, _, err := s.accept(ctx, model.Source(msg.Source), payloadFromMessage(msg), msg.Label, msg.Origin); err != nil {
				zap.L().Warn("bus capture failed", zap.Error(err))
			}
		case _, ok := <-drainCh:
			if !ok {
				return nil
			}
			if _, err := s.Drain(ctx); err != nil {
				zap.L().Warn("requested drain", zap.Error(err))
			}
		case <-ticker.C:
			if _, err := s.Drain(ctx); err != nil {
				zap.L().Warn("periodic drain", zap.Error(err))
			}
		}
	}
}

// Status summarizes the session and the store behind it.
type Status struct {
	Records    int   `json:"records"`
	Staged     int   `json:"staged"`
	Ingested   int64 `json:"ingested"`
	Duplicates int64 `json:"duplicates"`
	Evicted    int64 `json:"evicted"`
	SeenSet    int   `json:"seen_set"`
}

// Status reports current counters.
func (s *Session) Status(ctx context.Context) (Status, error) {
	records, err := s.store.CountRecords(ctx)
	if err != nil {
		return Status{}, eris.Wrap(err, "relay: count records")
	}
	staged, err := s.store.CountStaging(ctx)
	if err != nil {
		return Status{}, eris.Wrap(err, "relay: count staging")
	}
	return Status{
		Records:    records,
		Staged:     staged,
		Ingested:   s.ingested.Load(),
		Duplicates: s.duplicates.Load(),
		Evicted:    s.evicted.Load(),
		SeenSet:    s.dedup.Len(),
	}, nil
}

func (s *Session) appendClipboard(ctx context.Context, content string, at time.Time) {
	entry := model.ClipboardEntry{
		ID:        uuid.New().String(),
		Content:   content,
		Timestamp: at,
	}
	if err := s.store.AppendClipboard(ctx, entry, s.clipCap); err != nil {
		zap.L().Warn("append clipboard history", zap.Error(err))
	}
}

func (s *Session) logActivity(ctx context.Context, level model.LogLevel, message, detail string) {
	entry := model.LogEntry{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   message,
		Detail:    detail,
	}
	if err := s.store.AppendLog(ctx, entry, s.logCap); err != nil {
		zap.L().Warn("append activity log", zap.Error(err))
	}
}

func payloadFromMessage(msg bus.Message) model.Payload {
	if msg.Binary {
		return model.BinaryPayload(msg.Payload)
	}
	return model.TextPayload(msg.PayloadText)
}
