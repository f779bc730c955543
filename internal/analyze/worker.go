package analyze

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/signal-sink/internal/model"
	"github.com/sells-group/signal-sink/internal/resilience"
	"github.com/sells-group/signal-sink/internal/store"
)

// WorkerConfig tunes the background analysis loop.
type WorkerConfig struct {
	QueueDepth    int
	RatePerMinute int
	MaxAttempts   int
}

// Worker runs analysis off the ingestion path. Schedule never blocks; a
// full queue drops the job and the record simply stays raw.
type Worker struct {
	store    store.Store
	analyzer Analyzer
	jobs     chan *model.Record
	limiter  *rate.Limiter
	retry    resilience.RetryConfig
}

// NewWorker creates a Worker.
func NewWorker(st store.Store, analyzer Analyzer, cfg WorkerConfig) *Worker {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 256
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 30
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	retry.OnRetry = resilience.RetryLogger("analyze", "classify")

	return &Worker{
		store:    st,
		analyzer: analyzer,
		jobs:     make(chan *model.Record, cfg.QueueDepth),
		limiter:  rate.NewLimiter(rate.Limit(float64(cfg.RatePerMinute)/60.0), 1),
		retry:    retry,
	}
}

// Schedule queues rec for analysis.
func (w *Worker) Schedule(rec *model.Record) {
	select {
	case w.jobs <- rec:
	default:
		zap.L().Warn("analysis queue full, record stays raw", zap.String("id", rec.ID))
	}
}

// Recover re-queues records a previous run left in analyzing, so an
// interrupted analysis is retried instead of stranding the record. Call it
// once at startup, after the queue consumer is about to run.
func (w *Worker) Recover(ctx context.Context) (int, error) {
	records, err := w.store.ListRecords(ctx, store.RecordFilter{Status: model.StatusAnalyzing, Limit: -1})
	if err != nil {
		return 0, eris.Wrap(err, "analyze: list in-flight records")
	}
	for i := range records {
		w.Schedule(&records[i])
	}
	return len(records), nil
}

// Run consumes the queue until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-w.jobs:
			w.process(ctx, rec)
		}
	}
}

// process walks one record through the status machine. The record may have
// been deleted while queued; the store treats that as a no-op and the
// result is discarded.
func (w *Worker) process(ctx context.Context, rec *model.Record) {
	// Recovered records are already marked; re-marking would be rejected.
	if rec.Status != model.StatusAnalyzing {
		if err := w.store.SetRecordStatus(ctx, rec.ID, model.StatusAnalyzing); err != nil {
			if eris.Is(err, store.ErrInvalidTransition) {
				zap.L().Debug("record not analyzable", zap.String("id", rec.ID))
				return
			}
			zap.L().Warn("mark analyzing", zap.String("id", rec.ID), zap.Error(err))
			return
		}
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	ann, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (*model.Annotation, error) {
		return w.analyzer.Analyze(ctx, rec)
	})
	if err != nil {
		zap.L().Warn("analysis failed", zap.String("id", rec.ID), zap.Error(err))
		if serr := w.store.SetRecordStatus(ctx, rec.ID, model.StatusError); serr != nil {
			zap.L().Warn("mark error", zap.String("id", rec.ID), zap.Error(serr))
		}
		return
	}

	if err := w.store.SetRecordAnnotation(ctx, rec.ID, model.StatusAnalyzed, ann); err != nil {
		zap.L().Warn("store annotation", zap.String("id", rec.ID), zap.Error(err))
		return
	}
	zap.L().Info("record analyzed",
		zap.String("id", rec.ID),
		zap.String("data_type", ann.DataType),
		zap.String("risk", ann.SecurityRisk),
	)
}
