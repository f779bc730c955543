package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-sink/internal/model"
)

// ErrInvalidTransition is returned when a status update would violate the
// record lifecycle (raw → analyzing → analyzed|error).
var ErrInvalidTransition = eris.New("store: invalid status transition")

// RecordFilter specifies criteria for listing records.
type RecordFilter struct {
	Source model.Source `json:"source,omitempty"`
	Status model.Status `json:"status,omitempty"`
	Search string       `json:"search,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion pipeline.
// Records, staging entries, the activity log, clipboard history and the
// user-editable settings each live under their own tables; the record
// store exclusively owns records and the staging queue exclusively owns
// staging entries until hand-off.
type Store interface {
	// Records
	AppendRecord(ctx context.Context, rec *model.Record, retention int) (evicted int, err error)
	GetRecord(ctx context.Context, id string) (*model.Record, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error)
	CountRecords(ctx context.Context) (int, error)
	DeleteRecord(ctx context.Context, id string) error
	DeleteAllRecords(ctx context.Context) error
	SetRecordStatus(ctx context.Context, id string, status model.Status) error
	SetRecordAnnotation(ctx context.Context, id string, status model.Status, ann *model.Annotation) error

	// Staging queue
	EnqueueStaging(ctx context.Context, entry *model.StagingEntry) error
	ListStaging(ctx context.Context) ([]model.StagingEntry, error)
	DeleteStaging(ctx context.Context, id string) error
	CountStaging(ctx context.Context) (int, error)

	// Activity log (capped)
	AppendLog(ctx context.Context, entry model.LogEntry, cap int) error
	ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error)

	// Clipboard history (capped)
	AppendClipboard(ctx context.Context, entry model.ClipboardEntry, cap int) error
	ListClipboard(ctx context.Context, limit int) ([]model.ClipboardEntry, error)

	// Settings
	GetSettings(ctx context.Context) (*model.Settings, error)
	SetSettings(ctx context.Context, s *model.Settings) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
