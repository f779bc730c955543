package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-sink/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

func TestPostgres_AppendRecord_EvictsBeyondRetention(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	ctx := context.Background()

	rec := testRecord("hello")
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO records`).
		WithArgs(rec.ID, rec.CreatedAt.UTC(), "manual_input", "text", []byte("hello"),
			5, nil, "raw", nil, nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM records WHERE seq NOT IN`).
		WithArgs(3).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	evicted, err := st.AppendRecord(ctx, rec, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, evicted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRecord(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	ctx := context.Background()

	created := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, created_at, source, kind, content, size, label, status, annotation, origin`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "created_at", "source", "kind", "content", "size", "label", "status", "annotation", "origin",
		}).AddRow("rec-1", created, "clipboard", "text", []byte("copied"), 6, "Pulse", "raw", nil, nil))

	got, err := st.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.SourceClipboard, got.Source)
	assert.Equal(t, "Pulse", got.Label)
	text, ok := got.Payload.Text()
	require.True(t, ok)
	assert.Equal(t, "copied", text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetRecord_Missing(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, created_at, source`).
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)

	got, err := st.GetRecord(context.Background(), "gone")
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetRecordStatus_InvalidTransition(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM records WHERE id = \$1 FOR UPDATE`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("analyzed"))
	mock.ExpectRollback()

	err := st.SetRecordStatus(context.Background(), "rec-1", model.StatusAnalyzing)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInvalidTransition))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetRecordStatus_MissingIsNoop(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM records WHERE id = \$1 FOR UPDATE`).
		WithArgs("gone").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	require.NoError(t, st.SetRecordStatus(context.Background(), "gone", model.StatusAnalyzing))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_SetRecordAnnotation(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT status FROM records WHERE id = \$1 FOR UPDATE`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("analyzing"))
	mock.ExpectExec(`UPDATE records SET status = \$1, annotation = \$2 WHERE id = \$3`).
		WithArgs("analyzed", pgxmock.AnyArg(), "rec-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	ann := &model.Annotation{DataType: "Plain Text", Summary: "Short text snippet."}
	require.NoError(t, st.SetRecordAnnotation(context.Background(), "rec-1", model.StatusAnalyzed, ann))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Staging_EnqueueAndList(t *testing.T) {
	st, mock := newMockPostgresStore(t)
	ctx := context.Background()

	enqueued := time.Now().UTC()
	entry := &model.StagingEntry{
		ID:         "stage-1",
		Payload:    model.TextPayload("queued"),
		Source:     model.SourceStealthBeacon,
		EnqueuedAt: enqueued,
	}

	mock.ExpectExec(`INSERT INTO staging`).
		WithArgs("stage-1", "stealth_beacon", "text", []byte("queued"), nil, nil, enqueued).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT id, source, kind, content, label, origin, enqueued_at FROM staging`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "source", "kind", "content", "label", "origin", "enqueued_at"}).
			AddRow("stage-1", "stealth_beacon", "text", []byte("queued"), nil, nil, enqueued))

	require.NoError(t, st.EnqueueStaging(ctx, entry))

	entries, err := st.ListStaging(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "stage-1", entries[0].ID)
	assert.Equal(t, model.SourceStealthBeacon, entries[0].Source)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendLog_TrimsBeyondCap(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	entry := model.LogEntry{
		ID:        "log-1",
		Timestamp: time.Now().UTC(),
		Level:     model.LogTraffic,
		Message:   "intercepted request",
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO activity_log`).
		WithArgs("log-1", entry.Timestamp, "traffic", "intercepted request", nil).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM activity_log WHERE seq NOT IN`).
		WithArgs(500).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()

	require.NoError(t, st.AppendLog(context.Background(), entry, 500))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Settings_Upsert(t *testing.T) {
	st, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO settings \(key, value\) VALUES \('ingest', \$1\)`).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, st.SetSettings(context.Background(), model.DefaultSettings()))
	require.NoError(t, mock.ExpectationsWereMet())
}
