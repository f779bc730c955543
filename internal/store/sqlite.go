package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-sink/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	created_at DATETIME NOT NULL,
	source     TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT 'text',
	content    BLOB NOT NULL,
	size       INTEGER NOT NULL,
	label      TEXT,
	status     TEXT NOT NULL DEFAULT 'raw',
	annotation TEXT,
	origin     TEXT
);

CREATE TABLE IF NOT EXISTS staging (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'text',
	content     BLOB NOT NULL,
	label       TEXT,
	origin      TEXT,
	enqueued_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS activity_log (
	id        TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	detail    TEXT
);

CREATE TABLE IF NOT EXISTS clipboard_history (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	timestamp DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_created_at ON records(created_at);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_staging_enqueued_at ON staging(enqueued_at);
CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendRecord(ctx context.Context, rec *model.Record, retention int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin append record")
	}
	defer tx.Rollback() //nolint:errcheck

	annJSON, originJSON, err := encodeRecordBlobs(rec)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO records (id, created_at, source, kind, content, size, label, status, annotation, origin)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CreatedAt.UTC(), string(rec.Source), string(rec.Payload.Kind()), rec.Payload.Bytes(),
		rec.Size, rec.Label, string(rec.Status), annJSON, originJSON,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert record")
	}

	// FIFO eviction beyond the retention cap; retention <= 0 means unlimited.
	evicted := 0
	if retention > 0 {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM records WHERE id NOT IN (
				SELECT id FROM records ORDER BY created_at DESC, rowid DESC LIMIT ?
			)`, retention,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: evict records")
		}
		if n, err := res.RowsAffected(); err == nil {
			evicted = int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit append record")
	}
	return evicted, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, source, kind, content, size, label, status, annotation, origin
		 FROM records WHERE id = ?`, id,
	)
	rec, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, created_at, source, kind, content, size, label, status, annotation, origin
	          FROM records WHERE 1=1`
	var args []any

	if filter.Source != "" {
		query += ` AND source = ?`
		args = append(args, string(filter.Source))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Search != "" {
		query += ` AND (kind = 'text' AND instr(lower(cast(content AS TEXT)), lower(?)) > 0)`
		args = append(args, filter.Search)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`

	// 0 means the default page; negative disables the cap (SQLite treats a
	// negative LIMIT as unlimited).
	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM records`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

// DeleteRecord is idempotent; deleting a nonexistent id is a no-op.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete record %s", id)
}

func (s *SQLiteStore) DeleteAllRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records`)
	return eris.Wrap(err, "sqlite: delete all records")
}

// SetRecordStatus enforces the record lifecycle. Updating a deleted record
// is a no-op so late analysis results can be discarded safely.
func (s *SQLiteStore) SetRecordStatus(ctx context.Context, id string, status model.Status) error {
	return s.updateRecordStatus(ctx, id, status, nil)
}

// SetRecordAnnotation attaches the analysis result together with the final
// status. A missing record id is a no-op.
func (s *SQLiteStore) SetRecordAnnotation(ctx context.Context, id string, status model.Status, ann *model.Annotation) error {
	return s.updateRecordStatus(ctx, id, status, ann)
}

func (s *SQLiteStore) updateRecordStatus(ctx context.Context, id string, status model.Status, ann *model.Annotation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin status update")
	}
	defer tx.Rollback() //nolint:errcheck

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM records WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil // record deleted while analysis was in flight
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: read status %s", id)
	}
	if !model.Status(current).CanTransition(status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", current, status)
	}

	if ann != nil {
		annJSON, err := json.Marshal(ann)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal annotation")
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = ?, annotation = ? WHERE id = ?`,
			string(status), string(annJSON), id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update annotation %s", id)
		}
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET status = ? WHERE id = ?`, string(status), id,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: update status %s", id)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit status update")
}

func (s *SQLiteStore) EnqueueStaging(ctx context.Context, entry *model.StagingEntry) error {
	originJSON, err := encodeOrigin(entry.Origin)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO staging (id, source, kind, content, label, origin, enqueued_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Source), string(entry.Payload.Kind()), entry.Payload.Bytes(),
		entry.Label, originJSON, entry.EnqueuedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: enqueue staging")
}

func (s *SQLiteStore) ListStaging(ctx context.Context) ([]model.StagingEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source, kind, content, label, origin, enqueued_at FROM staging ORDER BY enqueued_at ASC, rowid ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list staging")
	}
	defer rows.Close()

	var entries []model.StagingEntry
	for rows.Next() {
		var (
			e       model.StagingEntry
			source  string
			kind    string
			content []byte
			label   sql.NullString
			origin  sql.NullString
		)
		if err := rows.Scan(&e.ID, &source, &kind, &content, &label, &origin, &e.EnqueuedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan staging entry")
		}
		e.Source = model.Source(source)
		e.Payload = decodePayload(model.PayloadKind(kind), content)
		e.Label = label.String
		if origin.Valid && origin.String != "" {
			var om model.OriginMeta
			if err := json.Unmarshal([]byte(origin.String), &om); err != nil {
				return nil, eris.Wrap(err, "decode origin")
			}
			e.Origin = &om
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list staging iterate")
}

// DeleteStaging is idempotent; deleting a nonexistent id is a no-op.
func (s *SQLiteStore) DeleteStaging(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM staging WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete staging %s", id)
}

func (s *SQLiteStore) CountStaging(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM staging`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count staging")
}

func (s *SQLiteStore) AppendLog(ctx context.Context, entry model.LogEntry, cap int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append log")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO activity_log (id, timestamp, level, message, detail) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.UTC(), string(entry.Level), entry.Message, entry.Detail,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert log entry")
	}

	if cap > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM activity_log WHERE id NOT IN (
				SELECT id FROM activity_log ORDER BY timestamp DESC, rowid DESC LIMIT ?
			)`, cap,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: trim log")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append log")
}

func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, level, message, detail FROM activity_log ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list logs")
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var (
			e      model.LogEntry
			level  string
			detail sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message, &detail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan log entry")
		}
		e.Level = model.LogLevel(level)
		e.Detail = detail.String
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list logs iterate")
}

func (s *SQLiteStore) AppendClipboard(ctx context.Context, entry model.ClipboardEntry, cap int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin append clipboard")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO clipboard_history (id, content, timestamp) VALUES (?, ?, ?)`,
		entry.ID, entry.Content, entry.Timestamp.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert clipboard entry")
	}

	if cap > 0 {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM clipboard_history WHERE id NOT IN (
				SELECT id FROM clipboard_history ORDER BY timestamp DESC, rowid DESC LIMIT ?
			)`, cap,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: trim clipboard history")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit append clipboard")
}

func (s *SQLiteStore) ListClipboard(ctx context.Context, limit int) ([]model.ClipboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, timestamp FROM clipboard_history ORDER BY timestamp DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list clipboard history")
	}
	defer rows.Close()

	var entries []model.ClipboardEntry
	for rows.Next() {
		var e model.ClipboardEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan clipboard entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list clipboard iterate")
}

func (s *SQLiteStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = 'ingest'`).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get settings")
	}
	var settings model.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode settings")
	}
	return &settings, nil
}

func (s *SQLiteStore) SetSettings(ctx context.Context, settings *model.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal settings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ('ingest', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		string(raw),
	)
	return eris.Wrap(err, "sqlite: set settings")
}

// scanRecord reconstructs a record from a row scan function shared by
// QueryRow and Rows paths.
func scanRecord(scan func(dest ...any) error) (*model.Record, error) {
	var (
		rec        model.Record
		source     string
		kind       string
		content    []byte
		label      sql.NullString
		status     string
		annotation sql.NullString
		origin     sql.NullString
	)
	err := scan(&rec.ID, &rec.CreatedAt, &source, &kind, &content, &rec.Size, &label, &status, &annotation, &origin)
	if err != nil {
		return nil, err
	}
	rec.Source = model.Source(source)
	rec.Payload = decodePayload(model.PayloadKind(kind), content)
	rec.Label = label.String
	rec.Status = model.Status(status)
	if annotation.Valid && annotation.String != "" {
		var ann model.Annotation
		if err := json.Unmarshal([]byte(annotation.String), &ann); err != nil {
			return nil, eris.Wrap(err, "decode annotation")
		}
		rec.Annotation = &ann
	}
	if origin.Valid && origin.String != "" {
		var om model.OriginMeta
		if err := json.Unmarshal([]byte(origin.String), &om); err != nil {
			return nil, eris.Wrap(err, "decode origin")
		}
		rec.Origin = &om
	}
	return &rec, nil
}

func decodePayload(kind model.PayloadKind, content []byte) model.Payload {
	if kind == model.PayloadBinary {
		return model.BinaryPayload(content)
	}
	return model.TextPayload(string(content))
}

func encodeRecordBlobs(rec *model.Record) (annotation, origin sql.NullString, err error) {
	if rec.Annotation != nil {
		b, err := json.Marshal(rec.Annotation)
		if err != nil {
			return annotation, origin, eris.Wrap(err, "marshal annotation")
		}
		annotation = sql.NullString{String: string(b), Valid: true}
	}
	origin, err = encodeOrigin(rec.Origin)
	return annotation, origin, err
}

func encodeOrigin(o *model.OriginMeta) (sql.NullString, error) {
	if o == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(o)
	if err != nil {
		return sql.NullString{}, eris.Wrap(err, "marshal origin")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
