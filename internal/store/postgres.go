package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-sink/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// for unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations.
var preparedStatements = map[string]string{
	"insert_record":   `INSERT INTO records (id, created_at, source, kind, content, size, label, status, annotation, origin) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
	"insert_staging":  `INSERT INTO staging (id, source, kind, content, label, origin, enqueued_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"delete_staging":  `DELETE FROM staging WHERE id = $1`,
	"get_record":      `SELECT id, created_at, source, kind, content, size, label, status, annotation, origin FROM records WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL,
	source     TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT 'text',
	content    BYTEA NOT NULL,
	size       INTEGER NOT NULL,
	label      TEXT,
	status     TEXT NOT NULL DEFAULT 'raw',
	annotation JSONB,
	origin     JSONB,
	seq        BIGINT GENERATED ALWAYS AS IDENTITY
);

CREATE TABLE IF NOT EXISTS staging (
	id          TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	kind        TEXT NOT NULL DEFAULT 'text',
	content     BYTEA NOT NULL,
	label       TEXT,
	origin      JSONB,
	enqueued_at TIMESTAMPTZ NOT NULL,
	seq         BIGINT GENERATED ALWAYS AS IDENTITY
);

CREATE TABLE IF NOT EXISTS activity_log (
	id        TEXT PRIMARY KEY,
	timestamp TIMESTAMPTZ NOT NULL,
	level     TEXT NOT NULL,
	message   TEXT NOT NULL,
	detail    TEXT,
	seq       BIGINT GENERATED ALWAYS AS IDENTITY
);

CREATE TABLE IF NOT EXISTS clipboard_history (
	id        TEXT PRIMARY KEY,
	content   TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	seq       BIGINT GENERATED ALWAYS AS IDENTITY
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_seq ON records(seq);
CREATE INDEX IF NOT EXISTS idx_records_source ON records(source);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_staging_seq ON staging(seq);
CREATE INDEX IF NOT EXISTS idx_activity_log_seq ON activity_log(seq);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) AppendRecord(ctx context.Context, rec *model.Record, retention int) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin append record")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	annJSON, originJSON, err := encodeRecordBlobs(rec)
	if err != nil {
		return 0, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO records (id, created_at, source, kind, content, size, label, status, annotation, origin)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.CreatedAt.UTC(), string(rec.Source), string(rec.Payload.Kind()), rec.Payload.Bytes(),
		rec.Size, nullable(rec.Label), string(rec.Status), nullable(annJSON.String), nullable(originJSON.String),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert record")
	}

	evicted := 0
	if retention > 0 {
		tag, err := tx.Exec(ctx,
			`DELETE FROM records WHERE seq NOT IN (
				SELECT seq FROM records ORDER BY seq DESC LIMIT $1
			)`, retention,
		)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: evict records")
		}
		evicted = int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit append record")
	}
	return evicted, nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, created_at, source, kind, content, size, label, status, annotation, origin
		 FROM records WHERE id = $1`, id,
	)
	rec, err := scanRecord(row.Scan)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.Record, error) {
	query := `SELECT id, created_at, source, kind, content, size, label, status, annotation, origin
	          FROM records WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.Source != "" {
		query += ` AND source = ` + arg(string(filter.Source))
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.Search != "" {
		query += ` AND kind = 'text' AND position(lower(` + arg(filter.Search) + `) IN lower(convert_from(content, 'UTF8'))) > 0`
	}
	query += ` ORDER BY seq DESC`

	// 0 means the default page; negative disables the cap.
	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	if limit > 0 {
		query += ` LIMIT ` + arg(limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) CountRecords(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM records`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count records")
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM records WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete record %s", id)
}

func (s *PostgresStore) DeleteAllRecords(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM records`)
	return eris.Wrap(err, "postgres: delete all records")
}

func (s *PostgresStore) SetRecordStatus(ctx context.Context, id string, status model.Status) error {
	return s.updateRecordStatus(ctx, id, status, nil)
}

func (s *PostgresStore) SetRecordAnnotation(ctx context.Context, id string, status model.Status, ann *model.Annotation) error {
	return s.updateRecordStatus(ctx, id, status, ann)
}

func (s *PostgresStore) updateRecordStatus(ctx context.Context, id string, status model.Status, ann *model.Annotation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin status update")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM records WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: read status %s", id)
	}
	if !model.Status(current).CanTransition(status) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", current, status)
	}

	if ann != nil {
		annJSON, err := json.Marshal(ann)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal annotation")
		}
		_, err = tx.Exec(ctx,
			`UPDATE records SET status = $1, annotation = $2 WHERE id = $3`,
			string(status), string(annJSON), id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update annotation %s", id)
		}
	} else {
		_, err = tx.Exec(ctx, `UPDATE records SET status = $1 WHERE id = $2`, string(status), id)
		if err != nil {
			return eris.Wrapf(err, "postgres: update status %s", id)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit status update")
}

func (s *PostgresStore) EnqueueStaging(ctx context.Context, entry *model.StagingEntry) error {
	originJSON, err := encodeOrigin(entry.Origin)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO staging (id, source, kind, content, label, origin, enqueued_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, string(entry.Source), string(entry.Payload.Kind()), entry.Payload.Bytes(),
		nullable(entry.Label), nullable(originJSON.String), entry.EnqueuedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: enqueue staging")
}

func (s *PostgresStore) ListStaging(ctx context.Context) ([]model.StagingEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source, kind, content, label, origin, enqueued_at FROM staging ORDER BY seq ASC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list staging")
	}
	defer rows.Close()

	var entries []model.StagingEntry
	for rows.Next() {
		var (
			e       model.StagingEntry
			source  string
			kind    string
			content []byte
			label   *string
			origin  []byte
		)
		if err := rows.Scan(&e.ID, &source, &kind, &content, &label, &origin, &e.EnqueuedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan staging entry")
		}
		e.Source = model.Source(source)
		e.Payload = decodePayload(model.PayloadKind(kind), content)
		if label != nil {
			e.Label = *label
		}
		if len(origin) > 0 {
			var om model.OriginMeta
			if err := json.Unmarshal(origin, &om); err != nil {
				return nil, eris.Wrap(err, "decode origin")
			}
			e.Origin = &om
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list staging iterate")
}

func (s *PostgresStore) DeleteStaging(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM staging WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete staging %s", id)
}

func (s *PostgresStore) CountStaging(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM staging`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count staging")
}

func (s *PostgresStore) AppendLog(ctx context.Context, entry model.LogEntry, cap int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append log")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO activity_log (id, timestamp, level, message, detail) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, entry.Timestamp.UTC(), string(entry.Level), entry.Message, nullable(entry.Detail),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert log entry")
	}

	if cap > 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM activity_log WHERE seq NOT IN (
				SELECT seq FROM activity_log ORDER BY seq DESC LIMIT $1
			)`, cap,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: trim log")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append log")
}

func (s *PostgresStore) ListLogs(ctx context.Context, limit int) ([]model.LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, timestamp, level, message, detail FROM activity_log ORDER BY seq DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list logs")
	}
	defer rows.Close()

	var entries []model.LogEntry
	for rows.Next() {
		var (
			e      model.LogEntry
			level  string
			detail *string
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &level, &e.Message, &detail); err != nil {
			return nil, eris.Wrap(err, "postgres: scan log entry")
		}
		e.Level = model.LogLevel(level)
		if detail != nil {
			e.Detail = *detail
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list logs iterate")
}

func (s *PostgresStore) AppendClipboard(ctx context.Context, entry model.ClipboardEntry, cap int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin append clipboard")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO clipboard_history (id, content, timestamp) VALUES ($1, $2, $3)`,
		entry.ID, entry.Content, entry.Timestamp.UTC(),
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert clipboard entry")
	}

	if cap > 0 {
		_, err = tx.Exec(ctx,
			`DELETE FROM clipboard_history WHERE seq NOT IN (
				SELECT seq FROM clipboard_history ORDER BY seq DESC LIMIT $1
			)`, cap,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: trim clipboard history")
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit append clipboard")
}

func (s *PostgresStore) ListClipboard(ctx context.Context, limit int) ([]model.ClipboardEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, timestamp FROM clipboard_history ORDER BY seq DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list clipboard history")
	}
	defer rows.Close()

	var entries []model.ClipboardEntry
	for rows.Next() {
		var e model.ClipboardEntry
		if err := rows.Scan(&e.ID, &e.Content, &e.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan clipboard entry")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list clipboard iterate")
}

func (s *PostgresStore) GetSettings(ctx context.Context) (*model.Settings, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'ingest'`).Scan(&raw)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get settings")
	}
	var settings model.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, eris.Wrap(err, "postgres: decode settings")
	}
	return &settings, nil
}

func (s *PostgresStore) SetSettings(ctx context.Context, settings *model.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal settings")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO settings (key, value) VALUES ('ingest', $1)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		raw,
	)
	return eris.Wrap(err, "postgres: set settings")
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

