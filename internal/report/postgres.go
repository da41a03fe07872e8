package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskforge/orchestrator/internal/workflow"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS task_records (
	task_id       TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	kinds         JSONB NOT NULL DEFAULT '[]'::jsonb,
	payload       JSONB NOT NULL DEFAULT '{}'::jsonb,
	success       BOOLEAN NOT NULL DEFAULT FALSE,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	detail        JSONB NOT NULL DEFAULT '{}'::jsonb,
	resource_ids  JSONB NOT NULL DEFAULT '[]'::jsonb,
	attempt       INTEGER NOT NULL DEFAULT 0,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS task_records_created_at_idx ON task_records (created_at DESC);
`)
	if err != nil {
		return fmt.Errorf("init task_records schema: %w", err)
	}
	return nil
}

const recordColumns = `
task_id, state, kinds, payload, success, error_kind, error_message,
detail, resource_ids, attempt, duration_ms, created_at, started_at, completed_at`

func (s *PostgresStore) Create(ctx context.Context, record Record) (Record, error) {
	if strings.TrimSpace(record.TaskID) == "" {
		return Record{}, errors.New("task id is required")
	}
	if record.State == "" {
		record.State = workflow.StatePending
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	kindsJSON, err := json.Marshal(record.Kinds)
	if err != nil {
		return Record{}, fmt.Errorf("marshal kinds: %w", err)
	}
	payloadJSON, err := json.Marshal(orEmptyMap(record.Payload))
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
INSERT INTO task_records (
	task_id, state, kinds, payload, success, error_kind, error_message,
	detail, resource_ids, attempt, duration_ms, created_at
) VALUES (
	$1, $2, $3::jsonb, $4::jsonb, FALSE, '', '',
	'{}'::jsonb, '[]'::jsonb, 0, 0, $5
)
RETURNING `+recordColumns,
		record.TaskID, record.State, kindsJSON, payloadJSON, record.CreatedAt)

	return scanRecord(row)
}

func (s *PostgresStore) UpdateState(ctx context.Context, taskID string, state workflow.State) (Record, error) {
	startedAt := "started_at"
	if state == workflow.StateProvisioning {
		startedAt = "COALESCE(started_at, NOW())"
	}

	row := s.pool.QueryRow(ctx, `
UPDATE task_records
SET state = $2, started_at = `+startedAt+`
WHERE task_id = $1
  AND NOT (state IN ($3, $4) AND $2 NOT IN ($3, $4))
RETURNING `+recordColumns,
		taskID, state, workflow.StateCompleted, workflow.StateFailed)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either missing or terminal; return what exists.
		return s.Get(ctx, taskID)
	}
	return record, err
}

func (s *PostgresStore) Finish(ctx context.Context, taskID string, result workflow.Result, attempt int) (Record, error) {
	state := workflow.StateFailed
	if result.Success {
		state = workflow.StateCompleted
	}

	detailJSON, err := json.Marshal(orEmptyMap(result.Detail))
	if err != nil {
		return Record{}, fmt.Errorf("marshal detail: %w", err)
	}
	resourceIDsJSON, err := json.Marshal(orEmptySlice(result.ResourceIDs))
	if err != nil {
		return Record{}, fmt.Errorf("marshal resource ids: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
UPDATE task_records
SET
	state = $2,
	success = $3,
	error_kind = $4,
	error_message = $5,
	detail = $6::jsonb,
	resource_ids = $7::jsonb,
	attempt = $8,
	duration_ms = $9,
	started_at = $10,
	completed_at = $11
WHERE task_id = $1
RETURNING `+recordColumns,
		taskID, state, result.Success, string(result.ErrorKind), result.Error,
		detailJSON, resourceIDsJSON, attempt, result.Duration.Milliseconds(),
		nullableTime(result.StartedAt), nullableTime(result.CompletedAt))

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return record, err
}

func (s *PostgresStore) Get(ctx context.Context, taskID string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
SELECT `+recordColumns+`
FROM task_records
WHERE task_id = $1`, taskID)

	record, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return record, err
}

func (s *PostgresStore) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
SELECT `+recordColumns+`
FROM task_records
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		record          Record
		state           string
		errorKind       string
		kindsJSON       []byte
		payloadJSON     []byte
		detailJSON      []byte
		resourceIDsJSON []byte
		startedAt       *time.Time
		completedAt     *time.Time
	)

	err := row.Scan(
		&record.TaskID, &state, &kindsJSON, &payloadJSON, &record.Success,
		&errorKind, &record.Error, &detailJSON, &resourceIDsJSON,
		&record.Attempt, &record.DurationMS, &record.CreatedAt,
		&startedAt, &completedAt,
	)
	if err != nil {
		return Record{}, err
	}

	record.State = workflow.State(state)
	record.ErrorKind = workflow.ErrorKind(errorKind)
	if err := json.Unmarshal(kindsJSON, &record.Kinds); err != nil {
		return Record{}, fmt.Errorf("decode kinds: %w", err)
	}
	if err := json.Unmarshal(payloadJSON, &record.Payload); err != nil {
		return Record{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(detailJSON, &record.Detail); err != nil {
		return Record{}, fmt.Errorf("decode detail: %w", err)
	}
	if err := json.Unmarshal(resourceIDsJSON, &record.ResourceIDs); err != nil {
		return Record{}, fmt.Errorf("decode resource ids: %w", err)
	}
	if startedAt != nil {
		record.StartedAt = *startedAt
	}
	if completedAt != nil {
		record.CompletedAt = *completedAt
	}
	return record, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
