// Package db is the hand-written query layer standing in for the
// sqlc-generated package the teacher's Store wraps. The generated
// package itself was not present in the retrieved sources, only the
// hand-written Store that called it; this package reproduces its
// Queries-over-*sql.DB shape directly against database/sql and pgx.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// Queries executes the hand-written SQL statements against a shared
// *sql.DB (or an in-flight *sql.Tx via WithTx).
type Queries struct {
	db DBTX
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New constructs a Queries over the given executor.
func New(d DBTX) *Queries {
	return &Queries{db: d}
}

// ApiKey mirrors the api_keys table.
type ApiKey struct {
	ID         uuid.UUID
	KeyHash    string
	Name       string
	Scopes     []string
	RateLimit  int32
	IsActive   bool
	CreatedAt  time.Time
	LastUsedAt sql.NullTime
}

// Page mirrors the pages table.
type Page struct {
	ID              uuid.UUID
	URL             string
	CanonicalURL    string
	URLHash         string
	ContentHash     sql.NullString
	StatusCode      int32
	Title           sql.NullString
	Description     sql.NullString
	Markdown        sql.NullString
	RawHTML         sql.NullString
	Renderer        string
	LinksInternal   []string
	LinksExternal   []string
	Metadata        pqtype.NullRawMessage
	WordCount       int32
	ReadTimeMinutes int32
	FetchDurationMs int64
	FetchedAt       time.Time
	ErrorCode       sql.NullString
	ErrorMessage    sql.NullString
}

// Job mirrors the jobs table.
type Job struct {
	ID              uuid.UUID
	APIKeyID        uuid.UUID
	Type            string
	Status          string
	InputParams     json.RawMessage
	IdempotencyKey  sql.NullString
	ErrorCode       sql.NullString
	ErrorMessage    sql.NullString
	PagesDiscovered int32
	PagesTotal      int32
	Result          pqtype.NullRawMessage
	CreatedAt       time.Time
	StartedAt       sql.NullTime
	CompletedAt     sql.NullTime
	CancelRequested bool
}

// JobPage mirrors the job_pages table.
type JobPage struct {
	JobID  uuid.UUID
	PageID uuid.UUID
	Depth  int32
}

// Event mirrors the events table.
type Event struct {
	ID        uuid.UUID
	APIKeyID  uuid.NullUUID
	JobID     uuid.NullUUID
	EventType string
	Level     string
	Message   string
	Metadata  pqtype.NullRawMessage
	CreatedAt time.Time
}

// --- API keys ---

type InsertAPIKeyParams struct {
	ID        uuid.UUID
	KeyHash   string
	Name      string
	Scopes    []string
	RateLimit int32
}

func (q *Queries) InsertAPIKey(ctx context.Context, p InsertAPIKeyParams) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, key_hash, name, scopes, rate_limit, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, true, now())
		RETURNING id, key_hash, name, scopes, rate_limit, is_active, created_at, last_used_at`,
		p.ID, p.KeyHash, p.Name, pqStringArray(p.Scopes), p.RateLimit)
	return scanAPIKey(row)
}

func (q *Queries) GetAPIKeyByHash(ctx context.Context, hash string) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, key_hash, name, scopes, rate_limit, is_active, created_at, last_used_at
		FROM api_keys WHERE key_hash = $1`, hash)
	return scanAPIKey(row)
}

func (q *Queries) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (ApiKey, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, key_hash, name, scopes, rate_limit, is_active, created_at, last_used_at
		FROM api_keys WHERE id = $1`, id)
	return scanAPIKey(row)
}

func (q *Queries) ListAPIKeys(ctx context.Context) ([]ApiKey, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, key_hash, name, scopes, rate_limit, is_active, created_at, last_used_at
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		k, err := scanAPIKeyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SetAPIKeyActive flips an API key's active flag, returning sql.ErrNoRows
// if id matches no row.
func (q *Queries) SetAPIKeyActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := q.db.ExecContext(ctx, `UPDATE api_keys SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (q *Queries) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	return err
}

func scanAPIKey(row *sql.Row) (ApiKey, error) {
	var k ApiKey
	var scopes []byte
	err := row.Scan(&k.ID, &k.KeyHash, &k.Name, &scopes, &k.RateLimit, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return ApiKey{}, err
	}
	k.Scopes = parsePQStringArray(scopes)
	return k, nil
}

func scanAPIKeyRows(rows *sql.Rows) (ApiKey, error) {
	var k ApiKey
	var scopes []byte
	err := rows.Scan(&k.ID, &k.KeyHash, &k.Name, &scopes, &k.RateLimit, &k.IsActive, &k.CreatedAt, &k.LastUsedAt)
	if err != nil {
		return ApiKey{}, err
	}
	k.Scopes = parsePQStringArray(scopes)
	return k, nil
}

// --- Pages ---

type UpsertPageParams struct {
	ID              uuid.UUID
	URL             string
	CanonicalURL    string
	URLHash         string
	ContentHash     sql.NullString
	StatusCode      int32
	Title           sql.NullString
	Description     sql.NullString
	Markdown        sql.NullString
	RawHTML         sql.NullString
	Renderer        string
	LinksInternal   []string
	LinksExternal   []string
	Metadata        pqtype.NullRawMessage
	WordCount       int32
	ReadTimeMinutes int32
	FetchDurationMs int64
	ErrorCode       sql.NullString
	ErrorMessage    sql.NullString
}

func (q *Queries) UpsertPage(ctx context.Context, p UpsertPageParams) (Page, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO pages (
			id, url, canonical_url, url_hash, content_hash, status_code, title, description,
			markdown, raw_html, renderer, links_internal, links_external, metadata,
			word_count, read_time_minutes, fetch_duration_ms, fetched_at, error_code, error_message
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17, now(),$18,$19)
		ON CONFLICT (url_hash) DO UPDATE SET
			url = EXCLUDED.url,
			canonical_url = EXCLUDED.canonical_url,
			content_hash = EXCLUDED.content_hash,
			status_code = EXCLUDED.status_code,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			markdown = EXCLUDED.markdown,
			raw_html = EXCLUDED.raw_html,
			renderer = EXCLUDED.renderer,
			links_internal = EXCLUDED.links_internal,
			links_external = EXCLUDED.links_external,
			metadata = EXCLUDED.metadata,
			word_count = EXCLUDED.word_count,
			read_time_minutes = EXCLUDED.read_time_minutes,
			fetch_duration_ms = EXCLUDED.fetch_duration_ms,
			fetched_at = now(),
			error_code = EXCLUDED.error_code,
			error_message = EXCLUDED.error_message
		RETURNING id, url, canonical_url, url_hash, content_hash, status_code, title, description,
			markdown, raw_html, renderer, links_internal, links_external, metadata,
			word_count, read_time_minutes, fetch_duration_ms, fetched_at, error_code, error_message`,
		p.ID, p.URL, p.CanonicalURL, p.URLHash, p.ContentHash, p.StatusCode, p.Title, p.Description,
		p.Markdown, p.RawHTML, p.Renderer, pqStringArray(p.LinksInternal), pqStringArray(p.LinksExternal),
		p.Metadata, p.WordCount, p.ReadTimeMinutes, p.FetchDurationMs, p.ErrorCode, p.ErrorMessage)
	return scanPage(row)
}

func (q *Queries) GetPageByURLHash(ctx context.Context, urlHash string) (Page, error) {
	row := q.db.QueryRowContext(ctx, pageSelectSQL+` WHERE url_hash = $1`, urlHash)
	return scanPage(row)
}

func (q *Queries) GetPageByContentHash(ctx context.Context, contentHash string) (Page, error) {
	row := q.db.QueryRowContext(ctx, pageSelectSQL+` WHERE content_hash = $1 LIMIT 1`, contentHash)
	return scanPage(row)
}

func (q *Queries) GetPageByID(ctx context.Context, id uuid.UUID) (Page, error) {
	row := q.db.QueryRowContext(ctx, pageSelectSQL+` WHERE id = $1`, id)
	return scanPage(row)
}

const pageSelectSQL = `
	SELECT id, url, canonical_url, url_hash, content_hash, status_code, title, description,
		markdown, raw_html, renderer, links_internal, links_external, metadata,
		word_count, read_time_minutes, fetch_duration_ms, fetched_at, error_code, error_message
	FROM pages`

func scanPage(row *sql.Row) (Page, error) {
	var p Page
	var li, le []byte
	err := row.Scan(&p.ID, &p.URL, &p.CanonicalURL, &p.URLHash, &p.ContentHash, &p.StatusCode,
		&p.Title, &p.Description, &p.Markdown, &p.RawHTML, &p.Renderer, &li, &le, &p.Metadata,
		&p.WordCount, &p.ReadTimeMinutes, &p.FetchDurationMs, &p.FetchedAt, &p.ErrorCode, &p.ErrorMessage)
	if err != nil {
		return Page{}, err
	}
	p.LinksInternal = parsePQStringArray(li)
	p.LinksExternal = parsePQStringArray(le)
	return p, nil
}

func (q *Queries) DeleteExpiredPages(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM pages WHERE fetched_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *Queries) DeleteExpiredEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Jobs ---

type InsertJobParams struct {
	ID             uuid.UUID
	APIKeyID       uuid.UUID
	Type           string
	InputParams    json.RawMessage
	IdempotencyKey sql.NullString
}

func (q *Queries) InsertJob(ctx context.Context, p InsertJobParams) (Job, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO jobs (id, api_key_id, type, status, input_params, idempotency_key, pages_discovered, pages_total, created_at, cancel_requested)
		VALUES ($1, $2, $3, 'queued', $4, $5, 0, 0, now(), false)
		RETURNING `+jobColumns,
		p.ID, p.APIKeyID, p.Type, p.InputParams, p.IdempotencyKey)
	return scanJob(row)
}

func (q *Queries) GetJobByIdempotencyKey(ctx context.Context, apiKeyID uuid.UUID, key string) (Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE api_key_id = $1 AND idempotency_key = $2`, apiKeyID, key)
	return scanJob(row)
}

func (q *Queries) GetJobByID(ctx context.Context, id uuid.UUID) (Job, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// ClaimQueuedJobs atomically transitions up to limit queued jobs to
// running, returning the claimed rows. The UPDATE...WHERE status='queued'
// guard ensures at most one worker (in this or any other process racing
// on the same row) claims a given job.
func (q *Queries) ClaimQueuedJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE jobs SET status = 'running', started_at = now()
		WHERE id IN (
			SELECT id FROM jobs WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJobRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ReapStalledJobs reclaims jobs stuck in running with a started_at older
// than cutoff back to queued, returning the reclaimed IDs. Callers track
// reclaim counts externally to enforce the max-one-reclaim rule.
func (q *Queries) ReapStalledJobs(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, `
		UPDATE jobs SET status = 'queued', started_at = NULL
		WHERE status = 'running' AND started_at < $1
		RETURNING id`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (q *Queries) UpdateJobProgress(ctx context.Context, id uuid.UUID, discovered, total int32) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET pages_discovered = $2, pages_total = $3 WHERE id = $1`, id, discovered, total)
	return err
}

func (q *Queries) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', completed_at = now(), result = $2 WHERE id = $1`,
		id, pqtype.NullRawMessage{RawMessage: result, Valid: len(result) > 0})
	return err
}

func (q *Queries) FailJob(ctx context.Context, id uuid.UUID, code, message string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', completed_at = now(), error_code = $2, error_message = $3 WHERE id = $1`,
		id, code, message)
	return err
}

func (q *Queries) CancelJob(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', completed_at = now() WHERE id = $1 AND status NOT IN ('completed','failed','cancelled')`, id)
	return err
}

func (q *Queries) RequestJobCancel(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `UPDATE jobs SET cancel_requested = true WHERE id = $1`, id)
	return err
}

func (q *Queries) CountQueuedJobs(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM jobs WHERE status = 'queued'`).Scan(&n)
	return n, err
}

func (q *Queries) DeleteJobsOlderThan(ctx context.Context, jobType string, cutoff time.Time) (int64, error) {
	res, err := q.db.ExecContext(ctx, `DELETE FROM jobs WHERE type = $1 AND created_at < $2 AND status IN ('completed','failed','cancelled')`, jobType, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const jobColumns = `id, api_key_id, type, status, input_params, idempotency_key, error_code, error_message,
	pages_discovered, pages_total, result, created_at, started_at, completed_at, cancel_requested`

func scanJob(row *sql.Row) (Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.APIKeyID, &j.Type, &j.Status, &j.InputParams, &j.IdempotencyKey,
		&j.ErrorCode, &j.ErrorMessage, &j.PagesDiscovered, &j.PagesTotal, &j.Result,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.CancelRequested)
	return j, err
}

func scanJobRows(rows *sql.Rows) (Job, error) {
	var j Job
	err := rows.Scan(&j.ID, &j.APIKeyID, &j.Type, &j.Status, &j.InputParams, &j.IdempotencyKey,
		&j.ErrorCode, &j.ErrorMessage, &j.PagesDiscovered, &j.PagesTotal, &j.Result,
		&j.CreatedAt, &j.StartedAt, &j.CompletedAt, &j.CancelRequested)
	return j, err
}

// --- Job pages ---

func (q *Queries) InsertJobPage(ctx context.Context, jobID, pageID uuid.UUID, depth int32) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO job_pages (job_id, page_id, depth) VALUES ($1, $2, $3)
		ON CONFLICT (job_id, page_id) DO NOTHING`, jobID, pageID, depth)
	return err
}

func (q *Queries) ListJobPageURLs(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT p.canonical_url
		FROM job_pages jp
		JOIN pages p ON p.id = jp.page_id
		WHERE jp.job_id = $1
		ORDER BY jp.depth ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (q *Queries) CountJobPages(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM job_pages WHERE job_id = $1`, jobID).Scan(&n)
	return n, err
}

// --- Events ---

type InsertEventParams struct {
	ID        uuid.UUID
	APIKeyID  uuid.NullUUID
	JobID     uuid.NullUUID
	EventType string
	Level     string
	Message   string
	Metadata  pqtype.NullRawMessage
}

func (q *Queries) InsertEvent(ctx context.Context, p InsertEventParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO events (id, api_key_id, job_id, event_type, level, message, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())`,
		p.ID, p.APIKeyID, p.JobID, p.EventType, p.Level, p.Message, p.Metadata)
	return err
}

func (q *Queries) ListEventsByJob(ctx context.Context, jobID uuid.UUID) ([]Event, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, api_key_id, job_id, event_type, level, message, metadata, created_at
		FROM events WHERE job_id = $1 ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.APIKeyID, &e.JobID, &e.EventType, &e.Level, &e.Message, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
