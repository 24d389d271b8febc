// Package store wraps access to the database via the hand-written
// internal/db query layer, converting between its row types and
// internal/model's domain types.
package store

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"context"

	"harvestd/internal/db"
	"harvestd/internal/model"
)

// ErrNotFound is returned when a lookup by id/hash/key finds no row.
var ErrNotFound = sql.ErrNoRows

// Store wraps access to the database via the hand-written db.Queries.
type Store struct {
	DB *sql.DB
	q  *db.Queries
}

// New creates a new Store over a shared, pooled *sql.DB.
func New(database *sql.DB) *Store {
	return &Store{DB: database, q: db.New(database)}
}

// hashAPIKey hashes a raw API key string using SHA-256, hex-encoded.
func hashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// --- API keys ---

// CreateAPIKey generates a new random raw key, stores its hash, and
// returns the raw secret (shown to the caller exactly once) plus the
// stored record.
func (s *Store) CreateAPIKey(ctx context.Context, name string, scopes []model.Scope, rateLimit int) (string, model.ApiKey, error) {
	raw, err := newRawKey()
	if err != nil {
		return "", model.ApiKey{}, err
	}
	hash := hashAPIKey(raw)

	scopeStrs := make([]string, len(scopes))
	for i, sc := range scopes {
		scopeStrs[i] = string(sc)
	}

	row, err := s.q.InsertAPIKey(ctx, db.InsertAPIKeyParams{
		ID:        uuid.New(),
		KeyHash:   hash,
		Name:      name,
		Scopes:    scopeStrs,
		RateLimit: int32(rateLimit),
	})
	if err != nil {
		return "", model.ApiKey{}, err
	}
	return raw, apiKeyFromRow(row), nil
}

func newRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "hrv_" + hex.EncodeToString(buf), nil
}

// GetAPIKeyByRawKey looks up an API key by its raw presented value.
func (s *Store) GetAPIKeyByRawKey(ctx context.Context, rawKey string) (model.ApiKey, error) {
	row, err := s.q.GetAPIKeyByHash(ctx, hashAPIKey(rawKey))
	if err != nil {
		return model.ApiKey{}, err
	}
	return apiKeyFromRow(row), nil
}

func (s *Store) GetAPIKeyByID(ctx context.Context, id uuid.UUID) (model.ApiKey, error) {
	row, err := s.q.GetAPIKeyByID(ctx, id)
	if err != nil {
		return model.ApiKey{}, err
	}
	return apiKeyFromRow(row), nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]model.ApiKey, error) {
	rows, err := s.q.ListAPIKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.ApiKey, len(rows))
	for i, r := range rows {
		out[i] = apiKeyFromRow(r)
	}
	return out, nil
}

func (s *Store) SetAPIKeyActive(ctx context.Context, id uuid.UUID, active bool) error {
	return s.q.SetAPIKeyActive(ctx, id, active)
}

func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	return s.q.TouchAPIKeyLastUsed(ctx, id)
}

// EnsureAdminAPIKey ensures an admin-scoped key exists for the given raw
// bootstrap secret, returning the existing or newly created record.
func (s *Store) EnsureAdminAPIKey(ctx context.Context, rawKey, name string) (model.ApiKey, error) {
	hash := hashAPIKey(rawKey)
	row, err := s.q.GetAPIKeyByHash(ctx, hash)
	if err == nil {
		return apiKeyFromRow(row), nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return model.ApiKey{}, err
	}
	row, err = s.q.InsertAPIKey(ctx, db.InsertAPIKeyParams{
		ID:        uuid.New(),
		KeyHash:   hash,
		Name:      name,
		Scopes:    []string{string(model.ScopeAdmin)},
		RateLimit: 600,
	})
	if err != nil {
		return model.ApiKey{}, err
	}
	return apiKeyFromRow(row), nil
}

func apiKeyFromRow(row db.ApiKey) model.ApiKey {
	scopes := make([]model.Scope, len(row.Scopes))
	for i, s := range row.Scopes {
		scopes[i] = model.Scope(s)
	}
	k := model.ApiKey{
		ID:        row.ID,
		KeyHash:   row.KeyHash,
		Name:      row.Name,
		Scopes:    scopes,
		RateLimit: int(row.RateLimit),
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
	}
	if row.LastUsedAt.Valid {
		k.LastUsedAt = &row.LastUsedAt.Time
	}
	return k
}

// --- Pages (C7 page cache storage) ---

// UpsertPage stores or replaces the cached extraction result for a URL,
// keyed by url_hash.
func (s *Store) UpsertPage(ctx context.Context, p model.Page) (model.Page, error) {
	metaJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return model.Page{}, err
	}
	var contentHash sql.NullString
	if p.ContentHash != nil {
		contentHash = sql.NullString{String: *p.ContentHash, Valid: true}
	}

	row, err := s.q.UpsertPage(ctx, db.UpsertPageParams{
		ID:              uuidOrNew(p.ID),
		URL:             p.URL,
		CanonicalURL:    p.CanonicalURL,
		URLHash:         p.URLHash,
		ContentHash:     contentHash,
		StatusCode:      int32(p.StatusCode),
		Title:           nullString(p.Title),
		Description:     nullString(p.Description),
		Markdown:        nullString(p.Markdown),
		RawHTML:         nullString(p.RawHTML),
		Renderer:        string(p.Renderer),
		LinksInternal:   p.LinksInternal,
		LinksExternal:   p.LinksExternal,
		Metadata:        pqtype.NullRawMessage{RawMessage: metaJSON, Valid: true},
		WordCount:       int32(p.WordCount),
		ReadTimeMinutes: int32(p.ReadTimeMinutes),
		FetchDurationMs: p.FetchDurationMs,
		ErrorCode:       nullString(p.ErrorCode),
		ErrorMessage:    nullString(p.ErrorMessage),
	})
	if err != nil {
		return model.Page{}, err
	}
	return pageFromRow(row), nil
}

func (s *Store) GetPageByURLHash(ctx context.Context, urlHash string) (model.Page, error) {
	row, err := s.q.GetPageByURLHash(ctx, urlHash)
	if err != nil {
		return model.Page{}, err
	}
	return pageFromRow(row), nil
}

func (s *Store) GetPageByContentHash(ctx context.Context, contentHash string) (model.Page, error) {
	row, err := s.q.GetPageByContentHash(ctx, contentHash)
	if err != nil {
		return model.Page{}, err
	}
	return pageFromRow(row), nil
}

func (s *Store) GetPageByID(ctx context.Context, id uuid.UUID) (model.Page, error) {
	row, err := s.q.GetPageByID(ctx, id)
	if err != nil {
		return model.Page{}, err
	}
	return pageFromRow(row), nil
}

func pageFromRow(row db.Page) model.Page {
	p := model.Page{
		ID:              row.ID,
		URL:             row.URL,
		CanonicalURL:    row.CanonicalURL,
		URLHash:         row.URLHash,
		StatusCode:      int(row.StatusCode),
		Title:           row.Title.String,
		Description:     row.Description.String,
		Markdown:        row.Markdown.String,
		RawHTML:         row.RawHTML.String,
		Renderer:        model.Renderer(row.Renderer),
		LinksInternal:   row.LinksInternal,
		LinksExternal:   row.LinksExternal,
		WordCount:       int(row.WordCount),
		ReadTimeMinutes: int(row.ReadTimeMinutes),
		FetchDurationMs: row.FetchDurationMs,
		FetchedAt:       row.FetchedAt,
		ErrorCode:       row.ErrorCode.String,
		ErrorMessage:    row.ErrorMessage.String,
	}
	if row.ContentHash.Valid {
		h := row.ContentHash.String
		p.ContentHash = &h
	}
	if row.Metadata.Valid {
		_ = json.Unmarshal(row.Metadata.RawMessage, &p.Metadata)
	}
	return p
}

func (s *Store) DeleteExpiredPages(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.q.DeleteExpiredPages(ctx, cutoff)
}

// DeleteExpiredEvents prunes audit events older than cutoff.
func (s *Store) DeleteExpiredEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.q.DeleteExpiredEvents(ctx, cutoff)
}

// --- Jobs (C9 job engine storage) ---

// CreateJob inserts a new queued job, or returns the existing job if an
// idempotency key collision occurs, per spec §4.9.
func (s *Store) CreateJob(ctx context.Context, apiKeyID uuid.UUID, jobType model.JobType, params any, idempotencyKey *string) (model.Job, error) {
	if idempotencyKey != nil {
		existing, err := s.q.GetJobByIdempotencyKey(ctx, apiKeyID, *idempotencyKey)
		if err == nil {
			return jobFromRow(existing), nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, err
		}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return model.Job{}, err
	}

	var key sql.NullString
	if idempotencyKey != nil {
		key = sql.NullString{String: *idempotencyKey, Valid: true}
	}

	row, err := s.q.InsertJob(ctx, db.InsertJobParams{
		ID:             uuid.New(),
		APIKeyID:       apiKeyID,
		Type:           string(jobType),
		InputParams:    payload,
		IdempotencyKey: key,
	})
	if err != nil {
		// Unique-violation race on idempotency key: another request won,
		// re-read and return its job.
		if idempotencyKey != nil {
			if existing, gerr := s.q.GetJobByIdempotencyKey(ctx, apiKeyID, *idempotencyKey); gerr == nil {
				return jobFromRow(existing), nil
			}
		}
		return model.Job{}, err
	}
	return jobFromRow(row), nil
}

func (s *Store) GetJobByID(ctx context.Context, id uuid.UUID) (model.Job, error) {
	row, err := s.q.GetJobByID(ctx, id)
	if err != nil {
		return model.Job{}, err
	}
	return jobFromRow(row), nil
}

func (s *Store) ClaimQueuedJobs(ctx context.Context, limit int) ([]model.Job, error) {
	rows, err := s.q.ClaimQueuedJobs(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Job, len(rows))
	for i, r := range rows {
		out[i] = jobFromRow(r)
	}
	return out, nil
}

func (s *Store) ReapStalledJobs(ctx context.Context, leaseDuration time.Duration) ([]uuid.UUID, error) {
	return s.q.ReapStalledJobs(ctx, time.Now().Add(-leaseDuration))
}

func (s *Store) UpdateJobProgress(ctx context.Context, id uuid.UUID, discovered, total int) error {
	return s.q.UpdateJobProgress(ctx, id, int32(discovered), int32(total))
}

func (s *Store) CompleteJob(ctx context.Context, id uuid.UUID, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.q.CompleteJob(ctx, id, payload)
}

func (s *Store) FailJob(ctx context.Context, id uuid.UUID, code model.ErrorCode, message string) error {
	return s.q.FailJob(ctx, id, string(code), message)
}

func (s *Store) CancelJob(ctx context.Context, id uuid.UUID) error {
	return s.q.CancelJob(ctx, id)
}

func (s *Store) RequestJobCancel(ctx context.Context, id uuid.UUID) error {
	return s.q.RequestJobCancel(ctx, id)
}

func (s *Store) CountQueuedJobs(ctx context.Context) (int, error) {
	return s.q.CountQueuedJobs(ctx)
}

func (s *Store) DeleteJobsOlderThan(ctx context.Context, jobType model.JobType, cutoff time.Time) (int64, error) {
	return s.q.DeleteJobsOlderThan(ctx, string(jobType), cutoff)
}

func jobFromRow(row db.Job) model.Job {
	j := model.Job{
		ID:              row.ID,
		APIKeyID:        row.APIKeyID,
		Type:            model.JobType(row.Type),
		Status:          model.JobStatus(row.Status),
		InputParams:     row.InputParams,
		ErrorCode:       row.ErrorCode.String,
		ErrorMessage:    row.ErrorMessage.String,
		PagesDiscovered: int(row.PagesDiscovered),
		PagesTotal:      int(row.PagesTotal),
		CreatedAt:       row.CreatedAt,
		CancelRequested: row.CancelRequested,
	}
	if row.IdempotencyKey.Valid {
		v := row.IdempotencyKey.String
		j.IdempotencyKey = &v
	}
	if row.Result.Valid {
		j.Result = row.Result.RawMessage
	}
	if row.StartedAt.Valid {
		j.StartedAt = &row.StartedAt.Time
	}
	if row.CompletedAt.Valid {
		j.CompletedAt = &row.CompletedAt.Time
	}
	return j
}

// --- Job pages ---

func (s *Store) AddJobPage(ctx context.Context, jobID, pageID uuid.UUID, depth int) error {
	return s.q.InsertJobPage(ctx, jobID, pageID, int32(depth))
}

// ListJobPageURLs returns the canonical URLs a map job discovered, in
// crawl-depth order — the discovered-URL list spec §3 describes as a
// map job's result.
func (s *Store) ListJobPageURLs(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	return s.q.ListJobPageURLs(ctx, jobID)
}

func (s *Store) CountJobPages(ctx context.Context, jobID uuid.UUID) (int, error) {
	return s.q.CountJobPages(ctx, jobID)
}

// --- Events ---

// RecordEvent appends an audit event, best-effort: callers should log
// and continue on error rather than fail the operation being recorded.
func (s *Store) RecordEvent(ctx context.Context, apiKeyID *uuid.UUID, jobID *uuid.UUID, eventType string, level model.EventLevel, message string, metadata map[string]any) error {
	var metaJSON pqtype.NullRawMessage
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return err
		}
		metaJSON = pqtype.NullRawMessage{RawMessage: b, Valid: true}
	}
	return s.q.InsertEvent(ctx, db.InsertEventParams{
		ID:        uuid.New(),
		APIKeyID:  nullUUID(apiKeyID),
		JobID:     nullUUID(jobID),
		EventType: eventType,
		Level:     string(level),
		Message:   message,
		Metadata:  metaJSON,
	})
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidOrNew(id uuid.UUID) uuid.UUID {
	if id == uuid.Nil {
		return uuid.New()
	}
	return id
}
