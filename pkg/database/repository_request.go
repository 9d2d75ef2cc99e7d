// Copyright 2025 Ceramic Network
//
// Request Store (C2) - persistent store of anchor requests with
// transactional status transitions and the readiness-promotion algorithm.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
)

// RequestStore handles request lifecycle persistence.
type RequestStore struct {
	client *Client

	// conn and begin are the Queryer/Execer seam FindAndMarkReady,
	// BatchProcessing, and MarkPreviousReplaced run against; production
	// code wires them to client.db, tests substitute an in-memory fake
	// (see fake_test.go).
	conn  QueryExecer
	begin func(ctx context.Context, opts *sql.TxOptions) (txCommitter, error)
}

// NewRequestStore creates a new request store.
func NewRequestStore(client *Client) *RequestStore {
	return &RequestStore{
		client: client,
		conn:   sqlConn{db: client.db},
		begin:  client.beginTx,
	}
}

const requestColumns = `id, cid, stream_id, status, message, pinned, origin, timestamp, created_at, updated_at`

func scanRequest(row interface{ Scan(...interface{}) error }) (*cas.Request, error) {
	var (
		req                          cas.Request
		cidStr, statusStr            string
		timestamp, createdAt, updated time.Time
	)
	if err := row.Scan(&req.ID, &cidStr, &req.StreamID, &statusStr, &req.Message,
		&req.Pinned, &req.Origin, &timestamp, &createdAt, &updated); err != nil {
		return nil, err
	}

	c, err := cid.Decode(cidStr)
	if err != nil {
		return nil, fmt.Errorf("database: decode request cid %q: %w", cidStr, err)
	}
	status, err := cas.ParseStatus(statusStr)
	if err != nil {
		return nil, err
	}

	req.CID = c
	req.Status = status
	req.Timestamp = timestamp.UTC()
	req.CreatedAt = createdAt.UTC()
	req.UpdatedAt = updated.UTC()
	return &req, nil
}

func scanRequestRows(rows Rows) ([]*cas.Request, error) {
	var out []*cas.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// CreateOrUpdate upserts by cid, returning the persisted row unchanged on
// conflict (spec.md §4.1 createOrUpdate).
func (s *RequestStore) CreateOrUpdate(ctx context.Context, req *cas.Request) (*cas.Request, error) {
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now

	query := `
		INSERT INTO request (id, cid, stream_id, status, message, pinned, origin, timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cid) DO NOTHING
		RETURNING ` + requestColumns

	row := s.client.QueryRowContext(ctx, query,
		req.ID, req.CID.String(), req.StreamID, req.Status.String(), req.Message,
		req.Pinned, req.Origin, req.Timestamp.UTC(), req.CreatedAt, req.UpdatedAt)

	created, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return s.FindByCID(ctx, req.CID)
	}
	if err != nil {
		return nil, fmt.Errorf("database: create or update request: %w", err)
	}
	return created, nil
}

// CreateRequests bulk inserts, ignoring duplicates by cid.
func (s *RequestStore) CreateRequests(ctx context.Context, requests []*cas.Request) error {
	if len(requests) == 0 {
		return nil
	}
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("database: create requests begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt := `
		INSERT INTO request (id, cid, stream_id, status, message, pinned, origin, timestamp, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (cid) DO NOTHING`
	for _, req := range requests {
		createdAt := req.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		if _, err := tx.Tx().ExecContext(ctx, stmt,
			req.ID, req.CID.String(), req.StreamID, req.Status.String(), req.Message,
			req.Pinned, req.Origin, req.Timestamp.UTC(), createdAt, now); err != nil {
			return fmt.Errorf("database: create requests: %w", err)
		}
	}
	return tx.Commit()
}

// FindByCID retrieves a request by cid.
func (s *RequestStore) FindByCID(ctx context.Context, c cid.Cid) (*cas.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM request WHERE cid = $1`
	req, err := scanRequest(s.client.QueryRowContext(ctx, query, c.String()))
	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: find request by cid: %w", err)
	}
	return req, nil
}

// FindByIDs retrieves requests by id.
func (s *RequestStore) FindByIDs(ctx context.Context, ids []string) ([]*cas.Request, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + requestColumns + ` FROM request WHERE id = ANY($1)`
	rows, err := s.client.QueryContext(ctx, query, pqStringArray(ids))
	if err != nil {
		return nil, fmt.Errorf("database: find requests by ids: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// FindByStatus retrieves requests in the given status.
func (s *RequestStore) FindByStatus(ctx context.Context, status cas.Status) ([]*cas.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM request WHERE status = $1 ORDER BY created_at ASC`
	rows, err := s.client.QueryContext(ctx, query, status.String())
	if err != nil {
		return nil, fmt.Errorf("database: find requests by status: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// CountByStatus returns the count of requests in the given status.
func (s *RequestStore) CountByStatus(ctx context.Context, status cas.Status) (int, error) {
	var count int
	err := s.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM request WHERE status = $1`, status.String()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("database: count requests by status: %w", err)
	}
	return count, nil
}

// UpdateRequests bulk-updates status/message for the given requests within
// an optional transaction; tx may be nil to run outside one.
func (s *RequestStore) UpdateRequests(ctx context.Context, requests []*cas.Request, tx *Tx) (int, error) {
	if len(requests) == 0 {
		return 0, nil
	}
	exec := func(query string, args ...interface{}) (sql.Result, error) {
		if tx != nil {
			return tx.Tx().ExecContext(ctx, query, args...)
		}
		return s.client.ExecContext(ctx, query, args...)
	}

	now := time.Now().UTC()
	var updated int
	for _, req := range requests {
		res, err := exec(
			`UPDATE request SET status = $2, message = $3, pinned = $4, updated_at = $5 WHERE id = $1`,
			req.ID, req.Status.String(), req.Message, req.Pinned, now)
		if err != nil {
			return updated, fmt.Errorf("database: update request %s: %w", req.ID, err)
		}
		n, _ := res.RowsAffected()
		updated += int(n)
	}
	return updated, nil
}

// MarkPreviousReplaced sets all other non-terminal requests on the same
// stream, created before req, to REPLACED.
func (s *RequestStore) MarkPreviousReplaced(ctx context.Context, req *cas.Request) error {
	query := `
		UPDATE request
		SET status = $1, updated_at = $2
		WHERE stream_id = $3 AND id <> $4 AND created_at < $5
		  AND status NOT IN ($6, $7)`
	_, err := s.conn.ExecContext(ctx, query,
		cas.StatusReplaced.String(), time.Now().UTC(), req.StreamID, req.ID, req.CreatedAt,
		cas.StatusCompleted.String(), cas.StatusReplaced.String())
	if err != nil {
		return fmt.Errorf("database: mark previous replaced: %w", err)
	}
	return nil
}

// PromotionConfig carries the duration thresholds findAndMarkReady needs;
// pkg/batch owns the policy values, this store only executes the SQL.
type PromotionConfig struct {
	MaxAnchoringDelay  time.Duration
	ProcessingTimeout  time.Duration
	FailureRetryWindow time.Duration
}

// FindAndMarkReady is the readiness-promotion algorithm of spec.md §4.1: it
// runs as a single SERIALIZABLE transaction so concurrent schedulers cannot
// double-promote the same stream.
func (s *RequestStore) FindAndMarkReady(ctx context.Context, maxStreams, minStreams int, cfg PromotionConfig) ([]*cas.Request, error) {
	tx, err := s.begin(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("database: find and mark ready begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	processingCutoff := now.Add(-cfg.ProcessingTimeout)
	failureCutoff := now.Add(-cfg.FailureRetryWindow)
	delayCutoff := now.Add(-cfg.MaxAnchoringDelay)

	// Distinct candidate streams: newest non-terminal request is PENDING,
	// retryable FAILED, or timed-out PROCESSING.
	candidateQuery := `
		SELECT DISTINCT ON (stream_id) stream_id, status, message, created_at
		FROM request
		WHERE status NOT IN ($1, $2)
		ORDER BY stream_id, created_at DESC`
	rows, err := tx.QueryContext(ctx, candidateQuery, cas.StatusCompleted.String(), cas.StatusReplaced.String())
	if err != nil {
		return nil, fmt.Errorf("database: select candidate streams: %w", err)
	}

	var eligibleStreams []string
	var anyExceededDelay bool
	for rows.Next() {
		var streamID, status, message string
		var createdAt time.Time
		if err := rows.Scan(&streamID, &status, &message, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("database: scan candidate stream: %w", err)
		}
		createdAt = createdAt.UTC()

		eligible := false
		switch status {
		case cas.StatusPending.String():
			eligible = true
			if createdAt.Before(delayCutoff) {
				anyExceededDelay = true
			}
		case cas.StatusFailed.String():
			if createdAt.After(failureCutoff) && !cas.IsConflictResolutionRejection(message) {
				eligible = true
			}
		case cas.StatusProcessing.String():
			if createdAt.Before(processingCutoff) {
				eligible = true
			}
		}
		if eligible {
			eligibleStreams = append(eligibleStreams, streamID)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("database: iterate candidate streams: %w", err)
	}
	rows.Close()

	if len(eligibleStreams) < minStreams && !anyExceededDelay {
		return nil, tx.Commit()
	}
	if len(eligibleStreams) > maxStreams {
		eligibleStreams = eligibleStreams[:maxStreams]
	}
	if len(eligibleStreams) == 0 {
		return nil, tx.Commit()
	}

	selectQuery := `
		SELECT ` + requestColumns + `
		FROM request
		WHERE stream_id = ANY($1) AND status NOT IN ($2, $3)
		FOR UPDATE`
	selected, err := tx.QueryContext(ctx, selectQuery, pqStringArray(eligibleStreams),
		cas.StatusCompleted.String(), cas.StatusReplaced.String())
	if err != nil {
		return nil, fmt.Errorf("database: select requests to promote: %w", err)
	}
	promoted, err := scanRequestRows(selected)
	selected.Close()
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(promoted))
	for i, r := range promoted {
		ids[i] = r.ID
		r.Status = cas.StatusReady
		r.UpdatedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE request SET status = $1, updated_at = $2 WHERE id = ANY($3)`,
		cas.StatusReady.String(), now, pqStringArray(ids)); err != nil {
		return nil, fmt.Errorf("database: promote requests to ready: %w", err)
	}

	return promoted, tx.Commit()
}

// BatchProcessing atomically takes up to max READY rows and sets them to
// PROCESSING.
func (s *RequestStore) BatchProcessing(ctx context.Context, max int) ([]*cas.Request, error) {
	tx, err := s.begin(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("database: batch processing begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+requestColumns+` FROM request WHERE status = $1 ORDER BY created_at ASC LIMIT $2 FOR UPDATE SKIP LOCKED`,
		cas.StatusReady.String(), max)
	if err != nil {
		return nil, fmt.Errorf("database: select ready requests: %w", err)
	}
	taken, err := scanRequestRows(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(taken) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC()
	ids := make([]string, len(taken))
	for i, r := range taken {
		ids[i] = r.ID
		r.Status = cas.StatusProcessing
		r.UpdatedAt = now
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE request SET status = $1, updated_at = $2 WHERE id = ANY($3)`,
		cas.StatusProcessing.String(), now, pqStringArray(ids)); err != nil {
		return nil, fmt.Errorf("database: mark requests processing: %w", err)
	}

	return taken, tx.Commit()
}

// UpdateExpiringReadyRequests resets READY rows older than readyTimeout back
// to PENDING so they are re-promoted on the next tick.
func (s *RequestStore) UpdateExpiringReadyRequests(ctx context.Context, readyTimeout time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-readyTimeout)
	res, err := s.client.ExecContext(ctx,
		`UPDATE request SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		cas.StatusPending.String(), time.Now().UTC(), cas.StatusReady.String(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("database: update expiring ready requests: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FindRequestsToGarbageCollect returns COMPLETED or FAILED rows older than
// expiry whose stream has no newer request.
func (s *RequestStore) FindRequestsToGarbageCollect(ctx context.Context, expiry time.Duration) ([]*cas.Request, error) {
	cutoff := time.Now().UTC().Add(-expiry)
	query := `
		SELECT ` + requestColumns + `
		FROM request r
		WHERE r.status IN ($1, $2) AND r.updated_at < $3
		  AND NOT EXISTS (
		      SELECT 1 FROM request newer
		      WHERE newer.stream_id = r.stream_id AND newer.created_at > r.created_at
		  )`
	rows, err := s.client.QueryContext(ctx, query, cas.StatusCompleted.String(), cas.StatusFailed.String(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("database: find requests to garbage collect: %w", err)
	}
	defer rows.Close()
	return scanRequestRows(rows)
}

// WithTransactionMutex runs fn while holding the store's advisory lock. It
// tries the lock once and does not retry: if another instance holds it, fn
// is not run and cas.ErrMutexUnavailable is returned.
func (s *RequestStore) WithTransactionMutex(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.client.WithTransactionMutex(ctx, fn)
}

// BeginRepeatableRead starts a REPEATABLE READ transaction, used by the
// anchor service's persist step to insert anchors and complete requests
// atomically (spec.md §4.6 step 11).
func (s *RequestStore) BeginRepeatableRead(ctx context.Context) (*Tx, error) {
	return s.client.BeginRepeatableRead(ctx)
}
