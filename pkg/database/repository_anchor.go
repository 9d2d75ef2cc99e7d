// Copyright 2025 Ceramic Network
//
// Anchor Store (C3) - persistent store of completed anchors, keyed by
// request id.

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
)

// AnchorStore handles anchor persistence.
type AnchorStore struct {
	client *Client
}

// NewAnchorStore creates a new anchor store.
func NewAnchorStore(client *Client) *AnchorStore {
	return &AnchorStore{client: client}
}

const anchorColumns = `request_id, cid, proof_cid, path, created_at, updated_at`

func scanAnchor(row interface{ Scan(...interface{}) error }) (*cas.Anchor, error) {
	var (
		a                    cas.Anchor
		cidStr, proofCidStr  string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&a.RequestID, &cidStr, &proofCidStr, &a.Path, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c, err := cid.Decode(cidStr)
	if err != nil {
		return nil, fmt.Errorf("database: decode anchor cid %q: %w", cidStr, err)
	}
	proofCid, err := cid.Decode(proofCidStr)
	if err != nil {
		return nil, fmt.Errorf("database: decode anchor proof cid %q: %w", proofCidStr, err)
	}
	a.CID = c
	a.ProofCID = proofCid
	a.CreatedAt = createdAt.UTC()
	a.UpdatedAt = updatedAt.UTC()
	return &a, nil
}

// CreateAnchors bulk-inserts, ignoring duplicates by request_id, returning
// the count actually inserted. Idempotent under retry.
func (s *AnchorStore) CreateAnchors(ctx context.Context, anchors []*cas.Anchor) (int, error) {
	if len(anchors) == 0 {
		return 0, nil
	}
	tx, err := s.client.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("database: create anchors begin tx: %w", err)
	}
	defer tx.Rollback()

	inserted, err := s.CreateAnchorsTx(ctx, anchors, tx)
	if err != nil {
		return inserted, err
	}
	return inserted, tx.Commit()
}

// CreateAnchorsTx is CreateAnchors run within an existing transaction,
// used by the anchor service's persist step (spec.md §4.6 step 11) to
// insert anchors and complete requests atomically. Caller owns commit and
// rollback.
func (s *AnchorStore) CreateAnchorsTx(ctx context.Context, anchors []*cas.Anchor, tx *Tx) (int, error) {
	if len(anchors) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	stmt := `
		INSERT INTO anchor (request_id, cid, proof_cid, path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (request_id) DO NOTHING`

	var inserted int
	for _, a := range anchors {
		res, err := tx.Tx().ExecContext(ctx, stmt, a.RequestID, a.CID.String(), a.ProofCID.String(), a.Path, now, now)
		if err != nil {
			return inserted, fmt.Errorf("database: insert anchor %s: %w", a.RequestID, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// FindByRequest retrieves the anchor for one request, if any.
func (s *AnchorStore) FindByRequest(ctx context.Context, requestID string) (*cas.Anchor, error) {
	query := `SELECT ` + anchorColumns + ` FROM anchor WHERE request_id = $1`
	a, err := scanAnchor(s.client.QueryRowContext(ctx, query, requestID))
	if err == sql.ErrNoRows {
		return nil, ErrAnchorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("database: find anchor by request: %w", err)
	}
	return a, nil
}

// FindByRequests retrieves anchors for a set of request ids, used by the
// candidate selector (C7) to filter already-anchored streams.
func (s *AnchorStore) FindByRequests(ctx context.Context, requestIDs []string) ([]*cas.Anchor, error) {
	if len(requestIDs) == 0 {
		return nil, nil
	}
	query := `SELECT ` + anchorColumns + ` FROM anchor WHERE request_id = ANY($1)`
	rows, err := s.client.QueryContext(ctx, query, pqStringArray(requestIDs))
	if err != nil {
		return nil, fmt.Errorf("database: find anchors by requests: %w", err)
	}
	defer rows.Close()

	var out []*cas.Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, fmt.Errorf("database: scan anchor: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
