// Copyright 2025 Ceramic Network

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/candidate"
	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ceramicnetwork/cas-anchor/pkg/clock"
	"github.com/ceramicnetwork/cas-anchor/pkg/database"
	"github.com/ceramicnetwork/cas-anchor/pkg/merkle"
)

const maxPersistAttempts = 5

// finalizeAndPersist implements spec.md §4.6 steps 7-11: materialise the
// anchor proof, per-leaf commits and witness CARs, store the CAR bytes,
// and durably record anchors plus completed requests in one transaction.
func (s *AnchorService) finalizeAndPersist(ctx context.Context, tree *merkle.Tree, txn *cas.Transaction, selection *candidate.Result) (*merkle.Result, error) {
	txType := ""
	if s.cfg.UseContractMode {
		txType = s.cfg.ContractTxType
	}
	txHash, err := txHashCID(txn.TxHash)
	if err != nil {
		return nil, err
	}

	leaves := merkle.LeavesFromCandidates(selection.Accepted)
	result, err := merkle.Finalize(tree, txn.Chain, txHash, txType, leaves)
	if err != nil {
		return nil, fmt.Errorf("service: finalize merkle result: %w", err)
	}

	if err := s.merkleBlobs.Put(ctx, result.ProofCID, result.MerkleCAR); err != nil {
		return nil, fmt.Errorf("service: store merkle car: %w", err)
	}
	for streamID, car := range result.WitnessCAR {
		if err := s.witnessBlobs.Put(ctx, result.Commits[streamID], car); err != nil {
			return nil, fmt.Errorf("service: store witness car for %s: %w", streamID, err)
		}
	}

	anchors := make([]*cas.Anchor, 0, len(selection.Accepted))
	completed := make([]*cas.Request, 0, len(selection.Accepted)+len(selection.AlreadyAnchored))
	for _, c := range selection.Accepted {
		anchors = append(anchors, &cas.Anchor{
			RequestID: c.Request.ID,
			CID:       result.Commits[c.StreamID],
			ProofCID:  result.ProofCID,
			Path:      tree.Paths[c.StreamID],
		})
		c.Request.Status = cas.StatusCompleted
		c.Request.Pinned = true
		completed = append(completed, c.Request)
	}
	for _, c := range selection.AlreadyAnchored {
		c.Request.Status = cas.StatusCompleted
		c.Request.Pinned = true
		completed = append(completed, c.Request)
	}

	for attempt := 0; attempt < maxPersistAttempts; attempt++ {
		err := s.persistInTx(ctx, anchors, completed)
		if err == nil {
			return result, nil
		}
		if !database.IsSerializationFailure(err) {
			return nil, err
		}
		s.logger.Printf("persist attempt %d hit a serialization conflict, retrying", attempt)
		if delayErr := clock.Delay(ctx, s.clk, 100*time.Millisecond); delayErr != nil {
			return nil, delayErr
		}
	}
	return nil, fmt.Errorf("service: persist batch: exhausted retries on serialization conflict")
}

// persistInTx runs the insert-anchors/complete-requests write in one
// REPEATABLE READ transaction so readers never observe one without the
// other.
func (s *AnchorService) persistInTx(ctx context.Context, anchors []*cas.Anchor, completed []*cas.Request) error {
	tx, err := s.requests.BeginRepeatableRead(ctx)
	if err != nil {
		return fmt.Errorf("service: begin persist tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.anchors.CreateAnchorsTx(ctx, anchors, tx); err != nil {
		return fmt.Errorf("service: insert anchors: %w", err)
	}
	if _, err := s.requests.UpdateRequests(ctx, completed, tx); err != nil {
		return fmt.Errorf("service: complete requests: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("service: commit persist tx: %w", err)
	}
	return nil
}
