// Copyright 2025 Ceramic Network

package service

import (
	"context"
	"fmt"

	"github.com/ceramicnetwork/cas-anchor/pkg/candidate"
	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ceramicnetwork/cas-anchor/pkg/queue"
)

// anchorBatch is one unit of work: the requests to anchor, plus the queue
// message they came from in queue mode (nil in DB mode).
type anchorBatch struct {
	requests []*cas.Request
	msg      *queue.Message
}

// obtainBatch implements spec.md §4.6 step 2: in queue mode, receive one
// message and load its requests, dropping any already REPLACED; in DB
// mode, promote more streams to READY if none are waiting, then claim up
// to maxStreamLimit of them.
func (s *AnchorService) obtainBatch(ctx context.Context) (*anchorBatch, error) {
	if s.consumer != nil {
		return s.obtainBatchFromQueue(ctx)
	}
	return s.obtainBatchFromDB(ctx)
}

func (s *AnchorService) obtainBatchFromQueue(ctx context.Context) (*anchorBatch, error) {
	msg, err := s.consumer.Receive(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: receive queue message: %w", err)
	}
	if msg == nil {
		return nil, nil
	}

	reqs, err := s.requests.FindByIDs(ctx, msg.Data.RequestIDs)
	if err != nil {
		_ = msg.Nack(ctx)
		return nil, fmt.Errorf("service: load requests for batch %s: %w", msg.Data.BatchID, err)
	}

	filtered := reqs[:0]
	for _, r := range reqs {
		if r.Status != cas.StatusReplaced {
			filtered = append(filtered, r)
		}
	}

	return &anchorBatch{requests: filtered, msg: msg}, nil
}

func (s *AnchorService) obtainBatchFromDB(ctx context.Context) (*anchorBatch, error) {
	readyCount, err := s.requests.CountByStatus(ctx, cas.StatusReady)
	if err != nil {
		return nil, fmt.Errorf("service: count ready requests: %w", err)
	}
	if readyCount == 0 {
		if _, err := s.requests.FindAndMarkReady(ctx, 2*s.cfg.MaxStreamLimit, s.cfg.MinStreamLimit, s.cfg.Promotion); err != nil {
			return nil, fmt.Errorf("service: promote ready requests: %w", err)
		}
	}

	reqs, err := s.requests.BatchProcessing(ctx, s.cfg.MaxStreamLimit)
	if err != nil {
		return nil, fmt.Errorf("service: claim processing batch: %w", err)
	}
	return &anchorBatch{requests: reqs}, nil
}

func (s *AnchorService) ackIfQueueMode(ctx context.Context, batch *anchorBatch, _ *candidate.Result) {
	if batch.msg == nil {
		return
	}
	if err := batch.msg.Ack(ctx); err != nil {
		s.logger.Printf("ack batch failed: %v", err)
	}
}

func (s *AnchorService) nackIfQueueMode(ctx context.Context, batch *anchorBatch) {
	if batch.msg == nil {
		return
	}
	if err := batch.msg.Nack(ctx); err != nil {
		s.logger.Printf("nack batch failed: %v", err)
	}
}

// handleBatchFailure implements spec.md §4.6 step 12: in DB mode, revert
// accepted requests back to PENDING so a later cycle retries them; in
// queue mode, leave status untouched and rely on queue redelivery.
func (s *AnchorService) handleBatchFailure(ctx context.Context, batch *anchorBatch, selection *candidate.Result) {
	if batch.msg != nil || selection == nil {
		return
	}
	reverted := make([]*cas.Request, 0, len(selection.Accepted))
	for _, c := range selection.Accepted {
		c.Request.Status = cas.StatusPending
		reverted = append(reverted, c.Request)
	}
	if _, err := s.requests.UpdateRequests(ctx, reverted, nil); err != nil {
		s.logger.Printf("revert failed batch to PENDING: %v", err)
	}
}
