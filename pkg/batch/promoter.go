// Copyright 2025 Ceramic Network
//
// Batch Readiness (C8): the timing/threshold policy from spec.md §4.1
// (MAX_ANCHORING_DELAY, PROCESSING_TIMEOUT, READY_TIMEOUT,
// FAILURE_RETRY_WINDOW, GARBAGE_COLLECT_EXPIRY) layered thinly over the
// RequestStore operations that already run the promotion SQL
// transactionally. Adapted from the teacher's batch.Scheduler, which
// carried the same "policy decides when, store decides how" split between
// a cadence config and the collector it drove.
package batch

import (
	"context"
	"log"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ceramicnetwork/cas-anchor/pkg/config"
	"github.com/ceramicnetwork/cas-anchor/pkg/database"
)

// requestStore is the subset of *database.RequestStore the Promoter needs;
// narrowed to an interface so tests can supply a fake.
type requestStore interface {
	FindAndMarkReady(ctx context.Context, maxStreams, minStreams int, cfg database.PromotionConfig) ([]*cas.Request, error)
	UpdateExpiringReadyRequests(ctx context.Context, readyTimeout time.Duration) (int, error)
	FindRequestsToGarbageCollect(ctx context.Context, expiry time.Duration) ([]*cas.Request, error)
}

// Promoter decides when PENDING/PROCESSING/FAILED requests become READY,
// when expired READY requests fall back to PENDING, and which COMPLETED or
// FAILED requests are eligible for garbage collection.
type Promoter struct {
	store requestStore

	maxStreams, minStreams int

	maxAnchoringDelay  time.Duration
	processingTimeout  time.Duration
	readyTimeout       time.Duration
	failureRetryWindow time.Duration
	gcExpiry           time.Duration

	logger *log.Logger
}

// Option configures a Promoter.
type Option func(*Promoter)

// WithLogger overrides the Promoter's logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Promoter) { p.logger = l }
}

// NewPromoter builds a Promoter from a RequestStore and the batch policy
// section of cfg.
func NewPromoter(store requestStore, cfg *config.Config, opts ...Option) (*Promoter, error) {
	if store == nil {
		return nil, ErrNilRequestStore
	}

	p := &Promoter{
		store:              store,
		maxStreams:         cfg.MaxStreamLimit,
		minStreams:         cfg.MinStreamLimit,
		maxAnchoringDelay:  time.Duration(cfg.MaxAnchoringDelayMS) * time.Millisecond,
		processingTimeout:  time.Duration(cfg.ProcessingTimeoutMS) * time.Millisecond,
		readyTimeout:       time.Duration(cfg.ReadyTimeoutMS) * time.Millisecond,
		failureRetryWindow: time.Duration(cfg.FailureRetryWindowMS) * time.Millisecond,
		gcExpiry:           time.Duration(cfg.GarbageCollectExpiryMS) * time.Millisecond,
		logger:             log.New(log.Writer(), "[Promoter] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PromoteReady marks every non-terminal request of each eligible stream READY, per the
// readiness-promotion algorithm in spec.md §4.1.
func (p *Promoter) PromoteReady(ctx context.Context) ([]*cas.Request, error) {
	promoted, err := p.store.FindAndMarkReady(ctx, p.maxStreams, p.minStreams, database.PromotionConfig{
		MaxAnchoringDelay:  p.maxAnchoringDelay,
		ProcessingTimeout:  p.processingTimeout,
		FailureRetryWindow: p.failureRetryWindow,
	})
	if err != nil {
		return nil, err
	}
	if len(promoted) > 0 {
		p.logger.Printf("promoted %d requests to READY", len(promoted))
	}
	return promoted, nil
}

// RecoverExpiredReady reverts READY requests that have sat unclaimed past
// READY_TIMEOUT back to PENDING so a later cycle can re-promote them.
func (p *Promoter) RecoverExpiredReady(ctx context.Context) (int, error) {
	n, err := p.store.UpdateExpiringReadyRequests(ctx, p.readyTimeout)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Printf("recovered %d expired READY requests", n)
	}
	return n, nil
}

// GarbageCollect returns COMPLETED or FAILED requests eligible for deletion: no newer
// request exists for their stream and they are older than
// GARBAGE_COLLECT_EXPIRY.
func (p *Promoter) GarbageCollect(ctx context.Context) ([]*cas.Request, error) {
	reqs, err := p.store.FindRequestsToGarbageCollect(ctx, p.gcExpiry)
	if err != nil {
		return nil, err
	}
	if len(reqs) > 0 {
		p.logger.Printf("found %d requests eligible for garbage collection", len(reqs))
	}
	return reqs, nil
}
