// Copyright 2025 Ceramic Network
//
// Anchor Service (C10): orchestrates one batch end to end, in the
// teacher's AnchorManager-as-thin-orchestration-layer style — this file
// holds only sequencing and policy; every actual unit of work (selection,
// tree building, submission, persistence) is delegated to its owning
// package.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/candidate"
	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ceramicnetwork/cas-anchor/pkg/chain"
	"github.com/ceramicnetwork/cas-anchor/pkg/clock"
	"github.com/ceramicnetwork/cas-anchor/pkg/database"
	"github.com/ceramicnetwork/cas-anchor/pkg/merkle"
	"github.com/ceramicnetwork/cas-anchor/pkg/queue"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/prometheus/client_golang/prometheus"
)

// Blob is the minimal blob-store surface the anchor service writes CAR
// bytes through; satisfied by pkg/blobstore.Store.
type Blob interface {
	Put(ctx context.Context, c cid.Cid, data []byte) error
}

// Config carries the batch-sizing and alerting policy from spec.md §4.1
// and §4.6 that the service needs but does not own.
type Config struct {
	MaxStreamLimit    int
	MinStreamLimit    int
	CandidateLimit    int
	MerkleDepthLimit  int
	AlertOnLongAnchor time.Duration
	ReadyTimeout      time.Duration
	Promotion         database.PromotionConfig
	UseContractMode   bool
	ContractTxType    string // e.g. "f(bytes32)"; only meaningful when UseContractMode
}

// AnchorReadyNotifier is invoked by EmitAnchorEventIfReady when READY
// requests exist for a non-worker instance to act on. Defaults to a log
// line; callers may inject a real pub/sub publisher.
type AnchorReadyNotifier func(count int)

// AnchorService orchestrates exactly the 13 steps of spec.md §4.6.
type AnchorService struct {
	requests *database.RequestStore
	anchors  *database.AnchorStore
	selector *candidate.Selector
	chain    *chain.Client

	merkleBlobs  Blob
	witnessBlobs Blob
	consumer     queue.Consumer // nil means DB mode

	clk clock.Clock
	cfg Config

	longAnchorAlarm prometheus.Counter
	anchorDuration  prometheus.Histogram

	notifyAnchorReady AnchorReadyNotifier

	logger *log.Logger
}

// Option configures an AnchorService.
type Option func(*AnchorService)

// WithLogger overrides the service's logger.
func WithLogger(l *log.Logger) Option {
	return func(s *AnchorService) { s.logger = l }
}

// WithClock overrides the service's clock (tests use clock.NewMock()).
func WithClock(c clock.Clock) Option {
	return func(s *AnchorService) { s.clk = c }
}

// WithAnchorReadyNotifier overrides how EmitAnchorEventIfReady announces
// that READY requests are waiting.
func WithAnchorReadyNotifier(n AnchorReadyNotifier) Option {
	return func(s *AnchorService) { s.notifyAnchorReady = n }
}

// New builds an AnchorService. consumer may be nil to run in DB mode.
func New(
	requests *database.RequestStore,
	anchors *database.AnchorStore,
	selector *candidate.Selector,
	chainClient *chain.Client,
	merkleBlobs, witnessBlobs Blob,
	consumer queue.Consumer,
	cfg Config,
	opts ...Option,
) *AnchorService {
	s := &AnchorService{
		requests:     requests,
		anchors:      anchors,
		selector:     selector,
		chain:        chainClient,
		merkleBlobs:  merkleBlobs,
		witnessBlobs: witnessBlobs,
		consumer:     consumer,
		clk:          clock.New(),
		cfg:          cfg,
		longAnchorAlarm: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cas_anchor_long_anchor_total",
			Help: "Count of anchor batches whose total runtime exceeded the configured SLO.",
		}),
		anchorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "cas_anchor_batch_duration_seconds",
			Help: "Wall-clock duration of one anchorRequests invocation.",
		}),
		logger: log.New(log.Writer(), "[AnchorService] ", log.LstdFlags),
	}
	s.notifyAnchorReady = func(count int) {
		s.logger.Printf("anchor-ready: %d requests waiting", count)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EmitAnchorEventIfReady is the secondary entry point used by non-worker
// instances: if READY requests already exist, expire the stale ones and
// notify; otherwise try to promote more via findAndMarkReady and notify
// only if that promoted anything.
func (s *AnchorService) EmitAnchorEventIfReady(ctx context.Context) error {
	readyCount, err := s.requests.CountByStatus(ctx, cas.StatusReady)
	if err != nil {
		return fmt.Errorf("service: count ready requests: %w", err)
	}

	if readyCount > 0 {
		if _, err := s.requests.UpdateExpiringReadyRequests(ctx, s.cfg.ReadyTimeout); err != nil {
			return fmt.Errorf("service: reset expired ready requests: %w", err)
		}
		s.notifyAnchorReady(readyCount)
		return nil
	}

	promoted, err := s.requests.FindAndMarkReady(ctx, s.cfg.MaxStreamLimit, s.cfg.MinStreamLimit, s.cfg.Promotion)
	if err != nil {
		return fmt.Errorf("service: promote ready requests: %w", err)
	}
	if len(promoted) > 0 {
		s.notifyAnchorReady(len(promoted))
	}
	return nil
}

// AnchorRequests runs one batch through selection, tree building,
// submission, and persistence; returns whether it anchored anything.
func (s *AnchorService) AnchorRequests(ctx context.Context) (bool, error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		s.anchorDuration.Observe(elapsed.Seconds())
		if s.cfg.AlertOnLongAnchor > 0 && elapsed > s.cfg.AlertOnLongAnchor {
			s.longAnchorAlarm.Inc()
			s.logger.Printf("batch took %s, exceeding alertOnLongAnchor=%s", elapsed, s.cfg.AlertOnLongAnchor)
		}
	}()

	batch, err := s.obtainBatch(ctx)
	if err != nil {
		return false, err
	}
	if batch == nil {
		return false, nil
	}

	if len(batch.requests) == 0 {
		s.logger.Println("no requests in batch, no-op")
		s.ackIfQueueMode(ctx, batch, nil)
		return false, nil
	}

	selection, err := s.selector.Select(ctx, batch.requests, s.cfg.CandidateLimit)
	if err != nil {
		s.nackIfQueueMode(ctx, batch)
		return false, fmt.Errorf("service: select candidates: %w", err)
	}
	if len(selection.Accepted) == 0 {
		s.logger.Printf("batch of %d requests had no eligible candidates (already anchored=%d, unprocessed=%d)",
			len(batch.requests), len(selection.AlreadyAnchored), len(selection.Unprocessed))
		s.ackIfQueueMode(ctx, batch, selection)
		return false, nil
	}

	tree, err := merkle.BuildTree(selection.Accepted, s.cfg.MerkleDepthLimit)
	if err != nil {
		s.handleBatchFailure(ctx, batch, selection)
		s.nackIfQueueMode(ctx, batch)
		return false, fmt.Errorf("service: build tree: %w", err)
	}

	txn, err := s.submitRoot(ctx, tree.Root)
	if err != nil {
		s.handleBatchFailure(ctx, batch, selection)
		s.nackIfQueueMode(ctx, batch)
		return false, fmt.Errorf("service: submit root: %w", err)
	}

	result, err := s.finalizeAndPersist(ctx, tree, txn, selection)
	if err != nil {
		s.handleBatchFailure(ctx, batch, selection)
		s.nackIfQueueMode(ctx, batch)
		return false, fmt.Errorf("service: persist batch: %w", err)
	}

	s.logger.Printf("anchored %d requests, root=%s, tx=%s", len(result.Commits), tree.Root, txn.TxHash)
	s.ackIfQueueMode(ctx, batch, selection)
	return true, nil
}

// submitRoot acquires the transaction mutex and submits the root on-chain,
// per spec.md §4.6 step 6.
func (s *AnchorService) submitRoot(ctx context.Context, root cid.Cid) (*cas.Transaction, error) {
	var txn *cas.Transaction
	err := s.requests.WithTransactionMutex(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.chain.Submit(ctx, root)
		return err
	})
	if err != nil {
		if errors.Is(err, cas.ErrMutexUnavailable) {
			return nil, fmt.Errorf("%w", cas.ErrMutexUnavailable)
		}
		return nil, err
	}
	return txn, nil
}

// txHashCID wraps a hex transaction hash in a raw-codec, identity-digest
// CID so it can live in the anchor proof's txHash link field without
// committing to a hash of the hash.
func txHashCID(txHash string) (cid.Cid, error) {
	sum, err := mh.Sum([]byte(txHash), mh.IDENTITY, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("service: encode tx hash cid: %w", err)
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}
