// Copyright 2025 Ceramic Network

package database

import (
	"context"
	"testing"
	"time"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequestCID(t *testing.T, seed string) string {
	t.Helper()
	sum, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum).String()
}

func TestFindAndMarkReadyPromotesEligibleStream(t *testing.T) {
	now := time.Now().UTC()
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{
			{rows: [][]interface{}{
				{"s1", cas.StatusPending.String(), "", now},
			}},
			{rows: [][]interface{}{
				{"r1", testRequestCID(t, "r1"), "s1", cas.StatusPending.String(), "", false, "", now, now, now},
			}},
		},
		execs: []execCall{{rowsAffected: 1}},
	}}
	store := newFakeRequestStore(tx)

	promoted, err := store.FindAndMarkReady(context.Background(), 10, 1, PromotionConfig{
		MaxAnchoringDelay:  5 * time.Minute,
		ProcessingTimeout:  2 * time.Minute,
		FailureRetryWindow: 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, promoted, 1)
	assert.Equal(t, "r1", promoted[0].ID)
	assert.Equal(t, cas.StatusReady, promoted[0].Status)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestFindAndMarkReadyRequiresMinStreamsUnlessDelayExceeded(t *testing.T) {
	now := time.Now().UTC()
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{
			{rows: [][]interface{}{
				{"s1", cas.StatusPending.String(), "", now},
			}},
		},
	}}
	store := newFakeRequestStore(tx)

	promoted, err := store.FindAndMarkReady(context.Background(), 10, 2, PromotionConfig{
		MaxAnchoringDelay:  5 * time.Minute,
		ProcessingTimeout:  2 * time.Minute,
		FailureRetryWindow: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Empty(t, promoted, "below minStreams and no stream exceeded the anchoring delay")
	assert.True(t, tx.committed, "still commits the read-only transaction")
}

func TestFindAndMarkReadyPromotesOnDelayEvenBelowMinStreams(t *testing.T) {
	old := time.Now().UTC().Add(-time.Hour)
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{
			{rows: [][]interface{}{
				{"s1", cas.StatusPending.String(), "", old},
			}},
			{rows: [][]interface{}{
				{"r1", testRequestCID(t, "r1"), "s1", cas.StatusPending.String(), "", false, "", old, old, old},
			}},
		},
		execs: []execCall{{rowsAffected: 1}},
	}}
	store := newFakeRequestStore(tx)

	promoted, err := store.FindAndMarkReady(context.Background(), 10, 5, PromotionConfig{
		MaxAnchoringDelay:  5 * time.Minute,
		ProcessingTimeout:  2 * time.Minute,
		FailureRetryWindow: 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, promoted, 1, "a stream past maxAnchoringDelay is promoted even under minStreams")
}

func TestFindAndMarkReadySkipsFailedOutsideRetryWindow(t *testing.T) {
	old := time.Now().UTC().Add(-48 * time.Hour)
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{
			{rows: [][]interface{}{
				{"s1", cas.StatusFailed.String(), "", old},
			}},
		},
	}}
	store := newFakeRequestStore(tx)

	promoted, err := store.FindAndMarkReady(context.Background(), 10, 1, PromotionConfig{
		MaxAnchoringDelay:  5 * time.Minute,
		ProcessingTimeout:  2 * time.Minute,
		FailureRetryWindow: 24 * time.Hour,
	})
	require.NoError(t, err)
	assert.Empty(t, promoted, "FAILED request outside the retry window is not eligible")
}

func TestBatchProcessingTakesReadyRowsAndMarksProcessing(t *testing.T) {
	now := time.Now().UTC()
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{
			{rows: [][]interface{}{
				{"r1", testRequestCID(t, "r1"), "s1", cas.StatusReady.String(), "", false, "", now, now, now},
				{"r2", testRequestCID(t, "r2"), "s2", cas.StatusReady.String(), "", false, "", now, now, now},
			}},
		},
		execs: []execCall{{rowsAffected: 2}},
	}}
	store := newFakeRequestStore(tx)

	taken, err := store.BatchProcessing(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, taken, 2)
	for _, r := range taken {
		assert.Equal(t, cas.StatusProcessing, r.Status)
	}
	assert.True(t, tx.committed)
}

func TestBatchProcessingCommitsEmptyWhenNoneReady(t *testing.T) {
	tx := &fakeTx{fakeConn: &fakeConn{
		queries: []queryCall{{rows: nil}},
	}}
	store := newFakeRequestStore(tx)

	taken, err := store.BatchProcessing(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, taken)
	assert.True(t, tx.committed)
}

func TestMarkPreviousReplacedRunsUpdate(t *testing.T) {
	conn := &fakeConn{execs: []execCall{{rowsAffected: 1}}}
	store := newFakeRequestStore(&fakeTx{fakeConn: conn})

	req := &cas.Request{ID: "r2", StreamID: "s1", CreatedAt: time.Now().UTC()}
	err := store.MarkPreviousReplaced(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, conn.seenExec, 1)
	assert.Contains(t, conn.seenExec[0], "SET status = $1")
}
