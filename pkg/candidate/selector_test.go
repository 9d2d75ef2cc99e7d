// Copyright 2025 Ceramic Network

package candidate

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

type fakeMetadata struct {
	m map[string]*cas.StreamMetadata
}

func (f *fakeMetadata) FindByStreamIDs(ctx context.Context, streamIDs []string) (map[string]*cas.StreamMetadata, error) {
	return f.m, nil
}

type fakeAnchors struct {
	anchoredRequestIDs map[string]bool
}

func (f *fakeAnchors) FindByRequests(ctx context.Context, requestIDs []string) ([]*cas.Anchor, error) {
	var out []*cas.Anchor
	for _, id := range requestIDs {
		if f.anchoredRequestIDs[id] {
			out = append(out, &cas.Anchor{RequestID: id})
		}
	}
	return out, nil
}

func testCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func TestSelectOrdersByTimestampThenStreamID(t *testing.T) {
	now := time.Now()
	reqs := []*cas.Request{
		{ID: "r2", StreamID: "streamB", CID: testCID(t, "r2"), Timestamp: now},
		{ID: "r1", StreamID: "streamA", CID: testCID(t, "r1"), Timestamp: now},
		{ID: "r0", StreamID: "streamZ", CID: testCID(t, "r0"), Timestamp: now.Add(-time.Minute)},
	}
	sel := New(&fakeMetadata{m: map[string]*cas.StreamMetadata{}}, &fakeAnchors{})

	result, err := sel.Select(context.Background(), reqs, 0)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 3)
	assert.Equal(t, "streamZ", result.Accepted[0].StreamID)
	assert.Equal(t, "streamA", result.Accepted[1].StreamID)
	assert.Equal(t, "streamB", result.Accepted[2].StreamID)
}

func TestSelectFiltersAlreadyAnchored(t *testing.T) {
	reqs := []*cas.Request{
		{ID: "r1", StreamID: "s1", CID: testCID(t, "r1")},
		{ID: "r2", StreamID: "s2", CID: testCID(t, "r2")},
	}
	sel := New(&fakeMetadata{m: map[string]*cas.StreamMetadata{}}, &fakeAnchors{anchoredRequestIDs: map[string]bool{"r1": true}})

	result, err := sel.Select(context.Background(), reqs, 0)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 1)
	require.Len(t, result.AlreadyAnchored, 1)
	assert.Equal(t, "s2", result.Accepted[0].StreamID)
	assert.Equal(t, "s1", result.AlreadyAnchored[0].StreamID)
}

func TestSelectKeepsOnlyNewestRequestPerStream(t *testing.T) {
	now := time.Now()
	reqs := []*cas.Request{
		{ID: "r1", StreamID: "s1", CID: testCID(t, "r1"), Timestamp: now},
		{ID: "r2", StreamID: "s1", CID: testCID(t, "r2"), Timestamp: now.Add(time.Minute)},
		{ID: "r3", StreamID: "s2", CID: testCID(t, "r3"), Timestamp: now},
	}
	sel := New(&fakeMetadata{m: map[string]*cas.StreamMetadata{}}, &fakeAnchors{})

	result, err := sel.Select(context.Background(), reqs, 0)
	require.NoError(t, err)
	require.Len(t, result.Accepted, 2)
	require.Len(t, result.Unprocessed, 1)
	assert.Equal(t, "r1", result.Unprocessed[0].ID)

	var s1 *cas.Candidate
	for _, c := range result.Accepted {
		if c.StreamID == "s1" {
			s1 = c
		}
	}
	require.NotNil(t, s1)
	assert.Equal(t, "r2", s1.Request.ID, "newest request wins")
}

func TestSelectTruncatesToCandidateLimit(t *testing.T) {
	reqs := []*cas.Request{
		{ID: "r1", StreamID: "s1", CID: testCID(t, "r1")},
		{ID: "r2", StreamID: "s2", CID: testCID(t, "r2")},
		{ID: "r3", StreamID: "s3", CID: testCID(t, "r3")},
	}
	sel := New(&fakeMetadata{m: map[string]*cas.StreamMetadata{}}, &fakeAnchors{})

	result, err := sel.Select(context.Background(), reqs, 2)
	require.NoError(t, err)
	assert.Len(t, result.Accepted, 2)
	assert.Len(t, result.Unprocessed, 1)
}
