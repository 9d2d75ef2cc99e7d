// Copyright 2025 Ceramic Network
//
// Candidate Selector (C7): groups requests into per-stream candidates and
// filters already-anchored ones, per spec.md §4.3.
package candidate

import (
	"context"
	"fmt"
	"sort"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
)

// MetadataLookup resolves a stream's genesis-header metadata; backed by
// the Metadata Store (C4) in production, a fake in tests.
type MetadataLookup interface {
	FindByStreamIDs(ctx context.Context, streamIDs []string) (map[string]*cas.StreamMetadata, error)
}

// AnchorLookup resolves existing anchors by request id; backed by the
// Anchor Store (C3).
type AnchorLookup interface {
	FindByRequests(ctx context.Context, requestIDs []string) ([]*cas.Anchor, error)
}

// Result groups the candidates a batch produces, per spec.md §4.3 step 5.
type Result struct {
	Accepted        []*cas.Candidate
	AlreadyAnchored []*cas.Candidate
	Unprocessed     []*cas.Request
}

// Selector turns a flat request list into grouped, ordered candidates.
type Selector struct {
	metadata MetadataLookup
	anchors  AnchorLookup
}

// New builds a Selector.
func New(metadata MetadataLookup, anchors AnchorLookup) *Selector {
	return &Selector{metadata: metadata, anchors: anchors}
}

// Select implements spec.md §4.3: one candidate per stream (the input,
// typically a PROCESSING batch from RequestStore.BatchProcessing, may hold
// several requests for the same stream, and only one per stream is kept
// here, per the Candidate data model's "one per stream per batch"
// invariant), sorted by request timestamp then stream id, with
// already-anchored requests filtered out of the tree-building set and
// excess beyond candidateLimit reported as unprocessed.
func (s *Selector) Select(ctx context.Context, requests []*cas.Request, candidateLimit int) (*Result, error) {
	result := &Result{}
	winners := pickStreamWinners(requests, &result.Unprocessed)

	streamIDs := make([]string, len(winners))
	for i, r := range winners {
		streamIDs[i] = r.StreamID
	}
	metadataByStream, err := s.metadata.FindByStreamIDs(ctx, streamIDs)
	if err != nil {
		return nil, fmt.Errorf("candidate: load metadata: %w", err)
	}

	candidates := make([]*cas.Candidate, len(winners))
	requestIDs := make([]string, len(winners))
	for i, r := range winners {
		candidates[i] = &cas.Candidate{
			StreamID: r.StreamID,
			Request:  r,
			Metadata: metadataByStream[r.StreamID],
			CID:      r.CID,
		}
		requestIDs[i] = r.ID
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Request, candidates[j].Request
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.StreamID < b.StreamID
	})

	anchors, err := s.anchors.FindByRequests(ctx, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("candidate: load existing anchors: %w", err)
	}
	anchored := make(map[string]bool, len(anchors))
	for _, a := range anchors {
		anchored[a.RequestID] = true
	}

	for _, c := range candidates {
		if anchored[c.Request.ID] {
			c.AlreadyAnchored = true
			result.AlreadyAnchored = append(result.AlreadyAnchored, c)
			continue
		}

		if candidateLimit > 0 && len(result.Accepted) >= candidateLimit {
			result.Unprocessed = append(result.Unprocessed, c.Request)
			continue
		}
		result.Accepted = append(result.Accepted, c)
	}

	return result, nil
}

// pickStreamWinners groups requests by stream id and keeps only the newest
// request per stream (ties broken by request id), per the Candidate data
// model's "request is the winner when multiple requests target the same
// stream" rule. Losing requests are appended to unprocessed: their status
// is left unchanged, same as a candidate truncated by candidateLimit.
func pickStreamWinners(requests []*cas.Request, unprocessed *[]*cas.Request) []*cas.Request {
	bestByStream := make(map[string]*cas.Request, len(requests))
	for _, r := range requests {
		cur, ok := bestByStream[r.StreamID]
		if !ok || r.Timestamp.After(cur.Timestamp) || (r.Timestamp.Equal(cur.Timestamp) && r.ID > cur.ID) {
			if ok {
				*unprocessed = append(*unprocessed, cur)
			}
			bestByStream[r.StreamID] = r
			continue
		}
		*unprocessed = append(*unprocessed, r)
	}

	winners := make([]*cas.Request, 0, len(bestByStream))
	for _, r := range requests {
		if bestByStream[r.StreamID] == r {
			winners = append(winners, r)
			delete(bestByStream, r.StreamID) // dedupe: keep first encounter only
		}
	}
	return winners
}
