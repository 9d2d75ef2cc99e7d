// Package cas holds the storage-agnostic domain types shared across the
// anchoring pipeline: requests, anchors, candidates, and the transient
// records produced while building and submitting one batch.
package cas

import (
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
)

// Status is the lifecycle state of a Request.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
	StatusReady
	StatusReplaced
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusProcessing:
		return "PROCESSING"
	case StatusCompleted:
		return "COMPLETED"
	case StatusFailed:
		return "FAILED"
	case StatusReady:
		return "READY"
	case StatusReplaced:
		return "REPLACED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the pipeline will never act on a request in this
// status again (COMPLETED, REPLACED). FAILED is retryable within a window
// and therefore not terminal.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusReplaced
}

// ParseStatus is the inverse of String, used when scanning the status
// column back out of Postgres.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "PROCESSING":
		return StatusProcessing, nil
	case "COMPLETED":
		return StatusCompleted, nil
	case "FAILED":
		return StatusFailed, nil
	case "READY":
		return StatusReady, nil
	case "REPLACED":
		return StatusReplaced, nil
	default:
		return 0, fmt.Errorf("cas: unknown request status %q", s)
	}
}

// Request is a client's demand that one commit CID on one stream be anchored.
type Request struct {
	ID        string
	CID       cid.Cid
	StreamID  string
	Status    Status
	Message   string
	Pinned    bool
	Origin    string
	Timestamp time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Anchor is the result of successfully anchoring one request.
type Anchor struct {
	RequestID string
	CID       cid.Cid
	ProofCID  cid.Cid
	Path      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StreamMetadata is the subset of a stream's genesis-commit header the
// pipeline needs for leaf ordering and the TreeMetadata Bloom filter.
type StreamMetadata struct {
	StreamID    string
	Controllers []string
	Model       *string
	Family      *string
	Schema      *string
	Tags        []string
	UsedAt      time.Time
}

// FirstController returns the first controller, or "" if there are none.
func (m *StreamMetadata) FirstController() string {
	if m == nil || len(m.Controllers) == 0 {
		return ""
	}
	return m.Controllers[0]
}

// Candidate is the per-stream record the pipeline actually anchors: one
// stream yields one candidate yields one Merkle leaf. Transient, never
// persisted.
type Candidate struct {
	StreamID        string
	Request         *Request
	Metadata        *StreamMetadata
	CID             cid.Cid
	AlreadyAnchored bool
}

// Transaction is the result of one successful on-chain submission.
type Transaction struct {
	Chain          string // CAIP-2, e.g. "eip155:1337"
	TxHash         string
	BlockNumber    uint64
	BlockTimestamp time.Time
}
