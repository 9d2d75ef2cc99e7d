// Copyright 2025 Ceramic Network

package merkle

import (
	"github.com/bits-and-blooms/bloom/v3"
)

// falsePositiveRate is the target false-positive rate for the tree metadata
// Bloom filter, per spec §6.
const falsePositiveRate = 1e-4

// Bloom wraps bits-and-blooms/bloom/v3 to give the tree metadata block a
// serialisable, fixed-shape filter over "streamid-*", "model-*",
// "controller-*" membership strings.
type Bloom struct {
	filter *bloom.BloomFilter
}

// NewBloom sizes a filter for n expected insertions at falsePositiveRate.
func NewBloom(n int) *Bloom {
	if n < 1 {
		n = 1
	}
	return &Bloom{filter: bloom.NewWithEstimates(uint(n), falsePositiveRate)}
}

func (b *Bloom) Add(s string) {
	b.filter.AddString(s)
}

func (b *Bloom) Test(s string) bool {
	return b.filter.TestString(s)
}

// Bytes returns the filter's binary encoding for embedding in the tree
// metadata block.
func (b *Bloom) Bytes() []byte {
	data, err := b.filter.MarshalBinary()
	if err != nil {
		// BloomFilter.MarshalBinary only fails on write errors from its
		// internal buffer, which never happen for an in-memory buffer.
		panic(err)
	}
	return data
}

// streamMembershipKeys returns the Bloom membership strings a candidate's
// stream metadata contributes to the tree: the stream id key, one per
// controller, plus the model and family keys when present.
func streamMembershipKeys(streamID string, controllers []string, model, family *string) []string {
	keys := make([]string, 0, len(controllers)+3)
	keys = append(keys, "streamid-"+streamID)
	for _, c := range controllers {
		keys = append(keys, "controller-"+c)
	}
	if model != nil {
		keys = append(keys, "model-"+*model)
	}
	if family != nil {
		keys = append(keys, "family-"+*family)
	}
	return keys
}
