// Copyright 2025 Ceramic Network

package blobstore

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// MemoryStore is an in-process Store backed by a sync.Map, for tests and
// single-node development.
type MemoryStore struct {
	blocks sync.Map // cid string -> []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Put(_ context.Context, c cid.Cid, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blocks.Store(c.String(), cp)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, c cid.Cid) ([]byte, bool, error) {
	v, ok := m.blocks.Load(c.String())
	if !ok {
		return nil, false, nil
	}
	return v.([]byte), true, nil
}
