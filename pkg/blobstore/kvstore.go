// Copyright 2025 Ceramic Network
//
// KVStore adapts cometbft-db's dbm.DB to the blob Store interface: an
// embedded option between MemoryStore and the cloud-backed S3Store, as
// durable as the dbm.DB it wraps (the "kv" backend built by New uses an
// in-memory memdb, which is not durable). Adapted from the teacher's pkg/kvdb.KVAdapter, which wrapped
// the same dbm.DB for ledger key/value state; here it stores CAR bytes
// keyed by CID instead.
package blobstore

import (
	"context"
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/ipfs/go-cid"
)

// KVStore wraps a cometbft-db dbm.DB as a content-addressed blob store.
type KVStore struct {
	db dbm.DB
}

// NewKVStore wraps an existing dbm.DB.
func NewKVStore(db dbm.DB) *KVStore {
	return &KVStore{db: db}
}

// NewMemDBStore opens an in-memory cometbft-db instance: unlike
// MemoryStore, this goes through the dbm.DB interface. It is what the "kv"
// backend uses; no persistent backend is opened by this package.
func NewMemDBStore() *KVStore {
	return &KVStore{db: dbm.NewMemDB()}
}

func (k *KVStore) Put(_ context.Context, c cid.Cid, data []byte) error {
	if err := k.db.SetSync([]byte(c.String()), data); err != nil {
		return fmt.Errorf("blobstore: kv put %s: %w", c, err)
	}
	return nil
}

func (k *KVStore) Get(_ context.Context, c cid.Cid) ([]byte, bool, error) {
	v, err := k.db.Get([]byte(c.String()))
	if err != nil {
		return nil, false, fmt.Errorf("blobstore: kv get %s: %w", c, err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

func newKVStoreFromOptions(*options) (Store, error) {
	return NewMemDBStore(), nil
}
