// Copyright 2025 Ceramic Network
//
// Package blobstore abstracts content-addressed byte storage for the
// Merkle and witness CAR files produced by C6 (spec.md §4.9). Every
// implementation is keyed by CID string.
package blobstore

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
)

// Store is the content-addressed storage abstraction shared by every blob
// backend.
type Store interface {
	Put(ctx context.Context, c cid.Cid, data []byte) error
	Get(ctx context.Context, c cid.Cid) ([]byte, bool, error)
}

// New constructs a Store for the given backend name: "memory", "kv", or
// "s3". Unknown names are a configuration error, not a silent fallback.
func New(backend string, opts ...Option) (Store, error) {
	cfg := &options{}
	for _, opt := range opts {
		opt(cfg)
	}

	switch backend {
	case "memory", "":
		return NewMemoryStore(), nil
	case "kv":
		return newKVStoreFromOptions(cfg)
	case "s3":
		return newS3StoreFromOptions(cfg)
	default:
		return nil, fmt.Errorf("blobstore: unknown backend %q", backend)
	}
}

type options struct {
	s3Bucket string
	s3Region string
}

// Option configures backend-specific settings for New.
type Option func(*options)

// WithS3Bucket sets the bucket for the "s3" backend.
func WithS3Bucket(bucket string) Option {
	return func(o *options) { o.s3Bucket = bucket }
}

// WithS3Region sets the region for the "s3" backend.
func WithS3Region(region string) Option {
	return func(o *options) { o.s3Region = region }
}
