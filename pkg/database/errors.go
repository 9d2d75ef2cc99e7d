// Copyright 2025 Ceramic Network
//
// Package database provides sentinel errors for repository operations.

package database

import (
	"errors"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
)

// errMutexUnavailable aliases the shared cas sentinel so database-internal
// call sites can keep using errors.Is without importing cas everywhere.
var errMutexUnavailable = cas.ErrMutexUnavailable

// ErrRequestNotFound is returned when a request record is not found
var ErrRequestNotFound = errors.New("database: request not found")

// ErrAnchorNotFound is returned when an anchor record is not found
var ErrAnchorNotFound = errors.New("database: anchor not found")

// ErrMetadataNotFound is returned when a stream metadata record is not found
var ErrMetadataNotFound = errors.New("database: metadata not found")
