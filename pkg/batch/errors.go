// Copyright 2025 Ceramic Network

package batch

import "errors"

// ErrNilRequestStore is returned by NewPromoter when given a nil store.
var ErrNilRequestStore = errors.New("batch: request store cannot be nil")
