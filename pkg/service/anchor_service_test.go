// Copyright 2025 Ceramic Network

package service

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxHashCIDIsStableAndRawCodec(t *testing.T) {
	a, err := txHashCID("0xabc123")
	require.NoError(t, err)
	b, err := txHashCID("0xabc123")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, uint64(cid.Raw), a.Prefix().Codec)
}

func TestTxHashCIDDistinguishesDifferentHashes(t *testing.T) {
	a, err := txHashCID("0xaaa")
	require.NoError(t, err)
	b, err := txHashCID("0xbbb")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
