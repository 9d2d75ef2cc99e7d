// Copyright 2025 Ceramic Network

package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	mh "github.com/multiformats/go-multihash"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
)

func TestBumpedValueWithNoPreviousUsesAttemptScaledEstimate(t *testing.T) {
	estimate := big.NewInt(1000)
	got := bumpedValue(estimate, nil, 2, 0.1)
	assert.Equal(t, big.NewInt(1200), got) // 1000 * 1.2
}

func TestBumpedValuePrefersTenPercentBumpOverPriorWhenHigher(t *testing.T) {
	estimate := big.NewInt(100)
	prev := big.NewInt(1000)
	got := bumpedValue(estimate, prev, 0, 0.1)
	assert.Equal(t, big.NewInt(1100), got) // prev*1.10 beats estimate*1.0
}

func testRootCID(t *testing.T) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte("root"), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.DagCBOR, sum)
}

func TestBuildCallDataLegacyModeUsesRootBytesAsData(t *testing.T) {
	c := &Client{useContractMode: false, fromAddress: zeroAddress()}
	root := testRootCID(t)

	to, data, err := c.buildCallData(root)
	require.NoError(t, err)
	assert.Equal(t, c.fromAddress, to)
	assert.Equal(t, root.Bytes(), data)
}

func TestBuildCallDataContractModePacksAnchorDagCbor(t *testing.T) {
	contractABI, err := abi.JSON(strings.NewReader(anchorDagCborABI))
	require.NoError(t, err)

	c := &Client{useContractMode: true, contractABI: contractABI, contractAddress: zeroAddress()}
	root := testRootCID(t)

	to, data, err := c.buildCallData(root)
	require.NoError(t, err)
	assert.Equal(t, c.contractAddress, to)
	assert.True(t, len(data) > 4) // selector + packed bytes32
}

func zeroAddress() (a [20]byte) { return a }
