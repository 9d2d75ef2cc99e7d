// Copyright 2025 Ceramic Network

package merkle

import (
	"bytes"
	"testing"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	varint "github.com/multiformats/go-varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCID(t *testing.T, seed string) cid.Cid {
	t.Helper()
	sum, err := mh.Sum([]byte(seed), mh.SHA2_256, -1)
	require.NoError(t, err)
	return cid.NewCidV1(cid.Raw, sum)
}

func TestSortLeavesOrdersByModelThenControllerThenStream(t *testing.T) {
	modelA, modelB := "modelA", "modelB"
	leaves := []Leaf{
		{StreamID: "s3", Model: nil},
		{StreamID: "s1", Model: &modelB},
		{StreamID: "s2", Model: &modelA, Controllers: []string{"did:z"}},
		{StreamID: "s0", Model: &modelA, Controllers: []string{"did:a"}},
	}
	SortLeaves(leaves)

	got := make([]string, len(leaves))
	for i, l := range leaves {
		got[i] = l.StreamID
	}
	assert.Equal(t, []string{"s0", "s2", "s1", "s3"}, got)
}

func TestBuildSingleLeaf(t *testing.T) {
	leaves := []Leaf{{StreamID: "only", CID: fakeCID(t, "only")}}
	tree, err := Build(leaves, 8)
	require.NoError(t, err)

	// single leaf: the only hop is rootBlock -> leaf, always bit '0'.
	assert.Equal(t, "0", tree.Paths["only"])
	assert.NotEmpty(t, tree.Blocks)
	assert.Len(t, tree.ProofBlocks["only"], 2) // root block + metadata block
}

func TestBuildPairsAndAssignsDistinctPaths(t *testing.T) {
	leaves := []Leaf{
		{StreamID: "a", CID: fakeCID(t, "a")},
		{StreamID: "b", CID: fakeCID(t, "b")},
		{StreamID: "c", CID: fakeCID(t, "c")},
	}
	tree, err := Build(leaves, 8)
	require.NoError(t, err)

	assert.NotEqual(t, tree.Paths["a"], tree.Paths["b"])
	// a,b pair first into "ab"; c carries forward unpaired and is then
	// paired with "ab" at the next level, becoming top's right child.
	assert.Equal(t, "0/0/0", tree.Paths["a"])
	assert.Equal(t, "0/0/1", tree.Paths["b"])
	assert.Equal(t, "0/1", tree.Paths["c"], "odd leaf carries forward unpaired")
}

func TestBuildAssignsRootToLeafPathsInCorrectOrder(t *testing.T) {
	// (s1,s2) -> AB, (s3,s4) -> CD, (AB,CD) -> top, wrapped by rootBlock.
	leaves := []Leaf{
		{StreamID: "s1", CID: fakeCID(t, "s1")},
		{StreamID: "s2", CID: fakeCID(t, "s2")},
		{StreamID: "s3", CID: fakeCID(t, "s3")},
		{StreamID: "s4", CID: fakeCID(t, "s4")},
	}
	tree, err := Build(leaves, 8)
	require.NoError(t, err)

	assert.Equal(t, "0/0/0", tree.Paths["s1"])
	assert.Equal(t, "0/0/1", tree.Paths["s2"])
	assert.Equal(t, "0/1/0", tree.Paths["s3"])
	assert.Equal(t, "0/1/1", tree.Paths["s4"])
}

func TestBuildRejectsTreeExceedingDepthBound(t *testing.T) {
	leaves := make([]Leaf, 9)
	for i := range leaves {
		leaves[i] = Leaf{StreamID: string(rune('a' + i)), CID: fakeCID(t, string(rune('a'+i)))}
	}
	_, err := Build(leaves, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, cas.ErrTreeTooLarge)
}

func TestBuildAllowsTreeExactlyAtDepthBound(t *testing.T) {
	leaves := make([]Leaf, 4)
	for i := range leaves {
		leaves[i] = Leaf{StreamID: string(rune('a' + i)), CID: fakeCID(t, string(rune('a'+i)))}
	}
	_, err := Build(leaves, 2)
	require.NoError(t, err)
}

func TestBuildTreatsZeroMaxDepthAsUnbounded(t *testing.T) {
	leaves := make([]Leaf, 9)
	for i := range leaves {
		leaves[i] = Leaf{StreamID: string(rune('a' + i)), CID: fakeCID(t, string(rune('a'+i)))}
	}
	_, err := Build(leaves, 0)
	require.NoError(t, err)
}

func TestFinalizeProducesValidCARsForEveryLeaf(t *testing.T) {
	streamID := "stream-1"
	commitCID := fakeCID(t, "commit")
	candidates := []*cas.Candidate{
		{StreamID: streamID, CID: commitCID, Metadata: &cas.StreamMetadata{Controllers: []string{"did:x"}}},
	}
	tree, err := BuildTree(candidates, 8)
	require.NoError(t, err)

	leaves := LeavesFromCandidates(candidates)
	txHash := fakeCID(t, "tx")
	result, err := Finalize(tree, "eip155:1", txHash, "", leaves)
	require.NoError(t, err)

	require.Contains(t, result.Commits, streamID)
	require.Contains(t, result.WitnessCAR, streamID)
	header, err := encodeCARHeader([]cid.Cid{result.Commits[streamID]})
	require.NoError(t, err)
	wantPrefix := append(varint.ToUvarint(uint64(len(header))), header...)
	assert.True(t, bytes.HasPrefix(result.WitnessCAR[streamID], wantPrefix))
	assert.NotEmpty(t, result.MerkleCAR)
}
