// Copyright 2025 Ceramic Network
//
// Tree construction: candidates are sorted into a deterministic leaf order,
// paired bottom-up into a binary Merkle tree (odd nodes at a level carry
// forward unpaired), and the result is wrapped with a tree-metadata block
// holding the Bloom filter and stream id list.

package merkle

import (
	"fmt"
	"math/bits"
	"sort"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
)

// Leaf is one candidate's slot in the tree: its commit CID plus the stream
// metadata needed for sort order and Bloom membership.
type Leaf struct {
	StreamID    string
	CID         cid.Cid
	Controllers []string
	Model       *string
	Family      *string
}

// Tree is a built Merkle tree ready for CAR export: the full set of blocks
// (internal nodes, metadata, leaves are not re-encoded since they already
// exist on the network) plus the root CID and each leaf's direct path.
type Tree struct {
	Root   cid.Cid
	Blocks []Block
	Paths  map[string]string // streamID -> "0/1/0" path from root to leaf

	// ProofBlocks holds, per stream id, every internal node block lying on
	// that leaf's path to the root (root and metadata block included),
	// in the order needed to materialise that stream's witness CAR.
	ProofBlocks map[string][]Block
}

// SortLeaves orders candidates by model asc (nil last), then controller asc,
// then streamId asc, so that tree construction is deterministic across runs.
func SortLeaves(leaves []Leaf) {
	sort.SliceStable(leaves, func(i, j int) bool {
		a, b := leaves[i], leaves[j]
		am, bm := modelKey(a.Model), modelKey(b.Model)
		if am != bm {
			return am < bm
		}
		ac, bc := firstOrEmpty(a.Controllers), firstOrEmpty(b.Controllers)
		if ac != bc {
			return ac < bc
		}
		return a.StreamID < b.StreamID
	})
}

func modelKey(m *string) string {
	if m == nil {
		// nulls sort last: prefix with a byte no real model string can start
		// with would be safer, but "\xff" is simplest and well clear of
		// typical model-id alphabets.
		return "\xff"
	}
	return *m
}

func firstOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[0]
}

// Build lays out leaves into a binary tree bounded by maxDepth (spec's
// merkleDepthLimit) and returns the full block set plus per-stream paths.
// Depth is ceil(log2(len(leaves))): the levels of pairwise hashing above the
// leaves, so up to 2^maxDepth leaves fit.
func Build(leaves []Leaf, maxDepth int) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("merkle: build: no leaves")
	}

	depth := bits.Len(uint(len(leaves) - 1)) // ceil(log2(n)), 0 for n==1
	if maxDepth > 0 && depth > maxDepth {
		// maxDepth <= 0 means unbounded, per spec.md §6.
		return nil, fmt.Errorf("%w: %d leaves need depth %d, limit is %d",
			cas.ErrTreeTooLarge, len(leaves), depth, maxDepth)
	}

	var blocks []Block
	paths := make(map[string]string, len(leaves))
	bits0 := make(map[string][]byte, len(leaves))
	proofBlocks := make(map[string][]Block, len(leaves))
	for _, l := range leaves {
		bits0[l.StreamID] = nil
	}

	level := make([]cid.Cid, len(leaves))
	owners := make([][]string, len(leaves)) // which stream ids descend from this level node
	for i, l := range leaves {
		level[i] = l.CID
		owners[i] = []string{l.StreamID}
	}

	for len(level) > 1 {
		var next []cid.Cid
		var nextOwners [][]string
		i := 0
		for i+1 < len(level) {
			left, right := level[i], level[i+1]
			block, err := linkNode(&left, &right, nil)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
			for _, sid := range owners[i] {
				bits0[sid] = append(bits0[sid], '0')
				proofBlocks[sid] = append(proofBlocks[sid], block)
			}
			for _, sid := range owners[i+1] {
				bits0[sid] = append(bits0[sid], '1')
				proofBlocks[sid] = append(proofBlocks[sid], block)
			}
			next = append(next, block.CID)
			nextOwners = append(nextOwners, append(append([]string{}, owners[i]...), owners[i+1]...))
			i += 2
		}
		if i < len(level) {
			// odd one out carries forward unpaired, no path bit consumed.
			next = append(next, level[i])
			nextOwners = append(nextOwners, owners[i])
		}
		level = next
		owners = nextOwners
	}

	metaBloom := NewBloom(len(leaves) * 4)
	streamIDs := make([]string, len(leaves))
	for i, l := range leaves {
		streamIDs[i] = l.StreamID
		for _, k := range streamMembershipKeys(l.StreamID, l.Controllers, l.Model, l.Family) {
			metaBloom.Add(k)
		}
	}
	metaBlock, err := encodeTreeMetadata(TreeMetadata{
		NumEntries: len(leaves),
		StreamIDs:  streamIDs,
		Bloom:      metaBloom,
	})
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, metaBlock)

	top := level[0]
	rootBlock, err := linkNode(&top, nil, &metaBlock.CID)
	if err != nil {
		return nil, err
	}
	blocks = append(blocks, rootBlock)

	// rootBlock -> top is itself a hop: top always sits at index 0 (left),
	// since the root's right slot is reserved for the nil companion and its
	// metadata link. bits0 accumulates leaf-to-root, nearest-leaf first, so
	// the full root-to-leaf path is that root hop followed by bits0 reversed.
	for sid, leafToRoot := range bits0 {
		path := make([]byte, 0, len(leafToRoot)+1)
		path = append(path, '0')
		for i := len(leafToRoot) - 1; i >= 0; i-- {
			path = append(path, leafToRoot[i])
		}
		paths[sid] = joinPath(path)

		leafProof := proofBlocks[sid]
		proof := make([]Block, 0, len(leafProof)+2)
		proof = append(proof, rootBlock, metaBlock)
		for i := len(leafProof) - 1; i >= 0; i-- {
			proof = append(proof, leafProof[i])
		}
		proofBlocks[sid] = proof
	}

	return &Tree{Root: rootBlock.CID, Blocks: blocks, Paths: paths, ProofBlocks: proofBlocks}, nil
}

func joinPath(path []byte) string {
	if len(path) == 0 {
		return ""
	}
	out := make([]byte, 0, len(path)*2-1)
	for i, b := range path {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, b)
	}
	return string(out)
}
