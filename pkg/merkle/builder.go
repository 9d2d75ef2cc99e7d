// Copyright 2025 Ceramic Network
//
// Builder ties leaf construction, tree building, and anchor-commit/CAR
// materialisation together into the single operation the anchor service
// (C10) drives: build a tree from candidates, then — once a transaction
// hash is known — produce one anchor commit and one witness CAR per
// candidate plus the full merkle CAR for the batch.

package merkle

import (
	"bytes"
	"fmt"

	"github.com/ceramicnetwork/cas-anchor/pkg/cas"
	"github.com/ipfs/go-cid"
)

// Result is everything the anchor service needs after a tree has been
// built and anchored: the merkle CAR, and per-stream commit CIDs plus
// witness CARs ready to persist and publish.
type Result struct {
	Root       cid.Cid
	ProofCID   cid.Cid
	MerkleCAR  []byte
	Commits    map[string]cid.Cid // streamID -> anchor commit CID
	WitnessCAR map[string][]byte  // streamID -> witness CAR bytes
}

// LeavesFromCandidates converts candidates into tree leaves. Candidates
// already filtered for AlreadyAnchored by the candidate selector (C7).
func LeavesFromCandidates(candidates []*cas.Candidate) []Leaf {
	leaves := make([]Leaf, 0, len(candidates))
	for _, c := range candidates {
		var controllers []string
		var model, family *string
		if c.Metadata != nil {
			controllers = c.Metadata.Controllers
			model = c.Metadata.Model
			family = c.Metadata.Family
		}
		leaves = append(leaves, Leaf{
			StreamID:    c.StreamID,
			CID:         c.CID,
			Controllers: controllers,
			Model:       model,
			Family:      family,
		})
	}
	return leaves
}

// BuildTree sorts and builds a tree from candidates, bounded by maxDepth.
func BuildTree(candidates []*cas.Candidate, maxDepth int) (*Tree, error) {
	leaves := LeavesFromCandidates(candidates)
	SortLeaves(leaves)
	return Build(leaves, maxDepth)
}

// Finalize takes a built tree plus the on-chain transaction identity and
// produces the anchor commit + witness CAR for every leaf, and the merkle
// CAR for the whole batch.
func Finalize(tree *Tree, chainID string, txHash cid.Cid, txType string, leaves []Leaf) (*Result, error) {
	proof := AnchorProof{Root: tree.Root, ChainID: chainID, TxHash: txHash, TxType: txType}
	proofBlock, err := encodeAnchorProof(proof)
	if err != nil {
		return nil, fmt.Errorf("merkle: encode anchor proof: %w", err)
	}

	merkleBlocks := append(append([]Block{}, tree.Blocks...), proofBlock)

	result := &Result{
		Root:       tree.Root,
		ProofCID:   proofBlock.CID,
		Commits:    make(map[string]cid.Cid, len(leaves)),
		WitnessCAR: make(map[string][]byte, len(leaves)),
	}

	for _, l := range leaves {
		leafID, err := StreamLeafID(l.StreamID, l.CID)
		if err != nil {
			return nil, fmt.Errorf("merkle: leaf id for %s: %w", l.StreamID, err)
		}
		path, ok := tree.Paths[l.StreamID]
		if !ok {
			return nil, fmt.Errorf("merkle: no path recorded for stream %s", l.StreamID)
		}
		commitBlock, err := encodeAnchorCommit(AnchorCommit{
			ID:    leafID,
			Prev:  l.CID,
			Proof: proofBlock.CID,
			Path:  path,
		})
		if err != nil {
			return nil, fmt.Errorf("merkle: encode anchor commit for %s: %w", l.StreamID, err)
		}

		merkleBlocks = append(merkleBlocks, commitBlock)
		result.Commits[l.StreamID] = commitBlock.CID

		witness := append(append([]Block{}, tree.ProofBlocks[l.StreamID]...), proofBlock, commitBlock)
		var buf bytes.Buffer
		if err := WriteCAR(&buf, []cid.Cid{commitBlock.CID}, witness); err != nil {
			return nil, fmt.Errorf("merkle: write witness car for %s: %w", l.StreamID, err)
		}
		result.WitnessCAR[l.StreamID] = buf.Bytes()
	}

	var merkleBuf bytes.Buffer
	if err := WriteCAR(&merkleBuf, []cid.Cid{tree.Root}, merkleBlocks); err != nil {
		return nil, fmt.Errorf("merkle: write merkle car: %w", err)
	}
	result.MerkleCAR = merkleBuf.Bytes()

	return result, nil
}
