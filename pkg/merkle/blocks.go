// Copyright 2025 Ceramic Network
//
// DAG-CBOR block constructors for the anchor proof, anchor commit, and
// tree-metadata blocks described in spec §6.

package merkle

import (
	"fmt"

	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
)

// TreeMetadata commits numEntries, the stream id set, and a Bloom filter
// over "streamid-*"/"model-*"/"controller-*" strings into the root node.
type TreeMetadata struct {
	NumEntries int
	StreamIDs  []string
	Bloom      *Bloom
}

func encodeTreeMetadata(m TreeMetadata) (Block, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(3)
	if err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("numEntries")
	ma.AssembleValue().AssignInt(int64(m.NumEntries))

	ma.AssembleKey().AssignString("streamIds")
	sa, err := ma.AssembleValue().BeginList(int64(len(m.StreamIDs)))
	if err != nil {
		return Block{}, err
	}
	for _, id := range m.StreamIDs {
		sa.AssembleValue().AssignString(id)
	}
	if err := sa.Finish(); err != nil {
		return Block{}, err
	}

	ma.AssembleKey().AssignString("bloom")
	ma.AssembleValue().AssignBytes(m.Bloom.Bytes())

	if err := ma.Finish(); err != nil {
		return Block{}, err
	}
	return encodeNode(nb.Build())
}

// AnchorProof is the block shared by every anchor commit in one batch:
// {root, chainId, txHash, txType?}.
type AnchorProof struct {
	Root    cid.Cid
	ChainID string // CAIP-2, e.g. "eip155:1"
	TxHash  cid.Cid
	TxType  string // "f(bytes32)" in contract mode, "" (omitted) in legacy mode
}

func encodeAnchorProof(p AnchorProof) (Block, error) {
	size := 3
	if p.TxType != "" {
		size = 4
	}
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(int64(size))
	if err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("root")
	if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: p.Root}); err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("chainId")
	ma.AssembleValue().AssignString(p.ChainID)
	ma.AssembleKey().AssignString("txHash")
	if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: p.TxHash}); err != nil {
		return Block{}, err
	}
	if p.TxType != "" {
		ma.AssembleKey().AssignString("txType")
		ma.AssembleValue().AssignString(p.TxType)
	}
	if err := ma.Finish(); err != nil {
		return Block{}, err
	}
	return encodeNode(nb.Build())
}

// AnchorCommit links a stream's previous tip to the batch's anchor proof
// via a Merkle path: {id, prev, proof, path}.
type AnchorCommit struct {
	ID    cid.Cid // streamId.cid per spec §4.6 step 8
	Prev  cid.Cid // the candidate's commit cid
	Proof cid.Cid // the anchor proof cid
	Path  string  // "d/d/..." of "0"/"1" segments
}

func encodeAnchorCommit(c AnchorCommit) (Block, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(4)
	if err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("id")
	if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: c.ID}); err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("prev")
	if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: c.Prev}); err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("proof")
	if err := ma.AssembleValue().AssignLink(cidlink.Link{Cid: c.Proof}); err != nil {
		return Block{}, err
	}
	ma.AssembleKey().AssignString("path")
	ma.AssembleValue().AssignString(c.Path)
	if err := ma.Finish(); err != nil {
		return Block{}, err
	}
	return encodeNode(nb.Build())
}

// StreamLeafID derives the CID that identifies one stream's leaf in an
// anchor commit's "id" field: the DAG-CBOR encoding of "<streamId>.<cid>".
func StreamLeafID(streamID string, commit cid.Cid) (cid.Cid, error) {
	nb := basicnode.Prototype.String.NewBuilder()
	nb.AssignString(fmt.Sprintf("%s.%s", streamID, commit.String()))
	b, err := encodeNode(nb.Build())
	if err != nil {
		return cid.Undef, err
	}
	return b.CID, nil
}
