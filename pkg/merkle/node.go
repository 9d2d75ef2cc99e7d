// Copyright 2025 Ceramic Network
//
// Merkle node encoding: every node in the anchor tree — internal node,
// tree metadata, anchor proof, anchor commit — is a DAG-CBOR block whose
// CID is the CAR block key. This file builds those blocks with
// go-ipld-prime and computes their CIDs with go-cid/go-multihash.

package merkle

import (
	"bytes"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	mh "github.com/multiformats/go-multihash"
)

// blockPrefix is the CID prefix used for every block this package produces:
// CIDv1, dag-cbor codec, sha2-256 multihash.
var blockPrefix = cid.Prefix{
	Version:  1,
	Codec:    cid.DagCBOR,
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// Block is a CID-addressed DAG-CBOR block: the CAR unit of storage.
type Block struct {
	CID  cid.Cid
	Data []byte
}

// encodeNode serialises n to DAG-CBOR and wraps it as a content-addressed
// Block.
func encodeNode(n datamodel.Node) (Block, error) {
	var buf bytes.Buffer
	if err := dagcbor.Encode(n, &buf); err != nil {
		return Block{}, fmt.Errorf("merkle: encode node: %w", err)
	}
	c, err := blockPrefix.Sum(buf.Bytes())
	if err != nil {
		return Block{}, fmt.Errorf("merkle: compute cid: %w", err)
	}
	return Block{CID: c, Data: buf.Bytes()}, nil
}

// linkNode builds the DAG-CBOR form of an internal tree node:
// [left, right|null] or, on the root, [left, right|null, metadata].
func linkNode(left, right *cid.Cid, metadata *cid.Cid) (Block, error) {
	size := 2
	if metadata != nil {
		size = 3
	}
	nb := basicnode.Prototype.List.NewBuilder()
	la, err := nb.BeginList(int64(size))
	if err != nil {
		return Block{}, err
	}
	if err := assignLink(la.AssembleValue(), left); err != nil {
		return Block{}, err
	}
	if err := assignLink(la.AssembleValue(), right); err != nil {
		return Block{}, err
	}
	if metadata != nil {
		if err := assignLink(la.AssembleValue(), metadata); err != nil {
			return Block{}, err
		}
	}
	if err := la.Finish(); err != nil {
		return Block{}, err
	}
	return encodeNode(nb.Build())
}

func assignLink(na datamodel.NodeAssembler, c *cid.Cid) error {
	if c == nil {
		return na.AssignNull()
	}
	return na.AssignLink(cidlink.Link{Cid: *c})
}
