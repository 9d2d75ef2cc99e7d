// Copyright 2025 Ceramic Network
//
// A minimal CARv1 writer. Rather than importing go-car/v2, this writes the
// documented wire format directly on go-cid, go-ipld-prime's dagcbor codec, and go-multiformats'
// varint: a varint-prefixed DAG-CBOR header {roots, version}, followed by
// varint-prefixed (cid-bytes || block-bytes) entries.

package merkle

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/codec/dagcbor"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	varint "github.com/multiformats/go-varint"
)

// WriteCAR writes a CARv1 stream with the given roots followed by blocks,
// in the order given. Callers are responsible for ordering blocks so that
// duplicates aren't written twice.
func WriteCAR(w io.Writer, roots []cid.Cid, blocks []Block) error {
	header, err := encodeCARHeader(roots)
	if err != nil {
		return err
	}
	if err := writeLD(w, header); err != nil {
		return fmt.Errorf("merkle: write car header: %w", err)
	}
	for _, b := range blocks {
		if err := writeBlock(w, b); err != nil {
			return err
		}
	}
	return nil
}

func encodeCARHeader(roots []cid.Cid) ([]byte, error) {
	nb := basicnode.Prototype.Map.NewBuilder()
	ma, err := nb.BeginMap(2)
	if err != nil {
		return nil, err
	}
	ma.AssembleKey().AssignString("roots")
	ra, err := ma.AssembleValue().BeginList(int64(len(roots)))
	if err != nil {
		return nil, err
	}
	for _, r := range roots {
		if err := ra.AssembleValue().AssignLink(cidlink.Link{Cid: r}); err != nil {
			return nil, err
		}
	}
	if err := ra.Finish(); err != nil {
		return nil, err
	}
	ma.AssembleKey().AssignString("version")
	ma.AssembleValue().AssignInt(1)
	if err := ma.Finish(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := dagcbor.Encode(nb.Build(), &buf); err != nil {
		return nil, fmt.Errorf("merkle: encode car header: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBlock(w io.Writer, b Block) error {
	payload := make([]byte, 0, len(b.CID.Bytes())+len(b.Data))
	payload = append(payload, b.CID.Bytes()...)
	payload = append(payload, b.Data...)
	if err := writeLD(w, payload); err != nil {
		return fmt.Errorf("merkle: write car block %s: %w", b.CID, err)
	}
	return nil
}

func writeLD(w io.Writer, data []byte) error {
	prefix := varint.ToUvarint(uint64(len(data)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
