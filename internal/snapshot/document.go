// Package snapshot reads the off-chain holder list published alongside each
// on-chain snapshot root and turns it into leaves and inclusion proofs.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/draw_auditor/internal/codec"
	"github.com/R3E-Network/draw_auditor/internal/domain/staking"
	"github.com/R3E-Network/draw_auditor/internal/merkle"
)

var (
	// ErrRootMismatch means the holder list does not hash to the expected root.
	ErrRootMismatch = errors.New("snapshot: holder list does not match merkle root")
	// ErrEpochMismatch means the document is for another epoch.
	ErrEpochMismatch = errors.New("snapshot: document epoch does not match")
	// ErrMalformedDocument means the document is not a valid holder list.
	ErrMalformedDocument = errors.New("snapshot: malformed document")
)

// Entry is one holder row.
type Entry struct {
	Leaf    staking.HolderLeaf
	Balance *big.Int
	Proof   merkle.ProofPath
}

// Document is a parsed snapshot file:
//
//	{"epoch": 7, "merkle_root": "<hex>", "total_weight": "1000",
//	 "holders": [{"address": "inj1...", "balance": "100",
//	              "cumulative_start": "0", "cumulative_end": "100",
//	              "proof": ["<hex>", ...]}]}
//
// merkle_root, total_weight, balance and proof are optional.
type Document struct {
	Epoch       uint64
	MerkleRoot  *[32]byte
	TotalWeight *big.Int
	Holders     []Entry
}

func malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedDocument, fmt.Sprintf(format, args...))
}

// Parse decodes a snapshot document. Integers must be JSON strings.
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, malformed("invalid json")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, malformed("expected object")
	}

	doc := &Document{}
	if epoch := root.Get("epoch"); epoch.Exists() {
		if epoch.Type != gjson.Number {
			return nil, malformed("epoch: expected number")
		}
		doc.Epoch = epoch.Uint()
	}
	if v := root.Get("merkle_root"); v.Exists() {
		h, err := codec.Hash32FromHex(v.String())
		if err != nil {
			return nil, fmt.Errorf("merkle_root: %w", err)
		}
		doc.MerkleRoot = &h
	}
	if v := root.Get("total_weight"); v.Exists() {
		w, err := uintString(v, "total_weight")
		if err != nil {
			return nil, err
		}
		doc.TotalWeight = w
	}

	holders, err := ParseHolders(root.Get("holders"))
	if err != nil {
		return nil, err
	}
	doc.Holders = holders
	return doc, nil
}

// ParseHolders decodes a holders array. Addresses must be unique.
func ParseHolders(holders gjson.Result) ([]Entry, error) {
	if !holders.IsArray() {
		return nil, malformed("holders: expected array")
	}
	var out []Entry
	seen := make(map[string]struct{})
	for i, h := range holders.Array() {
		e, err := parseEntry(h)
		if err != nil {
			return nil, fmt.Errorf("holder %d: %w", i, err)
		}
		if _, dup := seen[e.Leaf.Address]; dup {
			return nil, malformed("holder %d: duplicate address %s", i, e.Leaf.Address)
		}
		seen[e.Leaf.Address] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

func parseEntry(h gjson.Result) (Entry, error) {
	var e Entry
	addr := h.Get("address")
	if addr.Type != gjson.String || addr.String() == "" {
		return e, malformed("address: expected non-empty string")
	}
	e.Leaf.Address = addr.String()

	var err error
	if e.Leaf.CumulativeStart, err = uintString(h.Get("cumulative_start"), "cumulative_start"); err != nil {
		return e, err
	}
	if e.Leaf.CumulativeEnd, err = uintString(h.Get("cumulative_end"), "cumulative_end"); err != nil {
		return e, err
	}
	if b := h.Get("balance"); b.Exists() {
		if e.Balance, err = uintString(b, "balance"); err != nil {
			return e, err
		}
	}
	if p := h.Get("proof"); p.Exists() {
		if !p.IsArray() {
			return e, malformed("proof: expected array")
		}
		hexes := make([]string, 0, len(p.Array()))
		for _, s := range p.Array() {
			if s.Type != gjson.String {
				return e, malformed("proof: expected hex strings")
			}
			hexes = append(hexes, s.String())
		}
		if e.Proof, err = merkle.ParseProofHex(hexes); err != nil {
			return e, fmt.Errorf("proof: %w", err)
		}
	}
	return e, nil
}

func uintString(v gjson.Result, field string) (*big.Int, error) {
	if !v.Exists() {
		return nil, malformed("%s: missing", field)
	}
	if v.Type != gjson.String {
		return nil, malformed("%s: expected decimal string, got %s", field, v.Type)
	}
	n, err := codec.ParseUint128(v.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return n, nil
}

// Leaves returns the holder ranges in document order.
func (d *Document) Leaves() []staking.HolderLeaf {
	out := make([]staking.HolderLeaf, len(d.Holders))
	for i, h := range d.Holders {
		out[i] = h.Leaf
	}
	return out
}

// Proofs returns an inclusion proof per address. When every holder carries
// a proof those are returned as is and checked later by the audit. Otherwise
// the tree is rebuilt in document order and its root must equal root.
func (d *Document) Proofs(root [32]byte) (map[string]merkle.ProofPath, error) {
	proofs := make(map[string]merkle.ProofPath, len(d.Holders))
	complete := true
	for _, h := range d.Holders {
		if h.Proof == nil {
			complete = false
			break
		}
		proofs[h.Leaf.Address] = h.Proof
	}
	if complete {
		return proofs, nil
	}

	tree, err := d.Tree()
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(tree.Root[:], root[:]) {
		return nil, fmt.Errorf("%w: built %x, expected %x", ErrRootMismatch, tree.Root, root)
	}
	for i, h := range d.Holders {
		p, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		if h.Proof != nil {
			p = h.Proof
		}
		proofs[h.Leaf.Address] = p
	}
	return proofs, nil
}

// Tree builds the Merkle tree over the holders in document order.
func (d *Document) Tree() (*merkle.Tree, error) {
	leaves := make([]merkle.Leaf, len(d.Holders))
	for i, h := range d.Holders {
		leaves[i] = merkle.Leaf{Address: h.Leaf.Address, Start: h.Leaf.CumulativeStart, End: h.Leaf.CumulativeEnd}
	}
	return merkle.BuildTree(leaves)
}

// Check compares the document against the on-chain snapshot record.
func (d *Document) Check(snap staking.Snapshot) error {
	if d.Epoch != 0 && d.Epoch != snap.Epoch {
		return fmt.Errorf("%w: document %d, chain %d", ErrEpochMismatch, d.Epoch, snap.Epoch)
	}
	if d.MerkleRoot != nil && *d.MerkleRoot != snap.MerkleRoot {
		return fmt.Errorf("%w: document root %x, chain %x", ErrRootMismatch, *d.MerkleRoot, snap.MerkleRoot)
	}
	return nil
}
