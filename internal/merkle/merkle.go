// Package merkle verifies and builds the sorted-pair, domain-separated
// Merkle trees that commit holder weight ranges for a snapshot.
//
// Leaves hash as sha256(0x00 || address || be128(start) || be128(end)) and
// internal nodes as sha256(0x01 || min(a, b) || max(a, b)). Because siblings
// are sorted before hashing, a proof is a plain list of sibling hashes.
package merkle

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"math/big"

	"github.com/R3E-Network/draw_auditor/internal/codec"
)

const (
	leafPrefix byte = 0x00
	nodePrefix byte = 0x01
)

// Hash is a 32-byte sha256 digest.
type Hash = [32]byte

// ProofPath lists sibling hashes from the leaf up to the root.
type ProofPath []Hash

// Leaf is the data committed for one holder.
type Leaf struct {
	Address string
	Start   *big.Int
	End     *big.Int
}

// LeafHash hashes a holder range. Bounds must fit in 128 bits.
func LeafHash(address string, start, end *big.Int) (Hash, error) {
	s, err := codec.Uint128ToBytesBE(start)
	if err != nil {
		return Hash{}, err
	}
	e, err := codec.Uint128ToBytesBE(end)
	if err != nil {
		return Hash{}, err
	}
	return sha256.Sum256(codec.ConcatBytes([]byte{leafPrefix}, []byte(address), s[:], e[:])), nil
}

// Hash returns the leaf hash of l.
func (l Leaf) Hash() (Hash, error) {
	return LeafHash(l.Address, l.Start, l.End)
}

// NodeHash combines two siblings in sorted byte order.
func NodeHash(a, b Hash) Hash {
	lo, hi := a, b
	if bytes.Compare(a[:], b[:]) > 0 {
		lo, hi = b, a
	}
	return sha256.Sum256(codec.ConcatBytes([]byte{nodePrefix}, lo[:], hi[:]))
}

// RootFromProof folds proof into the leaf hash.
func RootFromProof(leaf Hash, proof ProofPath) Hash {
	current := leaf
	for _, sibling := range proof {
		current = NodeHash(current, sibling)
	}
	return current
}

// VerifyInclusion reports whether leaf is committed under root. It never
// fails: unencodable leaves, an all-zero root and any mismatch yield false.
func VerifyInclusion(root Hash, proof ProofPath, leaf Leaf) bool {
	if isZero(root) {
		return false
	}
	h, err := leaf.Hash()
	if err != nil {
		return false
	}
	got := RootFromProof(h, proof)
	return subtle.ConstantTimeCompare(got[:], root[:]) == 1
}

// VerifyInclusionHex is VerifyInclusion over hex-encoded root and proof, as
// exposed by the reward distributor's verify_inclusion query.
func VerifyInclusionHex(rootHex string, proofHex []string, leaf Leaf) bool {
	root, err := codec.Hash32FromHex(rootHex)
	if err != nil {
		return false
	}
	proof, err := ParseProofHex(proofHex)
	if err != nil {
		return false
	}
	return VerifyInclusion(root, proof, leaf)
}

// ParseProofHex decodes a list of hex sibling hashes.
func ParseProofHex(proofHex []string) (ProofPath, error) {
	proof := make(ProofPath, 0, len(proofHex))
	for _, s := range proofHex {
		h, err := codec.Hash32FromHex(s)
		if err != nil {
			return nil, err
		}
		proof = append(proof, h)
	}
	return proof, nil
}

// Hex encodes every sibling as lower-case hex.
func (p ProofPath) Hex() []string {
	out := make([]string, len(p))
	for i, h := range p {
		out[i] = codec.BytesToHex(h[:])
	}
	return out
}

func isZero(h Hash) bool {
	var zero Hash
	return subtle.ConstantTimeCompare(h[:], zero[:]) == 1
}
