package merkle

import (
	"errors"
	"fmt"
)

// ErrEmptyTree is returned when building a tree without leaves.
var ErrEmptyTree = errors.New("merkle: no leaves")

// Tree is a built snapshot tree.
type Tree struct {
	Root   Hash
	levels [][]Hash
}

// BuildTree hashes leaves in the given order and pairs them level by level.
// The last node of an odd-sized level is promoted unchanged.
func BuildTree(leaves []Leaf) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	level := make([]Hash, len(leaves))
	for i, l := range leaves {
		h, err := l.Hash()
		if err != nil {
			return nil, fmt.Errorf("leaf %d (%s): %w", i, l.Address, err)
		}
		level[i] = h
	}

	levels := [][]Hash{level}
	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, NodeHash(level[i], level[i+1]))
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{Root: level[0], levels: levels}, nil
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Proof returns the sibling path for the leaf at index i.
func (t *Tree) Proof(i int) (ProofPath, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("merkle: leaf index %d out of range [0,%d)", i, t.Len())
	}
	var proof ProofPath
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i /= 2
	}
	return proof, nil
}
