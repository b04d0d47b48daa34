// Package merkle builds the checkpoint commitment trees. Leaves are sha256
// hex strings (receipt link hashes) and the pairing function hashes the
// concatenated hex text of the two children, not their raw bytes, so every
// implementation that replays a checkpoint works from the same string form
// the ledger stores.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"
)

const hashHexLen = 2 * sha256.Size

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrInvalidHashLen = errors.New("invalid leaf hash")
	ErrInvalidIndex   = errors.New("invalid leaf index")
)

const (
	PositionLeft  = "left"
	PositionRight = "right"
)

// Tree is a fully materialized binary hash tree. Odd leaf sets are padded to
// the next power of two by repeating the last real leaf, so every batch size
// yields a well-defined root.
type Tree struct {
	// levels[0] is the padded leaf row; levels[len-1] is the single root.
	levels    [][]string
	leafCount int // real leaves, before padding
}

// Sibling is one step of an inclusion path.
type Sibling struct {
	Hash     string
	Position string
}

// Proof carries everything needed to re-derive the root from one leaf.
type Proof struct {
	LeafHash  string
	LeafIndex int
	Siblings  []Sibling
	Root      string
}

func pairHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + right))
	return hex.EncodeToString(sum[:])
}

// Build constructs the tree bottom-up over the given leaf hashes in order.
func Build(leafHashes []string) (*Tree, error) {
	if len(leafHashes) == 0 {
		return nil, ErrEmptyTree
	}
	for i, leaf := range leafHashes {
		if err := validateLeaf(leaf); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
	}

	padded := make([]string, len(leafHashes))
	copy(padded, leafHashes)
	for len(padded) < nextPowerOfTwo(len(leafHashes)) {
		padded = append(padded, padded[len(padded)-1])
	}

	levels := [][]string{padded}
	for len(levels[len(levels)-1]) > 1 {
		lower := levels[len(levels)-1]
		upper := make([]string, len(lower)/2)
		for i := range upper {
			upper[i] = pairHash(lower[2*i], lower[2*i+1])
		}
		levels = append(levels, upper)
	}

	return &Tree{levels: levels, leafCount: len(leafHashes)}, nil
}

// Root returns the tree's single top hash.
func (t *Tree) Root() string {
	return t.levels[len(t.levels)-1][0]
}

// LeafCount returns the number of real (unpadded) leaves.
func (t *Tree) LeafCount() int {
	return t.leafCount
}

// Height is ceil(log2(paddedLeafCount)).
func (t *Tree) Height() int {
	return len(t.levels) - 1
}

// NodeCount is 2*paddedLeafCount - 1.
func (t *Tree) NodeCount() int {
	return 2*len(t.levels[0]) - 1
}

// Prove walks up from the leaf at index, recording each level's sibling hash
// and which side it sits on.
func (t *Tree) Prove(index int) (Proof, error) {
	if index < 0 || index >= t.leafCount {
		return Proof{}, ErrInvalidIndex
	}

	siblings := make([]Sibling, 0, t.Height())
	pos := index
	for _, level := range t.levels[:len(t.levels)-1] {
		if pos%2 == 0 {
			siblings = append(siblings, Sibling{Hash: level[pos+1], Position: PositionRight})
		} else {
			siblings = append(siblings, Sibling{Hash: level[pos-1], Position: PositionLeft})
		}
		pos /= 2
	}

	return Proof{
		LeafHash:  t.levels[0][index],
		LeafIndex: index,
		Siblings:  siblings,
		Root:      t.Root(),
	}, nil
}

// VerifyProof folds each sibling onto the leaf hash in recorded order with
// the same pairing function Build uses and compares the result to the
// claimed root.
func VerifyProof(proof Proof) (bool, error) {
	if err := validateLeaf(proof.LeafHash); err != nil {
		return false, err
	}
	if err := validateLeaf(proof.Root); err != nil {
		return false, err
	}

	current := proof.LeafHash
	for _, sibling := range proof.Siblings {
		if err := validateLeaf(sibling.Hash); err != nil {
			return false, err
		}
		switch sibling.Position {
		case PositionLeft:
			current = pairHash(sibling.Hash, current)
		case PositionRight:
			current = pairHash(current, sibling.Hash)
		default:
			return false, fmt.Errorf("invalid sibling position %q", sibling.Position)
		}
	}
	return current == proof.Root, nil
}

func validateLeaf(hashHex string) error {
	if len(hashHex) != hashHexLen {
		return ErrInvalidHashLen
	}
	if _, err := hex.DecodeString(hashHex); err != nil {
		return ErrInvalidHashLen
	}
	return nil
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}
