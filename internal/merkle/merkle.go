// Package merkle builds merkle roots and inclusion proofs over block hashes.
// A root over every block hash of the chain is the ledger checkpoint.
package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/asurechain/ledger/internal/crypto"
)

// ProofStep is one sibling on the path from a leaf to the root
type ProofStep struct {
	Sibling []byte `json:"sibling"`
	Left    bool   `json:"left"` // Sibling is the left operand
}

// BuildMerkleRoot constructs a merkle root from leaf hashes.
// If a level has an odd number of nodes, the last one is duplicated.
func BuildMerkleRoot(leaves [][]byte) []byte {
	if len(leaves) == 0 {
		return make([]byte, 32)
	}

	tree := BuildMerkleTree(leaves)
	return tree[len(tree)-1][0]
}

// BuildMerkleTree builds the complete merkle tree and returns all levels, leaves first
func BuildMerkleTree(leaves [][]byte) [][][]byte {
	if len(leaves) == 0 {
		return nil
	}

	var tree [][][]byte
	currentLevel := make([][]byte, len(leaves))
	copy(currentLevel, leaves)
	tree = append(tree, currentLevel)

	for len(currentLevel) > 1 {
		if len(currentLevel)%2 != 0 {
			currentLevel = append(currentLevel, currentLevel[len(currentLevel)-1])
		}

		nextLevel := make([][]byte, 0, len(currentLevel)/2)
		for i := 0; i < len(currentLevel); i += 2 {
			nextLevel = append(nextLevel, hashPair(currentLevel[i], currentLevel[i+1]))
		}

		currentLevel = nextLevel
		tree = append(tree, currentLevel)
	}

	return tree
}

// BuildProof returns the sibling path proving leaves[index] is under the root
func BuildProof(leaves [][]byte, index int) ([]ProofStep, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}

	tree := BuildMerkleTree(leaves)
	var proof []ProofStep
	for _, level := range tree[:len(tree)-1] {
		siblingIdx := index ^ 1
		if siblingIdx >= len(level) {
			// Odd level: the last node is paired with itself
			siblingIdx = index
		}
		proof = append(proof, ProofStep{
			Sibling: level[siblingIdx],
			Left:    siblingIdx < index,
		})
		index /= 2
	}

	return proof, nil
}

// VerifyProof checks that leaf combined along proof yields root
func VerifyProof(leaf []byte, proof []ProofStep, root []byte) bool {
	current := leaf
	for _, step := range proof {
		if step.Left {
			current = hashPair(step.Sibling, current)
		} else {
			current = hashPair(current, step.Sibling)
		}
	}
	return bytes.Equal(current, root)
}

// HexLeaves decodes hex-encoded block hashes into merkle leaves
func HexLeaves(hashes []string) ([][]byte, error) {
	leaves := make([][]byte, len(hashes))
	for i, h := range hashes {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("invalid hash at %d: %w", i, err)
		}
		leaves[i] = b
	}
	return leaves, nil
}

func hashPair(left, right []byte) []byte {
	combined := make([]byte, 0, len(left)+len(right))
	combined = append(combined, left...)
	combined = append(combined, right...)
	return crypto.DoubleHashBytes(combined)
}
