package ledger

import (
	"context"

	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/pkg/types"
	"github.com/asurechain/ledger/pkg/workerpool"
)

// VerifyBlocks checks a chain given as a block slice, genesis first, and
// returns the first *IntegrityViolation by index, or nil.
//
// Genesis must sit at index 0 with the sentinel predecessor and a hash that
// recomputes from its fields. Every later block is checked for
//
//	linkage: Index is its position and PrevHash equals the predecessor's stored Hash
//	content: Hash equals ComputeHash of the stored fields
//	work:    Hash has at least Difficulty leading zeros
//
// in that order. Content hashes are recomputed on up to workers goroutines.
func VerifyBlocks(blocks []*types.Block, workers int) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	computed := recomputeHashes(blocks, workers)

	genesis := blocks[0]
	if genesis.Index != 0 || genesis.PrevHash != types.GenesisPrevHash {
		return &IntegrityViolation{Index: 0, Kind: LinkageBroken}
	}
	if computed[0] != genesis.Hash {
		return &IntegrityViolation{Index: 0, Kind: HashMismatch}
	}

	for i := 1; i < len(blocks); i++ {
		block := blocks[i]
		index := uint64(i)

		if block.Index != index || block.PrevHash != blocks[i-1].Hash {
			return &IntegrityViolation{Index: index, Kind: LinkageBroken}
		}
		if computed[i] != block.Hash {
			return &IntegrityViolation{Index: index, Kind: HashMismatch}
		}
		if !pow.MeetsDifficulty(block.Hash, block.Difficulty) {
			return &IntegrityViolation{Index: index, Kind: InsufficientWork}
		}
	}

	return nil
}

// recomputeHashes returns ComputeHash for every block. A block whose payload
// can no longer be canonically encoded gets an empty hash, which never matches.
func recomputeHashes(blocks []*types.Block, workers int) []string {
	computed := make([]string, len(blocks))

	if workers <= 1 || len(blocks) < 2*workers {
		for i, block := range blocks {
			computed[i], _ = ComputeHash(block)
		}
		return computed
	}

	indexes := make([]int, len(blocks))
	for i := range indexes {
		indexes[i] = i
	}

	// Each index writes its own slot; the process func never fails
	_ = workerpool.Process(context.Background(), workers, indexes, func(_ context.Context, i int) error {
		computed[i], _ = ComputeHash(blocks[i])
		return nil
	}, nil)

	return computed
}
