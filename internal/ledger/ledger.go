// Package ledger implements the append-only, proof-of-work sealed hash chain.
//
// A Ledger is constructed once per process and shared by reference. All
// mutation goes through MintAndAppend, which is serialized; reads take a
// shared lock and never wait on proof-of-work.
package ledger

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/merkle"
	"github.com/asurechain/ledger/internal/metrics"
	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/pkg/types"
)

// Ledger owns the chain and its invariants
type Ledger struct {
	mu      sync.RWMutex // guards chain
	writeMu sync.Mutex   // serializes MintAndAppend end to end
	chain   []*types.Block

	difficulty atomic.Uint32
	opts       options
	sealer     *sealer
	logger     *zap.Logger

	subsMu  sync.RWMutex
	subs    map[int]func(*types.Block)
	nextSub int
}

// New creates a ledger holding only a freshly built genesis block.
// With a store configured the genesis block and difficulty are persisted.
func New(opts ...Option) (*Ledger, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := checkDifficulty(o.difficulty); err != nil {
		return nil, err
	}

	genesis, err := NewGenesisBlock(o.genesisPayload, o.now())
	if err != nil {
		return nil, err
	}

	if o.store != nil {
		if err := o.store.SaveBlock(genesis); err != nil {
			return nil, fmt.Errorf("failed to save genesis block: %w", err)
		}
		if err := o.store.SaveDifficulty(o.difficulty); err != nil {
			return nil, fmt.Errorf("failed to save difficulty: %w", err)
		}
	}

	l := newLedger(o, []*types.Block{genesis})
	l.logger.Info("Ledger initialized with genesis block",
		zap.String("hash", genesis.Hash),
		zap.Uint32("difficulty", o.difficulty))

	return l, nil
}

// Open rebuilds a ledger from a persisted chain. The chain is fully verified
// first; a chain with any violation is refused.
func Open(blocks []*types.Block, difficulty uint32, opts ...Option) (*Ledger, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	o.difficulty = difficulty
	if err := checkDifficulty(difficulty); err != nil {
		return nil, fmt.Errorf("persisted difficulty rejected: %w", err)
	}

	if err := VerifyBlocks(blocks, o.verifyWorkers); err != nil {
		return nil, fmt.Errorf("persisted chain rejected: %w", err)
	}

	chain := make([]*types.Block, len(blocks))
	copy(chain, blocks)

	l := newLedger(o, chain)
	l.logger.Info("Ledger loaded",
		zap.Int("height", len(chain)),
		zap.String("tip", chain[len(chain)-1].Hash),
		zap.Uint32("difficulty", difficulty))

	return l, nil
}

func newLedger(o options, chain []*types.Block) *Ledger {
	l := &Ledger{
		chain:  chain,
		opts:   o,
		sealer: newSealer(),
		logger: o.logger,
		subs:   make(map[int]func(*types.Block)),
	}
	l.difficulty.Store(o.difficulty)

	metrics.SetChainHeight(len(chain))
	metrics.SetDifficulty(o.difficulty)

	return l
}

// Close stops the sealing worker. Minting after Close fails with ErrClosed.
func (l *Ledger) Close() {
	l.sealer.close()
}

// Latest returns the chain tip
func (l *Ledger) Latest() (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.chain) == 0 {
		return nil, ErrEmptyChain
	}
	return l.chain[len(l.chain)-1], nil
}

// Difficulty returns the difficulty applied to the next sealed block
func (l *Ledger) Difficulty() uint32 {
	return l.difficulty.Load()
}

// SetDifficulty changes the difficulty for future blocks only.
// Blocks already in the chain keep the difficulty they were sealed under.
func (l *Ledger) SetDifficulty(difficulty uint32) error {
	if err := checkDifficulty(difficulty); err != nil {
		return err
	}

	if l.opts.store != nil {
		if err := l.opts.store.SaveDifficulty(difficulty); err != nil {
			return fmt.Errorf("failed to save difficulty: %w", err)
		}
	}

	old := l.difficulty.Swap(difficulty)
	metrics.SetDifficulty(difficulty)
	l.logger.Info("Difficulty changed", zap.Uint32("from", old), zap.Uint32("to", difficulty))

	return nil
}

// MintAndAppend seals payload into a new block on top of the current tip and
// returns the block's hash. This is the only operation that mutates the chain.
func (l *Ledger) MintAndAppend(ctx context.Context, payload types.Payload) (string, error) {
	block, err := l.mint(ctx, payload)
	if err != nil {
		return "", err
	}
	return block.Hash, nil
}

func (l *Ledger) mint(ctx context.Context, payload types.Payload) (*types.Block, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	tip, err := l.Latest()
	if err != nil {
		return nil, err
	}

	unsealed, err := NewUnsealedBlock(tip.Index+1, tip.Hash, payload, l.opts.now())
	if err != nil {
		return nil, err
	}

	difficulty := l.Difficulty()
	started := time.Now()
	block, err := l.sealer.seal(ctx, unsealed, difficulty, l.opts.maxNonce)
	metrics.ObserveMint(difficulty, err, started)
	if err != nil {
		return nil, fmt.Errorf("failed to seal block %d: %w", unsealed.Index(), err)
	}

	if l.opts.store != nil {
		if err := l.opts.store.SaveBlock(block); err != nil {
			return nil, fmt.Errorf("failed to save block %d: %w", block.Index, err)
		}
	}

	l.mu.Lock()
	l.chain = append(l.chain, block)
	height := len(l.chain)
	l.mu.Unlock()

	metrics.SetChainHeight(height)
	l.logger.Info("Block sealed",
		zap.Uint64("index", block.Index),
		zap.String("hash", block.Hash),
		zap.Uint64("nonce", block.Nonce),
		zap.Uint32("difficulty", difficulty),
		zap.Uint32("leading_zeros", pow.LeadingZeros(block.Hash)),
		zap.Duration("took", time.Since(started)))

	l.notify(block)

	return block, nil
}

// Contains reports whether a block with exactly this hash is in the chain
func (l *Ledger) Contains(hash string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, block := range l.chain {
		if block.Hash == hash {
			return true
		}
	}
	return false
}

// VerifyIntegrity re-verifies the whole chain from genesis and returns the
// first *IntegrityViolation found, or nil.
func (l *Ledger) VerifyIntegrity() error {
	err := VerifyBlocks(l.Blocks(), l.opts.verifyWorkers)

	result := "ok"
	if v, ok := AsViolation(err); ok {
		result = v.Kind.String()
		l.logger.Warn("Chain integrity violation", zap.Uint64("index", v.Index), zap.Stringer("kind", v.Kind))
	} else if err != nil {
		result = "error"
	}
	metrics.ObserveIntegrityCheck(result)

	return err
}

// Height returns the number of blocks, genesis included
func (l *Ledger) Height() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

// Block returns the block at index
func (l *Ledger) Block(index uint64) (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.chain)) {
		return nil, fmt.Errorf("%w: index %d", ErrBlockNotFound, index)
	}
	return l.chain[index], nil
}

// BlockByHash finds a block by its hash
func (l *Ledger) BlockByHash(hash string) (*types.Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, block := range l.chain {
		if block.Hash == hash {
			return block, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
}

// Blocks returns a snapshot of the whole chain.
// The returned slice is owned by the caller; the blocks are shared and must not be modified.
func (l *Ledger) Blocks() []*types.Block {
	return l.BlocksFrom(0)
}

// BlocksFrom returns a snapshot of the chain starting at index from
func (l *Ledger) BlocksFrom(from uint64) []*types.Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if from >= uint64(len(l.chain)) {
		return []*types.Block{}
	}
	out := make([]*types.Block, uint64(len(l.chain))-from)
	copy(out, l.chain[from:])
	return out
}

// Checkpoint returns the hex merkle root over every block hash in chain order
func (l *Ledger) Checkpoint() (string, error) {
	leaves, err := merkle.HexLeaves(l.hashes())
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(merkle.BuildMerkleRoot(leaves)), nil
}

// InclusionProof returns a merkle path proving hash is part of the current
// checkpoint, together with that checkpoint.
func (l *Ledger) InclusionProof(hash string) ([]merkle.ProofStep, string, error) {
	hashes := l.hashes()

	index := -1
	for i, h := range hashes {
		if h == hash {
			index = i
			break
		}
	}
	if index < 0 {
		return nil, "", fmt.Errorf("%w: %s", ErrBlockNotFound, hash)
	}

	leaves, err := merkle.HexLeaves(hashes)
	if err != nil {
		return nil, "", err
	}
	proof, err := merkle.BuildProof(leaves, index)
	if err != nil {
		return nil, "", err
	}
	return proof, hex.EncodeToString(merkle.BuildMerkleRoot(leaves)), nil
}

func (l *Ledger) hashes() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hashes := make([]string, len(l.chain))
	for i, block := range l.chain {
		hashes[i] = block.Hash
	}
	return hashes
}

// Subscribe registers fn to be called with every newly appended block.
// fn runs on the minting goroutine and must not block. The returned func unsubscribes.
func (l *Ledger) Subscribe(fn func(*types.Block)) func() {
	l.subsMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	l.subsMu.Unlock()

	return func() {
		l.subsMu.Lock()
		delete(l.subs, id)
		l.subsMu.Unlock()
	}
}

func (l *Ledger) notify(block *types.Block) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()

	for _, fn := range l.subs {
		fn(block)
	}
}
