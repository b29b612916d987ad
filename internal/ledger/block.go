package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/asurechain/ledger/internal/crypto"
	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/pkg/types"
)

// UnsealedBlock is an exclusively owned block under construction.
// It becomes a *types.Block only through Seal; nothing else may observe it mid-seal.
type UnsealedBlock struct {
	index     uint64
	timestamp time.Time
	payload   types.Payload
	prevHash  string
	preimage  []byte
	nonce     uint64
	hash      string
	sealed    bool
}

// NewUnsealedBlock validates and canonicalizes payload and prepares a block for sealing.
// The payload is copied, so later changes to the caller's map do not affect the block.
func NewUnsealedBlock(index uint64, prevHash string, payload types.Payload, now time.Time) (*UnsealedBlock, error) {
	canonical, err := crypto.CanonicalPayload(payload)
	if err != nil {
		return nil, err
	}

	// Decode the canonical form so the stored payload re-encodes to identical bytes
	var owned types.Payload
	if err := json.Unmarshal(canonical, &owned); err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrInvalidPayload, err)
	}

	timestamp := time.UnixMilli(now.UnixMilli()).UTC()
	preimage := crypto.BlockPreimage(prevHash, timestamp, canonical)

	return &UnsealedBlock{
		index:     index,
		timestamp: timestamp,
		payload:   owned,
		prevHash:  prevHash,
		preimage:  preimage,
		hash:      crypto.HashBlock(preimage, 0),
	}, nil
}

// Index returns the sequence index the block will occupy
func (u *UnsealedBlock) Index() uint64 {
	return u.index
}

// Hash returns the hash for the current nonce
func (u *UnsealedBlock) Hash() string {
	return u.hash
}

// Seal searches for a nonce satisfying difficulty and returns the immutable sealed block.
// maxNonce bounds the search (pow.Unbounded for none).
func (u *UnsealedBlock) Seal(ctx context.Context, difficulty uint32, maxNonce uint64) (*types.Block, error) {
	if u.sealed {
		return nil, ErrAlreadySealed
	}

	nonce, hash, err := pow.Search(ctx, func(nonce uint64) string {
		return crypto.HashBlock(u.preimage, nonce)
	}, difficulty, maxNonce)
	if err != nil {
		return nil, err
	}

	u.nonce = nonce
	u.hash = hash
	u.sealed = true

	return &types.Block{
		Index:      u.index,
		Timestamp:  u.timestamp,
		Payload:    u.payload,
		PrevHash:   u.prevHash,
		Nonce:      u.nonce,
		Difficulty: difficulty,
		Hash:       u.hash,
	}, nil
}

// ComputeHash recomputes a block's content hash from its stored fields
func ComputeHash(b *types.Block) (string, error) {
	canonical, err := crypto.CanonicalPayload(b.Payload)
	if err != nil {
		return "", err
	}
	return crypto.HashBlock(crypto.BlockPreimage(b.PrevHash, b.Timestamp, canonical), b.Nonce), nil
}

// NewGenesisBlock builds the unsealed-difficulty genesis block for payload
func NewGenesisBlock(payload types.Payload, now time.Time) (*types.Block, error) {
	u, err := NewUnsealedBlock(0, types.GenesisPrevHash, payload, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build genesis block: %w", err)
	}
	return u.Seal(context.Background(), 0, pow.Unbounded)
}
