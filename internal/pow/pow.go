package pow

import (
	"context"
	"errors"
	"math"
)

const (
	// DefaultDifficulty is the number of leading hex zeros required by a new ledger
	DefaultDifficulty = 1

	// MaxDifficulty is the largest meaningful difficulty for a 64-char hex hash
	MaxDifficulty = 64

	// Unbounded disables the nonce bound
	Unbounded = 0

	// cancelCheckInterval is how many nonces are tried between context checks
	cancelCheckInterval = 1 << 12
)

// ErrProofOfWorkExhausted is returned when no nonce up to the bound satisfies the difficulty
var ErrProofOfWorkExhausted = errors.New("proof-of-work exhausted")

// HashFunc computes a block hash for a candidate nonce
type HashFunc func(nonce uint64) string

// MeetsDifficulty reports whether hash starts with at least difficulty '0' hex characters
func MeetsDifficulty(hash string, difficulty uint32) bool {
	return LeadingZeros(hash) >= difficulty
}

// LeadingZeros counts the leading '0' hex characters of hash
func LeadingZeros(hash string) uint32 {
	var n uint32
	for n < uint32(len(hash)) && hash[n] == '0' {
		n++
	}
	return n
}

// Search tries nonces from 0 upward until hashFn yields a hash meeting difficulty.
// maxNonce is the last nonce tried (Unbounded for no limit).
// Returns the winning nonce and hash.
func Search(ctx context.Context, hashFn HashFunc, difficulty uint32, maxNonce uint64) (uint64, string, error) {
	if difficulty > MaxDifficulty {
		return 0, "", ErrProofOfWorkExhausted
	}

	for nonce := uint64(0); ; nonce++ {
		if nonce%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return 0, "", err
			}
		}

		hash := hashFn(nonce)
		if MeetsDifficulty(hash, difficulty) {
			return nonce, hash, nil
		}

		if maxNonce != Unbounded && nonce >= maxNonce {
			return 0, "", ErrProofOfWorkExhausted
		}
		if nonce == math.MaxUint64 {
			return 0, "", ErrProofOfWorkExhausted
		}
	}
}
