package ledger

import (
	"errors"
	"fmt"

	"github.com/asurechain/ledger/internal/pow"
)

var (
	// ErrEmptyChain means the genesis guarantee was violated
	ErrEmptyChain = errors.New("chain has no genesis block")

	// ErrHashMismatch is matched by violations where a stored hash differs from its recomputation
	ErrHashMismatch = errors.New("hash mismatch")

	// ErrLinkageBroken is matched by violations where a block does not reference its predecessor
	ErrLinkageBroken = errors.New("linkage broken")

	// ErrInsufficientWork is matched by violations where a hash lacks its recorded difficulty
	ErrInsufficientWork = errors.New("insufficient proof-of-work")

	// ErrProofOfWorkExhausted is returned when sealing exceeds the nonce bound
	ErrProofOfWorkExhausted = pow.ErrProofOfWorkExhausted

	// ErrBlockNotFound is returned by lookups for unknown blocks
	ErrBlockNotFound = errors.New("block not found")

	// ErrAlreadySealed is returned when sealing a builder twice
	ErrAlreadySealed = errors.New("block already sealed")

	// ErrClosed is returned when minting on a closed ledger
	ErrClosed = errors.New("ledger closed")

	// ErrInvalidDifficulty is returned for difficulties above pow.MaxDifficulty
	ErrInvalidDifficulty = errors.New("invalid difficulty")
)

func checkDifficulty(difficulty uint32) error {
	if difficulty > pow.MaxDifficulty {
		return fmt.Errorf("%w: %d exceeds maximum %d", ErrInvalidDifficulty, difficulty, pow.MaxDifficulty)
	}
	return nil
}

// ViolationKind classifies an integrity violation
type ViolationKind int

const (
	HashMismatch ViolationKind = iota + 1
	LinkageBroken
	InsufficientWork
)

func (k ViolationKind) String() string {
	switch k {
	case HashMismatch:
		return "HashMismatch"
	case LinkageBroken:
		return "LinkageBroken"
	case InsufficientWork:
		return "InsufficientWork"
	default:
		return fmt.Sprintf("ViolationKind(%d)", int(k))
	}
}

// IntegrityViolation identifies the first block that fails verification
type IntegrityViolation struct {
	Index uint64
	Kind  ViolationKind
}

func (v *IntegrityViolation) Error() string {
	return fmt.Sprintf("integrity violation at block %d: %s", v.Index, v.Kind)
}

// Unwrap lets errors.Is match the violation against its kind's sentinel
func (v *IntegrityViolation) Unwrap() error {
	switch v.Kind {
	case HashMismatch:
		return ErrHashMismatch
	case LinkageBroken:
		return ErrLinkageBroken
	case InsufficientWork:
		return ErrInsufficientWork
	default:
		return nil
	}
}

// AsViolation extracts an *IntegrityViolation from err
func AsViolation(err error) (*IntegrityViolation, bool) {
	var v *IntegrityViolation
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
