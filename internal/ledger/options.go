package ledger

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/pkg/types"
)

// Store persists sealed blocks. The ledger writes a block to the store before
// appending it in memory, so a failed write leaves the chain unchanged.
type Store interface {
	SaveBlock(block *types.Block) error
	SaveDifficulty(difficulty uint32) error
}

// DefaultGenesisPayload is the fixed identifying record sealed into genesis
func DefaultGenesisPayload() types.Payload {
	return types.Payload{
		"issuer":  "Asure Ledger",
		"purpose": "Artifact Integrity Verification",
	}
}

type options struct {
	difficulty     uint32
	maxNonce       uint64
	store          Store
	logger         *zap.Logger
	now            func() time.Time
	verifyWorkers  int
	genesisPayload types.Payload
}

func defaultOptions() options {
	return options{
		difficulty:     pow.DefaultDifficulty,
		maxNonce:       pow.Unbounded,
		logger:         zap.NewNop(),
		now:            time.Now,
		verifyWorkers:  runtime.GOMAXPROCS(0),
		genesisPayload: DefaultGenesisPayload(),
	}
}

// Option configures a Ledger
type Option func(*options)

// WithDifficulty sets the starting difficulty (leading hex zeros)
func WithDifficulty(difficulty uint32) Option {
	return func(o *options) {
		o.difficulty = difficulty
	}
}

// WithMaxNonce bounds every nonce search; pow.Unbounded disables the bound
func WithMaxNonce(maxNonce uint64) Option {
	return func(o *options) {
		o.maxNonce = maxNonce
	}
}

// WithStore makes every appended block durable in store
func WithStore(store Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for block timestamps
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithVerifyWorkers sets how many goroutines recompute hashes during verification
func WithVerifyWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.verifyWorkers = n
		}
	}
}

// WithGenesisPayload replaces the default genesis record
func WithGenesisPayload(payload types.Payload) Option {
	return func(o *options) {
		o.genesisPayload = payload
	}
}
