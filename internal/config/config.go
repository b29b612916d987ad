// Package config holds command-line and environment configuration for the
// ledger commands.
package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/pkg/safe"
)

// Logging selects the logger flavour
type Logging struct {
	Production bool `long:"log-production" env:"ASURE_LOG_PRODUCTION" description:"json logs at info level"`
}

// NewLogger builds the process logger
func (l Logging) NewLogger() (*zap.Logger, error) {
	if l.Production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// Node configures ledgerd
type Node struct {
	Logging

	DataDir       string `long:"data-dir" env:"ASURE_DATA_DIR" description:"ledger database directory" default:"./data/ledger"`
	Fresh         bool   `long:"fresh" env:"ASURE_FRESH" description:"delete the database before starting"`
	GRPCAddr      string `long:"grpc-addr" env:"ASURE_GRPC_ADDR" description:"grpc listen addr" default:":50051"`
	MetricsAddr   string `long:"metrics-addr" env:"ASURE_METRICS_ADDR" description:"prometheus listen addr" default:":9090"`
	P2PAddr       string `long:"p2p-addr" env:"ASURE_P2P_ADDR" description:"libp2p listen multiaddr for audit export, empty disables it"`
	Difficulty    int    `long:"difficulty" env:"ASURE_DIFFICULTY" description:"leading hex zeros required of new blocks" default:"2"`
	MaxNonce      uint64 `long:"max-nonce" env:"ASURE_MAX_NONCE" description:"last nonce tried per block, 0 for unbounded" default:"4294967295"`
	VerifyWorkers int    `long:"verify-workers" env:"ASURE_VERIFY_WORKERS" description:"goroutines recomputing hashes during verification, 0 for GOMAXPROCS"`
	IssuerKey     string `long:"issuer-key" env:"ASURE_ISSUER_KEY" description:"hex secp256k1 private key signing records, generated when empty"`
	Seed          bool   `long:"seed" env:"ASURE_SEED" description:"seed demo artifacts into an empty record store"`
}

// Validate checks ranges and returns the difficulty narrowed to uint32
func (c *Node) Validate() (uint32, error) {
	difficulty, err := safe.Uint32(c.Difficulty)
	if err != nil {
		return 0, fmt.Errorf("invalid difficulty: %w", err)
	}
	if difficulty > pow.MaxDifficulty {
		return 0, fmt.Errorf("difficulty %d exceeds maximum %d", difficulty, pow.MaxDifficulty)
	}
	if c.VerifyWorkers < 0 {
		return 0, fmt.Errorf("verify workers must not be negative")
	}
	if c.DataDir == "" {
		return 0, fmt.Errorf("data dir is required")
	}
	return difficulty, nil
}

// Gateway configures the HTTP gateway
type Gateway struct {
	Logging

	Addr       string        `long:"addr" env:"ASURE_GATEWAY_ADDR" description:"http listen addr" default:":3001"`
	LedgerAddr string        `long:"ledger-addr" env:"ASURE_LEDGER_ADDR" description:"ledgerd grpc addr" default:"localhost:50051"`
	Timeout    time.Duration `long:"timeout" env:"ASURE_GATEWAY_TIMEOUT" description:"per-request timeout towards ledgerd" default:"30s"`
	IssueRPS   int           `long:"issue-rps" env:"ASURE_GATEWAY_ISSUE_RPS" description:"max issue requests per second forwarded to ledgerd, 0 = unlimited" default:"10"`
}

// Client configures ledgerctl
type Client struct {
	Addr    string        `long:"addr" env:"ASURE_LEDGER_ADDR" description:"ledgerd grpc addr" default:"localhost:50051"`
	Timeout time.Duration `long:"timeout" env:"ASURE_TIMEOUT" description:"request timeout" default:"60s"`
}
