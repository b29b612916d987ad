// Command ledgerd runs the ledger node: the hash chain, the artifact record
// store, the gRPC service and optionally the libp2p audit export.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/config"
	"github.com/asurechain/ledger/internal/crypto"
	"github.com/asurechain/ledger/internal/grpc"
	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/internal/p2p"
	"github.com/asurechain/ledger/internal/storage"
	"github.com/asurechain/ledger/internal/verify"
)

var cfg config.Node

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := flags.ParseArgs(&cfg, os.Args); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(2)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		panic("can't initialize zap logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync()
	}()
	grpcZap.ReplaceGrpcLoggerV2(logger)

	if err := run(ctx, logger); err != nil {
		logger.Fatal("Node failed", zap.Error(err))
	}
	logger.Info("Node stopped")
}

func run(ctx context.Context, logger *zap.Logger) error {
	difficulty, err := cfg.Validate()
	if err != nil {
		return err
	}

	store, err := storage.NewStorage(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}()

	if cfg.Fresh {
		logger.Warn("Starting with a fresh ledger", zap.String("data_dir", cfg.DataDir))
		if err := store.Clear(); err != nil {
			return err
		}
	}

	l, err := openLedger(store, difficulty, logger)
	if err != nil {
		return err
	}
	defer l.Close()

	issuer, err := loadIssuer(logger)
	if err != nil {
		return err
	}

	verifier := verify.NewService(l, store.Records(), issuer, logger.Named("verify"))
	if cfg.Seed {
		if _, err := verifier.Seed(ctx, verify.DemoRecords()); err != nil {
			return err
		}
	}

	server := grpc.NewServer(l, verifier, logger.Named("grpc"))
	grpcPrometheus.EnableHandlingTimeHistogram()
	go func() {
		if err := server.Start(cfg.GRPCAddr); err != nil {
			logger.Fatal("Start GRPC server", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down gRPC server")
		server.Stop()
	}()

	if cfg.P2PAddr != "" {
		network, err := p2p.NewNetwork(l, cfg.P2PAddr, logger.Named("p2p"))
		if err != nil {
			return err
		}
		defer func() {
			_ = network.Stop()
		}()
		if err := network.Start(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down the metrics server")
		if err := s.Shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown metrics server", zap.Error(err))
		}
	}()

	tip, err := l.Latest()
	if err != nil {
		return err
	}
	logger.Info("Node ready",
		zap.Int("height", l.Height()),
		zap.String("tip", tip.Hash),
		zap.Uint32("difficulty", l.Difficulty()),
		zap.String("issuer", issuer.Address()),
		zap.String("grpc_addr", cfg.GRPCAddr),
		zap.String("metrics_addr", cfg.MetricsAddr))

	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// openLedger loads and verifies the persisted chain, or starts a new one on
// an empty database.
func openLedger(store *storage.Storage, difficulty uint32, logger *zap.Logger) (*ledger.Ledger, error) {
	opts := []ledger.Option{
		ledger.WithStore(store),
		ledger.WithDifficulty(difficulty),
		ledger.WithMaxNonce(cfg.MaxNonce),
		ledger.WithVerifyWorkers(cfg.VerifyWorkers),
		ledger.WithLogger(logger.Named("ledger")),
	}

	blocks, err := store.LoadChain()
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return ledger.New(opts...)
	}

	stored, err := store.GetDifficulty()
	switch {
	case errors.Is(err, storage.ErrNotFound):
		stored = difficulty
	case err != nil:
		return nil, err
	}
	if stored != difficulty {
		logger.Info("Using persisted difficulty", zap.Uint32("persisted", stored), zap.Uint32("configured", difficulty))
	}

	l, err := ledger.Open(blocks, stored, opts...)
	if err != nil {
		return nil, err
	}

	// The tip key is written in the same batch as its block
	storedTip, err := store.GetChainTip()
	if err != nil {
		l.Close()
		return nil, err
	}
	if tip := blocks[len(blocks)-1].Hash; storedTip != tip {
		l.Close()
		return nil, fmt.Errorf("stored chain tip %s does not match last block %s", storedTip, tip)
	}
	indexed, err := store.GetBlockByHash(storedTip)
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("chain tip missing from hash index: %w", err)
	}
	if want := uint64(len(blocks) - 1); indexed.Index != want {
		l.Close()
		return nil, fmt.Errorf("hash index places tip at #%d, want #%d", indexed.Index, want)
	}

	return l, nil
}

func loadIssuer(logger *zap.Logger) (*crypto.Issuer, error) {
	if cfg.IssuerKey != "" {
		return crypto.IssuerFromHex(cfg.IssuerKey)
	}

	issuer, err := crypto.NewIssuer()
	if err != nil {
		return nil, err
	}
	logger.Warn("No issuer key configured, generated an ephemeral one; records signed now cannot be re-signed after restart",
		zap.String("address", issuer.Address()))
	return issuer, nil
}
