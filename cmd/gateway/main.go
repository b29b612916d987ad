// Command gateway serves the public HTTP JSON API and forwards to ledgerd
// over gRPC.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/asurechain/ledger/internal/config"
	"github.com/asurechain/ledger/internal/gateway"
	ledgergrpc "github.com/asurechain/ledger/internal/grpc"
)

var cfg config.Gateway

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

	if err := run(ctx, logger); err != nil {
		logger.Fatal("Gateway failed", zap.Error(err))
	}
	logger.Info("Gateway stopped")
}

func run(ctx context.Context, logger *zap.Logger) error {
	conn, err := grpc.Dial(cfg.LedgerAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return err
	}
	defer conn.Close()

	s := &http.Server{
		Addr:              cfg.Addr,
		Handler:           gateway.NewHandler(ledgergrpc.NewClient(conn), logger, cfg.Timeout, cfg.IssueRPS),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Timeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down the gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to shutdown gateway", zap.Error(err))
		}
	}()

	logger.Info("Gateway listening",
		zap.String("addr", cfg.Addr),
		zap.String("ledger_addr", cfg.LedgerAddr))

	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
