// Package grpc serves the ledger and artifact verification over gRPC.
package grpc

import (
	"context"
	"fmt"
	"net"

	grpcMiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpcZap "github.com/grpc-ecosystem/go-grpc-middleware/logging/zap"
	grpcRecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	grpcCtxTags "github.com/grpc-ecosystem/go-grpc-middleware/tags"
	grpcPrometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/internal/pow"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

// subscriberBuffer is how many blocks a slow stream may fall behind before blocks are dropped
const subscriberBuffer = 16

// Server implements LedgerService
type Server struct {
	ledger   *ledger.Ledger
	verifier *verify.Service
	logger   *zap.Logger

	grpcServer *grpc.Server
}

// NewServer creates a gRPC server with recovery, tagging, metrics and
// logging interceptors and registers LedgerService on it.
func NewServer(l *ledger.Ledger, verifier *verify.Service, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		ledger:   l,
		verifier: verifier,
		logger:   logger,
	}

	unaryChain := []grpc.UnaryServerInterceptor{
		grpcRecovery.UnaryServerInterceptor(),
		grpcCtxTags.UnaryServerInterceptor(),
		grpcPrometheus.UnaryServerInterceptor,
		grpcZap.UnaryServerInterceptor(logger),
	}
	streamChain := []grpc.StreamServerInterceptor{
		grpcRecovery.StreamServerInterceptor(),
		grpcCtxTags.StreamServerInterceptor(),
		grpcPrometheus.StreamServerInterceptor,
		grpcZap.StreamServerInterceptor(logger),
	}

	s.grpcServer = grpc.NewServer(
		grpc.UnaryInterceptor(grpcMiddleware.ChainUnaryServer(unaryChain...)),
		grpc.StreamInterceptor(grpcMiddleware.ChainStreamServer(streamChain...)),
	)
	RegisterLedgerServiceServer(s.grpcServer, s)
	grpcPrometheus.Register(s.grpcServer)

	return s
}

// Start listens on address and serves until Stop
func (s *Server) Start(address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("gRPC server listening", zap.String("addr", address))
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop drains in-flight calls and stops the server
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}

// Issue seals a new artifact record
func (s *Server) Issue(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var issue verify.IssueRequest
	if err := fromStruct(req, &issue); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid issue request: %v", err)
	}

	artifact, err := s.verifier.Issue(ctx, issue)
	if err != nil {
		return nil, statusError(err)
	}

	return encode(artifact)
}

// Verify checks an artifact against the ledger
func (s *Server) Verify(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var q types.Query
	if err := fromStruct(req, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid query: %v", err)
	}

	result, err := s.verifier.Verify(ctx, q)
	if err != nil {
		return nil, statusError(err)
	}

	return encode(result)
}

// Revoke marks an artifact revoked
func (s *Server) Revoke(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	artifact, err := s.verifier.Revoke(ctx, req.GetValue())
	if err != nil {
		return nil, statusError(err)
	}

	return encode(artifact)
}

// ListArtifacts returns every issued record
func (s *Server) ListArtifacts(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	artifacts, err := s.verifier.ListArtifacts(ctx)
	if err != nil {
		return nil, statusError(err)
	}

	return encode(ArtifactList{Artifacts: artifacts})
}

// GetArtifact returns the record with an id
func (s *Server) GetArtifact(_ context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	artifact, err := s.verifier.Artifact(req.GetValue())
	if err != nil {
		return nil, statusError(err)
	}

	return encode(artifact)
}

// Contains reports whether a block hash is in the chain
func (s *Server) Contains(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return wrapperspb.Bool(s.ledger.Contains(req.GetValue())), nil
}

// VerifyIntegrity re-verifies the whole chain
func (s *Server) VerifyIntegrity(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	report := IntegrityReport{OK: true, Height: s.ledger.Height()}

	if err := s.ledger.VerifyIntegrity(); err != nil {
		v, ok := ledger.AsViolation(err)
		if !ok {
			return nil, statusError(err)
		}
		report.OK = false
		report.Index = v.Index
		report.Kind = v.Kind.String()
	}

	return encode(report)
}

// GetInfo returns a summary of the ledger state
func (s *Server) GetInfo(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	tip, err := s.ledger.Latest()
	if err != nil {
		return nil, statusError(err)
	}
	checkpoint, err := s.ledger.Checkpoint()
	if err != nil {
		return nil, statusError(err)
	}

	return encode(Info{
		Height:        s.ledger.Height(),
		Difficulty:    s.ledger.Difficulty(),
		Tip:           tip.Hash,
		Checkpoint:    checkpoint,
		IssuerAddress: s.verifier.IssuerAddress(),
	})
}

// GetBlock returns the block at an index
func (s *Server) GetBlock(_ context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	block, err := s.ledger.Block(req.GetValue())
	if err != nil {
		return nil, statusError(err)
	}

	return encode(block)
}

// SetDifficulty changes the difficulty for future blocks
func (s *Server) SetDifficulty(_ context.Context, req *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	if req.GetValue() > pow.MaxDifficulty {
		return nil, status.Errorf(codes.InvalidArgument, "difficulty must be at most %d", pow.MaxDifficulty)
	}
	if err := s.ledger.SetDifficulty(req.GetValue()); err != nil {
		return nil, statusError(err)
	}

	return &emptypb.Empty{}, nil
}

// SubscribeBlocks streams every block appended after the call.
// Response headers are sent once the subscription is active.
func (s *Server) SubscribeBlocks(_ *emptypb.Empty, stream LedgerService_SubscribeBlocksServer) error {
	ch := make(chan *types.Block, subscriberBuffer)

	unsubscribe := s.ledger.Subscribe(func(block *types.Block) {
		select {
		case ch <- block:
		default:
			s.logger.Warn("Block subscriber lagging, dropping block", zap.Uint64("index", block.Index))
		}
	})
	defer unsubscribe()

	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}

	for {
		select {
		case block := <-ch:
			msg, err := encode(block)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func encode(v any) (*structpb.Struct, error) {
	msg, err := toStruct(v)
	if err != nil {
		return nil, encodeError(err)
	}
	return msg, nil
}
