package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

// Client is a typed LedgerService client. Errors are gRPC status errors.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Issue seals a new artifact record
func (c *Client) Issue(ctx context.Context, req verify.IssueRequest) (*types.Artifact, error) {
	var artifact types.Artifact
	if err := c.invokeStruct(ctx, "Issue", req, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Verify checks an artifact against the ledger
func (c *Client) Verify(ctx context.Context, q types.Query) (*verify.Result, error) {
	var result verify.Result
	if err := c.invokeStruct(ctx, "Verify", q, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Revoke marks an artifact revoked
func (c *Client) Revoke(ctx context.Context, id string) (*types.Artifact, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("Revoke"), wrapperspb.String(id), out); err != nil {
		return nil, err
	}

	var artifact types.Artifact
	if err := fromStruct(out, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// ListArtifacts returns every issued record
func (c *Client) ListArtifacts(ctx context.Context) ([]*types.Artifact, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("ListArtifacts"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}

	var list ArtifactList
	if err := fromStruct(out, &list); err != nil {
		return nil, err
	}
	return list.Artifacts, nil
}

// GetArtifact returns the record with id
func (c *Client) GetArtifact(ctx context.Context, id string) (*types.Artifact, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetArtifact"), wrapperspb.String(id), out); err != nil {
		return nil, err
	}

	var artifact types.Artifact
	if err := fromStruct(out, &artifact); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Contains reports whether a block hash is in the chain
func (c *Client) Contains(ctx context.Context, hash string) (bool, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, fullMethod("Contains"), wrapperspb.String(hash), out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// VerifyIntegrity re-verifies the whole chain on the server
func (c *Client) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("VerifyIntegrity"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}

	var report IntegrityReport
	if err := fromStruct(out, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetInfo returns a summary of the ledger state
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetInfo"), &emptypb.Empty{}, out); err != nil {
		return nil, err
	}

	var info Info
	if err := fromStruct(out, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetBlock returns the block at index
func (c *Client) GetBlock(ctx context.Context, index uint64) (*types.Block, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod("GetBlock"), wrapperspb.UInt64(index), out); err != nil {
		return nil, err
	}

	var block types.Block
	if err := fromStruct(out, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// SetDifficulty changes the difficulty for future blocks
func (c *Client) SetDifficulty(ctx context.Context, difficulty uint32) error {
	return c.cc.Invoke(ctx, fullMethod("SetDifficulty"), wrapperspb.UInt32(difficulty), &emptypb.Empty{})
}

// BlockStream receives blocks from SubscribeBlocks
type BlockStream struct {
	stream grpc.ClientStream
}

// Recv blocks until the next appended block arrives
func (s *BlockStream) Recv() (*types.Block, error) {
	out := new(structpb.Struct)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}

	var block types.Block
	if err := fromStruct(out, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

// SubscribeBlocks opens a block stream. It returns once the server has
// registered the subscription, so every block appended afterwards is delivered.
// Cancel ctx to close the stream.
func (c *Client) SubscribeBlocks(ctx context.Context) (*BlockStream, error) {
	stream, err := c.cc.NewStream(ctx, &LedgerService_ServiceDesc.Streams[0], fullMethod("SubscribeBlocks"))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	if _, err := stream.Header(); err != nil {
		return nil, err
	}

	return &BlockStream{stream: stream}, nil
}

func (c *Client) invokeStruct(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return err
	}

	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return err
	}

	return fromStruct(resp, out)
}
