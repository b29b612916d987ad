package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/asurechain/ledger/internal/crypto"
	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/internal/storage"
	"github.com/asurechain/ledger/internal/verify"
	"github.com/asurechain/ledger/pkg/types"
)

type testEnv struct {
	ledger *ledger.Ledger
	client *Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.OpenMem()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	l, err := ledger.New(ledger.WithStore(store), ledger.WithDifficulty(1))
	require.NoError(t, err)
	t.Cleanup(l.Close)

	issuer, err := crypto.NewIssuer()
	require.NoError(t, err)

	server := NewServer(l, verify.NewService(l, store.Records(), issuer, nil), nil)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.Dial("bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testEnv{ledger: l, client: NewClient(conn)}
}

func TestIssueAndVerifyOverGRPC(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	artifact, err := env.client.Issue(ctx, verify.IssueRequest{
		CompanyName: "Acme",
		BarCode:     "A-100",
		BatchNo:     "B-1",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusValid, artifact.Status)
	assert.Len(t, artifact.LedgerHash, types.HashLength)

	contains, err := env.client.Contains(ctx, artifact.LedgerHash)
	require.NoError(t, err)
	assert.True(t, contains)

	result, err := env.client.Verify(ctx, types.Query{BarCode: "A-100"})
	require.NoError(t, err)
	assert.Equal(t, verify.OutcomeAuthentic, result.Outcome)
	assert.Equal(t, artifact.ID, result.Artifact.ID)

	revoked, err := env.client.Revoke(ctx, artifact.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRevoked, revoked.Status)

	result, err = env.client.Verify(ctx, types.Query{BarCode: "A-100"})
	require.NoError(t, err)
	assert.Equal(t, verify.OutcomeRevoked, result.Outcome)
}

func TestListArtifactsOverGRPC(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	artifacts, err := env.client.ListArtifacts(ctx)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	for _, bar := range []string{"A-100", "A-101"} {
		_, err := env.client.Issue(ctx, verify.IssueRequest{CompanyName: "Acme", BarCode: bar, BatchNo: "B-1"})
		require.NoError(t, err)
	}

	artifacts, err = env.client.ListArtifacts(ctx)
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	bars := []string{artifacts[0].BarCode, artifacts[1].BarCode}
	assert.ElementsMatch(t, []string{"A-100", "A-101"}, bars)

	got, err := env.client.GetArtifact(ctx, artifacts[0].ID)
	require.NoError(t, err)
	assert.Equal(t, artifacts[0].LedgerHash, got.LedgerHash)

	_, err = env.client.GetArtifact(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestErrorCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.client.Verify(ctx, types.Query{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.Issue(ctx, verify.IssueRequest{CompanyName: "Acme"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.Revoke(ctx, "missing")
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = env.client.GetBlock(ctx, 42)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = env.client.SetDifficulty(ctx, 65)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	req := verify.IssueRequest{CompanyName: "Acme", BarCode: "A-1", BatchNo: "B"}
	_, err = env.client.Issue(ctx, req)
	require.NoError(t, err)
	_, err = env.client.Issue(ctx, req)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestGetInfoAndBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hash, err := env.ledger.MintAndAppend(ctx, types.Payload{"doc": "A-100", "qty": 3})
	require.NoError(t, err)

	info, err := env.client.GetInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.Height)
	assert.Equal(t, uint32(1), info.Difficulty)
	assert.Equal(t, hash, info.Tip)
	assert.Len(t, info.Checkpoint, 64)
	assert.NotEmpty(t, info.IssuerAddress)

	block, err := env.client.GetBlock(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, hash, block.Hash)

	// The block survives the wire intact and still hashes to itself
	computed, err := ledger.ComputeHash(block)
	require.NoError(t, err)
	assert.Equal(t, hash, computed)
}

func TestVerifyIntegrityOverGRPC(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	report, err := env.client.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.Height)
}

func TestSetDifficulty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.client.SetDifficulty(ctx, 2))
	assert.Equal(t, uint32(2), env.ledger.Difficulty())
}

func TestSubscribeBlocks(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := env.client.SubscribeBlocks(ctx)
	require.NoError(t, err)

	var hashes []string
	for _, doc := range []string{"A-100", "A-101"} {
		h, err := env.ledger.MintAndAppend(ctx, types.Payload{"doc": doc})
		require.NoError(t, err)
		hashes = append(hashes, h)
	}

	for i, want := range hashes {
		block, err := stream.Recv()
		require.NoError(t, err)
		assert.Equal(t, want, block.Hash)
		assert.Equal(t, uint64(i+1), block.Index)
	}
}
