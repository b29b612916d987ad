package p2p

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/pkg/types"
)

const loopback = "/ip4/127.0.0.1/tcp/0"

func newNode(t *testing.T, source ChainSource) *Network {
	t.Helper()
	n, err := NewNetwork(source, loopback, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Stop() })
	require.NoError(t, n.Start())
	return n
}

func newChain(t *testing.T, blocks int) *ledger.Ledger {
	t.Helper()
	l, err := ledger.New(ledger.WithDifficulty(1))
	require.NoError(t, err)
	t.Cleanup(l.Close)

	for i := 0; i < blocks; i++ {
		_, err := l.MintAndAppend(context.Background(), types.Payload{"doc": fmt.Sprintf("D-%d", i)})
		require.NoError(t, err)
	}
	return l
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNewNetwork(t *testing.T) {
	n := newNode(t, nil)

	assert.NotEmpty(t, n.ID())
	require.NotEmpty(t, n.Addrs())
	assert.Contains(t, n.Addrs()[0], "/p2p/"+n.ID().String())

	_, err := NewNetwork(nil, "not-a-multiaddr", nil)
	assert.Error(t, err)
}

func TestAudit(t *testing.T) {
	exporter := newNode(t, newChain(t, 4))
	auditor := newNode(t, nil)

	report, err := auditor.Audit(testContext(t), exporter.Addrs()[0], 2)
	require.NoError(t, err)

	assert.True(t, report.OK(), "audit failed: %v", report.Err)
	assert.Equal(t, 5, report.Height)
	assert.Equal(t, exporter.ID().String(), report.Peer)
	assert.Equal(t, 1, auditor.GetPeerCount())
}

func TestFetchBlocksPaged(t *testing.T) {
	chain := newChain(t, MaxBlocksPerMessage+3)
	exporter := newNode(t, chain)
	auditor := newNode(t, nil)
	ctx := testContext(t)

	peerID, err := auditor.ConnectToPeer(ctx, exporter.Addrs()[0])
	require.NoError(t, err)

	blocks, err := auditor.FetchBlocks(ctx, peerID, 0, chain.Height())
	require.NoError(t, err)
	require.Len(t, blocks, chain.Height())
	assert.NoError(t, ledger.VerifyBlocks(blocks, 4))

	tail, err := auditor.FetchBlocks(ctx, peerID, uint64(chain.Height()-2), chain.Height())
	require.NoError(t, err)
	assert.Len(t, tail, 2)
}

func TestFetchInfo(t *testing.T) {
	chain := newChain(t, 2)
	exporter := newNode(t, chain)
	auditor := newNode(t, nil)
	ctx := testContext(t)

	peerID, err := auditor.ConnectToPeer(ctx, exporter.Addrs()[0])
	require.NoError(t, err)

	info, err := auditor.FetchInfo(ctx, peerID)
	require.NoError(t, err)

	tip, _ := chain.Latest()
	checkpoint, _ := chain.Checkpoint()
	assert.Equal(t, 3, info.Height)
	assert.Equal(t, tip.Hash, info.Tip)
	assert.Equal(t, checkpoint, info.Checkpoint)
	assert.Equal(t, uint32(1), info.Difficulty)

	rtt, err := auditor.Ping(ctx, peerID)
	require.NoError(t, err)
	assert.Positive(t, rtt)
}

func TestAudit_PeerWithoutChain(t *testing.T) {
	exporter := newNode(t, nil)
	auditor := newNode(t, nil)

	_, err := auditor.Audit(testContext(t), exporter.Addrs()[0], 1)
	assert.ErrorIs(t, err, ErrNoSource)
}

// tamperedSource serves a real chain with one block's payload rewritten
type tamperedSource struct {
	*ledger.Ledger
	index uint64
}

func (s tamperedSource) BlocksFrom(from uint64) []*types.Block {
	blocks := s.Ledger.BlocksFrom(from)
	for i, block := range blocks {
		if block.Index == s.index {
			forged := *block
			forged.Payload = types.Payload{"doc": "forged"}
			blocks[i] = &forged
		}
	}
	return blocks
}

func TestAudit_DetectsTampering(t *testing.T) {
	exporter := newNode(t, tamperedSource{Ledger: newChain(t, 3), index: 2})
	auditor := newNode(t, nil)

	report, err := auditor.Audit(testContext(t), exporter.Addrs()[0], 1)
	require.NoError(t, err)
	require.False(t, report.OK())

	v, ok := ledger.AsViolation(report.Err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), v.Index)
	assert.Equal(t, ledger.HashMismatch, v.Kind)
}

func TestCheckExport(t *testing.T) {
	chain := newChain(t, 2)
	blocks := chain.Blocks()
	tip, _ := chain.Latest()
	checkpoint, _ := chain.Checkpoint()

	info := &ChainInfo{Height: 3, Tip: tip.Hash, Checkpoint: checkpoint}
	assert.NoError(t, checkExport(blocks, info, 1))

	short := &ChainInfo{Height: 4, Tip: tip.Hash, Checkpoint: checkpoint}
	assert.ErrorIs(t, checkExport(blocks, short, 1), ErrIncompleteChain)

	wrongRoot := &ChainInfo{Height: 3, Tip: tip.Hash, Checkpoint: "00"}
	assert.ErrorIs(t, checkExport(blocks, wrongRoot, 1), ErrCheckpointMismatch)
}
