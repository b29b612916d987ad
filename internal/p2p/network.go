// Package p2p exports the chain to auditors over libp2p and fetches and
// re-verifies chains exported by other nodes. It is read-only: nothing
// received from a peer is ever appended to a local ledger.
package p2p

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/asurechain/ledger/internal/ledger"
	"github.com/asurechain/ledger/internal/merkle"
	"github.com/asurechain/ledger/internal/metrics"
	"github.com/asurechain/ledger/pkg/types"
)

const (
	// Protocol IDs
	ChainProtocol = "/asure/chain/1.0.0"
	PingProtocol  = "/asure/ping/1.0.0"

	// MaxBlocksPerMessage bounds a single blocks response
	MaxBlocksPerMessage = 500

	streamTimeout = 30 * time.Second
)

// MessageType represents the type of P2P message
type MessageType string

const (
	MsgTypeGetBlocks MessageType = "get_blocks"
	MsgTypeBlocks    MessageType = "blocks"
	MsgTypeGetInfo   MessageType = "get_info"
	MsgTypeInfo      MessageType = "info"
	MsgTypePing      MessageType = "ping"
	MsgTypePong      MessageType = "pong"
	MsgTypeError     MessageType = "error"
)

// Message represents a P2P network message
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	From      string          `json:"from"`
}

// GetBlocksRequest asks for blocks starting at index From
type GetBlocksRequest struct {
	From uint64 `json:"from"`
}

// ChainInfo is a node's summary of its chain
type ChainInfo struct {
	Height     int    `json:"height"`
	Tip        string `json:"tip"`
	Difficulty uint32 `json:"difficulty"`
	Checkpoint string `json:"checkpoint"`
}

// ChainSource is the chain a node exports
type ChainSource interface {
	Height() int
	Latest() (*types.Block, error)
	Difficulty() uint32
	Checkpoint() (string, error)
	BlocksFrom(from uint64) []*types.Block
}

var (
	// ErrNoSource is returned by a peer that exports no chain
	ErrNoSource = errors.New("peer exports no chain")
	// ErrIncompleteChain is returned when a peer sends fewer blocks than it announced
	ErrIncompleteChain = errors.New("peer sent incomplete chain")
	// ErrCheckpointMismatch is returned when the fetched blocks do not produce the announced checkpoint
	ErrCheckpointMismatch = errors.New("checkpoint mismatch")
)

// Network manages the libp2p host
type Network struct {
	host   host.Host
	source ChainSource
	logger *zap.Logger

	// Peer management
	peers     map[peer.ID]bool
	peerMutex sync.RWMutex
}

// NewNetwork creates a libp2p host listening on listenAddr. With a nil
// source the node only audits others and serves nothing.
func NewNetwork(source ChainSource, listenAddr string, logger *zap.Logger) (*Network, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	addr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}

	h, err := libp2p.New(libp2p.ListenAddrs(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Network{
		host:   h,
		source: source,
		logger: logger,
		peers:  make(map[peer.ID]bool),
	}

	h.SetStreamHandler(protocol.ID(ChainProtocol), n.handleChainStream)
	h.SetStreamHandler(protocol.ID(PingProtocol), n.handlePingStream)

	return n, nil
}

// Start logs the node identity and addresses
func (n *Network) Start() error {
	n.logger.Info("P2P audit export started",
		zap.Stringer("node_id", n.ID()),
		zap.Strings("addrs", n.Addrs()))
	return nil
}

// Stop shuts down the host
func (n *Network) Stop() error {
	n.logger.Info("Stopping p2p network", zap.Int("peers", n.GetPeerCount()))
	return n.host.Close()
}

// ID returns the node's peer ID
func (n *Network) ID() peer.ID {
	return n.host.ID()
}

// Addrs returns the full dialable addresses of this node, /p2p/<id> included
func (n *Network) Addrs() []string {
	addrs := make([]string, 0, len(n.host.Addrs()))
	for _, addr := range n.host.Addrs() {
		addrs = append(addrs, fmt.Sprintf("%s/p2p/%s", addr, n.host.ID()))
	}
	return addrs
}

// ConnectToPeer connects to a peer using its multiaddr
func (n *Network) ConnectToPeer(ctx context.Context, peerAddr string) (peer.ID, error) {
	addr, err := multiaddr.NewMultiaddr(peerAddr)
	if err != nil {
		return "", fmt.Errorf("invalid peer address: %w", err)
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return "", fmt.Errorf("failed to parse peer info: %w", err)
	}

	if err := n.host.Connect(ctx, *peerInfo); err != nil {
		return "", fmt.Errorf("failed to connect to peer: %w", err)
	}

	n.peerMutex.Lock()
	n.peers[peerInfo.ID] = true
	n.peerMutex.Unlock()

	n.logger.Info("Connected to peer",
		zap.Stringer("peer", peerInfo.ID),
		zap.Int("peers", n.GetPeerCount()))

	return peerInfo.ID, nil
}

// GetPeerCount returns the number of connected peers
func (n *Network) GetPeerCount() int {
	n.peerMutex.RLock()
	defer n.peerMutex.RUnlock()
	return len(n.peers)
}

// Ping measures the round trip to a peer
func (n *Network) Ping(ctx context.Context, peerID peer.ID) (time.Duration, error) {
	started := time.Now()
	resp, err := n.request(ctx, peerID, PingProtocol, MsgTypePing, nil)
	if err != nil {
		return 0, err
	}
	if resp.Type != MsgTypePong {
		return 0, fmt.Errorf("unexpected response %q", resp.Type)
	}
	return time.Since(started), nil
}

// FetchInfo asks a peer for its chain summary
func (n *Network) FetchInfo(ctx context.Context, peerID peer.ID) (*ChainInfo, error) {
	resp, err := n.request(ctx, peerID, ChainProtocol, MsgTypeGetInfo, nil)
	if err != nil {
		return nil, err
	}
	if resp.Type != MsgTypeInfo {
		return nil, fmt.Errorf("unexpected response %q", resp.Type)
	}

	var info ChainInfo
	if err := json.Unmarshal(resp.Data, &info); err != nil {
		return nil, fmt.Errorf("failed to decode info: %w", err)
	}
	return &info, nil
}

// FetchBlocks downloads a peer's chain from index from up to height,
// one page per request.
func (n *Network) FetchBlocks(ctx context.Context, peerID peer.ID, from uint64, height int) ([]*types.Block, error) {
	if height < 0 {
		return nil, fmt.Errorf("invalid height %d", height)
	}
	blocks := make([]*types.Block, 0, height)

	for next := from; next < uint64(height); {
		data, err := json.Marshal(GetBlocksRequest{From: next})
		if err != nil {
			return nil, err
		}

		resp, err := n.request(ctx, peerID, ChainProtocol, MsgTypeGetBlocks, data)
		if err != nil {
			return nil, err
		}
		if resp.Type != MsgTypeBlocks {
			return nil, fmt.Errorf("unexpected response %q", resp.Type)
		}

		var page []*types.Block
		if err := json.Unmarshal(resp.Data, &page); err != nil {
			return nil, fmt.Errorf("failed to decode blocks: %w", err)
		}
		if len(page) == 0 {
			return nil, fmt.Errorf("%w: got %d of %d blocks", ErrIncompleteChain, len(blocks), height)
		}

		blocks = append(blocks, page...)
		next += uint64(len(page))
	}

	return blocks, nil
}

// AuditReport is the outcome of re-verifying a peer's chain
type AuditReport struct {
	Peer       string        `json:"peer"`
	Height     int           `json:"height"`
	Tip        string        `json:"tip"`
	Checkpoint string        `json:"checkpoint"`
	RTT        time.Duration `json:"rtt"`
	// Err is nil when the chain verified; otherwise the first problem found
	Err error `json:"-"`
}

// OK reports whether the audited chain verified
func (r *AuditReport) OK() bool {
	return r.Err == nil
}

// Audit connects to peerAddr, downloads its full chain and verifies it
// locally. Transport failures are returned as errors; a chain that fails
// verification yields a report with Err set.
func (n *Network) Audit(ctx context.Context, peerAddr string, workers int) (*AuditReport, error) {
	peerID, err := n.ConnectToPeer(ctx, peerAddr)
	if err != nil {
		return nil, err
	}

	rtt, err := n.Ping(ctx, peerID)
	if err != nil {
		return nil, err
	}

	info, err := n.FetchInfo(ctx, peerID)
	if err != nil {
		return nil, err
	}

	blocks, err := n.FetchBlocks(ctx, peerID, 0, info.Height)
	if err != nil {
		return nil, err
	}

	report := &AuditReport{
		Peer:       peerID.String(),
		Height:     len(blocks),
		Tip:        info.Tip,
		Checkpoint: info.Checkpoint,
		RTT:        rtt,
	}
	report.Err = checkExport(blocks, info, workers)

	if report.OK() {
		n.logger.Info("Peer chain verified", zap.String("peer", report.Peer), zap.Int("height", report.Height))
	} else {
		n.logger.Warn("Peer chain failed verification", zap.String("peer", report.Peer), zap.Error(report.Err))
	}

	return report, nil
}

// checkExport verifies fetched blocks and that they match what the peer announced
func checkExport(blocks []*types.Block, info *ChainInfo, workers int) error {
	if err := ledger.VerifyBlocks(blocks, workers); err != nil {
		return err
	}
	if len(blocks) != info.Height || blocks[len(blocks)-1].Hash != info.Tip {
		return fmt.Errorf("%w: announced height %d tip %s", ErrIncompleteChain, info.Height, info.Tip)
	}

	hashes := make([]string, len(blocks))
	for i, block := range blocks {
		hashes[i] = block.Hash
	}
	leaves, err := merkle.HexLeaves(hashes)
	if err != nil {
		return err
	}
	if hex.EncodeToString(merkle.BuildMerkleRoot(leaves)) != info.Checkpoint {
		return ErrCheckpointMismatch
	}

	return nil
}

// request sends one message on a fresh stream and reads one response
func (n *Network) request(ctx context.Context, peerID peer.ID, proto string, msgType MessageType, data json.RawMessage) (*Message, error) {
	stream, err := n.host.NewStream(ctx, peerID, protocol.ID(proto))
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = stream.SetDeadline(deadline)
	} else {
		_ = stream.SetDeadline(time.Now().Add(streamTimeout))
	}

	msg := n.newMessage(msgType, data)
	if err := json.NewEncoder(stream).Encode(msg); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return nil, fmt.Errorf("failed to close write: %w", err)
	}

	var resp Message
	if err := json.NewDecoder(stream).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.Type == MsgTypeError {
		var reason string
		_ = json.Unmarshal(resp.Data, &reason)
		if reason == ErrNoSource.Error() {
			return nil, ErrNoSource
		}
		return nil, fmt.Errorf("peer error: %s", reason)
	}

	return &resp, nil
}

func (n *Network) newMessage(msgType MessageType, data json.RawMessage) Message {
	return Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
		From:      n.host.ID().String(),
	}
}

// handleChainStream serves chain export requests
func (n *Network) handleChainStream(stream network.Stream) {
	defer stream.Close()
	_ = stream.SetDeadline(time.Now().Add(streamTimeout))

	var msg Message
	if err := json.NewDecoder(stream).Decode(&msg); err != nil {
		n.logger.Debug("Failed to decode chain request", zap.Error(err))
		return
	}

	resp, err := n.serveChain(msg)
	metrics.ObserveAuditRequest(string(msg.Type), err)
	if err != nil {
		reason, _ := json.Marshal(err.Error())
		resp = n.newMessage(MsgTypeError, reason)
	}

	if err := json.NewEncoder(stream).Encode(resp); err != nil {
		n.logger.Debug("Failed to send chain response", zap.Error(err))
	}
}

func (n *Network) serveChain(msg Message) (Message, error) {
	if n.source == nil {
		return Message{}, ErrNoSource
	}

	switch msg.Type {
	case MsgTypeGetInfo:
		tip, err := n.source.Latest()
		if err != nil {
			return Message{}, err
		}
		checkpoint, err := n.source.Checkpoint()
		if err != nil {
			return Message{}, err
		}
		data, err := json.Marshal(ChainInfo{
			Height:     n.source.Height(),
			Tip:        tip.Hash,
			Difficulty: n.source.Difficulty(),
			Checkpoint: checkpoint,
		})
		if err != nil {
			return Message{}, err
		}
		return n.newMessage(MsgTypeInfo, data), nil

	case MsgTypeGetBlocks:
		var req GetBlocksRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			return Message{}, fmt.Errorf("invalid get_blocks request: %w", err)
		}

		blocks := n.source.BlocksFrom(req.From)
		if len(blocks) > MaxBlocksPerMessage {
			blocks = blocks[:MaxBlocksPerMessage]
		}
		data, err := json.Marshal(blocks)
		if err != nil {
			return Message{}, err
		}
		return n.newMessage(MsgTypeBlocks, data), nil

	default:
		return Message{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}

// handlePingStream handles ping/pong messages for peer liveness
func (n *Network) handlePingStream(stream network.Stream) {
	defer stream.Close()

	var msg Message
	if err := json.NewDecoder(stream).Decode(&msg); err != nil {
		return
	}

	if msg.Type == MsgTypePing {
		_ = json.NewEncoder(stream).Encode(n.newMessage(MsgTypePong, nil))
	}
}
