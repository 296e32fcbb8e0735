// Package p2p implements the newline-delimited JSON gossip protocol
// carrying version handshakes, tip sync, and block/transaction relay
// over libp2p streams.
package p2p

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/przchojecki/chainlattice/protocol/params"
)

// MaxInFlightHandlers bounds concurrent async message handlers; beyond
// this, new handlers are dropped with a log line rather than queued.
const MaxInFlightHandlers = 256

// MaxPendingRequests bounds the size of the outstanding getBlock table.
const MaxPendingRequests = 4096

// PendingRequestTTL is how long an outstanding getBlock request is
// tracked before it is swept as abandoned.
const PendingRequestTTL = 30 * time.Second

// NodeConfig configures the P2P node.
type NodeConfig struct {
	ListenAddrs []string
	SeedNodes   []string
	MaxInbound  int
	MaxOutbound int
	Identity    IdentityConfig
	UserAgent   string
}

// DefaultNodeConfig returns sensible defaults.
func DefaultNodeConfig() NodeConfig {
	return NodeConfig{
		ListenAddrs: []string{
			"/ip4/0.0.0.0/tcp/0",
			"/ip6/::/tcp/0",
		},
		SeedNodes:   []string{},
		MaxInbound:  64,
		MaxOutbound: 16,
		Identity:    DefaultIdentityConfig(),
		UserAgent:   "chainlattice",
	}
}

// ChainStatus is the local tip summary sent in tip/version messages.
type ChainStatus struct {
	Height uint64
	Hash   [32]byte
}

// session holds per-peer handshake state and the stream used to reach it.
type session struct {
	peer    peer.ID
	stream  network.Stream
	writeMu sync.Mutex

	mu         sync.Mutex
	sawVersion bool
	sawVerack  bool
	complete   bool
}

func (s *session) isComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.complete
}

// pendingRequest tracks one outstanding getBlock.
type pendingRequest struct {
	hash   [32]byte
	issued time.Time
}

// Node is one gossiping peer: it maintains a persistent NDJSON session
// per connected peer and dispatches messages per the version/verack
// handshake state machine.
type Node struct {
	mu sync.RWMutex

	host     host.Host
	identity *IdentityManager
	config   NodeConfig

	sessions map[peer.ID]*session

	pendingMu sync.Mutex
	pending   map[string]pendingRequest

	inFlight chan struct{}

	onBlock     func(from peer.ID, data []byte)
	onTx        func(from peer.ID, data []byte)
	statusFn    func() ChainStatus
	getBlockFn  func(hash [32]byte) ([]byte, bool)

	ctx       context.Context
	cancel    context.CancelFunc
	stopFuncs []func()
}

// NewNode creates a P2P node and registers the gossip stream handler.
func NewNode(cfg NodeConfig) (*Node, error) {
	ctx, cancel := context.WithCancel(context.Background())

	identity, err := NewIdentityManager(cfg.Identity)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}
	privKey, _ := identity.CurrentIdentity()

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	connMgr, err := connmgr.NewConnManager(
		cfg.MaxOutbound,
		cfg.MaxInbound+cfg.MaxOutbound,
		connmgr.WithGracePeriod(time.Minute),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(connMgr),
		libp2p.UserAgent(cfg.UserAgent),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.DisableRelay(),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create libp2p host: %w", err)
	}

	n := &Node{
		host:     h,
		identity: identity,
		config:   cfg,
		sessions: make(map[peer.ID]*session),
		pending:  make(map[string]pendingRequest),
		inFlight: make(chan struct{}, MaxInFlightHandlers),
		ctx:      ctx,
		cancel:   cancel,
	}

	h.SetStreamHandler(params.GossipProtocol, n.handleInboundStream)

	return n, nil
}

// SetBlockHandler sets the callback invoked when a full block is received.
func (n *Node) SetBlockHandler(handler func(from peer.ID, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onBlock = handler
}

// SetTxHandler sets the callback invoked when a transaction is received.
func (n *Node) SetTxHandler(handler func(from peer.ID, data []byte)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onTx = handler
}

// SetStatusProvider supplies the local tip for version/tip/getTip replies.
func (n *Node) SetStatusProvider(fn func() ChainStatus) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statusFn = fn
}

// SetBlockProvider supplies serialized blocks by hash for getBlock replies.
func (n *Node) SetBlockProvider(fn func(hash [32]byte) ([]byte, bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.getBlockFn = fn
}

// Start connects to the configured seed nodes.
func (n *Node) Start() error {
	for _, addrStr := range n.config.SeedNodes {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			log.Printf("invalid seed address %s: %v", addrStr, err)
			continue
		}
		info, err := peer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			log.Printf("invalid seed peer info %s: %v", addrStr, err)
			continue
		}
		go n.dialSeed(*info)
	}
	return nil
}

func (n *Node) dialSeed(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(n.ctx, 15*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, info); err != nil {
		log.Printf("failed to connect to seed %s: %v", info.ID, err)
		return
	}
	if err := n.openSession(info.ID); err != nil {
		log.Printf("failed to open gossip session with %s: %v", info.ID, err)
	}
}

// Stop gracefully shuts down the node.
func (n *Node) Stop() error {
	n.cancel()
	for _, stop := range n.stopFuncs {
		stop()
	}
	return n.host.Close()
}

// Host returns the underlying libp2p host.
func (n *Node) Host() host.Host { return n.host }

// PeerID returns the current peer ID.
func (n *Node) PeerID() peer.ID { return n.identity.CurrentPeerID() }

// Addrs returns the listen addresses.
func (n *Node) Addrs() []multiaddr.Multiaddr { return n.host.Addrs() }

// Peers returns connected peer IDs that completed the handshake.
func (n *Node) Peers() []peer.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]peer.ID, 0, len(n.sessions))
	for pid, sess := range n.sessions {
		if sess.isComplete() {
			out = append(out, pid)
		}
	}
	return out
}

// Connect attempts to connect to and open a gossip session with a peer.
func (n *Node) Connect(ctx context.Context, pi peer.AddrInfo) error {
	if err := n.host.Connect(ctx, pi); err != nil {
		return err
	}
	return n.openSession(pi.ID)
}

// openSession opens an outbound gossip stream to pid and starts its
// read loop, sending the initial version message.
func (n *Node) openSession(pid peer.ID) error {
	n.mu.RLock()
	_, exists := n.sessions[pid]
	n.mu.RUnlock()
	if exists {
		return nil
	}

	ctx, cancel := context.WithTimeout(n.ctx, 10*time.Second)
	defer cancel()
	s, err := n.host.NewStream(ctx, pid, params.GossipProtocol)
	if err != nil {
		return err
	}
	n.adoptSession(pid, s)
	return nil
}

func (n *Node) handleInboundStream(s network.Stream) {
	pid := s.Conn().RemotePeer()
	n.mu.RLock()
	_, exists := n.sessions[pid]
	n.mu.RUnlock()
	if exists {
		s.Close()
		return
	}
	n.adoptSession(pid, s)
}

func (n *Node) adoptSession(pid peer.ID, s network.Stream) {
	sess := &session{peer: pid, stream: s}

	n.mu.Lock()
	n.sessions[pid] = sess
	n.mu.Unlock()

	go n.sendVersion(sess)
	go n.readLoop(sess)
}

func (n *Node) dropSession(pid peer.ID) {
	n.mu.Lock()
	sess, ok := n.sessions[pid]
	if ok {
		delete(n.sessions, pid)
	}
	n.mu.Unlock()
	if ok {
		sess.stream.Close()
	}
}

// readLoop consumes newline-delimited JSON frames from one peer until
// the stream closes or an oversized/malformed frame arrives.
func (n *Node) readLoop(sess *session) {
	defer n.dropSession(sess.peer)

	scanner := newFrameScanner(sess.stream)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg WireMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			// Invalid JSON lines are dropped silently per spec.
			continue
		}
		n.dispatch(sess, msg)
	}
	if err := scanner.Err(); err != nil && !isExpectedStreamCloseError(err) {
		log.Printf("gossip stream with %s closed: %v", sess.peer, err)
	}
}

// dispatch runs the handshake state machine and message handling,
// bounded by the in-flight handler counter (spec's concurrency guard).
func (n *Node) dispatch(sess *session, msg WireMessage) {
	select {
	case n.inFlight <- struct{}{}:
	default:
		log.Printf("dropping %s from %s: in-flight handler limit reached", msg.Kind, sess.peer)
		return
	}
	go func() {
		defer func() { <-n.inFlight }()
		n.handleMessage(sess, msg)
	}()
}

func (n *Node) handleMessage(sess *session, msg WireMessage) {
	switch msg.Kind {
	case KindVersion:
		n.handleVersion(sess, msg)
	case KindVerack:
		n.handleVerack(sess)
	case KindPing:
		n.send(sess, WireMessage{Kind: KindPong, Nonce: msg.Nonce})
	case KindPong:
		// no-op; liveness only.
	default:
		if !sess.isComplete() {
			return
		}
		switch msg.Kind {
		case KindGetTip:
			n.handleGetTip(sess)
		case KindTip:
			n.handleTip(sess, msg)
		case KindGetBlock:
			n.handleGetBlock(sess, msg)
		case KindBlock:
			n.handleBlock(sess, msg)
		case KindTx:
			n.handleTx(sess, msg)
		}
	}
}

func (n *Node) localStatus() ChainStatus {
	n.mu.RLock()
	fn := n.statusFn
	n.mu.RUnlock()
	if fn == nil {
		return ChainStatus{}
	}
	return fn()
}

func (n *Node) sendVersion(sess *session) {
	st := n.localStatus()
	n.send(sess, WireMessage{
		Kind:      KindVersion,
		NetworkID: params.NetworkID,
		NodeID:    n.PeerID().String(),
		Height:    st.Height,
		HashHex:   hexEncode(st.Hash),
	})
}

func (n *Node) handleVersion(sess *session, msg WireMessage) {
	sess.mu.Lock()
	if sess.sawVersion {
		sess.mu.Unlock()
		return
	}
	sess.mu.Unlock()

	if msg.NetworkID != params.NetworkID {
		n.dropSession(sess.peer)
		return
	}
	if msg.NodeID == n.PeerID().String() {
		n.dropSession(sess.peer)
		return
	}

	sess.mu.Lock()
	sess.sawVersion = true
	sess.mu.Unlock()

	n.send(sess, WireMessage{Kind: KindVerack})
	st := n.localStatus()
	n.send(sess, WireMessage{Kind: KindTip, Height: st.Height, HashHex: hexEncode(st.Hash)})
}

func (n *Node) handleVerack(sess *session) {
	sess.mu.Lock()
	if !sess.sawVersion || sess.sawVerack {
		sess.mu.Unlock()
		return
	}
	sess.sawVerack = true
	sess.complete = true
	sess.mu.Unlock()

	n.send(sess, WireMessage{Kind: KindGetTip})
}

func (n *Node) handleGetTip(sess *session) {
	st := n.localStatus()
	n.send(sess, WireMessage{Kind: KindTip, Height: st.Height, HashHex: hexEncode(st.Hash)})
}

func (n *Node) handleTip(sess *session, msg WireMessage) {
	localHeight := n.localStatus().Height
	if msg.Height <= localHeight {
		return
	}
	hash, ok := decodeHashHex(msg.HashHex)
	if !ok {
		return
	}
	n.mu.RLock()
	getBlock := n.getBlockFn
	n.mu.RUnlock()
	if getBlock != nil {
		if _, known := getBlock(hash); known {
			return
		}
	}
	n.requestBlock(sess, hash)
}

func (n *Node) handleGetBlock(sess *session, msg WireMessage) {
	hash, ok := decodeHashHex(msg.HashHex)
	if !ok {
		return
	}
	n.mu.RLock()
	getBlock := n.getBlockFn
	n.mu.RUnlock()
	if getBlock == nil {
		return
	}
	data, found := getBlock(hash)
	if !found {
		return
	}
	n.send(sess, WireMessage{Kind: KindBlock, PayloadB64: base64.StdEncoding.EncodeToString(data)})
}

func (n *Node) handleBlock(sess *session, msg WireMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.PayloadB64)
	if err != nil {
		return
	}

	n.mu.RLock()
	handler := n.onBlock
	n.mu.RUnlock()
	if handler != nil {
		handler(sess.peer, data)
	}
}

func (n *Node) handleTx(sess *session, msg WireMessage) {
	data, err := base64.StdEncoding.DecodeString(msg.PayloadB64)
	if err != nil {
		return
	}
	n.mu.RLock()
	handler := n.onTx
	n.mu.RUnlock()
	if handler != nil {
		handler(sess.peer, data)
	}
}

func (n *Node) send(sess *session, msg WireMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := writeFrame(sess.stream, data); err != nil && !isExpectedStreamCloseError(err) {
		log.Printf("failed to write %s to %s: %v", msg.Kind, sess.peer, err)
	}
}

// RequestBlock enqueues a getBlock for hash with one handshake-complete
// peer (the first one found in the session map). Used for an orphan's
// reported parent.
func (n *Node) RequestBlock(hash [32]byte) {
	n.mu.RLock()
	sessions := make([]*session, 0, len(n.sessions))
	for _, sess := range n.sessions {
		if sess.isComplete() {
			sessions = append(sessions, sess)
		}
	}
	n.mu.RUnlock()
	for _, sess := range sessions {
		n.requestBlock(sess, hash)
		return
	}
}

func (n *Node) requestBlock(sess *session, hash [32]byte) {
	key := hexEncode(hash)

	n.pendingMu.Lock()
	n.sweepPendingLocked()
	if _, exists := n.pending[key]; exists {
		n.pendingMu.Unlock()
		return
	}
	if len(n.pending) >= MaxPendingRequests {
		n.pendingMu.Unlock()
		log.Printf("pending request table full, dropping getBlock for %s", key)
		return
	}
	n.pending[key] = pendingRequest{hash: hash, issued: time.Now()}
	n.pendingMu.Unlock()

	n.send(sess, WireMessage{Kind: KindGetBlock, HashHex: key})
}

// ClearPending removes a hash from the outstanding getBlock table,
// called once the corresponding block payload has been parsed, before
// it is handed to the chainstate. The block message itself carries no
// hash field, so the caller -- which has deserialized the payload --
// is the one that knows which request this satisfies.
func (n *Node) ClearPending(hash [32]byte) {
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	delete(n.pending, hexEncode(hash))
}

func (n *Node) sweepPendingLocked() {
	cutoff := time.Now().Add(-PendingRequestTTL)
	for k, req := range n.pending {
		if req.issued.Before(cutoff) {
			delete(n.pending, k)
		}
	}
}

// BroadcastBlock sends a block to every connected, handshake-complete peer.
func (n *Node) BroadcastBlock(data []byte) {
	n.relay("", data, KindBlock)
}

// RelayBlock relays a block to every peer except sender.
func (n *Node) RelayBlock(sender peer.ID, data []byte) {
	n.relay(sender, data, KindBlock)
}

// BroadcastTx sends a transaction to every connected, handshake-complete peer.
func (n *Node) BroadcastTx(data []byte) {
	n.relay("", data, KindTx)
}

func (n *Node) relay(exclude peer.ID, data []byte, kind string) {
	n.mu.RLock()
	sessions := make([]*session, 0, len(n.sessions))
	for pid, sess := range n.sessions {
		if pid == exclude || !sess.isComplete() {
			continue
		}
		sessions = append(sessions, sess)
	}
	n.mu.RUnlock()

	payload := base64.StdEncoding.EncodeToString(data)
	for _, sess := range sessions {
		n.send(sess, WireMessage{Kind: kind, PayloadB64: payload})
	}
}

// IdentityAge returns how long the current identity has been active.
func (n *Node) IdentityAge() time.Duration { return n.identity.Age() }

// FullMultiaddrs returns the complete multiaddrs including peer ID.
func (n *Node) FullMultiaddrs() []string {
	pid := n.PeerID()
	addrs := n.Addrs()

	full := make([]string, 0, len(addrs))
	for _, addr := range addrs {
		s := addr.String()
		if strings.HasPrefix(s, "/ip4/127.") || strings.HasPrefix(s, "/ip6/::1") {
			continue
		}
		full = append(full, fmt.Sprintf("%s/p2p/%s", s, pid.String()))
	}
	return full
}

// WritePeerFile writes the node's multiaddrs to a file for sharing.
func (n *Node) WritePeerFile(filename string) error {
	addrs := n.FullMultiaddrs()
	if len(addrs) == 0 {
		return fmt.Errorf("no external addresses available")
	}
	content := strings.Join(addrs, "\n") + "\n"
	return os.WriteFile(filename, []byte(content), 0644)
}

func hexEncode(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

func decodeHashHex(s string) ([32]byte, bool) {
	var out [32]byte
	if len(s) != 64 {
		return out, false
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, false
	}
	copy(out[:], raw)
	return out, true
}
