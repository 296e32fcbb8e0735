package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

func newTestNode(t *testing.T) *Node {
	t.Helper()
	cfg := DefaultNodeConfig()
	cfg.ListenAddrs = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.SeedNodes = nil
	n, err := NewNode(cfg)
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	t.Cleanup(func() { n.Stop() })
	return n
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestNodeHandshakeCompletesBetweenTwoPeers(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	a.SetStatusProvider(func() ChainStatus { return ChainStatus{Height: 5} })
	b.SetStatusProvider(func() ChainStatus { return ChainStatus{Height: 3} })

	addrInfo := peer.AddrInfo{ID: b.PeerID(), Addrs: b.Addrs()}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.Connect(ctx, addrInfo); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	waitFor(t, 10*time.Second, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	})
}

func TestNodeReportsZeroPeersBeforeHandshake(t *testing.T) {
	// Peers() lists only handshake-complete sessions, so a freshly
	// created node that has dialed no one reports zero peers.
	a := newTestNode(t)
	if got := len(a.Peers()); got != 0 {
		t.Fatalf("expected a freshly created node to report zero peers, got %d", got)
	}
}

func TestNodeClearPendingRemovesEntry(t *testing.T) {
	n := newTestNode(t)
	var hash [32]byte
	hash[0] = 0xAB

	// Nothing pending yet; ClearPending on an absent hash must be a safe
	// no-op.
	n.ClearPending(hash)

	n.pendingMu.Lock()
	n.pending[hexEncode(hash)] = pendingRequest{hash: hash, issued: time.Now()}
	n.pendingMu.Unlock()

	n.ClearPending(hash)

	n.pendingMu.Lock()
	_, stillPending := n.pending[hexEncode(hash)]
	n.pendingMu.Unlock()
	if stillPending {
		t.Fatal("expected ClearPending to remove the pending entry")
	}
}

func TestNodePeerIDStable(t *testing.T) {
	n := newTestNode(t)
	id1 := n.PeerID()
	id2 := n.PeerID()
	if id1 != id2 {
		t.Fatal("expected PeerID() to be stable across calls without rotation")
	}
}
