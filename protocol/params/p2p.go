package params

// GossipProtocol is the single libp2p stream protocol ID carrying the
// newline-delimited JSON gossip messages (version/verack/ping/pong/
// getTip/tip/getBlock/block/tx). One protocol replaces the teacher's
// per-message-kind protocol split since every message kind here shares
// one framing and one stream-handling loop.
const GossipProtocol = "/chainlattice/gossip/1.0.0"
