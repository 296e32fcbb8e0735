package p2p

// WireMessage is the single JSON envelope used for every gossip frame.
// Only the fields relevant to Kind are populated; others are omitted.
type WireMessage struct {
	Kind string `json:"kind"`

	// version
	NetworkID string `json:"network_id,omitempty"`
	NodeID    string `json:"node_id,omitempty"`
	Height    uint64 `json:"height,omitempty"`
	HashHex   string `json:"hash_hex,omitempty"`

	// ping/pong
	Nonce uint64 `json:"nonce,omitempty"`

	// getBlock
	// HashHex reused above

	// block/tx
	PayloadB64 string `json:"payload_b64,omitempty"`
}

const (
	KindVersion  = "version"
	KindVerack   = "verack"
	KindPing     = "ping"
	KindPong     = "pong"
	KindGetTip   = "getTip"
	KindTip      = "tip"
	KindGetBlock = "getBlock"
	KindBlock    = "block"
	KindTx       = "tx"
)
