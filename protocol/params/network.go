package params

// NetworkID is the value exchanged in the P2P version handshake's
// network_id field. Peers that disagree on this value are not running
// the same network and are rejected during handshake.
const NetworkID = "chainlattice/mainnet"
