package main

import (
	"context"
	"crypto/ed25519"
	"log"

	"github.com/przchojecki/chainlattice/chainerr"
	"github.com/przchojecki/chainlattice/p2p"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Daemon composes Chainstate, Mempool, Miner, and a P2P node into one
// running process.
type Daemon struct {
	chain   *Chainstate
	mempool *Mempool
	miner   *Miner
	node    *p2p.Node

	blockChan chan *Block

	ctx    context.Context
	cancel context.CancelFunc
}

// DaemonConfig configures a Daemon.
type DaemonConfig struct {
	DataDir      string
	ListenAddrs  []string
	SeedNodes    []string
	RewardPubKey ed25519.PublicKey
	MineThreads  int
}

// DefaultSeedNodes is empty; this network has no hardcoded bootstrap list.
var DefaultSeedNodes = []string{}

// DefaultDaemonConfig returns sensible defaults.
func DefaultDaemonConfig() DaemonConfig {
	return DaemonConfig{
		DataDir:     "./data",
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/28080"},
		SeedNodes:   DefaultSeedNodes,
		MineThreads: 1,
	}
}

// NewDaemon wires a chainstate, mempool, miner, and P2P node together
// against a storage directory, replaying any persisted chain state.
func NewDaemon(cfg DaemonConfig) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	storage, err := NewStorage(cfg.DataDir)
	if err != nil {
		cancel()
		return nil, err
	}

	d := &Daemon{ctx: ctx, cancel: cancel, blockChan: make(chan *Block, 10)}

	chain, err := NewChainstate(storage, d.onBlockConnected)
	if err != nil {
		cancel()
		return nil, err
	}
	d.chain = chain

	utxoView := chain.UTXOView()
	d.mempool = NewMempool(DefaultMempoolConfig(), utxoView)

	minerCfg := MinerConfig{
		RewardPubKey: cfg.RewardPubKey,
		Threads:      cfg.MineThreads,
	}
	d.miner = NewMiner(chain, d.mempool, minerCfg)

	nodeCfg := p2p.DefaultNodeConfig()
	nodeCfg.ListenAddrs = cfg.ListenAddrs
	nodeCfg.SeedNodes = cfg.SeedNodes
	nodeCfg.UserAgent = "chainlattice/" + Version

	node, err := p2p.NewNode(nodeCfg)
	if err != nil {
		cancel()
		return nil, err
	}
	d.node = node

	d.miner.config.PeerCount = func() int { return len(node.Peers()) }
	node.SetStatusProvider(func() p2p.ChainStatus {
		return p2p.ChainStatus{Height: chain.Height(), Hash: chain.BestHash()}
	})
	node.SetBlockProvider(func(hash [32]byte) ([]byte, bool) {
		b := chain.GetBlock(hash)
		if b == nil {
			return nil, false
		}
		return b.Serialize(), true
	})
	node.SetBlockHandler(d.handlePeerBlock)
	node.SetTxHandler(d.handlePeerTx)

	return d, nil
}

// Start begins P2P operations.
func (d *Daemon) Start() error {
	if err := d.node.Start(); err != nil {
		return err
	}
	log.Printf("daemon started: peer=%s height=%d", d.node.PeerID(), d.chain.Height())
	return nil
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.cancel()
	d.miner.Stop()
	if err := d.node.Stop(); err != nil {
		return err
	}
	d.chain.Close()
	return nil
}

// StartMining begins mining in the background, submitting any block it
// finds back through the daemon's own acceptance path.
func (d *Daemon) StartMining() {
	go func() {
		for {
			select {
			case <-d.ctx.Done():
				return
			case block := <-d.blockChan:
				d.submitMinedBlock(block)
			}
		}
	}()
	d.miner.Start(d.ctx, d.blockChan)
}

func (d *Daemon) submitMinedBlock(block *Block) {
	if err := d.chain.Accept(block); err != nil {
		log.Printf("mined block rejected: %v", err)
		return
	}
	d.node.BroadcastBlock(block.Serialize())
}

// handlePeerBlock processes a block received from a peer.
func (d *Daemon) handlePeerBlock(from peer.ID, data []byte) {
	block, err := DeserializeBlock(data)
	if err != nil {
		return
	}
	d.node.ClearPending(block.Hash())

	if err := d.chain.Accept(block); err != nil {
		if kind, ok := chainerr.KindOf(err); ok && kind == chainerr.KindTopology {
			d.node.RequestBlock(block.Header.PrevHash)
		}
		return
	}

	d.node.RelayBlock(from, data)
}

// handlePeerTx processes a transaction received from a peer (fluff relay).
func (d *Daemon) handlePeerTx(from peer.ID, data []byte) {
	tx, err := DeserializeTransaction(data)
	if err != nil {
		return
	}
	if err := d.mempool.AddTransaction(tx); err != nil {
		return
	}
	d.node.BroadcastTx(data)
	_ = from
}

// onBlockConnected is invoked by the chainstate after a block becomes
// part of the best chain.
func (d *Daemon) onBlockConnected(block *Block) {
	d.mempool.OnBlockConnected(block)
	d.miner.NotifyNewBlock()
}

// SubmitTransaction validates and admits a transaction, then relays it.
func (d *Daemon) SubmitTransaction(txData []byte) error {
	tx, err := DeserializeTransaction(txData)
	if err != nil {
		return err
	}
	if err := d.mempool.AddTransaction(tx); err != nil {
		return err
	}
	d.node.BroadcastTx(txData)
	return nil
}

// DaemonStats is a point-in-time snapshot of daemon status.
type DaemonStats struct {
	PeerID      string
	Peers       int
	ChainHeight uint64
	BestHash    [32]byte
	TotalWork   uint64
	MempoolSize int
}

func (d *Daemon) Stats() DaemonStats {
	return DaemonStats{
		PeerID:      d.node.PeerID().String(),
		Peers:       len(d.node.Peers()),
		ChainHeight: d.chain.Height(),
		BestHash:    d.chain.BestHash(),
		TotalWork:   d.chain.TotalWork(),
		MempoolSize: d.mempool.Size(),
	}
}

func (d *Daemon) Chain() *Chainstate { return d.chain }
func (d *Daemon) Mempool() *Mempool  { return d.mempool }
func (d *Daemon) Node() *p2p.Node    { return d.node }
func (d *Daemon) Miner() *Miner      { return d.miner }
