package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MinerConfig holds mining configuration.
type MinerConfig struct {
	// RewardPubKey receives the coinbase output of any block this miner
	// finds.
	RewardPubKey ed25519.PublicKey
	// Threads is the number of mining goroutines (0 = auto, treated as 1).
	Threads int
	// PeerCount returns the number of connected peers; nil skips the
	// idle-on-zero-peers guard.
	PeerCount func() int
}

// MinerStats holds mining statistics.
type MinerStats struct {
	NonceCount   uint64
	BlocksFound  uint64
	StartTime    time.Time
	LastHashTime time.Time
}

// Miner drives the edge-generation -> trim -> cycle-find -> target-check
// pipeline against the chain's current tip.
type Miner struct {
	config   MinerConfig
	chain    *Chainstate
	mempool  *Mempool
	stats    MinerStats
	threads  atomic.Int32
	running  atomic.Bool
	cancel   context.CancelFunc
	newBlock chan struct{}
}

// NewMiner creates a miner attached to chain and mempool.
func NewMiner(chain *Chainstate, mempool *Mempool, config MinerConfig) *Miner {
	threads := config.Threads
	if threads < 1 {
		threads = 1
	}
	m := &Miner{
		config:   config,
		chain:    chain,
		mempool:  mempool,
		newBlock: make(chan struct{}, 1),
		stats:    MinerStats{StartTime: time.Now()},
	}
	m.threads.Store(int32(threads))
	return m
}

// NotifyNewBlock tells the miner a new tip arrived so the current solve
// should be abandoned in favor of a fresh template.
func (m *Miner) NotifyNewBlock() {
	select {
	case m.newBlock <- struct{}{}:
	default:
	}
}

var errNewBlock = fmt.Errorf("new block received, restarting")

func txIDs(txs []*Transaction) [][32]byte {
	ids := make([][32]byte, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID()
	}
	return ids
}

// MineBlock attempts to mine one block against the current tip, trying
// nonces across Threads() goroutines until one yields a valid cycle
// whose proof satisfies the target, the context is cancelled, or a new
// tip arrives.
func (m *Miner) MineBlock(ctx context.Context) (*Block, error) {
	prevHash, height, bits, ok := m.chain.NextBlockTemplate()
	if !ok {
		return nil, fmt.Errorf("chain has no tip yet")
	}

	txs := m.mempool.GetTransactionsForBlock(MaxBlockSize-4096, MaxBlockTxCount-1)
	var fees uint64
	utxoView := m.chain.UTXOView()
	for _, tx := range txs {
		var in, out uint64
		for _, txin := range tx.Inputs {
			if prevOut, ok := utxoView.Get(OutPoint{TxID: txin.PrevTxID, Vout: txin.Vout}); ok {
				in += prevOut.Value
			}
		}
		for _, o := range tx.Outputs {
			out += o.Value
		}
		if in > out {
			fees += in - out
		}
	}

	coinbase := CreateCoinbase(height, m.config.RewardPubKey, Subsidy(height)+fees)
	allTxs := make([]*Transaction, 0, len(txs)+1)
	allTxs = append(allTxs, coinbase)
	allTxs = append(allTxs, txs...)

	header := BlockHeader{
		Version:    1,
		PrevHash:   prevHash,
		MerkleRoot: MerkleRoot(txIDs(allTxs)),
		Timestamp:  uint32(time.Now().Unix()),
		Bits:       bits,
	}
	params := ParamsForHeight(height)

	numThreads := m.Threads()
	resultChan := make(chan Proof, 1)
	mineCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	for t := 0; t < numThreads; t++ {
		wg.Add(1)
		go func(threadID int) {
			defer wg.Done()
			nonce := uint64(threadID)
			step := uint64(numThreads)
			for {
				select {
				case <-mineCtx.Done():
					return
				default:
				}

				proof, found, err := m.tryNonce(params, header, nonce)
				atomic.AddUint64(&m.stats.NonceCount, 1)
				if err == nil && found {
					select {
					case resultChan <- proof:
					default:
					}
					return
				}
				nonce += step
			}
		}(t)
	}

	stopWorkers := func() {
		cancel()
		wg.Wait()
	}

	select {
	case <-ctx.Done():
		stopWorkers()
		return nil, ctx.Err()
	case <-m.newBlock:
		stopWorkers()
		return nil, errNewBlock
	case proof := <-resultChan:
		stopWorkers()
		atomic.AddUint64(&m.stats.BlocksFound, 1)
		m.stats.LastHashTime = time.Now()
		return &Block{Header: header, Proof: proof, Transactions: allTxs}, nil
	}
}

// tryNonce runs the full pipeline for a single nonce: generate all
// edges, trim, search for an 8-cycle among the survivors, and check the
// resulting proof against the target. Returns found=false (no error) on
// an ordinary miss.
func (m *Miner) tryNonce(params GraphParams, header BlockHeader, nonce uint64) (Proof, bool, error) {
	gen, err := NewEdgeGenerator(params)
	if err != nil {
		return Proof{}, false, err
	}
	edges, err := gen.GenerateAll(header.Serialize(), nonce)
	if err != nil {
		return Proof{}, false, err
	}

	surviving := Trim(edges, params)
	survivorEdges := make([]Edge, len(surviving))
	for i, idx := range surviving {
		survivorEdges[i] = edges[idx]
	}

	cycle := FindCycle(survivorEdges, surviving)
	if cycle == nil {
		return Proof{}, false, nil
	}

	var cycleEdges [CycleLength]uint32
	copy(cycleEdges[:], cycle)
	proof := Proof{Header: header, Nonce: nonce, CycleEdges: cycleEdges}

	digest := sha256.Sum256(proof.Serialize())
	target := CompactToTarget(header.Bits)
	if !Satisfies(digest, target) {
		return Proof{}, false, nil
	}
	return proof, true, nil
}

// Start begins mining in a background goroutine, sending every block it
// finds to blockChan.
func (m *Miner) Start(ctx context.Context, blockChan chan<- *Block) {
	if m.running.Swap(true) {
		return
	}

	atomic.StoreUint64(&m.stats.NonceCount, 0)
	atomic.StoreUint64(&m.stats.BlocksFound, 0)
	m.stats.StartTime = time.Now()
	m.stats.LastHashTime = time.Time{}

	mineCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go func() {
		defer m.running.Store(false)
		defer cancel()

		for {
			select {
			case <-mineCtx.Done():
				return
			default:
			}

			if m.config.PeerCount != nil {
				for m.config.PeerCount() == 0 {
					select {
					case <-mineCtx.Done():
						return
					case <-time.After(5 * time.Second):
					}
				}
			}

			select {
			case <-m.newBlock:
			default:
			}

			block, err := m.MineBlock(mineCtx)
			if err != nil {
				if mineCtx.Err() != nil {
					return
				}
				if err == errNewBlock {
					continue
				}
				time.Sleep(time.Second)
				continue
			}

			select {
			case blockChan <- block:
			case <-mineCtx.Done():
				return
			}
		}
	}()
}

// Stop stops the miner.
func (m *Miner) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.running.Store(false)
}

// IsRunning reports whether the miner is active.
func (m *Miner) IsRunning() bool {
	return m.running.Load()
}

// SetThreads updates the worker thread count, restarting the current
// attempt immediately if mining is active.
func (m *Miner) SetThreads(n int) {
	if n < 1 {
		n = 1
	}
	prev := int(m.threads.Swap(int32(n)))
	if prev != n && m.IsRunning() {
		m.NotifyNewBlock()
	}
}

// Threads returns the current worker thread count.
func (m *Miner) Threads() int {
	n := int(m.threads.Load())
	if n < 1 {
		return 1
	}
	return n
}

// Stats returns current mining statistics.
func (m *Miner) Stats() MinerStats {
	return MinerStats{
		NonceCount:   atomic.LoadUint64(&m.stats.NonceCount),
		BlocksFound:  atomic.LoadUint64(&m.stats.BlocksFound),
		StartTime:    m.stats.StartTime,
		LastHashTime: m.stats.LastHashTime,
	}
}
