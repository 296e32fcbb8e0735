package main

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/przchojecki/chainlattice/chainerr"
)

// GenesisTimestamp is the fixed timestamp embedded in the genesis header.
const GenesisTimestamp = 1700000000

// GenesisPubKey is the fixed well-known all-0x01 Ed25519 test public key
// the genesis coinbase pays to (spec.md 4.7).
var GenesisPubKey = func() ed25519.PublicKey {
	pub := make([]byte, ed25519.PublicKeySize)
	for i := range pub {
		pub[i] = 0x01
	}
	return pub
}()

// Genesis builds the network's genesis block: height 0, all-zero prev
// hash, one coinbase paying BaseSubsidy to GenesisPubKey, bits at the
// network minimum, a fixed timestamp. Its proof need not satisfy the
// usual PoW check -- it is accepted under the relaxed genesis policy.
func Genesis() *Block {
	coinbase := CreateCoinbase(0, GenesisPubKey, BaseSubsidy)
	root := MerkleRoot([][32]byte{coinbase.TxID()})
	header := BlockHeader{
		Version:    1,
		PrevHash:   [32]byte{},
		MerkleRoot: root,
		Timestamp:  GenesisTimestamp,
		Bits:       MinDifficultyBits,
	}
	return &Block{
		Header:       header,
		Proof:        Proof{Header: header},
		Transactions: []*Transaction{coinbase},
	}
}

// ChainNode is one node in the block tree: a connected block plus the
// UTXO snapshot that results from applying it on top of its parent's.
// Forks are never physically undone -- each fork tip keeps its own
// snapshot, and the best pointer simply moves to whichever tip has the
// most cumulative work.
type ChainNode struct {
	Hash   [32]byte
	Header BlockHeader
	Height uint64
	Work   uint64
	UTXO   UTXOMap
	Parent *ChainNode
}

// Chainstate is a serialized single-writer actor over the block tree.
// Every mutation -- accepting a block, moving the best pointer -- runs
// inside the one goroutine draining reqCh, so no lock is ever held
// across a suspension point.
type Chainstate struct {
	storage  *Storage
	verifier *Verifier

	reqCh chan func()
	done  chan struct{}

	nodes map[[32]byte]*ChainNode
	best  *ChainNode

	utxoView *UTXOSet

	onConnect func(*Block)
}

// NewChainstate opens storage, starts the actor goroutine, and replays
// (or creates) the chain's history before returning.
func NewChainstate(storage *Storage, onConnect func(*Block)) (*Chainstate, error) {
	c := &Chainstate{
		storage:   storage,
		verifier:  NewVerifier(),
		reqCh:     make(chan func()),
		done:      make(chan struct{}),
		nodes:     make(map[[32]byte]*ChainNode),
		utxoView:  NewUTXOSet(nil),
		onConnect: onConnect,
	}
	go c.run()
	if err := c.bootstrap(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Chainstate) run() {
	for {
		select {
		case fn := <-c.reqCh:
			fn()
		case <-c.done:
			return
		}
	}
}

// do submits fn to the actor and blocks until it has run.
func (c *Chainstate) do(fn func()) {
	result := make(chan struct{})
	c.reqCh <- func() {
		fn()
		close(result)
	}
	<-result
}

// Close stops the actor goroutine.
func (c *Chainstate) Close() {
	close(c.done)
}

// bootstrap replays every persisted block (if any) back into the
// in-memory tree, or creates and accepts genesis on a fresh data
// directory. It runs before the actor goroutine has any concurrent
// callers, so it drives acceptLocked directly rather than through do().
func (c *Chainstate) bootstrap() error {
	hashes, err := c.storage.ListBlockHashes()
	if err != nil {
		return err
	}
	if len(hashes) == 0 {
		return c.acceptLocked(Genesis())
	}

	pending := make(map[[32]byte]*Block, len(hashes))
	for _, h := range hashes {
		b, err := c.storage.LoadBlock(h)
		if err != nil {
			return fmt.Errorf("loading persisted block %x: %w", h[:8], err)
		}
		pending[h] = b
	}

	for len(pending) > 0 {
		progressed := false
		for hash, b := range pending {
			err := c.acceptLocked(b)
			if err == nil {
				delete(pending, hash)
				progressed = true
				continue
			}
			if kind, ok := chainerr.KindOf(err); ok && kind == chainerr.KindTopology {
				continue // parent not replayed yet; retry next sweep
			}
			return fmt.Errorf("replaying persisted block %x: %w", hash[:8], err)
		}
		if !progressed {
			break // remainder are genuinely unreachable; leave them unindexed
		}
	}
	return nil
}

// Accept runs the full acceptance pipeline for a newly proposed or
// received block.
func (c *Chainstate) Accept(block *Block) error {
	var resultErr error
	c.do(func() {
		resultErr = c.acceptLocked(block)
	})
	return resultErr
}

// acceptLocked implements the accept pipeline: duplicate check, parent
// lookup, difficulty check, timestamp bounds, block verification, UTXO application, tree
// insertion, persistence, and fork-choice update. Must only run inside
// the actor goroutine.
func (c *Chainstate) acceptLocked(block *Block) error {
	hash := block.Hash()
	if _, exists := c.nodes[hash]; exists {
		return chainerr.Duplicate("block already known")
	}

	isGenesis := len(c.nodes) == 0 && block.Header.PrevHash == [32]byte{}

	var parent *ChainNode
	var height uint64
	var parentUTXO UTXOMap

	if isGenesis {
		parentUTXO = UTXOMap{}
	} else {
		p, ok := c.nodes[block.Header.PrevHash]
		if !ok {
			return chainerr.Orphan(block.Header.PrevHash)
		}
		parent = p
		height = parent.Height + 1
		parentUTXO = parent.UTXO

		expected := c.expectedBits(parent, height)
		if block.Header.Bits != expected {
			return chainerr.New(chainerr.KindConsensus,
				fmt.Sprintf("bits %08x does not match expected %08x at height %d", block.Header.Bits, expected, height), nil)
		}

		if block.Header.Timestamp <= parent.Header.Timestamp {
			return chainerr.New(chainerr.KindPolicy,
				fmt.Sprintf("timestamp %d not after parent timestamp %d", block.Header.Timestamp, parent.Header.Timestamp), nil)
		}
		if int64(block.Header.Timestamp) > time.Now().Unix()+MaxFutureSeconds {
			return chainerr.New(chainerr.KindPolicy,
				fmt.Sprintf("timestamp %d more than %d seconds in the future", block.Header.Timestamp, MaxFutureSeconds), nil)
		}
	}

	if isGenesis {
		if err := c.checkGenesisStructure(block); err != nil {
			return chainerr.New(chainerr.KindStructural, err.Error(), err)
		}
	} else {
		if err := c.verifier.Verify(block, height); err != nil {
			return chainerr.New(chainerr.KindConsensus, err.Error(), err)
		}
	}

	newUTXO, err := applyBlockToUTXO(parentUTXO, block, height)
	if err != nil {
		return chainerr.New(chainerr.KindPolicy, err.Error(), err)
	}

	work := WorkScore(block.Header.Bits)
	if parent != nil {
		work += parent.Work
	}

	node := &ChainNode{
		Hash:   hash,
		Header: block.Header,
		Height: height,
		Work:   work,
		UTXO:   newUTXO,
		Parent: parent,
	}
	c.nodes[hash] = node

	if err := c.storage.SaveBlock(block); err != nil {
		return chainerr.New(chainerr.KindStorage, "saving block", err)
	}

	if c.isBetterThanBest(node) {
		c.best = node
		c.utxoView.Replace(newUTXO)
		meta := ChainMeta{TipHash: EncodeTipHash(hash)}
		if err := c.storage.SaveMeta(meta); err != nil {
			return chainerr.New(chainerr.KindStorage, "saving chain meta", err)
		}
		if c.onConnect != nil {
			c.onConnect(block)
		}
	}

	return nil
}

// checkGenesisStructure applies spec.md 8 scenario 5's relaxed genesis
// policy: the proof-of-work target and cycle checks are skipped, but
// coinbase placement and the merkle root must still be internally
// consistent.
func (c *Chainstate) checkGenesisStructure(block *Block) error {
	if len(block.Transactions) != 1 || !block.Transactions[0].IsCoinbase() {
		return fmt.Errorf("genesis must contain exactly one coinbase transaction")
	}
	root, err := block.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	if root != block.Header.MerkleRoot {
		return fmt.Errorf("genesis merkle root mismatch")
	}
	return nil
}

// expectedBits computes the bits a block at height must carry: the
// parent's bits, unless height lands on a retarget boundary, in which
// case the network retargets against the timespan of the previous
// BlocksPerAdjustment-1 blocks. This one-off anchor (walking back
// BlocksPerAdjustment-1 ancestors rather than BlocksPerAdjustment) is
// deliberate, not a rounding bug -- it is preserved exactly.
func (c *Chainstate) expectedBits(parent *ChainNode, height uint64) uint32 {
	if height%BlocksPerAdjustment != 0 {
		return parent.Header.Bits
	}
	anchor := parent
	for i := 0; i < BlocksPerAdjustment-1 && anchor.Parent != nil; i++ {
		anchor = anchor.Parent
	}
	actualSeconds := int64(parent.Header.Timestamp) - int64(anchor.Header.Timestamp)
	expectedSeconds := int64(TargetBlockSeconds) * int64(BlocksPerAdjustment-1)
	return Retarget(parent.Header.Bits, actualSeconds, expectedSeconds)
}

// isBetterThanBest reports whether node should replace the current best
// tip: strictly more cumulative work, or equal work broken by the
// lexicographically smaller hash so every node reaches the same
// decision from the same set of competing tips.
func (c *Chainstate) isBetterThanBest(node *ChainNode) bool {
	if c.best == nil {
		return true
	}
	if node.Work != c.best.Work {
		return node.Work > c.best.Work
	}
	return bytes.Compare(node.Hash[:], c.best.Hash[:]) < 0
}

// applyBlockToUTXO validates every transaction's inputs/signatures
// against utxoBase and returns the resulting snapshot, or an error on
// the first invalid transaction. The coinbase's own outputs are applied
// last, once total fees are known, so its value can be checked against
// subsidy(height) + fees.
func applyBlockToUTXO(utxoBase UTXOMap, block *Block, height uint64) (UTXOMap, error) {
	if len(block.Transactions) == 0 || !block.Transactions[0].IsCoinbase() {
		return nil, fmt.Errorf("block's first transaction must be a coinbase")
	}

	utxo := utxoBase.Clone()
	var totalFees uint64

	for i := 1; i < len(block.Transactions); i++ {
		tx := block.Transactions[i]
		if tx.IsCoinbase() {
			return nil, fmt.Errorf("transaction %d is an unexpected second coinbase", i)
		}

		var inputSum uint64
		spent := make([]OutPoint, 0, len(tx.Inputs))
		seen := make(map[OutPoint]bool, len(tx.Inputs))
		for j, in := range tx.Inputs {
			op := OutPoint{TxID: in.PrevTxID, Vout: in.Vout}
			if seen[op] {
				return nil, fmt.Errorf("tx %d input %d spends output already spent earlier in the same transaction", i, j)
			}
			seen[op] = true
			prevOut, ok := utxo[op]
			if !ok {
				return nil, fmt.Errorf("tx %d input %d spends unknown or already-spent output", i, j)
			}
			if err := tx.VerifyInputSignature(j, prevOut); err != nil {
				return nil, fmt.Errorf("tx %d input %d: %w", i, j, err)
			}
			inputSum += prevOut.Value
			spent = append(spent, op)
		}

		var outputSum uint64
		for _, out := range tx.Outputs {
			outputSum += out.Value
		}
		if outputSum > inputSum {
			return nil, fmt.Errorf("tx %d outputs (%d) exceed inputs (%d)", i, outputSum, inputSum)
		}
		totalFees += inputSum - outputSum

		for _, op := range spent {
			delete(utxo, op)
		}
		txid := tx.TxID()
		for vout, out := range tx.Outputs {
			utxo[OutPoint{TxID: txid, Vout: uint32(vout)}] = out
		}
	}

	coinbase := block.Transactions[0]
	var coinbaseTotal uint64
	for _, out := range coinbase.Outputs {
		coinbaseTotal += out.Value
	}
	if coinbaseTotal > Subsidy(height)+totalFees {
		return nil, fmt.Errorf("coinbase pays %d, exceeds subsidy+fees %d", coinbaseTotal, Subsidy(height)+totalFees)
	}
	txid := coinbase.TxID()
	for vout, out := range coinbase.Outputs {
		utxo[OutPoint{TxID: txid, Vout: uint32(vout)}] = out
	}

	return utxo, nil
}

// BestHash returns the current best tip's hash.
func (c *Chainstate) BestHash() [32]byte {
	var h [32]byte
	c.do(func() {
		if c.best != nil {
			h = c.best.Hash
		}
	})
	return h
}

// Height returns the current best tip's height.
func (c *Chainstate) Height() uint64 {
	var h uint64
	c.do(func() {
		if c.best != nil {
			h = c.best.Height
		}
	})
	return h
}

// TotalWork returns the current best tip's cumulative work.
func (c *Chainstate) TotalWork() uint64 {
	var w uint64
	c.do(func() {
		if c.best != nil {
			w = c.best.Work
		}
	})
	return w
}

// HasBlock reports whether a block is known (on any branch).
func (c *Chainstate) HasBlock(hash [32]byte) bool {
	var known bool
	c.do(func() {
		_, known = c.nodes[hash]
	})
	return known
}

// GetBlock loads a known block by hash from storage.
func (c *Chainstate) GetBlock(hash [32]byte) *Block {
	var result *Block
	c.do(func() {
		if _, ok := c.nodes[hash]; !ok {
			return
		}
		if b, err := c.storage.LoadBlock(hash); err == nil {
			result = b
		}
	})
	return result
}

// GetBlockByHeight loads the main-chain block at a height, if any.
func (c *Chainstate) GetBlockByHeight(height uint64) *Block {
	var result *Block
	c.do(func() {
		node := c.best
		for node != nil && node.Height > height {
			node = node.Parent
		}
		if node == nil || node.Height != height {
			return
		}
		if b, err := c.storage.LoadBlock(node.Hash); err == nil {
			result = b
		}
	})
	return result
}

// NextBlockTemplate returns the parent hash, height, and bits the next
// mined block should carry, given the current best tip.
func (c *Chainstate) NextBlockTemplate() (prevHash [32]byte, height uint64, bits uint32, ok bool) {
	c.do(func() {
		if c.best == nil {
			return
		}
		prevHash = c.best.Hash
		height = c.best.Height + 1
		bits = c.expectedBits(c.best, height)
		ok = true
	})
	return
}

// UTXOView returns the concurrency-safe read view of the best tip's UTXO
// set, kept current by acceptLocked on every fork-choice update. Readers
// such as the mempool consult this directly rather than routing every
// lookup through the actor.
func (c *Chainstate) UTXOView() *UTXOSet {
	return c.utxoView
}
