package main

import (
	"context"
	"crypto/ed25519"
	"strings"
	"testing"
	"time"

	"github.com/przchojecki/chainlattice/chainerr"
)

func newTestChainstate(t *testing.T) *Chainstate {
	t.Helper()
	storage, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}
	chain, err := NewChainstate(storage, nil)
	if err != nil {
		t.Fatalf("NewChainstate failed: %v", err)
	}
	t.Cleanup(chain.Close)
	return chain
}

func TestChainstateBootstrapsGenesis(t *testing.T) {
	chain := newTestChainstate(t)

	if got, want := chain.Height(), uint64(0); got != want {
		t.Fatalf("expected height %d after genesis bootstrap, got %d", want, got)
	}
	if chain.BestHash() != Genesis().Hash() {
		t.Fatal("expected the best tip to be the genesis block")
	}
	if !chain.HasBlock(Genesis().Hash()) {
		t.Fatal("expected HasBlock to report the genesis block as known")
	}
}

func TestChainstateRejectsDuplicateGenesis(t *testing.T) {
	chain := newTestChainstate(t)

	err := chain.Accept(Genesis())
	if err == nil {
		t.Fatal("expected re-accepting genesis to fail")
	}
	kind, ok := chainerr.KindOf(err)
	if !ok || kind != chainerr.KindDuplicate {
		t.Fatalf("expected a KindDuplicate error, got %v (kind=%v ok=%v)", err, kind, ok)
	}
}

func TestChainstateRejectsOrphanBlock(t *testing.T) {
	chain := newTestChainstate(t)

	header := BlockHeader{
		Version:   1,
		PrevHash:  [32]byte{0xFF, 0xEE}, // no known parent
		Timestamp: GenesisTimestamp + 1,
		Bits:      MinDifficultyBits,
	}
	coinbase := CreateCoinbase(1, GenesisPubKey, BaseSubsidy)
	header.MerkleRoot = MerkleRoot([][32]byte{coinbase.TxID()})
	block := &Block{Header: header, Proof: Proof{Header: header}, Transactions: []*Transaction{coinbase}}

	err := chain.Accept(block)
	if err == nil {
		t.Fatal("expected a block with an unknown parent to be rejected")
	}
	kind, ok := chainerr.KindOf(err)
	if !ok || kind != chainerr.KindTopology {
		t.Fatalf("expected a KindTopology (orphan) error, got %v (kind=%v ok=%v)", err, kind, ok)
	}
}

func TestChainstateNextBlockTemplate(t *testing.T) {
	chain := newTestChainstate(t)

	prevHash, height, bits, ok := chain.NextBlockTemplate()
	if !ok {
		t.Fatal("expected a template to be available once genesis exists")
	}
	if prevHash != Genesis().Hash() {
		t.Fatal("expected the template's prevHash to be the genesis hash")
	}
	if height != 1 {
		t.Fatalf("expected template height 1, got %d", height)
	}
	if bits != MinDifficultyBits {
		t.Fatalf("expected template bits to equal the parent's bits at a non-retarget height, got %08x", bits)
	}
}

// TestApplyBlockToUTXORejectsDuplicateInputWithinTransaction guards
// against double-counting the same outpoint's value as two distinct
// inputs: a transaction listing one outpoint twice must be rejected
// rather than inflating inputSum and the resulting fee.
func TestApplyBlockToUTXORejectsDuplicateInputWithinTransaction(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	spendable := OutPoint{TxID: [32]byte{0x07}, Vout: 0}
	utxoBase := UTXOMap{spendable: makeP2PKOutput(1000, pub)}

	tx := &Transaction{
		Version: 1,
		Inputs: []TxInput{
			{PrevTxID: spendable.TxID, Vout: spendable.Vout},
			{PrevTxID: spendable.TxID, Vout: spendable.Vout},
		},
		Outputs: []TxOutput{makeP2PKOutput(700, pub)},
	}
	signInput(t, tx, 0, priv)
	signInput(t, tx, 1, priv)

	coinbase := CreateCoinbase(1, GenesisPubKey, Subsidy(1))
	block := &Block{Transactions: []*Transaction{coinbase, tx}}

	_, err = applyBlockToUTXO(utxoBase, block, 1)
	if err == nil {
		t.Fatal("expected a transaction spending the same outpoint twice to be rejected")
	}
	if !strings.Contains(err.Error(), "already spent") {
		t.Fatalf(`expected rejection reason to contain "already spent", got: %v`, err)
	}
}

// TestMineAndAcceptRealBlock drives the full production pipeline -- real
// memory-hard edge generation, trimming, and cycle search against live
// chainstate and mempool -- to mine and accept one block past genesis.
// Skipped in -short mode: NumEdges for epoch 0 is at minimum 2^23, so
// even a "lucky find" search can take a while on a slow machine.
func TestMineAndAcceptRealBlock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real mining pipeline test in -short mode")
	}

	chain := newTestChainstate(t)
	mempool := NewMempool(DefaultMempoolConfig(), chain.UTXOView())
	miner := NewMiner(chain, mempool, MinerConfig{RewardPubKey: GenesisPubKey, Threads: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	block, err := miner.MineBlock(ctx)
	if err != nil {
		t.Fatalf("MineBlock failed: %v", err)
	}
	if err := chain.Accept(block); err != nil {
		t.Fatalf("Accept rejected the freshly mined block: %v", err)
	}
	if got, want := chain.Height(), uint64(1); got != want {
		t.Fatalf("expected height %d after accepting the mined block, got %d", want, got)
	}
}
