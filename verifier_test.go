package main

import "testing"

func TestVerifierCheckCoinbasePlacement(t *testing.T) {
	v := NewVerifier()
	coinbase := CreateCoinbase(1, GenesisPubKey, BaseSubsidy)

	ok := &Block{Transactions: []*Transaction{coinbase}}
	if err := v.checkCoinbasePlacement(ok); err != nil {
		t.Fatalf("expected a block led by a coinbase to pass, got: %v", err)
	}

	noCoinbase := &Block{Transactions: []*Transaction{{Version: 1, Outputs: []TxOutput{{Value: 1}}}}}
	if err := v.checkCoinbasePlacement(noCoinbase); err == nil {
		t.Fatal("expected a block with no leading coinbase to be rejected")
	}

	secondCoinbase := &Block{Transactions: []*Transaction{coinbase, CreateCoinbase(1, GenesisPubKey, BaseSubsidy)}}
	if err := v.checkCoinbasePlacement(secondCoinbase); err == nil {
		t.Fatal("expected a second coinbase transaction to be rejected")
	}
}

func TestVerifierCheckNoDuplicateTxIDs(t *testing.T) {
	v := NewVerifier()
	coinbase := CreateCoinbase(1, GenesisPubKey, BaseSubsidy)

	unique := &Block{Transactions: []*Transaction{coinbase}}
	if err := v.checkNoDuplicateTxIDs(unique); err != nil {
		t.Fatalf("expected unique txids to pass, got: %v", err)
	}

	duplicated := &Block{Transactions: []*Transaction{coinbase, coinbase}}
	if err := v.checkNoDuplicateTxIDs(duplicated); err == nil {
		t.Fatal("expected duplicate txids within a block to be rejected")
	}
}

func TestVerifierCheckMerkleRoot(t *testing.T) {
	v := NewVerifier()
	coinbase := CreateCoinbase(1, GenesisPubKey, BaseSubsidy)
	root := MerkleRoot([][32]byte{coinbase.TxID()})

	good := &Block{Header: BlockHeader{MerkleRoot: root}, Transactions: []*Transaction{coinbase}}
	if err := v.checkMerkleRoot(good); err != nil {
		t.Fatalf("expected matching merkle root to pass, got: %v", err)
	}

	bad := &Block{Header: BlockHeader{MerkleRoot: [32]byte{0xFF}}, Transactions: []*Transaction{coinbase}}
	if err := v.checkMerkleRoot(bad); err == nil {
		t.Fatal("expected mismatched merkle root to be rejected")
	}
}

func TestVerifierCheckPolicyRejectsEmptyTransactions(t *testing.T) {
	v := NewVerifier()
	empty := &Block{Transactions: nil}
	if err := v.checkPolicy(empty); err == nil {
		t.Fatal("expected a block with no transactions to be rejected")
	}
}

func TestVerifierCheckPolicyRejectsOversizedTxCount(t *testing.T) {
	v := NewVerifier()
	txs := make([]*Transaction, MaxBlockTxCount+1)
	coinbase := CreateCoinbase(1, GenesisPubKey, BaseSubsidy)
	for i := range txs {
		txs[i] = coinbase
	}
	block := &Block{Transactions: txs}
	if err := v.checkPolicy(block); err == nil {
		t.Fatal("expected a block exceeding MaxBlockTxCount to be rejected")
	}
}

func TestVerifierCheckStructureRejectsMismatchedProofHeader(t *testing.T) {
	v := NewVerifier()
	header := BlockHeader{Version: 1, Bits: MinDifficultyBits}
	otherHeader := BlockHeader{Version: 2, Bits: MinDifficultyBits}
	block := &Block{Header: header, Proof: Proof{Header: otherHeader}}
	params := ParamsForHeight(0)

	if err := v.checkStructure(block, params); err == nil {
		t.Fatal("expected a proof whose embedded header does not match the block header to be rejected")
	}
}
