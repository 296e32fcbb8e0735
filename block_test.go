package main

import (
	"bytes"
	"testing"
)

func TestBlockSerializeRoundTrip(t *testing.T) {
	coinbase := CreateCoinbase(0, GenesisPubKey, BaseSubsidy)
	header := BlockHeader{
		Version:    1,
		MerkleRoot: MerkleRoot([][32]byte{coinbase.TxID()}),
		Timestamp:  GenesisTimestamp,
		Bits:       MinDifficultyBits,
	}
	block := &Block{
		Header:       header,
		Proof:        Proof{Header: header},
		Transactions: []*Transaction{coinbase},
	}

	data := block.Serialize()
	got, err := DeserializeBlock(data)
	if err != nil {
		t.Fatalf("deserialize failed: %v", err)
	}
	if got.Header != block.Header {
		t.Fatalf("header mismatch after round trip")
	}
	if len(got.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(got.Transactions))
	}
	if got.Transactions[0].TxID() != coinbase.TxID() {
		t.Fatal("coinbase txid mismatch after round trip")
	}
}

func TestDeserializeBlockRejectsTruncated(t *testing.T) {
	coinbase := CreateCoinbase(0, GenesisPubKey, BaseSubsidy)
	header := BlockHeader{Version: 1, Bits: MinDifficultyBits}
	block := &Block{Header: header, Proof: Proof{Header: header}, Transactions: []*Transaction{coinbase}}

	data := block.Serialize()
	if _, err := DeserializeBlock(data[:len(data)-10]); err == nil {
		t.Fatal("expected truncated block bytes to be rejected")
	}
}

func TestMerkleRootSingleAndEmpty(t *testing.T) {
	if root := MerkleRoot(nil); root != ([32]byte{}) {
		t.Fatal("expected empty txid list to yield the all-zero root")
	}

	id := [32]byte{0x01, 0x02}
	if root := MerkleRoot([][32]byte{id}); root != id {
		t.Fatal("expected single-txid list to yield that txid as the root")
	}
}

func TestMerkleRootOddCountDuplicatesLast(t *testing.T) {
	a := [32]byte{0x01}
	b := [32]byte{0x02}
	c := [32]byte{0x03}

	withThree := MerkleRoot([][32]byte{a, b, c})
	withDuplicated := MerkleRoot([][32]byte{a, b, c, c})
	if withThree != withDuplicated {
		t.Fatal("expected an odd-length level to duplicate its last hash, matching an explicit duplicate")
	}
}

func TestBlockHashIsHeaderOnly(t *testing.T) {
	header := BlockHeader{Version: 1, Bits: MinDifficultyBits, Timestamp: 100}
	b1 := &Block{Header: header, Proof: Proof{Header: header}, Transactions: nil}
	b2 := &Block{Header: header, Proof: Proof{Header: header}, Transactions: []*Transaction{CreateCoinbase(0, GenesisPubKey, 1)}}

	if b1.Hash() != b2.Hash() {
		t.Fatal("expected block hash to depend only on the header, not the transaction list")
	}
	if !bytes.Equal(header.Serialize(), header.Serialize()) {
		t.Fatal("header serialization must be deterministic")
	}
}
