package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// MaxBlockSize caps the serialized size of a block (policy check, step 2
// of the chainstate accept pipeline).
const MaxBlockSize = 4 << 20 // 4 MiB

// MaxBlockTxCount caps the number of transactions in a block.
const MaxBlockTxCount = 100_000

// MaxFutureSeconds bounds how far a block's timestamp may sit beyond now.
const MaxFutureSeconds = 2 * 60 * 60

// Block is header | proof | transactions, with the invariants named in
// spec.md 3: proof.header == serialize(header); header.merkle_root ==
// merkle_root(transactions); first transaction is a coinbase; no
// duplicate txids within a block.
type Block struct {
	Header       BlockHeader
	Proof        Proof
	Transactions []*Transaction
}

// Hash is the block's identity: SHA-256 of its serialized header.
func (b *Block) Hash() [32]byte {
	return sha256.Sum256(b.Header.Serialize())
}

// Serialize writes the exact wire layout from spec.md 6:
// header(80) | proof_len:u32 LE | proof_bytes | tx_count:u32 LE |
// (tx_len:u32 LE | tx_bytes) x tx_count.
func (b *Block) Serialize() []byte {
	proofBytes := b.Proof.Serialize()

	txBytesList := make([][]byte, len(b.Transactions))
	total := HeaderSize + 4 + len(proofBytes) + 4
	for i, tx := range b.Transactions {
		tb := tx.Serialize()
		txBytesList[i] = tb
		total += 4 + len(tb)
	}

	buf := make([]byte, total)
	off := 0
	copy(buf[off:off+HeaderSize], b.Header.Serialize())
	off += HeaderSize
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(proofBytes)))
	off += 4
	copy(buf[off:off+len(proofBytes)], proofBytes)
	off += len(proofBytes)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(b.Transactions)))
	off += 4
	for _, tb := range txBytesList {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(tb)))
		off += 4
		copy(buf[off:off+len(tb)], tb)
		off += len(tb)
	}
	return buf
}

func DeserializeBlock(data []byte) (*Block, error) {
	if len(data) < HeaderSize+4+4 {
		return nil, fmt.Errorf("block: too short")
	}
	header, err := DeserializeBlockHeader(data[0:HeaderSize])
	if err != nil {
		return nil, fmt.Errorf("block header: %w", err)
	}
	off := HeaderSize

	proofLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if off+proofLen > len(data) {
		return nil, fmt.Errorf("block: proof overruns buffer")
	}
	proof, err := DeserializeProof(data[off : off+proofLen])
	if err != nil {
		return nil, fmt.Errorf("block proof: %w", err)
	}
	off += proofLen

	if off+4 > len(data) {
		return nil, fmt.Errorf("block: truncated tx count")
	}
	txCount := int(binary.LittleEndian.Uint32(data[off : off+4]))
	off += 4
	if txCount > MaxBlockTxCount {
		return nil, fmt.Errorf("block: tx count %d exceeds limit", txCount)
	}

	txs := make([]*Transaction, 0, txCount)
	for i := 0; i < txCount; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("block: truncated tx length at index %d", i)
		}
		txLen := int(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		if off+txLen > len(data) {
			return nil, fmt.Errorf("block: tx %d overruns buffer", i)
		}
		tx, err := DeserializeTransaction(data[off : off+txLen])
		if err != nil {
			return nil, fmt.Errorf("block: tx %d: %w", i, err)
		}
		txs = append(txs, tx)
		off += txLen
	}

	return &Block{Header: header, Proof: proof, Transactions: txs}, nil
}

// MerkleRoot builds a binary tree of SHA-256(left||right) at each level;
// if a level has an odd count, the last hash is duplicated. An empty
// list yields the all-zero 32-byte root.
func MerkleRoot(txids [][32]byte) [32]byte {
	if len(txids) == 0 {
		return [32]byte{}
	}
	level := make([][32]byte, len(txids))
	copy(level, txids)

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([][32]byte, len(level)/2)
		for i := 0; i < len(next); i++ {
			var buf [64]byte
			copy(buf[0:32], level[2*i][:])
			copy(buf[32:64], level[2*i+1][:])
			next[i] = sha256.Sum256(buf[:])
		}
		level = next
	}
	return level[0]
}

// ComputeMerkleRoot derives the merkle root of this block's transactions.
func (b *Block) ComputeMerkleRoot() ([32]byte, error) {
	ids := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.TxID()
	}
	return MerkleRoot(ids), nil
}
