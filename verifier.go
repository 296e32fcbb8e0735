package main

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

// Verifier runs the ordered, fail-fast block-acceptance pipeline named in
// spec.md 4.5. Each step is a separate method so the pipeline's order is
// visible at a glance and any step can be short-circuited independently.
type Verifier struct {
	// CycleOnlyDebug skips the proof-of-work target check and the
	// trim-survival check, and validates only the cycle's graph-theoretic
	// structure over edges regenerated by partial replay. It is off by
	// default; NewVerifier and the chainstate leave it unset.
	CycleOnlyDebug bool
}

func NewVerifier() *Verifier {
	return &Verifier{}
}

// Verify runs all seven pipeline steps against a block proposed at the
// given height, returning the first failure encountered.
func (v *Verifier) Verify(b *Block, height uint64) error {
	params := ParamsForHeight(height)
	if err := params.Validate(); err != nil {
		return fmt.Errorf("graph params: %w", err)
	}

	if err := v.checkStructure(b, params); err != nil {
		return fmt.Errorf("structural: %w", err)
	}
	if err := v.checkPolicy(b); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	if !v.CycleOnlyDebug {
		if err := v.checkTarget(b); err != nil {
			return fmt.Errorf("proof of work: %w", err)
		}
	}
	if err := v.checkCycle(b, params); err != nil {
		return fmt.Errorf("cycle: %w", err)
	}
	if err := v.checkCoinbasePlacement(b); err != nil {
		return fmt.Errorf("coinbase: %w", err)
	}
	if err := v.checkNoDuplicateTxIDs(b); err != nil {
		return fmt.Errorf("duplicate transactions: %w", err)
	}
	if err := v.checkMerkleRoot(b); err != nil {
		return fmt.Errorf("merkle root: %w", err)
	}
	return nil
}

// checkStructure: header/proof are well-formed and mutually consistent,
// and the proof's 8 cycle-edge indices are distinct and in range.
func (v *Verifier) checkStructure(b *Block, params GraphParams) error {
	if b.Proof.Header != b.Header {
		return fmt.Errorf("proof header does not match block header")
	}
	if err := b.Proof.structurallyValid(params.NumEdges); err != nil {
		return err
	}
	return nil
}

// checkPolicy: block size, transaction count, and per-transaction
// structure. Timestamp bounds need the parent, so the chainstate checks
// them in acceptLocked.
func (v *Verifier) checkPolicy(b *Block) error {
	if len(b.Serialize()) > MaxBlockSize {
		return fmt.Errorf("block exceeds max size %d", MaxBlockSize)
	}
	if len(b.Transactions) > MaxBlockTxCount {
		return fmt.Errorf("block has %d transactions, exceeds %d", len(b.Transactions), MaxBlockTxCount)
	}
	if len(b.Transactions) == 0 {
		return fmt.Errorf("block has no transactions")
	}
	for i, tx := range b.Transactions {
		if err := tx.ValidateStructure(); err != nil {
			return fmt.Errorf("transaction %d: %w", i, err)
		}
	}
	return nil
}

// checkTarget: SHA-256 of the serialized proof must satisfy the target
// implied by the header's bits field, and bits must not be easier than
// the network minimum.
func (v *Verifier) checkTarget(b *Block) error {
	target := CompactToTarget(b.Header.Bits)
	minTarget := CompactToTarget(MinDifficultyBits)
	if bytes.Compare(target[:], minTarget[:]) > 0 {
		return fmt.Errorf("bits %08x is easier than network minimum %08x", b.Header.Bits, MinDifficultyBits)
	}
	digest := sha256.Sum256(b.Proof.Serialize())
	if !Satisfies(digest, target) {
		return fmt.Errorf("proof digest does not satisfy target for bits %08x", b.Header.Bits)
	}
	return nil
}

// checkCycle: regenerate the actual edges at the claimed indices and
// check they form a valid 8-cycle. The debug path regenerates only the
// claimed edges via partial replay. The non-debug path regenerates the
// full edge set, checks the cycle over it, runs the same trimming pass
// a miner would, and requires every claimed cycle-edge index to
// survive -- a valid 8-cycle over edges that trimming would have
// eliminated is not a valid proof (spec.md 4.5 step 7).
func (v *Verifier) checkCycle(b *Block, params GraphParams) error {
	gen, err := NewEdgeGenerator(params)
	if err != nil {
		return fmt.Errorf("edge generator: %w", err)
	}
	headerBytes := b.Header.Serialize()

	if v.CycleOnlyDebug {
		edgeMap, err := gen.GeneratePartial(headerBytes, b.Proof.Nonce, b.Proof.CycleEdges[:])
		if err != nil {
			return fmt.Errorf("partial replay: %w", err)
		}
		edges := make([]Edge, CycleLength)
		for i, idx := range b.Proof.CycleEdges {
			e, ok := edgeMap[idx]
			if !ok {
				return fmt.Errorf("edge index %d missing from partial replay", idx)
			}
			edges[i] = e
		}
		if !FormsValidCycle(edges) {
			return fmt.Errorf("claimed edges do not form a valid 8-cycle")
		}
		return nil
	}

	allEdges, err := gen.GenerateAll(headerBytes, b.Proof.Nonce)
	if err != nil {
		return fmt.Errorf("edge generation: %w", err)
	}

	cycleEdges := make([]Edge, CycleLength)
	for i, idx := range b.Proof.CycleEdges {
		if idx >= uint32(len(allEdges)) {
			return fmt.Errorf("edge index %d out of range", idx)
		}
		cycleEdges[i] = allEdges[idx]
	}
	if !FormsValidCycle(cycleEdges) {
		return fmt.Errorf("claimed edges do not form a valid 8-cycle")
	}

	surviving := Trim(allEdges, params)
	survives := make(map[uint32]bool, len(surviving))
	for _, idx := range surviving {
		survives[idx] = true
	}
	for _, idx := range b.Proof.CycleEdges {
		if !survives[idx] {
			return fmt.Errorf("cycle edge index %d does not survive trimming", idx)
		}
	}
	return nil
}

// checkCoinbasePlacement: the first transaction is a coinbase, and no
// other transaction is.
func (v *Verifier) checkCoinbasePlacement(b *Block) error {
	if !b.Transactions[0].IsCoinbase() {
		return fmt.Errorf("first transaction is not a coinbase")
	}
	for i := 1; i < len(b.Transactions); i++ {
		if b.Transactions[i].IsCoinbase() {
			return fmt.Errorf("transaction %d is an unexpected second coinbase", i)
		}
	}
	return nil
}

// checkNoDuplicateTxIDs: every transaction id within the block is unique.
func (v *Verifier) checkNoDuplicateTxIDs(b *Block) error {
	seen := make(map[[32]byte]bool, len(b.Transactions))
	for i, tx := range b.Transactions {
		id := tx.TxID()
		if seen[id] {
			return fmt.Errorf("duplicate transaction id at index %d", i)
		}
		seen[id] = true
	}
	return nil
}

// checkMerkleRoot: the header's merkle root matches the transactions.
func (v *Verifier) checkMerkleRoot(b *Block) error {
	root, err := b.ComputeMerkleRoot()
	if err != nil {
		return err
	}
	if root != b.Header.MerkleRoot {
		return fmt.Errorf("merkle root mismatch")
	}
	return nil
}
