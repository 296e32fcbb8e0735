package main

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// MempoolConfig configures the mempool (spec.md 4.8's MempoolMaxEntries /
// MempoolMaxBytes, plus the teacher's expiration knob).
type MempoolConfig struct {
	MaxEntries     int
	MaxBytes       int
	MinFeeRate     uint64
	ExpirationTime time.Duration
}

// DefaultMempoolConfig returns the sizes named in SPEC_FULL.md's 4.8
// expansion.
func DefaultMempoolConfig() MempoolConfig {
	return MempoolConfig{
		MaxEntries:     5000,
		MaxBytes:       100 * 1024 * 1024,
		MinFeeRate:     1,
		ExpirationTime: 24 * time.Hour,
	}
}

// MempoolEntry is one admitted, unconfirmed transaction.
type MempoolEntry struct {
	Tx      *Transaction
	TxID    [32]byte
	Fee     uint64
	FeeRate uint64
	Size    int
	AddedAt time.Time

	index int // position in the priority queue
}

// Mempool holds unconfirmed transactions admitted against the chain's
// current best UTXO view. A transaction leaves the mempool when it is
// connected in a block, evicted for space, or expires.
type Mempool struct {
	mu sync.RWMutex

	config MempoolConfig
	utxo   *UTXOSet

	txByID  map[[32]byte]*MempoolEntry
	spentBy map[OutPoint][32]byte

	priorityQueue txPriorityQueue
	totalSize     int
}

// NewMempool creates a mempool that checks transaction inputs against
// utxo, the chain's live UTXO view.
func NewMempool(cfg MempoolConfig, utxo *UTXOSet) *Mempool {
	return &Mempool{
		config:        cfg,
		utxo:          utxo,
		txByID:        make(map[[32]byte]*MempoolEntry),
		spentBy:       make(map[OutPoint][32]byte),
		priorityQueue: make(txPriorityQueue, 0),
	}
}

// AddTransaction runs the ordered admission pipeline from spec.md 4.8:
// not-a-coinbase, structural validity, not a duplicate, every input
// spendable and unclaimed, every signature valid, no negative fee,
// minimum fee rate, then capacity-bounded insertion.
func (m *Mempool) AddTransaction(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IsCoinbase() {
		return fmt.Errorf("coinbase transaction cannot enter the mempool")
	}
	if err := tx.ValidateStructure(); err != nil {
		return fmt.Errorf("structural: %w", err)
	}

	txID := tx.TxID()
	if _, exists := m.txByID[txID]; exists {
		return nil
	}

	var inputSum uint64
	seen := make(map[OutPoint]bool, len(tx.Inputs))
	for i, in := range tx.Inputs {
		op := OutPoint{TxID: in.PrevTxID, Vout: in.Vout}
		if seen[op] {
			return fmt.Errorf("double-spend: output already spent earlier in this transaction")
		}
		seen[op] = true
		if claimant, claimed := m.spentBy[op]; claimed && claimant != txID {
			return fmt.Errorf("double-spend: output already spent by a pending transaction")
		}
		prevOut, ok := m.utxo.Get(op)
		if !ok {
			return fmt.Errorf("input %d spends an unknown or already spent output", i)
		}
		if err := tx.VerifyInputSignature(i, prevOut); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
		inputSum += prevOut.Value
	}

	var outputSum uint64
	for _, out := range tx.Outputs {
		outputSum += out.Value
	}
	if outputSum > inputSum {
		return fmt.Errorf("outputs (%d) exceed inputs (%d)", outputSum, inputSum)
	}
	fee := inputSum - outputSum

	size := len(tx.Serialize())
	feeRate := fee / uint64(size)
	if feeRate < m.config.MinFeeRate {
		return fmt.Errorf("fee rate %d below minimum %d", feeRate, m.config.MinFeeRate)
	}

	if len(m.txByID) >= m.config.MaxEntries {
		if !m.evictLowest(feeRate) {
			return fmt.Errorf("mempool full")
		}
	}
	for m.totalSize+size > m.config.MaxBytes {
		if !m.evictLowest(feeRate) {
			return fmt.Errorf("mempool byte limit exceeded")
		}
	}

	entry := &MempoolEntry{
		Tx:      tx,
		TxID:    txID,
		Fee:     fee,
		FeeRate: feeRate,
		Size:    size,
		AddedAt: time.Now(),
	}
	m.txByID[txID] = entry
	for _, in := range tx.Inputs {
		m.spentBy[OutPoint{TxID: in.PrevTxID, Vout: in.Vout}] = txID
	}
	heap.Push(&m.priorityQueue, entry)
	m.totalSize += size

	return nil
}

// evictLowest removes the oldest entry if its fee rate is below
// minFeeRate, making room for an incoming transaction.
func (m *Mempool) evictLowest(minFeeRate uint64) bool {
	if len(m.txByID) == 0 {
		return false
	}
	var oldest *MempoolEntry
	var oldestID [32]byte
	for id, entry := range m.txByID {
		if oldest == nil || entry.AddedAt.Before(oldest.AddedAt) {
			oldest = entry
			oldestID = id
		}
	}
	if oldest != nil && oldest.FeeRate < minFeeRate {
		m.removeTxByID(oldestID)
		return true
	}
	return false
}

func (m *Mempool) removeTxByID(txID [32]byte) {
	entry, exists := m.txByID[txID]
	if !exists {
		return
	}
	delete(m.txByID, txID)
	for _, in := range entry.Tx.Inputs {
		delete(m.spentBy, OutPoint{TxID: in.PrevTxID, Vout: in.Vout})
	}
	m.totalSize -= entry.Size
	if entry.index >= 0 && entry.index < len(m.priorityQueue) {
		heap.Remove(&m.priorityQueue, entry.index)
	}
}

// RemoveTransaction removes a transaction by id.
func (m *Mempool) RemoveTransaction(txID [32]byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeTxByID(txID)
}

// GetTransaction returns a transaction by id.
func (m *Mempool) GetTransaction(txID [32]byte) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.txByID[txID]
	if !ok {
		return nil, false
	}
	return entry.Tx, true
}

// HasTransaction reports whether a transaction id is present.
func (m *Mempool) HasTransaction(txID [32]byte) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txByID[txID]
	return ok
}

// GetTransactionsForBlock returns up to maxCount transactions, highest
// fee rate first, bounded by maxSize total bytes, for a miner to include
// after the coinbase.
func (m *Mempool) GetTransactionsForBlock(maxSize, maxCount int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]*MempoolEntry, len(m.priorityQueue))
	copy(entries, m.priorityQueue)
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[j].FeeRate > entries[i].FeeRate {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	result := make([]*Transaction, 0, maxCount)
	totalSize := 0
	for _, entry := range entries {
		if len(result) >= maxCount {
			break
		}
		if totalSize+entry.Size > maxSize {
			continue
		}
		result = append(result, entry.Tx)
		totalSize += entry.Size
	}
	return result
}

// Size returns the number of mempool transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txByID)
}

// SizeBytes returns the total serialized size of mempool transactions.
func (m *Mempool) SizeBytes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalSize
}

// Clear removes every transaction.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txByID = make(map[[32]byte]*MempoolEntry)
	m.spentBy = make(map[OutPoint][32]byte)
	m.priorityQueue = make(txPriorityQueue, 0)
	m.totalSize = 0
}

// RemoveExpired drops transactions older than the configured expiration
// time -- an operational extra layered after admission, never a
// substitute for it.
func (m *Mempool) RemoveExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.config.ExpirationTime)
	var toRemove [][32]byte
	for txID, entry := range m.txByID {
		if entry.AddedAt.Before(cutoff) {
			toRemove = append(toRemove, txID)
		}
	}
	for _, txID := range toRemove {
		m.removeTxByID(txID)
	}
	return len(toRemove)
}

// OnBlockConnected removes transactions included in a newly connected
// block, and any remaining mempool transaction that now conflicts with
// one of that block's spent outpoints.
func (m *Mempool) OnBlockConnected(block *Block) {
	m.mu.Lock()
	defer m.mu.Unlock()

	spent := make(map[OutPoint]bool)
	for _, tx := range block.Transactions {
		txID := tx.TxID()
		if _, exists := m.txByID[txID]; exists {
			m.removeTxByID(txID)
		}
		if !tx.IsCoinbase() {
			for _, in := range tx.Inputs {
				spent[OutPoint{TxID: in.PrevTxID, Vout: in.Vout}] = true
			}
		}
	}

	for op := range spent {
		if claimant, claimed := m.spentBy[op]; claimed {
			m.removeTxByID(claimant)
		}
	}
}

// Stats reports a snapshot of mempool occupancy and fee distribution.
type MempoolStats struct {
	Count     int
	SizeBytes int
	MinFee    uint64
	MaxFee    uint64
	AvgFee    float64
}

func (m *Mempool) Stats() MempoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := MempoolStats{Count: len(m.txByID), SizeBytes: m.totalSize}
	if stats.Count == 0 {
		return stats
	}
	var totalFee uint64
	for _, entry := range m.txByID {
		if stats.MinFee == 0 || entry.Fee < stats.MinFee {
			stats.MinFee = entry.Fee
		}
		if entry.Fee > stats.MaxFee {
			stats.MaxFee = entry.Fee
		}
		totalFee += entry.Fee
	}
	stats.AvgFee = float64(totalFee) / float64(stats.Count)
	return stats
}

// txPriorityQueue is a max-heap by fee rate.
type txPriorityQueue []*MempoolEntry

func (pq txPriorityQueue) Len() int            { return len(pq) }
func (pq txPriorityQueue) Less(i, j int) bool  { return pq[i].FeeRate > pq[j].FeeRate }
func (pq txPriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *txPriorityQueue) Push(x interface{}) {
	entry := x.(*MempoolEntry)
	entry.index = len(*pq)
	*pq = append(*pq, entry)
}

func (pq *txPriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*pq = old[0 : n-1]
	return entry
}
