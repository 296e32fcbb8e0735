package main

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// Structural limits (spec.md 4.6 and SPEC_FULL.md's expansion).
const (
	MaxTxInputs  = 256
	MaxTxOutputs = 256
	MaxScriptLen = 10240
)

// Coinbase subsidy schedule (spec.md 4.7): subsidy(h) = BASE_SUBSIDY >>
// (h / HalvingInterval), 0 after 63 halvings.
const (
	BaseSubsidy     = 50_00000000
	HalvingInterval = 210_000
)

// Script tag for the single supported locking-script template: pay to a
// 32-byte Ed25519 public key.
const scriptTagP2PK = 0x01

// OutPoint identifies a previous transaction output: (txid, vout).
type OutPoint struct {
	TxID [32]byte
	Vout uint32
}

// TxInput references a previous output and carries the unlocking script
// that satisfies it.
type TxInput struct {
	PrevTxID        [32]byte
	Vout            uint32
	UnlockingScript []byte
}

// TxOutput carries a value and the locking script that gates spending it.
type TxOutput struct {
	Value         uint64
	LockingScript []byte
}

// Transaction is the UTXO-style transaction named in spec.md 3/4.6.
type Transaction struct {
	Version   uint32
	Inputs    []TxInput
	Outputs   []TxOutput
	LockTime  uint32

	cached   bool
	cachedID [32]byte
}

// CoinbaseOutpoint is the fixed sentinel outpoint a coinbase's single
// input must reference: (0x00*32, 0xFFFFFFFF).
func CoinbaseOutpoint() OutPoint {
	return OutPoint{Vout: 0xFFFFFFFF}
}

// IsCoinbase reports whether tx is a coinbase: exactly one input whose
// outpoint is the coinbase sentinel.
func (tx *Transaction) IsCoinbase() bool {
	if len(tx.Inputs) != 1 {
		return false
	}
	in := tx.Inputs[0]
	return in.PrevTxID == [32]byte{} && in.Vout == 0xFFFFFFFF
}

// Serialize writes the exact fixed little-endian layout from spec.md 4.6:
// version:u32, n_in:u32, (prev_txid:32, vout:u32, scriptlen:u32, script) x
// n_in, n_out:u32, (value:u64, scriptlen:u32, script) x n_out, locktime:u32.
// No varints.
func (tx *Transaction) Serialize() []byte {
	size := 4 + 4
	for _, in := range tx.Inputs {
		size += 32 + 4 + 4 + len(in.UnlockingScript)
	}
	size += 4
	for _, out := range tx.Outputs {
		size += 8 + 4 + len(out.LockingScript)
	}
	size += 4

	buf := make([]byte, size)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], tx.Version)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(tx.Inputs)))
	off += 4
	for _, in := range tx.Inputs {
		copy(buf[off:off+32], in.PrevTxID[:])
		off += 32
		binary.LittleEndian.PutUint32(buf[off:], in.Vout)
		off += 4
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(in.UnlockingScript)))
		off += 4
		copy(buf[off:off+len(in.UnlockingScript)], in.UnlockingScript)
		off += len(in.UnlockingScript)
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(tx.Outputs)))
	off += 4
	for _, out := range tx.Outputs {
		binary.LittleEndian.PutUint64(buf[off:], out.Value)
		off += 8
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(out.LockingScript)))
		off += 4
		copy(buf[off:off+len(out.LockingScript)], out.LockingScript)
		off += len(out.LockingScript)
	}
	binary.LittleEndian.PutUint32(buf[off:], tx.LockTime)
	return buf
}

func DeserializeTransaction(data []byte) (*Transaction, error) {
	off := 0
	readU32 := func() (uint32, error) {
		if off+4 > len(data) {
			return 0, fmt.Errorf("transaction: truncated u32 at offset %d", off)
		}
		v := binary.LittleEndian.Uint32(data[off:])
		off += 4
		return v, nil
	}
	readU64 := func() (uint64, error) {
		if off+8 > len(data) {
			return 0, fmt.Errorf("transaction: truncated u64 at offset %d", off)
		}
		v := binary.LittleEndian.Uint64(data[off:])
		off += 8
		return v, nil
	}
	readBytes := func(n int) ([]byte, error) {
		if n < 0 || off+n > len(data) {
			return nil, fmt.Errorf("transaction: truncated bytes at offset %d", off)
		}
		b := data[off : off+n]
		off += n
		return b, nil
	}
	readScript := func() ([]byte, error) {
		l, err := readU32()
		if err != nil {
			return nil, err
		}
		if l > MaxScriptLen {
			return nil, fmt.Errorf("transaction: script length %d exceeds limit", l)
		}
		b, err := readBytes(int(l))
		if err != nil {
			return nil, err
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	}

	tx := &Transaction{}
	var err error
	if tx.Version, err = readU32(); err != nil {
		return nil, err
	}
	nIn, err := readU32()
	if err != nil {
		return nil, err
	}
	if nIn > MaxTxInputs {
		return nil, fmt.Errorf("transaction: n_in %d exceeds limit", nIn)
	}
	tx.Inputs = make([]TxInput, nIn)
	for i := range tx.Inputs {
		idBytes, err := readBytes(32)
		if err != nil {
			return nil, err
		}
		copy(tx.Inputs[i].PrevTxID[:], idBytes)
		if tx.Inputs[i].Vout, err = readU32(); err != nil {
			return nil, err
		}
		if tx.Inputs[i].UnlockingScript, err = readScript(); err != nil {
			return nil, err
		}
	}

	nOut, err := readU32()
	if err != nil {
		return nil, err
	}
	if nOut > MaxTxOutputs {
		return nil, fmt.Errorf("transaction: n_out %d exceeds limit", nOut)
	}
	tx.Outputs = make([]TxOutput, nOut)
	for i := range tx.Outputs {
		if tx.Outputs[i].Value, err = readU64(); err != nil {
			return nil, err
		}
		if tx.Outputs[i].LockingScript, err = readScript(); err != nil {
			return nil, err
		}
	}

	if tx.LockTime, err = readU32(); err != nil {
		return nil, err
	}

	return tx, nil
}

// TxID caches SHA256(serialize(tx)).
func (tx *Transaction) TxID() [32]byte {
	if tx.cached {
		return tx.cachedID
	}
	tx.cachedID = sha256.Sum256(tx.Serialize())
	tx.cached = true
	return tx.cachedID
}

// ValidateStructure checks non-empty outputs, input/output count limits,
// per-script size limits, and output-value overflow (spec.md 4.6).
func (tx *Transaction) ValidateStructure() error {
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("transaction has no outputs")
	}
	if len(tx.Inputs) > MaxTxInputs {
		return fmt.Errorf("transaction has %d inputs, exceeds %d", len(tx.Inputs), MaxTxInputs)
	}
	if len(tx.Outputs) > MaxTxOutputs {
		return fmt.Errorf("transaction has %d outputs, exceeds %d", len(tx.Outputs), MaxTxOutputs)
	}
	for _, in := range tx.Inputs {
		if len(in.UnlockingScript) > MaxScriptLen {
			return fmt.Errorf("input unlocking script exceeds %d bytes", MaxScriptLen)
		}
	}
	var sum uint64
	for _, out := range tx.Outputs {
		if len(out.LockingScript) > MaxScriptLen {
			return fmt.Errorf("output locking script exceeds %d bytes", MaxScriptLen)
		}
		next := sum + out.Value
		if next < sum {
			return fmt.Errorf("output value sum overflows u64")
		}
		sum = next
	}
	return nil
}

// lockingScriptPubKey parses the pay-to-pubkey template (0x01 tag +
// 32-byte Ed25519 public key) from a locking script.
func lockingScriptPubKey(script []byte) (ed25519.PublicKey, error) {
	if len(script) != 33 || script[0] != scriptTagP2PK {
		return nil, fmt.Errorf("locking script is not a recognized pay-to-pubkey template")
	}
	return ed25519.PublicKey(script[1:33]), nil
}

// unlockingScriptSignature parses a bare 64-byte Ed25519 signature from
// an unlocking script.
func unlockingScriptSignature(script []byte) ([]byte, error) {
	if len(script) != ed25519.SignatureSize {
		return nil, fmt.Errorf("unlocking script is not a 64-byte signature")
	}
	return script, nil
}

// SighashPreimage builds the signing preimage for input i: the tx
// serialized with every input's unlocking script blanked to zero-length
// zero bytes, followed by i:u32 LE (spec.md 4.6).
func (tx *Transaction) SighashPreimage(inputIndex int) []byte {
	blank := &Transaction{
		Version:  tx.Version,
		Outputs:  tx.Outputs,
		LockTime: tx.LockTime,
		Inputs:   make([]TxInput, len(tx.Inputs)),
	}
	for i, in := range tx.Inputs {
		blank.Inputs[i] = TxInput{PrevTxID: in.PrevTxID, Vout: in.Vout}
	}
	body := blank.Serialize()

	out := make([]byte, len(body)+4)
	copy(out, body)
	binary.LittleEndian.PutUint32(out[len(body):], uint32(inputIndex))
	return out
}

// VerifyInputSignature checks input i's unlocking script against the
// locking script of the output it spends.
func (tx *Transaction) VerifyInputSignature(inputIndex int, prevOut TxOutput) error {
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return fmt.Errorf("input index %d out of range", inputIndex)
	}
	pub, err := lockingScriptPubKey(prevOut.LockingScript)
	if err != nil {
		return err
	}
	sig, err := unlockingScriptSignature(tx.Inputs[inputIndex].UnlockingScript)
	if err != nil {
		return err
	}
	preimage := tx.SighashPreimage(inputIndex)
	if !ed25519.Verify(pub, preimage, sig) {
		return fmt.Errorf("signature verification failed for input %d", inputIndex)
	}
	return nil
}

// Subsidy returns BASE_SUBSIDY >> (height / HalvingInterval), 0 after 63
// halvings (spec.md 4.7).
func Subsidy(height uint64) uint64 {
	halvings := height / HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return BaseSubsidy >> halvings
}

// coinbaseHeightScript encodes a block height into a coinbase's
// unlocking script (spec.md 3: "its unlocking script encodes the block
// height").
func coinbaseHeightScript(height uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, height)
	return buf
}

// coinbaseHeightFromScript is the inverse of coinbaseHeightScript.
func coinbaseHeightFromScript(script []byte) (uint64, error) {
	if len(script) != 8 {
		return 0, fmt.Errorf("coinbase unlocking script must be 8 bytes")
	}
	return binary.LittleEndian.Uint64(script), nil
}

// CreateCoinbase builds the first transaction of a block: one input with
// the coinbase sentinel outpoint and the height-encoding unlocking
// script, one output paying the given total (subsidy + fees) to pub.
func CreateCoinbase(height uint64, pub ed25519.PublicKey, total uint64) *Transaction {
	locking := make([]byte, 33)
	locking[0] = scriptTagP2PK
	copy(locking[1:], pub)

	return &Transaction{
		Version: 1,
		Inputs: []TxInput{{
			PrevTxID:        [32]byte{},
			Vout:            0xFFFFFFFF,
			UnlockingScript: coinbaseHeightScript(height),
		}},
		Outputs: []TxOutput{{Value: total, LockingScript: locking}},
	}
}

// UTXOMap is a copy-on-write-friendly mapping OutPoint -> TxOutput. Each
// ChainNode owns its own UTXOMap, derived from its parent's by cloning
// only when mutating (see chain.go).
type UTXOMap map[OutPoint]TxOutput

// Clone returns a shallow copy of the map (values are small value types,
// so a shallow copy is a full copy).
func (m UTXOMap) Clone() UTXOMap {
	out := make(UTXOMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// UTXOSet wraps a UTXOMap with a read-write mutex for callers (such as
// the mempool) that need concurrent read access to chainstate's current
// best UTXO view without going through the chainstate actor for every
// query; the chainstate actor remains the sole writer.
type UTXOSet struct {
	mu sync.RWMutex
	m  UTXOMap
}

func NewUTXOSet(m UTXOMap) *UTXOSet {
	return &UTXOSet{m: m}
}

func (s *UTXOSet) Get(op OutPoint) (TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.m[op]
	return out, ok
}

func (s *UTXOSet) Replace(m UTXOMap) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

func (s *UTXOSet) Snapshot() UTXOMap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}
