package main

import (
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Edge is an unordered pair of node indices in the bipartite graph,
// identified structurally rather than by identity.
type Edge struct {
	U uint32
	V uint32
}

// Scratchpad is a contiguous mutable byte region used as an opaque
// memory-hard workspace by the edge generator. It is owned exclusively by
// one generator instance for its lifetime and recycled across nonces.
type Scratchpad struct {
	bytes  []byte
	params GraphParams
}

// NewScratchpad allocates a scratchpad sized per params. Allocation
// failure is fatal to the caller's miner instance (spec names no other
// failure mode for the generator).
func NewScratchpad(params GraphParams) (*Scratchpad, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph params: %w", err)
	}
	return &Scratchpad{
		bytes:  make([]byte, params.ScratchpadBytes),
		params: params,
	}, nil
}

// cell returns the 16-byte slice for block index i.
func (s *Scratchpad) cell(i uint32) []byte {
	off := i * 16
	return s.bytes[off : off+16]
}

// Fill seeds and fills the scratchpad for a given (header, nonce) pair:
// H = SHA256(header || nonce_le8); K = H[0:16]; S0 = H[16:32];
// S_i = AES128_ECB_ENCRYPT(S_{i-1}, K) written into cell i-1.
// Returns the final state (the content of the last written cell).
func (s *Scratchpad) Fill(headerBytes []byte, nonce uint64) ([16]byte, error) {
	nonceBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonceBuf, nonce)

	h := sha256.New()
	h.Write(headerBytes)
	h.Write(nonceBuf)
	digest := h.Sum(nil)

	key := digest[0:16]
	block, err := aes.NewCipher(key)
	if err != nil {
		return [16]byte{}, fmt.Errorf("aes key setup: %w", err)
	}

	var state [16]byte
	copy(state[:], digest[16:32])

	blocks := s.params.Blocks()
	for i := uint32(0); i < blocks; i++ {
		var next [16]byte
		block.Encrypt(next[:], state[:])
		copy(s.cell(i), next[:])
		state = next
	}
	return state, nil
}
