package main

import (
	"crypto/aes"
	"encoding/binary"
	"fmt"
)

// EdgeGenerator runs the dependent AES+matrix+scratchpad chain described
// in spec.md 4.1 to deterministically derive the bipartite edge set for a
// given (header, nonce). It owns one Scratchpad for its lifetime.
type EdgeGenerator struct {
	params GraphParams
	pad    *Scratchpad
}

// NewEdgeGenerator allocates a fresh scratchpad for the given params.
func NewEdgeGenerator(params GraphParams) (*EdgeGenerator, error) {
	pad, err := NewScratchpad(params)
	if err != nil {
		return nil, err
	}
	return &EdgeGenerator{params: params, pad: pad}, nil
}

// step advances the dependency chain by one edge index, mutating the
// scratchpad in place and returning the new state plus the emitted edge.
func (g *EdgeGenerator) step(state [16]byte) (newState [16]byte, edge Edge, err error) {
	matrixBytes := g.params.MatrixBytes()
	maxOff := g.params.ScratchpadBytes - 2*matrixBytes
	if maxOff == 0 {
		return state, Edge{}, fmt.Errorf("scratchpad too small for matrix pair")
	}

	s32 := binary.LittleEndian.Uint32(state[0:4])
	off := (s32 % maxOff) &^ 3

	folded := matMulFold(g.pad.bytes, off, g.params.MatrixDim)

	block, err := aes.NewCipher(state[:])
	if err != nil {
		return state, Edge{}, fmt.Errorf("aes rekey: %w", err)
	}
	var next [16]byte
	block.Encrypt(next[:], folded[:])

	copy(g.pad.bytes[off:off+16], next[:])

	u := binary.LittleEndian.Uint32(next[0:4]) & g.params.NodeMask
	v := binary.LittleEndian.Uint32(next[4:8]) & g.params.NodeMask

	return next, Edge{U: u, V: v}, nil
}

// GenerateAll runs the full chain, producing NumEdges edges in order.
func (g *EdgeGenerator) GenerateAll(headerBytes []byte, nonce uint64) ([]Edge, error) {
	state, err := g.pad.Fill(headerBytes, nonce)
	if err != nil {
		return nil, err
	}

	edges := make([]Edge, g.params.NumEdges)
	for e := uint32(0); e < g.params.NumEdges; e++ {
		var edge Edge
		state, edge, err = g.step(state)
		if err != nil {
			return nil, err
		}
		edges[e] = edge
	}
	return edges, nil
}

// GeneratePartial runs the chain from index 0 but only materializes the
// edges at the requested indices, per the "partial replay" contract in
// spec.md 4.1: time is linear in the maximum requested index, there is no
// shortcut. Returned map is index -> edge for every requested index
// present in [0, NumEdges).
func (g *EdgeGenerator) GeneratePartial(headerBytes []byte, nonce uint64, indices []uint32) (map[uint32]Edge, error) {
	want := make(map[uint32]bool, len(indices))
	maxIdx := uint32(0)
	for _, idx := range indices {
		want[idx] = true
		if idx > maxIdx {
			maxIdx = idx
		}
	}

	state, err := g.pad.Fill(headerBytes, nonce)
	if err != nil {
		return nil, err
	}

	result := make(map[uint32]Edge, len(indices))
	for e := uint32(0); e <= maxIdx && e < g.params.NumEdges; e++ {
		var edge Edge
		state, edge, err = g.step(state)
		if err != nil {
			return nil, err
		}
		if want[e] {
			result[e] = edge
		}
	}
	return result, nil
}
