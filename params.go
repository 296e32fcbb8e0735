package main

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// EpochLength is the number of consecutive blocks sharing one GraphParams
// vector derived from a seed.
const EpochLength = 4096

// GraphParams are the per-epoch knobs controlling the bipartite cycle
// graph that the edge generator, trimmer, and cycle finder all operate
// against. They must agree between miner and verifier for a given height.
type GraphParams struct {
	ScratchpadBytes uint32 // divisible by 16, in [12MiB, 20MiB]
	NumEdges        uint32 // power of two in {2^23, 2^24, 2^25}
	NumNodes        uint32 // NumEdges / 2
	NodeMask        uint32 // NumNodes - 1
	MatrixDim       uint32 // 8, 16, or 32
	TrimRounds      uint32 // [60, 100]
}

// candidate menus for the derived knobs; kept small and fixed so every
// epoch seed maps onto a validated, in-range vector.
var numEdgesMenu = [4]uint32{1 << 23, 1 << 24, 1 << 25, 1 << 23}
var scratchpadMenu = [4]uint32{12 << 20, 16 << 20, 20 << 20, 14 << 20}
var matrixDimMenu = [4]uint32{8, 16, 32, 16}
var trimRoundsMenu = [4]uint32{60, 72, 86, 100}

// EpochIndex returns which epoch a given block height falls in.
func EpochIndex(height uint64) uint64 {
	return height / EpochLength
}

// EpochSeed derives the deterministic seed for an epoch index.
func EpochSeed(epochIndex uint64) [32]byte {
	buf := make([]byte, 5+8)
	copy(buf, "epoch")
	binary.LittleEndian.PutUint64(buf[5:], epochIndex)
	return sha256.Sum256(buf)
}

// ParamsForEpoch derives the GraphParams for an epoch deterministically
// from its seed, selecting from small fixed in-range menus.
func ParamsForEpoch(epochIndex uint64) GraphParams {
	seed := EpochSeed(epochIndex)

	numEdges := numEdgesMenu[seed[0]&3]
	scratchpadBytes := scratchpadMenu[seed[1]&3]
	matrixDim := matrixDimMenu[seed[2]&3]
	trimRounds := trimRoundsMenu[seed[3]&3]

	numNodes := numEdges / 2
	return GraphParams{
		ScratchpadBytes: scratchpadBytes,
		NumEdges:        numEdges,
		NumNodes:        numNodes,
		NodeMask:        numNodes - 1,
		MatrixDim:       matrixDim,
		TrimRounds:      trimRounds,
	}
}

// ParamsForHeight is the usual entry point: derive the epoch, then the
// params vector for that epoch.
func ParamsForHeight(height uint64) GraphParams {
	return ParamsForEpoch(EpochIndex(height))
}

// Validate checks the invariants named for GraphParams.
func (p GraphParams) Validate() error {
	if p.ScratchpadBytes%16 != 0 {
		return fmt.Errorf("scratchpad_bytes %d not divisible by 16", p.ScratchpadBytes)
	}
	if p.ScratchpadBytes < 12<<20 || p.ScratchpadBytes > 20<<20 {
		return fmt.Errorf("scratchpad_bytes %d out of [12MiB,20MiB]", p.ScratchpadBytes)
	}
	switch p.NumEdges {
	case 1 << 23, 1 << 24, 1 << 25:
	default:
		return fmt.Errorf("num_edges %d not a valid power of two", p.NumEdges)
	}
	if p.NodeMask+1 != p.NumNodes {
		return fmt.Errorf("node_mask+1 (%d) != num_nodes (%d)", p.NodeMask+1, p.NumNodes)
	}
	switch p.MatrixDim {
	case 8, 16, 32:
	default:
		return fmt.Errorf("matrix_dim %d not in {8,16,32}", p.MatrixDim)
	}
	if p.TrimRounds < 60 || p.TrimRounds > 100 {
		return fmt.Errorf("trim_rounds %d out of [60,100]", p.TrimRounds)
	}
	return nil
}

// MatrixBytes is the byte size of one matrix_dim x matrix_dim float32 matrix.
func (p GraphParams) MatrixBytes() uint32 {
	return p.MatrixDim * p.MatrixDim * 4
}

// Blocks is the number of 16-byte cells in the scratchpad.
func (p GraphParams) Blocks() uint32 {
	return p.ScratchpadBytes / 16
}
