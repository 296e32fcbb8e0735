package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage persists blocks and chain metadata to a flat-file layout under a
// data directory: blocks/<hex-hash>.blk holds one serialized block each,
// and meta.json holds the last-known best tip. Every write goes through a
// temp-file-then-rename so a crash mid-write never leaves a corrupt file
// in place, matching the atomic-commit discipline the teacher's bbolt
// wrapper gave for free.
type Storage struct {
	dataDir   string
	blocksDir string
}

// ChainMeta is the small persisted record of where the chain left off:
// just the hex-encoded hash of the best known tip. Height and total work
// are not persisted here -- bootstrap rebuilds them by replaying every
// block under blocks/, so meta.json stays the single-field external
// interface spec.md 6 names rather than a cache of derived state.
type ChainMeta struct {
	TipHash string `json:"bestHashHex"`
}

const metaFilename = "meta.json"

// NewStorage ensures the data directory and its blocks/ subdirectory exist.
func NewStorage(dataDir string) (*Storage, error) {
	blocksDir := filepath.Join(dataDir, "blocks")
	if err := os.MkdirAll(blocksDir, 0755); err != nil {
		return nil, fmt.Errorf("creating blocks directory: %w", err)
	}
	return &Storage{dataDir: dataDir, blocksDir: blocksDir}, nil
}

func (s *Storage) blockPath(hash [32]byte) string {
	return filepath.Join(s.blocksDir, hex.EncodeToString(hash[:])+".blk")
}

// writeFileAtomic writes data to path via a temp file in the same
// directory followed by an atomic rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}
	return nil
}

// SaveBlock durably persists a block, keyed by its hash. Overwrites are
// idempotent: a block's bytes never change once its hash is fixed.
func (s *Storage) SaveBlock(b *Block) error {
	if b == nil {
		return fmt.Errorf("cannot save nil block")
	}
	return writeFileAtomic(s.blockPath(b.Hash()), b.Serialize())
}

// LoadBlock reads a block back by hash.
func (s *Storage) LoadBlock(hash [32]byte) (*Block, error) {
	data, err := os.ReadFile(s.blockPath(hash))
	if err != nil {
		return nil, err
	}
	return DeserializeBlock(data)
}

// HasBlock reports whether a block with the given hash has been persisted.
func (s *Storage) HasBlock(hash [32]byte) bool {
	_, err := os.Stat(s.blockPath(hash))
	return err == nil
}

// ListBlockHashes enumerates every persisted block's hash, in no
// particular order; used at startup to replay the full known block set
// (including side branches) back into the in-memory chainstate.
func (s *Storage) ListBlockHashes() ([][32]byte, error) {
	entries, err := os.ReadDir(s.blocksDir)
	if err != nil {
		return nil, fmt.Errorf("reading blocks directory: %w", err)
	}
	hashes := make([][32]byte, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".blk") {
			continue
		}
		hexPart := strings.TrimSuffix(name, ".blk")
		raw, err := hex.DecodeString(hexPart)
		if err != nil || len(raw) != 32 {
			continue
		}
		var h [32]byte
		copy(h[:], raw)
		hashes = append(hashes, h)
	}
	return hashes, nil
}

// SaveMeta persists the chain's current best tip.
func (s *Storage) SaveMeta(m ChainMeta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling chain meta: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dataDir, metaFilename), data)
}

// LoadMeta reads the persisted tip record. found is false if no meta file
// has ever been written (fresh data directory).
func (s *Storage) LoadMeta() (m ChainMeta, found bool, err error) {
	data, readErr := os.ReadFile(filepath.Join(s.dataDir, metaFilename))
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return ChainMeta{}, false, nil
		}
		return ChainMeta{}, false, fmt.Errorf("reading chain meta: %w", readErr)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return ChainMeta{}, false, fmt.Errorf("parsing chain meta: %w", err)
	}
	return m, true, nil
}

// TipHashBytes decodes the persisted hex tip hash.
func (m ChainMeta) TipHashBytes() ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(m.TipHash)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("invalid persisted tip hash %q", m.TipHash)
	}
	copy(out[:], raw)
	return out, nil
}

// EncodeTipHash hex-encodes a hash for storage in ChainMeta.
func EncodeTipHash(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}
