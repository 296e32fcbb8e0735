package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStorageSaveLoadBlockRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	block := Genesis()
	if err := storage.SaveBlock(block); err != nil {
		t.Fatalf("SaveBlock failed: %v", err)
	}

	hash := block.Hash()
	if !storage.HasBlock(hash) {
		t.Fatal("expected HasBlock to report true after SaveBlock")
	}

	got, err := storage.LoadBlock(hash)
	if err != nil {
		t.Fatalf("LoadBlock failed: %v", err)
	}
	if got.Hash() != hash {
		t.Fatal("loaded block hash does not match saved block hash")
	}
}

func TestStorageListBlockHashes(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	if hashes, err := storage.ListBlockHashes(); err != nil || len(hashes) != 0 {
		t.Fatalf("expected no persisted blocks in a fresh data dir, got %d (err=%v)", len(hashes), err)
	}

	block := Genesis()
	if err := storage.SaveBlock(block); err != nil {
		t.Fatalf("SaveBlock failed: %v", err)
	}

	hashes, err := storage.ListBlockHashes()
	if err != nil {
		t.Fatalf("ListBlockHashes failed: %v", err)
	}
	if len(hashes) != 1 || hashes[0] != block.Hash() {
		t.Fatalf("expected exactly the saved block's hash, got %v", hashes)
	}
}

func TestStorageMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	if _, found, err := storage.LoadMeta(); err != nil || found {
		t.Fatalf("expected no meta in a fresh data dir, found=%v err=%v", found, err)
	}

	hash := Genesis().Hash()
	meta := ChainMeta{TipHash: EncodeTipHash(hash)}
	if err := storage.SaveMeta(meta); err != nil {
		t.Fatalf("SaveMeta failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		t.Fatalf("reading meta.json failed: %v", err)
	}
	if !strings.Contains(string(raw), `"bestHashHex"`) {
		t.Fatalf("expected meta.json to carry the bestHashHex field, got: %s", raw)
	}

	got, found, err := storage.LoadMeta()
	if err != nil || !found {
		t.Fatalf("expected meta to be found, found=%v err=%v", found, err)
	}
	gotHash, err := got.TipHashBytes()
	if err != nil {
		t.Fatalf("TipHashBytes failed: %v", err)
	}
	if gotHash != hash {
		t.Fatal("decoded tip hash does not match original")
	}
}

func TestStorageLoadBlockMissing(t *testing.T) {
	dir := t.TempDir()
	storage, err := NewStorage(dir)
	if err != nil {
		t.Fatalf("NewStorage failed: %v", err)
	}

	var missing [32]byte
	missing[0] = 0xFF
	if storage.HasBlock(missing) {
		t.Fatal("expected HasBlock to report false for an unsaved hash")
	}
	if _, err := storage.LoadBlock(missing); err == nil {
		t.Fatal("expected LoadBlock to fail for an unsaved hash")
	}
}
