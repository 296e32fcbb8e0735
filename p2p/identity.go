// Package p2p implements the newline-delimited JSON gossip protocol.
package p2p

import (
	"crypto/rand"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// IdentityManager resolves and holds the Ed25519 keypair a Node presents
// as its libp2p peer identity.
type IdentityManager struct {
	mu sync.RWMutex

	key       crypto.PrivKey
	id        peer.ID
	createdAt time.Time
}

// IdentityConfig configures identity resolution. It is currently empty;
// resolution order (env var, then XDG path, then ephemeral) is fixed, but
// kept as a struct so NodeConfig has a stable field to extend.
type IdentityConfig struct{}

// DefaultIdentityConfig returns sensible defaults.
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// NewIdentityManager resolves a peer identity.
//
// Resolution order:
//  1. CHAINLATTICE_P2P_KEY env var -> load or create a key at that path
//  2. XDG config dir (e.g. ~/.config/chainlattice/identity.key) -> load if present
//  3. Otherwise -> a fresh ephemeral identity
func NewIdentityManager(cfg IdentityConfig) (*IdentityManager, error) {
	var key crypto.PrivKey
	var id peer.ID

	if envPath := os.Getenv("CHAINLATTICE_P2P_KEY"); envPath != "" {
		var err error
		key, id, err = loadIdentity(envPath)
		if err != nil {
			key, id, err = generateIdentity()
			if err != nil {
				return nil, err
			}
			if err := saveIdentity(envPath, key); err != nil {
				return nil, fmt.Errorf("saving identity to CHAINLATTICE_P2P_KEY path %s: %w", envPath, err)
			}
			log.Printf("generated new persistent identity %s (saved to %s)", id, envPath)
		} else {
			log.Printf("loaded persistent identity %s (from CHAINLATTICE_P2P_KEY=%s)", id, envPath)
		}
	}

	if key == nil {
		if xdgPath, err := defaultIdentityPath(); err == nil {
			if k, i, err := loadIdentity(xdgPath); err == nil {
				key, id = k, i
				log.Printf("loaded persistent identity %s (from %s)", id, xdgPath)
			}
		}
	}

	if key == nil {
		var err error
		key, id, err = generateIdentity()
		if err != nil {
			return nil, err
		}
	}

	return &IdentityManager{key: key, id: id, createdAt: time.Now()}, nil
}

// defaultIdentityPath returns the XDG config path for the identity key.
func defaultIdentityPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "chainlattice", "identity.key"), nil
}

func loadIdentity(path string) (crypto.PrivKey, peer.ID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	key, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, "", err
	}
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return nil, "", err
	}
	return key, id, nil
}

func saveIdentity(path string, key crypto.PrivKey) error {
	data, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func generateIdentity() (crypto.PrivKey, peer.ID, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, "", err
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, "", err
	}
	return priv, id, nil
}

// CurrentIdentity returns the current private key and peer ID.
func (im *IdentityManager) CurrentIdentity() (crypto.PrivKey, peer.ID) {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.key, im.id
}

// CurrentPeerID returns just the current peer ID.
func (im *IdentityManager) CurrentPeerID() peer.ID {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return im.id
}

// Age returns how long the current identity has been active.
func (im *IdentityManager) Age() time.Duration {
	im.mu.RLock()
	defer im.mu.RUnlock()
	return time.Since(im.createdAt)
}
