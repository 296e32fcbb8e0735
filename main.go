package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const Version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "mine":
		err = runMine(os.Args[2:])
	case "bench":
		err = runBench(os.Args[2:])
	case "verify":
		err = runVerify(os.Args[2:])
	case "node":
		err = runNode(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand: %s\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: chainlattice <command> [flags]

commands:
  mine     mine blocks against local chainstate, broadcasting over P2P
  bench    run the edge-gen/trim/cycle-find pipeline without chainstate
  verify   verify every persisted block against consensus rules
  node     run a non-mining full node`)
}

func rewardPubKeyFlag(fs *flag.FlagSet) *string {
	return fs.String("reward-pub", "", "hex-encoded Ed25519 public key to receive coinbase rewards (random if omitted)")
}

func resolveRewardPubKey(hexKey string) (ed25519.PublicKey, error) {
	if hexKey == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		return priv.Public().(ed25519.PublicKey), nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid --reward-pub: expected %d hex-encoded bytes", ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}

func runMine(args []string) error {
	fs := flag.NewFlagSet("mine", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "data directory")
	listen := fs.String("listen", "/ip4/0.0.0.0/tcp/28080", "P2P listen multiaddr")
	seeds := fs.String("seeds", "", "comma-separated seed multiaddrs")
	threads := fs.Int("threads", 1, "mining threads")
	rewardPub := rewardPubKeyFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, err := resolveRewardPubKey(*rewardPub)
	if err != nil {
		return err
	}

	cfg := DefaultDaemonConfig()
	cfg.DataDir = *dataDir
	cfg.ListenAddrs = []string{*listen}
	cfg.SeedNodes = splitNonEmpty(*seeds)
	cfg.RewardPubKey = pub
	cfg.MineThreads = *threads

	d, err := NewDaemon(cfg)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	d.StartMining()

	fmt.Printf("mining: peer=%s height=%d threads=%d\n", d.Node().PeerID(), d.Chain().Height(), *threads)
	waitForShutdown(d)
	return nil
}

func runNode(args []string) error {
	fs := flag.NewFlagSet("node", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "data directory")
	listen := fs.String("listen", "/ip4/0.0.0.0/tcp/28080", "P2P listen multiaddr")
	seeds := fs.String("seeds", "", "comma-separated seed multiaddrs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := DefaultDaemonConfig()
	cfg.DataDir = *dataDir
	cfg.ListenAddrs = []string{*listen}
	cfg.SeedNodes = splitNonEmpty(*seeds)

	d, err := NewDaemon(cfg)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Printf("node: peer=%s height=%d\n", d.Node().PeerID(), d.Chain().Height())
	waitForShutdown(d)
	return nil
}

func runVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "data directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	storage, err := NewStorage(*dataDir)
	if err != nil {
		return err
	}
	var accepted int
	var failErr error
	chain, err := NewChainstate(storage, func(b *Block) { accepted++ })
	if err != nil {
		failErr = err
	} else {
		chain.Close()
	}
	if failErr != nil {
		return fmt.Errorf("verification failed: %w", failErr)
	}
	fmt.Printf("verified %d persisted blocks\n", accepted)
	return nil
}

func runBench(args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	height := fs.Uint64("height", 0, "epoch height to benchmark against")
	attempts := fs.Int("attempts", 100, "nonces to try")
	if err := fs.Parse(args); err != nil {
		return err
	}

	params := ParamsForHeight(*height)
	if err := params.Validate(); err != nil {
		return err
	}

	header := BlockHeader{Version: 1, Timestamp: 0, Bits: MinDifficultyBits}
	headerBytes := header.Serialize()

	var found int
	for nonce := uint64(0); nonce < uint64(*attempts); nonce++ {
		gen, err := NewEdgeGenerator(params)
		if err != nil {
			return err
		}
		edges, err := gen.GenerateAll(headerBytes, nonce)
		if err != nil {
			return err
		}
		surviving := Trim(edges, params)
		survivorEdges := make([]Edge, len(surviving))
		for i, idx := range surviving {
			survivorEdges[i] = edges[idx]
		}
		if FindCycle(survivorEdges, surviving) != nil {
			found++
		}
	}

	fmt.Printf("bench: height=%d num_edges=%d attempts=%d cycles_found=%d\n", *height, params.NumEdges, *attempts, found)
	return nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func waitForShutdown(d *Daemon) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("shutting down...")
	if err := d.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
	}
}
