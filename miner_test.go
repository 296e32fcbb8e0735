package main

import (
	"context"
	"testing"
	"time"
)

func newTestMiner(t *testing.T) (*Chainstate, *Mempool, *Miner) {
	t.Helper()
	chain := newTestChainstate(t)
	mempool := NewMempool(DefaultMempoolConfig(), chain.UTXOView())
	miner := NewMiner(chain, mempool, MinerConfig{RewardPubKey: GenesisPubKey, Threads: 2})
	return chain, mempool, miner
}

func TestMinerThreadsDefaultsToOne(t *testing.T) {
	_, _, miner := newTestMiner(t)
	miner.SetThreads(0)
	if got := miner.Threads(); got != 1 {
		t.Fatalf("expected SetThreads(0) to floor to 1 thread, got %d", got)
	}
}

func TestMinerSetThreadsNotifiesWhenRunning(t *testing.T) {
	_, _, miner := newTestMiner(t)
	miner.running.Store(true)
	defer miner.running.Store(false)

	miner.SetThreads(4)
	select {
	case <-miner.newBlock:
	default:
		t.Fatal("expected SetThreads to signal newBlock while running")
	}
}

func TestMinerStatsStartsAtZero(t *testing.T) {
	_, _, miner := newTestMiner(t)
	stats := miner.Stats()
	if stats.NonceCount != 0 || stats.BlocksFound != 0 {
		t.Fatalf("expected fresh miner stats to be zeroed, got %+v", stats)
	}
}

func TestMinerIsRunningReflectsStartStop(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real mining pipeline test in -short mode")
	}
	chain, _, miner := newTestMiner(t)
	_ = chain

	if miner.IsRunning() {
		t.Fatal("expected a freshly created miner to not be running")
	}

	blockChan := make(chan *Block, 1)
	ctx, cancel := context.WithCancel(context.Background())
	miner.Start(ctx, blockChan)

	// Start sets the running flag synchronously, before it launches the
	// mining goroutine, so no wait is needed here.
	if !miner.IsRunning() {
		t.Fatal("expected IsRunning() to report true immediately after Start")
	}

	cancel()
	miner.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for miner.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if miner.IsRunning() {
		t.Fatal("expected IsRunning() to report false after Stop and context cancellation")
	}
}

func TestMinerNotifyNewBlockIsNonBlocking(t *testing.T) {
	_, _, miner := newTestMiner(t)
	// NotifyNewBlock must never block even when called repeatedly with
	// nothing draining the channel.
	for i := 0; i < 5; i++ {
		miner.NotifyNewBlock()
	}
}
