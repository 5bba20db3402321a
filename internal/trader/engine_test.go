package trader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyclaw-trading/copyclaw/internal/signal"
)

// fakeExecutor is a scriptable swap executor for engine tests.
type fakeExecutor struct {
	mu           sync.Mutex
	prices       map[string]decimal.Decimal
	failBuy      bool
	failSell     bool
	buys         int
	sells        int
	slippageSeen []int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{prices: make(map[string]decimal.Decimal)}
}

func (f *fakeExecutor) setPrice(token string, price float64) {
	f.mu.Lock()
	f.prices[token] = decimal.NewFromFloat(price)
	f.mu.Unlock()
}

func (f *fakeExecutor) ExecuteBuy(ctx context.Context, token string, amountSOL decimal.Decimal, slippageBps int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buys++
	f.slippageSeen = append(f.slippageSeen, slippageBps)
	if f.failBuy {
		return "", fmt.Errorf("swap route not found")
	}
	return fmt.Sprintf("buy-%d", f.buys), nil
}

func (f *fakeExecutor) ExecuteSell(ctx context.Context, token string, percent float64, slippageBps int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells++
	f.slippageSeen = append(f.slippageSeen, slippageBps)
	if f.failSell {
		return "", fmt.Errorf("swap route not found")
	}
	return fmt.Sprintf("sell-%d", f.sells), nil
}

func (f *fakeExecutor) TokenPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	price, ok := f.prices[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("no price for %s", token)
	}
	return price, nil
}

func qualifyingSignal(token string) signal.Signal {
	return signal.Signal{
		SourceWallet: "wallet-" + token,
		Token:        token,
		AmountSOL:    decimal.NewFromFloat(2),
		DetectedAt:   time.Now(),
		LiquidityUSD: 80_000,
		Last5WinRate: 1.0,
		SourceBES:    1500,
	}
}

func newTestEngine(t *testing.T, exec *fakeExecutor) (*Engine, *signal.Queue) {
	t.Helper()
	queue := signal.NewQueue(100)
	cfg := DefaultConfig()
	cfg.MaxRetries = 1
	eng, err := New(cfg, queue, exec, nil)
	require.NoError(t, err)
	eng.SetBalance(decimal.NewFromFloat(100))
	return eng, queue
}

func TestEngineOpensPosition(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	stored, ok := queue.Push(qualifyingSignal("MEME"))
	require.True(t, ok)
	eng.drainSignals(context.Background())

	require.Equal(t, 1, eng.OpenCount())
	positions := eng.Positions()
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, "MEME", pos.Token)
	assert.Equal(t, StateOpen, pos.State)
	assert.True(t, pos.EntrySOL.Equal(decimal.NewFromFloat(70)), "got %s", pos.EntrySOL)
	assert.True(t, pos.AmountToken.Equal(decimal.NewFromFloat(70)))
	assert.Equal(t, stored.ID, pos.SignalID)

	// 70% committed, 30 SOL left.
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(30)), "got %s", eng.Balance())
	assert.Equal(t, int64(1), eng.Stats().Entries)
}

func TestEnginePositionLimit(t *testing.T) {
	exec := newFakeExecutor()
	eng, queue := newTestEngine(t, exec)

	for _, token := range []string{"AAA", "BBB", "CCC", "DDD"} {
		exec.setPrice(token, 1.0)
		_, ok := queue.Push(qualifyingSignal(token))
		require.True(t, ok)
	}
	for i := 0; i < 4; i++ {
		eng.drainSignals(context.Background())
	}

	assert.Equal(t, 3, eng.OpenCount())
	assert.Equal(t, int64(1), eng.rejected.Load())
	assert.Equal(t, 0, queue.Pending())
}

func TestEngineDuplicateTokenRejected(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	first := qualifyingSignal("MEME")
	second := qualifyingSignal("MEME")
	second.SourceWallet = "another-wallet"
	queue.Push(first)
	queue.Push(second)

	eng.drainSignals(context.Background())
	eng.drainSignals(context.Background())

	assert.Equal(t, 1, eng.OpenCount())
	assert.Equal(t, int64(1), eng.rejected.Load())
}

func TestEngineRetryWidensSlippage(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	exec.failBuy = true

	queue := signal.NewQueue(100)
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	eng, err := New(cfg, queue, exec, nil)
	require.NoError(t, err)
	eng.SetBalance(decimal.NewFromFloat(100))

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())

	// Every retry submits with wider slippage, starting from the base.
	exec.mu.Lock()
	defer exec.mu.Unlock()
	assert.Equal(t, []int{100, 150, 200}, exec.slippageSeen)
}

func TestEngineFailedBuyRefundsBalance(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	exec.failBuy = true
	eng, queue := newTestEngine(t, exec)

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())

	assert.Equal(t, 0, eng.OpenCount())
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(100)), "got %s", eng.Balance())
	assert.Equal(t, int64(1), eng.Stats().ExecErrors)

	// The token slot is free again: a later signal for the same token enters.
	exec.failBuy = false
	later := qualifyingSignal("MEME")
	later.DetectedAt = time.Now().Add(time.Second)
	queue.Push(later)
	eng.drainSignals(context.Background())
	assert.Equal(t, 1, eng.OpenCount())
}

func TestEngineStopLossClosesPosition(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())
	pos := eng.Positions()[0]

	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(0.75), time.Now())

	got := eng.Positions()[0]
	assert.Equal(t, StateClosed, got.State)
	assert.Equal(t, ReasonStopLoss, got.CloseReason)
	assert.Equal(t, 0, eng.OpenCount())

	// 70 tokens dumped at 0.75: 52.5 SOL back on top of the 30 held out.
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(82.5)), "got %s", eng.Balance())
	assert.Equal(t, int64(1), eng.Stats().Losses)
}

func TestEngineFailedSellLeavesPositionUnchanged(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())
	pos := eng.Positions()[0]

	exec.failSell = true
	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(1.6), time.Now())

	got := eng.Positions()[0]
	assert.Equal(t, StateOpen, got.State)
	assert.Equal(t, 100.0, got.RemainingPct)
	assert.False(t, got.TP1Fired)
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(30)))
	assert.Equal(t, int64(1), eng.Stats().ExecErrors)

	// Once the route recovers the same trigger fires cleanly.
	exec.failSell = false
	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(1.6), time.Now())
	got = eng.Positions()[0]
	assert.True(t, got.TP1Fired)
	assert.Equal(t, 50.0, got.RemainingPct)
}

func TestEngineStagedExitLadder(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())
	pos := eng.Positions()[0]
	start := time.Now()

	// TP1 at 1.5x sells half the original 70 tokens for 52.5 SOL.
	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(1.5), start)
	got := eng.Positions()[0]
	assert.True(t, got.TP1Fired)
	assert.Equal(t, 50.0, got.RemainingPct)
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(82.5)), "got %s", eng.Balance())

	// Same price again: nothing more to do.
	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(1.5), start.Add(time.Second))
	assert.Equal(t, 50.0, eng.Positions()[0].RemainingPct)

	// TP2 at 2x sells half the remaining 35 tokens for 35 SOL.
	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(2.0), start.Add(2*time.Second))
	got = eng.Positions()[0]
	assert.True(t, got.TP2Fired)
	assert.Equal(t, 25.0, got.RemainingPct)
	assert.True(t, eng.Balance().Equal(decimal.NewFromFloat(117.5)), "got %s", eng.Balance())
	assert.Equal(t, StatePartiallyClosed, got.State)
	assert.Equal(t, 1, eng.OpenCount())
}

func TestEnginePausedRejectsEntries(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	eng.Pause()
	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())
	assert.Equal(t, 0, eng.OpenCount())

	eng.Resume()
	later := qualifyingSignal("MEME")
	later.DetectedAt = time.Now().Add(time.Second)
	queue.Push(later)
	eng.drainSignals(context.Background())
	assert.Equal(t, 1, eng.OpenCount())
}

func TestEngineOnCloseCallback(t *testing.T) {
	exec := newFakeExecutor()
	exec.setPrice("MEME", 1.0)
	eng, queue := newTestEngine(t, exec)

	var closed []Position
	eng.SetOnClose(func(p Position) { closed = append(closed, p) })

	queue.Push(qualifyingSignal("MEME"))
	eng.drainSignals(context.Background())
	pos := eng.Positions()[0]

	eng.evaluatePosition(context.Background(), pos.ID, decimal.NewFromFloat(0.70), time.Now())
	require.Len(t, closed, 1)
	assert.Equal(t, StateClosed, closed[0].State)
	assert.Equal(t, ReasonStopLoss, closed[0].CloseReason)
}
