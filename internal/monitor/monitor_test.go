package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/provider"
	"github.com/copyclaw-trading/copyclaw/internal/signal"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider serves canned data keyed by wallet/token.
type fakeProvider struct {
	recent       map[string][]wallet.TradeRecord
	history      map[string][]wallet.TradeRecord
	markets      map[string]provider.TokenMarket
	historyCalls int
}

func (f *fakeProvider) RecentTransactions(_ context.Context, addr string) ([]wallet.TradeRecord, error) {
	return f.recent[addr], nil
}

func (f *fakeProvider) TradeHistory(_ context.Context, addr string) ([]wallet.TradeRecord, error) {
	f.historyCalls++
	return f.history[addr], nil
}

func (f *fakeProvider) WalletBalance(context.Context, string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeProvider) TokenMarket(_ context.Context, token string) (provider.TokenMarket, error) {
	return f.markets[token], nil
}

// winningHistory builds n closed round trips, all profitable.
func winningHistory(addr string, n int) []wallet.TradeRecord {
	base := time.Now().Add(-72 * time.Hour)
	var records []wallet.TradeRecord
	for i := 0; i < n; i++ {
		token := "hist-" + string(rune('a'+i))
		buyAt := base.Add(time.Duration(i) * time.Hour)
		records = append(records,
			wallet.TradeRecord{Wallet: addr, Token: token, Side: wallet.SideBuy,
				AmountSOL: decimal.NewFromInt(1), Timestamp: buyAt},
			wallet.TradeRecord{Wallet: addr, Token: token, Side: wallet.SideSell,
				AmountSOL: decimal.NewFromInt(2), Timestamp: buyAt.Add(time.Minute)},
		)
	}
	return records
}

// losingHistory builds n closed round trips, all losers.
func losingHistory(addr string, n int) []wallet.TradeRecord {
	records := winningHistory(addr, n)
	for i := range records {
		if records[i].Side == wallet.SideSell {
			records[i].AmountSOL = decimal.NewFromFloat(0.5)
		}
	}
	return records
}

func buyRecord(addr, token string, sol float64, age time.Duration) wallet.TradeRecord {
	return wallet.TradeRecord{
		Wallet:    addr,
		Token:     token,
		Side:      wallet.SideBuy,
		AmountSOL: decimal.NewFromFloat(sol),
		Timestamp: time.Now().Add(-age),
	}
}

func newTestMonitor(fp *fakeProvider) (*Monitor, *pool.Pool, *signal.Queue) {
	p := pool.New()
	q := signal.NewQueue(50)
	m := New(DefaultConfig(), p, fp, q, nil, nil)
	return m, p, q
}

func addMember(p *pool.Pool, addr string, bes float64) {
	p.Apply([]wallet.Metrics{{Wallet: addr, BES: bes, WinRate: 0.8}}, time.Now())
}

func TestMonitor_AdmitsFreshQualifyingBuy(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {buyRecord("w1", "tok-a", 2.0, time.Minute)},
		},
		history: map[string][]wallet.TradeRecord{"w1": winningHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{
			"tok-a": {Token: "tok-a", LiquidityUSD: 80_000, MarketCapUSD: 400_000},
		},
	}
	m, p, q := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	m.pollCycle(context.Background())

	require.Equal(t, 1, q.Pending())
	sig, ok := q.Claim()
	require.True(t, ok)
	assert.Equal(t, "w1", sig.SourceWallet)
	assert.Equal(t, "tok-a", sig.Token)
	assert.InDelta(t, 80_000, sig.LiquidityUSD, 1e-9)
	assert.InDelta(t, 1.0, sig.Last5WinRate, 1e-9)
	assert.InDelta(t, 1500, sig.SourceBES, 1e-9)
}

func TestMonitor_RejectsStaleSmallAndSells(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {
				buyRecord("w1", "tok-stale", 2.0, 10*time.Minute), // too old
				buyRecord("w1", "tok-small", 0.5, time.Minute),    // below min size
				{Wallet: "w1", Token: "tok-sell", Side: wallet.SideSell,
					AmountSOL: decimal.NewFromInt(5), Timestamp: time.Now()},
			},
		},
		history: map[string][]wallet.TradeRecord{"w1": winningHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{},
	}
	m, p, q := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	m.pollCycle(context.Background())

	assert.Equal(t, 0, q.Pending())
}

func TestMonitor_RejectsPoorRecentForm(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {buyRecord("w1", "tok-a", 2.0, time.Minute)},
		},
		history: map[string][]wallet.TradeRecord{"w1": losingHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{},
	}
	m, p, q := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	m.pollCycle(context.Background())

	assert.Equal(t, 0, q.Pending())
	assert.Equal(t, int64(1), m.Stats().Rejected)
}

func TestMonitor_DedupAcrossCycles(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {buyRecord("w1", "tok-a", 2.0, time.Minute)},
		},
		history: map[string][]wallet.TradeRecord{"w1": winningHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{},
	}
	m, p, q := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	// The same transaction shows up in two consecutive polls.
	m.pollCycle(context.Background())
	m.pollCycle(context.Background())

	assert.Equal(t, 1, q.Pending())
	assert.Equal(t, int64(1), m.Stats().Admitted)
}

func TestMonitor_SeenBuySkipsHistoryFetch(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {buyRecord("w1", "tok-a", 2.0, time.Minute)},
		},
		history: map[string][]wallet.TradeRecord{"w1": winningHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{},
	}
	m, p, _ := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	// The buy stays fresh across many cycles; only the first admission may
	// spend a history fetch.
	for i := 0; i < 5; i++ {
		m.pollCycle(context.Background())
	}

	assert.Equal(t, 1, fp.historyCalls)
	assert.Equal(t, int64(1), m.Stats().Admitted)
}

func TestMonitor_CallbackFires(t *testing.T) {
	fp := &fakeProvider{
		recent: map[string][]wallet.TradeRecord{
			"w1": {buyRecord("w1", "tok-a", 2.0, time.Minute)},
		},
		history: map[string][]wallet.TradeRecord{"w1": winningHistory("w1", 5)},
		markets: map[string]provider.TokenMarket{},
	}
	m, p, _ := newTestMonitor(fp)
	addMember(p, "w1", 1500)

	var got []signal.Signal
	m.SetOnSignal(func(sig signal.Signal) { got = append(got, sig) })

	m.pollCycle(context.Background())

	require.Len(t, got, 1)
	assert.Equal(t, "tok-a", got[0].Token)
}
