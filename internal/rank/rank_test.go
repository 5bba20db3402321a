package rank

import (
	"fmt"
	"testing"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(balance float64, trades30d int, winRate, totalROI float64) wallet.Metrics {
	return wallet.Metrics{
		Wallet:     "wallet-1",
		BalanceSOL: decimal.NewFromFloat(balance),
		Trades30d:  trades30d,
		WinRate:    winRate,
		TotalROI:   totalROI,
	}
}

func TestQualifies(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		m    wallet.Metrics
		want bool
	}{
		{"all thresholds pass", candidate(12, 20, 0.65, 0.55), true},
		{"win rate below 60%", candidate(12, 20, 0.59, 0.55), false},
		{"balance too low", candidate(9.9, 20, 0.65, 0.55), false},
		{"too few trades", candidate(12, 14, 0.65, 0.55), false},
		{"roi too low", candidate(12, 20, 0.65, 0.49), false},
		{"exact boundaries pass", candidate(10, 15, 0.60, 0.50), true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Qualifies(tc.m, th))
		})
	}
}

func TestScore_ConvexCombination(t *testing.T) {
	var candidates []wallet.Metrics
	for i := 0; i < 10; i++ {
		candidates = append(candidates, wallet.Metrics{
			Wallet:           fmt.Sprintf("w%d", i),
			TotalROI:         float64(i) * 0.3,
			ProfitTokenRatio: float64(i) * 0.1,
			ROIPerTrade:      float64(9-i) * 0.2,
			TradeFrequency:   float64(i),
			X10Ratio:         float64(i) * 0.05,
			X20Ratio:         float64(i) * 0.02,
			X50Ratio:         float64(i) * 0.01,
		})
	}

	scored := Score(candidates)

	require.Len(t, scored, 10)
	for _, m := range scored {
		assert.GreaterOrEqual(t, m.Priority, 0.0)
		assert.LessOrEqual(t, m.Priority, 1.0)
	}
}

func TestScore_DominantWalletWins(t *testing.T) {
	weak := wallet.Metrics{Wallet: "weak"}
	strong := wallet.Metrics{
		Wallet:           "strong",
		TotalROI:         2.0,
		ProfitTokenRatio: 0.9,
		ROIPerTrade:      1.5,
		TradeFrequency:   8,
		X10Ratio:         0.3,
		X20Ratio:         0.1,
		X50Ratio:         0.05,
	}

	scored := Score([]wallet.Metrics{weak, strong})

	require.Len(t, scored, 2)
	assert.InDelta(t, 0.0, scored[0].Priority, 1e-9)
	assert.InDelta(t, 1.0, scored[1].Priority, 1e-9)
}

func TestAssignTiers_PercentileBands(t *testing.T) {
	// 20 wallets with distinct ascending scores: expect 4 Watchlist,
	// 8 Mid-Tier, 5 High-Quality, 3 Elite.
	var pool []wallet.Metrics
	for i := 0; i < 20; i++ {
		pool = append(pool, wallet.Metrics{
			Wallet:   fmt.Sprintf("w%d", i),
			Priority: float64(i) / 19.0,
		})
	}

	tiered := AssignTiers(pool)

	counts := make(map[string]int)
	for _, m := range tiered {
		counts[m.Tier]++
	}
	assert.Equal(t, 3, counts[TierElite])
	assert.Equal(t, 5, counts[TierHighQuality])
	assert.Equal(t, 8, counts[TierMidTier])
	assert.Equal(t, 4, counts[TierWatchlist])

	// Ordering sanity: highest score is Elite, lowest is Watchlist.
	assert.Equal(t, TierElite, tiered[19].Tier)
	assert.Equal(t, TierWatchlist, tiered[0].Tier)
}

func TestAssignTiers_SingleWalletIsElite(t *testing.T) {
	tiered := AssignTiers([]wallet.Metrics{{Wallet: "only", Priority: 0.1}})
	require.Len(t, tiered, 1)
	assert.Equal(t, TierElite, tiered[0].Tier)
}

func TestFilter(t *testing.T) {
	th := DefaultThresholds()
	candidates := []wallet.Metrics{
		candidate(12, 20, 0.65, 0.55),
		candidate(12, 20, 0.59, 0.55),
		candidate(50, 40, 0.80, 2.0),
	}

	admitted := Filter(candidates, th)
	assert.Len(t, admitted, 2)
}
