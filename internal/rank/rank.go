package rank

import (
	"sort"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Qualification & Ranking — pool admission, composite priority, tiering
// ---------------------------------------------------------------------------

// Tier labels by percentile rank of priority score within the pool.
const (
	TierElite       = "Elite"
	TierHighQuality = "High-Quality"
	TierMidTier     = "Mid-Tier"
	TierWatchlist   = "Watchlist"
)

// Priority score component weights. Sum to 1.0 by construction.
const (
	weightTotalROI    = 0.25
	weightProfitToken = 0.20
	weightROIPerTrade = 0.20
	weightFrequency   = 0.15
	weightX10         = 0.10
	weightX20         = 0.05
	weightX50         = 0.05
)

// Thresholds are the pool admission gates. All four must hold simultaneously.
type Thresholds struct {
	MinBalanceSOL float64 `yaml:"min_balance_sol"`
	MinTrades30d  int     `yaml:"min_trades_30d"`
	MinWinRate    float64 `yaml:"min_win_rate"`
	MinTotalROI   float64 `yaml:"min_total_roi"`
}

// DefaultThresholds returns the standard admission gates.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinBalanceSOL: 10,
		MinTrades30d:  15,
		MinWinRate:    0.60,
		MinTotalROI:   0.50,
	}
}

// Qualifies reports whether a wallet passes all admission thresholds.
func Qualifies(m wallet.Metrics, th Thresholds) bool {
	balance, _ := m.BalanceSOL.Float64()
	return balance >= th.MinBalanceSOL &&
		m.Trades30d >= th.MinTrades30d &&
		m.WinRate >= th.MinWinRate &&
		m.TotalROI >= th.MinTotalROI
}

// Filter returns the subset of wallets passing the admission thresholds.
func Filter(candidates []wallet.Metrics, th Thresholds) []wallet.Metrics {
	admitted := make([]wallet.Metrics, 0, len(candidates))
	for _, m := range candidates {
		if Qualifies(m, th) {
			admitted = append(admitted, m)
		}
	}
	log.Debug().
		Int("candidates", len(candidates)).
		Int("admitted", len(admitted)).
		Msg("rank: admission filter")
	return admitted
}

// Score computes the composite priority for every wallet in the set. Each
// component is min-max normalized across the set, then combined with the
// fixed weights, so the score is a convex combination in [0,1].
func Score(candidates []wallet.Metrics) []wallet.Metrics {
	if len(candidates) == 0 {
		return nil
	}

	components := [][]float64{
		column(candidates, func(m wallet.Metrics) float64 { return m.TotalROI }),
		column(candidates, func(m wallet.Metrics) float64 { return m.ProfitTokenRatio }),
		column(candidates, func(m wallet.Metrics) float64 { return m.ROIPerTrade }),
		column(candidates, func(m wallet.Metrics) float64 { return m.TradeFrequency }),
		column(candidates, func(m wallet.Metrics) float64 { return m.X10Ratio }),
		column(candidates, func(m wallet.Metrics) float64 { return m.X20Ratio }),
		column(candidates, func(m wallet.Metrics) float64 { return m.X50Ratio }),
	}
	weights := []float64{
		weightTotalROI, weightProfitToken, weightROIPerTrade,
		weightFrequency, weightX10, weightX20, weightX50,
	}
	for _, col := range components {
		normalizeMinMax(col)
	}

	out := make([]wallet.Metrics, len(candidates))
	copy(out, candidates)
	for i := range out {
		score := 0.0
		for c, col := range components {
			score += weights[c] * col[i]
		}
		out[i].Priority = score
	}
	return out
}

// AssignTiers sets each wallet's tier from the percentile rank of its
// priority score within the given pool. Boundaries are recomputed against the
// live pool every cycle, so a wallet's tier can drift even though membership
// never shrinks.
func AssignTiers(pool []wallet.Metrics) []wallet.Metrics {
	out := make([]wallet.Metrics, len(pool))
	copy(out, pool)
	if len(out) == 0 {
		return out
	}

	scores := make([]float64, len(out))
	for i, m := range out {
		scores[i] = m.Priority
	}
	sorted := append([]float64(nil), scores...)
	sort.Float64s(sorted)

	for i := range out {
		out[i].Tier = tierFor(percentile(sorted, scores[i]))
	}
	return out
}

// percentile is the fraction of the pool strictly below the given score.
func percentile(sorted []float64, score float64) float64 {
	if len(sorted) <= 1 {
		return 1.0
	}
	below := sort.SearchFloat64s(sorted, score)
	return float64(below) / float64(len(sorted)-1)
}

func tierFor(pct float64) string {
	switch {
	case pct >= 0.85:
		return TierElite
	case pct >= 0.60:
		return TierHighQuality
	case pct >= 0.20:
		return TierMidTier
	default:
		return TierWatchlist
	}
}

func column(ms []wallet.Metrics, get func(wallet.Metrics) float64) []float64 {
	col := make([]float64, len(ms))
	for i, m := range ms {
		col[i] = get(m)
	}
	return col
}

// normalizeMinMax rescales a column to [0,1] in place. A degenerate column
// (all values equal) maps to 0.5 so it neither boosts nor penalizes anyone.
func normalizeMinMax(col []float64) {
	lo, hi := col[0], col[0]
	for _, v := range col {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	for i, v := range col {
		if span == 0 {
			col[i] = 0.5
			continue
		}
		col[i] = (v - lo) / span
	}
}
