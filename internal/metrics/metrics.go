package metrics

import (
	"math"
	"sort"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Metrics Engine — per-wallet performance statistics from trade history
// ---------------------------------------------------------------------------

// Multi-bagger ROI thresholds. A trade "does a 10x" when earned/spent >= 10.
var baggerThresholds = [4]float64{10, 20, 50, 100}

// avgBuyEpsilon floors the BES denominator.
const avgBuyEpsilon = 0.0001

// Config configures the metrics engine.
type Config struct {
	// Days the trade history is assumed to cover, for trade frequency.
	ObservationWindowDays float64 `yaml:"observation_window_days"`
}

// DefaultConfig returns metrics defaults.
func DefaultConfig() Config {
	return Config{ObservationWindowDays: 30}
}

// Engine computes wallet performance snapshots.
type Engine struct {
	config Config
}

// NewEngine creates a metrics engine.
func NewEngine(config Config) *Engine {
	if config.ObservationWindowDays <= 0 {
		config.ObservationWindowDays = DefaultConfig().ObservationWindowDays
	}
	return &Engine{config: config}
}

// tokenRound aggregates all trades of one wallet/token pair into a round trip.
type tokenRound struct {
	spentSOL  decimal.Decimal
	earnedSOL decimal.Decimal
	firstBuy  time.Time
	lastSell  time.Time
}

// closed reports whether the round has both a spend and a return.
func (r tokenRound) closed() bool {
	return r.spentSOL.IsPositive() && r.earnedSOL.IsPositive()
}

// multiple is earned/spent for a closed round.
func (r tokenRound) multiple() float64 {
	ratio, _ := r.earnedSOL.Div(r.spentSOL).Float64()
	return ratio
}

// roi is earned/spent - 1 for a closed round.
func (r tokenRound) roi() float64 {
	return r.multiple() - 1
}

// Compute derives a full metrics snapshot for one wallet. Malformed records
// are dropped at the boundary and never crash the computation.
func (e *Engine) Compute(address string, balanceSOL decimal.Decimal, records []wallet.TradeRecord, now time.Time) wallet.Metrics {
	valid, dropped := wallet.FilterValid(records)
	if dropped > 0 {
		log.Debug().Str("wallet", address).Int("dropped", dropped).
			Msg("metrics: malformed trade records excluded")
	}

	rounds := groupRounds(valid)

	var (
		rois       []float64
		holdTimes  []float64
		wins       int
		baggerHits [4]int
		totalSpent = decimal.Zero
		totalEarn  = decimal.Zero
	)

	closedCount := 0
	for _, r := range rounds {
		totalSpent = totalSpent.Add(r.spentSOL)
		totalEarn = totalEarn.Add(r.earnedSOL)
		if !r.closed() {
			continue
		}
		closedCount++

		roi := r.roi()
		rois = append(rois, roi)
		if roi > 0 {
			wins++
		}
		mult := r.multiple()
		for i, threshold := range baggerThresholds {
			if mult >= threshold {
				baggerHits[i]++
			}
		}
		if !r.firstBuy.IsZero() && !r.lastSell.IsZero() && r.lastSell.After(r.firstBuy) {
			holdTimes = append(holdTimes, r.lastSell.Sub(r.firstBuy).Seconds())
		}
	}

	m := wallet.Metrics{
		Wallet:       address,
		BalanceSOL:   balanceSOL,
		TotalTrades:  len(valid),
		ClosedTrades: closedCount,
		Trades30d:    countSince(valid, now.AddDate(0, 0, -30)),
		ComputedAt:   now,
	}

	m.ROIPerTrade = mean(rois)
	if totalSpent.IsPositive() {
		ratio, _ := totalEarn.Div(totalSpent).Float64()
		m.TotalROI = ratio - 1
	}
	if closedCount > 0 {
		m.WinRate = clamp01(float64(wins) / float64(closedCount))
		m.X10Ratio = clamp01(float64(baggerHits[0]) / float64(closedCount))
		m.X20Ratio = clamp01(float64(baggerHits[1]) / float64(closedCount))
		m.X50Ratio = clamp01(float64(baggerHits[2]) / float64(closedCount))
		m.X100Ratio = clamp01(float64(baggerHits[3]) / float64(closedCount))
	}
	if len(rounds) > 0 {
		m.ProfitTokenRatio = clamp01(float64(wins) / float64(len(rounds)))
	}
	m.TradeFrequency = float64(len(valid)) / e.config.ObservationWindowDays
	m.MedianHoldTime = median(holdTimes)

	// avg buy size is balance spread over the trade count, floored so the
	// BES division is always defined.
	avgBuy := avgBuyEpsilon
	if len(valid) > 0 {
		bal, _ := balanceSOL.Float64()
		if v := bal / float64(len(valid)); v > avgBuyEpsilon {
			avgBuy = v
		}
	}
	m.AvgBuySizeSOL = avgBuy
	m.BES = (m.ROIPerTrade * m.WinRate * m.TradeFrequency) / avgBuy

	return m
}

// BES computes the Buy Efficiency Score from raw components. The denominator
// is floored at epsilon.
func BES(roiPerTrade, winRate, tradeFrequency, avgBuySize float64) float64 {
	if avgBuySize < avgBuyEpsilon {
		avgBuySize = avgBuyEpsilon
	}
	return (roiPerTrade * winRate * tradeFrequency) / avgBuySize
}

// LastNWinRate returns the win rate over the wallet's most recent n closed
// round trips, ordered by close time. Returns 0 when nothing has closed.
func LastNWinRate(records []wallet.TradeRecord, n int) float64 {
	valid, _ := wallet.FilterValid(records)
	rounds := groupRounds(valid)

	type closedRound struct {
		closedAt time.Time
		roi      float64
	}
	var closed []closedRound
	for _, r := range rounds {
		if r.closed() {
			closed = append(closed, closedRound{closedAt: r.lastSell, roi: r.roi()})
		}
	}
	if len(closed) == 0 {
		return 0
	}

	sort.Slice(closed, func(i, j int) bool { return closed[i].closedAt.Before(closed[j].closedAt) })
	if len(closed) > n {
		closed = closed[len(closed)-n:]
	}

	wins := 0
	for _, c := range closed {
		if c.roi > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(closed))
}

// groupRounds folds a wallet's records into per-token round trips.
func groupRounds(records []wallet.TradeRecord) map[string]*tokenRound {
	rounds := make(map[string]*tokenRound)
	for _, r := range records {
		round, ok := rounds[r.Token]
		if !ok {
			round = &tokenRound{spentSOL: decimal.Zero, earnedSOL: decimal.Zero}
			rounds[r.Token] = round
		}
		switch r.Side {
		case wallet.SideBuy:
			round.spentSOL = round.spentSOL.Add(r.AmountSOL)
			if round.firstBuy.IsZero() || r.Timestamp.Before(round.firstBuy) {
				round.firstBuy = r.Timestamp
			}
		case wallet.SideSell:
			round.earnedSOL = round.earnedSOL.Add(r.AmountSOL)
			if r.Timestamp.After(round.lastSell) {
				round.lastSell = r.Timestamp
			}
		}
	}
	return rounds
}

func countSince(records []wallet.TradeRecord, cutoff time.Time) int {
	count := 0
	for _, r := range records {
		if r.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
