package metrics

import (
	"testing"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func record(token string, side wallet.Side, sol float64, ts time.Time) wallet.TradeRecord {
	return wallet.TradeRecord{
		Wallet:    "wallet-1",
		Token:     token,
		Side:      side,
		AmountSOL: decimal.NewFromFloat(sol),
		Timestamp: ts,
	}
}

func TestEngine_WinRateZeroWithoutClosedTrades(t *testing.T) {
	e := NewEngine(DefaultConfig())

	// Buys only, nothing ever sold.
	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 1.0, testNow.Add(-48*time.Hour)),
		record("tok-b", wallet.SideBuy, 2.0, testNow.Add(-24*time.Hour)),
	}

	m := e.Compute("wallet-1", decimal.NewFromInt(50), records, testNow)

	assert.Equal(t, 0, m.ClosedTrades)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 2, m.TotalTrades)
}

func TestEngine_RoundTripROI(t *testing.T) {
	e := NewEngine(DefaultConfig())

	buyAt := testNow.Add(-10 * time.Hour)
	sellAt := testNow.Add(-8 * time.Hour)
	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 1.0, buyAt),
		record("tok-a", wallet.SideSell, 2.0, sellAt), // +100%
		record("tok-b", wallet.SideBuy, 1.0, buyAt),
		record("tok-b", wallet.SideSell, 0.5, sellAt), // -50%
	}

	m := e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)

	assert.Equal(t, 2, m.ClosedTrades)
	assert.InDelta(t, 0.25, m.ROIPerTrade, 1e-9) // mean(1.0, -0.5)
	assert.InDelta(t, 0.5, m.WinRate, 1e-9)
	assert.InDelta(t, 0.25, m.TotalROI, 1e-9) // 2.5 earned / 2.0 spent - 1
	assert.InDelta(t, 2*time.Hour.Seconds(), m.MedianHoldTime, 1e-9)
}

func TestEngine_RatiosStayInUnitInterval(t *testing.T) {
	e := NewEngine(DefaultConfig())

	buyAt := testNow.Add(-6 * time.Hour)
	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 0.1, buyAt),
		record("tok-a", wallet.SideSell, 5.0, buyAt.Add(time.Hour)), // 50x
	}

	m := e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)

	for name, v := range map[string]float64{
		"win_rate":           m.WinRate,
		"x10_ratio":          m.X10Ratio,
		"x20_ratio":          m.X20Ratio,
		"x50_ratio":          m.X50Ratio,
		"x100_ratio":         m.X100Ratio,
		"profit_token_ratio": m.ProfitTokenRatio,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 1.0, name)
	}

	assert.Equal(t, 1.0, m.X10Ratio)
	assert.Equal(t, 1.0, m.X20Ratio)
	assert.Equal(t, 1.0, m.X50Ratio)
	assert.Equal(t, 0.0, m.X100Ratio)
}

func TestEngine_BaggerThresholdIsReturnMultiple(t *testing.T) {
	e := NewEngine(DefaultConfig())
	buyAt := testNow.Add(-6 * time.Hour)

	// Exactly 10 SOL back on 1 spent is a 10x.
	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 1.0, buyAt),
		record("tok-a", wallet.SideSell, 10.0, buyAt.Add(time.Hour)),
	}
	m := e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)
	assert.Equal(t, 1.0, m.X10Ratio)

	// 9.5 back is below the line.
	records = []wallet.TradeRecord{
		record("tok-b", wallet.SideBuy, 1.0, buyAt),
		record("tok-b", wallet.SideSell, 9.5, buyAt.Add(time.Hour)),
	}
	m = e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)
	assert.Equal(t, 0.0, m.X10Ratio)
}

func TestBES_ReferenceValues(t *testing.T) {
	assert.InDelta(t, 2.4, BES(1.0, 0.6, 2, 0.5), 1e-9)

	// Epsilon floor keeps the division defined.
	assert.False(t, BES(1.0, 1.0, 1.0, 0) == 0)
}

func TestEngine_MalformedRecordsExcluded(t *testing.T) {
	e := NewEngine(DefaultConfig())

	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 1.0, testNow.Add(-time.Hour)),
		{Wallet: "wallet-1", Token: "", Side: wallet.SideBuy, Timestamp: testNow},      // no token
		{Wallet: "wallet-1", Token: "tok-b", Side: "SWAP", Timestamp: testNow},          // bad side
		{Wallet: "wallet-1", Token: "tok-c", Side: wallet.SideSell},                     // zero timestamp
	}

	m := e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)

	assert.Equal(t, 1, m.TotalTrades)
}

func TestLastNWinRate(t *testing.T) {
	base := testNow.Add(-24 * time.Hour)

	var records []wallet.TradeRecord
	// 6 closed rounds, oldest is a win, then 3 losses and 2 wins. Last 5:
	// 3 losses + 2 wins = 0.4.
	outcomes := []float64{3.0, 0.5, 0.5, 0.5, 2.0, 2.0}
	for i, earned := range outcomes {
		token := string(rune('a' + i))
		buyAt := base.Add(time.Duration(i) * time.Hour)
		records = append(records,
			record(token, wallet.SideBuy, 1.0, buyAt),
			record(token, wallet.SideSell, earned, buyAt.Add(30*time.Minute)),
		)
	}

	assert.InDelta(t, 0.4, LastNWinRate(records, 5), 1e-9)
}

func TestLastNWinRate_Empty(t *testing.T) {
	assert.Equal(t, 0.0, LastNWinRate(nil, 5))

	openOnly := []wallet.TradeRecord{record("tok-a", wallet.SideBuy, 1.0, testNow)}
	assert.Equal(t, 0.0, LastNWinRate(openOnly, 5))
}

func TestEngine_Trades30dWindow(t *testing.T) {
	e := NewEngine(DefaultConfig())

	records := []wallet.TradeRecord{
		record("tok-a", wallet.SideBuy, 1.0, testNow.AddDate(0, 0, -40)),
		record("tok-b", wallet.SideBuy, 1.0, testNow.AddDate(0, 0, -10)),
		record("tok-c", wallet.SideBuy, 1.0, testNow.AddDate(0, 0, -1)),
	}

	m := e.Compute("wallet-1", decimal.NewFromInt(10), records, testNow)

	require.Equal(t, 3, m.TotalTrades)
	assert.Equal(t, 2, m.Trades30d)
	assert.InDelta(t, 0.1, m.TradeFrequency, 1e-9) // 3 trades / 30 days
}
