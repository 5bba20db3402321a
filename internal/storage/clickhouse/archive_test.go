package clickhouse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyclaw-trading/copyclaw/internal/trader"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
)

func makeMetrics(i int) wallet.Metrics {
	return wallet.Metrics{
		Wallet:     "wallet-" + string(rune('a'+i)),
		BalanceSOL: decimal.NewFromFloat(50 + float64(i)),
		WinRate:    0.6,
		TotalROI:   0.8,
		BES:        1200,
		Tier:       "Elite",
		ComputedAt: time.Now(),
	}
}

func makePosition(i int) trader.Position {
	closedAt := time.Now()
	return trader.Position{
		ID:             "pos-" + string(rune('a'+i)),
		Token:          "TOKEN",
		SourceWallet:   "wallet-a",
		EntryPrice:     decimal.NewFromFloat(1.0),
		EntrySOL:       decimal.NewFromFloat(10),
		RealizedSOL:    decimal.NewFromFloat(15),
		RealizedPnLSOL: decimal.NewFromFloat(5),
		State:          trader.StateClosed,
		CloseReason:    "TAKE_PROFIT_2",
		OpenedAt:       time.Now().Add(-time.Hour),
		ClosedAt:       &closedAt,
	}
}

func TestArchiveBatchSizeTrigger(t *testing.T) {
	const batchSize = 5

	var mu sync.Mutex
	var tables []string
	var rowCount int

	a := NewArchive(nil, batchSize, time.Hour) // huge interval so timer won't fire
	a.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		tables = append(tables, table)
		rowCount += len(rows)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, a.ArchiveMetrics(ctx, makeMetrics(i)))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, tables, 1)
	assert.Equal(t, tableWalletMetrics, tables[0])
	assert.Equal(t, batchSize, rowCount)
}

func TestArchiveFlushBothBuffers(t *testing.T) {
	var mu sync.Mutex
	got := map[string]int{}

	a := NewArchive(nil, 100, time.Hour)
	a.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		got[table] += len(rows)
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	require.NoError(t, a.ArchiveMetrics(ctx, makeMetrics(0)))
	require.NoError(t, a.ArchivePosition(ctx, makePosition(0)))
	require.NoError(t, a.ArchivePosition(ctx, makePosition(1)))
	require.NoError(t, a.Flush(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, got[tableWalletMetrics])
	assert.Equal(t, 2, got[tableClosedPositions])
}

func TestArchiveCloseRejectsWrites(t *testing.T) {
	a := NewArchive(nil, 100, time.Hour)
	a.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error { return nil })

	ctx := context.Background()
	require.NoError(t, a.ArchiveMetrics(ctx, makeMetrics(0)))
	require.NoError(t, a.Close(ctx))

	assert.Error(t, a.ArchiveMetrics(ctx, makeMetrics(1)))
	assert.Error(t, a.ArchivePosition(ctx, makePosition(0)))
}

func TestArchivePositionRowShape(t *testing.T) {
	rows := positionRows([]trader.Position{makePosition(0)})
	require.Len(t, rows, 1)
	require.Len(t, rows[0], 10)
	assert.Equal(t, "pos-a", rows[0][0])
	assert.Equal(t, 5.0, rows[0][6])
}
