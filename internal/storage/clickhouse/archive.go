package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/copyclaw-trading/copyclaw/internal/storage"
	"github.com/copyclaw-trading/copyclaw/internal/trader"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
)

const (
	tableWalletMetrics   = "wallet_metrics"
	tableClosedPositions = "closed_positions"
)

// FlushHook overrides the actual ClickHouse write. Used by tests to capture
// rows without a live connection.
type FlushHook func(ctx context.Context, table string, rows [][]any) error

// Archive batches metrics snapshots and closed positions and flushes them to
// ClickHouse when a batch fills or the flush interval fires.
type Archive struct {
	client        *Client
	batchSize     int
	flushInterval time.Duration

	mu          sync.Mutex
	metricsBuf  []wallet.Metrics
	positionBuf []trader.Position
	flushHook   FlushHook
	closed      bool
	flushCount  int64
	errorCount  int64
}

// Compile-time interface check.
var _ storage.Archiver = (*Archive)(nil)

// NewArchive creates an archive writer that flushes on size or interval.
func NewArchive(client *Client, batchSize int, flushInterval time.Duration) *Archive {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	return &Archive{
		client:        client,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		metricsBuf:    make([]wallet.Metrics, 0, batchSize),
		positionBuf:   make([]trader.Position, 0, batchSize),
	}
}

// SetFlushHook replaces the ClickHouse write with a custom sink.
func (a *Archive) SetFlushHook(hook FlushHook) {
	a.mu.Lock()
	a.flushHook = hook
	a.mu.Unlock()
}

// ArchiveMetrics adds one metrics snapshot to the batch buffer. A full
// buffer flushes inline.
func (a *Archive) ArchiveMetrics(ctx context.Context, m wallet.Metrics) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("archive is closed")
	}
	a.metricsBuf = append(a.metricsBuf, m)
	full := len(a.metricsBuf) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// ArchivePosition adds one closed position to the batch buffer. A full
// buffer flushes inline.
func (a *Archive) ArchivePosition(ctx context.Context, p trader.Position) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return fmt.Errorf("archive is closed")
	}
	a.positionBuf = append(a.positionBuf, p)
	full := len(a.positionBuf) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// Start begins the background flush loop. Blocks until context is cancelled.
func (a *Archive) Start(ctx context.Context) {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	log.Info().
		Int("batch_size", a.batchSize).
		Dur("flush_interval", a.flushInterval).
		Msg("clickhouse: archive writer started")

	for {
		select {
		case <-ctx.Done():
			// Final flush on shutdown.
			if err := a.Flush(context.Background()); err != nil {
				log.Error().Err(err).Msg("clickhouse: final flush error on shutdown")
			}
			return
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("clickhouse: periodic flush error")
			}
		}
	}
}

// Flush writes all buffered rows to ClickHouse.
func (a *Archive) Flush(ctx context.Context) error {
	a.mu.Lock()
	metrics := a.metricsBuf
	positions := a.positionBuf
	a.metricsBuf = make([]wallet.Metrics, 0, a.batchSize)
	a.positionBuf = make([]trader.Position, 0, a.batchSize)
	a.mu.Unlock()

	if len(metrics) == 0 && len(positions) == 0 {
		return nil
	}

	var firstErr error

	if len(metrics) > 0 {
		if err := a.writeRows(ctx, tableWalletMetrics, metricsRows(metrics)); err != nil {
			log.Error().Err(err).Int("count", len(metrics)).Msg("clickhouse: failed to flush metrics")
			a.errorCount++
			firstErr = err
		}
	}

	if len(positions) > 0 {
		if err := a.writeRows(ctx, tableClosedPositions, positionRows(positions)); err != nil {
			log.Error().Err(err).Int("count", len(positions)).Msg("clickhouse: failed to flush positions")
			a.errorCount++
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	a.flushCount++
	log.Debug().
		Int("metrics", len(metrics)).
		Int("positions", len(positions)).
		Int64("total_flushes", a.flushCount).
		Msg("clickhouse: archive batch flushed")

	return firstErr
}

// writeRows sends one table's rows through the hook or a prepared batch.
func (a *Archive) writeRows(ctx context.Context, table string, rows [][]any) error {
	a.mu.Lock()
	hook := a.flushHook
	a.mu.Unlock()
	if hook != nil {
		return hook(ctx, table, rows)
	}

	batch, err := a.client.Conn().PrepareBatch(ctx, insertStatements[table])
	if err != nil {
		return fmt.Errorf("prepare %s batch: %w", table, err)
	}
	for _, row := range rows {
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	return batch.Send()
}

var insertStatements = map[string]string{
	tableWalletMetrics: `INSERT INTO wallet_metrics (wallet, computed_at, balance_sol, total_trades,
		trades_30d, win_rate, roi_per_trade, total_roi, trade_frequency, x10_ratio,
		profit_token_ratio, median_hold_sec, bes, cluster_label, priority, tier)`,
	tableClosedPositions: `INSERT INTO closed_positions (id, token, source_wallet, entry_price,
		entry_sol, realized_sol, realized_pnl_sol, close_reason, opened_at, closed_at)`,
}

func metricsRows(metrics []wallet.Metrics) [][]any {
	rows := make([][]any, 0, len(metrics))
	for _, m := range metrics {
		rows = append(rows, []any{
			m.Wallet,
			m.ComputedAt,
			m.BalanceSOL.InexactFloat64(),
			uint32(m.TotalTrades),
			uint32(m.Trades30d),
			m.WinRate,
			m.ROIPerTrade,
			m.TotalROI,
			m.TradeFrequency,
			m.X10Ratio,
			m.ProfitTokenRatio,
			m.MedianHoldTime,
			m.BES,
			m.ClusterLabel,
			m.Priority,
			m.Tier,
		})
	}
	return rows
}

func positionRows(positions []trader.Position) [][]any {
	rows := make([][]any, 0, len(positions))
	for _, p := range positions {
		closedAt := p.OpenedAt
		if p.ClosedAt != nil {
			closedAt = *p.ClosedAt
		}
		rows = append(rows, []any{
			p.ID,
			p.Token,
			p.SourceWallet,
			p.EntryPrice.InexactFloat64(),
			p.EntrySOL.InexactFloat64(),
			p.RealizedSOL.InexactFloat64(),
			p.RealizedPnLSOL.InexactFloat64(),
			p.CloseReason,
			p.OpenedAt,
			closedAt,
		})
	}
	return rows
}

// Close stops accepting rows and flushes what remains.
func (a *Archive) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.Flush(ctx)
}
