package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copyclaw-trading/copyclaw/internal/rank"
	"github.com/copyclaw-trading/copyclaw/internal/storage"
)

const thresholdsKey = "admission_thresholds"

// SettingsStore implements storage.SettingsStore using PostgreSQL.
type SettingsStore struct {
	pool *Pool
}

// NewSettingsStore creates a new SettingsStore.
func NewSettingsStore(pool *Pool) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SettingsStore = (*SettingsStore)(nil)

// thresholdsRow mirrors rank.Thresholds with json tags for jsonb storage.
type thresholdsRow struct {
	MinBalanceSOL float64 `json:"min_balance_sol"`
	MinTrades30d  int     `json:"min_trades_30d"`
	MinWinRate    float64 `json:"min_win_rate"`
	MinTotalROI   float64 `json:"min_total_roi"`
}

// LoadThresholds returns the stored admission thresholds.
func (s *SettingsStore) LoadThresholds(ctx context.Context) (rank.Thresholds, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE key = $1`, thresholdsKey,
	).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return rank.Thresholds{}, storage.ErrNotFound
		}
		return rank.Thresholds{}, fmt.Errorf("load thresholds: %w", err)
	}

	var row thresholdsRow
	if err := json.Unmarshal(value, &row); err != nil {
		return rank.Thresholds{}, fmt.Errorf("unmarshal thresholds: %w", err)
	}
	return rank.Thresholds{
		MinBalanceSOL: row.MinBalanceSOL,
		MinTrades30d:  row.MinTrades30d,
		MinWinRate:    row.MinWinRate,
		MinTotalROI:   row.MinTotalROI,
	}, nil
}

// SaveThresholds stores new admission thresholds.
func (s *SettingsStore) SaveThresholds(ctx context.Context, th rank.Thresholds) error {
	value, err := json.Marshal(thresholdsRow{
		MinBalanceSOL: th.MinBalanceSOL,
		MinTrades30d:  th.MinTrades30d,
		MinWinRate:    th.MinWinRate,
		MinTotalROI:   th.MinTotalROI,
	})
	if err != nil {
		return fmt.Errorf("marshal thresholds: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, thresholdsKey, value)
	if err != nil {
		return fmt.Errorf("save thresholds: %w", err)
	}
	return nil
}
