package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/storage"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
)

// WalletStore implements storage.QualifiedStore using PostgreSQL.
type WalletStore struct {
	pool *Pool
}

// NewWalletStore creates a new WalletStore.
func NewWalletStore(pool *Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Compile-time interface check.
var _ storage.QualifiedStore = (*WalletStore)(nil)

// Save upserts pool members. On conflict the original qualified_at is kept;
// metrics, priority and tier are refreshed.
func (s *WalletStore) Save(ctx context.Context, members []pool.QualifiedWallet) error {
	query := `
		INSERT INTO qualified_wallets (address, qualified_at, priority, tier, metrics, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (address) DO UPDATE SET
			priority   = EXCLUDED.priority,
			tier       = EXCLUDED.tier,
			metrics    = EXCLUDED.metrics,
			updated_at = now()
	`

	for _, m := range members {
		detail, err := json.Marshal(m.Metrics)
		if err != nil {
			return fmt.Errorf("marshal metrics for %s: %w", m.Address, err)
		}
		_, err = s.pool.Exec(ctx, query,
			m.Address,
			m.QualifiedAt,
			m.Metrics.Priority,
			m.Metrics.Tier,
			detail,
		)
		if err != nil {
			return fmt.Errorf("upsert qualified wallet %s: %w", m.Address, err)
		}
	}
	return nil
}

// Load returns every persisted pool member.
func (s *WalletStore) Load(ctx context.Context) ([]pool.QualifiedWallet, error) {
	query := `
		SELECT address, qualified_at, metrics
		FROM qualified_wallets
		ORDER BY address ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load qualified wallets: %w", err)
	}
	defer rows.Close()

	var members []pool.QualifiedWallet
	for rows.Next() {
		var m pool.QualifiedWallet
		var detail []byte
		if err := rows.Scan(&m.Address, &m.QualifiedAt, &detail); err != nil {
			return nil, fmt.Errorf("scan qualified wallet: %w", err)
		}
		var metrics wallet.Metrics
		if err := json.Unmarshal(detail, &metrics); err != nil {
			return nil, fmt.Errorf("unmarshal metrics for %s: %w", m.Address, err)
		}
		m.Metrics = metrics
		members = append(members, m)
	}
	return members, rows.Err()
}
