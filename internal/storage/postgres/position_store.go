package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/copyclaw-trading/copyclaw/internal/storage"
	"github.com/copyclaw-trading/copyclaw/internal/trader"
)

// PositionStore implements storage.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *Pool
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(pool *Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PositionStore = (*PositionStore)(nil)

// Save upserts one position by ID.
func (s *PositionStore) Save(ctx context.Context, p trader.Position) error {
	detail, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal position %s: %w", p.ID, err)
	}

	query := `
		INSERT INTO positions (id, token, source_wallet, state, detail, opened_at, closed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			state      = EXCLUDED.state,
			detail     = EXCLUDED.detail,
			closed_at  = EXCLUDED.closed_at,
			updated_at = now()
	`

	_, err = s.pool.Exec(ctx, query,
		p.ID,
		p.Token,
		p.SourceWallet,
		string(p.State),
		detail,
		p.OpenedAt,
		p.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert position %s: %w", p.ID, err)
	}
	return nil
}

// LoadActive returns positions still open or partially closed, oldest first.
func (s *PositionStore) LoadActive(ctx context.Context) ([]trader.Position, error) {
	query := `
		SELECT detail
		FROM positions
		WHERE state IN ($1, $2)
		ORDER BY opened_at ASC
	`

	rows, err := s.pool.Query(ctx, query, string(trader.StateOpen), string(trader.StatePartiallyClosed))
	if err != nil {
		return nil, fmt.Errorf("load active positions: %w", err)
	}
	defer rows.Close()

	var positions []trader.Position
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		var p trader.Position
		if err := json.Unmarshal(detail, &p); err != nil {
			return nil, fmt.Errorf("unmarshal position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}
