package postgres

import (
	"context"
	"fmt"

	"github.com/copyclaw-trading/copyclaw/internal/signal"
	"github.com/copyclaw-trading/copyclaw/internal/storage"
)

// SignalStore implements storage.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *Pool
}

// NewSignalStore creates a new SignalStore.
func NewSignalStore(pool *Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SignalStore = (*SignalStore)(nil)

// Save upserts one signal by ID. The consumed flag follows the signal's
// status so the table mirrors the in-memory queue.
func (s *SignalStore) Save(ctx context.Context, sig signal.Signal) error {
	query := `
		INSERT INTO signal_queue (id, source_wallet, token, sol_amount, detected_at, consumed, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (id) DO UPDATE SET
			consumed   = EXCLUDED.consumed,
			status     = EXCLUDED.status,
			updated_at = now()
	`

	_, err := s.pool.Exec(ctx, query,
		sig.ID,
		sig.SourceWallet,
		sig.Token,
		sig.AmountSOL,
		sig.DetectedAt,
		sig.Status == signal.StatusExecuted,
		string(sig.Status),
	)
	if err != nil {
		return fmt.Errorf("upsert signal %s: %w", sig.ID, err)
	}
	return nil
}
