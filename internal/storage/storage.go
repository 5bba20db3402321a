package storage

import (
	"context"
	"errors"

	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/rank"
	"github.com/copyclaw-trading/copyclaw/internal/signal"
	"github.com/copyclaw-trading/copyclaw/internal/trader"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// QualifiedStore persists the qualified wallet pool. The pool itself is
// append-only; Save upserts and never deletes.
type QualifiedStore interface {
	// Save upserts pool members. qualified_at is written only on first insert.
	Save(ctx context.Context, members []pool.QualifiedWallet) error

	// Load returns every persisted pool member, for seeding at startup.
	Load(ctx context.Context) ([]pool.QualifiedWallet, error)
}

// PositionStore persists positions across restarts.
type PositionStore interface {
	// Save upserts one position by ID.
	Save(ctx context.Context, p trader.Position) error

	// LoadActive returns positions still open or partially closed.
	LoadActive(ctx context.Context) ([]trader.Position, error)
}

// SignalStore mirrors the in-memory signal queue, one row per admitted
// signal with its consumed flag.
type SignalStore interface {
	// Save upserts one signal by ID.
	Save(ctx context.Context, sig signal.Signal) error
}

// SettingsStore holds operator-tunable runtime settings. The discovery loop
// re-reads thresholds every cycle so changes apply without a restart.
type SettingsStore interface {
	// LoadThresholds returns the stored admission thresholds, or ErrNotFound
	// if none were ever saved.
	LoadThresholds(ctx context.Context) (rank.Thresholds, error)

	// SaveThresholds stores new admission thresholds.
	SaveThresholds(ctx context.Context, th rank.Thresholds) error
}

// Archiver receives analytical events for long-term storage. Implementations
// buffer and flush in batches; writes never block the hot path.
type Archiver interface {
	// ArchiveMetrics records one wallet metrics snapshot.
	ArchiveMetrics(ctx context.Context, m wallet.Metrics) error

	// ArchivePosition records one closed position.
	ArchivePosition(ctx context.Context, p trader.Position) error
}
