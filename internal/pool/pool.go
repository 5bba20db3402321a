package pool

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/rank"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Qualified Pool — append-only membership with per-cycle re-ranking
// ---------------------------------------------------------------------------

// QualifiedWallet is a wallet that passed admission at least once. Once
// added, never removed; only its metrics, priority and tier move.
type QualifiedWallet struct {
	Address     string         `json:"address"`
	QualifiedAt time.Time      `json:"qualified_at"`
	Metrics     wallet.Metrics `json:"metrics"`
}

// Snapshot is one immutable view of the pool. Never mutate a snapshot after
// it is published; cycles build a fresh one and swap the pointer.
type Snapshot struct {
	Wallets   map[string]QualifiedWallet `json:"wallets"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// ApplyResult summarizes one membership/ranking pass.
type ApplyResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Total   int `json:"total"`
}

// Pool holds the current snapshot. Readers see either the fully updated pool
// or the prior one, never a half-written state.
type Pool struct {
	mu       sync.RWMutex
	snapshot *Snapshot

	cycles        atomic.Int64
	totalAdmitted atomic.Int64
}

// New creates an empty pool.
func New() *Pool {
	return &Pool{snapshot: &Snapshot{Wallets: make(map[string]QualifiedWallet)}}
}

// Seed loads previously persisted members, typically at startup. Existing
// members win on address collision so restarts cannot shrink the pool.
func (p *Pool) Seed(members []QualifiedWallet) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := cloneSnapshot(p.snapshot)
	for _, m := range members {
		if _, exists := next.Wallets[m.Address]; !exists {
			next.Wallets[m.Address] = m
		}
	}
	next.UpdatedAt = time.Now()
	p.snapshot = next

	log.Info().Int("members", len(next.Wallets)).Msg("pool: seeded")
}

// Apply performs one discovery cycle's output as two operations: an
// idempotent upsert-by-address for membership and a full-set recompute of
// priority and tier, published together as a single snapshot swap.
func (p *Pool) Apply(admitted []wallet.Metrics, now time.Time) ApplyResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := cloneSnapshot(p.snapshot)
	result := ApplyResult{}

	for _, m := range admitted {
		existing, ok := next.Wallets[m.Wallet]
		if ok {
			existing.Metrics = m
			next.Wallets[m.Wallet] = existing
			result.Updated++
			continue
		}
		next.Wallets[m.Wallet] = QualifiedWallet{
			Address:     m.Wallet,
			QualifiedAt: now,
			Metrics:     m,
		}
		result.Added++
	}

	// Re-rank the whole pool, drifted members included.
	all := make([]wallet.Metrics, 0, len(next.Wallets))
	for _, qw := range next.Wallets {
		all = append(all, qw.Metrics)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Wallet < all[j].Wallet })

	for _, m := range rank.AssignTiers(rank.Score(all)) {
		qw := next.Wallets[m.Wallet]
		qw.Metrics = m
		next.Wallets[m.Wallet] = qw
	}

	next.UpdatedAt = now
	p.snapshot = next

	result.Total = len(next.Wallets)
	p.cycles.Add(1)
	p.totalAdmitted.Add(int64(result.Added))

	log.Info().
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("total", result.Total).
		Msg("pool: snapshot swapped")

	return result
}

// Snapshot returns the current immutable view.
func (p *Pool) Snapshot() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Get looks up one member in the current snapshot.
func (p *Pool) Get(address string) (QualifiedWallet, bool) {
	snap := p.Snapshot()
	qw, ok := snap.Wallets[address]
	return qw, ok
}

// Members returns the current membership ordered by priority, best first.
func (p *Pool) Members() []QualifiedWallet {
	snap := p.Snapshot()
	members := make([]QualifiedWallet, 0, len(snap.Wallets))
	for _, qw := range snap.Wallets {
		members = append(members, qw)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Metrics.Priority != members[j].Metrics.Priority {
			return members[i].Metrics.Priority > members[j].Metrics.Priority
		}
		return members[i].Address < members[j].Address
	})
	return members
}

// Size returns the current member count.
func (p *Pool) Size() int {
	return len(p.Snapshot().Wallets)
}

// PoolStats reports pool counters.
type PoolStats struct {
	Members       int            `json:"members"`
	Cycles        int64          `json:"cycles"`
	TotalAdmitted int64          `json:"total_admitted"`
	TierBreakdown map[string]int `json:"tier_breakdown"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (p *Pool) Stats() PoolStats {
	snap := p.Snapshot()
	tiers := make(map[string]int)
	for _, qw := range snap.Wallets {
		tiers[qw.Metrics.Tier]++
	}
	return PoolStats{
		Members:       len(snap.Wallets),
		Cycles:        p.cycles.Load(),
		TotalAdmitted: p.totalAdmitted.Load(),
		TierBreakdown: tiers,
		UpdatedAt:     snap.UpdatedAt,
	}
}

func cloneSnapshot(s *Snapshot) *Snapshot {
	next := &Snapshot{Wallets: make(map[string]QualifiedWallet, len(s.Wallets))}
	for addr, qw := range s.Wallets {
		next.Wallets[addr] = qw
	}
	return next
}
