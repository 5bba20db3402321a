package signal

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Signal Queue — admitted buy events, each consumed at most once
// ---------------------------------------------------------------------------

// Status tracks a signal through its lifecycle.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusExecuted   Status = "EXECUTED"
	StatusSkipped    Status = "SKIPPED"
)

// Signal is an admitted real-time buy event eligible for copy-trading.
type Signal struct {
	ID           string          `json:"id"`
	SourceWallet string          `json:"source_wallet"`
	Token        string          `json:"token"`
	AmountSOL    decimal.Decimal `json:"amount_sol"`
	DetectedAt   time.Time       `json:"detected_at"`

	// Context attached at alert time so entry evaluation needs no refetch.
	LiquidityUSD float64 `json:"liquidity_usd"`
	MarketCapUSD float64 `json:"market_cap_usd"`
	Last5WinRate float64 `json:"last5_win_rate"`
	SourceBES    float64 `json:"source_bes"`
	SourceTier   string  `json:"source_tier"`

	Status     Status     `json:"status"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// dedupKey identifies a wallet/token/timestamp triple, admitted at most once.
func dedupKey(wallet, token string, ts time.Time) string {
	return fmt.Sprintf("%s|%s|%d", wallet, token, ts.Unix())
}

// Queue is the hand-off between the monitor and the position engine. Claim
// hands each signal to exactly one consumer.
type Queue struct {
	maxPending int

	mu       sync.Mutex
	pending  []*Signal
	byID     map[string]*Signal
	seen     map[string]struct{}
	onChange func(sig Signal)

	pushed   atomic.Int64
	duped    atomic.Int64
	dropped  atomic.Int64
	claimed  atomic.Int64
	executed atomic.Int64
	skipped  atomic.Int64
}

// NewQueue creates a queue bounded at maxPending undelivered signals.
func NewQueue(maxPending int) *Queue {
	if maxPending <= 0 {
		maxPending = 100
	}
	return &Queue{
		maxPending: maxPending,
		byID:       make(map[string]*Signal),
		seen:       make(map[string]struct{}),
	}
}

// Seen reports whether a wallet/token/timestamp triple was already admitted.
// Producers check it before spending budget on a candidate they would only
// dedup away in Push.
func (q *Queue) Seen(wallet, token string, ts time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.seen[dedupKey(wallet, token, ts)]
	return ok
}

// SetOnChange registers an observer called after every admission and
// resolution, with a copy of the signal. Used to mirror the queue into
// persistent storage.
func (q *Queue) SetOnChange(fn func(sig Signal)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onChange = fn
}

// Push admits a signal unless its wallet/token/timestamp triple was seen
// before or the queue is full. Returns the stored signal and whether it was
// admitted.
func (q *Queue) Push(sig Signal) (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := dedupKey(sig.SourceWallet, sig.Token, sig.DetectedAt)
	if _, dup := q.seen[key]; dup {
		q.duped.Add(1)
		return Signal{}, false
	}
	if len(q.pending) >= q.maxPending {
		q.dropped.Add(1)
		log.Warn().Str("token", sig.Token).Msg("signal: queue full, dropping")
		return Signal{}, false
	}

	q.seen[key] = struct{}{}
	sig.ID = uuid.New().String()
	sig.Status = StatusPending

	stored := sig
	q.pending = append(q.pending, &stored)
	q.byID[stored.ID] = &stored
	q.pushed.Add(1)
	if q.onChange != nil {
		go q.onChange(stored)
	}

	log.Debug().
		Str("id", stored.ID).
		Str("wallet", stored.SourceWallet).
		Str("token", stored.Token).
		Str("amount_sol", stored.AmountSOL.String()).
		Msg("signal: admitted")

	return stored, true
}

// Claim hands the oldest pending signal to the caller and marks it
// PROCESSING. At most one claim ever succeeds per signal.
func (q *Queue) Claim() (Signal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Signal{}, false
	}

	sig := q.pending[0]
	q.pending = q.pending[1:]

	now := time.Now()
	sig.Status = StatusProcessing
	sig.ClaimedAt = &now
	q.claimed.Add(1)

	return *sig, true
}

// Resolve finalizes a claimed signal as executed or skipped.
func (q *Queue) Resolve(id string, executed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	sig, ok := q.byID[id]
	if !ok || sig.Status != StatusProcessing {
		return
	}

	now := time.Now()
	sig.ResolvedAt = &now
	if executed {
		sig.Status = StatusExecuted
		q.executed.Add(1)
	} else {
		sig.Status = StatusSkipped
		q.skipped.Add(1)
	}
	if q.onChange != nil {
		go q.onChange(*sig)
	}
}

// Pending returns the number of unclaimed signals.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Cleanup drops dedup entries and resolved signals older than maxAge so the
// maps stay bounded. Returns the number of entries removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, sig := range q.byID {
		if sig.Status == StatusPending || sig.Status == StatusProcessing {
			continue
		}
		if sig.ResolvedAt != nil && sig.ResolvedAt.Before(cutoff) {
			delete(q.byID, id)
			delete(q.seen, dedupKey(sig.SourceWallet, sig.Token, sig.DetectedAt))
			removed++
		}
	}
	return removed
}

// QueueStats reports queue counters.
type QueueStats struct {
	Pending    int   `json:"pending"`
	Pushed     int64 `json:"pushed"`
	Duplicates int64 `json:"duplicates"`
	Dropped    int64 `json:"dropped"`
	Claimed    int64 `json:"claimed"`
	Executed   int64 `json:"executed"`
	Skipped    int64 `json:"skipped"`
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	pending := len(q.pending)
	q.mu.Unlock()

	return QueueStats{
		Pending:    pending,
		Pushed:     q.pushed.Load(),
		Duplicates: q.duped.Load(),
		Dropped:    q.dropped.Load(),
		Claimed:    q.claimed.Load(),
		Executed:   q.executed.Load(),
		Skipped:    q.skipped.Load(),
	}
}
