package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Acquisition Gate — rotates API credentials under a shared per-window budget
// ---------------------------------------------------------------------------

// Config configures the acquisition gate.
type Config struct {
	// API keys to rotate through.
	Keys []string `yaml:"keys"`

	// Requests allowed per key per window.
	RequestsPerWindow int `yaml:"requests_per_window"`

	// Budget window length.
	Window time.Duration `yaml:"window"`

	// How long to sleep before rescanning when every key is at cap.
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// DefaultConfig returns gate defaults (per-minute window).
func DefaultConfig() Config {
	return Config{
		RequestsPerWindow: 100,
		Window:            time.Minute,
		RetryInterval:     2 * time.Second,
	}
}

// Credential is an API key identity handed out by the gate. Counters behind
// it belong to the gate; callers only read the key.
type Credential struct {
	Key   string
	Index int
}

// credState tracks one key's usage inside the current window.
type credState struct {
	key         string
	used        int
	windowStart time.Time
}

// Gate is the single chokepoint for outbound data calls. Every concurrent
// caller funnels through Acquire, which never exceeds any key's cap.
type Gate struct {
	config Config

	mu    sync.Mutex
	creds []*credState
	next  int // round-robin cursor

	nowFn func() time.Time

	// Stats.
	acquired  atomic.Int64
	waits     atomic.Int64
	saturated atomic.Bool
}

// New creates a gate over the configured keys.
func New(config Config) (*Gate, error) {
	if len(config.Keys) == 0 {
		return nil, fmt.Errorf("gate: no API keys configured")
	}
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = DefaultConfig().RequestsPerWindow
	}
	if config.Window <= 0 {
		config.Window = DefaultConfig().Window
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultConfig().RetryInterval
	}

	creds := make([]*credState, len(config.Keys))
	for i, key := range config.Keys {
		creds[i] = &credState{key: key, windowStart: time.Now()}
	}

	log.Info().
		Int("keys", len(creds)).
		Int("per_window", config.RequestsPerWindow).
		Dur("window", config.Window).
		Msg("gate: initialized")

	return &Gate{
		config: config,
		creds:  creds,
		nowFn:  time.Now,
	}, nil
}

// Acquire returns the next credential with remaining budget, cycling keys
// round-robin. When every key is at cap it sleeps and rescans; this is
// backpressure, not failure. Returns an error only when ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context) (Credential, error) {
	for {
		if cred, ok := g.tryAcquire(); ok {
			g.acquired.Add(1)
			return cred, nil
		}

		g.waits.Add(1)
		if g.saturated.CompareAndSwap(false, true) {
			log.Warn().
				Int("keys", len(g.creds)).
				Dur("retry", g.config.RetryInterval).
				Msg("gate: all credentials at cap, waiting for window roll")
		}

		select {
		case <-ctx.Done():
			return Credential{}, fmt.Errorf("gate: acquire: %w", ctx.Err())
		case <-time.After(g.config.RetryInterval):
		}
	}
}

// tryAcquire performs one round-robin scan. Counter updates happen under the
// mutex so concurrent callers can never over-issue past a key's cap.
func (g *Gate) tryAcquire() (Credential, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFn()
	for i := 0; i < len(g.creds); i++ {
		idx := (g.next + i) % len(g.creds)
		c := g.creds[idx]

		if now.Sub(c.windowStart) >= g.config.Window {
			c.used = 0
			c.windowStart = now
		}

		if c.used < g.config.RequestsPerWindow {
			c.used++
			g.next = (idx + 1) % len(g.creds)
			g.saturated.Store(false)
			return Credential{Key: c.key, Index: idx}, true
		}
	}
	return Credential{}, false
}

// GateStats reports usage counters.
type GateStats struct {
	Keys      int   `json:"keys"`
	Acquired  int64 `json:"acquired"`
	Waits     int64 `json:"waits"`
	Saturated bool  `json:"saturated"`
	Used      []int `json:"used_this_window"`
}

func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	used := make([]int, len(g.creds))
	for i, c := range g.creds {
		used[i] = c.used
	}
	g.mu.Unlock()

	return GateStats{
		Keys:      len(used),
		Acquired:  g.acquired.Load(),
		Waits:     g.waits.Load(),
		Saturated: g.saturated.Load(),
		Used:      used,
	}
}
