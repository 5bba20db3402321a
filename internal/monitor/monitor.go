package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/metrics"
	"github.com/copyclaw-trading/copyclaw/internal/notify"
	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/provider"
	"github.com/copyclaw-trading/copyclaw/internal/signal"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Real-Time Signal Monitor — polls qualified wallets, emits admitted buys
// ---------------------------------------------------------------------------

// Config configures the monitor.
type Config struct {
	// Poll interval over the qualified pool.
	PollInterval time.Duration `yaml:"poll_interval"`

	// A buy older than this is stale, never admitted.
	MaxSignalAge time.Duration `yaml:"max_signal_age"`

	// Minimum buy size to care about.
	MinBuySOL float64 `yaml:"min_buy_sol"`

	// Source wallet's recent form: win rate over its last 5 closed trades.
	MinLast5WinRate float64 `yaml:"min_last5_win_rate"`

	// Parallel wallet polls per cycle.
	Concurrency int `yaml:"concurrency"`
}

// DefaultConfig returns monitor defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:    30 * time.Second,
		MaxSignalAge:    5 * time.Minute,
		MinBuySOL:       1.5,
		MinLast5WinRate: 0.60,
		Concurrency:     8,
	}
}

// Monitor watches every qualified wallet and admits fresh buys as signals.
type Monitor struct {
	config   Config
	pool     *pool.Pool
	provider provider.DataProvider
	queue    *signal.Queue
	notifier notify.Notifier
	stream   *provider.Stream // optional push feed

	mu       sync.Mutex
	onSignal func(sig signal.Signal)

	cycles   atomic.Int64
	polled   atomic.Int64
	admitted atomic.Int64
	rejected atomic.Int64
	errors   atomic.Int64
}

// New creates a monitor. stream may be nil when no push feed is configured.
func New(config Config, p *pool.Pool, dp provider.DataProvider, q *signal.Queue,
	n notify.Notifier, stream *provider.Stream) *Monitor {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultConfig().PollInterval
	}
	if config.MaxSignalAge <= 0 {
		config.MaxSignalAge = DefaultConfig().MaxSignalAge
	}
	if config.MinBuySOL <= 0 {
		config.MinBuySOL = DefaultConfig().MinBuySOL
	}
	if config.MinLast5WinRate <= 0 {
		config.MinLast5WinRate = DefaultConfig().MinLast5WinRate
	}
	if config.Concurrency <= 0 {
		config.Concurrency = DefaultConfig().Concurrency
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Monitor{
		config:   config,
		pool:     p,
		provider: dp,
		queue:    q,
		notifier: n,
		stream:   stream,
	}
}

// SetOnSignal sets the callback fired for every admitted signal.
func (m *Monitor) SetOnSignal(fn func(sig signal.Signal)) {
	m.mu.Lock()
	m.onSignal = fn
	m.mu.Unlock()
}

// Run drives the poll loop (and the push feed, when present) until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().
		Dur("poll_interval", m.config.PollInterval).
		Float64("min_buy_sol", m.config.MinBuySOL).
		Msg("monitor: started")

	if m.stream != nil {
		go m.consumeStream(ctx)
	}

	ticker := time.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor: stopped")
			return
		case <-ticker.C:
			m.pollCycle(ctx)
		}
	}
}

// pollCycle polls every pool member with bounded concurrency.
func (m *Monitor) pollCycle(ctx context.Context) {
	members := m.pool.Members()
	if len(members) == 0 {
		return
	}
	m.cycles.Add(1)

	if m.stream != nil {
		addrs := make([]string, len(members))
		for i, qw := range members {
			addrs[i] = qw.Address
		}
		m.stream.SetWallets(addrs)
	}

	sem := make(chan struct{}, m.config.Concurrency)
	var wg sync.WaitGroup
	for _, member := range members {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(qw pool.QualifiedWallet) {
			defer wg.Done()
			defer func() { <-sem }()
			m.pollWallet(ctx, qw)
		}(member)
	}
	wg.Wait()
}

// consumeStream reacts to push notifications by polling that wallet at once
// instead of waiting for the next tick.
func (m *Monitor) consumeStream(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case activity, ok := <-m.stream.Events():
			if !ok {
				return
			}
			if qw, member := m.pool.Get(activity.Wallet); member {
				m.pollWallet(ctx, qw)
			}
		}
	}
}

// pollWallet fetches a wallet's recent transactions and runs every candidate
// buy through the alert filters. Fetch errors skip the wallet for this cycle.
func (m *Monitor) pollWallet(ctx context.Context, qw pool.QualifiedWallet) {
	m.polled.Add(1)

	recent, err := m.provider.RecentTransactions(ctx, qw.Address)
	if err != nil {
		m.errors.Add(1)
		log.Debug().Err(err).Str("wallet", qw.Address).Msg("monitor: poll failed")
		return
	}

	for _, record := range recent {
		if !m.cheapFilters(record) {
			continue
		}
		m.evaluateCandidate(ctx, qw, record)
	}
}

// cheapFilters applies the zero-cost checks before any further fetch: buys
// only, fresh, and big enough.
func (m *Monitor) cheapFilters(record wallet.TradeRecord) bool {
	if record.Validate() != nil || record.Side != wallet.SideBuy {
		return false
	}
	if time.Since(record.Timestamp) >= m.config.MaxSignalAge {
		return false
	}
	amount, _ := record.AmountSOL.Float64()
	return amount >= m.config.MinBuySOL
}

// evaluateCandidate runs the expensive filters and admits the signal.
func (m *Monitor) evaluateCandidate(ctx context.Context, qw pool.QualifiedWallet, record wallet.TradeRecord) {
	// A buy stays fresh across several poll cycles; once its triple has been
	// admitted, later sightings must not burn gate budget on refetches.
	if m.queue.Seen(qw.Address, record.Token, record.Timestamp) {
		return
	}

	history, err := m.provider.TradeHistory(ctx, qw.Address)
	if err != nil {
		m.errors.Add(1)
		return
	}

	last5 := metrics.LastNWinRate(history, 5)
	if last5 < m.config.MinLast5WinRate {
		m.rejected.Add(1)
		log.Debug().
			Str("wallet", qw.Address).
			Float64("last5_win_rate", last5).
			Msg("monitor: recent form below threshold")
		return
	}

	// Market context rides on the signal so entry evaluation needs no
	// refetch. A lookup failure is soft: the signal goes out without it.
	var market provider.TokenMarket
	if tm, err := m.provider.TokenMarket(ctx, record.Token); err == nil {
		market = tm
	} else {
		m.errors.Add(1)
	}

	sig, admitted := m.queue.Push(signal.Signal{
		SourceWallet: qw.Address,
		Token:        record.Token,
		AmountSOL:    record.AmountSOL,
		DetectedAt:   record.Timestamp,
		LiquidityUSD: market.LiquidityUSD,
		MarketCapUSD: market.MarketCapUSD,
		Last5WinRate: last5,
		SourceBES:    qw.Metrics.BES,
		SourceTier:   qw.Metrics.Tier,
	})
	if !admitted {
		return
	}
	m.admitted.Add(1)

	log.Info().
		Str("wallet", qw.Address).
		Str("token", record.Token).
		Str("amount_sol", record.AmountSOL.String()).
		Str("tier", qw.Metrics.Tier).
		Float64("last5_win_rate", last5).
		Msg("monitor: signal admitted")

	go m.notifier.Notify(ctx, notify.SignalMessage(
		qw.Address, record.Token, record.AmountSOL, qw.Metrics.Tier, market.LiquidityUSD))

	m.mu.Lock()
	cb := m.onSignal
	m.mu.Unlock()
	if cb != nil {
		cb(sig)
	}
}

// MonitorStats reports monitor counters.
type MonitorStats struct {
	Cycles   int64 `json:"cycles"`
	Polled   int64 `json:"polled"`
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
	Errors   int64 `json:"errors"`
}

func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Cycles:   m.cycles.Load(),
		Polled:   m.polled.Load(),
		Admitted: m.admitted.Load(),
		Rejected: m.rejected.Load(),
		Errors:   m.errors.Load(),
	}
}
