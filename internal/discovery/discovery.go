package discovery

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/copyclaw-trading/copyclaw/internal/cluster"
	"github.com/copyclaw-trading/copyclaw/internal/metrics"
	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/provider"
	"github.com/copyclaw-trading/copyclaw/internal/rank"
	"github.com/copyclaw-trading/copyclaw/internal/storage"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
)

// ---------------------------------------------------------------------------
// Discovery — the periodic collect -> score -> cluster -> rank -> pool cycle
// ---------------------------------------------------------------------------

// CandidateSource yields wallet addresses worth profiling this cycle. Sources
// include token top-trader lists and recent transaction scans.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]string, error)
}

// CandidateFunc adapts a function to the CandidateSource interface.
type CandidateFunc func(ctx context.Context) ([]string, error)

func (f CandidateFunc) Candidates(ctx context.Context) ([]string, error) { return f(ctx) }

// Config controls the discovery cycle.
type Config struct {
	Interval   time.Duration    `yaml:"interval"`
	Thresholds rank.Thresholds  `yaml:"thresholds"`
	Cluster    cluster.Config   `yaml:"cluster"`
	Metrics    metrics.Config   `yaml:"metrics"`
}

// DefaultConfig returns discovery defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Hour,
		Thresholds: rank.DefaultThresholds(),
		Cluster:    cluster.DefaultConfig(),
	}
}

// Service runs the discovery pipeline and feeds the qualified pool.
type Service struct {
	config   Config
	source   CandidateSource
	provider provider.DataProvider
	engine   *metrics.Engine
	pool     *pool.Pool

	settings storage.SettingsStore // optional, re-read each cycle
	store    storage.QualifiedStore
	archive  storage.Archiver

	cycles     atomic.Int64
	profiled   atomic.Int64
	admitted   atomic.Int64
	fetchFails atomic.Int64
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithSettings wires a settings store; thresholds are re-read every cycle.
func WithSettings(s storage.SettingsStore) Option {
	return func(svc *Service) { svc.settings = s }
}

// WithStore wires pool persistence.
func WithStore(s storage.QualifiedStore) Option {
	return func(svc *Service) { svc.store = s }
}

// WithArchive wires metrics snapshot archival.
func WithArchive(a storage.Archiver) Option {
	return func(svc *Service) { svc.archive = a }
}

// New builds a discovery service.
func New(cfg Config, source CandidateSource, dp provider.DataProvider, qualified *pool.Pool, opts ...Option) *Service {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Thresholds == (rank.Thresholds{}) {
		cfg.Thresholds = rank.DefaultThresholds()
	}
	svc := &Service{
		config:   cfg,
		source:   source,
		provider: dp,
		engine:   metrics.NewEngine(cfg.Metrics),
		pool:     qualified,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Run executes one cycle immediately, then repeats on the interval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	log.Info().Dur("interval", s.config.Interval).Msg("discovery: service started")
	s.RunCycle(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("discovery: service stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one full discovery pass. An empty or failed collection
// leaves the pool exactly as it was.
func (s *Service) RunCycle(ctx context.Context) {
	start := time.Now()
	s.cycles.Add(1)
	thresholds := s.loadThresholds(ctx)

	candidates, err := s.source.Candidates(ctx)
	if err != nil {
		log.Error().Err(err).Msg("discovery: candidate collection failed, pool unchanged")
		return
	}
	if len(candidates) == 0 {
		log.Warn().Msg("discovery: no candidates this cycle, pool unchanged")
		return
	}

	profiled := s.profile(ctx, candidates)
	if len(profiled) == 0 {
		log.Warn().Int("candidates", len(candidates)).Msg("discovery: no profiles computed, pool unchanged")
		return
	}

	labeled := cluster.Apply(s.config.Cluster, profiled)
	passed := rank.Filter(labeled, thresholds)
	result := s.pool.Apply(passed, time.Now())
	s.admitted.Add(int64(result.Added))

	if s.archive != nil {
		for _, m := range labeled {
			if err := s.archive.ArchiveMetrics(ctx, m); err != nil {
				log.Warn().Err(err).Msg("discovery: metrics archive write failed")
				break
			}
		}
	}
	if s.store != nil {
		if err := s.store.Save(ctx, s.pool.Members()); err != nil {
			log.Error().Err(err).Msg("discovery: pool persistence failed")
		}
	}

	log.Info().
		Int("candidates", len(candidates)).
		Int("profiled", len(profiled)).
		Int("passed", len(passed)).
		Int("added", result.Added).
		Int("updated", result.Updated).
		Int("pool_size", result.Total).
		Dur("took", time.Since(start)).
		Msg("discovery: cycle complete")
}

// loadThresholds prefers stored settings so operators can retune admission
// without a restart.
func (s *Service) loadThresholds(ctx context.Context) rank.Thresholds {
	if s.settings == nil {
		return s.config.Thresholds
	}
	th, err := s.settings.LoadThresholds(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Msg("discovery: settings read failed, using configured thresholds")
		}
		return s.config.Thresholds
	}
	return th
}

// profile fetches balance and history for each candidate and computes its
// metrics. Fetch failures skip the wallet, never the cycle.
func (s *Service) profile(ctx context.Context, candidates []string) []wallet.Metrics {
	now := time.Now()
	profiled := make([]wallet.Metrics, 0, len(candidates))
	for _, address := range candidates {
		if ctx.Err() != nil {
			return profiled
		}
		balance, err := s.provider.WalletBalance(ctx, address)
		if err != nil {
			s.fetchFails.Add(1)
			log.Debug().Str("wallet", address).Err(err).Msg("discovery: balance fetch failed")
			continue
		}
		records, err := s.provider.TradeHistory(ctx, address)
		if err != nil {
			s.fetchFails.Add(1)
			log.Debug().Str("wallet", address).Err(err).Msg("discovery: history fetch failed")
			continue
		}
		profiled = append(profiled, s.engine.Compute(address, balance, records, now))
		s.profiled.Add(1)
	}
	return profiled
}

// DiscoveryStats is a snapshot of service counters.
type DiscoveryStats struct {
	Cycles     int64 `json:"cycles"`
	Profiled   int64 `json:"profiled"`
	Admitted   int64 `json:"admitted"`
	FetchFails int64 `json:"fetch_fails"`
	PoolSize   int   `json:"pool_size"`
}

// Stats returns current counters.
func (s *Service) Stats() DiscoveryStats {
	return DiscoveryStats{
		Cycles:     s.cycles.Load(),
		Profiled:   s.profiled.Load(),
		Admitted:   s.admitted.Load(),
		FetchFails: s.fetchFails.Load(),
		PoolSize:   s.pool.Size(),
	}
}
