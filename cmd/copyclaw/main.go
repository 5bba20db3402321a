package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/copyclaw-trading/copyclaw/internal/config"
	"github.com/copyclaw-trading/copyclaw/internal/discovery"
	"github.com/copyclaw-trading/copyclaw/internal/gate"
	"github.com/copyclaw-trading/copyclaw/internal/monitor"
	"github.com/copyclaw-trading/copyclaw/internal/notify"
	"github.com/copyclaw-trading/copyclaw/internal/pool"
	"github.com/copyclaw-trading/copyclaw/internal/provider"
	"github.com/copyclaw-trading/copyclaw/internal/rank"
	sigq "github.com/copyclaw-trading/copyclaw/internal/signal"
	chstore "github.com/copyclaw-trading/copyclaw/internal/storage/clickhouse"
	"github.com/copyclaw-trading/copyclaw/internal/storage/postgres"
	"github.com/copyclaw-trading/copyclaw/internal/trader"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("COPYCLAW - Starting")
	log.Info().Msg("DISCOVER -> SCORE -> QUALIFY -> MONITOR -> COPY")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("dry_run", cfg.Trader.DryRun).
		Int("api_keys", len(cfg.API.Keys)).
		Int("discovery_interval_min", cfg.Discovery.IntervalMin).
		Float64("min_source_bes", cfg.Trader.MinSourceBES).
		Int("max_positions", cfg.Trader.MaxPositions).
		Msg("Configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Acquisition gate + provider clients.
	apiGate, err := gate.New(gate.Config{
		Keys:              cfg.API.Keys,
		RequestsPerWindow: cfg.API.RequestsPerMinute,
		Window:            time.Minute,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Gate initialization failed")
	}

	httpProvider := provider.NewHTTPProvider(provider.HTTPConfig{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    time.Duration(cfg.API.TimeoutSec) * time.Second,
		MaxRetries: cfg.API.MaxRetries,
	}, apiGate)
	priceService := provider.NewPriceService(httpProvider, time.Minute)
	executor := provider.NewHTTPExecutor(provider.ExecutorConfig{
		SlippageBps: cfg.Trader.SlippageBps,
	}, httpProvider, priceService)

	var stream *provider.Stream
	if cfg.Stream.WSURL != "" {
		streamConfig := provider.DefaultStreamConfig()
		streamConfig.URL = cfg.Stream.WSURL
		stream = provider.NewStream(streamConfig)
	}

	// 5. Postgres persistence.
	pgPool, err := postgres.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Postgres connection failed")
	}
	defer pgPool.Close()
	if err := pgPool.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Postgres migration failed")
	}
	walletStore := postgres.NewWalletStore(pgPool)
	positionStore := postgres.NewPositionStore(pgPool)
	settingsStore := postgres.NewSettingsStore(pgPool)
	signalStore := postgres.NewSignalStore(pgPool)

	// 6. ClickHouse archive (optional).
	var archive *chstore.Archive
	if cfg.ClickHouse.DSN != "" {
		chClient, err := chstore.NewClient(cfg.ClickHouse.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("ClickHouse connection failed")
		}
		defer chClient.Close()
		if err := chClient.Migrate(ctx); err != nil {
			log.Fatal().Err(err).Msg("ClickHouse migration failed")
		}
		archive = chstore.NewArchive(chClient, cfg.ClickHouse.BatchSize,
			time.Duration(cfg.ClickHouse.FlushIntervalSec)*time.Second)
	} else {
		log.Info().Msg("ClickHouse archival disabled (no DSN)")
	}

	// 7. Telegram notifier (optional).
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Telegram.BotToken != "" {
		tg, err := notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram setup failed, notifications disabled")
		} else {
			notifier = tg
		}
	}

	// 8. Qualified pool, seeded from Postgres.
	qualifiedPool := pool.New()
	if members, err := walletStore.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("Pool load failed, starting empty")
	} else if len(members) > 0 {
		qualifiedPool.Seed(members)
		log.Info().Int("members", len(members)).Msg("Qualified pool seeded from storage")
	}

	// 9. Discovery service.
	candidateSource := discovery.CandidateFunc(func(ctx context.Context) ([]string, error) {
		// Seed wallets plus counterparties seen in their recent activity.
		seen := make(map[string]struct{}, len(cfg.Discovery.SeedWallets))
		var candidates []string
		for _, seed := range cfg.Discovery.SeedWallets {
			if _, dup := seen[seed]; dup {
				continue
			}
			seen[seed] = struct{}{}
			candidates = append(candidates, seed)

			records, err := httpProvider.RecentTransactions(ctx, seed)
			if err != nil {
				log.Debug().Str("wallet", seed).Err(err).Msg("Seed scan failed")
				continue
			}
			for _, r := range records {
				if _, dup := seen[r.Wallet]; dup || r.Wallet == "" {
					continue
				}
				seen[r.Wallet] = struct{}{}
				candidates = append(candidates, r.Wallet)
			}
		}
		return candidates, nil
	})

	discoveryConfig := discovery.DefaultConfig()
	discoveryConfig.Interval = time.Duration(cfg.Discovery.IntervalMin) * time.Minute
	discoveryConfig.Thresholds = rank.Thresholds{
		MinBalanceSOL: cfg.Discovery.MinBalanceSOL,
		MinTrades30d:  cfg.Discovery.MinTrades30d,
		MinWinRate:    cfg.Discovery.MinWinRate,
		MinTotalROI:   cfg.Discovery.MinTotalROI,
	}

	discoveryOpts := []discovery.Option{
		discovery.WithSettings(settingsStore),
		discovery.WithStore(walletStore),
	}
	if archive != nil {
		discoveryOpts = append(discoveryOpts, discovery.WithArchive(archive))
	}
	discoveryService := discovery.New(discoveryConfig, candidateSource, httpProvider,
		qualifiedPool, discoveryOpts...)

	// 10. Signal queue + monitor.
	queue := sigq.NewQueue(cfg.Monitor.QueueMaxPending)
	queue.SetOnChange(func(sig sigq.Signal) {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer saveCancel()
		if err := signalStore.Save(saveCtx, sig); err != nil {
			log.Warn().Str("signal", sig.ID).Err(err).Msg("Signal persistence failed")
		}
	})
	monitorService := monitor.New(monitor.Config{
		PollInterval:    time.Duration(cfg.Monitor.PollIntervalSec) * time.Second,
		MaxSignalAge:    time.Duration(cfg.Monitor.MaxSignalAgeSec) * time.Second,
		MinBuySOL:       cfg.Monitor.MinBuySOL,
		MinLast5WinRate: cfg.Monitor.MinLast5WinRate,
		Concurrency:     cfg.Monitor.Concurrency,
	}, qualifiedPool, httpProvider, queue, notifier, stream)

	// 11. Trading engine.
	engineConfig := trader.DefaultConfig()
	engineConfig.DryRun = cfg.Trader.DryRun
	engineConfig.SignalInterval = time.Duration(cfg.Trader.SignalIntervalSec) * time.Second
	engineConfig.PriceInterval = time.Duration(cfg.Trader.PriceIntervalSec) * time.Second
	engineConfig.ExecutionTimeout = time.Duration(cfg.Trader.ExecTimeoutSec) * time.Second
	engineConfig.MaxRetries = cfg.Trader.MaxRetries
	engineConfig.SlippageBps = cfg.Trader.SlippageBps
	engineConfig.Entry = trader.EntryConfig{
		MinSourceBES:    cfg.Trader.MinSourceBES,
		MinLiquidityUSD: cfg.Trader.MinLiquidityUSD,
		MinLast5WinRate: cfg.Trader.MinLast5WinRate,
		MaxPositions:    cfg.Trader.MaxPositions,
		BalanceSpendPct: cfg.Trader.BalanceSpendPct,
	}
	engine, err := trader.New(engineConfig, queue, executor, notifier)
	if err != nil {
		log.Fatal().Err(err).Msg("Trader initialization failed")
	}
	engine.SetBalance(decimal.NewFromFloat(cfg.Trader.InitialBalanceSOL))
	engine.SetOnClose(func(p trader.Position) {
		saveCtx, saveCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer saveCancel()
		if err := positionStore.Save(saveCtx, p); err != nil {
			log.Error().Str("position", p.ID).Err(err).Msg("Position persistence failed")
		}
		if archive != nil {
			if err := archive.ArchivePosition(saveCtx, p); err != nil {
				log.Warn().Str("position", p.ID).Err(err).Msg("Position archive failed")
			}
		}
	})

	// Report positions that were open when the last instance stopped. Swaps
	// are not replayable, so these need operator attention rather than
	// silent re-adoption.
	if stale, err := positionStore.LoadActive(ctx); err != nil {
		log.Warn().Err(err).Msg("Active position load failed")
	} else if len(stale) > 0 {
		log.Warn().Int("count", len(stale)).Msg("Positions were open at last shutdown, manual review needed")
	}

	// 12. Shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 13. Start services.
	var wg sync.WaitGroup

	if archive != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			archive.Start(ctx)
		}()
	}
	if stream != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stream.Run(ctx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		discoveryService.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitorService.Run(ctx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()

	// 14. HTTP health/stats/control endpoint.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTPServer(ctx, cfg, qualifiedPool, discoveryService, monitorService,
			engine, queue, apiGate, httpProvider)
	}()

	notifier.Notify(ctx, notify.StartupMessage(cfg.General.InstanceID, qualifiedPool.Size()))

	<-ctx.Done()
	wg.Wait()
	log.Info().Msg("COPYCLAW stopped")
}

func runHTTPServer(ctx context.Context, cfg *config.Config, qualifiedPool *pool.Pool,
	discoveryService *discovery.Service, monitorService *monitor.Monitor,
	engine *trader.Engine, queue *sigq.Queue, apiGate *gate.Gate,
	httpProvider *provider.HTTPProvider) {

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"dry_run": cfg.Trader.DryRun,
			"paused":  engine.Stats().Paused,
		})
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"discovery": discoveryService.Stats(),
			"pool":      qualifiedPool.Stats(),
			"monitor":   monitorService.Stats(),
			"queue":     queue.Stats(),
			"trader":    engine.Stats(),
			"gate":      apiGate.Stats(),
			"provider":  httpProvider.Stats(),
		})
	})

	mux.HandleFunc("/pool", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(qualifiedPool.Members())
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(engine.Positions())
	})

	mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Pause()
		log.Warn().Msg("[CONTROL] Entries PAUSED, exits still managed")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"paused"}`)
	})

	mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Resume()
		log.Info().Msg("[CONTROL] Entries RESUMED")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"running"}`)
	})

	server := &http.Server{
		Addr:              cfg.General.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", cfg.General.HTTPAddr).Msg("HTTP server started (health + stats + control)")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if srvErr := server.ListenAndServe(); srvErr != nil && !errors.Is(srvErr, http.ErrServerClosed) {
		log.Error().Err(srvErr).Msg("HTTP server error")
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "copyclaw").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "copyclaw").
			Str("instance", general.InstanceID).Logger()
	}
}
