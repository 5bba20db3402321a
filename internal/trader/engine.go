package trader

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/copyclaw-trading/copyclaw/internal/notify"
	"github.com/copyclaw-trading/copyclaw/internal/provider"
	"github.com/copyclaw-trading/copyclaw/internal/signal"
)

// ---------------------------------------------------------------------------
// Engine — claims signals, opens positions, runs the exit ladder
// ---------------------------------------------------------------------------

// Config controls the trading engine loops and execution behaviour.
type Config struct {
	Entry EntryConfig `yaml:"entry"`
	Exit  ExitConfig  `yaml:"exit"`

	SignalInterval   time.Duration `yaml:"signal_interval"`   // queue drain cadence
	PriceInterval    time.Duration `yaml:"price_interval"`    // exit evaluation cadence
	ExecutionTimeout time.Duration `yaml:"execution_timeout"` // per swap attempt
	MaxRetries       int           `yaml:"max_retries"`       // swap attempts
	SlippageBps      int           `yaml:"slippage_bps"`
	SlippageBumpBps  int           `yaml:"slippage_bump_bps"` // added per retry
	DryRun           bool          `yaml:"dry_run"`
}

// DefaultConfig returns engine defaults suitable for live trading.
func DefaultConfig() Config {
	return Config{
		Entry:            DefaultEntryConfig(),
		Exit:             DefaultExitConfig(),
		SignalInterval:   2 * time.Second,
		PriceInterval:    3 * time.Second,
		ExecutionTimeout: 15 * time.Second,
		MaxRetries:       3,
		SlippageBps:      100,
		SlippageBumpBps:  50,
	}
}

// Engine consumes claimed signals and manages the full position lifecycle.
// It is the single consumer of the signal queue.
type Engine struct {
	config   Config
	queue    *signal.Queue
	executor provider.SwapExecutor
	notifier notify.Notifier

	mu        sync.RWMutex
	positions map[string]*Position // by position ID
	byToken   map[string]string    // token -> open position ID
	balance   decimal.Decimal      // available SOL, reserved inside mu

	paused atomic.Bool

	entries     atomic.Int64
	exits       atomic.Int64
	wins        atomic.Int64
	losses      atomic.Int64
	execErrors  atomic.Int64
	rejected    atomic.Int64

	onClose func(Position)
}

// New builds an engine. queue and executor are required.
func New(cfg Config, queue *signal.Queue, executor provider.SwapExecutor, notifier notify.Notifier) (*Engine, error) {
	if queue == nil {
		return nil, fmt.Errorf("trader: signal queue is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("trader: swap executor is required")
	}
	def := DefaultConfig()
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = def.SignalInterval
	}
	if cfg.PriceInterval <= 0 {
		cfg.PriceInterval = def.PriceInterval
	}
	if cfg.ExecutionTimeout <= 0 {
		cfg.ExecutionTimeout = def.ExecutionTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.Entry == (EntryConfig{}) {
		cfg.Entry = def.Entry
	}
	if cfg.Exit == (ExitConfig{}) {
		cfg.Exit = def.Exit
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Engine{
		config:    cfg,
		queue:     queue,
		executor:  executor,
		notifier:  notifier,
		positions: make(map[string]*Position),
		byToken:   make(map[string]string),
	}, nil
}

// SetBalance sets the available SOL balance. Called at startup and after
// external deposits or withdrawals.
func (e *Engine) SetBalance(sol decimal.Decimal) {
	e.mu.Lock()
	e.balance = sol
	e.mu.Unlock()
}

// Balance returns the available (unreserved) SOL balance.
func (e *Engine) Balance() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balance
}

// SetOnClose registers a callback invoked with a copy of every position that
// reaches the closed state.
func (e *Engine) SetOnClose(fn func(Position)) {
	e.mu.Lock()
	e.onClose = fn
	e.mu.Unlock()
}

// Pause stops new entries. Exit management keeps running.
func (e *Engine) Pause()  { e.paused.Store(true) }
// Resume re-enables new entries.
func (e *Engine) Resume() { e.paused.Store(false) }

// Run drives the signal and exit loops until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	log.Info().
		Dur("signal_interval", e.config.SignalInterval).
		Dur("price_interval", e.config.PriceInterval).
		Bool("dry_run", e.config.DryRun).
		Msg("trader: engine started")

	signalTicker := time.NewTicker(e.config.SignalInterval)
	priceTicker := time.NewTicker(e.config.PriceInterval)
	cleanupTicker := time.NewTicker(time.Minute)
	defer signalTicker.Stop()
	defer priceTicker.Stop()
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("trader: engine stopped")
			return
		case <-signalTicker.C:
			e.drainSignals(ctx)
		case <-priceTicker.C:
			e.evaluateExits(ctx)
		case <-cleanupTicker.C:
			e.queue.Cleanup(30 * time.Minute)
		}
	}
}

// drainSignals claims pending signals until the queue is empty or an entry
// is opened. One entry per cycle keeps sizing honest: the balance changes.
func (e *Engine) drainSignals(ctx context.Context) {
	for {
		sig, ok := e.queue.Claim()
		if !ok {
			return
		}
		opened := e.processSignal(ctx, sig)
		if opened {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// processSignal runs the entry gate and, if it passes, opens the position.
// Returns true when a position was opened.
func (e *Engine) processSignal(ctx context.Context, sig signal.Signal) bool {
	if e.paused.Load() {
		e.queue.Resolve(sig.ID, false)
		return false
	}

	// Gate check and balance reservation share one critical section, so the
	// position-count and duplicate-token reads cannot race a second entry.
	e.mu.Lock()
	openCount := len(e.byToken)
	_, hasToken := e.byToken[sig.Token]
	if err := e.config.Entry.CheckEntry(sig, openCount, hasToken); err != nil {
		e.mu.Unlock()
		e.rejected.Add(1)
		e.queue.Resolve(sig.ID, false)
		log.Debug().Str("token", sig.Token).Err(err).Msg("trader: signal rejected")
		return false
	}
	size := e.config.Entry.EntrySize(e.balance)
	if !size.IsPositive() {
		e.mu.Unlock()
		e.rejected.Add(1)
		e.queue.Resolve(sig.ID, false)
		return false
	}
	e.balance = e.balance.Sub(size)
	e.byToken[sig.Token] = "" // hold the token slot while the buy executes
	e.mu.Unlock()

	// Resolve the entry price before spending anything, so a dead price
	// feed aborts the entry instead of leaving an unpriced position.
	price, err := e.executor.TokenPrice(ctx, sig.Token)
	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price for %s", sig.Token)
	}
	if err != nil {
		e.refundEntry(sig.Token, size)
		e.execErrors.Add(1)
		e.queue.Resolve(sig.ID, false)
		log.Error().Str("token", sig.Token).Err(err).Msg("trader: entry price unavailable")
		return false
	}

	signature, err := e.executeBuy(ctx, sig.Token, size)
	if err != nil {
		e.refundEntry(sig.Token, size)
		e.execErrors.Add(1)
		e.queue.Resolve(sig.ID, false)
		log.Error().Str("token", sig.Token).Err(err).Msg("trader: buy failed")
		go e.notifier.Notify(context.Background(), notify.ErrorMessage("buy "+sig.Token, err))
		return false
	}

	now := time.Now()
	pos := &Position{
		ID:           uuid.NewString(),
		Token:        sig.Token,
		SourceWallet: sig.SourceWallet,
		SignalID:     sig.ID,
		EntryPrice:   price,
		EntrySOL:     size,
		AmountToken:  size.Div(price),
		CurrentPrice: price,
		RemainingPct: 100,
		State:        StateOpen,
		BuySignature: signature,
		OpenedAt:     now,
	}

	e.mu.Lock()
	e.positions[pos.ID] = pos
	e.byToken[pos.Token] = pos.ID
	e.mu.Unlock()

	e.entries.Add(1)
	e.queue.Resolve(sig.ID, true)
	log.Info().
		Str("position", pos.ID).
		Str("token", pos.Token).
		Str("source", pos.SourceWallet).
		Str("size_sol", size.StringFixed(4)).
		Msg("trader: position opened")
	go e.notifier.Notify(context.Background(), notify.EntryMessage(pos.Token, size, price, pos.SourceWallet))
	return true
}

// evaluateExits refreshes prices and runs the exit ladder on every active
// position.
func (e *Engine) evaluateExits(ctx context.Context) {
	e.mu.RLock()
	active := make([]*Position, 0, len(e.positions))
	for _, p := range e.positions {
		if p.Active() {
			active = append(active, p)
		}
	}
	e.mu.RUnlock()
	sort.Slice(active, func(i, j int) bool { return active[i].OpenedAt.Before(active[j].OpenedAt) })

	for _, pos := range active {
		if ctx.Err() != nil {
			return
		}
		price, err := e.executor.TokenPrice(ctx, pos.Token)
		if err != nil {
			log.Warn().Str("token", pos.Token).Err(err).Msg("trader: price fetch failed")
			continue
		}
		e.evaluatePosition(ctx, pos.ID, price, time.Now())
	}
}

// evaluatePosition updates the price, evaluates the exit chain and executes
// any resulting sell. A failed sell leaves the position in its prior state.
func (e *Engine) evaluatePosition(ctx context.Context, id string, price decimal.Decimal, now time.Time) {
	e.mu.Lock()
	pos, ok := e.positions[id]
	if !ok || !pos.Active() {
		e.mu.Unlock()
		return
	}
	pos.CurrentPrice = price
	decision := e.config.Exit.Evaluate(pos, now)
	if !decision.ShouldSell {
		e.mu.Unlock()
		return
	}
	sellTokens := pos.RemainingTokens().Mul(decimal.NewFromFloat(decision.SellPct / 100.0))
	e.mu.Unlock()

	signature, err := e.executeSell(ctx, pos.Token, decision.SellPct)
	if err != nil {
		e.execErrors.Add(1)
		log.Error().
			Str("position", id).
			Str("reason", decision.Reason).
			Err(err).
			Msg("trader: sell failed, position unchanged")
		go e.notifier.Notify(context.Background(), notify.ErrorMessage("sell "+pos.Token, err))
		return
	}

	proceeds := sellTokens.Mul(price)

	e.mu.Lock()
	pos.applySell(decision, proceeds, signature, now)
	e.balance = e.balance.Add(proceeds)
	closed := pos.State == StateClosed
	if closed {
		delete(e.byToken, pos.Token)
	}
	snapshot := *pos
	onClose := e.onClose
	e.mu.Unlock()

	e.exits.Add(1)
	log.Info().
		Str("position", id).
		Str("token", snapshot.Token).
		Str("reason", decision.Reason).
		Float64("sold_pct", decision.SellPct).
		Str("proceeds_sol", proceeds.StringFixed(4)).
		Msg("trader: exit executed")

	go e.notifier.Notify(context.Background(), notify.ExitMessage(snapshot.Token, decision.Reason, decision.SellPct, snapshot.RealizedPnLSOL, snapshot.RemainingPct))
	if closed {
		if snapshot.RealizedPnLSOL.IsPositive() {
			e.wins.Add(1)
		} else {
			e.losses.Add(1)
		}
		if onClose != nil {
			onClose(snapshot)
		}
	}
}

// refundEntry returns a reserved entry size to the balance and frees the
// token slot.
func (e *Engine) refundEntry(token string, size decimal.Decimal) {
	e.mu.Lock()
	e.balance = e.balance.Add(size)
	delete(e.byToken, token)
	e.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Swap execution with retry
// ---------------------------------------------------------------------------

func (e *Engine) executeBuy(ctx context.Context, token string, amountSOL decimal.Decimal) (string, error) {
	if e.config.DryRun {
		return "dry-run-buy", nil
	}
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		slippageBps := e.config.SlippageBps + (attempt-1)*e.config.SlippageBumpBps
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.ExecutionTimeout)
		sig, err := e.executor.ExecuteBuy(attemptCtx, token, amountSOL, slippageBps)
		cancel()
		if err == nil {
			return sig, nil
		}
		lastErr = err
		log.Warn().
			Str("token", token).
			Int("attempt", attempt).
			Int("slippage_bps", slippageBps).
			Err(err).
			Msg("trader: buy attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("buy %s after %d attempts: %w", token, e.config.MaxRetries, lastErr)
}

func (e *Engine) executeSell(ctx context.Context, token string, percent float64) (string, error) {
	if e.config.DryRun {
		return "dry-run-sell", nil
	}
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxRetries; attempt++ {
		slippageBps := e.config.SlippageBps + (attempt-1)*e.config.SlippageBumpBps
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.ExecutionTimeout)
		sig, err := e.executor.ExecuteSell(attemptCtx, token, percent, slippageBps)
		cancel()
		if err == nil {
			return sig, nil
		}
		lastErr = err
		log.Warn().
			Str("token", token).
			Int("attempt", attempt).
			Int("slippage_bps", slippageBps).
			Err(err).
			Msg("trader: sell attempt failed")
		if ctx.Err() != nil {
			break
		}
	}
	return "", fmt.Errorf("sell %s after %d attempts: %w", token, e.config.MaxRetries, lastErr)
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Positions returns copies of all tracked positions, open and closed,
// newest first.
func (e *Engine) Positions() []Position {
	e.mu.RLock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	return out
}

// OpenCount returns the number of active positions.
func (e *Engine) OpenCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.byToken)
}

// EngineStats is a snapshot of engine counters.
type EngineStats struct {
	Entries        int64  `json:"entries"`
	Exits          int64  `json:"exits"`
	Wins           int64  `json:"wins"`
	Losses         int64  `json:"losses"`
	Rejected       int64  `json:"rejected"`
	ExecErrors     int64  `json:"exec_errors"`
	OpenPositions  int    `json:"open_positions"`
	BalanceSOL     string `json:"balance_sol"`
	Paused         bool   `json:"paused"`
}

// Stats returns current counters.
func (e *Engine) Stats() EngineStats {
	e.mu.RLock()
	open := len(e.byToken)
	balance := e.balance
	e.mu.RUnlock()
	return EngineStats{
		Entries:       e.entries.Load(),
		Exits:         e.exits.Load(),
		Wins:          e.wins.Load(),
		Losses:        e.losses.Load(),
		Rejected:      e.rejected.Load(),
		ExecErrors:    e.execErrors.Load(),
		OpenPositions: open,
		BalanceSOL:    balance.StringFixed(4),
		Paused:        e.paused.Load(),
	}
}
