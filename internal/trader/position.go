package trader

import (
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Position — one copy-trade, from entry to fully closed
// ---------------------------------------------------------------------------

// State machine: Pending -> Open -> PartiallyClosed -> Closed (terminal).
type State string

const (
	StatePending         State = "PENDING"
	StateOpen            State = "OPEN"
	StatePartiallyClosed State = "PARTIALLY_CLOSED"
	StateClosed          State = "CLOSED"
)

// closeDustPct: below this remaining share the position counts as closed.
const closeDustPct = 0.5

// Position is an open or closed copy-trade. Owned exclusively by the engine
// until closed; retained afterwards as history.
type Position struct {
	ID           string `json:"id"`
	Token        string `json:"token"`
	SourceWallet string `json:"source_wallet"`
	SignalID     string `json:"signal_id"`

	EntryPrice   decimal.Decimal `json:"entry_price"`  // SOL per token
	EntrySOL     decimal.Decimal `json:"entry_sol"`    // SOL spent at entry
	AmountToken  decimal.Decimal `json:"amount_token"` // original token amount
	CurrentPrice decimal.Decimal `json:"current_price"`
	RemainingPct float64         `json:"remaining_percent"` // 100 -> 0

	State State `json:"state"`

	// Edge-triggered exit flags. Set once, never re-derived from price
	// history, so each threshold fires at most once per position.
	TP1Fired bool `json:"tp1_fired"`
	TP2Fired bool `json:"tp2_fired"`

	// Stagnation tracking for the post-TP2 runner.
	StagnationAnchor decimal.Decimal `json:"stagnation_anchor"`
	StagnationSince  time.Time       `json:"stagnation_since"`

	RealizedSOL    decimal.Decimal `json:"realized_sol"`     // sell proceeds so far
	RealizedPnLSOL decimal.Decimal `json:"realized_pnl_sol"` // proceeds minus cost basis sold

	BuySignature   string   `json:"buy_signature"`
	SellSignatures []string `json:"sell_signatures,omitempty"`

	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
}

// Active reports whether exit evaluation still applies.
func (p *Position) Active() bool {
	return p.State == StateOpen || p.State == StatePartiallyClosed
}

// RemainingTokens is the token amount still held.
func (p *Position) RemainingTokens() decimal.Decimal {
	return p.AmountToken.Mul(decimal.NewFromFloat(p.RemainingPct / 100.0))
}

// UnrealizedPnLSOL values the remainder at the current price against its
// share of the cost basis.
func (p *Position) UnrealizedPnLSOL() decimal.Decimal {
	if !p.Active() {
		return decimal.Zero
	}
	remaining := decimal.NewFromFloat(p.RemainingPct / 100.0)
	value := p.RemainingTokens().Mul(p.CurrentPrice)
	basis := p.EntrySOL.Mul(remaining)
	return value.Sub(basis)
}

// applySell records a confirmed sell: proceeds, remaining share, flags and
// state transitions. Called only after the swap succeeded; a failed swap
// never advances the state machine.
func (p *Position) applySell(decision ExitDecision, proceedsSOL decimal.Decimal, signature string, now time.Time) {
	soldFraction := decision.SellPct / 100.0                   // of remaining
	soldOfOriginal := p.RemainingPct / 100.0 * soldFraction    // of original
	basisSold := p.EntrySOL.Mul(decimal.NewFromFloat(soldOfOriginal))

	p.RealizedSOL = p.RealizedSOL.Add(proceedsSOL)
	p.RealizedPnLSOL = p.RealizedPnLSOL.Add(proceedsSOL.Sub(basisSold))
	if signature != "" {
		p.SellSignatures = append(p.SellSignatures, signature)
	}

	switch decision.Reason {
	case ReasonTakeProfit1:
		p.TP1Fired = true
	case ReasonTakeProfit2:
		p.TP2Fired = true
		// Anchor the stagnation watch at the post-TP2 price.
		p.StagnationAnchor = p.CurrentPrice
		p.StagnationSince = now
	}

	if decision.IsFullClose {
		p.RemainingPct = 0
	} else {
		p.RemainingPct *= 1 - soldFraction
	}

	if p.RemainingPct < closeDustPct {
		p.RemainingPct = 0
		p.State = StateClosed
		p.CloseReason = decision.Reason
		closedAt := now
		p.ClosedAt = &closedAt
		return
	}
	p.State = StatePartiallyClosed
}
