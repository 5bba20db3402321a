package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Telegram notifier — operator-facing alerts for signals and trades
// ---------------------------------------------------------------------------

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// Telegram delivers messages to a chat via the Bot API.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64

	sent   atomic.Int64
	failed atomic.Int64
}

// NewTelegram creates a Telegram notifier. Authenticates eagerly so a bad
// token surfaces at startup, not on the first alert.
func NewTelegram(config TelegramConfig) (*Telegram, error) {
	if config.BotToken == "" {
		return nil, fmt.Errorf("notify: empty telegram bot token")
	}
	if config.ChatID == 0 {
		return nil, fmt.Errorf("notify: telegram chat id not set")
	}

	bot, err := tgbotapi.NewBotAPI(config.BotToken)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram auth: %w", err)
	}

	log.Info().Str("bot", bot.Self.UserName).Msg("notify: telegram connected")
	return &Telegram{bot: bot, chatID: config.ChatID}, nil
}

// Notify sends one message. Fire-and-forget: errors are logged and counted.
func (t *Telegram) Notify(_ context.Context, message string) {
	msg := tgbotapi.NewMessage(t.chatID, message)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	if _, err := t.bot.Send(msg); err != nil {
		t.failed.Add(1)
		log.Warn().Err(err).Msg("notify: telegram send failed")
		return
	}
	t.sent.Add(1)
}

// NotifierStats reports delivery counters.
type NotifierStats struct {
	Sent   int64 `json:"sent"`
	Failed int64 `json:"failed"`
}

func (t *Telegram) Stats() NotifierStats {
	return NotifierStats{Sent: t.sent.Load(), Failed: t.failed.Load()}
}

// ---------------------------------------------------------------------------
// Message rendering
// ---------------------------------------------------------------------------

// StartupMessage announces the process coming up.
func StartupMessage(instance string, poolSize int) string {
	return fmt.Sprintf("🟢 <b>copyclaw online</b>\ninstance: %s\nqualified pool: %d wallets",
		instance, poolSize)
}

// SignalMessage renders an admitted buy signal.
func SignalMessage(sourceWallet, token string, amountSOL decimal.Decimal, tier string, liquidityUSD float64) string {
	return fmt.Sprintf(
		"📡 <b>Buy signal</b>\nwallet: <code>%s</code> (%s)\ntoken: <code>%s</code>\nbuy: %s SOL\nliquidity: $%.0f",
		shorten(sourceWallet), tier, shorten(token), amountSOL.StringFixed(3), liquidityUSD)
}

// EntryMessage renders a position entry.
func EntryMessage(token string, spentSOL, entryPrice decimal.Decimal, sourceWallet string) string {
	return fmt.Sprintf(
		"🟩 <b>Position opened</b>\ntoken: <code>%s</code>\nspent: %s SOL @ %s\ncopied from: <code>%s</code>",
		shorten(token), spentSOL.StringFixed(3), entryPrice.String(), shorten(sourceWallet))
}

// ExitMessage renders a partial or full exit.
func ExitMessage(token, reason string, soldPct float64, pnlSOL decimal.Decimal, remainingPct float64) string {
	icon := "🟥"
	if pnlSOL.IsPositive() {
		icon = "🟦"
	}
	return fmt.Sprintf(
		"%s <b>Exit: %s</b>\ntoken: <code>%s</code>\nsold: %.0f%%\npnl: %s SOL\nremaining: %.1f%%",
		icon, reason, shorten(token), soldPct, pnlSOL.StringFixed(4), remainingPct)
}

// ErrorMessage renders an execution failure for the operator.
func ErrorMessage(scope string, err error) string {
	return fmt.Sprintf("⚠️ <b>%s failed</b>\n<code>%v</code>\n%s",
		scope, err, time.Now().UTC().Format(time.RFC3339))
}

func shorten(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
