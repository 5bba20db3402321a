package provider

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Wallet activity stream — websocket push feed complementing the poll loop
// ---------------------------------------------------------------------------

// Activity is a push notification that a watched wallet transacted. It
// carries no trade detail; the monitor follows up over the gate-limited REST
// path, so the stream itself spends no credential budget.
type Activity struct {
	Wallet    string    `json:"wallet"`
	Signature string    `json:"signature"`
	Timestamp time.Time `json:"timestamp"`
}

// StreamConfig configures the websocket stream.
type StreamConfig struct {
	URL              string        `yaml:"url"`
	ReconnectBackoff time.Duration `yaml:"reconnect_backoff"`
	PingInterval     time.Duration `yaml:"ping_interval"`
}

// DefaultStreamConfig returns stream defaults.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectBackoff: 5 * time.Second,
		PingInterval:     30 * time.Second,
	}
}

// Stream subscribes to account activity for a set of wallets and emits
// Activity events. Reconnects forever with backoff until the context ends.
type Stream struct {
	config StreamConfig

	mu      sync.Mutex
	wallets []string
	conn    *websocket.Conn

	out chan Activity

	connected  atomic.Bool
	reconnects atomic.Int64
	received   atomic.Int64
}

// NewStream creates a wallet activity stream.
func NewStream(config StreamConfig) *Stream {
	if config.ReconnectBackoff <= 0 {
		config.ReconnectBackoff = DefaultStreamConfig().ReconnectBackoff
	}
	if config.PingInterval <= 0 {
		config.PingInterval = DefaultStreamConfig().PingInterval
	}
	return &Stream{
		config: config,
		out:    make(chan Activity, 256),
	}
}

// Events returns the activity channel. Closed when Run returns.
func (s *Stream) Events() <-chan Activity {
	return s.out
}

// SetWallets replaces the watched wallet set. Takes effect on the next
// (re)connect; the monitor calls this after every pool swap.
func (s *Stream) SetWallets(wallets []string) {
	s.mu.Lock()
	s.wallets = append([]string(nil), wallets...)
	conn := s.conn
	s.mu.Unlock()

	// Push the new subscription on the live connection too.
	if conn != nil {
		if err := s.sendSubscribe(conn); err != nil {
			log.Debug().Err(err).Msg("stream: resubscribe failed, will retry on reconnect")
		}
	}
}

// Run drives the connect/read loop. Blocks until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	defer close(s.out)

	if s.config.URL == "" {
		log.Info().Msg("stream: no websocket URL configured, push feed disabled")
		<-ctx.Done()
		return
	}

	for {
		if err := s.connectAndRead(ctx); err != nil {
			log.Warn().Err(err).Dur("backoff", s.config.ReconnectBackoff).
				Msg("stream: disconnected, reconnecting")
		}
		s.connected.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.config.ReconnectBackoff):
			s.reconnects.Add(1)
		}
	}
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.config.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}()

	if err := s.sendSubscribe(conn); err != nil {
		return err
	}
	s.connected.Store(true)
	log.Info().Str("url", s.config.URL).Msg("stream: connected")

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.config.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		var event struct {
			Wallet    string `json:"wallet"`
			Signature string `json:"signature"`
			Timestamp int64  `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &event); err != nil || event.Wallet == "" {
			continue
		}

		s.received.Add(1)
		activity := Activity{
			Wallet:    event.Wallet,
			Signature: event.Signature,
			Timestamp: time.Unix(event.Timestamp, 0).UTC(),
		}
		select {
		case s.out <- activity:
		default: // consumer is behind, drop rather than block the read loop
		}
	}
}

func (s *Stream) sendSubscribe(conn *websocket.Conn) error {
	s.mu.Lock()
	wallets := append([]string(nil), s.wallets...)
	s.mu.Unlock()

	msg := map[string]any{
		"method": "subscribe",
		"params": map[string]any{"wallets": wallets},
	}
	return conn.WriteJSON(msg)
}

// StreamStats reports stream counters.
type StreamStats struct {
	Connected  bool  `json:"connected"`
	Reconnects int64 `json:"reconnects"`
	Received   int64 `json:"received"`
}

func (s *Stream) Stats() StreamStats {
	return StreamStats{
		Connected:  s.connected.Load(),
		Reconnects: s.reconnects.Load(),
		Received:   s.received.Load(),
	}
}
