package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helioslabs/helios/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSConfig configures a WSSource.
type WSConfig struct {
	// Name is the venue identifier carried on every quote.
	Name string
	// URL is the websocket endpoint, e.g. "wss://stream.venue.example/ws".
	URL string
	// Symbols to subscribe to.
	Symbols []string
	// StaleAfter discards cached quotes older than this. Zero disables the
	// staleness check.
	StaleAfter time.Duration
}

type wsCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

type wsTicker struct {
	Type   string  `json:"type"`
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// WSSource maintains a streaming connection to a venue and serves the latest
// received price per symbol. FetchPrices never blocks on the network: it
// reads the in-memory table fed by the read loop, so the scanner's fan-out
// sees sub-millisecond latency from streaming venues.
type WSSource struct {
	cfg    WSConfig
	clock  domain.Clock
	logger *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.PriceQuote
}

var _ domain.MarketDataSource = (*WSSource)(nil)

// NewWSSource creates a streaming source. Run must be started for quotes to
// flow.
func NewWSSource(cfg WSConfig, clk domain.Clock, logger *slog.Logger) *WSSource {
	return &WSSource{
		cfg:    cfg,
		clock:  clk,
		logger: logger.With(slog.String("component", "venue_ws"), slog.String("venue", cfg.Name)),
		latest: make(map[string]domain.PriceQuote),
	}
}

// Name returns the venue identifier.
func (s *WSSource) Name() string { return s.cfg.Name }

// FetchPrices returns the latest streamed quote for each requested symbol.
// Symbols with no quote yet, or whose quote has gone stale, are omitted; if
// nothing at all is available the venue counts as disconnected.
func (s *WSSource) FetchPrices(_ context.Context, symbols []string) ([]domain.PriceQuote, error) {
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := make([]domain.PriceQuote, 0, len(symbols))
	for _, sym := range symbols {
		q, ok := s.latest[sym]
		if !ok {
			continue
		}
		if s.cfg.StaleAfter > 0 && now.Sub(q.ObservedAt) > s.cfg.StaleAfter {
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, fmt.Errorf("venue %s: no live quotes: %w", s.cfg.Name, domain.ErrWSDisconnect)
	}
	return quotes, nil
}

// Run connects, subscribes, and keeps the latest-quote table fed until ctx is
// cancelled. Disconnects trigger reconnection with exponential backoff.
func (s *WSSource) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("websocket disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (s *WSSource) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("venue %s: connect: %w", s.cfg.Name, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := wsCommand{Type: "subscribe", Channel: "ticker", Symbols: s.cfg.Symbols}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("venue %s: subscribe: %w", s.cfg.Name, err)
	}
	s.logger.Info("websocket subscribed", slog.Int("symbols", len(s.cfg.Symbols)))

	done := make(chan struct{})
	go s.pingLoop(ctx, conn, done)
	defer close(done)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("venue %s: read: %w", s.cfg.Name, err)
		}
		s.handleMessage(msg)
	}
}

func (s *WSSource) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *WSSource) handleMessage(msg []byte) {
	var tick wsTicker
	if err := json.Unmarshal(msg, &tick); err != nil {
		s.logger.Debug("unparseable message dropped", slog.String("error", err.Error()))
		return
	}
	if tick.Type != "ticker" || tick.Symbol == "" || tick.Price <= 0 {
		return
	}

	s.mu.Lock()
	s.latest[tick.Symbol] = domain.PriceQuote{
		Venue:      s.cfg.Name,
		Symbol:     tick.Symbol,
		Price:      tick.Price,
		ObservedAt: s.clock.Now(),
	}
	s.mu.Unlock()
}
