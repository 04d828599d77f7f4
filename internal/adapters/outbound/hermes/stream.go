package hermes

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/archon-research/paymaster-oracle/internal/domain/entity"
)

// Default configuration values for reconnection.
const (
	defaultInitialBackoff    = 1 * time.Second
	defaultMaxBackoff        = 60 * time.Second
	defaultBackoffFactor     = 2.0
	defaultPingInterval      = 30 * time.Second
	defaultPongTimeout       = 10 * time.Second
	defaultReadTimeout       = 60 * time.Second
	defaultChannelBufferSize = 100
)

// StreamConfig holds the configuration for the Hermes WebSocket stream.
type StreamConfig struct {
	// WebSocketURL is the Hermes WebSocket endpoint URL.
	// Example: wss://hermes.pyth.network/ws
	WebSocketURL string

	// FeedIDs are the feeds to subscribe to. At least one is required.
	FeedIDs [][32]byte

	// InitialBackoff is the initial delay before reconnecting after a disconnect.
	// Defaults to 1 second if not set.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum delay between reconnection attempts.
	// Defaults to 60 seconds if not set.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied to backoff after each failed attempt.
	// Defaults to 2.0 if not set.
	BackoffFactor float64

	// PingInterval is how often to send ping messages to keep the connection alive.
	// Defaults to 30 seconds if not set.
	PingInterval time.Duration

	// PongTimeout is how long to wait for a pong before considering the connection dead.
	// Defaults to 10 seconds if not set.
	PongTimeout time.Duration

	// ReadTimeout is the maximum time to wait for a message before reconnecting.
	// Defaults to 60 seconds if not set.
	ReadTimeout time.Duration

	// ChannelBufferSize is the size of the update channel buffer.
	// Defaults to 100 if not set. Helps with backpressure.
	ChannelBufferSize int

	// Logger is the structured logger for the stream.
	// If not set, a default logger will be used.
	Logger *slog.Logger
}

// Validate checks that all required configuration fields are set.
func (c *StreamConfig) Validate() error {
	if c.WebSocketURL == "" {
		return errors.New("WebSocketURL is required")
	}
	if len(c.FeedIDs) == 0 {
		return errors.New("at least one feed ID is required")
	}
	return nil
}

// applyDefaults sets default values for unset configuration fields.
func (c *StreamConfig) applyDefaults() {
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaultInitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = defaultBackoffFactor
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = defaultPongTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.ChannelBufferSize == 0 {
		c.ChannelBufferSize = defaultChannelBufferSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// StreamUpdate is one quote delivered by the stream, with the signed
// payload that produced it when the server includes one.
type StreamUpdate struct {
	FeedID     [32]byte
	Quote      entity.PriceQuote
	UpdateData [][]byte
}

// Stream subscribes to live price updates over a Hermes WebSocket with
// automatic reconnection.
type Stream struct {
	config StreamConfig

	mu     sync.RWMutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	done    chan struct{}
	updates chan StreamUpdate

	// feed IDs indexed by lowercase hex for routing incoming messages
	feedIndex map[string][32]byte
}

// NewStream creates a new Hermes WebSocket stream with automatic reconnection.
func NewStream(config StreamConfig) (*Stream, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	config.applyDefaults()

	feedIndex := make(map[string][32]byte, len(config.FeedIDs))
	for _, id := range config.FeedIDs {
		feedIndex[hex.EncodeToString(id[:])] = id
	}

	return &Stream{
		config:    config,
		done:      make(chan struct{}),
		updates:   make(chan StreamUpdate, config.ChannelBufferSize),
		feedIndex: feedIndex,
	}, nil
}

// Subscribe starts listening for price updates on the configured feeds.
// The subscription automatically reconnects if the connection is lost.
func (s *Stream) Subscribe(ctx context.Context) (<-chan StreamUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("stream is closed")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	go s.connectionManager()

	return s.updates, nil
}

// Close stops the stream and releases the connection. Safe to call more
// than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.cancel != nil {
		s.cancel()
	}
	s.closeConnectionLocked()
	return nil
}

// connectionManager manages the WebSocket connection with automatic reconnection.
func (s *Stream) connectionManager() {
	backoff := s.config.InitialBackoff
	logger := s.config.Logger.With("component", "hermes-stream")

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		default:
		}

		err := s.connectAndSubscribe()
		if err != nil {
			logger.Warn("failed to connect", "error", err, "backoff", backoff)

			select {
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff = time.Duration(float64(backoff) * s.config.BackoffFactor)
			if backoff > s.config.MaxBackoff {
				backoff = s.config.MaxBackoff
			}
			continue
		}

		backoff = s.config.InitialBackoff
		logger.Info("connected to Hermes WebSocket", "feeds", len(s.config.FeedIDs))

		s.readLoop(logger)

		logger.Warn("WebSocket connection lost, reconnecting...")
	}
}

// subscribeRequest is the Hermes subscription message.
type subscribeRequest struct {
	Type   string   `json:"type"`
	IDs    []string `json:"ids"`
	Binary bool     `json:"binary"`
}

// streamEnvelope wraps every message on the Hermes WebSocket.
type streamEnvelope struct {
	Type      string       `json:"type"`
	PriceFeed *parsedPrice `json:"price_feed,omitempty"`
	Binary    binaryUpdate `json:"binary,omitempty"`
	Status    string       `json:"status,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// connectAndSubscribe establishes the WebSocket connection and subscribes
// to the configured feeds.
func (s *Stream) connectAndSubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(s.ctx, s.config.WebSocketURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to Hermes WebSocket: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set read deadline: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	ids := make([]string, 0, len(s.config.FeedIDs))
	for _, id := range s.config.FeedIDs {
		ids = append(ids, hex.EncodeToString(id[:]))
	}

	req := subscribeRequest{Type: "subscribe", IDs: ids, Binary: true}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send subscription request: %w", err)
	}

	var response streamEnvelope
	if err := conn.ReadJSON(&response); err != nil {
		conn.Close()
		return fmt.Errorf("failed to read subscription response: %w", err)
	}
	if response.Type == "response" && response.Status != "success" {
		conn.Close()
		return fmt.Errorf("subscription failed: %s", response.Error)
	}

	s.conn = conn
	return nil
}

// readLoop continuously reads price updates from the WebSocket connection.
// It also sends periodic pings to keep the connection alive.
func (s *Stream) readLoop(logger *slog.Logger) {
	pingTicker := time.NewTicker(s.config.PingInterval)
	defer pingTicker.Stop()

	readErr := make(chan error, 1)
	updateChan := make(chan StreamUpdate, 10)

	go func() {
		for {
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()

			if conn == nil {
				readErr <- errors.New("connection is nil")
				return
			}

			if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
				readErr <- fmt.Errorf("failed to set read deadline: %w", err)
				return
			}

			var envelope streamEnvelope
			if err := conn.ReadJSON(&envelope); err != nil {
				readErr <- err
				return
			}

			if envelope.Type != "price_update" || envelope.PriceFeed == nil {
				continue
			}

			update, err := s.buildUpdate(envelope)
			if err != nil {
				logger.Warn("failed to parse price update", "error", err)
				continue
			}
			if update == nil {
				// Update for a feed we did not subscribe to
				continue
			}

			select {
			case updateChan <- *update:
			case <-s.done:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-s.done:
			s.closeConnection()
			return
		case <-s.ctx.Done():
			s.closeConnection()
			return
		case err := <-readErr:
			logger.Warn("read error", "error", err)
			s.closeConnection()
			return
		case update := <-updateChan:
			// Forward to consumer channel with backpressure handling
			select {
			case s.updates <- update:
				logger.Debug("price update forwarded",
					"feed", hex.EncodeToString(update.FeedID[:8]),
					"price", update.Quote.Price,
					"publishTime", update.Quote.PublishTime,
				)
			default:
				logger.Warn("update channel full, dropping price update",
					"feed", hex.EncodeToString(update.FeedID[:8]),
				)
			}
		case <-pingTicker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()

			if conn != nil {
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.config.PongTimeout)); err != nil {
					logger.Warn("ping failed", "error", err)
					s.closeConnection()
					return
				}
			}
		}
	}
}

// buildUpdate converts a stream envelope into a StreamUpdate. Returns nil
// when the message is for a feed this stream did not subscribe to.
func (s *Stream) buildUpdate(envelope streamEnvelope) (*StreamUpdate, error) {
	key := strings.ToLower(strings.TrimPrefix(envelope.PriceFeed.ID, "0x"))
	feedID, ok := s.feedIndex[key]
	if !ok {
		return nil, nil
	}

	quote, err := envelope.PriceFeed.Price.toQuote()
	if err != nil {
		return nil, err
	}

	var payloads [][]byte
	for _, encoded := range envelope.Binary.Data {
		data, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
		if err != nil {
			return nil, fmt.Errorf("decoding update payload: %w", err)
		}
		payloads = append(payloads, data)
	}

	return &StreamUpdate{FeedID: feedID, Quote: quote, UpdateData: payloads}, nil
}

func (s *Stream) closeConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeConnectionLocked()
}

func (s *Stream) closeConnectionLocked() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
