package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ledger-payment-stats/internal/domain"
	"ledger-payment-stats/internal/observability"
)

// Sink receives parsed payment events. The aggregator satisfies it.
type Sink interface {
	Enqueue(ev domain.PaymentEvent)
}

// StreamConfig configures the websocket stream client.
type StreamConfig struct {
	// Endpoint is the ws:// or wss:// URL of a ledger node.
	Endpoint string
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the exponential backoff.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for ping frames.
	PingInterval time.Duration
	// ReadTimeout bounds the silence tolerated between frames.
	ReadTimeout time.Duration
	// WriteTimeout bounds each write.
	WriteTimeout time.Duration
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
}

// DefaultStreamConfig returns defaults for endpoint.
func DefaultStreamConfig(endpoint string) StreamConfig {
	return StreamConfig{
		Endpoint:          endpoint,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// subscribeRequest is the ledger node's subscribe command.
type subscribeRequest struct {
	ID      uint64   `json:"id"`
	Command string   `json:"command"`
	Streams []string `json:"streams"`
}

// Stream subscribes to the validated transaction stream and forwards every
// payment to a Sink, once per participant.
type Stream struct {
	cfg    StreamConfig
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	sessions int
}

// NewStream creates a stream client. Zero durations in cfg take defaults.
func NewStream(cfg StreamConfig, sink Sink, logger *slog.Logger) (*Stream, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("stream endpoint is required")
	}
	if sink == nil {
		return nil, errors.New("stream sink is required")
	}
	def := DefaultStreamConfig(cfg.Endpoint)
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("component", "ledger_stream", "endpoint", cfg.Endpoint),
	}, nil
}

// Sessions returns how many subscriptions were established so far.
func (s *Stream) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// Run connects, subscribes and forwards payments until ctx is canceled,
// reconnecting with exponential backoff after any failure.
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectDelay

	for {
		subscribed, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if subscribed {
			delay = s.cfg.ReconnectDelay
		}
		s.logger.Warn("stream disconnected", "err", err, "retry_in", delay)
		observability.RecordStreamReconnect()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection. subscribed reports whether the node
// acknowledged the subscription before the connection ended.
func (s *Stream) session(ctx context.Context) (subscribed bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.cfg.Endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		conn.Close()
		wg.Wait()
	}()

	// Unblock ReadMessage on cancellation.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	req := subscribeRequest{ID: 1, Command: "subscribe", Streams: []string{"transactions"}}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return false, fmt.Errorf("send subscribe: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.pingLoop(conn, done)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return subscribed, fmt.Errorf("websocket read: %w", err)
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))

		ack, err := s.handleMessage(data)
		if err != nil {
			return subscribed, err
		}
		if ack && !subscribed {
			subscribed = true
			s.mu.Lock()
			s.sessions++
			s.mu.Unlock()
			s.logger.Info("subscribed to transaction stream")
		}
	}
}

// pingLoop sends control pings until done is closed. WriteControl is safe
// alongside the reader.
func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

// handleMessage processes one frame. It returns ack=true for a successful
// subscribe response and an error only when the node rejects the subscription.
func (s *Stream) handleMessage(data []byte) (ack bool, err error) {
	var head struct {
		Type   string `json:"type"`
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		observability.RecordStreamMessage("malformed")
		s.logger.Warn("undecodable stream frame", "err", err)
		return false, nil
	}

	switch head.Type {
	case "response":
		if head.Status != "success" {
			return false, fmt.Errorf("subscribe rejected: %s", head.Error)
		}
		return true, nil
	case "transaction":
	default:
		observability.RecordStreamMessage("ignored")
		return false, nil
	}

	events, ok, err := ParsePayment(data)
	switch {
	case err != nil:
		observability.RecordStreamMessage("malformed")
		s.logger.Warn("skipping malformed payment", "err", err)
	case !ok:
		observability.RecordStreamMessage("ignored")
	default:
		observability.RecordStreamMessage("payment")
		for _, ev := range events {
			s.sink.Enqueue(ev)
		}
	}
	return false, nil
}
