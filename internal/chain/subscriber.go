package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/logger"
)

// SubscriberConfig configures EventSubscriber behavior.
type SubscriberConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultSubscriberConfig returns default subscriber configuration.
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// EventHandler receives decoded chain events. Errors are logged, the stream
// continues.
type EventHandler func(ctx context.Context, ev *domain.ChainEvent) error

// EventSubscriber streams contract events from a websocket endpoint and
// hands them to a handler. It reconnects with exponential backoff and
// resubscribes after every reconnect.
type EventSubscriber struct {
	endpoint string
	config   SubscriberConfig
	handler  EventHandler
	log      *logger.Logger

	requestID atomic.Uint64
	connected atomic.Bool
	delivered atomic.Uint64
}

// NewEventSubscriber creates a subscriber. Call Run to start streaming.
func NewEventSubscriber(endpoint string, handler EventHandler, config *SubscriberConfig, log *logger.Logger) *EventSubscriber {
	cfg := DefaultSubscriberConfig()
	if config != nil {
		cfg = *config
	}
	return &EventSubscriber{
		endpoint: endpoint,
		config:   cfg,
		handler:  handler,
		log:      logger.OrNop(log),
	}
}

// Connected reports whether a subscription is currently live.
func (s *EventSubscriber) Connected() bool {
	return s.connected.Load()
}

// Delivered returns the number of events handed to the handler.
func (s *EventSubscriber) Delivered() uint64 {
	return s.delivered.Load()
}

// Run streams until ctx is done. It returns nil on cancellation.
func (s *EventSubscriber) Run(ctx context.Context) error {
	delay := s.config.ReconnectDelay

	for {
		delivered, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if delivered {
			// Reset delay after a session that delivered events
			delay = s.config.ReconnectDelay
		}
		s.log.Warn("chain event stream disconnected", "endpoint", s.endpoint, "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}

		// Exponential backoff
		delay *= 2
		if delay > s.config.MaxReconnectDelay {
			delay = s.config.MaxReconnectDelay
		}
	}
}

// session runs one connection from dial to the first read error and
// reports whether any event was delivered.
func (s *EventSubscriber) session(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(fn func() error) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		return fn()
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "assetEventsSubscribe",
		Params:  []any{map[string]string{"commitment": "finalized"}},
	}
	if err := write(func() error { return conn.WriteJSON(req) }); err != nil {
		return false, fmt.Errorf("write subscribe: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Close the connection on cancellation to unblock ReadMessage
	go func() {
		<-sessionCtx.Done()
		_ = write(func() error {
			return conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		})
		conn.Close()
	}()
	go s.pingLoop(sessionCtx, write, conn)

	defer s.connected.Store(false)
	delivered := false

	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return delivered, fmt.Errorf("read: %w", err)
		}
		if s.handleMessage(sessionCtx, req.ID, message) {
			delivered = true
		}
	}
}

// handleMessage processes one frame and reports whether it carried an event.
func (s *EventSubscriber) handleMessage(ctx context.Context, subscribeID uint64, message []byte) bool {
	var frame wsFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.log.Warn("undecodable chain event frame", "error", err)
		return false
	}

	switch {
	case frame.Error != nil:
		s.log.Error("chain event subscription error", "code", frame.Error.Code, "message", frame.Error.Message)
		return false
	case frame.ID == subscribeID && frame.Method == "":
		s.connected.Store(true)
		s.log.Info("chain event subscription confirmed", "endpoint", s.endpoint)
		return false
	case frame.Method != "assetEventNotification" || frame.Params == nil:
		return false
	}

	ev := frame.Params.Result
	s.delivered.Add(1)
	if err := s.handler(ctx, &ev); err != nil {
		s.log.Warn("chain event not applied",
			"asset_id", ev.AssetID, "block", ev.BlockNumber, "type", ev.Type, "error", err)
	}
	return true
}

// pingLoop sends periodic ping frames to keep connection alive.
func (s *EventSubscriber) pingLoop(ctx context.Context, write func(func() error) error, conn *websocket.Conn) {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A dead connection surfaces as a read error
			_ = write(func() error { return conn.WriteMessage(websocket.PingMessage, nil) })
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type wsFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Params  *wsParams       `json:"params,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type wsParams struct {
	Subscription int64             `json:"subscription"`
	Result       domain.ChainEvent `json:"result"`
}
