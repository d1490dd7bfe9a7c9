package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agri-token-ledger/internal/domain"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// eventServer confirms the subscription and pushes one event per connection.
func eventServer(t *testing.T, connections *atomic.Int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer c.Close()
		n := connections.Add(1)

		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}
		var req wsRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}
		if req.Method != "assetEventsSubscribe" {
			t.Errorf("expected assetEventsSubscribe, got %s", req.Method)
		}

		c.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": 7})
		c.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "assetEventNotification",
			"params": map[string]any{
				"subscription": 7,
				"result": domain.ChainEvent{
					Type:        domain.EventAssetTokenized,
					AssetID:     "asset-1",
					BlockNumber: uint64(100 * n),
					Payload:     json.RawMessage(`{"owner":"alice"}`),
				},
			},
		})

		// First connection drops after the event to force a reconnect
		if n == 1 {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

func TestEventSubscriber_DeliversAndReconnects(t *testing.T) {
	var connections atomic.Int32
	server := eventServer(t, &connections)
	defer server.Close()

	events := make(chan *domain.ChainEvent, 4)
	handler := func(_ context.Context, ev *domain.ChainEvent) error {
		events <- ev
		return nil
	}

	cfg := DefaultSubscriberConfig()
	cfg.ReconnectDelay = 10 * time.Millisecond
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	sub := NewEventSubscriber(wsURL, handler, &cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx) }()

	var blocks []uint64
	for len(blocks) < 2 {
		select {
		case ev := <-events:
			blocks = append(blocks, ev.BlockNumber)
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for events, got %v", blocks)
		}
	}
	if blocks[0] != 100 || blocks[1] != 200 {
		t.Errorf("unexpected blocks %v", blocks)
	}
	if connections.Load() < 2 {
		t.Errorf("expected reconnect, got %d connections", connections.Load())
	}
	if sub.Delivered() < 2 {
		t.Errorf("expected at least 2 delivered, got %d", sub.Delivered())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
