package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hedged_mm/pkg/logging"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClient_Heartbeat(t *testing.T) {
	var pings int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.SetPingHandler(func(string) error {
			atomic.AddInt32(&pings, 1)
			return conn.WriteControl(websocket.PongMessage, []byte{}, time.Now().Add(time.Second))
		})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	logger, _ := logging.NewZapLogger("DEBUG")
	client := NewClient(context.Background(), wsURL(server), nil, logger)
	client.SetPingConfig(100*time.Millisecond, 50*time.Millisecond, 200*time.Millisecond)
	client.SetReconnectBackoff(10*time.Millisecond, 50*time.Millisecond)

	client.Start()
	defer client.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&pings) >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestClient_SubscribesAndDeliversMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"stream":"account.orderUpdate.SOL_USDC_PERP"}`))

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}))
	defer server.Close()

	logger, _ := logging.NewZapLogger("DEBUG")
	received := make(chan []byte, 1)
	client := NewClient(context.Background(), wsURL(server), func(message []byte) {
		received <- message
	}, logger)
	client.SetOnConnected(func() error {
		return client.Send(map[string]interface{}{"method": "SUBSCRIBE"})
	})

	client.Start()
	defer client.Stop()

	select {
	case msg := <-subscribed:
		assert.Equal(t, "SUBSCRIBE", msg["method"])
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not sent")
	}

	select {
	case msg := <-received:
		assert.Contains(t, string(msg), "orderUpdate")
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	var connections int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&connections, 1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		// Drop immediately.
		conn.Close()
	}))
	defer server.Close()

	logger, _ := logging.NewZapLogger("DEBUG")
	client := NewClient(context.Background(), wsURL(server), nil, logger)
	client.SetPingConfig(0, 0, time.Second)
	client.SetReconnectBackoff(10*time.Millisecond, 20*time.Millisecond)

	client.Start()
	defer client.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&connections) >= 3
	}, 3*time.Second, 20*time.Millisecond)
}

func TestClient_SendWithoutConnection(t *testing.T) {
	logger, _ := logging.NewZapLogger("DEBUG")
	client := NewClient(context.Background(), "ws://127.0.0.1:1", nil, logger)
	require.Error(t, client.Send(map[string]string{"a": "b"}))
}

func TestClient_StopsWithParentContext(t *testing.T) {
	logger, _ := logging.NewZapLogger("DEBUG")
	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(ctx, "ws://127.0.0.1:1", nil, logger)
	client.SetReconnectBackoff(10*time.Millisecond, 20*time.Millisecond)
	client.Start()

	cancel()
	select {
	case <-client.Done():
	case <-time.After(time.Second):
		t.Fatal("client did not observe cancellation")
	}
	client.Stop()
}
