// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hedged_mm/internal/core"
	"hedged_mm/pkg/telemetry"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler handles incoming WebSocket messages
type MessageHandler func(message []byte)

// Client is a resilient WebSocket client. Reconnect delays grow
// exponentially and reset after every successful dial.
type Client struct {
	url     string
	handler MessageHandler
	boff    *backoff.ExponentialBackOff

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func() error

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	tracer      trace.Tracer
	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new WebSocket client bound to ctx.
func NewClient(ctx context.Context, url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(ctx)

	tracer := telemetry.GetTracer("ws-client")
	meter := telemetry.GetMeter("ws-client")

	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))
	latencyHist, _ := meter.Float64Histogram("ws_message_processing_latency_seconds",
		metric.WithDescription("Latency of processing WebSocket messages in seconds"))

	boff := backoff.NewExponentialBackOff()
	boff.InitialInterval = 500 * time.Millisecond
	boff.MaxInterval = 30 * time.Second
	boff.MaxElapsedTime = 0

	return &Client{
		url:          url,
		handler:      handler,
		boff:         boff,
		pingInterval: 30 * time.Second,
		pingWait:     10 * time.Second,
		pongWait:     60 * time.Second,
		ctx:          ctx,
		cancel:       cancel,
		tracer:       tracer,
		msgCounter:   msgCounter,
		connCounter:  connCounter,
		latencyHist:  latencyHist,
		logger:       logger,
	}
}

// SetPingConfig sets the ping/pong configuration
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetReconnectBackoff bounds the delay between reconnect attempts.
func (c *Client) SetReconnectBackoff(initial, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boff.InitialInterval = initial
	c.boff.MaxInterval = max
	c.boff.Reset()
}

// SetOnConnected sets the callback run after each successful dial, typically
// to (re)subscribe. A callback error drops the connection and triggers a reconnect.
func (c *Client) SetOnConnected(cb func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send sends a message over the WebSocket
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		c.logger.Warn("WebSocket client stop timed out", "url", c.url)
	}
}

// Done is closed once the client has been stopped or its parent context ended.
func (c *Client) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.connect()
		if err != nil {
			c.logger.Error("WebSocket connect failed", "url", c.url, "error", err)
			if !c.wait() {
				return
			}
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.boff.Reset()
		c.mu.Unlock()

		if onConnected != nil {
			if err := onConnected(); err != nil {
				c.logger.Error("WebSocket subscribe failed", "url", c.url, "error", err)
				c.closeConn()
				if !c.wait() {
					return
				}
				continue
			}
		}

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx)
		}

		c.readLoop(conn)
		heartbeatCancel()

		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("WebSocket connection lost, reconnecting", "url", c.url)
		if !c.wait() {
			return
		}
	}
}

// wait sleeps for the next backoff interval; false means the client is stopping.
func (c *Client) wait() bool {
	c.mu.Lock()
	d := c.boff.NextBackOff()
	c.mu.Unlock()
	if d == backoff.Stop {
		d = c.boff.MaxInterval
	}

	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait))
			}
			c.mu.Unlock()

			if conn == nil {
				return
			}
			if err != nil {
				// Closing unblocks the read loop, which reconnects.
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() (*websocket.Conn, error) {
	ctx, span := c.tracer.Start(c.ctx, "WS Connect",
		trace.WithAttributes(attribute.String("ws.url", c.url)),
	)
	defer span.End()

	c.connCounter.Add(ctx, 1)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pongWait := c.pongWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.conn = conn
	return conn, nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.closeConn()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		start := time.Now()
		c.msgCounter.Add(c.ctx, 1)

		if c.handler != nil {
			c.handler(message)
		}

		c.latencyHist.Record(c.ctx, time.Since(start).Seconds())
	}
}
