package wshub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 10 * time.Second

	keepAliveGraceMs = 15_000
	idleDisconnectMs = 30_000

	backpressureThresholdBytes = 512 * 1024
	backpressureRetryDelay     = 100 * time.Millisecond
	backpressureMaxRetries     = 5
	backpressureCloseCode      = 1013
)

// Connection is one OPEN WebSocket client, adapted from the teacher pack's
// Watchdog realtime.Client (gorilla read/write pump split) generalized to
// the gateway's subscribe/filter/backpressure model.
type Connection struct {
	ID        string
	Auth      *authn.AuthContext
	IP        string
	UserAgent string

	conn *websocket.Conn
	hub  *Hub

	mu                  sync.Mutex
	subscriptions       map[string]*Subscription
	subscriptionCounter int

	lastActivity  atomic.Int64 // unix millis
	bufferedBytes atomic.Int64
	bpAttempts    atomic.Int32

	send      chan []byte
	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConnection(conn *websocket.Conn, hub *Hub, auth *authn.AuthContext, ip, ua string) *Connection {
	c := &Connection{
		ID:            uuid.NewString(),
		Auth:          auth,
		IP:            ip,
		UserAgent:     ua,
		conn:          conn,
		hub:           hub,
		subscriptions: make(map[string]*Subscription),
		send:          make(chan []byte, 256),
		closeCh:       make(chan struct{}),
	}
	c.touch()
	return c
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixMilli())
}

func (c *Connection) idleMillis() int64 {
	return time.Now().UnixMilli() - c.lastActivity.Load()
}

// Start launches the read and write pumps.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Send enqueues frame for delivery, applying the backpressure policy: above
// the buffered threshold it emits a throttled control frame and retries up
// to backpressureMaxRetries times before closing with code 1013.
func (c *Connection) Send(frame []byte) bool {
	for {
		buffered := c.bufferedBytes.Load()
		if buffered <= backpressureThresholdBytes {
			break
		}
		attempts := c.bpAttempts.Add(1)
		c.enqueueControl(throttledFrame(buffered, backpressureThresholdBytes, int(backpressureRetryDelay.Milliseconds()), int(attempts)))
		c.hub.emitBackpressureHint(c.ID, buffered)
		if attempts > backpressureMaxRetries {
			c.CloseWithCode(backpressureCloseCode, "Backpressure threshold exceeded")
			return false
		}
		time.Sleep(backpressureRetryDelay)
	}

	c.bpAttempts.Store(0)
	select {
	case c.send <- frame:
		c.bufferedBytes.Add(int64(len(frame)))
		return true
	case <-c.closeCh:
		return false
	}
}

func (c *Connection) enqueueControl(v map[string]any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- b:
		c.bufferedBytes.Add(int64(len(b)))
	case <-c.closeCh:
	default:
		log.Warn().Str("connectionId", c.ID).Msg("wshub: dropped control frame, send buffer full")
	}
}

// Close closes the connection with the default 1001 shutdown code.
func (c *Connection) Close() {
	c.CloseWithCode(websocket.CloseGoingAway, "")
}

// CloseWithCode closes the connection, writing a close frame with code.
func (c *Connection) CloseWithCode(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = c.conn.Close()
	})
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(1 << 20)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.touch()

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.enqueueControl(errorFrame("", "INVALID_MESSAGE", "malformed json frame"))
			continue
		}
		c.hub.handleClientMessage(c, &msg)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			c.bufferedBytes.Add(-int64(len(frame)))
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			if c.idleMillis() > idleDisconnectMs {
				return
			}
			if c.idleMillis() > keepAliveGraceMs {
				_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}

		case <-c.closeCh:
			return
		}
	}
}

// SendShutdown writes the shutdown control frame, used during Hub.Shutdown.
func (c *Connection) SendShutdown() {
	c.enqueueControl(shutdownFrame())
}
