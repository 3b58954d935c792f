// Package wshub implements the gateway's WebSocket Hub: upgrade handling on
// /ws, per-connection subscriptions, filter matching, backpressure, and
// keepalive, grounded on the teacher pack's Watchdog realtime.Hub
// (channel-free, mutex-guarded registry variant) since the teacher itself
// only carries SSE stubs.
package wshub

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Amicidal/sigmachad-gatewaycore/internal/authn"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/authz"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/eventbus"
	"github.com/Amicidal/sigmachad-gatewaycore/internal/scopes"
)

// upgradeRequirement is the fixed scope requirement for the /ws path, per
// spec §4.I.
var upgradeRequirement = &scopes.Requirement{Scopes: []string{"graph:read"}, Mode: "all"}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns the set of OPEN connections. There is no topic-to-connections
// index: Notify scans every connection's subscriptions.
type Hub struct {
	resolver *authn.Resolver
	gate     *authz.Gate
	bus      *eventbus.Bus

	mu          sync.RWMutex
	connections map[string]*Connection

	sweepStop chan struct{}
}

// NewHub builds a Hub wired to resolver/gate for the upgrade path and bus
// for event delivery, and starts its 30-second idle sweeper.
func NewHub(resolver *authn.Resolver, gate *authz.Gate, bus *eventbus.Bus) *Hub {
	h := &Hub{
		resolver:    resolver,
		gate:        gate,
		bus:         bus,
		connections: make(map[string]*Connection),
		sweepStop:   make(chan struct{}),
	}
	bus.AddSubscriber(h)
	go h.sweepLoop()
	return h
}

// ServeHTTP handles GET /ws: a non-upgrade request gets 426; otherwise the
// connection is authenticated, authorized against the fixed requirement,
// and upgraded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusUpgradeRequired)
		_, _ = w.Write([]byte(`{"error":"Upgrade Required"}`))
		return
	}

	ip := clientIP(r)
	ctx := h.resolver.Resolve(r, authn.Audit{IP: ip, UserAgent: r.Header.Get("User-Agent")})
	outcome := h.gate.Evaluate(ctx, upgradeRequirement, r.URL.Path)
	if !outcome.Granted {
		w.Header().Set("Connection", "close")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"` + outcome.Code + `"}`))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("wshub: upgrade failed")
		return
	}

	c := newConnection(conn, h, ctx, ip, r.Header.Get("User-Agent"))
	h.register(c)
	c.Start()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Hub) register(c *Connection) {
	h.mu.Lock()
	h.connections[c.ID] = c
	count := len(h.connections)
	h.mu.Unlock()
	log.Info().Str("connectionId", c.ID).Int("total", count).Msg("wshub: connection opened")
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c.ID)
	count := len(h.connections)
	h.mu.Unlock()
	log.Info().Str("connectionId", c.ID).Int("total", count).Msg("wshub: connection closed")
}

// ConnectionCount returns the number of OPEN connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// handleClientMessage dispatches one inbound frame per spec §4.I.
func (h *Hub) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Type {
	case "subscribe":
		h.handleSubscribe(c, msg)
	case "unsubscribe":
		h.handleUnsubscribe(c, msg)
	case "unsubscribe_all":
		h.handleUnsubscribeAll(c)
	case "ping":
		c.enqueueControl(pongFrame(time.Now().UnixMilli()))
	case "list_subscriptions":
		h.handleListSubscriptions(c)
	default:
		c.enqueueControl(errorFrame("", "UNKNOWN_MESSAGE_TYPE", "unknown message type: "+msg.Type))
	}
}

func (h *Hub) handleSubscribe(c *Connection, msg *ClientMessage) {
	event := msg.EventName()
	if event == "" {
		c.enqueueControl(errorFrame("", "INVALID_SUBSCRIPTION", "event is required"))
		return
	}

	raw, err := ParseRawFilter(msg.Filter)
	if err != nil {
		c.enqueueControl(errorFrame("", "INVALID_SUBSCRIPTION", "malformed filter"))
		return
	}

	c.mu.Lock()
	id := msg.SubscriptionID
	if id == "" {
		c.subscriptionCounter++
		id = "sub-" + strconv.Itoa(c.subscriptionCounter)
	}
	c.subscriptions[id] = &Subscription{ID: id, Event: event, Raw: raw, Filter: NormalizeFilter(raw)}
	sub := c.subscriptions[id]
	c.mu.Unlock()

	c.enqueueControl(subscribedFrame(id, event, raw))

	if last, ok := h.bus.LastEvent(eventbus.EventType(event)); ok {
		if MatchesEvent(sub.Filter, string(last.Type), last.Data) {
			h.deliver(c, last)
		}
	}
}

func (h *Hub) handleUnsubscribe(c *Connection, msg *ClientMessage) {
	c.mu.Lock()
	removed := 0
	if msg.SubscriptionID != "" {
		if _, ok := c.subscriptions[msg.SubscriptionID]; ok {
			delete(c.subscriptions, msg.SubscriptionID)
			removed = 1
		}
	} else if event := msg.EventName(); event != "" {
		for id, s := range c.subscriptions {
			if s.Event == event {
				delete(c.subscriptions, id)
				removed++
			}
		}
	}
	total := len(c.subscriptions)
	c.mu.Unlock()
	c.enqueueControl(unsubscribedFrame(removed, total))
}

func (h *Hub) handleUnsubscribeAll(c *Connection) {
	c.mu.Lock()
	removed := len(c.subscriptions)
	c.subscriptions = make(map[string]*Subscription)
	c.mu.Unlock()
	c.enqueueControl(unsubscribedFrame(removed, 0))
}

func (h *Hub) handleListSubscriptions(c *Connection) {
	c.mu.Lock()
	events := make([]string, 0, len(c.subscriptions))
	details := make([]map[string]any, 0, len(c.subscriptions))
	for _, s := range c.subscriptions {
		events = append(events, s.Event)
		details = append(details, map[string]any{"id": s.ID, "event": s.Event, "filter": s.Raw})
	}
	c.mu.Unlock()
	c.enqueueControl(subscriptionsFrame(events, details))
}

// Notify implements eventbus.Subscriber: fan an emitted event out to every
// subscription across every connection whose filter matches.
func (h *Hub) Notify(topic eventbus.EventType, evt eventbus.Event) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.mu.Lock()
		var matched []*Subscription
		for _, s := range c.subscriptions {
			if s.Event == string(topic) && MatchesEvent(s.Filter, string(topic), evt.Data) {
				matched = append(matched, s)
			}
		}
		c.mu.Unlock()
		if len(matched) > 0 {
			h.deliver(c, evt)
		}
	}
}

func (h *Hub) deliver(c *Connection, evt eventbus.Event) {
	payload := relocateEntityType(string(evt.Type), evt.Data)
	payload["type"] = payload["innerType"]
	if payload["type"] == nil {
		payload["type"] = string(evt.Type)
	}
	delete(payload, "innerType")
	payload["timestamp"] = evt.Timestamp
	payload["source"] = evt.Source

	frame := eventFrame(string(evt.Type), payload)
	b, err := json.Marshal(frame)
	if err != nil {
		return
	}
	c.Send(b)
}

// relocateEntityType copies the inner entity/relationship type into
// entityType and preserves file_change's change kind as the top-level type,
// per the outbound-frame shaping rule in spec §4.I.
func relocateEntityType(topic string, data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	switch {
	case topic == "file_change":
		out["innerType"] = out["type"]
	case len(topic) > 7 && topic[:7] == "entity_":
		if t, ok := out["type"]; ok {
			out["entityType"] = t
		}
		out["innerType"] = topic
	case len(topic) > 13 && topic[:13] == "relationship_":
		if t, ok := out["type"]; ok {
			out["entityType"] = t
		}
		out["innerType"] = topic
	default:
		out["innerType"] = topic
	}
	return out
}

func (h *Hub) emitBackpressureHint(connectionID string, buffered int64) {
	log.Debug().Str("connectionId", connectionID).Int64("buffered", buffered).Msg("wshub: backpressureHint")
}

func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.sweepIdle()
		case <-h.sweepStop:
			return
		}
	}
}

func (h *Hub) sweepIdle() {
	h.mu.RLock()
	stale := make([]*Connection, 0)
	for _, c := range h.connections {
		if c.idleMillis() > 60_000 {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range stale {
		c.CloseWithCode(4000, "idle timeout")
	}
}

// Shutdown stops the sweeper, notifies every OPEN connection, and closes
// them with code 1001, per spec §4.I.
func (h *Hub) Shutdown() {
	close(h.sweepStop)

	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.SendShutdown()
		c.CloseWithCode(websocket.CloseGoingAway, "shutdown")
	}

	h.mu.Lock()
	h.connections = make(map[string]*Connection)
	h.mu.Unlock()
}
