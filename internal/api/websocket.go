package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/fleetsim/internal/infrastructure/config"
	"github.com/nerrad567/fleetsim/internal/infrastructure/logging"
	"github.com/nerrad567/fleetsim/internal/simulator"
)

// FrameType identifies a WebSocket frame.
type FrameType string

// Frame types. Clients send subscribe, unsubscribe and ping; the hub sends
// the rest.
const (
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"
	FramePing        FrameType = "ping"
	FramePong        FrameType = "pong"
	FrameAck         FrameType = "ack"
	FrameEvent       FrameType = "event"
	FrameError       FrameType = "error"
)

// clientQueueSize is the number of frames buffered per client before
// events to it are dropped.
const clientQueueSize = 256

// liveChannels are the simulator channels a client may follow.
var liveChannels = []string{
	simulator.ChannelOTA,
	simulator.ChannelDFU,
	simulator.ChannelArtifacts,
	simulator.ChannelSimulation,
}

// Frame is the JSON envelope of every WebSocket message in both directions.
//
//	-> {"type":"subscribe","id":"1","channels":["ota","dfu"]}
//	<- {"type":"ack","id":"1","channels":["dfu","ota"]}
//	<- {"type":"event","channel":"ota","time":"...","data":{...}}
type Frame struct {
	Type     FrameType       `json:"type"`
	ID       string          `json:"id,omitempty"`
	Channel  string          `json:"channel,omitempty"`
	Channels []string        `json:"channels,omitempty"`
	Time     string          `json:"time,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// HubStats is a point-in-time view of hub activity.
type HubStats struct {
	Clients     int               `json:"clients"`
	Subscribers map[string]int    `json:"subscribers"`
	Delivered   map[string]uint64 `json:"delivered"`
	Dropped     uint64            `json:"dropped"`
}

// Hub fans simulator events out to WebSocket clients by channel.
// It satisfies simulator.Broadcaster.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.RWMutex
	clients   map[*wsClient]struct{}
	delivered map[string]uint64
	dropped   uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
		delivered: make(map[string]uint64),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.shutdown()
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

func (h *Hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// remove detaches c and closes its queue. Safe to call more than once.
func (h *Hub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	c.shutdown()
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// Broadcast sends payload as an event frame to every client following channel.
// Clients with a full queue miss the event.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encoding websocket event", "channel", channel, "error", err)
		return
	}
	frame, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("encoding websocket frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		if c.follows(channel) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	var sent, missed uint64
	for _, c := range targets {
		if c.enqueue(frame) {
			sent++
		} else {
			missed++
		}
	}

	h.mu.Lock()
	h.delivered[channel] += sent
	h.dropped += missed
	h.mu.Unlock()

	if missed > 0 {
		h.logger.Warn("websocket event dropped for slow clients", "channel", channel, "clients", missed)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns client, subscription and delivery counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := HubStats{
		Clients:     len(h.clients),
		Subscribers: make(map[string]int, len(liveChannels)),
		Delivered:   make(map[string]uint64, len(h.delivered)),
		Dropped:     h.dropped,
	}
	for _, ch := range liveChannels {
		stats.Subscribers[ch] = 0
	}
	for c := range h.clients {
		for _, ch := range c.following() {
			stats.Subscribers[ch]++
		}
	}
	for ch, n := range h.delivered {
		stats.Delivered[ch] = n
	}
	return stats
}

// unknownChannels returns the entries of channels the hub does not serve.
func unknownChannels(channels []string) []string {
	var bad []string
	for _, ch := range channels {
		if !slices.Contains(liveChannels, ch) {
			bad = append(bad, ch)
		}
	}
	return bad
}

// wsClient is one WebSocket connection. The queue is closed exactly once,
// by shutdown; enqueue after that is a no-op.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn

	mu       sync.Mutex
	queue    chan []byte
	channels map[string]struct{}
	closed   bool
}

func newWSClient(hub *Hub, conn *websocket.Conn, channels []string) *wsClient {
	c := &wsClient{
		hub:      hub,
		conn:     conn,
		queue:    make(chan []byte, clientQueueSize),
		channels: make(map[string]struct{}, len(channels)),
	}
	for _, ch := range channels {
		c.channels[ch] = struct{}{}
	}
	return c
}

func (c *wsClient) enqueue(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.queue <- frame:
		return true
	default:
		return false
	}
}

func (c *wsClient) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
}

func (c *wsClient) follows(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// following returns the client's channels, sorted.
func (c *wsClient) following() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

func (c *wsClient) reply(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	c.enqueue(data)
}

func (c *wsClient) fail(id, msg string) {
	c.reply(Frame{Type: FrameError, ID: id, Error: msg})
}

// handleFrame applies one client frame.
func (c *wsClient) handleFrame(raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.fail("", "invalid frame")
		return
	}

	switch f.Type {
	case FrameSubscribe, FrameUnsubscribe:
		if len(f.Channels) == 0 {
			c.fail(f.ID, "channels required")
			return
		}
		if bad := unknownChannels(f.Channels); len(bad) > 0 {
			c.fail(f.ID, "unknown channel: "+strings.Join(bad, ", "))
			return
		}
		c.mu.Lock()
		for _, ch := range f.Channels {
			if f.Type == FrameSubscribe {
				c.channels[ch] = struct{}{}
			} else {
				delete(c.channels, ch)
			}
		}
		c.mu.Unlock()
		c.reply(Frame{Type: FrameAck, ID: f.ID, Channels: c.following()})
	case FramePing:
		c.reply(Frame{Type: FramePong, ID: f.ID})
	default:
		c.fail(f.ID, "unknown frame type: "+string(f.Type))
	}
}

// readLoop consumes client frames until the connection fails.
func (c *wsClient) readLoop(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	//nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(idle))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces on the next read
		c.conn.SetReadDeadline(time.Now().Add(idle))
		c.handleFrame(raw)
	}
}

// writeLoop drains the queue and keeps the connection alive with pings.
func (c *wsClient) writeLoop(cfg config.WebSocketConfig) {
	ping := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind    = websocket.TextMessage
			payload []byte
		)
		select {
		case frame, ok := <-c.queue:
			if !ok {
				//nolint:errcheck // connection is closing
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			payload = frame
		case <-ping.C:
			kind = websocket.PingMessage
		}

		//nolint:errcheck // a failed deadline surfaces on the write
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, payload); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are enforced by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades to a WebSocket. The optional channels query
// parameter (comma separated) subscribes on connect; otherwise the client
// receives nothing until it sends a subscribe frame.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeUnavailable(w, "websocket hub not running")
		return
	}

	var initial []string
	if q := r.URL.Query().Get("channels"); q != "" {
		for _, ch := range strings.Split(q, ",") {
			if ch = strings.TrimSpace(ch); ch != "" {
				initial = append(initial, ch)
			}
		}
		if bad := unknownChannels(initial); len(bad) > 0 {
			writeBadRequest(w, "unknown channel: "+strings.Join(bad, ", "))
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn, initial)
	s.hub.add(c)

	go c.writeLoop(s.wsCfg)
	go c.readLoop(s.wsCfg)
}
