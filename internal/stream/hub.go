// Package stream pushes simulation frames to websocket clients and applies
// the scale and pause commands they send back.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/signalsfoundry/orrery/core"
	"github.com/signalsfoundry/orrery/internal/logging"
	"github.com/signalsfoundry/orrery/timectrl"
)

const (
	// DefaultFrameRate caps broadcasts per second.
	DefaultFrameRate = 30
	writeTimeout     = 2 * time.Second
)

// Message types exchanged over the socket.
const (
	TypeFrame = "frame"
	TypeScale = "scale"
	TypePause = "pause"
	TypeReset = "reset"
	TypeError = "error"
)

var errUnknownMessage = errors.New("unknown message type")

// ScaleController is the part of timectrl.ScaleModel the hub drives.
type ScaleController interface {
	ApplyDelta(kind timectrl.ScaleKind, delta float64) (float64, bool)
	Pause(on bool)
	Reset()
}

// ClientGauge receives the connected client count.
type ClientGauge interface {
	SetStreamClients(n int)
}

// Envelope is the JSON shape of every message on the socket.
type Envelope struct {
	Type   string      `json:"type"`
	Frame  *core.Frame `json:"frame,omitempty"`
	Kind   string      `json:"kind,omitempty"`
	Delta  float64     `json:"delta,omitempty"`
	Paused bool        `json:"paused,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Hub fans frames out to connected clients.
type Hub struct {
	scale    ScaleController
	log      logging.Logger
	gauge    ClientGauge
	limiter  *rate.Limiter
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	last    []byte
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithHubLogger sets the hub logger.
func WithHubLogger(l logging.Logger) HubOption {
	return func(h *Hub) { h.log = logging.OrNoop(l) }
}

// WithClientGauge reports client counts to g.
func WithClientGauge(g ClientGauge) HubOption {
	return func(h *Hub) { h.gauge = g }
}

// WithFrameRate caps broadcasts at perSecond frames. Zero or negative
// disables throttling.
func WithFrameRate(perSecond float64) HubOption {
	return func(h *Hub) {
		if perSecond <= 0 {
			h.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewHub creates a hub that applies client commands to scale. A nil
// scale makes the stream read-only.
func NewHub(scale ScaleController, opts ...HubOption) *Hub {
	h := &Hub{
		scale:   scale,
		log:     logging.Noop(),
		limiter: rate.NewLimiter(rate.Limit(DefaultFrameRate), 1),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves the client until it leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", logging.Err(err))
		return
	}
	c := &client{conn: conn}
	last := h.register(c)
	defer h.unregister(c)

	if last != nil {
		if err := c.send(last); err != nil {
			return
		}
	}
	h.readLoop(r.Context(), c)
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug(ctx, "stream client read failed", logging.Err(err))
			}
			return
		}
		var msg Envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, fmt.Errorf("decode: %w", err))
			continue
		}
		if err := h.apply(ctx, msg); err != nil {
			h.reply(c, err)
		}
	}
}

func (h *Hub) apply(ctx context.Context, msg Envelope) error {
	if h.scale == nil {
		return errors.New("stream is read-only")
	}
	switch msg.Type {
	case TypeScale:
		kind, err := timectrl.ParseScaleKind(msg.Kind)
		if err != nil {
			return err
		}
		v, ok := h.scale.ApplyDelta(kind, msg.Delta)
		h.log.Debug(ctx, "scale command",
			logging.String("kind", kind.String()),
			logging.Float("delta", msg.Delta),
			logging.Float("value", v),
			logging.Bool("applied", ok),
		)
	case TypePause:
		h.scale.Pause(msg.Paused)
	case TypeReset:
		h.scale.Reset()
	default:
		return fmt.Errorf("%w %q", errUnknownMessage, msg.Type)
	}
	return nil
}

func (h *Hub) reply(c *client, err error) {
	payload, mErr := json.Marshal(Envelope{Type: TypeError, Error: err.Error()})
	if mErr != nil {
		return
	}
	_ = c.send(payload)
}

// Broadcast sends frame to every client unless the frame rate cap drops
// it. It reports whether the frame was sent.
func (h *Hub) Broadcast(ctx context.Context, frame core.Frame) bool {
	if !h.limiter.Allow() {
		return false
	}
	payload, err := json.Marshal(Envelope{Type: TypeFrame, Frame: &frame})
	if err != nil {
		h.log.Error(ctx, "frame encode failed", logging.Err(err))
		return false
	}

	h.mu.Lock()
	h.last = payload
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.send(payload); err != nil {
			h.log.Debug(ctx, "dropping stream client", logging.Err(err))
			h.unregister(c)
		}
	}
	return true
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		h.unregister(c)
	}
}

func (h *Hub) register(c *client) []byte {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n, last := len(h.clients), h.last
	h.mu.Unlock()
	h.report(n)
	return last
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	_ = c.conn.Close()
	h.report(n)
}

func (h *Hub) report(n int) {
	if h.gauge != nil {
		h.gauge.SetStreamClients(n)
	}
}
