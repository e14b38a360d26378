package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"PriceWatch/internal/domain"
	"PriceWatch/internal/ports"
)

// TypeSnapshotRefreshed is emitted once per successful refresh cycle, after
// any per-group change events.
const TypeSnapshotRefreshed = "SNAPSHOT_REFRESHED"

// Envelope is the JSON frame pushed to every connected client.
type Envelope struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Conn is the minimal connection surface the hub needs. *websocket.Conn
// satisfies it through WrapConn; tests inject fakes.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// wsConn bounds each write so one stalled client cannot hold up a broadcast.
type wsConn struct {
	ws      *websocket.Conn
	timeout time.Duration
}

func (c *wsConn) WriteJSON(v any) error {
	if c.timeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.ws.WriteJSON(v)
}

func (c *wsConn) Close() error { return c.ws.Close() }

// WrapConn adapts a websocket connection with a per-write deadline.
func WrapConn(ws *websocket.Conn, writeTimeout time.Duration) Conn {
	return &wsConn{ws: ws, timeout: writeTimeout}
}

// Hub fans change events out to all connected subscribers. Delivery is
// best-effort: a failed send prunes that subscriber and the loop continues.
// There is no replay and no queued delivery to later joiners.
type Hub struct {
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	subs map[Conn]struct{}
}

var _ ports.Broadcaster = (*Hub)(nil)

// New builds an empty hub.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		now:    time.Now,
		subs:   make(map[Conn]struct{}),
	}
}

// Register adds a subscriber.
func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	h.subs[c] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log("subscriber connected", "subscribers", n)
}

// Unregister removes a subscriber without closing it (the read loop owns the
// connection lifecycle).
func (h *Hub) Unregister(c Conn) {
	h.mu.Lock()
	delete(h.subs, c)
	n := len(h.subs)
	h.mu.Unlock()
	h.log("subscriber disconnected", "subscribers", n)
}

// SubscriberCount reports currently connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber; used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.subs {
		_ = c.Close()
		delete(h.subs, c)
	}
	h.mu.Unlock()
}

// BroadcastChanges pushes one envelope per change event.
func (h *Hub) BroadcastChanges(events []domain.ChangeEvent) {
	for _, ev := range events {
		h.broadcast(Envelope{
			Type:      string(ev.Type),
			Data:      ev,
			Timestamp: h.now().UTC(),
		})
	}
}

// BroadcastSnapshotRefreshed announces a completed refresh cycle.
func (h *Hub) BroadcastSnapshotRefreshed(datasetKey string, records int, fetchedAt time.Time) {
	h.broadcast(Envelope{
		Type: TypeSnapshotRefreshed,
		Data: map[string]any{
			"dataset_key": datasetKey,
			"records":     records,
			"fetched_at":  fetchedAt,
		},
		Timestamp: h.now().UTC(),
	})
}

func (h *Hub) broadcast(env Envelope) {
	h.mu.Lock()
	targets := make([]Conn, 0, len(h.subs))
	for c := range h.subs {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	var failed []Conn
	for _, c := range targets {
		if err := c.WriteJSON(env); err != nil {
			h.log("broadcast send failed, pruning subscriber", "error", err)
			failed = append(failed, c)
		}
	}

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range failed {
		if _, ok := h.subs[c]; ok {
			delete(h.subs, c)
			_ = c.Close()
		}
	}
	h.mu.Unlock()
}

func (h *Hub) log(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}
