// Package fanout delivers push events to websocket subscribers grouped by
// owner. Delivery is best-effort: a subscriber that cannot keep up has
// events dropped, never the whole hub blocked.
package fanout

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/zapdeskhq/zapdesk/internal/bus"
	"github.com/zapdeskhq/zapdesk/internal/push"
)

// Frame is the wire shape sent to subscribers.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Subscriber is one websocket connection joined to an owner group.
type Subscriber struct {
	OwnerID string
	Conn    *websocket.Conn
	Send    chan Frame

	ctx    context.Context
	cancel context.CancelFunc
}

// Done closes when the subscriber is removed.
func (s *Subscriber) Done() <-chan struct{} { return s.ctx.Done() }

type Hub struct {
	log *zap.Logger

	mu     sync.RWMutex
	owners map[string]map[*Subscriber]struct{}
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:    log.Named("fanout"),
		owners: make(map[string]map[*Subscriber]struct{}),
	}
}

// JoinOwner registers a connection into an owner's group and starts its
// write and keepalive loops. The caller owns the read side and must call
// Remove when the connection dies.
func (h *Hub) JoinOwner(conn *websocket.Conn, ownerID string) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscriber{
		OwnerID: ownerID,
		Conn:    conn,
		Send:    make(chan Frame, 64),
		ctx:     ctx,
		cancel:  cancel,
	}

	h.mu.Lock()
	if h.owners[ownerID] == nil {
		h.owners[ownerID] = make(map[*Subscriber]struct{})
	}
	h.owners[ownerID][sub] = struct{}{}
	h.mu.Unlock()

	go sub.writeLoop()
	go sub.keepAlive()

	h.log.Debug("subscriber joined", zap.String("owner_id", ownerID))
	return sub
}

// Remove drops a subscriber and closes its connection.
func (h *Hub) Remove(sub *Subscriber) {
	sub.cancel()

	h.mu.Lock()
	if set, ok := h.owners[sub.OwnerID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.owners, sub.OwnerID)
		}
	}
	h.mu.Unlock()

	_ = sub.Conn.Close(websocket.StatusNormalClosure, "bye")
}

// Emit delivers one event to every subscriber in an owner's group. Slow
// subscribers get the event dropped.
func (h *Hub) Emit(ownerID, event string, data any) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.owners[ownerID] {
		select {
		case sub.Send <- Frame{Event: event, Data: data}:
		default:
			h.log.Warn("subscriber buffer full, dropping event",
				zap.String("owner_id", ownerID),
				zap.String("event", event))
		}
	}
}

// SubscriberCount returns the number of connections in an owner's group.
func (h *Hub) SubscriberCount(ownerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.owners[ownerID])
}

// Run bridges the bus push namespace into the hub until ctx ends.
func (h *Hub) Run(ctx context.Context, b *bus.Bus) {
	ch, unsub := b.Subscribe(push.Namespace, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			env, ok := evt.Payload.(push.Envelope)
			if !ok {
				continue
			}
			h.Emit(env.OwnerID, env.Event, env.Data)
		}
	}
}

func (s *Subscriber) writeLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.Send:
			writeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wsjson.Write(writeCtx, s.Conn, frame)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}

func (s *Subscriber) keepAlive() {
	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.Conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.cancel()
				return
			}
		}
	}
}
