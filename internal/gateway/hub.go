package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/cache"
	"lumina/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub owns every live WebSocket connection and bridges it to a Bus: it
// republishes whitelisted outbound bus events to all clients and feeds
// normalized inbound packets onto the bus.
type Hub struct {
	bus   *eventbus.Bus
	cache *cache.Client
	log   zerolog.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	nextSessionID int64
	subID         eventbus.SubscriptionID
}

// New builds a Hub wired to bus but does not start it; call Run.
// cacheClient may be nil, in which case inbound dedup is purely
// in-process per connection.
func New(bus *eventbus.Bus, cacheClient *cache.Client, log zerolog.Logger) *Hub {
	return &Hub{
		bus:        bus,
		cache:      cacheClient,
		log:        log,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// Run subscribes to the outbound whitelist and processes
// register/unregister/broadcast until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	h.subID = h.bus.Subscribe("*", func(_ context.Context, ev eventbus.Event) error {
		if !isOutboundAllowed(ev.Type) {
			return nil
		}
		payload, err := json.Marshal(ev.Data)
		if err != nil {
			return err
		}
		pkt := EventPacket{
			TraceID:   uuid.NewString(),
			Type:      ev.Type,
			Source:    ev.Source,
			Payload:   payload,
			Timestamp: ev.Timestamp,
		}
		if sid, ok := ev.Data["session_id"].(int64); ok {
			pkt.SessionID = sid
		}
		b, err := json.Marshal(pkt)
		if err != nil {
			return err
		}
		h.Broadcast(b)
		return nil
	})
	defer h.bus.Unsubscribe(h.subID)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			var slow []*Client
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				h.mu.Unlock()
			}
		}
	}
}

// Broadcast queues message for delivery to every connected client.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// ServeHTTP upgrades the request to a WebSocket, assigns a fresh
// monotonic session id, and sends the opening system.ready packet
// before handing the connection off to its read/write pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("gateway: upgrade failed")
		return
	}

	client := newClient(h, conn, h.log)
	sessionID := atomic.AddInt64(&h.nextSessionID, 1)
	client.lastSessionID = sessionID

	ready := mustMarshal(EventPacket{
		Type:      "system.ready",
		Source:    "gateway",
		SessionID: sessionID,
		Payload:   rawPayload(map[string]any{"session_id": sessionID}),
		Timestamp: time.Now(),
	})

	h.register <- client
	client.send <- ready

	go client.writePump()
	go client.readPump()
}
