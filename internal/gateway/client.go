package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lumina/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 256
	dedupWindow    = 2 * time.Second
)

// Client represents one WebSocket connection bridged onto the bus. It
// retains only what interrupt/dedup logic needs for the life of the
// connection: its own session counter and the last (session, text)
// pair seen.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu            sync.Mutex
	lastSessionID int64
	lastText      string
	lastTextAt    time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, log zerolog.Logger) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		log:  log,
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn().Err(err).Msg("gateway: unexpected close")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleInbound(raw)
	}
}

func (c *Client) handleInbound(raw []byte) {
	var pkt EventPacket
	if err := json.Unmarshal(raw, &pkt); err != nil {
		c.log.Warn().Err(err).Msg("gateway: malformed inbound packet")
		c.send <- mustMarshal(EventPacket{
			Type:      "error",
			Source:    "gateway",
			Payload:   rawPayload(map[string]any{"message": "malformed packet"}),
			Timestamp: time.Now(),
		})
		return
	}

	if pkt.Type == "ping" {
		c.send <- mustMarshal(EventPacket{Type: "pong", Source: "gateway", SessionID: pkt.SessionID, Timestamp: time.Now()})
		return
	}

	normalized, known := normalizeInboundType(pkt.Type)
	if !known {
		// Unknown types are echoed back unmodified rather than silently
		// dropped, so a misbehaving client sees what it sent.
		c.send <- mustMarshal(pkt)
		return
	}

	if pkt.Type == "input_text" {
		if c.isDuplicate(pkt) {
			return
		}
		// The in-flight turn Pipeline is running (if any) is keyed by the
		// *previous* session id, not this packet's — interrupt that one,
		// not the session we're about to start.
		if prevID, interrupting := c.beginSession(pkt.SessionID); interrupting {
			c.hub.bus.EmitSync(eventbus.Event{
				Type:   "control.interrupt",
				Source: "gateway",
				Data:   map[string]any{"session_id": prevID},
			})
		}
	}

	if pkt.Type == "control_interrupt" {
		c.hub.bus.EmitSync(eventbus.Event{
			Type:   "control.interrupt",
			Source: "gateway",
			Data:   map[string]any{"session_id": pkt.SessionID},
		})
	}

	var payload map[string]any
	_ = json.Unmarshal(pkt.Payload, &payload)
	if payload == nil {
		payload = map[string]any{}
	}
	payload["session_id"] = pkt.SessionID
	payload["trace_id"] = pkt.TraceID

	// Dispatched asynchronously so readPump keeps draining the socket for
	// the life of an LLM turn instead of blocking on it (spec: concurrent
	// inbound is allowed after the first await).
	c.hub.bus.EmitSync(eventbus.Event{
		Type:   normalized,
		Source: "gateway",
		Data:   payload,
	})
}

func (c *Client) isDuplicate(pkt EventPacket) bool {
	var body struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(pkt.Payload, &body)

	c.mu.Lock()
	now := time.Now()
	dup := pkt.SessionID == c.lastSessionID && body.Text == c.lastText && now.Sub(c.lastTextAt) < dedupWindow
	c.lastText = body.Text
	c.lastTextAt = now
	c.mu.Unlock()
	if dup {
		return true
	}

	// Redis-backed check catches the case this connection's in-memory
	// state doesn't: a client that reconnects (fresh Client, empty
	// lastText) and resubmits the same message within the window.
	dedupKey := fmt.Sprintf("lumina:gateway:dedup:%d:%s", pkt.SessionID, body.Text)
	return c.hub.cache.SeenRecently(context.Background(), dedupKey, dedupWindow)
}

// beginSession atomically advances lastSessionID to id if id is newer,
// returning the previous id and whether this packet actually superseded
// an in-flight one. Checking and advancing under one lock (rather than
// the former isInterrupt+setSessionID pair) avoids a race between two
// concurrent input_text packets racing to interrupt the same turn.
func (c *Client) beginSession(id int64) (prevID int64, interrupting bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id <= c.lastSessionID {
		return 0, false
	}
	prevID = c.lastSessionID
	c.lastSessionID = id
	return prevID, prevID != 0
}

func mustMarshal(pkt EventPacket) []byte {
	if pkt.TraceID == "" {
		pkt.TraceID = uuid.NewString()
	}
	b, err := json.Marshal(pkt)
	if err != nil {
		return []byte(`{"type":"error","payload":{"message":"internal encode failure"}}`)
	}
	return b
}

func rawPayload(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}
