// Package gateway bridges external WebSocket clients to the internal
// EventBus. It speaks framed JSON packets (EventPacket) inbound and
// outbound, normalizes inbound control/text packets into bus events,
// and forwards a whitelist of outbound bus events to every connected
// client.
//
// Grounded on streamspace-dev-streamspace's api/internal/websocket/hub.go
// Hub/Client pattern (register/unregister/broadcast channels, buffered
// per-client send queue, ping/pong keepalive, slow-client eviction).
package gateway

import (
	"encoding/json"
	"time"
)

// EventPacket is the wire shape of every message crossing the
// WebSocket boundary in either direction.
type EventPacket struct {
	TraceID   string          `json:"trace_id"`
	SessionID int64           `json:"session_id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// inboundTypes are the packet types the Gateway accepts from clients
// and republishes on the bus (normalized to the matching event type).
var inboundTypes = map[string]string{
	"input_text":       "input.text",
	"input_audio":      "input.audio",
	"control_interrupt": "control.interrupt",
	"control_session":  "control.session",
}

// outboundWhitelist is the set of bus event types forwarded to every
// open WebSocket. Anything else stays internal.
var outboundWhitelist = map[string]bool{
	"brain_thinking":     true,
	"brain_response":     true,
	"brain_response_end": true,
	"cognitive_state":    true,
	"system_status":      true,
	"control_session":    true,
	"emotion:changed":    true,
}

func isOutboundAllowed(eventType string) bool {
	return outboundWhitelist[eventType]
}

func normalizeInboundType(packetType string) (string, bool) {
	t, ok := inboundTypes[packetType]
	return t, ok
}
