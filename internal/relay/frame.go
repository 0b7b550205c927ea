// Package relay implements the rendezvous broker: hosts register a room
// code, clients dial it, and the relay pipes ordered frames between the
// host websocket and each peer websocket. It never interprets game
// payloads.
package relay

import "encoding/json"

// Event tags a multiplexed frame on the host websocket.
type Event string

const (
	// EventOpen announces a freshly connected peer to the host.
	EventOpen Event = "open"
	// EventData carries one game message to or from a peer.
	EventData Event = "data"
	// EventClose reports that a peer went away, or asks the relay to drop
	// one.
	EventClose Event = "close"
)

// Meta is the dial metadata forwarded to the host on EventOpen.
type Meta struct {
	PlayerName string `json:"playerName,omitempty"`
}

// Frame is the wire unit on the host websocket. Peer websockets carry bare
// game payloads; the relay wraps and unwraps them.
type Frame struct {
	Event   Event           `json:"event"`
	Peer    string          `json:"peer"`
	Meta    *Meta           `json:"meta,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
