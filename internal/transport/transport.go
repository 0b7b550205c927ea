// Package transport abstracts the rendezvous and peer-connection layer the
// session managers run on. A Transport hands out ordered, reliable message
// pipes keyed by a short identity string; it performs no interpretation of
// the messages it carries.
package transport

import (
	"context"
	"errors"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
)

var (
	// ErrIdentityTaken is returned by Listen when the requested identity is
	// already registered elsewhere. Callers regenerate and retry.
	ErrIdentityTaken = errors.New("transport: identity already taken")

	// ErrPeerUnavailable is returned by Dial when no peer is listening on
	// the remote identity.
	ErrPeerUnavailable = errors.New("transport: peer unavailable")

	// ErrClosed is returned by Send on a connection that is no longer open.
	ErrClosed = errors.New("transport: connection closed")
)

// Metadata travels with a dial attempt and is visible to the accepting side
// before any message is exchanged.
type Metadata struct {
	PlayerName string `json:"playerName,omitempty"`
}

// Conn is a bidirectional ordered message channel to one remote participant.
// Recv is closed when the connection dies, whatever the cause; after that
// Send returns ErrClosed.
type Conn interface {
	// PeerID is the transport-assigned identifier of the remote end. Opaque,
	// unique per connection attempt, never reused across reconnects.
	PeerID() string
	Metadata() Metadata
	Send(protocol.Message) error
	Recv() <-chan protocol.Message
	Open() bool
	Close() error
}

// Listener accepts incoming peer connections for a claimed identity.
type Listener interface {
	// Identity is the confirmed rendezvous identity.
	Identity() string
	// Accept yields inbound connections. The channel is closed when the
	// listener shuts down.
	Accept() <-chan Conn
	Close() error
}

type Transport interface {
	Listen(ctx context.Context, identity string) (Listener, error)
	Dial(ctx context.Context, identity string, meta Metadata) (Conn, error)
}
