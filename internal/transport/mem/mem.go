// Package mem provides an in-process transport implementation. It exists for
// tests and for same-process play, where host and clients live in one binary
// and the rendezvous layer is just a map of identities.
package mem

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport"
)

const inboxSize = 64

// Network is the shared rendezvous registry. All participants of one logical
// network must share the same Network value.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

func NewNetwork() *Network {
	return &Network{listeners: make(map[string]*listener)}
}

func (n *Network) Listen(ctx context.Context, identity string) (transport.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, taken := n.listeners[identity]; taken {
		return nil, transport.ErrIdentityTaken
	}
	l := &listener{
		net:      n,
		identity: identity,
		accept:   make(chan transport.Conn, 16),
	}
	n.listeners[identity] = l
	return l, nil
}

func (n *Network) Dial(ctx context.Context, identity string, meta transport.Metadata) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	l, ok := n.listeners[identity]
	if !ok {
		return nil, transport.ErrPeerUnavailable
	}

	p := &pipe{}
	local := &conn{pipe: p, peerID: identity, meta: meta, inbox: make(chan protocol.Message, inboxSize)}
	remote := &conn{pipe: p, peerID: uuid.NewString(), meta: meta, inbox: make(chan protocol.Message, inboxSize)}
	local.peer = remote
	remote.peer = local

	select {
	case l.accept <- remote:
		return local, nil
	default:
		return nil, transport.ErrPeerUnavailable
	}
}

type listener struct {
	net      *Network
	identity string
	accept   chan transport.Conn
	once     sync.Once
}

func (l *listener) Identity() string             { return l.identity }
func (l *listener) Accept() <-chan transport.Conn { return l.accept }

func (l *listener) Close() error {
	l.once.Do(func() {
		l.net.mu.Lock()
		if l.net.listeners[l.identity] == l {
			delete(l.net.listeners, l.identity)
		}
		close(l.accept)
		l.net.mu.Unlock()
	})
	return nil
}

// pipe holds the shared close state of a connection pair. Closing either end
// tears down both directions, mirroring a real peer channel.
type pipe struct {
	mu     sync.Mutex
	closed bool
}

type conn struct {
	pipe   *pipe
	peer   *conn
	peerID string
	meta   transport.Metadata
	inbox  chan protocol.Message
}

func (c *conn) PeerID() string                  { return c.peerID }
func (c *conn) Metadata() transport.Metadata    { return c.meta }
func (c *conn) Recv() <-chan protocol.Message   { return c.inbox }

func (c *conn) Open() bool {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	return !c.pipe.closed
}

func (c *conn) Send(m protocol.Message) error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	if c.pipe.closed {
		return transport.ErrClosed
	}
	select {
	case c.peer.inbox <- m:
	default:
		// Slow consumer; drop rather than block the sender.
	}
	return nil
}

func (c *conn) Close() error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()
	if c.pipe.closed {
		return nil
	}
	c.pipe.closed = true
	close(c.inbox)
	close(c.peer.inbox)
	return nil
}
