// Package relayws implements the transport over a relay server: the host
// keeps one multiplexed websocket to the relay, each client dials its own.
// This is the transport real deployments use; tests mostly run on mem.
package relayws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
	"github.com/n0tsosmart/slaythewerewolf/internal/relay"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport"
)

const (
	inboxSize    = 64
	writeTimeout = 3 * time.Second
)

// Transport dials a relay at base, e.g. "ws://localhost:9190".
type Transport struct {
	base string
	log  *zap.Logger
}

func New(base string, log *zap.Logger) *Transport {
	return &Transport{base: base, log: log}
}

func (t *Transport) Listen(ctx context.Context, identity string) (transport.Listener, error) {
	u := fmt.Sprintf("%s/ws/host?room=%s", t.base, url.QueryEscape(identity))
	ws, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusConflict {
			return nil, transport.ErrIdentityTaken
		}
		return nil, fmt.Errorf("dial relay host endpoint: %w", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &hostListener{
		identity: identity,
		ws:       ws,
		log:      t.log,
		out:      make(chan relay.Frame, inboxSize),
		accept:   make(chan transport.Conn, 16),
		conns:    make(map[string]*hostConn),
		ctx:      lctx,
		cancel:   cancel,
	}
	go l.readLoop()
	go l.writeLoop()
	return l, nil
}

func (t *Transport) Dial(ctx context.Context, identity string, meta transport.Metadata) (transport.Conn, error) {
	u := fmt.Sprintf("%s/ws/peer?room=%s&name=%s",
		t.base, url.QueryEscape(identity), url.QueryEscape(meta.PlayerName))
	ws, resp, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, transport.ErrPeerUnavailable
		}
		return nil, fmt.Errorf("dial relay peer endpoint: %w", err)
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &peerConn{
		ws:     ws,
		peerID: identity,
		meta:   meta,
		inbox:  make(chan protocol.Message, inboxSize),
		ctx:    cctx,
		cancel: cancel,
	}
	go c.readLoop()
	return c, nil
}

// hostListener demultiplexes the single relay websocket into one Conn per
// peer. The conns map is shared between the read loop and Close paths.
type hostListener struct {
	identity string
	ws       *websocket.Conn
	log      *zap.Logger
	out      chan relay.Frame
	accept   chan transport.Conn

	mu     sync.Mutex
	conns  map[string]*hostConn
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (l *hostListener) Identity() string              { return l.identity }
func (l *hostListener) Accept() <-chan transport.Conn { return l.accept }

func (l *hostListener) readLoop() {
	defer l.Close()
	for {
		_, data, err := l.ws.Read(l.ctx)
		if err != nil {
			return
		}
		var f relay.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			l.log.Warn("bad frame from relay", zap.Error(err))
			continue
		}
		switch f.Event {
		case relay.EventOpen:
			c := &hostConn{
				l:      l,
				peerID: f.Peer,
				inbox:  make(chan protocol.Message, inboxSize),
			}
			if f.Meta != nil {
				c.meta = transport.Metadata{PlayerName: f.Meta.PlayerName}
			}
			// registration and the accept hand-off stay under the same lock
			// so Close can't shut the accept channel in between
			l.mu.Lock()
			if l.closed {
				l.mu.Unlock()
				return
			}
			var overflow bool
			select {
			case l.accept <- c:
				l.conns[f.Peer] = c
			default:
				overflow = true
			}
			l.mu.Unlock()
			if overflow {
				c.teardown(true)
			}

		case relay.EventData:
			l.mu.Lock()
			c := l.conns[f.Peer]
			l.mu.Unlock()
			if c == nil {
				continue
			}
			m, err := protocol.Decode(f.Payload)
			if err != nil {
				l.log.Warn("bad payload from peer", zap.String("peer", f.Peer), zap.Error(err))
				continue
			}
			c.deliver(m)

		case relay.EventClose:
			l.mu.Lock()
			c := l.conns[f.Peer]
			l.mu.Unlock()
			if c != nil {
				c.teardown(false)
			}
		}
	}
}

func (l *hostListener) writeLoop() {
	for {
		select {
		case f := <-l.out:
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(l.ctx, writeTimeout)
			err = l.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				l.Close()
				return
			}
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *hostListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conns := make([]*hostConn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.conns = make(map[string]*hostConn)
	close(l.accept)
	l.mu.Unlock()

	for _, c := range conns {
		c.teardown(false)
	}
	l.cancel()
	return l.ws.Close(websocket.StatusNormalClosure, "listener closed")
}

// hostConn is the host's pipe to one relayed peer.
type hostConn struct {
	l      *hostListener
	peerID string
	meta   transport.Metadata

	mu     sync.Mutex
	closed bool
	inbox  chan protocol.Message
}

func (c *hostConn) PeerID() string               { return c.peerID }
func (c *hostConn) Metadata() transport.Metadata { return c.meta }
func (c *hostConn) Recv() <-chan protocol.Message {
	return c.inbox
}

func (c *hostConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *hostConn) Send(m protocol.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	payload, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	f := relay.Frame{Event: relay.EventData, Peer: c.peerID, Payload: payload}
	select {
	case c.l.out <- f:
		return nil
	case <-c.l.ctx.Done():
		return transport.ErrClosed
	}
}

func (c *hostConn) deliver(m protocol.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.inbox <- m:
	default:
		// Slow consumer; drop rather than block the demux loop.
	}
}

func (c *hostConn) Close() error {
	c.teardown(true)
	return nil
}

// teardown marks the conn dead; notifyRelay asks the relay to hang up on
// the peer, and is false when the close originated remotely.
func (c *hostConn) teardown(notifyRelay bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.inbox)
	c.mu.Unlock()

	c.l.mu.Lock()
	if c.l.conns[c.peerID] == c {
		delete(c.l.conns, c.peerID)
	}
	c.l.mu.Unlock()

	if notifyRelay {
		select {
		case c.l.out <- relay.Frame{Event: relay.EventClose, Peer: c.peerID}:
		default:
		}
	}
}

// peerConn is a client's direct websocket to the relay; the relay forwards
// bare game payloads in both directions.
type peerConn struct {
	ws     *websocket.Conn
	peerID string
	meta   transport.Metadata

	mu     sync.Mutex
	closed bool
	inbox  chan protocol.Message

	ctx    context.Context
	cancel context.CancelFunc
}

func (c *peerConn) PeerID() string               { return c.peerID }
func (c *peerConn) Metadata() transport.Metadata { return c.meta }
func (c *peerConn) Recv() <-chan protocol.Message {
	return c.inbox
}

func (c *peerConn) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *peerConn) readLoop() {
	defer c.Close()
	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		c.mu.Lock()
		if !c.closed {
			select {
			case c.inbox <- m:
			default:
			}
		}
		c.mu.Unlock()
	}
}

func (c *peerConn) Send(m protocol.Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return transport.ErrClosed
	}
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()
	if err := c.ws.Write(wctx, websocket.MessageText, data); err != nil {
		return transport.ErrClosed
	}
	return nil
}

func (c *peerConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.inbox)
	c.mu.Unlock()

	c.cancel()
	return c.ws.Close(websocket.StatusNormalClosure, "bye")
}
