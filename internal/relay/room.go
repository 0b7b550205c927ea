package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type roomMsg interface{ isRoomMsg() }

type peerOpen struct{ p *peer }

type peerData struct {
	id      string
	payload json.RawMessage
}

type peerGone struct{ id string }

type hostFrame struct{ f Frame }

func (peerOpen) isRoomMsg()  {}
func (peerData) isRoomMsg()  {}
func (peerGone) isRoomMsg()  {}
func (hostFrame) isRoomMsg() {}

// peer is the relay's view of one dialed-in participant: an id, the dial
// metadata, and the outbox its websocket writer drains.
type peer struct {
	id     string
	meta   Meta
	outbox chan json.RawMessage
}

// room pipes frames between one host websocket and its peers. The peers
// map is owned by the loop goroutine.
type room struct {
	code    string
	log     *zap.Logger
	inbox   chan roomMsg
	hostOut chan Frame
	peers   map[string]*peer
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func newRoom(code string, log *zap.Logger) *room {
	ctx, cancel := context.WithCancel(context.Background())
	rm := &room{
		code:    code,
		log:     log,
		inbox:   make(chan roomMsg, 64),
		hostOut: make(chan Frame, 64),
		peers:   make(map[string]*peer),
		ctx:     ctx,
		cancel:  cancel,
	}
	go rm.loop()
	return rm
}

func (rm *room) loop() {
	for {
		select {
		case <-rm.ctx.Done():
			for id, p := range rm.peers {
				close(p.outbox)
				delete(rm.peers, id)
			}
			return

		case m := <-rm.inbox:
			switch msg := m.(type) {
			case peerOpen:
				rm.peers[msg.p.id] = msg.p
				rm.toHost(Frame{Event: EventOpen, Peer: msg.p.id, Meta: &msg.p.meta})

			case peerData:
				rm.toHost(Frame{Event: EventData, Peer: msg.id, Payload: msg.payload})

			case peerGone:
				if p, ok := rm.peers[msg.id]; ok {
					delete(rm.peers, msg.id)
					close(p.outbox)
					rm.toHost(Frame{Event: EventClose, Peer: msg.id})
				}

			case hostFrame:
				rm.handleHostFrame(msg.f)
			}
		}
	}
}

func (rm *room) handleHostFrame(f Frame) {
	switch f.Event {
	case EventData:
		if p, ok := rm.peers[f.Peer]; ok {
			select {
			case p.outbox <- f.Payload:
			default:
				// Slow peer; drop the frame rather than stall the room.
			}
		}
	case EventClose:
		if p, ok := rm.peers[f.Peer]; ok {
			delete(rm.peers, f.Peer)
			close(p.outbox)
		}
	default:
		rm.log.Warn("unexpected frame from host",
			zap.String("room", rm.code),
			zap.String("event", string(f.Event)))
	}
}

func (rm *room) toHost(f Frame) {
	select {
	case rm.hostOut <- f:
	case <-rm.ctx.Done():
	}
}

func (rm *room) attach(p *peer) bool {
	select {
	case rm.inbox <- peerOpen{p: p}:
		return true
	case <-rm.ctx.Done():
		return false
	}
}

func (rm *room) forward(id string, payload json.RawMessage) {
	select {
	case rm.inbox <- peerData{id: id, payload: payload}:
	case <-rm.ctx.Done():
	}
}

func (rm *room) detach(id string) {
	select {
	case rm.inbox <- peerGone{id: id}:
	case <-rm.ctx.Done():
	}
}

// runHost pumps the host websocket until it fails, then tears the room
// down. Blocks for the life of the host connection.
func (rm *room) runHost(conn *websocket.Conn) {
	go rm.hostWriter(conn)

	for {
		_, data, err := conn.Read(rm.ctx)
		if err != nil {
			break
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			rm.log.Warn("bad frame from host", zap.String("room", rm.code), zap.Error(err))
			continue
		}
		select {
		case rm.inbox <- hostFrame{f: f}:
		case <-rm.ctx.Done():
		}
	}
	rm.shutdown()
}

func (rm *room) hostWriter(conn *websocket.Conn) {
	for {
		select {
		case f := <-rm.hostOut:
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(rm.ctx, writeTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-rm.ctx.Done():
			return
		}
	}
}

func (rm *room) shutdown() {
	rm.once.Do(rm.cancel)
}
