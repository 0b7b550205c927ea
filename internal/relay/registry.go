package relay

import (
	"context"
	"errors"
)

var errCodeTaken = errors.New("room code already in use")

type registryMsg interface{ isRegistryMsg() }

type claimRoom struct {
	code  string
	room  *room
	reply chan error
}

type releaseRoom struct {
	code string
	room *room
}

type getRoom struct {
	code  string
	reply chan *room
}

func (claimRoom) isRegistryMsg()   {}
func (releaseRoom) isRegistryMsg() {}
func (getRoom) isRegistryMsg()     {}

// registry owns the code -> room map. All access goes through the inbox so
// the map needs no locking.
type registry struct {
	inbox  chan registryMsg
	rooms  map[string]*room
	ctx    context.Context
	cancel context.CancelFunc
}

func newRegistry(parent context.Context) *registry {
	ctx, cancel := context.WithCancel(parent)
	reg := &registry{
		inbox:  make(chan registryMsg, 64),
		rooms:  make(map[string]*room),
		ctx:    ctx,
		cancel: cancel,
	}
	go reg.loop()
	return reg
}

func (reg *registry) loop() {
	for {
		select {
		case <-reg.ctx.Done():
			for _, rm := range reg.rooms {
				rm.shutdown()
			}
			clear(reg.rooms)
			return

		case m := <-reg.inbox:
			switch msg := m.(type) {
			case claimRoom:
				if _, taken := reg.rooms[msg.code]; taken {
					msg.reply <- errCodeTaken
					break
				}
				reg.rooms[msg.code] = msg.room
				msg.reply <- nil

			case releaseRoom:
				// Only the room that holds the claim may release it.
				if reg.rooms[msg.code] == msg.room {
					delete(reg.rooms, msg.code)
				}

			case getRoom:
				msg.reply <- reg.rooms[msg.code] // may be nil
			}
		}
	}
}

func (reg *registry) claim(code string, rm *room) error {
	reply := make(chan error, 1)
	select {
	case reg.inbox <- claimRoom{code: code, room: rm, reply: reply}:
		return <-reply
	case <-reg.ctx.Done():
		return reg.ctx.Err()
	}
}

func (reg *registry) release(code string, rm *room) {
	select {
	case reg.inbox <- releaseRoom{code: code, room: rm}:
	case <-reg.ctx.Done():
	}
}

func (reg *registry) lookup(code string) *room {
	reply := make(chan *room, 1)
	select {
	case reg.inbox <- getRoom{code: code, reply: reply}:
		return <-reply
	case <-reg.ctx.Done():
		return nil
	}
}
