package session

import (
	"encoding/json"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
)

// Events is the seam between the session managers and the game/UI layer.
// The UI registers callbacks here; the session managers never call into UI
// code directly. Every slot supports multiple registrants and fans out in
// registration order. Callbacks are fire-and-forget and run synchronously
// on the session's dispatch goroutine, so they must not block.
//
// Register all callbacks before the session is opened or joined; Events is
// not synchronized against concurrent registration.
type Events struct {
	connected        []func(name, peerID string)
	disconnected     []func(name, peerID string)
	gameStart        []func(data protocol.GameData)
	hostDisconnected []func()
	receiveRole      []func(role json.RawMessage)
	playerList       []func(players []string)
	playerEliminated []func(name string)
	playerRevived    []func(name string)
	statusUpdate     []func(status protocol.PlayerStatus)
}

func NewEvents() *Events { return &Events{} }

func (e *Events) OnConnected(fn func(name, peerID string)) {
	e.connected = append(e.connected, fn)
}

func (e *Events) OnDisconnected(fn func(name, peerID string)) {
	e.disconnected = append(e.disconnected, fn)
}

func (e *Events) OnGameStart(fn func(data protocol.GameData)) {
	e.gameStart = append(e.gameStart, fn)
}

func (e *Events) OnHostDisconnected(fn func()) {
	e.hostDisconnected = append(e.hostDisconnected, fn)
}

func (e *Events) OnReceiveRole(fn func(role json.RawMessage)) {
	e.receiveRole = append(e.receiveRole, fn)
}

func (e *Events) OnPlayerListUpdate(fn func(players []string)) {
	e.playerList = append(e.playerList, fn)
}

func (e *Events) OnPlayerEliminated(fn func(name string)) {
	e.playerEliminated = append(e.playerEliminated, fn)
}

func (e *Events) OnPlayerRevived(fn func(name string)) {
	e.playerRevived = append(e.playerRevived, fn)
}

func (e *Events) OnStatusUpdate(fn func(status protocol.PlayerStatus)) {
	e.statusUpdate = append(e.statusUpdate, fn)
}

func (e *Events) emitConnected(name, peerID string) {
	for _, fn := range e.connected {
		fn(name, peerID)
	}
}

func (e *Events) emitDisconnected(name, peerID string) {
	for _, fn := range e.disconnected {
		fn(name, peerID)
	}
}

func (e *Events) emitGameStart(data protocol.GameData) {
	for _, fn := range e.gameStart {
		fn(data)
	}
}

func (e *Events) emitHostDisconnected() {
	for _, fn := range e.hostDisconnected {
		fn()
	}
}

func (e *Events) emitReceiveRole(role json.RawMessage) {
	for _, fn := range e.receiveRole {
		fn(role)
	}
}

func (e *Events) emitPlayerListUpdate(players []string) {
	for _, fn := range e.playerList {
		fn(players)
	}
}

func (e *Events) emitPlayerEliminated(name string) {
	for _, fn := range e.playerEliminated {
		fn(name)
	}
}

func (e *Events) emitPlayerRevived(name string) {
	for _, fn := range e.playerRevived {
		fn(name)
	}
}

func (e *Events) emitStatusUpdate(status protocol.PlayerStatus) {
	for _, fn := range e.statusUpdate {
		fn(status)
	}
}
