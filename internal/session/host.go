package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport"
)

// Phase is the host-side room lifecycle. There is no way back from
// InProgress to Open.
type Phase string

const (
	PhaseCreated    Phase = "created"
	PhaseOpen       Phase = "open"
	PhaseInProgress Phase = "in_progress"
	PhaseClosed     Phase = "closed"
)

// Dealer computes the secret per-player role payloads at game start. The
// deck-building rules live behind this seam so the session layer stays
// ignorant of game semantics.
type Dealer interface {
	Deal(players []string) (map[string]json.RawMessage, error)
}

// DealerFunc adapts a plain function to the Dealer interface.
type DealerFunc func(players []string) (map[string]json.RawMessage, error)

func (f DealerFunc) Deal(players []string) (map[string]json.RawMessage, error) {
	return f(players)
}

const maxCodeAttempts = 16

type hostMsg interface{ isHostMsg() }

type inboundConn struct{ conn transport.Conn }

type inboundData struct {
	conn transport.Conn
	msg  protocol.Message
}

type connClosed struct{ conn transport.Conn }

type startGame struct{ reply chan error }

type eliminatePlayer struct{ name string }

type revivePlayer struct{ name string }

type pushStatus struct{ status protocol.PlayerStatus }

type rosterQuery struct{ reply chan []string }

func (inboundConn) isHostMsg()     {}
func (inboundData) isHostMsg()     {}
func (connClosed) isHostMsg()      {}
func (startGame) isHostMsg()       {}
func (eliminatePlayer) isHostMsg() {}
func (revivePlayer) isHostMsg()    {}
func (pushStatus) isHostMsg()      {}
func (rosterQuery) isHostMsg()     {}

type rosterEntry struct {
	name   string
	peerID string
}

// Host is the authoritative side of a room: it owns the roster, the stored
// role assignments, and the active-connections map. All of that state is
// mutated only inside the run loop, so no locking is needed around it.
type Host struct {
	cfg    Config
	tr     transport.Transport
	dealer Dealer
	events *Events
	log    *zap.Logger

	inbox  chan hostMsg
	ctx    context.Context
	cancel context.CancelFunc

	code     string
	listener transport.Listener
	phase    Phase
	phaseVal atomic.Value // mirrors phase for observers outside the loop

	roster []rosterEntry                   // ordered, source of truth for "who is connected"
	conns  map[string]transport.Conn       // peerID -> connection handle
	known  map[string]bool                 // names ever admitted; rejoin validates against this
	roles  map[string]json.RawMessage      // name -> stored role payload, survives reconnects
	missed map[string]int                  // peerID -> consecutive unanswered pings

	graceTimers []*time.Timer
}

func NewHost(cfg Config, tr transport.Transport, dealer Dealer, events *Events, log *zap.Logger) *Host {
	if events == nil {
		events = NewEvents()
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Host{
		cfg:    cfg.withDefaults(),
		tr:     tr,
		dealer: dealer,
		events: events,
		log:    log,
		inbox:  make(chan hostMsg, 64),
		phase:  PhaseCreated,
		conns:  make(map[string]transport.Conn),
		known:  make(map[string]bool),
		roles:  make(map[string]json.RawMessage),
		missed: make(map[string]int),
	}
	h.phaseVal.Store(PhaseCreated)
	return h
}

// Open claims a room code at the rendezvous layer and starts accepting
// joins. Codes are regenerated until an unclaimed one is found.
func (h *Host) Open(ctx context.Context) (string, error) {
	if h.Phase() != PhaseCreated {
		return "", fmt.Errorf("open: %w", ErrSessionClosed)
	}

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := GenerateRoomCode()
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		l, err := h.tr.Listen(ctx, code)
		if err == nil {
			h.code = code
			h.listener = l
			break
		}
		if err == transport.ErrIdentityTaken {
			h.log.Debug("room code collision, regenerating", zap.String("code", code))
			continue
		}
		return "", fmt.Errorf("listen: %w", err)
	}
	if h.listener == nil {
		return "", fmt.Errorf("open: exhausted room code attempts")
	}

	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.setPhase(PhaseOpen)
	go h.run()
	go h.acceptLoop()

	h.log.Info("room open", zap.String("code", h.code))
	return h.code, nil
}

// RoomCode returns the claimed code. Empty until Open succeeds.
func (h *Host) RoomCode() string { return h.code }

func (h *Host) Phase() Phase { return h.phaseVal.Load().(Phase) }

func (h *Host) setPhase(p Phase) {
	h.phase = p
	h.phaseVal.Store(p)
}

// StartGame snapshots the roster, asks the dealer for the secret
// assignments, unicasts each player their role, stores the assignments for
// reconnection, and broadcasts the public start signal.
func (h *Host) StartGame(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := h.post(ctx, startGame{reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EliminatePlayer notifies the named player's connection that they were
// eliminated. If the player has no open connection the notification is
// silently dropped.
func (h *Host) EliminatePlayer(ctx context.Context, name string) error {
	return h.post(ctx, eliminatePlayer{name: name})
}

// RevivePlayer notifies the named player's connection that they were
// revived. Same delivery semantics as EliminatePlayer.
func (h *Host) RevivePlayer(ctx context.Context, name string) error {
	return h.post(ctx, revivePlayer{name: name})
}

// PushStatus sends per-player status flags to that player's connection.
func (h *Host) PushStatus(ctx context.Context, status protocol.PlayerStatus) error {
	return h.post(ctx, pushStatus{status: status})
}

// Roster returns the current ordered player-name list.
func (h *Host) Roster(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	if err := h.post(ctx, rosterQuery{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case names := <-reply:
		return names, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close tears the room down: stops timers, closes every connection and the
// listener. Idempotent.
func (h *Host) Close() {
	if h.cancel != nil {
		h.cancel()
	} else {
		h.setPhase(PhaseClosed)
	}
}

func (h *Host) post(ctx context.Context, m hostMsg) error {
	if h.Phase() == PhaseCreated || h.Phase() == PhaseClosed {
		return ErrSessionClosed
	}
	select {
	case h.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ctx.Done():
		return ErrSessionClosed
	}
}

func (h *Host) acceptLoop() {
	for conn := range h.listener.Accept() {
		select {
		case h.inbox <- inboundConn{conn: conn}:
		case <-h.ctx.Done():
			return
		}
	}
}

// pump forwards one connection's messages into the run loop, then reports
// the close. Pre-join connections are pumped too; they only matter once a
// JOIN/REJOIN admits them.
func (h *Host) pump(conn transport.Conn) {
	for msg := range conn.Recv() {
		select {
		case h.inbox <- inboundData{conn: conn, msg: msg}:
		case <-h.ctx.Done():
			return
		}
	}
	select {
	case h.inbox <- connClosed{conn: conn}:
	case <-h.ctx.Done():
	}
}

func (h *Host) run() {
	heartbeat := time.NewTicker(h.cfg.HeartbeatPeriod)
	defer heartbeat.Stop()

	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case <-heartbeat.C:
			h.sweepHeartbeat()

		case m := <-h.inbox:
			switch msg := m.(type) {
			case inboundConn:
				go h.pump(msg.conn)

			case inboundData:
				h.handleData(msg.conn, msg.msg)

			case connClosed:
				h.handleClose(msg.conn)

			case startGame:
				msg.reply <- h.handleStart()

			case eliminatePlayer:
				h.unicast(msg.name, protocol.Message{
					Type:       protocol.TypePlayerEliminated,
					PlayerName: msg.name,
				})

			case revivePlayer:
				h.unicast(msg.name, protocol.Message{
					Type:       protocol.TypePlayerRevived,
					PlayerName: msg.name,
				})

			case pushStatus:
				st := msg.status
				h.unicast(st.PlayerName, protocol.Message{
					Type:   protocol.TypePlayerStatus,
					Status: &st,
				})

			case rosterQuery:
				msg.reply <- h.playerNames()
			}
		}
	}
}

func (h *Host) handleData(conn transport.Conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeJoinRequest:
		h.handleJoin(conn, msg.PlayerName)
	case protocol.TypeRejoinRequest:
		h.handleRejoin(conn, msg.PlayerName)
	case protocol.TypePong:
		h.missed[conn.PeerID()] = 0
	default:
		h.log.Warn("unexpected message on host",
			zap.String("type", string(msg.Type)),
			zap.String("peer", conn.PeerID()))
	}
}

func (h *Host) handleJoin(conn transport.Conn, name string) {
	if h.phase != PhaseOpen {
		h.reject(conn, protocol.TypeJoinRejected, "game already started")
		return
	}
	for _, entry := range h.roster {
		if entry.name == name {
			h.reject(conn, protocol.TypeJoinRejected, fmt.Sprintf("name %q is already taken", name))
			return
		}
	}

	peerID := conn.PeerID()
	h.roster = append(h.roster, rosterEntry{name: name, peerID: peerID})
	h.conns[peerID] = conn
	h.known[name] = true
	h.missed[peerID] = 0

	h.send(conn, protocol.Message{Type: protocol.TypeJoinAccepted})
	h.send(conn, protocol.Message{
		Type:    protocol.TypeWelcome,
		Message: "welcome to the village",
	})

	h.log.Info("player joined", zap.String("name", name), zap.String("peer", peerID))
	h.events.emitConnected(name, peerID)
	h.broadcastRoster()
}

func (h *Host) handleRejoin(conn transport.Conn, name string) {
	if !h.known[name] {
		h.reject(conn, protocol.TypeRejoinRejected, fmt.Sprintf("player %q is not in this game", name))
		return
	}

	peerID := conn.PeerID()

	// Evict any previous connection for this name. Last writer wins; the
	// stale connection's close event is ignored because the handle no
	// longer matches.
	remapped := false
	for i, entry := range h.roster {
		if entry.name != name {
			continue
		}
		if old, ok := h.conns[entry.peerID]; ok && entry.peerID != peerID {
			delete(h.conns, entry.peerID)
			delete(h.missed, entry.peerID)
			_ = old.Close()
		}
		h.roster[i].peerID = peerID
		remapped = true
		break
	}
	if !remapped {
		// The close of the old connection already removed the roster
		// entry; re-admit under the same name.
		h.roster = append(h.roster, rosterEntry{name: name, peerID: peerID})
	}

	h.conns[peerID] = conn
	h.missed[peerID] = 0

	h.send(conn, protocol.Message{
		Type:    protocol.TypeRejoinAccepted,
		Message: fmt.Sprintf("welcome back, %s", name),
	})
	if role, ok := h.roles[name]; ok {
		h.send(conn, protocol.Message{Type: protocol.TypeYourRole, RoleData: role})
	}

	h.log.Info("player rejoined", zap.String("name", name), zap.String("peer", peerID))
	h.events.emitConnected(name, peerID)
	h.broadcastRoster()
}

func (h *Host) handleClose(conn transport.Conn) {
	peerID := conn.PeerID()
	cur, ok := h.conns[peerID]
	if !ok || cur != conn {
		// Pre-join connection, or one already evicted by a rejoin.
		return
	}
	delete(h.conns, peerID)
	delete(h.missed, peerID)

	name := ""
	for i, entry := range h.roster {
		if entry.peerID == peerID {
			name = entry.name
			h.roster = append(h.roster[:i], h.roster[i+1:]...)
			break
		}
	}

	h.log.Info("player disconnected", zap.String("name", name), zap.String("peer", peerID))
	h.events.emitDisconnected(name, peerID)
	h.broadcastRoster()
}

func (h *Host) handleStart() error {
	if h.phase != PhaseOpen {
		return ErrNotOpen
	}

	names := h.playerNames()
	assignments, err := h.dealer.Deal(names)
	if err != nil {
		return fmt.Errorf("deal roles: %w", err)
	}
	for name, role := range assignments {
		h.roles[name] = role
	}

	for _, entry := range h.roster {
		conn, ok := h.conns[entry.peerID]
		if !ok {
			continue
		}
		role, ok := assignments[entry.name]
		if !ok {
			continue
		}
		h.send(conn, protocol.Message{Type: protocol.TypeYourRole, RoleData: role})
	}

	h.broadcast(protocol.Message{
		Type:     protocol.TypeStartGame,
		GameData: &protocol.GameData{PlayerNames: names},
	})

	h.setPhase(PhaseInProgress)
	h.log.Info("game started", zap.Int("players", len(names)))
	return nil
}

// sweepHeartbeat pings every active connection and evicts the ones that
// have gone silent for HeartbeatMisses consecutive periods.
func (h *Host) sweepHeartbeat() {
	for peerID, conn := range h.conns {
		if h.missed[peerID] >= h.cfg.HeartbeatMisses {
			h.log.Warn("heartbeat lost, evicting", zap.String("peer", peerID))
			_ = conn.Close() // surfaces as a normal connClosed
			continue
		}
		h.missed[peerID]++
		h.send(conn, protocol.Message{Type: protocol.TypePing})
	}
}

// reject answers with a reasoned refusal and closes the connection after a
// grace period so the message can be delivered first.
func (h *Host) reject(conn transport.Conn, t protocol.Type, reason string) {
	h.send(conn, protocol.Message{Type: t, Reason: reason})
	h.graceTimers = append(h.graceTimers, time.AfterFunc(h.cfg.RejectGrace, func() {
		_ = conn.Close()
	}))
}

func (h *Host) send(conn transport.Conn, msg protocol.Message) {
	if !conn.Open() {
		return
	}
	if err := conn.Send(msg); err != nil {
		h.log.Debug("send failed", zap.String("peer", conn.PeerID()), zap.Error(err))
	}
}

func (h *Host) broadcast(msg protocol.Message) {
	for _, conn := range h.conns {
		h.send(conn, msg)
	}
}

func (h *Host) broadcastRoster() {
	h.broadcast(protocol.Message{
		Type:    protocol.TypePlayerListUpdate,
		Players: h.playerNames(),
	})
}

// unicast delivers to the one connection matching the target player name.
// No queuing, no retry: a missing or closed connection means the message is
// dropped.
func (h *Host) unicast(name string, msg protocol.Message) {
	for _, entry := range h.roster {
		if entry.name != name {
			continue
		}
		if conn, ok := h.conns[entry.peerID]; ok {
			h.send(conn, msg)
		}
		return
	}
	h.log.Debug("unicast dropped, no connection for player", zap.String("name", name))
}

func (h *Host) playerNames() []string {
	names := make([]string, len(h.roster))
	for i, entry := range h.roster {
		names[i] = entry.name
	}
	return names
}

func (h *Host) shutdown() {
	if h.phase == PhaseClosed {
		return
	}
	h.setPhase(PhaseClosed)
	for _, t := range h.graceTimers {
		t.Stop()
	}
	for _, conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[string]transport.Conn)
	if h.listener != nil {
		_ = h.listener.Close()
	}
	h.log.Info("room closed", zap.String("code", h.code))
}
