package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
	"github.com/n0tsosmart/slaythewerewolf/internal/reconnect"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport/mem"
)

func newTestStore() *reconnect.Store {
	return reconnect.NewStore(afero.NewMemMapFs(), "connection.json", nil)
}

func newTestClient(store *reconnect.Store, network *mem.Network, events *Events) *Client {
	cfg := Config{
		JoinTimeout:     100 * time.Millisecond,
		HeartbeatPeriod: time.Minute,
		HeartbeatMisses: 2,
		RejectGrace:     30 * time.Millisecond,
		ReconnectBase:   10 * time.Millisecond,
		ReconnectCap:    40 * time.Millisecond,
		MaxReconnects:   3,
	}
	return NewClient(cfg, network, store, events, nil)
}

func acceptConn(t *testing.T, l transport.Listener, within time.Duration) transport.Conn {
	t.Helper()
	select {
	case c, ok := <-l.Accept():
		if !ok {
			t.Fatalf("listener closed while waiting for a connection")
		}
		return c
	case <-time.After(within):
		t.Fatalf("timed out waiting for a connection")
		return nil // unreachable
	}
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %v: %s", within, msg)
}

// fakeHost claims a fixed code on the mem network so tests can script the
// host side of the handshake by hand.
func fakeHost(t *testing.T, network *mem.Network, code string) transport.Listener {
	t.Helper()
	l, err := network.Listen(context.Background(), code)
	if err != nil {
		t.Fatalf("listen %q: %v", code, err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestClient_JoinUnknownRoom(t *testing.T) {
	network := mem.NewNetwork()
	c := newTestClient(newTestStore(), network, nil)

	err := c.Join(context.Background(), "XXXX", "alice")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join = %v, want ErrRoomNotFound", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want %s", c.State(), StateIdle)
	}
}

func TestClient_JoinAcceptedSavesRecord(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	c := newTestClient(store, network, nil)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()

	host := acceptConn(t, l, time.Second)
	req := recvMsg(t, host, time.Second)
	if req.Type != protocol.TypeJoinRequest || req.PlayerName != "alice" {
		t.Fatalf("got %s/%s, want JOIN_REQUEST/alice", req.Type, req.PlayerName)
	}
	if err := host.Send(protocol.Message{Type: protocol.TypeJoinAccepted}); err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}
	if c.State() != StateJoined {
		t.Fatalf("state = %s, want %s", c.State(), StateJoined)
	}

	rec, ok := store.Load()
	if !ok {
		t.Fatalf("expected a saved reconnection record")
	}
	if rec.HostID != "WOLF" || rec.PlayerName != "alice" || !rec.IsClient {
		t.Fatalf("record = %+v", rec)
	}

	// joined clients answer the heartbeat
	if err := host.Send(protocol.Message{Type: protocol.TypePing}); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if m := recvMsg(t, host, time.Second); m.Type != protocol.TypePong {
		t.Fatalf("expected PONG, got %s", m.Type)
	}
}

func TestClient_JoinRejectedSurfacesReason(t *testing.T) {
	network := mem.NewNetwork()
	c := newTestClient(newTestStore(), network, nil)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()

	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	if err := host.Send(protocol.Message{Type: protocol.TypeJoinRejected, Reason: "name \"alice\" is already taken"}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	err := <-errs
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("join = %v, want *RejectedError", err)
	}
	if rejected.Reason == "" {
		t.Fatalf("expected the host's reason to survive")
	}
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want %s", c.State(), StateIdle)
	}
}

func TestClient_JoinTimesOutWithoutAnswer(t *testing.T) {
	network := mem.NewNetwork()
	c := newTestClient(newTestStore(), network, nil)
	l := fakeHost(t, network, "WOLF")

	start := time.Now()
	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()

	// swallow the request, never answer
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)

	err := <-errs
	if !errors.Is(err, ErrJoinTimeout) {
		t.Fatalf("join = %v, want ErrJoinTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("gave up after %v, before the timeout window", elapsed)
	}
	// the abandoned connection is closed, not leaked
	recvClosed(t, host, time.Second)
}

func TestClient_GameTrafficFansOutToCallbacks(t *testing.T) {
	network := mem.NewNetwork()
	events := NewEvents()
	lists := make(chan []string, 4)
	starts := make(chan protocol.GameData, 1)
	roles := make(chan json.RawMessage, 1)
	elims := make(chan string, 1)
	revs := make(chan string, 1)
	stats := make(chan protocol.PlayerStatus, 1)
	events.OnPlayerListUpdate(func(players []string) { lists <- players })
	events.OnGameStart(func(data protocol.GameData) { starts <- data })
	events.OnReceiveRole(func(role json.RawMessage) { roles <- role })
	events.OnPlayerEliminated(func(name string) { elims <- name })
	events.OnPlayerRevived(func(name string) { revs <- name })
	events.OnStatusUpdate(func(status protocol.PlayerStatus) { stats <- status })

	c := newTestClient(newTestStore(), network, events)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	_ = host.Send(protocol.Message{Type: protocol.TypeJoinAccepted})
	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}

	send := func(m protocol.Message) {
		t.Helper()
		if err := host.Send(m); err != nil {
			t.Fatalf("send %s: %v", m.Type, err)
		}
	}

	send(protocol.Message{Type: protocol.TypePlayerListUpdate, Players: []string{"alice", "bob"}})
	select {
	case players := <-lists:
		if len(players) != 2 {
			t.Fatalf("players = %v", players)
		}
	case <-time.After(time.Second):
		t.Fatalf("no player list callback")
	}

	send(protocol.Message{Type: protocol.TypeYourRole, RoleData: json.RawMessage(`{"roleId":"seer"}`)})
	select {
	case role := <-roles:
		if string(role) != `{"roleId":"seer"}` {
			t.Fatalf("role = %s", role)
		}
	case <-time.After(time.Second):
		t.Fatalf("no role callback")
	}
	waitFor(t, time.Second, func() bool { return c.Role() != nil }, "role not retained")

	send(protocol.Message{Type: protocol.TypeStartGame, GameData: &protocol.GameData{PlayerNames: []string{"alice", "bob"}}})
	select {
	case data := <-starts:
		if len(data.PlayerNames) != 2 {
			t.Fatalf("start data = %+v", data)
		}
	case <-time.After(time.Second):
		t.Fatalf("no game start callback")
	}

	send(protocol.Message{Type: protocol.TypePlayerEliminated, PlayerName: "bob"})
	select {
	case name := <-elims:
		if name != "bob" {
			t.Fatalf("eliminated = %q", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("no elimination callback")
	}

	send(protocol.Message{Type: protocol.TypePlayerRevived, PlayerName: "bob"})
	select {
	case name := <-revs:
		if name != "bob" {
			t.Fatalf("revived = %q", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("no revival callback")
	}

	send(protocol.Message{Type: protocol.TypePlayerStatus, Status: &protocol.PlayerStatus{PlayerName: "alice", Suspect: true}})
	select {
	case st := <-stats:
		if st.PlayerName != "alice" || !st.Suspect {
			t.Fatalf("status = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatalf("no status callback")
	}
}

func TestClient_PreGameHostLossIsFinal(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	events := NewEvents()
	var lost atomic.Int32
	events.OnHostDisconnected(func() { lost.Add(1) })

	c := newTestClient(store, network, events)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	_ = host.Send(protocol.Message{Type: protocol.TypeJoinAccepted})
	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}

	// no role yet: a dropped connection is a hard host disconnect
	_ = host.Close()

	waitFor(t, time.Second, func() bool { return lost.Load() == 1 }, "hostDisconnected not emitted")
	waitFor(t, time.Second, func() bool { return c.State() == StateIdle }, "state not back to idle")
	if _, ok := store.Load(); ok {
		t.Fatalf("record should be cleared on a pre-game host loss")
	}
}

func TestClient_ReconnectsAfterMidGameDrop(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	c := newTestClient(store, network, nil)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	_ = host.Send(protocol.Message{Type: protocol.TypeJoinAccepted})
	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}

	_ = host.Send(protocol.Message{Type: protocol.TypeYourRole, RoleData: json.RawMessage(`{"roleId":"seer"}`)})
	waitFor(t, time.Second, func() bool { return c.Role() != nil }, "role never arrived")

	// mid-game drop: the client must come back on its own with a rejoin
	_ = host.Close()
	waitFor(t, time.Second, func() bool { return c.State() == StateReconnecting }, "not reconnecting")

	replacement := acceptConn(t, l, time.Second)
	req := recvMsg(t, replacement, time.Second)
	if req.Type != protocol.TypeRejoinRequest || req.PlayerName != "alice" {
		t.Fatalf("got %s/%s, want REJOIN_REQUEST/alice", req.Type, req.PlayerName)
	}
	_ = replacement.Send(protocol.Message{Type: protocol.TypeRejoinAccepted})

	waitFor(t, time.Second, func() bool { return c.State() == StateJoined }, "rejoin not completed")
}

func TestClient_GivesUpAfterRetryBudget(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	events := NewEvents()
	var lost atomic.Int32
	events.OnHostDisconnected(func() { lost.Add(1) })

	c := newTestClient(store, network, events)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	_ = host.Send(protocol.Message{Type: protocol.TypeJoinAccepted})
	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}
	_ = host.Send(protocol.Message{Type: protocol.TypeYourRole, RoleData: json.RawMessage(`{"roleId":"seer"}`)})
	waitFor(t, time.Second, func() bool { return c.Role() != nil }, "role never arrived")

	// the host vanishes for good
	_ = l.Close()
	_ = host.Close()

	waitFor(t, 3*time.Second, func() bool { return c.State() == StateGivenUp }, "retry budget not exhausted")
	if got := lost.Load(); got != 1 {
		t.Fatalf("hostDisconnected fired %d times, want exactly once", got)
	}
	if _, ok := store.Load(); ok {
		t.Fatalf("record should be cleared after giving up")
	}
}

func TestClient_LeaveClearsEverything(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	c := newTestClient(store, network, nil)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Join(context.Background(), "WOLF", "alice") }()
	host := acceptConn(t, l, time.Second)
	recvMsg(t, host, time.Second)
	_ = host.Send(protocol.Message{Type: protocol.TypeJoinAccepted})
	if err := <-errs; err != nil {
		t.Fatalf("join: %v", err)
	}

	c.Leave()

	recvClosed(t, host, time.Second)
	if c.State() != StateIdle {
		t.Fatalf("state = %s, want %s", c.State(), StateIdle)
	}
	if _, ok := store.Load(); ok {
		t.Fatalf("record should be cleared by an explicit leave")
	}
}

func TestClient_ResumeWithoutRecord(t *testing.T) {
	network := mem.NewNetwork()
	c := newTestClient(newTestStore(), network, nil)

	if err := c.Resume(context.Background()); !errors.Is(err, ErrNoSavedSession) {
		t.Fatalf("resume = %v, want ErrNoSavedSession", err)
	}
}

func TestClient_ResumeRejoinsSavedRoom(t *testing.T) {
	network := mem.NewNetwork()
	store := newTestStore()
	store.Save(reconnect.Record{HostID: "WOLF", PlayerName: "alice", RoomCode: "WOLF", IsClient: true})

	c := newTestClient(store, network, nil)
	l := fakeHost(t, network, "WOLF")

	errs := make(chan error, 1)
	go func() { errs <- c.Resume(context.Background()) }()

	host := acceptConn(t, l, time.Second)
	req := recvMsg(t, host, time.Second)
	if req.Type != protocol.TypeRejoinRequest || req.PlayerName != "alice" {
		t.Fatalf("got %s/%s, want REJOIN_REQUEST/alice", req.Type, req.PlayerName)
	}
	_ = host.Send(protocol.Message{Type: protocol.TypeRejoinAccepted})

	if err := <-errs; err != nil {
		t.Fatalf("resume: %v", err)
	}
	if c.State() != StateJoined {
		t.Fatalf("state = %s, want %s", c.State(), StateJoined)
	}
}

// end-to-end: real host, real clients, one shared in-process network
func TestSession_HostAndClientsEndToEnd(t *testing.T) {
	network := mem.NewNetwork()
	h, code := openHost(t, network, testConfig(), nil)

	aliceEvents := NewEvents()
	aliceRoles := make(chan json.RawMessage, 1)
	aliceElims := make(chan string, 1)
	aliceEvents.OnReceiveRole(func(role json.RawMessage) { aliceRoles <- role })
	aliceEvents.OnPlayerEliminated(func(name string) { aliceElims <- name })

	alice := newTestClient(newTestStore(), network, aliceEvents)
	bob := newTestClient(newTestStore(), network, nil)

	if err := alice.Join(context.Background(), code, "alice"); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if err := bob.Join(context.Background(), code, "bob"); err != nil {
		t.Fatalf("bob join: %v", err)
	}

	if err := h.StartGame(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	select {
	case role := <-aliceRoles:
		if len(role) == 0 {
			t.Fatalf("empty role payload")
		}
	case <-time.After(time.Second):
		t.Fatalf("alice never received a role")
	}

	if err := h.EliminatePlayer(context.Background(), "alice"); err != nil {
		t.Fatalf("eliminate: %v", err)
	}
	select {
	case name := <-aliceElims:
		if name != "alice" {
			t.Fatalf("eliminated = %q", name)
		}
	case <-time.After(time.Second):
		t.Fatalf("alice never heard about her elimination")
	}
}
