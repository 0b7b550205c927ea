package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/n0tsosmart/slaythewerewolf/internal/protocol"
	"github.com/n0tsosmart/slaythewerewolf/internal/reconnect"
	"github.com/n0tsosmart/slaythewerewolf/internal/transport"
)

// ClientState is the client-side connection lifecycle.
type ClientState string

const (
	StateIdle         ClientState = "idle"
	StateConnecting   ClientState = "connecting"
	StateJoined       ClientState = "joined"
	StateReconnecting ClientState = "reconnecting"
	StateGivenUp      ClientState = "given_up"
)

// Client owns the single connection to a host and the local view fed by it.
// A mid-game connection loss enters the reconnection state machine instead
// of surfacing immediately; only an exhausted retry budget escalates to
// hostDisconnected.
type Client struct {
	cfg    Config
	tr     transport.Transport
	store  *reconnect.Store
	events *Events
	log    *zap.Logger

	mu           sync.Mutex
	state        ClientState
	conn         transport.Conn
	playerName   string
	roomCode     string
	attempts     int
	role         json.RawMessage
	closed       bool
	done         chan struct{}
	closeOnce    sync.Once
}

func NewClient(cfg Config, tr transport.Transport, store *reconnect.Store, events *Events, log *zap.Logger) *Client {
	if events == nil {
		events = NewEvents()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:    cfg.withDefaults(),
		tr:     tr,
		store:  store,
		events: events,
		log:    log,
		state:  StateIdle,
		done:   make(chan struct{}),
	}
}

func (c *Client) State() ClientState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the secret role payload received from the host, or nil if
// none arrived yet.
func (c *Client) Role() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// Join connects to the room and requests admission under playerName. It
// blocks until the host accepts, the host rejects, the attempt times out,
// or ctx is cancelled. Error classes: ErrRoomNotFound, *RejectedError,
// ErrJoinTimeout, or a wrapped transport error.
func (c *Client) Join(ctx context.Context, roomCode, playerName string) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateJoined {
		c.mu.Unlock()
		return fmt.Errorf("join: already in a session")
	}
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.join(ctx, roomCode, playerName, false)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}
	return err
}

// Resume re-joins the room recorded by the last successful (re)join, if the
// record is still present and unexpired.
func (c *Client) Resume(ctx context.Context) error {
	rec, ok := c.store.Load()
	if !ok {
		return ErrNoSavedSession
	}
	c.mu.Lock()
	c.state = StateConnecting
	c.mu.Unlock()

	err := c.join(ctx, rec.HostID, rec.PlayerName, true)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
	}
	return err
}

// Leave is the explicit disconnect: it cancels any pending reconnection,
// closes the connection, and clears the saved record.
func (c *Client) Leave() {
	c.mu.Lock()
	c.closed = true
	c.state = StateIdle
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	if conn != nil {
		_ = conn.Close()
	}
	c.store.Clear()
}

// join performs one dial + request + response race. The response channel is
// raced against the join timeout; both exits close the timer, and every
// failure path closes the connection so no half-open state lingers.
func (c *Client) join(ctx context.Context, roomCode, playerName string, rejoin bool) error {
	conn, err := c.tr.Dial(ctx, roomCode, transport.Metadata{PlayerName: playerName})
	if err != nil {
		if errors.Is(err, transport.ErrPeerUnavailable) {
			return fmt.Errorf("%w: %q", ErrRoomNotFound, roomCode)
		}
		return fmt.Errorf("connect to host: %w", err)
	}

	reqType := protocol.TypeJoinRequest
	if rejoin {
		reqType = protocol.TypeRejoinRequest
	}
	if err := conn.Send(protocol.Message{Type: reqType, PlayerName: playerName}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("send %s: %w", reqType, err)
	}

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-conn.Recv():
			if !ok {
				_ = conn.Close()
				return fmt.Errorf("connection closed before host answered")
			}
			switch msg.Type {
			case protocol.TypeJoinAccepted, protocol.TypeRejoinAccepted:
				c.admit(conn, roomCode, playerName)
				return nil
			case protocol.TypeJoinRejected, protocol.TypeRejoinRejected:
				_ = conn.Close()
				return &RejectedError{Reason: msg.Reason}
			default:
				// The host may interleave other traffic before the
				// answer; dispatch it normally.
				c.handle(conn, msg)
			}

		case <-timer.C:
			_ = conn.Close()
			return ErrJoinTimeout

		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		}
	}
}

func (c *Client) admit(conn transport.Conn, roomCode, playerName string) {
	c.mu.Lock()
	c.conn = conn
	c.roomCode = roomCode
	c.playerName = playerName
	c.state = StateJoined
	c.attempts = 0
	c.mu.Unlock()

	c.store.Save(reconnect.Record{
		HostID:     roomCode,
		PlayerName: playerName,
		RoomCode:   roomCode,
		IsClient:   true,
	})
	c.log.Info("joined room", zap.String("code", roomCode), zap.String("name", playerName))

	go c.readLoop(conn)
}

func (c *Client) readLoop(conn transport.Conn) {
	for msg := range conn.Recv() {
		c.handle(conn, msg)
	}
	c.onConnLost(conn)
}

func (c *Client) handle(conn transport.Conn, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypePing:
		if err := conn.Send(protocol.Message{Type: protocol.TypePong}); err != nil {
			c.log.Debug("pong failed", zap.Error(err))
		}

	case protocol.TypeWelcome:
		c.log.Debug("welcome from host", zap.String("message", msg.Message))

	case protocol.TypePlayerListUpdate:
		c.events.emitPlayerListUpdate(msg.Players)

	case protocol.TypeStartGame:
		if msg.GameData != nil {
			c.events.emitGameStart(*msg.GameData)
		}

	case protocol.TypeYourRole:
		c.mu.Lock()
		c.role = msg.RoleData
		c.mu.Unlock()
		c.events.emitReceiveRole(msg.RoleData)

	case protocol.TypePlayerEliminated:
		c.events.emitPlayerEliminated(msg.PlayerName)

	case protocol.TypePlayerRevived:
		c.events.emitPlayerRevived(msg.PlayerName)

	case protocol.TypePlayerStatus:
		if msg.Status != nil {
			c.events.emitStatusUpdate(*msg.Status)
		}

	case protocol.TypeJoinAccepted, protocol.TypeRejoinAccepted,
		protocol.TypeJoinRejected, protocol.TypeRejoinRejected:
		// Only meaningful during the join race; stale otherwise.

	default:
		c.log.Warn("unexpected message on client", zap.String("type", string(msg.Type)))
	}
}

// onConnLost classifies a dropped connection: before a role was received it
// is a hard host disconnect; after, it is assumed transient and the backoff
// machine takes over.
func (c *Client) onConnLost(conn transport.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	midGame := c.role != nil
	if midGame {
		c.state = StateReconnecting
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if midGame {
		c.log.Warn("connection to host lost mid-game, reconnecting")
		go c.reconnectLoop()
		return
	}

	c.log.Info("host disconnected")
	c.store.Clear()
	c.events.emitHostDisconnected()
}

func (c *Client) reconnectLoop() {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		delay := c.cfg.Backoff(attempt)
		c.log.Info("reconnection attempt scheduled",
			zap.Int("attempt", attempt),
			zap.Int("max", c.cfg.MaxReconnects),
			zap.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case <-c.done:
			return
		}

		rec, ok := c.store.Load()
		if !ok {
			c.giveUp()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JoinTimeout*2)
		err := c.join(ctx, rec.HostID, rec.PlayerName, true)
		cancel()
		if err == nil {
			c.log.Info("reconnected")
			return
		}
		c.log.Warn("reconnection failed", zap.Int("attempt", attempt), zap.Error(err))

		c.mu.Lock()
		exhausted := c.attempts >= c.cfg.MaxReconnects
		c.mu.Unlock()
		if exhausted {
			c.giveUp()
			return
		}
	}
}

func (c *Client) giveUp() {
	c.mu.Lock()
	c.state = StateGivenUp
	c.mu.Unlock()

	c.log.Warn("reconnection budget exhausted, giving up")
	c.store.Clear()
	c.events.emitHostDisconnected()
}
