package session

import "time"

// Config carries the protocol timing knobs. Zero values are replaced with
// the defaults below, so tests can shrink individual durations without
// spelling out the rest.
type Config struct {
	// JoinTimeout bounds how long a join attempt waits for the host's
	// accept/reject response before the attempt is abandoned and its
	// connection closed.
	JoinTimeout time.Duration

	// HeartbeatPeriod is the interval between host PING broadcasts.
	HeartbeatPeriod time.Duration

	// HeartbeatMisses is how many consecutive unanswered PINGs the host
	// tolerates before it proactively closes the connection.
	HeartbeatMisses int

	// RejectGrace is how long the host keeps a rejected connection open so
	// the rejection message can be delivered before the close.
	RejectGrace time.Duration

	// ReconnectBase and ReconnectCap shape the exponential backoff between
	// client reconnection attempts: min(base * 2^(attempt-1), cap).
	ReconnectBase time.Duration
	ReconnectCap  time.Duration

	// MaxReconnects is the retry budget before the client gives up and
	// reports the host as disconnected.
	MaxReconnects int
}

func DefaultConfig() Config {
	return Config{
		JoinTimeout:     5 * time.Second,
		HeartbeatPeriod: 20 * time.Second,
		HeartbeatMisses: 2,
		RejectGrace:     500 * time.Millisecond,
		ReconnectBase:   time.Second,
		ReconnectCap:    10 * time.Second,
		MaxReconnects:   3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = d.JoinTimeout
	}
	if c.HeartbeatPeriod <= 0 {
		c.HeartbeatPeriod = d.HeartbeatPeriod
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = d.HeartbeatMisses
	}
	if c.RejectGrace <= 0 {
		c.RejectGrace = d.RejectGrace
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = d.ReconnectBase
	}
	if c.ReconnectCap <= 0 {
		c.ReconnectCap = d.ReconnectCap
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = d.MaxReconnects
	}
	return c
}

// Backoff returns the wait before reconnection attempt number attempt,
// counted from 1.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := c.ReconnectBase << (attempt - 1)
	if d > c.ReconnectCap || d <= 0 {
		return c.ReconnectCap
	}
	return d
}
