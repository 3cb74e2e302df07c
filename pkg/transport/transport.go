package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/huddle/pkg/protocol"
)

var (
	ErrNotConnected       = errors.New("transport is not connected")
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")
	ErrSuperseded         = errors.New("connection attempt superseded")
	ErrMissingTarget      = errors.New("missing conversation id")
)

const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 5 * time.Second
)

// State of the single socket owned by a Transport.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Target names the conversation a transport connects to and the
// credentials reused on every reconnection attempt.
type Target struct {
	ConversationID string
	Token          string
	ConnectionID   string
	// Identifier is announced to the server so it can attribute presence
	// events to this connection.
	Identifier string
}

// Status is the observable connection handle.
type Status struct {
	State            State
	ConversationID   string
	ConnectionID     string
	ReconnectAttempt int
	// Terminal is set once automatic reconnection gave up. Only an explicit
	// Connect leaves this state.
	Terminal bool
	Err      error
}

// Handler receives decoded envelopes in arrival order.
type Handler func(env protocol.Envelope)

// Transport owns exactly one socket and exposes send/subscribe.
type Transport interface {
	Connect(ctx context.Context, target Target) error
	Disconnect()
	Send(env protocol.Envelope) error
	SendRaw(data []byte) error
	Subscribe(h Handler) (unsubscribe func())
	OnStatus(f func(Status)) (unsubscribe func())
	Status() Status
}

// Config holds the reconnection policy.
type Config struct {
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	WriteTimeout         time.Duration
}

func DefaultConfig() Config {
	return Config{
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		WriteTimeout:         DefaultWriteTimeout,
	}
}

func (c Config) normalized() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	return c
}
