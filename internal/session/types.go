package session

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrNotConnected       = errors.New("session: not connected")
	ErrEmptyUserID        = errors.New("session: empty user id")
	ErrEmptyGameID        = errors.New("session: empty game id")
	ErrDisconnected       = errors.New("session: disconnected")
	ErrReconnectExhausted = errors.New("session: reconnect attempts exhausted")
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Message is one inbound frame from a subscribed destination.
type Message struct {
	Destination string
	ContentType string
	Body        []byte
}

// Stream delivers messages for one broker subscription. C is closed when the
// subscription ends or the connection drops.
type Stream interface {
	C() <-chan Message
	Unsubscribe() error
}

// Conn is a negotiated messaging connection.
type Conn interface {
	Subscribe(destination string) (Stream, error)
	Send(destination, contentType string, body []byte) error
	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}
	Err() error
	Close() error
}

type Credentials struct {
	Login     string
	Passcode  string
	Host      string
	Heartbeat time.Duration
	Header    http.Header
}

type Dialer interface {
	Dial(ctx context.Context, creds Credentials) (Conn, error)
}

// Handler consumes one message. Returned errors are logged and the message is dropped.
type Handler func(msg Message) error

// Handlers receive the per-principal queues set up on every handshake.
type Handlers struct {
	OnMatchFound  Handler
	OnMatchStatus Handler
	OnServerError Handler
	// OnError receives connectivity failures. It must not block.
	OnError func(err error)
}

// Event is emitted to state observers on every transition.
type Event struct {
	State  State
	UserID string
	// Err is set when the transition was caused by a failure rather than a caller.
	Err error
}

type StateCallback func(Event)

type Config struct {
	ReconnectDelay       time.Duration
	Heartbeat            time.Duration
	MaxReconnectAttempts int
	Passcode             string
	Host                 string

	AppPrefix   string
	UserPrefix  string
	TopicPrefix string

	// HeaderProvider adds handshake headers such as the REST session cookie.
	HeaderProvider func() http.Header
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 4 * time.Second
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.AppPrefix == "" {
		c.AppPrefix = "/app"
	}
	if c.UserPrefix == "" {
		c.UserPrefix = "/user/queue"
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "/topic"
	}
	return c
}
