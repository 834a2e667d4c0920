package session

import (
	"sync"

	"github.com/park285/chess-sync-client/pkg/chessdto"
)

// Subscription is the live listener for one destination.
type Subscription struct {
	gameID      string
	destination string
	kind        chessdto.Kind
	gen         uint64
	handler     Handler
	stream      Stream

	closeOnce sync.Once
	closed    chan struct{}
}

func newSubscription(gameID, destination string, kind chessdto.Kind, gen uint64, stream Stream, h Handler) *Subscription {
	return &Subscription{
		gameID:      gameID,
		destination: destination,
		kind:        kind,
		gen:         gen,
		handler:     h,
		stream:      stream,
		closed:      make(chan struct{}),
	}
}

func (s *Subscription) GameID() string      { return s.gameID }
func (s *Subscription) Destination() string { return s.destination }
func (s *Subscription) Kind() chessdto.Kind { return s.kind }

// Closed is closed once the subscription stops delivering.
func (s *Subscription) Closed() <-chan struct{} { return s.closed }

func (s *Subscription) close() {
	s.closeOnce.Do(func() { close(s.closed) })
}

func (s *Subscription) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}
