package session

import (
	"context"
	"sync"
)

// Handshake resolves once: on the first successful connect for a session,
// or on a definitive failure.
type Handshake struct {
	userID string
	done   chan struct{}
	once   sync.Once
	err    error
}

func newHandshake(userID string) *Handshake {
	return &Handshake{userID: userID, done: make(chan struct{})}
}

func failedHandshake(userID string, err error) *Handshake {
	h := newHandshake(userID)
	h.resolve(err)
	return h
}

func (h *Handshake) resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

func (h *Handshake) UserID() string { return h.userID }

func (h *Handshake) Done() <-chan struct{} { return h.done }

// Err is nil until Done is closed.
func (h *Handshake) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (h *Handshake) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handshake) isDone() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
