// Package sessiontest provides an in-memory session.Dialer for tests.
package sessiontest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/park285/chess-sync-client/internal/session"
)

var ErrDropped = errors.New("sessiontest: connection dropped")

type Frame struct {
	Destination string
	ContentType string
	Body        []byte
}

type Dialer struct {
	mu       sync.Mutex
	failN    int
	failErr  error
	subErr   error
	linger   bool
	conns    []*Conn
	creds    []session.Credentials
	dialedCh chan *Conn
}

func NewDialer() *Dialer {
	return &Dialer{dialedCh: make(chan *Conn, 64)}
}

// FailNext makes the next n dials fail with err. n < 0 fails forever.
func (d *Dialer) FailNext(n int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failN = n
	d.failErr = err
}

// FailSubscribe makes subscriptions on future connections fail.
func (d *Dialer) FailSubscribe(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subErr = err
}

// Linger makes streams on future connections keep buffering frames after
// unsubscribe or teardown, like a network layer that still holds queued frames.
func (d *Dialer) Linger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.linger = true
}

func (d *Dialer) Dial(ctx context.Context, creds session.Credentials) (session.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.creds = append(d.creds, creds)
	if d.failN != 0 {
		if d.failN > 0 {
			d.failN--
		}
		err := d.failErr
		d.mu.Unlock()
		if err == nil {
			err = errors.New("sessiontest: dial refused")
		}
		return nil, err
	}
	c := &Conn{
		creds:   creds,
		streams: make(map[string][]*Stream),
		done:    make(chan struct{}),
		subErr:  d.subErr,
		linger:  d.linger,
	}
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	select {
	case d.dialedCh <- c:
	default:
	}
	return c, nil
}

// Attempts counts every dial, successful or not.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.creds)
}

func (d *Dialer) Credentials() []session.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]session.Credentials(nil), d.creds...)
}

func (d *Dialer) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// NextConn waits for the next successful dial.
func (d *Dialer) NextConn(timeout time.Duration) (*Conn, bool) {
	select {
	case c := <-d.dialedCh:
		return c, true
	case <-time.After(timeout):
		return nil, false
	}
}

type Conn struct {
	creds   session.Credentials
	subErr  error
	mu      sync.Mutex
	streams map[string][]*Stream
	sent    []Frame
	sendErr error
	linger  bool
	done    chan struct{}
	err     error
	closed  bool
}

func (c *Conn) Login() string { return c.creds.Login }

func (c *Conn) Subscribe(destination string) (session.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrDropped
	}
	if c.subErr != nil {
		return nil, c.subErr
	}
	s := &Stream{destination: destination, linger: c.linger, ch: make(chan session.Message, 256)}
	c.streams[destination] = append(c.streams[destination], s)
	return s, nil
}

func (c *Conn) Send(destination, contentType string, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDropped
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, Frame{Destination: destination, ContentType: contentType, Body: append([]byte(nil), body...)})
	return nil
}

func (c *Conn) SetSendError(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

// Drop simulates an unexpected connection loss.
func (c *Conn) Drop(err error) {
	if err == nil {
		err = ErrDropped
	}
	c.shutdown(err)
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = err
	var all []*Stream
	for _, list := range c.streams {
		all = append(all, list...)
	}
	if !c.linger {
		c.streams = make(map[string][]*Stream)
	}
	c.mu.Unlock()

	for _, s := range all {
		_ = s.Unsubscribe()
	}
	close(c.done)
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Deliver pushes body to every open stream on destination and returns how many received it.
func (c *Conn) Deliver(destination string, body []byte) int {
	return c.DeliverFrame(destination, session.Message{Destination: destination, ContentType: "application/json", Body: body})
}

// DeliverFrame pushes msg as-is to the streams subscribed on destination, so the
// frame's own destination header may differ from the subscription.
func (c *Conn) DeliverFrame(destination string, msg session.Message) int {
	c.mu.Lock()
	targets := append([]*Stream(nil), c.streams[destination]...)
	c.mu.Unlock()

	n := 0
	for _, s := range targets {
		if s.push(msg) {
			n++
		}
	}
	return n
}

func (c *Conn) Sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.sent...)
}

func (c *Conn) SentTo(destination string) []Frame {
	var out []Frame
	for _, f := range c.Sent() {
		if f.Destination == destination {
			out = append(out, f)
		}
	}
	return out
}

// Subscribers counts open streams on destination.
func (c *Conn) Subscribers(destination string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.streams[destination] {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

type Stream struct {
	destination  string
	linger       bool
	mu           sync.Mutex
	closed       bool
	unsubscribed bool
	ch           chan session.Message
}

func (s *Stream) C() <-chan session.Message { return s.ch }

func (s *Stream) Unsubscribe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribed = true
	if !s.closed && !s.linger {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *Stream) push(m session.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- m:
		return true
	default:
		return false
	}
}

func (s *Stream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed || s.unsubscribed
}
