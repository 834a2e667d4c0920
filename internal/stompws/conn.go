package stompws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/park285/chess-sync-client/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type conn struct {
	stomp        *stomp.Conn
	ws           *websocket.Conn
	watched      *watchedConn
	cancel       context.CancelFunc
	closeTimeout time.Duration
	logger       *zap.Logger

	closing   atomic.Bool
	closeOnce sync.Once
}

func (c *conn) Subscribe(destination string) (session.Stream, error) {
	sub, err := c.stomp.Subscribe(destination, stomp.AckAuto)
	if err != nil {
		return nil, err
	}
	s := &stream{
		sub:    sub,
		out:    make(chan session.Message, 64),
		stop:   make(chan struct{}),
		logger: c.logger,
	}
	go s.forward()
	return s, nil
}

func (c *conn) Send(destination, contentType string, body []byte) error {
	return c.stomp.Send(destination, contentType, body)
}

func (c *conn) Done() <-chan struct{} { return c.watched.done }

func (c *conn) Err() error {
	if c.closing.Load() {
		return nil
	}
	return c.watched.Err()
}

// Close sends DISCONNECT and waits briefly for the receipt before dropping the socket.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		done := make(chan error, 1)
		go func() { done <- c.stomp.Disconnect() }()
		t := time.NewTimer(c.closeTimeout)
		select {
		case err := <-done:
			if err != nil {
				c.logger.Debug("stompws_disconnect_failed", zap.Error(err))
			}
		case <-t.C:
			c.logger.Debug("stompws_disconnect_timeout")
		}
		t.Stop()
		_ = c.ws.Close(websocket.StatusNormalClosure, "disconnect")
		_ = c.watched.Close()
		c.cancel()
	})
	return nil
}

type stream struct {
	sub    *stomp.Subscription
	out    chan session.Message
	stop   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func (s *stream) C() <-chan session.Message { return s.out }

func (s *stream) forward() {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			s.drain()
			return
		case m, ok := <-s.sub.C:
			if !ok {
				return
			}
			if m.Err != nil {
				s.logger.Warn("stompws_subscription_error",
					zap.String("destination", s.sub.Destination()),
					zap.Error(m.Err),
				)
				continue
			}
			msg := session.Message{Destination: m.Destination, ContentType: m.ContentType, Body: m.Body}
			select {
			case s.out <- msg:
			case <-s.stop:
				s.drain()
				return
			}
		}
	}
}

// drain keeps the connection reader unblocked until go-stomp closes the channel.
func (s *stream) drain() {
	go func() {
		for range s.sub.C {
		}
	}()
}

// Unsubscribe stops delivery at once. The UNSUBSCRIBE receipt is awaited in
// the background since go-stomp blocks until it arrives.
func (s *stream) Unsubscribe() error {
	s.once.Do(func() {
		close(s.stop)
		go func() {
			if err := s.sub.Unsubscribe(); err != nil {
				s.logger.Debug("stompws_unsubscribe_failed", zap.String("destination", s.sub.Destination()), zap.Error(err))
			}
		}()
	})
	return nil
}
