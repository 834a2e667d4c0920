// Package stompws carries STOMP frames over a nhooyr WebSocket connection.
package stompws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/park285/chess-sync-client/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

var subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

type Dialer struct {
	url          string
	readLimit    int64
	closeTimeout time.Duration
	logger       *zap.Logger
}

type Option func(*Dialer)

func WithLogger(l *zap.Logger) Option {
	return func(d *Dialer) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithReadLimit(n int64) Option {
	return func(d *Dialer) { d.readLimit = n }
}

func WithCloseTimeout(t time.Duration) Option {
	return func(d *Dialer) { d.closeTimeout = t }
}

func NewDialer(wsURL string, opts ...Option) *Dialer {
	d := &Dialer{
		url:          wsURL,
		readLimit:    1 << 20,
		closeTimeout: 2 * time.Second,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens the WebSocket and completes the STOMP CONNECT exchange.
func (d *Dialer) Dial(ctx context.Context, creds session.Credentials) (session.Conn, error) {
	ws, _, err := websocket.Dial(ctx, d.url, &websocket.DialOptions{
		HTTPHeader:      creds.Header,
		Subprotocols:    subprotocols,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", d.url, err)
	}
	ws.SetReadLimit(d.readLimit)

	// NetConn is bound to connCtx for the lifetime of the connection, not the dial.
	connCtx, cancel := context.WithCancel(context.Background())
	watched := &watchedConn{Conn: websocket.NetConn(connCtx, ws, websocket.MessageText), done: make(chan struct{})}

	host := creds.Host
	if host == "" {
		host = hostOf(d.url)
	}
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(creds.Login, creds.Passcode),
		stomp.ConnOpt.HeartBeat(creds.Heartbeat, creds.Heartbeat),
	}
	if host != "" {
		opts = append(opts, stomp.ConnOpt.Host(host))
	}

	// stomp.Connect has no context; abort it by closing the socket.
	stop := context.AfterFunc(ctx, func() { _ = watched.Close() })
	sc, err := stomp.Connect(watched, opts...)
	if !stop() {
		err = errors.Join(ctx.Err(), err)
	}
	if err != nil {
		cancel()
		_ = ws.Close(websocket.StatusNormalClosure, "handshake failed")
		return nil, fmt.Errorf("stomp connect: %w", err)
	}

	d.logger.Debug("stompws_connected",
		zap.String("url", d.url),
		zap.String("login", creds.Login),
		zap.String("version", string(sc.Version())),
		zap.String("subprotocol", ws.Subprotocol()),
	)
	return &conn{
		stomp:        sc,
		ws:           ws,
		watched:      watched,
		cancel:       cancel,
		closeTimeout: d.closeTimeout,
		logger:       d.logger,
	}, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// watchedConn records the first read or write failure. The STOMP reader
// goroutine reads continuously, so a failure here means the link is gone.
type watchedConn struct {
	net.Conn
	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

func (w *watchedConn) Read(p []byte) (int, error) {
	n, err := w.Conn.Read(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

func (w *watchedConn) Write(p []byte) (int, error) {
	n, err := w.Conn.Write(p)
	if err != nil {
		w.fail(err)
	}
	return n, err
}

func (w *watchedConn) Close() error {
	err := w.Conn.Close()
	w.fail(net.ErrClosed)
	return err
}

func (w *watchedConn) fail(err error) {
	w.once.Do(func() {
		w.mu.Lock()
		w.err = err
		w.mu.Unlock()
		close(w.done)
	})
}

func (w *watchedConn) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}
