package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/chess-sync-client/pkg/chessdto"
	"go.uber.org/zap"
)

var errConnectionClosed = errors.New("connection closed by peer")

type stateCallbackEntry struct {
	id       int
	callback StateCallback
}

// Transport owns the single messaging connection for one principal.
// Game subscriptions die with their connection; owners re-subscribe on the
// next connected event.
type Transport struct {
	dialer Dialer
	cfg    Config
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	userID    string
	lastErr   error
	handlers  Handlers
	conn      Conn
	games     map[string]*Subscription
	implicit  []*Subscription
	handshake *Handshake
	cancel    context.CancelFunc

	// bumped on every teardown; stale generations never dispatch
	gen atomic.Uint64

	cbM      sync.RWMutex
	stateCbs []stateCallbackEntry
	nextCbID int
}

func New(d Dialer, cfg Config, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{
		dialer: d,
		cfg:    cfg.withDefaults(),
		logger: logger,
		state:  StateDisconnected,
		games:  make(map[string]*Subscription),
	}
}

func (t *Transport) Config() Config { return t.cfg }

func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transport) UserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.userID
}

func (t *Transport) LastError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// Connect is idempotent per user. A different user replaces the session.
func (t *Transport) Connect(ctx context.Context, userID string, h Handlers) *Handshake {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return failedHandshake(userID, ErrEmptyUserID)
	}

	t.mu.Lock()
	if t.userID == userID && t.state != StateDisconnected {
		hs := t.handshake
		t.mu.Unlock()
		t.logger.Debug("session_connect_reused", zap.String("user_id", userID))
		return hs
	}

	var (
		oldConn Conn
		oldHS   *Handshake
		oldUser string
		replace = t.state != StateDisconnected
	)
	if replace {
		oldUser = t.userID
		oldConn, oldHS = t.resetLocked(StateDisconnected, nil)
	}

	root, cancel := context.WithCancel(context.Background())
	hs := newHandshake(userID)
	t.userID = userID
	t.handlers = h
	t.cancel = cancel
	t.handshake = hs
	t.state = StateConnecting
	t.lastErr = nil
	gen := t.gen.Add(1)
	t.mu.Unlock()

	if replace {
		t.finishTeardown(oldConn, oldHS)
		t.logger.Info("session_user_switched", zap.String("from", oldUser), zap.String("to", userID))
		t.emit(Event{State: StateDisconnected, UserID: oldUser})
	}
	t.emit(Event{State: StateConnecting, UserID: userID})

	go t.run(ctx, root, gen, hs, userID)
	return hs
}

func (t *Transport) Disconnect() {
	t.mu.Lock()
	if t.state == StateDisconnected && t.conn == nil && t.cancel == nil {
		t.mu.Unlock()
		return
	}
	userID := t.userID
	conn, hs := t.resetLocked(StateDisconnected, nil)
	t.userID = ""
	t.mu.Unlock()

	t.finishTeardown(conn, hs)
	t.logger.Info("session_disconnected", zap.String("user_id", userID))
	t.emit(Event{State: StateDisconnected, UserID: userID})
}

// Subscribe attaches handler to the game channel. A second call for the same
// game returns the existing subscription and keeps the first handler.
func (t *Transport) Subscribe(gameID string, handler Handler) (*Subscription, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return nil, ErrEmptyGameID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateConnected || t.conn == nil {
		return nil, ErrNotConnected
	}
	if existing, ok := t.games[gameID]; ok {
		return existing, nil
	}

	dest := t.GameTopic(gameID)
	stream, err := t.conn.Subscribe(dest)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", dest, err)
	}
	sub := newSubscription(gameID, dest, t.kindOf(dest), t.gen.Load(), stream, handler)
	t.games[gameID] = sub
	go t.pump(sub)

	t.logger.Debug("session_subscribed", zap.String("game_id", gameID), zap.String("destination", dest))
	return sub, nil
}

func (t *Transport) Unsubscribe(gameID string) {
	gameID = strings.TrimSpace(gameID)
	t.mu.Lock()
	sub, ok := t.games[gameID]
	delete(t.games, gameID)
	t.mu.Unlock()
	if !ok {
		return
	}
	sub.close()
	if err := sub.stream.Unsubscribe(); err != nil {
		t.logger.Debug("session_unsubscribe_failed", zap.String("game_id", gameID), zap.Error(err))
	}
}

func (t *Transport) Subscribed(gameID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.games[strings.TrimSpace(gameID)]
	return ok
}

// Publish sends payload to destination. []byte and string payloads are sent
// as-is, anything else is JSON encoded.
func (t *Transport) Publish(ctx context.Context, destination string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := encodePayload(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	t.mu.Lock()
	conn := t.conn
	connected := t.state == StateConnected && conn != nil
	t.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	if err := conn.Send(destination, "application/json", body); err != nil {
		return fmt.Errorf("publish %s: %w", destination, err)
	}
	return nil
}

func (t *Transport) AppDestination(path string) string {
	return t.cfg.AppPrefix + "/" + strings.TrimLeft(path, "/")
}

func (t *Transport) UserDestination(queue string) string {
	return t.cfg.UserPrefix + "/" + strings.TrimLeft(queue, "/")
}

func (t *Transport) GameTopic(gameID string) string {
	return t.cfg.TopicPrefix + "/game/" + gameID
}

func (t *Transport) kindOf(destination string) chessdto.Kind {
	return chessdto.Classify(destination, t.cfg.UserPrefix, t.cfg.TopicPrefix)
}

func (t *Transport) OnStateChange(cb StateCallback) int {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	t.nextCbID++
	t.stateCbs = append(t.stateCbs, stateCallbackEntry{id: t.nextCbID, callback: cb})
	return t.nextCbID
}

func (t *Transport) RemoveStateCallback(id int) {
	t.cbM.Lock()
	defer t.cbM.Unlock()
	for i, entry := range t.stateCbs {
		if entry.id == id {
			t.stateCbs = append(t.stateCbs[:i], t.stateCbs[i+1:]...)
			return
		}
	}
}

func (t *Transport) emit(ev Event) {
	t.cbM.RLock()
	callbacks := make([]stateCallbackEntry, len(t.stateCbs))
	copy(callbacks, t.stateCbs)
	t.cbM.RUnlock()
	for _, entry := range callbacks {
		if entry.callback != nil {
			entry.callback(ev)
		}
	}
}

func (t *Transport) run(hsCtx, root context.Context, gen uint64, hs *Handshake, userID string) {
	failures := 0
	for {
		conn, err := t.dial(hsCtx, root, hs, userID)
		if err == nil {
			var subs []*Subscription
			if subs, err = t.subscribeImplicit(conn, gen); err != nil {
				_ = conn.Close()
			} else if !t.attach(gen, conn, subs) {
				_ = conn.Close()
				return
			}
		}

		if err == nil {
			hs.resolve(nil)
			failures = 0
			select {
			case <-root.Done():
				return
			case <-conn.Done():
			}
			lost := conn.Err()
			if lost == nil {
				lost = errConnectionClosed
			}
			next, ok := t.detach(gen, conn, lost)
			if !ok {
				return
			}
			gen = next
			t.reportError(gen, fmt.Errorf("connection lost: %w", lost))
		} else {
			if root.Err() != nil {
				return
			}
			if !hs.isDone() && hsCtx.Err() != nil {
				t.abandon(gen, hsCtx.Err())
				hs.resolve(hsCtx.Err())
				return
			}
			failures++
			if limit := t.cfg.MaxReconnectAttempts; limit > 0 && failures >= limit {
				final := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, failures, err)
				t.reportError(gen, final)
				t.abandon(gen, final)
				hs.resolve(final)
				return
			}
			t.logger.Warn("session_connect_failed",
				zap.String("user_id", userID),
				zap.Int("attempt", failures),
				zap.Duration("retry_in", t.cfg.ReconnectDelay),
				zap.Error(err),
			)
			t.reportError(gen, err)
		}

		timer := time.NewTimer(t.cfg.ReconnectDelay)
		select {
		case <-root.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (t *Transport) dial(hsCtx, root context.Context, hs *Handshake, userID string) (Conn, error) {
	ctx, cancel := context.WithCancel(root)
	defer cancel()
	if !hs.isDone() {
		stop := context.AfterFunc(hsCtx, cancel)
		defer stop()
	}
	creds := Credentials{
		Login:     userID,
		Passcode:  t.cfg.Passcode,
		Host:      t.cfg.Host,
		Heartbeat: t.cfg.Heartbeat,
	}
	if t.cfg.HeaderProvider != nil {
		creds.Header = t.cfg.HeaderProvider()
	}
	return t.dialer.Dial(ctx, creds)
}

func (t *Transport) subscribeImplicit(conn Conn, gen uint64) ([]*Subscription, error) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()

	queues := []struct {
		name    string
		handler Handler
	}{
		{"match-found", h.OnMatchFound},
		{"match-status", h.OnMatchStatus},
		{"errors", h.OnServerError},
	}
	subs := make([]*Subscription, 0, len(queues))
	for _, q := range queues {
		dest := t.UserDestination(q.name)
		stream, err := conn.Subscribe(dest)
		if err != nil {
			for _, s := range subs {
				_ = s.stream.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", dest, err)
		}
		subs = append(subs, newSubscription("", dest, t.kindOf(dest), gen, stream, q.handler))
	}
	return subs, nil
}

func (t *Transport) attach(gen uint64, conn Conn, subs []*Subscription) bool {
	t.mu.Lock()
	if t.gen.Load() != gen {
		t.mu.Unlock()
		return false
	}
	t.conn = conn
	t.state = StateConnected
	t.lastErr = nil
	t.implicit = subs
	userID := t.userID
	t.mu.Unlock()

	for _, s := range subs {
		go t.pump(s)
	}
	t.logger.Info("session_connected", zap.String("user_id", userID))
	t.emit(Event{State: StateConnected, UserID: userID})
	return true
}

func (t *Transport) detach(gen uint64, conn Conn, lost error) (uint64, bool) {
	t.mu.Lock()
	if t.gen.Load() != gen {
		t.mu.Unlock()
		return 0, false
	}
	next := t.gen.Add(1)
	t.closeSubsLocked()
	t.conn = nil
	t.state = StateConnecting
	t.lastErr = lost
	userID := t.userID
	t.mu.Unlock()

	_ = conn.Close()
	t.logger.Warn("session_connection_lost",
		zap.String("user_id", userID),
		zap.Duration("retry_in", t.cfg.ReconnectDelay),
		zap.Error(lost),
	)
	t.emit(Event{State: StateConnecting, UserID: userID, Err: lost})
	return next, true
}

func (t *Transport) abandon(gen uint64, cause error) {
	t.mu.Lock()
	if t.gen.Load() != gen {
		t.mu.Unlock()
		return
	}
	userID := t.userID
	conn, _ := t.resetLocked(StateDisconnected, cause)
	t.userID = ""
	t.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	t.logger.Error("session_abandoned", zap.String("user_id", userID), zap.Error(cause))
	t.emit(Event{State: StateDisconnected, UserID: userID, Err: cause})
}

func (t *Transport) resetLocked(next State, cause error) (Conn, *Handshake) {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.gen.Add(1)
	t.closeSubsLocked()
	conn := t.conn
	hs := t.handshake
	t.conn = nil
	t.handshake = nil
	t.state = next
	t.lastErr = cause
	return conn, hs
}

func (t *Transport) finishTeardown(conn Conn, hs *Handshake) {
	if conn != nil {
		if err := conn.Close(); err != nil {
			t.logger.Debug("session_close_failed", zap.Error(err))
		}
	}
	if hs != nil {
		hs.resolve(ErrDisconnected)
	}
}

func (t *Transport) closeSubsLocked() {
	for id, s := range t.games {
		s.close()
		delete(t.games, id)
	}
	for _, s := range t.implicit {
		s.close()
	}
	t.implicit = nil
}

func (t *Transport) reportError(gen uint64, err error) {
	t.mu.Lock()
	if t.gen.Load() != gen {
		t.mu.Unlock()
		return
	}
	t.lastErr = err
	onError := t.handlers.OnError
	t.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (t *Transport) pump(s *Subscription) {
	ch := s.stream.C()
	for {
		select {
		case <-s.closed:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if s.isClosed() || s.gen != t.gen.Load() {
				return
			}
			t.dispatch(s, msg)
		}
	}
}

func (t *Transport) dispatch(s *Subscription, msg Message) {
	if s.handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("session_handler_panic",
				zap.String("destination", s.destination),
				zap.Any("panic", r),
			)
		}
	}()
	if msg.Destination == "" {
		msg.Destination = s.destination
	}
	// wrong kind for this subscription
	if k := t.kindOf(msg.Destination); k != s.kind {
		t.logger.Warn("session_misrouted_frame",
			zap.String("destination", s.destination),
			zap.String("frame_destination", msg.Destination),
			zap.String("kind", string(k)),
		)
		return
	}
	if err := s.handler(msg); err != nil {
		t.logger.Warn("session_message_dropped",
			zap.String("destination", s.destination),
			zap.String("kind", string(s.kind)),
			zap.Int("bytes", len(msg.Body)),
			zap.Error(err),
		)
	}
}

func encodePayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
