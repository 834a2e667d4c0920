package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/pkg/chessdto"
	"go.uber.org/zap"
)

type State string

const (
	StateIdle   State = "idle"
	StateQueued State = "queued"
)

var (
	ErrMatchMissingGameID = errf("match notification missing game id")
	ErrMalformedMatch     = errf("malformed match notification")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }

// Transport is the part of session.Transport the controller needs.
type Transport interface {
	Publish(ctx context.Context, destination string, payload any) error
	AppDestination(path string) string
	State() session.State
	UserID() string
	OnStateChange(cb session.StateCallback) int
	RemoveStateCallback(id int)
}

type Callbacks struct {
	// OnMatch navigates to the new game.
	OnMatch  func(m chessdto.MatchFound)
	OnStatus func(text string)
	OnError  func(err error)
}

// Controller tracks the idle/queued ticket for the current principal.
type Controller struct {
	tr     Transport
	cb     Callbacks
	logger *zap.Logger

	requeueTimeout time.Duration

	mu      sync.Mutex
	state   State
	requeue bool
	cbID    int
}

func New(tr Transport, cb Callbacks, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{tr: tr, cb: cb, logger: logger, state: StateIdle, requeueTimeout: 5 * time.Second}
	c.cbID = tr.OnStateChange(c.onTransportEvent)
	return c
}

// Close detaches the controller from transport events.
func (c *Controller) Close() {
	c.tr.RemoveStateCallback(c.cbID)
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Handlers wires the per-principal queues to this controller.
func (c *Controller) Handlers(onError func(error)) session.Handlers {
	return session.Handlers{
		OnMatchFound:  c.HandleMatchFound,
		OnMatchStatus: c.HandleStatus,
		OnServerError: c.HandleServerError,
		OnError:       onError,
	}
}

// JoinQueue asks the server for a match. It does not wait for one.
func (c *Controller) JoinQueue(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateQueued {
		c.mu.Unlock()
		return nil
	}
	if c.tr.State() != session.StateConnected {
		c.mu.Unlock()
		return session.ErrNotConnected
	}
	user := c.tr.UserID()
	c.state = StateQueued
	c.requeue = false
	c.mu.Unlock()

	err := c.tr.Publish(ctx, c.tr.AppDestination("queue/join"), chessdto.QueueRequest{PlayerID: user})
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()
		c.logger.Warn("matchmaking_join_failed", zap.String("user_id", user), zap.Error(err))
		return fmt.Errorf("join queue: %w", err)
	}
	c.logger.Info("matchmaking_queued", zap.String("user_id", user))
	return nil
}

// LeaveQueue clears the ticket. Without a connection only local state is reset.
func (c *Controller) LeaveQueue(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateIdle
	c.requeue = false
	c.mu.Unlock()

	if c.tr.State() != session.StateConnected {
		c.logger.Warn("matchmaking_leave_offline")
		return nil
	}
	user := c.tr.UserID()
	if err := c.tr.Publish(ctx, c.tr.AppDestination("queue/leave"), chessdto.QueueRequest{PlayerID: user}); err != nil {
		return fmt.Errorf("leave queue: %w", err)
	}
	c.logger.Info("matchmaking_left", zap.String("user_id", user))
	return nil
}

func (c *Controller) HandleMatchFound(msg session.Message) error {
	mf, err := chessdto.DecodeMatchFound(msg.Body)

	c.mu.Lock()
	c.state = StateIdle
	c.requeue = false
	c.mu.Unlock()

	if err != nil {
		if errors.Is(err, chessdto.ErrMissingGameID) {
			err = ErrMatchMissingGameID
		} else {
			err = fmt.Errorf("%w: %v", ErrMalformedMatch, err)
		}
		c.report(err)
		return err
	}

	c.logger.Info("matchmaking_match_found",
		zap.String("game_id", mf.GameID.String()),
		zap.String("color", string(mf.Color)),
	)
	if c.cb.OnMatch != nil {
		c.cb.OnMatch(mf)
	}
	return nil
}

func (c *Controller) HandleStatus(msg session.Message) error {
	text := chessdto.DecodeStatus(msg.Body)
	c.logger.Debug("matchmaking_status", zap.String("text", text))
	if c.cb.OnStatus != nil {
		c.cb.OnStatus(text)
	}
	return nil
}

// HandleServerError surfaces the server error queue and drops the ticket.
func (c *Controller) HandleServerError(msg session.Message) error {
	de := chessdto.DecodeServerError(msg.Body)
	c.mu.Lock()
	c.state = StateIdle
	c.requeue = false
	c.mu.Unlock()
	c.logger.Warn("matchmaking_server_error", zap.String("code", de.Code), zap.String("message", de.Message))
	c.report(de)
	return nil
}

func (c *Controller) onTransportEvent(ev session.Event) {
	if ev.State == session.StateConnected {
		c.mu.Lock()
		again := c.requeue
		c.requeue = false
		c.mu.Unlock()
		if !again {
			return
		}
		c.logger.Info("matchmaking_requeue", zap.String("user_id", ev.UserID))
		ctx, cancel := context.WithTimeout(context.Background(), c.requeueTimeout)
		defer cancel()
		if err := c.JoinQueue(ctx); err != nil {
			c.report(err)
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	wasQueued := c.state == StateQueued || c.requeue
	c.state = StateIdle
	// only a lost connection is retried; explicit teardown forgets the ticket
	c.requeue = wasQueued && ev.State == session.StateConnecting && ev.Err != nil
}

func (c *Controller) report(err error) {
	if c.cb.OnError != nil {
		c.cb.OnError(err)
	}
}
