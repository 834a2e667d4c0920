package matchmaking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-sync-client/internal/matchmaking"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/internal/session/sessiontest"
	"github.com/park285/chess-sync-client/pkg/chessdto"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	matches []chessdto.MatchFound
	errs    []error
	status  []string
}

func (r *recorder) callbacks() matchmaking.Callbacks {
	return matchmaking.Callbacks{
		OnMatch:  func(m chessdto.MatchFound) { r.mu.Lock(); r.matches = append(r.matches, m); r.mu.Unlock() },
		OnStatus: func(s string) { r.mu.Lock(); r.status = append(r.status, s); r.mu.Unlock() },
		OnError:  func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
	}
}

func (r *recorder) snapshot() ([]chessdto.MatchFound, []error, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chessdto.MatchFound(nil), r.matches...), append([]error(nil), r.errs...), append([]string(nil), r.status...)
}

type fixture struct {
	dialer *sessiontest.Dialer
	tr     *session.Transport
	ctl    *matchmaking.Controller
	rec    *recorder
}

func setup(t *testing.T, connectAs string) *fixture {
	t.Helper()
	f := &fixture{dialer: sessiontest.NewDialer(), rec: &recorder{}}
	f.tr = session.New(f.dialer, session.Config{ReconnectDelay: 10 * time.Millisecond}, nil)
	f.ctl = matchmaking.New(f.tr, f.rec.callbacks(), nil)
	t.Cleanup(func() {
		f.ctl.Close()
		f.tr.Disconnect()
	})
	if connectAs != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, f.tr.Connect(ctx, connectAs, f.ctl.Handlers(nil)).Wait(ctx))
	}
	return f
}

func (f *fixture) conn() *sessiontest.Conn {
	conns := f.dialer.Conns()
	return conns[len(conns)-1]
}

func TestMatchFoundNavigatesAndReturnsIdle(t *testing.T) {
	f := setup(t, "alice")

	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	require.Equal(t, matchmaking.StateQueued, f.ctl.State())

	frames := f.conn().SentTo("/app/queue/join")
	require.Len(t, frames, 1)
	require.JSONEq(t, `{"playerId":"alice"}`, string(frames[0].Body))

	f.conn().Deliver("/user/queue/match-found", []byte(`{"gameId":"g42"}`))
	require.Eventually(t, func() bool {
		m, _, _ := f.rec.snapshot()
		return len(m) == 1
	}, 2*time.Second, 5*time.Millisecond)

	matches, errs, _ := f.rec.snapshot()
	require.Equal(t, chessdto.ID("g42"), matches[0].GameID)
	require.Empty(t, errs)
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
}

func TestMatchFoundWithoutGameIDReportsError(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))

	f.conn().Deliver("/user/queue/match-found", []byte(`{}`))
	require.Eventually(t, func() bool {
		_, e, _ := f.rec.snapshot()
		return len(e) == 1
	}, 2*time.Second, 5*time.Millisecond)

	matches, errs, _ := f.rec.snapshot()
	require.Empty(t, matches)
	require.ErrorIs(t, errs[0], matchmaking.ErrMatchMissingGameID)
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
}

func TestJoinQueueRequiresConnection(t *testing.T) {
	f := setup(t, "")
	err := f.ctl.JoinQueue(context.Background())
	require.ErrorIs(t, err, session.ErrNotConnected)
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
	require.Zero(t, f.dialer.Attempts())
}

func TestJoinQueueTwiceSendsOnce(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	require.Len(t, f.conn().SentTo("/app/queue/join"), 1)
}

func TestJoinQueuePublishFailureRevertsToIdle(t *testing.T) {
	f := setup(t, "alice")
	f.conn().SetSendError(errors.New("write: broken pipe"))

	require.Error(t, f.ctl.JoinQueue(context.Background()))
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
}

func TestLeaveQueue(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	require.NoError(t, f.ctl.LeaveQueue(context.Background()))
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
	require.Len(t, f.conn().SentTo("/app/queue/leave"), 1)

	f.tr.Disconnect()
	require.NoError(t, f.ctl.LeaveQueue(context.Background()))
}

func TestServerErrorDropsTicket(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))

	f.conn().Deliver("/user/queue/errors", []byte(`{"code":"QUEUE_FULL","message":"queue is full"}`))
	require.Eventually(t, func() bool {
		_, e, _ := f.rec.snapshot()
		return len(e) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, errs, _ := f.rec.snapshot()
	var de chessdto.DomainError
	require.ErrorAs(t, errs[0], &de)
	require.Equal(t, "QUEUE_FULL", de.Code)
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
}

func TestStatusIsForwarded(t *testing.T) {
	f := setup(t, "alice")
	f.conn().Deliver("/user/queue/match-status", []byte(`"Waiting for opponent"`))
	require.Eventually(t, func() bool {
		_, _, s := f.rec.snapshot()
		return len(s) == 1 && s[0] == "Waiting for opponent"
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRequeuesAfterReconnect(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	first, ok := f.dialer.NextConn(2 * time.Second)
	require.True(t, ok)

	first.Drop(errors.New("network down"))
	second, ok := f.dialer.NextConn(2 * time.Second)
	require.True(t, ok)
	require.NotSame(t, first, second)

	require.Eventually(t, func() bool {
		return len(second.SentTo("/app/queue/join")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.Equal(t, matchmaking.StateQueued, f.ctl.State())
}

func TestExplicitDisconnectForgetsTicket(t *testing.T) {
	f := setup(t, "alice")
	require.NoError(t, f.ctl.JoinQueue(context.Background()))
	f.tr.Disconnect()
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.tr.Connect(ctx, "alice", f.ctl.Handlers(nil)).Wait(ctx))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, f.conn().SentTo("/app/queue/join"))
	require.Equal(t, matchmaking.StateIdle, f.ctl.State())
}
