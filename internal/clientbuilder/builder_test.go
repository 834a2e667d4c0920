package clientbuilder

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-sync-client/internal/config"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/internal/session/sessiontest"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		APIBaseURL:       "http://127.0.0.1:1",
		WSURL:            "ws://127.0.0.1:1/ws",
		Passcode:         "password",
		ReconnectDelay:   10 * time.Millisecond,
		Heartbeat:        time.Second,
		ConfirmTimeout:   time.Second,
		DirectoryRefresh: time.Second,
		HTTPTimeout:      time.Second,
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestMatchFoundReachesMatchesChannel(t *testing.T) {
	var out syncBuffer
	d := sessiontest.NewDialer()
	deps, err := New(testConfig(), nil, Options{Out: &out, Dialer: d})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Connect(ctx, "alice").Wait(ctx))
	require.NoError(t, deps.Matchmaking.JoinQueue(ctx))

	conn, ok := d.NextConn(time.Second)
	require.True(t, ok)
	conn.Deliver("/user/queue/match-found", []byte(`{"gameId":"g42","color":"WHITE"}`))

	select {
	case m := <-deps.Matches():
		require.Equal(t, "g42", m.GameID.String())
	case <-time.After(2 * time.Second):
		t.Fatal("match not forwarded")
	}
	require.Eventually(t, func() bool {
		return bytes.Contains([]byte(out.String()), []byte("Match found! Game g42"))
	}, time.Second, 10*time.Millisecond)
}

func TestNilConfig(t *testing.T) {
	_, err := New(nil, nil, Options{})
	require.Error(t, err)
}

func TestConnectFailuresAreShownWhileRetrying(t *testing.T) {
	out := &syncBuffer{}
	d := sessiontest.NewDialer()
	d.FailNext(3, errors.New("connection refused"))
	deps, err := New(testConfig(), nil, Options{Out: out, Dialer: d})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Connect(ctx, "alice").Wait(ctx))
	require.Equal(t, 4, d.Attempts())

	require.Equal(t, 3, strings.Count(out.String(), "Cannot reach the game server (connection refused). Retrying in 10ms."))
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Connected as alice.")
	}, time.Second, 10*time.Millisecond)
}

func TestReconnectExhaustionIsShown(t *testing.T) {
	out := &syncBuffer{}
	cfg := testConfig()
	cfg.MaxReconnectAttempts = 2
	d := sessiontest.NewDialer()
	d.FailNext(-1, errors.New("connection refused"))
	deps, err := New(cfg, nil, Options{Out: out, Dialer: d})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.ErrorIs(t, deps.Connect(ctx, "alice").Wait(ctx), session.ErrReconnectExhausted)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "Gave up reconnecting:")
	}, time.Second, 10*time.Millisecond)
}
