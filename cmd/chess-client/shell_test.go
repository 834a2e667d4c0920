package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/park285/chess-sync-client/internal/clientbuilder"
	"github.com/park285/chess-sync-client/internal/config"
	"github.com/park285/chess-sync-client/internal/session/sessiontest"
	"github.com/stretchr/testify/require"
)

const gameG1 = `{"id":"g1","whitePlayer":{"id":"alice","username":"alice"},"blackPlayer":{"id":"bob","username":"bob"},` +
	`"currentTurn":"WHITE","status":"ACTIVE","fen":"rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"}`

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	sh     *shell
	dialer *sessiontest.Dialer
	out    *lockedBuffer
}

func newHarness(t *testing.T, mux *http.ServeMux) *harness {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	h := &harness{dialer: sessiontest.NewDialer(), out: &lockedBuffer{}}
	deps, err := clientbuilder.New(&config.AppConfig{
		APIBaseURL:       srv.URL,
		ReconnectDelay:   10 * time.Millisecond,
		ConfirmTimeout:   time.Second,
		DirectoryRefresh: time.Second,
		HTTPTimeout:      time.Second,
	}, nil, clientbuilder.Options{Out: h.out, Dialer: h.dialer})
	require.NoError(t, err)
	t.Cleanup(deps.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, deps.Connect(ctx, "alice").Wait(ctx))
	h.sh = newShell(deps, "alice", strings.NewReader(""))
	return h
}

func (h *harness) conn() *sessiontest.Conn {
	conns := h.dialer.Conns()
	return conns[len(conns)-1]
}

func gameMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/games/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, gameG1)
	})
	return mux
}

func TestParseMove(t *testing.T) {
	cases := []struct {
		in              string
		from, to, promo string
		wantErr         bool
	}{
		{in: "e2e4", from: "e2", to: "e4"},
		{in: "E7E8Q", from: "e7", to: "e8", promo: "q"},
		{in: "e7-e8=N", from: "e7", to: "e8", promo: "n"},
		{in: "e2", wantErr: true},
		{in: "i2i4", wantErr: true},
		{in: "e7e8k", wantErr: true},
	}
	for _, tc := range cases {
		from, to, promo, err := parseMove(tc.in)
		if tc.wantErr {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, []string{tc.from, tc.to, tc.promo}, []string{from, to, promo})
	}
}

func TestOpenThenBareMovePublishes(t *testing.T) {
	h := newHarness(t, gameMux())
	ctx := context.Background()

	require.NoError(t, h.sh.exec(ctx, "open g1"))
	require.NoError(t, h.sh.exec(ctx, "e2e4"))

	frames := h.conn().SentTo("/app/game/g1/move")
	require.Len(t, frames, 1)
	var body map[string]any
	require.NoError(t, json.Unmarshal(frames[0].Body, &body))
	require.Equal(t, "e4", body["san"])
	require.Equal(t, "alice", body["playerId"])
	require.Contains(t, h.out.String(), "Sent e4 (e2e4).")
}

func TestMoveWithoutGameFails(t *testing.T) {
	h := newHarness(t, gameMux())
	require.Error(t, h.sh.exec(context.Background(), "move e2e4"))
	require.Empty(t, h.conn().SentTo("/app/game/g1/move"))
}

func TestCreateOpensNewGame(t *testing.T) {
	mux := gameMux()
	var got map[string]any
	mux.HandleFunc("POST /api/games/create", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, gameG1)
	})
	h := newHarness(t, mux)

	require.NoError(t, h.sh.exec(context.Background(), "create white"))
	require.Equal(t, "alice", got["player1Id"])
	require.Equal(t, "white", got["color"])
	snap, ok := h.sh.deps.Sync.Snapshot()
	require.True(t, ok)
	require.Equal(t, "g1", snap.GameID)
	require.Equal(t, 1, h.conn().Subscribers("/topic/game/g1"))
}

func TestQueueAndQuit(t *testing.T) {
	h := newHarness(t, gameMux())
	ctx := context.Background()

	require.NoError(t, h.sh.exec(ctx, "queue"))
	require.Len(t, h.conn().SentTo("/app/queue/join"), 1)
	require.ErrorIs(t, h.sh.exec(ctx, "quit"), errQuit)
	require.NoError(t, h.sh.exec(ctx, "bogus"))
	require.Contains(t, h.out.String(), "Unknown command bogus.")
}

func TestHistoryUsesOpenGame(t *testing.T) {
	mux := gameMux()
	mux.HandleFunc("GET /api/games/{id}/moves", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != "g1" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, `[{"san":"e4","uci":"e2e4"},{"san":"c5","uci":"c7c5"}]`)
	})
	h := newHarness(t, mux)
	ctx := context.Background()

	require.NoError(t, h.sh.exec(ctx, "history"))
	require.Contains(t, h.out.String(), "No game is open.")

	require.NoError(t, h.sh.exec(ctx, "open g1"))
	require.NoError(t, h.sh.exec(ctx, "history"))
	require.Contains(t, h.out.String(), "Game g1: 1. e4 c5")
}

func TestLogoutEndsSessionAndQuits(t *testing.T) {
	mux := gameMux()
	var calls atomic.Int32
	mux.HandleFunc("POST /logout", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	h := newHarness(t, mux)

	require.ErrorIs(t, h.sh.exec(context.Background(), "logout"), errQuit)
	require.Equal(t, int32(1), calls.Load())
	require.Contains(t, h.out.String(), "Logged out.")
}
