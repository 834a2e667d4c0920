package gamesync

import (
	"context"
	"errors"
	"time"

	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/pkg/chessdto"
)

var (
	ErrNoGame          = errors.New("gamesync: no game open")
	ErrEmptyGameID     = errors.New("gamesync: empty game id")
	ErrNotYourTurn     = errors.New("gamesync: not your turn")
	ErrGameNotActive   = errors.New("gamesync: game is not active")
	ErrMovePending     = errors.New("gamesync: previous move awaiting confirmation")
	ErrMoveUnconfirmed = errors.New("gamesync: move not confirmed by server")
	ErrForeignUpdate   = errors.New("gamesync: update for another game")
)

// Phase distinguishes a locally applied move from server-confirmed state.
type Phase string

const (
	PhaseConfirmed Phase = "confirmed"
	PhaseTentative Phase = "tentative"
)

type Transport interface {
	Subscribe(gameID string, h session.Handler) (*session.Subscription, error)
	Unsubscribe(gameID string)
	Publish(ctx context.Context, destination string, payload any) error
	AppDestination(path string) string
	UserID() string
	State() session.State
	OnStateChange(cb session.StateCallback) int
	RemoveStateCallback(id int)
}

// GameSource fetches authoritative game state.
type GameSource interface {
	GetGame(ctx context.Context, gameID string) (*chessdto.Game, error)
}

type Callbacks struct {
	OnUpdate     func(Snapshot)
	OnMoveFailed func(sub chessdto.MoveSubmission, err error)
	OnError      func(err error)
}

type Options struct {
	// ConfirmTimeout bounds how long a tentative move waits for the server.
	ConfirmTimeout time.Duration
	// FetchTimeout bounds the state refetch after a reconnect.
	FetchTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 10 * time.Second
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 10 * time.Second
	}
	return o
}

// Snapshot is a copy of the local view of the open game.
type Snapshot struct {
	GameID    string
	WhiteID   string
	BlackID   string
	WhiteName string
	BlackName string

	Color  chessdto.Color
	Turn   chessdto.Color
	MyTurn bool
	Status chessdto.GameStatus
	Phase  Phase

	FEN     string
	PGN     string
	Moves   []string
	Pending *chessdto.MoveSubmission

	Result string
	Method string
	Board  string
}

func (s Snapshot) Finished() bool { return s.Status.Terminal() }
