// Package gamesync keeps the local view of one game in step with the server.
//
// Local moves are applied tentatively and published; any authoritative push
// replaces the whole view and discards the tentative move. A tentative move
// that is not confirmed within ConfirmTimeout is reverted.
package gamesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/chess-sync-client/internal/rules"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/pkg/chessdto"
	"go.uber.org/zap"
)

type gameState struct {
	id   string
	meta chessdto.Game

	confirmed     *rules.Position
	confirmedTurn chessdto.Color
	current       *rules.Position
	turn          chessdto.Color

	color  chessdto.Color
	status chessdto.GameStatus
	phase  Phase

	pending *chessdto.MoveSubmission
	timer   *time.Timer

	// a fetch older than the latest push is discarded
	pushes int
}

type Synchronizer struct {
	tr     Transport
	api    GameSource
	cb     Callbacks
	opts   Options
	logger *zap.Logger

	mu   sync.Mutex
	game *gameState
	cbID int
}

func New(tr Transport, api GameSource, cb Callbacks, opts Options, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Synchronizer{tr: tr, api: api, cb: cb, opts: opts.withDefaults(), logger: logger}
	s.cbID = tr.OnStateChange(s.onTransportEvent)
	return s
}

func (s *Synchronizer) Shutdown() {
	s.tr.RemoveStateCallback(s.cbID)
	s.Close()
}

// Open makes gameID the active game: subscribe first, then fetch the
// authoritative state so no push between the two is lost.
func (s *Synchronizer) Open(ctx context.Context, gameID string) (Snapshot, error) {
	gameID = strings.TrimSpace(gameID)
	if gameID == "" {
		return Snapshot{}, ErrEmptyGameID
	}

	s.mu.Lock()
	prev := s.game
	if prev != nil && prev.id != gameID {
		s.dropLocked(prev)
		s.game = nil
	}
	st := s.game
	if st == nil {
		st = &gameState{id: gameID, phase: PhaseConfirmed}
		s.game = st
	}
	s.mu.Unlock()
	if prev != nil && prev.id != gameID {
		s.tr.Unsubscribe(prev.id)
	}

	if err := s.sync(ctx, st); err != nil {
		s.mu.Lock()
		if s.game == st {
			s.dropLocked(st)
			s.game = nil
		}
		s.mu.Unlock()
		s.tr.Unsubscribe(gameID)
		return Snapshot{}, err
	}

	snap, _ := s.Snapshot()
	s.logger.Info("gamesync_opened",
		zap.String("game_id", gameID),
		zap.String("color", string(snap.Color)),
		zap.Bool("my_turn", snap.MyTurn),
		zap.String("status", string(snap.Status)),
	)
	s.notify(snap)
	return snap, nil
}

func (s *Synchronizer) sync(ctx context.Context, st *gameState) error {
	if _, err := s.tr.Subscribe(st.id, s.handler(st.id)); err != nil {
		return fmt.Errorf("subscribe game %s: %w", st.id, err)
	}

	s.mu.Lock()
	pushesBefore := st.pushes
	s.mu.Unlock()

	g, err := s.api.GetGame(ctx, st.id)
	if err != nil {
		return fmt.Errorf("fetch game %s: %w", st.id, err)
	}
	pos, err := positionOf(g)
	if err != nil {
		return fmt.Errorf("game %s: %w", st.id, err)
	}

	s.mu.Lock()
	if s.game != st {
		stale := s.game == nil || s.game.id != st.id
		s.mu.Unlock()
		if stale {
			s.tr.Unsubscribe(st.id)
		}
		return ErrNoGame
	}
	defer s.mu.Unlock()
	if st.pushes != pushesBefore {
		s.logger.Debug("gamesync_fetch_superseded", zap.String("game_id", st.id))
		return nil
	}
	s.applyLocked(st, g, pos)
	return nil
}

func (s *Synchronizer) Close() {
	s.mu.Lock()
	st := s.game
	s.game = nil
	if st != nil {
		s.dropLocked(st)
	}
	s.mu.Unlock()
	if st != nil {
		s.tr.Unsubscribe(st.id)
		s.logger.Info("gamesync_closed", zap.String("game_id", st.id))
	}
}

func (s *Synchronizer) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.game == nil {
		return Snapshot{}, false
	}
	return s.snapshotLocked(s.game), true
}

// Move applies from→to tentatively and publishes it. Every rejection happens
// before the network is touched.
func (s *Synchronizer) Move(ctx context.Context, from, to, promotion string) (*chessdto.MoveSubmission, error) {
	s.mu.Lock()
	st := s.game
	if st == nil {
		s.mu.Unlock()
		return nil, ErrNoGame
	}
	if st.color == "" || st.turn != st.color {
		s.mu.Unlock()
		return nil, ErrNotYourTurn
	}
	if !playable(st.status) {
		s.mu.Unlock()
		return nil, ErrGameNotActive
	}
	if st.pending != nil {
		s.mu.Unlock()
		return nil, ErrMovePending
	}
	if s.tr.State() != session.StateConnected {
		s.mu.Unlock()
		return nil, session.ErrNotConnected
	}

	next := st.confirmed.Clone()
	applied, err := next.Apply(from, to, promotion)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sub := &chessdto.MoveSubmission{
		ID:        uuid.NewString(),
		GameID:    st.id,
		From:      strings.ToLower(from),
		To:        strings.ToLower(to),
		Promotion: applied.Promotion,
		SAN:       applied.SAN,
		UCI:       applied.UCI,
		PlayerID:  s.tr.UserID(),
		FENBefore: st.confirmed.FEN(),
		FENAfter:  applied.FEN,
		SentAt:    time.Now(),
	}
	st.current = next
	st.turn = next.Turn()
	st.phase = PhaseTentative
	st.pending = sub
	st.timer = time.AfterFunc(s.opts.ConfirmTimeout, func() { s.expire(st, sub) })
	snap := s.snapshotLocked(st)
	s.mu.Unlock()

	s.notify(snap)

	dest := s.tr.AppDestination("game/" + st.id + "/move")
	if err := s.tr.Publish(ctx, dest, sub.Message()); err != nil {
		err = fmt.Errorf("publish move %s: %w", sub.UCI, err)
		s.logger.Warn("gamesync_move_publish_failed",
			zap.String("game_id", st.id),
			zap.String("uci", sub.UCI),
			zap.Error(err),
		)
		s.fail(st, sub, err)
		return nil, err
	}

	s.logger.Info("gamesync_move_sent",
		zap.String("game_id", st.id),
		zap.String("uci", sub.UCI),
		zap.String("san", sub.SAN),
		zap.String("submission_id", sub.ID),
	)
	out := *sub
	return &out, nil
}

func (s *Synchronizer) handler(gameID string) session.Handler {
	return func(msg session.Message) error {
		return s.applyUpdate(gameID, msg.Body)
	}
}

// applyUpdate replaces the view with an authoritative push. Malformed pushes
// are rejected and leave the view untouched.
func (s *Synchronizer) applyUpdate(gameID string, body []byte) error {
	g, err := chessdto.DecodeGameUpdate(body)
	if err != nil {
		return fmt.Errorf("game %s update: %w", gameID, err)
	}
	if g.ID != "" && string(g.ID) != gameID {
		return fmt.Errorf("%w: got %s on %s", ErrForeignUpdate, g.ID, gameID)
	}
	pos, err := positionOf(g)
	if err != nil {
		return fmt.Errorf("game %s update: %w", gameID, err)
	}

	s.mu.Lock()
	st := s.game
	if st == nil || st.id != gameID {
		s.mu.Unlock()
		return nil
	}
	if st.pending != nil {
		s.logger.Debug("gamesync_tentative_replaced",
			zap.String("game_id", gameID),
			zap.String("uci", st.pending.UCI),
		)
	}
	st.pushes++
	s.applyLocked(st, g, pos)
	snap := s.snapshotLocked(st)
	s.mu.Unlock()

	s.logger.Debug("gamesync_update_applied",
		zap.String("game_id", gameID),
		zap.String("turn", string(snap.Turn)),
		zap.String("status", string(snap.Status)),
	)
	s.notify(snap)
	return nil
}

func (s *Synchronizer) applyLocked(st *gameState, g *chessdto.Game, pos *rules.Position) {
	s.stopTimerLocked(st)
	st.pending = nil
	st.phase = PhaseConfirmed

	mergeMeta(&st.meta, g)
	st.confirmed = pos
	st.current = pos
	st.color = st.meta.ColorOf(s.tr.UserID())

	turn := chessdto.ParseColor(string(g.CurrentTurn))
	if turn == "" {
		turn = pos.Turn()
	}
	st.turn = turn
	st.confirmedTurn = turn

	if status := g.EffectiveStatus(); status != "" {
		st.status = status
	}
	if pos.Finished() && !st.status.Terminal() {
		st.status = terminalStatus(pos)
	}
}

func (s *Synchronizer) expire(st *gameState, sub *chessdto.MoveSubmission) {
	s.logger.Warn("gamesync_move_unconfirmed",
		zap.String("game_id", st.id),
		zap.String("uci", sub.UCI),
		zap.Duration("timeout", s.opts.ConfirmTimeout),
	)
	s.fail(st, sub, ErrMoveUnconfirmed)
}

func (s *Synchronizer) fail(st *gameState, sub *chessdto.MoveSubmission, cause error) {
	s.mu.Lock()
	if s.game != st || st.pending != sub {
		s.mu.Unlock()
		return
	}
	s.stopTimerLocked(st)
	st.pending = nil
	st.current = st.confirmed
	st.turn = st.confirmedTurn
	st.phase = PhaseConfirmed
	snap := s.snapshotLocked(st)
	s.mu.Unlock()

	s.notify(snap)
	if s.cb.OnMoveFailed != nil {
		s.cb.OnMoveFailed(*sub, cause)
	}
}

func (s *Synchronizer) onTransportEvent(ev session.Event) {
	if ev.State != session.StateConnected {
		return
	}
	s.mu.Lock()
	st := s.game
	s.mu.Unlock()
	if st == nil {
		return
	}
	go s.resync(st)
}

func (s *Synchronizer) resync(st *gameState) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.FetchTimeout)
	defer cancel()
	if err := s.sync(ctx, st); err != nil {
		if errors.Is(err, ErrNoGame) {
			return
		}
		s.logger.Warn("gamesync_resync_failed", zap.String("game_id", st.id), zap.Error(err))
		if s.cb.OnError != nil {
			s.cb.OnError(err)
		}
		return
	}
	s.mu.Lock()
	if s.game != st {
		s.mu.Unlock()
		return
	}
	snap := s.snapshotLocked(st)
	s.mu.Unlock()
	s.logger.Info("gamesync_resynced", zap.String("game_id", st.id))
	s.notify(snap)
}

func (s *Synchronizer) dropLocked(st *gameState) {
	s.stopTimerLocked(st)
	st.pending = nil
}

func (s *Synchronizer) stopTimerLocked(st *gameState) {
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
}

func (s *Synchronizer) snapshotLocked(st *gameState) Snapshot {
	snap := Snapshot{
		GameID:  st.id,
		WhiteID: st.meta.WhiteID(),
		BlackID: st.meta.BlackID(),
		Color:   st.color,
		Turn:    st.turn,
		MyTurn:  st.color != "" && st.color == st.turn,
		Status:  st.status,
		Phase:   st.phase,
		PGN:     st.meta.PGN,
	}
	if st.meta.WhitePlayer != nil {
		snap.WhiteName = st.meta.WhitePlayer.Username
	}
	if st.meta.BlackPlayer != nil {
		snap.BlackName = st.meta.BlackPlayer.Username
	}
	if st.current != nil {
		snap.FEN = st.current.FEN()
		snap.Moves = st.current.Moves()
		snap.Board = st.current.Draw()
		if st.current.Finished() {
			snap.Result, snap.Method = st.current.Outcome()
		}
	}
	if st.pending != nil {
		p := *st.pending
		snap.Pending = &p
	}
	return snap
}

func (s *Synchronizer) notify(snap Snapshot) {
	if s.cb.OnUpdate != nil {
		s.cb.OnUpdate(snap)
	}
}

func positionOf(g *chessdto.Game) (*rules.Position, error) {
	return rules.Load(g.FEN, chessdto.UCIList(g.Moves))
}

// mergeMeta keeps participants the push left out; everything else is replaced.
func mergeMeta(dst *chessdto.Game, src *chessdto.Game) {
	prev := *dst
	*dst = *src
	if dst.ID == "" {
		dst.ID = prev.ID
	}
	if dst.WhitePlayer == nil && dst.WhitePlayerID == "" {
		dst.WhitePlayer, dst.WhitePlayerID = prev.WhitePlayer, prev.WhitePlayerID
	}
	if dst.BlackPlayer == nil && dst.BlackPlayerID == "" {
		dst.BlackPlayer, dst.BlackPlayerID = prev.BlackPlayer, prev.BlackPlayerID
	}
}

func playable(status chessdto.GameStatus) bool {
	return status == "" || status == chessdto.StatusActive
}

func terminalStatus(pos *rules.Position) chessdto.GameStatus {
	_, method := pos.Outcome()
	switch strings.ToLower(method) {
	case "checkmate":
		return chessdto.StatusCheckmate
	case "stalemate":
		return chessdto.StatusStalemate
	case "resignation":
		return chessdto.StatusResigned
	default:
		return chessdto.StatusDraw
	}
}
