// Package rules adapts the chess rules engine for the session synchronizer.
// Positions are always rebuilt from an authoritative encoding and never patched.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/chess-sync-client/pkg/chessdto"
)

var (
	ErrIllegalMove     = errors.New("illegal move")
	ErrInvalidSquare   = errors.New("invalid square")
	ErrInvalidPosition = errors.New("invalid position encoding")
)

// The engine's FEN decoder writes to package-level scratch buffers.
var fenMu sync.Mutex

// DefaultPromotion is used when a pawn reaches the last rank without an explicit choice.
const DefaultPromotion = "q"

// Position is a locally reconstructed game.
type Position struct {
	game *nchess.Game
	// uci history applied on top of the loaded start point
	moves []string
}

// Applied describes a move accepted by the engine.
type Applied struct {
	UCI       string
	SAN       string
	Promotion string
	FEN       string
}

// New returns the standard starting position.
func New() *Position {
	return &Position{game: nchess.NewGame()}
}

// Load rebuilds a position. A FEN wins over the move list, which is then kept as
// history only; with no FEN the UCI moves are replayed from the start.
func Load(fen string, uciMoves []string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	if fen != "" && fen != "startpos" {
		game, err := gameFromFEN(fen)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
		}
		return &Position{game: game, moves: history(uciMoves)}, nil
	}
	p := New()
	for _, mv := range uciMoves {
		mv = strings.ToLower(strings.TrimSpace(mv))
		if mv == "" {
			continue
		}
		if err := p.game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: replay %s: %v", ErrInvalidPosition, mv, err)
		}
		p.moves = append(p.moves, mv)
	}
	return p, nil
}

// Apply validates and plays from→to. Without a promotion choice a pawn reaching the
// last rank promotes to a queen.
func (p *Position) Apply(from, to, promotion string) (Applied, error) {
	uci, promo, err := p.resolve(from, to, promotion)
	if err != nil {
		return Applied{}, err
	}
	pos := p.game.Position()
	if err := p.game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	last := lastMove(p.game)
	if last == nil {
		return Applied{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	p.moves = append(p.moves, uci)
	return Applied{
		UCI:       uci,
		SAN:       nchess.AlgebraicNotation{}.Encode(pos, last),
		Promotion: promo,
		FEN:       p.game.FEN(),
	}, nil
}

func (p *Position) resolve(from, to, promotion string) (string, string, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if !validSquare(from) || !validSquare(to) {
		return "", "", fmt.Errorf("%w: %q→%q", ErrInvalidSquare, from, to)
	}
	promo := strings.ToLower(strings.TrimSpace(promotion))
	if promo != "" && !strings.Contains("qrbn", promo) || len(promo) > 1 {
		return "", "", fmt.Errorf("%w: promotion %q", ErrIllegalMove, promotion)
	}
	legal := p.legalSet()
	if promo != "" {
		uci := from + to + promo
		if _, ok := legal[uci]; ok {
			return uci, promo, nil
		}
		// a promotion letter on a non-promoting move is ignored
		if _, ok := legal[from+to]; ok {
			return from + to, "", nil
		}
		return "", "", fmt.Errorf("%w: %s", ErrIllegalMove, uci)
	}
	if _, ok := legal[from+to]; ok {
		return from + to, "", nil
	}
	if _, ok := legal[from+to+DefaultPromotion]; ok {
		return from + to + DefaultPromotion, DefaultPromotion, nil
	}
	return "", "", fmt.Errorf("%w: %s", ErrIllegalMove, from+to)
}

func (p *Position) legalSet() map[string]struct{} {
	valid := p.game.ValidMoves()
	out := make(map[string]struct{}, len(valid))
	for i := range valid {
		out[valid[i].String()] = struct{}{}
	}
	return out
}

// Turn returns the side to move.
func (p *Position) Turn() chessdto.Color {
	return colorFrom(p.game.Position().Turn())
}

func (p *Position) FEN() string { return p.game.FEN() }

// Moves returns the UCI moves played since the loaded start point.
func (p *Position) Moves() []string { return append([]string(nil), p.moves...) }

// Outcome returns the engine's result ("*" while in progress) and termination method.
func (p *Position) Outcome() (string, string) {
	o := p.game.Outcome()
	if o == nchess.NoOutcome {
		return string(o), ""
	}
	return string(o), p.game.Method().String()
}

// Finished reports whether the engine considers the game over.
func (p *Position) Finished() bool { return p.game.Outcome() != nchess.NoOutcome }

func (p *Position) Clone() *Position {
	return &Position{game: p.game.Clone(), moves: append([]string(nil), p.moves...)}
}

// Draw renders the board as text.
func (p *Position) Draw() string { return p.game.Position().Board().Draw() }

func gameFromFEN(fen string) (*nchess.Game, error) {
	fenMu.Lock()
	defer fenMu.Unlock()
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, err
	}
	return nchess.NewGame(opt), nil
}

func history(uciMoves []string) []string {
	var out []string
	for _, mv := range uciMoves {
		if mv = strings.ToLower(strings.TrimSpace(mv)); mv != "" {
			out = append(out, mv)
		}
	}
	return out
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorFrom(c nchess.Color) chessdto.Color {
	if c == nchess.White {
		return chessdto.White
	}
	return chessdto.Black
}

func validSquare(s string) bool {
	return len(s) == 2 && s[0] >= 'a' && s[0] <= 'h' && s[1] >= '1' && s[1] <= '8'
}
