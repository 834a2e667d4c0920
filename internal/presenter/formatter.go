package presenter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-sync-client/internal/directory"
	"github.com/park285/chess-sync-client/internal/gamesync"
	"github.com/park285/chess-sync-client/internal/msgcat"
	"github.com/park285/chess-sync-client/internal/rules"
	"github.com/park285/chess-sync-client/internal/session"
	"github.com/park285/chess-sync-client/pkg/chessdto"
)

const recentMovesLimit = 6

// Formatter renders client state into terminal text using the message catalog.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	return &Formatter{cat: cat}
}

func (f *Formatter) text(key string, data map[string]any) string {
	return f.cat.Text(key, data)
}

func (f *Formatter) Game(s gamesync.Snapshot) string {
	var sb strings.Builder
	sb.WriteString(f.text("game.header", map[string]any{
		"GameID": s.GameID,
		"White":  playerLabel(s.WhiteName, s.WhiteID),
		"Black":  playerLabel(s.BlackName, s.BlackID),
	}))
	sb.WriteString("\n")
	if s.Board != "" {
		sb.WriteString(orient(s.Board, s.Color))
		sb.WriteString("\n")
	}

	switch {
	case s.Status == chessdto.StatusWaitingForPlayer:
		sb.WriteString(f.text("game.waiting", nil))
	case s.Finished() || s.Result != "" && s.Result != "*":
		sb.WriteString(f.outcome(s))
	default:
		sb.WriteString(f.text("game.status", map[string]any{
			"Status": string(s.Status),
			"Turn":   strings.ToLower(string(s.Turn)),
			"MyTurn": s.MyTurn,
		}))
	}
	if len(s.Moves) > 0 {
		sb.WriteString("\n")
		sb.WriteString(f.text("game.recent", map[string]any{"Moves": formatRecentMoves(s.Moves)}))
	}
	if s.Phase == gamesync.PhaseTentative {
		sb.WriteString("\n")
		sb.WriteString(f.text("game.phase", nil))
	}
	return sb.String()
}

func (f *Formatter) outcome(s gamesync.Snapshot) string {
	method := strings.ToLower(s.Method)
	if method == "" {
		method = strings.ToLower(string(s.Status))
	}
	data := map[string]any{"Result": s.Result, "Method": method}
	switch winner(s) {
	case "":
		if s.Result == "1/2-1/2" || s.Status == chessdto.StatusDraw || s.Status == chessdto.StatusStalemate {
			return f.text("game.drawn", data)
		}
		return f.text("game.outcome", data)
	case s.Color:
		return f.text("game.won", data)
	default:
		if s.Color == "" {
			return f.text("game.outcome", data)
		}
		return f.text("game.lost", data)
	}
}

func winner(s gamesync.Snapshot) chessdto.Color {
	switch s.Result {
	case "1-0":
		return chessdto.White
	case "0-1":
		return chessdto.Black
	}
	return ""
}

func (f *Formatter) Directory(games []chessdto.Game) string {
	if len(games) == 0 {
		return f.text("directory.empty", nil)
	}
	rows := make([]string, 0, len(games))
	for _, g := range games {
		rows = append(rows, f.text("directory.row", map[string]any{
			"GameID": g.ID.String(),
			"Status": string(g.EffectiveStatus()),
			"White":  playerLabel(nameOf(g.WhitePlayer), g.WhiteID()),
			"Black":  playerLabel(nameOf(g.BlackPlayer), g.BlackID()),
		}))
	}
	return strings.Join(rows, "\n")
}

// Lobby splits the directory into games userID can join and games to watch.
func (f *Formatter) Lobby(games []chessdto.Game, userID string) string {
	joinable := directory.Joinable(games, userID)
	watchable := directory.Spectatable(games)
	if len(joinable)+len(watchable) == 0 {
		return f.text("directory.empty", nil)
	}
	var parts []string
	if len(joinable) > 0 {
		parts = append(parts, f.text("directory.joinable", nil), f.Directory(joinable))
	}
	if len(watchable) > 0 {
		parts = append(parts, f.text("directory.spectatable", nil), f.Directory(watchable))
	}
	return strings.Join(parts, "\n")
}

// History numbers the moves of a game in SAN, falling back to UCI.
func (f *Formatter) History(gameID string, moves []chessdto.MoveRecord) string {
	if len(moves) == 0 {
		return f.text("directory.no_history", map[string]any{"GameID": gameID})
	}
	var b strings.Builder
	for i, m := range moves {
		notation := m.SAN
		if notation == "" {
			notation = m.UCI
		}
		if i%2 == 0 {
			if i > 0 {
				b.WriteByte(' ')
			}
			fmt.Fprintf(&b, "%d.", i/2+1)
		}
		b.WriteByte(' ')
		b.WriteString(notation)
	}
	return f.text("directory.history", map[string]any{"GameID": gameID, "Moves": b.String()})
}

func (f *Formatter) MatchFound(m chessdto.MatchFound) string {
	return f.text("match.found", map[string]any{
		"GameID": m.GameID.String(),
		"Color":  strings.ToLower(string(m.Color)),
	})
}

func (f *Formatter) QueueStatus(text string) string {
	return f.text("queue.status", map[string]any{"Text": text})
}

func (f *Formatter) MoveSent(sub *chessdto.MoveSubmission) string {
	return f.text("game.moved", map[string]any{"SAN": sub.SAN, "UCI": sub.UCI})
}

func (f *Formatter) MoveFailed(sub chessdto.MoveSubmission, err error) string {
	return f.text("game.move_failed", map[string]any{"UCI": sub.UCI, "Error": err.Error()})
}

// ConnectionError reports a transport failure; anything short of exhaustion is retried.
func (f *Formatter) ConnectionError(err error, retryIn time.Duration) string {
	if errors.Is(err, session.ErrReconnectExhausted) {
		return f.text("session.exhausted", map[string]any{"Error": err.Error()})
	}
	return f.text("session.retrying", map[string]any{"Error": err.Error(), "Delay": retryIn.String()})
}

// Error maps well-known failures to catalog text.
func (f *Formatter) Error(err error) string {
	var de chessdto.DomainError
	switch {
	case errors.Is(err, gamesync.ErrNotYourTurn):
		return f.text("game.not_your_turn", nil)
	case errors.Is(err, rules.ErrIllegalMove), errors.Is(err, rules.ErrInvalidSquare):
		return f.text("game.illegal", map[string]any{"Move": err.Error()})
	case errors.As(err, &de):
		return f.text("queue.error", map[string]any{"Text": de.Error()})
	default:
		return f.text("session.error", map[string]any{"Error": err.Error()})
	}
}

func (f *Formatter) Profile(p *chessdto.UserProfile) string {
	if p == nil {
		return f.text("auth.not_authenticated", nil)
	}
	return f.text("profile.summary", map[string]any{
		"Username": p.Username,
		"ID":       p.ID.String(),
		"Rating":   p.Rating,
		"Wins":     p.Wins,
		"Losses":   p.Losses,
		"Draws":    p.Draws,
	})
}

func playerLabel(name, id string) string {
	switch {
	case name != "":
		return name
	case id != "":
		return id
	default:
		return "?"
	}
}

func nameOf(p *chessdto.Player) string {
	if p == nil {
		return ""
	}
	return p.Username
}

func formatRecentMoves(moves []string) string {
	if len(moves) <= recentMovesLimit {
		return strings.Join(moves, " ")
	}
	return "... " + strings.Join(moves[len(moves)-recentMovesLimit:], " ")
}

// orient flips the engine drawing so black sees their pieces at the bottom.
func orient(board string, color chessdto.Color) string {
	board = strings.TrimRight(board, "\n")
	if color != chessdto.Black {
		return board
	}
	lines := strings.Split(board, "\n")
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
