package chessdto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// ID is an opaque server identifier. The server may encode it as a JSON string or number.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	if _, err := strconv.ParseFloat(n.String(), 64); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// Color is the side to move as the server spells it.
type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

// ParseColor normalizes w/white/WHITE style spellings; unknown input yields "".
func ParseColor(s string) Color {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return White
	case "black", "b":
		return Black
	default:
		return ""
	}
}

// Opposite returns the other side.
func (c Color) Opposite() Color {
	switch c {
	case White:
		return Black
	case Black:
		return White
	default:
		return ""
	}
}

// ColorChoice is the creator's color preference for POST /api/games/create.
type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

// GameStatus is the lifecycle state reported by the server.
type GameStatus string

const (
	StatusWaitingForPlayer GameStatus = "WAITING_FOR_PLAYER"
	StatusActive           GameStatus = "ACTIVE"
	StatusCheckmate        GameStatus = "CHECKMATE"
	StatusStalemate        GameStatus = "STALEMATE"
	StatusDraw             GameStatus = "DRAW"
	StatusResigned         GameStatus = "RESIGNED"
	StatusTimeout          GameStatus = "TIMEOUT"
	StatusFinished         GameStatus = "FINISHED"
)

// Terminal reports whether no further moves are accepted.
func (s GameStatus) Terminal() bool {
	switch s {
	case "", StatusWaitingForPlayer, StatusActive:
		return false
	default:
		return true
	}
}

type Player struct {
	ID       ID     `json:"id"`
	Username string `json:"username,omitempty"`
}

// Game is the authoritative game document served by REST and pushed on /topic/game/{id}.
type Game struct {
	ID            ID           `json:"id"`
	WhitePlayer   *Player      `json:"whitePlayer,omitempty"`
	BlackPlayer   *Player      `json:"blackPlayer,omitempty"`
	WhitePlayerID ID           `json:"whitePlayerId,omitempty"`
	BlackPlayerID ID           `json:"blackPlayerId,omitempty"`
	CurrentTurn   Color        `json:"currentTurn,omitempty"`
	Status        GameStatus   `json:"status,omitempty"`
	GameStatus    GameStatus   `json:"gameStatus,omitempty"`
	FEN           string       `json:"fenPosition,omitempty"`
	PGN           string       `json:"pgnMoves,omitempty"`
	Moves         []MoveRecord `json:"moves,omitempty"`
	TimeControl   int          `json:"timeControl,omitempty"`
	TimeIncrement int          `json:"timeIncrement,omitempty"`
}

// WhiteID returns the white participant id, if assigned.
func (g *Game) WhiteID() string {
	if g == nil {
		return ""
	}
	if g.WhitePlayer != nil && g.WhitePlayer.ID != "" {
		return string(g.WhitePlayer.ID)
	}
	return string(g.WhitePlayerID)
}

// BlackID returns the black participant id, if assigned.
func (g *Game) BlackID() string {
	if g == nil {
		return ""
	}
	if g.BlackPlayer != nil && g.BlackPlayer.ID != "" {
		return string(g.BlackPlayer.ID)
	}
	return string(g.BlackPlayerID)
}

// EffectiveStatus prefers status and falls back to the older gameStatus field.
func (g *Game) EffectiveStatus() GameStatus {
	if g == nil {
		return ""
	}
	if g.Status != "" {
		return GameStatus(strings.ToUpper(string(g.Status)))
	}
	return GameStatus(strings.ToUpper(string(g.GameStatus)))
}

// ColorOf returns the side userID plays in g, or "" for spectators.
func (g *Game) ColorOf(userID string) Color {
	userID = strings.TrimSpace(userID)
	if g == nil || userID == "" {
		return ""
	}
	if g.WhiteID() == userID {
		return White
	}
	if g.BlackID() == userID {
		return Black
	}
	return ""
}
