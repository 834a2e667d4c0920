package chessdto

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind tags an inbound message by the destination it arrived on.
type Kind string

const (
	KindUnknown     Kind = ""
	KindMatchFound  Kind = "match-found"
	KindMatchStatus Kind = "match-status"
	KindError       Kind = "errors"
	KindGameUpdate  Kind = "game-update"
)

var (
	ErrMalformedPayload = errors.New("malformed payload")
	ErrMissingGameID    = errors.New("payload missing game id")
	ErrMissingPosition  = errors.New("payload missing position")
)

// MatchFound is pushed on /user/queue/match-found.
type MatchFound struct {
	GameID     ID     `json:"gameId"`
	Color      Color  `json:"color,omitempty"`
	OpponentID ID     `json:"opponentId,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Classify maps a destination to its message kind using the configured prefixes.
func Classify(destination, userPrefix, topicPrefix string) Kind {
	d := strings.TrimSpace(destination)
	switch {
	case d == userPrefix+"/match-found":
		return KindMatchFound
	case d == userPrefix+"/match-status":
		return KindMatchStatus
	case d == userPrefix+"/errors":
		return KindError
	case strings.HasPrefix(d, topicPrefix+"/game/"):
		return KindGameUpdate
	default:
		return KindUnknown
	}
}

func decodeObject(body []byte, v any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return ErrMalformedPayload
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}

// DecodeMatchFound validates a match-found payload. A missing game id is an error.
func DecodeMatchFound(body []byte) (MatchFound, error) {
	var mf MatchFound
	if err := decodeObject(body, &mf); err != nil {
		return MatchFound{}, err
	}
	if strings.TrimSpace(string(mf.GameID)) == "" {
		return MatchFound{}, ErrMissingGameID
	}
	return mf, nil
}

// DecodeGame decodes a REST game document. Position fields are optional here;
// a game without position or moves starts from the initial position.
func DecodeGame(body []byte) (*Game, error) {
	var g Game
	if err := decodeObject(body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// DecodeGameUpdate validates a pushed game state. The position field must be present;
// partial updates are rejected so they are never applied.
func DecodeGameUpdate(body []byte) (*Game, error) {
	g, err := DecodeGame(body)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(g.FEN) == "" {
		return nil, ErrMissingPosition
	}
	if len(strings.Fields(g.FEN)) < 4 {
		return nil, fmt.Errorf("%w: fen %q", ErrMalformedPayload, g.FEN)
	}
	return g, nil
}

// DecodeStatus returns free-text status; JSON strings are unquoted.
func DecodeStatus(body []byte) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}
