package chessdto

import "time"

// MoveMessage is published to /app/game/{id}/move.
type MoveMessage struct {
	SAN          string `json:"san"`
	UCI          string `json:"uci"`
	From         string `json:"from"`
	To           string `json:"to"`
	Promotion    string `json:"promotion,omitempty"`
	PlayerID     string `json:"playerId"`
	SubmissionID string `json:"submissionId"`
}

// MoveSubmission records a locally validated move that was handed to the transport.
type MoveSubmission struct {
	ID        string
	GameID    string
	From      string
	To        string
	Promotion string
	SAN       string
	UCI       string
	PlayerID  string
	FENBefore string
	FENAfter  string
	SentAt    time.Time
}

// Message converts the submission to its wire form.
func (s *MoveSubmission) Message() MoveMessage {
	return MoveMessage{
		SAN:          s.SAN,
		UCI:          s.UCI,
		From:         s.From,
		To:           s.To,
		Promotion:    s.Promotion,
		PlayerID:     s.PlayerID,
		SubmissionID: s.ID,
	}
}
