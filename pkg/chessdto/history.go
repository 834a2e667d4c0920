package chessdto

// MoveRecord is one entry of GET /api/games/{id}/moves.
type MoveRecord struct {
	ID         ID     `json:"id,omitempty"`
	MoveNumber int    `json:"moveNumber,omitempty"`
	SAN        string `json:"san,omitempty"`
	UCI        string `json:"uci,omitempty"`
	PlayerID   string `json:"playerId,omitempty"`
	FENAfter   string `json:"fenAfter,omitempty"`
}

// UCIList returns the UCI notations of records that carry one.
func UCIList(records []MoveRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.UCI != "" {
			out = append(out, r.UCI)
		}
	}
	return out
}
