package chessdto

// CreateGameRequest is the body of POST /api/games/create.
type CreateGameRequest struct {
	Player1ID     string      `json:"player1Id"`
	Player2ID     string      `json:"player2Id,omitempty"`
	TimeControl   int         `json:"timeControl"`
	TimeIncrement int         `json:"timeIncrement"`
	Color         ColorChoice `json:"color"`
}

// JoinGameRequest is the body of POST /api/games/{id}/join.
type JoinGameRequest struct {
	PlayerID string `json:"playerId"`
}

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// QueueRequest is published to the queue join/leave destinations.
type QueueRequest struct {
	PlayerID string `json:"playerId"`
}

// UserIDResponse is the JSON body of GET /api/auth/userid.
type UserIDResponse struct {
	UserID ID `json:"userId"`
}
