package chessdto

// UserProfile is returned by GET /api/users/{id}.
type UserProfile struct {
	ID       ID     `json:"id"`
	Username string `json:"username"`
	Rating   int    `json:"rating,omitempty"`
	Wins     int    `json:"wins,omitempty"`
	Losses   int    `json:"losses,omitempty"`
	Draws    int    `json:"draws,omitempty"`
}
