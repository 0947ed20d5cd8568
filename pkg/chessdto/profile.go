package chessdto

import "time"

type Profile struct {
	PlayerID    string    `json:"player_id"`
	Rating      int       `json:"rating"`
	GamesPlayed int       `json:"games_played"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	LastDelta   int       `json:"last_delta"`
	UpdatedAt   time.Time `json:"updated_at"`
}
