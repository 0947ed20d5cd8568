package domain

import "time"

// DefaultRating is assigned to players without a stored profile.
const DefaultRating = 1200

type Profile struct {
	PlayerID    string
	Rating      int
	GamesPlayed int
	Wins        int
	Losses      int
	Draws       int
	LastDelta   int
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

// NewProfile returns a fresh profile at the default rating.
func NewProfile(playerID string, now time.Time) *Profile {
	return &Profile{PlayerID: playerID, Rating: DefaultRating, CreatedAt: now, UpdatedAt: now}
}

// Result is an archived, concluded session.
type Result struct {
	SessionID   string
	WhiteID     string
	BlackID     string
	TimeControl int
	Status      string
	Method      string
	Winner      string
	PGNResult   string
	MovesUCI    []string
	MovesSAN    []string
	PGN         string
	StartedAt   time.Time
	EndedAt     time.Time
	Duration    time.Duration
}
