package chessdto

import "time"

type MoveRecord struct {
	UCI  string    `json:"uci"`
	SAN  string    `json:"san"`
	Side string    `json:"side"`
	At   time.Time `json:"at"`
}

// Snapshot is the authoritative view of a session sent for (re)synchronization.
type Snapshot struct {
	SessionID   string       `json:"session_id"`
	WhiteID     string       `json:"white_id"`
	BlackID     string       `json:"black_id,omitempty"`
	TimeControl int          `json:"time_control"`
	WhiteTime   int          `json:"white_time"`
	BlackTime   int          `json:"black_time"`
	FEN         string       `json:"fen"`
	Turn        string       `json:"turn"`
	Status      string       `json:"status"`
	Winner      string       `json:"winner,omitempty"`
	DrawOfferBy string       `json:"draw_offer_by,omitempty"`
	Moves       []MoveRecord `json:"moves"`
	Version     int64        `json:"version"`
	StartedAt   *time.Time   `json:"started_at,omitempty"`
}
