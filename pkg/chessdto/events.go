package chessdto

import "time"

type MoveApplied struct {
	Actor     string     `json:"actor"`
	Move      MoveRecord `json:"move"`
	FEN       string     `json:"fen"`
	Turn      string     `json:"turn"`
	Status    string     `json:"status"`
	WhiteTime int        `json:"white_time"`
	BlackTime int        `json:"black_time"`
}

type ClockUpdate struct {
	WhiteTime int    `json:"white_time"`
	BlackTime int    `json:"black_time"`
	Turn      string `json:"turn"`
	Status    string `json:"status"`
}

type InactivityAdvisory struct {
	Participant      string `json:"participant"`
	SecondsRemaining int    `json:"seconds_remaining"`
	Message          string `json:"message,omitempty"`
}

type SessionConcluded struct {
	Status string `json:"status"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
	FEN    string `json:"fen"`
}

type DrawOffered struct {
	Actor string `json:"actor"`
}

type ChatMessage struct {
	Actor string    `json:"actor"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

type Advisory struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}
