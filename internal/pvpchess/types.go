package pvpchess

import (
	"time"
)

// Side identifies a chess side. White moves first and is always the creator.
type Side string

const (
	White Side = "white"
	Black Side = "black"
)

// Other returns the opposing side.
func (s Side) Other() Side {
	if s == White {
		return Black
	}
	return White
}

// Status represents a session lifecycle state.
type Status string

const (
	StatusPending              Status = "PENDING"
	StatusActive               Status = "ACTIVE"
	StatusWhiteWinsCheckmate   Status = "WHITE_WINS_CHECKMATE"
	StatusBlackWinsCheckmate   Status = "BLACK_WINS_CHECKMATE"
	StatusStalemate            Status = "STALEMATE"
	StatusDraw                 Status = "DRAW"
	StatusWhiteWinsResignation Status = "WHITE_WINS_RESIGNATION"
	StatusBlackWinsResignation Status = "BLACK_WINS_RESIGNATION"
	StatusWhiteWinsTimeout     Status = "WHITE_WINS_TIMEOUT"
	StatusBlackWinsTimeout     Status = "BLACK_WINS_TIMEOUT"
	StatusAbandoned            Status = "ABANDONED"
)

// Terminal reports whether no further mutation is accepted.
func (s Status) Terminal() bool {
	return s != StatusPending && s != StatusActive
}

// WinningSide returns the side named by a *_WINS_* status.
func (s Status) WinningSide() (Side, bool) {
	switch s {
	case StatusWhiteWinsCheckmate, StatusWhiteWinsResignation, StatusWhiteWinsTimeout:
		return White, true
	case StatusBlackWinsCheckmate, StatusBlackWinsResignation, StatusBlackWinsTimeout:
		return Black, true
	}
	return "", false
}

// Method is the lowercase termination method used for archives and PGN headers.
func (s Status) Method() string {
	switch s {
	case StatusWhiteWinsCheckmate, StatusBlackWinsCheckmate:
		return "checkmate"
	case StatusStalemate:
		return "stalemate"
	case StatusDraw:
		return "draw"
	case StatusWhiteWinsResignation, StatusBlackWinsResignation:
		return "resignation"
	case StatusWhiteWinsTimeout, StatusBlackWinsTimeout:
		return "timeout"
	case StatusAbandoned:
		return "abandoned"
	}
	return ""
}

func checkmateFor(s Side) Status {
	if s == White {
		return StatusWhiteWinsCheckmate
	}
	return StatusBlackWinsCheckmate
}

func resignationFor(winner Side) Status {
	if winner == White {
		return StatusWhiteWinsResignation
	}
	return StatusBlackWinsResignation
}

func timeoutFor(winner Side) Status {
	if winner == White {
		return StatusWhiteWinsTimeout
	}
	return StatusBlackWinsTimeout
}

// Move is one committed ply.
type Move struct {
	UCI  string    `json:"uci"`
	SAN  string    `json:"san"`
	Side Side      `json:"side"`
	At   time.Time `json:"at"`
}

// Session is the persisted state of a live contest.
type Session struct {
	ID          string    `json:"id"`
	WhiteID     string    `json:"white_id"`
	BlackID     string    `json:"black_id,omitempty"`
	CreatorID   string    `json:"creator_id"`
	TimeControl int       `json:"time_control"` // minutes per side
	WhiteTime   int       `json:"white_time"`   // seconds remaining
	BlackTime   int       `json:"black_time"`
	FEN         string    `json:"fen"`
	Turn        Side      `json:"turn"`
	Status      Status    `json:"status"`
	Winner      string    `json:"winner,omitempty"`
	Moves       []Move    `json:"moves"`
	DrawOfferBy string    `json:"draw_offer_by,omitempty"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Moves = append([]Move(nil), s.Moves...)
	return &c
}

// SideOf returns the side played by participant.
func (s *Session) SideOf(participant string) (Side, bool) {
	switch {
	case participant == "":
		return "", false
	case participant == s.WhiteID:
		return White, true
	case participant == s.BlackID:
		return Black, true
	}
	return "", false
}

// IsParticipant reports whether id plays in this session.
func (s *Session) IsParticipant(id string) bool {
	_, ok := s.SideOf(id)
	return ok
}

// PlayerID returns the participant playing side.
func (s *Session) PlayerID(side Side) string {
	if side == White {
		return s.WhiteID
	}
	return s.BlackID
}

// Remaining returns the seconds left on side's clock.
func (s *Session) Remaining(side Side) int {
	if side == White {
		return s.WhiteTime
	}
	return s.BlackTime
}

// Allotment is the total time each side started with.
func (s *Session) Allotment() time.Duration {
	return time.Duration(s.TimeControl) * time.Minute
}

// History returns the committed moves in UCI.
func (s *Session) History() []string {
	out := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		out = append(out, m.UCI)
	}
	return out
}

// SANs returns the committed moves in SAN.
func (s *Session) SANs() []string {
	out := make([]string, 0, len(s.Moves))
	for _, m := range s.Moves {
		out = append(out, m.SAN)
	}
	return out
}

// LastMove returns the most recent move, or nil.
func (s *Session) LastMove() *Move {
	if len(s.Moves) == 0 {
		return nil
	}
	m := s.Moves[len(s.Moves)-1]
	return &m
}

// IntentKind names a requested state change.
type IntentKind string

const (
	IntentJoin       IntentKind = "join"
	IntentMove       IntentKind = "move"
	IntentResign     IntentKind = "resign"
	IntentOfferDraw  IntentKind = "offer_draw"
	IntentAcceptDraw IntentKind = "accept_draw"
	IntentTick       IntentKind = "tick"
	IntentAbandon    IntentKind = "abandon"
	IntentTouch      IntentKind = "touch"
)

// Abandonment reasons.
const (
	AbandonInactivity = "inactivity"
	AbandonDisconnect = "disconnect"
	AbandonStale      = "stale"
)

// Intent is a request to change a session.
type Intent struct {
	Kind    IntentKind
	Move    string // IntentMove
	Elapsed int    // IntentTick: seconds to charge the side to move; defaults to 1
	Reason  string // IntentAbandon

	// Preconditions checked against the state read inside the commit. A
	// background trigger sets them to the state it judged; if the session
	// moved on meanwhile the intent is refused with ReasonStateChanged.
	ExpectVersion int64     // zero disables
	StaleBefore   time.Time // reject when UpdatedAt is after it; zero disables
}

// Transition is a committed change.
type Transition struct {
	Session  *Session
	Previous *Session
	Intent   Intent
	Actor    string
}

// Concluded reports whether this commit moved the session into a terminal state.
func (t *Transition) Concluded() bool {
	return t != nil && t.Previous != nil && !t.Previous.Status.Terminal() && t.Session.Status.Terminal()
}
