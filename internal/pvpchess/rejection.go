package pvpchess

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected intent.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindRule              Kind = "RULE"
	KindConflictExhausted Kind = "CONFLICT_EXHAUSTED"
	KindNotFound          Kind = "NOT_FOUND"
	KindStoreUnavailable  Kind = "STORE_UNAVAILABLE"
)

// Rejection reasons. These double as message catalog keys.
const (
	ReasonNotParticipant     = "not_participant"
	ReasonNotYourTurn        = "not_your_turn"
	ReasonNotActive          = "not_active"
	ReasonNotPending         = "not_pending"
	ReasonSelfJoin           = "self_join"
	ReasonIllegalMove        = "illegal_move"
	ReasonMalformedMove      = "malformed_move"
	ReasonNoDrawOffer        = "no_draw_offer"
	ReasonInvalidTimeControl = "invalid_time_control"
	ReasonInvalidIntent      = "invalid_intent"
	ReasonInvalidChat        = "invalid_chat"
	ReasonSessionNotFound    = "session_not_found"
	ReasonConflict           = "conflict"
	ReasonStateChanged       = "state_changed"
	ReasonStore              = "store_unavailable"
)

// Rejection is returned for every refused intent. Position and Status carry
// the authoritative state, when known, so the caller can resynchronize.
type Rejection struct {
	Kind     Kind
	Reason   string
	Position string
	Status   Status
	Err      error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return fmt.Sprintf("%s: %s: %v", r.Kind, r.Reason, r.Err)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Retryable reports whether resubmitting the same intent may succeed.
func (r *Rejection) Retryable() bool {
	return r.Kind == KindConflictExhausted || r.Kind == KindStoreUnavailable
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsReason reports whether err is a Rejection with the given reason.
func IsReason(err error, reason string) bool {
	rej, ok := AsRejection(err)
	return ok && rej.Reason == reason
}

func ruleRejection(s *Session, reason string) *Rejection {
	return &Rejection{Kind: KindRule, Reason: reason, Position: s.FEN, Status: s.Status}
}

func validationRejection(s *Session, reason string, err error) *Rejection {
	r := &Rejection{Kind: KindValidation, Reason: reason, Err: err}
	if s != nil {
		r.Position, r.Status = s.FEN, s.Status
	}
	return r
}
