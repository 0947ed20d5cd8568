package pvpchess

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/cheese-arena/internal/chess"
)

// MaxTimeControl caps the per-side allotment in minutes.
const MaxTimeControl = 180

// NewSession builds a pending session created by creatorID, who plays white.
func NewSession(id, creatorID string, timeControl int, now time.Time) (*Session, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, validationRejection(nil, ReasonNotParticipant, errors.New("creator required"))
	}
	if timeControl <= 0 || timeControl > MaxTimeControl {
		return nil, validationRejection(nil, ReasonInvalidTimeControl, fmt.Errorf("time control %d out of range", timeControl))
	}
	secs := timeControl * 60
	return &Session{
		ID:          id,
		WhiteID:     creatorID,
		CreatorID:   creatorID,
		TimeControl: timeControl,
		WhiteTime:   secs,
		BlackTime:   secs,
		FEN:         chess.StartFEN,
		Turn:        White,
		Status:      StatusPending,
		Moves:       []Move{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// advance applies in to s in place. It is pure apart from the oracle call; any
// returned error leaves the caller responsible for discarding s.
func advance(s *Session, actor string, in Intent, oracle chess.Oracle, now time.Time) error {
	if in.ExpectVersion != 0 && s.Version != in.ExpectVersion {
		return ruleRejection(s, ReasonStateChanged)
	}
	if !in.StaleBefore.IsZero() && s.UpdatedAt.After(in.StaleBefore) {
		return ruleRejection(s, ReasonStateChanged)
	}
	switch in.Kind {
	case IntentJoin:
		if err := join(s, actor, now); err != nil {
			return err
		}
	case IntentMove, IntentResign, IntentOfferDraw, IntentAcceptDraw:
		side, ok := s.SideOf(actor)
		if !ok {
			return ruleRejection(s, ReasonNotParticipant)
		}
		if s.Status != StatusActive {
			return ruleRejection(s, ReasonNotActive)
		}
		var err error
		switch in.Kind {
		case IntentMove:
			err = move(s, side, in.Move, oracle, now)
		case IntentResign:
			s.Status = resignationFor(side.Other())
			s.Winner = s.PlayerID(side.Other())
		case IntentOfferDraw:
			s.DrawOfferBy = actor
		case IntentAcceptDraw:
			if s.DrawOfferBy == "" || s.DrawOfferBy == actor {
				return ruleRejection(s, ReasonNoDrawOffer)
			}
			s.Status = StatusDraw
			s.DrawOfferBy = ""
		}
		if err != nil {
			return err
		}
	case IntentTick:
		if s.Status != StatusActive {
			return ruleRejection(s, ReasonNotActive)
		}
		charge(s, in.Elapsed)
	case IntentAbandon:
		if s.Status != StatusActive {
			return ruleRejection(s, ReasonNotActive)
		}
		s.Status = StatusAbandoned
		s.Winner = ""
		s.DrawOfferBy = ""
	case IntentTouch:
		if s.Status != StatusActive {
			return ruleRejection(s, ReasonNotActive)
		}
	default:
		return validationRejection(s, ReasonInvalidIntent, fmt.Errorf("unknown intent %q", in.Kind))
	}
	s.Version++
	s.UpdatedAt = now
	return nil
}

func join(s *Session, actor string, now time.Time) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return validationRejection(s, ReasonNotParticipant, errors.New("joiner required"))
	}
	if s.Status != StatusPending || s.BlackID != "" {
		return ruleRejection(s, ReasonNotPending)
	}
	if actor == s.CreatorID || actor == s.WhiteID {
		return ruleRejection(s, ReasonSelfJoin)
	}
	if s.TimeControl <= 0 {
		return ruleRejection(s, ReasonInvalidTimeControl)
	}
	s.BlackID = actor
	s.Status = StatusActive
	s.Turn = White
	s.StartedAt = now
	return nil
}

func move(s *Session, side Side, text string, oracle chess.Oracle, now time.Time) error {
	if side != s.Turn {
		return ruleRejection(s, ReasonNotYourTurn)
	}
	v, err := oracle.Apply(s.History(), text)
	switch {
	case errors.Is(err, chess.ErrMalformedMove):
		return validationRejection(s, ReasonMalformedMove, err)
	case errors.Is(err, chess.ErrIllegalMove):
		r := ruleRejection(s, ReasonIllegalMove)
		r.Err = err
		return r
	case err != nil:
		return fmt.Errorf("oracle: %w", err)
	}
	s.Moves = append(s.Moves, Move{UCI: v.UCI, SAN: v.SAN, Side: side, At: now})
	s.FEN = v.FEN
	s.Turn = Side(v.Turn)
	s.DrawOfferBy = ""
	switch v.Outcome {
	case chess.OutcomeWhiteWon:
		s.Status = checkmateFor(White)
		s.Winner = s.WhiteID
	case chess.OutcomeBlackWon:
		s.Status = checkmateFor(Black)
		s.Winner = s.BlackID
	case chess.OutcomeDraw:
		s.Status = StatusDraw
		if chess.IsStalemate(v.Method) {
			s.Status = StatusStalemate
		}
	}
	return nil
}

// charge decrements the side to move, clamping at zero. Zero ends the
// session in favour of the other side.
func charge(s *Session, elapsed int) {
	if elapsed <= 0 {
		elapsed = 1
	}
	mover := s.Turn
	left := s.Remaining(mover) - elapsed
	if left < 0 {
		left = 0
	}
	if mover == White {
		s.WhiteTime = left
	} else {
		s.BlackTime = left
	}
	if left == 0 {
		s.Status = timeoutFor(mover.Other())
		s.Winner = s.PlayerID(mover.Other())
		s.DrawOfferBy = ""
	}
}
