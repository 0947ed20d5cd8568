package arena

import (
	"github.com/park285/cheese-arena/internal/pvpchess"
	"github.com/park285/cheese-arena/pkg/chessdto"
)

// Publisher fans frames out to every observer of a session.
// Implementations must not block.
type Publisher interface {
	Broadcast(sessionID string, frame chessdto.Outbound)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(sessionID string, frame chessdto.Outbound)

func (f PublisherFunc) Broadcast(sessionID string, frame chessdto.Outbound) { f(sessionID, frame) }

type nopPublisher struct{}

func (nopPublisher) Broadcast(string, chessdto.Outbound) {}

// Messages renders user-facing text by key.
type Messages interface {
	Render(key string, data any) (string, error)
}

// SnapshotOf converts a session to its wire snapshot.
func SnapshotOf(s *pvpchess.Session) chessdto.Snapshot {
	snap := chessdto.Snapshot{
		SessionID:   s.ID,
		WhiteID:     s.WhiteID,
		BlackID:     s.BlackID,
		TimeControl: s.TimeControl,
		WhiteTime:   s.WhiteTime,
		BlackTime:   s.BlackTime,
		FEN:         s.FEN,
		Turn:        string(s.Turn),
		Status:      string(s.Status),
		Winner:      s.Winner,
		DrawOfferBy: s.DrawOfferBy,
		Moves:       make([]chessdto.MoveRecord, 0, len(s.Moves)),
		Version:     s.Version,
	}
	for _, m := range s.Moves {
		snap.Moves = append(snap.Moves, moveRecord(m))
	}
	if !s.StartedAt.IsZero() {
		t := s.StartedAt
		snap.StartedAt = &t
	}
	return snap
}

func moveRecord(m pvpchess.Move) chessdto.MoveRecord {
	return chessdto.MoveRecord{UCI: m.UCI, SAN: m.SAN, Side: string(m.Side), At: m.At}
}

func clockUpdateOf(s *pvpchess.Session) chessdto.ClockUpdate {
	return chessdto.ClockUpdate{
		WhiteTime: s.WhiteTime,
		BlackTime: s.BlackTime,
		Turn:      string(s.Turn),
		Status:    string(s.Status),
	}
}

func concludedOf(t *pvpchess.Transition) chessdto.SessionConcluded {
	s := t.Session
	reason := s.Status.Method()
	switch t.Intent.Kind {
	case pvpchess.IntentAbandon:
		reason = t.Intent.Reason
	case pvpchess.IntentAcceptDraw:
		reason = "agreement"
	}
	return chessdto.SessionConcluded{Status: string(s.Status), Winner: s.Winner, Reason: reason, FEN: s.FEN}
}

// DomainErrorOf maps a rejection to its wire form, with text from m when the
// catalog knows the reason.
func DomainErrorOf(rej *pvpchess.Rejection, m Messages) chessdto.DomainError {
	msg := rej.Reason
	if m != nil {
		if text, err := m.Render("rejection."+rej.Reason, nil); err == nil {
			msg = text
		}
	}
	return chessdto.DomainError{
		Code:      string(rej.Kind),
		Reason:    rej.Reason,
		Message:   msg,
		Retryable: rej.Retryable(),
		FEN:       rej.Position,
		Status:    string(rej.Status),
	}
}
