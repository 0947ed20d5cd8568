package chess

import (
	"errors"
	"testing"
)

func play(t *testing.T, moves ...string) ([]string, *Verdict) {
	t.Helper()
	o := NewRulesOracle()
	var history []string
	var v *Verdict
	for _, mv := range moves {
		var err error
		v, err = o.Apply(history, mv)
		if err != nil {
			t.Fatalf("Apply(%v, %q): %v", history, mv, err)
		}
		history = append(history, v.UCI)
	}
	return history, v
}

func TestApply_UCIAndSAN(t *testing.T) {
	history, v := play(t, "e2e4", "Nc6")
	if len(history) != 2 || history[1] != "b8c6" {
		t.Fatalf("unexpected history: %v", history)
	}
	if v.SAN != "Nc6" || v.Turn != "white" || v.Outcome != OutcomeNone {
		t.Fatalf("unexpected verdict: %+v", v)
	}
}

func TestApply_Rejections(t *testing.T) {
	o := NewRulesOracle()
	if _, err := o.Apply(nil, "invalid"); !errors.Is(err, ErrMalformedMove) {
		t.Fatalf("expected malformed, got %v", err)
	}
	if _, err := o.Apply(nil, ""); !errors.Is(err, ErrMalformedMove) {
		t.Fatalf("expected malformed for empty move, got %v", err)
	}
	if _, err := o.Apply(nil, "e2e5"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected illegal, got %v", err)
	}
	if _, err := o.Apply([]string{"e2e4"}, "e2e4"); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected illegal for moved pawn, got %v", err)
	}
	if _, err := o.Apply([]string{"zz"}, "e7e5"); !errors.Is(err, ErrCorruptHistory) {
		t.Fatalf("expected corrupt history, got %v", err)
	}
}

func TestApply_Checkmate(t *testing.T) {
	_, v := play(t, "f2f3", "e7e5", "g2g4", "d8h4")
	if v.Outcome != OutcomeBlackWon || v.Method != "checkmate" {
		t.Fatalf("expected black checkmate, got %+v", v)
	}
}

func TestApply_Stalemate(t *testing.T) {
	_, v := play(t,
		"e3", "a5", "Qh5", "Ra6", "Qxa5", "h5", "h4", "Rah6",
		"Qxc7", "f6", "Qxd7+", "Kf7", "Qxb7", "Qd3", "Qxb8", "Qh7",
		"Qxc8", "Kg6", "Qe6",
	)
	if v.Outcome != OutcomeDraw || !IsStalemate(v.Method) {
		t.Fatalf("expected stalemate, got %+v", v)
	}
}

func TestPosition(t *testing.T) {
	o := NewRulesOracle()
	fen, err := o.Position(nil)
	if err != nil || fen != StartFEN {
		t.Fatalf("Position(nil) = %q, %v", fen, err)
	}
}
