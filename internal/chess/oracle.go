package chess

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var (
	// ErrMalformedMove means the move text is not a move encoding at all.
	ErrMalformedMove = errors.New("malformed move")
	// ErrIllegalMove means the move is well formed but not legal in the position.
	ErrIllegalMove = errors.New("illegal move")
	// ErrCorruptHistory is returned when stored moves cannot be replayed.
	ErrCorruptHistory = errors.New("move history cannot be replayed")
)

// Outcome is the result of the game after a move, if any.
type Outcome string

const (
	OutcomeNone     Outcome = ""
	OutcomeWhiteWon Outcome = "white"
	OutcomeBlackWon Outcome = "black"
	OutcomeDraw     Outcome = "draw"
)

// Verdict describes a legal move and the position it produces.
type Verdict struct {
	UCI     string
	SAN     string
	FEN     string
	Turn    string // side to move next: "white" or "black"
	Outcome Outcome
	Method  string // lowercase termination method, e.g. "checkmate", "stalemate"
}

// Oracle judges move legality. Implementations must be safe for concurrent use.
type Oracle interface {
	Apply(history []string, move string) (*Verdict, error)
	Position(history []string) (string, error)
}

// RulesOracle is an Oracle backed by corentings/chess. The game is always
// replayed from the start position using the stored UCI history.
type RulesOracle struct{}

func NewRulesOracle() *RulesOracle { return &RulesOracle{} }

// StartFEN is the FEN of the standard initial position.
var StartFEN = nchess.NewGame().FEN()

var moveText = regexp.MustCompile(`^[a-hA-H1-8KQRBNOqrbnx=+#\-]{2,8}$`)

// Apply plays move (UCI preferred, SAN accepted) after history.
func (RulesOracle) Apply(history []string, move string) (*Verdict, error) {
	raw := strings.TrimSpace(move)
	if raw == "" || !moveText.MatchString(raw) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedMove, move)
	}
	game, err := replay(history)
	if err != nil {
		return nil, err
	}
	pos := game.Position()

	uci := strings.ToLower(raw)
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		if err := game.PushNotationMove(raw, nchess.AlgebraicNotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
		}
	}
	last := lastMove(game)
	if last == nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, raw)
	}

	v := &Verdict{
		UCI:  last.String(),
		SAN:  nchess.AlgebraicNotation{}.Encode(pos, last),
		FEN:  game.FEN(),
		Turn: colorName(game.Position().Turn()),
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		v.Outcome = OutcomeWhiteWon
	case nchess.BlackWon:
		v.Outcome = OutcomeBlackWon
	case nchess.Draw:
		v.Outcome = OutcomeDraw
	}
	if v.Outcome != OutcomeNone {
		v.Method = strings.ToLower(game.Method().String())
	}
	return v, nil
}

// Position returns the FEN reached after history.
func (RulesOracle) Position(history []string) (string, error) {
	game, err := replay(history)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

func replay(history []string) (*nchess.Game, error) {
	// FEN on the session is for presentation only; replaying it as well would double-apply moves.
	game := nchess.NewGame()
	for i, mv := range history {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("%w: ply %d (%s): %v", ErrCorruptHistory, i+1, mv, err)
		}
	}
	return game, nil
}

func lastMove(game *nchess.Game) *nchess.Move {
	moves := game.Moves()
	if len(moves) == 0 {
		return nil
	}
	return moves[len(moves)-1]
}

func colorName(c nchess.Color) string {
	if c == nchess.White {
		return "white"
	}
	return "black"
}

// IsStalemate reports whether method names a stalemate termination.
func IsStalemate(method string) bool {
	return method == strings.ToLower(nchess.Stalemate.String())
}
