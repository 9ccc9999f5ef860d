// Package rules wraps a chess rules engine behind a small cursor-based
// interface. The rest of the module never generates moves itself.
package rules

type Color int8

const (
	White Color = iota
	Black
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Move is a legal move as reported by an Engine. The zero Move, and any move
// with From == To, is the illegal marker returned by Apply.
type Move struct {
	UCI       string `json:"uci"`
	SAN       string `json:"san"`
	From      string `json:"from"`
	To        string `json:"to"`
	Capture   bool   `json:"capture,omitempty"`
	Check     bool   `json:"check,omitempty"`
	Promotion string `json:"promotion,omitempty"`
}

// Illegal reports whether m is the "no state change" marker.
func (m Move) Illegal() bool {
	return m.From == m.To
}

// Order is a static ordering priority: promotions, then captures, then
// checks.
func (m Move) Order() int {
	order := 0
	if m.Promotion != "" {
		order += 32
	}
	if m.Capture {
		order += 16
	}
	if m.Check {
		order += 8
	}
	return order
}

// Engine is a rules engine with an internal cursor. Apply pushes the cursor
// forward, Undo pops it. Callers that evaluate speculatively must undo what
// they apply.
type Engine interface {
	// Load replaces the cursor with the given position.
	Load(fen string) error
	// Fingerprint returns the FEN of the cursor position.
	Fingerprint() string
	// LegalMoves returns the legal moves at the cursor.
	LegalMoves() []Move
	// Apply plays a move given in UCI or SAN. An unknown or illegal move
	// returns a Move with From == To and leaves the cursor untouched.
	Apply(text string) Move
	// Undo reverts the last Apply. It is a no-op at the loaded position.
	Undo()
	// IsInCheck reports whether the side to move is in check.
	IsInCheck() bool
	// Turn returns the side to move.
	Turn() Color
}

// LegalMovesAt loads fen into e and returns its legal moves.
func LegalMovesAt(e Engine, fen string) ([]Move, error) {
	if err := e.Load(fen); err != nil {
		return nil, err
	}
	return e.LegalMoves(), nil
}
