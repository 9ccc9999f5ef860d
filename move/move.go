package move

import (
	"fmt"
	"strings"

	"github.com/octopoulo/vote-chess/rules"
)

// Move is a move record in a timeline. Fingerprint is the position after the
// move; it is empty until computed, and never changes once set.
type Move struct {
	SAN         string   `json:"san" yaml:"san"`
	UCI         string   `json:"uci,omitempty" yaml:"uci,omitempty"`
	From        string   `json:"from,omitempty" yaml:"from,omitempty"`
	To          string   `json:"to,omitempty" yaml:"to,omitempty"`
	Fingerprint string   `json:"fen,omitempty" yaml:"fen,omitempty"`
	Ply         int      `json:"ply" yaml:"ply"`
	Book        bool     `json:"book,omitempty" yaml:"book,omitempty"`
	Scored      bool     `json:"scored,omitempty" yaml:"scored,omitempty"`
	Score       int      `json:"score,omitempty" yaml:"score,omitempty"`
	PV          []string `json:"pv,omitempty" yaml:"pv,omitempty,flow"`
	ClockMillis int64    `json:"mt,omitempty" yaml:"mt,omitempty"`
	Nodes       uint64   `json:"n,omitempty" yaml:"n,omitempty"`
	Depth       int      `json:"d,omitempty" yaml:"d,omitempty"`
	SelDepth    int      `json:"sd,omitempty" yaml:"sd,omitempty"`
	NPS         uint64   `json:"s,omitempty" yaml:"s,omitempty"`
	HashHits    uint64   `json:"tb,omitempty" yaml:"tb,omitempty"`
}

// FromRules builds a record for a move the rules engine just applied.
// fen is the position after the move.
func FromRules(m rules.Move, fen string) *Move {
	return &Move{
		SAN:         m.SAN,
		UCI:         m.UCI,
		From:        m.From,
		To:          m.To,
		Fingerprint: fen,
		Ply:         rules.FenPly(fen),
	}
}

// HasFingerprint reports whether the position after the move is known.
func (m *Move) HasFingerprint() bool {
	return m.Fingerprint != ""
}

// Text returns the notation used to replay the move: SAN when known,
// otherwise UCI.
func (m *Move) Text() string {
	if m.SAN != "" {
		return m.SAN
	}
	return m.UCI
}

// Copy returns a deep copy.
func (m *Move) Copy() *Move {
	c := *m
	if m.PV != nil {
		c.PV = append([]string(nil), m.PV...)
	}
	return &c
}

// SetFingerprint sets the fingerprint if it is not already set. It returns
// false when a different fingerprint was already cached.
func (m *Move) SetFingerprint(fen string) bool {
	if m.Fingerprint == "" {
		m.Fingerprint = fen
		return true
	}
	return m.Fingerprint == fen
}

// MoveNumber formats the move number prefix, e.g. "12." or "12...".
func (m *Move) MoveNumber() string {
	num := m.Ply/2 + 1
	if m.Ply%2 == 1 {
		return fmt.Sprintf("%d...", num)
	}
	return fmt.Sprintf("%d.", num)
}

func (m *Move) String() string {
	var sb strings.Builder
	sb.WriteString(m.MoveNumber())
	sb.WriteString(m.Text())
	if m.Scored {
		fmt.Fprintf(&sb, " {%d", m.Score)
		if m.Depth > 0 {
			fmt.Fprintf(&sb, " d=%d/%d", m.Depth, m.SelDepth)
		}
		if m.Nodes > 0 {
			fmt.Fprintf(&sb, " n=%d", m.Nodes)
		}
		sb.WriteString("}")
	}
	if m.Book {
		sb.WriteString(" (book)")
	}
	return sb.String()
}
