package rules

import (
	"fmt"
	"strings"

	"github.com/dylhunn/dragontoothmg"
	"github.com/notnil/chess"

	"github.com/octopoulo/vote-chess/cache"
)

const legalCacheSize = 1 << 14

type legalSet struct {
	moves []Move
	raw   []*chess.Move
}

type frame struct {
	pos *chess.Position
	fen string
}

// Chess is an Engine backed by notnil/chess. Positions are immutable, so the
// cursor is a stack of positions.
type Chess struct {
	stack []frame
	legal *cache.Cache[legalSet]
}

// NewChess returns an engine at the standard start position.
func NewChess() *Chess {
	c := &Chess{legal: cache.New[legalSet](legalCacheSize)}
	pos := chess.StartingPosition()
	c.stack = []frame{{pos: pos, fen: pos.String()}}
	return c
}

func (c *Chess) top() frame {
	return c.stack[len(c.stack)-1]
}

func (c *Chess) Load(fen string) error {
	opt, err := chess.FEN(fen)
	if err != nil {
		return fmt.Errorf("load %q: %w", fen, err)
	}
	pos := chess.NewGame(opt).Position()
	c.stack = append(c.stack[:0], frame{pos: pos, fen: pos.String()})
	return nil
}

func (c *Chess) Fingerprint() string {
	return c.top().fen
}

func (c *Chess) legalSet() legalSet {
	f := c.top()
	set, _ := c.legal.Get(f.fen, func(string) (legalSet, error) {
		raw := f.pos.ValidMoves()
		set := legalSet{moves: make([]Move, len(raw)), raw: raw}
		for i, m := range raw {
			set.moves[i] = convert(f.pos, m)
		}
		return set, nil
	})
	return set
}

func convert(pos *chess.Position, m *chess.Move) Move {
	uci := m.String()
	mv := Move{
		UCI:     uci,
		SAN:     chess.AlgebraicNotation{}.Encode(pos, m),
		From:    m.S1().String(),
		To:      m.S2().String(),
		Capture: m.HasTag(chess.Capture) || m.HasTag(chess.EnPassant),
		Check:   m.HasTag(chess.Check),
	}
	if len(uci) == 5 {
		mv.Promotion = uci[4:]
	}
	return mv
}

func (c *Chess) LegalMoves() []Move {
	moves := c.legalSet().moves
	out := make([]Move, len(moves))
	copy(out, moves)
	return out
}

func stripSAN(san string) string {
	return strings.TrimRight(san, "+#!?")
}

func (c *Chess) Apply(text string) Move {
	set := c.legalSet()
	want := stripSAN(strings.TrimSpace(text))
	for i, m := range set.moves {
		if m.UCI == want || stripSAN(m.SAN) == want {
			pos := c.top().pos.Update(set.raw[i])
			c.stack = append(c.stack, frame{pos: pos, fen: pos.String()})
			return m
		}
	}
	return Move{}
}

func (c *Chess) Undo() {
	if len(c.stack) > 1 {
		c.stack = c.stack[:len(c.stack)-1]
	}
}

func (c *Chess) IsInCheck() bool {
	b := dragontoothmg.ParseFen(c.top().fen)
	return b.OurKingInCheck()
}

func (c *Chess) Turn() Color {
	if c.top().pos.Turn() == chess.Black {
		return Black
	}
	return White
}
