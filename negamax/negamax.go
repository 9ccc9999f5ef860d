// Package negamax is the worker-side search: a fail-hard alpha-beta with a
// quiescence extension over dragontoothmg boards.
package negamax

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dylhunn/dragontoothmg"
	"github.com/rs/zerolog/log"
)

// thanks Wikipedia:
/*
function negamax(node, depth, α, β, color) is
    if depth = 0 or node is a terminal node then
        return color × the heuristic value of node

    childNodes := generateMoves(node)
    childNodes := orderMoves(childNodes)
    value := −∞
    foreach child in childNodes do
        value := max(value, −negamax(child, depth − 1, −β, −α, −color))
        α := max(α, value)
        if α ≥ β then
            break (* cut-off *)
    return value
**/

const (
	Infinity  = 32000
	MateScore = 30000
	// mates within this many plies of MateScore are mate scores
	MaxPly         = 128
	QuiescenceMax  = 8
	cancelInterval = 2048
)

var ErrUnknownMove = errors.New("move is not legal in this position")

// PVLine is a principal variation.
// Credit: MIT-licensed https://github.com/algerbrex/blunder/blob/main/engine/search.go
type PVLine struct {
	Moves []dragontoothmg.Move
}

// Clear the principal variation line.
func (pvLine *PVLine) Clear() {
	pvLine.Moves = pvLine.Moves[:0]
}

// Update the principal variation line with a new best move,
// and a new line of best play after the best move.
func (pvLine *PVLine) Update(m dragontoothmg.Move, newPVLine PVLine) {
	pvLine.Clear()
	pvLine.Moves = append(pvLine.Moves, m)
	pvLine.Moves = append(pvLine.Moves, newPVLine.Moves...)
}

func (pvLine PVLine) UCI() []string {
	out := make([]string, len(pvLine.Moves))
	for i := range pvLine.Moves {
		out[i] = pvLine.Moves[i].String()
	}
	return out
}

func (pvLine PVLine) String() string {
	return strings.Join(pvLine.UCI(), " ")
}

// RootMove is the result for one root move.
type RootMove struct {
	UCI   string
	Score int
	PV    []string
	Nodes uint64
	Depth int
}

// Stats are the counters of one SearchMoves call.
type Stats struct {
	Nodes    uint64
	AvgDepth float64
	SelDepth int
	HashHits uint64
}

// Searcher searches root moves of one position at a time. It is not safe
// for concurrent use; the transposition table may be shared.
type Searcher struct {
	tt    *TranspositionTable
	board dragontoothmg.Board

	nodes     uint64
	selDepth  int
	leafDepth uint64
	leaves    uint64
	hashHits  uint64
	path      []uint64
	hint      []string
}

func NewSearcher(tt *TranspositionTable) *Searcher {
	if tt == nil {
		tt = NewTranspositionTable()
		tt.Reset(0)
	}
	return &Searcher{tt: tt}
}

// Options are the per-task search switches.
type Options struct {
	Depth int
	// PVHint is a space-separated line searched first.
	PVHint string
	// ScanAll gives every root move a full window so all scores are
	// exact; otherwise moves that cannot beat the best only get a bound.
	ScanAll bool
}

// SearchMoves evaluates the given root moves of fen. Unknown moves are an
// error. Results are in search order.
func (s *Searcher) SearchMoves(ctx context.Context, fen string, moves []string, opts Options) ([]RootMove, Stats, error) {
	s.board = dragontoothmg.ParseFen(fen)
	s.nodes, s.selDepth, s.leafDepth, s.leaves = 0, 0, 0, 0
	hitsBefore := s.tt.Hits()
	s.path = append(s.path[:0], s.board.Hash())
	s.hint = strings.Fields(opts.PVHint)
	depth := max(1, opts.Depth)

	legal := s.board.GenerateLegalMoves()
	byUCI := make(map[string]dragontoothmg.Move, len(legal))
	for i := range legal {
		byUCI[legal[i].String()] = legal[i]
	}
	roots := make([]dragontoothmg.Move, 0, len(moves))
	for _, text := range moves {
		m, ok := byUCI[text]
		if !ok {
			return nil, Stats{}, fmt.Errorf("%w: %s in %s", ErrUnknownMove, text, fen)
		}
		roots = append(roots, m)
	}
	if len(s.hint) > 0 {
		sort.SliceStable(roots, func(i, j int) bool {
			return roots[i].String() == s.hint[0] && roots[j].String() != s.hint[0]
		})
	}

	results := make([]RootMove, 0, len(roots))
	alpha := -Infinity
	var childPV PVLine
	for i := range roots {
		m := roots[i]
		before := s.nodes
		childPV.Clear()
		unapply := s.board.Apply(m)
		s.path = append(s.path, s.board.Hash())
		beta := -alpha
		if opts.ScanAll || i == 0 {
			beta = Infinity
		}
		onHint := len(s.hint) > 0 && s.hint[0] == m.String()
		score, err := s.negamax(ctx, depth-1, 1, -Infinity, beta, onHint, &childPV)
		s.path = s.path[:len(s.path)-1]
		unapply()
		if err != nil {
			return nil, Stats{}, err
		}
		score = -score
		var pv PVLine
		pv.Update(m, childPV)
		results = append(results, RootMove{
			UCI:   m.String(),
			Score: score,
			PV:    pv.UCI(),
			Nodes: s.nodes - before,
			Depth: depth,
		})
		alpha = max(alpha, score)
	}

	st := Stats{
		Nodes:    s.nodes,
		SelDepth: s.selDepth,
		HashHits: s.tt.Hits() - hitsBefore,
		AvgDepth: float64(depth),
	}
	if s.leaves > 0 {
		st.AvgDepth = float64(s.leafDepth) / float64(s.leaves)
	}
	log.Debug().Str("fen", fen).Int("depth", depth).Int("moves", len(results)).
		Uint64("nodes", st.Nodes).Int("sel-depth", st.SelDepth).Msg("search-moves-returning")
	return results, st, nil
}

func (s *Searcher) tick(ctx context.Context, ply int) error {
	s.nodes++
	s.selDepth = max(s.selDepth, ply)
	if s.nodes%cancelInterval == 0 {
		return ctx.Err()
	}
	return nil
}

func (s *Searcher) repeated() bool {
	n := len(s.path)
	cur := s.path[n-1]
	for i := n - 3; i >= 0; i -= 2 {
		if s.path[i] == cur {
			return true
		}
	}
	return false
}

func (s *Searcher) negamax(ctx context.Context, depth, ply int, α, β int, onHint bool, pv *PVLine) (int, error) {
	if err := s.tick(ctx, ply); err != nil {
		return 0, err
	}
	if s.board.Halfmoveclock >= 100 || s.repeated() {
		return 0, nil
	}
	if depth <= 0 {
		s.leaves++
		s.leafDepth += uint64(ply)
		return s.quiesce(ctx, ply, 0, α, β)
	}

	alphaOrig := α
	key := s.board.Hash()
	var ttMove dragontoothmg.Move
	if entry := s.tt.lookup(key); entry.valid() {
		ttMove = entry.move
		if int(entry.depth()) >= depth {
			score := fromTT(int(entry.score), ply)
			switch entry.flag() {
			case TTExact:
				return score, nil
			case TTLower:
				α = max(α, score)
			case TTUpper:
				β = min(β, score)
			}
			if α >= β {
				return score, nil
			}
		}
	}

	children := s.board.GenerateLegalMoves()
	if len(children) == 0 {
		if s.board.OurKingInCheck() {
			return -MateScore + ply, nil
		}
		return 0, nil
	}
	var hintMove string
	if onHint && ply < len(s.hint) {
		hintMove = s.hint[ply]
	}
	s.order(children, ttMove, hintMove)

	childPV := PVLine{}
	bestValue := -Infinity
	var bestMove dragontoothmg.Move
	for i := range children {
		child := children[i]
		unapply := s.board.Apply(child)
		s.path = append(s.path, s.board.Hash())
		value, err := s.negamax(ctx, depth-1, ply+1, -β, -α, hintMove != "" && child.String() == hintMove, &childPV)
		s.path = s.path[:len(s.path)-1]
		unapply()
		if err != nil {
			return 0, err
		}
		if -value > bestValue {
			bestValue = -value
			bestMove = child
			pv.Update(child, childPV)
		}
		α = max(α, bestValue)
		if bestValue >= β {
			break // beta cut-off
		}
		childPV.Clear()
	}

	flag := uint8(TTExact)
	if bestValue <= alphaOrig {
		flag = TTUpper
	} else if bestValue >= β {
		flag = TTLower
	}
	s.tt.store(key, newEntry(toTT(bestValue, ply), flag, depth, bestMove))
	return bestValue, nil
}

// quiesce only looks at captures and promotions, until the position is
// quiet.
func (s *Searcher) quiesce(ctx context.Context, ply, qdepth int, α, β int) (int, error) {
	if err := s.tick(ctx, ply); err != nil {
		return 0, err
	}
	inCheck := s.board.OurKingInCheck()
	children := s.board.GenerateLegalMoves()
	if len(children) == 0 {
		if inCheck {
			return -MateScore + ply, nil
		}
		return 0, nil
	}
	standPat := Evaluate(&s.board)
	if standPat >= β {
		return β, nil
	}
	α = max(α, standPat)
	if qdepth >= QuiescenceMax {
		return α, nil
	}

	tactical := children[:0]
	for i := range children {
		if dragontoothmg.IsCapture(children[i], &s.board) || children[i].Promote() != dragontoothmg.Nothing {
			tactical = append(tactical, children[i])
		}
	}
	s.order(tactical, 0, "")
	for i := range tactical {
		unapply := s.board.Apply(tactical[i])
		value, err := s.quiesce(ctx, ply+1, qdepth+1, -β, -α)
		unapply()
		if err != nil {
			return 0, err
		}
		value = -value
		if value >= β {
			return β, nil
		}
		α = max(α, value)
	}
	return α, nil
}

// order puts the hint move first, then the table move, then captures by
// victim value and promotions.
func (s *Searcher) order(moves []dragontoothmg.Move, ttMove dragontoothmg.Move, hint string) {
	keys := make([]int, len(moves))
	for i := range moves {
		m := &moves[i]
		switch {
		case hint != "" && m.String() == hint:
			keys[i] = 1 << 20
		case ttMove != 0 && *m == ttMove:
			keys[i] = 1 << 19
		default:
			keys[i] = victim(&s.board, m)*10 + pieceValue[m.Promote()]
		}
	}
	sort.Sort(moveSorter{keys: keys, moves: moves})
}

type moveSorter struct {
	keys  []int
	moves []dragontoothmg.Move
}

func (p moveSorter) Len() int { return len(p.moves) }
func (p moveSorter) Swap(i, j int) {
	p.keys[i], p.keys[j] = p.keys[j], p.keys[i]
	p.moves[i], p.moves[j] = p.moves[j], p.moves[i]
}
func (p moveSorter) Less(i, j int) bool {
	return p.keys[j] < p.keys[i]
}

// Mate scores are stored relative to the node so they stay valid at any
// distance from the root.
func toTT(score, ply int) int {
	switch {
	case score > MateScore-MaxPly:
		return score + ply
	case score < -MateScore+MaxPly:
		return score - ply
	}
	return score
}

func fromTT(score, ply int) int {
	switch {
	case score > MateScore-MaxPly:
		return score - ply
	case score < -MateScore+MaxPly:
		return score + ply
	}
	return score
}
