package termination

import (
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
	"github.com/octopoulo/vote-chess/timeline"
)

type Reason int

const (
	None Reason = iota
	Checkmate
	Stalemate
	FiftyMoveRule
	InsufficientMaterial
	Repetition
)

func (r Reason) String() string {
	switch r {
	case Checkmate:
		return "checkmate"
	case Stalemate:
		return "stalemate"
	case FiftyMoveRule:
		return "fifty move rule"
	case InsufficientMaterial:
		return "insufficient material"
	case Repetition:
		return "threefold repetition"
	}
	return "none"
}

// Draw reports whether the game ended without a winner.
func (r Reason) Draw() bool {
	return r != None && r != Checkmate
}

const (
	FiftyMoveLimit  = 100
	RepetitionLimit = 3
)

var insufficientSets = []string{"k", "kb", "kn", "knn"}

// Insufficient reports whether both sides lack mating material.
func Insufficient(fen string) bool {
	material := rules.Material(fen)
	for _, m := range material {
		if strings.ContainsAny(m, "prq") {
			return false
		}
	}
	for _, m := range material {
		if !slices.Contains(insufficientSets, m) {
			return false
		}
	}
	return true
}

// Detector checks a freshly applied move for the end of the game. The checks
// run in a fixed order and stop at the first hit: no legal moves, fifty-move
// rule, insufficient material, threefold repetition.
type Detector struct{}

// Check evaluates the position after last. The engine cursor must be at that
// position. The repetition table of t is updated as a side effect: it is
// cleared by an irreversible move and the new position is counted.
func (d *Detector) Check(t *timeline.Timeline, e rules.Engine, last *move.Move) Reason {
	fen := e.Fingerprint()
	if len(e.LegalMoves()) == 0 {
		if e.IsInCheck() || (last != nil && strings.HasSuffix(last.SAN, "#")) {
			log.Info().Str("fen", fen).Msg("checkmate")
			return Checkmate
		}
		log.Info().Str("fen", fen).Msg("stalemate")
		return Stalemate
	}

	clock := rules.HalfMoveClock(fen)
	if clock >= FiftyMoveLimit {
		log.Info().Int("clock", clock).Msg("fifty-move-rule")
		return FiftyMoveRule
	}
	if clock == 0 {
		t.ClearRepetitions()
	}

	if Insufficient(fen) {
		m := rules.Material(fen)
		log.Info().Str("white", m[rules.White]).Str("black", m[rules.Black]).Msg("insufficient-material")
		return InsufficientMaterial
	}

	pruned := rules.Prune(fen)
	if count := t.Observe(pruned); count >= RepetitionLimit {
		log.Info().Str("position", pruned).Int("count", count).Msg("threefold-repetition")
		return Repetition
	}
	return None
}
