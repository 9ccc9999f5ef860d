package rules

import (
	"slices"
	"strconv"
	"strings"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

const (
	fieldBoard = iota
	fieldTurn
	fieldCastling
	fieldEnPassant
	fieldHalfMove
	fieldFullMove
)

// Prune drops the move counters from a fingerprint. Two positions with the
// same pruned fingerprint are the same position for repetition purposes.
func Prune(fen string) string {
	fs := strings.Fields(fen)
	if len(fs) > fieldHalfMove {
		fs = fs[:fieldHalfMove]
	}
	return strings.Join(fs, " ")
}

// HalfMoveClock returns the fifty-move counter of a fingerprint, 0 if absent.
func HalfMoveClock(fen string) int {
	return intField(fen, fieldHalfMove, 0)
}

// FullMoveNumber returns the full-move counter of a fingerprint, 1 if absent.
func FullMoveNumber(fen string) int {
	return intField(fen, fieldFullMove, 1)
}

// FenPly returns the ply of the move that produced this position. The
// standard start position is -1, the position after 1.e4 is 0.
func FenPly(fen string) int {
	ply := (FullMoveNumber(fen) - 1) * 2
	if TurnOf(fen) == White {
		ply--
	}
	return ply
}

// TurnOf returns the side to move encoded in a fingerprint.
func TurnOf(fen string) Color {
	fs := strings.Fields(fen)
	if len(fs) > fieldTurn && fs[fieldTurn] == "b" {
		return Black
	}
	return White
}

func intField(fen string, idx, def int) int {
	fs := strings.Fields(fen)
	if len(fs) <= idx {
		return def
	}
	v, err := strconv.Atoi(fs[idx])
	if err != nil {
		return def
	}
	return v
}

var materialOrder = map[rune]int{'k': 0, 'q': 1, 'r': 2, 'b': 3, 'n': 4, 'p': 5}

// Material returns the lower-cased piece letters of each side, sorted king
// first, e.g. {"kqrp", "knn"}. Index 0 is white.
func Material(fen string) [2]string {
	var sides [2][]rune
	board, _, _ := strings.Cut(fen, " ")
	for _, c := range board {
		switch {
		case strings.ContainsRune("KQRBNP", c):
			sides[White] = append(sides[White], c+'a'-'A')
		case strings.ContainsRune("kqrbnp", c):
			sides[Black] = append(sides[Black], c)
		}
	}
	var out [2]string
	for i := range sides {
		slices.SortStableFunc(sides[i], func(a, b rune) int {
			return materialOrder[a] - materialOrder[b]
		})
		out[i] = string(sides[i])
	}
	return out
}
