package game

import (
	"github.com/octopoulo/vote-chess/dual"
	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/termination"
	"github.com/octopoulo/vote-chess/timeline"
)

// Board names. The player board is the one the engine plays on; the live
// board follows an external feed.
const (
	Player = "player"
	Live   = "live"
)

type board struct {
	name       string
	timeline   *timeline.Timeline
	detector   termination.Detector
	reconciler *dual.Reconciler

	ended  termination.Reason
	marker event.Marker
	// checked is the highest ply already seen by the detector.
	checked int
	// waiting is a ply that could not be shown yet, or -2.
	waiting int
}

func newBoard(name, fen string, rc *dual.Reconciler) *board {
	b := &board{name: name, timeline: timeline.New(fen), reconciler: rc}
	b.reset(fen)
	return b
}

func (b *board) reset(fen string) {
	b.timeline.Reset(fen)
	b.ended = termination.None
	b.marker = event.Marker{Ply: -2}
	b.checked = b.timeline.StartPly()
	b.waiting = -2
}

// valid reports whether the board holds anything to compare with.
func (b *board) valid() bool {
	return b.timeline.Len() > 0
}

func (b *board) last() int {
	return b.timeline.Len() - 1
}

// Snapshot is a copy of a board's state, safe to use outside the game loop.
type Snapshot struct {
	Board       string              `json:"board" yaml:"board"`
	Start       string              `json:"start" yaml:"start"`
	Ply         int                 `json:"ply" yaml:"ply"`
	Len         int                 `json:"len" yaml:"len"`
	Fingerprint string              `json:"fen" yaml:"fen"`
	Notations   []string            `json:"moves" yaml:"moves,flow"`
	Ended       termination.Reason  `json:"ended" yaml:"ended"`
	Marker      event.Marker        `json:"marker" yaml:"marker"`
	Waiting     int                 `json:"waiting" yaml:"waiting"`
	Arena       int                 `json:"arena" yaml:"arena"`
	Folds       map[string]struct{} `json:"-" yaml:"-"`
}

func (b *board) snapshot() Snapshot {
	return Snapshot{
		Board:       b.name,
		Start:       b.timeline.Start(),
		Ply:         b.timeline.Ply(),
		Len:         b.timeline.Len(),
		Fingerprint: b.timeline.Fingerprint(),
		Notations:   b.timeline.Notations(),
		Ended:       b.ended,
		Marker:      b.marker,
		Waiting:     b.waiting,
		Arena:       b.timeline.ArenaSize(),
		Folds:       b.timeline.FoldSet(),
	}
}
