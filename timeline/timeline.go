// Package timeline holds the ply-indexed move history of one board.
//
// Move records live in an append-only arena; the timeline itself is an index
// table from ply to arena slot. Truncating the timeline shrinks the index
// table only, so records of a discarded branch stay in the arena.
package timeline

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
)

const absent = -1

var ErrNoMove = errors.New("no move at ply")

type Timeline struct {
	arena []*move.Move
	index []int

	ply      int
	start    string
	startPly int

	repetitions map[string]int
}

// New creates an empty timeline starting at fen.
func New(fen string) *Timeline {
	t := &Timeline{}
	t.Reset(fen)
	return t
}

// Reset empties the timeline. The start position counts as the first
// occurrence of its pruned fingerprint.
func (t *Timeline) Reset(fen string) {
	t.arena = nil
	t.index = nil
	t.start = fen
	t.startPly = rules.FenPly(fen)
	t.ply = t.startPly
	t.repetitions = map[string]int{rules.Prune(fen): 1}
}

// Start returns the start fingerprint.
func (t *Timeline) Start() string {
	return t.start
}

// StartPly is the ply of the start position, -1 for a standard game.
func (t *Timeline) StartPly() int {
	return t.startPly
}

// Len returns one past the highest ply holding a record.
func (t *Timeline) Len() int {
	return len(t.index)
}

// Ply returns the cursor.
func (t *Timeline) Ply() int {
	return t.ply
}

// At returns the record at ply. The record is owned by the timeline.
func (t *Timeline) At(ply int) (*move.Move, bool) {
	if ply < 0 || ply >= len(t.index) || t.index[ply] == absent {
		return nil, false
	}
	return t.arena[t.index[ply]], true
}

// Fingerprint returns the fingerprint at the cursor.
func (t *Timeline) Fingerprint() string {
	if t.ply <= t.startPly {
		return t.start
	}
	m, ok := t.At(t.ply)
	if !ok {
		return ""
	}
	return m.Fingerprint
}

func (t *Timeline) store(ply int, m *move.Move) {
	for len(t.index) <= ply {
		t.index = append(t.index, absent)
	}
	m.Ply = ply
	t.arena = append(t.arena, m)
	t.index[ply] = len(t.arena) - 1
}

// Append records a move played at the cursor and moves the cursor onto it.
// Anything after the cursor is discarded first.
func (t *Timeline) Append(m *move.Move) int {
	ply := t.ply + 1
	if ply < len(t.index) {
		log.Debug().Int("ply", ply).Int("len", len(t.index)).Msg("truncating-timeline")
		t.Truncate(ply)
	}
	t.store(ply, m)
	t.ply = ply
	return ply
}

// Add stores a fed move at its own ply, m.Ply, without truncating. Plies
// between the previous end and m.Ply are left empty. The cursor does not
// move, except when a different move replaces the record under it: every
// record from m.Ply on is then dropped, since their positions followed the
// old move, and the cursor is pulled back before m.Ply.
func (t *Timeline) Add(m *move.Move) error {
	if m.Ply <= t.startPly {
		return ErrNoMove
	}
	if old, ok := t.At(m.Ply); ok {
		if sameMove(old, m) {
			// same move fed again: keep the cached record, refresh annotations
			old.Book = m.Book
			if m.Scored {
				old.Scored, old.Score, old.PV = true, m.Score, m.PV
			}
			if m.HasFingerprint() {
				old.SetFingerprint(m.Fingerprint)
			}
			return nil
		}
		log.Debug().Int("ply", m.Ply).Str("old", old.Text()).Str("new", m.Text()).Msg("fed-move-replaced")
		t.Truncate(m.Ply)
	}
	t.store(m.Ply, m)
	return nil
}

// sameMove compares two records of one ply by whatever both of them know.
func sameMove(a, b *move.Move) bool {
	switch {
	case a.HasFingerprint() && b.HasFingerprint():
		return a.Fingerprint == b.Fingerprint
	case a.UCI != "" && b.UCI != "":
		return a.UCI == b.UCI
	case a.SAN != "" && b.SAN != "":
		return a.SAN == b.SAN
	}
	return false
}

// Settle puts the cursor back on a known position after records under it
// were replaced. The cursor ply is reconstructed with rc when possible;
// otherwise the cursor falls back to the closest earlier known position.
// It returns true if the cursor had to move.
func (t *Timeline) Settle(rc *Reconstructor) bool {
	if t.Fingerprint() != "" {
		return false
	}
	if _, ok := t.At(t.ply); ok && rc != nil && rc.Reconstruct(t, t.ply) == nil {
		return false
	}
	for t.ply > t.startPly {
		t.ply--
		if t.Fingerprint() != "" {
			break
		}
	}
	return true
}

// Truncate drops every record at ply and beyond. The cursor is pulled back
// if needed and the repetition table is rebuilt from what remains.
func (t *Timeline) Truncate(ply int) {
	if ply < 0 {
		ply = 0
	}
	if ply >= len(t.index) {
		return
	}
	t.index = t.index[:ply]
	if t.ply >= ply {
		t.ply = ply - 1
		if t.ply < t.startPly {
			t.ply = t.startPly
		}
	}
	t.rebuildRepetitions(len(t.index))
}

// Recount rebuilds the repetition table from the positions before ply, so
// that the position at ply can then be observed once. Used after moves were
// fed out of order.
func (t *Timeline) Recount(ply int) {
	t.rebuildRepetitions(min(max(ply, 0), len(t.index)))
}

// SetPly moves the cursor to ply. A missing fingerprint is reconstructed
// with rc. On failure the cursor is left where it was and false is
// returned; a *ReconstructionError means the caller may retry once more
// moves are known.
func (t *Timeline) SetPly(ply int, rc *Reconstructor) (bool, error) {
	if ply == -1 || ply == t.startPly {
		t.ply = t.startPly
		return true, nil
	}
	m, ok := t.At(ply)
	if !ok {
		return false, ErrNoMove
	}
	if !m.HasFingerprint() {
		if rc == nil {
			return false, &ReconstructionError{Ply: ply, Reason: "no reconstructor"}
		}
		if err := rc.Reconstruct(t, ply); err != nil {
			return false, err
		}
	}
	t.ply = ply
	return true, nil
}

// Moves returns copies of all records, nil for empty plies.
func (t *Timeline) Moves() []*move.Move {
	out := make([]*move.Move, len(t.index))
	for ply := range t.index {
		if m, ok := t.At(ply); ok {
			out[ply] = m.Copy()
		}
	}
	return out
}

// Notations returns the move text per ply, "" for empty plies.
func (t *Timeline) Notations() []string {
	out := make([]string, len(t.index))
	for ply := range t.index {
		if m, ok := t.At(ply); ok {
			out[ply] = m.Text()
		}
	}
	return out
}

// ArenaSize is the number of records ever stored, discarded branches
// included.
func (t *Timeline) ArenaSize() int {
	return len(t.arena)
}

// Observe counts one more occurrence of a pruned fingerprint and returns the
// new count.
func (t *Timeline) Observe(pruned string) int {
	t.repetitions[pruned]++
	return t.repetitions[pruned]
}

// Repetitions returns how often a pruned fingerprint has occurred.
func (t *Timeline) Repetitions(pruned string) int {
	return t.repetitions[pruned]
}

// ClearRepetitions empties the repetition table. Called after an
// irreversible move.
func (t *Timeline) ClearRepetitions() {
	clear(t.repetitions)
}

// FoldSet returns the pruned fingerprints seen at least twice. The returned
// map is a copy, safe to hand to a search session.
func (t *Timeline) FoldSet() map[string]struct{} {
	folds := make(map[string]struct{})
	for k, v := range t.repetitions {
		if v >= 2 {
			folds[k] = struct{}{}
		}
	}
	return folds
}

func (t *Timeline) rebuildRepetitions(end int) {
	t.repetitions = map[string]int{rules.Prune(t.start): 1}
	for ply := range end {
		m, ok := t.At(ply)
		if !ok || !m.HasFingerprint() {
			continue
		}
		if rules.HalfMoveClock(m.Fingerprint) == 0 {
			clear(t.repetitions)
		}
		t.repetitions[rules.Prune(m.Fingerprint)]++
	}
}
