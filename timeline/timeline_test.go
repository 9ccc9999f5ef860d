package timeline

import (
	"errors"
	"testing"

	"github.com/matryer/is"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
)

const ruyLopez = "r1bqkbnr/pppp1ppp/2n5/1B2p3/4P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3"

var ruyMoves = []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"}

// play appends each move at the cursor, the way the coordinator does.
func play(t *testing.T, tl *Timeline, e rules.Engine, moves ...string) {
	t.Helper()
	if err := e.Load(tl.Fingerprint()); err != nil {
		t.Fatal(err)
	}
	for _, mv := range moves {
		rm := e.Apply(mv)
		if rm.Illegal() {
			t.Fatalf("illegal move %s", mv)
		}
		tl.Append(move.FromRules(rm, e.Fingerprint()))
	}
}

func forwardFingerprints(t *testing.T, moves []string) []string {
	t.Helper()
	e := rules.NewChess()
	fens := make([]string, len(moves))
	for i, mv := range moves {
		if e.Apply(mv).Illegal() {
			t.Fatalf("illegal move %s", mv)
		}
		fens[i] = e.Fingerprint()
	}
	return fens
}

func TestRuyLopez(t *testing.T) {
	is := is.New(t)
	tl := New(rules.StartFEN)
	play(t, tl, rules.NewChess(), ruyMoves...)
	is.Equal(tl.Len(), 5)
	is.Equal(tl.Ply(), 4)
	m, ok := tl.At(4)
	is.True(ok)
	is.Equal(m.Fingerprint, ruyLopez)
	is.Equal(m.SAN, "Bb5")
	is.Equal(tl.Fingerprint(), ruyLopez)
}

func TestAppendTruncates(t *testing.T) {
	is := is.New(t)
	e := rules.NewChess()
	tl := New(rules.StartFEN)
	play(t, tl, e, ruyMoves...)

	ok, err := tl.SetPly(1, nil)
	is.NoErr(err)
	is.True(ok)
	play(t, tl, e, "f1c4")

	is.Equal(tl.Len(), 3)
	is.Equal(tl.Ply(), 2)
	m, ok := tl.At(2)
	is.True(ok)
	is.Equal(m.SAN, "Bc4")
	for _, ply := range []int{3, 4} {
		_, ok := tl.At(ply)
		is.True(!ok)
	}
	// the discarded branch stays in the arena
	is.Equal(tl.ArenaSize(), 6)
}

func TestSetPlyBounds(t *testing.T) {
	is := is.New(t)
	tl := New(rules.StartFEN)
	play(t, tl, rules.NewChess(), "e2e4", "e7e5")

	ok, err := tl.SetPly(2, nil)
	is.True(!ok)
	is.True(errors.Is(err, ErrNoMove))
	is.Equal(tl.Ply(), 1)

	ok, err = tl.SetPly(-1, nil)
	is.NoErr(err)
	is.True(ok)
	is.Equal(tl.Fingerprint(), rules.StartFEN)
}

func TestReconstructMatchesForwardReplay(t *testing.T) {
	moves := []string{"d4", "Nf6", "c4", "e6", "Nc3", "Bb4", "Qc2", "O-O", "a3", "Bxc3+", "Qxc3"}
	fens := forwardFingerprints(t, moves)

	type tc struct {
		name  string
		known []int // plies whose fingerprint stays cached
	}
	cases := []tc{
		{"nothing cached", nil},
		{"first cached", []int{0}},
		{"middle cached", []int{4, 5}},
		{"sparse cache", []int{1, 6, 8}},
		{"last but one cached", []int{9}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			is := is.New(t)
			tl := New(rules.StartFEN)
			for ply, san := range moves {
				m := &move.Move{SAN: san, Ply: ply}
				for _, k := range c.known {
					if k == ply {
						m.Fingerprint = fens[ply]
					}
				}
				is.NoErr(tl.Add(m))
			}
			e := rules.NewChess()
			rc := &Reconstructor{Engine: e}
			for ply := len(moves) - 1; ply >= 0; ply-- {
				ok, err := tl.SetPly(ply, rc)
				is.NoErr(err)
				is.True(ok)
				is.Equal(tl.Fingerprint(), fens[ply])
			}
			for ply := range moves {
				m, _ := tl.At(ply)
				is.Equal(m.Fingerprint, fens[ply])
			}
		})
	}
}

func TestReconstructIllegalLeavesTimeline(t *testing.T) {
	is := is.New(t)
	tl := New(rules.StartFEN)
	for ply, san := range []string{"e4", "e5", "Ke3", "Nc6"} {
		is.NoErr(tl.Add(&move.Move{SAN: san, Ply: ply}))
	}
	ok, err := tl.SetPly(3, &Reconstructor{Engine: rules.NewChess()})
	is.True(!ok)
	var rerr *ReconstructionError
	is.True(errors.As(err, &rerr))
	is.Equal(rerr.At, 2)
	is.Equal(tl.Ply(), -1)
	for ply := 0; ply < 4; ply++ {
		m, _ := tl.At(ply)
		is.True(!m.HasFingerprint())
	}
}

func TestReconstructUsesReference(t *testing.T) {
	is := is.New(t)
	fens := forwardFingerprints(t, ruyMoves)

	ref := New(rules.StartFEN)
	play(t, ref, rules.NewChess(), ruyMoves...)

	// live feed only knows the last two moves
	tl := New(rules.StartFEN)
	is.NoErr(tl.Add(&move.Move{SAN: "Nc6", Ply: 3}))
	is.NoErr(tl.Add(&move.Move{SAN: "Bb5", Ply: 4}))

	ok, err := tl.SetPly(4, &Reconstructor{Engine: rules.NewChess()})
	is.True(!ok)
	is.True(err != nil)

	ok, err = tl.SetPly(4, &Reconstructor{Engine: rules.NewChess(), Reference: ref})
	is.NoErr(err)
	is.True(ok)
	is.Equal(tl.Fingerprint(), fens[4])
	m, ok := tl.At(2)
	is.True(ok)
	is.Equal(m.Fingerprint, fens[2])
}

func TestAddCorrection(t *testing.T) {
	is := is.New(t)
	fens := forwardFingerprints(t, []string{"e4", "c5"})
	tl := New(rules.StartFEN)
	for ply, san := range []string{"e4", "e5", "Nf3"} {
		is.NoErr(tl.Add(&move.Move{SAN: san, Ply: ply}))
	}
	rc := &Reconstructor{Engine: rules.NewChess()}
	_, err := tl.SetPly(1, rc)
	is.NoErr(err)

	// the same move again keeps the cached record
	is.NoErr(tl.Add(&move.Move{SAN: "e5", Ply: 1, Book: true}))
	is.Equal(tl.Len(), 3)
	m, _ := tl.At(1)
	is.True(m.HasFingerprint())
	is.True(m.Book)

	// a different move drops what followed the old one
	is.NoErr(tl.Add(&move.Move{SAN: "c5", Ply: 1}))
	is.Equal(tl.Notations(), []string{"e4", "c5"})
	is.Equal(tl.Ply(), 0)
	is.True(!tl.Settle(rc))

	ok, err := tl.SetPly(1, rc)
	is.NoErr(err)
	is.True(ok)
	is.Equal(tl.Fingerprint(), fens[1])
}

func TestSettleFallsBack(t *testing.T) {
	is := is.New(t)
	fens := forwardFingerprints(t, ruyMoves)
	tl := New(rules.StartFEN)
	is.NoErr(tl.Add(&move.Move{SAN: "Nc6", Ply: 3}))
	is.NoErr(tl.Add(&move.Move{SAN: "Bb5", Ply: 4, Fingerprint: fens[4]}))
	rc := &Reconstructor{Engine: rules.NewChess()}
	ok, err := tl.SetPly(4, rc)
	is.NoErr(err)
	is.True(ok)

	// the cursor lands on Nc6, which cannot be replayed without plies 0-2
	is.NoErr(tl.Add(&move.Move{SAN: "Bc4", Ply: 4}))
	is.Equal(tl.Ply(), 3)
	is.Equal(tl.Fingerprint(), "")
	is.True(tl.Settle(rc))
	is.Equal(tl.Ply(), -1)
	is.Equal(tl.Fingerprint(), rules.StartFEN)
}

func TestFoldSet(t *testing.T) {
	is := is.New(t)
	tl := New(rules.StartFEN)
	is.Equal(tl.Repetitions(rules.Prune(rules.StartFEN)), 1)
	is.Equal(len(tl.FoldSet()), 0)

	is.Equal(tl.Observe(rules.Prune(rules.StartFEN)), 2)
	folds := tl.FoldSet()
	_, ok := folds[rules.Prune(rules.StartFEN)]
	is.True(ok)

	// the copy is detached from the table
	tl.ClearRepetitions()
	is.Equal(len(folds), 1)
	is.Equal(len(tl.FoldSet()), 0)
}

func TestTruncateRebuildsRepetitions(t *testing.T) {
	is := is.New(t)
	e := rules.NewChess()
	tl := New(rules.StartFEN)
	play(t, tl, e, "g1f3", "g8f6", "f3g1", "f6g8")
	tl.Observe(rules.Prune(rules.StartFEN))
	is.Equal(tl.Repetitions(rules.Prune(rules.StartFEN)), 2)

	tl.Truncate(2)
	is.Equal(tl.Repetitions(rules.Prune(rules.StartFEN)), 1)
	is.Equal(tl.Ply(), 1)
}
