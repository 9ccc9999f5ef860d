package game

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/octopoulo/vote-chess/config"
	"github.com/octopoulo/vote-chess/event"
	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/search"
	"github.com/octopoulo/vote-chess/termination"
)

const ruyLopez = "r1bqkbnr/pppp1ppp/2n5/1B2p3/4P3/5N2/PPPP1PPP/RNBQK2R b KQkq - 3 3"

// echoTransport answers every task at once, giving best a score of 50 and
// every other move 0.
type echoTransport struct {
	size    int
	best    map[string]bool
	results chan search.Result
}

func (e *echoTransport) Size() int { return e.size }

func (e *echoTransport) Send(ctx context.Context, t search.Task) error {
	go func() {
		res := search.Result{WorkerID: t.WorkerID, Fingerprint: t.Fingerprint, Nodes: 100, AvgDepth: float64(t.Depth)}
		for _, m := range t.Moves {
			score := 0
			if e.best[m] {
				score = 50
			}
			res.Moves = append(res.Moves, search.MoveResult{Move: m, Score: score, Depth: t.Depth, Nodes: 100 / uint64(len(t.Moves))})
		}
		e.results <- res
	}()
	return nil
}

func newTestGame(t *testing.T, best ...string) (*Game, *event.Bus) {
	cfg := config.DefaultConfig()
	cfg.Set(config.ConfigMaxTime, 0)
	cfg.Set(config.ConfigMinDepth, 2)
	results := make(chan search.Result, 8)
	tr := &echoTransport{size: 2, best: map[string]bool{}, results: results}
	for _, b := range best {
		tr.best[b] = true
	}
	bus := event.NewBus(1024)
	g, err := New(cfg, tr, results, bus)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go g.Run(ctx)
	t.Cleanup(cancel)
	return g, bus
}

func waitFor(t *testing.T, bus *event.Bus, kind event.Kind, board string) event.Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-bus.C():
			if e.Kind == kind && e.Board == board {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event on %s", kind, board)
		}
	}
}

func TestPlayRuyLopez(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)

	for _, m := range []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5"} {
		_, err := g.Play(ctx, Player, m)
		is.NoErr(err)
	}
	snap, err := g.Snapshot(ctx, Player)
	is.NoErr(err)
	is.Equal(snap.Len, 5)
	is.Equal(snap.Ply, 4)
	is.Equal(snap.Fingerprint, ruyLopez)
	is.Equal(snap.Notations, []string{"e4", "e5", "Nf3", "Nc6", "Bb5"})
}

func TestPlayIllegal(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGame(t)
	_, err := g.Play(ctx, Player, "e2e5")
	assert.ErrorIs(t, err, ErrIllegalMove)
	snap, err := g.Snapshot(ctx, Player)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len)

	_, err = g.Play(ctx, "spectator", "e2e4")
	assert.ErrorIs(t, err, ErrUnknownBoard)
}

func TestPlayBranchTruncates(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)
	for _, m := range []string{"e4", "e5", "Nf3"} {
		_, err := g.Play(ctx, Player, m)
		is.NoErr(err)
	}
	ok, err := g.SetPly(ctx, Player, 0)
	is.NoErr(err)
	is.True(ok)
	_, err = g.Play(ctx, Player, "c5")
	is.NoErr(err)

	snap, err := g.Snapshot(ctx, Player)
	is.NoErr(err)
	is.Equal(snap.Notations, []string{"e4", "c5"})
	is.Equal(snap.Arena, 4)
}

func TestInsufficientMaterialEndsGame(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, bus := newTestGame(t)

	is.NoErr(g.NewGame(ctx, Player, "8/8/4k3/8/3n4/3K4/8/8 w - - 0 1"))
	_, err := g.Play(ctx, Player, "Kxd4")
	is.NoErr(err)

	e := waitFor(t, bus, event.GameTerminated, Player)
	is.Equal(e.Payload.(event.Terminated).Reason, "insufficient material")

	snap, err := g.Snapshot(ctx, Player)
	is.NoErr(err)
	is.Equal(snap.Ended, termination.InsufficientMaterial)
	is.Equal(g.Think(ctx, false), ErrGameOver)
}

func TestThinkCommitsBestMove(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, bus := newTestGame(t, "d2d4")

	is.NoErr(g.Think(ctx, false))
	e := waitFor(t, bus, event.MoveCommitted, Player)
	committed := e.Payload.(event.Committed).Move
	is.Equal(committed.UCI, "d2d4")
	is.Equal(committed.Score, 50)

	moves, err := g.Moves(ctx, Player)
	is.NoErr(err)
	is.Equal(len(moves), 1)
	is.Equal(moves[0].SAN, "d4")
	is.True(moves[0].Scored)
	is.Equal(moves[0].Ply, 0)

	its, best, err := g.History(ctx)
	is.NoErr(err)
	is.Equal(len(its), 1)
	is.True(best == nil)
}

func TestSearchLog(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, bus := newTestGame(t, "e2e4")

	var sb strings.Builder
	is.NoErr(g.SetSearchLog(ctx, &sb))
	is.NoErr(g.Think(ctx, false))
	waitFor(t, bus, event.MoveCommitted, Player)
	is.True(strings.Contains(sb.String(), "depth: 2"))
	is.True(strings.Contains(sb.String(), "score: 50"))
}

func TestSuggestDoesNotPlay(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, bus := newTestGame(t, "g1f3")

	is.NoErr(g.Think(ctx, true))
	for {
		e := waitFor(t, bus, event.SearchProgress, Player)
		if e.Payload.(event.Progress).Final {
			is.Equal(e.Payload.(event.Progress).Best, "Nf3")
			break
		}
	}
	_, best, err := g.History(ctx)
	is.NoErr(err)
	is.Equal(best.UCI, "g1f3")

	snap, err := g.Snapshot(ctx, Player)
	is.NoErr(err)
	is.Equal(snap.Len, 0)
}

func TestAutoPlayAnswers(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, bus := newTestGame(t, "c7c5")

	is.NoErr(g.SetAutoPlay(ctx, true))
	_, err := g.Play(ctx, Player, "e4")
	is.NoErr(err)
	waitFor(t, bus, event.MoveCommitted, Player)

	snap, err := g.Snapshot(ctx, Player)
	is.NoErr(err)
	is.Equal(snap.Notations, []string{"e4", "c5"})
}

func TestFeedWithGap(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)

	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "e4", Ply: 0}, {SAN: "e5", Ply: 1, Book: true}}))
	snap, err := g.Snapshot(ctx, Live)
	is.NoErr(err)
	is.Equal(snap.Ply, 1)
	is.Equal(snap.Fingerprint, "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq e6 0 2")

	// ply 2 missing: ply 3 cannot be shown yet
	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "Nc6", Ply: 3}}))
	snap, err = g.Snapshot(ctx, Live)
	is.NoErr(err)
	is.Equal(snap.Ply, 1)
	is.Equal(snap.Waiting, 3)

	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "Nf3", Ply: 2}}))
	snap, err = g.Snapshot(ctx, Live)
	is.NoErr(err)
	is.Equal(snap.Ply, 3)
	is.Equal(snap.Waiting, -2)

	moves, err := g.Moves(ctx, Live)
	is.NoErr(err)
	is.True(moves[1].Book)
}

func TestFeedCorrectsShownMove(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)

	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "e4", Ply: 0}, {SAN: "e5", Ply: 1}, {SAN: "Nf3", Ply: 2}}))
	_, err := g.SetPly(ctx, Live, 1)
	is.NoErr(err)

	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "c5", Ply: 1}}))
	snap, err := g.Snapshot(ctx, Live)
	is.NoErr(err)
	is.Equal(snap.Ply, 1)
	is.Equal(snap.Fingerprint, "rnbqkbnr/pp1ppppp/8/2p5/4P3/8/PPPP1PPP/RNBQKBNR w KQkq c6 0 2")
	is.Equal(snap.Notations, []string{"e4", "c5"})

	m, err := g.Play(ctx, Live, "Nf3")
	is.NoErr(err)
	is.Equal(m.Fingerprint, "rnbqkbnr/pp1ppppp/8/2p5/4P3/5N2/PPPP1PPP/RNBQKB1R b KQkq - 1 2")
}

func TestFeedRejectsBadPly(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGame(t)
	err := g.Feed(ctx, Live, []*move.Move{{SAN: "e4", Ply: 0}, {SAN: "??", Ply: -1}})
	assert.Error(t, err)
	snap, err := g.Snapshot(ctx, Live)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Len)
}

func TestCompareBoards(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)

	for _, m := range []string{"e4", "e5", "Nf3"} {
		_, err := g.Play(ctx, Player, m)
		is.NoErr(err)
	}
	is.NoErr(g.Feed(ctx, Live, []*move.Move{{SAN: "e4", Ply: 0}, {SAN: "e5", Ply: 1}, {SAN: "Bc4", Ply: 2}}))

	_, err := g.SetPly(ctx, Live, -1)
	is.NoErr(err)
	is.NoErr(g.Compare(ctx, Live))

	for _, name := range []string{Player, Live} {
		snap, err := g.Snapshot(ctx, name)
		is.NoErr(err)
		is.Equal(snap.Marker, event.Marker{Ply: 2, Agree: 2})
		is.Equal(snap.Ply, 2)
	}
}

func TestPendingCompareSurvivesOtherBoard(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	g, _ := newTestGame(t)
	_, err := g.Play(ctx, Player, "e4")
	is.NoErr(err)
	var fed []*move.Move
	for ply, san := range []string{"e4", "e5", "Nf3", "Nc6", "Bb5", "a6"} {
		fed = append(fed, &move.Move{SAN: san, Ply: ply})
	}
	is.NoErr(g.Feed(ctx, Live, fed))

	now := time.Now()
	armed := 0
	var livePending, stillPending, playerPending bool
	is.NoErr(g.do(ctx, func(ctx context.Context) error {
		for _, b := range g.boards {
			b.reconciler.SetClock(func() time.Time { return now }, func(time.Duration, func()) func() bool {
				armed++
				return func() bool { return true }
			})
			b.reconciler.Input()
		}
		live, player := g.boards[Live], g.boards[Player]
		g.reconcile(ctx, live, 0)
		livePending = live.reconciler.Pending()
		g.reconcile(ctx, player, player.last())
		stillPending = live.reconciler.Pending()
		playerPending = player.reconciler.Pending()
		return nil
	}))
	is.True(livePending)
	is.True(stillPending)
	is.True(!playerPending)
	is.Equal(armed, 1)
}

func TestStoppedGame(t *testing.T) {
	cfg := config.DefaultConfig()
	g, err := New(cfg, &echoTransport{size: 1}, nil, event.NewBus(16))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- g.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)
	assert.ErrorIs(t, g.NewGame(context.Background(), Player, ""), ErrStopped)
}

func TestBadPolicy(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Set(config.ConfigShowPly, "middle")
	_, err := New(cfg, &echoTransport{size: 1}, nil, event.NewBus(1))
	assert.Error(t, err)
}
