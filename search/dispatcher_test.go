package search

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/stretchr/testify/assert"

	"github.com/octopoulo/vote-chess/rules"
	"github.com/octopoulo/vote-chess/stats"
)

// threeMoves has exactly three legal moves: Ka2, Kb1 and Kb2.
const threeMoves = "k7/8/8/8/8/8/8/K7 w - - 0 1"

type fakeTransport struct {
	size  int
	tasks []Task
	fail  map[int]error
}

func (f *fakeTransport) Size() int { return f.size }

func (f *fakeTransport) Send(ctx context.Context, t Task) error {
	if err := f.fail[t.WorkerID]; err != nil {
		return err
	}
	f.tasks = append(f.tasks, t)
	return nil
}

func fixedOptions() Options {
	opts := DefaultOptions()
	opts.MaxTime = 0
	opts.MinDepth = 4
	return opts
}

func steppingClock() func() time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(10 * time.Millisecond)
		return t
	}
}

func newTestDispatcher(tr Transport, opts Options) *Dispatcher {
	d := NewDispatcher(tr, rules.NewChess(), opts)
	d.SetClock(steppingClock())
	return d
}

func answer(t Task, scores ...int) Result {
	res := Result{WorkerID: t.WorkerID, Fingerprint: t.Fingerprint, Nodes: 1000, AvgDepth: float64(t.Depth), SelDepth: t.Depth + 2}
	for i, s := range scores {
		res.Moves = append(res.Moves, MoveResult{Move: t.Moves[i], Score: s, Depth: t.Depth, PV: []string{t.Moves[i]}})
	}
	return res
}

func TestBestOfTwoWorkers(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 2}
	d := newTestDispatcher(tr, fixedOptions())

	out, err := d.Think(ctx, rules.StartFEN, nil, false)
	is.NoErr(err)
	is.Equal(out.Status, Pending)
	is.Equal(len(tr.tasks), 2)
	is.Equal(len(tr.tasks[0].Moves), 10)
	is.Equal(len(tr.tasks[1].Moves), 10)
	is.Equal(tr.tasks[0].Depth, 4)

	out = d.Receive(ctx, answer(tr.tasks[1], 95))
	is.Equal(out.Status, Pending)
	out = d.Receive(ctx, answer(tr.tasks[0], 120))
	is.Equal(out.Status, Committed)
	is.Equal(out.Move.UCI, tr.tasks[0].Moves[0])
	is.Equal(out.Move.Score, 120)
	is.True(out.Move.SAN != "")
	is.Equal(out.Move.Nodes, uint64(2000))
	is.Equal(out.Move.SelDepth, 6)
	is.True(!d.Thinking())
}

func TestThreeMovesFourWorkers(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 4}
	d := newTestDispatcher(tr, fixedOptions())

	_, err := d.Think(ctx, threeMoves, nil, false)
	is.NoErr(err)
	is.Equal(len(tr.tasks), 3)
	is.Equal(d.Current().Pending(), 3)
	for _, task := range tr.tasks {
		is.Equal(len(task.Moves), 1)
	}

	// a result from the idle worker does not count
	out := d.Receive(ctx, Result{WorkerID: 3, Fingerprint: threeMoves})
	is.Equal(out.Status, Pending)
	is.Equal(d.Current().Pending(), 3)

	is.Equal(d.Receive(ctx, answer(tr.tasks[2], 5)).Status, Pending)
	// duplicates are ignored
	is.Equal(d.Receive(ctx, answer(tr.tasks[2], 500)).Status, Pending)
	is.Equal(d.Receive(ctx, answer(tr.tasks[0], 7)).Status, Pending)
	out = d.Receive(ctx, answer(tr.tasks[1], 6))
	is.Equal(out.Status, Committed)
	is.Equal(out.Move.UCI, tr.tasks[0].Moves[0])
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := append(append(append([]int{}, p[:i]...), n-1), p[i:]...)
			out = append(out, q)
		}
	}
	return out
}

func TestArrivalOrderDoesNotMatter(t *testing.T) {
	ctx := context.Background()
	var avg float64
	for _, perm := range permutations(3) {
		tr := &fakeTransport{size: 3}
		d := newTestDispatcher(tr, fixedOptions())
		_, err := d.Think(ctx, threeMoves, nil, false)
		assert.NoError(t, err)

		// scores and weights follow the worker, not the arrival slot
		results := make([]Result, 3)
		for i, task := range tr.tasks {
			results[i] = answer(task, 10*(i+1))
			results[i].Nodes = uint64(100 * (i + 1))
			results[i].AvgDepth = float64(3 + i)
		}
		var out Outcome
		for _, i := range perm {
			out = d.Receive(ctx, results[i])
		}
		assert.Equal(t, Committed, out.Status)
		if avg == 0 {
			avg = out.Iteration.AvgDepth
		}
		assert.Equal(t, tr.tasks[2].Moves[0], out.Move.UCI)
		assert.Equal(t, 30, out.Move.Score)
		assert.True(t, stats.FuzzyEqual(avg, out.Iteration.AvgDepth))
		assert.Equal(t, uint64(600), out.Move.Nodes)
	}
}

func TestTieGoesToFirstArrival(t *testing.T) {
	ctx := context.Background()
	for _, first := range []int{0, 1} {
		tr := &fakeTransport{size: 2}
		d := newTestDispatcher(tr, fixedOptions())
		_, err := d.Think(ctx, threeMoves, nil, false)
		assert.NoError(t, err)
		assert.Len(t, tr.tasks, 2)

		second := 1 - first
		scores := func(task Task) []int {
			out := make([]int, len(task.Moves))
			for i := range out {
				out[i] = 40
			}
			return out
		}
		assert.Equal(t, Pending, d.Receive(ctx, answer(tr.tasks[first], scores(tr.tasks[first])...)).Status)
		out := d.Receive(ctx, answer(tr.tasks[second], scores(tr.tasks[second])...))
		assert.Equal(t, Committed, out.Status)
		assert.Equal(t, tr.tasks[first].Moves[0], out.Move.UCI)
		assert.Equal(t, 40, out.Move.Score)
	}
}

type resettingTransport struct {
	fakeTransport
	resets int
}

func (r *resettingTransport) ResetTable() { r.resets++ }

func TestResetClearsTables(t *testing.T) {
	is := is.New(t)
	tr := &resettingTransport{fakeTransport: fakeTransport{size: 2}}
	d := newTestDispatcher(tr, fixedOptions())
	_, err := d.Think(context.Background(), rules.StartFEN, nil, false)
	is.NoErr(err)
	d.Reset()
	is.Equal(tr.resets, 1)
	is.True(!d.Thinking())
}

func TestStaleResultDropped(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 2}
	d := newTestDispatcher(tr, fixedOptions())
	_, err := d.Think(ctx, threeMoves, nil, false)
	is.NoErr(err)

	stale := answer(tr.tasks[0], 900)
	stale.Fingerprint = rules.StartFEN
	is.Equal(d.Receive(ctx, stale).Status, Stale)
	is.Equal(d.Current().Pending(), 2)

	d.Receive(ctx, answer(tr.tasks[0], 1))
	out := d.Receive(ctx, answer(tr.tasks[1], 2))
	is.Equal(out.Status, Committed)
	// late results of a finished search are stale too
	is.Equal(d.Receive(ctx, answer(tr.tasks[0], 1)).Status, Stale)
}

func TestInstaMove(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 2}
	opts := fixedOptions()
	opts.Mode = 0
	d := newTestDispatcher(tr, opts)

	out, err := d.Think(ctx, rules.StartFEN, nil, false)
	is.NoErr(err)
	is.Equal(out.Status, Committed)
	is.Equal(len(tr.tasks), 0)
	is.True(out.Move.SAN != "")

	// no workers at all also plays instantly
	d = newTestDispatcher(&fakeTransport{}, fixedOptions())
	out, err = d.Think(ctx, threeMoves, nil, true)
	is.NoErr(err)
	is.Equal(out.Status, Suggested)
}

func TestNoLegalMove(t *testing.T) {
	d := newTestDispatcher(&fakeTransport{size: 1}, fixedOptions())
	_, err := d.Think(context.Background(), "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1", nil, false)
	var nl *NoLegalMoveError
	assert.ErrorAs(t, err, &nl)
	assert.False(t, d.Thinking())
}

func TestBusy(t *testing.T) {
	is := is.New(t)
	tr := &fakeTransport{size: 2}
	d := newTestDispatcher(tr, fixedOptions())
	_, err := d.Think(context.Background(), threeMoves, nil, false)
	is.NoErr(err)
	out, err := d.Think(context.Background(), threeMoves, nil, false)
	is.NoErr(err)
	is.Equal(out.Status, Busy)
	is.Equal(len(tr.tasks), 2)
}

func TestFoldMoveIsScoredLocally(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	e := rules.NewChess()
	is.True(!e.Apply("g1f3").Illegal())
	folds := map[string]struct{}{rules.Prune(e.Fingerprint()): {}}

	tr := &fakeTransport{size: 2}
	d := newTestDispatcher(tr, fixedOptions())
	_, err := d.Think(ctx, rules.StartFEN, folds, false)
	is.NoErr(err)
	is.Equal(len(d.Current().folds), 1)
	is.Equal(d.Current().folds[0].Move, "g1f3")
	sent := 0
	for _, task := range tr.tasks {
		is.True(task.ScanAll)
		for _, m := range task.Moves {
			is.True(m != "g1f3")
		}
		sent += len(task.Moves)
	}
	is.Equal(sent, 19)

	d.Receive(ctx, answer(tr.tasks[0], -50))
	out := d.Receive(ctx, answer(tr.tasks[1], -60))
	is.Equal(out.Status, Committed)
	is.Equal(out.Move.UCI, "g1f3")
	is.Equal(out.Move.Score, -1)
}

func TestWorkerFailure(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 3, fail: map[int]error{1: errors.New("connection refused")}}
	d := newTestDispatcher(tr, fixedOptions())
	out, err := d.Think(ctx, threeMoves, nil, false)
	is.NoErr(err)
	is.Equal(out.Status, Pending)
	is.Equal(d.Current().Pending(), 2)
	is.Equal(len(d.Current().Failures()), 1)

	d.Receive(ctx, Failed(tr.tasks[0], errors.New("panic")))
	out = d.Receive(ctx, answer(tr.tasks[1], 33))
	is.Equal(out.Status, Committed)
	is.Equal(out.Move.UCI, tr.tasks[1].Moves[0])
	is.Equal(out.Iteration.Failures, 2)
}

func TestAllWorkersFail(t *testing.T) {
	is := is.New(t)
	tr := &fakeTransport{size: 2, fail: map[int]error{0: errors.New("down"), 1: errors.New("down")}}
	d := newTestDispatcher(tr, fixedOptions())
	out, err := d.Think(context.Background(), threeMoves, nil, false)
	is.NoErr(err)
	is.Equal(out.Status, Committed)
	is.True(out.Move.UCI != "")
}

func TestIterativeDeepening(t *testing.T) {
	is := is.New(t)
	ctx := context.Background()
	tr := &fakeTransport{size: 2}
	opts := fixedOptions()
	opts.MaxTime = time.Hour
	opts.MinDepth = 5
	d := newTestDispatcher(tr, opts)
	var log bytes.Buffer
	d.SetLogStream(&log)

	_, err := d.Think(ctx, threeMoves, nil, false)
	is.NoErr(err)
	is.True(tr.tasks[0].ScanAll)
	d.Receive(ctx, answer(tr.tasks[0], 1, 3))
	out := d.Receive(ctx, answer(tr.tasks[1], 2))
	is.Equal(out.Status, Iterating)
	is.Equal(out.Iteration.Depth, 4)
	is.Equal(len(tr.tasks), 4)

	// the second round is deeper, best move first, with the best line as hint
	second := tr.tasks[2:]
	is.Equal(second[0].Depth, 5)
	is.True(!second[0].ScanAll)
	is.Equal(second[0].Moves[0], tr.tasks[0].Moves[1])
	is.Equal(second[0].PVHint, tr.tasks[0].Moves[1])

	// a mate score ends the search
	d.Receive(ctx, answer(second[0], 500, 1))
	out = d.Receive(ctx, answer(second[1], 2))
	is.Equal(out.Status, Committed)
	is.Equal(out.Move.Score, 500)
	is.Equal(len(d.replies[threeMoves].History()), 2)
	is.True(bytes.Contains(log.Bytes(), []byte("depth: 5")))
}

func TestShouldContinue(t *testing.T) {
	opts := Options{MinDepth: 4, MaxTime: time.Second, NearMateScore: 200, ContinueScore: 300}
	two := []Iteration{
		{Elapsed: 100 * time.Millisecond, Nodes: 1000},
		{Elapsed: 200 * time.Millisecond, Nodes: 4000},
	}
	tests := []struct {
		name    string
		opts    Options
		depth   int
		best    int
		history []Iteration
		total   time.Duration
		want    bool
	}{
		{"untimed", Options{MinDepth: 4}, 4, 0, two[:1], 0, false},
		{"near mate", opts, 4, -250, two[:1], 0, false},
		{"first iteration", opts, 4, 10, two[:1], 0, true},
		{"fits in budget", opts, 5, 10, two, 100 * time.Millisecond, true},
		{"over budget", opts, 5, 10, two, 300 * time.Millisecond, false},
		{"below min depth", opts, 3, 10, two, 300 * time.Millisecond, true},
		{"winning", Options{MinDepth: 4, MaxTime: time.Second, NearMateScore: 1000, ContinueScore: 300}, 3, 400, two, 0, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ShouldContinue(tc.opts, tc.depth, tc.best, tc.history, tc.total))
		})
	}
}

func TestGate(t *testing.T) {
	is := is.New(t)
	g := NewGate(4)
	is.True(g.Done())
	g.Arm(0)
	g.Arm(2)
	g.Arm(2)
	g.Arm(9)
	is.Equal(g.Pending(), 2)
	is.True(!g.Release(1))
	is.True(g.Release(2))
	is.True(!g.Release(2))
	is.True(!g.Done())
	is.True(g.Release(0))
	is.True(g.Done())
}
