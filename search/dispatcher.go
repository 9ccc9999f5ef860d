// Package search splits the root moves of a position across a set of
// workers, gathers their results and decides between another, deeper
// iteration and committing the best move.
package search

import (
	"context"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat/distuv"
	"gopkg.in/yaml.v3"
	"lukechampine.com/frand"

	"github.com/octopoulo/vote-chess/move"
	"github.com/octopoulo/vote-chess/rules"
)

type Status int

const (
	// Pending: results are still outstanding.
	Pending Status = iota
	// Busy: a search of the same position is already running.
	Busy
	// Iterating: a round completed and a deeper one was dispatched.
	Iterating
	// Committed: the search is over and Move should be played.
	Committed
	// Suggested: the search is over; Move is advice only.
	Suggested
	// Stale: the result did not belong to the current search.
	Stale
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Busy:
		return "busy"
	case Iterating:
		return "iterating"
	case Committed:
		return "committed"
	case Suggested:
		return "suggested"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Outcome is what the coordinator gets back from Think and Receive.
type Outcome struct {
	Status      Status
	Fingerprint string
	// Iteration is set when a round just completed.
	Iteration *Iteration
	// Move is set for Committed and Suggested.
	Move *move.Move
}

// Dispatcher runs one search at a time. It is not safe for concurrent use:
// the coordinator owns it and feeds it results from a single goroutine.
type Dispatcher struct {
	transport Transport
	engine    rules.Engine
	opts      Options

	replies  map[string]*Reply
	current  string
	thinking bool
	suggest  bool
	depth    int
	pvHint   string

	rng       *frand.RNG
	jitter    distuv.Normal
	now       func() time.Time
	logStream io.Writer
}

// NewDispatcher returns a dispatcher sending tasks through t. e is used to
// list legal moves and to look ahead for repetitions; its cursor is
// reloaded by each Think.
func NewDispatcher(t Transport, e rules.Engine, opts Options) *Dispatcher {
	rng := frand.New()
	src := rand.NewPCG(rng.Uint64n(math.MaxUint64), rng.Uint64n(math.MaxUint64))
	return &Dispatcher{
		transport: t,
		engine:    e,
		opts:      opts,
		replies:   make(map[string]*Reply),
		rng:       rng,
		jitter:    distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		now:       time.Now,
	}
}

func (d *Dispatcher) SetOptions(opts Options) {
	d.opts = opts
}

func (d *Dispatcher) Options() Options {
	return d.opts
}

// SetClock replaces the time source.
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// SetLogStream makes the dispatcher write one YAML document per completed
// round to w. A nil w turns logging off.
func (d *Dispatcher) SetLogStream(w io.Writer) {
	d.logStream = w
}

func (d *Dispatcher) Thinking() bool {
	return d.thinking
}

// Current returns the reply of the running search, or nil.
func (d *Dispatcher) Current() *Reply {
	if !d.thinking {
		return nil
	}
	return d.replies[d.current]
}

// Reset forgets every search, and the workers' tables if the transport
// keeps any. Results still in flight become stale.
func (d *Dispatcher) Reset() {
	d.replies = make(map[string]*Reply)
	d.current = ""
	d.thinking = false
	d.pvHint = ""
	if r, ok := d.transport.(TableResetter); ok {
		r.ResetTable()
	}
}

// Cancel stops the running search without committing anything.
func (d *Dispatcher) Cancel() {
	if d.thinking {
		delete(d.replies, d.current)
	}
	d.current = ""
	d.thinking = false
}

// Think starts a search of fen. folds holds the pruned fingerprints already
// seen twice in the game. When suggest is set the result is reported but
// not meant to be played.
func (d *Dispatcher) Think(ctx context.Context, fen string, folds map[string]struct{}, suggest bool) (Outcome, error) {
	logger := zerolog.Ctx(ctx)
	if d.thinking && d.current == fen {
		return Outcome{Status: Busy, Fingerprint: fen}, nil
	}
	moves, err := rules.LegalMovesAt(d.engine, fen)
	if err != nil {
		return Outcome{}, err
	}
	if len(moves) == 0 {
		logger.Debug().Str("fen", fen).Msg("no-legal-move")
		return Outcome{}, &NoLegalMoveError{Fingerprint: fen}
	}
	d.order(moves)

	reply := newReply(fen, moves, d.now())
	reply.folds = findFolds(d.engine, fen, moves, folds, d.opts.FoldScore)
	d.replies = map[string]*Reply{fen: reply}
	d.current = fen
	d.thinking = true
	d.suggest = suggest
	d.depth = d.opts.InitialDepth
	logger.Debug().Str("fen", fen).Int("moves", len(moves)).Int("folds", len(reply.folds)).
		Bool("suggest", suggest).Msg("think")
	return d.dispatch(ctx, reply, 0), nil
}

// order sorts moves by their static priority plus some noise, so equal
// moves are not always tried in the same order.
func (d *Dispatcher) order(moves []rules.Move) {
	keys := make(map[string]float64, len(moves))
	for _, m := range moves {
		keys[m.UCI] = float64(m.Order()) + d.jitter.Rand()*16 - 8
	}
	sort.SliceStable(moves, func(i, j int) bool {
		return keys[moves[i].UCI] > keys[moves[j].UCI]
	})
}

// findFolds returns the moves that allow a draw by repetition or by the
// fifty-move rule, scored with score. A move folds if the position it
// reaches is one repetition away from a draw, or if the opponent can reach
// such a position with a reply.
func findFolds(e rules.Engine, fen string, moves []rules.Move, folds map[string]struct{}, score int) []MoveResult {
	var out []MoveResult
	if err := e.Load(fen); err != nil {
		return nil
	}
	for _, m := range moves {
		if e.Apply(m.UCI).Illegal() {
			continue
		}
		after := e.Fingerprint()
		rule50 := rules.HalfMoveClock(after)
		_, draw := folds[rules.Prune(after)]
		draw = draw || rule50 >= 100
		if !draw && len(folds) > 0 && rule50 != 0 {
			for _, reply := range e.LegalMoves() {
				if e.Apply(reply.UCI).Illegal() {
					continue
				}
				_, draw = folds[rules.Prune(e.Fingerprint())]
				e.Undo()
				if draw {
					break
				}
			}
		}
		e.Undo()
		if draw {
			out = append(out, MoveResult{Move: m.UCI, SAN: m.SAN, Score: score, Special: true})
		}
	}
	return out
}

// dispatch starts a round. Round 0 uses the ordered legal moves; later
// rounds re-split every move, best first.
func (d *Dispatcher) dispatch(ctx context.Context, reply *Reply, step int) Outcome {
	logger := zerolog.Ctx(ctx)
	workers := d.transport.Size()
	reply.startRound(workers, d.now())

	if d.opts.insta(workers, len(reply.moves)) {
		pick := reply.moves[d.rng.Intn(len(reply.moves))]
		logger.Debug().Str("move", pick.SAN).Msg("insta-move")
		return d.receive(ctx, reply, Result{
			WorkerID:    InstaWorker,
			Fingerprint: reply.Fingerprint,
			Moves:       []MoveResult{{Move: pick.UCI, SAN: pick.SAN}},
		})
	}

	special := lo.SliceToMap(reply.folds, func(mr MoveResult) (string, bool) {
		return mr.Move, true
	})
	masks := make([][]string, workers)
	for i, m := range reply.moves {
		if special[m.UCI] {
			continue
		}
		id := i % workers
		masks[id] = append(masks[id], m.UCI)
	}

	scanAll := (d.opts.MaxTime > 0 && step == 0) || strings.Contains(d.opts.Extra, "X=") ||
		len(reply.folds) > 0
	depth := d.opts.taskDepth(d.depth)
	tasks := make([]Task, 0, workers)
	for id, mask := range masks {
		if len(mask) == 0 {
			continue
		}
		reply.gate.Arm(id)
		tasks = append(tasks, Task{
			WorkerID:    id,
			Fingerprint: reply.Fingerprint,
			Moves:       mask,
			Depth:       depth,
			Options:     d.opts.Extra,
			PVHint:      d.pvHint,
			ScanAll:     scanAll,
		})
	}

	out := Outcome{Status: Pending, Fingerprint: reply.Fingerprint}
	if len(reply.folds) > 0 {
		out = d.receive(ctx, reply, Result{
			WorkerID:    FoldWorker,
			Fingerprint: reply.Fingerprint,
			Moves:       append([]MoveResult(nil), reply.folds...),
		})
	}

	logger.Debug().Int("step", step).Int("depth", depth).Int("tasks", len(tasks)).
		Bool("scan-all", scanAll).Msg("dispatch")
	for _, t := range tasks {
		if err := d.transport.Send(ctx, t); err != nil {
			out = d.receive(ctx, reply, Failed(t, err))
		}
	}
	return out
}

// Receive handles a worker result.
func (d *Dispatcher) Receive(ctx context.Context, res Result) Outcome {
	if !d.thinking || res.Fingerprint != d.current {
		zerolog.Ctx(ctx).Debug().Int("worker", res.WorkerID).Str("fen", res.Fingerprint).
			Msg("stale-result")
		return Outcome{Status: Stale, Fingerprint: res.Fingerprint}
	}
	reply := d.replies[d.current]
	if res.WorkerID < 0 {
		// reserved ids are produced internally, never by a transport
		return Outcome{Status: Stale, Fingerprint: res.Fingerprint}
	}
	return d.receive(ctx, reply, res)
}

func (d *Dispatcher) receive(ctx context.Context, reply *Reply, res Result) Outcome {
	logger := zerolog.Ctx(ctx)
	if res.WorkerID >= 0 && !reply.gate.Release(res.WorkerID) {
		logger.Debug().Int("worker", res.WorkerID).Msg("duplicate-result")
		return Outcome{Status: Pending, Fingerprint: reply.Fingerprint}
	}
	if res.Err != "" {
		wf := WorkerFailure{WorkerID: res.WorkerID, Reason: res.Err}
		reply.failures = append(reply.failures, wf)
		logger.Error().Err(&wf).Msg("worker-failure")
	} else {
		reply.merge(res)
	}
	if !reply.gate.Done() {
		return Outcome{Status: Pending, Fingerprint: reply.Fingerprint}
	}
	return d.complete(ctx, reply)
}

// complete is called once every worker of the round has answered.
func (d *Dispatcher) complete(ctx context.Context, reply *Reply) Outcome {
	logger := zerolog.Ctx(ctx)
	sorted := reply.Sorted()
	if len(sorted) == 0 {
		// every worker failed: fall back to a random legal move
		pick := reply.moves[d.rng.Intn(len(reply.moves))]
		logger.Warn().Str("fen", reply.Fingerprint).Str("move", pick.SAN).Msg("no-results")
		sorted = []MoveResult{{Move: pick.UCI, SAN: pick.SAN}}
	}
	best := sorted[0]
	if len(best.PV) > 0 {
		d.pvHint = strings.Join(best.PV, " ")
	} else {
		d.pvHint = best.Move
	}

	now := d.now()
	elapsed := now.Sub(reply.roundStart)
	total := now.Sub(reply.started)
	it := Iteration{
		Depth:    d.opts.taskDepth(d.depth),
		Elapsed:  elapsed,
		Nodes:    reply.nodes,
		AvgDepth: reply.AvgDepth(),
		SelDepth: reply.selDepth,
		Best:     best.SAN,
		Score:    best.Score,
		PV:       best.PV,
		Failures: len(reply.failures),
	}
	reply.history = append(reply.history, it)
	d.writeLog(ctx, it)

	iterate := ShouldContinue(d.opts, d.depth, best.Score, reply.history, total)
	if iterate {
		rest := lo.Filter(sorted, func(mr MoveResult, _ int) bool { return !mr.Special })
		iterate = len(rest) > 1
	}
	if iterate {
		d.depth++
		reply.reorder()
		out := d.dispatch(ctx, reply, 1)
		if out.Status == Pending {
			out.Status = Iterating
			out.Iteration = &it
		}
		return out
	}

	d.thinking = false
	m := &move.Move{
		SAN:         best.SAN,
		UCI:         best.Move,
		Scored:      true,
		Score:       best.Score,
		PV:          best.PV,
		ClockMillis: total.Milliseconds(),
		Nodes:       reply.nodesAll,
		Depth:       int(it.AvgDepth + 0.5),
		SelDepth:    reply.selDepth,
		NPS:         nps(reply.nodesAll, total),
		HashHits:    reply.hashHits,
	}
	if m.Depth == 0 {
		m.Depth = it.Depth
	}
	status := Committed
	if d.suggest {
		status = Suggested
	}
	logger.Debug().Str("move", m.SAN).Int("score", m.Score).Int("depth", m.Depth).
		Uint64("nodes", m.Nodes).Dur("elapsed", total).Str("status", status.String()).Msg("search-done")
	return Outcome{Status: status, Fingerprint: reply.Fingerprint, Iteration: &it, Move: m}
}

func (d *Dispatcher) writeLog(ctx context.Context, it Iteration) {
	if d.logStream == nil {
		return
	}
	out, err := yaml.Marshal([]Iteration{it})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("marshalling log")
		return
	}
	if _, err := d.logStream.Write(out); err != nil {
		log.Err(err).Msg("writing search log")
	}
}

func nps(nodes uint64, elapsed time.Duration) uint64 {
	if elapsed <= 0 {
		return 0
	}
	return uint64(float64(nodes) / elapsed.Seconds())
}
