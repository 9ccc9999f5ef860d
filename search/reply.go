package search

import (
	"sort"
	"time"

	"github.com/octopoulo/vote-chess/rules"
	"github.com/octopoulo/vote-chess/stats"
)

// Iteration summarizes one completed search round.
type Iteration struct {
	Depth    int           `json:"depth" yaml:"depth"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	Nodes    uint64        `json:"nodes" yaml:"nodes"`
	AvgDepth float64       `json:"avg_depth" yaml:"avg_depth"`
	SelDepth int           `json:"sel_depth" yaml:"sel_depth"`
	Best     string        `json:"best" yaml:"best"`
	Score    int           `json:"score" yaml:"score"`
	PV       []string      `json:"pv,omitempty" yaml:"pv,omitempty,flow"`
	Failures int           `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// Reply is the search state of one position. Per-round fields are reset at
// each dispatch; the session fields live until the position is committed.
type Reply struct {
	Fingerprint string

	// session
	moves     []rules.Move
	san       map[string]string
	folds     []MoveResult
	scores    map[string]int
	pvs       map[string][]string
	history   []Iteration
	started   time.Time
	nodesAll  uint64
	hashHits  uint64
	failures  []WorkerFailure

	// round
	gate       *Gate
	combined   []MoveResult
	depths     []float64
	weights    []float64
	nodes      uint64
	selDepth   int
	roundStart time.Time
}

func newReply(fen string, moves []rules.Move, now time.Time) *Reply {
	r := &Reply{
		Fingerprint: fen,
		moves:       moves,
		san:         make(map[string]string, len(moves)),
		scores:      make(map[string]int),
		pvs:         make(map[string][]string),
		started:     now,
	}
	for _, m := range moves {
		r.san[m.UCI] = m.SAN
	}
	return r
}

func (r *Reply) startRound(workers int, now time.Time) {
	r.gate = NewGate(workers)
	r.combined = r.combined[:0]
	r.depths = r.depths[:0]
	r.weights = r.weights[:0]
	r.nodes = 0
	r.selDepth = 0
	r.roundStart = now
}

// merge folds a worker's result into the round.
func (r *Reply) merge(res Result) {
	for _, mr := range res.Moves {
		if nullMove(mr.Move) {
			continue
		}
		if mr.SAN == "" {
			mr.SAN = r.san[mr.Move]
		}
		r.combined = append(r.combined, mr)
		r.scores[mr.Move] = mr.Score
		r.pvs[mr.Move] = mr.PV
	}
	r.nodes += res.Nodes
	r.nodesAll += res.Nodes
	r.hashHits += res.HashHits
	if res.Nodes > 0 {
		r.depths = append(r.depths, res.AvgDepth)
		r.weights = append(r.weights, float64(res.Nodes))
	}
	r.selDepth = max(r.selDepth, res.SelDepth)
}

// Sorted returns the round's moves by descending score. Equal scores keep
// their arrival order.
func (r *Reply) Sorted() []MoveResult {
	out := append([]MoveResult(nil), r.combined...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// AvgDepth is the node-weighted mean depth of the round.
func (r *Reply) AvgDepth() float64 {
	return stats.WeightedMean(r.depths, r.weights)
}

func (r *Reply) Nodes() uint64 {
	return r.nodes
}

func (r *Reply) SelDepth() int {
	return r.selDepth
}

func (r *Reply) History() []Iteration {
	return append([]Iteration(nil), r.history...)
}

func (r *Reply) Failures() []WorkerFailure {
	return append([]WorkerFailure(nil), r.failures...)
}

// Pending returns the number of workers the round still waits for.
func (r *Reply) Pending() int {
	if r.gate == nil {
		return 0
	}
	return r.gate.Pending()
}

// reorder sorts the legal moves by the scores of the last round, best
// first. Unscored moves keep their relative order at the end.
func (r *Reply) reorder() {
	sort.SliceStable(r.moves, func(i, j int) bool {
		si, okI := r.scores[r.moves[i].UCI]
		sj, okJ := r.scores[r.moves[j].UCI]
		if okI != okJ {
			return okI
		}
		return si > sj
	})
}

// nullMove reports a UCI move with from == to, which workers use for an
// empty slot.
func nullMove(uci string) bool {
	return len(uci) < 4 || uci[:2] == uci[2:4]
}
