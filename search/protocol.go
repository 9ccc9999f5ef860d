package search

import "context"

// Reserved worker ids for results that do not come from a pool worker.
const (
	// FoldWorker carries the fold moves, scored by the dispatcher itself.
	FoldWorker = -1
	// InstaWorker carries the random pick of an insta-move.
	InstaWorker = -2
)

// Task is one worker's share of a search round. It is never modified after
// it is sent.
type Task struct {
	WorkerID    int      `json:"id"`
	Fingerprint string   `json:"fen"`
	Moves       []string `json:"moves"`
	Depth       int      `json:"depth"`
	Options     string   `json:"options,omitempty"`
	PVHint      string   `json:"pv_string,omitempty"`
	ScanAll     bool     `json:"scan_all,omitempty"`
}

// MoveResult is the evaluation of one root move, from the side to move's
// point of view.
type MoveResult struct {
	Move    string   `json:"m"`
	SAN     string   `json:"san,omitempty"`
	Score   int      `json:"score"`
	PV      []string `json:"pv,omitempty"`
	Nodes   uint64   `json:"nodes"`
	Depth   int      `json:"depth"`
	Special bool     `json:"special,omitempty"`
}

// Result is a worker's reply to a Task. A non-empty Err marks a worker
// failure; such a result carries no moves.
type Result struct {
	WorkerID    int          `json:"id"`
	Fingerprint string       `json:"fen"`
	Moves       []MoveResult `json:"moves"`
	Nodes       uint64       `json:"nodes"`
	AvgDepth    float64      `json:"avg_depth"`
	SelDepth    int          `json:"sel_depth"`
	HashHits    uint64       `json:"hash_hits,omitempty"`
	Err         string       `json:"error,omitempty"`
}

// Failed builds the result reported for a worker that could not complete
// its task.
func Failed(t Task, err error) Result {
	return Result{WorkerID: t.WorkerID, Fingerprint: t.Fingerprint, Err: err.Error()}
}

// Transport delivers tasks to a fixed set of workers. Results are delivered
// asynchronously on the channel the transport was built with. Send must not
// block on the search itself.
type Transport interface {
	// Size is the number of workers, i.e. the valid WorkerID range.
	Size() int
	Send(ctx context.Context, t Task) error
}

// TableResetter is implemented by transports whose workers keep a
// transposition table between searches. It is cleared when a game starts.
type TableResetter interface {
	ResetTable()
}
