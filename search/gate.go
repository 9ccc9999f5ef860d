package search

import "sync/atomic"

// Gate is the fan-in countdown of one search round. Each worker with work
// is armed once; the round is complete when every armed worker has been
// released, in any order. Releasing a worker twice, or one that was never
// armed, has no effect.
type Gate struct {
	pending   []atomic.Bool
	remaining atomic.Int64
}

func NewGate(workers int) *Gate {
	return &Gate{pending: make([]atomic.Bool, workers)}
}

// Arm marks a worker as owing a result.
func (g *Gate) Arm(id int) {
	if id < 0 || id >= len(g.pending) {
		return
	}
	if g.pending[id].CompareAndSwap(false, true) {
		g.remaining.Add(1)
	}
}

// Release clears a worker's flag. It returns true if the flag was set.
func (g *Gate) Release(id int) bool {
	if id < 0 || id >= len(g.pending) {
		return false
	}
	if g.pending[id].CompareAndSwap(true, false) {
		g.remaining.Add(-1)
		return true
	}
	return false
}

// Done reports whether no armed worker is outstanding.
func (g *Gate) Done() bool {
	return g.remaining.Load() == 0
}

// Pending returns the number of outstanding workers.
func (g *Gate) Pending() int {
	return int(g.remaining.Load())
}

// IsPending reports whether worker id still owes a result.
func (g *Gate) IsPending(id int) bool {
	if id < 0 || id >= len(g.pending) {
		return false
	}
	return g.pending[id].Load()
}
