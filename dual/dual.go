// Package dual compares two boards that receive the same game from
// different sources and decides which ply each should show.
package dual

import (
	"fmt"
	"sync"
	"time"
)

// Policy selects the ply shown after a comparison.
type Policy string

const (
	ShowFirst   Policy = "first"
	ShowDiverge Policy = "diverge"
	ShowLast    Policy = "last"
)

// HiddenMarker is the marker ply meaning "no marker".
const HiddenMarker = -2

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case ShowFirst, ShowDiverge, ShowLast:
		return p, nil
	}
	return "", fmt.Errorf("unknown show policy %q", s)
}

// Compare scans two notation lists from commonPly. It returns the ply where
// they diverge, or the last compared ply if they never do, and the number
// of plies that agree. An empty commonPly slot on both sides is skipped.
func Compare(ref, display []string, commonPly int) (ply, agree int) {
	ply = commonPly
	n := min(len(ref), len(display))
	for i := max(commonPly, 0); i < n; i++ {
		r, d := ref[i], display[i]
		if r == "" || d == "" {
			if i == commonPly && r == d {
				continue
			}
			break
		}
		ply = i
		if r != d {
			break
		}
		agree++
	}
	return ply, agree
}

// Decision is the outcome of a comparison: the marker, set on both boards,
// and the ply each board should show.
type Decision struct {
	Ply     int
	Agree   int
	Ref     int
	Display int
}

// Decide compares the boards and applies the policy.
func Decide(ref, display []string, commonPly int, policy Policy) Decision {
	ply, agree := Compare(ref, display, commonPly)
	d := Decision{Ply: ply, Agree: agree}
	switch policy {
	case ShowFirst:
		d.Ref, d.Display = commonPly, commonPly
	case ShowLast:
		d.Ref, d.Display = len(ref)-1, len(display)-1
	default:
		d.Ref, d.Display = ply, ply
	}
	return d
}

// Scheduler runs f after d; the returned function cancels it.
type Scheduler func(d time.Duration, f func()) (stop func() bool)

func afterFunc(d time.Duration, f func()) func() bool {
	return time.AfterFunc(d, f).Stop
}

// Reconciler debounces comparisons while inputs arrive quickly. It is safe
// to use from the coordinator and from timer callbacks.
type Reconciler struct {
	Policy    Policy
	delay     time.Duration
	keyRepeat time.Duration

	mu       sync.Mutex
	now      func() time.Time
	schedule Scheduler
	lastKey  time.Time
	stop     func() bool
}

func NewReconciler(policy Policy, delay, keyRepeat time.Duration) *Reconciler {
	return &Reconciler{
		Policy:    policy,
		delay:     delay,
		keyRepeat: keyRepeat,
		now:       time.Now,
		schedule:  afterFunc,
	}
}

// SetClock replaces the time source and the timer, for tests.
func (r *Reconciler) SetClock(now func() time.Time, schedule Scheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	r.schedule = schedule
}

// Input records a navigation input such as a key press.
func (r *Reconciler) Input() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastKey = r.now()
}

func (r *Reconciler) ready(wantPly, lastPly int) bool {
	return wantPly >= lastPly-1 || r.now().Sub(r.lastKey) > 2*r.keyRepeat
}

// Request asks for a comparison toward wantPly, lastPly being the last ply
// available. If it should happen now, Request returns true and any pending
// deferred comparison is cancelled. Otherwise fire is (re)armed to run after
// the delay, and hide reports that the markers should be hidden because no
// comparison was pending yet.
func (r *Reconciler) Request(wantPly, lastPly int, fire func()) (now, hide bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := r.stop != nil
	if pending {
		r.stop()
		r.stop = nil
	}
	if r.ready(wantPly, lastPly) {
		return true, false
	}
	r.stop = r.schedule(r.delay, func() {
		r.mu.Lock()
		r.stop = nil
		r.mu.Unlock()
		fire()
	})
	return false, !pending
}

// Cancel drops a pending deferred comparison.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

// Pending reports whether a deferred comparison is armed.
func (r *Reconciler) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stop != nil
}
