// Package worker runs searches in goroutines of this process. Pool is the
// in-process search.Transport.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/octopoulo/vote-chess/negamax"
	"github.com/octopoulo/vote-chess/search"
)

var ErrNoSuchWorker = errors.New("no such worker")

type slot struct {
	id       int
	searcher *negamax.Searcher
	latest   atomic.Pointer[search.Task]
	wake     chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Pool is a fixed set of search goroutines sharing one transposition
// table. A task sent to a busy worker supersedes the one it is running; the
// superseded task reports nothing.
type Pool struct {
	slots    []*slot
	results  chan<- search.Result
	tt       *negamax.TranspositionTable
	fraction float64
}

// NewPool creates size workers posting to results. fractionOfMemory sizes
// the shared transposition table.
func NewPool(size int, fractionOfMemory float64, results chan<- search.Result) *Pool {
	tt := negamax.NewTranspositionTable()
	// the table is also reset from the coordinator's goroutine
	tt.SetMultiThreadedMode()
	tt.Reset(fractionOfMemory)
	p := &Pool{results: results, tt: tt, fraction: fractionOfMemory}
	for i := range size {
		p.slots = append(p.slots, &slot{
			id:       i,
			searcher: negamax.NewSearcher(tt),
			wake:     make(chan struct{}, 1),
		})
	}
	return p
}

func (p *Pool) Size() int {
	return len(p.slots)
}

// Send hands a task to its worker. It never waits for a search.
func (p *Pool) Send(ctx context.Context, t search.Task) error {
	if t.WorkerID < 0 || t.WorkerID >= len(p.slots) {
		return fmt.Errorf("%w: %d", ErrNoSuchWorker, t.WorkerID)
	}
	s := p.slots[t.WorkerID]
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.latest.Store(&t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run starts the workers and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	g := errgroup.Group{}
	for _, s := range p.slots {
		g.Go(func() error {
			defer func() {
				log.Debug().Int("worker", s.id).Msg("worker-exiting")
			}()
			return p.loop(ctx, s)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ResetTable clears the shared transposition table for a new game.
func (p *Pool) ResetTable() {
	p.tt.Reset(p.fraction)
}

func (p *Pool) next(ctx context.Context, s *slot) (search.Task, context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.latest.Swap(nil)
	if t == nil {
		return search.Task{}, nil, false
	}
	tctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	return *t, tctx, true
}

func (p *Pool) loop(ctx context.Context, s *slot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
		t, tctx, ok := p.next(ctx, s)
		if !ok {
			continue
		}
		res := Execute(tctx, s.searcher, t)
		superseded := tctx.Err() != nil
		s.mu.Lock()
		s.cancel()
		s.cancel = nil
		s.mu.Unlock()
		if superseded {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Int("worker", s.id).Str("fen", t.Fingerprint).Msg("task-superseded")
			continue
		}
		select {
		case p.results <- res:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
