// Package event carries board notifications to the presentation layer.
// Events of one board are delivered in the order they were emitted.
package event

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/octopoulo/vote-chess/move"
)

type Kind string

const (
	NewPosition    Kind = "new-position"
	PlyChanged     Kind = "ply-changed"
	SearchProgress Kind = "search-progress"
	MoveCommitted  Kind = "move-committed"
	GameTerminated Kind = "game-terminated"
	MarkerChanged  Kind = "marker-changed"
)

type Event struct {
	Seq     uint64 `json:"seq"`
	Kind    Kind   `json:"kind"`
	Board   string `json:"board"`
	Payload any    `json:"payload"`
}

type Position struct {
	Fingerprint string `json:"fen"`
	Ply         int    `json:"ply"`
}

type PlyChange struct {
	Ply         int    `json:"ply"`
	Fingerprint string `json:"fen,omitempty"`
	// Pending is set when the ply could not be shown yet.
	Pending bool `json:"pending,omitempty"`
}

type Progress struct {
	Fingerprint string        `json:"fen"`
	Depth       int           `json:"depth"`
	Best        string        `json:"best,omitempty"`
	Score       int           `json:"score"`
	PV          []string      `json:"pv,omitempty"`
	Nodes       uint64        `json:"nodes"`
	NPS         uint64        `json:"nps"`
	Elapsed     time.Duration `json:"elapsed"`
	// Final marks the end of a suggestion search; nothing is committed.
	Final bool `json:"final,omitempty"`
}

type Committed struct {
	Move move.Move `json:"move"`
}

type Terminated struct {
	Reason      string `json:"reason"`
	Fingerprint string `json:"fen"`
	Ply         int    `json:"ply"`
}

// Marker is the dual-board divergence marker. Ply -2 hides it.
type Marker struct {
	Ply   int `json:"ply"`
	Agree int `json:"agree"`
}

// Bus is a buffered, ordered event queue. Emit blocks when the buffer is
// full, so a slow reader slows its boards down instead of losing events.
type Bus struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	seq    atomic.Uint64
	mu     sync.RWMutex
	closed bool
}

func NewBus(size int) *Bus {
	return &Bus{ch: make(chan Event, size), done: make(chan struct{})}
}

// Emit queues an event. Events emitted after Close are dropped, and an Emit
// blocked on a full buffer gives up when the bus is closed.
func (b *Bus) Emit(kind Kind, board string, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- Event{Seq: b.seq.Add(1), Kind: kind, Board: board, Payload: payload}:
	case <-b.done:
	}
}

// C returns the receive side of the bus.
func (b *Bus) C() <-chan Event {
	return b.ch
}

// Close ends the stream; readers see the channel close after draining.
func (b *Bus) Close() {
	// release blocked emitters before waiting for them
	b.once.Do(func() { close(b.done) })
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
}
