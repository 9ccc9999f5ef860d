package negamax

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/dylhunn/dragontoothmg"
	"github.com/pbnjay/memory"
	"github.com/rs/zerolog/log"
)

const (
	TTExact = 0x01
	TTLower = 0x02
	TTUpper = 0x03
)

const entrySize = 16

const depthMask = (1 << 6) - 1

// minSizePowerOf2 keeps the table usable on small machines and in tests.
const minSizePowerOf2 = 16

// 16 bytes (entrySize)
type TableEntry struct {
	hash         uint64
	score        int16
	flagAndDepth uint8
	_            uint8
	move         dragontoothmg.Move
	_            uint16
}

func (t TableEntry) flag() uint8 {
	return t.flagAndDepth >> 6
}

func (t TableEntry) depth() uint8 {
	return t.flagAndDepth & depthMask
}

func (t TableEntry) valid() bool {
	// a table flag is 1, 2, or 3.
	return t.flag() != 0
}

func newEntry(score int, flag uint8, depth int, m dragontoothmg.Move) TableEntry {
	return TableEntry{
		score:        int16(score),
		flagAndDepth: flag<<6 | uint8(min(depth, depthMask)),
		move:         m,
	}
}

type TableLock interface {
	Lock()
	Unlock()
	RLock()
	RUnlock()
}

type FakeLock struct{}

func (f FakeLock) Lock()    {}
func (f FakeLock) Unlock()  {}
func (f FakeLock) RLock()   {}
func (f FakeLock) RUnlock() {}

// TranspositionTable is a fixed-size, always-replace hash table indexed by
// the low bits of the Zobrist key. The full key is kept to reject
// collisions.
type TranspositionTable struct {
	TableLock
	table        []TableEntry
	created      atomic.Uint64
	lookups      atomic.Uint64
	hits         atomic.Uint64
	sizePowerOf2 int
	sizeMask     uint64
	// index collisions between unrelated positions
	t2collisions atomic.Uint64
}

func NewTranspositionTable() *TranspositionTable {
	return &TranspositionTable{TableLock: FakeLock{}}
}

func (t *TranspositionTable) SetSingleThreadedMode() {
	t.TableLock = &FakeLock{}
}

// SetMultiThreadedMode is needed when several searchers share the table.
func (t *TranspositionTable) SetMultiThreadedMode() {
	t.TableLock = new(sync.RWMutex)
}

func (t *TranspositionTable) lookup(zval uint64) TableEntry {
	t.RLock()
	defer t.RUnlock()
	t.lookups.Add(1)
	if t.table == nil {
		return TableEntry{}
	}
	idx := zval & t.sizeMask
	entry := t.table[idx]
	if entry.hash != zval {
		if entry.valid() {
			t.t2collisions.Add(1)
		}
		return TableEntry{}
	}
	t.hits.Add(1)
	return entry
}

func (t *TranspositionTable) store(zval uint64, tentry TableEntry) {
	t.Lock()
	defer t.Unlock()
	if t.table == nil {
		return
	}
	tentry.hash = zval
	// just overwrite whatever is there for now.
	t.table[zval&t.sizeMask] = tentry
	t.created.Add(1)
}

// Reset sizes the table to a fraction of the system memory and clears it.
func (t *TranspositionTable) Reset(fractionOfMemory float64) {
	t.Lock()
	defer t.Unlock()
	totalMem := memory.TotalMemory()
	desiredNElems := fractionOfMemory * (float64(totalMem) / float64(entrySize))
	// find biggest power of 2 lower than desired.
	t.sizePowerOf2 = minSizePowerOf2
	if desiredNElems > 1 {
		t.sizePowerOf2 = max(minSizePowerOf2, int(math.Log2(desiredNElems)))
	}

	numElems := 1 << t.sizePowerOf2
	t.sizeMask = uint64(numElems - 1)
	reset := false
	if t.table != nil && len(t.table) == numElems {
		reset = true
		clear(t.table)
	} else {
		t.table = make([]TableEntry, numElems)
	}

	log.Debug().Int("num-elems", numElems).
		Float64("desired-num-elems", desiredNElems).
		Int("estimated-total-memory-bytes", numElems*entrySize).
		Uint64("total-system-memory-bytes", totalMem).
		Bool("reset", reset).
		Msg("transposition-table-size")

	t.created.Store(0)
	t.lookups.Store(0)
	t.hits.Store(0)
	t.t2collisions.Store(0)
}

// Hits returns the number of successful lookups since the last reset.
func (t *TranspositionTable) Hits() uint64 {
	return t.hits.Load()
}

func (t *TranspositionTable) Lookups() uint64 {
	return t.lookups.Load()
}
