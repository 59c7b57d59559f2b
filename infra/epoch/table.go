package epoch

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Idle marks a reservation slot whose owner is between operations.
// It doubles as the "plus infinity" result of MinAnnounced.
const Idle = ^uint64(0)

// CacheLineSize pads reservation slots so that announcing threads do
// not false-share.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})

type slot struct {
	announced atomic.Uint64
	inUse     atomic.Bool
	_         [CacheLineSize - 16]byte
}

// Reservation is one thread's announcement cell. It stays valid until
// released back to the table.
type Reservation struct {
	s     *slot
	index int
}

// Announce declares that this thread may hold references to objects
// retired at epochs >= e.
func (r *Reservation) Announce(e uint64) {
	r.s.announced.Store(e)
}

// Retract marks the thread idle.
func (r *Reservation) Retract() {
	r.s.announced.Store(Idle)
}

// Announced returns the slot's current value; Idle when retracted.
func (r *Reservation) Announced() uint64 {
	return r.s.announced.Load()
}

// Index is the stable thread index backing this reservation.
func (r *Reservation) Index() int {
	return r.index
}

// Table assigns stable thread indices and tracks every announced
// epoch. Scans are lock-free; growth happens under a mutex and
// publishes a new slice.
type Table struct {
	slots atomic.Pointer[[]*slot]

	mu   sync.Mutex
	free []int
}

// NewTable returns a table pre-sized for the given number of threads.
// It grows on demand past that.
func NewTable(capacity int) *Table {
	if capacity < 1 {
		capacity = 1
	}
	t := &Table{}
	s := make([]*slot, capacity)
	for i := range s {
		s[i] = newSlot()
	}
	t.slots.Store(&s)
	t.free = make([]int, 0, capacity)
	for i := capacity - 1; i >= 0; i-- {
		t.free = append(t.free, i)
	}
	return t
}

func newSlot() *slot {
	s := &slot{}
	s.announced.Store(Idle)
	return s
}

// Acquire assigns a stable index, reusing released ones first.
func (t *Table) Acquire() *Reservation {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.free); n > 0 {
		idx := t.free[n-1]
		t.free = t.free[:n-1]
		s := (*t.slots.Load())[idx]
		s.inUse.Store(true)
		return &Reservation{s: s, index: idx}
	}

	old := *t.slots.Load()
	grown := make([]*slot, len(old)+1)
	copy(grown, old)
	s := newSlot()
	s.inUse.Store(true)
	grown[len(old)] = s
	t.slots.Store(&grown)
	return &Reservation{s: s, index: len(old)}
}

// Release retracts the reservation and returns its index to the free
// list.
func (t *Table) Release(r *Reservation) {
	r.Retract()
	r.s.inUse.Store(false)

	t.mu.Lock()
	t.free = append(t.free, r.index)
	t.mu.Unlock()
}

// MinAnnounced returns the minimum epoch announced by any active
// thread, or Idle when every thread is between operations. The result
// is a lower bound: a slot scanned early may announce a smaller value
// afterwards, but never one below what the scan returned at its
// linearization point.
func (t *Table) MinAnnounced() uint64 {
	min := Idle
	for _, s := range *t.slots.Load() {
		if v := s.announced.Load(); v < min {
			min = v
		}
	}
	return min
}

// Active counts slots currently handed out. Diagnostic only.
func (t *Table) Active() int {
	n := 0
	for _, s := range *t.slots.Load() {
		if s.inUse.Load() {
			n++
		}
	}
	return n
}
