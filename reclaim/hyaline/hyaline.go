// Package hyaline implements the Hyaline family of reclamation
// schemes. Retired objects go onto slot-indexed lock-free lists; a
// reference count taken at retirement records how many readers were
// inside the slot at that moment, and each reader's leave walks its
// window of the list and drops one reference per object. An object
// whose count reaches zero is destroyed by whichever leave got there
// last.
package hyaline

import (
	"fmt"
	"math"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Link is the engine-owned part of a reclaimable object. Clients embed
// it and surrender it at Retire; the engine owns the next field from
// that point on.
type Link struct {
	nref    atomic.Int32
	next    *Link
	destroy func()
	queued  bool
}

// Reset prepares a pooled link for reuse. Callers must only reset
// links that the engine has already destroyed.
func (l *Link) Reset() {
	l.nref.Store(0)
	l.next = nil
	l.destroy = nil
	l.queued = false
}

type slot struct {
	refs atomic.Int64
	head atomic.Pointer[Link]
	_    cpu.CacheLinePad
}

// Handle marks where a reader came in: the retired-list head observed
// at Enter. A later Leave drains only objects retired after that
// point.
type Handle struct {
	slot   int
	ptr    *Link
	active bool
}

// Engine is one Hyaline instance with S independent slots.
type Engine struct {
	slots []slot

	retired atomic.Uint64
	freed   atomic.Uint64
}

// Stats counts retirements and completed frees.
type Stats struct {
	Retired uint64
	Freed   uint64
}

// New creates an engine with the given slot count. S=1 degenerates to
// a single global retired list and stays correct.
func New(numSlots int) *Engine {
	if numSlots < 1 {
		panic("hyaline: slot count must be positive")
	}
	return &Engine{slots: make([]slot, numSlots)}
}

// Slots returns S.
func (e *Engine) Slots() int { return len(e.slots) }

// Enter begins a read-side critical section on the slot.
func (e *Engine) Enter(slotID int) Handle {
	s := &e.slots[slotID]
	s.refs.Add(1)
	return Handle{slot: slotID, ptr: s.head.Load(), active: true}
}

// Leave ends the critical section opened by the matching Enter. It
// first drains the window between the current head and the handle,
// dropping one reference per object and destroying those that reach
// zero, and only then gives up its slot reference. The ref drop comes
// after the walk so that a zero count means no walk is in flight —
// that is what lets the last reader out claim the whole list.
func (e *Engine) Leave(h Handle) {
	if !h.active {
		panic("hyaline: Leave without a matching Enter")
	}
	s := &e.slots[h.slot]

	cur := s.head.Load()
	for n := cur; n != nil && n != h.ptr; {
		next := n.next
		if n.nref.Add(-1) == 0 {
			e.release(n)
		}
		n = next
	}

	left := s.refs.Add(-1)
	if left < 0 {
		panic("hyaline: slot ref count went negative")
	}

	// Last one out detaches the chain it observed and sweeps it for
	// stragglers: objects whose count never reached zero because a
	// racing enter was counted but came in too late to walk them.
	// The CAS claims the chain exclusively; if a racing Retire moved
	// the head, the chain stays for a later trim or the shutdown
	// drain.
	if left == 0 && cur != nil && s.head.CompareAndSwap(cur, nil) {
		e.sweep(cur)
	}
}

func (e *Engine) sweep(chain *Link) {
	for n := chain; n != nil; {
		next := n.next
		// A parked count marks a retire whose adjustment has not
		// landed yet; that retirer will see the swapped value and
		// release the object itself.
		if old := n.nref.Swap(math.MinInt32); old > 0 && old < pending/2 {
			e.release(n)
		}
		n = next
	}
}

// pending parks a just-published object's count far above any real
// reader population until the retirer has counted the slot. Walks
// that reach the object early decrement the parked value and are
// folded in by the final adjustment.
const pending = int32(1) << 30

// Retire publishes the object at the head of the slot's retired list.
// The count is taken after publication: a reader that can still walk
// to the object entered before the publish, so its slot reference is
// visible to the load below. Readers that entered later snapshot a
// head at or past the object and never visit it. Must be called
// inside an Enter/Leave window, so the count includes at least the
// retirer's own leave.
func (e *Engine) Retire(slotID int, l *Link, destroy func()) {
	s := &e.slots[slotID]
	if s.refs.Load() < 1 {
		panic("hyaline: Retire outside an Enter window")
	}
	if l.queued {
		panic("hyaline: double retire")
	}
	l.queued = true
	l.destroy = destroy
	l.nref.Store(pending)

	for {
		head := s.head.Load()
		l.next = head
		if s.head.CompareAndSwap(head, l) {
			break
		}
	}
	e.retired.Add(1)

	// The final count is the readers present now: exactly the set
	// whose leaves have yet to walk the object, plus late entrants
	// that never will. A walk that already passed during the parked
	// window is deliberately dropped — folding it in could carry the
	// count through zero while a present reader still holds the
	// object. Overcounted objects park in the list until a sweep.
	// A negative old value means a last-out sweep claimed the chain
	// while the count was parked and left the object to us.
	if old := l.nref.Swap(int32(s.refs.Load())); old < 0 {
		e.release(l)
	}
}

func (e *Engine) release(l *Link) {
	e.freed.Add(1)
	if l.destroy != nil {
		l.destroy()
	}
}

// SlotRefs reports the slot's current reader count. Diagnostic.
func (e *Engine) SlotRefs(slotID int) int64 {
	return e.slots[slotID].refs.Load()
}

// StuckSlots lists slots whose reader count never returned to zero —
// a reader entered and never left.
func (e *Engine) StuckSlots() []int {
	var stuck []int
	for i := range e.slots {
		if e.slots[i].refs.Load() != 0 {
			stuck = append(stuck, i)
		}
	}
	return stuck
}

// DrainAll sweeps every slot after the workers are gone. Slots whose
// reader count is back to zero have their remaining objects destroyed;
// slots with a reader still inside keep theirs, and those objects are
// the leak figure returned. Callers log StuckSlots for the diagnosis.
func (e *Engine) DrainAll() int {
	for i := range e.slots {
		s := &e.slots[i]
		if s.refs.Load() != 0 {
			continue
		}
		e.sweep(s.head.Swap(nil))
	}
	return int(e.retired.Load() - e.freed.Load())
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{Retired: e.retired.Load(), Freed: e.freed.Load()}
}

// Held reports how many retired objects are still queued.
func (e *Engine) Held() int {
	return int(e.retired.Load() - e.freed.Load())
}

// CheckSlot panics unless the slot id is in range. Clients derive slot
// ids from thread indices; a bad id is a programmer error.
func (e *Engine) CheckSlot(slotID int) {
	if slotID < 0 || slotID >= len(e.slots) {
		panic(fmt.Sprintf("hyaline: slot %d out of range [0,%d)", slotID, len(e.slots)))
	}
}
