package hyaline

import (
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// SLink is the engine-owned part of an object retired through the S
// variant. Objects are queued in batches, not individually.
type SLink struct {
	birthEra uint64
	destroy  func()
	queued   bool
}

// Batch groups retired objects under one shared reference count. The
// count starts at readers-at-publish times batch size; every reader's
// leave drops it once per member, and the whole batch is destroyed
// when the count reaches zero.
type Batch struct {
	links       []*SLink
	refs        atomic.Int32
	minBirthEra uint64
	next        *Batch
}

type sslot struct {
	refs atomic.Int64
	head atomic.Pointer[Batch]
	_    cpu.CacheLinePad
}

// SHandle is the batch-list head observed at Enter.
type SHandle struct {
	slot   int
	ptr    *Batch
	active bool
}

// SEngine is the Hyaline-S instance: batched retirement plus an era
// gate on optimistic dereferences.
type SEngine struct {
	era       atomic.Uint64
	slots     []sslot
	batchSize int

	retired atomic.Uint64
	freed   atomic.Uint64

	mu      sync.Mutex
	threads map[*SThread]struct{}
}

// NewS creates an S engine with the given slot count and retire batch
// size.
func NewS(numSlots, batchSize int) *SEngine {
	if numSlots < 1 {
		panic("hyaline: slot count must be positive")
	}
	if batchSize < 1 {
		batchSize = 8
	}
	return &SEngine{
		slots:     make([]sslot, numSlots),
		batchSize: batchSize,
		threads:   make(map[*SThread]struct{}),
	}
}

// Slots returns S.
func (e *SEngine) Slots() int { return len(e.slots) }

// Era returns the current global era.
func (e *SEngine) Era() uint64 { return e.era.Load() }

// SThread accumulates a thread-local batch before publication.
type SThread struct {
	e     *SEngine
	batch []*SLink
}

// Register hands the worker its batch accumulator.
func (e *SEngine) Register() *SThread {
	t := &SThread{e: e}
	e.mu.Lock()
	e.threads[t] = struct{}{}
	e.mu.Unlock()
	return t
}

// Enter begins a read-side critical section on the slot.
func (e *SEngine) Enter(slotID int) SHandle {
	s := &e.slots[slotID]
	s.refs.Add(1)
	return SHandle{slot: slotID, ptr: s.head.Load(), active: true}
}

// Leave drains the batch window between the current head and the
// handle, one reference per batch member, then gives up its slot
// reference. As in the base engine, the ref drop comes last so the
// last reader out can claim and sweep the list.
func (e *SEngine) Leave(h SHandle) {
	if !h.active {
		panic("hyaline: Leave without a matching Enter")
	}
	s := &e.slots[h.slot]

	cur := s.head.Load()
	for b := cur; b != nil && b != h.ptr; {
		next := b.next
		for range b.links {
			if b.refs.Add(-1) == 0 {
				e.releaseBatch(b)
			}
		}
		b = next
	}

	left := s.refs.Add(-1)
	if left < 0 {
		panic("hyaline: slot ref count went negative")
	}

	if left == 0 && cur != nil && s.head.CompareAndSwap(cur, nil) {
		e.sweepBatches(cur)
	}
}

func (e *SEngine) sweepBatches(chain *Batch) {
	for b := chain; b != nil; {
		next := b.next
		// Parked counts belong to a publish whose adjustment has
		// not landed; that retirer releases the batch itself.
		if old := b.refs.Swap(math.MinInt32); old > 0 && old < pending/2 {
			e.releaseBatch(b)
		}
		b = next
	}
}

// Stamp records the allocation era on a link. The S variant keeps
// birth eras for batch metadata.
func (e *SEngine) Stamp(l *SLink) {
	l.birthEra = e.era.Load()
	l.queued = false
	l.destroy = nil
}

// Retire queues the object into the thread-local batch and publishes
// the batch once it is full. Must be called inside an Enter window.
func (t *SThread) Retire(slotID int, l *SLink, destroy func()) {
	if t.e.slots[slotID].refs.Load() < 1 {
		panic("hyaline: Retire outside an Enter window")
	}
	if l.queued {
		panic("hyaline: double retire")
	}
	l.queued = true
	l.destroy = destroy
	t.batch = append(t.batch, l)
	t.e.retired.Add(1)

	if len(t.batch) >= t.e.batchSize {
		t.publish(slotID)
	}
}

// Flush publishes a partial batch. Workers call it (through Detach)
// after their last Leave so nothing stays buffered past shutdown.
func (t *SThread) Flush(slotID int) {
	if len(t.batch) > 0 {
		t.publish(slotID)
	}
}

func (t *SThread) publish(slotID int) {
	s := &t.e.slots[slotID]

	b := &Batch{links: t.batch, minBirthEra: ^uint64(0)}
	for _, l := range b.links {
		if l.birthEra < b.minBirthEra {
			b.minBirthEra = l.birthEra
		}
	}
	t.batch = nil

	// A flush outside any window publishes into a slot with no
	// readers; nothing can still hold the objects and no leave would
	// ever drain them, so release without queueing.
	if s.refs.Load() == 0 {
		b.refs.Store(math.MinInt32)
		t.e.releaseBatch(b)
		t.e.era.Add(1)
		return
	}

	// Same protocol as the base engine: park the count, publish,
	// then set it to the readers present. One slot reference costs
	// one decrement per batch member.
	b.refs.Store(pending)
	for {
		head := s.head.Load()
		b.next = head
		if s.head.CompareAndSwap(head, b) {
			break
		}
	}

	refs := int32(s.refs.Load())
	if refs == 0 {
		// The last reader left between the publish and this count.
		// Its walk either skipped the batch (parked guard) or
		// decremented the parked value; either way the batch is
		// ours to release.
		b.refs.Store(math.MinInt32)
		t.e.releaseBatch(b)
	} else if old := b.refs.Swap(refs * int32(len(b.links))); old < 0 {
		// A last-out sweep claimed the chain while the count was
		// parked and left the batch to us.
		t.e.releaseBatch(b)
	}
	t.e.era.Add(1)
}

// Detach publishes anything still buffered and forgets the thread.
// The leftover batch lands on the slot the worker last used.
func (t *SThread) Detach(slotID int) {
	t.Flush(slotID)
	t.e.mu.Lock()
	delete(t.e.threads, t)
	t.e.mu.Unlock()
}

// Tagged is a pointer captured together with the era at capture time.
type Tagged[T any] struct {
	ptr *T
	era uint64
}

// Record captures a pointer under the current era.
func Record[T any](e *SEngine, p *T) Tagged[T] {
	return Tagged[T]{ptr: p, era: e.era.Load()}
}

// Deref returns the captured pointer only while the slot's reader
// count is at least the recorded era; otherwise nil, and the caller
// retries its read from scratch.
func Deref[T any](e *SEngine, slotID int, tp Tagged[T]) *T {
	if e.slots[slotID].refs.Load() >= int64(tp.era) {
		return tp.ptr
	}
	return nil
}

// SlotRefs reports the slot's current reader count. Diagnostic.
func (e *SEngine) SlotRefs(slotID int) int64 {
	return e.slots[slotID].refs.Load()
}

// StuckSlots lists slots whose reader count never returned to zero.
func (e *SEngine) StuckSlots() []int {
	var stuck []int
	for i := range e.slots {
		if e.slots[i].refs.Load() != 0 {
			stuck = append(stuck, i)
		}
	}
	return stuck
}

// DrainAll destroys every batch still queued on slots whose readers
// are gone and returns how many objects remain held afterwards.
// Unpublished thread-local batches count as held: a thread that never
// detached is indistinguishable from one that died mid-op.
func (e *SEngine) DrainAll() int {
	for i := range e.slots {
		s := &e.slots[i]
		if s.refs.Load() != 0 {
			continue
		}
		e.sweepBatches(s.head.Swap(nil))
	}
	return int(e.retired.Load() - e.freed.Load())
}

func (e *SEngine) releaseBatch(b *Batch) {
	e.freed.Add(uint64(len(b.links)))
	for _, l := range b.links {
		if l.destroy != nil {
			l.destroy()
		}
	}
}

// Stats returns a snapshot of the engine counters.
func (e *SEngine) Stats() Stats {
	return Stats{Retired: e.retired.Load(), Freed: e.freed.Load()}
}

// Held reports how many retired objects are still queued or buffered.
func (e *SEngine) Held() int {
	return int(e.retired.Load() - e.freed.Load())
}
