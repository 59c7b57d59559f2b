// Package ibr implements interval-based reclamation. Every object
// carries a birth epoch and a retire epoch; a retired object is freed
// once no thread's announced epoch can still reach it.
package ibr

import (
	"fmt"
	"sync"
	"sync/atomic"

	"smr/infra/epoch"
)

const (
	stateAlive = iota
	stateRetired
	stateFreed
)

// Header is the engine-owned part of a reclaimable object. Clients
// embed it in their node types and leave it alone.
type Header struct {
	birth  uint64
	retire uint64
	state  uint8
}

// BirthEpoch reports when the object was allocated.
func (h *Header) BirthEpoch() uint64 { return h.birth }

// RetireEpoch reports when the object was handed to the engine. Valid
// only after retirement.
func (h *Header) RetireEpoch() uint64 { return h.retire }

// Object is anything the engine can stamp and reclaim.
type Object interface {
	ReclaimHeader() *Header
}

// Config tunes the drain cadence.
type Config struct {
	// RetireBatch is R: a thread drains after every R retirements.
	RetireBatch int
	// EpochFreq is K: the engine ticks the clock after every K
	// retirements process-wide.
	EpochFreq int
	// HighWatermark forces a drain on EndOp once the thread's
	// retired queue grows past it.
	HighWatermark int
}

func (c Config) withDefaults() Config {
	if c.RetireBatch <= 0 {
		c.RetireBatch = 10
	}
	if c.EpochFreq <= 0 {
		c.EpochFreq = 100
	}
	if c.HighWatermark <= 0 {
		c.HighWatermark = 4 * c.RetireBatch
	}
	return c
}

// Stats counts object lifecycle transitions across the engine.
type Stats struct {
	Allocated uint64
	Retired   uint64
	Freed     uint64
}

// Engine is an IBR instance. Multiple independent engines may coexist;
// nothing here is process-global.
type Engine struct {
	clock *epoch.Clock
	table *epoch.Table
	cfg   Config

	retireCount atomic.Uint64

	allocated atomic.Uint64
	retired   atomic.Uint64
	freed     atomic.Uint64

	mu      sync.Mutex
	threads map[*Thread]struct{}
	orphans []retiredObj
}

// New wires an engine onto a clock and a reservation table.
func New(clock *epoch.Clock, table *epoch.Table, cfg Config) *Engine {
	return &Engine{
		clock:   clock,
		table:   table,
		cfg:     cfg.withDefaults(),
		threads: make(map[*Thread]struct{}),
	}
}

// Thread is one worker's view of the engine. Not safe for concurrent
// use; every worker registers its own.
type Thread struct {
	e    *Engine
	res  *epoch.Reservation
	q    retireQueue
	inOp bool
}

// Register assigns the calling worker a reservation slot and a
// thread-local retired queue.
func (e *Engine) Register() *Thread {
	t := &Thread{e: e, res: e.table.Acquire()}
	e.mu.Lock()
	e.threads[t] = struct{}{}
	e.mu.Unlock()
	return t
}

// BeginOp announces the current epoch. Pointers read between BeginOp
// and EndOp stay valid until EndOp.
func (t *Thread) BeginOp() {
	if t.inOp {
		panic("ibr: BeginOp inside an active op")
	}
	t.inOp = true
	t.res.Announce(t.e.clock.Now())
}

// EndOp retracts the announcement and opportunistically drains when
// the retired queue has grown past the high watermark.
func (t *Thread) EndOp() {
	if !t.inOp {
		panic("ibr: EndOp without matching BeginOp")
	}
	t.res.Retract()
	t.inOp = false

	if t.q.len() > t.e.cfg.HighWatermark {
		t.drain()
	}
}

// Allocate constructs an object and stamps its birth epoch.
func Allocate[O Object](t *Thread, ctor func() O) O {
	o := ctor()
	h := o.ReclaimHeader()
	h.birth = t.e.clock.Now()
	h.retire = 0
	h.state = stateAlive
	t.e.allocated.Add(1)
	return o
}

// Retire stamps the retire epoch and queues the object. free runs
// exactly once, when the object becomes unreachable by every reader.
// The caller must have unlinked the object from the data structure
// already and must be inside an op.
func (t *Thread) Retire(o Object, free func(Object)) {
	if !t.inOp {
		panic("ibr: Retire outside an op")
	}
	h := o.ReclaimHeader()
	if h.state != stateAlive {
		panic(fmt.Sprintf("ibr: double retire (state=%d)", h.state))
	}
	h.retire = t.e.clock.Now()
	h.state = stateRetired

	t.q.push(retiredObj{obj: o, free: free, epoch: h.retire})
	t.e.retired.Add(1)

	n := t.e.retireCount.Add(1)
	if n%uint64(t.e.cfg.EpochFreq) == 0 {
		t.e.clock.Tick()
	}
	if t.q.len()%t.e.cfg.RetireBatch == 0 {
		t.drain()
	}
}

// drain frees the eligible prefix of the retired queue. Retire epochs
// are monotone within a thread, so the first blocked entry blocks the
// rest of the queue as well.
func (t *Thread) drain() {
	min := t.e.table.MinAnnounced()
	for {
		r, ok := t.q.peek()
		if !ok || r.epoch >= min {
			return
		}
		t.q.pop()
		t.e.release(r)
	}
}

func (e *Engine) release(r retiredObj) {
	h := r.obj.ReclaimHeader()
	if h.state != stateRetired {
		panic(fmt.Sprintf("ibr: freeing object in state %d", h.state))
	}
	h.state = stateFreed
	e.freed.Add(1)
	if r.free != nil {
		r.free(r.obj)
	}
}

// Detach drains what it can, hands the rest to the engine's orphan
// list and releases the thread index.
func (t *Thread) Detach() {
	if t.inOp {
		panic("ibr: Detach inside an active op")
	}
	t.drain()

	t.e.mu.Lock()
	for {
		r, ok := t.q.peek()
		if !ok {
			break
		}
		t.q.pop()
		t.e.orphans = append(t.e.orphans, r)
	}
	delete(t.e.threads, t)
	t.e.mu.Unlock()

	t.e.table.Release(t.res)
	t.res = nil
}

// DrainAll frees every retired object still held, across registered
// threads and orphans. With every thread retracted it frees
// unconditionally; while some announcement is still live (a client
// that exited mid-op) it frees only what the announcement permits and
// reports the remainder. The return value is what is still held
// afterwards: the leak figure.
func (e *Engine) DrainAll() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	min := e.table.MinAnnounced()

	for t := range e.threads {
		if t.inOp {
			continue
		}
		for {
			r, ok := t.q.peek()
			if !ok || r.epoch >= min {
				break
			}
			t.q.pop()
			e.release(r)
		}
	}

	kept := e.orphans[:0]
	for _, r := range e.orphans {
		if r.epoch >= min {
			kept = append(kept, r)
			continue
		}
		e.release(r)
	}
	e.orphans = kept

	return int(e.retired.Load() - e.freed.Load())
}

// Stats returns a snapshot of the lifecycle counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Allocated: e.allocated.Load(),
		Retired:   e.retired.Load(),
		Freed:     e.freed.Load(),
	}
}

// Held reports how many retired objects the engine still holds.
func (e *Engine) Held() int {
	return int(e.retired.Load() - e.freed.Load())
}
