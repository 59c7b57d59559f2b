package memory

import (
	"sync"
	"sync/atomic"
)

// Pool hands out nodes for the benchmark clients and takes freed ones
// back from the reclamation engines. It counts how much of the demand
// the recycled population covered, which the harness reports at
// shutdown: a healthy run converges on a small node population that
// keeps cycling, a leaky one keeps constructing.
type Pool[T any] struct {
	p sync.Pool

	constructed atomic.Uint64
	served      atomic.Uint64
	returned    atomic.Uint64
}

// Stats is a snapshot of pool traffic.
type Stats struct {
	Constructed uint64 // built fresh by the constructor
	Recycled    uint64 // served from a previously freed node
	Returned    uint64 // handed back by an engine free
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	pl := &Pool[T]{}
	pl.p.New = func() any {
		pl.constructed.Add(1)
		return ctor()
	}
	return pl
}

func (p *Pool[T]) Get() *T {
	p.served.Add(1)
	return p.p.Get().(*T)
}

// Put returns a node the engine has finished with. Callers must not
// hand back nodes a reader could still hold; the engines guarantee
// that by construction.
func (p *Pool[T]) Put(v *T) {
	p.returned.Add(1)
	p.p.Put(v)
}

// Stats reports the pool's traffic so far. Recycled is derived: every
// Get that did not hit the constructor was served off a returned node.
func (p *Pool[T]) Stats() Stats {
	served := p.served.Load()
	constructed := p.constructed.Load()
	return Stats{
		Constructed: constructed,
		Recycled:    served - constructed,
		Returned:    p.returned.Load(),
	}
}
