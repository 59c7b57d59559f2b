package bench

import (
	"smr/domain/bonsai"
	"smr/domain/sglmap"
	"smr/infra/memory"
	"smr/reclaim/hyaline"
	"smr/reclaim/ibr"
)

// The adapters below satisfy the clients' Mem interfaces, one per
// scheme and client. Each is owned by a single worker. Freed nodes go
// back to a shared typed pool so the run recycles its population.

// -------------------- IBR --------------------

type ibrTreeMem struct {
	th   *ibr.Thread
	pool *memory.Pool[bonsai.Node]
	free func(ibr.Object)
}

func newIBRTreeMem(e *ibr.Engine, pool *memory.Pool[bonsai.Node]) *ibrTreeMem {
	return &ibrTreeMem{
		th:   e.Register(),
		pool: pool,
		free: func(o ibr.Object) { pool.Put(o.(*bonsai.Node)) },
	}
}

func (m *ibrTreeMem) Enter() { m.th.BeginOp() }
func (m *ibrTreeMem) Exit()  { m.th.EndOp() }

func (m *ibrTreeMem) Alloc(key int64) *bonsai.Node {
	return ibr.Allocate(m.th, func() *bonsai.Node {
		n := m.pool.Get()
		n.ResetNode(key)
		return n
	})
}

func (m *ibrTreeMem) Retire(n *bonsai.Node) { m.th.Retire(n, m.free) }
func (m *ibrTreeMem) close()                { m.th.Detach() }

type ibrMapMem struct {
	th   *ibr.Thread
	pool *memory.Pool[sglmap.Entry]
	free func(ibr.Object)
}

func newIBRMapMem(e *ibr.Engine, pool *memory.Pool[sglmap.Entry]) *ibrMapMem {
	return &ibrMapMem{
		th:   e.Register(),
		pool: pool,
		free: func(o ibr.Object) { pool.Put(o.(*sglmap.Entry)) },
	}
}

func (m *ibrMapMem) Enter() { m.th.BeginOp() }
func (m *ibrMapMem) Exit()  { m.th.EndOp() }

func (m *ibrMapMem) Alloc(key, val int64) *sglmap.Entry {
	return ibr.Allocate(m.th, func() *sglmap.Entry {
		e := m.pool.Get()
		e.ResetEntry(key, val)
		return e
	})
}

func (m *ibrMapMem) Retire(e *sglmap.Entry) { m.th.Retire(e, m.free) }
func (m *ibrMapMem) close()                 { m.th.Detach() }

// -------------------- Hyaline --------------------

type hyalineTreeMem struct {
	e    *hyaline.Engine
	slot int
	h    hyaline.Handle
	pool *memory.Pool[bonsai.Node]
}

func newHyalineTreeMem(e *hyaline.Engine, slot int, pool *memory.Pool[bonsai.Node]) *hyalineTreeMem {
	e.CheckSlot(slot)
	return &hyalineTreeMem{e: e, slot: slot, pool: pool}
}

func (m *hyalineTreeMem) Enter() { m.h = m.e.Enter(m.slot) }
func (m *hyalineTreeMem) Exit()  { m.e.Leave(m.h); m.h = hyaline.Handle{} }

func (m *hyalineTreeMem) Alloc(key int64) *bonsai.Node {
	n := m.pool.Get()
	n.ResetNode(key)
	return n
}

func (m *hyalineTreeMem) Retire(n *bonsai.Node) {
	m.e.Retire(m.slot, &n.Link, func() { m.pool.Put(n) })
}

type hyalineMapMem struct {
	e    *hyaline.Engine
	slot int
	h    hyaline.Handle
	pool *memory.Pool[sglmap.Entry]
}

func newHyalineMapMem(e *hyaline.Engine, slot int, pool *memory.Pool[sglmap.Entry]) *hyalineMapMem {
	e.CheckSlot(slot)
	return &hyalineMapMem{e: e, slot: slot, pool: pool}
}

func (m *hyalineMapMem) Enter() { m.h = m.e.Enter(m.slot) }
func (m *hyalineMapMem) Exit()  { m.e.Leave(m.h); m.h = hyaline.Handle{} }

func (m *hyalineMapMem) Alloc(key, val int64) *sglmap.Entry {
	e := m.pool.Get()
	e.ResetEntry(key, val)
	return e
}

func (m *hyalineMapMem) Retire(en *sglmap.Entry) {
	m.e.Retire(m.slot, &en.Link, func() { m.pool.Put(en) })
}

// -------------------- Hyaline-S --------------------

type hyalineSTreeMem struct {
	e    *hyaline.SEngine
	th   *hyaline.SThread
	slot int
	h    hyaline.SHandle
	pool *memory.Pool[bonsai.Node]
}

func newHyalineSTreeMem(e *hyaline.SEngine, slot int, pool *memory.Pool[bonsai.Node]) *hyalineSTreeMem {
	return &hyalineSTreeMem{e: e, th: e.Register(), slot: slot, pool: pool}
}

func (m *hyalineSTreeMem) Enter() { m.h = m.e.Enter(m.slot) }
func (m *hyalineSTreeMem) Exit()  { m.e.Leave(m.h); m.h = hyaline.SHandle{} }

func (m *hyalineSTreeMem) Alloc(key int64) *bonsai.Node {
	n := m.pool.Get()
	n.ResetNode(key)
	m.e.Stamp(&n.SLink)
	return n
}

func (m *hyalineSTreeMem) Retire(n *bonsai.Node) {
	m.th.Retire(m.slot, &n.SLink, func() { m.pool.Put(n) })
}

func (m *hyalineSTreeMem) close() { m.th.Detach(m.slot) }

type hyalineSMapMem struct {
	e    *hyaline.SEngine
	th   *hyaline.SThread
	slot int
	h    hyaline.SHandle
	pool *memory.Pool[sglmap.Entry]
}

func newHyalineSMapMem(e *hyaline.SEngine, slot int, pool *memory.Pool[sglmap.Entry]) *hyalineSMapMem {
	return &hyalineSMapMem{e: e, th: e.Register(), slot: slot, pool: pool}
}

func (m *hyalineSMapMem) Enter() { m.h = m.e.Enter(m.slot) }
func (m *hyalineSMapMem) Exit()  { m.e.Leave(m.h); m.h = hyaline.SHandle{} }

func (m *hyalineSMapMem) Alloc(key, val int64) *sglmap.Entry {
	e := m.pool.Get()
	e.ResetEntry(key, val)
	m.e.Stamp(&e.SLink)
	return e
}

func (m *hyalineSMapMem) Retire(en *sglmap.Entry) {
	m.th.Retire(m.slot, &en.SLink, func() { m.pool.Put(en) })
}

func (m *hyalineSMapMem) close() { m.th.Detach(m.slot) }
