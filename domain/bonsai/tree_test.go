package bonsai

import (
	"math/rand"
	"sync"
	"testing"
)

// stubMem frames nothing and keeps retired nodes for inspection.
type stubMem struct {
	enters  int
	exits   int
	retired []*Node
}

func (m *stubMem) Enter() { m.enters++ }
func (m *stubMem) Exit()  { m.exits++ }
func (m *stubMem) Alloc(key int64) *Node {
	n := &Node{}
	n.ResetNode(key)
	return n
}
func (m *stubMem) Retire(n *Node) { m.retired = append(m.retired, n) }

func TestInsertFindRemove(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}

	if !tr.Insert(m, 10) {
		t.Fatal("insert of fresh key returned false")
	}
	if !tr.Find(m, 10) {
		t.Error("inserted key not found")
	}
	if !tr.Remove(m, 10) {
		t.Error("remove of present key returned false")
	}
	if tr.Find(m, 10) {
		t.Error("removed key still found")
	}
	if len(m.retired) != 1 || m.retired[0].Key() != 10 {
		t.Errorf("retired = %v, want exactly the removed node", m.retired)
	}
}

func TestInsertDuplicateIgnored(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}

	tr.Insert(m, 5)
	if tr.Insert(m, 5) {
		t.Error("duplicate insert returned true")
	}
	if tr.Size() != 1 {
		t.Errorf("size = %d after duplicate insert, want 1", tr.Size())
	}
}

func TestRemoveMissingKey(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}

	tr.Insert(m, 1)
	if tr.Remove(m, 2) {
		t.Error("remove of absent key returned true")
	}
	if len(m.retired) != 0 {
		t.Error("absent-key remove retired a node")
	}
}

func TestEveryOpIsFramed(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}

	tr.Insert(m, 1)
	tr.Find(m, 1)
	tr.Remove(m, 1)

	if m.enters != 3 || m.exits != 3 {
		t.Errorf("enters/exits = %d/%d, want 3/3", m.enters, m.exits)
	}
}

func TestTwoChildRemovalRetiresUnlinkedNode(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}

	for _, k := range []int64{50, 30, 70, 60, 80, 65} {
		tr.Insert(m, k)
	}
	if !tr.Remove(m, 50) {
		t.Fatal("remove of root failed")
	}

	if len(m.retired) != 1 || m.retired[0].Key() != 50 {
		t.Fatalf("retired %v, want the node holding 50", m.retired)
	}
	for _, k := range []int64{30, 70, 60, 80, 65} {
		if !tr.Find(m, k) {
			t.Errorf("key %d lost by successor relocation", k)
		}
	}
	if tr.Find(m, 50) {
		t.Error("removed key 50 still reachable")
	}
	if tr.Size() != 5 {
		t.Errorf("size = %d, want 5", tr.Size())
	}
}

func TestRandomizedShadowModel(t *testing.T) {
	tr := NewTree()
	m := &stubMem{}
	rng := rand.New(rand.NewSource(1))
	shadow := map[int64]bool{}

	for i := 0; i < 20000; i++ {
		k := int64(rng.Intn(200))
		switch rng.Intn(3) {
		case 0:
			if tr.Insert(m, k) == shadow[k] {
				t.Fatalf("insert(%d) disagreed with model", k)
			}
			shadow[k] = true
		case 1:
			if tr.Remove(m, k) != shadow[k] {
				t.Fatalf("remove(%d) disagreed with model", k)
			}
			delete(shadow, k)
		default:
			if tr.Find(m, k) != shadow[k] {
				t.Fatalf("find(%d) disagreed with model", k)
			}
		}
	}
	if tr.Size() != len(shadow) {
		t.Errorf("size = %d, model has %d", tr.Size(), len(shadow))
	}
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	tr := NewTree()
	seed := &stubMem{}
	for k := int64(0); k < 512; k++ {
		tr.Insert(seed, k)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m := &stubMem{}
			rng := rand.New(rand.NewSource(int64(id)))
			for {
				select {
				case <-stop:
					return
				default:
					tr.Find(m, int64(rng.Intn(512)))
				}
			}
		}(r)
	}

	w := &stubMem{}
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 5000; i++ {
		k := int64(rng.Intn(512))
		if rng.Intn(2) == 0 {
			tr.Remove(w, k)
		} else {
			tr.Insert(w, k)
		}
	}
	close(stop)
	wg.Wait()
}
