package sglmap

import (
	"sync"
	"testing"
)

type stubMem struct {
	retired []*Entry
}

func (m *stubMem) Enter() {}
func (m *stubMem) Exit()  {}
func (m *stubMem) Alloc(key, val int64) *Entry {
	e := &Entry{}
	e.ResetEntry(key, val)
	return e
}
func (m *stubMem) Retire(e *Entry) { m.retired = append(m.retired, e) }

func TestInsertFindRemove(t *testing.T) {
	mp := New()
	m := &stubMem{}

	if !mp.Insert(m, 1, 100) {
		t.Fatal("insert of fresh key returned false")
	}
	if v, ok := mp.Find(m, 1); !ok || v != 100 {
		t.Errorf("Find = %d,%v, want 100,true", v, ok)
	}
	if !mp.Remove(m, 1) {
		t.Error("remove of present key returned false")
	}
	if _, ok := mp.Find(m, 1); ok {
		t.Error("removed key still found")
	}
}

func TestOverwriteRetiresOldEntry(t *testing.T) {
	mp := New()
	m := &stubMem{}

	mp.Insert(m, 7, 1)
	if mp.Insert(m, 7, 2) {
		t.Error("overwrite reported the key as new")
	}

	if len(m.retired) != 1 || m.retired[0].Val() != 1 {
		t.Fatalf("retired %v, want the old value entry", m.retired)
	}
	if v, _ := mp.Find(m, 7); v != 2 {
		t.Errorf("value = %d after overwrite, want 2", v)
	}
}

func TestRemoveRetiresEntry(t *testing.T) {
	mp := New()
	m := &stubMem{}

	mp.Insert(m, 3, 30)
	mp.Remove(m, 3)
	if len(m.retired) != 1 || m.retired[0].Key() != 3 {
		t.Errorf("retired %v, want entry for key 3", m.retired)
	}
	if mp.Remove(m, 3) {
		t.Error("second remove returned true")
	}
	if len(m.retired) != 1 {
		t.Error("absent-key remove retired an entry")
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	mp := New()
	var wg sync.WaitGroup

	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			m := &stubMem{}
			for i := 0; i < 3000; i++ {
				k := int64((id*31 + i) % 100)
				switch i % 3 {
				case 0:
					mp.Insert(m, k, int64(i))
				case 1:
					mp.Find(m, k)
				default:
					mp.Remove(m, k)
				}
			}
		}(w)
	}
	wg.Wait()

	if mp.Len() > 100 {
		t.Errorf("len = %d, want at most the key range", mp.Len())
	}
}
