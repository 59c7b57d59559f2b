package bench

import (
	"testing"

	"smr/domain/bonsai"
	"smr/domain/sglmap"
	"smr/infra/epoch"
	"smr/infra/memory"
	"smr/reclaim/hyaline"
	"smr/reclaim/ibr"
)

func BenchmarkIBRTreeInsertRemove(b *testing.B) {
	eng := ibr.New(epoch.NewClock(0), epoch.NewTable(2), ibr.Config{})
	tree := bonsai.NewTree()
	pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
	m := newIBRTreeMem(eng, pool)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := int64(i % 1024)
		tree.Insert(m, k)
		tree.Remove(m, k)
	}
	b.StopTimer()
	m.close()
	eng.DrainAll()
}

func BenchmarkHyalineMapMixed(b *testing.B) {
	eng := hyaline.New(1)
	mp := sglmap.New()
	pool := memory.NewPool(func() *sglmap.Entry { return &sglmap.Entry{} })
	m := newHyalineMapMem(eng, 0, pool)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := int64(i % 1024)
		switch i % 3 {
		case 0:
			mp.Insert(m, k, k)
		case 1:
			mp.Find(m, k)
		default:
			mp.Remove(m, k)
		}
	}
	b.StopTimer()
	eng.DrainAll()
}

func BenchmarkHyalineSTreeChurn(b *testing.B) {
	eng := hyaline.NewS(1, 8)
	tree := bonsai.NewTree()
	pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
	m := newHyalineSTreeMem(eng, 0, pool)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		k := int64(i % 512)
		tree.Insert(m, k)
		tree.Remove(m, k)
	}
	b.StopTimer()
	m.close()
	eng.DrainAll()
}

func BenchmarkRunParallelWorkers(b *testing.B) {
	_, err := Run(Config{
		Threads:  4,
		Ops:      b.N,
		KeyRange: 1023,
		Scheme:   SchemeHyaline,
		Client:   ClientTree,
		Seed:     1,
	})
	if err != nil {
		b.Fatal(err)
	}
}
