package bench

import (
	"context"
	"testing"
	"time"

	"smr/domain/bonsai"
	"smr/infra/epoch"
	"smr/infra/memory"
	"smr/reclaim/hyaline"
	"smr/reclaim/ibr"
)

func TestRunEveryCombination(t *testing.T) {
	schemes := []Scheme{SchemeIBR, SchemeHyaline, SchemeHyalineS}
	clients := []Client{ClientTree, ClientMap}

	for _, sc := range schemes {
		for _, cl := range clients {
			t.Run(string(sc)+"/"+string(cl), func(t *testing.T) {
				res, err := Run(Config{
					Threads:  4,
					Ops:      20_000,
					KeyRange: 255,
					Scheme:   sc,
					Client:   cl,
					Seed:     42,
				})
				if err != nil {
					t.Fatalf("Run: %v", err)
				}
				if res.Throughput <= 0 {
					t.Errorf("throughput = %f, want > 0", res.Throughput)
				}
				if res.Leaked != 0 {
					t.Errorf("leaked = %d blocks after clean shutdown, want 0", res.Leaked)
				}
			})
		}
	}
}

func TestRunSixteenThreadHyalineMap(t *testing.T) {
	res, err := Run(Config{
		Threads:  16,
		Ops:      50_000,
		Mix:      [3]int{34, 33, 33},
		KeyRange: 999,
		Scheme:   SchemeHyaline,
		Client:   ClientMap,
		Slots:    16,
		Seed:     7,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Leaked != 0 {
		t.Errorf("leaked = %d, want 0", res.Leaked)
	}
}

func TestRunRejectsBadConfig(t *testing.T) {
	if _, err := Run(Config{Mix: [3]int{50, 50, 50}}); err == nil {
		t.Error("mix not summing to 100 was accepted")
	}
	if _, err := Run(Config{Scheme: "qsbr"}); err == nil {
		t.Error("unknown scheme was accepted")
	}
	if _, err := Run(Config{Client: "queue"}); err == nil {
		t.Error("unknown client was accepted")
	}
}

// Insert a keyspace, remove all of it, and check the drain accounts
// for every retired node.
func TestIBRTreeFillThenEmpty(t *testing.T) {
	clock := epoch.NewClock(0)
	eng := ibr.New(clock, epoch.NewTable(2), ibr.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	clock.StartTicker(ctx, time.Millisecond)

	tree := bonsai.NewTree()
	pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
	m := newIBRTreeMem(eng, pool)

	const n = 10_000
	for k := int64(0); k < n; k++ {
		if !tree.Insert(m, k) {
			t.Fatalf("insert(%d) failed", k)
		}
	}
	for k := int64(0); k < n; k++ {
		if !tree.Remove(m, k) {
			t.Fatalf("remove(%d) failed", k)
		}
	}
	for _, k := range []int64{0, 1, n / 2, n - 1} {
		if tree.Find(m, k) {
			t.Errorf("find(%d) = true after removal", k)
		}
	}
	m.close()

	if leaked := eng.DrainAll(); leaked != 0 {
		t.Errorf("leaked = %d, want 0", leaked)
	}
	s := eng.Stats()
	if s.Retired != n || s.Freed != n {
		t.Errorf("stats %+v, want retired = freed = %d", s, n)
	}
}

func TestHyalineTreeSlotRefsReturnToZero(t *testing.T) {
	eng := hyaline.New(8)
	tree := bonsai.NewTree()
	pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })

	m := newHyalineTreeMem(eng, 3, pool)
	for k := int64(0); k < 2000; k++ {
		tree.Insert(m, k)
	}
	for k := int64(0); k < 2000; k++ {
		tree.Remove(m, k)
	}

	for s := 0; s < eng.Slots(); s++ {
		if refs := eng.SlotRefs(s); refs != 0 {
			t.Errorf("slot %d refs = %d, want 0", s, refs)
		}
	}
	if leaked := eng.DrainAll(); leaked != 0 {
		t.Errorf("leaked = %d, want 0", leaked)
	}
}

func TestMixDefaultsFollowClient(t *testing.T) {
	tree := Config{Client: ClientTree}.withDefaults()
	if tree.Mix != [3]int{50, 50, 0} {
		t.Errorf("tree mix = %v", tree.Mix)
	}
	mp := Config{Client: ClientMap}.withDefaults()
	if mp.Mix != [3]int{34, 33, 33} {
		t.Errorf("map mix = %v", mp.Mix)
	}
}
