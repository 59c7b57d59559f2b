// Package bench runs the reclamation benchmarks: it spawns workers
// over a scheme/client pairing, drives a mixed workload, and measures
// throughput and the blocks still held after the shutdown drain.
package bench

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"smr/domain/bonsai"
	"smr/domain/sglmap"
	"smr/infra/epoch"
	"smr/infra/memory"
	"smr/reclaim/hyaline"
	"smr/reclaim/ibr"
)

// Scheme selects the reclamation engine under test.
type Scheme string

const (
	SchemeIBR      Scheme = "ibr"
	SchemeHyaline  Scheme = "hyaline"
	SchemeHyalineS Scheme = "hyaline-s"
)

// Client selects the data structure driving the engine.
type Client string

const (
	ClientTree Client = "tree"
	ClientMap  Client = "map"
)

// Config describes one benchmark run.
type Config struct {
	Threads  int
	Ops      int
	Mix      [3]int // insert/remove/find percentages, summing to 100
	KeyRange int64  // keys are drawn uniformly from [0, KeyRange]
	Scheme   Scheme
	Client   Client
	Seed     int64

	EpochInterval time.Duration // IBR background tick; 0 disables
	RetireBatch   int           // IBR drain threshold R
	Slots         int           // Hyaline slot count S
	BatchSize     int           // Hyaline-S retire batch
}

func (c Config) withDefaults() Config {
	if c.Threads <= 0 {
		c.Threads = 4
	}
	if c.Ops <= 0 {
		c.Ops = 100_000
	}
	if c.KeyRange <= 0 {
		c.KeyRange = 999
	}
	if c.Scheme == "" {
		c.Scheme = SchemeIBR
	}
	if c.Client == "" {
		c.Client = ClientTree
	}
	if c.Mix == [3]int{} {
		if c.Client == ClientMap {
			c.Mix = [3]int{34, 33, 33}
		} else {
			c.Mix = [3]int{50, 50, 0}
		}
	}
	if c.Slots <= 0 {
		c.Slots = runtime.GOMAXPROCS(0)
	}
	return c
}

func (c Config) validate() error {
	if c.Mix[0]+c.Mix[1]+c.Mix[2] != 100 {
		return fmt.Errorf("bench: mix %v does not sum to 100", c.Mix)
	}
	switch c.Scheme {
	case SchemeIBR, SchemeHyaline, SchemeHyalineS:
	default:
		return fmt.Errorf("bench: unknown scheme %q", c.Scheme)
	}
	switch c.Client {
	case ClientTree, ClientMap:
	default:
		return fmt.Errorf("bench: unknown client %q", c.Client)
	}
	return nil
}

// Result is what one run produced. It serializes for the results
// journal and the Kafka payloads.
type Result struct {
	Scheme     Scheme        `json:"scheme"`
	Client     Client        `json:"client"`
	Threads    int           `json:"threads"`
	Ops        int           `json:"ops"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Throughput float64       `json:"throughput_ops_sec"`
	Leaked     int           `json:"leaked_blocks"`
}

// session is the per-worker wiring Run hands each goroutine, plus the
// engine-wide drain used at shutdown.
type session struct {
	worker func(id int) workerOps
	drain  func() int
}

// workerOps is the op set a worker loops over.
type workerOps struct {
	insert func(key, val int64)
	remove func(key int64)
	find   func(key int64)
	close  func()
}

// Run executes one benchmark and reports the measurements.
func Run(cfg Config) (Result, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := buildSession(ctx, cfg)

	var wg sync.WaitGroup
	perWorker := cfg.Ops / cfg.Threads

	start := time.Now()
	for w := 0; w < cfg.Threads; w++ {
		ops := perWorker
		if w == 0 {
			ops += cfg.Ops % cfg.Threads
		}
		wg.Add(1)
		go func(id, ops int) {
			defer wg.Done()
			runWorker(s.worker(id), cfg, id, ops)
		}(w, ops)
	}
	wg.Wait()
	elapsed := time.Since(start)

	leaked := s.drain()

	return Result{
		Scheme:     cfg.Scheme,
		Client:     cfg.Client,
		Threads:    cfg.Threads,
		Ops:        cfg.Ops,
		Elapsed:    elapsed,
		Throughput: float64(cfg.Ops) / elapsed.Seconds(),
		Leaked:     leaked,
	}, nil
}

func runWorker(ops workerOps, cfg Config, id, n int) {
	defer ops.close()

	rng := rand.New(rand.NewSource(cfg.Seed + int64(id)))
	span := cfg.KeyRange + 1

	for i := 0; i < n; i++ {
		key := rng.Int63n(span)
		switch p := rng.Intn(100); {
		case p < cfg.Mix[0]:
			ops.insert(key, rng.Int63n(span))
		case p < cfg.Mix[0]+cfg.Mix[1]:
			ops.remove(key)
		default:
			ops.find(key)
		}
	}
}

func buildSession(ctx context.Context, cfg Config) session {
	switch cfg.Scheme {
	case SchemeIBR:
		clock := epoch.NewClock(0)
		table := epoch.NewTable(cfg.Threads)
		eng := ibr.New(clock, table, ibr.Config{RetireBatch: cfg.RetireBatch})
		if cfg.EpochInterval > 0 {
			clock.StartTicker(ctx, cfg.EpochInterval)
		}
		return ibrSession(eng, cfg)

	case SchemeHyaline:
		eng := hyaline.New(cfg.Slots)
		return hyalineSession(eng, cfg)

	default:
		eng := hyaline.NewS(cfg.Slots, cfg.BatchSize)
		return hyalineSSession(eng, cfg)
	}
}

func ibrSession(eng *ibr.Engine, cfg Config) session {
	if cfg.Client == ClientTree {
		tree := bonsai.NewTree()
		pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
		return session{
			drain: func() int {
				leaked := eng.DrainAll()
				logPoolStats(pool.Stats())
				return leaked
			},
			worker: func(int) workerOps {
				m := newIBRTreeMem(eng, pool)
				return treeOps(tree, m, m.close)
			},
		}
	}

	mp := sglmap.New()
	pool := memory.NewPool(func() *sglmap.Entry { return &sglmap.Entry{} })
	return session{
		drain: func() int {
			leaked := eng.DrainAll()
			logPoolStats(pool.Stats())
			return leaked
		},
		worker: func(int) workerOps {
			m := newIBRMapMem(eng, pool)
			return mapOps(mp, m, m.close)
		},
	}
}

func hyalineSession(eng *hyaline.Engine, cfg Config) session {
	drain := func(stats func() memory.Stats) func() int {
		return func() int {
			leaked := eng.DrainAll()
			if stuck := eng.StuckSlots(); len(stuck) > 0 {
				log.Printf("[bench] hyaline slots still referenced at shutdown: %v", stuck)
			}
			logPoolStats(stats())
			return leaked
		}
	}

	if cfg.Client == ClientTree {
		tree := bonsai.NewTree()
		pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
		return session{
			drain: drain(pool.Stats),
			worker: func(id int) workerOps {
				m := newHyalineTreeMem(eng, id%eng.Slots(), pool)
				return treeOps(tree, m, nil)
			},
		}
	}

	mp := sglmap.New()
	pool := memory.NewPool(func() *sglmap.Entry { return &sglmap.Entry{} })
	return session{
		drain: drain(pool.Stats),
		worker: func(id int) workerOps {
			m := newHyalineMapMem(eng, id%eng.Slots(), pool)
			return mapOps(mp, m, nil)
		},
	}
}

func hyalineSSession(eng *hyaline.SEngine, cfg Config) session {
	drain := func(stats func() memory.Stats) func() int {
		return func() int {
			leaked := eng.DrainAll()
			if stuck := eng.StuckSlots(); len(stuck) > 0 {
				log.Printf("[bench] hyaline-s slots still referenced at shutdown: %v", stuck)
			}
			logPoolStats(stats())
			return leaked
		}
	}

	if cfg.Client == ClientTree {
		tree := bonsai.NewTree()
		pool := memory.NewPool(func() *bonsai.Node { return &bonsai.Node{} })
		return session{
			drain: drain(pool.Stats),
			worker: func(id int) workerOps {
				m := newHyalineSTreeMem(eng, id%eng.Slots(), pool)
				return treeOps(tree, m, m.close)
			},
		}
	}

	mp := sglmap.New()
	pool := memory.NewPool(func() *sglmap.Entry { return &sglmap.Entry{} })
	return session{
		drain: drain(pool.Stats),
		worker: func(id int) workerOps {
			m := newHyalineSMapMem(eng, id%eng.Slots(), pool)
			return mapOps(mp, m, m.close)
		},
	}
}

// logPoolStats surfaces how much of the node demand the recycled
// population covered.
func logPoolStats(s memory.Stats) {
	log.Printf("[bench] node pool: %d constructed, %d recycled, %d returned",
		s.Constructed, s.Recycled, s.Returned)
}

func treeOps(t *bonsai.Tree, m bonsai.Mem, teardown func()) workerOps {
	if teardown == nil {
		teardown = func() {}
	}
	return workerOps{
		insert: func(key, _ int64) { t.Insert(m, key) },
		remove: func(key int64) { t.Remove(m, key) },
		find:   func(key int64) { t.Find(m, key) },
		close:  teardown,
	}
}

func mapOps(mp *sglmap.Map, m sglmap.Mem, teardown func()) workerOps {
	if teardown == nil {
		teardown = func() {}
	}
	return workerOps{
		insert: func(key, val int64) { mp.Insert(m, key, val) },
		remove: func(key int64) { mp.Remove(m, key) },
		find:   func(key int64) { mp.Find(m, key) },
		close:  teardown,
	}
}
