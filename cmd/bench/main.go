// Command bench runs one reclamation benchmark and prints its
// throughput and leak figures.
//
// Usage:
//
//	bench [threads]
//
// The single positional argument is the worker count (default 4).
// Everything else comes from the environment:
//
//	SMR_SCHEME            ibr | hyaline | hyaline-s   (default ibr)
//	SMR_CLIENT            tree | map                  (default tree)
//	SMR_OPS               total operations            (default 100000)
//	SMR_KEY_RANGE         inclusive key upper bound   (default 999)
//	SMR_EPOCH_INTERVAL_MS IBR background tick         (default 100)
//	SMR_RETIRE_BATCH      IBR drain threshold R       (default 10)
//	SMR_HYALINE_SLOTS     Hyaline slot count S        (default GOMAXPROCS)
//	SMR_HYALINE_BATCH     Hyaline-S retire batch      (default 8)
//	SMR_RESULTS_DIR       pebble results journal; unset disables
//	SMR_BROKERS           comma-separated Kafka brokers; unset disables
//	SMR_TOPIC             Kafka topic                 (default smr.results)
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"smr/bench"
	"smr/infra/kafka"
	"smr/infra/results"
	"smr/infra/sequence"
	"smr/jobs/reporter"
)

func main() {
	threads := 4
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 1 {
			log.Fatalf("[bench] bad thread count %q", os.Args[1])
		}
		threads = n
	}

	cfg := bench.Config{
		Threads:       threads,
		Ops:           envInt("SMR_OPS", 100_000),
		KeyRange:      int64(envInt("SMR_KEY_RANGE", 999)),
		Scheme:        bench.Scheme(envStr("SMR_SCHEME", "ibr")),
		Client:        bench.Client(envStr("SMR_CLIENT", "tree")),
		Seed:          time.Now().UnixNano(),
		EpochInterval: time.Duration(envInt("SMR_EPOCH_INTERVAL_MS", 100)) * time.Millisecond,
		RetireBatch:   envInt("SMR_RETIRE_BATCH", 0),
		Slots:         envInt("SMR_HYALINE_SLOTS", 0),
		BatchSize:     envInt("SMR_HYALINE_BATCH", 0),
	}

	res, err := bench.Run(cfg)
	if err != nil {
		log.Fatalf("[bench] %v", err)
	}

	fmt.Printf("Threads: %d | Throughput: %.0f ops/sec\n", res.Threads, res.Throughput)
	fmt.Printf("Leaked: %d blocks\n", res.Leaked)

	if dir := os.Getenv("SMR_RESULTS_DIR"); dir != "" {
		if err := record(dir, res); err != nil {
			log.Fatalf("[bench] recording result: %v", err)
		}
	}
}

// record journals the result and, when brokers are configured,
// publishes it: once best-effort on the live producer, once durably
// via the reporter replay.
func record(dir string, res bench.Result) error {
	store, err := results.Open(dir)
	if err != nil {
		return err
	}
	defer store.Close()

	seq, err := sequence.Recover(store)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(res)
	if err != nil {
		return err
	}
	runID := seq.Next()
	if err := store.Append(runID, payload); err != nil {
		return err
	}

	brokers := os.Getenv("SMR_BROKERS")
	if brokers == "" {
		return nil
	}
	addrs := strings.Split(brokers, ",")
	topic := envStr("SMR_TOPIC", "smr.results")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	live := kafka.NewPublisher(addrs, topic)
	if err := live.Publish(ctx, runID, payload); err != nil {
		log.Printf("[bench] live publish failed, reporter will replay: %v", err)
	}
	_ = live.Close()

	rep, err := reporter.New(store, addrs, topic)
	if err != nil {
		return err
	}
	defer rep.Close()
	rep.ReplayOnce()

	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("[bench] bad %s=%q", key, v)
	}
	return n
}
