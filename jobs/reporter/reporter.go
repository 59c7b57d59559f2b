// Package reporter replays journaled benchmark results to Kafka. It
// scans the results store for records the broker has not acked and
// publishes them with a sync producer, so a crashed or offline run
// still surfaces its numbers eventually.
package reporter

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"

	"smr/infra/results"
)

type Reporter struct {
	store    *results.Store
	producer sarama.SyncProducer
	topic    string
}

func New(store *results.Store, brokers []string, topic string) (*Reporter, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}

	return &Reporter{
		store:    store,
		producer: producer,
		topic:    topic,
	}, nil
}

// Start replays pending results on a coarse ticker until ctx is
// cancelled.
func (r *Reporter) Start(ctx context.Context) {
	log.Println("[reporter] started")

	go func() {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.ReplayOnce()
			}
		}
	}()
}

// ReplayOnce walks the pending records once, publishing each and
// advancing its state. Publish failures leave the record pending for
// the next pass.
func (r *Reporter) ReplayOnce() {
	_ = r.store.ScanPending(func(runID uint64, rec results.Record) error {
		if err := r.store.UpdateState(runID, results.StateSent, rec.Retries); err != nil {
			return err
		}

		msg := &sarama.ProducerMessage{
			Topic: r.topic,
			Key:   sarama.StringEncoder(fmt.Sprintf("run-%d", runID)),
			Value: sarama.ByteEncoder(rec.Payload),
		}
		if _, _, err := r.producer.SendMessage(msg); err != nil {
			_ = r.store.UpdateState(runID, results.StateSent, rec.Retries+1)
			return nil // retry on a later pass
		}

		return r.store.UpdateState(runID, results.StateAcked, rec.Retries)
	})
}

func (r *Reporter) Close() error {
	return r.producer.Close()
}
