// Package kafka holds the best-effort live publisher for benchmark
// results. The durable path goes through the results journal and the
// reporter job; this publisher exists for dashboards that want the
// number the moment the run ends. A failed publish here is logged and
// forgotten — the reporter replays the journaled copy.
package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher writes run results keyed by run ID, so a topic compacted
// on key keeps exactly one payload per run even after replays.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// Publish sends one run's serialized result under its run key.
func (p *Publisher) Publish(ctx context.Context, runID uint64, payload []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   runKey(runID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka: publishing run %d: %w", runID, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// runKey matches the reporter's key scheme so both paths land on the
// same compaction slot.
func runKey(runID uint64) []byte {
	return fmt.Appendf(nil, "run-%d", runID)
}
