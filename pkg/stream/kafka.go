// Package stream publishes emitted snapshots to Kafka.
package stream

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/uhyunpark/mbp10/pkg/mbp"
)

const defaultWriteTimeout = 5 * time.Second

// Publisher is an mbp.Sink writing one message per snapshot. Messages are
// keyed by run id so a run stays on one partition, in emission order.
type Publisher struct {
	writer  *kafka.Writer
	runID   string
	base    context.Context
	timeout time.Duration
}

// NewPublisher bounds every publish by ctx and a per-write timeout.
func NewPublisher(ctx context.Context, brokers []string, topic, runID string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		runID:   runID,
		base:    ctx,
		timeout: defaultWriteTimeout,
	}
}

func (p *Publisher) Write(s mbp.Snapshot) error {
	msg, err := Message(s, p.runID)
	if err != nil {
		return err
	}
	ctx, cancel := p.writeContext()
	defer cancel()
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish snapshot %d: %w", s.Seq, err)
	}
	return nil
}

func (p *Publisher) writeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(p.base, p.timeout)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Message builds the Kafka message for s.
func Message(s mbp.Snapshot, runID string) (kafka.Message, error) {
	val, err := json.Marshal(s)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode snapshot %d: %w", s.Seq, err)
	}
	seq := make([]byte, 8)
	binary.BigEndian.PutUint64(seq, s.Seq)
	return kafka.Message{
		Key:   []byte(runID),
		Value: val,
		Headers: []kafka.Header{
			{Key: "seq", Value: seq},
			{Key: "ts_event", Value: []byte(s.TsEvent)},
		},
	}, nil
}

var _ mbp.Sink = (*Publisher)(nil)
