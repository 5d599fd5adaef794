package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 10ms
	WriteTimeout time.Duration // default 5s
	Async        bool
}

// Producer is a thin wrapper around segmentio/kafka-go Writer. Messages are
// keyed, so every event for one key lands on the same partition in order.
type Producer struct {
	w *kafka.Writer
}

func NewProducerFromConfig(c ProducerConfig) *Producer {
	bt := c.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	wt := c.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		WriteTimeout:           wt,
		RequiredAcks:           kafka.RequireOne,
		Async:                  c.Async,
		AllowAutoTopicCreation: true,
	}

	return &Producer{w: w}
}

func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	return p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p *Producer) Close() error { return p.w.Close() }
