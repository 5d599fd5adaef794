package crm

import (
	"context"
	"encoding/json"

	"github.com/jmehdipour/crm-gateway/internal/model"
)

const ActivityTopic = "crm.activity"

// EventPublisher ships activity events out of the request path.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.ActivityLog) error
}

type keyedWriter interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// KafkaPublisher encodes events as JSON keyed by customer ID.
type KafkaPublisher struct {
	w keyedWriter
}

var _ EventPublisher = (*KafkaPublisher)(nil)

func NewKafkaPublisher(w keyedWriter) *KafkaPublisher {
	return &KafkaPublisher{w: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev model.ActivityLog) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.Publish(ctx, ev.CustomerID, b)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, model.ActivityLog) error { return nil }
