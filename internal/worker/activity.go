package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/kafka"
	"github.com/jmehdipour/crm-gateway/internal/metrics"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"go.uber.org/zap"
)

// MessageSource is the consumer side the projector needs.
type MessageSource interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msgs ...kafka.Message) error
}

// ActivityProjector:
// - fetches activity events from Kafka,
// - batches them by size/time into ClickHouse,
// - commits offsets only after the batch is stored (at-least-once).
type ActivityProjector struct {
	Source MessageSource
	Store  repository.ActivityWriter
	Log    *zap.Logger

	BatchSize  int           // max events per insert
	BatchWait  time.Duration // max time an event waits for its batch
	RetryDelay time.Duration // pause between failed inserts
}

func NewActivityProjector(src MessageSource, store repository.ActivityWriter, log *zap.Logger) *ActivityProjector {
	return &ActivityProjector{
		Source:     src,
		Store:      store,
		Log:        log,
		BatchSize:  500,
		BatchWait:  time.Second,
		RetryDelay: time.Second,
	}
}

// Run blocks until ctx is cancelled, then flushes what it holds.
func (w *ActivityProjector) Run(ctx context.Context) error {
	if w.BatchSize <= 0 {
		w.BatchSize = 500
	}
	if w.BatchWait <= 0 {
		w.BatchWait = time.Second
	}
	if w.RetryDelay <= 0 {
		w.RetryDelay = time.Second
	}
	if w.Log == nil {
		w.Log = zap.NewNop()
	}

	msgCh := make(chan kafka.Message, w.BatchSize)
	go w.fetch(ctx, msgCh)

	tick := time.NewTicker(w.BatchWait)
	defer tick.Stop()

	pending := make([]kafka.Message, 0, w.BatchSize)

	for {
		select {
		case <-ctx.Done():
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = w.flush(fctx, pending)
			cancel()
			return nil

		case m, ok := <-msgCh:
			if !ok {
				msgCh = nil
				continue
			}
			pending = append(pending, m)
			if len(pending) >= w.BatchSize {
				pending = w.flushUntilStored(ctx, pending)
			}

		case <-tick.C:
			pending = w.flushUntilStored(ctx, pending)
		}
	}
}

func (w *ActivityProjector) fetch(ctx context.Context, out chan<- kafka.Message) {
	defer close(out)
	for {
		m, err := w.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn("activity fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		select {
		case out <- m:
		case <-ctx.Done():
			return
		}
	}
}

// flushUntilStored retries a failed batch until it lands or ctx ends. It
// returns the (emptied) pending slice.
func (w *ActivityProjector) flushUntilStored(ctx context.Context, pending []kafka.Message) []kafka.Message {
	for {
		err := w.flush(ctx, pending)
		if err == nil {
			return pending[:0]
		}
		w.Log.Error("activity flush failed", zap.Int("events", len(pending)), zap.Error(err))

		t := time.NewTimer(w.RetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return pending
		case <-t.C:
		}
	}
}

func (w *ActivityProjector) flush(ctx context.Context, pending []kafka.Message) error {
	if len(pending) == 0 {
		return nil
	}

	logs := make([]model.ActivityLog, 0, len(pending))
	for _, m := range pending {
		var ev model.ActivityLog
		if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID == "" || !ev.Action.Valid() {
			// poison: skipped, but still committed below
			metrics.ActivityEventsTotal.WithLabelValues("dropped").Inc()
			w.Log.Warn("dropping malformed activity event",
				zap.Int64("offset", m.Offset),
				zap.Int("partition", m.Partition),
			)
			continue
		}
		logs = append(logs, ev)
	}

	if err := w.Store.InsertActivity(ctx, logs); err != nil {
		return err
	}
	metrics.ActivityEventsTotal.WithLabelValues("stored").Add(float64(len(logs)))

	if err := w.Source.Commit(ctx, pending...); err != nil {
		w.Log.Warn("activity commit failed", zap.Error(err))
	}

	w.Log.Debug("activity flushed", zap.Int("stored", len(logs)), zap.Int("fetched", len(pending)))
	return nil
}
