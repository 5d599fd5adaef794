package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/kafka"
	"github.com/jmehdipour/crm-gateway/internal/model"
)

type fakeSource struct {
	in chan kafka.Message

	mu        sync.Mutex
	committed []int64
}

func newFakeSource(msgs ...kafka.Message) *fakeSource {
	s := &fakeSource{in: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		s.in <- m
	}
	return s
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.in:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, msgs ...kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.committed = append(s.committed, m.Offset)
	}
	return nil
}

func (s *fakeSource) commits() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []model.ActivityLog
}

func (w *fakeWriter) InsertActivity(_ context.Context, logs []model.ActivityLog) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.failures > 0 {
		w.failures--
		return errors.New("clickhouse down")
	}
	w.stored = append(w.stored, logs...)
	return nil
}

func (w *fakeWriter) snapshot() (int, []model.ActivityLog) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls, append([]model.ActivityLog(nil), w.stored...)
}

func event(t *testing.T, offset int64, id string) kafka.Message {
	t.Helper()
	b, err := json.Marshal(model.ActivityLog{
		ID:         id,
		Timestamp:  time.Now().UTC(),
		Action:     model.ActionPayment,
		CustomerID: "CUST-1",
		Detail:     model.PaymentDetail(100, model.MethodCash),
		Actor:      "ops@example.com",
	})
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: b}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func runProjector(t *testing.T, p *ActivityProjector) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func TestProjectorStoresThenCommits(t *testing.T) {
	src := newFakeSource(event(t, 1, "a"), event(t, 2, "b"), event(t, 3, "c"))
	store := &fakeWriter{}
	p := NewActivityProjector(src, store, nil)
	p.BatchSize = 3
	p.BatchWait = time.Hour

	stop := runProjector(t, p)
	waitFor(t, func() bool { return len(src.commits()) == 3 })
	stop()

	_, stored := store.snapshot()
	if len(stored) != 3 || stored[0].ID != "a" || stored[2].ID != "c" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestProjectorDropsMalformedEvents(t *testing.T) {
	src := newFakeSource(
		kafka.Message{Offset: 1, Value: []byte("{not json")},
		kafka.Message{Offset: 2, Value: []byte(`{"id":"x","action":"NOPE"}`)},
		event(t, 3, "ok"),
	)
	store := &fakeWriter{}
	p := NewActivityProjector(src, store, nil)
	p.BatchSize = 3
	p.BatchWait = time.Hour

	stop := runProjector(t, p)
	waitFor(t, func() bool { return len(src.commits()) == 3 })
	stop()

	_, stored := store.snapshot()
	if len(stored) != 1 || stored[0].ID != "ok" {
		t.Fatalf("stored = %+v", stored)
	}
}

func TestProjectorRetriesBeforeCommitting(t *testing.T) {
	src := newFakeSource(event(t, 7, "a"))
	store := &fakeWriter{failures: 2}
	p := NewActivityProjector(src, store, nil)
	p.BatchSize = 1
	p.BatchWait = time.Hour
	p.RetryDelay = 10 * time.Millisecond

	stop := runProjector(t, p)
	waitFor(t, func() bool { return len(src.commits()) == 1 })
	stop()

	calls, stored := store.snapshot()
	if calls != 3 || len(stored) != 1 {
		t.Fatalf("calls = %d, stored = %d", calls, len(stored))
	}
}

func TestProjectorFlushesOnTimer(t *testing.T) {
	src := newFakeSource(event(t, 1, "a"))
	store := &fakeWriter{}
	p := NewActivityProjector(src, store, nil)
	p.BatchSize = 100
	p.BatchWait = 20 * time.Millisecond

	stop := runProjector(t, p)
	waitFor(t, func() bool { return len(src.commits()) == 1 })
	stop()
}

func TestProjectorNothingCommittedWhileStoreIsDown(t *testing.T) {
	src := newFakeSource(event(t, 1, "a"))
	store := &fakeWriter{failures: 1 << 30}
	p := NewActivityProjector(src, store, nil)
	p.BatchSize = 1
	p.BatchWait = time.Hour
	p.RetryDelay = 5 * time.Millisecond

	stop := runProjector(t, p)
	waitFor(t, func() bool {
		calls, _ := store.snapshot()
		return calls >= 3
	})
	stop()

	if got := src.commits(); len(got) != 0 {
		t.Fatalf("committed %v while store was failing", got)
	}
}
