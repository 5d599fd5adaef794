// Package crm routes every customer operation to one backend at a time,
// primary first, falling back to the next backend when the policy allows.
// Backends are never reconciled with each other.
package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/metrics"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/util"
	"go.uber.org/zap"
)

// ErrInternal is returned when no backend could serve the operation.
var ErrInternal = errors.New("internal error: no backend could complete the operation")

const publishTimeout = 2 * time.Second

type BreakerConfig struct {
	FailThreshold int
	OpenFor       time.Duration
}

type Options struct {
	Policy  FallbackPolicy
	Events  EventPublisher
	Breaker BreakerConfig
	Logger  *zap.Logger
}

type backend struct {
	store repository.CustomerStore
	br    *Breaker
}

type Coordinator struct {
	backends []backend
	policy   FallbackPolicy
	events   EventPublisher
	log      *zap.Logger
}

// New builds a coordinator over stores in priority order.
func New(stores []repository.CustomerStore, opts Options) *Coordinator {
	if opts.Policy == nil {
		opts.Policy = DefaultPolicy{}
	}
	if opts.Events == nil {
		opts.Events = NopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	bs := make([]backend, 0, len(stores))
	for _, s := range stores {
		if s == nil {
			continue
		}
		bs = append(bs, backend{store: s, br: NewBreaker(opts.Breaker.FailThreshold, opts.Breaker.OpenFor)})
	}

	return &Coordinator{
		backends: bs,
		policy:   opts.Policy,
		events:   opts.Events,
		log:      opts.Logger,
	}
}

// BackendHealth is the breaker view of one backend.
type BackendHealth struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Ready bool   `json:"ready"`
}

func (c *Coordinator) Health() []BackendHealth {
	out := make([]BackendHealth, 0, len(c.backends))
	for _, b := range c.backends {
		out = append(out, BackendHealth{Name: b.store.Name(), State: b.br.State(), Ready: b.br.Ready()})
	}
	return out
}

// run tries each backend in order and returns the first success with the
// name of the backend that produced it.
func run[T any](ctx context.Context, c *Coordinator, op Op, fn func(repository.CustomerStore) (T, error)) (T, string, error) {
	var (
		zero                        T
		last                        error
		sawNotFound, sawUnsupported bool
	)

	for i, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		name := b.store.Name()

		if !b.br.TryAcquire() {
			metrics.BackendOpsTotal.WithLabelValues(name, op.String(), "skipped").Inc()
			c.log.Warn("backend circuit open, skipping",
				zap.String("op", op.String()),
				zap.String("backend", name),
			)
			last = fmt.Errorf("%s: %w", name, repository.ErrBackendUnavailable)
			continue
		}

		out, err := fn(b.store)
		switch {
		case err == nil:
			b.br.OnSuccess()
		case backendFailure(err):
			b.br.OnFailure()
		case ctx.Err() != nil:
			b.br.Abandon()
		default:
			b.br.OnSuccess()
		}

		if err == nil {
			metrics.BackendOpsTotal.WithLabelValues(name, op.String(), "ok").Inc()
			if i > 0 {
				metrics.FallbacksTotal.WithLabelValues(op.String()).Inc()
			}
			return out, name, nil
		}

		metrics.BackendOpsTotal.WithLabelValues(name, op.String(), "error").Inc()
		if !c.policy.ShouldFallback(op, err) {
			return zero, name, err
		}

		sawNotFound = sawNotFound || errors.Is(err, repository.ErrNotFound)
		sawUnsupported = sawUnsupported || errors.Is(err, repository.ErrUnsupported)
		last = err

		if i < len(c.backends)-1 {
			c.log.Warn("backend failed, falling back",
				zap.String("op", op.String()),
				zap.String("backend", name),
				zap.String("next", c.backends[i+1].store.Name()),
				zap.Error(err),
			)
		}
	}

	switch {
	case sawNotFound:
		return zero, "", repository.ErrNotFound
	case sawUnsupported:
		return zero, "", repository.ErrUnsupported
	case last == nil:
		last = errors.New("no backends configured")
	}

	c.log.Error("all backends failed", zap.String("op", op.String()), zap.Error(last))
	return zero, "", fmt.Errorf("%w: %v", ErrInternal, last)
}

func (c *Coordinator) Create(ctx context.Context, req model.CreateCustomerRequest) (model.CreateResult, error) {
	cust, err := req.Customer()
	if err != nil {
		return model.CreateResult{}, err
	}

	created, name, err := run(ctx, c, OpCreate, func(s repository.CustomerStore) (model.Customer, error) {
		return s.Create(ctx, cust)
	})
	if err != nil {
		return model.CreateResult{}, err
	}

	c.publish(ctx, model.ActionCreate, created.CustomerID, model.CreateDetail(created.Name), name)

	return model.CreateResult{
		Result:  model.ResultSuccess,
		ID:      created.CustomerID,
		Message: "Customer added successfully",
		Backend: name,
	}, nil
}

func (c *Coordinator) Get(ctx context.Context, customerID string) (model.Customer, string, error) {
	id, err := requireID(customerID)
	if err != nil {
		return model.Customer{}, "", err
	}

	cust, name, err := run(ctx, c, OpGet, func(s repository.CustomerStore) (model.Customer, error) {
		return s.Get(ctx, id)
	})
	if err != nil {
		return model.Customer{}, "", err
	}
	return normalizeCustomer(cust, true), name, nil
}

func (c *Coordinator) List(ctx context.Context, f model.ListFilter) ([]model.Customer, string, error) {
	list, name, err := run(ctx, c, OpList, func(s repository.CustomerStore) ([]model.Customer, error) {
		return s.List(ctx, f)
	})
	if err != nil {
		return nil, "", err
	}

	out := make([]model.Customer, 0, len(list))
	for _, cust := range list {
		out = append(out, normalizeCustomer(cust, false))
	}
	return out, name, nil
}

func (c *Coordinator) Stats(ctx context.Context) (model.DashboardStats, string, error) {
	st, name, err := run(ctx, c, OpStats, func(s repository.CustomerStore) (model.DashboardStats, error) {
		return s.Stats(ctx)
	})
	if err != nil {
		return model.DashboardStats{}, "", err
	}
	return normalizeStats(st), name, nil
}

func (c *Coordinator) AddPayment(ctx context.Context, req model.AddPaymentRequest) (model.PaymentResult, error) {
	p, err := req.Payment()
	if err != nil {
		return model.PaymentResult{}, err
	}

	out, name, err := run(ctx, c, OpAddPayment, func(s repository.CustomerStore) (model.PaymentOutcome, error) {
		return s.AddPayment(ctx, p)
	})
	if err != nil {
		return model.PaymentResult{}, err
	}

	c.publish(ctx, model.ActionPayment, out.Payment.CustomerID, model.PaymentDetail(out.Payment.Amount, out.Payment.Method), name)

	return model.PaymentResult{
		Result:        model.ResultSuccess,
		Message:       "Payment added successfully",
		NewPaidAmount: out.NewPaidAmount,
		NewStatus:     out.NewStatus,
		PaymentID:     out.Payment.ID,
		Backend:       name,
	}, nil
}

func (c *Coordinator) Payments(ctx context.Context, customerID string) ([]model.Payment, string, error) {
	id, err := requireID(customerID)
	if err != nil {
		return nil, "", err
	}

	pays, name, err := run(ctx, c, OpPayments, func(s repository.CustomerStore) ([]model.Payment, error) {
		return s.Payments(ctx, id)
	})
	if err != nil {
		return nil, "", err
	}
	if pays == nil {
		pays = []model.Payment{}
	}
	return pays, name, nil
}

func (c *Coordinator) Edit(ctx context.Context, req model.EditCustomerRequest) (model.OpResult, error) {
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if err := req.Validate(); err != nil {
		return model.OpResult{}, err
	}

	updated, name, err := run(ctx, c, OpEdit, func(s repository.CustomerStore) (model.Customer, error) {
		return s.Edit(ctx, req)
	})
	if err != nil {
		return model.OpResult{}, err
	}

	c.publish(ctx, model.ActionEdit, updated.CustomerID, model.EditDetail(updated.Name), name)

	return model.OpResult{Result: model.ResultSuccess, Message: "Customer updated successfully", Backend: name}, nil
}

// Delete soft-deletes by default. A hard delete only succeeds on a backend
// that implements repository.HardDeleter.
func (c *Coordinator) Delete(ctx context.Context, customerID string, hard bool) (model.OpResult, error) {
	id, err := requireID(customerID)
	if err != nil {
		return model.OpResult{}, err
	}

	op, detail := OpSoftDelete, model.DeleteDetail()
	if hard {
		op, detail = OpHardDelete, model.HardDeleteDetail()
	}

	_, name, err := run(ctx, c, op, func(s repository.CustomerStore) (struct{}, error) {
		if !hard {
			return struct{}{}, s.SoftDelete(ctx, id)
		}
		hd, ok := s.(repository.HardDeleter)
		if !ok {
			return struct{}{}, repository.ErrUnsupported
		}
		return struct{}{}, hd.HardDelete(ctx, id)
	})
	if err != nil {
		return model.OpResult{}, err
	}

	c.publish(ctx, model.ActionDelete, id, detail, name)

	return model.OpResult{Result: model.ResultSuccess, Message: "Customer deleted successfully", Backend: name}, nil
}

// publish is best effort: the mutation has already been committed.
func (c *Coordinator) publish(ctx context.Context, action model.Action, customerID, detail, backendName string) {
	now := time.Now().UTC()
	ev := model.ActivityLog{
		ID:         util.NewIDAt(now),
		Timestamp:  now,
		Action:     action,
		CustomerID: customerID,
		Detail:     detail,
		Actor:      model.ActorFrom(ctx),
		Backend:    backendName,
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := c.events.Publish(pctx, ev); err != nil {
		metrics.ActivityEventsTotal.WithLabelValues("publish_failed").Inc()
		c.log.Warn("activity publish failed",
			zap.String("action", action.String()),
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
		return
	}
	metrics.ActivityEventsTotal.WithLabelValues("published").Inc()
}

func requireID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", &model.ValidationError{Field: "customerId", Reason: "is required"}
	}
	return id, nil
}

func normalizeCustomer(c model.Customer, detail bool) model.Customer {
	c.Services = c.ServicesSummary()
	if !c.Status.Valid() {
		c.Status = model.StatusNotConfirmed
	}
	if detail {
		if c.Payments == nil {
			c.Payments = []model.Payment{}
		}
		if c.Logs == nil {
			c.Logs = []model.ActivityLog{}
		}
	}
	return c
}

func normalizeStats(st model.DashboardStats) model.DashboardStats {
	tally := model.NewStatusTally()
	for s, n := range st.StatusStats {
		if s.Valid() {
			tally[s] += n
		}
	}
	st.StatusStats = tally
	if st.RecentCustomers == nil {
		st.RecentCustomers = []model.RecentCustomer{}
	}
	if st.RecentPayments == nil {
		st.RecentPayments = []model.Payment{}
	}
	return st
}
