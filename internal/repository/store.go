package repository

import (
	"context"
	"errors"

	"github.com/jmehdipour/crm-gateway/internal/model"
)

var (
	ErrNotFound           = errors.New("customer not found")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrConcurrentUpdate   = errors.New("customer was modified concurrently")
	ErrUnsupported        = errors.New("operation not supported by backend")
)

// CustomerStore is one persistence backend. Every method runs to completion
// against this backend only; the acting user is read from ctx.
type CustomerStore interface {
	// Name identifies the backend in logs, metrics and API responses.
	Name() string

	Create(ctx context.Context, c model.Customer) (model.Customer, error)
	// Get returns a live customer with its payments and activity.
	Get(ctx context.Context, customerID string) (model.Customer, error)
	// List returns live customers matching f, most recent first.
	List(ctx context.Context, f model.ListFilter) ([]model.Customer, error)
	Stats(ctx context.Context) (model.DashboardStats, error)

	AddPayment(ctx context.Context, p model.Payment) (model.PaymentOutcome, error)
	// Payments returns one customer's payments, most recent first.
	Payments(ctx context.Context, customerID string) ([]model.Payment, error)

	Edit(ctx context.Context, req model.EditCustomerRequest) (model.Customer, error)
	SoftDelete(ctx context.Context, customerID string) error
}

// HardDeleter is implemented by backends that can physically remove a customer.
type HardDeleter interface {
	HardDelete(ctx context.Context, customerID string) error
}
