package crm

import (
	"context"
	"errors"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
)

// Op names a coordinator operation in logs, metrics and policy decisions.
type Op string

const (
	OpCreate     Op = "create"
	OpGet        Op = "get"
	OpList       Op = "list"
	OpStats      Op = "stats"
	OpAddPayment Op = "add_payment"
	OpPayments   Op = "payments"
	OpEdit       Op = "edit"
	OpSoftDelete Op = "soft_delete"
	OpHardDelete Op = "hard_delete"
)

func (o Op) String() string { return string(o) }

// FallbackPolicy decides whether a failed attempt moves on to the next backend.
type FallbackPolicy interface {
	ShouldFallback(op Op, err error) bool
}

// DefaultPolicy falls back on backend failures, on records the backend does
// not have and on operations it cannot perform. Caller errors and conflicts
// are returned as they are.
type DefaultPolicy struct{}

var _ FallbackPolicy = DefaultPolicy{}

func (DefaultPolicy) ShouldFallback(_ Op, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, model.ErrValidation), errors.Is(err, repository.ErrConcurrentUpdate):
		return false
	default:
		return true
	}
}

// PrimaryOnlyPolicy never falls back.
type PrimaryOnlyPolicy struct{}

var _ FallbackPolicy = PrimaryOnlyPolicy{}

func (PrimaryOnlyPolicy) ShouldFallback(Op, error) bool { return false }

// backendFailure reports whether err says something about the backend's
// health, as opposed to the request.
func backendFailure(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, model.ErrValidation),
		errors.Is(err, repository.ErrNotFound),
		errors.Is(err, repository.ErrConcurrentUpdate),
		errors.Is(err, repository.ErrUnsupported):
		return false
	default:
		return true
	}
}
