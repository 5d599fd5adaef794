package model

import (
	"strings"
	"time"
)

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "Cash"
	MethodBankTransfer PaymentMethod = "Bank Transfer"
	MethodCheque       PaymentMethod = "Cheque"
	MethodOnline       PaymentMethod = "Online Payment"
)

func (m PaymentMethod) String() string { return string(m) }

// ParsePaymentMethod normalizes input; empty => Cash.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cash":
		return MethodCash, true
	case "bank transfer", "bank":
		return MethodBankTransfer, true
	case "cheque", "check":
		return MethodCheque, true
	case "online payment", "online":
		return MethodOnline, true
	default:
		return MethodCash, false
	}
}

// Payment is immutable once recorded.
type Payment struct {
	ID           string        `json:"id"                     db:"id"`
	CustomerID   string        `json:"customerId"             db:"customer_id"`
	CustomerName string        `json:"customerName,omitempty" db:"customer_name"`
	Amount       float64       `json:"amount"                 db:"amount"`
	Method       PaymentMethod `json:"method"                 db:"method"`
	Notes        *string       `json:"notes"                  db:"notes"`
	CreatedAt    time.Time     `json:"createdAt"              db:"created_at"`
}

// PaymentOutcome is what a store reports after posting a payment.
type PaymentOutcome struct {
	Payment       Payment
	NewPaidAmount float64
	NewStatus     Status
}
