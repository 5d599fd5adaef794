package model

import "strings"

type Status string

const (
	StatusNotConfirmed    Status = "Not Confirmed"
	StatusQuotationIssued Status = "Quotation Issued"
	StatusApproved        Status = "Approved"
	StatusPending         Status = "Pending"
	StatusInProgress      Status = "In Progress"
	StatusCompleted       Status = "Completed"
	StatusRejected        Status = "Rejected"
)

// Statuses lists every legal status in lifecycle order.
var Statuses = []Status{
	StatusNotConfirmed,
	StatusQuotationIssued,
	StatusApproved,
	StatusPending,
	StatusInProgress,
	StatusCompleted,
	StatusRejected,
}

func (s Status) String() string { return string(s) }

func (s Status) Valid() bool {
	for _, st := range Statuses {
		if s == st {
			return true
		}
	}
	return false
}

// ParseStatus matches s case-insensitively against the legal statuses.
// Empty input maps to Not Confirmed.
func ParseStatus(s string) (Status, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return StatusNotConfirmed, true
	}
	for _, st := range Statuses {
		if strings.EqualFold(s, string(st)) {
			return st, true
		}
	}
	return StatusNotConfirmed, false
}

// StatusAfterPayment is the only automatic transition. It runs when a payment
// is posted and never regresses, never touches Quotation Issued, Approved or
// In Progress on a partial payment and never produces Rejected.
func StatusAfterPayment(current Status, newPaidTotal, totalValue float64) Status {
	switch {
	case newPaidTotal >= totalValue:
		return StatusCompleted
	case newPaidTotal > 0 && current == StatusNotConfirmed:
		return StatusPending
	default:
		return current
	}
}
