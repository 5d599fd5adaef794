package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/util"
)

const CustomerIDPrefix = "CUST-"

// ServiceOption is the work requested for one of gutter, ceiling or roof.
type ServiceOption string

const (
	ServiceNone     ServiceOption = "None"
	ServiceRemoving ServiceOption = "Removing"
	ServiceNew      ServiceOption = "New"
	ServiceRepair   ServiceOption = "Repair"
)

func (s ServiceOption) String() string { return string(s) }

// ParseServiceOption normalizes input; empty => None.
func ParseServiceOption(s string) (ServiceOption, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return ServiceNone, true
	case "removing":
		return ServiceRemoving, true
	case "new":
		return ServiceNew, true
	case "repair":
		return ServiceRepair, true
	default:
		return ServiceNone, false
	}
}

// Customer is a CRM record. ID is the storage identifier (sheet rows reuse the
// customer ID, the relational store uses a ULID); CustomerID is the
// human-assigned CUST-<n> identifier shared by both backends.
type Customer struct {
	ID         string        `json:"id"         db:"id"`
	CustomerID string        `json:"customerId" db:"customer_id"`
	Name       string        `json:"name"       db:"name"`
	Address    string        `json:"address"    db:"address"`
	Phone      string        `json:"phone"      db:"phone"`
	Email      *string       `json:"email"      db:"email"`
	Gutter     ServiceOption `json:"gutter"     db:"gutter"`
	Ceiling    ServiceOption `json:"ceiling"    db:"ceiling"`
	Roof       ServiceOption `json:"roof"       db:"roof"`
	Status     Status        `json:"status"     db:"status"`
	Notes      *string       `json:"notes"      db:"notes"`
	TotalValue float64       `json:"totalValue" db:"total_value"`
	PaidAmount float64       `json:"paidAmount" db:"paid_amount"`
	Services   string        `json:"services"   db:"-"`
	CreatedAt  time.Time     `json:"createdAt"  db:"created_at"`
	UpdatedAt  time.Time     `json:"updatedAt"  db:"updated_at"`
	DeletedAt  *time.Time    `json:"-"          db:"deleted_at"`

	Payments []Payment     `json:"payments,omitempty" db:"-"`
	Logs     []ActivityLog `json:"logs,omitempty"     db:"-"`
}

// Balance is the amount still owed.
func (c Customer) Balance() float64 { return c.TotalValue - c.PaidAmount }

func (c Customer) Deleted() bool { return c.DeletedAt != nil }

// ServicesSummary joins the requested services, skipping None.
func (c Customer) ServicesSummary() string {
	parts := make([]string, 0, 3)
	for _, s := range []ServiceOption{c.Gutter, c.Ceiling, c.Roof} {
		if s != "" && s != ServiceNone {
			parts = append(parts, s.String())
		}
	}
	return strings.Join(parts, ", ")
}

// FormatCustomerID renders the n-th customer identifier.
func FormatCustomerID(n int) string {
	return fmt.Sprintf("%s%d", CustomerIDPrefix, n)
}

// ParseCustomerIDNumber extracts n from CUST-<n>.
func ParseCustomerIDNumber(id string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(id), CustomerIDPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ListFilter narrows a customer listing. Search matches name, customer ID,
// phone and email case-insensitively; Status must match exactly.
type ListFilter struct {
	Search string
	Status Status
}

func (f ListFilter) Matches(c Customer) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	q := strings.ToLower(strings.TrimSpace(f.Search))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(c.Name), q) ||
		strings.Contains(strings.ToLower(c.CustomerID), q) ||
		strings.Contains(strings.ToLower(c.Phone), q) {
		return true
	}
	if d, ok := util.PhoneSearch(q); ok && strings.Contains(util.PhoneDigits(c.Phone), d) {
		return true
	}
	return c.Email != nil && strings.Contains(strings.ToLower(*c.Email), q)
}

func strPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// OptionalString turns an empty value into nil.
func OptionalString(s string) *string { return strPtr(s) }

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
