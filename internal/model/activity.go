package model

import (
	"fmt"
	"time"
)

type Action string

const (
	ActionCreate  Action = "CREATE"
	ActionEdit    Action = "EDIT"
	ActionPayment Action = "PAYMENT"
	ActionDelete  Action = "DELETE"
)

func (a Action) String() string { return string(a) }

func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionEdit || a == ActionPayment || a == ActionDelete
}

// ActivityLog is a write-once audit entry.
type ActivityLog struct {
	ID         string    `json:"id"                db:"id"`
	Timestamp  time.Time `json:"createdAt"         db:"created_at"`
	Action     Action    `json:"action"            db:"action"`
	CustomerID string    `json:"customerId"        db:"customer_id"`
	Detail     string    `json:"details"           db:"details"`
	Actor      string    `json:"actor"             db:"actor"`
	Backend    string    `json:"backend,omitempty" db:"backend"`
}

func CreateDetail(name string) string { return "Customer created: " + name }

func EditDetail(name string) string { return "Customer updated: " + name }

func DeleteDetail() string { return "Customer deleted" }

func HardDeleteDetail() string { return "Customer permanently deleted" }

func PaymentDetail(amount float64, method PaymentMethod) string {
	return fmt.Sprintf("Payment added: LKR %s via %s", FormatAmount(amount), method)
}
