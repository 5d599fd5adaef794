package model

import "time"

const (
	RecentCustomersLimit = 5
	RecentPaymentsLimit  = 10
)

type Overview struct {
	TotalCustomers      int     `json:"totalCustomers"`
	TotalRevenue        float64 `json:"totalRevenue"`
	TotalPaid           float64 `json:"totalPaid"`
	Outstanding         float64 `json:"outstanding"`
	AverageProjectValue float64 `json:"averageProjectValue"`
}

// NewOverview derives outstanding and average from the raw totals.
func NewOverview(customers int, revenue, paid float64) Overview {
	o := Overview{
		TotalCustomers: customers,
		TotalRevenue:   ParseAmount(revenue),
		TotalPaid:      ParseAmount(paid),
	}
	o.Outstanding = ParseAmount(revenue - paid)
	if customers > 0 {
		o.AverageProjectValue = ParseAmount(revenue / float64(customers))
	}
	return o
}

type RecentCustomer struct {
	ID         string    `json:"id"         db:"id"`
	CustomerID string    `json:"customerId" db:"customer_id"`
	Name       string    `json:"name"       db:"name"`
	Status     Status    `json:"status"     db:"status"`
	TotalValue float64   `json:"totalValue" db:"total_value"`
	PaidAmount float64   `json:"paidAmount" db:"paid_amount"`
	CreatedAt  time.Time `json:"createdAt"  db:"created_at"`
}

func RecentFromCustomer(c Customer) RecentCustomer {
	return RecentCustomer{
		ID:         c.ID,
		CustomerID: c.CustomerID,
		Name:       c.Name,
		Status:     c.Status,
		TotalValue: c.TotalValue,
		PaidAmount: c.PaidAmount,
		CreatedAt:  c.CreatedAt,
	}
}

// DashboardStats is recomputed on demand and never stored.
type DashboardStats struct {
	Overview        Overview         `json:"overview"`
	StatusStats     map[Status]int   `json:"statusStats"`
	RecentCustomers []RecentCustomer `json:"recentCustomers"`
	RecentPayments  []Payment        `json:"recentPayments"`
}

// NewStatusTally returns a tally with every status present at zero.
func NewStatusTally() map[Status]int {
	m := make(map[Status]int, len(Statuses))
	for _, s := range Statuses {
		m[s] = 0
	}
	return m
}
