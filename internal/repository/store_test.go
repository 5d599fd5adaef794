package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jmehdipour/crm-gateway/internal/model"
)

func newCustomer(t *testing.T, name, email string, total float64) model.Customer {
	t.Helper()
	c, err := model.CreateCustomerRequest{
		Name:       name,
		Address:    "12 Galle Rd, Colombo",
		Phone:      "077 123 4567",
		Email:      email,
		Gutter:     "New",
		TotalValue: model.Amount(total),
	}.Customer()
	if err != nil {
		t.Fatalf("build customer: %v", err)
	}
	return c
}

func mustCreate(t *testing.T, s CustomerStore, name string, total float64) model.Customer {
	t.Helper()
	c, err := s.Create(context.Background(), newCustomer(t, name, "", total))
	if err != nil {
		t.Fatalf("Create(%s): %v", name, err)
	}
	return c
}

func pay(t *testing.T, s CustomerStore, id string, amount float64) model.PaymentOutcome {
	t.Helper()
	out, err := s.AddPayment(context.Background(), model.Payment{CustomerID: id, Amount: amount, Method: model.MethodCash})
	if err != nil {
		t.Fatalf("AddPayment(%s, %v): %v", id, amount, err)
	}
	return out
}

// runStoreContract checks the behavior every backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) CustomerStore) {
	t.Run("sequential ids", func(t *testing.T) {
		s := newStore(t)
		a := mustCreate(t, s, "Alice", 1000)
		b := mustCreate(t, s, "Bob", 1000)
		if a.CustomerID != "CUST-1" || b.CustomerID != "CUST-2" {
			t.Fatalf("ids = %s, %s", a.CustomerID, b.CustomerID)
		}
		if a.Status != model.StatusNotConfirmed || a.PaidAmount != 0 {
			t.Errorf("new customer = %+v", a)
		}
	})

	t.Run("payments move status", func(t *testing.T) {
		s := newStore(t)
		c := mustCreate(t, s, "Alice", 10000)

		first := pay(t, s, c.CustomerID, 4000)
		if first.NewPaidAmount != 4000 || first.NewStatus != model.StatusPending {
			t.Fatalf("after 4000: %+v", first)
		}
		second := pay(t, s, c.CustomerID, 6000)
		if second.NewPaidAmount != 10000 || second.NewStatus != model.StatusCompleted {
			t.Fatalf("after 6000: %+v", second)
		}
		if second.Payment.ID == "" || second.Payment.CustomerName != "Alice" {
			t.Errorf("payment = %+v", second.Payment)
		}

		pays, err := s.Payments(context.Background(), c.CustomerID)
		if err != nil {
			t.Fatalf("Payments: %v", err)
		}
		if len(pays) != 2 || pays[0].Amount != 6000 || pays[1].Amount != 4000 {
			t.Fatalf("payments = %+v", pays)
		}

		got, err := s.Get(context.Background(), c.CustomerID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.PaidAmount != 10000 || got.Status != model.StatusCompleted {
			t.Errorf("stored customer = %+v", got)
		}
		if len(got.Payments) != 2 || len(got.Logs) != 3 {
			t.Errorf("payments=%d logs=%d", len(got.Payments), len(got.Logs))
		}
	})

	t.Run("list search and order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Create(ctx, newCustomer(t, "Alice Perera", "alice@example.com", 500)); err != nil {
			t.Fatal(err)
		}
		mustCreate(t, s, "Bob Silva", 700)

		all, err := s.List(ctx, model.ListFilter{})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(all) != 2 || all[0].Name != "Bob Silva" {
			t.Fatalf("list = %+v", all)
		}
		if all[1].Services != "New" || all[1].Email == nil {
			t.Errorf("reshaped = %+v", all[1])
		}

		tests := []struct {
			name   string
			filter model.ListFilter
			want   []string
		}{
			{"by name any case", model.ListFilter{Search: "ALICE"}, []string{"Alice Perera"}},
			{"by email", model.ListFilter{Search: "example.com"}, []string{"Alice Perera"}},
			{"by id", model.ListFilter{Search: "cust-2"}, []string{"Bob Silva"}},
			{"by phone as typed", model.ListFilter{Search: "077"}, []string{"Bob Silva", "Alice Perera"}},
			{"by phone without spaces", model.ListFilter{Search: "0771234567"}, []string{"Bob Silva", "Alice Perera"}},
			{"by phone tail", model.ListFilter{Search: "1234567"}, []string{"Bob Silva", "Alice Perera"}},
			{"by phone with other spacing", model.ListFilter{Search: "0771 234"}, []string{"Bob Silva", "Alice Perera"}},
			{"like wildcards are literal", model.ListFilter{Search: "%"}, nil},
			{"status", model.ListFilter{Status: model.StatusCompleted}, nil},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.List(ctx, tt.filter)
				if err != nil {
					t.Fatalf("List: %v", err)
				}
				if len(got) != len(tt.want) {
					t.Fatalf("got %d customers, want %d", len(got), len(tt.want))
				}
				for i, name := range tt.want {
					if got[i].Name != name {
						t.Errorf("got[%d] = %s, want %s", i, got[i].Name, name)
					}
				}
			})
		}
	})

	t.Run("soft delete hides customer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := mustCreate(t, s, "Alice", 1000)
		pay(t, s, a.CustomerID, 250)
		mustCreate(t, s, "Bob", 2000)

		if err := s.SoftDelete(ctx, a.CustomerID); err != nil {
			t.Fatalf("SoftDelete: %v", err)
		}

		list, _ := s.List(ctx, model.ListFilter{})
		if len(list) != 1 || list[0].Name != "Bob" {
			t.Fatalf("list after delete = %+v", list)
		}

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Overview.TotalCustomers != 1 || st.Overview.TotalRevenue != 2000 || st.Overview.TotalPaid != 0 {
			t.Errorf("overview = %+v", st.Overview)
		}
		if len(st.RecentPayments) != 0 {
			t.Errorf("deleted customer's payment still listed: %+v", st.RecentPayments)
		}

		name := "Alicia"
		if _, err := s.Get(ctx, a.CustomerID); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get deleted: %v", err)
		}
		if _, err := s.AddPayment(ctx, model.Payment{CustomerID: a.CustomerID, Amount: 1}); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddPayment deleted: %v", err)
		}
		if _, err := s.Edit(ctx, model.EditCustomerRequest{CustomerID: a.CustomerID, Name: &name}); !errors.Is(err, ErrNotFound) {
			t.Errorf("Edit deleted: %v", err)
		}
		if err := s.SoftDelete(ctx, a.CustomerID); !errors.Is(err, ErrNotFound) {
			t.Errorf("second SoftDelete: %v", err)
		}

		c := mustCreate(t, s, "Carol", 100)
		if c.CustomerID != "CUST-3" {
			t.Errorf("id after delete = %s, want CUST-3", c.CustomerID)
		}
	})

	t.Run("edit leaves money alone", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := mustCreate(t, s, "Alice", 10000)
		pay(t, s, c.CustomerID, 4000)

		name, total, status, notes := "Alice P.", model.Amount(12000), "In Progress", "call first"
		got, err := s.Edit(ctx, model.EditCustomerRequest{
			CustomerID: c.CustomerID,
			Name:       &name,
			TotalValue: &total,
			Status:     &status,
			Notes:      &notes,
		})
		if err != nil {
			t.Fatalf("Edit: %v", err)
		}
		if got.PaidAmount != 4000 || got.TotalValue != 12000 || got.Status != model.StatusInProgress {
			t.Fatalf("edit result = %+v", got)
		}

		stored, err := s.Get(ctx, c.CustomerID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if stored.Name != "Alice P." || stored.PaidAmount != 4000 || stored.TotalValue != 12000 ||
			model.StringValue(stored.Notes) != "call first" || stored.Phone != c.Phone || stored.Gutter != model.ServiceNew {
			t.Errorf("stored = %+v", stored)
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		var first model.Customer
		for i := range 6 {
			c := mustCreate(t, s, "Customer", 1000)
			if i == 0 {
				first = c
			}
		}
		pay(t, s, first.CustomerID, 500)

		st, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		want := model.Overview{TotalCustomers: 6, TotalRevenue: 6000, TotalPaid: 500, Outstanding: 5500, AverageProjectValue: 1000}
		if st.Overview != want {
			t.Errorf("overview = %+v", st.Overview)
		}
		if len(st.StatusStats) != len(model.Statuses) ||
			st.StatusStats[model.StatusPending] != 1 || st.StatusStats[model.StatusNotConfirmed] != 5 {
			t.Errorf("status stats = %v", st.StatusStats)
		}
		if len(st.RecentCustomers) != model.RecentCustomersLimit || st.RecentCustomers[0].CustomerID != "CUST-6" {
			t.Errorf("recent customers = %+v", st.RecentCustomers)
		}
		if len(st.RecentPayments) != 1 || st.RecentPayments[0].CustomerID != first.CustomerID {
			t.Errorf("recent payments = %+v", st.RecentPayments)
		}
	})

	t.Run("empty stats", func(t *testing.T) {
		st, err := newStore(t).Stats(context.Background())
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if st.Overview != (model.Overview{}) || len(st.StatusStats) != len(model.Statuses) {
			t.Errorf("stats = %+v", st)
		}
	})

	t.Run("unknown customer", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.AddPayment(ctx, model.Payment{CustomerID: "CUST-99", Amount: 1}); !errors.Is(err, ErrNotFound) {
			t.Errorf("AddPayment: %v", err)
		}
		if _, err := s.Payments(ctx, "CUST-99"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Payments: %v", err)
		}
		if err := s.SoftDelete(ctx, "CUST-99"); !errors.Is(err, ErrNotFound) {
			t.Errorf("SoftDelete: %v", err)
		}
	})

	t.Run("actor is recorded", func(t *testing.T) {
		s := newStore(t)
		ctx := model.WithActor(context.Background(), "ops@example.com")
		c, err := s.Create(ctx, newCustomer(t, "Alice", "", 10))
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, c.CustomerID)
		if err != nil {
			t.Fatal(err)
		}
		if len(got.Logs) != 1 || got.Logs[0].Actor != "ops@example.com" || got.Logs[0].Action != model.ActionCreate {
			t.Errorf("logs = %+v", got.Logs)
		}
	})

	t.Run("concurrent payments all count", func(t *testing.T) {
		s := newStore(t)
		c := mustCreate(t, s, "Alice", 100000)

		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.AddPayment(context.Background(), model.Payment{CustomerID: c.CustomerID, Amount: 100, Method: model.MethodCash}); err != nil {
					t.Errorf("AddPayment: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.Get(context.Background(), c.CustomerID)
		if err != nil {
			t.Fatal(err)
		}
		if got.PaidAmount != 2000 || len(got.Payments) != 20 {
			t.Errorf("paid = %v over %d payments", got.PaidAmount, len(got.Payments))
		}
	})
}
