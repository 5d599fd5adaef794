package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/logger"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the relational store with demo customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log := logger.Init(cfg.Log.Level, cfg.Log.Encoding)

		// 2) connect
		sqlDB, err := openRelational(cfg)
		if err != nil {
			return fmt.Errorf("%s connect: %w", cfg.Relational.Driver, err)
		}
		defer sqlDB.Close()

		ctx := model.WithActor(context.Background(), "seed")
		n, err := seedCustomers(ctx, repository.NewSQLStore(sqlDB))
		if err != nil {
			return err
		}

		log.Info("seed completed", zap.Int("created", n))
		return nil
	},
}

type demoCustomer struct {
	req      model.CreateCustomerRequest
	payments []float64
}

func demoCustomers() []demoCustomer {
	return []demoCustomer{
		{
			req: model.CreateCustomerRequest{
				Name: "Nimal Perera", Address: "12 Temple Rd, Kandy", Phone: "0771234567",
				Email: "nimal@example.com", Gutter: "New", Roof: "Repair",
				TotalValue: 185000, Status: "Quotation Issued",
			},
		},
		{
			req: model.CreateCustomerRequest{
				Name: "Kamala Silva", Address: "4 Lake Dr, Colombo 5", Phone: "0712345678",
				Ceiling: "Removing", TotalValue: 90000, Status: "Approved",
			},
			payments: []float64{30000},
		},
		{
			req: model.CreateCustomerRequest{
				Name: "Ruwan Fernando", Address: "77 Beach Rd, Galle", Phone: "0759876543",
				Gutter: "Repair", TotalValue: 45000,
			},
			payments: []float64{20000, 25000},
		},
		{
			req: model.CreateCustomerRequest{
				Name: "Dilani Jayasuriya", Address: "3 Hill St, Nuwara Eliya", Phone: "0701112223",
				Roof: "New", TotalValue: 320000, Status: "Rejected",
			},
		},
	}
}

// seedCustomers creates the demo customers that are not there yet, matched
// by phone and name.
func seedCustomers(ctx context.Context, store *repository.SQLStore) (int, error) {
	created := 0
	for _, d := range demoCustomers() {
		cust, err := d.req.Customer()
		if err != nil {
			return created, fmt.Errorf("demo customer %q: %w", d.req.Name, err)
		}

		existing, err := store.List(ctx, model.ListFilter{Search: cust.Phone})
		if err != nil {
			return created, err
		}
		if containsName(existing, cust.Name) {
			continue
		}

		c, err := store.Create(ctx, cust)
		if err != nil {
			return created, fmt.Errorf("insert customer %q: %w", cust.Name, err)
		}
		for _, amt := range d.payments {
			if _, err := store.AddPayment(ctx, model.Payment{CustomerID: c.CustomerID, Amount: amt, Method: model.MethodBankTransfer}); err != nil {
				return created, fmt.Errorf("payment for %s: %w", c.CustomerID, err)
			}
		}
		created++
	}
	return created, nil
}

func containsName(list []model.Customer, name string) bool {
	for _, c := range list {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}
