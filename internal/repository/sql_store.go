package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

const (
	customerColumns = `id, customer_id, name, address, phone, email, gutter, ceiling, roof,
		status, notes, total_value, paid_amount, created_at, updated_at, deleted_at`

	paymentColumns = `p.id, p.customer_id, c.name AS customer_name, p.amount, p.method, p.notes, p.created_at`

	createAttempts = 3
)

// phoneDigitsExpr strips separators from the phone column, matching
// util.PhoneDigits for the characters people actually type.
var phoneDigitsExpr = func() string {
	expr := "phone"
	for _, sep := range util.PhoneSeparators {
		expr = "REPLACE(" + expr + ", '" + sep + "', '')"
	}
	return expr
}()

// SQLStore keeps customers in a relational database. Queries stick to the
// subset MySQL and SQLite share; timestamps are bound from Go.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var (
	_ CustomerStore = (*SQLStore)(nil)
	_ HardDeleter   = (*SQLStore)(nil)
)

func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *SQLStore) Name() string { return "relational" }

func (s *SQLStore) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	t, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return dbErr(err)
	}
	defer func() { _ = t.Rollback() }()
	if err := fn(t); err != nil {
		return err
	}
	return dbErr(t.Commit())
}

// Create numbers the customer after the most recently created one. A
// concurrent create that takes the same number trips the unique index and
// is retried.
func (s *SQLStore) Create(ctx context.Context, c model.Customer) (model.Customer, error) {
	var err error
	for range createAttempts {
		var out model.Customer
		if out, err = s.create(ctx, c); err == nil {
			return out, nil
		}
		if !isDuplicate(err) {
			break
		}
	}
	return model.Customer{}, dbErr(err)
}

func (s *SQLStore) create(ctx context.Context, c model.Customer) (model.Customer, error) {
	now := s.now()
	c.ID = util.NewIDAt(now)
	c.PaidAmount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	c.Services = c.ServicesSummary()

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var last string
		err := tx.GetContext(ctx, &last, `
			SELECT customer_id
			  FROM customers
			 ORDER BY created_at DESC, id DESC
			 LIMIT 1
		`)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		n, _ := model.ParseCustomerIDNumber(last)
		c.CustomerID = model.FormatCustomerID(n + 1)

		if _, err := tx.NamedExecContext(ctx, `
			INSERT INTO customers
			    (id, customer_id, name, address, phone, email, gutter, ceiling, roof,
			     status, notes, total_value, paid_amount, created_at, updated_at)
			VALUES
			    (:id, :customer_id, :name, :address, :phone, :email, :gutter, :ceiling, :roof,
			     :status, :notes, :total_value, :paid_amount, :created_at, :updated_at)
		`, c); err != nil {
			return err
		}
		return s.insertLog(ctx, tx, model.ActionCreate, c.CustomerID, model.CreateDetail(c.Name))
	})
	if err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (s *SQLStore) Get(ctx context.Context, customerID string) (model.Customer, error) {
	c, err := s.live(ctx, s.db, customerID)
	if err != nil {
		return model.Customer{}, err
	}

	if c.Payments, err = s.payments(ctx, c.CustomerID); err != nil {
		return model.Customer{}, err
	}

	c.Logs = make([]model.ActivityLog, 0)
	if err := s.db.SelectContext(ctx, &c.Logs, `
		SELECT id, created_at, action, customer_id, details, actor
		  FROM activity_logs
		 WHERE customer_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?
	`, c.CustomerID, maxLogsPerGet); err != nil {
		return model.Customer{}, dbErr(err)
	}
	for i := range c.Logs {
		c.Logs[i].Backend = s.Name()
	}
	return c, nil
}

func (s *SQLStore) List(ctx context.Context, f model.ListFilter) ([]model.Customer, error) {
	q := `SELECT ` + customerColumns + ` FROM customers WHERE deleted_at IS NULL`
	args := make([]any, 0, 5)

	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status.String())
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + escapeLike(strings.ToLower(term)) + "%"
		q += ` AND (LOWER(name) LIKE ? ESCAPE '!'
		        OR LOWER(customer_id) LIKE ? ESCAPE '!'
		        OR LOWER(phone) LIKE ? ESCAPE '!'
		        OR LOWER(COALESCE(email, '')) LIKE ? ESCAPE '!'`
		args = append(args, like, like, like, like)
		if digits, ok := util.PhoneSearch(term); ok {
			q += ` OR ` + phoneDigitsExpr + ` LIKE ?`
			args = append(args, "%"+digits+"%")
		}
		q += `)`
	}
	q += " ORDER BY created_at DESC, id DESC"

	out := make([]model.Customer, 0)
	if err := s.db.SelectContext(ctx, &out, q, args...); err != nil {
		return nil, dbErr(err)
	}
	for i := range out {
		out[i].Services = out[i].ServicesSummary()
	}
	return out, nil
}

func (s *SQLStore) Stats(ctx context.Context) (model.DashboardStats, error) {
	var totals struct {
		Count   int     `db:"n"`
		Revenue float64 `db:"revenue"`
		Paid    float64 `db:"paid"`
	}
	if err := s.db.GetContext(ctx, &totals, `
		SELECT COUNT(*) AS n,
		       COALESCE(SUM(total_value), 0) AS revenue,
		       COALESCE(SUM(paid_amount), 0) AS paid
		  FROM customers
		 WHERE deleted_at IS NULL
	`); err != nil {
		return model.DashboardStats{}, dbErr(err)
	}

	var byStatus []struct {
		Status string `db:"status"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &byStatus, `
		SELECT status, COUNT(*) AS n
		  FROM customers
		 WHERE deleted_at IS NULL
		 GROUP BY status
	`); err != nil {
		return model.DashboardStats{}, dbErr(err)
	}
	tally := model.NewStatusTally()
	for _, r := range byStatus {
		if st, ok := model.ParseStatus(r.Status); ok {
			tally[st] += r.Count
		}
	}

	recent := make([]model.RecentCustomer, 0, model.RecentCustomersLimit)
	if err := s.db.SelectContext(ctx, &recent, `
		SELECT id, customer_id, name, status, total_value, paid_amount, created_at
		  FROM customers
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?
	`, model.RecentCustomersLimit); err != nil {
		return model.DashboardStats{}, dbErr(err)
	}

	pays := make([]model.Payment, 0, model.RecentPaymentsLimit)
	if err := s.db.SelectContext(ctx, &pays, `
		SELECT `+paymentColumns+`
		  FROM payments p
		  JOIN customers c ON c.customer_id = p.customer_id
		 WHERE c.deleted_at IS NULL
		 ORDER BY p.created_at DESC, p.id DESC
		 LIMIT ?
	`, model.RecentPaymentsLimit); err != nil {
		return model.DashboardStats{}, dbErr(err)
	}

	return model.DashboardStats{
		Overview:        model.NewOverview(totals.Count, totals.Revenue, totals.Paid),
		StatusStats:     tally,
		RecentCustomers: recent,
		RecentPayments:  pays,
	}, nil
}

// AddPayment increments paid_amount in place, so concurrent payments on the
// same customer serialize on the row instead of overwriting each other.
func (s *SQLStore) AddPayment(ctx context.Context, p model.Payment) (model.PaymentOutcome, error) {
	now := s.now()
	p.ID = util.NewIDAt(now)
	p.CreatedAt = now

	var out model.PaymentOutcome
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			   SET paid_amount = paid_amount + ?, updated_at = ?
			 WHERE customer_id = ? AND deleted_at IS NULL
		`, p.Amount, now, p.CustomerID)
		if err != nil {
			return dbErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		var cur struct {
			CustomerID string  `db:"customer_id"`
			Name       string  `db:"name"`
			Status     string  `db:"status"`
			TotalValue float64 `db:"total_value"`
			PaidAmount float64 `db:"paid_amount"`
		}
		if err := tx.GetContext(ctx, &cur, `
			SELECT customer_id, name, status, total_value, paid_amount
			  FROM customers
			 WHERE customer_id = ?
		`, p.CustomerID); err != nil {
			return dbErr(err)
		}

		status, ok := model.ParseStatus(cur.Status)
		if !ok {
			status = model.StatusNotConfirmed
		}
		paid := model.ParseAmount(cur.PaidAmount)
		next := model.StatusAfterPayment(status, paid, cur.TotalValue)
		if next != status {
			if _, err := tx.ExecContext(ctx,
				`UPDATE customers SET status = ? WHERE customer_id = ?`,
				next.String(), cur.CustomerID,
			); err != nil {
				return dbErr(err)
			}
		}

		p.CustomerID = cur.CustomerID
		p.CustomerName = cur.Name
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, customer_id, amount, method, notes, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, p.CustomerID, p.Amount, p.Method.String(), p.Notes, p.CreatedAt); err != nil {
			return dbErr(err)
		}

		if err := s.insertLog(ctx, tx, model.ActionPayment, p.CustomerID, model.PaymentDetail(p.Amount, p.Method)); err != nil {
			return dbErr(err)
		}

		out = model.PaymentOutcome{Payment: p, NewPaidAmount: paid, NewStatus: next}
		return nil
	})
	if err != nil {
		return model.PaymentOutcome{}, err
	}
	return out, nil
}

func (s *SQLStore) Payments(ctx context.Context, customerID string) ([]model.Payment, error) {
	if _, err := s.live(ctx, s.db, customerID); err != nil {
		return nil, err
	}
	return s.payments(ctx, customerID)
}

func (s *SQLStore) payments(ctx context.Context, customerID string) ([]model.Payment, error) {
	out := make([]model.Payment, 0)
	if err := s.db.SelectContext(ctx, &out, `
		SELECT `+paymentColumns+`
		  FROM payments p
		  JOIN customers c ON c.customer_id = p.customer_id
		 WHERE p.customer_id = ?
		 ORDER BY p.created_at DESC, p.id DESC
	`, customerID); err != nil {
		return nil, dbErr(err)
	}
	return out, nil
}

func (s *SQLStore) Edit(ctx context.Context, req model.EditCustomerRequest) (model.Customer, error) {
	var c model.Customer
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		if c, err = s.live(ctx, tx, req.CustomerID); err != nil {
			return err
		}
		req.Apply(&c)
		c.UpdatedAt = s.now()

		if _, err := tx.NamedExecContext(ctx, `
			UPDATE customers
			   SET name = :name, address = :address, phone = :phone, email = :email,
			       gutter = :gutter, ceiling = :ceiling, roof = :roof, status = :status,
			       notes = :notes, total_value = :total_value, updated_at = :updated_at
			 WHERE id = :id
		`, c); err != nil {
			return dbErr(err)
		}
		return dbErr(s.insertLog(ctx, tx, model.ActionEdit, c.CustomerID, model.EditDetail(c.Name)))
	})
	if err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (s *SQLStore) SoftDelete(ctx context.Context, customerID string) error {
	now := s.now()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE customers
			   SET deleted_at = ?, updated_at = ?
			 WHERE customer_id = ? AND deleted_at IS NULL
		`, now, now, customerID)
		if err != nil {
			return dbErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return dbErr(s.insertLog(ctx, tx, model.ActionDelete, customerID, model.DeleteDetail()))
	})
}

// HardDelete removes the customer and its payments. Activity rows are kept.
func (s *SQLStore) HardDelete(ctx context.Context, customerID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE customer_id = ?`, customerID); err != nil {
			return dbErr(err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE customer_id = ?`, customerID)
		if err != nil {
			return dbErr(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return dbErr(s.insertLog(ctx, tx, model.ActionDelete, customerID, model.HardDeleteDetail()))
	})
}

func (s *SQLStore) live(ctx context.Context, q sqlx.QueryerContext, customerID string) (model.Customer, error) {
	var c model.Customer
	err := sqlx.GetContext(ctx, q, &c, `
		SELECT `+customerColumns+`
		  FROM customers
		 WHERE customer_id = ? AND deleted_at IS NULL
	`, strings.TrimSpace(customerID))
	if err != nil {
		return model.Customer{}, dbErr(err)
	}
	c.Services = c.ServicesSummary()
	return c, nil
}

func (s *SQLStore) insertLog(ctx context.Context, tx *sqlx.Tx, action model.Action, customerID, detail string) error {
	now := s.now()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO activity_logs (id, created_at, action, customer_id, details, actor)
		VALUES (?, ?, ?, ?, ?, ?)
	`, util.NewIDAt(now), now, action.String(), customerID, detail, model.ActorFrom(ctx))
	return err
}

// escapeLike quotes LIKE metacharacters with '!'.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// dbErr maps driver failures onto the store's error set. Errors that are
// already classified pass through unchanged.
func dbErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
}
