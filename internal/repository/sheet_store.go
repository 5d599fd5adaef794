package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
	"github.com/jmehdipour/crm-gateway/internal/util"
	"go.uber.org/zap"
)

// Customer tab columns.
const (
	colDate = iota + 1
	colCustomerID
	colName
	colAddress
	colPhone
	colEmail
	colGutter
	colCeiling
	colRoof
	colStatus
	colNotes
	colPaid
	colTotal
	colRecord
)

const (
	recordNew     = "NEW"
	recordDeleted = "DELETED"

	sheetTimeLayout = "2006-01-02 15:04:05"
	maxLogsPerGet   = 50
)

// Dates in the workbook are written in the business's local time.
var sheetZone = time.FixedZone("GMT+5:30", 5*60*60+30*60)

var (
	customerHeader = []string{
		"Date", "Customer ID", "Name", "Address", "Phone", "Email", "Gutter", "Ceiling", "Roof",
		"Status", "Notes", "Paid Amount", "Total Value", "Record Status",
	}
	paymentHeader = []string{"Date", "Payment ID", "Customer ID", "Customer Name", "Amount", "Method", "Notes"}
	logHeader     = []string{"Date", "Action", "Customer ID", "Details", "User"}
)

// SheetTabs names the three tabs of the CRM workbook.
type SheetTabs struct {
	Customers string
	Payments  string
	Log       string
}

// SheetStore keeps customers in a spreadsheet. Records are located by
// scanning the customer ID column; soft-deleted rows stay in place.
type SheetStore struct {
	book  sheets.Book
	tabs  SheetTabs
	ids   IDAllocator
	locks Locker
	log   *zap.Logger

	mu      sync.Mutex
	ensured map[string]bool
}

var _ CustomerStore = (*SheetStore)(nil)

// NewSheetStore wires a store over book. Nil ids, locks or log fall back to
// the row-count allocator, an in-process locker and a no-op logger.
func NewSheetStore(book sheets.Book, tabs SheetTabs, ids IDAllocator, locks Locker, log *zap.Logger) *SheetStore {
	if tabs.Customers == "" {
		tabs.Customers = "Sheet1"
	}
	if tabs.Payments == "" {
		tabs.Payments = "Payments"
	}
	if tabs.Log == "" {
		tabs.Log = "Log"
	}
	if ids == nil {
		ids = RowCountAllocator{}
	}
	if locks == nil {
		locks = NewLocalLocker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SheetStore{
		book:    book,
		tabs:    tabs,
		ids:     ids,
		locks:   locks,
		log:     log,
		ensured: make(map[string]bool, 3),
	}
}

func (s *SheetStore) Name() string { return "sheets" }

func (s *SheetStore) Create(ctx context.Context, c model.Customer) (model.Customer, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return model.Customer{}, err
	}

	last, err := sh.LastRow(ctx)
	if err != nil {
		return model.Customer{}, sheetErr(err)
	}
	n, err := s.ids.Allocate(ctx, last)
	if err != nil {
		return model.Customer{}, err
	}

	now := time.Now().In(sheetZone).Truncate(time.Second)
	c.CustomerID = model.FormatCustomerID(n)
	c.ID = c.CustomerID
	c.PaidAmount = 0
	c.CreatedAt = now
	c.UpdatedAt = now
	c.Services = c.ServicesSummary()

	if _, err := sh.AppendRow(ctx, customerRow(c, recordNew)); err != nil {
		return model.Customer{}, sheetErr(err)
	}

	s.appendLog(ctx, model.ActionCreate, c.CustomerID, model.CreateDetail(c.Name))
	return c, nil
}

func (s *SheetStore) Get(ctx context.Context, customerID string) (model.Customer, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return model.Customer{}, err
	}
	rec, err := s.live(ctx, sh, customerID)
	if err != nil {
		return model.Customer{}, err
	}

	c := rec.c
	if c.Payments, err = s.paymentsFor(ctx, c.CustomerID, 0); err != nil {
		return model.Customer{}, err
	}
	if c.Logs, err = s.logsFor(ctx, c.CustomerID, maxLogsPerGet); err != nil {
		return model.Customer{}, err
	}
	return c, nil
}

func (s *SheetStore) List(ctx context.Context, f model.ListFilter) ([]model.Customer, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return nil, err
	}
	recs, err := s.scan(ctx, sh)
	if err != nil {
		return nil, err
	}

	out := make([]model.Customer, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		r := recs[i]
		if r.deleted || !f.Matches(r.c) {
			continue
		}
		out = append(out, r.c)
	}
	return out, nil
}

func (s *SheetStore) Stats(ctx context.Context) (model.DashboardStats, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return model.DashboardStats{}, err
	}
	recs, err := s.scan(ctx, sh)
	if err != nil {
		return model.DashboardStats{}, err
	}

	var (
		count         int
		revenue, paid float64
		tally         = model.NewStatusTally()
		live          = make([]model.Customer, 0, len(recs))
		deleted       = make(map[string]bool)
	)
	for _, r := range recs {
		if r.deleted {
			deleted[r.c.CustomerID] = true
			continue
		}
		count++
		revenue += r.c.TotalValue
		paid += r.c.PaidAmount
		tally[r.c.Status]++
		live = append(live, r.c)
	}

	// newest live rows first, not the top of the sheet
	recent := make([]model.RecentCustomer, 0, model.RecentCustomersLimit)
	for i := len(live) - 1; i >= 0 && len(recent) < model.RecentCustomersLimit; i-- {
		recent = append(recent, model.RecentFromCustomer(live[i]))
	}

	pays, err := s.readPayments(ctx)
	if err != nil {
		return model.DashboardStats{}, err
	}
	recentPays := make([]model.Payment, 0, model.RecentPaymentsLimit)
	for i := len(pays) - 1; i >= 0 && len(recentPays) < model.RecentPaymentsLimit; i-- {
		if deleted[pays[i].CustomerID] {
			continue
		}
		recentPays = append(recentPays, pays[i])
	}

	return model.DashboardStats{
		Overview:        model.NewOverview(count, revenue, paid),
		StatusStats:     tally,
		RecentCustomers: recent,
		RecentPayments:  recentPays,
	}, nil
}

// AddPayment holds the customer's lock for the whole read-modify-write.
// Status, notes and paid (J..L) go out in one write, after the paid cell is
// re-read; a changed value means another writer got there first. The
// Payments row is appended last and the cells are restored if it fails.
func (s *SheetStore) AddPayment(ctx context.Context, p model.Payment) (model.PaymentOutcome, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return model.PaymentOutcome{}, err
	}
	pays, err := s.tab(ctx, s.tabs.Payments, paymentHeader)
	if err != nil {
		return model.PaymentOutcome{}, err
	}

	unlock, err := s.locks.Lock(ctx, p.CustomerID)
	if err != nil {
		return model.PaymentOutcome{}, err
	}
	defer unlock()

	rec, err := s.live(ctx, sh, p.CustomerID)
	if err != nil {
		return model.PaymentOutcome{}, err
	}
	c := rec.c

	newPaid := model.ParseAmount(c.PaidAmount + p.Amount)
	newStatus := model.StatusAfterPayment(c.Status, newPaid, c.TotalValue)

	now := time.Now().In(sheetZone).Truncate(time.Second)
	p.ID = util.NewIDAt(now)
	p.CustomerID = c.CustomerID
	p.CustomerName = c.Name
	p.CreatedAt = now

	cur, err := sh.ReadCell(ctx, rec.row, colPaid)
	if err != nil {
		return model.PaymentOutcome{}, sheetErr(err)
	}
	if model.ParseAmount(cur) != c.PaidAmount {
		return model.PaymentOutcome{}, ErrConcurrentUpdate
	}

	before := []string{c.Status.String(), model.StringValue(c.Notes), cur}
	after := []string{newStatus.String(), model.StringValue(c.Notes), model.FormatAmount(newPaid)}
	if err := sh.WriteCells(ctx, rec.row, colStatus, after); err != nil {
		return model.PaymentOutcome{}, sheetErr(err)
	}

	if _, err := pays.AppendRow(ctx, paymentRow(p)); err != nil {
		if rerr := sh.WriteCells(context.WithoutCancel(ctx), rec.row, colStatus, before); rerr != nil {
			s.log.Error("payment rollback failed",
				zap.String("customer_id", c.CustomerID),
				zap.Int("row", rec.row),
				zap.Error(rerr),
			)
		}
		return model.PaymentOutcome{}, sheetErr(err)
	}

	s.appendLog(ctx, model.ActionPayment, c.CustomerID, model.PaymentDetail(p.Amount, p.Method))

	return model.PaymentOutcome{Payment: p, NewPaidAmount: newPaid, NewStatus: newStatus}, nil
}

func (s *SheetStore) Payments(ctx context.Context, customerID string) ([]model.Payment, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return nil, err
	}
	rec, err := s.live(ctx, sh, customerID)
	if err != nil {
		return nil, err
	}
	return s.paymentsFor(ctx, rec.c.CustomerID, 0)
}

// Edit rewrites Name..TotalValue in place. Paid amount is never changed.
func (s *SheetStore) Edit(ctx context.Context, req model.EditCustomerRequest) (model.Customer, error) {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return model.Customer{}, err
	}

	unlock, err := s.locks.Lock(ctx, req.CustomerID)
	if err != nil {
		return model.Customer{}, err
	}
	defer unlock()

	rec, err := s.live(ctx, sh, req.CustomerID)
	if err != nil {
		return model.Customer{}, err
	}
	c := rec.c
	req.Apply(&c)

	// C..M in one write; L is written back as it stands right now.
	cur, err := sh.ReadCell(ctx, rec.row, colPaid)
	if err != nil {
		return model.Customer{}, sheetErr(err)
	}
	c.PaidAmount = model.ParseAmount(cur)

	row := customerRow(c, recordNew)
	row[colPaid-1] = cur
	if err := sh.WriteCells(ctx, rec.row, colName, row[colName-1:colTotal]); err != nil {
		return model.Customer{}, sheetErr(err)
	}

	s.appendLog(ctx, model.ActionEdit, c.CustomerID, model.EditDetail(c.Name))
	return c, nil
}

func (s *SheetStore) SoftDelete(ctx context.Context, customerID string) error {
	sh, err := s.tab(ctx, s.tabs.Customers, customerHeader)
	if err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, customerID)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := s.live(ctx, sh, customerID)
	if err != nil {
		return err
	}
	if err := sh.WriteCell(ctx, rec.row, colRecord, recordDeleted); err != nil {
		return sheetErr(err)
	}

	s.appendLog(ctx, model.ActionDelete, rec.c.CustomerID, model.DeleteDetail())
	return nil
}

// tab opens a tab and writes its header row the first time it is seen empty.
func (s *SheetStore) tab(ctx context.Context, name string, header []string) (sheets.Sheet, error) {
	sh, err := s.book.Sheet(name)
	if err != nil {
		return nil, sheetErr(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[name] {
		return sh, nil
	}

	n, err := sh.LastRow(ctx)
	if err != nil {
		return nil, sheetErr(err)
	}
	if n == 0 {
		if _, err := sh.AppendRow(ctx, header); err != nil {
			return nil, sheetErr(err)
		}
	}
	s.ensured[name] = true
	return sh, nil
}

type sheetRecord struct {
	row     int
	c       model.Customer
	deleted bool
}

func (s *SheetStore) scan(ctx context.Context, sh sheets.Sheet) ([]sheetRecord, error) {
	last, err := sh.LastRow(ctx)
	if err != nil {
		return nil, sheetErr(err)
	}
	if last < 2 {
		return nil, nil
	}
	rows, err := sh.ReadRows(ctx, 2, last-1)
	if err != nil {
		return nil, sheetErr(err)
	}

	out := make([]sheetRecord, 0, len(rows))
	for i, vals := range rows {
		rec := parseCustomerRow(i+2, vals)
		if rec.c.CustomerID == "" {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// find returns the row holding customerID.
func (s *SheetStore) find(ctx context.Context, sh sheets.Sheet, customerID string) (int, error) {
	id := strings.TrimSpace(customerID)
	if id == "" {
		return 0, ErrNotFound
	}

	last, err := sh.LastRow(ctx)
	if err != nil {
		return 0, sheetErr(err)
	}
	if last < 2 {
		return 0, ErrNotFound
	}
	ids, err := sh.ReadColumn(ctx, colCustomerID, 2, last-1)
	if err != nil {
		return 0, sheetErr(err)
	}
	for i, v := range ids {
		if strings.TrimSpace(v) == id {
			return i + 2, nil
		}
	}
	return 0, ErrNotFound
}

// live loads a customer that has not been soft-deleted.
func (s *SheetStore) live(ctx context.Context, sh sheets.Sheet, customerID string) (sheetRecord, error) {
	row, err := s.find(ctx, sh, customerID)
	if err != nil {
		return sheetRecord{}, err
	}
	rows, err := sh.ReadRows(ctx, row, 1)
	if err != nil {
		return sheetRecord{}, sheetErr(err)
	}
	if len(rows) == 0 {
		return sheetRecord{}, ErrNotFound
	}
	rec := parseCustomerRow(row, rows[0])
	if rec.deleted {
		return sheetRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *SheetStore) readPayments(ctx context.Context) ([]model.Payment, error) {
	sh, err := s.tab(ctx, s.tabs.Payments, paymentHeader)
	if err != nil {
		return nil, err
	}
	last, err := sh.LastRow(ctx)
	if err != nil {
		return nil, sheetErr(err)
	}
	if last < 2 {
		return nil, nil
	}
	rows, err := sh.ReadRows(ctx, 2, last-1)
	if err != nil {
		return nil, sheetErr(err)
	}

	out := make([]model.Payment, 0, len(rows))
	for _, vals := range rows {
		if p, ok := parsePaymentRow(vals); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// paymentsFor returns a customer's payments newest first; limit 0 means all.
func (s *SheetStore) paymentsFor(ctx context.Context, customerID string, limit int) ([]model.Payment, error) {
	all, err := s.readPayments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Payment, 0)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].CustomerID != customerID {
			continue
		}
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *SheetStore) logsFor(ctx context.Context, customerID string, limit int) ([]model.ActivityLog, error) {
	sh, err := s.tab(ctx, s.tabs.Log, logHeader)
	if err != nil {
		return nil, err
	}
	last, err := sh.LastRow(ctx)
	if err != nil {
		return nil, sheetErr(err)
	}
	out := make([]model.ActivityLog, 0)
	if last < 2 {
		return out, nil
	}
	rows, err := sh.ReadRows(ctx, 2, last-1)
	if err != nil {
		return nil, sheetErr(err)
	}
	for i := len(rows) - 1; i >= 0; i-- {
		vals := pad(rows[i], len(logHeader))
		if strings.TrimSpace(vals[2]) != customerID {
			continue
		}
		out = append(out, model.ActivityLog{
			ID:         strconv.Itoa(i + 2),
			Timestamp:  parseSheetTime(vals[0]),
			Action:     model.Action(strings.TrimSpace(vals[1])),
			CustomerID: strings.TrimSpace(vals[2]),
			Detail:     vals[3],
			Actor:      vals[4],
			Backend:    s.Name(),
		})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// appendLog writes an audit row. The mutation it describes has already
// happened, so a failure here is logged rather than returned.
func (s *SheetStore) appendLog(ctx context.Context, action model.Action, customerID, detail string) {
	sh, err := s.tab(ctx, s.tabs.Log, logHeader)
	if err == nil {
		_, err = sh.AppendRow(ctx, []string{
			time.Now().In(sheetZone).Format(sheetTimeLayout),
			action.String(),
			customerID,
			detail,
			model.ActorFrom(ctx),
		})
	}
	if err != nil {
		s.log.Warn("sheet activity log append failed",
			zap.String("action", action.String()),
			zap.String("customer_id", customerID),
			zap.Error(err),
		)
	}
}

func customerRow(c model.Customer, record string) []string {
	return []string{
		c.CreatedAt.In(sheetZone).Format(sheetTimeLayout),
		c.CustomerID,
		c.Name,
		c.Address,
		c.Phone,
		model.StringValue(c.Email),
		c.Gutter.String(),
		c.Ceiling.String(),
		c.Roof.String(),
		c.Status.String(),
		model.StringValue(c.Notes),
		model.FormatAmount(c.PaidAmount),
		model.FormatAmount(c.TotalValue),
		record,
	}
}

func parseCustomerRow(row int, raw []string) sheetRecord {
	vals := pad(raw, len(customerHeader))
	for i := range vals {
		vals[i] = strings.TrimSpace(vals[i])
	}

	gutter, _ := model.ParseServiceOption(vals[colGutter-1])
	ceiling, _ := model.ParseServiceOption(vals[colCeiling-1])
	roof, _ := model.ParseServiceOption(vals[colRoof-1])
	status, ok := model.ParseStatus(vals[colStatus-1])
	if !ok {
		status = model.StatusNotConfirmed
	}
	created := parseSheetTime(vals[colDate-1])

	c := model.Customer{
		ID:         vals[colCustomerID-1],
		CustomerID: vals[colCustomerID-1],
		Name:       vals[colName-1],
		Address:    vals[colAddress-1],
		Phone:      vals[colPhone-1],
		Email:      model.OptionalString(vals[colEmail-1]),
		Gutter:     gutter,
		Ceiling:    ceiling,
		Roof:       roof,
		Status:     status,
		Notes:      model.OptionalString(vals[colNotes-1]),
		PaidAmount: model.ParseAmount(vals[colPaid-1]),
		TotalValue: model.ParseAmount(vals[colTotal-1]),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
	c.Services = c.ServicesSummary()

	return sheetRecord{
		row:     row,
		c:       c,
		deleted: strings.EqualFold(vals[colRecord-1], recordDeleted),
	}
}

func paymentRow(p model.Payment) []string {
	return []string{
		p.CreatedAt.In(sheetZone).Format(sheetTimeLayout),
		p.ID,
		p.CustomerID,
		p.CustomerName,
		model.FormatAmount(p.Amount),
		p.Method.String(),
		model.StringValue(p.Notes),
	}
}

func parsePaymentRow(raw []string) (model.Payment, bool) {
	vals := pad(raw, len(paymentHeader))
	if strings.TrimSpace(vals[2]) == "" {
		return model.Payment{}, false
	}
	method, ok := model.ParsePaymentMethod(vals[5])
	if !ok {
		method = model.PaymentMethod(strings.TrimSpace(vals[5]))
	}
	return model.Payment{
		ID:           strings.TrimSpace(vals[1]),
		CustomerID:   strings.TrimSpace(vals[2]),
		CustomerName: strings.TrimSpace(vals[3]),
		Amount:       model.ParseAmount(vals[4]),
		Method:       method,
		Notes:        model.OptionalString(vals[6]),
		CreatedAt:    parseSheetTime(vals[0]),
	}, true
}

func parseSheetTime(v string) time.Time {
	v = strings.TrimSpace(v)
	if t, err := time.ParseInLocation(sheetTimeLayout, v, sheetZone); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

func pad(vals []string, n int) []string {
	out := make([]string, max(n, len(vals)))
	copy(out, vals)
	return out
}

// sheetErr maps transport failures to ErrBackendUnavailable and lets
// cancellation through untouched.
func sheetErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}
