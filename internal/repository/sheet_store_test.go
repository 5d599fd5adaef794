package repository

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

func newWorkbook(t *testing.T) *sheets.Workbook {
	t.Helper()
	wb, err := sheets.OpenWorkbook("")
	if err != nil {
		t.Fatalf("OpenWorkbook: %v", err)
	}
	t.Cleanup(func() { _ = wb.Close() })
	return wb
}

func TestSheetStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) CustomerStore {
		return NewSheetStore(newWorkbook(t), SheetTabs{}, nil, nil, zap.NewNop())
	})
}

func TestSheetStoreOverRemote(t *testing.T) {
	runStoreContract(t, func(t *testing.T) CustomerStore {
		e := echo.New()
		e.POST("/exec", sheets.NewHandler(newWorkbook(t), ""))
		srv := httptest.NewServer(e)
		t.Cleanup(srv.Close)
		return NewSheetStore(sheets.NewRemote(srv.URL+"/exec", "", 5000), SheetTabs{}, nil, nil, zap.NewNop())
	})
}

func TestSheetStoreRowLayout(t *testing.T) {
	wb := newWorkbook(t)
	s := NewSheetStore(wb, SheetTabs{Customers: "Customers"}, nil, nil, nil)
	ctx := context.Background()

	c, err := s.Create(ctx, newCustomer(t, "Alice", "alice@example.com", 10000))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SoftDelete(ctx, c.CustomerID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}

	sh, _ := wb.Sheet("Customers")
	rows, err := sh.ReadRows(ctx, 1, 2)
	if err != nil || len(rows) != 2 {
		t.Fatalf("ReadRows = %v, %v", rows, err)
	}
	if rows[0][colCustomerID-1] != "Customer ID" || rows[0][colRecord-1] != "Record Status" {
		t.Errorf("header = %q", rows[0])
	}

	row := rows[1]
	want := map[int]string{
		colCustomerID: "CUST-1",
		colName:       "Alice",
		colPhone:      "077 123 4567",
		colEmail:      "alice@example.com",
		colGutter:     "New",
		colCeiling:    "None",
		colStatus:     "Not Confirmed",
		colPaid:       "0",
		colTotal:      "10000",
		colRecord:     "DELETED",
	}
	for col, v := range want {
		if row[col-1] != v {
			t.Errorf("column %d = %q, want %q", col, row[col-1], v)
		}
	}
	if parseSheetTime(row[colDate-1]).IsZero() {
		t.Errorf("date %q does not parse", row[colDate-1])
	}
}

func TestSheetStoreWritesHeaderOnce(t *testing.T) {
	wb := newWorkbook(t)
	ctx := context.Background()

	for range 2 {
		s := NewSheetStore(wb, SheetTabs{}, nil, nil, nil)
		mustCreate(t, s, "Alice", 1)
	}

	sh, _ := wb.Sheet("Sheet1")
	ids, err := sh.ReadColumn(ctx, colCustomerID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 3 || ids[0] != "Customer ID" || ids[1] != "CUST-1" || ids[2] != "CUST-2" {
		t.Errorf("id column = %q", ids)
	}
}

// tamperBook changes the paid cell the first time it is re-read, the way a
// second writer editing the sheet directly would.
type tamperBook struct {
	sheets.Book
	once sync.Once
}

func (b *tamperBook) Sheet(name string) (sheets.Sheet, error) {
	sh, err := b.Book.Sheet(name)
	if err != nil {
		return nil, err
	}
	return &tamperSheet{Sheet: sh, b: b}, nil
}

type tamperSheet struct {
	sheets.Sheet
	b *tamperBook
}

func (s *tamperSheet) ReadCell(ctx context.Context, row, col int) (string, error) {
	if col == colPaid {
		s.b.once.Do(func() { _ = s.Sheet.WriteCell(ctx, row, col, "999") })
	}
	return s.Sheet.ReadCell(ctx, row, col)
}

func TestSheetStoreDetectsConcurrentPaidChange(t *testing.T) {
	wb := newWorkbook(t)
	s := NewSheetStore(&tamperBook{Book: wb}, SheetTabs{}, nil, nil, nil)
	ctx := context.Background()

	c := mustCreate(t, s, "Alice", 10000)
	_, err := s.AddPayment(ctx, model.Payment{CustomerID: c.CustomerID, Amount: 4000, Method: model.MethodCash})
	if !errors.Is(err, ErrConcurrentUpdate) {
		t.Fatalf("AddPayment err = %v, want ErrConcurrentUpdate", err)
	}

	got, err := s.Get(ctx, c.CustomerID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaidAmount != 999 || len(got.Payments) != 0 {
		t.Errorf("customer after conflict = paid %v, %d payments", got.PaidAmount, len(got.Payments))
	}

	// The next attempt sees the new value and succeeds.
	out := pay(t, s, c.CustomerID, 1)
	if out.NewPaidAmount != 1000 {
		t.Errorf("paid after retry = %v", out.NewPaidAmount)
	}
}

func TestSheetStoreUnavailable(t *testing.T) {
	s := NewSheetStore(sheets.NewRemote("http://127.0.0.1:1/exec", "", 300), SheetTabs{}, nil, nil, nil)

	_, err := s.Create(context.Background(), newCustomer(t, "Alice", "", 1))
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

type fixedAllocator int

func (a fixedAllocator) Allocate(context.Context, int) (int, error) { return int(a), nil }

func TestSheetStoreUsesAllocator(t *testing.T) {
	s := NewSheetStore(newWorkbook(t), SheetTabs{}, fixedAllocator(41), nil, nil)
	c := mustCreate(t, s, "Alice", 1)
	if c.CustomerID != "CUST-41" || c.ID != "CUST-41" {
		t.Errorf("ids = %s/%s", c.ID, c.CustomerID)
	}
}

// flakyBook fails the chosen writes once armed, leaving reads alone.
type flakyBook struct {
	sheets.Book
	mu         sync.Mutex
	failCells  string // tab whose WriteCells fails
	failAppend string // tab whose AppendRow fails
}

func (b *flakyBook) arm(cells, appendTab string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failCells, b.failAppend = cells, appendTab
}

func (b *flakyBook) Sheet(name string) (sheets.Sheet, error) {
	sh, err := b.Book.Sheet(name)
	if err != nil {
		return nil, err
	}
	return &flakySheet{Sheet: sh, b: b}, nil
}

type flakySheet struct {
	sheets.Sheet
	b *flakyBook
}

func (s *flakySheet) WriteCell(ctx context.Context, row, col int, v string) error {
	return s.WriteCells(ctx, row, col, []string{v})
}

func (s *flakySheet) WriteCells(ctx context.Context, row, col int, vals []string) error {
	s.b.mu.Lock()
	fail := s.b.failCells == s.Name()
	s.b.mu.Unlock()
	if fail {
		return sheets.ErrUnavailable
	}
	return s.Sheet.WriteCells(ctx, row, col, vals)
}

func (s *flakySheet) AppendRow(ctx context.Context, vals []string) (int, error) {
	s.b.mu.Lock()
	fail := s.b.failAppend == s.Name()
	s.b.mu.Unlock()
	if fail {
		return 0, sheets.ErrUnavailable
	}
	return s.Sheet.AppendRow(ctx, vals)
}

func TestSheetStoreFailedWritesLeaveNoTrace(t *testing.T) {
	type state struct {
		paid     float64
		status   model.Status
		name     string
		payments int
	}

	tests := []struct {
		name   string
		prepay float64
		cells  string
		append string
		op     func(ctx context.Context, s *SheetStore, id string) error
		want   state
	}{
		{
			name:  "payment when the customer row cannot be written",
			cells: "Sheet1",
			op: func(ctx context.Context, s *SheetStore, id string) error {
				_, err := s.AddPayment(ctx, model.Payment{CustomerID: id, Amount: 4000, Method: model.MethodCash})
				return err
			},
			want: state{paid: 0, status: model.StatusNotConfirmed, name: "Alice", payments: 0},
		},
		{
			name:   "payment when the payment row cannot be appended",
			prepay: 1000,
			append: "Payments",
			op: func(ctx context.Context, s *SheetStore, id string) error {
				_, err := s.AddPayment(ctx, model.Payment{CustomerID: id, Amount: 9000, Method: model.MethodCash})
				return err
			},
			want: state{paid: 1000, status: model.StatusPending, name: "Alice", payments: 1},
		},
		{
			name:  "edit when the customer row cannot be written",
			cells: "Sheet1",
			op: func(ctx context.Context, s *SheetStore, id string) error {
				name, total := "Alice P.", model.Amount(20000)
				_, err := s.Edit(ctx, model.EditCustomerRequest{CustomerID: id, Name: &name, TotalValue: &total})
				return err
			},
			want: state{paid: 0, status: model.StatusNotConfirmed, name: "Alice", payments: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			book := &flakyBook{Book: newWorkbook(t)}
			s := NewSheetStore(book, SheetTabs{}, nil, nil, nil)
			ctx := context.Background()

			c := mustCreate(t, s, "Alice", 10000)
			if tt.prepay > 0 {
				pay(t, s, c.CustomerID, tt.prepay)
			}

			book.arm(tt.cells, tt.append)
			if err := tt.op(ctx, s, c.CustomerID); !errors.Is(err, ErrBackendUnavailable) {
				t.Fatalf("err = %v, want ErrBackendUnavailable", err)
			}
			book.arm("", "")

			got, err := s.Get(ctx, c.CustomerID)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			have := state{paid: got.PaidAmount, status: got.Status, name: got.Name, payments: len(got.Payments)}
			if have != tt.want {
				t.Errorf("after failed write = %+v, want %+v", have, tt.want)
			}
		})
	}
}

func TestSheetStoreEditKeepsPaidCell(t *testing.T) {
	wb := newWorkbook(t)
	s := NewSheetStore(wb, SheetTabs{}, nil, nil, nil)
	ctx := context.Background()

	c := mustCreate(t, s, "Alice", 10000)
	sh, _ := wb.Sheet("Sheet1")
	if err := sh.WriteCell(ctx, 2, colPaid, "2500"); err != nil {
		t.Fatal(err)
	}

	notes := "gate code 1234"
	got, err := s.Edit(ctx, model.EditCustomerRequest{CustomerID: c.CustomerID, Notes: &notes})
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if got.PaidAmount != 2500 {
		t.Errorf("edit result paid = %v", got.PaidAmount)
	}
	if v, _ := sh.ReadCell(ctx, 2, colPaid); v != "2500" {
		t.Errorf("paid cell = %q", v)
	}
}

func TestSheetStoreIDsAreCaseSensitive(t *testing.T) {
	s := NewSheetStore(newWorkbook(t), SheetTabs{}, nil, nil, nil)
	c := mustCreate(t, s, "Alice", 1)

	if _, err := s.Get(context.Background(), strings.ToLower(c.CustomerID)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(lowercase id) err = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(context.Background(), " "+c.CustomerID+" "); err != nil {
		t.Errorf("Get(padded id): %v", err)
	}
}
