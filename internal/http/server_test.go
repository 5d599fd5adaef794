package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/auth"
	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/service/crm"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
)

const testSecret = "test-secret"

func testConfig() config.Config {
	var cfg config.Config
	cfg.Auth.Enabled = true
	cfg.Auth.CookieName = "auth-token"
	return cfg
}

type fixture struct {
	srv   *Server
	token string
}

func newFixture(t *testing.T, cfg config.Config, d Deps) fixture {
	t.Helper()
	m := auth.NewManager(testSecret, "crm-test", time.Hour)
	tok, err := m.Issue("ops@example.com", "Ops", "admin")
	if err != nil {
		t.Fatal(err)
	}
	d.Auth = m
	return fixture{srv: NewServer(cfg, d), token: tok}
}

func sheetCoordinator(t *testing.T) (*crm.Coordinator, *sheets.Workbook) {
	t.Helper()
	wb, err := sheets.OpenWorkbook("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = wb.Close() })
	store := repository.NewSheetStore(wb, repository.SheetTabs{}, nil, nil, nil)
	return crm.New([]repository.CustomerStore{store}, crm.Options{}), wb
}

func (f fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCustomerLifecycle(t *testing.T) {
	coord, _ := sheetCoordinator(t)
	f := newFixture(t, testConfig(), Deps{Customers: coord})

	rec := f.do(t, http.MethodPost, "/v1/customers",
		`{"name":"Alice","address":"1 Main St","phone":"0771234567","roof":"New","totalValue":"10000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	if rec.Header().Get(backendHeader) != "sheets" {
		t.Errorf("backend header = %q", rec.Header().Get(backendHeader))
	}
	created := decode[model.CreateResult](t, rec)
	if created.Result != model.ResultSuccess || created.ID != "CUST-1" {
		t.Fatalf("created = %+v", created)
	}

	rec = f.do(t, http.MethodPost, "/v1/customers/CUST-1/payments", `{"amount":4000,"method":"Cheque"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment 1: %d %s", rec.Code, rec.Body)
	}
	if p := decode[model.PaymentResult](t, rec); p.NewPaidAmount != 4000 || p.NewStatus != model.StatusPending {
		t.Fatalf("payment 1 = %+v", p)
	}

	rec = f.do(t, http.MethodPost, "/v1/payments", `{"customerId":"CUST-1","amount":6000}`)
	if p := decode[model.PaymentResult](t, rec); rec.Code != http.StatusOK || p.NewStatus != model.StatusCompleted {
		t.Fatalf("payment 2: %d %+v", rec.Code, p)
	}

	rec = f.do(t, http.MethodGet, "/v1/customers/CUST-1", "")
	cust := decode[model.Customer](t, rec)
	if rec.Code != http.StatusOK || cust.PaidAmount != 10000 || len(cust.Payments) != 2 || cust.Services != "New" {
		t.Fatalf("get: %d %+v", rec.Code, cust)
	}

	rec = f.do(t, http.MethodGet, "/v1/payments?customerId=CUST-1", "")
	if pays := decode[[]model.Payment](t, rec); len(pays) != 2 || pays[0].Amount != 6000 {
		t.Fatalf("payments = %+v", pays)
	}

	rec = f.do(t, http.MethodGet, "/v1/customers?search=alice&status=Completed", "")
	if list := decode[[]model.Customer](t, rec); len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}

	rec = f.do(t, http.MethodPut, "/v1/customers/CUST-1", `{"notes":"gate code 4411","status":"In Progress"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("edit: %d %s", rec.Code, rec.Body)
	}

	rec = f.do(t, http.MethodGet, "/v1/dashboard", "")
	st := decode[model.DashboardStats](t, rec)
	if st.Overview.TotalPaid != 10000 || st.StatusStats[model.StatusInProgress] != 1 || len(st.RecentCustomers) != 1 {
		t.Fatalf("dashboard = %+v", st)
	}

	rec = f.do(t, http.MethodDelete, "/v1/customers/CUST-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", rec.Code, rec.Body)
	}
	rec = f.do(t, http.MethodGet, "/v1/customers/CUST-1", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", rec.Code)
	}
	if e := decode[model.ErrorResult](t, rec); e.Result != model.ResultError || e.Message != "Customer not found" {
		t.Fatalf("error body = %+v", e)
	}
}

func TestMutationsRecordTheActor(t *testing.T) {
	coord, wb := sheetCoordinator(t)
	f := newFixture(t, testConfig(), Deps{Customers: coord})

	if rec := f.do(t, http.MethodPost, "/v1/customers", `{"name":"Bob","address":"x","phone":"1"}`); rec.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rec.Code, rec.Body)
	}
	sh, err := wb.Sheet("Log")
	if err != nil {
		t.Fatal(err)
	}
	logs, err := sh.ReadRows(context.Background(), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0][4] != "ops@example.com" {
		t.Fatalf("log rows = %q", logs)
	}
}

func TestValidationErrors(t *testing.T) {
	coord, _ := sheetCoordinator(t)
	f := newFixture(t, testConfig(), Deps{Customers: coord})

	cases := []struct {
		name, method, path, body string
	}{
		{"missing name", http.MethodPost, "/v1/customers", `{"address":"x","phone":"1"}`},
		{"bad email", http.MethodPost, "/v1/customers", `{"name":"A","address":"x","phone":"1","email":"nope"}`},
		{"bad json", http.MethodPost, "/v1/customers", `{"name":`},
		{"zero payment", http.MethodPost, "/v1/payments", `{"customerId":"CUST-1","amount":0}`},
		{"unknown method", http.MethodPost, "/v1/payments", `{"customerId":"CUST-1","amount":5,"method":"Gold"}`},
		{"unknown status filter", http.MethodGet, "/v1/customers?status=Lost", ""},
		{"bad hard flag", http.MethodDelete, "/v1/customers/CUST-1?hard=maybe", ""},
		{"hard delete unsupported", http.MethodDelete, "/v1/customers/CUST-1?hard=true", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, tc.method, tc.path, tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("code = %d, body %s", rec.Code, rec.Body)
			}
			if e := decode[model.ErrorResult](t, rec); e.Result != model.ResultError || e.Message == "" {
				t.Fatalf("body = %+v", e)
			}
		})
	}
}

func TestAuthentication(t *testing.T) {
	coord, _ := sheetCoordinator(t)
	f := newFixture(t, testConfig(), Deps{Customers: coord})

	anon := fixture{srv: f.srv}
	if rec := anon.do(t, http.MethodGet, "/v1/dashboard", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: %d", rec.Code)
	}

	forged := fixture{srv: f.srv, token: f.token + "x"}
	if rec := forged.do(t, http.MethodGet, "/v1/dashboard", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged: %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "auth-token", Value: f.token})
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("cookie: %d %s", rec.Code, rec.Body)
	}

	// health stays public
	if rec := anon.do(t, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rec.Code)
	}
}

func TestAuthDisabled(t *testing.T) {
	coord, _ := sheetCoordinator(t)
	cfg := testConfig()
	cfg.Auth.Enabled = false
	srv := NewServer(cfg, Deps{Customers: coord})

	rec := (fixture{srv: srv}).do(t, http.MethodGet, "/v1/customers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestStatusOf(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&model.ValidationError{Field: "name", Reason: "is required"}, http.StatusBadRequest},
		{repository.ErrUnsupported, http.StatusBadRequest},
		{fmt.Errorf("get: %w", repository.ErrNotFound), http.StatusNotFound},
		{repository.ErrConcurrentUpdate, http.StatusConflict},
		{fmt.Errorf("%w: boom", crm.ErrInternal), http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusOf(tc.err); got != tc.want {
			t.Errorf("statusOf(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

// failingService answers every call with err.
type failingService struct {
	CustomerService
	err error
}

func (s failingService) AddPayment(context.Context, model.AddPaymentRequest) (model.PaymentResult, error) {
	return model.PaymentResult{}, s.err
}

func (s failingService) Stats(context.Context) (model.DashboardStats, string, error) {
	return model.DashboardStats{}, "", s.err
}

func TestServiceErrorsUseEnvelope(t *testing.T) {
	conflict := newFixture(t, testConfig(), Deps{Customers: failingService{err: repository.ErrConcurrentUpdate}})
	rec := conflict.do(t, http.MethodPost, "/v1/payments", `{"customerId":"CUST-1","amount":10}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("conflict: %d", rec.Code)
	}

	down := newFixture(t, testConfig(), Deps{Customers: failingService{err: fmt.Errorf("%w: sheets: dial tcp refused", crm.ErrInternal)}})
	rec = down.do(t, http.MethodGet, "/v1/dashboard", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("internal: %d", rec.Code)
	}
	e := decode[model.ErrorResult](t, rec)
	if e.Message != crm.ErrInternal.Error() || strings.Contains(e.Message, "dial") {
		t.Fatalf("internal message leaked details: %q", e.Message)
	}
}

type fakeActivity struct {
	got  repository.ActivityQuery
	logs []model.ActivityLog
}

func (f *fakeActivity) ListActivity(_ context.Context, q repository.ActivityQuery) ([]model.ActivityLog, error) {
	f.got = q
	return f.logs, nil
}

func TestActivity(t *testing.T) {
	coord, _ := sheetCoordinator(t)

	off := newFixture(t, testConfig(), Deps{Customers: coord})
	if rec := off.do(t, http.MethodGet, "/v1/activity", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unconfigured: %d", rec.Code)
	}

	reader := &fakeActivity{logs: []model.ActivityLog{{ID: "01", Action: model.ActionCreate, CustomerID: "CUST-1"}}}
	f := newFixture(t, testConfig(), Deps{Customers: coord, Activity: reader})

	rec := f.do(t, http.MethodGet, "/v1/activity?customerId=CUST-1&action=payment&limit=20&offset=40", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: %d %s", rec.Code, rec.Body)
	}
	want := repository.ActivityQuery{CustomerID: "CUST-1", Action: model.ActionPayment, Limit: 20, Offset: 40}
	if reader.got != want {
		t.Fatalf("query = %+v, want %+v", reader.got, want)
	}

	for _, bad := range []string{"limit=5000", "action=LOGIN", "offset=-1"} {
		if rec := f.do(t, http.MethodGet, "/v1/activity?"+bad, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: %d", bad, rec.Code)
		}
	}
}

func TestSheetEndpointMounted(t *testing.T) {
	coord, wb := sheetCoordinator(t)
	cfg := testConfig()
	cfg.Sheets.ServeEndpoint = "/exec"
	cfg.Sheets.Token = "sheet-token"
	f := newFixture(t, cfg, Deps{Customers: coord, SheetBook: wb})

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	remote := sheets.NewRemote(ts.URL+"/exec", "sheet-token", 2000)
	store := repository.NewSheetStore(remote, repository.SheetTabs{}, nil, nil, nil)
	created, err := store.Create(context.Background(), model.Customer{Name: "Carol", Address: "x", Phone: "1", Status: model.StatusNotConfirmed})
	if err != nil {
		t.Fatalf("create over endpoint: %v", err)
	}

	// the API sees the row written through the endpoint
	rec := f.do(t, http.MethodGet, "/v1/customers/"+created.CustomerID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: %d %s", rec.Code, rec.Body)
	}
}
