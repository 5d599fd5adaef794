package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/crm-gateway/internal/auth"
	"github.com/jmehdipour/crm-gateway/internal/config"
	"github.com/jmehdipour/crm-gateway/internal/http/middleware"
	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/service/crm"
	"github.com/jmehdipour/crm-gateway/internal/sheets"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CustomerService is the coordinator surface the handlers use.
type CustomerService interface {
	Create(ctx context.Context, req model.CreateCustomerRequest) (model.CreateResult, error)
	Get(ctx context.Context, customerID string) (model.Customer, string, error)
	List(ctx context.Context, f model.ListFilter) ([]model.Customer, string, error)
	Stats(ctx context.Context) (model.DashboardStats, string, error)
	AddPayment(ctx context.Context, req model.AddPaymentRequest) (model.PaymentResult, error)
	Payments(ctx context.Context, customerID string) ([]model.Payment, string, error)
	Edit(ctx context.Context, req model.EditCustomerRequest) (model.OpResult, error)
	Delete(ctx context.Context, customerID string, hard bool) (model.OpResult, error)
	Health() []crm.BackendHealth
}

var _ CustomerService = (*crm.Coordinator)(nil)

// Deps are the collaborators built by the serve command. Activity, Auth,
// Redis and SheetBook are optional.
type Deps struct {
	Customers CustomerService
	Activity  repository.ActivityReader
	Auth      *auth.Manager
	Redis     *redis.Client
	SheetBook sheets.Book
	Logger    *zap.Logger
}

type Server struct{ e *echo.Echo }

type requestValidator struct{}

func (requestValidator) Validate(i any) error { return model.Validate(i) }

func NewServer(cfg config.Config, d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = requestValidator{}
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", healthHandler(d.Customers))

	// remote sheet endpoint emulator (has its own token)
	if cfg.Sheets.ServeEndpoint != "" && d.SheetBook != nil {
		e.POST(cfg.Sheets.ServeEndpoint, sheets.NewHandler(d.SheetBook, cfg.Sheets.Token))
		log.Info("sheet endpoint mounted", zap.String("path", cfg.Sheets.ServeEndpoint))
	}

	// middlewares
	var mws []echo.MiddlewareFunc
	if cfg.Auth.Enabled && d.Auth != nil {
		mws = append(mws, middleware.AuthMiddleware(d.Auth, cfg.Auth.CookieName))
	} else {
		log.Warn("authentication disabled; mutations are attributed to the system actor")
	}
	mws = append(mws, middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		RPS:            cfg.RateLimit.RPS,
		Burst:          cfg.RateLimit.Burst,
		KeyPrefix:      "rl:actor:",
		Window:         time.Second,
		RetryAfterHint: true,
	}))

	h := &handlers{svc: d.Customers, activity: d.Activity, log: log}

	// routes
	v1 := e.Group("/v1", mws...)
	v1.POST("/customers", h.createCustomer)
	v1.GET("/customers", h.listCustomers)
	v1.GET("/customers/:id", h.getCustomer)
	v1.PUT("/customers/:id", h.editCustomer)
	v1.DELETE("/customers/:id", h.deleteCustomer)
	v1.POST("/customers/:id/payments", h.addPayment)
	v1.GET("/customers/:id/payments", h.listPayments)
	v1.POST("/payments", h.addPayment)
	v1.GET("/payments", h.listPayments)
	v1.GET("/dashboard", h.dashboard)
	v1.GET("/activity", h.listActivity)

	return &Server{e: e}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	zap.L().Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func healthHandler(svc CustomerService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var backends []crm.BackendHealth
		if svc != nil {
			backends = svc.Health()
		}
		return c.JSON(http.StatusOK, map[string]any{
			"status":   "ok",
			"backends": backends,
		})
	}
}
