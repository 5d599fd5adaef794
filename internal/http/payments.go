package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/labstack/echo/v4"
)

// addPayment serves both /customers/:id/payments and /payments; the path
// id wins over a body customerId.
func (h *handlers) addPayment(c echo.Context) error {
	var req model.AddPaymentRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if id := c.Param("id"); id != "" {
		req.CustomerID = id
	}

	res, err := h.svc.AddPayment(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res.Backend, res)
}

func (h *handlers) listPayments(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		id = strings.TrimSpace(c.QueryParam("customerId"))
	}

	pays, backend, err := h.svc.Payments(c.Request().Context(), id)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, backend, pays)
}

func (h *handlers) dashboard(c echo.Context) error {
	st, backend, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, backend, st)
}
