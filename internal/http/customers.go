package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type handlers struct {
	svc      CustomerService
	activity repository.ActivityReader
	log      *zap.Logger
}

func (h *handlers) createCustomer(c echo.Context) error {
	var req model.CreateCustomerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	res, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusCreated, res.Backend, res)
}

func (h *handlers) listCustomers(c echo.Context) error {
	f := model.ListFilter{Search: strings.TrimSpace(c.QueryParam("search"))}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st, valid := model.ParseStatus(raw)
		if !valid {
			return badRequest(c, "status: is not a known status")
		}
		f.Status = st
	}

	list, backend, err := h.svc.List(c.Request().Context(), f)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, backend, list)
}

func (h *handlers) getCustomer(c echo.Context) error {
	cust, backend, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, backend, cust)
}

func (h *handlers) editCustomer(c echo.Context) error {
	var req model.EditCustomerRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	req.CustomerID = c.Param("id")

	res, err := h.svc.Edit(c.Request().Context(), req)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res.Backend, res)
}

func (h *handlers) deleteCustomer(c echo.Context) error {
	hard := false
	if v := c.QueryParam("hard"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "hard: must be a boolean")
		}
		hard = b
	}

	res, err := h.svc.Delete(c.Request().Context(), c.Param("id"), hard)
	if err != nil {
		return h.fail(c, err)
	}
	return ok(c, http.StatusOK, res.Backend, res)
}
