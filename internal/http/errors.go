package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/jmehdipour/crm-gateway/internal/service/crm"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const backendHeader = "X-CRM-Backend"

// statusOf maps domain errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation), errors.Is(err, repository.ErrUnsupported):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrConcurrentUpdate):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c echo.Context, err error) error {
	code := statusOf(err)

	msg := err.Error()
	switch {
	case errors.Is(err, repository.ErrNotFound):
		msg = "Customer not found"
	case errors.Is(err, repository.ErrUnsupported):
		msg = "operation not supported by any configured backend"
	case code == http.StatusInternalServerError:
		h.log.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = crm.ErrInternal.Error()
	}

	return c.JSON(code, model.ErrorResult{Result: model.ResultError, Message: msg})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, model.ErrorResult{Result: model.ResultError, Message: msg})
}

func ok(c echo.Context, code int, backend string, body any) error {
	if backend != "" {
		c.Response().Header().Set(backendHeader, backend)
	}
	return c.JSON(code, body)
}
