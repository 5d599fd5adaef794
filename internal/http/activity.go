package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/crm-gateway/internal/model"
	"github.com/jmehdipour/crm-gateway/internal/repository"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type activityQuery struct {
	CustomerID string `query:"customerId"`
	Action     string `query:"action" json:"action" validate:"omitempty,oneof=CREATE EDIT PAYMENT DELETE"`
	Actor      string `query:"actor"`
	Limit      int    `query:"limit"  json:"limit"  validate:"omitempty,min=1,max=1000"`
	Offset     int    `query:"offset" json:"offset" validate:"min=0"`
}

func (h *handlers) listActivity(c echo.Context) error {
	if h.activity == nil {
		return c.JSON(http.StatusServiceUnavailable, model.ErrorResult{Result: model.ResultError, Message: "activity log is not configured"})
	}

	var q activityQuery
	if err := c.Bind(&q); err != nil {
		return badRequest(c, "invalid query")
	}
	q.Action = strings.ToUpper(strings.TrimSpace(q.Action))
	if err := c.Validate(&q); err != nil {
		return badRequest(c, err.Error())
	}
	if q.Limit == 0 {
		q.Limit = 50
	}

	logs, err := h.activity.ListActivity(c.Request().Context(), repository.ActivityQuery{
		CustomerID: strings.TrimSpace(q.CustomerID),
		Action:     model.Action(q.Action),
		Actor:      strings.ToLower(strings.TrimSpace(q.Actor)),
		Limit:      q.Limit,
		Offset:     q.Offset,
	})
	if err != nil {
		h.log.Error("clickhouse activity list failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, model.ErrorResult{Result: model.ResultError, Message: "query failed"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"limit":   q.Limit,
		"offset":  q.Offset,
		"count":   len(logs),
		"results": logs,
	})
}
