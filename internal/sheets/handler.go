package sheets

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// NewHandler serves the scripting endpoint protocol over book. It lets a local
// deployment (and the Remote client's tests) run without the hosted script.
// A non-empty token must match the request's bearer token.
func NewHandler(book Book, token string) echo.HandlerFunc {
	return func(c echo.Context) error {
		if token != "" {
			got := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
			if got != token {
				return c.JSON(http.StatusUnauthorized, Response{Result: "error", Message: "unauthorized"})
			}
		}

		var req Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusOK, Response{Result: "error", Message: "bad request"})
		}

		if req.Sheet == "" {
			return c.JSON(http.StatusOK, Response{Result: "error", Message: "sheet is required"})
		}

		sh, err := book.Sheet(req.Sheet)
		if err != nil {
			log.Errorf("sheets: open %s: %v", req.Sheet, err)
			return c.JSON(http.StatusOK, Response{Result: "error", Message: err.Error()})
		}

		res, err := serve(c, sh, req)
		if err != nil {
			if !errors.Is(err, ErrOutOfRange) {
				log.Errorf("sheets: action=%s sheet=%s: %v", req.Action, req.Sheet, err)
			}
			return c.JSON(http.StatusOK, Response{Result: "error", Message: err.Error()})
		}

		res.Result = "success"
		return c.JSON(http.StatusOK, res)
	}
}

func serve(c echo.Context, sh Sheet, req Request) (Response, error) {
	ctx := c.Request().Context()

	switch req.Action {
	case ActionLastRow:
		n, err := sh.LastRow(ctx)
		return Response{Row: n}, err
	case ActionRead:
		rows, err := sh.ReadRows(ctx, req.From, req.Count)
		return Response{Rows: rows}, err
	case ActionReadColumn:
		vals, err := sh.ReadColumn(ctx, req.Col, req.From, req.Count)
		return Response{Values: vals}, err
	case ActionReadCell:
		v, err := sh.ReadCell(ctx, req.Row, req.Col)
		return Response{Value: v}, err
	case ActionWrite:
		return Response{}, sh.WriteCell(ctx, req.Row, req.Col, req.Value)
	case ActionWriteCells:
		return Response{}, sh.WriteCells(ctx, req.Row, req.Col, req.Values)
	case ActionAppend:
		row, err := sh.AppendRow(ctx, req.Values)
		return Response{Row: row}, err
	default:
		return Response{}, errors.New("unknown action " + req.Action)
	}
}
