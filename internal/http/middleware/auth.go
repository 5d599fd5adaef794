package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/crm-gateway/internal/auth"
	"github.com/jmehdipour/crm-gateway/internal/model"
	echo "github.com/labstack/echo/v4"
)

const ctxActor = "actor"

// ActorFromCtx returns the authenticated actor set by AuthMiddleware.
func ActorFromCtx(c echo.Context) (string, bool) {
	v, ok := c.Get(ctxActor).(string)
	return v, ok && v != ""
}

// AuthMiddleware accepts a session JWT from the cookie or an
// "Authorization: Bearer" header. On success the actor email is stored in
// the echo context and in the request context for activity logging.
func AuthMiddleware(m *auth.Manager, cookieName string) echo.MiddlewareFunc {
	if cookieName == "" {
		cookieName = "auth-token"
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := bearer(c.Request().Header.Get("Authorization"))
			if tok == "" {
				if ck, err := c.Cookie(cookieName); err == nil {
					tok = strings.TrimSpace(ck.Value)
				}
			}
			if tok == "" {
				return c.JSON(http.StatusUnauthorized, model.ErrorResult{Result: model.ResultError, Message: "missing session token"})
			}

			claims, err := m.Verify(tok)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, model.ErrorResult{Result: model.ResultError, Message: "invalid session token"})
			}

			c.Set(ctxActor, claims.Email)
			req := c.Request()
			c.SetRequest(req.WithContext(model.WithActor(req.Context(), claims.Email)))
			return next(c)
		}
	}
}

func bearer(h string) string {
	parts := strings.SplitN(strings.TrimSpace(h), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
