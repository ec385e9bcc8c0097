package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	bearerPrefix = "Bearer "
	authDetail   = "Invalid Authorization header"
)

// ErrAuthFormat は Authorization ヘッダーが不正な場合に返されます
var ErrAuthFormat = errors.New("invalid authorization header")

// BearerAuth は "Bearer <token>" 形式の Authorization ヘッダーを要求する。
// expected が空でなければトークンの一致も検証する
func BearerAuth(expected string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || strings.TrimSpace(token) == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, authDetail).SetInternal(ErrAuthFormat)
			}

			if expected != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, authDetail).SetInternal(ErrAuthFormat)
			}

			return next(c)
		}
	}
}
