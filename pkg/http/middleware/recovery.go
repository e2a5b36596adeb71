package middleware

import (
	"net/http"

	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// Recover turns a handler panic into a logged 500 in the API envelope.
func Recover(l *applogger.Logger) echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		StackSize: 8 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			l.Error("http handler panic",
				applogger.Error(err),
				applogger.String("path", c.Path()),
				applogger.String("stack", string(stack)),
			)
			if c.Response().Committed {
				return nil
			}
			return c.JSON(http.StatusInternalServerError, map[string]interface{}{
				"status":  http.StatusInternalServerError,
				"message": http.StatusText(http.StatusInternalServerError),
			})
		},
	})
}
