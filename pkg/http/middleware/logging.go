package middleware

import (
	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// RequestLogging emits one debug line per request. Handler errors are
// logged at warn.
func RequestLogging(l *applogger.Logger) echo.MiddlewareFunc {
	return echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogRemoteIP: true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		LogValuesFunc: func(_ echo.Context, v echomw.RequestLoggerValues) error {
			fields := []applogger.Field{
				applogger.String("method", v.Method),
				applogger.String("uri", v.URI),
				applogger.String("remote", v.RemoteIP),
				applogger.Int("status", v.Status),
				applogger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				l.Warn("http request failed", append(fields, applogger.Error(v.Error))...)
				return nil
			}
			l.Debug("http request", fields...)
			return nil
		},
	})
}
