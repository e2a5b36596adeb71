package api

import (
	"CryptoAlert/internal/service/ratelimit"
	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
)

// Router mounts every command route under /api.
type Router struct {
	alerts  *AlertsEchoHandler
	engine  *EngineEchoHandler
	prices  *PricesEchoHandler
	limiter ratelimit.Limiter
	logger  *applogger.Logger
}

var _ xhttp.Handler = (*Router)(nil)

// NewRouter wires the handlers. A nil limiter disables rate limiting.
func NewRouter(l *applogger.Logger, alerts *AlertsEchoHandler, engine *EngineEchoHandler, prices *PricesEchoHandler, limiter ratelimit.Limiter) *Router {
	if l == nil {
		l = applogger.Nop()
	}
	return &Router{alerts: alerts, engine: engine, prices: prices, limiter: limiter, logger: l}
}

func (r *Router) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")

	users := g.Group("/users/:user", r.rateLimit)
	users.GET("/alerts", r.alerts.List)
	users.PUT("/alerts/:symbol", r.alerts.Upsert)
	users.PUT("/alerts/:symbol/upper", r.alerts.Upper)
	users.PUT("/alerts/:symbol/lower", r.alerts.Lower)
	users.DELETE("/alerts/:symbol", r.alerts.Remove)

	g.GET("/engine", r.engine.Status)
	g.POST("/engine/start", r.engine.Start)
	g.POST("/engine/stop", r.engine.Stop)

	g.GET("/prices/:symbol", r.prices.Last)
	g.GET("/prices/:symbol/history", r.prices.History)
}

// rateLimit applies a token bucket per user. Limiter errors let the request
// through.
func (r *Router) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if r.limiter == nil {
			return next(c)
		}
		user := c.Param("user")
		ok, err := r.limiter.Allow(c.Request().Context(), "user:"+user)
		if err != nil {
			r.logger.Warn("rate limiter unavailable", applogger.String("user", user), applogger.Error(err))
			return next(c)
		}
		if !ok {
			r.logger.Warn("rate limited", applogger.String("user", user), applogger.String("remote", c.RealIP()))
			return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many requests, slow down"))
		}
		return next(c)
	}
}
