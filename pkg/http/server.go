package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"CryptoAlert/pkg/http/middleware"
	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type serverConfig struct {
	host          string
	port          int
	read, write   time.Duration
	shutdown      time.Duration
	slowThreshold time.Duration
	cors          bool
	logger        *applogger.Logger
	registry      *prometheus.Registry
}

type ServerOption func(*serverConfig)

func WithHost(host string) ServerOption {
	return func(c *serverConfig) { c.host = host }
}

func WithPort(port int) ServerOption {
	return func(c *serverConfig) { c.port = port }
}

// WithTimeouts sets the read and write deadlines and the default grace
// period used by Stop.
func WithTimeouts(read, write, shutdown time.Duration) ServerOption {
	return func(c *serverConfig) {
		c.read, c.write, c.shutdown = read, write, shutdown
	}
}

func WithCORS(enabled bool) ServerOption {
	return func(c *serverConfig) { c.cors = enabled }
}

func WithServerLogger(l *applogger.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithRegistry turns on request metrics and serves /metrics from reg
// instead of the global registry.
func WithRegistry(reg *prometheus.Registry) ServerOption {
	return func(c *serverConfig) { c.registry = reg }
}

// WithSlowThreshold sets the latency above which a request is logged at warn.
func WithSlowThreshold(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.slowThreshold = d }
}

// Server is the Echo instance plus its listen settings.
type Server struct {
	echo *echo.Echo
	cfg  serverConfig
	log  *applogger.Logger
}

func NewServer(handler Handler, opts ...ServerOption) *Server {
	cfg := serverConfig{
		host:          "0.0.0.0",
		port:          8080,
		read:          10 * time.Second,
		write:         10 * time.Second,
		shutdown:      10 * time.Second,
		slowThreshold: time.Second,
		cors:          true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = applogger.Nop()
	}

	e := echo.New()
	e.HideBanner, e.HidePort = true, true
	e.Server.ReadTimeout = cfg.read
	e.Server.WriteTimeout = cfg.write

	e.Use(middleware.Recover(cfg.logger), middleware.RequestLogging(cfg.logger))
	e.Use(echomw.BodyLimit("64K"))
	if cfg.registry != nil {
		m := middleware.NewHTTPMetrics(cfg.registry)
		e.Use(m.InFlight(), m.Middleware(cfg.logger, cfg.slowThreshold))
	}
	if cfg.cors {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: []string{"*"},
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	metrics := promhttp.Handler()
	if cfg.registry != nil {
		metrics = promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{Registry: cfg.registry})
	}
	e.GET("/metrics", echo.WrapHandler(metrics))

	if handler != nil {
		handler.RegisterRoutes(e)
	}
	return &Server{echo: e, cfg: cfg, log: cfg.logger}
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
}

// ListenAndServe blocks until the listener fails or Stop is called. The
// latter returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", applogger.String("addr", s.Addr()))
	err := s.echo.Start(s.Addr())
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop drains in-flight requests. Without a ctx deadline the configured
// shutdown timeout applies.
func (s *Server) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && s.cfg.shutdown > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.shutdown)
		defer cancel()
	}
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

// Echo exposes the router, mainly for httptest.
func (s *Server) Echo() *echo.Echo { return s.echo }
