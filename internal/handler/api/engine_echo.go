package api

import (
	"context"

	"CryptoAlert/internal/usecase"
	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
)

// EngineControl is the part of usecase.Engine the surface drives.
type EngineControl interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() usecase.EngineStatus
}

type EngineEchoHandler struct {
	logger *applogger.Logger
	engine EngineControl
}

func NewEngineEchoHandler(l *applogger.Logger, engine EngineControl) *EngineEchoHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &EngineEchoHandler{logger: l, engine: engine}
}

func (h *EngineEchoHandler) Status(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.engine.Status())
}

func (h *EngineEchoHandler) Start(c echo.Context) error {
	if err := h.engine.Start(c.Request().Context()); err != nil {
		h.logger.Error("engine start failed", applogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.engine.Status())
}

// Stop waits for the running tick and the queued notifications.
func (h *EngineEchoHandler) Stop(c echo.Context) error {
	if err := h.engine.Stop(c.Request().Context()); err != nil {
		h.logger.Error("engine stop failed", applogger.Error(err))
		return errorResponse(c, err)
	}
	return xhttp.SuccessResponse(c, h.engine.Status())
}
