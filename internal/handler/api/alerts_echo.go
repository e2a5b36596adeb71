package api

import (
	"CryptoAlert/internal/domain/models"
	"CryptoAlert/internal/usecase"
	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"

	"github.com/labstack/echo/v4"
)

// AlertsEchoHandler exposes the alert commands.
type AlertsEchoHandler struct {
	logger *applogger.Logger
	svc    *usecase.AlertService
}

func NewAlertsEchoHandler(l *applogger.Logger, svc *usecase.AlertService) *AlertsEchoHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &AlertsEchoHandler{logger: l, svc: svc}
}

func (h *AlertsEchoHandler) List(c echo.Context) error {
	req := &models.ListAlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rules, err := h.svc.List(c.Request().Context(), req.User)
	if err != nil {
		return h.fail(c, "list", err)
	}
	return xhttp.ListResponse(c, rules, len(rules))
}

// Upsert is add-alert: either or both thresholds.
func (h *AlertsEchoHandler) Upsert(c echo.Context) error {
	req := &models.UpsertAlertRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rule, err := h.svc.Add(c.Request().Context(), req.User, req.Symbol, req.High, req.Low)
	if err != nil {
		return h.fail(c, "upsert", err)
	}
	return xhttp.SuccessResponse(c, rule)
}

func (h *AlertsEchoHandler) Upper(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rule, err := h.svc.SetUpper(c.Request().Context(), req.User, req.Symbol, *req.Price)
	if err != nil {
		return h.fail(c, "upper", err)
	}
	return xhttp.SuccessResponse(c, rule)
}

func (h *AlertsEchoHandler) Lower(c echo.Context) error {
	req := &models.LimitRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rule, err := h.svc.SetLower(c.Request().Context(), req.User, req.Symbol, *req.Price)
	if err != nil {
		return h.fail(c, "lower", err)
	}
	return xhttp.SuccessResponse(c, rule)
}

func (h *AlertsEchoHandler) Remove(c echo.Context) error {
	req := &models.AlertPath{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	removed, err := h.svc.Remove(c.Request().Context(), req.User, req.Symbol)
	if err != nil {
		return h.fail(c, "remove", err)
	}
	return xhttp.SuccessResponse(c, models.RemoveAlertResponse{Removed: removed})
}

func (h *AlertsEchoHandler) fail(c echo.Context, op string, err error) error {
	h.logger.Warn("alerts "+op+" failed",
		applogger.String("user", c.Param("user")),
		applogger.String("symbol", c.Param("symbol")),
		applogger.Error(err),
	)
	return errorResponse(c, err)
}
