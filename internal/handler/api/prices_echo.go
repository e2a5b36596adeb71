package api

import (
	"errors"
	"time"

	"CryptoAlert/internal/domain/models"
	drepo "CryptoAlert/internal/domain/repository"
	"CryptoAlert/internal/usecase"
	"CryptoAlert/pkg/cache"
	xhttp "CryptoAlert/pkg/http"
	applogger "CryptoAlert/pkg/logger"
	"CryptoAlert/pkg/util"

	"github.com/labstack/echo/v4"
)

// PricesEchoHandler serves the last observed price and, when a history sink
// is configured, past samples.
type PricesEchoHandler struct {
	logger   *applogger.Logger
	cache    cache.Service
	history  drepo.PriceHistory
	maxRange time.Duration
	now      func() time.Time
}

func NewPricesEchoHandler(l *applogger.Logger, c cache.Service, history drepo.PriceHistory, maxRange time.Duration) *PricesEchoHandler {
	if l == nil {
		l = applogger.Nop()
	}
	if maxRange <= 0 {
		maxRange = 7 * 24 * time.Hour
	}
	return &PricesEchoHandler{logger: l, cache: c, history: history, maxRange: maxRange, now: time.Now}
}

func (h *PricesEchoHandler) Last(c echo.Context) error {
	req := &models.PriceRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)

	var s models.PriceSample
	err := h.cache.Get(c.Request().Context(), usecase.PriceKey(symbol), &s)
	if errors.Is(err, cache.ErrCacheMiss) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no price observed for %s", symbol))
	}
	if err != nil {
		h.logger.Error("price cache read failed", applogger.String("symbol", symbol), applogger.Error(err))
		return errorResponse(c, err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.SuccessResponse(c, s)
}

func (h *PricesEchoHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("price history is disabled"))
	}
	req := &models.PriceHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	symbol := util.NormalizeSymbol(req.Symbol)
	now := h.now()
	from, to := util.ClampRange(
		util.ParseTimeDefault(req.From, now.Add(-24*time.Hour)),
		util.ParseTimeDefault(req.To, now),
		h.maxRange,
	)

	rows, err := h.history.Query(c.Request().Context(), symbol, from, to, req.Limit)
	if err != nil {
		h.logger.Error("price history query failed", applogger.String("symbol", symbol), applogger.Error(err))
		return errorResponse(c, err)
	}
	if rows == nil {
		rows = []models.PriceSample{}
	}
	return xhttp.ListResponse(c, rows, len(rows))
}
