package api

import (
	"errors"

	"CryptoAlert/internal/domain/models"
	xhttp "CryptoAlert/pkg/http"

	"github.com/labstack/echo/v4"
)

// errorResponse maps domain errors onto HTTP errors.
func errorResponse(c echo.Context, err error) error {
	var appErr *xhttp.AppError
	if errors.As(err, &appErr) {
		return xhttp.AppErrorResponse(c, appErr)
	}
	switch {
	case errors.Is(err, models.ErrInvalidRule):
		appErr = xhttp.BadRequestError(err.Error())
	case errors.Is(err, models.ErrNotFound):
		appErr = xhttp.NotFoundError(err.Error())
	case errors.Is(err, models.ErrConcurrentModification):
		appErr = xhttp.ConflictError("alert changed concurrently, retry")
	default:
		appErr = xhttp.InternalError("internal error")
	}
	return xhttp.AppErrorResponse(c, appErr.WithError(err))
}
