package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

func write(c echo.Context, status int, data interface{}) error {
	return c.JSON(status, APIResponse{
		Status:  status,
		Message: http.StatusText(status),
		Data:    data,
	})
}

func SuccessResponse(c echo.Context, data interface{}) error {
	return write(c, http.StatusOK, data)
}

// ListResponse wraps rows with their total count.
func ListResponse(c echo.Context, rows interface{}, total int) error {
	return write(c, http.StatusOK, ListData{Rows: rows, Total: total})
}

func BadRequestResponse(c echo.Context, data interface{}) error {
	return write(c, http.StatusBadRequest, data)
}

// AppErrorResponse renders an *AppError with its own status. Anything else
// becomes an opaque 500.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return write(c, appErr.Status, []*AppError{appErr})
	}
	return write(c, http.StatusInternalServerError, "internal error")
}
