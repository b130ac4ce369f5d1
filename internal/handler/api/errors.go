package api

import (
	"errors"

	"TradeWatch/internal/domain/models"
	xhttp "TradeWatch/pkg/http"
	xlogger "TradeWatch/pkg/logger"

	"github.com/labstack/echo/v4"
)

// toAppError maps domain errors onto HTTP errors. Unknown errors become 500.
func toAppError(err error) *xhttp.AppError {
	var appErr *xhttp.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, models.ErrInvalidRange):
		return xhttp.NewAppError("ERR_INVALID_RANGE", "entry_range", err.Error(), 400).WithError(err)
	case errors.Is(err, models.ErrInvalidSchedule):
		return xhttp.NewAppError("ERR_INVALID_SCHEDULE", "", err.Error(), 400).WithError(err)
	case errors.Is(err, models.ErrInvalidArgument):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrNotFound):
		return xhttp.NotFoundError(err.Error()).WithError(err)
	case errors.Is(err, models.ErrBusy):
		return xhttp.ConflictError(err.Error()).WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}

// errorResponse logs server-side failures and writes the mapped error.
func errorResponse(c echo.Context, l *xlogger.Logger, op string, err error) error {
	appErr := toAppError(err)
	if appErr.Status >= 500 {
		l.Error(op+" failed", xlogger.Error(err), xlogger.String("path", c.Path()))
	}
	return xhttp.AppErrorResponse(c, appErr)
}
