package handler

import (
	"errors"
	"net/http"
	"strings"

	"checkout-payments/internal/apperr"
	"checkout-payments/internal/dto"
	"checkout-payments/internal/repository"
	"checkout-payments/internal/service"

	validatorv10 "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	kindNotFound = "NotFound"
	kindInternal = "InternalError"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindInvalidAmount:      http.StatusBadRequest,
	apperr.KindEmptyCart:          http.StatusBadRequest,
	apperr.KindMissingFields:      http.StatusBadRequest,
	apperr.KindInvalidSignature:   http.StatusBadRequest,
	apperr.KindInvalidTransition:  http.StatusBadRequest,
	apperr.KindOrderNotFound:      http.StatusNotFound,
	apperr.KindGatewayRejected:    http.StatusBadGateway,
	apperr.KindGatewayUnavailable: http.StatusServiceUnavailable,
	apperr.KindSweepInProgress:    http.StatusConflict,
	apperr.KindUnauthorized:       http.StatusUnauthorized,
	apperr.KindForbidden:          http.StatusForbidden,
}

// ErrorHandler renders every error returned by a handler as the
// {"success":false,"error":...,"message":...} body. Unknown errors are
// logged and reported as a bare 500.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := describe(err)
		if status >= http.StatusInternalServerError && body.Error == kindInternal {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err))
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			log.Warn("failed to write error response", zap.Error(err))
		}
	}
}

func describe(err error) (int, dto.ErrorResponse) {
	if e, ok := apperr.From(err); ok {
		status, known := kindStatus[e.Kind]
		if !known {
			status = http.StatusInternalServerError
		}
		return status, dto.ErrorResponse{Error: string(e.Kind), Message: e.Message}
	}

	var verrs validatorv10.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
		}
		return http.StatusBadRequest, dto.ErrorResponse{
			Error:   string(apperr.KindMissingFields),
			Message: "invalid fields: " + strings.Join(fields, ", "),
		}
	}

	switch {
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, service.ErrCartItemNotFound):
		return http.StatusNotFound, dto.ErrorResponse{Error: kindNotFound, Message: err.Error()}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		kind := kindInternal
		switch {
		case he.Code == http.StatusUnauthorized:
			kind = string(apperr.KindUnauthorized)
		case he.Code == http.StatusNotFound || he.Code == http.StatusMethodNotAllowed:
			kind = kindNotFound
		case he.Code < http.StatusInternalServerError:
			kind = string(apperr.KindMissingFields)
		}
		return he.Code, dto.ErrorResponse{Error: kind, Message: msg}
	}

	return http.StatusInternalServerError, dto.ErrorResponse{Error: kindInternal, Message: "internal server error"}
}
