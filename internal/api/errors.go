package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/branchline/pkg/models"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(code models.ErrorCode) int {
	switch code {
	case models.CodeNotFound:
		return http.StatusNotFound
	case models.CodeInvalidForkPoint, models.CodeInvalidOption:
		return http.StatusUnprocessableEntity
	case models.CodeQueueMismatch, models.CodeConcurrentStateConflict:
		return http.StatusConflict
	case models.CodeInvalidArgument:
		return http.StatusBadRequest
	case models.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// httpErrorCode names echo's own errors (routing, binding, auth)
func httpErrorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return string(models.CodeInvalidArgument)
	case http.StatusNotFound:
		return string(models.CodeNotFound)
	case http.StatusInternalServerError:
		return string(models.CodeInternal)
	case http.StatusServiceUnavailable:
		return string(models.CodeUnavailable)
	}
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

func toErrorResponse(err error) (int, ErrorResponse) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := fmt.Sprint(he.Message)
		if he.Message == nil {
			msg = http.StatusText(he.Code)
		}
		return he.Code, ErrorResponse{Code: httpErrorCode(he.Code), Message: msg}
	}

	var coded *models.Error
	if errors.As(err, &coded) {
		msg := coded.Message
		if msg == "" {
			msg = string(coded.Code)
		}
		return statusFor(coded.Code), ErrorResponse{Code: string(coded.Code), Message: msg}
	}

	return http.StatusInternalServerError, ErrorResponse{Code: string(models.CodeInternal), Message: "internal error"}
}

func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, body := toErrorResponse(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("method", c.Request().Method).Str("path", c.Path()).Msg("Request failed")
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, body)
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to write error response")
	}
}
