package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// envelope is the JSend body every review API route answers with.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

const (
	jsendSuccess = "success"
	jsendFail    = "fail"
	jsendError   = "error"
)

func respond(c echo.Context, code int, body envelope) error {
	return c.JSON(code, body)
}

func success(c echo.Context, data any) error {
	return successWithStatus(c, http.StatusOK, data)
}

func successWithStatus(c echo.Context, code int, data any) error {
	return respond(c, code, envelope{Status: jsendSuccess, Data: data})
}

// fail reports a caller-side problem. data is omitted when nil.
func fail(c echo.Context, code int, message string, data any) error {
	return respond(c, code, envelope{Status: jsendFail, Message: message, Data: data})
}

func failValidation(c echo.Context, fieldErrors map[string]string) error {
	return fail(c, http.StatusBadRequest, "Validation failed", map[string]any{
		"validation_errors": fieldErrors,
	})
}

func failNotFound(c echo.Context, message string) error {
	return fail(c, http.StatusNotFound, message, nil)
}

// failConflict is used when the article exists but is not in a state the
// request can act on.
func failConflict(c echo.Context, message string) error {
	return fail(c, http.StatusConflict, message, nil)
}

func internalError(c echo.Context, message string) error {
	return respond(c, http.StatusInternalServerError, envelope{
		Status:  jsendError,
		Message: message,
		Code:    http.StatusInternalServerError,
	})
}
