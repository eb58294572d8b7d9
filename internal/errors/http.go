package errors

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// HTTPErrorResponse represents the structure of error responses sent to clients
type HTTPErrorResponse struct {
	Error   ErrorInfo              `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ErrorInfo contains the core error information
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

// ToHTTPError converts an error to an Echo HTTP error carrying a structured body
func ToHTTPError(err error) error {
	if we, ok := As(err); ok {
		details := we.Details
		if we.Cause != nil {
			if details != "" {
				details += ": "
			}
			details += we.Cause.Error()
		}
		return echo.NewHTTPError(we.GetHTTPStatus(), HTTPErrorResponse{
			Error: ErrorInfo{
				Code:    we.Code,
				Message: we.Message,
				Details: details,
			},
			Context: we.Context,
		})
	}

	return echo.NewHTTPError(http.StatusInternalServerError, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInternal,
			Message: "Internal server error",
			Details: err.Error(),
		},
	})
}

// BadRequest creates a 400 Bad Request error
func BadRequest(message, details string) error {
	return echo.NewHTTPError(http.StatusBadRequest, HTTPErrorResponse{
		Error: ErrorInfo{
			Code:    ErrInvalidInput,
			Message: message,
			Details: details,
		},
	})
}
