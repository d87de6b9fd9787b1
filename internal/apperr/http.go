package apperr

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Body is the JSON error payload written by ErrorHandler.
type Body struct {
	Code    Code   `json:"code,omitempty"`
	Message string `json:"message"`
}

// ErrorHandler renders coded errors with their status and reason, and
// falls back to fiber's own errors for everything else.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var coded *Error
	if errors.As(err, &coded) {
		return c.Status(coded.Code.HTTPStatus()).JSON(Body{Code: coded.Code, Message: coded.Message})
	}

	status := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
	}
	return c.Status(status).JSON(Body{Message: err.Error()})
}

// FromResponse rebuilds a typed error from an API response body.
func FromResponse(status int, body []byte) error {
	var b Body
	if err := json.Unmarshal(body, &b); err == nil && b.Code != "" {
		return New(b.Code, b.Message)
	}
	if status >= 500 {
		return Wrap(CodePersistenceUnavailable, "server error", fmt.Errorf("status %d: %s", status, string(body)))
	}
	return fmt.Errorf("unexpected status %d: %s", status, string(body))
}
