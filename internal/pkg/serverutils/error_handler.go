package serverutils

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandlerMiddleware turns errors returned by handlers into the response envelope.
func ErrorHandlerMiddleware() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		err := ctx.Next()
		if err == nil {
			return nil
		}
		code, message := MapError(err)
		return ctx.Status(code).JSON(ErrorResponse(code, message))
	}
}

// MapError picks the HTTP status and client-facing message for an error.
func MapError(err error) (int, string) {
	var fiberErr *fiber.Error
	var validationErrs validator.ValidationErrors

	switch {
	case cache.IsCorrupt(err):
		return fiber.StatusServiceUnavailable, "Routing is unavailable until the routing cache is rebuilt"
	case errors.Is(err, clarify.ErrNoPendingClarification),
		errors.Is(err, clarify.ErrInvalidOption),
		errors.Is(err, clarify.ErrUnknownStage):
		return fiber.StatusBadRequest, err.Error()
	case errors.As(err, &validationErrs):
		return fiber.StatusBadRequest, validationMessage(validationErrs)
	case errors.As(err, &fiberErr):
		return fiberErr.Code, fiberErr.Message
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout, "Request timed out"
	default:
		return fiber.StatusInternalServerError, "Internal server error"
	}
}

func validationMessage(errs validator.ValidationErrors) string {
	parts := make([]string, 0, len(errs))
	for _, fe := range errs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return "Validation failed: " + strings.Join(parts, ", ")
}
