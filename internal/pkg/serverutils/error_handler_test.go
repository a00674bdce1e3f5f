package serverutils

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"procedure-assistant-be/pkg/routing/cache"
	"procedure-assistant-be/pkg/routing/clarify"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	type payload struct {
		Query string `validate:"required"`
	}
	validationErr := ValidateRequest(&payload{})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"corrupt cache", fmt.Errorf("route: %w", &cache.CacheCorruptError{Path: "x", Reason: "bad header"}), fiber.StatusServiceUnavailable},
		{"invalid option", fmt.Errorf("resolve: %w", clarify.ErrInvalidOption), fiber.StatusBadRequest},
		{"no pending dialogue", clarify.ErrNoPendingClarification, fiber.StatusBadRequest},
		{"validation", validationErr, fiber.StatusBadRequest},
		{"fiber error", fiber.ErrUnprocessableEntity, fiber.StatusUnprocessableEntity},
		{"deadline", context.DeadlineExceeded, fiber.StatusGatewayTimeout},
		{"anything else", errors.New("boom"), fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := MapError(tt.err)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, msg)
		})
	}
}

func TestMapError_HidesInternalDetails(t *testing.T) {
	_, msg := MapError(errors.New("pq: password authentication failed"))
	assert.Equal(t, "Internal server error", msg)
}
