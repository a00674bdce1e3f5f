package serverutils

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JwtMiddleware verifies the bearer token and stores its user_id and role
// claims in Locals.
func JwtMiddleware(ctx *fiber.Ctx) error {
	tokenStr, ok := strings.CutPrefix(ctx.Get("Authorization"), "Bearer ")
	if !ok || tokenStr == "" {
		return unauthorized(ctx, "Missing token")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return unauthorized(ctx, "Operator access is not configured")
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return unauthorized(ctx, "Invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return unauthorized(ctx, "Invalid claims")
	}

	ctx.Locals("user_id", claims["user_id"])
	ctx.Locals("role", claims["role"])
	return ctx.Next()
}

// RequireRole must run after JwtMiddleware.
func RequireRole(roles ...string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		role, _ := ctx.Locals("role").(string)
		for _, r := range roles {
			if role == r {
				return ctx.Next()
			}
		}
		return ctx.Status(fiber.StatusForbidden).JSON(ErrorResponse(fiber.StatusForbidden, "Operator role required"))
	}
}

func unauthorized(ctx *fiber.Ctx, msg string) error {
	return ctx.Status(fiber.StatusUnauthorized).JSON(ErrorResponse(fiber.StatusUnauthorized, msg))
}
