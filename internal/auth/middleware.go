package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/estate-auth/internal/domain"
)

const principalKey = "auth_principal"

// Validator turns a presented signed token into a verified user. The
// token service satisfies it; tests substitute fakes.
type Validator interface {
	Validate(ctx context.Context, raw string, kind domain.TokenKind) (*domain.User, *Claims, error)
}

// Principal represents the authenticated caller.
type Principal struct {
	User   *domain.User
	Claims *Claims
}

// AuthMiddleware validates bearer access tokens and loads principals.
type AuthMiddleware struct {
	validator Validator
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(validator Validator) *AuthMiddleware {
	return &AuthMiddleware{validator: validator}
}

// Handle enforces authentication for protected routes. Every request
// goes through the full validation path including the blacklist check.
// Validation failures propagate as-is; the global error middleware owns
// the HTTP status mapping.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	raw, err := BearerToken(c)
	if err != nil {
		return err
	}

	user, claims, err := m.validator.Validate(c.Context(), raw, domain.TokenKindAccess)
	if err != nil {
		return err
	}

	c.Locals(principalKey, &Principal{User: user, Claims: claims})
	return c.Next()
}

// BearerToken extracts the raw token from the Authorization header.
func BearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fiber.NewError(http.StatusUnauthorized, "invalid authorization header")
	}
	return parts[1], nil
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
