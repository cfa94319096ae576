package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/estate-auth/internal/api/dto"
	"github.com/spec-kit/estate-auth/internal/domain"
	"github.com/spec-kit/estate-auth/internal/service"
	apperrors "github.com/spec-kit/estate-auth/pkg/util"
)

// UsersHandler exposes registration and login endpoints.
type UsersHandler struct {
	accounts *service.AccountService
	tokens   *service.TokenService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(accounts *service.AccountService, tokens *service.TokenService) *UsersHandler {
	return &UsersHandler{accounts: accounts, tokens: tokens}
}

// Register handles POST /auth/users/register.
func (h *UsersHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return fiber.NewError(http.StatusBadRequest, "name, email, password required")
	}
	role := domain.Role(req.Role)
	if !role.Valid() {
		return fiber.NewError(http.StatusBadRequest, "role must be searcher or real_estate_entity")
	}

	user, err := h.accounts.Register(c.Context(), req.Name, req.Email, req.Password, role)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    user.ID,
				"name":  user.Name,
				"email": user.Email,
				"role":  user.Role,
			},
		},
	})
}

// Login handles POST /auth/users/login: credential verification plus a
// fresh token pair.
func (h *UsersHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return fiber.NewError(http.StatusBadRequest, "email and password required")
	}

	user, pair, err := h.tokens.Authenticate(c.Context(), req.Email, req.Password)
	if err != nil {
		if err == service.ErrInvalidCredentials {
			return apperrors.NewUnauthorized("invalid credentials")
		}
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user": fiber.Map{
				"id":    user.ID,
				"name":  user.Name,
				"email": user.Email,
				"role":  user.Role,
			},
			"auth": dto.TokenPairResponse{
				Access:           pair.Access,
				Refresh:          pair.Refresh,
				AccessExpiresAt:  pair.AccessExpiresAt,
				RefreshExpiresAt: pair.RefreshExpiresAt,
			},
		},
	})
}

// ChangePassword handles POST /auth/password/change (authenticated).
func (h *UsersHandler) ChangePassword(c *fiber.Ctx) error {
	principal, ok := principalFrom(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return fiber.NewError(http.StatusBadRequest, "current and new password required")
	}

	if err := h.accounts.ChangePassword(c.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		if err == service.ErrInvalidCredentials {
			return apperrors.NewUnauthorized("invalid credentials")
		}
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"changed": true}})
}
