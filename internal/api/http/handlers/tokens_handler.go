package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/estate-auth/internal/api/dto"
	"github.com/spec-kit/estate-auth/internal/auth"
	"github.com/spec-kit/estate-auth/internal/service"
	apperrors "github.com/spec-kit/estate-auth/pkg/util"
)

// TokensHandler exposes rotation and logout endpoints.
type TokensHandler struct {
	tokens *service.TokenService
}

// NewTokensHandler constructs handler.
func NewTokensHandler(tokens *service.TokenService) *TokensHandler {
	return &TokensHandler{tokens: tokens}
}

// Rotate handles POST /auth/tokens/rotate. The presented access token is
// expected to be expired; the refresh token must be live and both must be
// the subject's latest pair.
func (h *TokensHandler) Rotate(c *fiber.Ctx) error {
	req, err := parsePair(c)
	if err != nil {
		return err
	}

	pair, err := h.tokens.Rotate(c.Context(), req.Access, req.Refresh)
	if err != nil {
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{
		"data": dto.TokenPairResponse{
			Access:           pair.Access,
			Refresh:          pair.Refresh,
			AccessExpiresAt:  pair.AccessExpiresAt,
			RefreshExpiresAt: pair.RefreshExpiresAt,
		},
	})
}

// Logout handles POST /auth/tokens/logout (authenticated). Both tokens of
// the latest pair are blacklisted; no new tokens are issued.
func (h *TokensHandler) Logout(c *fiber.Ctx) error {
	req, err := parsePair(c)
	if err != nil {
		return err
	}

	if err := h.tokens.Logout(c.Context(), req.Access, req.Refresh); err != nil {
		return apperrors.MapError(err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"logged_out": true}})
}

func parsePair(c *fiber.Ctx) (*dto.TokenPairRequest, error) {
	var req dto.TokenPairRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Access == "" || req.Refresh == "" {
		return nil, fiber.NewError(http.StatusBadRequest, "access and refresh tokens required")
	}
	return &req, nil
}

func principalFrom(c *fiber.Ctx) (*auth.Principal, bool) {
	return auth.PrincipalFromContext(c)
}
