package httpapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"harvestd/internal/model"
)

// handleCreateAPIKey implements POST /v1/admin/keys. The plaintext key
// is returned exactly once, in this response.
func (s *Server) handleCreateAPIKey(c *fiber.Ctx) error {
	var req CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil || req.Name == "" || len(req.Scopes) == 0 {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include a non-empty 'name' and at least one scope"))
	}

	rateLimit := req.RateLimit
	if rateLimit <= 0 {
		rateLimit = s.Config.RateLimit.DefaultPerMinute
	}

	rawKey, key, err := s.Store.CreateAPIKey(c.Context(), req.Name, req.Scopes, rateLimit)
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrInternal, "failed to create API key"))
	}

	return c.Status(fiber.StatusCreated).JSON(apiKeyToResponse(key, rawKey))
}

// handleListAPIKeys implements GET /v1/admin/keys.
func (s *Server) handleListAPIKeys(c *fiber.Ctx) error {
	keys, err := s.Store.ListAPIKeys(c.Context())
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrInternal, "failed to list API keys"))
	}

	resp := make([]APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, apiKeyToResponse(k, ""))
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

// updateAPIKeyRequest toggles activation state; scope/name changes
// aren't supported by the store yet, mirroring the teacher's
// deactivate-don't-mutate key lifecycle.
type updateAPIKeyRequest struct {
	IsActive *bool `json:"is_active"`
}

// handleUpdateAPIKey implements PATCH /v1/admin/keys/{id}.
func (s *Server) handleUpdateAPIKey(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "invalid key id"))
	}

	var req updateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil || req.IsActive == nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "body must include 'is_active'"))
	}

	if err := s.Store.SetAPIKeyActive(c.Context(), id, *req.IsActive); err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "API key not found"))
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleDeleteAPIKey implements DELETE /v1/admin/keys/{id} by
// deactivating the key; key rows are retained for audit history the
// same way jobs and pages are, rather than hard-deleted.
func (s *Server) handleDeleteAPIKey(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "invalid key id"))
	}
	if err := s.Store.SetAPIKeyActive(c.Context(), id, false); err != nil {
		return writeError(c, model.NewAPIError(model.ErrValidation, "API key not found"))
	}
	return c.SendStatus(fiber.StatusNoContent)
}
