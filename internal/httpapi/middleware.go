package httpapi

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"harvestd/internal/config"
	"harvestd/internal/metrics"
	"harvestd/internal/model"
	"harvestd/internal/ratelimit"
	"harvestd/internal/store"
)

const ctxKeyAPIKey = "apiKey"
const ctxKeyRequestID = "requestID"

// requestIDMiddleware assigns (or echoes) X-Request-ID so error
// envelopes and log lines can be correlated across a call.
func requestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		reqID := c.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(ctxKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// loggingMiddleware records a structured log line and Prometheus
// metrics for every request. Grounded on the teacher's router.go
// request-logging middleware.
func loggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		latency := time.Since(start)

		status := c.Response().StatusCode()
		metrics.RecordRequest(c.Method(), c.Route().Path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", c.Locals(ctxKeyRequestID),
				"method", c.Method(),
				"path", c.Path(),
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
		return err
	}
}

// apiKeyMiddleware authenticates X-API-Key and attaches the resolved
// model.ApiKey to the request context. requiredScope is empty for
// endpoints any active key may call.
func apiKeyMiddleware(st *store.Store, requiredScope model.Scope) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get("X-API-Key")
		if raw == "" {
			return writeError(c, model.NewAPIError(model.ErrUnauthorized, "X-API-Key header is required"))
		}

		key, err := st.GetAPIKeyByRawKey(c.Context(), raw)
		if err != nil {
			return writeError(c, model.NewAPIError(model.ErrUnauthorized, "invalid API key"))
		}
		if !key.IsActive {
			return writeError(c, model.NewAPIError(model.ErrForbidden, "API key has been deactivated"))
		}
		if requiredScope != "" && !key.HasScope(requiredScope) {
			return writeError(c, model.NewAPIError(model.ErrForbidden, "API key lacks the "+string(requiredScope)+" scope"))
		}

		_ = st.TouchAPIKeyLastUsed(c.Context(), key.ID)
		c.Locals(ctxKeyAPIKey, key)
		return c.Next()
	}
}

// adminKeyMiddleware authenticates X-Admin-Key against the configured
// initial admin secret, or any active key carrying ScopeAdmin.
func adminKeyMiddleware(cfg *config.Config, st *store.Store) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := c.Get("X-Admin-Key")
		if raw == "" {
			return writeError(c, model.NewAPIError(model.ErrUnauthorized, "X-Admin-Key header is required"))
		}
		if cfg.Auth.InitialAdminKey != "" && raw == cfg.Auth.InitialAdminKey {
			return c.Next()
		}

		key, err := st.GetAPIKeyByRawKey(c.Context(), raw)
		if err != nil || !key.IsActive || !key.HasScope(model.ScopeAdmin) {
			return writeError(c, model.NewAPIError(model.ErrForbidden, "admin privileges required"))
		}
		c.Locals(ctxKeyAPIKey, key)
		return c.Next()
	}
}

// rateLimitMiddleware enforces the per-key sliding window (C3).
func rateLimitMiddleware(limiter *ratelimit.Limiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, ok := apiKeyFromLocals(c)
		if !ok {
			return c.Next()
		}
		decision := limiter.Allow(key.ID, key.RateLimit)
		if !decision.Allowed {
			c.Set("Retry-After", decision.RetryAfter.String())
			return writeError(c, model.NewAPIError(model.ErrRateLimited, "rate limit exceeded, retry after "+decision.RetryAfter.String()))
		}
		return c.Next()
	}
}

func apiKeyFromLocals(c *fiber.Ctx) (model.ApiKey, bool) {
	val := c.Locals(ctxKeyAPIKey)
	key, ok := val.(model.ApiKey)
	return key, ok
}

func requestIDFromLocals(c *fiber.Ctx) string {
	if v, ok := c.Locals(ctxKeyRequestID).(string); ok {
		return v
	}
	return ""
}

// writeError renders apiErr as the spec §6 error envelope at its
// mapped HTTP status.
func writeError(c *fiber.Ctx, apiErr *model.APIError) error {
	return c.Status(apiErr.Code.HTTPStatus()).JSON(newErrorEnvelope(apiErr, requestIDFromLocals(c)))
}
