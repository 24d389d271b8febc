// Package httpapi wires the spec's HTTP surface on top of fiber v2: a
// thin adapter over the coordinator (C1-C8), the job queue (C9), the
// crawler (C10), and the agent extractor (C11). Grounded on the
// teacher's internal/http/router.go request-logging and route-group
// pattern, with its multi-tenant Principal/session layer replaced by a
// single-tier API-key + admin-key model and its error envelope swapped
// for the shape this spec defines.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"harvestd/internal/config"
	"harvestd/internal/coordinator"
	"harvestd/internal/jobs"
	"harvestd/internal/llm"
	"harvestd/internal/metrics"
	"harvestd/internal/ratelimit"
	"harvestd/internal/search"
	"harvestd/internal/store"
)

// Server holds every collaborator a handler might need, reached via
// the *Server receiver rather than fiber.Ctx.Locals plumbing for
// anything beyond the per-request API key and request ID.
type Server struct {
	app         *fiber.App
	Config      *config.Config
	Store       *store.Store
	Coordinator *coordinator.Coordinator
	Queue       *jobs.Queue
	Search      search.Provider
	Limiter     *ratelimit.Limiter
	Logger      *slog.Logger
	NewLLMClient func(providerOverride, modelOverride string) (llm.Client, error)
}

func NewServer(cfg *config.Config, st *store.Store, coord *coordinator.Coordinator, queue *jobs.Queue, searchProvider search.Provider, limiter *ratelimit.Limiter, newLLMClient func(providerOverride, modelOverride string) (llm.Client, error), logger *slog.Logger) *Server {
	s := &Server{
		app:          fiber.New(fiber.Config{DisableStartupMessage: true}),
		Config:       cfg,
		Store:        st,
		Coordinator:  coord,
		Queue:        queue,
		Search:       searchProvider,
		Limiter:      limiter,
		NewLLMClient: newLLMClient,
		Logger:       logger,
	}

	s.app.Use(requestIDMiddleware())
	s.app.Use(loggingMiddleware(logger))

	s.app.Get("/healthz", s.handleHealthz)
	s.app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Type("text/plain")
		return c.SendString(metrics.Export())
	})

	rateMw := rateLimitMiddleware(limiter)

	v1 := s.app.Group("/api/v1")

	v1.Post("/scrape", apiKeyMiddleware(st, "scrape"), rateMw, s.handleScrape)
	v1.Post("/map", apiKeyMiddleware(st, "map"), rateMw, s.handleMap)
	v1.Post("/search", apiKeyMiddleware(st, "search"), rateMw, s.handleSearch)
	v1.Post("/agent/extract", apiKeyMiddleware(st, "agent"), rateMw, s.handleAgentExtract)
	v1.Get("/jobs/:id", apiKeyMiddleware(st, ""), s.handleJobStatus)
	v1.Get("/jobs/:id/results", apiKeyMiddleware(st, ""), s.handleJobResults)
	v1.Delete("/jobs/:id", apiKeyMiddleware(st, ""), s.handleJobCancel)

	admin := v1.Group("/admin", adminKeyMiddleware(cfg, st))
	admin.Post("/keys", s.handleCreateAPIKey)
	admin.Get("/keys", s.handleListAPIKeys)
	admin.Patch("/keys/:id", s.handleUpdateAPIKey)
	admin.Delete("/keys/:id", s.handleDeleteAPIKey)

	return s
}

func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	return s.app.Listen(addr)
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	if c.Query("deep") != "true" {
		return c.JSON(fiber.Map{"status": "ok"})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "ok"
	if err := s.Store.DB.PingContext(ctx); err != nil {
		dbStatus = "error"
	}

	status := "ok"
	if dbStatus != "ok" {
		status = "error"
	}
	return c.JSON(fiber.Map{"status": status, "db": dbStatus})
}
