package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/catalyst-agent/backend/internal/backends"
	"github.com/catalyst-agent/backend/internal/notify"
	"github.com/catalyst-agent/backend/internal/pipeline"
)

type StatusHandler struct {
	registry     *backends.Registry
	orchestrator *pipeline.Orchestrator
	hub          *notify.Hub
}

func NewStatusHandler(registry *backends.Registry, orchestrator *pipeline.Orchestrator, hub *notify.Hub) *StatusHandler {
	return &StatusHandler{
		registry:     registry,
		orchestrator: orchestrator,
		hub:          hub,
	}
}

// HandleBackends reports every backend's tier and breaker state.
func (h *StatusHandler) HandleBackends(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"backends": h.registry.States(),
	})
}

func (h *StatusHandler) HandleStats(c *fiber.Ctx) error {
	stats := fiber.Map{
		"queue_depth":    h.orchestrator.QueueDepth(),
		"queue_capacity": h.orchestrator.QueueCapacity(),
	}
	if h.hub != nil {
		stats["stream_subscribers"] = h.hub.SubscriberCount()
	}

	return c.JSON(stats)
}

func (h *StatusHandler) HandleHealth(c *fiber.Ctx) error {
	for _, s := range h.registry.States() {
		if s.State != "open" {
			return c.JSON(fiber.Map{
				"status": "healthy",
			})
		}
	}

	// Every breaker open means nothing can classify right now.
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status": "degraded",
	})
}
