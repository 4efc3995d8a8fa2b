package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/dedup"
	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/internal/pipeline"
	"github.com/catalyst-agent/backend/pkg/logger"
)

type IngestHandler struct {
	orchestrator *pipeline.Orchestrator
}

func NewIngestHandler(orchestrator *pipeline.Orchestrator) *IngestHandler {
	return &IngestHandler{
		orchestrator: orchestrator,
	}
}

// HandleSubmit accepts one catalyst item from a source adapter. A first
// sighting is accepted for async classification; a repeat within the
// dedup window is acknowledged without further work.
func (h *IngestHandler) HandleSubmit(c *fiber.Ctx) error {
	var item models.CatalystItem
	if err := c.BodyParser(&item); err != nil {
		logger.Error("Failed to parse item payload", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if item.SourceName == "" {
		item.SourceName = c.Get("X-Source-ID", "unknown")
	}

	res, err := h.orchestrator.Submit(c.Context(), item)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrOverloaded):
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Pipeline overloaded, retry later",
			})
		case errors.Is(err, dedup.ErrStoreUnavailable):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "Deduplication store unavailable",
			})
		default:
			logger.Error("Failed to submit item", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to submit item",
			})
		}
	}

	if res == dedup.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "duplicate",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status": "accepted",
	})
}
