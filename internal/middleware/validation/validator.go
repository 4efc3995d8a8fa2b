package validation

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var tickerPattern = regexp.MustCompile(`^[A-Za-z.\-]{1,10}$`)

type Config struct {
	MaxTitleLength int
	MaxBodyLength  int
	Logger         *zap.Logger
}

// Middleware validates ingest payloads before they reach the
// orchestrator, rejecting items no fingerprint could be derived from.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxTitleLength == 0 {
		cfg.MaxTitleLength = 1000
	}
	if cfg.MaxBodyLength == 0 {
		cfg.MaxBodyLength = 20000
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || !strings.Contains(c.Path(), "/api/v1/items") {
			return c.Next()
		}

		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, "application/json") {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var req map[string]interface{}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		title, ok := req["title"].(string)
		if !ok || strings.TrimSpace(title) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "title is required",
			})
		}
		if len(title) > cfg.MaxTitleLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "title exceeds maximum length",
			})
		}

		if body, ok := req["body_excerpt"].(string); ok && len(body) > cfg.MaxBodyLength {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error": "body_excerpt exceeds maximum length",
			})
		}

		if ticker, ok := req["ticker"].(string); ok && ticker != "" && !tickerPattern.MatchString(ticker) {
			cfg.Logger.Warn("Rejected malformed ticker",
				zap.String("ip", c.IP()),
				zap.String("ticker", ticker),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "ticker is malformed",
			})
		}

		return c.Next()
	}
}
