package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/catalyst-agent/backend/internal/notify"
)

type StreamHandler struct {
	hub *notify.Hub
}

func NewStreamHandler(hub *notify.Hub) *StreamHandler {
	return &StreamHandler{
		hub: hub,
	}
}

// Upgrade gates the websocket upgrade on the route.
func (h *StreamHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// HandleStream attaches the subscriber to the result hub.
func (h *StreamHandler) HandleStream() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.ServeConn(c)
	})
}
