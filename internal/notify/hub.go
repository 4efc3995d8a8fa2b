package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/catalyst-agent/backend/internal/models"
	"github.com/catalyst-agent/backend/pkg/logger"
)

const subscriberBuffer = 32

// Hub streams classification results to websocket subscribers. Sends
// are non-blocking: a subscriber that cannot keep up loses messages
// rather than stalling delivery.
type Hub struct {
	mu   sync.RWMutex
	subs map[*websocket.Conn]chan []byte
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[*websocket.Conn]chan []byte),
	}
}

// Deliver broadcasts the result to all connected subscribers.
func (h *Hub) Deliver(ctx context.Context, result *models.ClassificationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn, ch := range h.subs {
		select {
		case ch <- data:
		default:
			logger.Debug("Dropping result for slow subscriber",
				zap.String("remote", conn.RemoteAddr().String()),
			)
		}
	}

	return nil
}

// ServeConn pumps results to one subscriber until the connection drops.
func (h *Hub) ServeConn(c *websocket.Conn) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.subs[c] = ch
	h.mu.Unlock()

	logger.Info("Result stream subscriber connected",
		zap.String("remote", c.RemoteAddr().String()),
	)

	defer func() {
		h.mu.Lock()
		delete(h.subs, c)
		h.mu.Unlock()
		c.Close()
		logger.Info("Result stream subscriber disconnected")
	}()

	// Discard inbound frames so control messages are processed; a read
	// error is how we learn the peer went away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case data := <-ch:
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
