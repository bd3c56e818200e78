package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/chat"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

const wsAnswerTimeout = 60 * time.Second

type WebSocketHandler struct {
	engine *chat.Engine
}

func NewWebSocketHandler(engine *chat.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		engine: engine,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type      string `json:"type"`
			Question  string `json:"question"`
			SessionID string `json:"session_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "question" {
			continue
		}

		if err := h.streamAnswer(c, msg.Question, msg.SessionID); err != nil {
			logger.Error("Failed to stream answer", zap.Error(err))
			h.sendError(c, "Failed to answer question")
		}
	}
}

// streamAnswer runs the full answer path, then replays the finished answer to
// the client word by word so the widget can render it incrementally.
func (h *WebSocketHandler) streamAnswer(c *websocket.Conn, question, sessionID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsAnswerTimeout)
	defer cancel()

	if err := h.sendChunk(c, "status", "Thinking..."); err != nil {
		return err
	}

	answer, err := h.engine.Ask(ctx, question, sessionID)
	if err != nil {
		return err
	}

	words := strings.Fields(answer.Text)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	return c.WriteJSON(map[string]interface{}{
		"type":     "complete",
		"turn_id":  answer.TurnID,
		"rejected": answer.Rejected,
	})
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(map[string]interface{}{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}); err != nil {
		logger.Error("Failed to send WebSocket error", zap.Error(err))
	}
}
