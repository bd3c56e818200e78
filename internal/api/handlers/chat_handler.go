package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/chat"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type ChatHandler struct {
	engine *chat.Engine
}

func NewChatHandler(engine *chat.Engine) *ChatHandler {
	return &ChatHandler{
		engine: engine,
	}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Question  string `json:"question"`
		SessionID string `json:"session_id"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SessionID == "" {
		req.SessionID = c.Get("X-Session-ID")
	}

	answer, err := h.engine.Ask(c.Context(), req.Question, req.SessionID)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question is required",
			})
		}
		logger.Error("Failed to answer question", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to answer question",
		})
	}

	return c.JSON(answer)
}

func (h *ChatHandler) GetChatHistory(c *fiber.Ctx) error {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_id is required",
		})
	}

	limit := c.QueryInt("limit", 0)

	turns, err := h.engine.SessionHistory(sessionID, limit)
	if err != nil {
		logger.Error("Failed to load chat history", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load chat history",
		})
	}

	return c.JSON(fiber.Map{
		"session_id": sessionID,
		"turns":      turns,
	})
}
