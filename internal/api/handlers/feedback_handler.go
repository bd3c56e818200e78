package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/chat"
	"github.com/portfolio-assistant/backend/internal/storage/sqlite"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type FeedbackHandler struct {
	engine *chat.Engine
}

func NewFeedbackHandler(engine *chat.Engine) *FeedbackHandler {
	return &FeedbackHandler{
		engine: engine,
	}
}

func (h *FeedbackHandler) SubmitFeedback(c *fiber.Ctx) error {
	var req struct {
		TurnID  string `json:"turn_id"`
		Rating  string `json:"rating"`
		Comment string `json:"comment"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.TurnID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "turn_id is required",
		})
	}

	fb, err := h.engine.SubmitFeedback(req.TurnID, req.Rating, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidRating):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Rating must be approve or disapprove",
			})
		case errors.Is(err, sqlite.ErrNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Turn not found",
			})
		}
		logger.Error("Failed to record feedback", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record feedback",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      fb.ID,
		"turn_id": fb.TurnID,
		"rating":  fb.Rating,
	})
}
