package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/chat"
	"github.com/portfolio-assistant/backend/internal/instruction"
	"github.com/portfolio-assistant/backend/internal/storage/sqlite"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type AdminHandler struct {
	engine *chat.Engine
}

func NewAdminHandler(engine *chat.Engine) *AdminHandler {
	return &AdminHandler{
		engine: engine,
	}
}

func (h *AdminHandler) ExtractInsights(c *fiber.Ctx) error {
	created, err := h.engine.RunExtraction(c.Context())
	if err != nil {
		logger.Error("Insight extraction failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Insight extraction failed",
			"created": created,
		})
	}

	return c.JSON(fiber.Map{
		"created": created,
	})
}

func (h *AdminHandler) DeduplicateInsights(c *fiber.Ctx) error {
	retired, err := h.engine.RunDeduplication(c.Context())
	if err != nil {
		logger.Error("Insight deduplication failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "Insight deduplication failed",
			"retired": retired,
		})
	}

	return c.JSON(fiber.Map{
		"retired": retired,
	})
}

func (h *AdminHandler) ListInsights(c *fiber.Ctx) error {
	activeOnly := c.QueryBool("active_only", false)

	insights, err := h.engine.ListInsights(activeOnly)
	if err != nil {
		logger.Error("Failed to list insights", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list insights",
		})
	}

	return c.JSON(fiber.Map{
		"insights": insights,
	})
}

func (h *AdminHandler) UpdateInsight(c *fiber.Ctx) error {
	id := c.Params("id")

	var req struct {
		IsActive *bool `json:"is_active"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.IsActive == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "is_active is required",
		})
	}

	if err := h.engine.ToggleInsight(c.Context(), id, *req.IsActive); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Insight not found",
			})
		}
		logger.Error("Failed to update insight", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update insight",
		})
	}

	return c.JSON(fiber.Map{
		"id":        id,
		"is_active": *req.IsActive,
	})
}

func (h *AdminHandler) DeleteInsight(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.engine.DeleteInsight(c.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Insight not found",
			})
		}
		logger.Error("Failed to delete insight", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete insight",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Insight deleted",
	})
}

func (h *AdminHandler) GetInstruction(c *fiber.Ctx) error {
	state, err := h.engine.InstructionState()
	if err != nil {
		logger.Error("Failed to load instruction state", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load instruction state",
		})
	}

	current, err := h.engine.CurrentInstruction(c.Context())
	if err != nil {
		logger.Error("Failed to synthesize instruction", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to synthesize instruction",
		})
	}

	return c.JSON(fiber.Map{
		"instruction":      current,
		"has_override":     state.HasOverride,
		"suggestion_state": state.SuggestionState,
		"suggestion_text":  state.SuggestionText,
	})
}

func (h *AdminHandler) SuggestInstruction(c *fiber.Ctx) error {
	text, err := h.engine.RequestInstructionSuggestion(c.Context())
	if err != nil {
		if errors.Is(err, instruction.ErrSuggestionPending) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A suggestion is already pending review",
			})
		}
		logger.Error("Failed to generate instruction suggestion", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate instruction suggestion",
		})
	}

	return c.JSON(fiber.Map{
		"suggestion": text,
	})
}

func (h *AdminHandler) ApproveInstruction(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}

	// Body is optional; an empty text approves the stored suggestion as-is.
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
	}

	if err := h.engine.ApproveInstructionSuggestion(c.Context(), req.Text); err != nil {
		if errors.Is(err, instruction.ErrNoPendingSuggestion) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "No suggestion is pending review",
			})
		}
		logger.Error("Failed to approve instruction suggestion", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to approve instruction suggestion",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Suggestion approved",
	})
}

func (h *AdminHandler) RejectInstruction(c *fiber.Ctx) error {
	if err := h.engine.RejectInstructionSuggestion(c.Context()); err != nil {
		if errors.Is(err, instruction.ErrNoPendingSuggestion) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "No suggestion is pending review",
			})
		}
		logger.Error("Failed to reject instruction suggestion", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reject instruction suggestion",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Suggestion rejected",
	})
}

func (h *AdminHandler) SetInstructionOverride(c *fiber.Ctx) error {
	var req struct {
		Text string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}

	if err := h.engine.SetInstructionOverride(c.Context(), req.Text); err != nil {
		logger.Error("Failed to set instruction override", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to set instruction override",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Override set",
	})
}

func (h *AdminHandler) ClearInstructionOverride(c *fiber.Ctx) error {
	if err := h.engine.ClearInstructionOverride(c.Context()); err != nil {
		logger.Error("Failed to clear instruction override", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear instruction override",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Override cleared",
	})
}

func (h *AdminHandler) ListEvaluations(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	evals, err := h.engine.ListEvaluations(limit)
	if err != nil {
		logger.Error("Failed to list evaluations", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list evaluations",
		})
	}

	return c.JSON(fiber.Map{
		"evaluations": evals,
	})
}

func (h *AdminHandler) EvaluationStats(c *fiber.Ctx) error {
	stats, err := h.engine.EvaluationStats()
	if err != nil {
		logger.Error("Failed to compute evaluation stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute evaluation stats",
		})
	}

	return c.JSON(stats)
}
