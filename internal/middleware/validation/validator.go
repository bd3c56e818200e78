package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	MaxQuestionLength   int
	MaxDocumentSize     int
	MaxCommentLength    int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// Middleware performs cheap request-shape checks before bodies reach the
// handlers: content type, required fields, and size caps. Semantic
// validation stays in the handlers.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.MaxDocumentSize == 0 {
		cfg.MaxDocumentSize = 1 * 1024 * 1024
	}
	if cfg.MaxCommentLength == 0 {
		cfg.MaxCommentLength = 2000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !typeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		path := c.Path()

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/api/v1/chat") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			question, ok := req["question"].(string)
			if !ok || strings.TrimSpace(question) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question is required and must be a string",
				})
			}

			if len(question) > cfg.MaxQuestionLength {
				cfg.Logger.Warn("Oversized question rejected",
					zap.String("ip", c.IP()),
					zap.Int("length", len(question)),
				)
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Question exceeds maximum length",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/api/v1/feedback") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if comment, ok := req["comment"].(string); ok && len(comment) > cfg.MaxCommentLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Comment exceeds maximum length",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(path, "/api/v1/documents") {
			var req map[string]interface{}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			content, ok := req["content"].(string)
			if !ok || strings.TrimSpace(content) == "" {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Content is required and must be a string",
				})
			}

			if len(content) > cfg.MaxDocumentSize {
				return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
					"error": "Document content exceeds maximum size",
				})
			}
		}

		return c.Next()
	}
}

func typeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}
