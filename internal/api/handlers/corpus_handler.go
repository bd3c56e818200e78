package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/corpus"
	"github.com/portfolio-assistant/backend/internal/metrics"
	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/internal/storage/sqlite"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type CorpusReader interface {
	ListDocuments() ([]models.Document, error)
	ListTrainingPairs() ([]models.TrainingPair, error)
}

type CorpusHandler struct {
	processor *corpus.Processor
	reader    CorpusReader
}

func NewCorpusHandler(processor *corpus.Processor, reader CorpusReader) *CorpusHandler {
	return &CorpusHandler{
		processor: processor,
		reader:    reader,
	}
}

func (h *CorpusHandler) UploadDocument(c *fiber.Ctx) error {
	var req struct {
		SourceName string `json:"source_name"`
		Content    string `json:"content"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SourceName == "" || req.Content == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_name and content are required",
		})
	}

	doc, err := h.processor.IngestDocument(c.Context(), req.SourceName, req.Content)
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest document",
		})
	}

	metrics.DocumentsIngested.Inc()

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          doc.ID,
		"source_name": doc.SourceName,
	})
}

func (h *CorpusHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.reader.ListDocuments()
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	return c.JSON(fiber.Map{
		"documents": docs,
	})
}

func (h *CorpusHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.processor.DeleteDocument(c.Context(), id); err != nil {
		if errors.Is(err, sqlite.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Document not found",
			})
		}
		logger.Error("Failed to delete document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete document",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Document deleted",
	})
}

func (h *CorpusHandler) UploadTrainingPair(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
		Category string `json:"category"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Question == "" || req.Answer == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "question and answer are required",
		})
	}

	pair, err := h.processor.IngestTrainingPair(c.Context(), req.Question, req.Answer, req.Category)
	if err != nil {
		logger.Error("Failed to ingest training pair", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest training pair",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id": pair.ID,
	})
}

func (h *CorpusHandler) ListTrainingPairs(c *fiber.Ctx) error {
	pairs, err := h.reader.ListTrainingPairs()
	if err != nil {
		logger.Error("Failed to list training pairs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list training pairs",
		})
	}

	return c.JSON(fiber.Map{
		"training_pairs": pairs,
	})
}
