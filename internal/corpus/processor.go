package corpus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/internal/vector/milvus"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type Store interface {
	InsertDocument(doc *models.Document) error
	InsertTrainingPair(pair *models.TrainingPair) error
	DeleteDocument(id string) error
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Insert(ctx context.Context, passages []milvus.Passage) error
	Delete(ctx context.Context, passageID string) error
}

// Processor accepts {sourceName, content} pairs from the ingestion
// collaborator, normalizes markup, stores the document, and indexes a
// bounded prefix when a vector index is configured. Upload and text
// extraction happen upstream.
type Processor struct {
	store        Store
	embedder     Embedder
	index        Index
	indexPrefix  int
	whitespaceRE *regexp.Regexp
}

func NewProcessor(store Store, embedder Embedder, index Index, indexPrefixLen int) *Processor {
	if indexPrefixLen <= 0 {
		indexPrefixLen = 2000
	}

	return &Processor{
		store:        store,
		embedder:     embedder,
		index:        index,
		indexPrefix:  indexPrefixLen,
		whitespaceRE: regexp.MustCompile(`\s+`),
	}
}

func (p *Processor) IngestDocument(ctx context.Context, sourceName, content string) (*models.Document, error) {
	normalized := p.normalize(content)
	if normalized == "" {
		return nil, fmt.Errorf("document has no content after normalization")
	}

	doc := &models.Document{
		ID:         uuid.New().String(),
		SourceName: sourceName,
		Content:    normalized,
		IngestedAt: time.Now(),
	}

	if err := p.store.InsertDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	p.indexPassage(ctx, doc.ID, sourceName, normalized, "document", doc.IngestedAt)

	logger.Info("Document ingested",
		zap.String("doc_id", doc.ID),
		zap.String("source", sourceName),
		zap.Int("content_length", len(normalized)),
	)

	return doc, nil
}

func (p *Processor) IngestTrainingPair(ctx context.Context, question, answer, category string) (*models.TrainingPair, error) {
	if strings.TrimSpace(question) == "" || strings.TrimSpace(answer) == "" {
		return nil, fmt.Errorf("training pair requires both question and answer")
	}

	pair := &models.TrainingPair{
		ID:        uuid.New().String(),
		Question:  strings.TrimSpace(question),
		Answer:    strings.TrimSpace(answer),
		Category:  category,
		CreatedAt: time.Now(),
	}

	if err := p.store.InsertTrainingPair(pair); err != nil {
		return nil, fmt.Errorf("failed to store training pair: %w", err)
	}

	passage := fmt.Sprintf("Q: %s\nA: %s", pair.Question, pair.Answer)
	p.indexPassage(ctx, pair.ID, category, passage, "training_pair", pair.CreatedAt)

	logger.Info("Training pair ingested", zap.String("pair_id", pair.ID), zap.String("category", category))

	return pair, nil
}

func (p *Processor) DeleteDocument(ctx context.Context, id string) error {
	if err := p.store.DeleteDocument(id); err != nil {
		return err
	}

	if p.index != nil {
		if err := p.index.Delete(ctx, id); err != nil {
			logger.Warn("Failed to remove passage from index", zap.String("doc_id", id), zap.Error(err))
		}
	}

	return nil
}

// indexPassage is best-effort: the sqlite row is the source of truth and
// retrieval falls back to it when the index is missing entries.
func (p *Processor) indexPassage(ctx context.Context, id, sourceName, text, kind string, at time.Time) {
	if p.index == nil || p.embedder == nil {
		return
	}

	prefix := text
	if len(prefix) > p.indexPrefix {
		prefix = prefix[:p.indexPrefix]
	}

	embedding, err := p.embedder.GenerateEmbedding(ctx, prefix)
	if err != nil {
		logger.Warn("Failed to embed passage", zap.String("id", id), zap.Error(err))
		return
	}

	err = p.index.Insert(ctx, []milvus.Passage{{
		ID:         id,
		Embedding:  embedding,
		Text:       prefix,
		SourceName: sourceName,
		Kind:       kind,
		IngestedAt: at,
	}})
	if err != nil {
		logger.Warn("Failed to index passage", zap.String("id", id), zap.Error(err))
	}
}

func (p *Processor) normalize(content string) string {
	text := content
	if looksLikeMarkup(content) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(content)); err == nil {
			doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
				s.Remove()
			})
			if body := doc.Find("body"); body.Length() > 0 {
				text = body.Text()
			} else {
				text = doc.Text()
			}
		}
	}

	text = p.whitespaceRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func looksLikeMarkup(content string) bool {
	trimmed := strings.TrimSpace(content)
	return strings.HasPrefix(trimmed, "<") && strings.Contains(trimmed, ">")
}
