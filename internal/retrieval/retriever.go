package retrieval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/internal/vector/milvus"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type Store interface {
	ListDocuments() ([]models.Document, error)
	ListTrainingPairs() ([]models.TrainingPair, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]milvus.SearchHit, error)
}

type Passage struct {
	SourceName string
	Content    string
}

// Retriever grounds answers in the corpus. It never returns an error:
// semantic top-k when the index is configured, otherwise the full active
// corpus from the store, otherwise whatever the raw-file directory yields,
// otherwise nothing. Partial results always beat a failure.
type Retriever struct {
	store       Store
	embedder    Embedder
	index       Index
	prefixLen   int
	fallbackDir string
}

func NewRetriever(store Store, embedder Embedder, index Index, prefixLen int, fallbackDir string) *Retriever {
	if prefixLen <= 0 {
		prefixLen = 2000
	}

	return &Retriever{
		store:       store,
		embedder:    embedder,
		index:       index,
		prefixLen:   prefixLen,
		fallbackDir: fallbackDir,
	}
}

func (r *Retriever) Retrieve(ctx context.Context, question string, k int) []Passage {
	if r.index != nil && r.embedder != nil {
		if passages, ok := r.retrieveTopK(ctx, question, k); ok {
			return passages
		}
	}

	if passages, ok := r.retrieveAll(); ok {
		return passages
	}

	return r.retrieveFromFiles()
}

func (r *Retriever) retrieveTopK(ctx context.Context, question string, k int) ([]Passage, bool) {
	if k <= 0 {
		k = 8
	}

	embedding, err := r.embedder.GenerateEmbedding(ctx, question)
	if err != nil {
		logger.Warn("Failed to embed question, falling back to full corpus", zap.Error(err))
		return nil, false
	}

	hits, err := r.index.Search(ctx, embedding, k)
	if err != nil {
		logger.Warn("Vector search failed, falling back to full corpus", zap.Error(err))
		return nil, false
	}

	if len(hits) == 0 {
		return nil, false
	}

	passages := make([]Passage, 0, len(hits))
	for _, hit := range hits {
		passages = append(passages, Passage{
			SourceName: hit.SourceName,
			Content:    r.truncate(hit.Text),
		})
	}

	logger.Debug("Context retrieved from index", zap.Int("passages", len(passages)))
	return passages, true
}

func (r *Retriever) retrieveAll() ([]Passage, bool) {
	docs, err := r.store.ListDocuments()
	if err != nil {
		logger.Warn("Corpus store unavailable, falling back to raw files", zap.Error(err))
		return nil, false
	}

	var passages []Passage
	for _, doc := range docs {
		passages = append(passages, Passage{
			SourceName: doc.SourceName,
			Content:    r.truncate(doc.Content),
		})
	}

	pairs, err := r.store.ListTrainingPairs()
	if err != nil {
		// Documents alone are still a usable context.
		logger.Warn("Failed to load training pairs", zap.Error(err))
	} else {
		for _, pair := range pairs {
			passages = append(passages, Passage{
				SourceName: "training",
				Content:    r.truncate(fmt.Sprintf("Q: %s\nA: %s", pair.Question, pair.Answer)),
			})
		}
	}

	if len(passages) == 0 {
		return nil, false
	}

	logger.Debug("Context retrieved from store", zap.Int("passages", len(passages)))
	return passages, true
}

func (r *Retriever) retrieveFromFiles() []Passage {
	if r.fallbackDir == "" {
		return nil
	}

	entries, err := os.ReadDir(r.fallbackDir)
	if err != nil {
		logger.Warn("Raw-file fallback unavailable", zap.String("dir", r.fallbackDir), zap.Error(err))
		return nil
	}

	var passages []Passage
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.fallbackDir, entry.Name()))
		if err != nil {
			logger.Warn("Failed to read fallback file", zap.String("file", entry.Name()), zap.Error(err))
			continue
		}

		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}

		passages = append(passages, Passage{
			SourceName: entry.Name(),
			Content:    r.truncate(content),
		})
	}

	logger.Info("Context retrieved from raw files", zap.Int("passages", len(passages)))
	return passages
}

func (r *Retriever) truncate(content string) string {
	if len(content) <= r.prefixLen {
		return content
	}
	return content[:r.prefixLen]
}

// FormatContext concatenates passages into the context block handed to the
// generator.
func FormatContext(passages []Passage) string {
	if len(passages) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, p := range passages {
		fmt.Fprintf(&sb, "[%d] %s:\n%s\n\n", i+1, p.SourceName, p.Content)
	}

	return strings.TrimSpace(sb.String())
}
