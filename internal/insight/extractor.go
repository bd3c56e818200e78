package insight

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

// FeedbackInsightImportance is assigned to lessons taken directly from a
// visitor's disapproval comment. User-asserted corrections are trusted
// without judge re-interpretation.
const FeedbackInsightImportance = 8

const feedbackInsightPrefix = "User feedback: "

type Store interface {
	ListUnminedPoorEvaluations(threshold float64) ([]models.Evaluation, error)
	ListUnminedDisapprovals() ([]models.UserFeedback, error)
	GetTurn(id string) (*models.ConversationTurn, error)
	InsertInsight(in *models.Insight) error
	ListInsights(activeOnly bool) ([]models.Insight, error)
}

type Miner interface {
	ExtractInsights(ctx context.Context, question, answer, evalNotes string, max int) ([]llm.InsightProposal, error)
}

// Extractor mines poor evaluations and disapproving feedback into insights.
// Both paths track their source row, so reruns without new input are no-ops.
type Extractor struct {
	store       Store
	miner       Miner
	threshold   float64
	maxProposed int
}

func NewExtractor(store Store, miner Miner, poorThreshold float64, maxPerEval int) *Extractor {
	if poorThreshold <= 0 {
		poorThreshold = 0.7
	}
	if maxPerEval <= 0 {
		maxPerEval = 3
	}

	return &Extractor{
		store:       store,
		miner:       miner,
		threshold:   poorThreshold,
		maxProposed: maxPerEval,
	}
}

// Run processes all unmined inputs and returns the number of insights
// created. Good turns are deliberately not mined; only failures teach.
func (e *Extractor) Run(ctx context.Context) (int, error) {
	active, err := e.store.ListInsights(true)
	if err != nil {
		return 0, fmt.Errorf("failed to load active insights: %w", err)
	}

	created := 0

	n, err := e.mineEvaluations(ctx, &active)
	if err != nil {
		return created, err
	}
	created += n

	n, err = e.mineFeedback(&active)
	if err != nil {
		return created, err
	}
	created += n

	logger.Info("Insight extraction completed", zap.Int("created", created))
	return created, nil
}

func (e *Extractor) mineEvaluations(ctx context.Context, active *[]models.Insight) (int, error) {
	evals, err := e.store.ListUnminedPoorEvaluations(e.threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to list poor evaluations: %w", err)
	}

	created := 0
	for _, eval := range evals {
		turn, err := e.store.GetTurn(eval.TurnID)
		if err != nil {
			logger.Warn("Skipping evaluation with missing turn",
				zap.String("evaluation_id", eval.ID),
				zap.Error(err),
			)
			continue
		}

		proposals, err := e.miner.ExtractInsights(ctx, turn.UserQuestion, turn.BotResponse, eval.FeedbackText, e.maxProposed)
		if err != nil {
			// Left unmined; the next run picks it up again.
			logger.Warn("Insight mining failed for evaluation",
				zap.String("evaluation_id", eval.ID),
				zap.Error(err),
			)
			continue
		}

		example := fmt.Sprintf("Q: %s\nA: %s", turn.UserQuestion, turn.BotResponse)
		for _, p := range proposals {
			in := &models.Insight{
				ID:                 uuid.New().String(),
				Category:           p.Category,
				Text:               p.Text,
				Examples:           []string{example},
				SourceEvaluationID: eval.ID,
				Importance:         p.Importance,
				IsActive:           true,
				CreatedAt:          time.Now(),
			}

			if e.insert(in, active) {
				created++
			}
		}
	}

	return created, nil
}

func (e *Extractor) mineFeedback(active *[]models.Insight) (int, error) {
	items, err := e.store.ListUnminedDisapprovals()
	if err != nil {
		return 0, fmt.Errorf("failed to list disapprovals: %w", err)
	}

	created := 0
	for _, fb := range items {
		var examples []string
		if turn, err := e.store.GetTurn(fb.TurnID); err == nil {
			examples = []string{fmt.Sprintf("Q: %s\nA: %s", turn.UserQuestion, turn.BotResponse)}
		}

		in := &models.Insight{
			ID:               uuid.New().String(),
			Category:         models.CategoryImprovement,
			Text:             feedbackInsightPrefix + strings.TrimSpace(fb.Comment),
			Examples:         examples,
			SourceFeedbackID: fb.ID,
			Importance:       FeedbackInsightImportance,
			IsActive:         true,
			CreatedAt:        time.Now(),
		}

		if e.insert(in, active) {
			created++
		}
	}

	return created, nil
}

// insert saves the insight unless an active near-duplicate exists. The
// cheap containment check here is the first line of defense; semantic
// merging is the deduplicator's job.
func (e *Extractor) insert(in *models.Insight, active *[]models.Insight) bool {
	if IsNearDuplicate(in.Text, *active) {
		logger.Debug("Skipping near-duplicate insight", zap.String("text", in.Text))
		return false
	}

	if err := e.store.InsertInsight(in); err != nil {
		logger.Error("Failed to insert insight", zap.Error(err))
		return false
	}

	*active = append(*active, *in)
	return true
}

// IsNearDuplicate reports whether text is contained in, or contains, any
// currently active insight, ignoring case. Retired insights are not
// compared against.
func IsNearDuplicate(text string, active []models.Insight) bool {
	candidate := strings.ToLower(strings.TrimSpace(text))
	if candidate == "" {
		return true
	}

	for _, in := range active {
		existing := strings.ToLower(in.Text)
		if strings.Contains(existing, candidate) || strings.Contains(candidate, existing) {
			return true
		}
	}

	return false
}
