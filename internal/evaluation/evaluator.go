package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/metrics"
	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type Judge interface {
	JudgeCriterion(ctx context.Context, criterion, rubric, question, answer, contextText string) (llm.CriterionJudgment, error)
}

type Store interface {
	InsertEvaluation(eval *models.Evaluation) error
	ListEvaluations(limit int) ([]models.Evaluation, error)
}

const (
	CriterionAccuracy    = "accuracy"
	CriterionHelpfulness = "helpfulness"
	CriterionRelevance   = "relevance"
	CriterionClarity     = "clarity"
	CriterionConciseness = "conciseness"
)

type judgedCriterion struct {
	name   string
	rubric string
}

var judgedCriteria = []judgedCriterion{
	{
		name:   CriterionAccuracy,
		rubric: "Is every claim in the answer supported by the supplied context? Penalize fabrication heavily.",
	},
	{
		name:   CriterionHelpfulness,
		rubric: "Does the answer actually help the visitor with what they asked?",
	},
	{
		name:   CriterionRelevance,
		rubric: "Does the answer stay on the visitor's question rather than drifting to unrelated material?",
	},
	{
		name:   CriterionClarity,
		rubric: "Is the answer clear, well organized, and professional in tone?",
	},
}

// Evaluator scores a turn along independent criteria. Four are LLM-judged
// on a raw 1-5 scale; conciseness is a pure function of word count. One
// judge failure zeroes that criterion only.
type Evaluator struct {
	judge Judge
	store Store
}

func NewEvaluator(judge Judge, store Store) *Evaluator {
	return &Evaluator{judge: judge, store: store}
}

// Evaluate scores the turn and persists the result. It returns an error
// only when no judged criterion could be scored at all (the scheduler
// retries) or when persistence fails.
func (e *Evaluator) Evaluate(ctx context.Context, turnID, question, answer, contextText string) (*models.Evaluation, error) {
	scores := make(map[string]float64, len(judgedCriteria)+1)
	var strengths, improvements []string
	var notes []string
	judgeFailures := 0

	for _, criterion := range judgedCriteria {
		judgment, err := e.judge.JudgeCriterion(ctx, criterion.name, criterion.rubric, question, answer, contextText)
		if err != nil {
			judgeFailures++
			scores[criterion.name] = 0
			notes = append(notes, fmt.Sprintf("%s: judge unavailable (%v)", criterion.name, err))
			logger.Warn("Criterion judge failed",
				zap.String("turn_id", turnID),
				zap.String("criterion", criterion.name),
				zap.Error(err),
			)
			continue
		}

		scores[criterion.name] = normalize(judgment.Score)
		if judgment.Comment != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", criterion.name, judgment.Comment))
		}
		if judgment.Strength != "" {
			strengths = append(strengths, judgment.Strength)
		}
		if judgment.Improvement != "" {
			improvements = append(improvements, judgment.Improvement)
		}
	}

	if judgeFailures == len(judgedCriteria) {
		return nil, fmt.Errorf("all judged criteria failed for turn %s", turnID)
	}

	words := CountWords(answer)
	scores[CriterionConciseness] = normalize(ConcisenessScore(words))

	eval := &models.Evaluation{
		ID:              uuid.New().String(),
		TurnID:          turnID,
		CriterionScores: scores,
		OverallScore:    mean(scores),
		FeedbackText:    strings.Join(notes, " | "),
		Strengths:       strengths,
		Improvements:    improvements,
		Status:          models.EvaluationStatusScored,
		CreatedAt:       time.Now(),
	}

	if err := e.store.InsertEvaluation(eval); err != nil {
		return nil, fmt.Errorf("failed to persist evaluation: %w", err)
	}

	metrics.EvaluationsTotal.WithLabelValues(models.EvaluationStatusScored).Inc()
	metrics.EvaluationScore.Observe(eval.OverallScore)

	return eval, nil
}

// RecordFailure persists the terminal record written after the retry budget
// is exhausted. Distinct from a scored evaluation via its status.
func (e *Evaluator) RecordFailure(turnID string, cause error) {
	eval := &models.Evaluation{
		ID:              uuid.New().String(),
		TurnID:          turnID,
		CriterionScores: map[string]float64{},
		OverallScore:    0,
		FeedbackText:    fmt.Sprintf("evaluation abandoned after retries: %v", cause),
		Status:          models.EvaluationStatusFailed,
		CreatedAt:       time.Now(),
	}

	if err := e.store.InsertEvaluation(eval); err != nil {
		logger.Error("Failed to persist terminal evaluation failure",
			zap.String("turn_id", turnID),
			zap.Error(err),
		)
		return
	}
	metrics.EvaluationsTotal.WithLabelValues(models.EvaluationStatusFailed).Inc()
}

// normalize clamps a raw 1-5 judge score and maps it into [0,1]. A zero
// input stays zero (the judge-failure marker).
func normalize(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	if raw < 1 {
		raw = 1
	}
	if raw > 5 {
		raw = 5
	}
	return raw / 5
}

func mean(scores map[string]float64) float64 {
	if len(scores) == 0 {
		return 0
	}

	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}
