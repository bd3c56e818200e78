package gate

import (
	"context"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

// RedirectMessage is returned for rejected questions. The turn is not
// persisted and generation is never invoked.
const RedirectMessage = "I'm here to chat about Nick's work, projects, and background. Happy to help with anything in that area!"

type Judge interface {
	CheckTopic(ctx context.Context, question string) (llm.TopicDecision, error)
}

type Decision struct {
	Accepted   bool
	Confidence float64
}

// Gate is a permissive acceptability check run before generation. A judge
// failure fails open: blocking a visitor over a broken classifier is worse
// than answering an odd question.
type Gate struct {
	judge Judge
}

func New(judge Judge) *Gate {
	return &Gate{judge: judge}
}

func (g *Gate) Check(ctx context.Context, question string) Decision {
	decision, err := g.judge.CheckTopic(ctx, question)
	if err != nil {
		logger.Warn("Topic check failed, accepting question", zap.Error(err))
		return Decision{Accepted: true, Confidence: 0}
	}

	if !decision.Accepted {
		logger.Info("Question rejected by topic gate",
			zap.Float64("confidence", decision.Confidence),
		)
	}

	return Decision{Accepted: decision.Accepted, Confidence: decision.Confidence}
}
