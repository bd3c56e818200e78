package generation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

// FallbackAnswer is returned when the completion service fails. The turn is
// still logged with this text so the evaluation loop has a record to score.
const FallbackAnswer = "I'm sorry, I'm having trouble answering right now. Please try again in a moment!"

type Completer interface {
	GenerateAnswer(ctx context.Context, instruction, contextText, historyText, question string) (string, error)
}

type Generator struct {
	completer Completer
}

func New(completer Completer) *Generator {
	return &Generator{completer: completer}
}

// Generate produces the answer for one turn. It never returns an error; on
// service failure the caller gets FallbackAnswer.
func (g *Generator) Generate(ctx context.Context, question, contextText, historyText, instruction string) string {
	answer, err := g.completer.GenerateAnswer(ctx, instruction, contextText, historyText, question)
	if err != nil {
		logger.Error("Answer generation failed, using fallback", zap.Error(err))
		return FallbackAnswer
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		logger.Warn("Answer generation returned empty content, using fallback")
		return FallbackAnswer
	}

	return answer
}

// FormatHistory renders session turns chronologically, oldest first, for
// inclusion in the generation prompt.
func FormatHistory(turns []models.ConversationTurn) string {
	if len(turns) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, turn := range turns {
		fmt.Fprintf(&sb, "Visitor: %s\nAssistant: %s\n", turn.UserQuestion, turn.BotResponse)
	}

	return strings.TrimSpace(sb.String())
}
