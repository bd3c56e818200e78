package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/metrics"
	"github.com/portfolio-assistant/backend/pkg/circuitbreaker"
	"github.com/portfolio-assistant/backend/pkg/logger"
	"github.com/portfolio-assistant/backend/pkg/retry"
)

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(apiKey, model, embeddingModel string, temperature float32, maxTokens, timeoutSec int) *Client {
	client := openai.NewClient(apiKey)

	cb := circuitbreaker.New("llm", circuitbreaker.Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	if timeoutSec <= 0 {
		timeoutSec = 30
	}

	logger.Info("LLM client initialized",
		zap.String("model", model),
		zap.String("embedding_model", embeddingModel),
	)

	return &Client{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		temperature:    temperature,
		maxTokens:      maxTokens,
		timeout:        time.Duration(timeoutSec) * time.Second,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: req.UserPrompt,
		},
	}

	var result *CompletionResponse

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(
				ctx,
				openai.ChatCompletionRequest{
					Model:       c.model,
					Messages:    messages,
					Temperature: temperature,
					MaxTokens:   maxTokens,
				},
			)

			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}

			if len(resp.Choices) == 0 {
				return fmt.Errorf("completion returned no choices")
			}

			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			result = &CompletionResponse{
				Content: resp.Choices[0].Message.Content,
				Usage: Usage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				},
			}

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	metrics.LLMTokensUsed.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))

	return result, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var embedding []float32

	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateEmbeddings(
				ctx,
				openai.EmbeddingRequest{
					Input: []string{text},
					Model: openai.EmbeddingModel(c.embeddingModel),
				},
			)

			if err != nil {
				return fmt.Errorf("failed to generate embedding: %w", err)
			}

			if len(resp.Data) == 0 {
				return fmt.Errorf("embedding response is empty")
			}

			embedding = make([]float32, len(resp.Data[0].Embedding))
			copy(embedding, resp.Data[0].Embedding)

			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return embedding, nil
}

// GenerateAnswer runs a single completion composed from the live system
// instruction, the retrieved context, the session history, and the question.
func (c *Client) GenerateAnswer(ctx context.Context, instruction, contextText, historyText, question string) (string, error) {
	var sb strings.Builder
	if contextText != "" {
		sb.WriteString("Reference material about Nick:\n")
		sb.WriteString(contextText)
		sb.WriteString("\n\n")
	}
	if historyText != "" {
		sb.WriteString("Conversation so far:\n")
		sb.WriteString(historyText)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Visitor question: ")
	sb.WriteString(question)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: instruction,
		UserPrompt:   sb.String(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}

	logger.Info("Answer generated",
		zap.Int("question_length", len(question)),
		zap.Int("answer_length", len(resp.Content)),
	)

	return resp.Content, nil
}

// CheckTopic classifies whether a question is acceptable to answer. The
// rubric is deliberately permissive; rejection is reserved for content that
// is unambiguously hateful, sexually explicit, or seeking illegal help.
func (c *Client) CheckTopic(ctx context.Context, question string) (TopicDecision, error) {
	systemPrompt := `You are a content gate for a personal-portfolio chat assistant.
Decide whether a visitor question is acceptable to answer.

Accept by default. Off-topic questions, vague questions, and questions the
assistant may not know the answer to are all ACCEPTABLE. Reject ONLY when the
question is unambiguously hateful, sexually explicit, or requests help with
illegal activity.

Return JSON only:
{"accepted": true, "confidence": 0.95}`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   fmt.Sprintf("Question: %s", question),
		Temperature:  0.1,
		MaxTokens:    100,
	})
	if err != nil {
		return TopicDecision{}, err
	}

	return parseTopicDecision(resp.Content)
}

// JudgeCriterion scores an answer along one quality axis on a raw 1-5 scale.
func (c *Client) JudgeCriterion(ctx context.Context, criterion, rubric, question, answer, contextText string) (CriterionJudgment, error) {
	systemPrompt := fmt.Sprintf(`You are a strict quality judge for a portfolio chat assistant.
Rate the assistant's answer on a single criterion: %s.
%s

Score on a 1-5 scale where 1 is very poor and 5 is excellent.

Return JSON only:
{"score": 4, "comment": "one sentence", "strength": "what worked", "improvement": "what to fix"}`, criterion, rubric)

	userPrompt := fmt.Sprintf(`Question: %s

Answer: %s

Context the answer was grounded on:
%s

Rate the answer.`, question, answer, contextText)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.1,
		MaxTokens:    300,
	})
	if err != nil {
		return CriterionJudgment{}, err
	}

	return parseCriterionJudgment(resp.Content)
}

// ExtractInsights proposes up to max pattern-level lessons from a poorly
// scored exchange.
func (c *Client) ExtractInsights(ctx context.Context, question, answer, evalNotes string, max int) ([]InsightProposal, error) {
	systemPrompt := fmt.Sprintf(`You analyze low-quality answers from a portfolio chat assistant
and extract reusable lessons.

Propose 1 to %d short, pattern-level insights. Describe the general lesson,
never the verbatim exchange. Each insight has:
- category: one of "best_practice", "improvement", "avoid_pattern"
- text: one concise sentence
- importance: integer 1-10

Return a JSON array only:
[{"category": "improvement", "text": "...", "importance": 6}]`, max)

	userPrompt := fmt.Sprintf(`Question: %s

Answer: %s

Evaluator notes: %s

Extract the lessons.`, question, answer, evalNotes)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    600,
	})
	if err != nil {
		return nil, err
	}

	return parseInsightProposals(resp.Content, max)
}

// ProposeMergeGroups asks the judge which insights within one category say
// materially the same thing.
func (c *Client) ProposeMergeGroups(ctx context.Context, category string, insights []InsightSummary) ([]MergeGroup, error) {
	systemPrompt := `You deduplicate lessons learned by a chat assistant.
Given a numbered list of insights from ONE category, group the ones that mean
materially the same thing. Each group lists two or more insight ids and one
synthesized replacement text covering the whole group. Groups must be
disjoint. Insights with no duplicate are left out entirely.

Return a JSON array only (empty array if nothing is similar):
[{"ids": ["id1", "id2"], "text": "merged insight text"}]`

	var sb strings.Builder
	fmt.Fprintf(&sb, "Category: %s\n\nInsights:\n", category)
	for _, in := range insights {
		fmt.Fprintf(&sb, "- id=%s importance=%d text=%q\n", in.ID, in.Importance, in.Text)
	}

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0.2,
		MaxTokens:    800,
	})
	if err != nil {
		return nil, err
	}

	return parseMergeGroups(resp.Content)
}

// SuggestInstruction drafts a candidate system instruction for operator
// review. The draft does not take effect until approved.
func (c *Client) SuggestInstruction(ctx context.Context, current string, insightDigest string) (string, error) {
	systemPrompt := `You refine the system instruction of a personal-portfolio chat
assistant. Produce a complete replacement instruction that keeps the
assistant's identity and tone, folds in the accumulated lessons, and stays
under 600 words. Return the instruction text only, no commentary.`

	userPrompt := fmt.Sprintf(`Current instruction:
%s

Accumulated lessons:
%s

Draft the improved instruction.`, current, insightDigest)

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.5,
		MaxTokens:    1200,
	})
	if err != nil {
		return "", fmt.Errorf("failed to suggest instruction: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}
