package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/evaluation"
	"github.com/portfolio-assistant/backend/internal/gate"
	"github.com/portfolio-assistant/backend/internal/generation"
	"github.com/portfolio-assistant/backend/internal/metrics"
	"github.com/portfolio-assistant/backend/internal/retrieval"
	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
	"github.com/portfolio-assistant/backend/pkg/utils"
)

var (
	ErrEmptyQuestion = errors.New("question is empty")
	ErrInvalidRating = errors.New("rating must be approve or disapprove")
)

type Store interface {
	InsertTurn(turn *models.ConversationTurn) error
	GetTurn(id string) (*models.ConversationTurn, error)
	ListSessionTurns(sessionID string, limit int) ([]models.ConversationTurn, error)
	InsertFeedback(fb *models.UserFeedback) error
	ListInsights(activeOnly bool) ([]models.Insight, error)
	SetInsightActive(id string, active bool) error
	DeleteInsight(id string) error
	ListEvaluations(limit int) ([]models.Evaluation, error)
	GetInstructionState() (*models.InstructionState, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) []retrieval.Passage
}

type Gatekeeper interface {
	Check(ctx context.Context, question string) gate.Decision
}

type Generator interface {
	Generate(ctx context.Context, question, contextText, historyText, instruction string) string
}

type InstructionSource interface {
	Synthesize(ctx context.Context) (string, error)
	Fallback() string
	RequestSuggestion(ctx context.Context) (string, error)
	Approve(ctx context.Context, text string) error
	Reject(ctx context.Context) error
	SetOverride(ctx context.Context, text string) error
	ClearOverride(ctx context.Context) error
	Invalidate(ctx context.Context)
}

type Scheduler interface {
	Schedule(turnID, question, answer, contextText string)
}

type Extractor interface {
	Run(ctx context.Context) (int, error)
}

type Deduplicator interface {
	Deduplicate(ctx context.Context) (int, error)
}

type StatsProvider interface {
	ComputeStats(window int) (*evaluation.Stats, error)
}

// AnswerCache is optional; a nil cache disables answer reuse.
type AnswerCache interface {
	GetAnswer(ctx context.Context, questionHash string) (string, bool, error)
	SetAnswer(ctx context.Context, questionHash, answer string, ttl time.Duration) error
	InvalidateAnswers(ctx context.Context) error
}

type Options struct {
	HistoryTurns int
	RetrieveTopK int
	StatsWindow  int
	AnswerTTL    time.Duration
}

// Answer is the synchronous result of Ask. Rejected answers carry no turn ID
// because off-topic questions are never persisted.
type Answer struct {
	Text     string `json:"answer"`
	TurnID   string `json:"turn_id,omitempty"`
	Rejected bool   `json:"rejected"`
}

// Engine wires the full answer path together: topic gate, context retrieval,
// instruction synthesis, generation, persistence, and the background
// evaluation that feeds the self-improvement loop.
type Engine struct {
	store        Store
	retriever    Retriever
	gatekeeper   Gatekeeper
	generator    Generator
	instructions InstructionSource
	scheduler    Scheduler
	extractor    Extractor
	deduplicator Deduplicator
	stats        StatsProvider
	answerCache  AnswerCache
	opts         Options
}

func NewEngine(
	store Store,
	retriever Retriever,
	gatekeeper Gatekeeper,
	generator Generator,
	instructions InstructionSource,
	scheduler Scheduler,
	extractor Extractor,
	deduplicator Deduplicator,
	stats StatsProvider,
	answerCache AnswerCache,
	opts Options,
) *Engine {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = 10
	}
	if opts.RetrieveTopK <= 0 {
		opts.RetrieveTopK = 8
	}
	if opts.StatsWindow <= 0 {
		opts.StatsWindow = 20
	}

	return &Engine{
		store:        store,
		retriever:    retriever,
		gatekeeper:   gatekeeper,
		generator:    generator,
		instructions: instructions,
		scheduler:    scheduler,
		extractor:    extractor,
		deduplicator: deduplicator,
		stats:        stats,
		answerCache:  answerCache,
		opts:         opts,
	}
}

// Ask runs the full answer path for one visitor question. It never fails on
// degraded dependencies: retrieval, instruction synthesis, and generation all
// fall back internally. Only persistence errors surface to the caller.
func (e *Engine) Ask(ctx context.Context, question, sessionID string) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	start := time.Now()
	defer func() {
		metrics.AnswerLatency.Observe(time.Since(start).Seconds())
	}()

	decision := e.gatekeeper.Check(ctx, question)
	if !decision.Accepted {
		logger.Info("Question rejected by topic gate",
			zap.String("session_id", sessionID),
			zap.Float64("confidence", decision.Confidence),
		)
		metrics.QuestionsTotal.WithLabelValues("rejected").Inc()
		return &Answer{Text: gate.RedirectMessage, Rejected: true}, nil
	}

	passages := e.retriever.Retrieve(ctx, question, e.opts.RetrieveTopK)
	contextText := retrieval.FormatContext(passages)

	historyText := ""
	turns, err := e.store.ListSessionTurns(sessionID, e.opts.HistoryTurns)
	if err != nil {
		logger.Warn("Failed to load session history, answering without it",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	} else {
		historyText = generation.FormatHistory(turns)
	}

	instructionText, err := e.instructions.Synthesize(ctx)
	if err != nil {
		logger.Warn("Instruction synthesis failed, using fallback", zap.Error(err))
		instructionText = e.instructions.Fallback()
	}

	answer, cached := e.lookupCachedAnswer(ctx, question, historyText)
	if !cached {
		answer = e.generator.Generate(ctx, question, contextText, historyText, instructionText)
		e.storeCachedAnswer(ctx, question, historyText, answer)
	}

	turn := &models.ConversationTurn{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		UserQuestion: question,
		BotResponse:  answer,
		CreatedAt:    time.Now(),
	}
	if err := e.store.InsertTurn(turn); err != nil {
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}

	// Cached answers were evaluated when first generated.
	if !cached {
		e.scheduler.Schedule(turn.ID, question, answer, contextText)
	}

	outcome := "answered"
	switch {
	case cached:
		outcome = "cached"
	case answer == generation.FallbackAnswer:
		outcome = "fallback"
	}
	metrics.QuestionsTotal.WithLabelValues(outcome).Inc()

	return &Answer{Text: answer, TurnID: turn.ID}, nil
}

// Cached answers carry no conversation history, so only the first question
// of a session is eligible in either direction.
func (e *Engine) lookupCachedAnswer(ctx context.Context, question, historyText string) (string, bool) {
	if e.answerCache == nil || e.opts.AnswerTTL <= 0 || historyText != "" {
		return "", false
	}

	answer, ok, err := e.answerCache.GetAnswer(ctx, utils.HashString(question))
	if err != nil {
		logger.Debug("Answer cache lookup failed", zap.Error(err))
		return "", false
	}
	if !ok {
		metrics.CacheMisses.WithLabelValues("answer").Inc()
		return "", false
	}

	metrics.CacheHits.WithLabelValues("answer").Inc()
	return answer, true
}

func (e *Engine) storeCachedAnswer(ctx context.Context, question, historyText, answer string) {
	if e.answerCache == nil || e.opts.AnswerTTL <= 0 || historyText != "" {
		return
	}
	if answer == generation.FallbackAnswer {
		return
	}

	if err := e.answerCache.SetAnswer(ctx, utils.HashString(question), answer, e.opts.AnswerTTL); err != nil {
		logger.Debug("Answer cache store failed", zap.Error(err))
	}
}

// SessionHistory returns a session's turns in chronological order.
func (e *Engine) SessionHistory(sessionID string, limit int) ([]models.ConversationTurn, error) {
	return e.store.ListSessionTurns(sessionID, limit)
}

// SubmitFeedback records a visitor's verdict on an answered turn. The turn
// must exist; comments ride along verbatim and feed later insight mining.
func (e *Engine) SubmitFeedback(turnID, rating, comment string) (*models.UserFeedback, error) {
	if rating != models.RatingApprove && rating != models.RatingDisapprove {
		return nil, ErrInvalidRating
	}

	turn, err := e.store.GetTurn(turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to load turn %s: %w", turnID, err)
	}

	fb := &models.UserFeedback{
		ID:        uuid.New().String(),
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		CreatedAt: time.Now(),
	}
	if err := e.store.InsertFeedback(fb); err != nil {
		return nil, fmt.Errorf("failed to persist feedback: %w", err)
	}

	metrics.FeedbackTotal.WithLabelValues(rating).Inc()
	return fb, nil
}

// RunExtraction mines unprocessed poor evaluations and negative feedback for
// new insights, then drops derived caches so the next answer sees them.
func (e *Engine) RunExtraction(ctx context.Context) (int, error) {
	created, err := e.extractor.Run(ctx)
	if err != nil {
		return created, err
	}

	if created > 0 {
		metrics.InsightsCreated.Add(float64(created))
		e.invalidateDerived(ctx)
	}
	return created, nil
}

// RunDeduplication merges near-duplicate active insights per category.
func (e *Engine) RunDeduplication(ctx context.Context) (int, error) {
	retired, err := e.deduplicator.Deduplicate(ctx)
	if err != nil {
		return retired, err
	}

	if retired > 0 {
		metrics.InsightsRetired.Add(float64(retired))
		e.invalidateDerived(ctx)
	}
	return retired, nil
}

func (e *Engine) ListInsights(activeOnly bool) ([]models.Insight, error) {
	return e.store.ListInsights(activeOnly)
}

// ToggleInsight flips an insight in or out of the active pool.
func (e *Engine) ToggleInsight(ctx context.Context, id string, active bool) error {
	if err := e.store.SetInsightActive(id, active); err != nil {
		return err
	}
	e.invalidateDerived(ctx)
	return nil
}

func (e *Engine) DeleteInsight(ctx context.Context, id string) error {
	if err := e.store.DeleteInsight(id); err != nil {
		return err
	}
	e.invalidateDerived(ctx)
	return nil
}

func (e *Engine) InstructionState() (*models.InstructionState, error) {
	return e.store.GetInstructionState()
}

// CurrentInstruction returns the instruction text the next answer would use.
func (e *Engine) CurrentInstruction(ctx context.Context) (string, error) {
	return e.instructions.Synthesize(ctx)
}

func (e *Engine) RequestInstructionSuggestion(ctx context.Context) (string, error) {
	return e.instructions.RequestSuggestion(ctx)
}

func (e *Engine) ApproveInstructionSuggestion(ctx context.Context, text string) error {
	if err := e.instructions.Approve(ctx, text); err != nil {
		return err
	}
	e.invalidateAnswers(ctx)
	return nil
}

func (e *Engine) RejectInstructionSuggestion(ctx context.Context) error {
	return e.instructions.Reject(ctx)
}

func (e *Engine) SetInstructionOverride(ctx context.Context, text string) error {
	if err := e.instructions.SetOverride(ctx, text); err != nil {
		return err
	}
	e.invalidateAnswers(ctx)
	return nil
}

func (e *Engine) ClearInstructionOverride(ctx context.Context) error {
	if err := e.instructions.ClearOverride(ctx); err != nil {
		return err
	}
	e.invalidateAnswers(ctx)
	return nil
}

func (e *Engine) ListEvaluations(limit int) ([]models.Evaluation, error) {
	return e.store.ListEvaluations(limit)
}

func (e *Engine) EvaluationStats() (*evaluation.Stats, error) {
	return e.stats.ComputeStats(e.opts.StatsWindow)
}

// invalidateDerived drops everything computed from the insight pool.
func (e *Engine) invalidateDerived(ctx context.Context) {
	e.instructions.Invalidate(ctx)
	e.invalidateAnswers(ctx)
}

func (e *Engine) invalidateAnswers(ctx context.Context) {
	if e.answerCache == nil {
		return
	}
	if err := e.answerCache.InvalidateAnswers(ctx); err != nil {
		logger.Debug("Answer cache invalidation failed", zap.Error(err))
	}
}
