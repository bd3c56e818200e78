package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assistant/backend/internal/evaluation"
	"github.com/portfolio-assistant/backend/internal/gate"
	"github.com/portfolio-assistant/backend/internal/generation"
	"github.com/portfolio-assistant/backend/internal/retrieval"
	"github.com/portfolio-assistant/backend/internal/storage/models"
)

type fakeChatStore struct {
	turns    map[string]*models.ConversationTurn
	feedback []models.UserFeedback
	insights []models.Insight
}

func newFakeChatStore() *fakeChatStore {
	return &fakeChatStore{turns: map[string]*models.ConversationTurn{}}
}

func (f *fakeChatStore) InsertTurn(turn *models.ConversationTurn) error {
	f.turns[turn.ID] = turn
	return nil
}

func (f *fakeChatStore) GetTurn(id string) (*models.ConversationTurn, error) {
	turn, ok := f.turns[id]
	if !ok {
		return nil, errors.New("turn not found")
	}
	return turn, nil
}

func (f *fakeChatStore) ListSessionTurns(sessionID string, _ int) ([]models.ConversationTurn, error) {
	var out []models.ConversationTurn
	for _, turn := range f.turns {
		if turn.SessionID == sessionID {
			out = append(out, *turn)
		}
	}
	return out, nil
}

func (f *fakeChatStore) InsertFeedback(fb *models.UserFeedback) error {
	f.feedback = append(f.feedback, *fb)
	return nil
}

func (f *fakeChatStore) ListInsights(_ bool) ([]models.Insight, error) {
	return f.insights, nil
}

func (f *fakeChatStore) SetInsightActive(_ string, _ bool) error { return nil }
func (f *fakeChatStore) DeleteInsight(_ string) error            { return nil }

func (f *fakeChatStore) ListEvaluations(_ int) ([]models.Evaluation, error) {
	return nil, nil
}

func (f *fakeChatStore) GetInstructionState() (*models.InstructionState, error) {
	return &models.InstructionState{SuggestionState: models.SuggestionStateIdle}, nil
}

type fakeRetriever struct{}

func (f *fakeRetriever) Retrieve(_ context.Context, _ string, _ int) []retrieval.Passage {
	return []retrieval.Passage{{SourceName: "about.md", Content: "Nick builds backends."}}
}

type fakeGate struct {
	accepted bool
}

func (f *fakeGate) Check(_ context.Context, _ string) gate.Decision {
	return gate.Decision{Accepted: f.accepted, Confidence: 0.9}
}

type fakeGenerator struct {
	answer      string
	lastHistory string
	calls       int
}

func (f *fakeGenerator) Generate(_ context.Context, _, _, historyText, _ string) string {
	f.calls++
	f.lastHistory = historyText
	return f.answer
}

type fakeInstructions struct {
	text        string
	err         error
	invalidated int
}

func (f *fakeInstructions) Synthesize(_ context.Context) (string, error) { return f.text, f.err }
func (f *fakeInstructions) Fallback() string                             { return "base instruction" }
func (f *fakeInstructions) RequestSuggestion(_ context.Context) (string, error) {
	return "suggestion", nil
}
func (f *fakeInstructions) Approve(_ context.Context, _ string) error { return nil }
func (f *fakeInstructions) Reject(_ context.Context) error            { return nil }
func (f *fakeInstructions) SetOverride(_ context.Context, _ string) error {
	return nil
}
func (f *fakeInstructions) ClearOverride(_ context.Context) error { return nil }
func (f *fakeInstructions) Invalidate(_ context.Context)          { f.invalidated++ }

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) Schedule(turnID, _, _, _ string) {
	f.scheduled = append(f.scheduled, turnID)
}

type fakeExtractor struct {
	created int
	err     error
}

func (f *fakeExtractor) Run(_ context.Context) (int, error) { return f.created, f.err }

type fakeDeduplicator struct {
	retired int
}

func (f *fakeDeduplicator) Deduplicate(_ context.Context) (int, error) { return f.retired, nil }

type fakeStats struct{}

func (f *fakeStats) ComputeStats(_ int) (*evaluation.Stats, error) {
	return &evaluation.Stats{}, nil
}

type engineFixture struct {
	store        *fakeChatStore
	gatekeeper   *fakeGate
	generator    *fakeGenerator
	instructions *fakeInstructions
	scheduler    *fakeScheduler
	engine       *Engine
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		store:        newFakeChatStore(),
		gatekeeper:   &fakeGate{accepted: true},
		generator:    &fakeGenerator{answer: "Nick built a search service."},
		instructions: &fakeInstructions{text: "live instruction"},
		scheduler:    &fakeScheduler{},
	}
	f.engine = NewEngine(
		f.store,
		&fakeRetriever{},
		f.gatekeeper,
		f.generator,
		f.instructions,
		f.scheduler,
		&fakeExtractor{created: 2},
		&fakeDeduplicator{retired: 1},
		&fakeStats{},
		nil,
		Options{HistoryTurns: 10, RetrieveTopK: 8, StatsWindow: 20},
	)
	return f
}

func TestAsk_AnswersAndPersistsTurn(t *testing.T) {
	f := newEngineFixture()

	answer, err := f.engine.Ask(context.Background(), "What did Nick build?", "session-1")
	require.NoError(t, err)

	assert.Equal(t, "Nick built a search service.", answer.Text)
	assert.False(t, answer.Rejected)
	require.NotEmpty(t, answer.TurnID)

	turn, err := f.store.GetTurn(answer.TurnID)
	require.NoError(t, err)
	assert.Equal(t, "session-1", turn.SessionID)
	assert.Equal(t, "What did Nick build?", turn.UserQuestion)

	assert.Equal(t, []string{answer.TurnID}, f.scheduler.scheduled)
}

func TestAsk_RejectedQuestionIsNotPersisted(t *testing.T) {
	f := newEngineFixture()
	f.gatekeeper.accepted = false

	answer, err := f.engine.Ask(context.Background(), "Do my taxes", "session-1")
	require.NoError(t, err)

	assert.True(t, answer.Rejected)
	assert.Equal(t, gate.RedirectMessage, answer.Text)
	assert.Empty(t, answer.TurnID)
	assert.Empty(t, f.store.turns)
	assert.Empty(t, f.scheduler.scheduled)
	assert.Zero(t, f.generator.calls)
}

func TestAsk_EmptyQuestion(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Ask(context.Background(), "   ", "session-1")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestAsk_GeneratesSessionIDWhenMissing(t *testing.T) {
	f := newEngineFixture()

	answer, err := f.engine.Ask(context.Background(), "q", "")
	require.NoError(t, err)

	turn, err := f.store.GetTurn(answer.TurnID)
	require.NoError(t, err)
	assert.NotEmpty(t, turn.SessionID)
}

func TestAsk_DegradedInstructionStillAnswers(t *testing.T) {
	f := newEngineFixture()
	f.instructions.err = errors.New("store down")
	f.generator.answer = generation.FallbackAnswer

	answer, err := f.engine.Ask(context.Background(), "q", "session-1")
	require.NoError(t, err)

	// Even a fallback answer is a logged, evaluable turn.
	assert.Equal(t, generation.FallbackAnswer, answer.Text)
	assert.NotEmpty(t, answer.TurnID)
	assert.Len(t, f.scheduler.scheduled, 1)
}

func TestAsk_HistoryReachesGenerator(t *testing.T) {
	f := newEngineFixture()

	first, err := f.engine.Ask(context.Background(), "Who is Nick?", "session-1")
	require.NoError(t, err)
	require.NotEmpty(t, first.TurnID)

	_, err = f.engine.Ask(context.Background(), "What does he build?", "session-1")
	require.NoError(t, err)

	assert.Contains(t, f.generator.lastHistory, "Who is Nick?")
}

func TestSubmitFeedback(t *testing.T) {
	f := newEngineFixture()
	answer, err := f.engine.Ask(context.Background(), "q", "session-1")
	require.NoError(t, err)

	fb, err := f.engine.SubmitFeedback(answer.TurnID, models.RatingDisapprove, "too vague")
	require.NoError(t, err)

	assert.Equal(t, answer.TurnID, fb.TurnID)
	assert.Equal(t, "session-1", fb.SessionID)
	assert.Equal(t, "too vague", fb.Comment)
}

func TestSubmitFeedback_InvalidRating(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.SubmitFeedback("turn-1", "meh", "")
	assert.ErrorIs(t, err, ErrInvalidRating)
}

func TestSubmitFeedback_UnknownTurn(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.SubmitFeedback("missing", models.RatingApprove, "")
	require.Error(t, err)
	assert.Empty(t, f.store.feedback)
}

func TestRunExtraction_InvalidatesDerivedState(t *testing.T) {
	f := newEngineFixture()

	created, err := f.engine.RunExtraction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, f.instructions.invalidated)
}

func TestRunDeduplication_InvalidatesDerivedState(t *testing.T) {
	f := newEngineFixture()

	retired, err := f.engine.RunDeduplication(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)
	assert.Equal(t, 1, f.instructions.invalidated)
}

type fakeAnswerCache struct {
	answers     map[string]string
	invalidated int
}

func (f *fakeAnswerCache) GetAnswer(_ context.Context, hash string) (string, bool, error) {
	answer, ok := f.answers[hash]
	return answer, ok, nil
}

func (f *fakeAnswerCache) SetAnswer(_ context.Context, hash, answer string, _ time.Duration) error {
	f.answers[hash] = answer
	return nil
}

func (f *fakeAnswerCache) InvalidateAnswers(_ context.Context) error {
	f.answers = map[string]string{}
	f.invalidated++
	return nil
}

func TestAsk_AnswerCacheReusesFirstQuestion(t *testing.T) {
	f := newEngineFixture()
	cache := &fakeAnswerCache{answers: map[string]string{}}
	f.engine.answerCache = cache
	f.engine.opts.AnswerTTL = time.Minute

	first, err := f.engine.Ask(context.Background(), "Who is Nick?", "session-1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.generator.calls)

	// A fresh session asking the same opening question hits the cache;
	// the turn is still persisted.
	second, err := f.engine.Ask(context.Background(), "Who is Nick?", "session-2")
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 1, f.generator.calls)
	assert.NotEmpty(t, second.TurnID)
	assert.NotEqual(t, first.TurnID, second.TurnID)
}

func TestToggleInsight_InvalidatesAnswerCache(t *testing.T) {
	f := newEngineFixture()
	cache := &fakeAnswerCache{answers: map[string]string{"h": "stale"}}
	f.engine.answerCache = cache

	require.NoError(t, f.engine.ToggleInsight(context.Background(), "in-1", false))
	assert.Equal(t, 1, cache.invalidated)
	assert.Equal(t, 1, f.instructions.invalidated)
}
