package insight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/storage/models"
)

type fakeInsightStore struct {
	poorEvals    []models.Evaluation
	disapprovals []models.UserFeedback
	turns        map[string]*models.ConversationTurn
	insights     []models.Insight
}

func (f *fakeInsightStore) ListUnminedPoorEvaluations(_ float64) ([]models.Evaluation, error) {
	var unmined []models.Evaluation
	for _, ev := range f.poorEvals {
		if !f.mined("eval", ev.ID) {
			unmined = append(unmined, ev)
		}
	}
	return unmined, nil
}

func (f *fakeInsightStore) ListUnminedDisapprovals() ([]models.UserFeedback, error) {
	var unmined []models.UserFeedback
	for _, fb := range f.disapprovals {
		if fb.Comment != "" && !f.mined("feedback", fb.ID) {
			unmined = append(unmined, fb)
		}
	}
	return unmined, nil
}

func (f *fakeInsightStore) mined(kind, id string) bool {
	for _, in := range f.insights {
		if kind == "eval" && in.SourceEvaluationID == id {
			return true
		}
		if kind == "feedback" && in.SourceFeedbackID == id {
			return true
		}
	}
	return false
}

func (f *fakeInsightStore) GetTurn(id string) (*models.ConversationTurn, error) {
	turn, ok := f.turns[id]
	if !ok {
		return nil, errors.New("turn not found")
	}
	return turn, nil
}

func (f *fakeInsightStore) InsertInsight(in *models.Insight) error {
	f.insights = append(f.insights, *in)
	return nil
}

func (f *fakeInsightStore) ListInsights(activeOnly bool) ([]models.Insight, error) {
	if !activeOnly {
		return f.insights, nil
	}
	var active []models.Insight
	for _, in := range f.insights {
		if in.IsActive {
			active = append(active, in)
		}
	}
	return active, nil
}

type fakeMiner struct {
	proposals []llm.InsightProposal
	err       error
}

func (f *fakeMiner) ExtractInsights(_ context.Context, _, _, _ string, _ int) ([]llm.InsightProposal, error) {
	return f.proposals, f.err
}

func TestRun_MinesPoorEvaluation(t *testing.T) {
	store := &fakeInsightStore{
		poorEvals: []models.Evaluation{{ID: "eval-1", TurnID: "turn-1", OverallScore: 0.4}},
		turns: map[string]*models.ConversationTurn{
			"turn-1": {ID: "turn-1", UserQuestion: "What stack?", BotResponse: "Many things."},
		},
	}
	miner := &fakeMiner{proposals: []llm.InsightProposal{
		{Category: models.CategoryImprovement, Text: "Name the concrete technologies", Importance: 6},
	}}

	extractor := NewExtractor(store, miner, 0.7, 3)

	created, err := extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, store.insights, 1)
	in := store.insights[0]
	assert.Equal(t, "eval-1", in.SourceEvaluationID)
	assert.True(t, in.IsActive)
	require.Len(t, in.Examples, 1)
	assert.Contains(t, in.Examples[0], "What stack?")
}

func TestRun_IsIdempotent(t *testing.T) {
	store := &fakeInsightStore{
		poorEvals: []models.Evaluation{{ID: "eval-1", TurnID: "turn-1"}},
		turns: map[string]*models.ConversationTurn{
			"turn-1": {ID: "turn-1", UserQuestion: "q", BotResponse: "a"},
		},
	}
	miner := &fakeMiner{proposals: []llm.InsightProposal{
		{Category: models.CategoryAvoidPattern, Text: "Avoid vague claims", Importance: 5},
	}}
	extractor := NewExtractor(store, miner, 0.7, 3)

	created, err := extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	created, err = extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Len(t, store.insights, 1)
}

func TestRun_FeedbackInsightShape(t *testing.T) {
	store := &fakeInsightStore{
		disapprovals: []models.UserFeedback{
			{ID: "fb-1", TurnID: "turn-1", Rating: models.RatingDisapprove, Comment: "too wordy, get to the point"},
		},
		turns: map[string]*models.ConversationTurn{
			"turn-1": {ID: "turn-1", UserQuestion: "q", BotResponse: "a"},
		},
	}
	extractor := NewExtractor(store, &fakeMiner{}, 0.7, 3)

	created, err := extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.Len(t, store.insights, 1)
	in := store.insights[0]
	assert.Equal(t, models.CategoryImprovement, in.Category)
	assert.Equal(t, FeedbackInsightImportance, in.Importance)
	assert.Equal(t, "fb-1", in.SourceFeedbackID)
	assert.True(t, strings.HasPrefix(in.Text, "User feedback: "))
	assert.Contains(t, in.Text, "too wordy, get to the point")
}

func TestRun_MinerFailureLeavesEvaluationUnmined(t *testing.T) {
	store := &fakeInsightStore{
		poorEvals: []models.Evaluation{{ID: "eval-1", TurnID: "turn-1"}},
		turns: map[string]*models.ConversationTurn{
			"turn-1": {ID: "turn-1", UserQuestion: "q", BotResponse: "a"},
		},
	}
	extractor := NewExtractor(store, &fakeMiner{err: errors.New("model down")}, 0.7, 3)

	created, err := extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created)
	assert.Empty(t, store.insights)
}

func TestIsNearDuplicate(t *testing.T) {
	active := []models.Insight{
		{Text: "Always be more concise when summarizing projects", IsActive: true},
	}

	assert.True(t, IsNearDuplicate("be more concise", active))
	assert.True(t, IsNearDuplicate("BE MORE CONCISE", active))
	assert.True(t, IsNearDuplicate("Please always be more concise when summarizing projects, every time", active))
	assert.True(t, IsNearDuplicate("  ", active))
	assert.False(t, IsNearDuplicate("Cite sources for factual claims", active))
}

func TestRun_SkipsNearDuplicateWithinSingleRun(t *testing.T) {
	store := &fakeInsightStore{
		disapprovals: []models.UserFeedback{
			{ID: "fb-1", TurnID: "t1", Comment: "be more concise"},
			{ID: "fb-2", TurnID: "t2", Comment: "Be more concise"},
		},
		turns: map[string]*models.ConversationTurn{},
	}
	extractor := NewExtractor(store, &fakeMiner{}, 0.7, 3)

	created, err := extractor.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)
}
