package instruction

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assistant/backend/internal/storage/models"
)

type fakeInstructionStore struct {
	insights []models.Insight
	state    models.InstructionState
	stateErr error
}

func (f *fakeInstructionStore) ListInsights(activeOnly bool) ([]models.Insight, error) {
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

func (f *fakeInstructionStore) GetInstructionState() (*models.InstructionState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	state := f.state
	return &state, nil
}

func (f *fakeInstructionStore) SetInstructionOverride(text string) error {
	f.state.OverrideText = text
	f.state.HasOverride = true
	return nil
}

func (f *fakeInstructionStore) ClearInstructionOverride() error {
	f.state.OverrideText = ""
	f.state.HasOverride = false
	return nil
}

func (f *fakeInstructionStore) SetInstructionSuggestion(text, state string) error {
	f.state.SuggestionText = text
	f.state.SuggestionState = state
	return nil
}

type fakeSuggester struct {
	suggestion string
	err        error
}

func (f *fakeSuggester) SuggestInstruction(_ context.Context, _, _ string) (string, error) {
	return f.suggestion, f.err
}

func newTestSynthesizer(store *fakeInstructionStore) *Synthesizer {
	return NewSynthesizer(store, &fakeSuggester{suggestion: "candidate instruction"}, nil, "")
}

func TestSynthesize_IsDeterministic(t *testing.T) {
	store := &fakeInstructionStore{
		state: models.InstructionState{SuggestionState: models.SuggestionStateIdle},
		insights: []models.Insight{
			{Category: models.CategoryBestPractice, Text: "Mention concrete project names", Importance: 9, IsActive: true},
			{Category: models.CategoryImprovement, Text: "Be more concise", Importance: 7, IsActive: true},
		},
	}
	s := newTestSynthesizer(store)

	first, err := s.Synthesize(context.Background())
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestSynthesize_SectionsAndOrdering(t *testing.T) {
	// The store returns insights sorted by descending importance; the
	// assembled sections must preserve that order.
	store := &fakeInstructionStore{
		insights: []models.Insight{
			{Category: models.CategoryImprovement, Text: "Lead with the outcome", Importance: 9, IsActive: true},
			{Category: models.CategoryImprovement, Text: "Be more concise", Importance: 4, IsActive: true},
			{Category: models.CategoryAvoidPattern, Text: "Never invent project details", Importance: 8, IsActive: true},
			{Category: models.CategoryBestPractice, Text: "Cite the reference material", Importance: 6, IsActive: true},
			{Category: models.CategoryBestPractice, Text: "Retired lesson", Importance: 10, IsActive: false},
		},
	}
	s := newTestSynthesizer(store)

	text, err := s.Synthesize(context.Background())
	require.NoError(t, err)

	assert.Contains(t, text, "Best practices to follow:")
	assert.Contains(t, text, "Known areas to improve on:")
	assert.Contains(t, text, "Patterns to avoid:")
	assert.NotContains(t, text, "Retired lesson")

	assert.Less(t,
		strings.Index(text, "Lead with the outcome"),
		strings.Index(text, "Be more concise"),
	)
	// Section order is fixed regardless of importance.
	assert.Less(t,
		strings.Index(text, "Best practices to follow:"),
		strings.Index(text, "Known areas to improve on:"),
	)
}

func TestSynthesize_EmptySectionsAreOmitted(t *testing.T) {
	store := &fakeInstructionStore{
		insights: []models.Insight{
			{Category: models.CategoryImprovement, Text: "Be more concise", Importance: 4, IsActive: true},
		},
	}
	s := newTestSynthesizer(store)

	text, err := s.Synthesize(context.Background())
	require.NoError(t, err)

	assert.NotContains(t, text, "Best practices to follow:")
	assert.NotContains(t, text, "Patterns to avoid:")
	assert.Contains(t, text, "- Be more concise")
}

func TestSynthesize_OverrideTakesPrecedenceVerbatim(t *testing.T) {
	store := &fakeInstructionStore{
		state: models.InstructionState{HasOverride: true, OverrideText: "Only answer in haiku."},
		insights: []models.Insight{
			{Category: models.CategoryImprovement, Text: "Be more concise", Importance: 4, IsActive: true},
		},
	}
	s := newTestSynthesizer(store)

	text, err := s.Synthesize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Only answer in haiku.", text)
}

func TestFallback_UsesBaseTemplateOnly(t *testing.T) {
	s := newTestSynthesizer(&fakeInstructionStore{})
	text := s.Fallback()
	assert.Contains(t, text, "portfolio site")
	assert.NotContains(t, text, "Best practices to follow:")
}

func TestSuggestionFlow_RequestApprove(t *testing.T) {
	store := &fakeInstructionStore{state: models.InstructionState{SuggestionState: models.SuggestionStateIdle}}
	s := newTestSynthesizer(store)

	candidate, err := s.RequestSuggestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "candidate instruction", candidate)
	assert.Equal(t, models.SuggestionStateSuggested, store.state.SuggestionState)

	// A second request while one is pending is refused.
	_, err = s.RequestSuggestion(context.Background())
	assert.ErrorIs(t, err, ErrSuggestionPending)

	require.NoError(t, s.Approve(context.Background(), ""))
	assert.True(t, store.state.HasOverride)
	assert.Equal(t, "candidate instruction", store.state.OverrideText)
	assert.Equal(t, models.SuggestionStateApproved, store.state.SuggestionState)
}

func TestSuggestionFlow_ApproveWithEditedText(t *testing.T) {
	store := &fakeInstructionStore{state: models.InstructionState{
		SuggestionState: models.SuggestionStateSuggested,
		SuggestionText:  "candidate instruction",
	}}
	s := newTestSynthesizer(store)

	require.NoError(t, s.Approve(context.Background(), "edited instruction"))
	assert.Equal(t, "edited instruction", store.state.OverrideText)
}

func TestSuggestionFlow_Reject(t *testing.T) {
	store := &fakeInstructionStore{state: models.InstructionState{
		SuggestionState: models.SuggestionStateSuggested,
		SuggestionText:  "candidate instruction",
	}}
	s := newTestSynthesizer(store)

	require.NoError(t, s.Reject(context.Background()))
	assert.False(t, store.state.HasOverride)
	assert.Equal(t, models.SuggestionStateRejected, store.state.SuggestionState)

	// After rejection a new suggestion can be requested.
	_, err := s.RequestSuggestion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SuggestionStateSuggested, store.state.SuggestionState)
}

func TestSuggestionFlow_ApproveWithoutPendingFails(t *testing.T) {
	store := &fakeInstructionStore{state: models.InstructionState{SuggestionState: models.SuggestionStateIdle}}
	s := newTestSynthesizer(store)

	assert.ErrorIs(t, s.Approve(context.Background(), "x"), ErrNoPendingSuggestion)
	assert.ErrorIs(t, s.Reject(context.Background()), ErrNoPendingSuggestion)
}

func TestClearOverride_RestoresSynthesis(t *testing.T) {
	store := &fakeInstructionStore{
		state: models.InstructionState{HasOverride: true, OverrideText: "override"},
	}
	s := newTestSynthesizer(store)

	require.NoError(t, s.ClearOverride(context.Background()))

	text, err := s.Synthesize(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, "override", text)
	assert.Contains(t, text, "portfolio site")
}

func TestRequestSuggestion_SuggesterFailure(t *testing.T) {
	store := &fakeInstructionStore{state: models.InstructionState{SuggestionState: models.SuggestionStateIdle}}
	s := NewSynthesizer(store, &fakeSuggester{err: errors.New("model down")}, nil, "")

	_, err := s.RequestSuggestion(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.SuggestionStateIdle, store.state.SuggestionState)
}
