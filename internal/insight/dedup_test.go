package insight

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/storage/models"
)

type fakeDedupStore struct {
	insights map[string]*models.Insight
}

func newFakeDedupStore(insights ...models.Insight) *fakeDedupStore {
	s := &fakeDedupStore{insights: map[string]*models.Insight{}}
	for i := range insights {
		in := insights[i]
		s.insights[in.ID] = &in
	}
	return s
}

func (f *fakeDedupStore) ListInsights(activeOnly bool) ([]models.Insight, error) {
	var out []models.Insight
	for _, in := range f.insights {
		if !activeOnly || in.IsActive {
			out = append(out, *in)
		}
	}
	return out, nil
}

func (f *fakeDedupStore) MergeInsight(id, text string, importance int) error {
	in, ok := f.insights[id]
	if !ok {
		return errors.New("not found")
	}
	in.Text = text
	in.Importance = importance
	return nil
}

func (f *fakeDedupStore) SetInsightActive(id string, active bool) error {
	in, ok := f.insights[id]
	if !ok {
		return errors.New("not found")
	}
	in.IsActive = active
	return nil
}

type fakeMergeJudge struct {
	groups map[string][]llm.MergeGroup
	errFor map[string]error
	err    error
}

func (f *fakeMergeJudge) ProposeMergeGroups(_ context.Context, category string, _ []llm.InsightSummary) ([]llm.MergeGroup, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.errFor[category]; err != nil {
		return nil, err
	}
	return f.groups[category], nil
}

func TestDeduplicate_MergesGroupInPlace(t *testing.T) {
	store := newFakeDedupStore(
		models.Insight{ID: "a", Category: models.CategoryImprovement, Text: "be concise", Importance: 5, IsActive: true},
		models.Insight{ID: "b", Category: models.CategoryImprovement, Text: "shorter answers", Importance: 8, IsActive: true},
		models.Insight{ID: "c", Category: models.CategoryImprovement, Text: "cite sources", Importance: 4, IsActive: true},
	)
	judge := &fakeMergeJudge{groups: map[string][]llm.MergeGroup{
		models.CategoryImprovement: {{IDs: []string{"a", "b"}, Text: "Keep answers concise"}},
	}}

	retired, err := NewDeduplicator(store, judge).Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	survivor := store.insights["a"]
	assert.Equal(t, "Keep answers concise", survivor.Text)
	assert.Equal(t, 8, survivor.Importance)
	assert.True(t, survivor.IsActive)

	assert.False(t, store.insights["b"].IsActive)
	assert.True(t, store.insights["c"].IsActive)
}

func TestDeduplicate_IsIdempotent(t *testing.T) {
	store := newFakeDedupStore(
		models.Insight{ID: "a", Category: models.CategoryImprovement, Text: "be concise", Importance: 5, IsActive: true},
		models.Insight{ID: "b", Category: models.CategoryImprovement, Text: "shorter answers", Importance: 8, IsActive: true},
	)
	judge := &fakeMergeJudge{groups: map[string][]llm.MergeGroup{
		models.CategoryImprovement: {{IDs: []string{"a", "b"}, Text: "Keep answers concise"}},
	}}
	dedup := NewDeduplicator(store, judge)

	retired, err := dedup.Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	// Only one active insight remains in the category, so the judge is not
	// even consulted again.
	retired, err = dedup.Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, retired)
}

func TestDeduplicate_DropsInventedAndOverlappingIDs(t *testing.T) {
	store := newFakeDedupStore(
		models.Insight{ID: "a", Category: models.CategoryBestPractice, Text: "x", Importance: 3, IsActive: true},
		models.Insight{ID: "b", Category: models.CategoryBestPractice, Text: "y", Importance: 4, IsActive: true},
		models.Insight{ID: "c", Category: models.CategoryBestPractice, Text: "z", Importance: 5, IsActive: true},
	)
	judge := &fakeMergeJudge{groups: map[string][]llm.MergeGroup{
		models.CategoryBestPractice: {
			{IDs: []string{"a", "ghost"}, Text: "invalid after filtering"},
			{IDs: []string{"b", "c"}, Text: "merged"},
			{IDs: []string{"c", "a"}, Text: "overlaps the previous group"},
		},
	}}

	retired, err := NewDeduplicator(store, judge).Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)

	assert.True(t, store.insights["a"].IsActive)
	assert.Equal(t, "merged", store.insights["b"].Text)
	assert.False(t, store.insights["c"].IsActive)
}

func TestDeduplicate_NeverMergesAcrossCategories(t *testing.T) {
	store := newFakeDedupStore(
		models.Insight{ID: "a", Category: models.CategoryImprovement, Text: "be concise", Importance: 5, IsActive: true},
		models.Insight{ID: "b", Category: models.CategoryAvoidPattern, Text: "avoid verbosity", Importance: 5, IsActive: true},
	)
	// Neither category has two members, so no judge call is made and
	// nothing changes.
	judge := &fakeMergeJudge{err: errors.New("should not be called")}

	retired, err := NewDeduplicator(store, judge).Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, retired)
	assert.True(t, store.insights["a"].IsActive)
	assert.True(t, store.insights["b"].IsActive)
}

func TestDeduplicate_CategoryFailureDoesNotBlockOthers(t *testing.T) {
	store := newFakeDedupStore(
		models.Insight{ID: "a", Category: models.CategoryImprovement, Text: "x", Importance: 5, IsActive: true},
		models.Insight{ID: "b", Category: models.CategoryImprovement, Text: "y", Importance: 6, IsActive: true},
		models.Insight{ID: "c", Category: models.CategoryAvoidPattern, Text: "p", Importance: 5, IsActive: true},
		models.Insight{ID: "d", Category: models.CategoryAvoidPattern, Text: "q", Importance: 7, IsActive: true},
	)
	judge := &fakeMergeJudge{
		errFor: map[string]error{models.CategoryImprovement: errors.New("judge down")},
		groups: map[string][]llm.MergeGroup{
			models.CategoryAvoidPattern: {{IDs: []string{"c", "d"}, Text: "merged avoid"}},
		},
	}

	retired, err := NewDeduplicator(store, judge).Deduplicate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, retired)
	assert.True(t, store.insights["a"].IsActive)
	assert.True(t, store.insights["b"].IsActive)
	assert.False(t, store.insights["d"].IsActive)
}
