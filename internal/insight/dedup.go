package insight

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/portfolio-assistant/backend/internal/llm"
	"github.com/portfolio-assistant/backend/internal/storage/models"
	"github.com/portfolio-assistant/backend/pkg/logger"
)

type MergeJudge interface {
	ProposeMergeGroups(ctx context.Context, category string, insights []llm.InsightSummary) ([]llm.MergeGroup, error)
}

type DedupStore interface {
	ListInsights(activeOnly bool) ([]models.Insight, error)
	MergeInsight(id, text string, importance int) error
	SetInsightActive(id string, active bool) error
}

// Deduplicator clusters active insights within each category and merges
// near-duplicates: the first member of a group absorbs the merged text and
// the max importance, the rest are retired. Safe to run repeatedly; never
// merges across categories.
type Deduplicator struct {
	store DedupStore
	judge MergeJudge
}

func NewDeduplicator(store DedupStore, judge MergeJudge) *Deduplicator {
	return &Deduplicator{store: store, judge: judge}
}

// Deduplicate returns the number of insights retired.
func (d *Deduplicator) Deduplicate(ctx context.Context) (int, error) {
	active, err := d.store.ListInsights(true)
	if err != nil {
		return 0, fmt.Errorf("failed to load active insights: %w", err)
	}

	byCategory := map[string][]models.Insight{}
	for _, in := range active {
		byCategory[in.Category] = append(byCategory[in.Category], in)
	}

	retired := 0
	for _, category := range []string{models.CategoryBestPractice, models.CategoryImprovement, models.CategoryAvoidPattern} {
		insights := byCategory[category]
		if len(insights) < 2 {
			continue
		}

		n, err := d.deduplicateCategory(ctx, category, insights)
		if err != nil {
			// One category's judge failure does not block the others.
			logger.Warn("Deduplication failed for category",
				zap.String("category", category),
				zap.Error(err),
			)
			continue
		}
		retired += n
	}

	logger.Info("Insight deduplication completed", zap.Int("retired", retired))
	return retired, nil
}

func (d *Deduplicator) deduplicateCategory(ctx context.Context, category string, insights []models.Insight) (int, error) {
	byID := make(map[string]models.Insight, len(insights))
	summaries := make([]llm.InsightSummary, 0, len(insights))
	for _, in := range insights {
		byID[in.ID] = in
		summaries = append(summaries, llm.InsightSummary{
			ID:         in.ID,
			Text:       in.Text,
			Importance: in.Importance,
		})
	}

	groups, err := d.judge.ProposeMergeGroups(ctx, category, summaries)
	if err != nil {
		return 0, err
	}

	retired := 0
	used := map[string]bool{}

	for _, group := range groups {
		members, ok := d.validateGroup(group, byID, used)
		if !ok {
			continue
		}

		maxImportance := 0
		for _, m := range members {
			if m.Importance > maxImportance {
				maxImportance = m.Importance
			}
			used[m.ID] = true
		}

		survivor := members[0]
		if err := d.store.MergeInsight(survivor.ID, group.Text, maxImportance); err != nil {
			logger.Error("Failed to merge insight group",
				zap.String("survivor_id", survivor.ID),
				zap.Error(err),
			)
			continue
		}

		for _, m := range members[1:] {
			if err := d.store.SetInsightActive(m.ID, false); err != nil {
				logger.Error("Failed to retire insight",
					zap.String("insight_id", m.ID),
					zap.Error(err),
				)
				continue
			}
			retired++
		}

		logger.Info("Insight group merged",
			zap.String("category", category),
			zap.String("survivor_id", survivor.ID),
			zap.Int("group_size", len(members)),
		)
	}

	return retired, nil
}

// validateGroup drops ids the judge invented and overlaps with already
// used groups; anything under two valid members is not a merge.
func (d *Deduplicator) validateGroup(group llm.MergeGroup, byID map[string]models.Insight, used map[string]bool) ([]models.Insight, bool) {
	var members []models.Insight
	for _, id := range group.IDs {
		in, ok := byID[id]
		if !ok || used[id] {
			continue
		}
		members = append(members, in)
	}

	if len(members) < 2 {
		return nil, false
	}
	return members, true
}
