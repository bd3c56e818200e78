package evaluation

import (
	"github.com/portfolio-assistant/backend/internal/storage/models"
)

type Stats struct {
	Count             int                `json:"count"`
	FailedCount       int                `json:"failed_count"`
	MeanOverall       float64            `json:"mean_overall"`
	MeanPerCriterion  map[string]float64 `json:"mean_per_criterion"`
	WindowSize        int                `json:"window_size"`
	WindowMeanOverall float64            `json:"window_mean_overall"`
	WindowPerCriterion map[string]float64 `json:"window_mean_per_criterion"`
}

// ComputeStats aggregates scored evaluations: overall and per-criterion
// means across everything, plus the same over the trailing window of the
// most recent evaluations.
func (e *Evaluator) ComputeStats(window int) (*Stats, error) {
	evals, err := e.store.ListEvaluations(0)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		MeanPerCriterion:   map[string]float64{},
		WindowPerCriterion: map[string]float64{},
		WindowSize:         window,
	}

	var scored []models.Evaluation
	for _, ev := range evals {
		if ev.Status == models.EvaluationStatusScored {
			scored = append(scored, ev)
		} else {
			stats.FailedCount++
		}
	}

	stats.Count = len(scored)
	stats.MeanOverall, stats.MeanPerCriterion = aggregate(scored)

	// ListEvaluations returns newest first, so the window is a prefix.
	trailing := scored
	if window > 0 && len(trailing) > window {
		trailing = trailing[:window]
	}
	stats.WindowMeanOverall, stats.WindowPerCriterion = aggregate(trailing)

	return stats, nil
}

func aggregate(evals []models.Evaluation) (float64, map[string]float64) {
	perCriterion := map[string]float64{}
	if len(evals) == 0 {
		return 0, perCriterion
	}

	var overallSum float64
	sums := map[string]float64{}
	counts := map[string]int{}

	for _, ev := range evals {
		overallSum += ev.OverallScore
		for name, score := range ev.CriterionScores {
			sums[name] += score
			counts[name]++
		}
	}

	for name, sum := range sums {
		perCriterion[name] = sum / float64(counts[name])
	}

	return overallSum / float64(len(evals)), perCriterion
}
