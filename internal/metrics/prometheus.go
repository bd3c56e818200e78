package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QuestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_questions_total",
			Help: "Questions processed, by outcome",
		},
		[]string{"outcome"},
	)

	AnswerLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_answer_latency_seconds",
			Help:    "End-to-end latency of the synchronous answer path",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	EvaluationScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "assistant_evaluation_overall_score",
			Help:    "Overall evaluation scores in [0,1]",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EvaluationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_evaluations_total",
			Help: "Background evaluations, by status",
		},
		[]string{"status"},
	)

	FeedbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_feedback_total",
			Help: "User feedback received, by rating",
		},
		[]string{"rating"},
	)

	InsightsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_insights_created_total",
			Help: "Insights created by extraction runs",
		},
	)

	InsightsRetired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_insights_retired_total",
			Help: "Insights retired by deduplication runs",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_llm_tokens_used_total",
			Help: "Completion service tokens used",
		},
		[]string{"type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_hits_total",
			Help: "Cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_misses_total",
			Help: "Cache misses",
		},
		[]string{"cache_type"},
	)

	DocumentsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_documents_ingested_total",
			Help: "Corpus documents ingested",
		},
	)
)

func Init() {
	prometheus.MustRegister(QuestionsTotal)
	prometheus.MustRegister(AnswerLatency)
	prometheus.MustRegister(EvaluationScore)
	prometheus.MustRegister(EvaluationsTotal)
	prometheus.MustRegister(FeedbackTotal)
	prometheus.MustRegister(InsightsCreated)
	prometheus.MustRegister(InsightsRetired)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
