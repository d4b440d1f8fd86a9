package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_ingestion_runs_total",
			Help: "Ingestion runs by outcome",
		},
		[]string{"status"},
	)

	IngestionDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_ingestion_documents_total",
			Help: "Documents classified per ingestion run",
		},
		[]string{"change"},
	)

	ChunksUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "onboarding_chunks_upserted_total",
			Help: "Chunks written to the vector index",
		},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboarding_ingestion_duration_seconds",
			Help:    "Ingestion run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	AgentTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_agent_turns_total",
			Help: "Agent turns by outcome",
		},
		[]string{"status"},
	)

	AgentTurnDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboarding_agent_turn_duration_seconds",
			Help:    "Agent turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 60},
		},
	)

	AgentSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "onboarding_agent_steps",
			Help:    "Model calls per agent turn",
			Buckets: []float64{1, 2, 3, 4, 5, 7, 10},
		},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_tool_calls_total",
			Help: "Tool invocations by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "onboarding_model_latency_seconds",
			Help:    "Language model and embedding call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_llm_tokens_used_total",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "onboarding_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			IngestionRuns,
			IngestionDocuments,
			ChunksUpserted,
			IngestionDuration,
			AgentTurns,
			AgentTurnDuration,
			AgentSteps,
			ToolCalls,
			ModelLatency,
			LLMTokensUsed,
			CacheHits,
			CacheMisses,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
