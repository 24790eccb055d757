package usecase

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/repository"
	"github.com/example/latency-dashboard/internal/stats"
)

// Aggregator turns a partition's raw samples into its daily summary.
type Aggregator struct {
	store  MetricStore
	cache  SummaryCache
	clock  func() time.Time
	logger *zap.Logger
}

// NewAggregator constructs an aggregator. cache may be nil.
func NewAggregator(store MetricStore, cache SummaryCache, logger *zap.Logger) *Aggregator {
	if cache == nil {
		cache = NopSummaryCache{}
	}
	return &Aggregator{
		store:  store,
		cache:  cache,
		clock:  time.Now,
		logger: logger.Named("aggregator"),
	}
}

// ComputeSummary recomputes the (date, type) summary from stored raw samples and persists it.
// A partition without samples yields a summary with SampleCount 0 that is not stored.
func (a *Aggregator) ComputeSummary(ctx context.Context, date, metricType string) (*repository.DailySummary, error) {
	opLogger := logging.WithPartition(logging.WithOperation(a.logger, "aggregate.compute_summary", logging.RunIDFromContext(ctx)), date, metricType)

	samples, err := a.store.GetRawSamples(ctx, date, metricType)
	if err != nil {
		return nil, err
	}

	summary := BuildSummary(date, metricType, samples, a.clock().UTC())
	if summary.SampleCount == 0 {
		opLogger.Info("no raw samples, summary not stored")
		return summary, nil
	}

	if err := a.store.UpsertSummary(ctx, summary); err != nil {
		return nil, err
	}
	a.cache.Invalidate(ctx, metricType)

	opLogger.Info("summary stored", zap.Int("samples", summary.SampleCount))
	return summary, nil
}

// BuildSummary computes P90/P99 for every timing series, ignoring the bot dimension.
// Series without values leave their percentiles nil. The result depends only on the inputs.
func BuildSummary(date, metricType string, samples []repository.RawSample, computedAt time.Time) *repository.DailySummary {
	var server, llm, fast []float64
	bots := map[int64]struct{}{}
	for _, sample := range samples {
		if sample.ServerResponseTimeMs != nil {
			server = append(server, *sample.ServerResponseTimeMs)
		}
		if sample.LLMResponseTimeMs != nil {
			llm = append(llm, *sample.LLMResponseTimeMs)
		}
		if sample.FastResponseTimeMs != nil {
			fast = append(fast, *sample.FastResponseTimeMs)
		}
		if sample.BotID != nil {
			bots[*sample.BotID] = struct{}{}
		}
	}

	summary := &repository.DailySummary{
		Date:        date,
		Type:        metricType,
		SampleCount: len(samples),
		BotIDs:      sortedBotIDs(bots),
		ComputedAt:  computedAt,
	}
	summary.ServerP90, summary.ServerP99 = p90p99(server)
	summary.LLMP90, summary.LLMP99 = p90p99(llm)
	summary.FastP90, summary.FastP99 = p90p99(fast)
	return summary
}

func p90p99(values []float64) (*float64, *float64) {
	ps := stats.Percentiles(values, 90, 99)
	if ps == nil {
		return nil, nil
	}
	return &ps[0], &ps[1]
}

func sortedBotIDs(bots map[int64]struct{}) []byte {
	ids := make([]int64, 0, len(bots))
	for id := range bots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	data, err := json.Marshal(ids)
	if err != nil {
		return []byte("[]")
	}
	return data
}
