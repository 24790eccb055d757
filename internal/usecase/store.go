package usecase

import (
	"context"

	"github.com/example/latency-dashboard/internal/repository"
)

// MetricStore defines the persistence operations needed by the pipeline.
type MetricStore interface {
	UpsertRawSamples(ctx context.Context, date, metricType string, samples []repository.RawSample) (int, error)
	GetRawSamples(ctx context.Context, date, metricType string) ([]repository.RawSample, error)
	CountRawSamples(ctx context.Context, date, metricType string) (int64, error)
	UpsertSummary(ctx context.Context, summary *repository.DailySummary) error
	GetSummaries(ctx context.Context, startDate, endDate, metricType string) ([]repository.DailySummary, error)
	Ping(ctx context.Context) error
}
