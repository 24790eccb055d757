package usecase

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/daterange"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/repository"
)

const (
	// DefaultRecentDays is the window shown on the dashboard.
	DefaultRecentDays = 7
	// MaxRecentDays bounds get_recent and refresh.
	MaxRecentDays = 90
	// MaxQueryDays bounds an explicit range query.
	MaxQueryDays = 366
)

// DateRange is an inclusive pair of YYYY-MM-DD days.
type DateRange struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// RecentWindow is the dashboard payload for the most recent complete days.
type RecentWindow struct {
	DailyMetrics []repository.DailySummary `json:"daily_metrics"`
	DateRange    DateRange                 `json:"date_range"`
	MetricType   string                    `json:"metric_type"`
}

// RefreshResult reports a re-aggregation of the recent window.
type RefreshResult struct {
	Window    *RecentWindow `json:"window"`
	Refreshed []string      `json:"refreshed"`
	Busy      []string      `json:"busy,omitempty"`
}

// QueryService reads daily summaries for display and can re-aggregate the recent window.
type QueryService struct {
	store       MetricStore
	aggregator  *Aggregator
	guard       *PartitionGuard
	cache       SummaryCache
	defaultType string
	clock       func() time.Time
	newRunID    func() string
	logger      *zap.Logger
}

// NewQueryService constructs a query service. cache may be nil.
func NewQueryService(store MetricStore, aggregator *Aggregator, guard *PartitionGuard, cache SummaryCache, defaultType string, logger *zap.Logger) *QueryService {
	if cache == nil {
		cache = NopSummaryCache{}
	}
	return &QueryService{
		store:       store,
		aggregator:  aggregator,
		guard:       guard,
		cache:       cache,
		defaultType: defaultType,
		clock:       time.Now,
		newRunID:    uuid.NewString,
		logger:      logger.Named("query"),
	}
}

func (q *QueryService) resolveType(metricType string) string {
	metricType = strings.TrimSpace(metricType)
	if metricType == "" {
		return q.defaultType
	}
	return metricType
}

func validateDays(days int) error {
	if days < 1 || days > MaxRecentDays {
		return apperror.New(apperror.KindValidation, "days must be between 1 and %d, got %d", MaxRecentDays, days)
	}
	return nil
}

// GetRecent returns the summaries of the days complete days ending yesterday, oldest first.
// An empty type selects the configured default.
func (q *QueryService) GetRecent(ctx context.Context, metricType string, days int) (*RecentWindow, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	metricType = q.resolveType(metricType)
	start, end := daterange.Recent(q.clock(), days)
	endDate := daterange.Format(end)

	window, generation, ok := q.cache.GetRecent(ctx, metricType, days, endDate)
	if ok {
		return window, nil
	}

	summaries, err := q.store.GetSummaries(ctx, daterange.Format(start), endDate, metricType)
	if err != nil {
		return nil, err
	}
	window = &RecentWindow{
		DailyMetrics: nonNilSummaries(summaries),
		DateRange:    DateRange{StartDate: daterange.Format(start), EndDate: endDate},
		MetricType:   metricType,
	}
	q.cache.PutRecent(ctx, generation, window, days)
	return window, nil
}

// GetRange returns the summaries stored for [start, end], oldest first. Days without a summary are absent.
func (q *QueryService) GetRange(ctx context.Context, metricType string, start, end time.Time) ([]repository.DailySummary, error) {
	if _, err := daterange.Check(start, end, MaxQueryDays); err != nil {
		return nil, err
	}
	summaries, err := q.store.GetSummaries(ctx, daterange.Format(start), daterange.Format(end), q.resolveType(metricType))
	if err != nil {
		return nil, err
	}
	return nonNilSummaries(summaries), nil
}

// Refresh recomputes every summary in the recent window from stored raw samples without
// contacting upstream. Partitions with a running cycle are left to that cycle.
func (q *QueryService) Refresh(ctx context.Context, metricType string, days int) (*RefreshResult, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	metricType = q.resolveType(metricType)
	runID := q.newRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	opLogger := logging.WithOperation(q.logger, "query.refresh", runID).With(zap.String("type", metricType))

	start, end := daterange.Recent(q.clock(), days)
	dates, err := daterange.Days(start, end)
	if err != nil {
		return nil, err
	}

	result := &RefreshResult{Refreshed: make([]string, 0, len(dates))}
	for _, day := range dates {
		date := daterange.Format(day)
		ticket, err := q.guard.Acquire(ctx, date, metricType, runID)
		if err != nil {
			if apperror.KindOf(err) == apperror.KindBusy {
				result.Busy = append(result.Busy, date)
				continue
			}
			return nil, err
		}
		ticket.SetState(StateAggregating)
		_, err = q.aggregator.ComputeSummary(ctx, date, metricType)
		if err != nil {
			ticket.SetState(StateFailed)
		}
		ticket.Release()
		if err != nil {
			opLogger.Error("re-aggregation failed", zap.String("date", date), zap.Error(err))
			return nil, err
		}
		result.Refreshed = append(result.Refreshed, date)
	}

	q.cache.Invalidate(ctx, metricType)
	window, err := q.GetRecent(ctx, metricType, days)
	if err != nil {
		return nil, err
	}
	result.Window = window
	opLogger.Info("recent window re-aggregated", zap.Int("dates", len(result.Refreshed)), zap.Int("busy", len(result.Busy)))
	return result, nil
}

func nonNilSummaries(summaries []repository.DailySummary) []repository.DailySummary {
	if summaries == nil {
		return []repository.DailySummary{}
	}
	return summaries
}
