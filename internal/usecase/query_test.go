package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/repository"
)

func newTestQueryService(store *memStore, cache SummaryCache) (*QueryService, *PartitionGuard) {
	logger := zap.NewNop()
	aggregator := NewAggregator(store, cache, logger)
	aggregator.clock = fixedClock(testNow)
	guard := NewPartitionGuard(nil, 0, logger)
	query := NewQueryService(store, aggregator, guard, cache, "learn", logger)
	query.clock = fixedClock(testNow)
	return query, guard
}

func seedSummaries(t *testing.T, store *memStore, metricType string, dates ...string) {
	t.Helper()
	for _, date := range dates {
		if err := store.UpsertSummary(context.Background(), &repository.DailySummary{Date: date, Type: metricType, SampleCount: 1}); err != nil {
			t.Fatalf("seed summary: %v", err)
		}
	}
}

func TestGetRecentExcludesToday(t *testing.T) {
	store := newMemStore()
	seedSummaries(t, store, "learn",
		"2024-03-02", "2024-03-03", "2024-03-05", "2024-03-09", "2024-03-10",
	)
	seedSummaries(t, store, "exam", "2024-03-04")
	query, _ := newTestQueryService(store, nil)

	window, err := query.GetRecent(context.Background(), "learn", 7)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if window.DateRange.StartDate != "2024-03-03" || window.DateRange.EndDate != "2024-03-09" {
		t.Fatalf("unexpected window %+v", window.DateRange)
	}
	var dates []string
	for _, summary := range window.DailyMetrics {
		dates = append(dates, summary.Date)
	}
	want := []string{"2024-03-03", "2024-03-05", "2024-03-09"}
	if len(dates) != len(want) {
		t.Fatalf("expected %v, got %v", want, dates)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, dates)
		}
	}
}

func TestGetRecentDefaultsTypeAndValidatesDays(t *testing.T) {
	query, _ := newTestQueryService(newMemStore(), nil)
	ctx := context.Background()

	window, err := query.GetRecent(ctx, "", 7)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if window.MetricType != "learn" || window.DailyMetrics == nil {
		t.Fatalf("expected empty learn window, got %+v", window)
	}
	for _, days := range []int{0, -1, MaxRecentDays + 1} {
		if _, err := query.GetRecent(ctx, "learn", days); !errors.Is(err, apperror.ErrValidation) {
			t.Fatalf("days=%d: expected validation error, got %v", days, err)
		}
	}
}

func TestGetRange(t *testing.T) {
	store := newMemStore()
	seedSummaries(t, store, "learn", "2024-02-28", "2024-03-01", "2024-03-04")
	query, _ := newTestQueryService(store, nil)
	ctx := context.Background()

	summaries, err := query.GetRange(ctx, "learn", mustDay("2024-03-01"), mustDay("2024-03-04"))
	if err != nil {
		t.Fatalf("get range: %v", err)
	}
	if len(summaries) != 2 || summaries[0].Date != "2024-03-01" || summaries[1].Date != "2024-03-04" {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	if _, err := query.GetRange(ctx, "learn", mustDay("2024-03-04"), mustDay("2024-03-01")); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected inverted range rejected, got %v", err)
	}
	if _, err := query.GetRange(ctx, "learn", mustDay("2022-01-01"), mustDay("2024-03-01")); !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected oversized range rejected, got %v", err)
	}
}

func TestRefreshReaggregatesWithoutFetching(t *testing.T) {
	store := newMemStore()
	seedSamples(t, store, "2024-03-08", "learn", []float64{10, 20})
	seedSamples(t, store, "2024-03-09", "learn", []float64{30})
	// stale summary from an older aggregation
	seedSummaries(t, store, "learn", "2024-03-09")

	query, guard := newTestQueryService(store, nil)
	ticket, err := guard.Acquire(context.Background(), "2024-03-07", "learn", "other-run")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer ticket.Release()

	result, err := query.Refresh(context.Background(), "learn", 3)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(result.Busy) != 1 || result.Busy[0] != "2024-03-07" {
		t.Fatalf("expected 2024-03-07 to be busy, got %v", result.Busy)
	}
	if len(result.Refreshed) != 2 {
		t.Fatalf("expected two refreshed dates, got %v", result.Refreshed)
	}
	if len(result.Window.DailyMetrics) != 2 {
		t.Fatalf("expected two summaries in window, got %+v", result.Window.DailyMetrics)
	}
	refreshed, _ := store.summary("2024-03-09", "learn")
	if refreshed.ServerP90 == nil || *refreshed.ServerP90 != 30 {
		t.Fatalf("expected recomputed summary, got %+v", refreshed)
	}
}

func TestGetRecentUsesCacheUntilInvalidated(t *testing.T) {
	store := newMemStore()
	seedSummaries(t, store, "learn", "2024-03-08")
	cache, err := NewRedisSummaryCache(newStubCache(), 0, zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	query, _ := newTestQueryService(store, cache)
	ctx := context.Background()

	if _, err := query.GetRecent(ctx, "learn", 7); err != nil {
		t.Fatalf("prime cache: %v", err)
	}
	seedSummaries(t, store, "learn", "2024-03-09")

	cached, err := query.GetRecent(ctx, "learn", 7)
	if err != nil {
		t.Fatalf("cached read: %v", err)
	}
	if len(cached.DailyMetrics) != 1 {
		t.Fatalf("expected cached window with one summary, got %d", len(cached.DailyMetrics))
	}

	cache.Invalidate(ctx, "learn")
	fresh, err := query.GetRecent(ctx, "learn", 7)
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if len(fresh.DailyMetrics) != 2 {
		t.Fatalf("expected fresh window with two summaries, got %d", len(fresh.DailyMetrics))
	}
}

// racingStore recomputes a summary and invalidates the cache in the middle of the first read,
// as a concurrent aggregation would.
type racingStore struct {
	*memStore
	cache SummaryCache
	once  sync.Once
}

func (s *racingStore) GetSummaries(ctx context.Context, startDate, endDate, metricType string) ([]repository.DailySummary, error) {
	summaries, err := s.memStore.GetSummaries(ctx, startDate, endDate, metricType)
	s.once.Do(func() {
		p90 := 999.0
		_ = s.memStore.UpsertSummary(ctx, &repository.DailySummary{Date: "2024-03-08", Type: metricType, ServerP90: &p90, SampleCount: 1})
		s.cache.Invalidate(ctx, metricType)
	})
	return summaries, err
}

func TestGetRecentDoesNotCacheWindowReadBeforeInvalidation(t *testing.T) {
	store := newMemStore()
	p90 := 100.0
	if err := store.UpsertSummary(context.Background(), &repository.DailySummary{Date: "2024-03-08", Type: "learn", ServerP90: &p90, SampleCount: 1}); err != nil {
		t.Fatalf("seed summary: %v", err)
	}
	cache, err := NewRedisSummaryCache(newStubCache(), time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	logger := zap.NewNop()
	racing := &racingStore{memStore: store, cache: cache}
	query := NewQueryService(racing, NewAggregator(store, cache, logger), NewPartitionGuard(nil, 0, logger), cache, "learn", logger)
	query.clock = fixedClock(testNow)
	ctx := context.Background()

	first, err := query.GetRecent(ctx, "learn", 7)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	if got := *first.DailyMetrics[0].ServerP90; got != 100 {
		t.Fatalf("expected first read to see 100, got %v", got)
	}

	second, err := query.GetRecent(ctx, "learn", 7)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if got := *second.DailyMetrics[0].ServerP90; got != 999 {
		t.Fatalf("expected recomputed summary after invalidation, got %v", got)
	}
}

func TestGetRangeRejectsMultiCenturyRangeCheaply(t *testing.T) {
	query, _ := newTestQueryService(newMemStore(), nil)
	ctx := context.Background()
	start, end := mustDay("0001-01-01"), mustDay("9999-12-31")

	var err error
	allocs := testing.AllocsPerRun(5, func() {
		_, err = query.GetRange(ctx, "learn", start, end)
	})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "3652059 days") {
		t.Fatalf("expected exact span in error, got %v", err)
	}
	if allocs > 100 {
		t.Fatalf("expected rejection without building the range, got %.0f allocations", allocs)
	}
}
