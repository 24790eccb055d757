package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/repository"
)

func TestRedisSummaryCacheRoundTrip(t *testing.T) {
	backend := newStubCache()
	cache, err := NewRedisSummaryCache(backend, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()
	p90 := 120.5
	window := &RecentWindow{
		DailyMetrics: []repository.DailySummary{{Date: "2024-03-09", Type: "learn", ServerP90: &p90, SampleCount: 3, BotIDs: []byte("[1]")}},
		DateRange:    DateRange{StartDate: "2024-03-03", EndDate: "2024-03-09"},
		MetricType:   "learn",
	}

	_, generation, ok := cache.GetRecent(ctx, "learn", 7, "2024-03-09")
	if ok {
		t.Fatal("expected miss on empty cache")
	}
	if generation != "0" {
		t.Fatalf("expected initial generation 0, got %q", generation)
	}
	cache.PutRecent(ctx, generation, window, 7)

	got, _, ok := cache.GetRecent(ctx, "learn", 7, "2024-03-09")
	if !ok {
		t.Fatal("expected hit after put")
	}
	if len(got.DailyMetrics) != 1 || *got.DailyMetrics[0].ServerP90 != p90 {
		t.Fatalf("unexpected cached window: %+v", got)
	}
	if _, _, ok := cache.GetRecent(ctx, "learn", 14, "2024-03-09"); ok {
		t.Fatal("expected miss for a different window size")
	}

	cache.Invalidate(ctx, "learn")
	if _, _, ok := cache.GetRecent(ctx, "learn", 7, "2024-03-09"); ok {
		t.Fatal("expected miss after invalidation")
	}
}

func TestRedisSummaryCacheWindowReadBeforeInvalidationStaysStale(t *testing.T) {
	cache, err := NewRedisSummaryCache(newStubCache(), time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	_, generation, _ := cache.GetRecent(ctx, "learn", 7, "2024-03-09")
	cache.Invalidate(ctx, "learn")
	cache.PutRecent(ctx, generation, &RecentWindow{MetricType: "learn", DateRange: DateRange{EndDate: "2024-03-09"}}, 7)

	if _, current, ok := cache.GetRecent(ctx, "learn", 7, "2024-03-09"); ok || current != "1" {
		t.Fatalf("expected miss under generation 1, got hit=%v generation=%q", ok, current)
	}
}

func TestRedisSummaryCacheFailuresAreMisses(t *testing.T) {
	backend := newStubCache()
	backend.err = errors.New("connection refused")
	cache, err := NewRedisSummaryCache(backend, time.Minute, zap.NewNop())
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	ctx := context.Background()

	cache.PutRecent(ctx, "0", &RecentWindow{MetricType: "learn"}, 7)
	cache.Invalidate(ctx, "learn")
	if _, generation, ok := cache.GetRecent(ctx, "learn", 7, "2024-03-09"); ok || generation != "" {
		t.Fatalf("expected miss without generation when redis is failing, got hit=%v generation=%q", ok, generation)
	}
}
