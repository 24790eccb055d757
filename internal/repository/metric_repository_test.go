package repository

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/logging"
)

type transientTestError struct{}

func (transientTestError) Error() string   { return "transient" }
func (transientTestError) Timeout() bool   { return true }
func (transientTestError) Temporary() bool { return true }

func newTestRepository(t *testing.T) *MetricRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	// every pooled connection to :memory: would otherwise see its own empty database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo := NewMetricRepository(db, zap.NewNop())
	repo.initialBackoff = time.Millisecond
	repo.maxBackoff = 2 * time.Millisecond
	if err := repo.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo
}

func ms(v float64) *float64 { return &v }

func fetchedAt() time.Time { return time.Date(2025, 11, 8, 2, 0, 0, 0, time.UTC) }

func TestUpsertRawSamplesIsIdempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	batch := []RawSample{
		{ConversationID: "c-1", ServerResponseTimeMs: ms(120), LLMResponseTimeMs: ms(80), TurnCount: 1, FetchedAt: fetchedAt()},
		{ConversationID: "c-2", ServerResponseTimeMs: ms(300), TurnCount: 2, FetchedAt: fetchedAt()},
	}

	if _, err := repo.UpsertRawSamples(ctx, "2025-11-07", "learn", batch); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	first, err := repo.GetRawSamples(ctx, "2025-11-07", "learn")
	if err != nil {
		t.Fatalf("read after first upsert: %v", err)
	}

	if _, err := repo.UpsertRawSamples(ctx, "2025-11-07", "learn", batch); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	second, err := repo.GetRawSamples(ctx, "2025-11-07", "learn")
	if err != nil {
		t.Fatalf("read after second upsert: %v", err)
	}

	if len(second) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(second))
	}
	if !reflect.DeepEqual(normalized(first), normalized(second)) {
		t.Fatalf("state changed on identical upsert:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestUpsertRawSamplesOverwritesOnlyBatchMembers(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	initial := []RawSample{
		{ConversationID: "c-1", ServerResponseTimeMs: ms(100)},
		{ConversationID: "c-2", ServerResponseTimeMs: ms(200)},
	}
	if _, err := repo.UpsertRawSamples(ctx, "2025-11-07", "learn", initial); err != nil {
		t.Fatalf("seed: %v", err)
	}

	refetch := []RawSample{
		{ConversationID: "c-2", ServerResponseTimeMs: ms(250), LLMResponseTimeMs: ms(90)},
		{ConversationID: "c-3", ServerResponseTimeMs: nil},
		{ConversationID: "c-3", ServerResponseTimeMs: ms(400)},
		{ConversationID: ""},
	}
	written, err := repo.UpsertRawSamples(ctx, "2025-11-07", "learn", refetch)
	if err != nil {
		t.Fatalf("refetch: %v", err)
	}
	if written != 2 {
		t.Fatalf("expected 2 distinct rows written, got %d", written)
	}

	samples, err := repo.GetRawSamples(ctx, "2025-11-07", "learn")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	got := map[string]RawSample{}
	for _, s := range samples {
		got[s.ConversationID] = s
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 conversations, got %d", len(got))
	}
	if *got["c-1"].ServerResponseTimeMs != 100 {
		t.Fatalf("c-1 should be untouched, got %v", *got["c-1"].ServerResponseTimeMs)
	}
	if *got["c-2"].ServerResponseTimeMs != 250 || got["c-2"].LLMResponseTimeMs == nil {
		t.Fatalf("c-2 should be overwritten, got %+v", got["c-2"])
	}
	if got["c-3"].ServerResponseTimeMs == nil || *got["c-3"].ServerResponseTimeMs != 400 {
		t.Fatalf("c-3 should keep the last duplicate, got %+v", got["c-3"])
	}

	other, err := repo.GetRawSamples(ctx, "2025-11-07", "talk")
	if err != nil {
		t.Fatalf("read other type: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("expected partition isolation by type, got %d rows", len(other))
	}
	count, err := repo.CountRawSamples(ctx, "2025-11-07", "learn")
	if err != nil || count != 3 {
		t.Fatalf("expected count 3, got %d (%v)", count, err)
	}
}

func TestUpsertSummaryReplacesPartition(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	first := &DailySummary{Date: "2025-11-07", Type: "learn", ServerP90: ms(90), ServerP99: ms(100), SampleCount: 10, ComputedAt: fetchedAt()}
	if err := repo.UpsertSummary(ctx, first); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second := &DailySummary{Date: "2025-11-07", Type: "learn", LLMP90: ms(40), SampleCount: 4, ComputedAt: fetchedAt().Add(time.Hour)}
	if err := repo.UpsertSummary(ctx, second); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	stored, err := repo.GetSummary(ctx, "2025-11-07", "learn")
	if err != nil {
		t.Fatalf("get summary: %v", err)
	}
	if stored.SampleCount != 4 {
		t.Fatalf("expected replaced count 4, got %d", stored.SampleCount)
	}
	if stored.ServerP90 != nil || stored.ServerP99 != nil {
		t.Fatalf("replace must clear absent percentiles, got %v/%v", stored.ServerP90, stored.ServerP99)
	}
	if stored.LLMP90 == nil || *stored.LLMP90 != 40 {
		t.Fatalf("unexpected llm p90: %v", stored.LLMP90)
	}

	missing, err := repo.GetSummary(ctx, "2025-11-06", "learn")
	if err != nil || missing != nil {
		t.Fatalf("expected no summary and no error, got %+v (%v)", missing, err)
	}
}

func TestGetSummariesOrdersAscendingAndSkipsGaps(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for _, date := range []string{"2025-11-05", "2025-11-01", "2025-11-03"} {
		if err := repo.UpsertSummary(ctx, &DailySummary{Date: date, Type: "learn", SampleCount: 1, ComputedAt: fetchedAt()}); err != nil {
			t.Fatalf("upsert %s: %v", date, err)
		}
	}
	if err := repo.UpsertSummary(ctx, &DailySummary{Date: "2025-11-02", Type: "talk", SampleCount: 1}); err != nil {
		t.Fatalf("upsert talk: %v", err)
	}

	summaries, err := repo.GetSummaries(ctx, "2025-11-01", "2025-11-04", "learn")
	if err != nil {
		t.Fatalf("get summaries: %v", err)
	}
	var dates []string
	for _, s := range summaries {
		dates = append(dates, s.Date)
	}
	if !reflect.DeepEqual(dates, []string{"2025-11-01", "2025-11-03"}) {
		t.Fatalf("unexpected dates: %v", dates)
	}
}

func TestPingReportsHealthyStore(t *testing.T) {
	repo := newTestRepository(t)
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("expected healthy store, got %v", err)
	}
}

func TestExecuteWithRetryRetriesTransientErrors(t *testing.T) {
	repo := &MetricRepository{
		logger:         zap.NewNop(),
		retryAttempts:  3,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "test.operation", func() error {
		attempts++
		if attempts < 2 {
			return transientTestError{}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteWithRetryReturnsStoreOperationError(t *testing.T) {
	repo := &MetricRepository{
		logger:         zap.NewNop(),
		retryAttempts:  2,
		initialBackoff: time.Millisecond,
		maxBackoff:     2 * time.Millisecond,
	}

	attempts := 0
	ctx := logging.ContextWithRunID(context.Background(), "run-2")
	err := repo.executeWithRetry(ctx, "test.operation", func() error {
		attempts++
		return errors.New("boom")
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if !errors.Is(err, apperror.ErrStore) {
		t.Fatalf("expected StoreError, got %v", err)
	}

	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "test.operation" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
	if opErr.RunID != "run-2" {
		t.Fatalf("unexpected run id: %s", opErr.RunID)
	}
}

// normalized pins timestamps to UTC so two reads compare equal.
func normalized(samples []RawSample) []RawSample {
	out := make([]RawSample, len(samples))
	for i, s := range samples {
		s.FetchedAt = s.FetchedAt.UTC()
		out[i] = s
	}
	return out
}
