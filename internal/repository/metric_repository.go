package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/retry"
)

const upsertBatchSize = 500

var (
	rawSampleConflictColumns = []clause.Column{{Name: "date_time"}, {Name: "type"}, {Name: "conversation_id"}}
	rawSampleUpdateColumns   = []string{"bot_id", "server_response_time", "llm_response_time", "fast_response_time", "turn_count", "turns", "fetched_at"}

	summaryConflictColumns = []clause.Column{{Name: "date_time"}, {Name: "type"}}
	summaryUpdateColumns   = []string{
		"server_response_p90", "server_response_p99",
		"llm_response_p90", "llm_response_p99",
		"fast_response_p90", "fast_response_p99",
		"total_records", "bot_ids", "computed_at",
	}
)

// MetricRepository is the Metric Store: raw per-conversation samples and daily summaries.
// Each upsert runs in one statement or transaction, so readers never see half a batch.
type MetricRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewMetricRepository creates a new repository instance.
func NewMetricRepository(db *gorm.DB, logger *zap.Logger) *MetricRepository {
	return &MetricRepository{
		db:             db,
		logger:         logger.Named("metric_repository"),
		retryAttempts:  retry.Default.Attempts,
		initialBackoff: retry.Default.InitialBackoff,
		maxBackoff:     retry.Default.MaxBackoff,
	}
}

// AutoMigrate ensures both tables and their partition indexes exist.
func (r *MetricRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&RawSample{}, &DailySummary{}); err != nil {
		return apperror.Wrap(apperror.KindStore, err, "migrate metric tables")
	}
	return nil
}

// Ping confirms the store is reachable.
func (r *MetricRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return apperror.Wrap(apperror.KindStore, err, "access db handle")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return apperror.Wrap(apperror.KindStore, err, "ping store")
	}
	return nil
}

// UpsertRawSamples replaces the samples whose conversation IDs appear in the batch and leaves
// every other sample of the partition untouched. Duplicate IDs in the batch keep the last entry.
// It returns the number of distinct samples written.
func (r *MetricRepository) UpsertRawSamples(ctx context.Context, date, metricType string, samples []RawSample) (int, error) {
	rows := dedupeByConversation(date, metricType, samples)
	if len(rows) == 0 {
		return 0, nil
	}

	err := r.executeWithRetry(ctx, "store.upsert_raw_samples", func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   rawSampleConflictColumns,
				DoUpdates: clause.AssignmentColumns(rawSampleUpdateColumns),
			}).CreateInBatches(&rows, upsertBatchSize).Error
		})
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// GetRawSamples returns every sample of a partition ordered by conversation ID.
func (r *MetricRepository) GetRawSamples(ctx context.Context, date, metricType string) ([]RawSample, error) {
	var samples []RawSample
	err := r.executeWithRetry(ctx, "store.get_raw_samples", func() error {
		samples = nil
		return r.db.WithContext(ctx).
			Where("date_time = ? AND type = ?", date, metricType).
			Order("conversation_id ASC").
			Find(&samples).Error
	})
	if err != nil {
		return nil, err
	}
	return samples, nil
}

// CountRawSamples reports how many samples a partition holds.
func (r *MetricRepository) CountRawSamples(ctx context.Context, date, metricType string) (int64, error) {
	var count int64
	err := r.executeWithRetry(ctx, "store.count_raw_samples", func() error {
		return r.db.WithContext(ctx).Model(&RawSample{}).
			Where("date_time = ? AND type = ?", date, metricType).
			Count(&count).Error
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertSummary writes the partition's summary, fully replacing any earlier one.
func (r *MetricRepository) UpsertSummary(ctx context.Context, summary *DailySummary) error {
	if summary == nil {
		return apperror.New(apperror.KindValidation, "summary is required")
	}
	row := *summary
	row.ID = 0
	if len(row.BotIDs) == 0 {
		row.BotIDs = emptyJSONArray()
	}

	return r.executeWithRetry(ctx, "store.upsert_summary", func() error {
		return r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   summaryConflictColumns,
			DoUpdates: clause.AssignmentColumns(summaryUpdateColumns),
		}).Create(&row).Error
	})
}

// GetSummary returns one partition's summary, or nil when the partition has none.
func (r *MetricRepository) GetSummary(ctx context.Context, date, metricType string) (*DailySummary, error) {
	var summary DailySummary
	err := r.executeWithRetry(ctx, "store.get_summary", func() error {
		return r.db.WithContext(ctx).
			Where("date_time = ? AND type = ?", date, metricType).
			Take(&summary).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

// GetSummaries returns the summaries of [startDate, endDate] ordered by date ascending.
// Dates without a summary are absent.
func (r *MetricRepository) GetSummaries(ctx context.Context, startDate, endDate, metricType string) ([]DailySummary, error) {
	var summaries []DailySummary
	err := r.executeWithRetry(ctx, "store.get_summaries", func() error {
		summaries = nil
		return r.db.WithContext(ctx).
			Where("date_time BETWEEN ? AND ? AND type = ?", startDate, endDate, metricType).
			Order("date_time ASC").
			Find(&summaries).Error
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func dedupeByConversation(date, metricType string, samples []RawSample) []RawSample {
	position := make(map[string]int, len(samples))
	rows := make([]RawSample, 0, len(samples))
	for _, sample := range samples {
		if sample.ConversationID == "" {
			continue
		}
		sample.ID = 0
		sample.Date = date
		sample.Type = metricType
		if len(sample.Turns) == 0 {
			sample.Turns = emptyJSONArray()
		}
		if idx, seen := position[sample.ConversationID]; seen {
			rows[idx] = sample
			continue
		}
		position[sample.ConversationID] = len(rows)
		rows = append(rows, sample)
	}
	return rows
}

// JSON columns are never NULL; datatypes.JSON cannot scan a NULL back.
func emptyJSONArray() datatypes.JSON {
	return datatypes.JSON("[]")
}

func (r *MetricRepository) executeWithRetry(ctx context.Context, operation string, fn func() error) error {
	runID := logging.RunIDFromContext(ctx)
	opLogger := logging.WithOperation(r.logger, operation, runID)

	policy := retry.Policy{Attempts: r.retryAttempts, InitialBackoff: r.initialBackoff, MaxBackoff: r.maxBackoff}
	attempts, err := policy.Do(ctx, retry.IsTransient, func(attempt int, err error) {
		opLogger.Warn("transient store error", zap.Error(err), zap.Int("attempt", attempt))
	}, fn)
	if err == nil {
		if attempts > 1 {
			opLogger.Info("store operation succeeded after retry", zap.Int("attempt", attempts))
		}
		return nil
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.Wrap(apperror.KindStore, logging.NewOperationError(operation, runID, err), "record not found")
	}
	opLogger.Error("store operation failed", zap.Error(err), zap.Int("attempt", attempts))
	return apperror.Wrap(apperror.KindStore, logging.NewOperationError(operation, runID, err), "%s failed", operation)
}
