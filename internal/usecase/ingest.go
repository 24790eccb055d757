package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/daterange"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/repository"
	"github.com/example/latency-dashboard/internal/timingsource"
)

// Per-date result statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
	StatusCancelled = "cancelled"
)

// ErrorInfo is the serialisable form of a failure.
type ErrorInfo struct {
	Kind    apperror.Kind `json:"kind"`
	Message string        `json:"message"`
}

func newErrorInfo(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{Kind: apperror.KindOf(err), Message: apperror.MessageOf(err)}
}

// DateResult reports one date's fetch-aggregate cycle.
type DateResult struct {
	Date                string                   `json:"date"`
	Type                string                   `json:"type"`
	RunID               string                   `json:"run_id,omitempty"`
	Status              string                   `json:"status"`
	DataExisted         bool                     `json:"data_exists"`
	Conversations       int                      `json:"conversations"`
	SamplesStored       int                      `json:"samples_stored"`
	FailedConversations int                      `json:"failed_conversations"`
	Summary             *repository.DailySummary `json:"summary,omitempty"`
	Error               *ErrorInfo               `json:"error,omitempty"`
}

// RangeReport collects the per-date results of a range fetch.
type RangeReport struct {
	Type      string       `json:"type"`
	StartDate string       `json:"start_date"`
	EndDate   string       `json:"end_date"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Cancelled bool         `json:"cancelled"`
	Results   []DateResult `json:"results"`
}

// FetchOptions tunes a single-date cycle.
type FetchOptions struct {
	// SkipExisting leaves a partition alone when it already holds raw samples.
	SkipExisting bool
}

// IngestorOptions configures an Ingestor.
type IngestorOptions struct {
	DefaultType  string
	Concurrency  int
	MaxRangeDays int
	CycleTimeout time.Duration
}

// Ingestor is the job runner: it fetches raw samples for a partition, stores them and
// re-aggregates the partition's summary.
type Ingestor struct {
	store      MetricStore
	source     timingsource.Source
	sourceErr  error
	aggregator *Aggregator
	guard      *PartitionGuard
	metrics    *PipelineMetrics
	opts       IngestorOptions
	clock      func() time.Time
	newRunID   func() string
	logger     *zap.Logger
}

// NewIngestor constructs an ingestor. A nil source makes every fetch fail with sourceErr,
// which should be the ConfigError explaining why no source could be built.
func NewIngestor(store MetricStore, source timingsource.Source, sourceErr error, aggregator *Aggregator, guard *PartitionGuard, metrics *PipelineMetrics, opts IngestorOptions, logger *zap.Logger) *Ingestor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.MaxRangeDays < 1 {
		opts.MaxRangeDays = 31
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 2 * time.Hour
	}
	if source == nil && sourceErr == nil {
		sourceErr = apperror.New(apperror.KindConfig, "upstream credentials not configured")
	}
	return &Ingestor{
		store:      store,
		source:     source,
		sourceErr:  sourceErr,
		aggregator: aggregator,
		guard:      guard,
		metrics:    metrics,
		opts:       opts,
		clock:      time.Now,
		newRunID:   uuid.NewString,
		logger:     logger.Named("ingestor"),
	}
}

// Ready reports whether fetches can run; the error is a ConfigError when they cannot.
func (i *Ingestor) Ready() error {
	if i.source == nil {
		return i.sourceErr
	}
	return nil
}

// DefaultType is the category used by the daily cycle.
func (i *Ingestor) DefaultType() string {
	return i.opts.DefaultType
}

// InFlight lists running cycles.
func (i *Ingestor) InFlight() []InFlight {
	return i.guard.InFlight()
}

// RunDaily runs the cycle for yesterday's UTC date and the configured type.
func (i *Ingestor) RunDaily(ctx context.Context) (*DateResult, error) {
	return i.FetchDate(ctx, daterange.Yesterday(i.clock()), i.opts.DefaultType, FetchOptions{})
}

// FetchDate runs fetch then aggregate for one partition. Per-conversation failures are counted
// and skipped; failures listing conversations, writing the store, or claiming the partition
// fail the date. The returned result is populated in both cases.
func (i *Ingestor) FetchDate(ctx context.Context, day time.Time, metricType string, opts FetchOptions) (*DateResult, error) {
	date := daterange.Format(day)
	metricType = strings.TrimSpace(metricType)
	result := &DateResult{Date: date, Type: metricType, Status: StatusFailed}

	if metricType == "" {
		err := apperror.New(apperror.KindValidation, "type is required")
		result.Error = newErrorInfo(err)
		return result, err
	}
	if err := i.Ready(); err != nil {
		result.Error = newErrorInfo(err)
		return result, err
	}

	runID := i.newRunID()
	result.RunID = runID
	ctx = logging.ContextWithRunID(ctx, runID)
	opLogger := logging.WithPartition(logging.WithOperation(i.logger, "ingest.fetch_date", runID), date, metricType)

	ticket, err := i.guard.Acquire(ctx, date, metricType, runID)
	if err != nil {
		i.metrics.cycleRejected(metricType)
		opLogger.Warn("cycle rejected", zap.Error(err))
		result.Error = newErrorInfo(err)
		return result, err
	}
	defer ticket.Release()

	started := i.clock()
	i.metrics.cycleStarted()
	outcome := OutcomeFailed
	defer func() { i.metrics.cycleFinished(metricType, outcome, i.clock().Sub(started)) }()

	ctx, cancel := context.WithTimeout(ctx, i.opts.CycleTimeout)
	defer cancel()

	if opts.SkipExisting {
		count, err := i.store.CountRawSamples(ctx, date, metricType)
		if err != nil {
			return i.failCycle(ticket, result, opLogger, err)
		}
		if count > 0 {
			outcome = OutcomeSkipped
			result.Status = StatusSkipped
			result.DataExisted = true
			opLogger.Info("raw samples already present, fetch skipped", zap.Int64("samples", count))
			return result, nil
		}
	}

	ticket.SetState(StateFetching)
	opLogger.Info("cycle started")

	ids, err := i.source.FetchConversations(ctx, day, metricType)
	if err != nil {
		return i.failCycle(ticket, result, opLogger, err)
	}
	result.Conversations = len(ids)

	samples, failed := i.fetchSamples(ctx, ids, opLogger)
	result.FailedConversations = failed
	i.metrics.conversationsFailed(metricType, failed)
	if failed > 0 {
		opLogger.Warn("some conversations could not be fetched", zap.Int("failed", failed), zap.Int("conversations", len(ids)))
	}

	written, err := i.store.UpsertRawSamples(ctx, date, metricType, samples)
	if err != nil {
		return i.failCycle(ticket, result, opLogger, err)
	}
	result.SamplesStored = written
	i.metrics.samplesWritten(metricType, written)

	ticket.SetState(StateAggregating)
	summary, err := i.aggregator.ComputeSummary(ctx, date, metricType)
	if err != nil {
		return i.failCycle(ticket, result, opLogger, err)
	}
	result.Summary = summary
	result.Status = StatusSucceeded
	outcome = OutcomeSucceeded

	opLogger.Info("cycle completed",
		zap.Int("conversations", len(ids)),
		zap.Int("samples", written),
		zap.Int("failed", failed),
	)
	return result, nil
}

func (i *Ingestor) failCycle(ticket *Ticket, result *DateResult, opLogger *zap.Logger, err error) (*DateResult, error) {
	ticket.SetState(StateFailed)
	opLogger.Error("cycle failed", zap.Error(err))
	result.Status = StatusFailed
	result.Error = newErrorInfo(err)
	return result, err
}

// fetchSamples fetches every conversation's timings with a bounded worker pool.
// Failed conversations are dropped and counted.
func (i *Ingestor) fetchSamples(ctx context.Context, ids []string, opLogger *zap.Logger) ([]repository.RawSample, int) {
	fetched := make([]*repository.RawSample, len(ids))
	var (
		mu     sync.Mutex
		failed int
	)

	group := new(errgroup.Group)
	group.SetLimit(i.opts.Concurrency)
	for idx, id := range ids {
		group.Go(func() error {
			timings, err := i.source.FetchTimings(ctx, id)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				opLogger.Warn("conversation fetch failed", zap.String("conversation_id", id), zap.Error(err))
				return nil
			}
			fetched[idx] = &repository.RawSample{
				ConversationID:       id,
				BotID:                timings.BotID,
				ServerResponseTimeMs: timings.ServerResponseTimeMs,
				LLMResponseTimeMs:    timings.LLMResponseTimeMs,
				FastResponseTimeMs:   timings.FastResponseTimeMs,
				TurnCount:            len(timings.Turns),
				Turns:                timings.TurnsJSON(),
				FetchedAt:            i.clock().UTC(),
			}
			return nil
		})
	}
	_ = group.Wait()

	samples := make([]repository.RawSample, 0, len(ids))
	for _, sample := range fetched {
		if sample != nil {
			samples = append(samples, *sample)
		}
	}
	return samples, failed
}

// FetchRange runs FetchDate for every date of [start, end]. A failing date does not stop the
// range. Cancellation is checked between dates; dates already stored stay stored.
func (i *Ingestor) FetchRange(ctx context.Context, start, end time.Time, metricType string) (*RangeReport, error) {
	return i.fetchRange(ctx, start, end, metricType, true)
}

// Backfill fetches the last days dates ending yesterday, or ending today when includeToday is set.
// It is not bound by the range limit applied to on-demand range fetches.
func (i *Ingestor) Backfill(ctx context.Context, days int, includeToday bool) (*RangeReport, error) {
	if days < 1 {
		return nil, apperror.New(apperror.KindValidation, "days must be at least 1, got %d", days)
	}
	start, end := daterange.Recent(i.clock(), days)
	if includeToday {
		start, end = daterange.LastNIncludingToday(i.clock(), days)
	}
	return i.fetchRange(ctx, start, end, i.opts.DefaultType, false)
}

func (i *Ingestor) fetchRange(ctx context.Context, start, end time.Time, metricType string, limited bool) (*RangeReport, error) {
	metricType = strings.TrimSpace(metricType)
	if metricType == "" {
		return nil, apperror.New(apperror.KindValidation, "type is required")
	}
	maxDays := 0
	if limited {
		maxDays = i.opts.MaxRangeDays
	}
	if _, err := daterange.Check(start, end, maxDays); err != nil {
		return nil, err
	}
	if err := i.Ready(); err != nil {
		return nil, err
	}
	days, err := daterange.Days(start, end)
	if err != nil {
		return nil, err
	}

	report := &RangeReport{
		Type:      metricType,
		StartDate: daterange.Format(start),
		EndDate:   daterange.Format(end),
		Results:   make([]DateResult, 0, len(days)),
	}
	rangeLogger := i.logger.With(zap.String("type", metricType), zap.String("start_date", report.StartDate), zap.String("end_date", report.EndDate))

	for _, day := range days {
		if ctx.Err() != nil {
			report.Cancelled = true
			report.Results = append(report.Results, DateResult{Date: daterange.Format(day), Type: metricType, Status: StatusCancelled})
			continue
		}

		result, err := i.FetchDate(ctx, day, metricType, FetchOptions{})
		report.Results = append(report.Results, *result)
		switch {
		case err == nil && result.Status == StatusSkipped:
			report.Skipped++
		case err == nil:
			report.Succeeded++
		case errors.Is(err, apperror.ErrConfig):
			// nothing later in the range can succeed either
			report.Failed++
			rangeLogger.Error("range fetch aborted", zap.Error(err))
			return report, err
		default:
			report.Failed++
			rangeLogger.Warn("date failed, continuing with the rest of the range", zap.String("date", result.Date), zap.Error(err))
		}
	}

	rangeLogger.Info("range fetch finished",
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Bool("cancelled", report.Cancelled),
	)
	return report, nil
}
