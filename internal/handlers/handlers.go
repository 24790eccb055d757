package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/daterange"
	"github.com/example/latency-dashboard/internal/repository"
	"github.com/example/latency-dashboard/internal/scheduler"
	"github.com/example/latency-dashboard/internal/usecase"
)

const healthTimeout = 3 * time.Second

// Ingestor runs fetch-aggregate cycles.
type Ingestor interface {
	FetchDate(ctx context.Context, day time.Time, metricType string, opts usecase.FetchOptions) (*usecase.DateResult, error)
	FetchRange(ctx context.Context, start, end time.Time, metricType string) (*usecase.RangeReport, error)
	InFlight() []usecase.InFlight
	DefaultType() string
}

// Query reads and refreshes daily summaries.
type Query interface {
	GetRecent(ctx context.Context, metricType string, days int) (*usecase.RecentWindow, error)
	GetRange(ctx context.Context, metricType string, start, end time.Time) ([]repository.DailySummary, error)
	Refresh(ctx context.Context, metricType string, days int) (*usecase.RefreshResult, error)
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerStatus reports the daily trigger's state.
type SchedulerStatus interface {
	Status() scheduler.Status
}

// Dependencies are the collaborators behind the routes. Scheduler and Metrics may be nil.
type Dependencies struct {
	Ingestor  Ingestor
	Query     Query
	Store     Pinger
	Scheduler SchedulerStatus
	Metrics   http.Handler
	Operator  gin.HandlerFunc
}

type fetchDateRequest struct {
	Date         string `json:"date"`
	Type         string `json:"type"`
	SkipExisting bool   `json:"skip_existing"`
}

type fetchRangeRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Type      string `json:"type"`
}

type refreshRequest struct {
	Type string `json:"type"`
	Days int    `json:"days"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, deps Dependencies) {
	operator := deps.Operator
	if operator == nil {
		operator = func(c *gin.Context) { c.Next() }
	}

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
		defer cancel()
		if err := deps.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "error",
				"error":  gin.H{"kind": apperror.KindStore, "message": apperror.MessageOf(err)},
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "database": "connected"})
	})

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	api := router.Group("/api/metrics")

	api.GET("/last-7-days", func(c *gin.Context) {
		window, err := deps.Query.GetRecent(c.Request.Context(), c.Query("type"), usecase.DefaultRecentDays)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, window)
	})

	api.GET("/daily", func(c *gin.Context) {
		start, err := daterange.Parse(c.Query("start_date"))
		if err != nil {
			writeError(c, apperror.New(apperror.KindValidation, "start_date: %s", apperror.MessageOf(err)))
			return
		}
		end, err := daterange.Parse(c.Query("end_date"))
		if err != nil {
			writeError(c, apperror.New(apperror.KindValidation, "end_date: %s", apperror.MessageOf(err)))
			return
		}
		metricType := c.Query("type")
		if metricType == "" {
			metricType = deps.Ingestor.DefaultType()
		}
		summaries, err := deps.Query.GetRange(c.Request.Context(), metricType, start, end)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, usecase.RecentWindow{
			DailyMetrics: summaries,
			DateRange:    usecase.DateRange{StartDate: daterange.Format(start), EndDate: daterange.Format(end)},
			MetricType:   metricType,
		})
	})

	api.GET("/jobs", func(c *gin.Context) {
		body := gin.H{"in_flight": deps.Ingestor.InFlight()}
		if deps.Scheduler != nil {
			body["scheduler"] = deps.Scheduler.Status()
		} else {
			body["scheduler"] = scheduler.Status{Enabled: false}
		}
		c.JSON(http.StatusOK, body)
	})

	ops := api.Group("", operator)

	ops.POST("/refresh", func(c *gin.Context) {
		var req refreshRequest
		if !bindOptionalJSON(c, &req) {
			return
		}
		if req.Days == 0 {
			req.Days = usecase.DefaultRecentDays
		}
		result, err := deps.Query.Refresh(c.Request.Context(), req.Type, req.Days)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "success",
			"daily_metrics": result.Window.DailyMetrics,
			"date_range":    result.Window.DateRange,
			"metric_type":   result.Window.MetricType,
			"refreshed":     result.Refreshed,
			"busy":          result.Busy,
		})
	})

	ops.POST("/fetch-date", func(c *gin.Context) {
		var req fetchDateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperror.New(apperror.KindValidation, "invalid request body: %v", err))
			return
		}
		day, err := daterange.Parse(req.Date)
		if err != nil {
			writeError(c, err)
			return
		}
		if req.Type == "" {
			req.Type = deps.Ingestor.DefaultType()
		}
		result, err := deps.Ingestor.FetchDate(c.Request.Context(), day, req.Type, usecase.FetchOptions{SkipExisting: req.SkipExisting})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "result": result})
	})

	ops.POST("/fetch-range", func(c *gin.Context) {
		var req fetchRangeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, apperror.New(apperror.KindValidation, "invalid request body: %v", err))
			return
		}
		start, err := daterange.Parse(req.StartDate)
		if err != nil {
			writeError(c, err)
			return
		}
		end, err := daterange.Parse(req.EndDate)
		if err != nil {
			writeError(c, err)
			return
		}
		if req.Type == "" {
			req.Type = deps.Ingestor.DefaultType()
		}
		// the request context ends when the client goes away, which stops the range between dates
		report, err := deps.Ingestor.FetchRange(c.Request.Context(), start, end, req.Type)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "result": report})
	})
}

// bindOptionalJSON decodes a body if one was sent. It writes the error response itself.
func bindOptionalJSON(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, apperror.New(apperror.KindValidation, "invalid request body: %v", err))
		return false
	}
	return true
}

func writeError(c *gin.Context, err error) {
	kind := apperror.KindOf(err)
	c.JSON(apperror.HTTPStatus(kind), gin.H{
		"status": "error",
		"error":  gin.H{"kind": kind, "message": apperror.MessageOf(err)},
	})
}
