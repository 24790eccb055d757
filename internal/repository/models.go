package repository

import (
	"time"

	"gorm.io/datatypes"
)

// RawSample is one conversation's timing record for a (date, type) partition.
// Timing fields are nil when the upstream did not report them.
type RawSample struct {
	ID                   uint           `gorm:"primaryKey" json:"-"`
	Date                 string         `gorm:"column:date_time;size:10;not null;uniqueIndex:idx_latency_metric_partition_conv,priority:1" json:"date"`
	Type                 string         `gorm:"column:type;size:64;not null;uniqueIndex:idx_latency_metric_partition_conv,priority:2" json:"type"`
	ConversationID       string         `gorm:"column:conversation_id;size:128;not null;uniqueIndex:idx_latency_metric_partition_conv,priority:3" json:"conversation_id"`
	BotID                *int64         `gorm:"column:bot_id" json:"bot_id,omitempty"`
	ServerResponseTimeMs *float64       `gorm:"column:server_response_time" json:"server_response_time_ms"`
	LLMResponseTimeMs    *float64       `gorm:"column:llm_response_time" json:"llm_response_time_ms"`
	FastResponseTimeMs   *float64       `gorm:"column:fast_response_time" json:"fast_response_time_ms"`
	TurnCount            int            `gorm:"column:turn_count" json:"turn_count"`
	Turns                datatypes.JSON `gorm:"column:turns" json:"turns,omitempty"`
	FetchedAt            time.Time      `gorm:"column:fetched_at" json:"fetched_at"`
}

// TableName overrides the default table name.
func (RawSample) TableName() string {
	return "latency_metric"
}

// DailySummary is the aggregated percentile record for one (date, type) partition.
type DailySummary struct {
	ID          uint           `gorm:"primaryKey" json:"-"`
	Date        string         `gorm:"column:date_time;size:10;not null;uniqueIndex:idx_metric_by_day_partition,priority:1" json:"date"`
	Type        string         `gorm:"column:type;size:64;not null;uniqueIndex:idx_metric_by_day_partition,priority:2" json:"type"`
	ServerP90   *float64       `gorm:"column:server_response_p90" json:"server_p90"`
	ServerP99   *float64       `gorm:"column:server_response_p99" json:"server_p99"`
	LLMP90      *float64       `gorm:"column:llm_response_p90" json:"llm_p90"`
	LLMP99      *float64       `gorm:"column:llm_response_p99" json:"llm_p99"`
	FastP90     *float64       `gorm:"column:fast_response_p90" json:"fast_p90"`
	FastP99     *float64       `gorm:"column:fast_response_p99" json:"fast_p99"`
	SampleCount int            `gorm:"column:total_records;not null;default:0" json:"sample_count"`
	BotIDs      datatypes.JSON `gorm:"column:bot_ids" json:"bot_ids"`
	ComputedAt  time.Time      `gorm:"column:computed_at" json:"computed_at"`
}

// TableName overrides the default table name.
func (DailySummary) TableName() string {
	return "metric_by_day"
}
