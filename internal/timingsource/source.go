// Package timingsource talks to the upstream conversation and monitor API.
package timingsource

import (
	"context"
	"encoding/json"
	"time"
)

// Source lists conversations for a day and fetches their timing fields.
type Source interface {
	// FetchConversations returns the conversation IDs recorded on day. An empty day is not an error.
	FetchConversations(ctx context.Context, day time.Time, metricType string) ([]string, error)
	// FetchTimings returns the timing fields of one conversation. Missing fields are nil.
	FetchTimings(ctx context.Context, conversationID string) (*Timings, error)
}

// Turn is a single timing record as reported by the monitor API.
type Turn struct {
	BotID                *int64   `json:"bot_id,omitempty"`
	ServerResponseTimeMs *float64 `json:"server_response_time"`
	LLMResponseTimeMs    *float64 `json:"llm_response_time"`
	FastResponseTimeMs   *float64 `json:"fast_response_time"`
}

// Timings is one conversation's latency, collapsed from its turns.
// Each field is the mean of the non-nil turn values, or nil when no turn reported it.
type Timings struct {
	ConversationID       string
	BotID                *int64
	ServerResponseTimeMs *float64
	LLMResponseTimeMs    *float64
	FastResponseTimeMs   *float64
	Turns                []Turn
}

// TurnsJSON renders the per-turn records for audit storage.
func (t *Timings) TurnsJSON() []byte {
	turns := t.Turns
	if turns == nil {
		turns = []Turn{}
	}
	data, err := json.Marshal(turns)
	if err != nil {
		return []byte("[]")
	}
	return data
}

// Collapse folds the turns of one conversation into a Timings value.
// Negative durations are treated as unreported.
func Collapse(conversationID string, turns []Turn) *Timings {
	out := &Timings{ConversationID: conversationID, Turns: make([]Turn, 0, len(turns))}
	var server, llm, fast meanAccumulator
	for _, turn := range turns {
		turn.ServerResponseTimeMs = nonNegative(turn.ServerResponseTimeMs)
		turn.LLMResponseTimeMs = nonNegative(turn.LLMResponseTimeMs)
		turn.FastResponseTimeMs = nonNegative(turn.FastResponseTimeMs)
		out.Turns = append(out.Turns, turn)

		if out.BotID == nil && turn.BotID != nil {
			id := *turn.BotID
			out.BotID = &id
		}
		server.add(turn.ServerResponseTimeMs)
		llm.add(turn.LLMResponseTimeMs)
		fast.add(turn.FastResponseTimeMs)
	}
	out.ServerResponseTimeMs = server.mean()
	out.LLMResponseTimeMs = llm.mean()
	out.FastResponseTimeMs = fast.mean()
	return out
}

type meanAccumulator struct {
	sum   float64
	count int
}

func (m *meanAccumulator) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.count++
}

func (m *meanAccumulator) mean() *float64 {
	if m.count == 0 {
		return nil
	}
	v := m.sum / float64(m.count)
	return &v
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
