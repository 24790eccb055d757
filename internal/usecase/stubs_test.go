package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/daterange"
	"github.com/example/latency-dashboard/internal/repository"
	"github.com/example/latency-dashboard/internal/timingsource"
)

type memStore struct {
	mu        sync.Mutex
	raw       map[string]map[string]repository.RawSample
	summaries map[string]repository.DailySummary
	upsertErr error
	pingErr   error
}

func newMemStore() *memStore {
	return &memStore{
		raw:       map[string]map[string]repository.RawSample{},
		summaries: map[string]repository.DailySummary{},
	}
}

func (s *memStore) UpsertRawSamples(_ context.Context, date, metricType string, samples []repository.RawSample) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	key := partitionKey(date, metricType)
	if s.raw[key] == nil {
		s.raw[key] = map[string]repository.RawSample{}
	}
	for _, sample := range samples {
		sample.Date = date
		sample.Type = metricType
		s.raw[key][sample.ConversationID] = sample
	}
	return len(samples), nil
}

func (s *memStore) GetRawSamples(_ context.Context, date, metricType string) ([]repository.RawSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.RawSample
	for _, sample := range s.raw[partitionKey(date, metricType)] {
		out = append(out, sample)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out, nil
}

func (s *memStore) CountRawSamples(_ context.Context, date, metricType string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.raw[partitionKey(date, metricType)])), nil
}

func (s *memStore) UpsertSummary(_ context.Context, summary *repository.DailySummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[partitionKey(summary.Date, summary.Type)] = *summary
	return nil
}

func (s *memStore) GetSummaries(_ context.Context, startDate, endDate, metricType string) ([]repository.DailySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []repository.DailySummary
	for _, summary := range s.summaries {
		if summary.Type == metricType && summary.Date >= startDate && summary.Date <= endDate {
			out = append(out, summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (s *memStore) Ping(context.Context) error {
	return s.pingErr
}

func (s *memStore) summary(date, metricType string) (repository.DailySummary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[partitionKey(date, metricType)]
	return summary, ok
}

// stubSource serves conversations "<date>-<n>" with server time n*10 and llm time n.
type stubSource struct {
	mu          sync.Mutex
	perDay      int
	failDates   map[string]bool
	failConvs   map[string]bool
	listHook    func(day time.Time)
	timingCalls int
	listCalls   int
}

func (s *stubSource) FetchConversations(_ context.Context, day time.Time, _ string) ([]string, error) {
	s.mu.Lock()
	s.listCalls++
	hook := s.listHook
	failing := s.failDates[daterange.Format(day)]
	s.mu.Unlock()

	if hook != nil {
		hook(day)
	}
	if failing {
		return nil, apperror.New(apperror.KindUpstream, "upstream returned 503 for %s", daterange.Format(day))
	}
	ids := make([]string, 0, s.perDay)
	for n := 1; n <= s.perDay; n++ {
		ids = append(ids, fmt.Sprintf("%s-%d", daterange.Format(day), n))
	}
	return ids, nil
}

func (s *stubSource) FetchTimings(_ context.Context, conversationID string) (*timingsource.Timings, error) {
	s.mu.Lock()
	s.timingCalls++
	failing := s.failConvs[conversationID]
	s.mu.Unlock()

	if failing {
		return nil, apperror.New(apperror.KindUpstream, "timeout fetching %s", conversationID)
	}
	var n int
	if _, err := fmt.Sscanf(conversationID[len("2006-01-02-"):], "%d", &n); err != nil {
		return nil, err
	}
	server := float64(n * 10)
	llm := float64(n)
	bot := int64(n % 2)
	return timingsource.Collapse(conversationID, []timingsource.Turn{{
		BotID:                &bot,
		ServerResponseTimeMs: &server,
		LLMResponseTimeMs:    &llm,
	}}), nil
}

// stubCache is an in-memory Cache.
type stubCache struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string]string{}}
}

func (c *stubCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	switch v := value.(type) {
	case []byte:
		c.values[key] = string(v)
	case string:
		c.values[key] = v
	default:
		return errors.New("unsupported value type")
	}
	return nil
}

func (c *stubCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	value, ok := c.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (c *stubCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	var n int64
	if current, ok := c.values[key]; ok {
		fmt.Sscanf(current, "%d", &n)
	}
	n++
	c.values[key] = fmt.Sprintf("%d", n)
	return n, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustDay(value string) time.Time {
	day, err := daterange.Parse(value)
	if err != nil {
		panic(err)
	}
	return day
}
