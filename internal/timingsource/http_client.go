package timingsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/example/latency-dashboard/internal/apperror"
	"github.com/example/latency-dashboard/internal/daterange"
	"github.com/example/latency-dashboard/internal/logging"
	"github.com/example/latency-dashboard/internal/retry"
)

const (
	conversationsPath = "/web/admin/api/conversations/ids"
	timingsPath       = "/robot/api/v1/monitor/conversations/response_time"

	maxResponseBytes = 8 << 20
)

// Options configures the HTTP timing source.
type Options struct {
	BaseURL       string
	AuthToken     string
	MonitorToken  string
	Timeout       time.Duration
	RetryAttempts int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// HTTPClient implements Source against the upstream JSON API.
type HTTPClient struct {
	baseURL      *url.URL
	authToken    string
	monitorToken string
	timeout      time.Duration
	policy       retry.Policy
	http         *http.Client
	schemas      *payloadSchemas
	logger       *zap.Logger
}

// NewHTTPClient refuses to build a client without both credentials.
func NewHTTPClient(opts Options, logger *zap.Logger) (*HTTPClient, error) {
	authToken := strings.TrimSpace(opts.AuthToken)
	monitorToken := strings.TrimSpace(opts.MonitorToken)
	if authToken == "" || monitorToken == "" {
		return nil, apperror.New(apperror.KindConfig, "timing source requires both AUTH_TOKEN and MONITOR_TOKEN")
	}

	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperror.New(apperror.KindConfig, "invalid UPSTREAM_BASE_URL %q", opts.BaseURL)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = retry.Default.Attempts
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}

	return &HTTPClient{
		baseURL:      base,
		authToken:    authToken,
		monitorToken: monitorToken,
		timeout:      timeout,
		policy:       retry.Policy{Attempts: attempts, InitialBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second},
		http:         httpClient,
		schemas:      schemas,
		logger:       logger.Named("timingsource"),
	}, nil
}

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type conversationsData struct {
	ConversationIDs []json.RawMessage `json:"conversation_ids"`
}

type timingsData struct {
	Data []Turn `json:"data"`
}

// FetchConversations lists the conversation IDs recorded on day.
// The upstream does not filter by type; metricType only labels the call in logs.
func (c *HTTPClient) FetchConversations(ctx context.Context, day time.Time, metricType string) ([]string, error) {
	const operation = "timingsource.fetch_conversations"
	formatted := day.UTC().Format(daterange.UpstreamLayout)
	query := url.Values{}
	query.Set("startDate", formatted)
	query.Set("endDate", formatted)
	query.Set("token", c.authToken)

	data, err := c.get(ctx, operation, conversationsPath, query, c.schemas.conversations)
	if err != nil {
		return nil, err
	}

	var payload conversationsData
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, c.fail(ctx, operation, fmt.Errorf("decode conversation ids: %w", err))
		}
	}

	ids := make([]string, 0, len(payload.ConversationIDs))
	for _, raw := range payload.ConversationIDs {
		id, err := parseConversationID(raw)
		if err != nil {
			return nil, c.fail(ctx, operation, err)
		}
		ids = append(ids, id)
	}

	c.logger.Debug("listed conversations",
		zap.String("date", daterange.Format(day)),
		zap.String("type", metricType),
		zap.Int("count", len(ids)),
	)
	return ids, nil
}

// FetchTimings fetches and collapses the timing records of one conversation.
func (c *HTTPClient) FetchTimings(ctx context.Context, conversationID string) (*Timings, error) {
	const operation = "timingsource.fetch_timings"
	query := url.Values{}
	query.Set("token", c.monitorToken)
	query.Set("conversation_id", conversationID)

	data, err := c.get(ctx, operation, timingsPath, query, c.schemas.timings)
	if err != nil {
		return nil, err
	}

	var payload timingsData
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, c.fail(ctx, operation, fmt.Errorf("decode timings: %w", err))
		}
	}
	return Collapse(conversationID, payload.Data), nil
}

func (c *HTTPClient) get(ctx context.Context, operation, path string, query url.Values, schema *gojsonschema.Schema) (json.RawMessage, error) {
	endpoint := *c.baseURL
	endpoint.Path = strings.TrimRight(endpoint.Path, "/") + path
	endpoint.RawQuery = query.Encode()

	var data json.RawMessage
	_, err := c.policy.Do(ctx, retry.IsTransient, func(attempt int, err error) {
		logging.WithOperation(c.logger, operation, logging.RunIDFromContext(ctx)).
			Warn("upstream call failed, retrying", zap.Error(err), zap.Int("attempt", attempt))
	}, func() error {
		body, err := c.do(ctx, endpoint.String())
		if err != nil {
			return err
		}
		if err := validatePayload(schema, body); err != nil {
			return err
		}
		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return fmt.Errorf("decode envelope: %w", err)
		}
		if env.Status != http.StatusOK {
			message := env.Message
			if message == "" {
				message = "unknown error"
			}
			return fmt.Errorf("upstream status %d: %s", env.Status, message)
		}
		data = env.Data
		return nil
	})
	if err != nil {
		return nil, c.fail(ctx, operation, err)
	}
	return data, nil
}

func (c *HTTPClient) do(ctx context.Context, endpoint string) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

func (c *HTTPClient) fail(ctx context.Context, operation string, err error) error {
	runID := logging.RunIDFromContext(ctx)
	return apperror.Wrap(apperror.KindUpstream, logging.NewOperationError(operation, runID, err), "%s failed", operation)
}

// statusError is a non-200 HTTP answer. 5xx and 429 are worth retrying.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if len(e.body) > 200 {
		return fmt.Sprintf("upstream http %d: %s...", e.code, e.body[:200])
	}
	return fmt.Sprintf("upstream http %d: %s", e.code, e.body)
}

func (e *statusError) Temporary() bool {
	return e.code >= 500 || e.code == http.StatusTooManyRequests
}

func parseConversationID(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return "", fmt.Errorf("empty conversation id")
	}
	if trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", fmt.Errorf("decode conversation id: %w", err)
		}
		if strings.TrimSpace(id) == "" {
			return "", fmt.Errorf("empty conversation id")
		}
		return id, nil
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return "", fmt.Errorf("decode conversation id: %w", err)
	}
	return number.String(), nil
}
