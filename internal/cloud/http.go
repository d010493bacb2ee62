package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"go.uber.org/ratelimit"

	"github.com/rendis/mtaflow/internal/logging"
	"github.com/rendis/mtaflow/pkg/schema"
)

const (
	endpointRunTask = "run_task"
	endpointGetTask = "get_task"

	maxErrorBody = 64 << 10
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the controller API root, e.g. https://api.example.com.
	BaseURL string
	// Token is sent as a bearer token when set.
	Token string
	// RequestsPerSecond paces outgoing calls. Zero or less means unlimited.
	RequestsPerSecond int
	// Timeout bounds a single request. Zero uses 30s.
	Timeout time.Duration
	Breaker BreakerConfig
	Logger  *slog.Logger
}

// HTTPClient talks to the controller's v3 tasks API.
type HTTPClient struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	limiter ratelimit.Limiter
	breaker *Breaker
	logger  *slog.Logger
}

// NewHTTPClient creates an HTTPClient from cfg.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid cloud controller URL %q", cfg.BaseURL)
	}

	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout
	if httpClient.Timeout <= 0 {
		httpClient.Timeout = 30 * time.Second
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &HTTPClient{
		baseURL: base,
		token:   cfg.Token,
		http:    httpClient,
		limiter: limiter,
		breaker: NewBreaker(cfg.Breaker, nil),
		logger:  logger,
	}, nil
}

// RunTask starts a task on the application appGUID.
func (c *HTTPClient) RunTask(ctx context.Context, appGUID string, req TaskRequest) (*Task, error) {
	if appGUID == "" {
		return nil, schema.NewError(schema.ErrCodeMissingParameter, "application GUID is required to run a task")
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeSerialization, "encode task request: %s", err.Error()).WithCause(err)
	}
	var task Task
	path := "/v3/apps/" + url.PathEscape(appGUID) + "/tasks"
	if err := c.do(ctx, endpointRunTask, http.MethodPost, path, body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask returns the current view of a task.
func (c *HTTPClient) GetTask(ctx context.Context, taskGUID string) (*Task, error) {
	if taskGUID == "" {
		return nil, schema.NewError(schema.ErrCodeMissingParameter, "task GUID is required")
	}
	var task Task
	if err := c.do(ctx, endpointGetTask, http.MethodGet, "/v3/tasks/"+url.PathEscape(taskGUID), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Breaker exposes the client's circuit breaker.
func (c *HTTPClient) Breaker() *Breaker { return c.breaker }

func (c *HTTPClient) do(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	if err := c.breaker.Allow(endpoint); err != nil {
		return err
	}
	c.limiter.Take()

	u := *c.baseURL
	u.Path += path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeExecution, "build %s request: %s", endpoint, err.Error()).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.Failure(endpoint)
		return schema.NewErrorf(schema.ErrCodeUpstream, "%s %s: %s", method, u.Path, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "cloud controller call",
		"endpoint", endpoint, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode >= 300 {
		apiErr := decodeAPIError(endpoint, resp)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.breaker.Failure(endpoint)
		} else {
			c.breaker.Success(endpoint)
		}
		return apiErr
	}
	c.breaker.Success(endpoint)

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return schema.NewErrorf(schema.ErrCodeUpstream, "decode %s response: %s", endpoint, err.Error()).WithCause(err)
	}
	return nil
}

// apiErrors is the v3 error envelope.
type apiErrors struct {
	Errors []struct {
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// decodeAPIError maps a non-2xx response to a StepError. 5xx and 429 are
// UPSTREAM_ERROR, 401 and 403 are UNAUTHORIZED, and a 404 on a task lookup is
// NOT_FOUND. The remaining 4xx answers reject the request itself and are
// content errors.
func decodeAPIError(endpoint string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	detail := strings.TrimSpace(string(raw))
	title := ""
	var envelope apiErrors
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Errors) > 0 {
		detail = envelope.Errors[0].Detail
		title = envelope.Errors[0].Title
	}
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	code := schema.ErrCodeContent
	switch {
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		code = schema.ErrCodeUpstream
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		code = schema.ErrCodeUnauthorized
	case resp.StatusCode == http.StatusNotFound && endpoint == endpointGetTask:
		code = schema.ErrCodeNotFound
	case resp.StatusCode == http.StatusUnprocessableEntity:
		code = schema.ErrCodeValidation
	}

	details := map[string]any{"status": resp.StatusCode}
	if title != "" {
		details["title"] = title
	}
	return schema.NewError(code, fmt.Sprintf("cloud controller returned %d: %s", resp.StatusCode, detail)).
		WithDetails(details)
}

var _ Client = (*HTTPClient)(nil)
