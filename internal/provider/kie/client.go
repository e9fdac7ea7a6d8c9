// Package kie implements the HTTP client for the KIE generation API, which
// hosts both the image/keyframe models and the video models (VEO-style and
// jobs-endpoint style). All requests go through a bounded retry loop with
// exponential backoff; retry exhaustion is reported as a transport failure so
// callers can distinguish "the network is flaky" from "the provider said no".
package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Static errors for KIE client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided or found in KIE_API_KEY.
	ErrAPIKeyNotSet = errors.New("kie: KIE_API_KEY environment variable is not set")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("kie: task ID is required")
	// ErrNoTaskIDReturned is returned when a submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("kie: submit failed: no task ID returned")
	// ErrSubmitRejected is returned when the API accepts the request but
	// reports a non-200 application code. This is terminal for the submission.
	ErrSubmitRejected = errors.New("kie: submit rejected")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("kie: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("kie: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("kie: request failed")
	// ErrTransport is returned when the retry budget is exhausted without a
	// usable response. The submitted task (if any) is in an unknown state.
	ErrTransport = errors.New("kie: transport failure")
)

// Client defines the interface for interacting with the KIE API.
type Client interface {
	// CreateImageTask submits an image generation task and returns the task ID.
	CreateImageTask(ctx context.Context, req ImageTaskRequest) (string, error)

	// GenerateVideo submits a VEO-style video generation task.
	GenerateVideo(ctx context.Context, req VideoGenerateRequest) (string, error)

	// CreateVideoJob submits a jobs-endpoint style video task (sora/grok models).
	CreateVideoJob(ctx context.Context, req VideoJobRequest) (string, error)

	// RecordInfo polls a task and returns its raw record.
	RecordInfo(ctx context.Context, taskID string) (TaskRecord, error)
}

// HTTPClient is the HTTP implementation of the KIE Client interface.
type HTTPClient struct {
	apiKey        string
	baseURL       string
	httpClient    *http.Client
	submitRetries int
	statusRetries int
	baseBackoff   time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the KIE API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithSubmitRetries sets the retry budget for task submissions.
func WithSubmitRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.submitRetries = n
	}
}

// WithStatusRetries sets the retry budget for status polls.
func WithStatusRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.statusRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new KIE HTTP client. The API key can be set via the
// WithAPIKey option; if not provided it is read from KIE_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:       "https://api.kie.ai",
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		submitRetries: 8,
		statusRetries: 5,
		baseBackoff:   1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("KIE_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// CreateImageTask submits an image generation task and returns the task ID.
func (c *HTTPClient) CreateImageTask(ctx context.Context, req ImageTaskRequest) (string, error) {
	body := createTaskRequest{
		Model: req.Model,
		Input: createTaskInput{
			Prompt:      req.Prompt,
			ImageURLs:   req.ImageURLs,
			AspectRatio: req.AspectRatio,
			OutputFmt:   "png",
		},
	}
	return c.submit(ctx, "/api/v1/jobs/createTask", body, c.submitRetries)
}

// GenerateVideo submits a VEO-style video generation task.
func (c *HTTPClient) GenerateVideo(ctx context.Context, req VideoGenerateRequest) (string, error) {
	return c.submit(ctx, "/api/v1/veo/generate", req, c.submitRetries)
}

// CreateVideoJob submits a jobs-endpoint style video task for models that use
// the generic createTask contract (sora, grok).
func (c *HTTPClient) CreateVideoJob(ctx context.Context, req VideoJobRequest) (string, error) {
	body := createTaskRequest{
		Model: req.Model,
		Input: createTaskInput{
			Prompt:      req.Prompt,
			ImageURLs:   req.ImageURLs,
			AspectRatio: req.AspectRatio,
		},
	}
	return c.submit(ctx, "/api/v1/jobs/createTask", body, c.submitRetries)
}

// submit posts a request body and extracts the task ID from the response.
func (c *HTTPClient) submit(ctx context.Context, path string, body any, retries int) (string, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("kie: marshal request: %w", err)
	}

	var resp submitResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, c.baseURL+path, bodyBytes, retries, &resp); err != nil {
		return "", err
	}

	if resp.Code != 200 {
		return "", fmt.Errorf("%w: code %d: %s", ErrSubmitRejected, resp.Code, resp.Msg)
	}
	if resp.Data.TaskID == "" {
		return "", ErrNoTaskIDReturned
	}
	return resp.Data.TaskID, nil
}

// RecordInfo polls a task and returns its raw record.
func (c *HTTPClient) RecordInfo(ctx context.Context, taskID string) (TaskRecord, error) {
	if taskID == "" {
		return TaskRecord{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/api/v1/jobs/recordInfo?taskId=%s", c.baseURL, taskID)

	var resp recordInfoResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, url, nil, c.statusRetries, &resp); err != nil {
		return TaskRecord{}, err
	}

	return resp.Data, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
// Exhausting the retry budget wraps the last error with ErrTransport.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, maxRetries int, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: context cancelled: %w", ErrTransport, ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, method, url, body, result)
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		lastErr = err
	}

	return fmt.Errorf("%w: max retries exceeded: %w", ErrTransport, lastErr)
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("kie: create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("kie: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("kie: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, string(respBody))}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, string(respBody))}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("kie: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that should be retried at the network level.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
