// Package fal implements the HTTP client for the fal queue API used to merge
// independently generated video clips into one final file. Unlike generation
// polls, a merge status check swallows transport failures and reports them as
// a NETWORK_ERROR status: the merge is expensive and already running, so the
// reconciler must leave the project untouched and try again next sweep.
package fal

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

// Static errors for fal client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is provided or found in FAL_API_KEY.
	ErrAPIKeyNotSet = errors.New("fal: FAL_API_KEY environment variable is not set")
	// ErrNoClips is returned when a merge is submitted with no clip URLs.
	ErrNoClips = errors.New("fal: at least one clip URL is required")
	// ErrRequestIDRequired is returned when the request ID is not provided.
	ErrRequestIDRequired = errors.New("fal: request ID is required")
	// ErrNoRequestIDReturned is returned when the submit response contains no request ID.
	ErrNoRequestIDReturned = errors.New("fal: submit failed: no request ID returned")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("fal: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("fal: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("fal: request failed")
)

// mergeEndpoint is the fal application that concatenates video clips.
const mergeEndpoint = "fal-ai/ffmpeg-api/merge-videos"

// Status is the state of a merge request.
type Status string

const (
	// StatusInQueue indicates the merge is waiting for a worker.
	StatusInQueue Status = "IN_QUEUE"
	// StatusInProgress indicates the merge is running.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusCompleted indicates the merge finished and a result URL is available.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the merge failed.
	StatusFailed Status = "FAILED"
	// StatusNetworkError indicates the status could not be determined because
	// of transport failures. The merge itself may still be running.
	StatusNetworkError Status = "NETWORK_ERROR"
)

// MergeResult is the outcome of a merge status check.
type MergeResult struct {
	// Status is the current merge state.
	Status Status
	// ResultURL is the merged video URL, set only when Status is COMPLETED.
	ResultURL string
	// Error is the failure reason, set only when Status is FAILED.
	Error string
}

// Client defines the interface for the fal merge API.
type Client interface {
	// SubmitMerge queues a merge of the given clips, in order, and returns
	// the request ID.
	SubmitMerge(ctx context.Context, clipURLs []string, aspectRatio string) (string, error)

	// CheckMerge reports the state of a queued merge. Transport failures are
	// reported as StatusNetworkError, not as an error.
	CheckMerge(ctx context.Context, requestID string) (MergeResult, error)
}

// HTTPClient is the HTTP implementation of the fal Client interface.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
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

// WithBaseURL sets a custom base URL for the fal queue API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new fal HTTP client. The API key can be set via the
// WithAPIKey option; if not provided it is read from FAL_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     "https://queue.fal.run",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  5,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("FAL_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	return c, nil
}

// submitRequest is the merge submission body.
type submitRequest struct {
	VideoURLs   []string `json:"video_urls"`
	AspectRatio string   `json:"target_aspect_ratio,omitempty"`
}

// submitResponse is the queue acceptance envelope.
type submitResponse struct {
	RequestID string `json:"request_id"`
	Detail    string `json:"detail"`
}

// statusResponse is the queue status envelope.
type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// resultResponse is the completed-request payload.
type resultResponse struct {
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
}

// SubmitMerge queues a merge of the given clips and returns the request ID.
func (c *HTTPClient) SubmitMerge(ctx context.Context, clipURLs []string, aspectRatio string) (string, error) {
	if len(clipURLs) == 0 {
		return "", ErrNoClips
	}

	bodyBytes, err := json.Marshal(submitRequest{
		VideoURLs:   clipURLs,
		AspectRatio: aspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("fal: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, mergeEndpoint)

	var resp submitResponse
	if err := c.doRequestWithRetry(ctx, http.MethodPost, url, bodyBytes, &resp); err != nil {
		return "", err
	}

	if resp.RequestID == "" {
		if resp.Detail != "" {
			return "", fmt.Errorf("%w: %s", ErrRequestFailed, resp.Detail)
		}
		return "", ErrNoRequestIDReturned
	}

	return resp.RequestID, nil
}

// CheckMerge reports the state of a queued merge. Transport-level retry
// exhaustion maps to StatusNetworkError so the caller can defer to the next
// sweep without failing the project.
func (c *HTTPClient) CheckMerge(ctx context.Context, requestID string) (MergeResult, error) {
	if requestID == "" {
		return MergeResult{}, ErrRequestIDRequired
	}

	statusURL := fmt.Sprintf("%s/%s/requests/%s/status", c.baseURL, mergeEndpoint, requestID)

	var status statusResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, statusURL, nil, &status); err != nil {
		if isRetryable(err) {
			return MergeResult{Status: StatusNetworkError}, nil
		}
		return MergeResult{}, err
	}

	switch status.Status {
	case "IN_QUEUE":
		return MergeResult{Status: StatusInQueue}, nil
	case "IN_PROGRESS":
		return MergeResult{Status: StatusInProgress}, nil
	case "FAILED", "ERROR":
		return MergeResult{Status: StatusFailed, Error: status.Error}, nil
	case "COMPLETED":
		// Fall through to fetch the result payload.
	default:
		return MergeResult{Status: StatusInProgress}, nil
	}

	resultURL := fmt.Sprintf("%s/%s/requests/%s", c.baseURL, mergeEndpoint, requestID)

	var result resultResponse
	if err := c.doRequestWithRetry(ctx, http.MethodGet, resultURL, nil, &result); err != nil {
		if isRetryable(err) {
			return MergeResult{Status: StatusNetworkError}, nil
		}
		return MergeResult{}, err
	}

	if result.Video.URL == "" {
		return MergeResult{Status: StatusFailed, Error: "merge completed without a video URL"}, nil
	}

	return MergeResult{Status: StatusCompleted, ResultURL: result.Video.URL}, nil
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, method, url string, body []byte, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return &retryableError{err: fmt.Errorf("fal: context cancelled: %w", ctx.Err())}
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

	return &retryableError{err: fmt.Errorf("fal: max retries exceeded: %w", lastErr)}
}

// doRequest performs a single HTTP request.
func (c *HTTPClient) doRequest(ctx context.Context, method, url string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("fal: create request: %w", err)
	}

	req.Header.Set("Authorization", "Key "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("fal: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("fal: read response: %w", err)}
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
			return fmt.Errorf("fal: unmarshal response: %w", err)
		}
	}

	return nil
}

// retryableError wraps errors that exhausted or may exhaust the retry budget.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error is a transport-level failure.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// IsTransport reports whether err is a transport-level failure, meaning the
// request never produced a usable provider answer.
func IsTransport(err error) bool {
	return isRetryable(err)
}
