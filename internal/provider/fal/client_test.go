package fal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func newTestClient(t *testing.T, serverURL string) *HTTPClient {
	t.Helper()
	client, err := NewClient(
		WithAPIKey("test-key"),
		WithBaseURL(serverURL),
		WithMaxRetries(1),
		WithBaseBackoff(time.Millisecond),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return client
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	_ = os.Unsetenv("FAL_API_KEY")

	_, err := NewClient()
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestSubmitMerge_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/fal-ai/ffmpeg-api/merge-videos" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Key test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var body submitRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if len(body.VideoURLs) != 2 || body.VideoURLs[0] != "https://cdn/a.mp4" {
			t.Errorf("clip order not preserved: %v", body.VideoURLs)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-42"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	id, err := client.SubmitMerge(context.Background(), []string{"https://cdn/a.mp4", "https://cdn/b.mp4"}, "9:16")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "req-42" {
		t.Errorf("expected req-42, got %q", id)
	}
}

func TestSubmitMerge_NoClips(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	_, err := client.SubmitMerge(context.Background(), nil, "9:16")
	if !errors.Is(err, ErrNoClips) {
		t.Errorf("expected ErrNoClips, got %v", err)
	}
}

func TestCheckMerge_Completed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fal-ai/ffmpeg-api/merge-videos/requests/req-1/status":
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "COMPLETED"})
		case "/fal-ai/ffmpeg-api/merge-videos/requests/req-1":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"video": map[string]string{"url": "https://cdn/final.mp4"},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.CheckMerge(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", result.Status)
	}
	if result.ResultURL != "https://cdn/final.mp4" {
		t.Errorf("expected result url, got %q", result.ResultURL)
	}
}

func TestCheckMerge_Failed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "FAILED",
			"error":  "codec mismatch",
		})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.CheckMerge(context.Background(), "req-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected FAILED, got %s", result.Status)
	}
	if result.Error != "codec mismatch" {
		t.Errorf("expected failure reason, got %q", result.Error)
	}
}

func TestCheckMerge_InProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "IN_PROGRESS"})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.CheckMerge(context.Background(), "req-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusInProgress {
		t.Errorf("expected IN_PROGRESS, got %s", result.Status)
	}
}

func TestCheckMerge_TransportExhaustionReportsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.CheckMerge(context.Background(), "req-4")
	if err != nil {
		t.Fatalf("transport exhaustion must not surface as an error, got %v", err)
	}
	if result.Status != StatusNetworkError {
		t.Errorf("expected NETWORK_ERROR, got %s", result.Status)
	}
}

func TestCheckMerge_CompletedWithoutURLIsFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fal-ai/ffmpeg-api/merge-videos/requests/req-5/status" {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "COMPLETED"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	result, err := client.CheckMerge(context.Background(), "req-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusFailed {
		t.Errorf("expected FAILED for completed merge without url, got %s", result.Status)
	}
}

func TestCheckMerge_EmptyRequestID(t *testing.T) {
	client := newTestClient(t, "http://localhost:0")
	_, err := client.CheckMerge(context.Background(), "")
	if !errors.Is(err, ErrRequestIDRequired) {
		t.Errorf("expected ErrRequestIDRequired, got %v", err)
	}
}
