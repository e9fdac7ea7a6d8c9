package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/adforge/adforge-api/internal/project"
)

const downloadTimeout = 5 * time.Minute

// Archiver copies a completed project's final video from the provider's
// expiring URL into durable storage.
type Archiver struct {
	storage Storage
	client  *http.Client
}

// NewArchiver creates an Archiver. httpClient may be nil, in which case a
// client with a download timeout is used.
func NewArchiver(storage Storage, httpClient *http.Client) *Archiver {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: downloadTimeout}
	}
	return &Archiver{
		storage: storage,
		client:  httpClient,
	}
}

// ArchiveFinalVideo downloads the project's final video and stores it under
// projects/<id>/final.mp4, returning the durable URL.
func (a *Archiver) ArchiveFinalVideo(ctx context.Context, p *project.Project) (string, error) {
	sourceURL := p.FinalVideoURL()
	if sourceURL == "" {
		return "", fmt.Errorf("project %s has no final video", p.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download final video: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download final video: unexpected status %d", resp.StatusCode)
	}

	key := fmt.Sprintf("projects/%s/final.mp4", p.ID)
	url, err := a.storage.Store(ctx, key, resp.Body)
	if err != nil {
		return "", fmt.Errorf("store final video: %w", err)
	}
	return url, nil
}
