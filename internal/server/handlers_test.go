package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adforge/adforge-api/internal/monitor"
	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
	"github.com/adforge/adforge-api/internal/workflow"
)

type mockGateway struct {
	mock.Mock
}

var _ provider.Gateway = (*mockGateway)(nil)

func (m *mockGateway) SubmitImage(ctx context.Context, req provider.ImageRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) SubmitVideo(ctx context.Context, req provider.VideoRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) SubmitMerge(ctx context.Context, req provider.MergeRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) CheckTask(ctx context.Context, taskID string, kind provider.TaskKind) (provider.StatusResult, error) {
	args := m.Called(ctx, taskID, kind)
	return args.Get(0).(provider.StatusResult), args.Error(1)
}

type stubLedger struct {
	balance int
}

func (s *stubLedger) Check(ctx context.Context, userID string, amount int) (bool, error) {
	return s.balance >= amount, nil
}

func (s *stubLedger) Deduct(ctx context.Context, userID string, amount int, reason, projectID string) error {
	s.balance -= amount
	return nil
}

type testServer struct {
	router  http.Handler
	store   *project.MemoryStore
	gateway *mockGateway
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store := project.NewMemoryStore()
	gw := &mockGateway{}
	ledger := &stubLedger{balance: 1000}
	logger := slog.Default()

	wcfg := workflow.DefaultConfig()
	creator := workflow.NewCreator(store, ledger, wcfg, logger)
	single := workflow.NewSingle(gw, ledger, wcfg, logger)
	segmented := workflow.NewSegmented(store, gw, wcfg, logger)

	mcfg := monitor.DefaultConfig()
	mcfg.CandidateDelay = 0
	mon := monitor.New(store, single, segmented, nil, mcfg, logger)

	h := NewHandlers(creator, store, mon, logger)
	return &testServer{
		router:  NewRouter(h, logger, DefaultConfig()),
		store:   store,
		gateway: gw,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestCreateProject_Accepted(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/projects", map[string]any{
		"userId":         "user-1",
		"sourceImageUrl": "https://cdn/product.png",
		"videoPrompts":   map[string]string{"scene": "a demo", "coverPrompt": "hero shot"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[CreateProjectResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, "generating_cover", resp.CurrentStep)
	assert.False(t, resp.Segmented)

	// Creation never submits provider tasks; the next sweep does.
	s.gateway.AssertNotCalled(t, "SubmitImage", mock.Anything, mock.Anything)

	stored, err := s.store.GetProject(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.CoverTaskID)
}

func TestCreateProject_SegmentedResponse(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/projects", map[string]any{
		"userId":          "user-1",
		"durationSeconds": 24,
		"sourceImageUrl":  "https://cdn/product.png",
		"videoPrompts":    map[string]string{"scene": "a demo"},
		"segmentPlan":     []map[string]string{{"prompt": "open"}, {"prompt": "mid"}, {"prompt": "close"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	resp := decodeBody[CreateProjectResponse](t, rec)
	assert.True(t, resp.Segmented)
	assert.Equal(t, 3, resp.SegmentCount)
	assert.Equal(t, "generating_segment_frames", resp.CurrentStep)
}

func TestCreateProject_InvalidJSON(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestCreateProject_ValidationError(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/projects", map[string]any{
		"sourceImageUrl": "https://cdn/product.png",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Code)
}

func TestCreateProject_MalformedPrompts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/projects", map[string]any{
		"userId":       "user-1",
		"videoPrompts": "not an object",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_PAYLOAD", resp.Code)
}

func TestCreateProject_InsufficientCredits(t *testing.T) {
	store := project.NewMemoryStore()
	gw := &mockGateway{}
	ledger := &stubLedger{balance: 0}
	logger := slog.Default()

	wcfg := workflow.DefaultConfig()
	creator := workflow.NewCreator(store, ledger, wcfg, logger)
	single := workflow.NewSingle(gw, ledger, wcfg, logger)
	segmented := workflow.NewSegmented(store, gw, wcfg, logger)
	mon := monitor.New(store, single, segmented, nil, monitor.DefaultConfig(), logger)
	router := NewRouter(NewHandlers(creator, store, mon, logger), logger, DefaultConfig())

	body, _ := json.Marshal(map[string]any{
		"userId": "user-1",
		"plan":   "premium",
	})
	req := httptest.NewRequest(http.MethodPost, "/projects", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INSUFFICIENT_CREDITS", resp.Code)
}

func TestGetProject_NotFound(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/projects/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "PROJECT_NOT_FOUND", resp.Code)
}

func TestGetProject_InFlightHidesVideoURL(t *testing.T) {
	s := newTestServer(t)

	p := project.NewProject("user-1")
	p.CurrentStep = project.StepGeneratingVideo
	p.CoverImageURL = "https://cdn/cover.png"
	p.VideoURL = "https://provider/partial.mp4"
	p.ProgressPercentage = 50
	require.NoError(t, s.store.CreateProject(context.Background(), p))

	rec := s.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ProjectResponse](t, rec)
	assert.Equal(t, "processing", resp.Status)
	assert.Equal(t, 50, resp.Progress)
	assert.Equal(t, "https://cdn/cover.png", resp.CoverImageURL)
	assert.Empty(t, resp.VideoURL)
}

func TestGetProject_CompletedPrefersArchivedURL(t *testing.T) {
	s := newTestServer(t)

	p := project.NewProject("user-1")
	p.VideoURL = "https://provider/final.mp4"
	p.ArchivedVideoURL = "https://bucket.s3.amazonaws.com/final.mp4"
	p.MarkCompleted()
	require.NoError(t, s.store.CreateProject(context.Background(), p))

	rec := s.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ProjectResponse](t, rec)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "https://bucket.s3.amazonaws.com/final.mp4", resp.VideoURL)
}

func TestGetProject_FailedCarriesError(t *testing.T) {
	s := newTestServer(t)

	p := project.NewProject("user-1")
	p.MarkFailed("video generation failed: internal error")
	require.NoError(t, s.store.CreateProject(context.Background(), p))

	rec := s.do(t, http.MethodGet, "/projects/"+p.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[ProjectResponse](t, rec)
	assert.Equal(t, "failed", resp.Status)
	assert.Contains(t, resp.Error, "video generation failed")
}

func TestTriggerSweep(t *testing.T) {
	s := newTestServer(t)
	s.gateway.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{Status: provider.StatusSuccess, ResultURL: "https://cdn/cover.png"}, nil)

	p := project.NewProject("user-1")
	p.PhotoOnly = true
	p.CurrentStep = project.StepGeneratingCover
	p.CoverTaskID = "cover-task-1"
	require.NoError(t, s.store.CreateProject(context.Background(), p))

	rec := s.do(t, http.MethodPost, "/internal/monitor/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[SweepResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)
	assert.Equal(t, 1, resp.Completed)
	assert.Equal(t, 1, resp.TotalRecords)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodDelete, "/projects", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
