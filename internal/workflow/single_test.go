package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/provider"
)

// mockGateway is a testify mock of provider.Gateway shared by the workflow
// tests.
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

// fakeLedger records deductions in memory.
type fakeLedger struct {
	deductions []fakeDeduction
	deductErr  error
	balance    int
}

type fakeDeduction struct {
	UserID    string
	Amount    int
	Reason    string
	ProjectID string
}

func (f *fakeLedger) Check(ctx context.Context, userID string, amount int) (bool, error) {
	return f.balance >= amount, nil
}

func (f *fakeLedger) Deduct(ctx context.Context, userID string, amount int, reason, projectID string) error {
	if f.deductErr != nil {
		return f.deductErr
	}
	f.deductions = append(f.deductions, fakeDeduction{
		UserID:    userID,
		Amount:    amount,
		Reason:    reason,
		ProjectID: projectID,
	})
	f.balance -= amount
	return nil
}

func newSingleProject() *project.Project {
	p := project.NewProject("user-1")
	p.SourceImageURL = "https://cdn/product.png"
	p.AspectRatio = "9:16"
	p.VideoPrompts = datatypes.JSON(`{"scene":"a sunny beach","dialogue":"buy now","coverPrompt":"hero product shot"}`)
	p.CurrentStep = p.InitialStep()
	return p
}

func TestSingle_SubmitsCoverWhenNoTaskOutstanding(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitImage", mock.Anything, mock.MatchedBy(func(req provider.ImageRequest) bool {
		return req.Prompt == "hero product shot" &&
			len(req.ImageURLs) == 1 &&
			req.ImageURLs[0] == "https://cdn/product.png" &&
			req.AspectRatio == "9:16"
	})).Return("cover-task-1", nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "cover-task-1", p.CoverTaskID)
	assert.Equal(t, project.StepGeneratingCover, p.CurrentStep)
	assert.Equal(t, progressCoverSubmitted, p.ProgressPercentage)
	gw.AssertExpectations(t)
}

func TestSingle_OutstandingTaskIsPolledNotResubmitted(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{Status: provider.StatusGenerating}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CoverTaskID = "cover-task-1"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, changed)
	gw.AssertNotCalled(t, "SubmitImage", mock.Anything, mock.Anything)
}

func TestSingle_CoverSuccessAdvancesToVideo(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{Status: provider.StatusSuccess, ResultURL: "https://cdn/cover.png"}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CoverTaskID = "cover-task-1"
	p.RetryCount = 2

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "https://cdn/cover.png", p.CoverImageURL)
	assert.Empty(t, p.CoverTaskID)
	assert.Zero(t, p.RetryCount)
	assert.Equal(t, project.StepGeneratingVideo, p.CurrentStep)
}

func TestSingle_PhotoOnlyCompletesAfterCover(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{Status: provider.StatusSuccess, ResultURL: "https://cdn/cover.png"}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.PhotoOnly = true
	p.CoverTaskID = "cover-task-1"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Equal(t, "https://cdn/cover.png", p.CoverImageURL)
	assert.Empty(t, p.VideoTaskID)
	gw.AssertNotCalled(t, "SubmitVideo", mock.Anything, mock.Anything)
}

func TestSingle_VideoSuccessCompletesProject(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "video-task-1", provider.TaskVideo).
		Return(provider.StatusResult{Status: provider.StatusSuccess, ResultURL: "https://cdn/final.mp4"}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CurrentStep = project.StepGeneratingVideo
	p.CoverImageURL = "https://cdn/cover.png"
	p.VideoTaskID = "video-task-1"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusCompleted, p.Status)
	assert.Equal(t, "https://cdn/final.mp4", p.VideoURL)
	assert.Empty(t, p.VideoTaskID)
	assert.Equal(t, 100, p.ProgressPercentage)
}

func TestSingle_VideoAnchorsOnCoverImage(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitVideo", mock.Anything, mock.MatchedBy(func(req provider.VideoRequest) bool {
		return len(req.ImageURLs) == 1 &&
			req.ImageURLs[0] == "https://cdn/cover.png" &&
			req.EnableAudio &&
			req.GenerateVoiceover
	})).Return("video-task-1", nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CurrentStep = project.StepGeneratingVideo
	p.CoverImageURL = "https://cdn/cover.png"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "video-task-1", p.VideoTaskID)
	gw.AssertExpectations(t)
}

func TestSingle_CustomScriptUsesDialogueAndSourceImage(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitVideo", mock.Anything, mock.MatchedBy(func(req provider.VideoRequest) bool {
		return req.Prompt == "buy now" &&
			req.ImageURLs[0] == "https://cdn/product.png" &&
			!req.GenerateVoiceover &&
			req.IncludeDialogue
	})).Return("video-task-1", nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CustomScript = true
	p.CurrentStep = project.StepGeneratingVideo

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	gw.AssertExpectations(t)
}

func TestSingle_RetryableFailureResubmitsWithinBudget(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "video-task-1", provider.TaskVideo).
		Return(provider.StatusResult{
			Status:       provider.StatusFailed,
			ErrorMessage: "internal error",
			Retryable:    true,
		}, nil)
	gw.On("SubmitVideo", mock.Anything, mock.Anything).Return("video-task-2", nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CurrentStep = project.StepGeneratingVideo
	p.CoverImageURL = "https://cdn/cover.png"
	p.VideoTaskID = "video-task-1"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, 1, p.RetryCount)
	assert.Equal(t, "video-task-2", p.VideoTaskID)
	assert.Equal(t, project.StepGeneratingVideo, p.CurrentStep)
	assert.Equal(t, project.StatusProcessing, p.Status)
}

func TestSingle_RetryBudgetExhaustedFailsProject(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "video-task-1", provider.TaskVideo).
		Return(provider.StatusResult{
			Status:       provider.StatusFailed,
			ErrorMessage: "internal error",
			Retryable:    true,
		}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CurrentStep = project.StepGeneratingVideo
	p.CoverImageURL = "https://cdn/cover.png"
	p.VideoTaskID = "video-task-1"
	p.RetryCount = project.MaxStageRetries

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusFailed, p.Status)
	assert.Contains(t, p.ErrorMessage, "video generation failed")
	gw.AssertNotCalled(t, "SubmitVideo", mock.Anything, mock.Anything)
}

func TestSingle_NonRetryableFailureIsTerminal(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{
			Status:       provider.StatusFailed,
			ErrorMessage: "content policy violation",
			Retryable:    false,
		}, nil)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CoverTaskID = "cover-task-1"

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusFailed, p.Status)
	assert.Contains(t, p.ErrorMessage, "content policy violation")
}

func TestSingle_TransportErrorLeavesProjectUntouched(t *testing.T) {
	gw := &mockGateway{}
	gw.On("CheckTask", mock.Anything, "cover-task-1", provider.TaskImage).
		Return(provider.StatusResult{}, provider.ErrTransport)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()
	p.CoverTaskID = "cover-task-1"

	changed, err := w.Advance(context.Background(), p)
	assert.True(t, provider.IsTransport(err))
	assert.False(t, changed)
	assert.Equal(t, project.StatusProcessing, p.Status)
	assert.Equal(t, "cover-task-1", p.CoverTaskID)
}

func TestSingle_SubmissionRejectionFailsProject(t *testing.T) {
	gw := &mockGateway{}
	gw.On("SubmitImage", mock.Anything, mock.Anything).
		Return("", assert.AnError)

	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)
	p := newSingleProject()

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusFailed, p.Status)
	assert.Contains(t, p.ErrorMessage, "cover submission rejected")
}

func TestSingle_MissingSourceImageFailsAndRefunds(t *testing.T) {
	gw := &mockGateway{}
	ledger := &fakeLedger{}

	w := NewSingle(gw, ledger, DefaultConfig(), nil)
	p := newSingleProject()
	p.SourceImageURL = ""
	p.Plan = project.PlanPremium
	p.CreditsCharged = 50

	changed, err := w.Advance(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, project.StatusFailed, p.Status)

	// Exactly one refund, and the charge is zeroed so it cannot replay.
	require.Len(t, ledger.deductions, 1)
	assert.Equal(t, -50, ledger.deductions[0].Amount)
	assert.Equal(t, p.ID, ledger.deductions[0].ProjectID)
	assert.Zero(t, p.CreditsCharged)
}

func TestSingle_NoRefundOnceWorkWasSubmitted(t *testing.T) {
	gw := &mockGateway{}
	ledger := &fakeLedger{}

	w := NewSingle(gw, ledger, DefaultConfig(), nil)
	p := newSingleProject()
	p.Plan = project.PlanPremium
	p.CreditsCharged = 50
	p.CoverImageURL = "https://cdn/cover.png"

	w.Abandon(context.Background(), p, "generation made no progress")

	assert.Equal(t, project.StatusFailed, p.Status)
	assert.Empty(t, ledger.deductions)
	assert.Equal(t, 50, p.CreditsCharged)
}

func TestSingle_AbandonRefundsUnstartedPremium(t *testing.T) {
	gw := &mockGateway{}
	ledger := &fakeLedger{}

	w := NewSingle(gw, ledger, DefaultConfig(), nil)
	p := newSingleProject()
	p.Plan = project.PlanPremium
	p.CreditsCharged = 50

	w.Abandon(context.Background(), p, "task submission timed out")

	assert.Equal(t, project.StatusFailed, p.Status)
	require.Len(t, ledger.deductions, 1)
	assert.Equal(t, -50, ledger.deductions[0].Amount)
	assert.Zero(t, p.CreditsCharged)
}

func TestSingle_RefundFailureKeepsChargeForRetry(t *testing.T) {
	gw := &mockGateway{}
	ledger := &fakeLedger{deductErr: assert.AnError}

	w := NewSingle(gw, ledger, DefaultConfig(), nil)
	p := newSingleProject()
	p.Plan = project.PlanPremium
	p.CreditsCharged = 50

	w.Abandon(context.Background(), p, "task submission timed out")

	assert.Equal(t, project.StatusFailed, p.Status)
	// The charge survives a failed refund so the miss is visible.
	assert.Equal(t, 50, p.CreditsCharged)
}

func TestSingle_TerminalStepsAreNoops(t *testing.T) {
	gw := &mockGateway{}
	w := NewSingle(gw, &fakeLedger{}, DefaultConfig(), nil)

	for _, step := range []project.Step{project.StepCompleted, project.StepFailed} {
		p := newSingleProject()
		p.CurrentStep = step

		changed, err := w.Advance(context.Background(), p)
		require.NoError(t, err)
		assert.False(t, changed)
	}
	gw.AssertNotCalled(t, "CheckTask", mock.Anything, mock.Anything, mock.Anything)
}
