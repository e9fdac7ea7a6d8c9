package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/adforge/adforge-api/internal/credit"
	"github.com/adforge/adforge-api/internal/monitor"
	"github.com/adforge/adforge-api/internal/project"
	"github.com/adforge/adforge-api/internal/workflow"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	creator *workflow.Creator
	store   project.Store
	monitor *monitor.Monitor
	logger  *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(creator *workflow.Creator, store project.Store, mon *monitor.Monitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		creator: creator,
		store:   store,
		monitor: mon,
		logger:  logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateProject handles POST /projects requests. The project is persisted in
// its initial step; provider tasks are submitted by the next sweep, so a
// crash between payment and submission is always recoverable.
func (h *Handlers) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	input, err := toCreateInput(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PAYLOAD")
		return
	}

	p, err := h.creator.Create(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, workflow.ErrInvalidRequest):
			h.logger.Warn("request validation failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		case errors.Is(err, credit.ErrInsufficientCredits):
			writeError(w, http.StatusPaymentRequired, "insufficient credits", "INSUFFICIENT_CREDITS")
		default:
			h.logger.Error("failed to create project",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to create project", "PROJECT_CREATION_FAILED")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, CreateProjectResponse{
		ID:             p.ID,
		Status:         string(p.Status),
		CurrentStep:    string(p.CurrentStep),
		Segmented:      p.IsSegmented,
		SegmentCount:   p.SegmentCount,
		CreditsCharged: p.CreditsCharged,
	})
}

// GetProject handles GET /projects/{id} requests.
func (h *Handlers) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project ID is required", "MISSING_PROJECT_ID")
		return
	}

	p, err := h.store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			writeError(w, http.StatusNotFound, "project not found", "PROJECT_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get project",
			slog.String("project_id", projectID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get project", "PROJECT_FETCH_FAILED")
		return
	}

	resp := ProjectResponse{
		ID:            p.ID,
		Status:        string(p.Status),
		CurrentStep:   string(p.CurrentStep),
		Progress:      p.ProgressPercentage,
		Segmented:     p.IsSegmented,
		CoverImageURL: p.CoverImageURL,
		Error:         p.ErrorMessage,
	}
	if p.Status == project.StatusCompleted {
		resp.VideoURL = p.ArchivedVideoURL
		if resp.VideoURL == "" {
			resp.VideoURL = p.FinalVideoURL()
		}
	}
	if len(p.SegmentStatus) > 0 {
		resp.SegmentStatus = json.RawMessage(p.SegmentStatus)
	}

	writeJSON(w, http.StatusOK, resp)
}

// TriggerSweep handles POST /internal/monitor/sweep requests. The sweep runs
// synchronously; per-candidate failures are absorbed into the counts and only
// infrastructure failure produces a 500.
func (h *Handlers) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.monitor.RunSweep(r.Context())
	if err != nil {
		h.logger.Error("sweep failed",
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "sweep failed",
			Code:    "SWEEP_FAILED",
			Details: err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, SweepResponse{
		Success:      true,
		Processed:    result.Processed,
		Completed:    result.Completed,
		Failed:       result.Failed,
		TotalRecords: result.TotalRecords,
	})
}

// toCreateInput maps the HTTP DTO onto the workflow input, decoding the
// opaque creative payloads.
func toCreateInput(req CreateProjectRequest) (workflow.CreateRequest, error) {
	input := workflow.CreateRequest{
		UserID:             req.UserID,
		Plan:               req.Plan,
		Model:              req.Model,
		AspectRatio:        req.AspectRatio,
		DurationSeconds:    req.DurationSeconds,
		PhotoOnly:          req.PhotoOnly,
		CustomScript:       req.CustomScript,
		SourceImageURL:     req.SourceImageURL,
		ReferenceImageURLs: req.ReferenceImageURLs,
	}

	if len(req.VideoPrompts) > 0 {
		var prompts project.VideoPromptPayload
		if err := json.Unmarshal(req.VideoPrompts, &prompts); err != nil {
			return input, errors.New("videoPrompts must be an object")
		}
		input.VideoPrompts = &prompts
	}

	if len(req.SegmentPlan) > 0 {
		var plan []project.SegmentPlanEntry
		if err := json.Unmarshal(req.SegmentPlan, &plan); err != nil {
			return input, errors.New("segmentPlan must be an array")
		}
		input.SegmentPlan = plan
	}

	return input, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
