package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"github.com/adforge/adforge-api/internal/credit"
	"github.com/adforge/adforge-api/internal/project"
)

// ErrInvalidRequest wraps validation failures on project creation.
var ErrInvalidRequest = errors.New("workflow: invalid create request")

// CreateRequest is the input for creating a generation project. The creative
// payload and segment plan come from an upstream planning step and are stored
// opaquely.
type CreateRequest struct {
	UserID             string                     `json:"userId" validate:"required"`
	Plan               string                     `json:"plan" validate:"omitempty,oneof=basic premium"`
	Model              string                     `json:"model"`
	AspectRatio        string                     `json:"aspectRatio" validate:"omitempty,oneof=16:9 9:16 1:1"`
	DurationSeconds    int                        `json:"durationSeconds" validate:"omitempty,min=1,max=120"`
	PhotoOnly          bool                       `json:"photoOnly"`
	CustomScript       bool                       `json:"customScript"`
	SourceImageURL     string                     `json:"sourceImageUrl" validate:"omitempty,url"`
	ReferenceImageURLs []string                   `json:"referenceImageUrls" validate:"omitempty,dive,url"`
	VideoPrompts       *project.VideoPromptPayload `json:"videoPrompts"`
	SegmentPlan        []project.SegmentPlanEntry `json:"segmentPlan"`
}

// Creator persists new projects. It never talks to the provider: task
// submission is left to the reconciler so that a crash between payment and
// submission is always recoverable.
type Creator struct {
	store    project.Store
	ledger   credit.Ledger
	cfg      Config
	validate *validator.Validate
	logger   *slog.Logger
}

// NewCreator creates the project creation service.
func NewCreator(store project.Store, ledger credit.Ledger, cfg Config, logger *slog.Logger) *Creator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Creator{
		store:    store,
		ledger:   ledger,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Create validates the request, reserves credits for premium plans, and
// persists the project in its initial step. If anything fails after the
// deduction the reserved credits are refunded before the error is returned.
func (c *Creator) Create(ctx context.Context, req CreateRequest) (*project.Project, error) {
	if err := c.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	applyRequestDefaults(&req, c.cfg)

	p, err := buildProject(req, c.cfg)
	if err != nil {
		return nil, err
	}

	comp := credit.NewCompensations(c.logger)

	if p.Plan == project.PlanPremium {
		cost := c.cfg.PremiumCreditCost
		ok, err := c.ledger.Check(ctx, p.UserID, cost)
		if err != nil {
			return nil, fmt.Errorf("workflow: check credits: %w", err)
		}
		if !ok {
			return nil, credit.ErrInsufficientCredits
		}
		if err := c.ledger.Deduct(ctx, p.UserID, cost, "video generation", p.ID); err != nil {
			return nil, fmt.Errorf("workflow: reserve credits: %w", err)
		}
		p.CreditsCharged = cost
		comp.Add("refund credits", credit.RefundAction(c.ledger, p.UserID, cost, p.ID))
	}

	if err := c.store.CreateProject(ctx, p); err != nil {
		comp.Run(ctx)
		return nil, fmt.Errorf("workflow: create project: %w", err)
	}

	c.logger.Info("project created",
		slog.String("project_id", p.ID),
		slog.String("user_id", p.UserID),
		slog.String("plan", string(p.Plan)),
		slog.String("initial_step", string(p.CurrentStep)),
		slog.Bool("segmented", p.IsSegmented),
		slog.Int("segments", p.SegmentCount),
	)
	return p, nil
}

// applyRequestDefaults fills the optional request fields.
func applyRequestDefaults(req *CreateRequest, cfg Config) {
	if req.Plan == "" {
		req.Plan = string(project.PlanBasic)
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "9:16"
	}
	if req.DurationSeconds == 0 {
		req.DurationSeconds = cfg.SegmentSeconds
	}
}

// buildProject maps a validated request into a persisted-ready project row.
func buildProject(req CreateRequest, cfg Config) (*project.Project, error) {
	p := project.NewProject(req.UserID)
	p.Plan = project.Plan(req.Plan)
	p.Model = req.Model
	p.AspectRatio = req.AspectRatio
	p.DurationSeconds = req.DurationSeconds
	p.PhotoOnly = req.PhotoOnly
	p.CustomScript = req.CustomScript
	p.SourceImageURL = req.SourceImageURL

	// A request longer than one provider clip fans out into segments.
	// Photo-only projects never need video segments.
	if !req.PhotoOnly && req.DurationSeconds > cfg.SegmentSeconds {
		p.IsSegmented = true
		p.SegmentCount = SegmentCount(req.DurationSeconds, cfg.SegmentSeconds)
	}

	if len(req.ReferenceImageURLs) > 0 {
		encoded, err := json.Marshal(req.ReferenceImageURLs)
		if err != nil {
			return nil, fmt.Errorf("workflow: encode reference images: %w", err)
		}
		p.ReferenceImageURLs = datatypes.JSON(encoded)
	}

	if req.VideoPrompts != nil {
		encoded, err := json.Marshal(req.VideoPrompts)
		if err != nil {
			return nil, fmt.Errorf("workflow: encode video prompts: %w", err)
		}
		p.VideoPrompts = datatypes.JSON(encoded)
	}

	if len(req.SegmentPlan) > 0 {
		encoded, err := json.Marshal(struct {
			Segments []project.SegmentPlanEntry `json:"segments"`
		}{Segments: req.SegmentPlan})
		if err != nil {
			return nil, fmt.Errorf("workflow: encode segment plan: %w", err)
		}
		p.SegmentPlan = datatypes.JSON(encoded)
	}

	p.CurrentStep = p.InitialStep()
	return p, nil
}
