package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/adforge/adforge-api/internal/provider/fal"
	"github.com/adforge/adforge-api/internal/provider/kie"
)

// ErrUnknownTaskKind is returned when CheckTask is called with an
// unrecognized task kind.
var ErrUnknownTaskKind = errors.New("provider: unknown task kind")

// HTTPGateway adapts the KIE and fal clients to the Gateway interface.
type HTTPGateway struct {
	kie kie.Client
	fal fal.Client
}

// NewHTTPGateway creates a Gateway backed by the given provider clients.
func NewHTTPGateway(kieClient kie.Client, falClient fal.Client) *HTTPGateway {
	return &HTTPGateway{
		kie: kieClient,
		fal: falClient,
	}
}

// Compile-time check that HTTPGateway implements Gateway.
var _ Gateway = (*HTTPGateway)(nil)

// SubmitImage starts a keyframe/cover generation task.
func (g *HTTPGateway) SubmitImage(ctx context.Context, req ImageRequest) (string, error) {
	taskID, err := g.kie.CreateImageTask(ctx, kie.ImageTaskRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		ImageURLs:   req.ImageURLs,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		return "", g.wrapKIEError("submit image", err)
	}
	return taskID, nil
}

// SubmitVideo starts a clip generation task. VEO models use the dedicated
// generate endpoint; other model families go through the generic jobs endpoint.
func (g *HTTPGateway) SubmitVideo(ctx context.Context, req VideoRequest) (string, error) {
	var taskID string
	var err error

	if strings.HasPrefix(req.Model, "veo") {
		taskID, err = g.kie.GenerateVideo(ctx, kie.VideoGenerateRequest{
			Prompt:            req.Prompt,
			Model:             req.Model,
			AspectRatio:       req.AspectRatio,
			ImageURLs:         req.ImageURLs,
			EnableAudio:       req.EnableAudio,
			GenerateVoiceover: req.GenerateVoiceover,
			IncludeDialogue:   req.IncludeDialogue,
		})
	} else {
		taskID, err = g.kie.CreateVideoJob(ctx, kie.VideoJobRequest{
			Model:       req.Model,
			Prompt:      req.Prompt,
			ImageURLs:   req.ImageURLs,
			AspectRatio: req.AspectRatio,
		})
	}

	if err != nil {
		return "", g.wrapKIEError("submit video", err)
	}
	return taskID, nil
}

// SubmitMerge starts a merge task over already-generated clips.
func (g *HTTPGateway) SubmitMerge(ctx context.Context, req MergeRequest) (string, error) {
	taskID, err := g.fal.SubmitMerge(ctx, req.ClipURLs, req.AspectRatio)
	if err != nil {
		if fal.IsTransport(err) {
			return "", fmt.Errorf("%w: submit merge: %w", ErrTransport, err)
		}
		return "", fmt.Errorf("gateway: submit merge: %w", err)
	}
	return taskID, nil
}

// CheckTask polls an outstanding task of the given kind and normalizes the
// provider's answer.
func (g *HTTPGateway) CheckTask(ctx context.Context, taskID string, kind TaskKind) (StatusResult, error) {
	switch kind {
	case TaskImage, TaskVideo:
		return g.checkKIETask(ctx, taskID)
	case TaskMerge:
		return g.checkMerge(ctx, taskID)
	default:
		return StatusResult{}, fmt.Errorf("%w: %q", ErrUnknownTaskKind, kind)
	}
}

// checkKIETask polls a generation task record and maps it to the normalized shape.
func (g *HTTPGateway) checkKIETask(ctx context.Context, taskID string) (StatusResult, error) {
	rec, err := g.kie.RecordInfo(ctx, taskID)
	if err != nil {
		return StatusResult{}, g.wrapKIEError("check task", err)
	}

	switch {
	case rec.Succeeded():
		url, ok := kie.FirstResultURL(rec)
		if !ok {
			return StatusResult{
				Status:       StatusFailed,
				ErrorMessage: "task reported success without a result URL",
			}, nil
		}
		return StatusResult{Status: StatusSuccess, ResultURL: url}, nil

	case rec.Failed():
		msg := rec.FailMsg
		if msg == "" {
			msg = fmt.Sprintf("generation failed (code %s)", rec.FailCode)
		}
		return StatusResult{
			Status:       StatusFailed,
			ErrorMessage: msg,
			Retryable:    rec.Retryable(),
		}, nil

	default:
		return StatusResult{Status: StatusGenerating}, nil
	}
}

// checkMerge polls a merge request. A NETWORK_ERROR answer from the fal client
// is surfaced as a transport error so the reconciler defers to the next sweep.
func (g *HTTPGateway) checkMerge(ctx context.Context, taskID string) (StatusResult, error) {
	result, err := g.fal.CheckMerge(ctx, taskID)
	if err != nil {
		return StatusResult{}, fmt.Errorf("gateway: check merge: %w", err)
	}

	switch result.Status {
	case fal.StatusCompleted:
		return StatusResult{Status: StatusSuccess, ResultURL: result.ResultURL}, nil
	case fal.StatusFailed:
		return StatusResult{Status: StatusFailed, ErrorMessage: result.Error}, nil
	case fal.StatusNetworkError:
		return StatusResult{}, fmt.Errorf("%w: merge status unavailable", ErrTransport)
	default:
		return StatusResult{Status: StatusGenerating}, nil
	}
}

// wrapKIEError translates KIE transport failures into the gateway transport
// sentinel; all other errors pass through with context.
func (g *HTTPGateway) wrapKIEError(op string, err error) error {
	if errors.Is(err, kie.ErrTransport) {
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
	return fmt.Errorf("gateway: %s: %w", op, err)
}
