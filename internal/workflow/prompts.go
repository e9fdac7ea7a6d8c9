package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adforge/adforge-api/internal/project"
)

// composeVideoPrompt renders the creative payload into one prompt string for
// video submission: scene description first, then dialogue, camera
// directives, and the language tag.
func composeVideoPrompt(p project.VideoPromptPayload) string {
	var parts []string
	if p.Scene != "" {
		parts = append(parts, p.Scene)
	}
	if p.Dialogue != "" {
		parts = append(parts, "Dialogue: "+p.Dialogue)
	}
	if p.CameraDirectives != "" {
		parts = append(parts, "Camera: "+p.CameraDirectives)
	}
	if p.Language != "" {
		parts = append(parts, "Language: "+p.Language)
	}
	return strings.Join(parts, "\n")
}

// segmentPrompts produces one prompt per segment. Entries come from the
// multi-segment creative plan when it covers the segment count; otherwise a
// generic continuation prompt is synthesized from the scene description so a
// short or absent plan never blocks the fan-out.
func segmentPrompts(p *project.Project, count int) ([]string, error) {
	plan, err := p.DecodeSegmentPlan()
	if err != nil {
		return nil, err
	}

	base, err := p.DecodeVideoPrompts()
	if err != nil {
		return nil, err
	}

	prompts := make([]string, count)
	for i := 0; i < count; i++ {
		if i < len(plan) && plan[i].Prompt != "" {
			prompts[i] = plan[i].Prompt
			continue
		}
		prompts[i] = synthesizeSegmentPrompt(base, i, count)
	}
	return prompts, nil
}

// synthesizeSegmentPrompt builds a generic per-segment prompt when the plan
// does not provide one.
func synthesizeSegmentPrompt(base project.VideoPromptPayload, index, total int) string {
	scene := base.Scene
	if scene == "" {
		scene = "the product advertisement"
	}
	switch {
	case index == 0:
		return fmt.Sprintf("Opening shot (part 1 of %d): %s", total, scene)
	case index == total-1:
		return fmt.Sprintf("Closing shot (part %d of %d): %s", index+1, total, scene)
	default:
		return fmt.Sprintf("Continuation (part %d of %d): %s", index+1, total, scene)
	}
}

// firstFramePrompt resolves the keyframe prompt for a segment, preferring the
// plan's dedicated frame prompt over the segment's motion prompt.
func firstFramePrompt(p *project.Project, index int, fallback string) string {
	plan, err := p.DecodeSegmentPlan()
	if err == nil && index < len(plan) && plan[index].FirstFramePrompt != "" {
		return plan[index].FirstFramePrompt
	}
	return fallback
}

// decodeStringList parses a JSON array-of-strings column.
func decodeStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return nil, fmt.Errorf("workflow: decode url list: %w", err)
	}
	return urls, nil
}
