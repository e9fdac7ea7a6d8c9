package kie

import "strings"

// ImageTaskRequest contains parameters for an image generation task.
type ImageTaskRequest struct {
	// Model is the KIE model identifier, e.g. "google/nano-banana-edit".
	Model string
	// Prompt is the creative prompt.
	Prompt string
	// ImageURLs are reference image URLs. May be empty for text-only generation.
	ImageURLs []string
	// AspectRatio is the target aspect ratio.
	AspectRatio string
}

// VideoGenerateRequest is the VEO-style video generation request body.
type VideoGenerateRequest struct {
	Prompt            string   `json:"prompt"`
	Model             string   `json:"model"`
	AspectRatio       string   `json:"aspectRatio"`
	ImageURLs         []string `json:"imageUrls"`
	EnableAudio       bool     `json:"enableAudio"`
	GenerateVoiceover bool     `json:"generateVoiceover"`
	IncludeDialogue   bool     `json:"includeDialogue"`
}

// VideoJobRequest contains parameters for a jobs-endpoint style video task.
type VideoJobRequest struct {
	Model       string
	Prompt      string
	ImageURLs   []string
	AspectRatio string
}

// createTaskRequest is the generic jobs-endpoint request envelope.
type createTaskRequest struct {
	Model string          `json:"model"`
	Input createTaskInput `json:"input"`
}

type createTaskInput struct {
	Prompt      string   `json:"prompt"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	AspectRatio string   `json:"aspect_ratio,omitempty"`
	OutputFmt   string   `json:"output_format,omitempty"`
}

// submitResponse is the envelope returned by submission endpoints.
type submitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// recordInfoResponse is the envelope returned by the recordInfo endpoint.
type recordInfoResponse struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data TaskRecord `json:"data"`
}

// TaskRecord is the raw task record returned by recordInfo. Result URLs can
// appear in three different places depending on the model family; use
// FirstResultURL to resolve them in precedence order.
type TaskRecord struct {
	// TaskID echoes the polled task id.
	TaskID string `json:"taskId"`
	// State is a textual state ("success"/"failed", case varies by model).
	State string `json:"state"`
	// SuccessFlag is the numeric state: 1 success, 2 or 3 failed, 0 generating.
	SuccessFlag int `json:"successFlag"`
	// FailCode is the provider failure code; "500" marks a retryable failure.
	FailCode string `json:"failCode"`
	// FailMsg is the human-readable failure reason.
	FailMsg string `json:"failMsg"`
	// ResultJSON is a JSON-encoded result blob holding resultUrls.
	ResultJSON string `json:"resultJson"`
	// Response is a nested result object used by some model families.
	Response *RecordResponse `json:"response"`
	// ResultURLs is the flat result list used by the remaining families.
	ResultURLs []string `json:"resultUrls"`
}

// RecordResponse is the nested response blob of a task record.
type RecordResponse struct {
	ResultURLs []string `json:"resultUrls"`
}

// RetryableFailCode is the provider failure code that marks a generation
// failure as transient. Any other code is a terminal rejection.
const RetryableFailCode = "500"

// Succeeded reports whether the record is in a terminal success state.
func (r TaskRecord) Succeeded() bool {
	switch strings.ToLower(r.State) {
	case "success":
		return true
	case "failed", "fail":
		return false
	}
	return r.SuccessFlag == 1
}

// Failed reports whether the record is in a terminal failure state.
func (r TaskRecord) Failed() bool {
	switch strings.ToLower(r.State) {
	case "failed", "fail":
		return true
	case "success":
		return false
	}
	return r.SuccessFlag == 2 || r.SuccessFlag == 3
}

// Retryable reports whether a failed record may be resubmitted.
func (r TaskRecord) Retryable() bool {
	return r.FailCode == RetryableFailCode
}
