// Package server provides the HTTP server for the media transformation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

// PromptRequest is the HTTP request body for updating the prompt.
type PromptRequest struct {
	// Prompt is the natural-language instruction. It may be empty.
	Prompt string `json:"prompt" validate:"max=4000"`
}

// OptionsRequest is the HTTP request body for updating video options.
type OptionsRequest struct {
	// UseFrameAsReference sends a still from the video as style reference.
	UseFrameAsReference *bool `json:"use_frame_as_reference" validate:"required"`
	// Quality is the tier name or its resolution. Empty selects the default.
	Quality string `json:"quality" validate:"omitempty,oneof=low medium high 480p 720p 1080p"`
}

// OptionsResponse describes the video options of the session.
type OptionsResponse struct {
	UseFrameAsReference bool   `json:"use_frame_as_reference"`
	Quality             string `json:"quality"`
}

// FileResponse describes the active file.
type FileResponse struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Kind     string `json:"kind"`
}

// ResultResponse describes the transformed media.
type ResultResponse struct {
	Kind     string `json:"kind"`
	MIMEType string `json:"mime_type"`
	Filename string `json:"filename"`
	Size     int    `json:"size"`
	// DownloadURL is the path serving the result bytes.
	DownloadURL string `json:"download_url"`
	// ExportURL is the object storage URL if the result was exported.
	ExportURL string `json:"export_url,omitempty"`
}

// SessionResponse is the HTTP response describing the session state.
type SessionResponse struct {
	// Phase is the stage of the current attempt.
	Phase string `json:"phase"`
	// AttemptID identifies the current attempt, if any.
	AttemptID string `json:"attempt_id,omitempty"`
	// Prompt is the instruction used by the next attempt.
	Prompt string `json:"prompt"`
	// Options are the video settings.
	Options OptionsResponse `json:"options"`
	// File is the active file, if any.
	File *FileResponse `json:"file,omitempty"`
	// Error is the user-facing failure message of the last attempt.
	Error string `json:"error,omitempty"`
	// LoadingMessage is the progress message while an attempt runs.
	LoadingMessage string `json:"loading_message,omitempty"`
	// Busy is true while an attempt is in flight.
	Busy bool `json:"busy"`
	// Polls is the number of status calls made for a video job.
	Polls int `json:"polls,omitempty"`
	// Result is the transformed media, if any.
	Result *ResultResponse `json:"result,omitempty"`
}

// TransformResponse is the HTTP response after starting a transformation.
type TransformResponse struct {
	// AttemptID is the unique identifier for the started attempt.
	AttemptID string `json:"attempt_id"`
	// Phase is the attempt phase when the response was written.
	Phase string `json:"phase"`
}

// QualityResponse describes one selectable quality tier.
type QualityResponse struct {
	Value      string `json:"value"`
	Label      string `json:"label"`
	Resolution string `json:"resolution"`
	Default    bool   `json:"default"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
