// Package genai wraps the Gemini SDK for synchronous image transformation
// and long-running video generation with caller-driven polling.
package genai

import (
	"fmt"
	"strings"

	genaisdk "google.golang.org/genai"

	"github.com/maauso/mediaforge/internal/media"
)

// Quality is the output-resolution preset requested for video generation.
type Quality string

// Supported quality tiers.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// DefaultQuality is the tier selected until the user picks another.
const DefaultQuality = QualityMedium

// Qualities returns every tier in display order.
func Qualities() []Quality {
	return []Quality{QualityLow, QualityMedium, QualityHigh}
}

// IsValid returns true if q is one of the supported tiers.
func (q Quality) IsValid() bool {
	switch q {
	case QualityLow, QualityMedium, QualityHigh:
		return true
	default:
		return false
	}
}

// Resolution returns the nominal output resolution of the tier.
func (q Quality) Resolution() string {
	switch q {
	case QualityLow:
		return "480p"
	case QualityHigh:
		return "1080p"
	default:
		return "720p"
	}
}

// requestResolution returns the resolution parameter sent for the tier, or
// "" to leave it to the model. Veo accepts only 720p and 1080p.
func (q Quality) requestResolution() string {
	switch q {
	case QualityMedium:
		return "720p"
	case QualityHigh:
		return "1080p"
	default:
		return ""
	}
}

// Label returns the human-readable name of the tier.
func (q Quality) Label() string {
	switch q {
	case QualityLow:
		return "480p (SD)"
	case QualityHigh:
		return "1080p (FHD)"
	default:
		return "720p (HD)"
	}
}

// ParseQuality accepts a tier name or its resolution ("480p", "720p", "1080p").
func ParseQuality(s string) (Quality, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, q := range Qualities() {
		if v == string(q) || v == q.Resolution() {
			return q, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// JobState is the lifecycle of one video-generation job.
type JobState string

// Video job states.
const (
	JobSubmitted JobState = "SUBMITTED"
	JobPolling   JobState = "POLLING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
)

// VideoRequest contains the parameters for a video generation job.
type VideoRequest struct {
	// Prompt is the natural-language instruction.
	Prompt string
	// Quality is the requested resolution tier.
	Quality Quality
	// Reference is an optional still used to bias style and composition.
	Reference media.Payload
}

// Progress is reported once per poll iteration.
type Progress struct {
	// Poll is the 1-based number of the status call just completed.
	Poll int
	// State is the job state after the call.
	State JobState
	// Operation is the service-side name of the job.
	Operation string
}

// ProgressFunc receives poll notifications. It must not block.
type ProgressFunc func(Progress)

// Operation is an opaque handle to a long-running job on the service.
// Only its completion flag and name are visible to callers.
type Operation struct {
	op *genaisdk.GenerateVideosOperation
}

func newOperation(op *genaisdk.GenerateVideosOperation) *Operation {
	return &Operation{op: op}
}

// Name returns the service-side operation name.
func (o *Operation) Name() string {
	return o.op.Name
}

// Done reports whether the service has finished the job.
func (o *Operation) Done() bool {
	return o.op.Done
}
