package transform

import (
	"errors"
	"strings"

	"github.com/maauso/mediaforge/internal/genai"
	"github.com/maauso/mediaforge/internal/media"
)

// Static errors for orchestration.
var (
	// ErrMissingInput is returned when no file is selected or the prompt is empty.
	ErrMissingInput = errors.New("transform: missing file or prompt")
	// ErrUnsupportedMediaKind is returned for files that are neither image nor video.
	ErrUnsupportedMediaKind = errors.New("transform: unsupported media kind")
	// ErrAttemptInFlight is returned when a transformation is started while another runs.
	ErrAttemptInFlight = errors.New("transform: a transformation is already in progress")
	// ErrNoResult is returned when no transformed media is available.
	ErrNoResult = errors.New("transform: no transformed media available")
)

// User-facing messages.
const (
	MsgMissingInput     = "Please select a file and enter a prompt."
	MsgUnsupportedMedia = "Unsupported file type. Please upload an image or video."
	MsgUnknown          = "An unknown error occurred."
)

// Kind classifies a failure for diagnostics. Every kind surfaces to the
// user the same way; the distinction only feeds logs.
type Kind string

// Failure kinds.
const (
	KindNone                 Kind = ""
	KindMissingInput         Kind = "MissingInput"
	KindUnsupportedMediaKind Kind = "UnsupportedMediaKind"
	KindReadError            Kind = "ReadError"
	KindDecodeError          Kind = "DecodeError"
	KindNoImageReturned      Kind = "NoImageReturned"
	KindNoVideoReturned      Kind = "NoVideoReturned"
	KindDownloadError        Kind = "DownloadError"
	KindUnknown              Kind = "Unknown"
)

// Classify maps err onto the failure taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMissingInput):
		return KindMissingInput
	case errors.Is(err, ErrUnsupportedMediaKind):
		return KindUnsupportedMediaKind
	case errors.Is(err, media.ErrRead):
		return KindReadError
	case errors.Is(err, media.ErrDecode):
		return KindDecodeError
	case errors.Is(err, genai.ErrNoImageReturned):
		return KindNoImageReturned
	case errors.Is(err, genai.ErrNoVideoReturned):
		return KindNoVideoReturned
	case errors.Is(err, genai.ErrDownloadFailed):
		return KindDownloadError
	default:
		return KindUnknown
	}
}

// UserMessage returns the single plain-text message shown for err.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingInput):
		return MsgMissingInput
	case errors.Is(err, ErrUnsupportedMediaKind):
		return MsgUnsupportedMedia
	}
	// Only the first line is shown; anything after it is diagnostics.
	msg, _, _ := strings.Cut(err.Error(), "\n")
	if msg = strings.TrimSpace(msg); msg != "" {
		return msg
	}
	return MsgUnknown
}
