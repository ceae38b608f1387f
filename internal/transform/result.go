package transform

import (
	"github.com/maauso/mediaforge/internal/media"
)

// Download filenames per media kind.
const (
	ImageFilename = "transformed_image.png"
	VideoFilename = "transformed_video.mp4"
)

// defaultVideoMIMEType is used when downloaded bytes cannot be sniffed as video.
const defaultVideoMIMEType = "video/mp4"

// Result is the transformed media produced by a successful attempt.
type Result struct {
	// AttemptID is the attempt that produced the result.
	AttemptID string
	// Kind is the media kind of the result.
	Kind media.Kind
	// MIMEType is the content type reported by the service or sniffed from the bytes.
	MIMEType string
	// Payload is the data URI of an image result. Empty for video.
	Payload media.Payload
	// Data holds the raw result bytes.
	Data []byte
	// Filename is the suggested download name.
	Filename string
	// ExportURL is set when the result was copied to object storage.
	ExportURL string
}

// Bytes returns the raw result content.
func (r *Result) Bytes() []byte {
	return r.Data
}

// Size returns the byte length of the result.
func (r *Result) Size() int {
	return len(r.Data)
}

// exportKey is the object key used when exporting the result.
func (r *Result) exportKey() string {
	return "results/" + r.AttemptID + "/" + r.Filename
}

func filenameFor(kind media.Kind) string {
	if kind == media.KindVideo {
		return VideoFilename
	}
	return ImageFilename
}

func videoMIMEType(data []byte) string {
	if mimeType := media.DetectMIMEType(data); media.KindOf(mimeType) == media.KindVideo {
		return mimeType
	}
	return defaultVideoMIMEType
}
