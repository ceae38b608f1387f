package media

import (
	"context"
	"io"
	"time"
)

const (
	// FrameOffset is where the reference frame is taken, skipping black leading frames.
	FrameOffset = time.Second
	// FrameMIMEType is the MIME type of every extracted frame.
	FrameMIMEType = "image/jpeg"
	// FrameQuality is the JPEG quality factor of extracted frames (0..1].
	FrameQuality = 0.9
)

// FrameExtractor decodes a single still frame from a video asset.
type FrameExtractor interface {
	// ExtractFrame returns the frame at FrameOffset as a JPEG data URI along
	// with its MIME type, which is always FrameMIMEType.
	ExtractFrame(ctx context.Context, asset *Asset) (Payload, string, error)
}

// ScratchSpace holds temporary files needed while decoding.
// storage.LocalStorage satisfies it.
type ScratchSpace interface {
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)
	CleanupTemp(ctx context.Context, paths []string) error
}
