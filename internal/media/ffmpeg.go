package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// lastFrameMargin is subtracted from the duration of clips shorter than
// FrameOffset so the seek lands on the final decodable frame.
const lastFrameMargin = 50 * time.Millisecond

// FFmpegExtractor implements FrameExtractor using the ffmpeg and ffprobe CLIs.
type FFmpegExtractor struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
	scratch     ScratchSpace
	logger      *slog.Logger
}

// ExtractorOption configures an FFmpegExtractor.
type ExtractorOption func(*FFmpegExtractor)

// WithExtractorLogger sets the logger that receives ffmpeg diagnostics.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(p *FFmpegExtractor) {
		p.logger = logger
	}
}

// NewFFmpegExtractor creates a new FFmpegExtractor.
// Empty paths default to "ffmpeg" and "ffprobe" (found via PATH).
func NewFFmpegExtractor(ffmpegPath, ffprobePath string, scratch ScratchSpace, opts ...ExtractorOption) *FFmpegExtractor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	p := &FFmpegExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		scratch:     scratch,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Compile-time check that FFmpegExtractor implements FrameExtractor.
var _ FrameExtractor = (*FFmpegExtractor)(nil)

// ExtractFrame spools the video to scratch space, seeks to FrameOffset and
// encodes that frame as a JPEG at native resolution. Clips shorter than
// FrameOffset yield their last frame. Scratch files are removed on every path.
// Returned errors stay short; tool output goes to the logger.
func (p *FFmpegExtractor) ExtractFrame(ctx context.Context, asset *Asset) (Payload, string, error) {
	rc, err := asset.Open()
	if err != nil {
		return "", "", fmt.Errorf("%w: open video: %w", ErrDecode, err)
	}
	defer func() { _ = rc.Close() }()

	src, err := p.scratch.SaveTemp(ctx, "frame_src", rc)
	if err != nil {
		return "", "", fmt.Errorf("%w: spool video: %w", ErrDecode, err)
	}
	defer func() {
		_ = p.scratch.CleanupTemp(context.WithoutCancel(ctx), []string{src})
	}()

	duration, err := p.probeDuration(ctx, src)
	if err != nil {
		return "", "", p.decodeError(err)
	}

	pos := seekPosition(duration)
	frame, err := p.grabFrame(ctx, src, pos)
	if err != nil {
		return "", "", p.decodeError(err)
	}
	if len(frame) == 0 && pos > 0 {
		// The seek overshot a clip whose length was not reported.
		p.logger.Debug("no frame at seek position, retrying from start",
			slog.Duration("position", pos),
			slog.Duration("probed_duration", duration),
		)
		frame, err = p.grabFrame(ctx, src, 0)
		if err != nil {
			return "", "", p.decodeError(err)
		}
	}
	if len(frame) == 0 {
		return "", "", fmt.Errorf("%w: no frame decoded", ErrDecode)
	}

	return NewPayload(FrameMIMEType, frame), FrameMIMEType, nil
}

// decodeError logs tool diagnostics and returns a one-line ErrDecode.
func (p *FFmpegExtractor) decodeError(err error) error {
	var ffErr *FFmpegError
	if errors.As(err, &ffErr) {
		p.logger.Warn("frame extraction failed",
			slog.String("error", ffErr.Err.Error()),
			slog.Any("args", ffErr.Args),
			slog.String("stderr", ffErr.Stderr),
		)
		return fmt.Errorf("%w: ffmpeg could not extract a frame: %w", ErrDecode, ffErr.Err)
	}
	var probeErr *probeError
	if errors.As(err, &probeErr) {
		p.logger.Warn("video probe failed",
			slog.String("error", probeErr.Err.Error()),
			slog.String("stderr", probeErr.Stderr),
		)
		return fmt.Errorf("%w: %w: %w", ErrDecode, ErrFFprobeExecution, probeErr.Err)
	}
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

// seekPosition clamps FrameOffset to the clip length. A zero duration means unknown.
func seekPosition(duration time.Duration) time.Duration {
	if duration <= 0 || duration > FrameOffset {
		return FrameOffset
	}
	pos := duration - lastFrameMargin
	if pos < 0 {
		return 0
	}
	return pos
}

// jpegQScale maps a 0..1 quality factor onto ffmpeg's mjpeg qscale (2 best, 31 worst).
func jpegQScale(quality float64) int {
	if quality > 1 {
		quality = 1
	}
	if quality < 0 {
		quality = 0
	}
	return int(math.Round(2 + (1-quality)*29))
}

// grabFrame writes one JPEG frame at pos to stdout and returns it.
func (p *FFmpegExtractor) grabFrame(ctx context.Context, src string, pos time.Duration) ([]byte, error) {
	args := []string{
		"-v", "error",
		"-ss", strconv.FormatFloat(pos.Seconds(), 'f', 3, 64), // Seek before input for fast seeking
		"-i", src,
		"-frames:v", "1", // Single frame
		"-an",
		"-q:v", strconv.Itoa(jpegQScale(FrameQuality)),
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"pipe:1",
	}
	return p.runFFmpeg(ctx, args)
}

// runFFmpeg executes ffmpeg with the given arguments and returns stdout.
// The returned error contains stderr output if the command fails.
func (p *FFmpegExtractor) runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

// probeDuration returns the container duration. Streams that do not report
// one (some webm files) yield zero rather than an error.
func (p *FFmpegExtractor) probeDuration(ctx context.Context, path string) (time.Duration, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return 0, &probeError{Stderr: stderr.String(), Err: err}
	}

	raw := strings.TrimSpace(stdout.String())
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, nil
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// ErrFFprobeExecution is returned when the ffprobe command fails.
var ErrFFprobeExecution = errors.New("ffprobe execution failed")

// FFmpegError represents an error from running ffmpeg. Args and Stderr are
// kept for logging and are not part of the message.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v", e.Err)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// probeError carries ffprobe stderr for logging.
type probeError struct {
	Stderr string
	Err    error
}

func (e *probeError) Error() string {
	return fmt.Sprintf("%s: %v", ErrFFprobeExecution.Error(), e.Err)
}

func (e *probeError) Unwrap() []error {
	return []error{ErrFFprobeExecution, e.Err}
}
