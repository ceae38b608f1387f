package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/maauso/mediaforge/internal/genai"
	"github.com/maauso/mediaforge/internal/media"
)

// DefaultPrompt pre-fills the instruction of a new session.
const DefaultPrompt = "Make this cinematic and add a dramatic flair."

// Transformer performs the generative calls.
type Transformer interface {
	// TransformImage returns the transformed image as a data URI.
	TransformImage(ctx context.Context, payload media.Payload, mimeType, prompt string) (media.Payload, error)
	// TransformVideo runs a video job to completion and returns the video bytes.
	TransformVideo(ctx context.Context, req genai.VideoRequest, progress genai.ProgressFunc) ([]byte, error)
}

// Compile-time check that genai.Client implements Transformer.
var _ Transformer = (*genai.Client)(nil)

// Exporter copies finished results to external storage.
type Exporter interface {
	Export(ctx context.Context, key, contentType string, data io.Reader) (string, error)
}

// Options are the per-session video settings.
type Options struct {
	// UseFrameAsReference sends a still from the input video as a style reference.
	UseFrameAsReference bool
	// Quality is the requested output tier.
	Quality genai.Quality
}

// DefaultOptions returns the settings restored on reset.
func DefaultOptions() Options {
	return Options{
		UseFrameAsReference: true,
		Quality:             genai.DefaultQuality,
	}
}

// FileInfo describes the active media asset.
type FileInfo struct {
	Name     string
	MIMEType string
	Size     int64
	Kind     media.Kind
}

// ResultInfo describes the transformed media without its content.
type ResultInfo struct {
	Kind      media.Kind
	MIMEType  string
	Filename  string
	Size      int
	ExportURL string
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	Phase     Phase
	AttemptID string
	Prompt    string
	Options   Options
	File      *FileInfo
	Error     string
	ErrorKind Kind
	Loading   string
	Busy      bool
	Polls     int
	Result    *ResultInfo
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithExporter copies every successful result to e.
func WithExporter(e Exporter) SessionOption {
	return func(s *Session) {
		s.exporter = e
	}
}

// WithPrompt sets the initial prompt.
func WithPrompt(prompt string) SessionOption {
	return func(s *Session) {
		s.prompt = prompt
	}
}

// WithStatusMessages replaces the polling message rotation.
func WithStatusMessages(messages []string) SessionOption {
	return func(s *Session) {
		if len(messages) > 0 {
			s.messages = messages
		}
	}
}

// Session owns the active asset, prompt, options and result of one user
// and runs at most one transformation attempt at a time.
type Session struct {
	transformer Transformer
	extractor   media.FrameExtractor
	exporter    Exporter
	logger      *slog.Logger
	messages    []string

	mu         sync.Mutex
	asset      *media.Asset
	prompt     string
	options    Options
	attempt    *Attempt
	result     *Result
	loading    string
	busy       bool
	generation uint64
	cancel     context.CancelFunc

	wg sync.WaitGroup
}

// NewSession creates a Session in the Idle phase.
func NewSession(transformer Transformer, extractor media.FrameExtractor, logger *slog.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		transformer: transformer,
		extractor:   extractor,
		logger:      logger,
		messages:    DefaultStatusMessages,
		prompt:      DefaultPrompt,
		options:     DefaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run carries everything one attempt needs, captured at start.
type run struct {
	ctx     context.Context
	cancel  context.CancelFunc
	gen     uint64
	attempt *Attempt
	asset   *media.Asset
	prompt  string
	options Options
	logger  *slog.Logger
}

// SelectFile resets the session and makes asset the active file.
func (s *Session) SelectFile(asset *media.Asset) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	s.asset = asset

	s.logger.Info("file selected",
		slog.String("name", asset.Name),
		slog.String("mime_type", asset.MIMEType),
		slog.Int64("size", asset.Size),
	)
}

// SetPrompt replaces the instruction used by the next attempt.
func (s *Session) SetPrompt(prompt string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = prompt
}

// SetOptions replaces the video settings. An empty quality selects the default.
func (s *Session) SetOptions(opts Options) error {
	if opts.Quality == "" {
		opts.Quality = genai.DefaultQuality
	}
	if !opts.Quality.IsValid() {
		return fmt.Errorf("%w: %q", genai.ErrInvalidQuality, opts.Quality)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.options = opts
	return nil
}

// Reset discards the active file, result and error and restores default
// options. The prompt is kept. An attempt in flight is cancelled and its
// outcome ignored.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		s.logger.Info("detaching in-flight attempt", slog.String("attempt_id", s.attempt.ID))
	}
	s.resetLocked()
}

func (s *Session) resetLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
	s.asset = nil
	s.attempt = nil
	s.result = nil
	s.loading = ""
	s.busy = false
	s.options = DefaultOptions()
}

// Snapshot returns a copy of the observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Phase:   PhaseIdle,
		Prompt:  s.prompt,
		Options: s.options,
		Loading: s.loading,
		Busy:    s.busy,
	}
	if s.asset != nil {
		snap.File = &FileInfo{
			Name:     s.asset.Name,
			MIMEType: s.asset.MIMEType,
			Size:     s.asset.Size,
			Kind:     s.asset.Kind(),
		}
	}
	if s.attempt != nil {
		a := s.attempt.Clone()
		snap.Phase = a.Phase
		snap.AttemptID = a.ID
		snap.Error = a.Error
		snap.ErrorKind = a.ErrorKind
		snap.Polls = a.Polls
	}
	if s.result != nil {
		snap.Result = &ResultInfo{
			Kind:      s.result.Kind,
			MIMEType:  s.result.MIMEType,
			Filename:  s.result.Filename,
			Size:      s.result.Size(),
			ExportURL: s.result.ExportURL,
		}
	}
	return snap
}

// Result returns the transformed media of the last successful attempt.
// Returns ErrNoResult if there is none.
func (s *Session) Result() (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return nil, ErrNoResult
	}
	return s.result, nil
}

// Start validates the inputs and runs the attempt in the background.
// Validation failures are recorded and returned immediately. The attempt
// outlives ctx; it stops only on Reset or a new file selection.
func (s *Session) Start(ctx context.Context) (*Attempt, error) {
	r, err := s.prepare(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.run(r)
	}()

	return r.attempt.Clone(), nil
}

// Shutdown cancels the attempt in flight and waits for background
// attempts to return, or for ctx to expire.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for attempts: %w", ctx.Err())
	}
}

// Transform validates the inputs and runs the attempt to completion.
func (s *Session) Transform(ctx context.Context) (*Result, error) {
	r, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}
	return s.run(r)
}

// prepare opens a new attempt and validates it against the current inputs.
func (s *Session) prepare(ctx context.Context) (*run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy {
		return nil, ErrAttemptInFlight
	}

	attempt := NewAttempt()
	logger := s.logger.With(slog.String("attempt_id", attempt.ID))

	s.attempt = attempt
	s.loading = ""
	_ = attempt.TransitionTo(PhaseValidating)

	// A rejected submission leaves the previous result in place.
	if s.asset == nil || strings.TrimSpace(s.prompt) == "" {
		_ = attempt.Fail(ErrMissingInput)
		logger.Warn("attempt rejected", slog.String("kind", string(KindMissingInput)))
		return nil, ErrMissingInput
	}
	s.result = nil

	attempt.Kind = s.asset.Kind()
	if attempt.Kind == media.KindUnsupported {
		_ = attempt.Fail(ErrUnsupportedMediaKind)
		logger.Warn("attempt rejected",
			slog.String("kind", string(KindUnsupportedMediaKind)),
			slog.String("mime_type", s.asset.MIMEType),
		)
		return nil, ErrUnsupportedMediaKind
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.generation++
	s.cancel = cancel
	s.busy = true

	logger.Info("attempt started",
		slog.String("media_kind", string(attempt.Kind)),
		slog.String("quality", string(s.options.Quality)),
		slog.Bool("use_frame_as_reference", s.options.UseFrameAsReference),
	)

	return &run{
		ctx:     runCtx,
		cancel:  cancel,
		gen:     s.generation,
		attempt: attempt,
		asset:   s.asset,
		prompt:  s.prompt,
		options: s.options,
		logger:  logger,
	}, nil
}

// run executes the pipeline and commits its outcome unless the session
// moved on in the meantime.
func (s *Session) run(r *run) (*Result, error) {
	defer r.cancel()

	res, err := s.execute(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if r.gen != s.generation {
		r.logger.Info("ignoring outcome of detached attempt", slog.Bool("failed", err != nil))
		return res, err
	}

	s.busy = false
	s.cancel = nil
	s.loading = ""

	if err != nil {
		_ = r.attempt.Fail(err)
		r.logger.Error("attempt failed",
			slog.String("kind", string(Classify(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	_ = r.attempt.TransitionTo(PhaseDone)
	s.result = res
	r.logger.Info("attempt completed",
		slog.String("mime_type", res.MIMEType),
		slog.Int("size", res.Size()),
	)
	return res, nil
}

func (s *Session) execute(r *run) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch r.attempt.Kind {
	case media.KindImage:
		res, err = s.transformImage(r)
	case media.KindVideo:
		res, err = s.transformVideo(r)
	default:
		err = ErrUnsupportedMediaKind
	}
	if err != nil {
		return nil, err
	}

	res.AttemptID = r.attempt.ID
	res.Filename = filenameFor(res.Kind)
	s.export(r, res)
	return res, nil
}

func (s *Session) transformImage(r *run) (*Result, error) {
	s.advance(r, PhaseEncoding, MsgTransformingImage)

	payload, err := media.Encode(r.ctx, r.asset)
	if err != nil {
		return nil, err
	}

	s.advance(r, PhaseSubmitting, MsgTransformingImage)

	out, err := s.transformer.TransformImage(r.ctx, payload, r.asset.MIMEType, r.prompt)
	if err != nil {
		return nil, err
	}

	data, err := out.Bytes()
	if err != nil {
		return nil, err
	}

	return &Result{
		Kind:     media.KindImage,
		MIMEType: out.MIMEType(),
		Payload:  out,
		Data:     data,
	}, nil
}

func (s *Session) transformVideo(r *run) (*Result, error) {
	s.advance(r, PhaseEncoding, MsgPreparingVideo)

	var reference media.Payload
	if r.options.UseFrameAsReference {
		if s.extractor == nil {
			r.logger.Warn("no frame extractor configured, submitting without reference")
		} else {
			s.setLoading(r, MsgExtractingFrame)
			frame, mimeType, err := s.extractor.ExtractFrame(r.ctx, r.asset)
			if err != nil {
				return nil, err
			}
			r.logger.Debug("reference frame extracted",
				slog.String("mime_type", mimeType),
				slog.Int("base64_len", len(frame.Data())),
			)
			reference = frame
		}
	}

	s.advance(r, PhaseSubmitting, statusMessage(s.messages, 0))

	data, err := s.transformer.TransformVideo(r.ctx, genai.VideoRequest{
		Prompt:    r.prompt,
		Quality:   r.options.Quality,
		Reference: reference,
	}, func(p genai.Progress) {
		s.onProgress(r, p)
	})
	if err != nil {
		return nil, err
	}

	return &Result{
		Kind:     media.KindVideo,
		MIMEType: videoMIMEType(data),
		Data:     data,
	}, nil
}

// onProgress records a poll and rotates the loading message while the
// job is still running.
func (s *Session) onProgress(r *run, p genai.Progress) {
	r.attempt.RecordPoll(p.Poll)
	if r.attempt.GetPhase() == PhaseSubmitting {
		_ = r.attempt.TransitionTo(PhasePolling)
	}
	if p.State == genai.JobCompleted {
		return
	}
	s.setLoading(r, statusMessage(s.messages, p.Poll))
}

// export copies res to the configured exporter. Failures are logged only.
func (s *Session) export(r *run, res *Result) {
	if s.exporter == nil {
		return
	}
	url, err := s.exporter.Export(r.ctx, res.exportKey(), res.MIMEType, bytes.NewReader(res.Data))
	if err != nil {
		r.logger.Warn("result export failed", slog.String("error", err.Error()))
		return
	}
	res.ExportURL = url
	r.logger.Info("result exported", slog.String("url", url))
}

// advance moves the attempt to phase and shows message.
func (s *Session) advance(r *run, phase Phase, message string) {
	if err := r.attempt.TransitionTo(phase); err != nil {
		r.logger.Warn("unexpected phase transition",
			slog.String("from", string(r.attempt.GetPhase())),
			slog.String("to", string(phase)),
		)
	}
	s.setLoading(r, message)
}

// setLoading updates the loading message unless the attempt was detached.
func (s *Session) setLoading(r *run, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.gen == s.generation {
		s.loading = message
	}
}
