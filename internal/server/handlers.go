package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediaforge/internal/genai"
	"github.com/maauso/mediaforge/internal/media"
	"github.com/maauso/mediaforge/internal/transform"
)

// DefaultMaxUploadBytes bounds the size of an uploaded file.
const DefaultMaxUploadBytes = 512 << 20

// resultPath serves the bytes of the transformed media.
const resultPath = "/session/result"

// Session is the orchestrator the handlers drive.
type Session interface {
	SelectFile(asset *media.Asset)
	SetPrompt(prompt string)
	SetOptions(opts transform.Options) error
	Reset()
	Snapshot() transform.Snapshot
	Result() (*transform.Result, error)
	Start(ctx context.Context) (*transform.Attempt, error)
	Transform(ctx context.Context) (*transform.Result, error)
}

// Compile-time check that transform.Session implements Session.
var _ Session = (*transform.Session)(nil)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	session            Session
	validator          *validator.Validate
	logger             *slog.Logger
	maxUploadBytes     int64
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, StartTransform runs the attempt to completion before
// responding.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes sets the upload size limit.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(session Session, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		session:            session,
		validator:          validator.New(),
		logger:             logger,
		maxUploadBytes:     DefaultMaxUploadBytes,
		enableAsyncProcess: true, // Default to enabled
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetSession handles GET /session requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// UploadFile handles PUT /session/file requests. The file is read from the
// multipart field "file" or, for any other content type, from the raw body
// with an optional "name" query parameter.
func (h *Handlers) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	name, declared, data, err := h.readUpload(r)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large", "FILE_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to read upload", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_UPLOAD")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "file is empty", "INVALID_UPLOAD")
		return
	}

	mimeType := media.ResolveMIMEType(declared, data)
	if media.KindOf(mimeType) == media.KindUnsupported {
		h.logger.Warn("unsupported upload",
			slog.String("name", name),
			slog.String("mime_type", mimeType),
		)
		writeError(w, http.StatusUnsupportedMediaType, transform.MsgUnsupportedMedia, "UNSUPPORTED_MEDIA")
		return
	}

	h.session.SelectFile(media.NewAsset(name, mimeType, data))

	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// readUpload extracts the file name, declared MIME type and content.
func (h *Handlers) readUpload(r *http.Request) (string, string, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)

	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", "", nil, fmt.Errorf("read multipart field \"file\": %w", err)
		}
		defer func() { _ = file.Close() }()

		data, err := io.ReadAll(file)
		if err != nil {
			return "", "", nil, fmt.Errorf("read uploaded file: %w", err)
		}
		return header.Filename, header.Header.Get("Content-Type"), data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", "", nil, fmt.Errorf("read request body: %w", err)
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	return name, contentType, data, nil
}

// SetPrompt handles PUT /session/prompt requests.
func (h *Handlers) SetPrompt(w http.ResponseWriter, r *http.Request) {
	var req PromptRequest
	if !h.decode(w, r, &req) {
		return
	}

	h.session.SetPrompt(req.Prompt)
	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// SetOptions handles PUT /session/options requests.
func (h *Handlers) SetOptions(w http.ResponseWriter, r *http.Request) {
	var req OptionsRequest
	if !h.decode(w, r, &req) {
		return
	}

	opts := transform.Options{UseFrameAsReference: *req.UseFrameAsReference}
	if req.Quality != "" {
		q, err := genai.ParseQuality(req.Quality)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		opts.Quality = q
	}

	if err := h.session.SetOptions(opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// StartTransform handles POST /session/transform requests.
func (h *Handlers) StartTransform(w http.ResponseWriter, r *http.Request) {
	if !h.enableAsyncProcess {
		h.transformSync(w, r)
		return
	}

	attempt, err := h.session.Start(r.Context())
	if err != nil {
		h.writeStartError(w, err)
		return
	}

	h.logger.Info("transformation started",
		slog.String("attempt_id", attempt.ID),
		slog.String("media_kind", string(attempt.Kind)),
	)

	writeJSON(w, http.StatusAccepted, TransformResponse{
		AttemptID: attempt.ID,
		Phase:     string(attempt.Phase),
	})
}

func (h *Handlers) transformSync(w http.ResponseWriter, r *http.Request) {
	if _, err := h.session.Transform(r.Context()); err != nil {
		if isStartError(err) {
			h.writeStartError(w, err)
			return
		}
		writeError(w, http.StatusBadGateway, transform.UserMessage(err), "TRANSFORM_FAILED")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

func isStartError(err error) bool {
	return errors.Is(err, transform.ErrMissingInput) ||
		errors.Is(err, transform.ErrUnsupportedMediaKind) ||
		errors.Is(err, transform.ErrAttemptInFlight)
}

func (h *Handlers) writeStartError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, transform.ErrMissingInput):
		writeError(w, http.StatusBadRequest, transform.UserMessage(err), "MISSING_INPUT")
	case errors.Is(err, transform.ErrUnsupportedMediaKind):
		writeError(w, http.StatusUnsupportedMediaType, transform.UserMessage(err), "UNSUPPORTED_MEDIA")
	case errors.Is(err, transform.ErrAttemptInFlight):
		writeError(w, http.StatusConflict, "a transformation is already in progress", "ATTEMPT_IN_FLIGHT")
	default:
		h.logger.Error("failed to start transformation", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to start transformation", "TRANSFORM_START_FAILED")
	}
}

// Reset handles POST /session/reset requests.
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	writeJSON(w, http.StatusOK, toSessionResponse(h.session.Snapshot()))
}

// GetResult handles GET /session/result requests.
func (h *Handlers) GetResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.session.Result()
	if err != nil {
		if errors.Is(err, transform.ErrNoResult) {
			writeError(w, http.StatusNotFound, "no transformed media available", "NO_RESULT")
			return
		}
		h.logger.Error("failed to get result", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get result", "RESULT_FETCH_FAILED")
		return
	}

	data := res.Bytes()
	w.Header().Set("Content-Type", res.MIMEType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": res.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write result", slog.String("error", err.Error()))
	}
}

// ListQualities handles GET /qualities requests.
func (h *Handlers) ListQualities(w http.ResponseWriter, r *http.Request) {
	qualities := genai.Qualities()
	resp := make([]QualityResponse, 0, len(qualities))
	for _, q := range qualities {
		resp = append(resp, QualityResponse{
			Value:      string(q),
			Label:      q.Label(),
			Resolution: q.Resolution(),
			Default:    q == genai.DefaultQuality,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads and validates a JSON body. It writes the error response
// and returns false on failure.
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

func toSessionResponse(s transform.Snapshot) SessionResponse {
	resp := SessionResponse{
		Phase:     string(s.Phase),
		AttemptID: s.AttemptID,
		Prompt:    s.Prompt,
		Options: OptionsResponse{
			UseFrameAsReference: s.Options.UseFrameAsReference,
			Quality:             string(s.Options.Quality),
		},
		Error:          s.Error,
		LoadingMessage: s.Loading,
		Busy:           s.Busy,
		Polls:          s.Polls,
	}
	if s.File != nil {
		resp.File = &FileResponse{
			Name:     s.File.Name,
			MIMEType: s.File.MIMEType,
			Size:     s.File.Size,
			Kind:     string(s.File.Kind),
		}
	}
	if s.Result != nil {
		resp.Result = &ResultResponse{
			Kind:        string(s.Result.Kind),
			MIMEType:    s.Result.MIMEType,
			Filename:    s.Result.Filename,
			Size:        s.Result.Size,
			DownloadURL: resultPath,
			ExportURL:   s.Result.ExportURL,
		}
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
