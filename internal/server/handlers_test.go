package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediaforge/internal/genai"
	"github.com/maauso/mediaforge/internal/media"
	"github.com/maauso/mediaforge/internal/transform"
)

// pngBytes starts with the PNG signature so uploads sniff as image/png.
var pngBytes = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R', 0, 0, 0, 1}

// mockTransformer implements transform.Transformer for testing.
type mockTransformer struct {
	mock.Mock
}

func (m *mockTransformer) TransformImage(ctx context.Context, payload media.Payload, mimeType, prompt string) (media.Payload, error) {
	args := m.Called(ctx, payload, mimeType, prompt)
	return args.Get(0).(media.Payload), args.Error(1)
}

func (m *mockTransformer) TransformVideo(ctx context.Context, req genai.VideoRequest, progress genai.ProgressFunc) ([]byte, error) {
	args := m.Called(ctx, req, progress)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// mockExtractor implements media.FrameExtractor for testing.
type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) ExtractFrame(ctx context.Context, asset *media.Asset) (media.Payload, string, error) {
	args := m.Called(ctx, asset)
	return args.Get(0).(media.Payload), args.String(1), args.Error(2)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestHandlers(t *testing.T, opts ...HandlerOption) (*Handlers, *transform.Session, *mockTransformer, *mockExtractor) {
	t.Helper()
	transformer := &mockTransformer{}
	extractor := &mockExtractor{}
	logger := testLogger()

	session := transform.NewSession(transformer, extractor, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.Shutdown(ctx)
	})

	// Disable async processing for tests to avoid mock issues
	all := append([]HandlerOption{WithAsyncProcessing(false)}, opts...)
	handlers := NewHandlers(session, logger, all...)
	return handlers, session, transformer, extractor
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func multipartUpload(t *testing.T, filename string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/session/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	h.Health(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
}

func TestGetSession_Defaults(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.GetSession(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "IDLE", resp.Phase)
	assert.Equal(t, transform.DefaultPrompt, resp.Prompt)
	assert.True(t, resp.Options.UseFrameAsReference)
	assert.Equal(t, "medium", resp.Options.Quality)
	assert.Nil(t, resp.File)
	assert.Nil(t, resp.Result)
	assert.False(t, resp.Busy)
}

func TestUploadFile_Multipart(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.UploadFile(rec, multipartUpload(t, "cat.png", pngBytes))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	require.NotNil(t, resp.File)
	assert.Equal(t, "cat.png", resp.File.Name)
	assert.Equal(t, "image/png", resp.File.MIMEType, "octet-stream part is sniffed")
	assert.Equal(t, "image", resp.File.Kind)
	assert.Equal(t, int64(len(pngBytes)), resp.File.Size)
}

func TestUploadFile_RawBody(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/session/file?name=clip.mp4", bytes.NewReader([]byte("video-bytes")))
	req.Header.Set("Content-Type", "video/mp4")
	rec := httptest.NewRecorder()

	h.UploadFile(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	require.NotNil(t, resp.File)
	assert.Equal(t, "clip.mp4", resp.File.Name)
	assert.Equal(t, "video/mp4", resp.File.MIMEType)
	assert.Equal(t, "video", resp.File.Kind)
}

func TestUploadFile_Unsupported(t *testing.T) {
	h, session, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/session/file?name=notes.txt", strings.NewReader("just text"))
	rec := httptest.NewRecorder()

	h.UploadFile(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "UNSUPPORTED_MEDIA", resp.Code)
	assert.Equal(t, "Unsupported file type. Please upload an image or video.", resp.Error)
	assert.Nil(t, session.Snapshot().File)
}

func TestUploadFile_Empty(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/session/file", http.NoBody)
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()

	h.UploadFile(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_UPLOAD", resp.Code)
}

func TestUploadFile_TooLarge(t *testing.T) {
	h, _, _, _ := newTestHandlers(t, WithMaxUploadBytes(8))

	req := httptest.NewRequest(http.MethodPut, "/session/file", bytes.NewReader(pngBytes))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()

	h.UploadFile(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadFile_MissingMultipartField(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/session/file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()

	h.UploadFile(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetPrompt(t *testing.T) {
	h, session, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/session/prompt", strings.NewReader(`{"prompt":"add neon lights"}`))
	rec := httptest.NewRecorder()
	h.SetPrompt(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "add neon lights", session.Snapshot().Prompt)
}

func TestSetPrompt_InvalidJSON(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodPut, "/session/prompt", strings.NewReader("invalid json"))
	rec := httptest.NewRecorder()
	h.SetPrompt(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INVALID_JSON", resp.Code)
}

func TestSetOptions(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantQuality genai.Quality
		wantFrame   bool
	}{
		{
			name:        "tier name",
			body:        `{"use_frame_as_reference": false, "quality": "low"}`,
			wantStatus:  http.StatusOK,
			wantQuality: genai.QualityLow,
			wantFrame:   false,
		},
		{
			name:        "resolution",
			body:        `{"use_frame_as_reference": true, "quality": "1080p"}`,
			wantStatus:  http.StatusOK,
			wantQuality: genai.QualityHigh,
			wantFrame:   true,
		},
		{
			name:        "default quality",
			body:        `{"use_frame_as_reference": false}`,
			wantStatus:  http.StatusOK,
			wantQuality: genai.QualityMedium,
			wantFrame:   false,
		},
		{
			name:       "missing flag",
			body:       `{"quality": "high"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown quality",
			body:       `{"use_frame_as_reference": true, "quality": "4k"}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, session, _, _ := newTestHandlers(t)

			req := httptest.NewRequest(http.MethodPut, "/session/options", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.SetOptions(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus != http.StatusOK {
				resp := decodeBody[ErrorResponse](t, rec)
				assert.Equal(t, "VALIDATION_ERROR", resp.Code)
				assert.Equal(t, transform.DefaultOptions(), session.Snapshot().Options)
				return
			}

			opts := session.Snapshot().Options
			assert.Equal(t, tt.wantQuality, opts.Quality)
			assert.Equal(t, tt.wantFrame, opts.UseFrameAsReference)
		})
	}
}

func TestStartTransform_MissingInput(t *testing.T) {
	h, _, transformer, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "MISSING_INPUT", resp.Code)
	assert.Equal(t, "Please select a file and enter a prompt.", resp.Error)
	transformer.AssertNotCalled(t, "TransformImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartTransform_ImageAndDownload(t *testing.T) {
	h, session, transformer, _ := newTestHandlers(t)
	session.SelectFile(media.NewAsset("cat.png", "image/png", pngBytes))

	transformer.On("TransformImage", mock.Anything, media.NewPayload("image/png", pngBytes), "image/png", transform.DefaultPrompt).
		Return(media.NewPayload("image/png", []byte("result-image")), nil).Once()

	rec := httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "DONE", resp.Phase)
	require.NotNil(t, resp.Result)
	assert.Equal(t, "transformed_image.png", resp.Result.Filename)
	assert.Equal(t, "/session/result", resp.Result.DownloadURL)

	rec = httptest.NewRecorder()
	h.GetResult(rec, httptest.NewRequest(http.MethodGet, "/session/result", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=transformed_image.png", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "result-image", rec.Body.String())

	transformer.AssertExpectations(t)
}

func TestStartTransform_VideoResultFilename(t *testing.T) {
	h, session, transformer, extractor := newTestHandlers(t)
	session.SelectFile(media.NewAsset("clip.mp4", "video/mp4", []byte("video-in")))

	extractor.On("ExtractFrame", mock.Anything, mock.Anything).
		Return(media.NewPayload("image/jpeg", []byte("frame")), "image/jpeg", nil)
	transformer.On("TransformVideo", mock.Anything, mock.Anything, mock.Anything).
		Return([]byte("video-out"), nil)

	rec := httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.GetResult(rec, httptest.NewRequest(http.MethodGet, "/session/result", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=transformed_video.mp4", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "video-out", rec.Body.String())
}

func TestStartTransform_Failure(t *testing.T) {
	h, session, transformer, _ := newTestHandlers(t)
	session.SelectFile(media.NewAsset("cat.png", "image/png", pngBytes))

	transformer.On("TransformImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(media.Payload(""), genai.ErrNoImageReturned)

	rec := httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "TRANSFORM_FAILED", resp.Code)
	assert.Equal(t, genai.ErrNoImageReturned.Error(), resp.Error)

	snap := session.Snapshot()
	assert.Equal(t, transform.PhaseError, snap.Phase)
	assert.False(t, snap.Busy)
}

func TestStartTransform_Async(t *testing.T) {
	h, session, transformer, _ := newTestHandlers(t, WithAsyncProcessing(true))
	session.SelectFile(media.NewAsset("cat.png", "image/png", pngBytes))

	started := make(chan struct{})
	release := make(chan struct{})
	transformer.On("TransformImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			close(started)
			<-release
		}).
		Return(media.NewPayload("image/png", []byte("ok")), nil).Once()

	rec := httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[TransformResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.AttemptID, "att-"))

	<-started

	rec = httptest.NewRecorder()
	h.StartTransform(rec, httptest.NewRequest(http.MethodPost, "/session/transform", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)
	conflict := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "ATTEMPT_IN_FLIGHT", conflict.Code)

	rec = httptest.NewRecorder()
	h.GetSession(rec, httptest.NewRequest(http.MethodGet, "/session", nil))
	busy := decodeBody[SessionResponse](t, rec)
	assert.True(t, busy.Busy)
	assert.Equal(t, transform.MsgTransformingImage, busy.LoadingMessage)

	close(release)

	assert.Eventually(t, func() bool {
		snap := session.Snapshot()
		return !snap.Busy && snap.Phase == transform.PhaseDone
	}, 5*time.Second, 10*time.Millisecond)
}

func TestReset(t *testing.T) {
	h, session, _, _ := newTestHandlers(t)
	session.SelectFile(media.NewAsset("cat.png", "image/png", pngBytes))
	session.SetPrompt("keep me")
	require.NoError(t, session.SetOptions(transform.Options{UseFrameAsReference: false, Quality: genai.QualityHigh}))

	rec := httptest.NewRecorder()
	h.Reset(rec, httptest.NewRequest(http.MethodPost, "/session/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[SessionResponse](t, rec)
	assert.Equal(t, "IDLE", resp.Phase)
	assert.Nil(t, resp.File)
	assert.Nil(t, resp.Result)
	assert.Empty(t, resp.Error)
	assert.Equal(t, "keep me", resp.Prompt)
	assert.True(t, resp.Options.UseFrameAsReference)
	assert.Equal(t, "medium", resp.Options.Quality)
}

func TestGetResult_NotFound(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.GetResult(rec, httptest.NewRequest(http.MethodGet, "/session/result", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "NO_RESULT", resp.Code)
}

func TestListQualities(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	rec := httptest.NewRecorder()
	h.ListQualities(rec, httptest.NewRequest(http.MethodGet, "/qualities", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[[]QualityResponse](t, rec)
	assert.Equal(t, []QualityResponse{
		{Value: "low", Label: "480p (SD)", Resolution: "480p"},
		{Value: "medium", Label: "720p (HD)", Resolution: "720p", Default: true},
		{Value: "high", Label: "1080p (FHD)", Resolution: "1080p"},
	}, resp)
}

func TestRouter_Integration(t *testing.T) {
	h, _, transformer, _ := newTestHandlers(t)
	router := NewRouter(h, testLogger(), DefaultConfig())

	transformer.On("TransformImage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(media.NewPayload("image/png", []byte("ok")), nil)

	// Test health endpoint
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Upload, prompt, transform, download
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, "cat.png", pngBytes))
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/session/prompt", strings.NewReader(`{"prompt":"pixel art"}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/session/transform", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/session/result", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	// Method not allowed
	req = httptest.NewRequest(http.MethodDelete, "/session", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCORSMiddleware(t *testing.T) {
	h, _, _, _ := newTestHandlers(t)

	cfg := Config{AllowedOrigins: []string{"https://example.com"}}
	router := NewRouter(h, testLogger(), cfg)

	// Test with allowed origin
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Content-Disposition", rec.Header().Get("Access-Control-Expose-Headers"))

	// Disallowed origin gets no CORS headers
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	// Test OPTIONS preflight
	req = httptest.NewRequest(http.MethodOptions, "/session/file", nil)
	req.Header.Set("Origin", "https://example.com")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	// Create a handler that panics
	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	handler := RecoveryMiddleware(testLogger())(panicHandler)

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()

	// Should not panic
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Code)
}

func TestLoggingMiddleware_CountsBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "http request", entry["msg"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
	assert.EqualValues(t, 5, entry["bytes"])
}

func TestIsStartError(t *testing.T) {
	assert.True(t, isStartError(transform.ErrMissingInput))
	assert.True(t, isStartError(transform.ErrAttemptInFlight))
	assert.False(t, isStartError(errors.New("boom")))
}
