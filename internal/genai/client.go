package genai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	genaisdk "google.golang.org/genai"

	"github.com/maauso/mediaforge/internal/media"
)

// Static errors for generative client operations.
var (
	// ErrAPIKeyRequired is returned when the client is built without a credential.
	ErrAPIKeyRequired = errors.New("genai: API key is required")
	// ErrPromptRequired is returned when a request carries an empty prompt.
	ErrPromptRequired = errors.New("genai: prompt is required")
	// ErrInvalidQuality is returned for an unknown quality tier.
	ErrInvalidQuality = errors.New("genai: invalid quality")
	// ErrNoImageReturned is returned when the model answers without an inline image.
	ErrNoImageReturned = errors.New("genai: image transformation failed or did not return an image")
	// ErrNoVideoReturned is returned when a finished job carries no retrievable video URI.
	ErrNoVideoReturned = errors.New("genai: video generation failed or did not return a video URI")
	// ErrDownloadFailed is matched by every DownloadError.
	ErrDownloadFailed = errors.New("genai: failed to download generated video")
	// ErrNoOperationReturned is returned when a submit response has no operation name.
	ErrNoOperationReturned = errors.New("genai: submit failed: no operation returned")
	// ErrRequestFailed is returned when a service call fails.
	ErrRequestFailed = errors.New("genai: request failed")
	// ErrClientInit is returned when the SDK client cannot be built.
	ErrClientInit = errors.New("genai: create client")
)

// DownloadError reports a non-2xx answer while fetching a generated video.
type DownloadError struct {
	StatusCode int
	Status     string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrDownloadFailed.Error(), e.Status)
}

// Is makes errors.Is(err, ErrDownloadFailed) match.
func (e *DownloadError) Is(target error) bool {
	return target == ErrDownloadFailed
}

// Client calls the Gemini API through the SDK.
// It holds no per-job state; every call owns its own operation.
type Client struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	imageModel   string
	videoModel   string
	httpClient   *http.Client
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
	logger       *slog.Logger

	sdk *genaisdk.Client
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client, shared by the SDK and downloads.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(gc *Client) {
		gc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the API, without the version segment.
func WithBaseURL(u string) ClientOption {
	return func(gc *Client) {
		gc.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithAPIVersion sets the API version path segment.
func WithAPIVersion(v string) ClientOption {
	return func(gc *Client) {
		gc.apiVersion = v
	}
}

// WithImageModel sets the model used by TransformImage.
func WithImageModel(model string) ClientOption {
	return func(gc *Client) {
		gc.imageModel = model
	}
}

// WithVideoModel sets the model used by TransformVideo.
func WithVideoModel(model string) ClientOption {
	return func(gc *Client) {
		gc.videoModel = model
	}
}

// WithPollInterval sets the fixed wait between status calls.
func WithPollInterval(d time.Duration) ClientOption {
	return func(gc *Client) {
		gc.pollInterval = d
	}
}

// WithSleeper replaces the wait between status calls. Tests use it to
// record waits instead of sleeping.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(gc *Client) {
		gc.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(gc *Client) {
		gc.logger = logger
	}
}

// NewClient creates a new Gemini client. The API key is required; it is
// never read from the environment here.
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &Client{
		apiKey:       apiKey,
		baseURL:      "https://generativelanguage.googleapis.com",
		apiVersion:   "v1beta",
		imageModel:   "gemini-2.5-flash-image-preview",
		videoModel:   "veo-2.0-generate-001",
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		pollInterval: 10 * time.Second,
		sleep:        sleepContext,
		logger:       slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	sdk, err := genaisdk.NewClient(context.Background(), &genaisdk.ClientConfig{
		APIKey:     c.apiKey,
		Backend:    genaisdk.BackendGeminiAPI,
		HTTPClient: c.httpClient,
		HTTPOptions: genaisdk.HTTPOptions{
			BaseURL:    c.baseURL + "/",
			APIVersion: c.apiVersion,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClientInit, err)
	}
	c.sdk = sdk

	return c, nil
}

// TransformImage sends the image and prompt in one round trip, asking for
// image and text modalities, and returns the first inline image of the answer.
// A text-only answer yields ErrNoImageReturned.
func (c *Client) TransformImage(ctx context.Context, payload media.Payload, mimeType, prompt string) (media.Payload, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrPromptRequired
	}
	if mimeType == "" {
		mimeType = payload.MIMEType()
	}

	data, err := payload.Bytes()
	if err != nil {
		return "", fmt.Errorf("genai: decode image payload: %w", err)
	}

	contents := []*genaisdk.Content{{
		Role: "user",
		Parts: []*genaisdk.Part{
			{InlineData: &genaisdk.Blob{MIMEType: mimeType, Data: data}},
			{Text: prompt},
		},
	}}
	config := &genaisdk.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := c.sdk.Models.GenerateContent(ctx, c.imageModel, contents, config)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	if img := firstInlineImage(resp); img != nil {
		c.logger.Debug("image transformation returned inline data",
			slog.String("mime_type", img.MIMEType),
			slog.Int("bytes", len(img.Data)),
		)
		return media.NewPayload(img.MIMEType, img.Data), nil
	}

	return "", noImageError(resp)
}

// firstParts returns the parts of the first candidate, if any.
func firstParts(resp *genaisdk.GenerateContentResponse) []*genaisdk.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

// firstInlineImage scans the first candidate for a part carrying inline data.
func firstInlineImage(resp *genaisdk.GenerateContentResponse) *genaisdk.Blob {
	for _, p := range firstParts(resp) {
		if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
			return p.InlineData
		}
	}
	return nil
}

// noImageError attaches whatever the model said instead of an image.
func noImageError(resp *genaisdk.GenerateContentResponse) error {
	if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return fmt.Errorf("%w: prompt blocked: %s", ErrNoImageReturned, resp.PromptFeedback.BlockReason)
	}
	var texts []string
	for _, p := range firstParts(resp) {
		if p == nil {
			continue
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return ErrNoImageReturned
	}
	return fmt.Errorf("%w: model replied: %s", ErrNoImageReturned, truncate(strings.Join(texts, " "), 200))
}

// TransformVideo submits a generation job, polls it every poll interval
// until done, then downloads the first generated video. Polling is unbounded;
// cancel ctx to stop it. The context is checked before every status call.
// progress, if non-nil, is invoked once per poll iteration.
func (c *Client) TransformVideo(ctx context.Context, req VideoRequest, progress ProgressFunc) ([]byte, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrPromptRequired
	}
	if req.Quality == "" {
		req.Quality = DefaultQuality
	}
	if !req.Quality.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuality, req.Quality)
	}

	op, err := c.submitVideo(ctx, req)
	if err != nil {
		return nil, err
	}

	logger := c.logger.With(slog.String("operation", op.Name()))
	logger.Info("video job submitted",
		slog.String("state", string(JobSubmitted)),
		slog.String("quality", string(req.Quality)),
		slog.Bool("reference_frame", req.Reference != ""),
	)

	polls := 0
	for !op.Done() {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("genai: video job cancelled: %w", err)
		}
		if err := c.sleep(ctx, c.pollInterval); err != nil {
			return nil, fmt.Errorf("genai: video job cancelled: %w", err)
		}

		op, err = c.getOperation(ctx, op)
		if err != nil {
			logger.Error("video job poll failed",
				slog.String("state", string(JobFailed)),
				slog.Int("poll", polls+1),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		polls++

		state := JobPolling
		if op.Done() {
			state = JobCompleted
		}
		logger.Debug("video job polled",
			slog.Int("poll", polls),
			slog.String("state", string(state)),
		)
		if progress != nil {
			progress(Progress{Poll: polls, State: state, Operation: op.Name()})
		}
	}

	video, err := resultVideo(op)
	if err != nil {
		logger.Warn("video job finished without a usable result",
			slog.String("state", string(JobFailed)),
			slog.Int("polls", polls),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	logger.Info("video job completed",
		slog.String("state", string(JobCompleted)),
		slog.Int("polls", polls),
	)

	if video.URI == "" {
		return video.VideoBytes, nil
	}
	return c.download(ctx, video.URI)
}

// submitVideo starts a long-running generation job.
func (c *Client) submitVideo(ctx context.Context, req VideoRequest) (*Operation, error) {
	var image *genaisdk.Image
	if req.Reference != "" {
		data, err := req.Reference.Bytes()
		if err != nil {
			return nil, fmt.Errorf("genai: decode reference frame: %w", err)
		}
		image = &genaisdk.Image{ImageBytes: data, MIMEType: req.Reference.MIMEType()}
	}

	config := &genaisdk.GenerateVideosConfig{NumberOfVideos: 1}
	if supportsResolution(c.videoModel) {
		config.Resolution = req.Quality.requestResolution()
	}

	op, err := c.sdk.Models.GenerateVideos(ctx, c.videoModel, req.Prompt, image, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if op == nil || op.Name == "" {
		return nil, ErrNoOperationReturned
	}

	return newOperation(op), nil
}

// supportsResolution reports whether the video model accepts a resolution
// parameter. Veo 2 rejects it.
func supportsResolution(model string) bool {
	return !strings.HasPrefix(strings.TrimPrefix(model, "models/"), "veo-2")
}

// getOperation re-fetches the status of op.
func (c *Client) getOperation(ctx context.Context, op *Operation) (*Operation, error) {
	next, err := c.sdk.Operations.GetVideosOperation(ctx, op.op, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	if next.Name == "" {
		next.Name = op.Name()
	}
	return newOperation(next), nil
}

// resultVideo returns the first generated video of a finished operation.
func resultVideo(op *Operation) (*genaisdk.Video, error) {
	if len(op.op.Error) > 0 {
		return nil, fmt.Errorf("%w: service error %v: %v", ErrNoVideoReturned, op.op.Error["code"], op.op.Error["message"])
	}
	resp := op.op.Response
	if resp == nil {
		return nil, ErrNoVideoReturned
	}
	for _, v := range resp.GeneratedVideos {
		if v != nil && v.Video != nil && (v.Video.URI != "" || len(v.Video.VideoBytes) > 0) {
			return v.Video, nil
		}
	}
	if len(resp.RAIMediaFilteredReasons) > 0 {
		return nil, fmt.Errorf("%w: filtered: %s", ErrNoVideoReturned, strings.Join(resp.RAIMediaFilteredReasons, "; "))
	}
	return nil, ErrNoVideoReturned
}

// download fetches the video at uri with the API key appended as a query parameter.
func (c *Client) download(ctx context.Context, uri string) ([]byte, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URI: %w", ErrDownloadFailed, err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", ErrDownloadFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &DownloadError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}

	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
