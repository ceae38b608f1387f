// Package media provides the user-supplied media model, data URI encoding
// and still-frame extraction from videos.
package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Static errors for media operations.
var (
	// ErrRead is returned when the binary content of an asset cannot be read.
	ErrRead = errors.New("media: failed to read file")
	// ErrDecode is returned when a video cannot be loaded or a frame cannot be rasterized.
	ErrDecode = errors.New("media: failed to decode video")
	// ErrInvalidPayload is returned when a string is not a base64 data URI.
	ErrInvalidPayload = errors.New("media: invalid data URI")
)

// Kind is the media kind derived from a MIME type prefix.
type Kind string

const (
	// KindImage is any image/* MIME type.
	KindImage Kind = "image"
	// KindVideo is any video/* MIME type.
	KindVideo Kind = "video"
	// KindUnsupported is anything else.
	KindUnsupported Kind = "unsupported"
)

// KindOf returns the media kind for the given MIME type.
func KindOf(mimeType string) Kind {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), "/")
	switch major {
	case "image":
		return KindImage
	case "video":
		return KindVideo
	default:
		return KindUnsupported
	}
}

// DetectMIMEType sniffs the MIME type of data, without parameters.
func DetectMIMEType(data []byte) string {
	detected := mimetype.Detect(data).String()
	base, _, _ := strings.Cut(detected, ";")
	return strings.TrimSpace(base)
}

// ResolveMIMEType returns declared when it is specific enough and falls
// back to sniffing the content otherwise.
func ResolveMIMEType(declared string, data []byte) string {
	base, _, _ := strings.Cut(declared, ";")
	base = strings.ToLower(strings.TrimSpace(base))
	if base == "" || base == "application/octet-stream" {
		return DetectMIMEType(data)
	}
	return base
}

// Asset is a user-supplied binary blob with its MIME type.
// It is held in memory for the duration of one transformation.
type Asset struct {
	// Name is the original file name, if known.
	Name string
	// MIMEType is the declared content type.
	MIMEType string
	// Size is the byte length of the content.
	Size int64

	open func() (io.ReadCloser, error)
}

// NewAsset creates an in-memory Asset. An empty mimeType is sniffed from data.
func NewAsset(name, mimeType string, data []byte) *Asset {
	if mimeType == "" {
		mimeType = DetectMIMEType(data)
	}
	return &Asset{
		Name:     name,
		MIMEType: mimeType,
		Size:     int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// NewAssetFromOpener creates an Asset whose content is produced by open.
func NewAssetFromOpener(name, mimeType string, size int64, open func() (io.ReadCloser, error)) *Asset {
	return &Asset{
		Name:     name,
		MIMEType: mimeType,
		Size:     size,
		open:     open,
	}
}

// Kind returns the media kind of the asset.
func (a *Asset) Kind() Kind {
	return KindOf(a.MIMEType)
}

// Open returns a reader over the asset content.
// The caller is responsible for closing it.
func (a *Asset) Open() (io.ReadCloser, error) {
	if a.open == nil {
		return nil, fmt.Errorf("%w: asset has no content", ErrRead)
	}
	return a.open()
}

// Payload is a base64 data URI: data:<mime>;base64,<bytes>.
type Payload string

const base64Marker = ";base64,"

// NewPayload encodes data into a Payload.
func NewPayload(mimeType string, data []byte) Payload {
	return FromBase64(mimeType, base64.StdEncoding.EncodeToString(data))
}

// FromBase64 builds a Payload from already-encoded base64 data.
func FromBase64(mimeType, b64 string) Payload {
	return Payload("data:" + mimeType + base64Marker + b64)
}

// ParsePayload validates s as a base64 data URI.
func ParsePayload(s string) (Payload, error) {
	if !strings.HasPrefix(s, "data:") || !strings.Contains(s, base64Marker) {
		return "", ErrInvalidPayload
	}
	p := Payload(s)
	if p.MIMEType() == "" {
		return "", fmt.Errorf("%w: missing MIME type", ErrInvalidPayload)
	}
	return p, nil
}

// MIMEType returns the declared MIME type of the payload.
func (p Payload) MIMEType() string {
	rest, ok := strings.CutPrefix(string(p), "data:")
	if !ok {
		return ""
	}
	mimeType, _, found := strings.Cut(rest, base64Marker)
	if !found {
		return ""
	}
	return mimeType
}

// Data returns the base64 portion of the payload.
func (p Payload) Data() string {
	_, data, found := strings.Cut(string(p), base64Marker)
	if !found {
		return ""
	}
	return data
}

// Bytes decodes the payload content.
func (p Payload) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

// String returns the payload as a data URI string.
func (p Payload) String() string {
	return string(p)
}

// Encode reads the whole asset and returns it as a data URI.
// No size limit is enforced.
func Encode(ctx context.Context, asset *Asset) (Payload, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("media: encode cancelled: %w", ctx.Err())
	default:
	}

	data, err := ReadAll(asset)
	if err != nil {
		return "", err
	}

	mimeType := asset.MIMEType
	if mimeType == "" {
		mimeType = DetectMIMEType(data)
	}

	return NewPayload(mimeType, data), nil
}

// ReadAll reads the entire asset content into memory.
func ReadAll(asset *Asset) ([]byte, error) {
	rc, err := asset.Open()
	if err != nil {
		if errors.Is(err, ErrRead) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return data, nil
}
