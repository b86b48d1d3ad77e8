// Package attachment turns user supplied image files into self-describing
// data URIs (data:<mime>;base64,<payload>) and back.
//
// The encoded form is used both for inline previews and, after Decode, for the
// inline-data part sent to the tutor.
package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/PabloGalante/clevercompass/internal/domain"
)

const (
	// DefaultMaxBytes is the largest accepted attachment (10MB)
	DefaultMaxBytes = 10 * 1024 * 1024

	dataPrefix    = "data:"
	base64Marker  = "base64"
	genericBinary = "application/octet-stream"
)

// Options configures an Encoder.
type Options struct {
	// MaxBytes caps the raw file size. <= 0 means DefaultMaxBytes.
	MaxBytes int64
	// MaxDimension downscales images wider or taller than this. 0 disables it.
	MaxDimension int
}

// Encoder validates and encodes image attachments. It holds no state besides
// its options and is safe for concurrent use.
type Encoder struct {
	opts Options
}

func NewEncoder(opts Options) *Encoder {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxBytes
	}
	return &Encoder{opts: opts}
}

// Encode reads r once and returns the encoded image.
//
// declaredMIME must be an image/* type. The sniffed content type wins over the
// declared one when it is an image type; content sniffed as something other
// than an image is rejected. Every failure wraps domain.ErrUnsupportedFormat.
func (e *Encoder) Encode(ctx context.Context, r io.Reader, declaredMIME string) (domain.EncodedImage, error) {
	mimeType, err := imageMIME(declaredMIME)
	if err != nil {
		return "", err
	}

	data, err := e.read(ctx, r)
	if err != nil {
		return "", err
	}

	sniffed := baseMIME(http.DetectContentType(data))
	switch {
	case strings.HasPrefix(sniffed, "image/"):
		mimeType = sniffed
	case sniffed == genericBinary:
		// formats the sniffer does not know (heic, avif): trust the declared type
	default:
		return "", fmt.Errorf("%w: content looks like %s", domain.ErrUnsupportedFormat, sniffed)
	}

	if e.opts.MaxDimension > 0 {
		data, mimeType, err = downscale(data, mimeType, e.opts.MaxDimension)
		if err != nil {
			return "", err
		}
	}

	return Format(mimeType, data), nil
}

// EncodeFile encodes the file at path, using its extension as the declared type.
func (e *Encoder) EncodeFile(ctx context.Context, path string) (domain.EncodedImage, error) {
	declared := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if declared == "" {
		return "", fmt.Errorf("%w: unknown file type %q", domain.ErrUnsupportedFormat, filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnsupportedFormat, err)
	}
	defer f.Close()

	return e.Encode(ctx, f, declared)
}

// read is the only blocking step; it stops as soon as ctx is done.
func (e *Encoder) read(ctx context.Context, r io.Reader) ([]byte, error) {
	limited := io.LimitReader(ctxReader{ctx: ctx, r: r}, e.opts.MaxBytes+1)

	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("%w: read failed: %v", domain.ErrUnsupportedFormat, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", domain.ErrUnsupportedFormat)
	}
	if int64(len(data)) > e.opts.MaxBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", domain.ErrUnsupportedFormat, e.opts.MaxBytes)
	}
	return data, nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// downscale shrinks images larger than maxDim on either side. Formats the
// standard decoders do not understand are passed through untouched.
func downscale(data []byte, mimeType string, maxDim int) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return data, mimeType, nil
	}
	if cfg.Width <= maxDim && cfg.Height <= maxDim {
		return data, mimeType, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode: %v", domain.ErrUnsupportedFormat, err)
	}
	img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)

	format, outMIME := imaging.PNG, "image/png"
	if mimeType == "image/jpeg" {
		format, outMIME = imaging.JPEG, "image/jpeg"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		return nil, "", fmt.Errorf("%w: re-encode: %v", domain.ErrUnsupportedFormat, err)
	}
	return buf.Bytes(), outMIME, nil
}

// Format builds the data URI for already validated bytes.
func Format(mimeType string, data []byte) domain.EncodedImage {
	return domain.EncodedImage(dataPrefix + mimeType + ";" + base64Marker + "," + base64.StdEncoding.EncodeToString(data))
}

// Payload splits an encoded image into its MIME type and base64 segment
// without decoding it.
func Payload(img domain.EncodedImage) (mimeType string, payload string, err error) {
	s := strings.TrimSpace(string(img))
	if !strings.HasPrefix(s, dataPrefix) {
		return "", "", fmt.Errorf("%w: not a data URI", domain.ErrUnsupportedFormat)
	}

	header, payload, ok := strings.Cut(s[len(dataPrefix):], ",")
	if !ok || payload == "" {
		return "", "", fmt.Errorf("%w: missing payload", domain.ErrUnsupportedFormat)
	}

	params := strings.Split(header, ";")
	if params[len(params)-1] != base64Marker {
		return "", "", fmt.Errorf("%w: payload is not base64", domain.ErrUnsupportedFormat)
	}

	mimeType, err = imageMIME(params[0])
	if err != nil {
		return "", "", err
	}
	return mimeType, payload, nil
}

// Decode returns the MIME type and raw bytes of an encoded image.
func Decode(img domain.EncodedImage) (string, []byte, error) {
	mimeType, payload, err := Payload(img)
	if err != nil {
		return "", nil, err
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: bad base64: %v", domain.ErrUnsupportedFormat, err)
	}
	return mimeType, data, nil
}

// IsUnsupported reports whether err came from attachment validation.
func IsUnsupported(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedFormat)
}

func imageMIME(declared string) (string, error) {
	m := baseMIME(declared)
	if !strings.HasPrefix(m, "image/") {
		return "", fmt.Errorf("%w: %q is not an image type", domain.ErrUnsupportedFormat, declared)
	}
	return m, nil
}

func baseMIME(s string) string {
	m, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(m))
}
