package attachment_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/clevercompass/internal/attachment"
	"github.com/PabloGalante/clevercompass/internal/domain"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{})
	raw := pngBytes(t, 8, 8)

	img, err := enc.Encode(context.Background(), bytes.NewReader(raw), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(img), "data:image/png;base64,"))

	mimeType, data, err := attachment.Decode(img)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
	assert.Equal(t, raw, data)
}

func TestEncodeRejectsNonImageMIME(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{})

	_, err := enc.Encode(context.Background(), strings.NewReader("hello"), "text/plain")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
}

func TestEncodeRejectsTextDisguisedAsImage(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{})

	_, err := enc.Encode(context.Background(), strings.NewReader("<html><body>hi</body></html>"), "image/png")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestEncodeUsesSniffedImageType(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{})

	img, err := enc.Encode(context.Background(), bytes.NewReader(pngBytes(t, 2, 2)), "image/jpeg; name=x.jpg")
	require.NoError(t, err)

	mimeType, _, err := attachment.Payload(img)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mimeType)
}

func TestEncodeRejectsEmptyAndOversized(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{MaxBytes: 16})

	_, err := enc.Encode(context.Background(), bytes.NewReader(nil), "image/png")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = enc.Encode(context.Background(), bytes.NewReader(pngBytes(t, 4, 4)), "image/png")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestEncodeStopsOnCanceledContext(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enc.Encode(ctx, bytes.NewReader(pngBytes(t, 2, 2)), "image/png")
	require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestEncodeDownscalesLargeImages(t *testing.T) {
	enc := attachment.NewEncoder(attachment.Options{MaxDimension: 16})

	img, err := enc.Encode(context.Background(), bytes.NewReader(pngBytes(t, 64, 32)), "image/png")
	require.NoError(t, err)

	_, data, err := attachment.Decode(img)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Width)
	assert.Equal(t, 8, cfg.Height)
}

func TestEncodeFile(t *testing.T) {
	dir := t.TempDir()
	enc := attachment.NewEncoder(attachment.Options{})

	pngPath := filepath.Join(dir, "problem.png")
	require.NoError(t, os.WriteFile(pngPath, pngBytes(t, 3, 3), 0o600))

	img, err := enc.EncodeFile(context.Background(), pngPath)
	require.NoError(t, err)
	assert.False(t, img.IsZero())

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("x"), 0o600))

	_, err = enc.EncodeFile(context.Background(), txtPath)
	assert.True(t, attachment.IsUnsupported(err))

	_, err = enc.EncodeFile(context.Background(), filepath.Join(dir, "missing.png"))
	assert.True(t, attachment.IsUnsupported(err))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]domain.EncodedImage{
		"no prefix":  "image/png;base64,AAAA",
		"no payload": "data:image/png;base64,",
		"not base64": "data:image/png,AAAA",
		"not image":  "data:text/plain;base64,aGk=",
		"bad base64": "data:image/png;base64,@@@",
	}

	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := attachment.Decode(img)
			require.ErrorIs(t, err, domain.ErrUnsupportedFormat)
		})
	}
}
