package media

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"testing"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
)

func newTestLogger(t *testing.T) *logging.ChanneledLogger {
	t.Helper()
	logger, err := logging.NewChanneledLogger(&logging.LoggerConfig{
		OutputToFile:    false,
		OutputToConsole: false,
		DefaultLevel:    slog.LevelError,
	})
	if err != nil {
		t.Fatalf("failed to create test logger: %v", err)
	}
	return logger
}

func asymmetricPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	// A single red pixel at the left edge makes mirroring observable.
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestValidateUpload(t *testing.T) {
	t.Parallel()
	p := NewProcessor(10*1024*1024, 300, newTestLogger(t))
	validPNG := asymmetricPNG(t)

	tests := []struct {
		name     string
		data     []byte
		size     int64
		wantCode string
	}{
		{"valid png", validPNG, int64(len(validPNG)), ""},
		{"just over the cap", validPNG, 10*1024*1024 + 1, widget.ErrCodeFileTooLarge},
		{"ten and a half megabytes", validPNG, 10*1024*1024 + 512*1024, widget.ErrCodeFileTooLarge},
		{"empty file", nil, 0, widget.ErrCodeInvalidFile},
		{"html masquerading as photo", []byte("<html><body>nope</body></html>"), 30, widget.ErrCodeInvalidFile},
		{"plain text", []byte("these are not pixels"), 20, widget.ErrCodeInvalidFile},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := p.ValidateUpload(tt.data, tt.size)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("valid upload rejected: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("invalid upload accepted")
			}
			if code := widget.AsError(err).Code; code != tt.wantCode {
				t.Errorf("error code = %s, want %s", code, tt.wantCode)
			}
		})
	}
}

func TestMirrorStill(t *testing.T) {
	t.Parallel()
	p := NewProcessor(10*1024*1024, 300, newTestLogger(t))

	mirrored, err := p.MirrorStill(asymmetricPNG(t))
	if err != nil {
		t.Fatalf("mirror failed: %v", err)
	}

	img, err := p.Decode(mirrored)
	if err != nil {
		t.Fatalf("mirrored still not decodable: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 4 {
		t.Fatalf("mirrored dimensions %dx%d, want 8x4", bounds.Dx(), bounds.Dy())
	}

	// The red pixel started at x=0; after the flip it sits at the right
	// edge, and the lossless re-encode must preserve it exactly.
	left := color.RGBAModel.Convert(img.At(0, 0)).(color.RGBA)
	right := color.RGBAModel.Convert(img.At(7, 0)).(color.RGBA)
	if right.R != 255 {
		t.Errorf("right edge red channel = %d, expected mirrored red pixel intact", right.R)
	}
	if left.R != 0 {
		t.Errorf("left edge red channel = %d, expected red pixel gone", left.R)
	}
}

func TestMirrorStillRejectsGarbage(t *testing.T) {
	t.Parallel()
	p := NewProcessor(10*1024*1024, 300, newTestLogger(t))
	if _, err := p.MirrorStill([]byte("not an image")); err == nil {
		t.Error("garbage bytes mirrored")
	}
}

func TestThumbnailResizes(t *testing.T) {
	t.Parallel()
	p := NewProcessor(10*1024*1024, 4, newTestLogger(t))

	thumb, err := p.Thumbnail(asymmetricPNG(t))
	if err != nil {
		t.Fatalf("thumbnail failed: %v", err)
	}
	if len(thumb) == 0 {
		t.Fatal("empty thumbnail")
	}
}
