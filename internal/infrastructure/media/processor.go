// Package media provides image validation and processing for try-on photos.
package media

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"

	"github.com/fashionmirror/fashionmirror-go/internal/domain/widget"
	"github.com/fashionmirror/fashionmirror-go/internal/infrastructure/observability/logging"
)

// Processor handles validation, decoding, and derivative generation for
// uploaded photos and generated results.
type Processor struct {
	maxUploadBytes int64
	thumbnailWidth int
	logger         *logging.ChanneledLogger
}

// NewProcessor creates a media processor with the given upload cap.
func NewProcessor(maxUploadBytes int64, thumbnailWidth int, logger *logging.ChanneledLogger) *Processor {
	return &Processor{
		maxUploadBytes: maxUploadBytes,
		thumbnailWidth: thumbnailWidth,
		logger:         logger,
	}
}

// ValidateUpload checks a photo's size and sniffed content type before it
// enters the pipeline. The declared content type is ignored; the bytes decide.
func (p *Processor) ValidateUpload(data []byte, size int64) error {
	if size > p.maxUploadBytes {
		return widget.NewError(widget.ErrCodeFileTooLarge,
			fmt.Sprintf("Photo is too large. Maximum size is %dMB.", p.maxUploadBytes/(1024*1024)))
	}
	if len(data) == 0 {
		return widget.NewError(widget.ErrCodeInvalidFile, "The selected file is empty.")
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		p.logger.Media().Warn("Rejected non-image upload", "detectedType", mtype.String(), "size", size)
		return widget.NewError(widget.ErrCodeInvalidFile, "The selected file is not an image.")
	}
	return nil
}

// Decode turns validated photo bytes into an image.
func (p *Processor) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, widget.NewError(widget.ErrCodeInvalidFile, "The selected image could not be decoded.")
	}
	return img, nil
}

// MirrorStill flips a camera still horizontally for the selfie feel. The
// mirrored still is re-encoded losslessly as PNG; the flip must not also
// degrade the photo. Upload and model-URL photos are never mirrored.
func (p *Processor) MirrorStill(data []byte) ([]byte, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}

	mirrored := imaging.FlipH(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, mirrored, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode mirrored still: %w", err)
	}
	return buf.Bytes(), nil
}

// Thumbnail produces a webp thumbnail of a generated result image.
func (p *Processor) Thumbnail(data []byte) ([]byte, error) {
	img, err := p.Decode(data)
	if err != nil {
		return nil, err
	}

	resized := imaging.Resize(img, p.thumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, resized, &webp.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
