package services

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"os"

	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	jpegMimeType = "image/jpeg"
	jpegQuality  = 90
)

// ImageEncoder turns a local image file into an inline JPEG payload.
type ImageEncoder struct {
	quality int
	logger  *zap.SugaredLogger
	metrics *Metrics
}

func NewImageEncoder(logger *zap.SugaredLogger, metrics *Metrics) *ImageEncoder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ImageEncoder{quality: jpegQuality, logger: logger, metrics: metrics}
}

// Encode returns nil when there is no path or the image cannot be used.
func (e *ImageEncoder) Encode(path string) *InlineData {
	if path == "" {
		return nil
	}
	data, err := e.EncodeFile(path)
	e.metrics.observeImage(err == nil)
	if err != nil {
		e.logger.Warnw("Error loading image", "path", path, "error", err)
		return nil
	}
	return data
}

func (e *ImageEncoder) EncodeFile(path string) (*InlineData, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("invalid image size: %dx%d", b.Dx(), b.Dy())
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, toRGB(img), &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	return &InlineData{
		MimeType: jpegMimeType,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// toRGB drops the alpha channel, keeping the straight (unpremultiplied) colour.
func toRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}
