package media

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/webp"

	"github.com/magisk317/napgram/internal/logger"
)

const (
	// DefaultImageBudget is the size ceiling for outbound photos.
	DefaultImageBudget = 10 * 1024 * 1024
	// maxImageDimension caps either side before re-encoding.
	maxImageDimension = 1920
)

// qualityLadder is walked downwards until the result fits the budget.
var qualityLadder = []int{80, 60, 40, 20}

// ImageCompressor shrinks images to a size budget without ever failing a
// send: anything it cannot handle passes through unchanged with a warning.
type ImageCompressor struct {
	budget int
	log    *logger.Logger
}

// NewImageCompressor creates a compressor with the given byte budget.
// A zero budget selects the default.
func NewImageCompressor(budget int, log *logger.Logger) *ImageCompressor {
	if budget <= 0 {
		budget = DefaultImageBudget
	}
	return &ImageCompressor{budget: budget, log: log.Component("media")}
}

// Compress returns image bytes no larger than the budget where possible.
// Output is JPEG whenever re-encoding happened.
func (c *ImageCompressor) Compress(data []byte) []byte {
	if len(data) <= c.budget {
		return data
	}

	mime := mimetype.Detect(data).String()
	img, err := decodeImage(data, mime)
	if err != nil {
		c.log.Warn().Str("mime", mime).Err(err).Msg("unsupported image format, passing through")
		return data
	}

	img = shrinkToFit(img)

	for _, quality := range qualityLadder {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			c.log.Warn().Err(err).Msg("jpeg encode failed, passing through")
			return data
		}
		if buf.Len() <= c.budget {
			return buf.Bytes()
		}
	}

	// still over budget at the quality floor: send anyway
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: qualityLadder[len(qualityLadder)-1]}); err != nil {
		return data
	}
	c.log.Warn().Int("size", buf.Len()).Int("budget", c.budget).
		Msg("image still over budget at quality floor")
	return buf.Bytes()
}

// decodeImage decodes the formats the compressor supports. WebP lacks a
// lossy encoder in this stack, so it is decoded here and re-encoded as
// JPEG/PNG downstream.
func decodeImage(data []byte, mime string) (image.Image, error) {
	switch mime {
	case "image/jpeg", "image/png", "image/gif":
		img, _, err := image.Decode(bytes.NewReader(data))
		return img, err
	case "image/webp":
		return webp.Decode(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("format %s not in supported set", mime)
	}
}

// shrinkToFit scales the image down proportionally when either dimension
// exceeds the cap.
func shrinkToFit(img image.Image) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxImageDimension && h <= maxImageDimension {
		return img
	}

	scale := float64(maxImageDimension) / float64(w)
	if h > w {
		scale = float64(maxImageDimension) / float64(h)
	}
	nw := int(float64(w) * scale)
	nh := int(float64(h) * scale)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

// ToPNG re-encodes any supported raster as lossless PNG. Used for static
// stickers so the receiving platform never misreads a renamed WebP as JPEG.
func ToPNG(data []byte) ([]byte, error) {
	mime := mimetype.Detect(data).String()
	if mime == "image/png" {
		return data, nil
	}
	img, err := decodeImage(data, mime)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mime, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
