// Package imaging decodes uploads and derives thumbnails, crops and EXIF metadata.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/pixpursuit/internal/constants"
)

// ErrUnsupportedFormat is returned for bytes no registered decoder accepts.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// Decode decodes data and returns the raster with its format name ("jpeg", "png", ...).
func Decode(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if errors.Is(err, image.ErrFormat) {
		return nil, "", ErrUnsupportedFormat
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// ContentType maps a decoded format to the stored content type and file
// extension. JPEG is kept as is, everything else is stored as PNG.
func ContentType(format string) (contentType, ext string) {
	if format == "jpeg" {
		return "image/jpeg", "jpg"
	}
	return "image/png", "png"
}

// Encode encodes img in the storage format chosen by ContentType.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if format == "jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// Size is a bounding box in pixels.
type Size struct {
	Width  int
	Height int
}

// ParseSize parses "WxH".
func ParseSize(s string) (*Size, error) {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return nil, fmt.Errorf("invalid size %q, expected WxH", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return nil, fmt.Errorf("invalid width in %q", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return nil, fmt.Errorf("invalid height in %q", s)
	}
	return &Size{Width: width, Height: height}, nil
}

// Fit scales img down to fit inside maxW x maxH keeping the aspect ratio.
// Images that already fit are returned unchanged.
func Fit(img image.Image, maxW, maxH int) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxW && height <= maxH {
		return img
	}

	scale := min(float64(maxW)/float64(width), float64(maxH)/float64(height))
	newWidth := max(int(math.Round(float64(width)*scale)), 1)
	newHeight := max(int(math.Round(float64(height)*scale)), 1)

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// Thumbnail returns img fitted into the thumbnail box.
func Thumbnail(img image.Image) image.Image {
	return Fit(img, constants.ThumbnailSize, constants.ThumbnailSize)
}

// ToRGB flattens img onto an opaque white canvas.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// Crop returns the part of img inside (x0, y0, x1, y1), clamped to the image.
func Crop(img image.Image, x0, y0, x1, y1 float64) (*image.RGBA, error) {
	b := img.Bounds()
	r := image.Rect(int(x0), int(y0), int(x1), int(y1)).Add(b.Min).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("crop (%.0f,%.0f,%.0f,%.0f) is outside the image", x0, y0, x1, y1)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
	return dst, nil
}

// Resize scales img to exactly width x height with bilinear filtering.
func Resize(img image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}
