package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDecode(t *testing.T) {
	data := encodeJPEG(t, testImage(40, 20))
	img, format, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("expected jpeg, got %s", format)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Errorf("unexpected bounds %v", img.Bounds())
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(4, 4)); err != nil {
		t.Fatal(err)
	}
	if _, format, err := Decode(buf.Bytes()); err != nil || format != "png" {
		t.Errorf("expected png, got %s %v", format, err)
	}

	if _, _, err := Decode([]byte("not an image")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		format string
		ct     string
		ext    string
	}{
		{"jpeg", "image/jpeg", "jpg"},
		{"png", "image/png", "png"},
		{"gif", "image/png", "png"},
		{"webp", "image/png", "png"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			ct, ext := ContentType(tt.format)
			if ct != tt.ct || ext != tt.ext {
				t.Errorf("ContentType(%s) = %s, %s", tt.format, ct, ext)
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		name       string
		w, h       int
		maxW, maxH int
		wantW      int
		wantH      int
	}{
		{"landscape", 1200, 600, 300, 300, 300, 150},
		{"portrait", 600, 1200, 300, 300, 150, 300},
		{"already fits", 200, 100, 300, 300, 200, 100},
		{"never upscales", 10, 10, 300, 300, 10, 10},
		{"custom box", 1000, 1000, 500, 250, 250, 250},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fit(testImage(tt.w, tt.h), tt.maxW, tt.maxH).Bounds()
			if got.Dx() != tt.wantW || got.Dy() != tt.wantH {
				t.Errorf("Fit() = %dx%d, want %dx%d", got.Dx(), got.Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestThumbnail(t *testing.T) {
	b := Thumbnail(testImage(900, 450)).Bounds()
	if b.Dx() != 300 || b.Dy() != 150 {
		t.Errorf("unexpected thumbnail %v", b)
	}
}

func TestCrop(t *testing.T) {
	img := testImage(100, 80)
	c, err := Crop(img, 10, 20, 50, 60)
	if err != nil {
		t.Fatal(err)
	}
	if c.Bounds().Dx() != 40 || c.Bounds().Dy() != 40 {
		t.Errorf("unexpected crop %v", c.Bounds())
	}
	if got := c.RGBAAt(0, 0); got.R != 10 || got.G != 20 {
		t.Errorf("crop origin pixel = %v", got)
	}

	c, err = Crop(img, 90, 70, 150, 150)
	if err != nil {
		t.Fatal(err)
	}
	if c.Bounds().Dx() != 10 || c.Bounds().Dy() != 10 {
		t.Errorf("expected clamped crop, got %v", c.Bounds())
	}

	if _, err := Crop(img, 200, 200, 300, 300); err == nil {
		t.Error("expected error for crop outside the image")
	}
}

func TestToRGB(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.NRGBA{R: 255, A: 255})
	src.Set(1, 0, color.NRGBA{A: 0})

	rgb := ToRGB(src)
	if got := rgb.RGBAAt(0, 0); got != (color.RGBA{R: 255, A: 255}) {
		t.Errorf("opaque pixel changed: %v", got)
	}
	if got := rgb.RGBAAt(1, 0); got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("transparent pixel should become white, got %v", got)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{"800x600", Size{800, 600}, false},
		{" 1024X768 ", Size{1024, 768}, false},
		{"800", Size{}, true},
		{"0x600", Size{}, true},
		{"ax600", Size{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSize(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSize(%q) error = %v", tt.in, err)
			}
			if !tt.wantErr && *got != tt.want {
				t.Errorf("ParseSize(%q) = %v", tt.in, got)
			}
		})
	}
}

func TestNormalizeDateTime(t *testing.T) {
	tests := map[string]string{
		"2023:01:02 10:11:12": "2023-01-02",
		"2023:01:02":          "2023-01-02",
		"":                    "",
	}
	for in, want := range tests {
		if got := NormalizeDateTime(in); got != want {
			t.Errorf("NormalizeDateTime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractEXIF_NoExif(t *testing.T) {
	got := ExtractEXIF(encodeJPEG(t, testImage(8, 8)), []string{"DateTime", "Make"})
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}
