package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"testing"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/example/retina-grade/internal/grading"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("failed to encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: 128, A: 255})
		}
	}
	return img
}

func uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestPrepareProducesModelShapeForAnyResolution(t *testing.T) {
	sizes := [][2]int{{1, 1}, {50, 80}, {299, 299}, {640, 480}, {1000, 17}}
	p := New(ChannelOrderRGB)

	for _, size := range sizes {
		raw := encodePNG(t, gradient(size[0], size[1]))
		tensor, err := p.Prepare(raw)
		if err != nil {
			t.Fatalf("%dx%d: unexpected error: %v", size[0], size[1], err)
		}
		if err := grading.CheckShape(tensor, grading.InputShape); err != nil {
			t.Fatalf("%dx%d: %v", size[0], size[1], err)
		}
		for i, v := range tensor.Data {
			if v < -1 || v > 1 {
				t.Fatalf("%dx%d: value %v at %d out of range", size[0], size[1], v, i)
			}
		}
	}
}

func TestPrepareScalesToSignedUnitRange(t *testing.T) {
	p := New(ChannelOrderRGB)
	raw := encodePNG(t, uniform(10, 10, color.RGBA{R: 255, G: 0, B: 51, A: 255}))

	tensor, err := p.Prepare(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := [3]float64{1, -1, 51/127.5 - 1}
	for c := 0; c < 3; c++ {
		if got := float64(tensor.Data[c]); math.Abs(got-want[c]) > 1e-6 {
			t.Fatalf("channel %d: expected %v, got %v", c, want[c], got)
		}
	}
}

func TestPrepareBGROrderSwapsChannels(t *testing.T) {
	raw := encodePNG(t, uniform(4, 4, color.RGBA{R: 255, G: 0, B: 0, A: 255}))

	tensor, err := New(ChannelOrderBGR).Prepare(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tensor.Data[0] != -1 || tensor.Data[2] != 1 {
		t.Fatalf("expected blue first and red last, got %v", tensor.Data[:3])
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	p := New(ChannelOrderRGB)
	raw := encodeJPEG(t, gradient(321, 123))

	first, err := p.Prepare(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := p.Prepare(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range first.Data {
		if first.Data[i] != second.Data[i] {
			t.Fatalf("value %d differs between runs", i)
		}
	}
}

func TestPrepareRejectsEmptyInput(t *testing.T) {
	_, err := New(ChannelOrderRGB).Prepare(nil)
	if !errors.Is(err, grading.ErrEmptyInput) {
		t.Fatalf("expected empty input error, got %v", err)
	}
}

func TestPrepareRejectsTruncatedJPEG(t *testing.T) {
	raw := encodeJPEG(t, gradient(64, 64))
	_, err := New(ChannelOrderRGB).Prepare(raw[:len(raw)/2])
	if !errors.Is(err, grading.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestPrepareRejectsUnknownFormat(t *testing.T) {
	_, err := New(ChannelOrderRGB).Prepare([]byte("definitely not an image"))
	if !errors.Is(err, grading.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported format, got %v", err)
	}
}

func TestPrepareAcceptsBMPAndTIFF(t *testing.T) {
	img := gradient(40, 30)
	var bmpBuf, tiffBuf bytes.Buffer
	if err := bmp.Encode(&bmpBuf, img); err != nil {
		t.Fatalf("failed to encode bmp: %v", err)
	}
	if err := tiff.Encode(&tiffBuf, img, nil); err != nil {
		t.Fatalf("failed to encode tiff: %v", err)
	}

	p := New(ChannelOrderRGB)
	for name, raw := range map[string][]byte{"bmp": bmpBuf.Bytes(), "tiff": tiffBuf.Bytes()} {
		tensor, err := p.Prepare(raw)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		if err := grading.CheckShape(tensor, grading.InputShape); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
}

func TestParseChannelOrder(t *testing.T) {
	if order, err := ParseChannelOrder(" BGR "); err != nil || order != ChannelOrderBGR {
		t.Fatalf("expected bgr, got %q, %v", order, err)
	}
	if _, err := ParseChannelOrder("hsv"); err == nil {
		t.Fatal("expected error for unsupported order")
	}
}
