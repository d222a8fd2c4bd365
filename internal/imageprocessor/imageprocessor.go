package imageprocessor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/example/retina-grade/internal/grading"
)

// ErrUnsupportedFormat marks input whose content is not an image format the
// preprocessor can decode. It is always wrapped in a decode error.
var ErrUnsupportedFormat = errors.New("unsupported image format")

// SupportedFormats lists the MIME types Prepare accepts.
var SupportedFormats = []string{"image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff", "image/webp"}

// ChannelOrder selects how colour channels are laid out in the tensor.
type ChannelOrder string

const (
	ChannelOrderRGB ChannelOrder = "rgb"
	ChannelOrderBGR ChannelOrder = "bgr"
)

// ParseChannelOrder accepts "rgb" or "bgr", case-insensitive.
func ParseChannelOrder(value string) (ChannelOrder, error) {
	switch order := ChannelOrder(strings.ToLower(strings.TrimSpace(value))); order {
	case ChannelOrderRGB, ChannelOrderBGR:
		return order, nil
	default:
		return "", fmt.Errorf("unsupported channel order %q", value)
	}
}

// Preprocessor turns raw image bytes into the classifier's input tensor.
type Preprocessor struct {
	size  uint
	order ChannelOrder
}

// New returns a Preprocessor producing grading.InputShape tensors.
func New(order ChannelOrder) *Preprocessor {
	if order == "" {
		order = ChannelOrderRGB
	}
	return &Preprocessor{size: grading.ImageSize, order: order}
}

// Prepare decodes raw, resizes it to 299x299 with bilinear interpolation
// ignoring aspect ratio, scales every channel to [-1, 1] with
// pixel/127.5 - 1 and returns it as a batch of one.
func (p *Preprocessor) Prepare(raw []byte) (grading.InputTensor, error) {
	if len(raw) == 0 {
		return grading.InputTensor{}, grading.NewError(grading.KindEmptyInput, "no image data supplied", nil)
	}

	if mtype := mimetype.Detect(raw); !isSupported(mtype) {
		return grading.InputTensor{}, grading.NewError(grading.KindDecode, fmt.Sprintf("content is %s, not a supported image", mtype.String()), ErrUnsupportedFormat)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return grading.InputTensor{}, grading.NewError(grading.KindDecode, "image could not be decoded", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return grading.InputTensor{}, grading.NewError(grading.KindDecode, fmt.Sprintf("%s image has no pixels", format), nil)
	}

	resized := resize.Resize(p.size, p.size, img, resize.Bilinear)
	return p.normalize(resized), nil
}

func isSupported(mtype *mimetype.MIME) bool {
	for _, t := range SupportedFormats {
		if mtype.Is(t) {
			return true
		}
	}
	return false
}

func (p *Preprocessor) normalize(img image.Image) grading.InputTensor {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]float32, width*height*grading.Channels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			first, last := px.R, px.B
			if p.order == ChannelOrderBGR {
				first, last = px.B, px.R
			}
			data[i] = scale(first)
			data[i+1] = scale(px.G)
			data[i+2] = scale(last)
			i += grading.Channels
		}
	}

	return grading.InputTensor{
		Shape: grading.Shape{1, int64(height), int64(width), grading.Channels},
		Data:  data,
	}
}

func scale(v uint8) float32 {
	return float32(v)/127.5 - 1
}
