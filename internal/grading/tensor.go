package grading

import (
	"fmt"
	"math"
)

// ImageSize is the spatial resolution the classifier was trained on.
const ImageSize = 299

// Channels is the number of colour channels per pixel.
const Channels = 3

// Shape is an NHWC tensor shape.
type Shape [4]int64

// InputShape is the exact shape every InputTensor must have.
var InputShape = Shape{1, ImageSize, ImageSize, Channels}

// Elements returns the number of values a tensor of this shape holds.
func (s Shape) Elements() int64 {
	n := int64(1)
	for _, d := range s {
		n *= d
	}
	return n
}

func (s Shape) String() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", s[0], s[1], s[2], s[3])
}

// InputTensor is one preprocessed image packed as a batch of one.
// Data is row-major NHWC with values in [-1, 1].
type InputTensor struct {
	Shape Shape
	Data  []float32
}

// CheckShape returns a shape_mismatch error when t does not match want.
func CheckShape(t InputTensor, want Shape) error {
	if t.Shape != want {
		return NewError(KindShapeMismatch, fmt.Sprintf("tensor shape %s does not match model input %s", t.Shape, want), nil)
	}
	if int64(len(t.Data)) != want.Elements() {
		return NewError(KindShapeMismatch, fmt.Sprintf("tensor holds %d values, shape %s needs %d", len(t.Data), want, want.Elements()), nil)
	}
	return nil
}

// ProbabilityVector holds one score per ClassLabel, in label order.
type ProbabilityVector [NumClasses]float32

// SumTolerance is how far the scores of a ProbabilityVector may sum from 1.
const SumTolerance = 1e-3

// NewProbabilityVector validates raw model output and converts it.
// The scores must form a distribution: one finite value in [0, 1] per label,
// summing to 1 within SumTolerance. Anything else is an inference error.
func NewProbabilityVector(scores []float32) (ProbabilityVector, error) {
	var probs ProbabilityVector
	if len(scores) != NumClasses {
		return probs, NewError(KindInference, fmt.Sprintf("model returned %d scores, expected %d", len(scores), NumClasses), nil)
	}
	var sum float64
	for i, v := range scores {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > 1+SumTolerance {
			return probs, NewError(KindInference, fmt.Sprintf("model returned invalid score %v for %s", v, ClassLabel(i)), nil)
		}
		sum += f
		probs[i] = v
	}
	if math.Abs(sum-1) > SumTolerance {
		return probs, NewError(KindInference, fmt.Sprintf("model scores sum to %.4f, not a probability distribution", sum), nil)
	}
	return probs, nil
}

// ByLabel returns the vector keyed by label name.
func (p ProbabilityVector) ByLabel() map[string]float32 {
	out := make(map[string]float32, NumClasses)
	for i, v := range p {
		out[ClassLabel(i).String()] = v
	}
	return out
}
