package classifier

import (
	"context"
	"errors"
	"testing"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/retina-grade/internal/grading"
)

func info(name string, dims ...int64) ort.InputOutputInfo {
	return ort.InputOutputInfo{Name: name, Dimensions: ort.NewShape(dims...)}
}

func TestResolveIODiscoversSingleTensors(t *testing.T) {
	io, err := resolveIO(
		[]ort.InputOutputInfo{info("input_1", -1, 299, 299, 3)},
		[]ort.InputOutputInfo{info("dense_2", -1, 5)},
		"", "",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if io.input != "input_1" || io.output != "dense_2" {
		t.Fatalf("unexpected tensors: %+v", io)
	}
}

func TestResolveIOUsesConfiguredNames(t *testing.T) {
	io, err := resolveIO(
		[]ort.InputOutputInfo{info("a", 1, 299, 299, 3), info("b", 1, 299, 299, 3)},
		[]ort.InputOutputInfo{info("logits", 1, 1000), info("probs", 1, 5)},
		"b", "probs",
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if io.input != "b" || io.output != "probs" {
		t.Fatalf("unexpected tensors: %+v", io)
	}
}

func TestResolveIORejectsIncompatibleModels(t *testing.T) {
	cases := map[string]struct {
		inputs  []ort.InputOutputInfo
		outputs []ort.InputOutputInfo
		in, out string
	}{
		"wrong resolution": {
			inputs:  []ort.InputOutputInfo{info("x", -1, 224, 224, 3)},
			outputs: []ort.InputOutputInfo{info("y", -1, 5)},
		},
		"channels first rank": {
			inputs:  []ort.InputOutputInfo{info("x", 3, 299, 299)},
			outputs: []ort.InputOutputInfo{info("y", -1, 5)},
		},
		"wrong class count": {
			inputs:  []ort.InputOutputInfo{info("x", -1, 299, 299, 3)},
			outputs: []ort.InputOutputInfo{info("y", -1, 4)},
		},
		"ambiguous input": {
			inputs:  []ort.InputOutputInfo{info("x", -1, 299, 299, 3), info("z", -1, 299, 299, 3)},
			outputs: []ort.InputOutputInfo{info("y", -1, 5)},
		},
		"unknown output name": {
			inputs:  []ort.InputOutputInfo{info("x", -1, 299, 299, 3)},
			outputs: []ort.InputOutputInfo{info("y", -1, 5)},
			out:     "missing",
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := resolveIO(tc.inputs, tc.outputs, tc.in, tc.out); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestInferRejectsWrongShapeBeforeTouchingSessions(t *testing.T) {
	c := &ONNX{sessions: make(chan *onnxSession), logger: zap.NewNop()}

	_, err := c.Infer(context.Background(), grading.InputTensor{Shape: grading.Shape{1, 3, 299, 299}, Data: make([]float32, 3*299*299)})
	if !errors.Is(err, grading.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestInferHonoursContextWhilePoolIsBusy(t *testing.T) {
	c := &ONNX{sessions: make(chan *onnxSession), logger: zap.NewNop()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tensor := grading.InputTensor{Shape: grading.InputShape, Data: make([]float32, grading.InputShape.Elements())}
	_, err := c.Infer(ctx, tensor)
	if !errors.Is(err, grading.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cause, got %v", err)
	}
}
