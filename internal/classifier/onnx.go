package classifier

import (
	"context"
	"fmt"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/example/retina-grade/internal/grading"
	"github.com/example/retina-grade/internal/logging"
)

// ONNXConfig locates the model and sizes the session pool.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	PoolSize    int
}

// ONNX runs a Keras-exported Xception model through ONNX Runtime.
// Each pooled session owns its bound tensors and serves one call at a time.
type ONNX struct {
	sessions chan *onnxSession
	all      []*onnxSession
	logger   *zap.Logger
}

type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNX loads the model once and prepares PoolSize sessions. Any failure
// releases what was created and returns an error; callers must not serve
// traffic without a classifier.
func NewONNX(cfg ONNXConfig, logger *zap.Logger) (*ONNX, error) {
	logger = logger.Named("onnx_classifier")
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}

	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, logging.NewOperationError("classifier.init_environment", "", err)
		}
	}

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, logging.NewOperationError("classifier.inspect_model", "", err)
	}
	io, err := resolveIO(inputs, outputs, cfg.InputName, cfg.OutputName)
	if err != nil {
		return nil, logging.NewOperationError("classifier.inspect_model", "", err)
	}

	c := &ONNX{
		sessions: make(chan *onnxSession, cfg.PoolSize),
		logger:   logger,
	}
	for i := 0; i < cfg.PoolSize; i++ {
		s, err := newONNXSession(cfg.ModelPath, io)
		if err != nil {
			c.Close()
			return nil, logging.NewOperationError("classifier.create_session", "", err)
		}
		c.all = append(c.all, s)
		c.sessions <- s
	}

	logger.Info("model loaded",
		zap.String("path", cfg.ModelPath),
		zap.String("input", io.input),
		zap.String("output", io.output),
		zap.Int("pool_size", cfg.PoolSize),
	)
	return c, nil
}

func newONNXSession(modelPath string, io modelIO) (*onnxSession, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(grading.InputShape[:]...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, grading.NumClasses))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(modelPath,
		[]string{io.input}, []string{io.output},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &onnxSession{session: session, input: input, output: output}, nil
}

// Infer runs one forward pass. It waits for a free session or for ctx.
func (c *ONNX) Infer(ctx context.Context, tensor grading.InputTensor) (grading.ProbabilityVector, error) {
	if err := grading.CheckShape(tensor, grading.InputShape); err != nil {
		return grading.ProbabilityVector{}, err
	}

	var s *onnxSession
	select {
	case s = <-c.sessions:
	case <-ctx.Done():
		return grading.ProbabilityVector{}, grading.NewError(grading.KindInference, "no inference session became available", ctx.Err())
	}
	defer func() { c.sessions <- s }()

	copy(s.input.GetData(), tensor.Data)
	if err := s.session.Run(); err != nil {
		return grading.ProbabilityVector{}, grading.NewError(grading.KindInference, "forward pass failed", err)
	}
	return grading.NewProbabilityVector(s.output.GetData())
}

// Close releases every session and the runtime environment.
func (c *ONNX) Close() {
	for _, s := range c.all {
		s.session.Destroy()
		s.input.Destroy()
		s.output.Destroy()
	}
	c.all = nil
	if err := ort.DestroyEnvironment(); err != nil {
		c.logger.Warn("failed to destroy onnx environment", zap.Error(err))
	}
}

type modelIO struct {
	input  string
	output string
}

// resolveIO picks the tensors to bind and checks the model against the
// preprocessing contract and the label enumeration.
func resolveIO(inputs, outputs []ort.InputOutputInfo, inputName, outputName string) (modelIO, error) {
	in, err := pick(inputs, inputName, "input")
	if err != nil {
		return modelIO{}, err
	}
	out, err := pick(outputs, outputName, "output")
	if err != nil {
		return modelIO{}, err
	}

	if len(in.Dimensions) != len(grading.InputShape) {
		return modelIO{}, fmt.Errorf("model input %q has rank %d, expected %d", in.Name, len(in.Dimensions), len(grading.InputShape))
	}
	for i, dim := range in.Dimensions {
		if dim >= 0 && dim != grading.InputShape[i] {
			return modelIO{}, fmt.Errorf("model input %q has shape %v, expected %s", in.Name, in.Dimensions, grading.InputShape)
		}
	}

	if len(out.Dimensions) == 0 {
		return modelIO{}, fmt.Errorf("model output %q has no dimensions", out.Name)
	}
	if err := grading.CheckCardinality(out.Dimensions[len(out.Dimensions)-1]); err != nil {
		return modelIO{}, fmt.Errorf("model output %q: %w", out.Name, err)
	}

	return modelIO{input: in.Name, output: out.Name}, nil
}

func pick(infos []ort.InputOutputInfo, name, role string) (ort.InputOutputInfo, error) {
	if len(infos) == 0 {
		return ort.InputOutputInfo{}, fmt.Errorf("model declares no %s tensors", role)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		if len(infos) > 1 {
			return ort.InputOutputInfo{}, fmt.Errorf("model declares %d %s tensors, configure one by name", len(infos), role)
		}
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("%s tensor %q not found in model", role, name)
}
