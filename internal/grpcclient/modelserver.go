package grpcclient

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/retina-grade/internal/grading"
)

// InferMethod is the full gRPC method name of the forward pass.
// The request is a BytesValue holding the little-endian float32 NHWC tensor;
// the response is a ListValue of per-label probabilities.
const InferMethod = "/retinagrade.v1.ModelServer/Infer"

// ModelServer is the server side of InferMethod.
type ModelServer interface {
	Infer(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.ListValue, error)
}

var modelServerDesc = grpc.ServiceDesc{
	ServiceName: "retinagrade.v1.ModelServer",
	HandlerType: (*ModelServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Infer", Handler: inferHandler},
	},
	Metadata: "retinagrade/v1/model_server.proto",
}

// RegisterModelServer exposes srv on s.
func RegisterModelServer(s grpc.ServiceRegistrar, srv ModelServer) {
	s.RegisterService(&modelServerDesc, srv)
}

func inferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ModelServer).Infer(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: InferMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ModelServer).Infer(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Inferer is a local forward pass.
type Inferer interface {
	Infer(ctx context.Context, tensor grading.InputTensor) (grading.ProbabilityVector, error)
}

type localModelServer struct {
	classifier Inferer
	logger     *zap.Logger
}

// NewModelServer serves a local classifier to remote callers.
func NewModelServer(classifier Inferer, logger *zap.Logger) ModelServer {
	return &localModelServer{classifier: classifier, logger: logger.Named("model_server")}
}

func (s *localModelServer) Infer(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.ListValue, error) {
	data, err := DecodeTensor(req.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	probs, err := s.classifier.Infer(ctx, grading.InputTensor{Shape: grading.InputShape, Data: data})
	if err != nil {
		s.logger.Warn("remote inference failed", zap.Error(err))
		if kind, _ := grading.KindOf(err); kind == grading.KindShapeMismatch {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}

	values := make([]*structpb.Value, 0, len(probs))
	for _, p := range probs {
		values = append(values, structpb.NewNumberValue(float64(p)))
	}
	return &structpb.ListValue{Values: values}, nil
}

// EncodeTensor packs values as little-endian float32.
func EncodeTensor(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeTensor is the inverse of EncodeTensor.
func DecodeTensor(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("tensor payload of %d bytes is not a whole number of float32 values", len(buf))
	}
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return values, nil
}
