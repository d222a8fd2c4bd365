package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/example/retina-grade/internal/grading"
	"github.com/example/retina-grade/internal/logging"
)

// DialModelServer returns a classifier backed by a remote model server.
func DialModelServer(ctx context.Context, addr string, logger *zap.Logger) (*RemoteClassifier, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_model_server", "", err)
		logger.Error("failed to dial model server", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewRemoteClassifier(conn, logger), conn, nil
}

// RemoteClassifier sends preprocessed tensors to a model server.
type RemoteClassifier struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewRemoteClassifier wraps an established connection.
func NewRemoteClassifier(conn grpc.ClientConnInterface, logger *zap.Logger) *RemoteClassifier {
	return &RemoteClassifier{conn: conn, logger: logger.Named("remote_classifier")}
}

// Infer checks the tensor shape locally, then performs one remote forward pass.
func (r *RemoteClassifier) Infer(ctx context.Context, tensor grading.InputTensor) (grading.ProbabilityVector, error) {
	if err := grading.CheckShape(tensor, grading.InputShape); err != nil {
		return grading.ProbabilityVector{}, err
	}

	req := wrapperspb.Bytes(EncodeTensor(tensor.Data))
	resp := &structpb.ListValue{}
	if err := r.conn.Invoke(ctx, InferMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.infer", "", err)
		r.logger.Error("model server call failed", zap.Error(wrapped))
		if status.Code(err) == codes.InvalidArgument {
			return grading.ProbabilityVector{}, grading.NewError(grading.KindShapeMismatch, "model server rejected the tensor", wrapped)
		}
		return grading.ProbabilityVector{}, grading.NewError(grading.KindInference, "model server call failed", wrapped)
	}

	scores := make([]float32, 0, len(resp.GetValues()))
	for _, v := range resp.GetValues() {
		n, ok := v.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return grading.ProbabilityVector{}, grading.NewError(grading.KindInference, "model server returned a non-numeric score", nil)
		}
		scores = append(scores, float32(n.NumberValue))
	}
	return grading.NewProbabilityVector(scores)
}
