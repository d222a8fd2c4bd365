package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/example/retina-grade/internal/grading"
)

type stubInferer struct {
	probs grading.ProbabilityVector
	err   error
	calls int
	last  grading.InputTensor
}

func (s *stubInferer) Infer(ctx context.Context, tensor grading.InputTensor) (grading.ProbabilityVector, error) {
	s.calls++
	s.last = tensor
	return s.probs, s.err
}

func startModelServer(t *testing.T, inferer Inferer) *RemoteClassifier {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterModelServer(server, NewModelServer(inferer, zap.NewNop()))
	go server.Serve(lis) //nolint:errcheck
	t.Cleanup(server.Stop)

	conn, err := grpc.DialContext(context.Background(), "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("failed to dial bufconn: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	return NewRemoteClassifier(conn, zap.NewNop())
}

func validTensor() grading.InputTensor {
	data := make([]float32, grading.InputShape.Elements())
	for i := range data {
		data[i] = float32(i%255)/127.5 - 1
	}
	return grading.InputTensor{Shape: grading.InputShape, Data: data}
}

func TestRemoteInferRoundTrip(t *testing.T) {
	stub := &stubInferer{probs: grading.ProbabilityVector{0.05, 0.05, 0.05, 0.8, 0.05}}
	client := startModelServer(t, stub)

	tensor := validTensor()
	probs, err := client.Infer(context.Background(), tensor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probs != stub.probs {
		t.Fatalf("expected %v, got %v", stub.probs, probs)
	}
	if stub.calls != 1 {
		t.Fatalf("expected one remote call, got %d", stub.calls)
	}
	for _, i := range []int{0, 1234, len(tensor.Data) - 1} {
		if stub.last.Data[i] != tensor.Data[i] {
			t.Fatalf("tensor value %d corrupted in transit", i)
		}
	}
}

func TestRemoteInferMapsServerFailureToInferenceError(t *testing.T) {
	stub := &stubInferer{err: grading.NewError(grading.KindInference, "forward pass failed", errors.New("oom"))}
	client := startModelServer(t, stub)

	_, err := client.Infer(context.Background(), validTensor())
	if !errors.Is(err, grading.ErrInference) {
		t.Fatalf("expected inference error, got %v", err)
	}
}

func TestRemoteInferMapsServerShapeRejection(t *testing.T) {
	stub := &stubInferer{err: grading.NewError(grading.KindShapeMismatch, "bad shape", nil)}
	client := startModelServer(t, stub)

	_, err := client.Infer(context.Background(), validTensor())
	if !errors.Is(err, grading.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
}

func TestRemoteInferRejectsUnnormalisedScores(t *testing.T) {
	stub := &stubInferer{probs: grading.ProbabilityVector{3.5, 1.2, 0.4, 0.1, 0}}
	client := startModelServer(t, stub)

	_, err := client.Infer(context.Background(), validTensor())
	if !errors.Is(err, grading.ErrInference) {
		t.Fatalf("expected inference error for raw logits, got %v", err)
	}
}

func TestRemoteInferChecksShapeLocally(t *testing.T) {
	stub := &stubInferer{}
	client := startModelServer(t, stub)

	_, err := client.Infer(context.Background(), grading.InputTensor{Shape: grading.Shape{1, 2, 2, 3}, Data: make([]float32, 12)})
	if !errors.Is(err, grading.ErrShapeMismatch) {
		t.Fatalf("expected shape mismatch, got %v", err)
	}
	if stub.calls != 0 {
		t.Fatalf("expected no remote call, got %d", stub.calls)
	}
}

func TestDecodeTensorRejectsPartialValues(t *testing.T) {
	if _, err := DecodeTensor([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated payload")
	}
	values, err := DecodeTensor(EncodeTensor([]float32{-1, 0, 1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if values[0] != -1 || values[1] != 0 || values[2] != 1 {
		t.Fatalf("unexpected values: %v", values)
	}
}
