package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/retina-grade/internal/grading"
	"github.com/example/retina-grade/internal/logging"
)

const (
	labelCountersKey   = "predictions:labels"
	failureCountersKey = "predictions:failures"
)

// Preprocessor turns uploaded bytes into a model input tensor.
type Preprocessor interface {
	Prepare(raw []byte) (grading.InputTensor, error)
}

// Classifier runs one forward pass.
type Classifier interface {
	Infer(ctx context.Context, tensor grading.InputTensor) (grading.ProbabilityVector, error)
}

// PredictionInput is one uploaded fundus photograph.
type PredictionInput struct {
	UserID   string
	Filename string
	Data     []byte
}

// StageTimings records how long each pipeline stage took.
type StageTimings struct {
	Preprocess time.Duration
	Inference  time.Duration
	Decision   time.Duration
	Total      time.Duration
}

// PredictionOutcome is the result of a successful prediction.
type PredictionOutcome struct {
	RequestID     string
	Result        grading.PredictionResult
	Probabilities grading.ProbabilityVector
	Timings       StageTimings
}

// PredictionUseCase runs the prepare, infer, decide pipeline.
type PredictionUseCase struct {
	preprocessor Preprocessor
	classifier   Classifier
	cache        Cache
	logger       *zap.Logger
	redisRetrier
}

// NewPredictionUseCase constructs a new use case instance.
func NewPredictionUseCase(preprocessor Preprocessor, classifier Classifier, cache Cache, logger *zap.Logger) *PredictionUseCase {
	logger = logger.Named("prediction_usecase")
	return &PredictionUseCase{
		preprocessor: preprocessor,
		classifier:   classifier,
		cache:        cache,
		logger:       logger,
		redisRetrier: newRedisRetrier(logger),
	}
}

// Predict grades one image. Input and decode failures return before the
// classifier is called; no partial result is ever returned.
func (uc *PredictionUseCase) Predict(ctx context.Context, in PredictionInput) (*PredictionOutcome, error) {
	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.predict", requestID).With(
		zap.String("user_id", in.UserID),
		zap.String("filename", in.Filename),
		zap.Int("bytes", len(in.Data)),
	)
	start := time.Now()

	tensor, err := uc.preprocessor.Prepare(in.Data)
	if err != nil {
		return nil, uc.fail(ctx, opLogger, "usecase.preprocess", requestID, err)
	}
	prepared := time.Now()

	probs, err := uc.classifier.Infer(ctx, tensor)
	if err != nil {
		return nil, uc.fail(ctx, opLogger, "usecase.infer", requestID, err)
	}
	inferred := time.Now()

	result := grading.Decide(probs)
	done := time.Now()

	outcome := &PredictionOutcome{
		RequestID:     requestID,
		Result:        result,
		Probabilities: probs,
		Timings: StageTimings{
			Preprocess: prepared.Sub(start),
			Inference:  inferred.Sub(prepared),
			Decision:   done.Sub(inferred),
			Total:      done.Sub(start),
		},
	}

	opLogger.Info("prediction completed",
		zap.Stringer("label", result.Label),
		zap.Float64("confidence", result.Confidence),
		zap.Duration("preprocess", outcome.Timings.Preprocess),
		zap.Duration("inference", outcome.Timings.Inference),
		zap.Duration("total", outcome.Timings.Total),
	)
	uc.count(ctx, requestID, labelCountersKey, result.Label.String())
	return outcome, nil
}

func (uc *PredictionUseCase) fail(ctx context.Context, opLogger *zap.Logger, operation, requestID string, err error) error {
	wrapped := logging.NewOperationError(operation, requestID, err)
	kind, ok := grading.KindOf(err)
	if !ok {
		kind = grading.KindInference
	}
	fields := append([]zap.Field{zap.String("kind", string(kind))}, logging.ErrorFields(wrapped)...)
	if kind.UserFacing() {
		opLogger.Warn("prediction rejected", fields...)
	} else {
		opLogger.Error("prediction failed", fields...)
	}
	uc.count(ctx, requestID, failureCountersKey, string(kind))
	return wrapped
}

// count bumps a metrics counter. Counter failures are logged and dropped.
func (uc *PredictionUseCase) count(ctx context.Context, requestID, key, field string) {
	if uc.cache == nil {
		return
	}
	err := uc.withRedisRetry(ctx, requestID, "cache.incr."+key, func() error {
		return uc.cache.HIncrBy(ctx, key, field, 1)
	})
	if err != nil {
		logging.WithOperation(uc.logger, "usecase.count", requestID).Warn("failed to update prediction counter", zap.String("field", field), zap.Error(err))
	}
}
