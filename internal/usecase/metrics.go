package usecase

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/example/retina-grade/internal/grading"
)

// MetricsSummary represents aggregated prediction counters.
type MetricsSummary struct {
	TotalPredictions int64            `json:"total_predictions"`
	ByLabel          map[string]int64 `json:"by_label"`
	Failures         map[string]int64 `json:"failures"`
	FailureRate      float64          `json:"failure_rate"`
}

// GetMetricsSummary aggregates prediction counters from the cache.
// Without a cache every counter reads as zero.
func (uc *PredictionUseCase) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	labels, err := uc.readCounters(ctx, labelCountersKey)
	if err != nil {
		return nil, err
	}
	failures, err := uc.readCounters(ctx, failureCountersKey)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		ByLabel:  make(map[string]int64, grading.NumClasses),
		Failures: failures,
	}
	for _, label := range grading.Labels() {
		n := labels[label.String()]
		summary.ByLabel[label.String()] = n
		summary.TotalPredictions += n
	}

	var failed int64
	for _, n := range failures {
		failed += n
	}
	if attempts := summary.TotalPredictions + failed; attempts > 0 {
		summary.FailureRate = float64(failed) / float64(attempts)
	}
	return summary, nil
}

func (uc *PredictionUseCase) readCounters(ctx context.Context, key string) (map[string]int64, error) {
	if uc.cache == nil {
		return map[string]int64{}, nil
	}
	var raw map[string]string
	err := uc.withRedisRetry(ctx, "", "cache.hgetall."+key, func() error {
		values, err := uc.cache.HGetAll(ctx, key)
		if err != nil {
			return err
		}
		raw = values
		return nil
	})
	if err != nil {
		return nil, err
	}

	counters := make(map[string]int64, len(raw))
	for field, value := range raw {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			uc.logger.Warn("ignoring malformed counter", zap.String("key", key), zap.String("field", field), zap.String("value", value))
			continue
		}
		counters[field] = n
	}
	return counters, nil
}
