package grading

import "math"

// PredictionResult is the final grade for one image.
type PredictionResult struct {
	Label      ClassLabel `json:"label"`
	Confidence float64    `json:"confidence"`
}

// Decide picks the highest scoring label. On exact ties the lowest index
// wins. Confidence is the winning score as a percentage, rounded to two
// decimals half away from zero.
func Decide(probs ProbabilityVector) PredictionResult {
	best := 0
	for i := 1; i < NumClasses; i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return PredictionResult{
		Label:      ClassLabel(best),
		Confidence: RoundConfidence(probs[best]),
	}
}

// RoundConfidence scales p to a percentage with two decimals.
func RoundConfidence(p float32) float64 {
	return math.Round(float64(p)*10000) / 100
}
