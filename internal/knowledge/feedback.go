package knowledge

const (
	positiveStep = 0.10
	negativeStep = 0.15
)

// AdjustConfidence applies one reaction to a confidence score. Negative
// feedback moves the score further than positive feedback. The result is
// always clamped to [0, 1].
func AdjustConfidence(confidence float64, positive bool) float64 {
	if positive {
		confidence += positiveStep
	} else {
		confidence -= negativeStep
	}
	return clamp(confidence)
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
