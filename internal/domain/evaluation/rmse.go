package evaluation

import (
	"errors"
	"math"
)

// RMSE errors.
var (
	ErrLengthMismatch = errors.New("rmse: sequences differ in length")
	ErrNoValues       = errors.New("rmse: no values")
	ErrNotFinite      = errors.New("rmse: result is not finite")
)

// RMSE returns sqrt(mean((truth[i]-pred[i])^2)).
func RMSE(truth, pred []float64) (float64, error) {
	if len(truth) != len(pred) {
		return 0, ErrLengthMismatch
	}
	if len(truth) == 0 {
		return 0, ErrNoValues
	}
	var sum float64
	for i := range truth {
		d := truth[i] - pred[i]
		sum += d * d
	}
	score := math.Sqrt(sum / float64(len(truth)))
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, ErrNotFinite
	}
	return score, nil
}
