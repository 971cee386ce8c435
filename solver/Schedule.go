package solver

// Schedule maps the remaining fraction of training progress to a
// learning rate. The argument starts at 1.0 at the beginning of
// training and decays to 0.0 at the end.
type Schedule func(progressRemaining float64) float64

// NewConstantSchedule returns a Schedule that always produces rate.
func NewConstantSchedule(rate float64) Schedule {
	return func(float64) float64 { return rate }
}

// NewLinearSchedule returns a Schedule that interpolates linearly from
// initial at the beginning of training to final at the end.
func NewLinearSchedule(initial, final float64) Schedule {
	return func(progressRemaining float64) float64 {
		return final + progressRemaining*(initial-final)
	}
}
