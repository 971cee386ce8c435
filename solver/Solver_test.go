package solver

import (
	"math"
	"testing"
)

// TestLinearSchedule ensures that a linear schedule interpolates
// between its endpoints as training progresses.
func TestLinearSchedule(t *testing.T) {
	schedule := NewLinearSchedule(3e-4, 0.0)

	tests := []struct {
		progressRemaining float64
		expected          float64
	}{
		{1.0, 3e-4},
		{0.5, 1.5e-4},
		{0.0, 0.0},
	}

	for _, test := range tests {
		rate := schedule(test.progressRemaining)
		if math.Abs(rate-test.expected) > 1e-12 {
			t.Errorf("incorrect rate at progress %v \n\twant(%v) "+
				"\n\thave(%v)", test.progressRemaining, test.expected, rate)
		}
	}
}

// TestSetLearnRate ensures that setting a new learning rate on a
// Solver changes the rate used on subsequent steps.
func TestSetLearnRate(t *testing.T) {
	s, err := NewDefaultAdam(3e-4, 32)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	if s.LearnRate() != 3e-4 {
		t.Fatalf("incorrect initial rate \n\twant(%v) \n\thave(%v)", 3e-4,
			s.LearnRate())
	}

	oldSolver := s.Solver
	s.SetLearnRate(3e-4)
	if s.Solver != oldSolver {
		t.Error("solver recreated even though rate did not change")
	}

	s.SetLearnRate(1e-4)
	if s.LearnRate() != 1e-4 {
		t.Errorf("incorrect rate after update \n\twant(%v) \n\thave(%v)",
			1e-4, s.LearnRate())
	}
	if s.Solver == oldSolver {
		t.Error("solver not recreated after rate change")
	}
}
