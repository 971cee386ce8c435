package expreplay

import (
	"testing"

	"gonum.org/v1/gonum/mat"
	"github.com/jahabrewer/gosac/timestep"
)

// newTransition returns a transition with easily identifiable data
func newTransition(id float64, done bool) timestep.Transition {
	return timestep.Transition{
		State:     mat.NewVecDense(2, []float64{id, id + 0.1}),
		Action:    mat.NewVecDense(1, []float64{id + 0.2}),
		Reward:    id + 0.3,
		Done:      done,
		NextState: mat.NewVecDense(2, []float64{id + 0.4, id + 0.5}),
	}
}

// TestSampleRoundTrip ensures that transitions added to the buffer come
// back out with their fields aligned.
func TestSampleRoundTrip(t *testing.T) {
	buffer, err := Factory(Fifo, Uniform, 1, 4, 2, 1, 1, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	if err := buffer.Add(newTransition(1.0, true)); err != nil {
		t.Fatalf("could not add transition: %v", err)
	}

	state, action, reward, done, nextState, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	if state[0] != 1.0 || state[1] != 1.1 {
		t.Errorf("incorrect state \n\twant([1.0 1.1]) \n\thave(%v)", state)
	}
	if action[0] != 1.2 {
		t.Errorf("incorrect action \n\twant(1.2) \n\thave(%v)", action[0])
	}
	if reward[0] != 1.3 {
		t.Errorf("incorrect reward \n\twant(1.3) \n\thave(%v)", reward[0])
	}
	if done[0] != 1.0 {
		t.Errorf("incorrect done indicator \n\twant(1.0) \n\thave(%v)",
			done[0])
	}
	if nextState[0] != 1.4 || nextState[1] != 1.5 {
		t.Errorf("incorrect next state \n\twant([1.4 1.5]) \n\thave(%v)",
			nextState)
	}
}

// TestSampleBeforeMinCapacity ensures that sampling fails until the
// buffer holds its minimum number of transitions.
func TestSampleBeforeMinCapacity(t *testing.T) {
	buffer, err := Factory(Fifo, Uniform, 3, 8, 2, 1, 1, 2, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	_, _, _, _, _, err = buffer.Sample()
	if !IsEmptyBuffer(err) {
		t.Errorf("expected empty buffer error, got: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := buffer.Add(newTransition(float64(i), false)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	_, _, _, _, _, err = buffer.Sample()
	if !IsInsufficientSamples(err) {
		t.Errorf("expected insufficient samples error, got: %v", err)
	}

	if err := buffer.Add(newTransition(2.0, false)); err != nil {
		t.Fatalf("could not add transition: %v", err)
	}

	_, _, _, _, _, err = buffer.Sample()
	if err != nil {
		t.Errorf("could not sample at min capacity: %v", err)
	}
}

// TestOverwriteOldest ensures that a full buffer overwrites its oldest
// transitions first.
func TestOverwriteOldest(t *testing.T) {
	buffer, err := Factory(Fifo, Fifo, 1, 2, 2, 1, 1, 2, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := buffer.Add(newTransition(float64(i), false)); err != nil {
			t.Fatalf("could not add transition: %v", err)
		}
	}

	_, _, reward, _, _, err := buffer.Sample()
	if err != nil {
		t.Fatalf("could not sample: %v", err)
	}

	// Transition 0 should have been evicted
	for _, r := range reward {
		if r == 0.3 {
			t.Errorf("oldest transition not evicted, sampled reward %v", r)
		}
	}
}

// TestEntCoefAnnotation ensures that the entropy coefficient annotation
// written to the buffer can be read back.
func TestEntCoefAnnotation(t *testing.T) {
	buffer, err := Factory(Fifo, Uniform, 1, 4, 2, 1, 1, 1, 14)
	if err != nil {
		t.Fatalf("could not create buffer: %v", err)
	}

	buffer.SetEntCoef(0.125)
	if buffer.EntCoef() != 0.125 {
		t.Errorf("incorrect annotation \n\twant(0.125) \n\thave(%v)",
			buffer.EntCoef())
	}
}
