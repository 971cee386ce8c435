package policy

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"
	"github.com/jahabrewer/gosac/environment"
	"github.com/jahabrewer/gosac/environment/classiccontrol/pendulum"
	"github.com/jahabrewer/gosac/network"
)

// newPendulum returns a continuous-action pendulum environment for
// testing policies on
func newPendulum(t *testing.T, seed uint64) environment.Environment {
	bounds := []r1.Interval{
		{Min: -pendulum.AngleBound, Max: pendulum.AngleBound},
		{Min: -pendulum.SpeedBound, Max: pendulum.SpeedBound},
	}
	starter := environment.NewUniformStarter(bounds, seed)
	task := pendulum.NewSwingUp(starter, 200)
	env, _ := pendulum.NewContinuous(task, 0.99)
	return env
}

func newTestPolicy(t *testing.T, env environment.Environment,
	batch int) *SquashedGaussianTreeMLP {
	pol, err := NewSquashedGaussianTreeMLP(
		env,
		batch,
		G.NewGraph(),
		[]int{10},
		[]bool{true},
		[]*network.Activation{network.ReLU()},
		[][]int{{5}, {5}},
		[][]bool{{true}, {true}},
		[][]*network.Activation{
			{network.ReLU()},
			{network.ReLU()},
		},
		G.GlorotU(1.0),
		false,
		14,
	)
	if err != nil {
		t.Fatalf("could not create policy: %v", err)
	}
	return pol
}

// TestSelectActionBounds ensures that all selected actions stay within
// the squashed range (-1, 1).
func TestSelectActionBounds(t *testing.T) {
	env := newPendulum(t, 14)
	pol := newTestPolicy(t, env, 1)
	defer pol.Close()

	step := env.Reset()
	for i := 0; i < 25; i++ {
		action := pol.SelectAction(step)
		for j := 0; j < action.Len(); j++ {
			if action.AtVec(j) <= -1.0 || action.AtVec(j) >= 1.0 {
				t.Errorf("action %v out of bounds (-1, 1)", action.AtVec(j))
			}
		}
		step, _ = env.Step(action)
		if step.Last() {
			step = env.Reset()
		}
	}
}

// TestSampleActions ensures that batches of sampled actions are within
// bounds with finite log probabilities.
func TestSampleActions(t *testing.T) {
	const batch int = 8
	env := newPendulum(t, 14)
	pol := newTestPolicy(t, env, batch)
	defer pol.Close()

	obs := make([]float64, batch*env.ObservationSpec().Shape.Len())
	for i := range obs {
		obs[i] = float64(i%3) * 0.5
	}

	actions, logProb, err := pol.SampleActions(obs)
	if err != nil {
		t.Fatalf("could not sample actions: %v", err)
	}

	if len(actions) != batch*env.ActionSpec().Shape.Len() {
		t.Fatalf("incorrect number of actions \n\twant(%v) \n\thave(%v)",
			batch, len(actions))
	}
	if len(logProb) != batch {
		t.Fatalf("incorrect number of log probabilities \n\twant(%v) "+
			"\n\thave(%v)", batch, len(logProb))
	}

	for _, action := range actions {
		if action <= -1.0 || action >= 1.0 {
			t.Errorf("action %v out of bounds (-1, 1)", action)
		}
	}
	for _, lp := range logProb {
		if math.IsNaN(lp) || math.IsInf(lp, 0) {
			t.Errorf("log probability is not finite: %v", lp)
		}
	}
}

// TestEvalDeterministic ensures that the policy acts deterministically
// in evaluation mode.
func TestEvalDeterministic(t *testing.T) {
	env := newPendulum(t, 14)
	pol := newTestPolicy(t, env, 1)
	defer pol.Close()

	pol.Eval()
	if !pol.IsEval() {
		t.Fatal("policy not in evaluation mode after Eval()")
	}

	step := env.Reset()
	first := pol.SelectAction(step)
	second := pol.SelectAction(step)

	for j := 0; j < first.Len(); j++ {
		if first.AtVec(j) != second.AtVec(j) {
			t.Errorf("evaluation actions differ \n\twant(%v) \n\thave(%v)",
				first.AtVec(j), second.AtVec(j))
		}
	}
}
