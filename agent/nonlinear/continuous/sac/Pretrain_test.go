package sac

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/jahabrewer/gosac/experiment/tracker"
)

// TestCRRWeights checks the pretraining actor loss weights of each
// advantage weighting strategy.
func TestCRRWeights(t *testing.T) {
	advantages := []float64{-1.0, 0.0, 0.5, 10.0}

	weights, err := crrWeights(BehaviourCloning, advantages, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, w := range weights {
		if w != 1.0 {
			t.Errorf("behaviour cloning weight %d: expected 1, got %v",
				i, w)
		}
	}

	weights, err = crrWeights(BinaryWeights, advantages, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []float64{0.0, 0.0, 1.0, 1.0}
	for i := range expected {
		if weights[i] != expected[i] {
			t.Errorf("binary weight %d: expected %v, got %v", i,
				expected[i], weights[i])
		}
	}

	weights, err = crrWeights(ExpWeights, advantages, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected = []float64{math.Exp(-1.0), 1.0, math.Exp(0.5), maxExpWeight}
	for i := range expected {
		if math.Abs(weights[i]-expected[i]) > tolerance {
			t.Errorf("exp weight %d: expected %v, got %v", i,
				expected[i], weights[i])
		}
	}

	if _, err := crrWeights("pineapple", advantages, 0); err == nil {
		t.Error("expected error on unknown strategy")
	}
}

func TestAggregateValues(t *testing.T) {
	values := []float64{1.0, 3.0, 2.0, 2.0, 5.0, -1.0}

	max := aggregateValues(values, 2, MaxAggregation)
	expectedMax := []float64{3.0, 2.0, 5.0}
	for i := range expectedMax {
		if max[i] != expectedMax[i] {
			t.Errorf("max %d: expected %v, got %v", i, expectedMax[i],
				max[i])
		}
	}

	mean := aggregateValues(values, 2, MeanAggregation)
	expectedMean := []float64{2.0, 2.0, 2.0}
	for i := range expectedMean {
		if mean[i] != expectedMean[i] {
			t.Errorf("mean %d: expected %v, got %v", i, expectedMean[i],
				mean[i])
		}
	}
}

// TestPretrain fills the replay buffer with random interaction and
// runs a few pretraining steps under the exp strategy.
func TestPretrain(t *testing.T) {
	config := newTestConfig(t)
	config.CRRStrategy = ExpWeights
	config.CRRTemperature = 1.0
	config.CRRAggregation = MaxAggregation
	config.NActionSamples = 2

	env := newPendulum(t, 14)
	agent, err := New(env, config, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	recorder := tracker.NewScalars(filepath.Join(t.TempDir(),
		"pretrain.bin"))
	agent.RecordTo(recorder)

	step := env.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first step: %v", err)
	}
	for i := 0; i < 12; i++ {
		action := agent.SelectAction(step)
		next, _ := env.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
		if next.Last() {
			next = env.Reset()
			if err := agent.ObserveFirst(next); err != nil {
				t.Fatalf("could not observe first step: %v", err)
			}
		}
		step = next
	}

	coefBefore := agent.entCoef.coefficient()
	if err := agent.Pretrain(3); err != nil {
		t.Fatalf("could not pretrain: %v", err)
	}

	if agent.updates == 0 {
		t.Error("pretraining never updated")
	}

	// The entropy coefficient is held fixed during pretraining
	if agent.entCoef.coefficient() != coefBefore {
		t.Errorf("entropy coefficient changed during pretraining: "+
			"%v != %v", agent.entCoef.coefficient(), coefBefore)
	}

	// Critic losses of offline steps are recorded under the pretrain
	// prefix only
	if len(recorder.Series("pretrain/critic_loss")) == 0 {
		t.Error("no pretraining critic losses recorded")
	}
	if len(recorder.Series("train/critic_loss")) != 0 {
		t.Error("offline critic losses recorded under the online prefix")
	}

	// Selected actions remain in bounds after pretraining
	action := agent.SelectAction(step)
	for j := 0; j < action.Len(); j++ {
		if action.AtVec(j) <= -1.0 || action.AtVec(j) >= 1.0 {
			t.Errorf("action %v out of bounds (-1, 1)", action.AtVec(j))
		}
	}
}

// TestPretrainInterleavedTargetSync ensures that every interleaved
// online update synchronizes the target networks, regardless of the
// target update interval. With tau = 1 each synchronization is a hard
// copy, so after the final update the target critics must exactly
// match the learned critics even though the interval is far longer
// than the run.
func TestPretrainInterleavedTargetSync(t *testing.T) {
	config := newTestConfig(t)
	config.Tau = 1.0
	config.TargetUpdateInterval = 100
	config.OffPolicyUpdateFreq = 1
	config.CRRStrategy = BehaviourCloning

	env := newPendulum(t, 14)
	agent, err := New(env, config, 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	step := env.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first step: %v", err)
	}
	for i := 0; i < 12; i++ {
		action := agent.SelectAction(step)
		next, _ := env.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
		if next.Last() {
			next = env.Reset()
			if err := agent.ObserveFirst(next); err != nil {
				t.Fatalf("could not observe first step: %v", err)
			}
		}
		step = next
	}

	if err := agent.Pretrain(3); err != nil {
		t.Fatalf("could not pretrain: %v", err)
	}
	if agent.updates != 3 {
		t.Fatalf("expected 3 updates, got %d", agent.updates)
	}

	learned := agent.critics.learnables()
	targets := agent.targetCritics.learnables()
	for i := range learned {
		learnedVals := learned[i].Value().Data().([]float64)
		targetVals := targets[i].Value().Data().([]float64)
		for j := range learnedVals {
			if learnedVals[j] != targetVals[j] {
				t.Fatalf("target weights of node %d diverge from "+
					"learned weights after the final update", i)
			}
		}
	}
}
