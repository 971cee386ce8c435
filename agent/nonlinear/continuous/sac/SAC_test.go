package sac

import (
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r1"
	G "gorgonia.org/gorgonia"

	"github.com/jahabrewer/gosac/environment"
	"github.com/jahabrewer/gosac/environment/classiccontrol/pendulum"
	"github.com/jahabrewer/gosac/experiment/tracker"
	"github.com/jahabrewer/gosac/expreplay"
	"github.com/jahabrewer/gosac/initwfn"
	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/solver"
)

const tolerance float64 = 1e-8

// newPendulum returns a continuous-action pendulum environment for
// testing agents on
func newPendulum(t *testing.T, seed uint64) environment.Environment {
	bounds := []r1.Interval{
		{Min: -pendulum.AngleBound, Max: pendulum.AngleBound},
		{Min: -pendulum.SpeedBound, Max: pendulum.SpeedBound},
	}
	starter := environment.NewUniformStarter(bounds, seed)
	task := pendulum.NewSwingUp(starter, 50)
	env, _ := pendulum.NewContinuous(task, 0.99)
	return env
}

// newTestConfig returns a small but valid Config for testing on
// pendulum
func newTestConfig(t *testing.T) Config {
	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		t.Fatalf("could not create init function: %v", err)
	}
	policySolver, err := solver.NewDefaultAdam(0.001, 4)
	if err != nil {
		t.Fatalf("could not create policy solver: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(0.001, 4)
	if err != nil {
		t.Fatalf("could not create critic solver: %v", err)
	}
	entSolver, err := solver.NewDefaultAdam(0.001, 4)
	if err != nil {
		t.Fatalf("could not create entropy solver: %v", err)
	}

	return Config{
		PolicyRootLayers:      []int{10},
		PolicyRootBiases:      []bool{true},
		PolicyRootActivations: []*network.Activation{network.ReLU()},
		PolicyLeafLayers:      [][]int{{5}, {5}},
		PolicyLeafBiases:      [][]bool{{true}, {true}},
		PolicyLeafActivations: [][]*network.Activation{
			{network.ReLU()},
			{network.ReLU()},
		},
		CriticLayers:      []int{10},
		CriticBiases:      []bool{true},
		CriticActivations: []*network.Activation{network.ReLU()},
		NCritics:          2,
		InitWFn:           init,
		PolicySolver:      policySolver,
		CriticSolver:      criticSolver,
		EntCoefSolver:     entSolver,
		ExpReplay: expreplay.Config{
			RemoveMethod:      expreplay.Fifo,
			SampleMethod:      expreplay.Uniform,
			RemoveSize:        1,
			SampleSize:        4,
			MaxReplayCapacity: 100,
			MinReplayCapacity: 8,
		},
		Tau:                  0.05,
		Gamma:                0.99,
		TrainFreq:            4,
		GradientSteps:        1,
		EntCoef:              "auto_0.5",
		TargetEntropy:        "auto",
		TargetUpdateInterval: 1,
	}
}

// TestBackupTargets checks the soft bootstrap target computation on
// terminal and non-terminal transitions.
func TestBackupTargets(t *testing.T) {
	rewards := []float64{1.0, 0.0}
	dones := []float64{0.0, 1.0}
	minQ := []float64{5.0, 5.0}
	logProbs := []float64{0.3, -0.2}

	// With no entropy bonus, non-terminal transitions bootstrap from
	// the discounted critic value and terminal transitions take the
	// reward only
	targets := backupTargets(rewards, dones, minQ, logProbs, 0.99, 0.0)
	expected := []float64{5.95, 0.0}
	for i := range expected {
		if math.Abs(targets[i]-expected[i]) > tolerance {
			t.Errorf("target %d: expected %v, got %v", i, expected[i],
				targets[i])
		}
	}

	// The entropy bonus lowers the bootstrapped value
	targets = backupTargets(rewards, dones, minQ, logProbs, 0.99, 0.5)
	expected = []float64{1.0 + 0.99*(5.0-0.5*0.3), 0.0}
	for i := range expected {
		if math.Abs(targets[i]-expected[i]) > tolerance {
			t.Errorf("target %d with entropy: expected %v, got %v", i,
				expected[i], targets[i])
		}
	}
}

// TestShouldSyncTargets checks which gradient steps within a batch of
// updates copy the learned weights into the target networks.
func TestShouldSyncTargets(t *testing.T) {
	expected := map[int][]bool{
		1: {true, true, true, true, true},
		2: {true, false, true, false, true},
		3: {true, false, false, true, false},
	}
	for interval, syncs := range expected {
		for step, want := range syncs {
			if got := shouldSyncTargets(step, interval); got != want {
				t.Errorf("interval %d step %d: expected %v, got %v",
					interval, step, got, want)
			}
		}
	}
}

func TestElementwiseMin(t *testing.T) {
	values := [][]float64{
		{1.0, 4.0, -2.0},
		{3.0, 2.0, -1.0},
	}
	min := elementwiseMin(values)
	expected := []float64{1.0, 2.0, -2.0}
	for i := range expected {
		if min[i] != expected[i] {
			t.Errorf("index %d: expected %v, got %v", i, expected[i],
				min[i])
		}
	}
}

func TestTileRows(t *testing.T) {
	rows := []float64{1.0, 2.0, 3.0, 4.0}
	tiled := tileRows(rows, 2, 3)
	expected := []float64{
		1.0, 2.0, 1.0, 2.0, 1.0, 2.0,
		3.0, 4.0, 3.0, 4.0, 3.0, 4.0,
	}
	if len(tiled) != len(expected) {
		t.Fatalf("expected %d values, got %d", len(expected), len(tiled))
	}
	for i := range expected {
		if tiled[i] != expected[i] {
			t.Errorf("index %d: expected %v, got %v", i, expected[i],
				tiled[i])
		}
	}
}

// TestCriticLearnerLoss checks the TD loss of a single zero-initialized
// linear critic, which predicts 0 for every input.
func TestCriticLearnerLoss(t *testing.T) {
	sol, err := solver.NewDefaultAdam(0.001, 2)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	critics, err := newCriticLearner(3, 1, 2, 1, []int{}, []bool{},
		[]*network.Activation{}, G.Zeroes(), sol, false, 0, 0)
	if err != nil {
		t.Fatalf("could not create critic learner: %v", err)
	}
	defer critics.closeLearner()

	obs := make([]float64, 2*3)
	actions := make([]float64, 2*1)
	if err := critics.setInputs(obs, actions); err != nil {
		t.Fatalf("could not set inputs: %v", err)
	}
	if err := critics.setTargets([]float64{5.95, 0.0}); err != nil {
		t.Fatalf("could not set targets: %v", err)
	}

	loss, err := critics.step()
	if err != nil {
		t.Fatalf("could not step critic learner: %v", err)
	}

	expected := 0.5 * (5.95 * 5.95) / 2.0
	if math.Abs(loss-expected) > tolerance {
		t.Errorf("expected loss %v, got %v", expected, loss)
	}
}

// TestCriticLearnerReducesLoss ensures that repeated gradient steps on
// a fixed batch reduce the TD loss.
func TestCriticLearnerReducesLoss(t *testing.T) {
	sol, err := solver.NewDefaultAdam(0.01, 4)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	critics, err := newCriticLearner(2, 1, 4, 2, []int{8}, []bool{true},
		[]*network.Activation{network.ReLU()}, G.GlorotU(1.0), sol,
		false, 0, 0)
	if err != nil {
		t.Fatalf("could not create critic learner: %v", err)
	}
	defer critics.closeLearner()

	obs := []float64{0.1, -0.2, 0.5, 0.3, -0.4, 0.9, 0.7, -0.1}
	actions := []float64{0.5, -0.5, 0.25, 0.75}
	targets := []float64{1.0, -1.0, 0.5, 2.0}

	var first, last float64
	for i := 0; i < 30; i++ {
		if err := critics.setInputs(obs, actions); err != nil {
			t.Fatalf("could not set inputs: %v", err)
		}
		if err := critics.setTargets(targets); err != nil {
			t.Fatalf("could not set targets: %v", err)
		}
		loss, err := critics.step()
		if err != nil {
			t.Fatalf("could not step critic learner: %v", err)
		}
		if i == 0 {
			first = loss
		}
		last = loss
	}

	if last >= first {
		t.Errorf("loss did not decrease: first %v, last %v", first, last)
	}
}

// TestConservativeCriticPanics ensures that the conservative penalty
// refuses an ensemble of more than one critic.
func TestConservativeCriticPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected panic with conservative loss and 2 critics")
		}
	}()

	sol, err := solver.NewDefaultAdam(0.001, 2)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	newCriticLearner(2, 1, 2, 2, []int{8}, []bool{true},
		[]*network.Activation{network.ReLU()}, G.GlorotU(1.0), sol,
		true, 2, 0)
}

// TestConservativePenalty checks the conservative penalty of a
// zero-initialized critic against its closed form. With every critic
// value and log probability equal to zero, the logsumexp reduces to
// log(0.5 * 2 + 0.5 * 1) = log(1.5) for every transition.
func TestConservativePenalty(t *testing.T) {
	const batch, nSamples = 2, 3
	sol, err := solver.NewDefaultAdam(0.001, batch)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	critics, err := newCriticLearner(2, 1, batch, 1, []int{}, []bool{},
		[]*network.Activation{}, G.Zeroes(), sol, true, nSamples, 0)
	if err != nil {
		t.Fatalf("could not create critic learner: %v", err)
	}
	defer critics.closeLearner()

	rows := batch * (2*nSamples + 1)
	if err := critics.setInputs(make([]float64, rows*2),
		make([]float64, rows)); err != nil {
		t.Fatalf("could not set inputs: %v", err)
	}
	if err := critics.setTargets(make([]float64, batch)); err != nil {
		t.Fatalf("could not set targets: %v", err)
	}
	logProbs := make([]float64, batch*nSamples)
	if err := critics.setConservativeInputs(0.0, logProbs, 1.0); err != nil {
		t.Fatalf("could not set conservative inputs: %v", err)
	}

	if _, err := critics.step(); err != nil {
		t.Fatalf("could not step critic learner: %v", err)
	}

	expected := math.Log(1.5 + logsumexpEpsilon)
	if math.Abs(critics.conservativeLoss()-expected) > tolerance {
		t.Errorf("expected penalty %v, got %v", expected,
			critics.conservativeLoss())
	}

	// The pure-Go elementwise term matches the graph's penalty when
	// the coefficient is 1
	elementwise := conservativeElementwise(make([]float64, batch),
		make([]float64, batch*nSamples), make([]float64, batch*nSamples),
		logProbs, nSamples, 0)
	if math.Abs(elementwise-critics.conservativeLoss()) > tolerance {
		t.Errorf("elementwise term %v does not match penalty %v",
			elementwise, critics.conservativeLoss())
	}
}

// TestConservativeElementwiseShiftInvariance ensures that shifting
// every critic value by a constant leaves the elementwise term
// unchanged, since the logsumexp and the data values shift together.
func TestConservativeElementwiseShiftInvariance(t *testing.T) {
	dataQ := []float64{1.0, -0.5}
	policyQ := []float64{0.2, 0.7, -0.3, 0.1}
	randomQ := []float64{-1.0, 0.5, 0.9, 0.0}
	logProbs := []float64{-0.5, -1.2, -0.1, -0.8}

	before := conservativeElementwise(dataQ, policyQ, randomQ, logProbs,
		2, 0.1)

	const shift = 100.0
	for i := range dataQ {
		dataQ[i] += shift
	}
	for i := range policyQ {
		policyQ[i] += shift
		randomQ[i] += shift
	}
	after := conservativeElementwise(dataQ, policyQ, randomQ, logProbs,
		2, 0.1)

	if math.Abs(before-after) > 1e-6 {
		t.Errorf("elementwise term not shift invariant: %v != %v",
			before, after)
	}
}

// TestConfigValidate checks that invalid configurations are rejected.
func TestConfigValidate(t *testing.T) {
	valid := newTestConfig(t)
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	invalidate := map[string]func(*Config){
		"no critics":    func(c *Config) { c.NCritics = 0 },
		"bad tau":       func(c *Config) { c.Tau = 0 },
		"bad gamma":     func(c *Config) { c.Gamma = 1.5 },
		"bad ent coef":  func(c *Config) { c.EntCoef = "auto_x" },
		"one leaf": func(c *Config) {
			c.PolicyLeafLayers = [][]int{{5}}
		},
		"conservative without alpha solver": func(c *Config) {
			c.NCritics = 1
			c.UseConservative = true
			c.InitialAlpha = 1.0
			c.NActionSamples = 2
			c.AlphaSolver = nil
		},
		"exp weights without temperature": func(c *Config) {
			c.CRRStrategy = ExpWeights
			c.NActionSamples = 2
			c.CRRTemperature = 0
		},
	}

	for name, mutate := range invalidate {
		config := newTestConfig(t)
		mutate(&config)
		if err := config.Validate(); err == nil {
			t.Errorf("%v: expected validation error", name)
		}
	}
}

// TestSACPendulum runs a SAC agent on pendulum for a small number of
// steps and ensures that updates happen and stay within bounds.
func TestSACPendulum(t *testing.T) {
	env := newPendulum(t, 14)
	agent, err := New(env, newTestConfig(t), 14)
	if err != nil {
		t.Fatalf("could not create agent: %v", err)
	}
	defer agent.Close()

	recorder := tracker.NewScalars(filepath.Join(t.TempDir(), "train.bin"))
	agent.RecordTo(recorder)

	step := env.Reset()
	if err := agent.ObserveFirst(step); err != nil {
		t.Fatalf("could not observe first step: %v", err)
	}
	for i := 0; i < 40; i++ {
		action := agent.SelectAction(step)
		for j := 0; j < action.Len(); j++ {
			if action.AtVec(j) <= -1.0 || action.AtVec(j) >= 1.0 {
				t.Fatalf("action %v out of bounds (-1, 1)", action.AtVec(j))
			}
		}

		next, _ := env.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("could not step agent: %v", err)
		}

		if next.Last() {
			next = env.Reset()
			if err := agent.ObserveFirst(next); err != nil {
				t.Fatalf("could not observe first step: %v", err)
			}
		}
		step = next
	}

	if agent.updates == 0 {
		t.Error("agent never updated")
	}
	if agent.entCoef.coefficient() <= 0 {
		t.Errorf("entropy coefficient %v not positive",
			agent.entCoef.coefficient())
	}
	if len(recorder.Series("train/critic_loss")) == 0 {
		t.Error("no critic losses recorded")
	}
}

// TestSACConservative runs a conservative SAC agent on pendulum and
// ensures that the conservative coefficient stays within its clamp.
func TestSACConservative(t *testing.T) {
	config := newTestConfig(t)
	alphaSolver, err := solver.NewDefaultAdam(0.001, config.BatchSize())
	if err != nil {
		t.Fatalf("could not create alpha solver: %v", err)
	}
	config.NCritics = 1
	config.UseConservative = true
	config.InitialAlpha = 1.0
	config.AlphaThreshold = 0.0
	config.NActionSamples = 2
	config.AlphaSolver = alphaSolver

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
	for i := 0; i < 24; i++ {
		action := agent.SelectAction(step)
		next, _ := env.Step(action)
		if err := agent.Observe(action, next); err != nil {
			t.Fatalf("could not observe: %v", err)
		}
		if err := agent.Step(); err != nil {
			t.Fatalf("could not step agent: %v", err)
		}
		if next.Last() {
			next = env.Reset()
			if err := agent.ObserveFirst(next); err != nil {
				t.Fatalf("could not observe first step: %v", err)
			}
		}
		step = next
	}

	if agent.updates == 0 {
		t.Error("agent never updated")
	}
	alpha := agent.alphaValue()
	if alpha < math.Exp(logAlphaLower) || alpha > math.Exp(logAlphaUpper) {
		t.Errorf("conservative coefficient %v outside clamp", alpha)
	}
}
