// Package sac implements the Soft Actor-Critic algorithm with an
// optional conservative value regularizer and an offline
// behaviour-regularized pretraining mode.
package sac

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jahabrewer/gosac/agent/nonlinear/continuous/policy"
	"github.com/jahabrewer/gosac/environment"
	"github.com/jahabrewer/gosac/experiment/tracker"
	"github.com/jahabrewer/gosac/expreplay"
	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/solver"
	ts "github.com/jahabrewer/gosac/timestep"
)

// SAC implements the Soft Actor-Critic algorithm with a squashed
// Gaussian policy and an ensemble of action-value critics:
//
//	Haarnoja, Zhou, Abbeel, Levine (2018). Soft Actor-Critic:
//	Off-Policy Maximum Entropy Deep Reinforcement Learning with a
//	Stochastic Actor.
//
// Critic targets bootstrap from the minimum over a lagged target
// ensemble, less the scaled log probability of the sampled next
// action. When configured, the critic loss is augmented with the
// Conservative Q-Learning penalty and its coefficient is adjusted by
// its own gradient ascent step.
type SAC struct {
	// Action selection
	behaviour *policy.SquashedGaussianTreeMLP // Batch size 1

	// Policy whose weights are adapted, on the same graph as the
	// actor loss
	trainPolicy *policy.SquashedGaussianTreeMLP
	actorVM     G.VM
	actorSolver *solver.Solver
	entCoefIn   *G.Node // Entropy coefficient input to the actor loss
	actorLoss   G.Value

	// Forward-only policy clones. samplePolicy draws next actions for
	// the critic update target. actionSampler draws nActionSamples
	// actions per transition for the conservative penalty and for
	// advantage estimation during pretraining.
	samplePolicy  *policy.SquashedGaussianTreeMLP
	actionSampler *policy.SquashedGaussianTreeMLP

	// critics learns the action-value weights. targetCritics provides
	// the lagged update target and is mutated only by synchronization.
	// evalCritics and sampleCritics are forward-only clones of critics
	// at the data batch size and the action-sample batch size.
	critics       *criticLearner
	targetCritics *criticEnsemble
	evalCritics   *criticEnsemble
	sampleCritics *criticEnsemble

	// Critic clones on the actor's graph. Their outputs feed the
	// actor loss but their weights are excluded from the actor's
	// gradient.
	actorCritics []network.NeuralNet

	entCoef *entropyCoefficient
	alpha   *conservativeCoefficient // nil unless conservative

	replay expreplay.ExperienceReplayer
	rng    *rand.Rand

	features   int
	actionDims int
	batchSize  int

	gamma                float64
	tau                  float64
	targetUpdateInterval int
	trainFreq            int
	gradientSteps        int
	useConservative      bool
	alphaThreshold       float64
	nActionSamples       int
	structuredNoise      bool
	noiseResampleFreq    int

	lrSchedule    solver.Schedule
	scheduleSteps int

	// Pretraining
	crr                 *crrActor
	crrStrategy         string
	crrTemperature      float64
	crrAggregation      string
	offPolicyUpdateFreq int

	prevAction *mat.VecDense
	nextStep   ts.TimeStep

	envSteps int
	updates  int
	eval     bool

	recorder tracker.ScalarRecorder
}

// New creates and returns a new SAC agent
func New(env environment.Environment, config Config,
	seed int64) (*SAC, error) {
	if env.ActionSpec().Cardinality != environment.Continuous {
		return nil, fmt.Errorf("sac: cannot use non-continuous actions")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	features := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()
	batchSize := config.BatchSize()

	entCoef, err := newEntropyCoefficient(config.EntCoef,
		config.TargetEntropy, actionDims, batchSize,
		config.EntCoefSolver)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	// Behaviour policy for action selection
	init := config.InitWFn.InitWFn()
	behaviour, err := policy.NewSquashedGaussianTreeMLP(
		env,
		1,
		G.NewGraph(),
		config.PolicyRootLayers,
		config.PolicyRootBiases,
		config.PolicyRootActivations,
		config.PolicyLeafLayers,
		config.PolicyLeafBiases,
		config.PolicyLeafActivations,
		init,
		config.StructuredNoise,
		uint64(seed),
	)
	if err != nil {
		return nil, fmt.Errorf("new: could not create behaviour "+
			"policy: %v", err)
	}

	clonePolicy := func(batch int) (*policy.SquashedGaussianTreeMLP,
		error) {
		clone, err := behaviour.CloneWithBatch(batch)
		if err != nil {
			return nil, err
		}
		return clone.(*policy.SquashedGaussianTreeMLP), nil
	}

	trainPolicy, err := clonePolicy(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create train policy: %v",
			err)
	}
	samplePolicy, err := clonePolicy(batchSize)
	if err != nil {
		return nil, fmt.Errorf("new: could not create sample policy: %v",
			err)
	}

	var actionSampler *policy.SquashedGaussianTreeMLP
	if config.NActionSamples > 0 {
		actionSampler, err = clonePolicy(batchSize * config.NActionSamples)
		if err != nil {
			return nil, fmt.Errorf("new: could not create action "+
				"sampler: %v", err)
		}
	}

	// Critic ensemble and its lagged target
	critics, err := newCriticLearner(features, actionDims, batchSize,
		config.NCritics, config.CriticLayers, config.CriticBiases,
		config.CriticActivations, init, config.CriticSolver,
		config.UseConservative, config.NActionSamples,
		config.AlphaThreshold)
	if err != nil {
		return nil, fmt.Errorf("new: could not create critics: %v", err)
	}

	targetCritics, err := newCriticEnsemble(G.NewGraph(), features,
		actionDims, batchSize, config.NCritics, config.CriticLayers,
		config.CriticBiases, config.CriticActivations, init)
	if err != nil {
		return nil, fmt.Errorf("new: could not create target "+
			"critics: %v", err)
	}
	if err := targetCritics.set(critics.criticEnsemble); err != nil {
		return nil, fmt.Errorf("new: could not initialize target "+
			"critics: %v", err)
	}

	var evalCritics, sampleCritics *criticEnsemble
	if config.UseConservative || config.NActionSamples > 0 {
		evalCritics, err = newCriticEnsemble(G.NewGraph(), features,
			actionDims, batchSize, config.NCritics, config.CriticLayers,
			config.CriticBiases, config.CriticActivations, init)
		if err != nil {
			return nil, fmt.Errorf("new: could not create evaluation "+
				"critics: %v", err)
		}
	}
	if config.NActionSamples > 0 {
		sampleCritics, err = newCriticEnsemble(G.NewGraph(), features,
			actionDims, batchSize*config.NActionSamples, config.NCritics,
			config.CriticLayers, config.CriticBiases,
			config.CriticActivations, init)
		if err != nil {
			return nil, fmt.Errorf("new: could not create sampling "+
				"critics: %v", err)
		}
	}

	// Clone the critics onto the actor's graph so that the actor loss
	// can backpropagate through critic outputs into the policy weights
	gActor := trainPolicy.Network().Graph()
	actorInputs := []*G.Node{
		trainPolicy.ObservationsNode(),
		trainPolicy.ActionsNode(),
	}
	actorCritics := make([]network.NeuralNet, config.NCritics)
	actorPreds := make([]*G.Node, config.NCritics)
	for i, net := range critics.nets {
		clone, err := net.CloneWithInputsTo(1, actorInputs, gActor)
		if err != nil {
			return nil, fmt.Errorf("new: could not clone critic %v to "+
				"actor graph: %v", i, err)
		}
		actorCritics[i] = clone
		actorPreds[i] = clone.Prediction()[0]
	}

	var minQ *G.Node
	if config.NCritics > 1 {
		qValues := G.Must(G.Concat(1, actorPreds...))
		minQ = G.Must(G.Neg(G.Must(G.Max(G.Must(G.Neg(qValues)), 1))))
	} else {
		minQ = G.Must(G.Reshape(actorPreds[0], tensor.Shape{batchSize}))
	}

	entCoefIn := G.NewScalar(gActor, tensor.Float64,
		G.WithName("entropyCoefficient"), G.WithValue(0.0))
	actorLoss := G.Must(G.Sub(
		G.Must(G.Mul(entCoefIn, trainPolicy.LogProbNode())),
		minQ,
	))
	actorLoss = G.Must(G.Mean(actorLoss))

	policyLearnables := trainPolicy.Network().Learnables()
	if _, err := G.Grad(actorLoss, policyLearnables...); err != nil {
		panic(fmt.Sprintf("new: could not compute actor gradient: %v",
			err))
	}
	actorVM := G.NewTapeMachine(gActor,
		G.BindDualValues(policyLearnables...))

	var alpha *conservativeCoefficient
	if config.UseConservative {
		alpha, err = newConservativeCoefficient(config.InitialAlpha,
			config.AlphaSolver)
		if err != nil {
			return nil, fmt.Errorf("new: %v", err)
		}
	}

	replay, err := config.ExpReplay.Create(features, actionDims, seed)
	if err != nil {
		return nil, fmt.Errorf("new: could not create experience "+
			"replay buffer: %v", err)
	}

	sac := &SAC{
		behaviour:     behaviour,
		trainPolicy:   trainPolicy,
		actorVM:       actorVM,
		actorSolver:   config.PolicySolver,
		entCoefIn:     entCoefIn,
		samplePolicy:  samplePolicy,
		actionSampler: actionSampler,

		critics:       critics,
		targetCritics: targetCritics,
		evalCritics:   evalCritics,
		sampleCritics: sampleCritics,
		actorCritics:  actorCritics,

		entCoef: entCoef,
		alpha:   alpha,

		replay: replay,
		rng:    rand.New(rand.NewSource(uint64(seed))),

		features:   features,
		actionDims: actionDims,
		batchSize:  batchSize,

		gamma:                config.Gamma,
		tau:                  config.Tau,
		targetUpdateInterval: config.TargetUpdateInterval,
		trainFreq:            config.TrainFreq,
		gradientSteps:        config.GradientSteps,
		useConservative:      config.UseConservative,
		alphaThreshold:       config.AlphaThreshold,
		nActionSamples:       config.NActionSamples,
		structuredNoise:      config.StructuredNoise,
		noiseResampleFreq:    config.NoiseResampleFreq,

		lrSchedule:    config.LRSchedule,
		scheduleSteps: config.ScheduleSteps,

		crrStrategy:         config.crrStrategy(),
		crrTemperature:      config.CRRTemperature,
		crrAggregation:      config.crrAggregation(),
		offPolicyUpdateFreq: config.OffPolicyUpdateFreq,
	}
	G.Read(actorLoss, &sac.actorLoss)
	return sac, nil
}

// RecordTo sets the telemetry sink that training scalars are recorded
// to. A nil recorder disables telemetry.
func (s *SAC) RecordTo(recorder tracker.ScalarRecorder) {
	s.recorder = recorder
}

func (s *SAC) record(name string, value float64) {
	if s.recorder != nil {
		s.recorder.Record(name, value)
	}
}

// ObserveFirst observes and records the first episodic timestep
func (s *SAC) ObserveFirst(t ts.TimeStep) error {
	if !t.First() {
		return fmt.Errorf("observeFirst: timestep "+
			"is not first (timestep = %d)", t.Number)
	}
	s.nextStep = t
	return nil
}

// Observe observes and records any timestep other than the first
// timestep, adding the transition that the argument action generated
// to the replay buffer
func (s *SAC) Observe(action mat.Vector, nextStep ts.TimeStep) error {
	if action.Len() != s.actionDims {
		return fmt.Errorf("observe: invalid action dimensions "+
			"\n\twant(%v) \n\thave(%v)", s.actionDims, action.Len())
	}

	actionCopy := mat.VecDenseCopyOf(action)
	transition := ts.NewTransition(s.nextStep, actionCopy, nextStep)
	if err := s.replay.Add(transition); err != nil {
		return fmt.Errorf("observe: could not add to replay buffer: %v",
			err)
	}

	s.nextStep = nextStep
	s.prevAction = actionCopy
	s.envSteps++

	if s.structuredNoise && s.noiseResampleFreq > 0 &&
		s.envSteps%s.noiseResampleFreq == 0 {
		s.behaviour.ResampleNoise()
	}
	return nil
}

// Step updates the weights of the agent's policy and critics. Every
// trainFreq environment steps, gradientSteps sequential gradient
// updates are performed; otherwise Step is a no-op.
func (s *SAC) Step() error {
	if s.envSteps%s.trainFreq != 0 {
		return nil
	}

	s.applySchedule(s.progressRemaining())
	for i := 0; i < s.gradientSteps; i++ {
		if err := s.update(i); err != nil {
			return fmt.Errorf("step: %v", err)
		}
	}
	return nil
}

// progressRemaining returns the fraction of training remaining, used
// to evaluate the learning rate schedule
func (s *SAC) progressRemaining() float64 {
	if s.scheduleSteps <= 0 {
		return 1.0
	}
	remaining := 1.0 - float64(s.envSteps)/float64(s.scheduleSteps)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// applySchedule sets the learning rate of every solver the agent owns
// from the learning rate schedule
func (s *SAC) applySchedule(progressRemaining float64) {
	if s.lrSchedule == nil {
		return
	}
	rate := s.lrSchedule(progressRemaining)

	s.actorSolver.SetLearnRate(rate)
	s.critics.solver.SetLearnRate(rate)
	if s.entCoef.auto {
		s.entCoef.solver.SetLearnRate(rate)
	}
	if s.alpha != nil {
		s.alpha.solver.SetLearnRate(rate)
	}
}

// update performs a single gradient step on the critics, the actor,
// and the learned coefficients. The argument gradStep indexes the
// update within the current batch of gradient steps and controls
// target network synchronization.
func (s *SAC) update(gradStep int) error {
	states, actions, rewards, dones, nextStates, err := s.replay.Sample()
	if expreplay.IsEmptyBuffer(err) ||
		expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("update: could not sample transitions: %v", err)
	}

	// The pre-update coefficient is used for every loss on this step.
	// The coefficient's own gradient step happens afterwards, giving a
	// deliberate one-step lag.
	coef := s.entCoef.coefficient()
	s.replay.SetEntCoef(coef)

	// Critic update
	if err := s.updateCritics(states, actions, rewards, dones,
		nextStates, coef, s.useConservative, s.alphaValue(),
		"train/"); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	// Actor update
	logProbs, err := s.updateActor(states, coef)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}

	// Coefficient updates
	entCoefLoss, err := s.entCoef.update(logProbs)
	if err != nil {
		return fmt.Errorf("update: could not update entropy "+
			"coefficient: %v", err)
	}
	if s.useConservative {
		if err := s.updateAlpha(states, actions); err != nil {
			return fmt.Errorf("update: %v", err)
		}
	}

	if err := s.maybeSyncTargets(gradStep, false); err != nil {
		return fmt.Errorf("update: %v", err)
	}

	s.updates++
	s.record("train/n_updates", float64(s.updates))
	s.record("train/ent_coef", coef)
	if s.entCoef.auto {
		s.record("train/ent_coef_loss", entCoefLoss)
	}
	if s.alpha != nil {
		s.record("train/alpha", s.alpha.value())
	}
	return nil
}

// alphaValue returns the clamped conservative coefficient, or 0 when
// the conservative penalty is disabled
func (s *SAC) alphaValue() float64 {
	if s.alpha == nil {
		return 0
	}
	return s.alpha.value()
}

// updateCritics computes the bootstrapped update target of each
// transition and runs one gradient step on the critic ensemble. When
// conservative is true, the critic loss additionally carries the
// conservative penalty scaled by alpha. Losses are recorded under the
// argument telemetry prefix.
func (s *SAC) updateCritics(states, actions, rewards, dones,
	nextStates []float64, coef float64, conservative bool,
	alpha float64, prefix string) error {
	// Bootstrap from the minimum target critic value at a next action
	// sampled from the current policy. No gradient flows through this
	// computation.
	if err := network.Set(s.samplePolicy.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("could not synchronize sample policy: %v",
			err)
	}
	nextActions, nextLogProbs, err := s.samplePolicy.SampleActions(
		nextStates)
	if err != nil {
		return fmt.Errorf("could not sample next actions: %v", err)
	}

	targetValues, err := s.targetCritics.run(nextStates, nextActions)
	if err != nil {
		return fmt.Errorf("could not run target critics: %v", err)
	}
	minQ := elementwiseMin(targetValues)
	targets := backupTargets(rewards, dones, minQ, nextLogProbs,
		s.gamma, coef)

	if err := s.critics.setTargets(targets); err != nil {
		return fmt.Errorf("could not set critic targets: %v", err)
	}

	if conservative {
		if err := s.setConservativeBatch(states, actions,
			alpha); err != nil {
			return err
		}
	} else if err := s.critics.setInputs(states, actions); err != nil {
		return fmt.Errorf("could not set critic inputs: %v", err)
	}

	loss, err := s.critics.step()
	if err != nil {
		return fmt.Errorf("could not update critics: %v", err)
	}
	s.record(prefix+"critic_loss", loss)
	if conservative {
		s.record(prefix+"conservative_loss",
			s.critics.conservativeLoss())
	}
	return nil
}

// setConservativeBatch assembles the critic learner's input rows and
// detached conservative inputs from the transition batch: the data
// rows first, then the policy-sampled action rows, then the uniform
// random action rows.
func (s *SAC) setConservativeBatch(states, actions []float64,
	alpha float64) error {
	n := s.nActionSamples
	tiled := tileRows(states, s.features, n)

	if err := network.Set(s.actionSampler.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("could not synchronize action sampler: %v", err)
	}
	policyActions, policyLogProbs, err := s.actionSampler.SampleActions(
		tiled)
	if err != nil {
		return fmt.Errorf("could not sample policy actions: %v", err)
	}
	randomActions := s.uniformActions(s.batchSize * n)

	// Stabilization base, detached from the gradient
	if err := s.sampleCritics.set(s.critics.criticEnsemble); err != nil {
		return fmt.Errorf("could not synchronize sampling critics: %v",
			err)
	}
	policyValues, err := s.sampleCritics.run(tiled, policyActions)
	if err != nil {
		return fmt.Errorf("could not evaluate policy actions: %v", err)
	}
	randomValues, err := s.sampleCritics.run(tiled, randomActions)
	if err != nil {
		return fmt.Errorf("could not evaluate random actions: %v", err)
	}
	base := maxValue(policyValues[0], randomValues[0])

	obs := concatRows(states, tiled, tiled)
	acts := concatRows(actions, policyActions, randomActions)
	if err := s.critics.setInputs(obs, acts); err != nil {
		return fmt.Errorf("could not set critic inputs: %v", err)
	}
	return s.critics.setConservativeInputs(base, policyLogProbs, alpha)
}

// updateActor runs one gradient step on the policy weights and returns
// the log probabilities of the actions sampled during the forward
// pass, computed before the weight update.
func (s *SAC) updateActor(states []float64, coef float64) ([]float64,
	error) {
	for i, clone := range s.actorCritics {
		if err := network.Set(clone, s.critics.nets[i]); err != nil {
			return nil, fmt.Errorf("could not synchronize actor "+
				"critic %v: %v", i, err)
		}
	}

	if err := s.trainPolicy.PrepareSample(states); err != nil {
		return nil, fmt.Errorf("could not set actor inputs: %v", err)
	}
	if err := G.Let(s.entCoefIn, coef); err != nil {
		return nil, fmt.Errorf("could not set entropy coefficient: %v",
			err)
	}

	if err := s.actorVM.RunAll(); err != nil {
		return nil, fmt.Errorf("could not run actor VM: %v", err)
	}

	logProbs := make([]float64, s.batchSize)
	copy(logProbs, s.trainPolicy.LogProbVal().Data().([]float64))
	s.record("train/actor_loss", s.actorLoss.Data().(float64))

	if err := s.actorSolver.Step(
		s.trainPolicy.Network().Model()); err != nil {
		s.actorVM.Reset()
		return nil, fmt.Errorf("could not step actor solver: %v", err)
	}
	s.actorVM.Reset()

	// Action selection follows the newly learned weights
	if err := network.Set(s.behaviour.Network(),
		s.trainPolicy.Network()); err != nil {
		return nil, fmt.Errorf("could not synchronize behaviour "+
			"policy: %v", err)
	}
	return logProbs, nil
}

// updateAlpha runs one gradient step on the conservative coefficient.
// The conservative term is recomputed from fresh policy and random
// action samples, holding the critic and actor weights fixed.
func (s *SAC) updateAlpha(states, actions []float64) error {
	n := s.nActionSamples
	tiled := tileRows(states, s.features, n)

	if err := network.Set(s.actionSampler.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("could not synchronize action sampler: %v", err)
	}
	policyActions, policyLogProbs, err := s.actionSampler.SampleActions(
		tiled)
	if err != nil {
		return fmt.Errorf("could not sample policy actions: %v", err)
	}
	randomActions := s.uniformActions(s.batchSize * n)

	if err := s.sampleCritics.set(s.critics.criticEnsemble); err != nil {
		return fmt.Errorf("could not synchronize sampling critics: %v",
			err)
	}
	policyValues, err := s.sampleCritics.run(tiled, policyActions)
	if err != nil {
		return fmt.Errorf("could not evaluate policy actions: %v", err)
	}
	randomValues, err := s.sampleCritics.run(tiled, randomActions)
	if err != nil {
		return fmt.Errorf("could not evaluate random actions: %v", err)
	}

	if err := s.evalCritics.set(s.critics.criticEnsemble); err != nil {
		return fmt.Errorf("could not synchronize evaluation critics: %v",
			err)
	}
	dataValues, err := s.evalCritics.run(states, actions)
	if err != nil {
		return fmt.Errorf("could not evaluate data actions: %v", err)
	}

	elementwise := conservativeElementwise(dataValues[0],
		policyValues[0], randomValues[0], policyLogProbs, n,
		s.alphaThreshold)
	if _, err := s.alpha.update(elementwise); err != nil {
		return fmt.Errorf("could not update conservative "+
			"coefficient: %v", err)
	}
	return nil
}

// maybeSyncTargets synchronizes the target critics when the 0-indexed
// gradient step index falls on the update interval. Online updates use
// Polyak averaging; pretraining uses a hard copy.
func (s *SAC) maybeSyncTargets(gradStep int, hardCopy bool) error {
	if !shouldSyncTargets(gradStep, s.targetUpdateInterval) {
		return nil
	}

	if hardCopy || s.tau == 1.0 {
		return s.targetCritics.set(s.critics.criticEnsemble)
	}
	return s.targetCritics.polyak(s.critics.criticEnsemble, s.tau)
}

// shouldSyncTargets returns whether the target networks should be
// synchronized on the argument 0-indexed gradient step
func shouldSyncTargets(gradStep, interval int) bool {
	return gradStep%interval == 0
}

// uniformActions returns a batch of rows actions, each dimension
// drawn uniformly at random from [-1, 1]
func (s *SAC) uniformActions(rows int) []float64 {
	actions := make([]float64, rows*s.actionDims)
	for i := range actions {
		actions[i] = 2*s.rng.Float64() - 1
	}
	return actions
}

// SelectAction returns an action selected by the behaviour policy at
// the argument timestep
func (s *SAC) SelectAction(t ts.TimeStep) *mat.VecDense {
	return s.behaviour.SelectAction(t)
}

// EndEpisode performs cleanup at the end of an episode
func (s *SAC) EndEpisode() {}

// Eval sets the agent into evaluation mode, where the policy acts
// deterministically
func (s *SAC) Eval() {
	s.eval = true
	s.behaviour.Eval()
}

// Train sets the agent into training mode
func (s *SAC) Train() {
	s.eval = false
	s.behaviour.Train()
}

// IsEval returns whether the agent is in evaluation mode
func (s *SAC) IsEval() bool {
	return s.eval
}

// Close stops the agent's VMs
func (s *SAC) Close() error {
	vmErr := s.actorVM.Close()

	closers := []func() error{
		s.behaviour.Close,
		s.trainPolicy.Close,
		s.samplePolicy.Close,
		s.critics.closeLearner,
		s.targetCritics.close,
		s.entCoef.close,
	}
	if s.actionSampler != nil {
		closers = append(closers, s.actionSampler.Close)
	}
	if s.evalCritics != nil {
		closers = append(closers, s.evalCritics.close)
	}
	if s.sampleCritics != nil {
		closers = append(closers, s.sampleCritics.close)
	}
	if s.alpha != nil {
		closers = append(closers, s.alpha.close)
	}
	if s.crr != nil {
		closers = append(closers, s.crr.close)
	}

	for _, close := range closers {
		if err := close(); err != nil && vmErr == nil {
			vmErr = err
		}
	}
	return vmErr
}

// backupTargets computes the bootstrapped update target of each
// transition:
//
//	target = reward + (1 - done) * gamma * (minQ - coef * logProb)
//
// Transitions that ended an episode (done = 1) take their reward as
// the target with no bootstrap term.
func backupTargets(rewards, dones, minQ, logProbs []float64, gamma,
	coef float64) []float64 {
	targets := make([]float64, len(rewards))
	for i := range rewards {
		softValue := minQ[i] - coef*logProbs[i]
		targets[i] = rewards[i] + (1-dones[i])*gamma*softValue
	}
	return targets
}

// elementwiseMin returns the elementwise minimum across the argument
// slices
func elementwiseMin(values [][]float64) []float64 {
	min := make([]float64, len(values[0]))
	copy(min, values[0])
	for _, critic := range values[1:] {
		for i, value := range critic {
			if value < min[i] {
				min[i] = value
			}
		}
	}
	return min
}

// tileRows repeats each feature row of rows n times consecutively
func tileRows(rows []float64, features, n int) []float64 {
	batch := len(rows) / features
	tiled := make([]float64, 0, batch*n*features)
	for b := 0; b < batch; b++ {
		row := rows[b*features : (b+1)*features]
		for j := 0; j < n; j++ {
			tiled = append(tiled, row...)
		}
	}
	return tiled
}

// concatRows concatenates slices of rows into a single slice
func concatRows(slices ...[]float64) []float64 {
	var total int
	for _, s := range slices {
		total += len(s)
	}
	out := make([]float64, 0, total)
	for _, s := range slices {
		out = append(out, s...)
	}
	return out
}

// maxValue returns the maximum value in the argument slices
func maxValue(slices ...[]float64) float64 {
	max := slices[0][0]
	for _, s := range slices {
		for _, v := range s {
			if v > max {
				max = v
			}
		}
	}
	return max
}
