package sac

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jahabrewer/gosac/agent/nonlinear/continuous/policy"
	"github.com/jahabrewer/gosac/expreplay"
	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/solver"
	"github.com/jahabrewer/gosac/utils/floatutils"
	"github.com/jahabrewer/gosac/utils/progressbar"
)

// Upper bound on exp-strategy advantage weights
const maxExpWeight float64 = 20.0

// Width of the pretraining progress bar in characters
const progressBarWidth int = 35

// crrActor holds the graph that adapts the policy weights toward a
// weighted behaviour cloning objective
//
//	mean(-logProb(batchAction) * weight)
//
// during pretraining. The policy on this graph is a clone of the
// trained policy; weights are copied in before each gradient step and
// copied back out afterwards.
type crrActor struct {
	pol     *policy.SquashedGaussianTreeMLP
	weights *G.Node // Advantage weights (batchSize)
	lossVal G.Value
	vm      G.VM
	batch   int
}

// newCRRActor returns a new crrActor cloned from pol
func newCRRActor(pol *policy.SquashedGaussianTreeMLP,
	batchSize int) (*crrActor, error) {
	clone, err := pol.CloneWithBatch(batchSize)
	if err != nil {
		return nil, fmt.Errorf("newCRRActor: could not clone policy: %v",
			err)
	}
	cloned := clone.(*policy.SquashedGaussianTreeMLP)

	g := cloned.Network().Graph()
	weights := G.NewVector(g, tensor.Float64, G.WithShape(batchSize),
		G.WithName("advantageWeights"), G.WithInit(G.Zeroes()))

	loss := G.Must(G.HadamardProd(cloned.LogPdfNode(), weights))
	loss = G.Must(G.Neg(G.Must(G.Mean(loss))))

	learnables := cloned.Network().Learnables()
	if _, err := G.Grad(loss, learnables...); err != nil {
		panic(fmt.Sprintf("newCRRActor: could not compute gradient: %v",
			err))
	}

	actor := &crrActor{
		pol:     cloned,
		weights: weights,
		batch:   batchSize,
	}
	G.Read(loss, &actor.lossVal)
	actor.vm = G.NewTapeMachine(g, G.BindDualValues(learnables...))
	return actor, nil
}

// step runs one gradient step toward cloning the argument actions at
// the argument states, weighted per transition, using sol. The loss
// of the step is returned.
func (c *crrActor) step(states, actions, weights []float64,
	sol *solver.Solver) (float64, error) {
	if _, err := c.pol.LogPdfOf(states, actions); err != nil {
		return 0, fmt.Errorf("step: could not set log PDF inputs: %v",
			err)
	}

	weightsTensor := tensor.New(
		tensor.WithBacking(weights),
		tensor.WithShape(c.batch),
	)
	if err := G.Let(c.weights, weightsTensor); err != nil {
		return 0, fmt.Errorf("step: could not set weights: %v", err)
	}

	if err := c.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run pretraining VM: %v",
			err)
	}
	defer c.vm.Reset()

	if err := sol.Step(c.pol.Network().Model()); err != nil {
		return 0, fmt.Errorf("step: could not step solver: %v", err)
	}
	return c.lossVal.Data().(float64), nil
}

// close stops the actor's VM
func (c *crrActor) close() error {
	if err := c.vm.Close(); err != nil {
		return err
	}
	return c.pol.Close()
}

// Pretrain performs steps offline gradient steps on the data currently
// stored in the replay buffer, using critic-regularized regression:
// the critics update as in online training (without the conservative
// penalty) while the actor minimizes an advantage-weighted behaviour
// cloning loss. Target critics are synchronized by hard copy. The
// entropy coefficient is used in update targets but held frozen.
//
// When OffPolicyUpdateFreq is positive, a full online training step
// replaces the offline step at that interval.
func (s *SAC) Pretrain(steps int) error {
	if steps <= 0 {
		return nil
	}

	if s.crr == nil {
		crr, err := newCRRActor(s.trainPolicy, s.batchSize)
		if err != nil {
			return fmt.Errorf("pretrain: %v", err)
		}
		s.crr = crr
	}

	s.applySchedule(1.0)
	bar := progressbar.NewManualProgressBar(progressBarWidth, steps)
	for t := 0; t < steps; t++ {
		if s.offPolicyUpdateFreq > 0 && t%s.offPolicyUpdateFreq == 0 {
			// A single interleaved online gradient step, indexed 0
			// within its own batch of updates so the targets always
			// synchronize
			if err := s.update(0); err != nil {
				return fmt.Errorf("pretrain: %v", err)
			}
		} else if err := s.pretrainStep(t); err != nil {
			return fmt.Errorf("pretrain: %v", err)
		}

		bar.Increment()
		bar.Display()
	}
	fmt.Println()
	return nil
}

// pretrainStep performs a single offline gradient step on the critics
// and the actor. The argument step indexes the update within the
// pretraining run and controls hard target synchronization.
func (s *SAC) pretrainStep(step int) error {
	states, actions, rewards, dones, nextStates, err := s.replay.Sample()
	if expreplay.IsEmptyBuffer(err) ||
		expreplay.IsInsufficientSamples(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("pretrainStep: could not sample "+
			"transitions: %v", err)
	}

	// Frozen during pretraining: the coefficient weights update
	// targets but takes no gradient step of its own
	coef := s.entCoef.coefficient()
	s.replay.SetEntCoef(coef)

	// The conservative penalty is excluded from pretraining critic
	// updates. When the learner's graph carries the penalty, zeroing
	// its coefficient removes its contribution.
	if err := s.updateCritics(states, actions, rewards, dones,
		nextStates, coef, s.useConservative, 0, "pretrain/"); err != nil {
		return fmt.Errorf("pretrainStep: %v", err)
	}

	weights, err := s.advantageWeights(states, actions)
	if err != nil {
		return fmt.Errorf("pretrainStep: %v", err)
	}

	if err := network.Set(s.crr.pol.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("pretrainStep: could not synchronize "+
			"pretraining actor: %v", err)
	}
	loss, err := s.crr.step(states, actions, weights, s.actorSolver)
	if err != nil {
		return fmt.Errorf("pretrainStep: %v", err)
	}
	if err := network.Set(s.trainPolicy.Network(),
		s.crr.pol.Network()); err != nil {
		return fmt.Errorf("pretrainStep: could not store pretraining "+
			"actor weights: %v", err)
	}
	if err := network.Set(s.behaviour.Network(),
		s.trainPolicy.Network()); err != nil {
		return fmt.Errorf("pretrainStep: could not synchronize "+
			"behaviour policy: %v", err)
	}

	if shouldSyncTargets(step, s.targetUpdateInterval) {
		if err := s.targetCritics.set(s.critics.criticEnsemble); err != nil {
			return fmt.Errorf("pretrainStep: could not synchronize "+
				"target critics: %v", err)
		}
	}

	s.updates++
	s.record("pretrain/actor_loss", loss)
	s.record("pretrain/ent_coef", coef)
	s.record("train/n_updates", float64(s.updates))
	return nil
}

// advantageWeights computes the per-transition weight of the
// pretraining actor loss from the advantage of each batch action over
// the current policy's estimated value
//
//	advantage = minQ(state, action) - aggregate_j minQ(state, policy_j)
//
// where the aggregate runs over nActionSamples policy action samples
// as a maximum or a mean. The behaviour cloning strategy skips the
// estimate and weights every transition by 1.
func (s *SAC) advantageWeights(states, actions []float64) ([]float64,
	error) {
	if s.crrStrategy == BehaviourCloning {
		weights := make([]float64, s.batchSize)
		for i := range weights {
			weights[i] = 1.0
		}
		return weights, nil
	}

	if err := s.evalCritics.set(s.critics.criticEnsemble); err != nil {
		return nil, fmt.Errorf("could not synchronize evaluation "+
			"critics: %v", err)
	}
	bufferValues, err := s.evalCritics.run(states, actions)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate data actions: %v", err)
	}
	qfBuffer := elementwiseMin(bufferValues)

	n := s.nActionSamples
	tiled := tileRows(states, s.features, n)
	if err := network.Set(s.actionSampler.Network(),
		s.trainPolicy.Network()); err != nil {
		return nil, fmt.Errorf("could not synchronize action "+
			"sampler: %v", err)
	}
	policyActions, _, err := s.actionSampler.SampleActions(tiled)
	if err != nil {
		return nil, fmt.Errorf("could not sample policy actions: %v", err)
	}

	if err := s.sampleCritics.set(s.critics.criticEnsemble); err != nil {
		return nil, fmt.Errorf("could not synchronize sampling "+
			"critics: %v", err)
	}
	policyValues, err := s.sampleCritics.run(tiled, policyActions)
	if err != nil {
		return nil, fmt.Errorf("could not evaluate policy actions: %v",
			err)
	}
	qfAgg := aggregateValues(elementwiseMin(policyValues), n,
		s.crrAggregation)

	advantages := make([]float64, s.batchSize)
	for i := range advantages {
		advantages[i] = qfBuffer[i] - qfAgg[i]
	}
	return crrWeights(s.crrStrategy, advantages, s.crrTemperature)
}

// aggregateValues reduces n consecutive values per transition to a
// single value, by running maximum or running mean
func aggregateValues(values []float64, n int, aggregation string) []float64 {
	batch := len(values) / n
	out := make([]float64, batch)
	for b := 0; b < batch; b++ {
		samples := values[b*n : (b+1)*n]
		switch aggregation {
		case MaxAggregation:
			out[b] = floatutils.Max(samples...)
		default:
			var total float64
			for _, v := range samples {
				total += v
			}
			out[b] = total / float64(n)
		}
	}
	return out
}

// crrWeights computes the pretraining actor loss weight of each
// transition from its advantage
func crrWeights(strategy string, advantages []float64,
	temperature float64) ([]float64, error) {
	weights := make([]float64, len(advantages))
	switch strategy {
	case BehaviourCloning:
		for i := range weights {
			weights[i] = 1.0
		}

	case BinaryWeights:
		for i, adv := range advantages {
			if adv > 0 {
				weights[i] = 1.0
			}
		}

	case ExpWeights:
		for i, adv := range advantages {
			weights[i] = floatutils.Clip(math.Exp(adv/temperature), 0,
				maxExpWeight)
		}

	default:
		return nil, fmt.Errorf("crrWeights: unknown advantage "+
			"weighting strategy %v", strategy)
	}
	return weights, nil
}
