package sac

import (
	"fmt"
	"math"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/solver"
	"github.com/jahabrewer/gosac/utils/tensorutils"
)

// Bounds on the log conservative coefficient. The coefficient used to
// scale the conservative loss is always exp of a value clamped to
// [logAlphaLower, logAlphaUpper].
const (
	logAlphaLower float64 = -10.0
	logAlphaUpper float64 = 2.0
)

// Additive constant placed inside the logsumexp's log to avoid log(0)
const logsumexpEpsilon float64 = 1e-10

// criticEnsemble holds a fixed number of independently parameterized
// action-value networks sharing a single computational graph. Each
// network maps a (state, action) input row to a scalar value
// prediction.
type criticEnsemble struct {
	g       *G.ExprGraph
	obs     *G.Node // Observation input (batchSize, features)
	actions *G.Node // Action input (batchSize, actionDims)

	nets     []network.NeuralNet
	preds    []*G.Node // Per-critic predictions (batchSize)
	predVals []G.Value

	vm G.VM // Lazily constructed, forward passes only

	batchSize  int
	features   int
	actionDims int
}

// newCriticEnsemble returns a new ensemble of nCritics action-value
// networks on the graph g. Each network concatenates the shared
// observation and action input nodes and passes the result through its
// own MLP.
func newCriticEnsemble(g *G.ExprGraph, features, actionDims, batchSize,
	nCritics int, hiddenSizes []int, biases []bool,
	activations []*network.Activation,
	init G.InitWFn) (*criticEnsemble, error) {
	if nCritics < 1 {
		return nil, fmt.Errorf("newCriticEnsemble: ensemble requires at "+
			"least one critic \n\twant(>0) \n\thave(%v)", nCritics)
	}

	obs := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, features),
		G.WithName("criticObservations"), G.WithInit(G.Zeroes()))
	actions := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batchSize, actionDims),
		G.WithName("criticActions"), G.WithInit(G.Zeroes()))

	nets := make([]network.NeuralNet, nCritics)
	preds := make([]*G.Node, nCritics)
	predVals := make([]G.Value, nCritics)
	for i := 0; i < nCritics; i++ {
		net, err := network.NewMultiHeadMLPFromInputs(
			[]*G.Node{obs, actions},
			1,
			g,
			hiddenSizes,
			biases,
			init,
			activations,
			"Critic",
			fmt.Sprintf("%d", i),
			true,
		)
		if err != nil {
			return nil, fmt.Errorf("newCriticEnsemble: could not create "+
				"critic %v: %v", i, err)
		}
		nets[i] = net

		pred := G.Must(G.Reshape(net.Prediction()[0],
			tensor.Shape{batchSize}))
		preds[i] = pred
		G.Read(pred, &predVals[i])
	}

	return &criticEnsemble{
		g:          g,
		obs:        obs,
		actions:    actions,
		nets:       nets,
		preds:      preds,
		predVals:   predVals,
		batchSize:  batchSize,
		features:   features,
		actionDims: actionDims,
	}, nil
}

// setInputs sets the value of the ensemble's observation and action
// input nodes. Both slices are interpreted in row major order.
func (c *criticEnsemble) setInputs(obs, actions []float64) error {
	obsTensor := tensor.New(
		tensor.WithBacking(obs),
		tensor.WithShape(c.batchSize, c.features),
	)
	if err := G.Let(c.obs, obsTensor); err != nil {
		return fmt.Errorf("setInputs: could not set observations: %v", err)
	}

	actionsTensor := tensor.New(
		tensor.WithBacking(actions),
		tensor.WithShape(c.batchSize, c.actionDims),
	)
	if err := G.Let(c.actions, actionsTensor); err != nil {
		return fmt.Errorf("setInputs: could not set actions: %v", err)
	}
	return nil
}

// run computes and returns the value predictions of each critic in the
// ensemble at the argument (observation, action) input rows. No
// gradients are computed.
func (c *criticEnsemble) run(obs, actions []float64) ([][]float64, error) {
	if err := c.setInputs(obs, actions); err != nil {
		return nil, fmt.Errorf("run: %v", err)
	}

	if c.vm == nil {
		c.vm = G.NewTapeMachine(c.g)
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, fmt.Errorf("run: could not run critic VM: %v", err)
	}
	defer c.vm.Reset()

	values := make([][]float64, len(c.preds))
	for i := range c.predVals {
		values[i] = make([]float64, c.batchSize)
		copy(values[i], c.predVals[i].Data().([]float64))
	}
	return values, nil
}

// learnables returns the learnable weights of every critic in the
// ensemble
func (c *criticEnsemble) learnables() G.Nodes {
	var learnables G.Nodes
	for _, net := range c.nets {
		learnables = append(learnables, net.Learnables()...)
	}
	return learnables
}

// model returns the learnable weights of every critic in the ensemble
// along with their gradients
func (c *criticEnsemble) model() []G.ValueGrad {
	var model []G.ValueGrad
	for _, net := range c.nets {
		model = append(model, net.Model()...)
	}
	return model
}

// set sets the weights of each critic in the ensemble to those of the
// corresponding critic in source
func (c *criticEnsemble) set(source *criticEnsemble) error {
	for i, net := range c.nets {
		if err := network.Set(net, source.nets[i]); err != nil {
			return fmt.Errorf("set: could not set critic %v: %v", i, err)
		}
	}
	return nil
}

// polyak updates the weights of each critic in the ensemble toward
// those of the corresponding critic in source by Polyak averaging
func (c *criticEnsemble) polyak(source *criticEnsemble, tau float64) error {
	for i, net := range c.nets {
		if err := network.Polyak(net, source.nets[i], tau); err != nil {
			return fmt.Errorf("polyak: could not update critic %v: %v",
				i, err)
		}
	}
	return nil
}

// close stops the ensemble's VM if one was created
func (c *criticEnsemble) close() error {
	if c.vm == nil {
		return nil
	}
	return c.vm.Close()
}

// criticLearner adapts the weights of a critic ensemble by gradient
// descent on the TD loss, optionally augmented by a conservative
// penalty on out-of-distribution action values.
//
// Without the conservative penalty, the ensemble's input holds the
// dataBatchSize rows of a sampled transition batch. With the penalty,
// the input holds dataBatchSize * (2*nSamples + 1) rows: the data rows
// first, then nSamples policy-sampled action rows per transition, then
// nSamples uniform random action rows per transition.
type criticLearner struct {
	*criticEnsemble

	targets   *G.Node // Update targets (dataBatchSize)
	lossVal   G.Value
	trainVM   G.VM
	solver    *solver.Solver
	nLearn    G.Nodes
	dataBatch int

	// Conservative penalty inputs, nil when the penalty is disabled
	base            *G.Node // Detached stabilization constant (scalar)
	logProbs        *G.Node // Policy sample log probs (dataBatchSize, n)
	alpha           *G.Node // Clamped conservative coefficient (scalar)
	conservativeVal G.Value
	nSamples        int
}

// newCriticLearner returns a criticLearner over a new ensemble of
// nCritics networks. If conservative is true, the TD loss is augmented
// with the conservative penalty described above, computed from
// nSamples policy and nSamples uniform actions per transition. The
// conservative penalty supports only a single critic and the
// constructor panics if nCritics > 1 in that case.
func newCriticLearner(features, actionDims, dataBatchSize, nCritics int,
	hiddenSizes []int, biases []bool, activations []*network.Activation,
	init G.InitWFn, sol *solver.Solver, conservative bool,
	nSamples int, alphaThreshold float64) (*criticLearner, error) {
	if conservative && nCritics != 1 {
		panic(fmt.Sprintf("newCriticLearner: conservative loss supports "+
			"a single critic only \n\twant(1) \n\thave(%v)", nCritics))
	}

	batchSize := dataBatchSize
	if conservative {
		batchSize = dataBatchSize * (2*nSamples + 1)
	}

	g := G.NewGraph()
	ensemble, err := newCriticEnsemble(g, features, actionDims, batchSize,
		nCritics, hiddenSizes, biases, activations, init)
	if err != nil {
		return nil, fmt.Errorf("newCriticLearner: %v", err)
	}

	targets := G.NewVector(g, tensor.Float64,
		G.WithShape(dataBatchSize), G.WithName("criticTargets"),
		G.WithInit(G.Zeroes()))

	learner := &criticLearner{
		criticEnsemble: ensemble,
		targets:        targets,
		solver:         sol,
		dataBatch:      dataBatchSize,
		nSamples:       nSamples,
	}

	// TD loss: 0.5 * Σ_critics mse(q, target)
	half := G.NewConstant(0.5)
	var loss *G.Node
	for i := range ensemble.preds {
		dataQ := learner.dataPredictions(i)
		mse := G.Must(G.Sub(dataQ, targets))
		mse = G.Must(G.Square(mse))
		cost := G.Must(G.Mean(mse))
		if loss == nil {
			loss = cost
		} else {
			loss = G.Must(G.Add(loss, cost))
		}
	}
	loss = G.Must(G.Mul(half, loss))
	G.Read(loss, &learner.lossVal)

	if conservative {
		penalty := learner.addConservativeLoss(alphaThreshold)
		loss = G.Must(G.Add(loss, penalty))
	}

	learner.nLearn = ensemble.learnables()
	if _, err := G.Grad(loss, learner.nLearn...); err != nil {
		panic(fmt.Sprintf("newCriticLearner: could not compute "+
			"gradient: %v", err))
	}
	learner.trainVM = G.NewTapeMachine(g,
		G.BindDualValues(learner.nLearn...))

	return learner, nil
}

// dataPredictions returns the node holding critic i's predictions at
// the transition batch's own (observation, action) rows
func (c *criticLearner) dataPredictions(i int) *G.Node {
	if c.batchSize == c.dataBatch {
		return c.preds[i]
	}
	dataQ := G.Must(G.Slice(c.preds[i],
		tensorutils.NewSlice(0, c.dataBatch, 1)))
	return G.Must(G.Reshape(dataQ, tensor.Shape{c.dataBatch}))
}

// addConservativeLoss adds the conservative penalty to the learner's
// graph and returns its node. The penalty is a stabilized logsumexp of
// critic values over a 50/50 mixture of policy-sampled and uniform
// random actions, less the critic values at the data actions and the
// allowed slack alphaThreshold, scaled by the clamped conservative
// coefficient.
func (c *criticLearner) addConservativeLoss(alphaThreshold float64) *G.Node {
	n := c.nSamples
	batch := c.dataBatch

	c.base = G.NewScalar(c.g, tensor.Float64,
		G.WithName("conservativeBase"), G.WithValue(0.0))
	c.logProbs = G.NewMatrix(c.g, tensor.Float64,
		G.WithShape(batch, n), G.WithName("conservativeLogProbs"),
		G.WithInit(G.Zeroes()))
	c.alpha = G.NewScalar(c.g, tensor.Float64,
		G.WithName("conservativeAlpha"), G.WithValue(0.0))

	pred := c.preds[0]
	dataQ := c.dataPredictions(0)

	policyQ := G.Must(G.Slice(pred,
		tensorutils.NewSlice(batch, batch+batch*n, 1)))
	policyQ = G.Must(G.Reshape(policyQ, tensor.Shape{batch, n}))

	randomQ := G.Must(G.Slice(pred,
		tensorutils.NewSlice(batch+batch*n, batch+2*batch*n, 1)))
	randomQ = G.Must(G.Reshape(randomQ, tensor.Shape{batch, n}))

	// Importance-weighted policy term: mean_j exp(q - base - logp)
	policyTerm := G.Must(G.Sub(policyQ, c.base))
	policyTerm = G.Must(G.Sub(policyTerm, c.logProbs))
	policyTerm = G.Must(G.Exp(policyTerm))
	policyTerm = G.Must(G.Mean(policyTerm, 1))

	// Uniform random term: mean_j exp(q - base) / 0.5. The division
	// by 0.5 pairs with the 0.5 mixture weight below and is kept for
	// numerical parity with reference results.
	half := G.NewConstant(0.5)
	randomTerm := G.Must(G.Sub(randomQ, c.base))
	randomTerm = G.Must(G.Exp(randomTerm))
	randomTerm = G.Must(G.Mean(randomTerm, 1))
	randomTerm = G.Must(G.Div(randomTerm, half))

	mix := G.Must(G.Add(
		G.Must(G.Mul(half, randomTerm)),
		G.Must(G.Mul(half, policyTerm)),
	))
	mix = G.Must(G.Add(mix, G.NewConstant(logsumexpEpsilon)))
	logsumexp := G.Must(G.Add(G.Must(G.Log(mix)), c.base))

	elementwise := G.Must(G.Sub(logsumexp, dataQ))
	elementwise = G.Must(G.Sub(elementwise,
		G.NewConstant(alphaThreshold)))

	penalty := G.Must(G.Mul(c.alpha, G.Must(G.Mean(elementwise))))
	G.Read(penalty, &c.conservativeVal)
	return penalty
}

// setTargets sets the value of the learner's update target node
func (c *criticLearner) setTargets(targets []float64) error {
	targetsTensor := tensor.New(
		tensor.WithBacking(targets),
		tensor.WithShape(c.dataBatch),
	)
	return G.Let(c.targets, targetsTensor)
}

// setConservativeInputs sets the detached inputs of the conservative
// penalty: the stabilization base, the policy sample log probabilities
// in row major (batch, nSamples) order, and the clamped conservative
// coefficient.
func (c *criticLearner) setConservativeInputs(base float64,
	logProbs []float64, alpha float64) error {
	if err := G.Let(c.base, base); err != nil {
		return fmt.Errorf("setConservativeInputs: could not set base: %v",
			err)
	}

	logProbsTensor := tensor.New(
		tensor.WithBacking(logProbs),
		tensor.WithShape(c.dataBatch, c.nSamples),
	)
	if err := G.Let(c.logProbs, logProbsTensor); err != nil {
		return fmt.Errorf("setConservativeInputs: could not set log "+
			"probs: %v", err)
	}

	if err := G.Let(c.alpha, alpha); err != nil {
		return fmt.Errorf("setConservativeInputs: could not set alpha: %v",
			err)
	}
	return nil
}

// step runs one gradient step on the learner's ensemble. All input
// nodes must have been set beforehand. The TD loss of the step is
// returned.
func (c *criticLearner) step() (float64, error) {
	if err := c.trainVM.RunAll(); err != nil {
		return 0, fmt.Errorf("step: could not run critic VM: %v", err)
	}
	defer c.trainVM.Reset()

	if err := c.solver.Step(c.model()); err != nil {
		return 0, fmt.Errorf("step: could not step critic solver: %v", err)
	}
	return c.lossVal.Data().(float64), nil
}

// conservativeLoss returns the value of the conservative penalty on
// the last gradient step
func (c *criticLearner) conservativeLoss() float64 {
	if c.conservativeVal == nil {
		return 0
	}
	return c.conservativeVal.Data().(float64)
}

// closeLearner stops the learner's VMs
func (c *criticLearner) closeLearner() error {
	if err := c.close(); err != nil {
		return err
	}
	return c.trainVM.Close()
}

// conservativeElementwise computes the mean over a transition batch of
// the conservative penalty's elementwise term
//
//	logsumexp - dataQ - alphaThreshold
//
// from critic values evaluated outside any computational graph. The
// policyQ, randomQ, and logProbs slices hold nSamples values per
// transition in row major order.
func conservativeElementwise(dataQ, policyQ, randomQ, logProbs []float64,
	nSamples int, alphaThreshold float64) float64 {
	base := math.Inf(-1)
	for _, q := range policyQ {
		base = math.Max(base, q)
	}
	for _, q := range randomQ {
		base = math.Max(base, q)
	}

	batch := len(dataQ)
	var total float64
	for b := 0; b < batch; b++ {
		var policyTerm, randomTerm float64
		for j := 0; j < nSamples; j++ {
			i := b*nSamples + j
			policyTerm += math.Exp(policyQ[i] - base - logProbs[i])
			randomTerm += math.Exp(randomQ[i] - base)
		}
		policyTerm /= float64(nSamples)
		randomTerm = randomTerm / float64(nSamples) / 0.5

		logsumexp := math.Log(0.5*randomTerm+0.5*policyTerm+
			logsumexpEpsilon) + base
		total += logsumexp - dataQ[b] - alphaThreshold
	}
	return total / float64(batch)
}
