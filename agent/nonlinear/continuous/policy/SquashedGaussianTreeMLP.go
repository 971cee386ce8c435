package policy

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
	"github.com/jahabrewer/gosac/agent"
	"github.com/jahabrewer/gosac/environment"
	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/timestep"
	"github.com/jahabrewer/gosac/utils/floatutils"
	"github.com/jahabrewer/gosac/utils/op"
)

// For stability, the standard deviation of the Gaussian distribution
// should be offset from 0.
const stdOffset float64 = 1e-3

// tanhBound keeps pre-squash values finite when inverting the squash
const tanhBound float64 = 1.0 - 1e-6

// SquashedGaussianTreeMLP implements a squashed Gaussian policy
// parameterized by a tree MLP. The MLP has a single root network which
// breaks off into two leaf networks. One predicts the mean, and the
// other the log standard deviation. See the network.TreeMLP struct for
// more details.
//
// Given a network prediction of the mean μ and standard deviation σ of
// the Gaussian policy, actions are selected by sampling from the
// standard normal ɛ ~ N(0, 1) and computing u := μ + σ * ɛ using the
// reparameterization trick, then squashing with action := tanh(u) so
// that all actions stay in (-1, 1). The log probability of an action
// accounts for the squashing by the change-of-variables correction
// log(1 - tanh(u)² + 1e-6) per action dimension.
//
// The policy's computational graph holds two log probability pathways.
// The first computes the log probability of the actions the policy
// itself samples, with the gradient flowing through the
// reparameterized sampling. The second computes the log probability of
// externally provided actions, with no gradient through action
// selection. Both pathways exist on every instance so that a single
// set of network weights can serve both actor-gradient and
// behaviour-cloning style losses.
type SquashedGaussianTreeMLP struct {
	net network.NeuralNet
	vm  G.VM

	obs *G.Node
	eps *G.Node

	actions    *G.Node
	actionsVal G.Value

	logProbNode *G.Node
	logProbVal  G.Value

	externActions *G.Node
	logPdfNode    *G.Node
	logPdfVal     G.Value

	normal       distmv.Rander
	actionDims   int
	features     int
	batchSize    int
	noise        []float64
	persistNoise bool
	evalMode     bool

	// Architecture, kept for cloning
	rootHiddenSizes []int
	rootBiases      []bool
	rootActivations []*network.Activation
	leafHiddenSizes [][]int
	leafBiases      [][]bool
	leafActivations [][]*network.Activation
	init            G.InitWFn
	seed            uint64
}

// NewSquashedGaussianTreeMLP returns a new squashed Gaussian policy
// built on the computational graph g. The neural network
// parameterization of the policy is defined by rootHiddenSizes,
// rootBiases, rootActivations, leafHiddenSizes, leafBiases, and
// leafActivations. See the network.TreeMLP struct for details on what
// each of these parameters defines.
//
// When batch == 1, the policy can select actions at each timestep with
// SelectAction(). For larger batches the policy instead samples or
// scores batches of actions for learners, which run the graph with
// their own VMs.
//
// If persistNoise is true, action selection reuses a single draw of
// exploration noise until ResampleNoise is called, giving temporally
// coherent exploration. Otherwise fresh noise is drawn on every call
// to SelectAction.
func NewSquashedGaussianTreeMLP(env environment.Environment, batch int,
	g *G.ExprGraph, rootHiddenSizes []int, rootBiases []bool,
	rootActivations []*network.Activation, leafHiddenSizes [][]int,
	leafBiases [][]bool, leafActivations [][]*network.Activation,
	init G.InitWFn, persistNoise bool,
	seed uint64) (*SquashedGaussianTreeMLP, error) {

	if env.ActionSpec().Cardinality != environment.Continuous {
		panic("newSquashedGaussianTreeMLP: actions should be continuous")
	}
	if len(leafHiddenSizes) != 2 {
		panic("newSquashedGaussianTreeMLP: gaussian policy requires 2 " +
			"leaf networks only")
	}

	features := env.ObservationSpec().Shape.Len()
	actionDims := env.ActionSpec().Shape.Len()

	proto := &SquashedGaussianTreeMLP{
		actionDims:   actionDims,
		features:     features,
		persistNoise: persistNoise,

		rootHiddenSizes: rootHiddenSizes,
		rootBiases:      rootBiases,
		rootActivations: rootActivations,
		leafHiddenSizes: leafHiddenSizes,
		leafBiases:      leafBiases,
		leafActivations: leafActivations,
		init:            init,
		seed:            seed,
	}

	pol, err := newWithBatch(proto, batch, g)
	if err != nil {
		return nil, fmt.Errorf("newSquashedGaussianTreeMLP: %v", err)
	}
	return pol, nil
}

// squashedLogPdf adds the log probability of tanh-squashed actions to
// the computational graph of mean and std. The u parameter holds the
// pre-squash actions and squashed holds tanh(u).
func squashedLogPdf(mean, std, u, squashed *G.Node) *G.Node {
	gaussian := op.GaussianLogPdf(mean, std, u)

	// Change-of-variables correction for the tanh squashing
	correction := G.Must(G.Square(squashed))
	correction = G.Must(G.Sub(G.NewConstant(1.0+1e-6), correction))
	correction = G.Must(G.Log(correction))
	correction = G.Must(G.Sum(correction, 1))

	return G.Must(G.Sub(gaussian, correction))
}

// PrepareSample sets the policy's graph inputs so that the next run of
// a VM over the graph samples actions at the argument observations.
// Fresh standard normal noise is drawn for each row of the batch.
func (s *SquashedGaussianTreeMLP) PrepareSample(obs []float64) error {
	if err := s.net.SetInput(obs); err != nil {
		return fmt.Errorf("prepareSample: could not set observations: %v",
			err)
	}

	noise := make([]float64, s.batchSize*s.actionDims)
	for i := 0; i < s.batchSize; i++ {
		copy(noise[i*s.actionDims:(i+1)*s.actionDims], s.normal.Rand(nil))
	}
	return s.letNoise(noise)
}

// letNoise sets the value of the policy's noise input node
func (s *SquashedGaussianTreeMLP) letNoise(noise []float64) error {
	noiseTensor := tensor.New(
		tensor.WithBacking(noise),
		tensor.WithShape(s.batchSize, s.actionDims),
	)
	return G.Let(s.eps, noiseTensor)
}

// SampleActions samples one action and its log probability for each
// observation row in obs. Returned actions are squashed into (-1, 1)
// and stored in row major order.
func (s *SquashedGaussianTreeMLP) SampleActions(obs []float64) ([]float64,
	[]float64, error) {
	if err := s.PrepareSample(obs); err != nil {
		return nil, nil, err
	}

	if s.vm == nil {
		s.vm = G.NewTapeMachine(s.net.Graph())
	}
	if err := s.vm.RunAll(); err != nil {
		return nil, nil, fmt.Errorf("sampleActions: could not run policy "+
			"VM: %v", err)
	}
	defer s.vm.Reset()

	actions := make([]float64, s.batchSize*s.actionDims)
	copy(actions, s.actionsVal.Data().([]float64))

	logProb := make([]float64, s.batchSize)
	copy(logProb, s.logProbVal.Data().([]float64))

	return actions, logProb, nil
}

// SelectAction selects and returns an action at the argument timestep.
// In evaluation mode the policy acts deterministically, returning
// tanh of the predicted mean.
func (s *SquashedGaussianTreeMLP) SelectAction(
	t timestep.TimeStep) *mat.VecDense {
	if size := s.net.BatchSize(); size != 1 {
		panic(fmt.Sprintf("selectAction: action selection can only be "+
			"done with a policy with batch size 1 \n\twant(1) \n\thave(%v)",
			size))
	}

	obs := t.Observation.(*mat.VecDense).RawVector().Data
	if err := s.net.SetInput(obs); err != nil {
		panic(fmt.Sprintf("selectAction: cannot set input: %v", err))
	}

	var noise []float64
	switch {
	case s.evalMode:
		noise = make([]float64, s.actionDims)
	case s.persistNoise:
		noise = s.noise
	default:
		s.ResampleNoise()
		noise = s.noise
	}
	if err := s.letNoise(append([]float64{}, noise...)); err != nil {
		panic(fmt.Sprintf("selectAction: cannot set noise: %v", err))
	}

	if s.vm == nil {
		s.vm = G.NewTapeMachine(s.net.Graph())
	}
	if err := s.vm.RunAll(); err != nil {
		panic(fmt.Sprintf("selectAction: could not run policy VM: %v", err))
	}
	defer s.vm.Reset()

	action := make([]float64, s.actionDims)
	copy(action, s.actionsVal.Data().([]float64))
	return mat.NewVecDense(s.actionDims, action)
}

// ResampleNoise draws a fresh exploration noise vector for action
// selection. When the policy persists noise, the same draw is reused
// on each call to SelectAction until the next ResampleNoise.
func (s *SquashedGaussianTreeMLP) ResampleNoise() {
	s.noise = s.normal.Rand(nil)
}

// LogPdfOf sets the state and action inputs of the policy's
// computational graph to the argument states and actions so that when
// a VM of the policy's graph is run, the log probability of actions
// taken in states will be computed and stored in the node returned by
// this method.
//
// The reason this function does not return the log PDF values is
// that this would require running the policy's VM, which does not
// contain any loss function. The log PDF of actions is generally
// needed in loss functions, and a separate, external VM is needed to
// calculate the loss of the policy using the log PDF and update the
// weights accordingly.
func (s *SquashedGaussianTreeMLP) LogPdfOf(states,
	actions []float64) (*G.Node, error) {
	if err := s.net.SetInput(states); err != nil {
		return nil, fmt.Errorf("logPdfOf: could not set states: %v", err)
	}

	// Invert the squashing, clipping actions away from ±1 so that the
	// pre-squash values stay finite
	preSquash := make([]float64, len(actions))
	for i, action := range actions {
		preSquash[i] = math.Atanh(floatutils.Clip(action, -tanhBound,
			tanhBound))
	}

	actionsTensor := tensor.New(
		tensor.WithBacking(preSquash),
		tensor.WithShape(s.batchSize, s.actionDims),
	)
	if err := G.Let(s.externActions, actionsTensor); err != nil {
		return nil, fmt.Errorf("logPdfOf: could not set actions: %v", err)
	}

	return s.logPdfNode, nil
}

// ObservationsNode returns the node of the computational graph that
// holds the observations the policy acts on
func (s *SquashedGaussianTreeMLP) ObservationsNode() *G.Node {
	return s.obs
}

// ActionsNode returns the node of the computational graph that holds
// the actions sampled by the policy
func (s *SquashedGaussianTreeMLP) ActionsNode() *G.Node {
	return s.actions
}

// LogProbNode returns the node of the computational graph that holds
// the log probability of the actions sampled by the policy. Gradients
// through this node flow into the policy weights through the
// reparameterized sampling.
func (s *SquashedGaussianTreeMLP) LogProbNode() *G.Node {
	return s.logProbNode
}

// LogProbVal returns the value of the node returned by LogProbNode()
func (s *SquashedGaussianTreeMLP) LogProbVal() G.Value {
	return s.logProbVal
}

// ActionsVal returns the value of the node returned by ActionsNode()
func (s *SquashedGaussianTreeMLP) ActionsVal() G.Value {
	return s.actionsVal
}

// LogPdfNode returns the node that will hold the log probability of
// externally provided actions when the computational graph is run
func (s *SquashedGaussianTreeMLP) LogPdfNode() *G.Node {
	return s.logPdfNode
}

// LogPdfVal returns the value of the node returned by LogPdfNode()
func (s *SquashedGaussianTreeMLP) LogPdfVal() G.Value {
	return s.logPdfVal
}

// Eval sets the policy to evaluation mode
func (s *SquashedGaussianTreeMLP) Eval() {
	s.evalMode = true
}

// Train sets the policy to training mode
func (s *SquashedGaussianTreeMLP) Train() {
	s.evalMode = false
}

// IsEval returns whether the policy is in evaluation mode
func (s *SquashedGaussianTreeMLP) IsEval() bool {
	return s.evalMode
}

// Network returns the network of the SquashedGaussianTreeMLP
func (s *SquashedGaussianTreeMLP) Network() network.NeuralNet {
	return s.net
}

// Close closes the VM of the policy, if one was created
func (s *SquashedGaussianTreeMLP) Close() error {
	if s.vm == nil {
		return nil
	}
	return s.vm.Close()
}

// Clone clones a SquashedGaussianTreeMLP
func (s *SquashedGaussianTreeMLP) Clone() (agent.NNPolicy, error) {
	return s.CloneWithBatch(s.batchSize)
}

// CloneWithBatch clones a SquashedGaussianTreeMLP with a new batch
// size. The clone is constructed on a fresh computational graph with
// the same weights as the original policy.
func (s *SquashedGaussianTreeMLP) CloneWithBatch(
	batch int) (agent.NNPolicy, error) {
	clone, err := newWithBatch(s, batch, G.NewGraph())
	if err != nil {
		return nil, fmt.Errorf("cloneWithBatch: %v", err)
	}
	if err := network.Set(clone.Network(), s.Network()); err != nil {
		return nil, fmt.Errorf("cloneWithBatch: could not copy "+
			"weights: %v", err)
	}
	return clone, nil
}

// newWithBatch constructs a new policy with the same architecture as
// orig but a new batch size, on the graph g, without copying weights.
func newWithBatch(orig *SquashedGaussianTreeMLP, batch int,
	g *G.ExprGraph) (*SquashedGaussianTreeMLP, error) {
	obs := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, orig.features),
		G.WithName("policyObservations"), G.WithInit(G.Zeroes()))

	net, err := network.NewTreeMLPFromInput(
		obs,
		[]int{orig.actionDims, orig.actionDims},
		g,
		orig.rootHiddenSizes,
		orig.rootBiases,
		orig.rootActivations,
		orig.leafHiddenSizes,
		orig.leafBiases,
		orig.leafActivations,
		orig.init,
		"Policy",
		"",
	)
	if err != nil {
		return nil, err
	}

	mean := net.Prediction()[0]
	logStd := net.Prediction()[1]
	std := G.Must(G.Exp(logStd))
	std = G.Must(G.Add(G.NewConstant(stdOffset), std))

	eps := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, orig.actionDims),
		G.WithName("policyEpsilon"), G.WithInit(G.Zeroes()))
	u := G.Must(G.Add(mean, G.Must(G.HadamardProd(std, eps))))
	actions := G.Must(G.Tanh(u))
	logProbNode := squashedLogPdf(mean, std, u, actions)

	externActions := G.NewMatrix(g, tensor.Float64,
		G.WithShape(batch, orig.actionDims),
		G.WithName("policyExternActions"), G.WithInit(G.Zeroes()))
	externSquashed := G.Must(G.Tanh(externActions))
	logPdfNode := squashedLogPdf(mean, std, externActions, externSquashed)

	means := make([]float64, orig.actionDims)
	stds := mat.NewDiagDense(orig.actionDims,
		floatutils.Ones(orig.actionDims))
	source := rand.NewSource(orig.seed)
	normal, ok := distmv.NewNormal(means, stds, source)
	if !ok {
		return nil, fmt.Errorf("could not create standard normal")
	}

	pol := &SquashedGaussianTreeMLP{
		net: net,

		obs: obs,
		eps: eps,

		actions:       actions,
		logProbNode:   logProbNode,
		externActions: externActions,
		logPdfNode:    logPdfNode,

		normal:       normal,
		actionDims:   orig.actionDims,
		features:     orig.features,
		batchSize:    batch,
		persistNoise: orig.persistNoise,

		rootHiddenSizes: orig.rootHiddenSizes,
		rootBiases:      orig.rootBiases,
		rootActivations: orig.rootActivations,
		leafHiddenSizes: orig.leafHiddenSizes,
		leafBiases:      orig.leafBiases,
		leafActivations: orig.leafActivations,
		init:            orig.init,
		seed:            orig.seed,
	}
	pol.noise = pol.normal.Rand(nil)

	G.Read(pol.actions, &pol.actionsVal)
	G.Read(pol.logProbNode, &pol.logProbVal)
	G.Read(pol.logPdfNode, &pol.logPdfVal)

	return pol, nil
}
