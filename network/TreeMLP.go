package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// treeMLP implements a tree MLP, which is a multi-layered perceptron
// with a single root network and multiple leaf networks. An input is
// first passed through the root network. Its observation features are
// then passed through each leaf network in sequence, producing one
// output node per leaf.
//
// Leaf networks always have a final linear layer added so that each
// leaf network i predicts leafOutputs[i] values.
type treeMLP struct {
	g     *G.ExprGraph
	input *G.Node

	numOutputs   []int
	numInputs    int
	batchSize    int
	rootNetwork  NeuralNet
	leafNetworks []NeuralNet

	rootHiddenSizes []int
	rootBiases      []bool
	rootActivations []*Activation

	leafHiddenSizes [][]int
	leafBiases      [][]bool
	leafActivations [][]*Activation

	learnables G.Nodes
	model      []G.ValueGrad

	predictions []*G.Node
	predVals    []G.Value
}

// NewTreeMLP creates and returns a new tree MLP. The parameters
// rootHiddenSizes, rootBiases, and rootActivations determine the
// architecture of the root network. For index i, rootHiddenSizes[i]
// determines the number of hidden units in layer i; rootBiases[i]
// determines whether layer i has a bias unit; and rootActivations[i]
// determines the activation of layer i.
//
// The parameters leafHiddenSizes, leafBiases, and leafActivations
// determine the architectures of the leaf networks in a similar way,
// except the first index determines the leaf network. For example,
// leafHiddenSizes[i][j] determines the number of hidden units of layer
// j in leaf network i. The number of leaf networks is
// len(leafHiddenSizes), and leaf network i predicts leafOutputs[i]
// values through an automatically added final linear layer.
func NewTreeMLP(features, batch int, leafOutputs []int, g *G.ExprGraph,
	rootHiddenSizes []int, rootBiases []bool, rootActivations []*Activation,
	leafHiddenSizes [][]int, leafBiases [][]bool,
	leafActivations [][]*Activation, init G.InitWFn) (NeuralNet, error) {
	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	return NewTreeMLPFromInput(input, leafOutputs, g, rootHiddenSizes,
		rootBiases, rootActivations, leafHiddenSizes, leafBiases,
		leafActivations, init, "", "")
}

// NewTreeMLPFromInput returns a new tree MLP that uses a specific
// graph node as its input. The prefix and suffix parameters determine
// the names given to the network's weights so that multiple networks
// can share a single graph.
func NewTreeMLPFromInput(input *G.Node, leafOutputs []int, g *G.ExprGraph,
	rootHiddenSizes []int, rootBiases []bool, rootActivations []*Activation,
	leafHiddenSizes [][]int, leafBiases [][]bool,
	leafActivations [][]*Activation, init G.InitWFn, prefix,
	suffix string) (NeuralNet, error) {
	if len(leafHiddenSizes) != len(leafOutputs) {
		msg := "newtreemlp: must specify architecture for each leaf " +
			"network \n\twant(%d) \n\thave(%d)"
		return nil, fmt.Errorf(msg, len(leafOutputs), len(leafHiddenSizes))
	}
	if len(leafHiddenSizes) != len(leafBiases) {
		msg := "newtreemlp: must specify biases for each leaf network" +
			"\n\twant(%d) \n\thave(%d)"
		return nil, fmt.Errorf(msg, len(leafHiddenSizes), len(leafBiases))
	}
	if len(leafHiddenSizes) != len(leafActivations) {
		msg := "newtreemlp: must specify activations for each leaf network" +
			"\n\twant(%d) \n\thave(%d)"
		return nil, fmt.Errorf(msg, len(leafHiddenSizes),
			len(leafActivations))
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("newtreemlp: input must be a matrix node")
	}

	batch := input.Shape()[0]
	features := input.Shape()[1]

	// Root network. If the root has no hidden layers, the leaf networks
	// each observe the input directly.
	var rootNet NeuralNet
	var err error
	rootInput := input
	if len(rootHiddenSizes) != 0 {
		rootOutputs := rootHiddenSizes[len(rootHiddenSizes)-1]
		rootNet, err = NewMultiHeadMLPFromInputs([]*G.Node{input},
			rootOutputs, g, rootHiddenSizes, rootBiases, init,
			rootActivations, prefix, "Root"+suffix, false)
		if err != nil {
			return nil, fmt.Errorf("newtreemlp: could not construct root "+
				"network: %v", err)
		}
		rootInput = rootNet.Prediction()[0]
	}

	// Leaf networks observe the root network's output features
	leafNetworks := make([]NeuralNet, len(leafHiddenSizes))
	for i := range leafHiddenSizes {
		leafSuffix := fmt.Sprintf("Leaf%d%v", i, suffix)
		leafNetworks[i], err = NewMultiHeadMLPFromInputs(
			[]*G.Node{rootInput}, leafOutputs[i], g, leafHiddenSizes[i],
			leafBiases[i], init, leafActivations[i], prefix, leafSuffix,
			true)
		if err != nil {
			return nil, fmt.Errorf("newtreemlp: could not construct leaf "+
				"network %v: %v", i, err)
		}
	}
	network := treeMLP{
		g:            g,
		input:        input,
		numOutputs:   append([]int{}, leafOutputs...),
		numInputs:    features,
		batchSize:    batch,
		rootNetwork:  rootNet,
		leafNetworks: leafNetworks,

		rootHiddenSizes: rootHiddenSizes,
		rootBiases:      rootBiases,
		rootActivations: rootActivations,
		leafHiddenSizes: leafHiddenSizes,
		leafBiases:      leafBiases,
		leafActivations: leafActivations,
	}

	// Record the output of each leaf network
	network.predictions = make([]*G.Node, len(leafNetworks))
	network.predVals = make([]G.Value, len(leafNetworks))
	for i, leaf := range leafNetworks {
		network.predictions[i] = leaf.Prediction()[0]
		G.Read(network.predictions[i], &network.predVals[i])
	}

	return &network, nil
}

// Graph returns the computational graph of the treeMLP
func (t *treeMLP) Graph() *G.ExprGraph {
	return t.g
}

// Clone clones a treeMLP
func (t *treeMLP) Clone() (NeuralNet, error) {
	return t.CloneWithBatch(t.batchSize)
}

// CloneWithBatch clones a treeMLP to a new graph with a new input batch
// size.
func (t *treeMLP) CloneWithBatch(batchSize int) (NeuralNet, error) {
	graph := G.NewGraph()

	if !t.input.IsMatrix() {
		return nil, fmt.Errorf("clonewithbatch: invalid input type")
	}
	inputShape := t.input.Shape()
	batchShape := append([]int{batchSize}, inputShape[1:]...)
	input := G.NewMatrix(
		graph,
		tensor.Float64,
		G.WithShape(batchShape...),
		G.WithName("input"),
		G.WithInit(G.Zeroes()),
	)

	return t.CloneWithInputsTo(-1, []*G.Node{input}, graph)
}

// CloneWithInputsTo clones a treeMLP to a specific computational graph
// with specified input nodes. If multiple input nodes are given, they
// are first concatenated along the specified axis.
func (t *treeMLP) CloneWithInputsTo(axis int, inputs []*G.Node,
	graph *G.ExprGraph) (NeuralNet, error) {
	for _, input := range inputs {
		if input.Graph() != graph {
			return nil, fmt.Errorf("clonewithinputsto: not all inputs " +
				"have the same graph")
		}
	}

	var input *G.Node
	if len(inputs) > 1 {
		input = G.Must(G.Concat(axis, inputs...))
	} else {
		input = inputs[0]
	}
	if !input.IsMatrix() {
		return nil, fmt.Errorf("clonewithinputsto: input must be a matrix " +
			"node")
	}
	batch := input.Shape()[0]

	// Clone root layers, then rerun the forward passes on the new graph
	var rootNet NeuralNet
	var err error
	rootInput := input
	if t.rootNetwork != nil {
		rootNet, err = t.rootNetwork.CloneWithInputsTo(axis,
			[]*G.Node{input}, graph)
		if err != nil {
			return nil, fmt.Errorf("clonewithinputsto: could not clone "+
				"root network: %v", err)
		}
		rootInput = rootNet.Prediction()[0]
	}

	leafNetworks := make([]NeuralNet, len(t.leafNetworks))
	for i, leaf := range t.leafNetworks {
		leafNetworks[i], err = leaf.CloneWithInputsTo(axis,
			[]*G.Node{rootInput}, graph)
		if err != nil {
			return nil, fmt.Errorf("clonewithinputsto: could not clone "+
				"leaf network %v: %v", i, err)
		}
	}

	network := treeMLP{
		g:            graph,
		input:        input,
		numOutputs:   append([]int{}, t.numOutputs...),
		numInputs:    t.numInputs,
		batchSize:    batch,
		rootNetwork:  rootNet,
		leafNetworks: leafNetworks,

		rootHiddenSizes: t.rootHiddenSizes,
		rootBiases:      t.rootBiases,
		rootActivations: t.rootActivations,
		leafHiddenSizes: t.leafHiddenSizes,
		leafBiases:      t.leafBiases,
		leafActivations: t.leafActivations,
	}

	network.predictions = make([]*G.Node, len(leafNetworks))
	network.predVals = make([]G.Value, len(leafNetworks))
	for i, leaf := range leafNetworks {
		network.predictions[i] = leaf.Prediction()[0]
		G.Read(network.predictions[i], &network.predVals[i])
	}

	return &network, nil
}

// BatchSize returns the number of rows in a single network input
func (t *treeMLP) BatchSize() int {
	return t.batchSize
}

// Features returns the number of features in a single input row
func (t *treeMLP) Features() int {
	return t.numInputs
}

// OutputLayers returns the number of output layers, which equals the
// number of leaf networks.
func (t *treeMLP) OutputLayers() int {
	return len(t.leafNetworks)
}

// SetInput sets the value of the input node before running the forward
// pass.
func (t *treeMLP) SetInput(input []float64) error {
	if len(input) != t.numInputs*t.batchSize {
		msg := fmt.Sprintf("setinput: invalid number of inputs\n\twant(%v)"+
			"\n\thave(%v)", t.numInputs*t.batchSize, len(input))
		panic(msg)
	}
	inputTensor := tensor.New(
		tensor.WithBacking(input),
		tensor.WithShape(t.input.Shape()...),
	)
	return G.Let(t.input, inputTensor)
}

// Learnables returns the learnable nodes in a treeMLP
func (t *treeMLP) Learnables() G.Nodes {
	if t.learnables == nil {
		learnables := make([]*G.Node, 0)
		if t.rootNetwork != nil {
			learnables = append(learnables, t.rootNetwork.Learnables()...)
		}
		for _, leaf := range t.leafNetworks {
			learnables = append(learnables, leaf.Learnables()...)
		}
		t.learnables = G.Nodes(learnables)
	}
	return t.learnables
}

// Model returns the learnable nodes with their gradients.
func (t *treeMLP) Model() []G.ValueGrad {
	if t.model == nil {
		model := make([]G.ValueGrad, 0, len(t.Learnables()))
		for _, node := range t.Learnables() {
			model = append(model, node)
		}
		t.model = model
	}
	return t.model
}

// Output returns the output of the treeMLP, one value per leaf network.
func (t *treeMLP) Output() []G.Value {
	return t.predVals
}

// Prediction returns the nodes of the computational graph that store
// the outputs of each leaf network.
func (t *treeMLP) Prediction() []*G.Node {
	return t.predictions
}
