// Package network implements neural network function approximators
// built on Gorgonia computational graphs.
package network

import (
	"fmt"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// NeuralNet implements a neural network whose forward pass has been
// added to a Gorgonia computational graph. A NeuralNet may have
// multiple output layers, each producing its own prediction node.
type NeuralNet interface {
	// Graph returns the computational graph that the network was
	// built on
	Graph() *G.ExprGraph

	// Clone clones the network to a new computational graph, keeping
	// the same input batch size
	Clone() (NeuralNet, error)

	// CloneWithBatch clones the network to a new computational graph
	// with a new input batch size
	CloneWithBatch(batch int) (NeuralNet, error)

	// CloneWithInputsTo clones the network to the graph g, using the
	// argument nodes as the network input. If multiple input nodes
	// are given, they are concatenated along axis before the forward
	// pass is run.
	CloneWithInputsTo(axis int, inputs []*G.Node, g *G.ExprGraph) (NeuralNet,
		error)

	// BatchSize returns the number of rows in a single network input
	BatchSize() int

	// Features returns the number of columns in a single network input
	Features() int

	// OutputLayers returns the number of output layers of the network
	OutputLayers() int

	// SetInput sets the value of the network's input node. The input
	// is interpreted in row-major order.
	SetInput(input []float64) error

	// Learnables returns the nodes of the network whose values are
	// adjusted by gradient descent
	Learnables() G.Nodes

	// Model returns the learnables along with their gradients
	Model() []G.ValueGrad

	// Output returns the values of each prediction node. Output is
	// valid only after the network's graph has been run on a VM.
	Output() []G.Value

	// Prediction returns the prediction node of each output layer
	Prediction() []*G.Node
}

// Set sets the weights of dest to be equal to the weights of source.
// The two networks must share the same architecture.
func Set(dest, source NeuralNet) error {
	sourceNodes := source.Learnables()
	destNodes := dest.Learnables()
	if len(sourceNodes) != len(destNodes) {
		return fmt.Errorf("set: networks have different numbers of "+
			"learnables \n\twant(%v) \n\thave(%v)", len(destNodes),
			len(sourceNodes))
	}

	for i, destLearnable := range destNodes {
		sourceLearnable := sourceNodes[i].Clone()
		err := G.Let(destLearnable, sourceLearnable.(*G.Node).Value())
		if err != nil {
			return fmt.Errorf("set: could not set learnable %v: %v", i, err)
		}
	}
	return nil
}

// Polyak sets the weights of dest to a Polyak average between its
// existing weights and the weights of source:
//
//	dest <- tau * source + (1 - tau) * dest
//
// Polyak with tau = 1.0 is equivalent to Set.
func Polyak(dest, source NeuralNet, tau float64) error {
	sourceNodes := source.Learnables()
	destNodes := dest.Learnables()
	if len(sourceNodes) != len(destNodes) {
		return fmt.Errorf("polyak: networks have different numbers of "+
			"learnables \n\twant(%v) \n\thave(%v)", len(destNodes),
			len(sourceNodes))
	}

	for i := range destNodes {
		weights := destNodes[i].Value().(*tensor.Dense)
		sourceWeights := sourceNodes[i].Value().(*tensor.Dense)

		weights, err := weights.MulScalar(1-tau, true)
		if err != nil {
			return err
		}

		sourceWeights, err = sourceWeights.MulScalar(tau, true)
		if err != nil {
			return err
		}

		newWeights, err := weights.Add(sourceWeights)
		if err != nil {
			return err
		}

		err = G.Let(destNodes[i], newWeights)
		if err != nil {
			return fmt.Errorf("polyak: could not set learnable %v: %v", i, err)
		}
	}
	return nil
}
