package network

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// TestSet ensures that Set copies all weights of the source network
// into the destination network.
func TestSet(t *testing.T) {
	hiddenSizes := []int{5, 3}
	biases := []bool{true, true}
	activations := []*Activation{ReLU(), ReLU()}

	g1 := G.NewGraph()
	source, err := NewMultiHeadMLP(4, 2, 2, g1, hiddenSizes, biases,
		G.GlorotU(1.0), activations)
	if err != nil {
		t.Fatalf("could not create source network: %v", err)
	}

	g2 := G.NewGraph()
	dest, err := NewMultiHeadMLP(4, 2, 2, g2, hiddenSizes, biases,
		G.GlorotU(1.0), activations)
	if err != nil {
		t.Fatalf("could not create dest network: %v", err)
	}

	if err := Set(dest, source); err != nil {
		t.Fatalf("could not set dest weights: %v", err)
	}

	sourceLearnables := source.Learnables()
	destLearnables := dest.Learnables()
	if len(sourceLearnables) != len(destLearnables) {
		t.Fatalf("networks have different numbers of learnables")
	}

	for i := range sourceLearnables {
		sourceWeights := sourceLearnables[i].Value().Data().([]float64)
		destWeights := destLearnables[i].Value().Data().([]float64)
		for j := range sourceWeights {
			if sourceWeights[j] != destWeights[j] {
				t.Errorf("weight %v of learnable %v not copied "+
					"\n\twant(%v) \n\thave(%v)", j, i, sourceWeights[j],
					destWeights[j])
			}
		}
	}
}

// TestPolyak ensures that Polyak computes the exponential moving
// average of source and destination weights.
func TestPolyak(t *testing.T) {
	const tau float64 = 0.25
	hiddenSizes := []int{4}
	biases := []bool{true}
	activations := []*Activation{TanH()}

	g1 := G.NewGraph()
	source, err := NewMultiHeadMLP(3, 1, 2, g1, hiddenSizes, biases,
		G.GlorotU(1.0), activations)
	if err != nil {
		t.Fatalf("could not create source network: %v", err)
	}

	g2 := G.NewGraph()
	dest, err := NewMultiHeadMLP(3, 1, 2, g2, hiddenSizes, biases,
		G.GlorotU(1.0), activations)
	if err != nil {
		t.Fatalf("could not create dest network: %v", err)
	}

	// Record the current weights to compute the expected averages
	sourceLearnables := source.Learnables()
	destLearnables := dest.Learnables()
	expected := make([][]float64, len(sourceLearnables))
	for i := range sourceLearnables {
		sourceWeights := sourceLearnables[i].Value().Data().([]float64)
		destWeights := destLearnables[i].Value().Data().([]float64)
		expected[i] = make([]float64, len(sourceWeights))
		for j := range sourceWeights {
			expected[i][j] = tau*sourceWeights[j] + (1-tau)*destWeights[j]
		}
	}

	if err := Polyak(dest, source, tau); err != nil {
		t.Fatalf("could not average dest weights: %v", err)
	}

	for i := range destLearnables {
		destWeights := destLearnables[i].Value().Data().([]float64)
		for j := range destWeights {
			if math.Abs(destWeights[j]-expected[i][j]) > 1e-12 {
				t.Errorf("weight %v of learnable %v not averaged "+
					"\n\twant(%v) \n\thave(%v)", j, i, expected[i][j],
					destWeights[j])
			}
		}
	}
}

// TestTreeMLPPredictions ensures that a tree MLP has one output node
// per leaf network and that each predicts the correct number of
// values.
func TestTreeMLPPredictions(t *testing.T) {
	const batch int = 3
	leafOutputs := []int{2, 2}

	g := G.NewGraph()
	net, err := NewTreeMLP(
		4,
		batch,
		leafOutputs,
		g,
		[]int{10},
		[]bool{true},
		[]*Activation{ReLU()},
		[][]int{{5}, {5}},
		[][]bool{{true}, {true}},
		[][]*Activation{{ReLU()}, {ReLU()}},
		G.GlorotU(1.0),
	)
	if err != nil {
		t.Fatalf("could not create tree MLP: %v", err)
	}

	if net.OutputLayers() != len(leafOutputs) {
		t.Fatalf("incorrect number of output layers \n\twant(%v) "+
			"\n\thave(%v)", len(leafOutputs), net.OutputLayers())
	}

	input := make([]float64, 4*batch)
	for i := range input {
		input[i] = float64(i) * 0.1
	}
	if err := net.SetInput(input); err != nil {
		t.Fatalf("could not set network input: %v", err)
	}

	vm := G.NewTapeMachine(net.Graph())
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("could not run forward pass: %v", err)
	}

	for i, out := range net.Output() {
		outTensor := out.(*tensor.Dense)
		shape := outTensor.Shape()
		if shape[0] != batch || shape[1] != leafOutputs[i] {
			t.Errorf("leaf %v has incorrect output shape \n\twant(%v, %v)"+
				" \n\thave(%v)", i, batch, leafOutputs[i], shape)
		}
	}
}
