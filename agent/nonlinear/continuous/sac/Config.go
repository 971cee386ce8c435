package sac

import (
	"fmt"

	"github.com/jahabrewer/gosac/agent"
	env "github.com/jahabrewer/gosac/environment"
	"github.com/jahabrewer/gosac/expreplay"
	"github.com/jahabrewer/gosac/initwfn"
	"github.com/jahabrewer/gosac/network"
	"github.com/jahabrewer/gosac/solver"
)

func init() {
	// Register ConfigList type so that it can be typed using
	// agent.TypedConfigList to help with serialization/deserialization.
	agent.Register(agent.GaussianSACTreeMLP, ConfigList{})
}

// Advantage weighting strategies for pretraining
const (
	BehaviourCloning string = "bc"     // Uniform unit weights
	BinaryWeights    string = "binary" // 1 when advantage positive
	ExpWeights       string = "exp"    // Clamped exp(advantage / T)
)

// Aggregation modes for the policy value estimate used in pretraining
// advantages
const (
	MaxAggregation  string = "max"
	MeanAggregation string = "mean"
)

// ConfigList implements a list of Config's in a more efficient manner
// than simply using a slice of Config's.
type ConfigList struct {
	PolicyRootLayers      [][]int
	PolicyRootBiases      [][]bool
	PolicyRootActivations [][]*network.Activation
	PolicyLeafLayers      [][][]int
	PolicyLeafBiases      [][][]bool
	PolicyLeafActivations [][][]*network.Activation

	CriticLayers      [][]int
	CriticBiases      [][]bool
	CriticActivations [][]*network.Activation
	NCritics          []int

	InitWFn       []*initwfn.InitWFn
	PolicySolver  []*solver.Solver
	CriticSolver  []*solver.Solver
	EntCoefSolver []*solver.Solver
	AlphaSolver   []*solver.Solver

	// Experience replay parameters
	ExpReplay []expreplay.Config

	Tau                  []float64 // Polyak averaging constant
	Gamma                []float64 // Discount factor
	TrainFreq            []int     // Steps between batches of updates
	GradientSteps        []int     // Gradient steps per update
	EntCoef              []string
	TargetEntropy        []string
	TargetUpdateInterval []int

	UseConservative []bool
	InitialAlpha    []float64
	AlphaThreshold  []float64
	NActionSamples  []int

	StructuredNoise   []bool
	NoiseResampleFreq []int

	CRRStrategy         []string
	CRRTemperature      []float64
	CRRAggregation      []string
	OffPolicyUpdateFreq []int
}

// Type returns the type of Config stored in the list
func (c ConfigList) Type() agent.Type {
	return agent.GaussianSACTreeMLP
}

// NumSettings returns the number of Configs in the list
func (c ConfigList) NumSettings() int {
	return agent.NumSettings(c)
}

// Config returns an empty Config of the same type as that stored
// by the ConfigList
func (c ConfigList) Config() agent.Config {
	return Config{}
}

// At returns the Config at index i in the list
func (c ConfigList) At(i int) agent.Config {
	return agent.ConfigAt(i, c)
}

// Config implements a configuration for a SAC agent
type Config struct {
	// Policy network architecture. The root layers feed two leaf
	// networks predicting the action mean and log standard deviation.
	PolicyRootLayers      []int
	PolicyRootBiases      []bool
	PolicyRootActivations []*network.Activation
	PolicyLeafLayers      [][]int
	PolicyLeafBiases      [][]bool
	PolicyLeafActivations [][]*network.Activation

	// Critic network architecture, shared by every ensemble member
	CriticLayers      []int
	CriticBiases      []bool
	CriticActivations []*network.Activation
	NCritics          int

	// Initialization algorithm for weights
	InitWFn *initwfn.InitWFn

	PolicySolver  *solver.Solver
	CriticSolver  *solver.Solver
	EntCoefSolver *solver.Solver // Required when EntCoef is automatic
	AlphaSolver   *solver.Solver // Required when UseConservative

	// LRSchedule optionally maps training progress remaining to a
	// learning rate applied to every owned solver at the start of
	// each batch of updates. ScheduleSteps is the environment step
	// count over which progress is measured.
	LRSchedule    solver.Schedule `json:"-"`
	ScheduleSteps int

	// Experience replay parameters. The buffer's minimum capacity
	// acts as the warm-up period and its sample size as the batch
	// size.
	ExpReplay expreplay.Config

	Tau                  float64 // Polyak averaging constant
	Gamma                float64 // Discount factor
	TrainFreq            int     // Steps between batches of updates
	GradientSteps        int     // Gradient steps per update
	EntCoef              string  // "auto", "auto_<init>", or a float
	TargetEntropy        string  // "auto" or a float
	TargetUpdateInterval int

	// Conservative value regularization
	UseConservative bool
	InitialAlpha    float64
	AlphaThreshold  float64
	NActionSamples  int

	// Exploration noise held fixed between resamples
	StructuredNoise   bool
	NoiseResampleFreq int

	// Pretraining
	CRRStrategy         string  // bc, binary, or exp
	CRRTemperature      float64 // Temperature of the exp strategy
	CRRAggregation      string  // max or mean
	OffPolicyUpdateFreq int     // Online steps interleaved, 0 disables
}

// BatchSize returns the batch size of the agent constructed using this
// Config
func (c Config) BatchSize() int {
	return c.ExpReplay.SampleSize
}

// Type returns the type of the configuration
func (c Config) Type() agent.Type {
	return agent.GaussianSACTreeMLP
}

// Validate checks a Config to ensure it is a valid configuration of a
// SAC agent.
func (c Config) Validate() error {
	if len(c.PolicyRootLayers) != len(c.PolicyRootBiases) {
		return fmt.Errorf("sac: invalid number of policy root biases "+
			"\n\twant(%v) \n\thave(%v)", len(c.PolicyRootLayers),
			len(c.PolicyRootBiases))
	}
	if len(c.PolicyRootLayers) != len(c.PolicyRootActivations) {
		return fmt.Errorf("sac: invalid number of policy root "+
			"activations \n\twant(%v) \n\thave(%v)",
			len(c.PolicyRootLayers), len(c.PolicyRootActivations))
	}
	if len(c.PolicyLeafLayers) != 2 {
		return fmt.Errorf("sac: gaussian policy requires two leaf "+
			"networks \n\twant(2) \n\thave(%v)", len(c.PolicyLeafLayers))
	}
	for i := range c.PolicyLeafLayers {
		if len(c.PolicyLeafLayers[i]) != len(c.PolicyLeafBiases[i]) {
			return fmt.Errorf("sac: invalid number of policy leaf %v "+
				"biases \n\twant(%v) \n\thave(%v)", i,
				len(c.PolicyLeafLayers[i]), len(c.PolicyLeafBiases[i]))
		}
		if len(c.PolicyLeafLayers[i]) != len(c.PolicyLeafActivations[i]) {
			return fmt.Errorf("sac: invalid number of policy leaf %v "+
				"activations \n\twant(%v) \n\thave(%v)", i,
				len(c.PolicyLeafLayers[i]),
				len(c.PolicyLeafActivations[i]))
		}
	}

	if len(c.CriticLayers) != len(c.CriticBiases) {
		return fmt.Errorf("sac: invalid number of critic biases "+
			"\n\twant(%v) \n\thave(%v)", len(c.CriticLayers),
			len(c.CriticBiases))
	}
	if len(c.CriticLayers) != len(c.CriticActivations) {
		return fmt.Errorf("sac: invalid number of critic activations "+
			"\n\twant(%v) \n\thave(%v)", len(c.CriticLayers),
			len(c.CriticActivations))
	}
	if c.NCritics < 1 {
		return fmt.Errorf("sac: ensemble requires at least one critic "+
			"\n\twant(>0) \n\thave(%v)", c.NCritics)
	}

	if c.Tau <= 0 || c.Tau > 1.0 {
		return fmt.Errorf("sac: polyak averaging constant must be in "+
			"(0, 1] \n\thave(%v)", c.Tau)
	}
	if c.Gamma < 0 || c.Gamma > 1.0 {
		return fmt.Errorf("sac: discount must be in [0, 1] "+
			"\n\thave(%v)", c.Gamma)
	}
	if c.TrainFreq < 1 {
		return fmt.Errorf("sac: training must occur at positive step "+
			"intervals \n\twant(>0) \n\thave(%v)", c.TrainFreq)
	}
	if c.GradientSteps < 1 {
		return fmt.Errorf("sac: must take a positive number of "+
			"gradient steps \n\twant(>0) \n\thave(%v)", c.GradientSteps)
	}
	if c.TargetUpdateInterval < 1 {
		return fmt.Errorf("sac: target networks must be updated at "+
			"positive gradient step intervals \n\twant(>0) \n\thave(%v)",
			c.TargetUpdateInterval)
	}

	// Coefficient strings fail fast before any training step
	auto, _, err := parseEntCoef(c.EntCoef)
	if err != nil {
		return fmt.Errorf("sac: %v", err)
	}
	if auto && c.EntCoefSolver == nil {
		return fmt.Errorf("sac: automatically tuned entropy " +
			"coefficient requires a solver")
	}
	if _, err := parseTargetEntropy(c.TargetEntropy, 1); err != nil {
		return fmt.Errorf("sac: %v", err)
	}

	if c.UseConservative {
		if c.NActionSamples < 1 {
			return fmt.Errorf("sac: conservative loss requires a "+
				"positive number of action samples \n\twant(>0) "+
				"\n\thave(%v)", c.NActionSamples)
		}
		if c.InitialAlpha <= 0 {
			return fmt.Errorf("sac: initial conservative coefficient "+
				"must be positive \n\twant(>0) \n\thave(%v)",
				c.InitialAlpha)
		}
		if c.AlphaSolver == nil {
			return fmt.Errorf("sac: conservative coefficient requires " +
				"a solver")
		}
	}

	switch c.CRRStrategy {
	case "", BehaviourCloning, BinaryWeights, ExpWeights:
	default:
		return fmt.Errorf("sac: unknown advantage weighting strategy "+
			"%v", c.CRRStrategy)
	}
	switch c.CRRAggregation {
	case "", MaxAggregation, MeanAggregation:
	default:
		return fmt.Errorf("sac: unknown advantage aggregation %v",
			c.CRRAggregation)
	}
	if c.CRRStrategy != "" && c.CRRStrategy != BehaviourCloning &&
		c.NActionSamples < 1 {
		return fmt.Errorf("sac: advantage weighting requires a "+
			"positive number of action samples \n\twant(>0) "+
			"\n\thave(%v)", c.NActionSamples)
	}
	if c.CRRStrategy == ExpWeights && c.CRRTemperature <= 0 {
		return fmt.Errorf("sac: exp weighting requires a positive "+
			"temperature \n\twant(>0) \n\thave(%v)", c.CRRTemperature)
	}

	return nil
}

// crrStrategy returns the configured advantage weighting strategy,
// defaulting to behaviour cloning
func (c Config) crrStrategy() string {
	if c.CRRStrategy == "" {
		return BehaviourCloning
	}
	return c.CRRStrategy
}

// crrAggregation returns the configured advantage aggregation,
// defaulting to the running mean
func (c Config) crrAggregation() string {
	if c.CRRAggregation == "" {
		return MeanAggregation
	}
	return c.CRRAggregation
}

// ValidAgent returns whether the agent is valid for the configuration.
// That is, whether Agent a can be constructed with Config c.
func (c Config) ValidAgent(a agent.Agent) bool {
	_, ok := a.(*SAC)
	return ok
}

// CreateAgent creates a new SAC agent based on the configuration
func (c Config) CreateAgent(e env.Environment, s uint64) (agent.Agent,
	error) {
	return New(e, c, int64(s))
}
