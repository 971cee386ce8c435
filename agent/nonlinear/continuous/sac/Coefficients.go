package sac

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jahabrewer/gosac/solver"
)

// Prefix marking an entropy coefficient string as automatically tuned
const autoPrefix string = "auto"

// parseEntCoef parses an entropy coefficient configuration string. The
// string is either "auto", "auto_<init>" for an automatically tuned
// coefficient with initial value init, or a fixed float. Automatically
// tuned coefficients must have a positive initial value.
func parseEntCoef(coef string) (auto bool, value float64, err error) {
	if coef == autoPrefix {
		return true, 1.0, nil
	}

	if strings.HasPrefix(coef, autoPrefix+"_") {
		init, err := strconv.ParseFloat(
			strings.TrimPrefix(coef, autoPrefix+"_"), 64)
		if err != nil {
			return false, 0, fmt.Errorf("parseEntCoef: malformed initial "+
				"entropy coefficient %v", coef)
		}
		if init <= 0 {
			return false, 0, fmt.Errorf("parseEntCoef: initial entropy "+
				"coefficient must be positive \n\twant(>0) \n\thave(%v)",
				init)
		}
		return true, init, nil
	}

	fixed, err := strconv.ParseFloat(coef, 64)
	if err != nil {
		return false, 0, fmt.Errorf("parseEntCoef: malformed entropy "+
			"coefficient %v", coef)
	}
	return false, fixed, nil
}

// parseTargetEntropy parses a target entropy configuration string.
// When "auto", the target entropy is the negative of the action
// dimensionality.
func parseTargetEntropy(target string, actionDims int) (float64, error) {
	if target == autoPrefix {
		return -float64(actionDims), nil
	}

	value, err := strconv.ParseFloat(target, 64)
	if err != nil {
		return 0, fmt.Errorf("parseTargetEntropy: malformed target "+
			"entropy %v", target)
	}
	return value, nil
}

// entropyCoefficient regulates the weighting of policy entropy in the
// actor objective. The coefficient is either a fixed constant or a
// scalar learned in log space with its own solver, adjusted so that
// policy entropy tracks a target entropy.
type entropyCoefficient struct {
	auto          bool
	fixed         float64
	targetEntropy float64

	// Learned coefficient, set only when auto
	g        *G.ExprGraph
	logCoef  *G.Node // Log coefficient (1)
	logProbs *G.Node // Policy log probabilities (batchSize)
	lossVal  G.Value
	vm       G.VM
	solver   *solver.Solver
	batch    int
}

// newEntropyCoefficient returns a new entropyCoefficient parsed from
// the coef and targetEntropy configuration strings. For automatically
// tuned coefficients, the loss
//
//	-mean(logCoef * (logProb + targetEntropy))
//
// is minimized with respect to logCoef by sol, holding the log
// probabilities fixed.
func newEntropyCoefficient(coef, targetEntropy string, actionDims,
	batchSize int, sol *solver.Solver) (*entropyCoefficient, error) {
	auto, value, err := parseEntCoef(coef)
	if err != nil {
		return nil, fmt.Errorf("newEntropyCoefficient: %v", err)
	}

	target, err := parseTargetEntropy(targetEntropy, actionDims)
	if err != nil {
		return nil, fmt.Errorf("newEntropyCoefficient: %v", err)
	}

	coefficient := &entropyCoefficient{
		auto:          auto,
		fixed:         value,
		targetEntropy: target,
		solver:        sol,
		batch:         batchSize,
	}
	if !auto {
		return coefficient, nil
	}
	if sol == nil {
		return nil, fmt.Errorf("newEntropyCoefficient: automatically " +
			"tuned coefficient requires a solver")
	}

	g := G.NewGraph()
	coefficient.g = g
	coefficient.logCoef = G.NewVector(g, tensor.Float64,
		G.WithShape(1), G.WithName("logEntCoef"),
		G.WithInit(G.ValuesOf(math.Log(value))))
	coefficient.logProbs = G.NewVector(g, tensor.Float64,
		G.WithShape(batchSize), G.WithName("entCoefLogProbs"),
		G.WithInit(G.Zeroes()))

	entropyGap := G.Must(G.Add(coefficient.logProbs,
		G.NewConstant(target)))
	loss := G.Must(G.Mul(
		G.Must(G.Sum(coefficient.logCoef)),
		G.Must(G.Mean(entropyGap)),
	))
	loss = G.Must(G.Neg(loss))
	G.Read(loss, &coefficient.lossVal)

	if _, err := G.Grad(loss, coefficient.logCoef); err != nil {
		panic(fmt.Sprintf("newEntropyCoefficient: could not compute "+
			"gradient: %v", err))
	}
	coefficient.vm = G.NewTapeMachine(g,
		G.BindDualValues(coefficient.logCoef))

	return coefficient, nil
}

// coefficient returns the current entropy coefficient. For learned
// coefficients this is exp of the current log coefficient, so the
// returned value is always positive.
func (e *entropyCoefficient) coefficient() float64 {
	if !e.auto {
		return e.fixed
	}
	return math.Exp(e.logCoef.Value().Data().([]float64)[0])
}

// update runs one gradient step on a learned coefficient using the
// argument policy log probabilities and returns the coefficient loss.
// Fixed coefficients are never updated.
func (e *entropyCoefficient) update(logProbs []float64) (float64, error) {
	if !e.auto {
		return 0, nil
	}

	logProbsTensor := tensor.New(
		tensor.WithBacking(logProbs),
		tensor.WithShape(e.batch),
	)
	if err := G.Let(e.logProbs, logProbsTensor); err != nil {
		return 0, fmt.Errorf("update: could not set log probs: %v", err)
	}

	if err := e.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run coefficient VM: %v",
			err)
	}
	defer e.vm.Reset()

	model := []G.ValueGrad{e.logCoef}
	if err := e.solver.Step(model); err != nil {
		return 0, fmt.Errorf("update: could not step coefficient "+
			"solver: %v", err)
	}
	return e.lossVal.Data().(float64), nil
}

// close stops the coefficient's VM if one was created
func (e *entropyCoefficient) close() error {
	if e.vm == nil {
		return nil
	}
	return e.vm.Close()
}

// conservativeCoefficient holds the conservative loss weight, learned
// in log space and clamped to [logAlphaLower, logAlphaUpper] before
// exponentiation. The coefficient is adjusted to maximize the
// conservative loss, tightening the penalty when the critic
// overestimates out-of-distribution action values.
type conservativeCoefficient struct {
	g           *G.ExprGraph
	logAlpha    *G.Node // Log coefficient (1)
	elementwise *G.Node // Mean elementwise conservative term (scalar)
	lossVal     G.Value
	vm          G.VM
	solver      *solver.Solver
}

// newConservativeCoefficient returns a new conservativeCoefficient
// with initial value initAlpha, updated by sol
func newConservativeCoefficient(initAlpha float64,
	sol *solver.Solver) (*conservativeCoefficient, error) {
	if initAlpha <= 0 {
		return nil, fmt.Errorf("newConservativeCoefficient: initial "+
			"coefficient must be positive \n\twant(>0) \n\thave(%v)",
			initAlpha)
	}
	if sol == nil {
		return nil, fmt.Errorf("newConservativeCoefficient: coefficient " +
			"requires a solver")
	}

	g := G.NewGraph()
	logAlpha := G.NewVector(g, tensor.Float64,
		G.WithShape(1), G.WithName("logAlpha"),
		G.WithInit(G.ValuesOf(math.Log(initAlpha))))
	elementwise := G.NewScalar(g, tensor.Float64,
		G.WithName("conservativeElementwise"), G.WithValue(0.0))

	// Differentiable clamp of logAlpha to [logAlphaLower,
	// logAlphaUpper] using x + relu(lower - x) - relu(x - upper)
	clamped := G.Must(G.Add(logAlpha, G.Must(G.Rectify(
		G.Must(G.Sub(G.NewConstant(logAlphaLower), logAlpha))))))
	clamped = G.Must(G.Sub(clamped, G.Must(G.Rectify(
		G.Must(G.Sub(clamped, G.NewConstant(logAlphaUpper)))))))
	alpha := G.Must(G.Exp(clamped))

	// Gradient ascent on the conservative loss
	loss := G.Must(G.Mul(G.Must(G.Sum(alpha)), elementwise))
	loss = G.Must(G.Neg(loss))

	coefficient := &conservativeCoefficient{
		g:           g,
		logAlpha:    logAlpha,
		elementwise: elementwise,
		solver:      sol,
	}
	G.Read(loss, &coefficient.lossVal)

	if _, err := G.Grad(loss, logAlpha); err != nil {
		panic(fmt.Sprintf("newConservativeCoefficient: could not "+
			"compute gradient: %v", err))
	}
	coefficient.vm = G.NewTapeMachine(g, G.BindDualValues(logAlpha))

	return coefficient, nil
}

// value returns the clamped conservative coefficient
//
//	clamp(exp(logAlpha), exp(logAlphaLower), exp(logAlphaUpper))
//
// which is always positive and bounded regardless of logAlpha.
func (c *conservativeCoefficient) value() float64 {
	logAlpha := c.logAlpha.Value().Data().([]float64)[0]
	alpha := math.Exp(logAlpha)
	return math.Min(math.Max(alpha, math.Exp(logAlphaLower)),
		math.Exp(logAlphaUpper))
}

// update runs one gradient step on the coefficient given the mean
// elementwise conservative term of a fresh sample, returning the
// coefficient loss
func (c *conservativeCoefficient) update(meanElementwise float64) (float64,
	error) {
	if err := G.Let(c.elementwise, meanElementwise); err != nil {
		return 0, fmt.Errorf("update: could not set elementwise term: %v",
			err)
	}

	if err := c.vm.RunAll(); err != nil {
		return 0, fmt.Errorf("update: could not run coefficient VM: %v",
			err)
	}
	defer c.vm.Reset()

	model := []G.ValueGrad{c.logAlpha}
	if err := c.solver.Step(model); err != nil {
		return 0, fmt.Errorf("update: could not step coefficient "+
			"solver: %v", err)
	}
	return c.lossVal.Data().(float64), nil
}

// close stops the coefficient's VM
func (c *conservativeCoefficient) close() error {
	if c.vm == nil {
		return nil
	}
	return c.vm.Close()
}
