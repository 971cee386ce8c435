// Package environment outlines the interfaces and structs needed to
// implement concrete environments
package environment

import (
	"gonum.org/v1/gonum/mat"
	"github.com/jahabrewer/gosac/timestep"
)

// Starter implements a distribution of starting states and samples
// starting states for environments
type Starter interface {
	Start() mat.Vector
}

// Ender determines when and how episodes end
type Ender interface {
	// End takes the most recent TimeStep in the environment and
	// returns whether the episode ended at that step, adjusting the
	// TimeStep's StepType and EndType fields if so
	End(*timestep.TimeStep) bool
}

// Task implements the reward scheme and start/end conditions for
// acting in some environment
type Task interface {
	Starter
	Ender

	// GetReward returns the reward for taking action in state,
	// resulting in nextState
	GetReward(state, action, nextState mat.Vector) float64

	// AtGoal returns whether state is a goal state of the Task
	AtGoal(state mat.Matrix) bool

	// Min and Max return the minimum and maximum attainable rewards
	Min() float64
	Max() float64

	RewardSpec() Spec
}

// Environment implements a simulated environment, which includes a
// Task to complete
type Environment interface {
	Task

	// Reset resets the environment between episodes and returns the
	// first TimeStep of the new episode
	Reset() timestep.TimeStep

	// Step takes one environmental step given an action, returning
	// the next TimeStep and whether it is the last in the episode
	Step(action *mat.VecDense) (timestep.TimeStep, bool)

	// CurrentTimeStep returns the most recent TimeStep
	CurrentTimeStep() timestep.TimeStep

	DiscountSpec() Spec
	ObservationSpec() Spec
	ActionSpec() Spec
}
