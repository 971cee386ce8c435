// Package timestep implements timesteps of the agent-environment interaction
package timestep

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// StepType denotes the type of step that a TimeStep can be, either first
// environmental step, a middle step, or a last step
type StepType int

const (
	First StepType = iota
	Mid
	Last
)

func (s StepType) String() string {
	switch s {
	case First:
		return "First"
	case Last:
		return "Last"
	default:
		return "Mid"
	}
}

// EndType denotes the way in which an episode ended, if it has ended
type EndType int

const (
	// TerminalStateReached denotes that an episode ended by the agent
	// reaching a terminal state
	TerminalStateReached EndType = iota

	// Timeout denotes that an episode ended by running out of time,
	// with the agent left in a non-terminal state
	Timeout

	// Nil denotes that an episode has not yet ended
	Nil
)

// TimeStep packages together a single timestep in an environment
type TimeStep struct {
	StepType    StepType
	Reward      float64
	Discount    float64
	Observation mat.Vector
	Number      int
	EndType     EndType
}

func New(t StepType, r, d float64, o mat.Vector, n int) TimeStep {
	return TimeStep{t, r, d, o, n, Nil}
}

// SetEnd records the way in which the episode ended at this TimeStep
func (t *TimeStep) SetEnd(e EndType) {
	t.EndType = e
}

// TerminalEnd returns whether the TimeStep ended an episode by the
// agent reaching a terminal state
func (t *TimeStep) TerminalEnd() bool {
	return t.StepType == Last && t.EndType == TerminalStateReached
}

// First returns whether a TimeStep is the first in an environment
func (t *TimeStep) First() bool {
	return t.StepType == First
}

// Mid returns whether a TimeStep is a middle step in an environment
func (t *TimeStep) Mid() bool {
	return t.StepType == Mid
}

// Last returns whether a TimeStep is the last step in an environment
func (t *TimeStep) Last() bool {
	return t.StepType == Last
}

func (t TimeStep) String() string {
	str := "TimeStep | Type: %v  |  Reward:  %.2f  |  Discount: %.2f  |  " +
		"Step Number:  %v"

	return fmt.Sprintf(str, t.StepType, t.Reward, t.Discount, t.Number)
}
