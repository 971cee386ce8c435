package timestep

import "gonum.org/v1/gonum/mat"

// Transition packages together a single environmental transition
// (S, A, R, done, S') for storage in a replay buffer. Done indicates
// whether NextState is terminal.
type Transition struct {
	State     *mat.VecDense
	Action    *mat.VecDense
	Reward    float64
	Done      bool
	NextState *mat.VecDense
}

// NewTransition packages two sequential timesteps and the action taken
// between them into a Transition. Episodes which end by timeout do not
// mark NextState as terminal, since the episode could have continued.
func NewTransition(step TimeStep, action *mat.VecDense,
	nextStep TimeStep) Transition {
	return Transition{
		State:     step.Observation.(*mat.VecDense),
		Action:    action,
		Reward:    nextStep.Reward,
		Done:      nextStep.TerminalEnd(),
		NextState: nextStep.Observation.(*mat.VecDense),
	}
}
