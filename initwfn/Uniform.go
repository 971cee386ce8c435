package initwfn

import G "gorgonia.org/gorgonia"

// UniformConfig describes initialization of weights drawn uniformly
// from [Low, High)
type UniformConfig struct {
	Low, High float64
}

// NewUniform returns a new uniform weight initializer
func NewUniform(low, high float64) (*InitWFn, error) {
	return newInitWFn(UniformConfig{Low: low, High: high})
}

// Type returns the type of the described initialization algorithm
func (u UniformConfig) Type() Type {
	return Uniform
}

// Create returns the described algorithm as a Gorgonia InitWFn
func (u UniformConfig) Create() G.InitWFn {
	return G.Uniform(u.Low, u.High)
}
