package initwfn

import G "gorgonia.org/gorgonia"

// ZeroesConfig describes initialization of all weights to 0
type ZeroesConfig struct{}

// NewZeroes returns a new zeroes weight initializer
func NewZeroes() (*InitWFn, error) {
	return newInitWFn(ZeroesConfig{})
}

// Type returns the type of the described initialization algorithm
func (z ZeroesConfig) Type() Type {
	return Zeroes
}

// Create returns the described algorithm as a Gorgonia InitWFn
func (z ZeroesConfig) Create() G.InitWFn {
	return G.Zeroes()
}

// OnesConfig describes initialization of all weights to 1
type OnesConfig struct{}

// NewOnes returns a new ones weight initializer
func NewOnes() (*InitWFn, error) {
	return newInitWFn(OnesConfig{})
}

// Type returns the type of the described initialization algorithm
func (o OnesConfig) Type() Type {
	return Ones
}

// Create returns the described algorithm as a Gorgonia InitWFn
func (o OnesConfig) Create() G.InitWFn {
	return G.Ones()
}

// ConstantConfig describes initialization of all weights to a fixed
// value
type ConstantConfig struct {
	Value float64
}

// NewConstant returns a new constant weight initializer
func NewConstant(value float64) (*InitWFn, error) {
	return newInitWFn(ConstantConfig{Value: value})
}

// Type returns the type of the described initialization algorithm
func (c ConstantConfig) Type() Type {
	return Constant
}

// Create returns the described algorithm as a Gorgonia InitWFn
func (c ConstantConfig) Create() G.InitWFn {
	return G.ValuesOf(c.Value)
}
