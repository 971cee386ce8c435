// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuration files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled. A Solver additionally supports adjusting its learning
// rate between calls to Step, which Gorgonia Solvers do not.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
	currentRate float64
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c, currentRate: c.LearnRate()}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// LearnRate returns the learning rate the Solver is currently using.
func (s *Solver) LearnRate() float64 {
	return s.currentRate
}

// SetLearnRate sets the learning rate used on subsequent calls to Step.
// If the rate differs from the current rate, the underlying Gorgonia
// Solver is recreated from the Solver's Config, which resets any
// internal solver state such as Adam moment estimates.
func (s *Solver) SetLearnRate(rate float64) {
	if rate == s.currentRate {
		return
	}
	s.currentRate = rate
	s.Solver = s.Config.CreateWithRate(rate)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config
	s.Solver = s.Config.Create()
	s.currentRate = s.Config.LearnRate()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName := m[typeJsonField].(string)
	var value Config
	if ty, found := customTypes[typeName]; found {
		value = reflect.New(ty).Interface().(Config)
	}

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, &value); err != nil {
		return nil, "", err
	}

	return value, Type(typeName), nil
}

// Config implements a Gorgonia Solver configuration and can be used to
// create the Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// CreateWithRate creates the Solver the Config describes, but
	// with the Config's step size replaced by rate
	CreateWithRate(rate float64) G.Solver

	// LearnRate returns the step size of the Config
	LearnRate() float64

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
