package agent

import (
	"reflect"

	"github.com/jahabrewer/gosac/environment"
)

// Config represents a configuration for creating an agent
type Config interface {
	// CreateAgent creates the agent that the config describes
	CreateAgent(env environment.Environment, seed uint64) (Agent, error)

	// ValidAgent returns whether the argument agent is valid for the
	// Config
	ValidAgent(Agent) bool

	// Validate returns an error describing whether or not the
	// configuration is valid or not.
	Validate() error
}

// PolicyType represents a type of distribution that a policy could be
type PolicyType string

const (
	Gaussian    PolicyType = "Gaussian"
	Categorical PolicyType = "Softmax"
	EGreedy     PolicyType = "EGreedy"
)

// ConfigList represents a list of agent Configs for a hyperparameter
// sweep. A ConfigList is a struct with the same fields as the Config
// it describes, except each field is a slice of hyperparameter
// settings to sweep over. The list holds one Config per combination of
// settings.
type ConfigList interface {
	// Type returns the type of agent the list describes
	Type() Type

	// NumSettings returns the number of Configs in the list
	NumSettings() int

	// Config returns an empty Config of the type the list describes
	Config() Config
}

// ConfigAt returns the Config at index i in a ConfigList. Fields
// earlier in the list struct are swept over more slowly than later
// fields.
func ConfigAt(i int, list ConfigList) Config {
	listValue := reflect.ValueOf(list)
	configValue := reflect.New(reflect.TypeOf(list.Config())).Elem()

	stride := list.NumSettings()
	for field := 0; field < listValue.NumField(); field++ {
		settings := listValue.Field(field)
		if settings.Kind() != reflect.Slice {
			continue
		}

		stride /= settings.Len()
		index := (i / stride) % settings.Len()

		name := listValue.Type().Field(field).Name
		configValue.FieldByName(name).Set(settings.Index(index))
	}

	return configValue.Interface().(Config)
}

// NumSettings returns the total number of Configs described by a
// ConfigList, which is the product of the number of settings of each
// hyperparameter in the list.
func NumSettings(list ConfigList) int {
	listValue := reflect.ValueOf(list)

	total := 1
	for field := 0; field < listValue.NumField(); field++ {
		settings := listValue.Field(field)
		if settings.Kind() != reflect.Slice {
			continue
		}
		total *= settings.Len()
	}
	return total
}
