package tracker

import (
	"encoding/gob"
	"log"
	"os"
)

// ScalarRecorder accepts named scalar records produced by training
// code, such as loss and coefficient values. Agents record one value
// per name per training call.
type ScalarRecorder interface {
	Record(name string, value float64)
}

// Scalars records named scalar series and saves them to disk. A
// Scalars is a ScalarRecorder and can be attached to an agent that
// produces training telemetry.
type Scalars struct {
	series   map[string][]float64
	filename string
}

// NewScalars returns a new Scalars which will save its data at the
// specified location filename
func NewScalars(filename string) *Scalars {
	return &Scalars{
		series:   make(map[string][]float64),
		filename: filename,
	}
}

// Record appends value to the series stored under name
func (s *Scalars) Record(name string, value float64) {
	s.series[name] = append(s.series[name], value)
}

// Series returns the values recorded under name in recording order
func (s *Scalars) Series(name string) []float64 {
	return s.series[name]
}

// Save saves the data recorded by the Scalars to disk.
func (s *Scalars) Save() {
	// Open the file to save to
	file, err := os.Create(s.filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	// Encode and save the file
	en := gob.NewEncoder(file)
	if err = en.Encode(s.series); err != nil {
		log.Fatalf("Could not encode scalar data: %v", err)
	}
}

// LoadScalars loads and returns the data saved by a Scalars
func LoadScalars(filename string) map[string][]float64 {
	// Open file
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	// Create the decoder and the variable to store the data in
	dec := gob.NewDecoder(file)
	var data map[string][]float64

	// Decode the data
	err = dec.Decode(&data)
	if err != nil {
		log.Fatalf("could not decode data: %v", err)
	}

	return data
}
