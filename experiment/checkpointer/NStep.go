package checkpointer

import (
	"encoding/gob"
	"fmt"
	"os"

	ts "github.com/jahabrewer/gosac/timestep"
)

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	object   Serializable // Object to save

	// filename returns the name of the file to save the object in.
	//
	// If each checkpoint should be saved in a separate file with an
	// incrementing counter suffix (file1.bin, file2.bin, ...), use
	// FilenameEnumerator to generate this function. If the filenames
	// do not matter, use FileTimer, which suffixes a timestamp:
	//
	//	n := NewNStep(10, object, FileTimer("filename", ".bin"))
	filename func() string
}

// NewNStep returns a checkpointer that saves its object every n
// timesteps
func NewNStep(n int, object Serializable,
	filename func() string) Checkpointer {
	return &nStep{
		interval: n,
		object:   object,
		filename: filename,
	}
}

// Checkpoint gob-encodes the tracked object to the next filename if
// the timestep falls on the checkpointing interval
func (n *nStep) Checkpoint(t ts.TimeStep) error {
	if t.Number%n.interval != 0 {
		return nil
	}

	file, err := os.Create(n.filename())
	if err != nil {
		return fmt.Errorf("checkpoint: could not create file: %v", err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(n.object); err != nil {
		return fmt.Errorf("checkpoint: could not encode object: %v", err)
	}
	return nil
}
