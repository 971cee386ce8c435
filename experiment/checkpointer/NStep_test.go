package checkpointer

import (
	"bytes"
	"encoding/gob"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"

	ts "github.com/jahabrewer/gosac/timestep"
)

// gobCounter is a Serializable that counts its encodings
type gobCounter struct {
	encodings int
}

func (g *gobCounter) GobEncode() ([]byte, error) {
	g.encodings++
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(g.encodings)
	return buf.Bytes(), err
}

func (g *gobCounter) GobDecode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(&g.encodings)
}

// TestNStepCheckpoint ensures that an nStep checkpointer saves its
// object only on the checkpointing interval, with enumerated
// filenames.
func TestNStepCheckpoint(t *testing.T) {
	dir := t.TempDir()
	object := &gobCounter{}
	checkpointer := NewNStep(3, object,
		FilenameEnumerator(0, filepath.Join(dir, "agent"), ".bin"))

	obs := mat.NewVecDense(1, []float64{0.0})
	for i := 0; i < 7; i++ {
		step := ts.New(ts.Mid, 0.0, 1.0, obs, i)
		if err := checkpointer.Checkpoint(step); err != nil {
			t.Fatalf("could not checkpoint: %v", err)
		}
	}

	// Steps 0, 3, and 6 fall on the interval
	if object.encodings != 3 {
		t.Errorf("expected 3 checkpoints, got %d", object.encodings)
	}
	for _, name := range []string{"agent1.bin", "agent2.bin", "agent3.bin"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("checkpoint file %v not written: %v", name, err)
		}
	}
}

// TestFileTimer ensures that timed filenames carry the configured
// prefix and extension.
func TestFileTimer(t *testing.T) {
	name := FileTimer("agent", ".bin")()
	if filepath.Ext(name) != ".bin" {
		t.Errorf("expected .bin extension, got %v", filepath.Ext(name))
	}
	if name[:len("agent-")] != "agent-" {
		t.Errorf("expected agent- prefix, got %v", name)
	}
}
