package sac

import (
	"math"
	"testing"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/jahabrewer/gosac/solver"
)

// TestParseEntCoef checks parsing of the entropy coefficient
// configuration string.
func TestParseEntCoef(t *testing.T) {
	tests := []struct {
		coef      string
		auto      bool
		value     float64
		shouldErr bool
	}{
		{"auto", true, 1.0, false},
		{"auto_0.5", true, 0.5, false},
		{"auto_2", true, 2.0, false},
		{"0.2", false, 0.2, false},
		{"auto_x", false, 0, true},
		{"auto_-1", false, 0, true},
		{"auto_0", false, 0, true},
		{"pineapple", false, 0, true},
	}

	for _, test := range tests {
		auto, value, err := parseEntCoef(test.coef)
		if test.shouldErr {
			if err == nil {
				t.Errorf("%v: expected error", test.coef)
			}
			continue
		}
		if err != nil {
			t.Errorf("%v: unexpected error: %v", test.coef, err)
			continue
		}
		if auto != test.auto || value != test.value {
			t.Errorf("%v: expected (%v, %v), got (%v, %v)", test.coef,
				test.auto, test.value, auto, value)
		}
	}
}

// TestParseTargetEntropy checks parsing of the target entropy
// configuration string.
func TestParseTargetEntropy(t *testing.T) {
	target, err := parseTargetEntropy("auto", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != -3.0 {
		t.Errorf("expected -3.0, got %v", target)
	}

	target, err = parseTargetEntropy("-1.5", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != -1.5 {
		t.Errorf("expected -1.5, got %v", target)
	}

	if _, err := parseTargetEntropy("pineapple", 3); err == nil {
		t.Error("expected error on malformed target entropy")
	}
}

// TestEntropyCoefficientFixed ensures that a fixed coefficient never
// changes.
func TestEntropyCoefficientFixed(t *testing.T) {
	coefficient, err := newEntropyCoefficient("0.2", "auto", 1, 4, nil)
	if err != nil {
		t.Fatalf("could not create coefficient: %v", err)
	}
	defer coefficient.close()

	if coefficient.coefficient() != 0.2 {
		t.Errorf("expected 0.2, got %v", coefficient.coefficient())
	}

	loss, err := coefficient.update([]float64{1.0, 2.0, 3.0, 4.0})
	if err != nil {
		t.Fatalf("could not update coefficient: %v", err)
	}
	if loss != 0 {
		t.Errorf("fixed coefficient returned loss %v", loss)
	}
	if coefficient.coefficient() != 0.2 {
		t.Errorf("fixed coefficient changed to %v",
			coefficient.coefficient())
	}
}

// TestEntropyCoefficientAuto ensures that a learned coefficient starts
// at its configured value, moves to close the entropy gap, and stays
// positive.
func TestEntropyCoefficientAuto(t *testing.T) {
	const batch int = 4
	sol, err := solver.NewDefaultAdam(0.1, batch)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	coefficient, err := newEntropyCoefficient("auto_0.5", "auto", 1,
		batch, sol)
	if err != nil {
		t.Fatalf("could not create coefficient: %v", err)
	}
	defer coefficient.close()

	if math.Abs(coefficient.coefficient()-0.5) > tolerance {
		t.Fatalf("expected initial coefficient 0.5, got %v",
			coefficient.coefficient())
	}

	// Policy entropy far below target: the coefficient should grow to
	// push entropy up
	logProbs := []float64{2.0, 2.0, 2.0, 2.0}
	for i := 0; i < 5; i++ {
		if _, err := coefficient.update(logProbs); err != nil {
			t.Fatalf("could not update coefficient: %v", err)
		}
	}

	if coefficient.coefficient() <= 0.5 {
		t.Errorf("coefficient %v did not grow above 0.5",
			coefficient.coefficient())
	}
	if coefficient.coefficient() <= 0 {
		t.Errorf("coefficient %v not positive", coefficient.coefficient())
	}
}

// TestConservativeCoefficientErrors checks the conservative
// coefficient's constructor preconditions.
func TestConservativeCoefficientErrors(t *testing.T) {
	sol, err := solver.NewDefaultAdam(0.001, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}

	if _, err := newConservativeCoefficient(0.0, sol); err == nil {
		t.Error("expected error with non-positive initial coefficient")
	}
	if _, err := newConservativeCoefficient(1.0, nil); err == nil {
		t.Error("expected error with nil solver")
	}
}

// TestConservativeCoefficientClamp ensures that the conservative
// coefficient stays within its clamp regardless of the learned log
// coefficient.
func TestConservativeCoefficientClamp(t *testing.T) {
	sol, err := solver.NewDefaultAdam(0.001, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	coefficient, err := newConservativeCoefficient(1.0, sol)
	if err != nil {
		t.Fatalf("could not create coefficient: %v", err)
	}
	defer coefficient.close()

	for _, logAlpha := range []float64{-1000.0, 1000.0} {
		backing := tensor.New(
			tensor.WithBacking([]float64{logAlpha}),
			tensor.WithShape(1),
		)
		if err := G.Let(coefficient.logAlpha, backing); err != nil {
			t.Fatalf("could not set log coefficient: %v", err)
		}

		value := coefficient.value()
		if value < math.Exp(logAlphaLower) ||
			value > math.Exp(logAlphaUpper) {
			t.Errorf("log coefficient %v: value %v outside clamp",
				logAlpha, value)
		}
	}
}

// TestConservativeCoefficientUpdate ensures that a positive elementwise
// conservative term tightens the penalty by growing the coefficient.
func TestConservativeCoefficientUpdate(t *testing.T) {
	sol, err := solver.NewDefaultAdam(0.1, 1)
	if err != nil {
		t.Fatalf("could not create solver: %v", err)
	}
	coefficient, err := newConservativeCoefficient(1.0, sol)
	if err != nil {
		t.Fatalf("could not create coefficient: %v", err)
	}
	defer coefficient.close()

	initial := coefficient.value()
	for i := 0; i < 5; i++ {
		if _, err := coefficient.update(2.0); err != nil {
			t.Fatalf("could not update coefficient: %v", err)
		}
	}

	if coefficient.value() <= initial {
		t.Errorf("coefficient did not grow: initial %v, final %v",
			initial, coefficient.value())
	}
}
