package calibration

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestParseAndEval(t *testing.T) {
	for _, tc := range []struct {
		expr string
		v    float64
		want float64
	}{
		{"(2 * v) + 5", 3.0, 11.0},
		{DefaultExpr, 0.0, -24.036},
		{"v", 1.5, 1.5},
		{"-v", 2.0, -2.0},
		{"2 ^ 3 ^ 2", 0, 512}, // right-associative
		{"(2 ^ 3) ^ 2", 0, 64},
		{"1 + 2 * 3", 0, 7},
		{"(1 + 2) * 3", 0, 9},
		{"10 / 4", 0, 2.5},
		{"1.5e2 + v", 1, 151},
		{"v ^ 2 - 4", 3, 5},
		{"-v ^ 2", 3, -9}, // negation binds looser than ^
		{"(-v) ^ 2", 3, 9},
		{"2 * -v ^ 2", 2, -8},
	} {
		f, err := Parse(tc.expr)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tc.expr, err)
			continue
		}
		got, err := f.Eval(tc.v)
		if err != nil {
			t.Errorf("Eval(%q, %g) failed: %v", tc.expr, tc.v, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Eval(%q, %g) = %g, want %g", tc.expr, tc.v, got, tc.want)
		}
	}
}

func TestParseRejectsNonArithmetic(t *testing.T) {
	for _, expr := range []string{
		"(2 * v +",
		"",
		"2 *",
		"v v",
		"foo(v)",
		"x + 1",
		"v; os.Exit(1)",
		"1 & 2",
		"(1))",
	} {
		if _, err := Parse(expr); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", expr)
		}
	}
}

func TestEvalErrors(t *testing.T) {
	f, err := Parse("1 / v")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := f.Eval(0); err == nil {
		t.Error("expected division-by-zero error")
	}
	if got, err := f.Eval(2); err != nil || got != 0.5 {
		t.Errorf("Eval(1/v, 2) = %g, %v; want 0.5, nil", got, err)
	}
	f, err = Parse("v ^ v")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := f.Eval(-0.5); err == nil {
		t.Error("expected non-finite result error for (-0.5)^(-0.5)")
	}
}

func TestDefaultAlwaysParses(t *testing.T) {
	f := Default()
	got, err := f.Eval(0)
	if err != nil {
		t.Fatalf("default formula failed to evaluate: %v", err)
	}
	if got != -24.036 {
		t.Errorf("default at v=0 = %g, want -24.036", got)
	}
}

func writeCalibration(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "calibration.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		path := writeCalibration(t, "# pressure transducer calibration\np = (2 * v) + 5\n")
		f := Load(path)
		got, err := f.Eval(3)
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if got != 11 {
			t.Errorf("loaded formula at v=3 = %g, want 11", got)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		f := Load(filepath.Join(t.TempDir(), "nope.txt"))
		if f.String() != DefaultExpr {
			t.Errorf("missing file loaded %q, want default", f)
		}
	})
	t.Run("empty file", func(t *testing.T) {
		f := Load(writeCalibration(t, ""))
		if f.String() != DefaultExpr {
			t.Errorf("empty file loaded %q, want default", f)
		}
	})
	t.Run("malformed formula", func(t *testing.T) {
		f := Load(writeCalibration(t, "p = (2 * v +\n"))
		want, _ := Default().Eval(1.25)
		got, err := f.Eval(1.25)
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if got != want {
			t.Errorf("malformed calibration evaluated to %g, want default's %g", got, want)
		}
	})
	t.Run("last assignment wins", func(t *testing.T) {
		f := Load(writeCalibration(t, "p = v + 1\np = v + 2\n"))
		got, err := f.Eval(1)
		if err != nil {
			t.Fatalf("Eval failed: %v", err)
		}
		if got != 3 {
			t.Errorf("expected the later assignment to win, got %g at v=1", got)
		}
	})
	t.Run("last assignment malformed", func(t *testing.T) {
		f := Load(writeCalibration(t, "p = v + 1\np = (2 * v +\n"))
		if f.String() != DefaultExpr {
			t.Errorf("malformed final assignment loaded %q, want default", f)
		}
	})
	t.Run("comments only", func(t *testing.T) {
		f := Load(writeCalibration(t, "# no formula here\n# p is unset\n"))
		if f.String() != DefaultExpr {
			t.Errorf("comment-only file loaded %q, want default", f)
		}
	})
	t.Run("original example line", func(t *testing.T) {
		f := Load(writeCalibration(t, "p = (5.0221 * v) - 24.036\n"))
		got, err := f.Eval(0)
		if err != nil || got != -24.036 {
			t.Errorf("example calibration at v=0 = %g, %v; want -24.036", got, err)
		}
	})
}

func TestConverterFallback(t *testing.T) {
	// 1/v works until the first zero sample, then the converter swaps in
	// the default permanently.
	f, err := Parse("1 / v")
	if err != nil {
		t.Fatal(err)
	}
	c := NewConverter(f)
	if got, err := c.Convert(2); err != nil || got != 0.5 {
		t.Fatalf("Convert(2) = %g, %v; want 0.5, nil", got, err)
	}
	want, _ := Default().Eval(0)
	if got, err := c.Convert(0); err != nil || got != want {
		t.Fatalf("Convert(0) after failure = %g, %v; want default's %g", got, err, want)
	}
	// Later samples keep using the default.
	want, _ = Default().Eval(2)
	if got, err := c.Convert(2); err != nil || got != want {
		t.Fatalf("Convert(2) after fallback = %g, %v; want default's %g", got, err, want)
	}
}

func TestConverterSetFormula(t *testing.T) {
	c := NewConverter(nil)
	f, err := Parse("v * 2")
	if err != nil {
		t.Fatal(err)
	}
	c.SetFormula(f)
	if got, err := c.Convert(4); err != nil || got != 8 {
		t.Fatalf("Convert(4) = %g, %v; want 8, nil", got, err)
	}
}
