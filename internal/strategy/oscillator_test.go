package strategy

import (
	"errors"
	"math"
	"testing"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

func rising(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestOscillatorStrictlyIncreasingIsMaximal(t *testing.T) {
	// 100, 102, ..., 126
	prices := rising(14, 100, 2)
	for _, sm := range []Smoothing{SmoothingSimple, SmoothingWilder} {
		g := NewSignalGenerator(SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: sm})
		v, err := g.Oscillator(prices)
		if err != nil {
			t.Fatalf("%s: Oscillator: %v", sm, err)
		}
		if v != 100 {
			t.Fatalf("%s: oscillator = %v, want 100", sm, v)
		}
		if sig := g.Evaluate(prices); sig.Direction != domain.DirectionShort {
			t.Fatalf("%s: signal = %q, want short", sm, sig.Direction)
		}
	}
}

func TestOscillatorIncreasingLongerSeries(t *testing.T) {
	for _, sm := range []Smoothing{SmoothingSimple, SmoothingWilder} {
		g := NewSignalGenerator(SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: sm})
		v, err := g.Oscillator(rising(40, 10, 0.5))
		if err != nil || v != 100 {
			t.Fatalf("%s: oscillator = %v, %v; want 100", sm, v, err)
		}
	}
}

func TestOscillatorInsufficientData(t *testing.T) {
	g := NewSignalGenerator(DefaultSignalConfig())
	for n := 0; n < 14; n++ {
		prices := rising(n, 50, -1)
		if _, err := g.Oscillator(prices); !errors.Is(err, domain.ErrInsufficientData) {
			t.Fatalf("len %d: err = %v, want ErrInsufficientData", n, err)
		}
		if sig := g.Evaluate(prices); sig.Has() {
			t.Fatalf("len %d: got signal %+v", n, sig)
		}
	}
}

func TestOscillatorStrictlyDecreasingIsMinimal(t *testing.T) {
	g := NewSignalGenerator(DefaultSignalConfig())
	prices := rising(20, 200, -3)
	v, err := g.Oscillator(prices)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0 {
		t.Fatalf("oscillator = %v, want 0", v)
	}
	if sig := g.Evaluate(prices); sig.Direction != domain.DirectionLong {
		t.Fatalf("signal = %q, want long", sig.Direction)
	}
}

func TestOscillatorSimpleKnownValue(t *testing.T) {
	// Moves in the last 14: seven +2 and seven -1 -> rs = 14/7 = 2 -> 66.67.
	prices := []float64{50}
	for i := 0; i < 7; i++ {
		last := prices[len(prices)-1]
		prices = append(prices, last+2, last+1)
	}
	g := NewSignalGenerator(DefaultSignalConfig())
	v, err := g.Oscillator(prices)
	if err != nil {
		t.Fatal(err)
	}
	want := 100 - 100/3.0
	if math.Abs(v-want) > 1e-9 {
		t.Fatalf("oscillator = %v, want %v", v, want)
	}
	if sig := g.Evaluate(prices); sig.Has() {
		t.Fatalf("expected no signal at %v, got %q", v, sig.Direction)
	}
}

func TestOscillatorWindowIgnoresOlderMoves(t *testing.T) {
	// A crash followed by 14 rises: only the rises are inside the window.
	prices := append([]float64{500, 100}, rising(14, 101, 1)...)
	g := NewSignalGenerator(DefaultSignalConfig())
	v, err := g.Oscillator(prices)
	if err != nil {
		t.Fatal(err)
	}
	if v != 100 {
		t.Fatalf("oscillator = %v, want 100", v)
	}
}

func TestOscillatorFlatSeries(t *testing.T) {
	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 7
	}
	for _, sm := range []Smoothing{SmoothingSimple, SmoothingWilder} {
		g := NewSignalGenerator(SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: sm})
		v, err := g.Oscillator(flat)
		if err != nil || v != 100 {
			t.Fatalf("%s: flat oscillator = %v, %v; want 100", sm, v, err)
		}
	}
}

func TestWilderWithinBounds(t *testing.T) {
	prices := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08,
		45.89, 46.03, 45.61, 46.28, 46.28, 46.00, 46.03, 46.41, 46.22, 45.64}
	g := NewSignalGenerator(SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: SmoothingWilder})
	v, err := g.Oscillator(prices)
	if err != nil {
		t.Fatal(err)
	}
	if v <= 0 || v >= 100 {
		t.Fatalf("oscillator = %v, want strictly inside (0,100)", v)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	prices := []float64{10, 11, 10.5, 10.2, 10.8, 9.9, 9.7, 9.6, 9.9, 9.5, 9.4, 9.3, 9.1, 9.0, 8.8}
	g := NewSignalGenerator(DefaultSignalConfig())
	first := g.Evaluate(prices)
	for i := 0; i < 5; i++ {
		if got := g.Evaluate(prices); got != first {
			t.Fatalf("run %d: %+v != %+v", i, got, first)
		}
	}
}

func TestSignalConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SignalConfig
		wantErr bool
	}{
		{"default", DefaultSignalConfig(), false},
		{"period too small", SignalConfig{Period: 1, Oversold: 30, Overbought: 70}, true},
		{"inverted thresholds", SignalConfig{Period: 14, Oversold: 70, Overbought: 30}, true},
		{"above 100", SignalConfig{Period: 14, Oversold: 30, Overbought: 120}, true},
		{"unknown smoothing", SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: "ema"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
