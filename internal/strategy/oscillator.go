package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"github.com/alanyoungcy/meanrevbot/internal/domain"
)

// Smoothing selects how average gains and losses are computed.
type Smoothing string

const (
	// SmoothingSimple averages the raw moves of the most recent window.
	SmoothingSimple Smoothing = "simple"
	// SmoothingWilder applies Wilder's running average over the whole series.
	SmoothingWilder Smoothing = "wilder"
)

// SignalConfig holds the oscillator parameters.
type SignalConfig struct {
	Period     int
	Oversold   float64
	Overbought float64
	Smoothing  Smoothing
}

// DefaultSignalConfig returns the 14-period 30/70 oscillator.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{Period: 14, Oversold: 30, Overbought: 70, Smoothing: SmoothingSimple}
}

// Validate reports parameter combinations that cannot produce a signal.
func (c SignalConfig) Validate() error {
	if c.Period < 2 {
		return fmt.Errorf("strategy: oscillator period must be at least 2, got %d", c.Period)
	}
	if c.Oversold < 0 || c.Overbought > 100 || c.Oversold >= c.Overbought {
		return fmt.Errorf("strategy: thresholds must satisfy 0 <= oversold < overbought <= 100, got %.2f/%.2f",
			c.Oversold, c.Overbought)
	}
	switch c.Smoothing {
	case SmoothingSimple, SmoothingWilder, "":
	default:
		return fmt.Errorf("strategy: unknown smoothing %q", c.Smoothing)
	}
	return nil
}

// Signal is the entry decision for one market. The zero value means no entry.
type Signal struct {
	Direction domain.Direction
	Value     float64
}

// Has reports whether the signal asks for an entry.
func (s Signal) Has() bool { return s.Direction != "" }

// SignalGenerator maps price series to entry signals. It holds no state and
// is safe for concurrent use.
type SignalGenerator struct {
	cfg SignalConfig
}

// NewSignalGenerator creates a SignalGenerator.
func NewSignalGenerator(cfg SignalConfig) *SignalGenerator {
	if cfg.Smoothing == "" {
		cfg.Smoothing = SmoothingSimple
	}
	return &SignalGenerator{cfg: cfg}
}

// Period returns the lookback window length.
func (g *SignalGenerator) Period() int { return g.cfg.Period }

// Oscillator computes the 0-100 value for prices (oldest first). It returns
// domain.ErrInsufficientData when the series is shorter than the period.
func (g *SignalGenerator) Oscillator(prices []float64) (float64, error) {
	if g.cfg.Period <= 0 || len(prices) < g.cfg.Period || len(prices) < 2 {
		return 0, domain.ErrInsufficientData
	}
	if g.cfg.Smoothing == SmoothingWilder && len(prices) > g.cfg.Period {
		return wilderOscillator(prices, g.cfg.Period), nil
	}
	return simpleOscillator(prices, g.cfg.Period), nil
}

// Evaluate maps the latest oscillator value to a signal. Insufficient data
// yields the zero Signal.
func (g *SignalGenerator) Evaluate(prices []float64) Signal {
	v, err := g.Oscillator(prices)
	if err != nil {
		return Signal{}
	}
	sig := Signal{Value: v}
	switch {
	case v < g.cfg.Oversold:
		sig.Direction = domain.DirectionLong
	case v > g.cfg.Overbought:
		sig.Direction = domain.DirectionShort
	}
	return sig
}

// simpleOscillator averages gains and losses over the last period moves, or
// every available move when the series holds exactly period points.
func simpleOscillator(prices []float64, period int) float64 {
	start := len(prices) - period
	if start < 1 {
		start = 1
	}
	var gain, loss float64
	for i := start; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	return fromAverages(gain, loss)
}

func wilderOscillator(prices []float64, period int) float64 {
	falling := false
	for i := 1; i < len(prices); i++ {
		if prices[i] < prices[i-1] {
			falling = true
			break
		}
	}
	// talib reports 0 for a series with no movement at all.
	if !falling {
		return 100
	}
	out := talib.Rsi(prices, period)
	return out[len(out)-1]
}

// fromAverages maps summed gains and losses over the same window to 0-100.
// The divisor cancels, so sums can be passed directly.
func fromAverages(gain, loss float64) float64 {
	if loss == 0 {
		return 100
	}
	rs := gain / loss
	return 100 - 100/(1+rs)
}
