package filter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

// Strategy names accepted by New.
const (
	StrategyThreshold = "threshold"
	StrategyWindow    = "window"
	StrategyBoth      = "both"
)

// Selector reduces the raw peak list of one scan.
type Selector interface {
	Select(peaks []core.Peak) ([]core.Peak, error)
}

// Config holds peak selection configuration
type Config struct {
	Strategy                 string  // threshold, window or both
	RelativeThresholdPercent float64 // Intensity cutoff as % of base peak
	MaxPeaks                 int     // Keep only top N most intense peaks (0 = no limit)
	WindowSize               float32 // m/z width of a cleaning window
	IonsPerWindow            int     // Peaks kept per window
}

// DefaultConfig returns the global threshold strategy with its default cutoffs.
func DefaultConfig() Config {
	return Config{
		Strategy:                 StrategyThreshold,
		RelativeThresholdPercent: DefaultRelativeThresholdPercent,
		MaxPeaks:                 DefaultMaxPeaks,
		WindowSize:               100,
		IonsPerWindow:            10,
	}
}

// New builds the selector described by cfg.
func New(cfg Config) (Selector, error) {
	threshold := Threshold{RelativePercent: cfg.RelativeThresholdPercent, MaxPeaks: cfg.MaxPeaks}
	window := Window{Size: cfg.WindowSize, IonsPerWindow: cfg.IonsPerWindow}

	switch strings.ToLower(cfg.Strategy) {
	case "", StrategyThreshold:
		return threshold, nil
	case StrategyWindow:
		if err := window.validate(); err != nil {
			return nil, err
		}
		return window, nil
	case StrategyBoth:
		if err := window.validate(); err != nil {
			return nil, err
		}
		return Chain{threshold, window}, nil
	default:
		return nil, fmt.Errorf("invalid peak selection strategy '%s', must be %s, %s or %s",
			cfg.Strategy, StrategyThreshold, StrategyWindow, StrategyBoth)
	}
}

// Threshold is the global cap + relative intensity cutoff strategy.
type Threshold struct {
	RelativePercent float64
	MaxPeaks        int
}

// Select implements Selector.
func (t Threshold) Select(peaks []core.Peak) ([]core.Peak, error) {
	return FilterPeaks(peaks, t.RelativePercent, t.MaxPeaks)
}

// Window is the per-bin top-K strategy.
type Window struct {
	Size          float32
	IonsPerWindow int
}

// Select implements Selector. Zero intensity peaks are dropped before
// picking. It never fails.
func (w Window) Select(peaks []core.Peak) ([]core.Peak, error) {
	return CleanWindows(RemoveZeroIntensityPeaks(peaks), w.Size, w.IonsPerWindow), nil
}

func (w Window) validate() error {
	if w.Size <= 0 {
		return errors.New("window size must be positive")
	}
	if w.IonsPerWindow <= 0 {
		return errors.New("ions per window must be positive")
	}
	return nil
}

// Chain applies selectors in order, feeding each the previous result.
type Chain []Selector

// Select implements Selector. An empty intermediate result ends the chain.
func (c Chain) Select(peaks []core.Peak) ([]core.Peak, error) {
	out := peaks
	for i, s := range c {
		if i > 0 && len(out) == 0 {
			return out, nil
		}
		var err error
		out, err = s.Select(out)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
