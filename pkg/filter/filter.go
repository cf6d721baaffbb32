// Package filter provides peak filtering and selection strategies
package filter

import (
	"cmp"
	"slices"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

const (
	// DefaultRelativeThresholdPercent is the intensity cutoff as % of the base peak.
	DefaultRelativeThresholdPercent = 0.01
	// DefaultMaxPeaks caps the number of peaks kept per scan.
	DefaultMaxPeaks = 900
)

// FilterPeaks keeps the maxPeaks most intense peaks that are strictly above
// relativeThresholdPercent of the base peak, sorted by m/z. Every ordering
// step is stable so equal intensities keep their input order. A maxPeaks of
// zero or less disables the cap. The input slice is not modified.
func FilterPeaks(peaks []core.Peak, relativeThresholdPercent float64, maxPeaks int) ([]core.Peak, error) {
	if len(peaks) == 0 {
		return nil, core.ErrEmptyInput
	}

	// Find maximum intensity
	maxIntensity := peaks[0].Intensity
	for _, peak := range peaks[1:] {
		if peak.Intensity > maxIntensity {
			maxIntensity = peak.Intensity
		}
	}

	threshold := maxIntensity * relativeThresholdPercent / 100.0

	// Rank by intensity and cap
	ranked := slices.Clone(peaks)
	slices.SortStableFunc(ranked, byIntensityDesc)
	if maxPeaks > 0 && len(ranked) > maxPeaks {
		ranked = ranked[:maxPeaks]
	}

	// Drop everything at or below the threshold
	kept := ranked[:0]
	for _, peak := range ranked {
		if peak.Intensity > threshold {
			kept = append(kept, peak)
		}
	}

	slices.SortStableFunc(kept, byMZ)
	return kept, nil
}

// CleanWindows splits the m/z axis into bins (w, w+windowSize] starting at 0
// and keeps the ionsPerWindow most intense peaks of every bin. The result is
// sorted by m/z. Empty input yields an empty result.
func CleanWindows(ions []core.Peak, windowSize float32, ionsPerWindow int) []core.Peak {
	if len(ions) == 0 || windowSize <= 0 || ionsPerWindow <= 0 {
		return []core.Peak{}
	}

	maxMZ := ions[0].MZ
	for _, ion := range ions[1:] {
		if ion.MZ > maxMZ {
			maxMZ = ion.MZ
		}
	}

	var cleaned []core.Peak
	var bin []core.Peak
	for window := float32(0); float64(window) <= maxMZ; window += windowSize {
		lo := float64(window)
		hi := float64(window + windowSize)
		if hi <= lo {
			// float32 accumulator stopped advancing
			break
		}

		bin = bin[:0]
		for _, ion := range ions {
			if ion.MZ > lo && ion.MZ <= hi {
				bin = append(bin, ion)
			}
		}
		slices.SortStableFunc(bin, byIntensityDesc)
		cleaned = append(cleaned, bin[:min(ionsPerWindow, len(bin))]...)
	}

	slices.SortStableFunc(cleaned, byMZ)
	if cleaned == nil {
		cleaned = []core.Peak{}
	}
	return cleaned
}

// RemoveZeroIntensityPeaks returns the peaks with a positive intensity.
func RemoveZeroIntensityPeaks(peaks []core.Peak) []core.Peak {
	filtered := make([]core.Peak, 0, len(peaks))
	for _, peak := range peaks {
		if peak.Intensity > 0 {
			filtered = append(filtered, peak)
		}
	}
	return filtered
}

func byIntensityDesc(a, b core.Peak) int {
	return cmp.Compare(b.Intensity, a.Intensity)
}

func byMZ(a, b core.Peak) int {
	return cmp.Compare(a.MZ, b.MZ)
}
