// Package core provides the in-memory scan model shared by the scan sources,
// the peak selectors and the MS1/MS2 writers.
package core

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
)

const (
	// NoPrecursorScan marks a spectrum without a parent scan reference.
	NoPrecursorScan = -1
	// SingleFile is the file index of spectra that were not pooled from several runs.
	SingleFile int16 = -1
)

// Peak represents a single m/z, intensity pair with its charge (0 = unknown).
type Peak struct {
	MZ        float64
	Intensity float64
	Charge    int32
}

// Precursor is the ion selected for fragmentation. A charge of 0 means unknown.
type Precursor struct {
	MZ     float64
	Charge int16
}

// Spectrum represents one accepted scan of a run.
//
// A Spectrum is built once per scan and then only read; every derived
// operation returns a new value with freshly allocated slices.
type Spectrum struct {
	ScanNumber          int
	PrecursorScanNumber int     // NoPrecursorScan when not applicable
	RetentionTime       float64 // minutes
	MSLevel             int16
	InstrumentType      InstrumentType
	ActivationType      ActivationType
	Precursors          []Precursor
	Ions                []Peak

	// Optional metadata
	ScanHeader string // raw filter string, only kept on request
	FileIndex  int16  // SingleFile unless spectra are pooled from several runs
}

// ValidationError represents an error found during spectrum validation.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", e.Field, e.Message)
}

// Validate checks that a spectrum can be serialized.
func (s Spectrum) Validate() error {
	var errs []string

	if s.MSLevel < 1 {
		errs = append(errs, "ms level must be at least 1")
	}
	if math.IsNaN(s.RetentionTime) || math.IsInf(s.RetentionTime, 0) {
		errs = append(errs, "retention time is not a number")
	}

	for i, peak := range s.Ions {
		if math.IsNaN(peak.MZ) || math.IsInf(peak.MZ, 0) {
			errs = append(errs, fmt.Sprintf("peak %d has invalid m/z", i))
		}
		if math.IsNaN(peak.Intensity) || math.IsInf(peak.Intensity, 0) {
			errs = append(errs, fmt.Sprintf("peak %d has invalid intensity", i))
		}
		if peak.Intensity < 0 {
			errs = append(errs, fmt.Sprintf("peak %d intensity must be non-negative", i))
		}
	}

	if !s.ArePeaksSorted() {
		errs = append(errs, "peaks must be sorted by m/z")
	}

	if len(errs) > 0 {
		return &ValidationError{
			Field:   fmt.Sprintf("Spectrum %d", s.ScanNumber),
			Message: strings.Join(errs, "; "),
		}
	}

	return nil
}

// ArePeaksSorted checks if peaks are sorted by m/z in ascending order.
func (s Spectrum) ArePeaksSorted() bool {
	return slices.IsSortedFunc(s.Ions, compareMZ)
}

// SortPeaks returns a copy of the spectrum with peaks stably sorted by m/z.
func (s Spectrum) SortPeaks() Spectrum {
	ions := slices.Clone(s.Ions)
	slices.SortStableFunc(ions, compareMZ)
	s.Ions = ions
	return s
}

func compareMZ(a, b Peak) int {
	switch {
	case a.MZ < b.MZ:
		return -1
	case a.MZ > b.MZ:
		return 1
	}
	return 0
}

// BasePeak returns the most intense peak. The first one wins on ties.
func (s Spectrum) BasePeak() (Peak, bool) {
	if len(s.Ions) == 0 {
		return Peak{}, false
	}
	base := s.Ions[0]
	for _, p := range s.Ions[1:] {
		if p.Intensity > base.Intensity {
			base = p
		}
	}
	return base, true
}

// TIC returns the total ion current of the peak list.
func (s Spectrum) TIC() float64 {
	total := 0.0
	for _, p := range s.Ions {
		total += p.Intensity
	}
	return total
}

// NormalizeIntensities returns a copy whose intensity vector has unit
// Euclidean norm. Spectra without any signal are returned unchanged
// together with ErrDegenerateSpectrum.
func (s Spectrum) NormalizeIntensities() (Spectrum, error) {
	intensities := make([]float64, len(s.Ions))
	for i, p := range s.Ions {
		intensities[i] = p.Intensity
	}

	norm := floats.Norm(intensities, 2)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return s, fmt.Errorf("scan %d: %w", s.ScanNumber, ErrDegenerateSpectrum)
	}

	ions := make([]Peak, len(s.Ions))
	for i, p := range s.Ions {
		ions[i] = Peak{MZ: p.MZ, Intensity: p.Intensity / norm, Charge: p.Charge}
	}
	s.Ions = ions
	return s, nil
}

// FirstPrecursor returns the precursor used for the S record.
func (s Spectrum) FirstPrecursor() (Precursor, bool) {
	if s.MSLevel <= 1 || len(s.Precursors) == 0 {
		return Precursor{}, false
	}
	return s.Precursors[0], true
}

// SLine returns the scan record. The precursor m/z is only appended when
// exporting MSn and the scan itself is MSn.
func (s Spectrum) SLine(msnLevel int) string {
	line := fmt.Sprintf("S\t%06d\t%06d", s.ScanNumber, s.ScanNumber)
	if msnLevel > 1 {
		if p, ok := s.FirstPrecursor(); ok {
			line += "\t" + FormatFloat(p.MZ)
		}
	}
	return line
}

// ILines returns the info records following the S record.
func (s Spectrum) ILines(msnLevel int) []string {
	lines := []string{"I\tRetTime\t" + FormatFloat(s.RetentionTime)}
	if msnLevel > 1 && s.MSLevel > 1 {
		lines = append(lines, fmt.Sprintf("I\tPrecursorScan\t%d", s.PrecursorScanNumber))
	}
	return lines
}

// ZLines returns one charge state record per precursor, or nil for MS1 scans.
func (s Spectrum) ZLines() []string {
	if s.MSLevel <= 1 {
		return nil
	}

	lines := make([]string, 0, len(s.Precursors))
	for _, p := range s.Precursors {
		lines = append(lines, fmt.Sprintf("Z\t%d\t%s", p.Charge, FormatFloat(DechargeToPlus1(p.MZ, int(p.Charge)))))
	}
	return lines
}

// PeakLine renders a peak as "mz<TAB>intensity<TAB>charge".
func PeakLine(p Peak) string {
	return FormatFloat(p.MZ) + "\t" + FormatFloat(p.Intensity) + "\t" + fmt.Sprint(p.Charge)
}
