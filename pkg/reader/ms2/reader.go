// Package ms2 provides a streaming reader for MS1/MS2/MS3 text files
package ms2

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"fortio.org/safecast"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

// Reader provides streaming access to MSn text files
type Reader struct {
	scanner     *bufio.Scanner
	msnLevel    int
	lineNum     int
	header      map[string]string
	pending     string // S line that starts the next spectrum
	zSeen       int    // Z records of the current spectrum
	currentSpec *core.Spectrum
	err         error
}

// NewReader creates a new MSn reader. Spectra with a precursor m/z on the
// S line get msnLevel as their MS level, all others level 1.
func NewReader(r io.Reader, msnLevel int) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{
		scanner:  scanner,
		msnLevel: msnLevel,
		header:   make(map[string]string),
	}
}

// LevelFromPath returns N for a file named *.msN.
func LevelFromPath(path string) (int, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	v, ok := strings.CutPrefix(ext, ".ms")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Header returns the H records read so far, keyed by record name.
func (r *Reader) Header() map[string]string {
	return r.header
}

// Next advances to the next spectrum. Returns false when no more spectra or error.
func (r *Reader) Next() bool {
	r.currentSpec = nil
	if r.err != nil {
		return false
	}

	spec, err := r.readSpectrum()
	if err != nil {
		if err != io.EOF {
			r.err = err
		}
		return false
	}

	r.currentSpec = spec
	return true
}

// Spectrum returns the current spectrum
func (r *Reader) Spectrum() *core.Spectrum {
	return r.currentSpec
}

// Err returns any error encountered during reading
func (r *Reader) Err() error {
	return r.err
}

// readSpectrum reads one S record with its I, Z and peak lines
func (r *Reader) readSpectrum() (*core.Spectrum, error) {
	var spec *core.Spectrum

	if r.pending != "" {
		s, err := r.parseS(r.pending)
		if err != nil {
			return nil, err
		}
		spec = s
		r.pending = ""
	}

	for r.scanner.Scan() {
		r.lineNum++
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		switch fields[0] {
		case "H":
			if spec != nil {
				return nil, fmt.Errorf("line %d: H record after first spectrum", r.lineNum)
			}
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: empty H record", r.lineNum)
			}
			r.header[fields[1]] = strings.Join(fields[2:], "\t")

		case "S":
			if spec != nil {
				r.pending = line
				return spec, nil
			}
			s, err := r.parseS(line)
			if err != nil {
				return nil, err
			}
			spec = s

		case "I":
			if spec == nil {
				return nil, fmt.Errorf("line %d: I record before S record", r.lineNum)
			}
			if err := r.parseI(spec, fields); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}

		case "Z":
			if spec == nil {
				return nil, fmt.Errorf("line %d: Z record before S record", r.lineNum)
			}
			if err := r.parseZ(spec, fields); err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}

		default:
			if spec == nil {
				return nil, fmt.Errorf("line %d: peak line before S record", r.lineNum)
			}
			peak, err := parsePeak(fields)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
			}
			spec.Ions = append(spec.Ions, peak)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	if spec != nil {
		return spec, nil
	}
	return nil, io.EOF
}

// parseS parses "S<TAB>scan<TAB>scan[<TAB>precursor m/z]"
func (r *Reader) parseS(line string) (*core.Spectrum, error) {
	fields := strings.Split(line, "\t")
	if len(fields) < 3 {
		return nil, fmt.Errorf("line %d: S record needs two scan numbers", r.lineNum)
	}

	scan, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("line %d: invalid scan number '%s': %w", r.lineNum, fields[1], err)
	}

	r.zSeen = 0
	spec := &core.Spectrum{
		ScanNumber:          scan,
		PrecursorScanNumber: core.NoPrecursorScan,
		MSLevel:             1,
		InstrumentType:      core.InstrumentUnknown,
		ActivationType:      core.ActivationUnknown,
		FileIndex:           core.SingleFile,
	}

	if len(fields) > 3 {
		mz, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid precursor m/z '%s': %w", r.lineNum, fields[3], err)
		}
		level, err := safecast.Conv[int16](r.msnLevel)
		if err != nil {
			return nil, fmt.Errorf("line %d: MS level %d: %w", r.lineNum, r.msnLevel, err)
		}
		spec.MSLevel = level
		spec.Precursors = []core.Precursor{{MZ: mz}}
	}

	return spec, nil
}

func (r *Reader) parseI(spec *core.Spectrum, fields []string) error {
	if len(fields) < 3 {
		return errors.New("missing name or value in I record")
	}

	switch fields[1] {
	case "RetTime":
		rt, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return fmt.Errorf("invalid retention time '%s': %w", fields[2], err)
		}
		spec.RetentionTime = rt
	case "PrecursorScan":
		n, err := strconv.Atoi(fields[2])
		if err != nil {
			return fmt.Errorf("invalid precursor scan '%s': %w", fields[2], err)
		}
		spec.PrecursorScanNumber = n
	}
	// Other I records are ignored
	return nil
}

// parseZ reads one Z record. The first fills the charge of the S line
// precursor; further records add precursors recovered from their mass.
func (r *Reader) parseZ(spec *core.Spectrum, fields []string) error {
	if len(fields) < 3 {
		return errors.New("missing charge or mass in Z record")
	}

	charge, err := strconv.ParseInt(fields[1], 10, 16)
	if err != nil {
		return fmt.Errorf("invalid charge '%s': %w", fields[1], err)
	}
	mass, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return fmt.Errorf("invalid mass '%s': %w", fields[2], err)
	}
	if len(spec.Precursors) == 0 {
		return errors.New("no precursor m/z on the S record for Z record")
	}

	z := int16(charge)
	if r.zSeen == 0 {
		spec.Precursors[0].Charge = z
	} else {
		spec.Precursors = append(spec.Precursors, core.Precursor{
			MZ:     core.ChargeFromPlus1(mass, int(z)),
			Charge: z,
		})
	}
	r.zSeen++
	return nil
}

// parsePeak parses "mz<TAB>intensity[<TAB>charge]"
func parsePeak(fields []string) (core.Peak, error) {
	if len(fields) < 2 {
		return core.Peak{}, fmt.Errorf("invalid peak line '%s'", strings.Join(fields, "\t"))
	}

	mz, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid m/z '%s': %w", fields[0], err)
	}

	intensity, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return core.Peak{}, fmt.Errorf("invalid intensity '%s': %w", fields[1], err)
	}

	peak := core.Peak{MZ: mz, Intensity: intensity}
	if len(fields) > 2 {
		charge, err := strconv.ParseInt(fields[2], 10, 32)
		if err != nil {
			return core.Peak{}, fmt.Errorf("invalid charge '%s': %w", fields[2], err)
		}
		peak.Charge = int32(charge)
	}

	return peak, nil
}
