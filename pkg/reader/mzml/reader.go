package mzml

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html/charset"

	"github.com/ChrisMcGann/msnconv/pkg/core"
	"github.com/ChrisMcGann/msnconv/pkg/source"
)

// Open reads the mzML file at path. Failures are reported as
// *source.SourceUnavailableError.
func Open(path string) (*File, error) {
	if err := source.CheckPath(path); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &source.SourceUnavailableError{Path: path, Reason: source.Unreadable, Err: err}
	}
	defer f.Close()

	mzML, err := Read(f)
	if err != nil {
		reason := source.Unreadable
		if errors.Is(err, ErrTruncated) {
			reason = source.StillAcquiring
		}
		return nil, &source.SourceUnavailableError{Path: path, Reason: reason, Err: err}
	}
	return mzML, nil
}

// OpenRun is a source.Opener for mzML files.
func OpenRun(path string) (source.Run, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Read reads an mzML document from an io.Reader
func Read(reader io.Reader) (*File, error) {
	mzML := &File{}

	d := xml.NewDecoder(reader)
	d.CharsetReader = charset.NewReaderLabel

	// We are only interested in mzML content, so skip over indexedmzML
	// and everything else
	found := false
	for {
		t, tokenErr := d.Token()
		if tokenErr != nil {
			if tokenErr == io.EOF {
				break
			}
			return nil, classify(tokenErr)
		}
		if start, ok := t.(xml.StartElement); ok && start.Name.Local == "mzML" {
			if err := d.DecodeElement(&mzML.content, &start); err != nil {
				return nil, classify(err)
			}
			found = true
			break
		}
	}
	if !found {
		return nil, ErrNoMzML
	}

	if err := mzML.traverseScan(); err != nil {
		return nil, err
	}
	return mzML, nil
}

// classify turns an early end of input into ErrTruncated.
func classify(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	var syntaxErr *xml.SyntaxError
	if errors.As(err, &syntaxErr) && strings.Contains(syntaxErr.Msg, "unexpected EOF") {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}

// traverseScan assigns scan numbers and collects the analyzer of every
// instrument configuration.
func (f *File) traverseScan() error {
	specs := f.content.Run.SpectrumList.Spectrum
	f.scanNumbers = make([]int, len(specs))
	f.scanIndex = make(map[int]int, len(specs))

	for i := range specs {
		if specs[i].Index != i {
			return fmt.Errorf("%w: spectrum %q has index %d at position %d", ErrInvalidScanIndex, specs[i].ID, specs[i].Index, i)
		}
		n, ok := ScanNumberFromID(specs[i].ID)
		if !ok {
			n = i + 1
		}
		if _, dup := f.scanIndex[n]; dup {
			return fmt.Errorf("%w: duplicate scan number %d", ErrInvalidScanIndex, n)
		}
		f.scanNumbers[i] = n
		f.scanIndex[n] = i
	}

	f.analyzers = make(map[string]int)
	for _, conf := range f.content.InstrumentConfigurationList.InstrumentConfiguration {
		code := int(core.InstrumentUnknown)
		for _, a := range conf.Analyzer {
			for _, cv := range a.CvPar {
				if c, ok := analyzerCodes[cv.Accession]; ok {
					code = c
				}
			}
		}
		f.analyzers[conf.ID] = code
	}
	return nil
}

// ScanNumberFromID extracts N from a native id such as
// "controllerType=0 controllerNumber=1 scan=N".
func ScanNumberFromID(id string) (int, bool) {
	for _, field := range strings.Fields(id) {
		if v, ok := strings.CutPrefix(field, nativeIDScanPrefix); ok {
			n, err := strconv.Atoi(v)
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// ScanNumbers returns the scan numbers in file order.
func (f *File) ScanNumbers() []int {
	return slices.Clone(f.scanNumbers)
}

// ScanRange implements source.Run.
func (f *File) ScanRange() (first, last int) {
	if len(f.scanNumbers) == 0 {
		return 1, 0
	}
	return slices.Min(f.scanNumbers), slices.Max(f.scanNumbers)
}

// Close implements source.Run. The document is fully decoded on open.
func (f *File) Close() error {
	return nil
}

// Scan implements source.Run.
func (f *File) Scan(ctx context.Context, scanNumber int) (source.RawScan, error) {
	if err := ctx.Err(); err != nil {
		return source.RawScan{}, err
	}
	i, ok := f.scanIndex[scanNumber]
	if !ok {
		return source.RawScan{}, source.ErrNoScan
	}
	return f.readScan(i)
}

func (f *File) readScan(i int) (source.RawScan, error) {
	spec := &f.content.Run.SpectrumList.Spectrum[i]

	peaks, err := readPeaks(spec)
	if err != nil {
		return source.RawScan{}, fmt.Errorf("spectrum %q: %w", spec.ID, err)
	}

	raw := source.RawScan{
		MSLevel:             1,
		Peaks:               peaks,
		PrecursorScanNumber: core.NoPrecursorScan,
		InstrumentCode:      int(core.InstrumentUnknown),
		ActivationCode:      int(core.ActivationUnknown),
	}

	for _, cv := range spec.CvPar {
		switch cv.Accession {
		case cvMSLevel:
			level, err := strconv.Atoi(cv.Value)
			if err != nil {
				return source.RawScan{}, fmt.Errorf("spectrum %q: ms level: %w", spec.ID, err)
			}
			raw.MSLevel = level
		case cvCentroid:
			raw.Centroided = true
		case cvFilterString:
			raw.ScanHeader = cv.Value
		}
	}

	instrConf := f.content.Run.DefaultInstrumentConfigurationRef
	for _, sc := range spec.ScanList.Scan {
		if sc.InstrConfRef != "" {
			instrConf = sc.InstrConfRef
		}
		for _, cv := range sc.CvPar {
			switch cv.Accession {
			case cvScanStartTime:
				rt, err := retentionTimeMinutes(cv)
				if err != nil {
					return source.RawScan{}, fmt.Errorf("spectrum %q: retention time: %w", spec.ID, err)
				}
				raw.RetentionTime = rt
			case cvFilterString:
				raw.ScanHeader = cv.Value
			}
		}
	}
	if code, ok := f.analyzers[instrConf]; ok {
		raw.InstrumentCode = code
	}

	if raw.MSLevel > 1 && len(spec.PrecursorList) > 0 && len(spec.PrecursorList[0].Precursor) > 0 {
		if err := fillPrecursor(&raw, spec.PrecursorList[0].Precursor[0]); err != nil {
			return source.RawScan{}, fmt.Errorf("spectrum %q: %w", spec.ID, err)
		}
	}

	return raw, nil
}

// fillPrecursor copies selected ion, charge, parent scan and activation.
// The isolation target is used when no selected ion m/z is present.
func fillPrecursor(raw *source.RawScan, p xmlPrecursor) error {
	if n, ok := ScanNumberFromID(p.SpectrumRef); ok {
		raw.PrecursorScanNumber = n
	}

	if len(p.SelectedIonList.SelectedIon) > 0 {
		for _, cv := range p.SelectedIonList.SelectedIon[0].CvPar {
			switch cv.Accession {
			case cvSelectedIonMZ:
				mz, err := strconv.ParseFloat(cv.Value, 64)
				if err != nil {
					return fmt.Errorf("selected ion m/z: %w", err)
				}
				raw.PrecursorMZ = mz
			case cvChargeState:
				z, err := strconv.Atoi(cv.Value)
				if err != nil {
					return fmt.Errorf("charge state: %w", err)
				}
				raw.PrecursorCharge = z
			}
		}
	}

	if raw.PrecursorMZ == 0 {
		for _, cv := range p.IsolationWindow.CvPar {
			if cv.Accession == cvIsolationTarget {
				mz, err := strconv.ParseFloat(cv.Value, 64)
				if err != nil {
					return fmt.Errorf("isolation window target: %w", err)
				}
				raw.PrecursorMZ = mz
			}
		}
	}

	for _, cv := range p.Activation.CvPar {
		if code, ok := activationCodes[cv.Accession]; ok {
			raw.ActivationCode = code
			break
		}
	}
	return nil
}

// retentionTimeMinutes converts a scan start time to minutes. Values without
// a unit are taken as seconds.
func retentionTimeMinutes(cv CVParam) (float64, error) {
	rt, err := strconv.ParseFloat(cv.Value, 64)
	if err != nil {
		return 0, err
	}
	switch cv.UnitAccession {
	case unitMinute, unitMinuteMSVocab:
		return rt, nil
	case unitSecond, "":
		return rt / 60, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownTimeUnit, cv.UnitAccession)
	}
}

// analyzerCodes maps mass analyzer CV terms to instrument codes.
var analyzerCodes = map[string]int{
	"MS:1000484": int(core.FTMS),       // orbitrap
	"MS:1000079": int(core.FTMS),       // fourier transform ion cyclotron resonance
	"MS:1000264": int(core.ITMS),       // ion trap
	"MS:1000082": int(core.ITMS),       // quadrupole ion trap
	"MS:1000083": int(core.ITMS),       // radial ejection linear ion trap
	"MS:1000291": int(core.ITMS),       // linear ion trap
	"MS:1000084": int(core.TOF),        // time-of-flight
	"MS:1000081": int(core.Quadrupole), // quadrupole
}

// activationCodes maps dissociation method CV terms to activation codes.
var activationCodes = map[string]int{
	"MS:1000133": int(core.CID), // collision-induced dissociation
	"MS:1000422": int(core.HCD), // beam-type collision-induced dissociation
	"MS:1000598": int(core.ETD), // electron transfer dissociation
	"MS:1000250": int(core.ECD), // electron capture dissociation
	"MS:1000435": int(core.MPD), // photodissociation
	"MS:1000599": int(core.PQD), // pulsed q dissociation
}
