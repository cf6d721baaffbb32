package source

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"fortio.org/safecast"
	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/msnconv/pkg/core"
	"github.com/ChrisMcGann/msnconv/pkg/filter"
)

// AllLevels accepts scans of every MS level.
const AllLevels = 0

// Progress is delivered to the observer while a run is traversed.
type Progress struct {
	Done  int
	Total int
}

// Percent returns the integer completion percentage.
func (p Progress) Percent() int {
	if p.Total <= 0 {
		return 100
	}
	return p.Done * 100 / p.Total
}

// Options controls which scans become spectra and how their peaks are reduced.
type Options struct {
	MSLevel        int             // Only keep scans of this level (AllLevels = keep all)
	FileIndex      int16           // Stored on every spectrum
	SaveScanHeader bool            // Keep the raw filter string
	Scans          []int           // Explicit scan numbers (nil = full scan range)
	Selector       filter.Selector // nil = threshold 0.01% / 900 peaks
	Normalize      bool            // Rescale intensities to unit norm
	Workers        int             // Concurrent decoders (<= 1 = sequential)

	// Instruments and Activations restrict the output to scans with one of
	// the listed codes. nil keeps every scan.
	Instruments []core.InstrumentType
	Activations []core.ActivationType

	// Progress is called whenever the integer percentage increases.
	// Calls are serialized.
	Progress func(Progress)
	// Warning receives non-fatal per-scan problems. Calls are serialized.
	Warning func(scanNumber int, err error)
}

// ParseFile opens path, traverses it and always closes the run.
func ParseFile(ctx context.Context, open Opener, path string, opts Options) ([]core.Spectrum, error) {
	if err := CheckPath(path); err != nil {
		return nil, err
	}

	run, err := open(path)
	if err != nil {
		var srcErr *SourceUnavailableError
		if errors.As(err, &srcErr) {
			return nil, err
		}
		return nil, &SourceUnavailableError{Path: path, Reason: Unreadable, Err: err}
	}
	defer run.Close()

	spectra, err := Parse(ctx, run, opts)
	if err != nil {
		var srcErr *SourceUnavailableError
		if errors.As(err, &srcErr) && srcErr.Path == "" {
			srcErr.Path = path
		}
		return nil, err
	}
	return spectra, nil
}

// Parse decodes the selected scans of run and returns the accepted spectra
// in scan list order, independent of the number of workers. Any decoder
// failure aborts the traversal.
func Parse(ctx context.Context, run Run, opts Options) ([]core.Spectrum, error) {
	scans := opts.Scans
	if scans == nil {
		first, last := run.ScanRange()
		for n := first; n <= last; n++ {
			scans = append(scans, n)
		}
	}

	selector := opts.Selector
	if selector == nil {
		selector = filter.Threshold{
			RelativePercent: filter.DefaultRelativeThresholdPercent,
			MaxPeaks:        filter.DefaultMaxPeaks,
		}
	}

	if warn := opts.Warning; warn != nil {
		var mu sync.Mutex
		opts.Warning = func(scanNumber int, err error) {
			mu.Lock()
			defer mu.Unlock()
			warn(scanNumber, err)
		}
	}

	workers := max(opts.Workers, 1)
	results := make([]*core.Spectrum, len(scans))
	progress := newTracker(len(scans), opts.Progress)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, scanNumber := range scans {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			raw, err := run.Scan(gctx, scanNumber)
			if err != nil {
				if errors.Is(err, ErrNoScan) {
					progress.add()
					return nil
				}
				return &SourceUnavailableError{Reason: DecoderError, Err: fmt.Errorf("scan %d: %w", scanNumber, err)}
			}

			spec, ok, err := buildSpectrum(scanNumber, raw, selector, opts)
			if err != nil {
				return err
			}
			if ok {
				results[i] = &spec
			}
			progress.add()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	spectra := make([]core.Spectrum, 0, len(results))
	for _, spec := range results {
		if spec != nil {
			spectra = append(spectra, *spec)
		}
	}
	return spectra, nil
}

// buildSpectrum applies level selection and peak reduction to one raw scan.
// ok is false when the scan is not part of the output.
func buildSpectrum(scanNumber int, raw RawScan, selector filter.Selector, opts Options) (core.Spectrum, bool, error) {
	if opts.MSLevel != AllLevels && raw.MSLevel != opts.MSLevel {
		return core.Spectrum{}, false, nil
	}
	if len(raw.Peaks) == 0 {
		return core.Spectrum{}, false, nil
	}

	msLevel, err := safecast.Conv[int16](raw.MSLevel)
	if err != nil {
		return core.Spectrum{}, false, fmt.Errorf("scan %d: ms level %d: %w", scanNumber, raw.MSLevel, err)
	}
	instrument, err := safecast.Conv[int16](raw.InstrumentCode)
	if err != nil {
		instrument = int16(core.InstrumentUnknown)
	}
	activation, err := safecast.Conv[int16](raw.ActivationCode)
	if err != nil {
		activation = int16(core.ActivationUnknown)
	}
	if len(opts.Instruments) > 0 && !slices.Contains(opts.Instruments, core.InstrumentType(instrument)) {
		return core.Spectrum{}, false, nil
	}
	if len(opts.Activations) > 0 && !slices.Contains(opts.Activations, core.ActivationType(activation)) {
		return core.Spectrum{}, false, nil
	}

	ions, err := selector.Select(raw.Peaks)
	if err != nil {
		if errors.Is(err, core.ErrEmptyInput) {
			return core.Spectrum{}, false, nil
		}
		return core.Spectrum{}, false, fmt.Errorf("scan %d: peak selection: %w", scanNumber, err)
	}

	spec := core.Spectrum{
		ScanNumber:          scanNumber,
		PrecursorScanNumber: core.NoPrecursorScan,
		RetentionTime:       raw.RetentionTime,
		MSLevel:             msLevel,
		InstrumentType:      core.InstrumentType(instrument),
		ActivationType:      core.ActivationType(activation),
		Ions:                ions,
		FileIndex:           opts.FileIndex,
	}

	if msLevel > 1 {
		charge, err := safecast.Conv[int16](raw.PrecursorCharge)
		if err != nil {
			return core.Spectrum{}, false, fmt.Errorf("scan %d: precursor charge %d: %w", scanNumber, raw.PrecursorCharge, err)
		}
		spec.Precursors = []core.Precursor{{MZ: raw.PrecursorMZ, Charge: charge}}
		spec.PrecursorScanNumber = raw.PrecursorScanNumber
	}

	if opts.SaveScanHeader {
		spec.ScanHeader = raw.ScanHeader
	}

	if opts.Normalize {
		normalized, err := spec.NormalizeIntensities()
		if err != nil {
			if opts.Warning != nil {
				opts.Warning(scanNumber, err)
			}
		} else {
			spec = normalized
		}
	}

	if err := spec.Validate(); err != nil {
		if opts.Warning != nil {
			opts.Warning(scanNumber, err)
		}
		return core.Spectrum{}, false, nil
	}

	return spec, true, nil
}

// tracker counts processed scans from several workers and reports each new
// integer percentage exactly once.
type tracker struct {
	total    int
	done     atomic.Int64
	mu       sync.Mutex
	reported int
	observer func(Progress)
}

func newTracker(total int, observer func(Progress)) *tracker {
	return &tracker{total: total, reported: -1, observer: observer}
}

func (t *tracker) add() {
	done := int(t.done.Add(1))
	if t.observer == nil {
		return
	}

	p := Progress{Done: done, Total: t.total}
	t.mu.Lock()
	defer t.mu.Unlock()
	if pct := p.Percent(); pct > t.reported {
		t.reported = pct
		t.observer(p)
	}
}
