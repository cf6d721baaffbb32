package msn

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

// Export writes spectra in sequence order. FirstScan and LastScan are taken
// from the first and last elements, so callers sort beforehand. An empty
// sequence writes nothing. The first write failure aborts the export.
func Export(spectra []core.Spectrum, sink io.Writer, msnLevel int, opts Options) error {
	if len(spectra) == 0 {
		return nil
	}

	w := NewWriter(sink, msnLevel, opts)
	if err := w.WriteHeader(spectra[0].ScanNumber, spectra[len(spectra)-1].ScanNumber); err != nil {
		return err
	}

	for _, spec := range spectra {
		if err := w.WriteSpectrum(spec); err != nil {
			return err
		}
		if opts.Progress != nil {
			opts.Progress(w.Count(), len(spectra))
		}
	}

	return w.Close()
}

// ExportFile exports spectra to path. The file is closed on every return
// path. With opts.Atomic the output is streamed to a temporary file that
// only replaces path once complete; otherwise a failed export leaves the
// lines written so far on disk. No file is created for an empty sequence.
func ExportFile(spectra []core.Spectrum, path string, msnLevel int, opts Options) (err error) {
	if len(spectra) == 0 {
		return nil
	}

	if opts.Atomic {
		return exportAtomic(spectra, path, msnLevel, opts)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &WriteFailureError{Err: cerr}
		}
	}()

	return Export(spectra, f, msnLevel, opts)
}

func exportAtomic(spectra []core.Spectrum, path string, msnLevel int, opts Options) error {
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		werr := atomic.WriteFile(path, pr)
		// Unblock the exporter if the file could not be written.
		pr.CloseWithError(werr)
		done <- werr
	}()

	err := Export(spectra, pw, msnLevel, opts)
	pw.CloseWithError(err)
	werr := <-done

	if err != nil {
		return err
	}
	if werr != nil {
		return &WriteFailureError{Err: werr}
	}
	return nil
}

// OutputPath derives the output file name: the extension of input is
// replaced by ".ms<level>" unless keepOriginal is set.
func OutputPath(input string, msnLevel int, keepOriginal bool) string {
	if keepOriginal {
		return input
	}
	return strings.TrimSuffix(input, filepath.Ext(input)) + fmt.Sprintf(".ms%d", msnLevel)
}
