// Package msn writes spectra in the line-oriented MS1/MS2 text format
package msn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

const (
	// DefaultExtractor is written to the H Extractor record.
	DefaultExtractor = "Thermo Reader"
	// DefaultVersion is written to the H Version record.
	DefaultVersion = "1.0"
	// creationDateFormat is the H Creation Date layout.
	creationDateFormat = "2006-01-02 15:04:05"
)

// Options controls the file header and output behaviour
type Options struct {
	Extractor string           // H Extractor (default DefaultExtractor)
	Version   string           // H Version (default DefaultVersion)
	Now       func() time.Time // Clock for H Creation Date (default time.Now)
	Atomic    bool             // ExportFile: only publish a complete file

	// Progress is called after every spectrum with the number written so far.
	Progress func(done, total int)
}

func (o Options) withDefaults() Options {
	if o.Extractor == "" {
		o.Extractor = DefaultExtractor
	}
	if o.Version == "" {
		o.Version = DefaultVersion
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// WriteFailureError reports an I/O failure while streaming output. Lines
// flushed before the failure remain in the sink.
type WriteFailureError struct {
	ScanNumber int // 0 for header records
	Err        error
}

func (e *WriteFailureError) Error() string {
	if e.ScanNumber == 0 {
		return fmt.Sprintf("failed to write header: %v", e.Err)
	}
	return fmt.Sprintf("failed to write scan %d: %v", e.ScanNumber, e.Err)
}

func (e *WriteFailureError) Unwrap() error {
	return e.Err
}

// ErrHeaderWritten is returned when WriteHeader is called twice.
var ErrHeaderWritten = errors.New("header already written")

// Writer streams spectra to an io.Writer through a bounded buffer.
type Writer struct {
	bw            *bufio.Writer
	msnLevel      int
	opts          Options
	headerWritten bool
	count         int
	err           error
}

// NewWriter creates a new MSn writer
func NewWriter(w io.Writer, msnLevel int, opts Options) *Writer {
	return &Writer{
		bw:       bufio.NewWriter(w),
		msnLevel: msnLevel,
		opts:     opts.withDefaults(),
	}
}

// WriteHeader writes the H block.
func (w *Writer) WriteHeader(firstScan, lastScan int) error {
	if w.err != nil {
		return w.err
	}
	if w.headerWritten {
		return ErrHeaderWritten
	}
	w.headerWritten = true

	w.line("H\tCreation Date\t" + w.opts.Now().Format(creationDateFormat))
	w.line("H\tExtractor\t" + w.opts.Extractor)
	w.line("H\tFirstScan\t" + strconv.Itoa(firstScan))
	w.line("H\tLastScan\t" + strconv.Itoa(lastScan))
	w.line("H\tVersion\t" + w.opts.Version)
	return w.fail(0)
}

// WriteSpectrum writes the S, I and Z records and the peak lines of one spectrum.
func (w *Writer) WriteSpectrum(spec core.Spectrum) error {
	if w.err != nil {
		return w.err
	}

	w.line(spec.SLine(w.msnLevel))
	for _, l := range spec.ILines(w.msnLevel) {
		w.line(l)
	}
	if w.msnLevel > 1 {
		for _, l := range spec.ZLines() {
			w.line(l)
		}
	}
	for _, ion := range spec.Ions {
		w.line(core.PeakLine(ion))
	}

	if err := w.fail(spec.ScanNumber); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of spectra written.
func (w *Writer) Count() int {
	return w.count
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if err := w.bw.Flush(); err != nil {
		w.err = &WriteFailureError{Err: err}
	}
	return w.err
}

// Close flushes the buffer. It does not close the underlying writer.
func (w *Writer) Close() error {
	return w.Flush()
}

// line appends one record; bufio keeps the first error.
func (w *Writer) line(s string) {
	w.bw.WriteString(s)
	w.bw.WriteByte('\n')
}

// fail records the sticky bufio error against the given scan.
func (w *Writer) fail(scanNumber int) error {
	if w.err != nil {
		return w.err
	}
	// A nil-length write surfaces an earlier flush failure.
	if _, err := w.bw.Write(nil); err != nil {
		w.err = &WriteFailureError{ScanNumber: scanNumber, Err: err}
	}
	return w.err
}
