// Package source defines the scan decoding collaborator and turns its raw
// scans into filtered spectra.
package source

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

// Run is an opened acquisition file.
type Run interface {
	// ScanRange returns the first and last scan numbers, inclusive.
	ScanRange() (first, last int)
	// Scan decodes one scan. Scan numbers missing from the run return ErrNoScan.
	Scan(ctx context.Context, scanNumber int) (RawScan, error)
	Close() error
}

// Opener opens a run file.
type Opener func(path string) (Run, error)

// RawScan is one decoded scan as exposed by the decoder.
type RawScan struct {
	MSLevel             int
	RetentionTime       float64 // minutes
	Peaks               []core.Peak
	PrecursorMZ         float64
	PrecursorCharge     int
	PrecursorScanNumber int
	InstrumentCode      int
	ActivationCode      int
	ScanHeader          string
	Centroided          bool
}

// Reason classifies why a run cannot be used.
type Reason int

// Reasons for SourceUnavailableError.
const (
	NotFound Reason = iota
	Unreadable
	StillAcquiring
	DecoderError
)

func (r Reason) String() string {
	switch r {
	case NotFound:
		return "file not found"
	case Unreadable:
		return "unreadable file"
	case StillAcquiring:
		return "file still being acquired"
	case DecoderError:
		return "decoder error"
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

var (
	// ErrSourceUnavailable is matched by every SourceUnavailableError.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrNoScan marks a scan number that does not exist in the run.
	ErrNoScan = errors.New("no such scan")
)

// SourceUnavailableError reports a run that cannot be processed. It is fatal
// to the whole conversion.
type SourceUnavailableError struct {
	Path   string
	Reason Reason
	Err    error
}

func (e *SourceUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

func (e *SourceUnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSourceUnavailable) hold.
func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// CheckPath verifies that path names an existing regular file.
func CheckPath(path string) error {
	if path == "" {
		return &SourceUnavailableError{Path: path, Reason: NotFound, Err: errors.New("no run file specified")}
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &SourceUnavailableError{Path: path, Reason: NotFound}
		}
		return &SourceUnavailableError{Path: path, Reason: Unreadable, Err: err}
	}
	if info.IsDir() {
		return &SourceUnavailableError{Path: path, Reason: Unreadable, Err: errors.New("is a directory")}
	}
	return nil
}
