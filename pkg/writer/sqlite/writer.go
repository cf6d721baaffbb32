// Package sqlite provides a SQLite scan index written alongside MSn exports
package sqlite

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/ChrisMcGann/msnconv/pkg/core"
	_ "github.com/mattn/go-sqlite3"
)

// Date format for HeaderTable, same as the H Creation Date record
const headerDateFormat = "2006-01-02 15:04:05"

// Header describes the export the index belongs to.
type Header struct {
	CreationDate time.Time // zero = time.Now
	SourceFile   string
	Extractor    string
	Version      string
	MSnLevel     int
	FirstScan    int
	LastScan     int
}

// Writer handles writing scan rows to a SQLite database file
type Writer struct {
	db       *sql.DB
	tx       *sql.Tx
	scanStmt *sql.Stmt
	closed   bool
}

// NewWriter creates a new SQLite writer. An existing database at
// outputPath is replaced.
func NewWriter(outputPath string) (*Writer, error) {
	if err := os.Remove(outputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to remove old database: %w", err)
	}

	db, err := sql.Open("sqlite3", outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	w := &Writer{db: db}

	if err := w.createTables(); err != nil {
		db.Close()
		return nil, err
	}

	if err := w.prepareStatements(); err != nil {
		db.Close()
		return nil, err
	}

	return w, nil
}

// createTables creates the required database schema
func (w *Writer) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ScanTable (
		ScanNumber INTEGER,
		FileIndex INTEGER,
		PrecursorScan INTEGER,
		MSLevel INTEGER,
		RetentionTime DOUBLE,
		PrecursorMZ DOUBLE,
		PrecursorCharge INTEGER,
		InstrumentType TEXT,
		ActivationType TEXT,
		ScanFilter TEXT,
		PeakCount INTEGER,
		BasePeakMZ DOUBLE,
		BasePeakIntensity DOUBLE,
		TIC DOUBLE,
		blobMass BLOB,
		blobIntensity BLOB,
		blobCharge BLOB,
		PRIMARY KEY (FileIndex, ScanNumber)
	);

	CREATE TABLE IF NOT EXISTS HeaderTable (
		CreationDate TEXT,
		SourceFile TEXT,
		Extractor TEXT,
		Version TEXT,
		MSnLevel INTEGER,
		FirstScan INTEGER,
		LastScan INTEGER
	);
	`

	_, err := w.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// prepareStatements opens the insert transaction and prepares the scan statement
func (w *Writer) prepareStatements() error {
	var err error

	w.tx, err = w.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	w.scanStmt, err = w.tx.Prepare(`
		INSERT INTO ScanTable (
			ScanNumber, FileIndex, PrecursorScan, MSLevel, RetentionTime,
			PrecursorMZ, PrecursorCharge, InstrumentType, ActivationType,
			ScanFilter, PeakCount, BasePeakMZ, BasePeakIntensity, TIC,
			blobMass, blobIntensity, blobCharge
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		w.tx.Rollback()
		return fmt.Errorf("failed to prepare scan statement: %w", err)
	}

	return nil
}

// WriteSpectrum writes a single scan row
func (w *Writer) WriteSpectrum(spec core.Spectrum) error {
	// Unnamed codes are stored as NULL
	var instrument, activation interface{}
	if name, err := spec.InstrumentType.Name(); err == nil {
		instrument = name
	}
	if name, err := spec.ActivationType.Name(); err == nil {
		activation = name
	}

	var precursorMZ, precursorCharge interface{}
	if p, ok := spec.FirstPrecursor(); ok {
		precursorMZ = p.MZ
		precursorCharge = p.Charge
	}

	var precursorScan interface{}
	if spec.PrecursorScanNumber != core.NoPrecursorScan {
		precursorScan = spec.PrecursorScanNumber
	}

	var baseMZ, baseIntensity interface{}
	if base, ok := spec.BasePeak(); ok {
		baseMZ = base.MZ
		baseIntensity = base.Intensity
	}

	var scanFilter interface{}
	if spec.ScanHeader != "" {
		scanFilter = spec.ScanHeader
	}

	_, err := w.scanStmt.Exec(
		spec.ScanNumber,                     // ScanNumber
		spec.FileIndex,                      // FileIndex
		precursorScan,                       // PrecursorScan
		spec.MSLevel,                        // MSLevel
		spec.RetentionTime,                  // RetentionTime
		precursorMZ,                         // PrecursorMZ
		precursorCharge,                     // PrecursorCharge
		instrument,                          // InstrumentType
		activation,                          // ActivationType
		scanFilter,                          // ScanFilter
		len(spec.Ions),                      // PeakCount
		baseMZ,                              // BasePeakMZ
		baseIntensity,                       // BasePeakIntensity
		spec.TIC(),                          // TIC
		encodeFloat64(spec.Ions, mz),        // blobMass
		encodeFloat64(spec.Ions, intensity), // blobIntensity
		encodeCharges(spec.Ions),            // blobCharge
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan %d: %w", spec.ScanNumber, err)
	}

	return nil
}

// WriteHeader records the export the scans belong to
func (w *Writer) WriteHeader(h Header) error {
	created := h.CreationDate
	if created.IsZero() {
		created = time.Now()
	}
	_, err := w.tx.Exec(`
		INSERT INTO HeaderTable (CreationDate, SourceFile, Extractor, Version, MSnLevel, FirstScan, LastScan)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, created.Format(headerDateFormat), h.SourceFile, h.Extractor, h.Version, h.MSnLevel, h.FirstScan, h.LastScan)
	if err != nil {
		return fmt.Errorf("failed to insert header: %w", err)
	}
	return nil
}

type peakField int

const (
	mz peakField = iota
	intensity
)

// encodeFloat64 encodes peak data as little-endian float64 blob
func encodeFloat64(peaks []core.Peak, field peakField) []byte {
	buf := make([]byte, len(peaks)*8)
	for i, peak := range peaks {
		value := peak.MZ
		if field == intensity {
			value = peak.Intensity
		}
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(value))
	}
	return buf
}

// encodeCharges encodes peak charges as little-endian int32 blob
func encodeCharges(peaks []core.Peak) []byte {
	buf := make([]byte, len(peaks)*4)
	for i, peak := range peaks {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(peak.Charge))
	}
	return buf
}

// Finalize commits the scan rows and closes the database
func (w *Writer) Finalize() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// Close prepared statements
	if w.scanStmt != nil {
		w.scanStmt.Close()
	}

	if err := w.tx.Commit(); err != nil {
		w.db.Close()
		return fmt.Errorf("failed to commit scans: %w", err)
	}

	// Close database
	if err := w.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// Abort discards uncommitted rows and closes the database
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.scanStmt != nil {
		w.scanStmt.Close()
	}
	w.tx.Rollback()
	return w.db.Close()
}

// Close closes the database connection (alias for Finalize)
func (w *Writer) Close() error {
	return w.Finalize()
}
