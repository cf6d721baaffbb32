package sqlite

import (
	"database/sql"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

// decodeFloat64 reverses the float64 blob encoding
func decodeFloat64(blob []byte) []float64 {
	values := make([]float64, len(blob)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return values
}

// writeIndex stores spectra and a header in a new index at path.
func writeIndex(t *testing.T, path string, spectra []core.Spectrum, h Header) {
	t.Helper()
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: error return %v", err)
	}
	for _, spec := range spectra {
		if err := w.WriteSpectrum(spec); err != nil {
			t.Fatalf("WriteSpectrum(%d): error return %v", spec.ScanNumber, err)
		}
	}
	if err := w.WriteHeader(h); err != nil {
		t.Fatalf("WriteHeader: error return %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: error return %v", err)
	}
}

func testSpectra() []core.Spectrum {
	return []core.Spectrum{
		{
			ScanNumber:          100,
			PrecursorScanNumber: core.NoPrecursorScan,
			RetentionTime:       5.2,
			MSLevel:             1,
			InstrumentType:      core.FTMS,
			ActivationType:      core.ActivationUnknown,
			Ions: []core.Peak{
				{MZ: 400.1, Intensity: 1000},
				{MZ: 401.1, Intensity: 50},
			},
			ScanHeader: "FTMS + p NSI Full ms",
			FileIndex:  core.SingleFile,
		},
		{
			ScanNumber:          101,
			PrecursorScanNumber: 100,
			RetentionTime:       5.25,
			MSLevel:             2,
			InstrumentType:      core.ITMS,
			ActivationType:      core.CID,
			Precursors:          []core.Precursor{{MZ: 400.1, Charge: 2}},
			Ions:                []core.Peak{{MZ: 150, Intensity: 800, Charge: 1}},
			FileIndex:           core.SingleFile,
		},
	}
}

func TestWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: error return %v", err)
	}
	for _, spec := range testSpectra() {
		if err := w.WriteSpectrum(spec); err != nil {
			t.Fatalf("WriteSpectrum(%d): error return %v", spec.ScanNumber, err)
		}
	}
	created := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	err = w.WriteHeader(Header{CreationDate: created, SourceFile: "run.mzML", Extractor: "Thermo Reader", Version: "1.0", MSnLevel: 2, FirstScan: 100, LastScan: 101})
	if err != nil {
		t.Fatalf("WriteHeader: error return %v", err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatalf("Finalize: error return %v", err)
	}
	// A second Finalize is a no-op
	if err := w.Close(); err != nil {
		t.Errorf("Close after Finalize: error return %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM ScanTable").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("Expected 2 scans, got %d", count)
	}

	var (
		precursorScan   sql.NullInt64
		precursorMZ     sql.NullFloat64
		precursorCharge sql.NullInt64
		activation      sql.NullString
		scanFilter      sql.NullString
		peakCount       int
		tic             float64
		blobMass        []byte
		blobIntensity   []byte
	)
	row := db.QueryRow(`SELECT PrecursorScan, PrecursorMZ, PrecursorCharge, ActivationType, ScanFilter,
		PeakCount, TIC, blobMass, blobIntensity FROM ScanTable WHERE ScanNumber = ?`, 101)
	if err := row.Scan(&precursorScan, &precursorMZ, &precursorCharge, &activation, &scanFilter,
		&peakCount, &tic, &blobMass, &blobIntensity); err != nil {
		t.Fatal(err)
	}
	if precursorScan.Int64 != 100 || precursorMZ.Float64 != 400.1 || precursorCharge.Int64 != 2 {
		t.Errorf("Unexpected precursor columns: %v %v %v", precursorScan, precursorMZ, precursorCharge)
	}
	if activation.String != "CID" {
		t.Errorf("ActivationType: %q, should be CID", activation.String)
	}
	if scanFilter.Valid {
		t.Errorf("ScanFilter: %q, should be NULL", scanFilter.String)
	}
	if peakCount != 1 || tic != 800 {
		t.Errorf("PeakCount/TIC: %d/%v, should be 1/800", peakCount, tic)
	}
	if got := decodeFloat64(blobMass); len(got) != 1 || got[0] != 150 {
		t.Errorf("blobMass decoded to %v", got)
	}
	if got := decodeFloat64(blobIntensity); len(got) != 1 || got[0] != 800 {
		t.Errorf("blobIntensity decoded to %v", got)
	}

	// MS1 rows carry NULL precursor columns and NULL for the unnamed activation
	row = db.QueryRow(`SELECT PrecursorScan, PrecursorMZ, ActivationType, ScanFilter FROM ScanTable WHERE ScanNumber = ?`, 100)
	if err := row.Scan(&precursorScan, &precursorMZ, &activation, &scanFilter); err != nil {
		t.Fatal(err)
	}
	if precursorScan.Valid || precursorMZ.Valid || activation.Valid {
		t.Errorf("MS1 row should have NULL precursor and activation columns")
	}
	if scanFilter.String != "FTMS + p NSI Full ms" {
		t.Errorf("ScanFilter: %q", scanFilter.String)
	}

	var date, source string
	var level, first, last int
	if err := db.QueryRow("SELECT CreationDate, SourceFile, MSnLevel, FirstScan, LastScan FROM HeaderTable").Scan(&date, &source, &level, &first, &last); err != nil {
		t.Fatal(err)
	}
	if source != "run.mzML" || level != 2 || first != 100 || last != 101 {
		t.Errorf("Unexpected header row: %s %d %d %d", source, level, first, last)
	}
	if date != "2026-10-18 09:30:00" {
		t.Errorf("CreationDate: %q, should be 2026-10-18 09:30:00", date)
	}
}

func TestWriterDuplicateScan(t *testing.T) {
	w, err := NewWriter(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("NewWriter: error return %v", err)
	}
	defer w.Abort()

	spec := testSpectra()[0]
	if err := w.WriteSpectrum(spec); err != nil {
		t.Fatalf("WriteSpectrum: error return %v", err)
	}
	if err := w.WriteSpectrum(spec); err == nil {
		t.Error("Expected primary key violation for duplicate scan")
	}
}

func TestWriterAbort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")

	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: error return %v", err)
	}
	if err := w.WriteSpectrum(testSpectra()[0]); err != nil {
		t.Fatalf("WriteSpectrum: error return %v", err)
	}
	if err := w.Abort(); err != nil {
		t.Fatalf("Abort: error return %v", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM ScanTable").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected no scans after Abort, got %d", count)
	}
}

func TestEncodeFloat64(t *testing.T) {
	peaks := []core.Peak{{MZ: 100.5, Intensity: 10}, {MZ: 200.25, Intensity: 20}}

	mzs := decodeFloat64(encodeFloat64(peaks, mz))
	intensities := decodeFloat64(encodeFloat64(peaks, intensity))
	for i, p := range peaks {
		if mzs[i] != p.MZ || intensities[i] != p.Intensity {
			t.Errorf("Peak %d decoded to %v/%v", i, mzs[i], intensities[i])
		}
	}

	if got := encodeCharges([]core.Peak{{Charge: 2}, {Charge: -1}}); len(got) != 8 || got[0] != 2 || got[4] != 0xff {
		t.Errorf("encodeCharges: %v", got)
	}
}

func TestWriterReplacesExistingIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	spectra := testSpectra()

	writeIndex(t, path, spectra, Header{SourceFile: "first.mzML", MSnLevel: 2, FirstScan: 100, LastScan: 101})
	// Same scans again must not collide with the previous rows
	writeIndex(t, path, spectra[1:], Header{SourceFile: "second.mzML", MSnLevel: 2, FirstScan: 101, LastScan: 101})

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var scans, headers int
	if err := db.QueryRow("SELECT COUNT(*) FROM ScanTable").Scan(&scans); err != nil {
		t.Fatal(err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM HeaderTable").Scan(&headers); err != nil {
		t.Fatal(err)
	}
	if scans != 1 || headers != 1 {
		t.Errorf("Expected 1 scan and 1 header row, got %d and %d", scans, headers)
	}

	var source, date string
	if err := db.QueryRow("SELECT SourceFile, CreationDate FROM HeaderTable").Scan(&source, &date); err != nil {
		t.Fatal(err)
	}
	if source != "second.mzML" {
		t.Errorf("SourceFile: %q, should be second.mzML", source)
	}
	if _, err := time.Parse(headerDateFormat, date); err != nil {
		t.Errorf("CreationDate %q does not parse: %v", date, err)
	}
}
