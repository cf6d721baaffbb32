package mzml

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ChrisMcGann/msnconv/pkg/core"
	"github.com/ChrisMcGann/msnconv/pkg/source"
)

func encode64(values []float64) string {
	buf := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func encode32Zlib(values []float64) string {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(v)))
	}
	var z bytes.Buffer
	w := zlib.NewWriter(&z)
	w.Write(buf)
	w.Close()
	return base64.StdEncoding.EncodeToString(z.Bytes())
}

const testMzML = `<?xml version="1.0" encoding="utf-8"?>
<indexedmzML xmlns="http://psi.hupo.org/ms/mzml">
<mzML xmlns="http://psi.hupo.org/ms/mzml" version="1.1.0">
  <instrumentConfigurationList count="2">
    <instrumentConfiguration id="IC1">
      <componentList count="1">
        <analyzer order="2"><cvParam cvRef="MS" accession="MS:1000484" name="orbitrap"/></analyzer>
      </componentList>
    </instrumentConfiguration>
    <instrumentConfiguration id="IC2">
      <componentList count="1">
        <analyzer order="2"><cvParam cvRef="MS" accession="MS:1000083" name="radial ejection linear ion trap"/></analyzer>
      </componentList>
    </instrumentConfiguration>
  </instrumentConfigurationList>
  <run id="run1" defaultInstrumentConfigurationRef="IC1">
    <spectrumList count="2">
      <spectrum index="0" id="controllerType=0 controllerNumber=1 scan=100" defaultArrayLength="2">
        <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="1"/>
        <cvParam cvRef="MS" accession="MS:1000127" name="centroid spectrum"/>
        <scanList count="1">
          <scan>
            <cvParam cvRef="MS" accession="MS:1000016" name="scan start time" value="312" unitAccession="UO:0000010"/>
            <cvParam cvRef="MS" accession="MS:1000512" name="filter string" value="FTMS + p NSI Full ms [350.00-1800.00]"/>
          </scan>
        </scanList>
        <binaryDataArrayList count="2">
          <binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
            <cvParam cvRef="MS" accession="MS:1000576" name="no compression"/>
            <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
            <binary>%s</binary>
          </binaryDataArray>
          <binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
            <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
            <binary>%s</binary>
          </binaryDataArray>
        </binaryDataArrayList>
      </spectrum>
      <spectrum index="1" id="controllerType=0 controllerNumber=1 scan=101" defaultArrayLength="1">
        <cvParam cvRef="MS" accession="MS:1000511" name="ms level" value="2"/>
        <scanList count="1">
          <scan instrumentConfigurationRef="IC2">
            <cvParam cvRef="MS" accession="MS:1000016" name="scan start time" value="5.25" unitAccession="UO:0000031"/>
          </scan>
        </scanList>
        <precursorList count="1">
          <precursor spectrumRef="controllerType=0 controllerNumber=1 scan=100">
            <isolationWindow>
              <cvParam cvRef="MS" accession="MS:1000827" name="isolation window target m/z" value="400.2"/>
            </isolationWindow>
            <selectedIonList count="1">
              <selectedIon>
                <cvParam cvRef="MS" accession="MS:1000744" name="selected ion m/z" value="400.1"/>
                <cvParam cvRef="MS" accession="MS:1000041" name="charge state" value="2"/>
              </selectedIon>
            </selectedIonList>
            <activation>
              <cvParam cvRef="MS" accession="MS:1000045" name="collision energy" value="35"/>
              <cvParam cvRef="MS" accession="MS:1000133" name="collision-induced dissociation"/>
            </activation>
          </precursor>
        </precursorList>
        <binaryDataArrayList count="2">
          <binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000521" name="32-bit float"/>
            <cvParam cvRef="MS" accession="MS:1000574" name="zlib compression"/>
            <cvParam cvRef="MS" accession="MS:1000514" name="m/z array"/>
            <binary>%s</binary>
          </binaryDataArray>
          <binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000521" name="32-bit float"/>
            <cvParam cvRef="MS" accession="MS:1000574" name="zlib compression"/>
            <cvParam cvRef="MS" accession="MS:1000515" name="intensity array"/>
            <binary>%s</binary>
          </binaryDataArray>
        </binaryDataArrayList>
      </spectrum>
    </spectrumList>
  </run>
</mzML>
</indexedmzML>
`

func testDocument() string {
	return fmt.Sprintf(testMzML,
		encode64([]float64{400.1, 401.1}),
		encode64([]float64{1000, 50}),
		encode32Zlib([]float64{150}),
		encode32Zlib([]float64{800}),
	)
}

func TestReadScans(t *testing.T) {
	f, err := Read(strings.NewReader(testDocument()))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}

	if n := len(f.ScanNumbers()); n != 2 {
		t.Fatalf("ScanNumbers: %d scans, should be 2", n)
	}
	first, last := f.ScanRange()
	if first != 100 || last != 101 {
		t.Errorf("ScanRange: %d-%d, should be 100-101", first, last)
	}

	ms1, err := f.Scan(context.Background(), 100)
	if err != nil {
		t.Fatalf("Scan(100): error return %v", err)
	}
	want := source.RawScan{
		MSLevel:             1,
		RetentionTime:       5.2,
		Peaks:               []core.Peak{{MZ: 400.1, Intensity: 1000}, {MZ: 401.1, Intensity: 50}},
		PrecursorScanNumber: core.NoPrecursorScan,
		InstrumentCode:      int(core.FTMS),
		ActivationCode:      int(core.ActivationUnknown),
		ScanHeader:          "FTMS + p NSI Full ms [350.00-1800.00]",
		Centroided:          true,
	}
	if diff := cmp.Diff(want, ms1); diff != "" {
		t.Errorf("Scan(100) mismatch (-want +got):\n%s", diff)
	}

	ms2, err := f.Scan(context.Background(), 101)
	if err != nil {
		t.Fatalf("Scan(101): error return %v", err)
	}
	want = source.RawScan{
		MSLevel:             2,
		RetentionTime:       5.25,
		Peaks:               []core.Peak{{MZ: 150, Intensity: 800}},
		PrecursorMZ:         400.1,
		PrecursorCharge:     2,
		PrecursorScanNumber: 100,
		InstrumentCode:      int(core.ITMS),
		ActivationCode:      int(core.CID),
	}
	if diff := cmp.Diff(want, ms2); diff != "" {
		t.Errorf("Scan(101) mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.Scan(context.Background(), 102); !errors.Is(err, source.ErrNoScan) {
		t.Errorf("Scan(102): error return %v, should be ErrNoScan", err)
	}
}

func TestParseMzMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.mzML")
	if err := os.WriteFile(path, []byte(testDocument()), 0o644); err != nil {
		t.Fatal(err)
	}

	spectra, err := source.ParseFile(context.Background(), OpenRun, path, source.Options{MSLevel: 2})
	if err != nil {
		t.Fatalf("ParseFile: error return %v", err)
	}
	if len(spectra) != 1 {
		t.Fatalf("Expected 1 MS2 spectrum, got %d", len(spectra))
	}
	spec := spectra[0]
	if spec.ScanNumber != 101 || spec.PrecursorScanNumber != 100 || spec.ActivationType != core.CID {
		t.Errorf("Unexpected spectrum %+v", spec)
	}
	if diff := cmp.Diff([]core.Precursor{{MZ: 400.1, Charge: 2}}, spec.Precursors); diff != "" {
		t.Errorf("Precursors mismatch (-want +got):\n%s", diff)
	}
}

func TestIsolationTargetFallback(t *testing.T) {
	doc := strings.Replace(testDocument(),
		`<cvParam cvRef="MS" accession="MS:1000744" name="selected ion m/z" value="400.1"/>`, "", 1)
	f, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	raw, err := f.Scan(context.Background(), 101)
	if err != nil {
		t.Fatalf("Scan: error return %v", err)
	}
	if raw.PrecursorMZ != 400.2 {
		t.Errorf("PrecursorMZ: %v, should be 400.2", raw.PrecursorMZ)
	}
}

func TestOpenErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(filepath.Join(dir, "missing.mzML"))
	assertReason(t, err, source.NotFound)

	truncated := filepath.Join(dir, "acquiring.mzML")
	doc := testDocument()
	if err := os.WriteFile(truncated, []byte(doc[:len(doc)/2]), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(truncated)
	assertReason(t, err, source.StillAcquiring)

	garbage := filepath.Join(dir, "garbage.mzML")
	if err := os.WriteFile(garbage, []byte("<notmzml></notmzml>"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = Open(garbage)
	assertReason(t, err, source.Unreadable)
	if !errors.Is(err, ErrNoMzML) {
		t.Errorf("Open(garbage): error %v, should wrap ErrNoMzML", err)
	}
}

func encode32Int(values []int32) string {
	buf := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func TestChargeArray(t *testing.T) {
	tests := []struct {
		name  string
		array string
	}{
		{
			name: "64-bit float",
			array: `<binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000523" name="64-bit float"/>
            <cvParam cvRef="MS" accession="MS:1000516" name="charge array"/>
            <binary>` + encode64([]float64{2, 3.0000001}) + `</binary>
          </binaryDataArray>
        </binaryDataArrayList>`,
		},
		{
			name: "32-bit integer",
			array: `<binaryDataArray>
            <cvParam cvRef="MS" accession="MS:1000519" name="32-bit integer"/>
            <cvParam cvRef="MS" accession="MS:1000516" name="charge array"/>
            <binary>` + encode32Int([]int32{2, 3}) + `</binary>
          </binaryDataArray>
        </binaryDataArrayList>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := strings.Replace(testDocument(), "</binaryDataArrayList>", tt.array, 1)
			f, err := Read(strings.NewReader(doc))
			if err != nil {
				t.Fatalf("Read: error return %v", err)
			}
			raw, err := f.Scan(context.Background(), 100)
			if err != nil {
				t.Fatalf("Scan: error return %v", err)
			}
			want := []core.Peak{{MZ: 400.1, Intensity: 1000, Charge: 2}, {MZ: 401.1, Intensity: 50, Charge: 3}}
			if diff := cmp.Diff(want, raw.Peaks); diff != "" {
				t.Errorf("Peaks mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetentionTimeUnits(t *testing.T) {
	tests := []struct {
		unit    string
		want    float64
		wantErr error
	}{
		{"UO:0000010", 5.2, nil},
		{"", 5.2, nil},
		{"UO:0000031", 312, nil},
		{"MS:1000038", 312, nil},
		{"UO:0000032", 0, ErrUnknownTimeUnit},
	}
	for _, tt := range tests {
		got, err := retentionTimeMinutes(CVParam{Value: "312", UnitAccession: tt.unit})
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("retentionTimeMinutes(%q): error return %v, should be %v", tt.unit, err, tt.wantErr)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("retentionTimeMinutes(%q) = %v, should be %v", tt.unit, got, tt.want)
		}
	}
}

func TestNumpressRejected(t *testing.T) {
	doc := strings.Replace(testDocument(), `accession="MS:1000576"`, `accession="MS:1002312"`, 1)
	f, err := Read(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Read: error return %v", err)
	}
	if _, err := f.Scan(context.Background(), 100); !errors.Is(err, ErrUnsupportedCompression) {
		t.Errorf("Scan: error return %v, should be ErrUnsupportedCompression", err)
	}
}

func TestScanNumberFromID(t *testing.T) {
	tests := []struct {
		id     string
		want   int
		wantOK bool
	}{
		{"controllerType=0 controllerNumber=1 scan=42", 42, true},
		{"scan=7", 7, true},
		{"index=3", 0, false},
		{"scan=abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := ScanNumberFromID(tt.id)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ScanNumberFromID(%q) = %d, %v; want %d, %v", tt.id, got, ok, tt.want, tt.wantOK)
		}
	}
}

func assertReason(t *testing.T, err error, want source.Reason) {
	t.Helper()
	var srcErr *source.SourceUnavailableError
	if !errors.As(err, &srcErr) {
		t.Fatalf("error %v is not a SourceUnavailableError", err)
	}
	if srcErr.Reason != want {
		t.Errorf("Reason: %v, should be %v", srcErr.Reason, want)
	}
}
