// Package mzml provides a scan source backed by mzML files, the open
// format vendor RAW files are converted to.
package mzml

import (
	"encoding/xml"
	"errors"
)

// File wraps the decoded contents of an mzML file
type File struct {
	content     mzMLContent
	scanNumbers []int       // in file order
	scanIndex   map[int]int // scan number -> spectrum index
	analyzers   map[string]int
}

// The subset of mzML we need to build spectra.
type mzMLContent struct {
	XMLName                     xml.Name                    `xml:"mzML"`
	InstrumentConfigurationList instrumentConfigurationList `xml:"instrumentConfigurationList"`
	Run                         run                         `xml:"run"`
}

type instrumentConfigurationList struct {
	Count                   int                       `xml:"count,attr,omitempty"`
	InstrumentConfiguration []instrumentConfiguration `xml:"instrumentConfiguration"`
}

type instrumentConfiguration struct {
	ID       string     `xml:"id,attr"`
	Analyzer []analyzer `xml:"componentList>analyzer"`
}

type analyzer struct {
	CvPar []CVParam `xml:"cvParam"`
}

type run struct {
	ID                                string       `xml:"id,attr,omitempty"`
	DefaultInstrumentConfigurationRef string       `xml:"defaultInstrumentConfigurationRef,attr,omitempty"`
	SpectrumList                      spectrumList `xml:"spectrumList"`
}

type spectrumList struct {
	Count    int        `xml:"count,attr,omitempty"`
	Spectrum []spectrum `xml:"spectrum"`
}

type spectrum struct {
	Index               int                 `xml:"index,attr"`
	ID                  string              `xml:"id,attr"`
	DefaultArrayLength  int64               `xml:"defaultArrayLength,attr"`
	CvPar               []CVParam           `xml:"cvParam"`
	ScanList            scanList            `xml:"scanList"`
	PrecursorList       []precursorList     `xml:"precursorList"`
	BinaryDataArrayList binaryDataArrayList `xml:"binaryDataArrayList"`
}

type binaryDataArrayList struct {
	Count           int               `xml:"count,attr,omitempty"`
	BinaryDataArray []binaryDataArray `xml:"binaryDataArray"`
}

type binaryDataArray struct {
	EncodedLength int       `xml:"encodedLength,attr,omitempty"`
	ArrayLength   int       `xml:"arrayLength,attr,omitempty"`
	CvPar         []CVParam `xml:"cvParam"`
	Binary        string    `xml:"binary"`
}

type scanList struct {
	Count int    `xml:"count,attr,omitempty"`
	Scan  []scan `xml:"scan"`
}

type scan struct {
	InstrConfRef string    `xml:"instrumentConfigurationRef,attr,omitempty"`
	CvPar        []CVParam `xml:"cvParam"`
}

type precursorList struct {
	Count     int            `xml:"count,attr,omitempty"`
	Precursor []xmlPrecursor `xml:"precursor"`
}

type xmlPrecursor struct {
	SpectrumRef     string          `xml:"spectrumRef,attr,omitempty"`
	IsolationWindow isolationWindow `xml:"isolationWindow"`
	SelectedIonList selectedIonList `xml:"selectedIonList"`
	Activation      activation      `xml:"activation"`
}

type isolationWindow struct {
	CvPar []CVParam `xml:"cvParam"`
}

type selectedIonList struct {
	Count       int           `xml:"count,attr,omitempty"`
	SelectedIon []selectedIon `xml:"selectedIon"`
}

type selectedIon struct {
	CvPar []CVParam `xml:"cvParam"`
}

type activation struct {
	CvPar []CVParam `xml:"cvParam"`
}

// CVParam contains values and attributes of a mzML Controlled Vocabulary term
// (http://www.peptideatlas.org/tmp/mzML1.1.0.html)
type CVParam struct {
	Accession     string `xml:"accession,attr,omitempty"`
	Name          string `xml:"name,attr,omitempty"`
	Value         string `xml:"value,attr,omitempty"`
	UnitCvRef     string `xml:"unitCvRef,attr,omitempty"`
	UnitAccession string `xml:"unitAccession,attr,omitempty"`
	UnitName      string `xml:"unitName,attr,omitempty"`
}

// CV accessions used while building scans.
const (
	cvMSLevel          = "MS:1000511"
	cvCentroid         = "MS:1000127"
	cvFilterString     = "MS:1000512"
	cvScanStartTime    = "MS:1000016"
	cvSelectedIonMZ    = "MS:1000744"
	cvChargeState      = "MS:1000041"
	cvIsolationTarget  = "MS:1000827"
	cvMZArray          = "MS:1000514"
	cvIntensityArray   = "MS:1000515"
	cvChargeArray      = "MS:1000516"
	cvZlib             = "MS:1000574"
	cv64BitFloat       = "MS:1000523"
	cv32BitFloat       = "MS:1000521"
	cv32BitInteger     = "MS:1000519"
	cv64BitInteger     = "MS:1000522"
	unitSecond         = "UO:0000010"
	unitMinute         = "UO:0000031"
	unitMinuteMSVocab  = "MS:1000038"
	nativeIDScanPrefix = "scan="
)

var (
	// ErrInvalidScanIndex means an invalid scan index is supplied
	ErrInvalidScanIndex = errors.New("mzML: invalid scan index")
	// ErrNoMzML means the document has no mzML element
	ErrNoMzML = errors.New("mzML: no mzML element found")
	// ErrTruncated means the document ends before the closing mzML tag
	ErrTruncated = errors.New("mzML: document is truncated")
	// ErrUnsupportedCompression means the binary data uses MS-Numpress
	ErrUnsupportedCompression = errors.New("mzML: unsupported binary compression")
	// ErrUnknownTimeUnit means a scan start time has a unit other than seconds or minutes
	ErrUnknownTimeUnit = errors.New("mzML: unknown time unit")
)
