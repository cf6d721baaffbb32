package mzml

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"fortio.org/safecast"

	"github.com/ChrisMcGann/msnconv/pkg/core"
)

type arrayKind int

const (
	otherArray arrayKind = iota
	mzArray
	intensityArray
	chargeArray
)

// binaryDataPars decodes the CV terms in a mzML binarydata section
//
// CV Terms for binary data compression
// MS:1000574 zlib compression
// MS:1000576 No Compression
// MS:1002312..MS:1002314, MS:1002746..MS:1002748 MS-Numpress variants (unsupported)
//
// CV Terms for binary data array types
// MS:1000514 m/z array
// MS:1000515 intensity array
// MS:1000516 charge array
//
// CV Terms for binary-data-type
// MS:1000521 32-bit float, MS:1000523 64-bit float
// MS:1000519 32-bit integer, MS:1000522 64-bit integer
func binaryDataPars(b *binaryDataArray) (kind arrayKind, zlibCompression bool, width int, integer bool, err error) {
	width = 4 // Default: 32 bits
	for _, cvParam := range b.CvPar {
		switch cvParam.Accession {
		case cvZlib:
			zlibCompression = true
		case cvMZArray:
			kind = mzArray
		case cvIntensityArray:
			kind = intensityArray
		case cvChargeArray:
			kind = chargeArray
		case cv64BitFloat:
			width = 8
		case cv32BitFloat:
			width = 4
		case cv32BitInteger:
			width, integer = 4, true
		case cv64BitInteger:
			width, integer = 8, true
		case `MS:1002312`, `MS:1002313`, `MS:1002314`,
			`MS:1002746`, `MS:1002747`, `MS:1002748`:
			return kind, false, 0, false, fmt.Errorf("%w (CV term %s)", ErrUnsupportedCompression, cvParam.Accession)
		}
	}
	return kind, zlibCompression, width, integer, nil
}

// decodeArray returns the values of one binary data array as float64.
func decodeArray(b *binaryDataArray, zlibCompression bool, width int, integer bool) ([]float64, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b.Binary))
	if err != nil {
		return nil, err
	}
	if zlibCompression {
		z, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer z.Close()
		data, err = io.ReadAll(z)
		if err != nil {
			return nil, err
		}
	}

	cnt := len(data) / width
	values := make([]float64, cnt)
	for i := 0; i < cnt; i++ {
		switch {
		case width == 8 && integer:
			values[i] = float64(int64(binary.LittleEndian.Uint64(data[i*8:])))
		case width == 8:
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
		case integer:
			values[i] = float64(int32(binary.LittleEndian.Uint32(data[i*4:])))
		default:
			values[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:])))
		}
	}
	return values, nil
}

// readPeaks combines the m/z, intensity and optional charge arrays of a spectrum.
func readPeaks(spec *spectrum) ([]core.Peak, error) {
	n, err := safecast.Conv[int](spec.DefaultArrayLength)
	if err != nil {
		return nil, fmt.Errorf("array length %d: %w", spec.DefaultArrayLength, err)
	}

	var mz, intensity, charge []float64
	for i := range spec.BinaryDataArrayList.BinaryDataArray {
		b := &spec.BinaryDataArrayList.BinaryDataArray[i]
		kind, zlibCompression, width, integer, err := binaryDataPars(b)
		if err != nil {
			return nil, err
		}
		// We are only interested in mz, intensity and charge
		if kind == otherArray {
			continue
		}
		values, err := decodeArray(b, zlibCompression, width, integer)
		if err != nil {
			return nil, err
		}
		switch kind {
		case mzArray:
			mz = values
		case intensityArray:
			intensity = values
		case chargeArray:
			charge = values
		}
	}

	if len(mz) != len(intensity) {
		return nil, fmt.Errorf("m/z array has %d values, intensity array has %d", len(mz), len(intensity))
	}
	if len(mz) != n {
		return nil, fmt.Errorf("arrays have %d values, defaultArrayLength is %d", len(mz), n)
	}

	peaks := make([]core.Peak, n)
	for i := range peaks {
		peaks[i].MZ = mz[i]
		peaks[i].Intensity = intensity[i]
		if i < len(charge) {
			z, err := safecast.Round[int32](charge[i])
			if err != nil {
				return nil, fmt.Errorf("peak %d charge: %w", i, err)
			}
			peaks[i].Charge = z
		}
	}
	return peaks, nil
}
