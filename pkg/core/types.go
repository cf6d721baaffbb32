package core

import (
	"fmt"
	"strings"
)

// InstrumentType is the mass analyzer code of a scan.
type InstrumentType int16

// Instrument codes. Any other value is stored as-is but has no name.
const (
	InstrumentUnknown InstrumentType = -1
	FTMS              InstrumentType = 1
	ITMS              InstrumentType = 2
	TOF               InstrumentType = 3
	Quadrupole        InstrumentType = 4
)

var instrumentNames = map[InstrumentType]string{
	FTMS:       "FTMS",
	ITMS:       "ITMS",
	TOF:        "TOF",
	Quadrupole: "Quadrupole",
}

// Name returns the canonical display name of the instrument code.
func (t InstrumentType) Name() (string, error) {
	if name, ok := instrumentNames[t]; ok {
		return name, nil
	}
	return "", &UnknownTypeError{Kind: "instrument", Code: int(t)}
}

func (t InstrumentType) String() string {
	if name, err := t.Name(); err == nil {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int16(t))
}

// ParseInstrumentType maps a display name back to its code (case-insensitive).
func ParseInstrumentType(name string) (InstrumentType, error) {
	for code, n := range instrumentNames {
		if strings.EqualFold(n, name) {
			return code, nil
		}
	}
	return InstrumentUnknown, &UnknownTypeError{Kind: "instrument", Code: int(InstrumentUnknown), Name: name}
}

// ActivationType is the fragmentation method of an MSn scan.
type ActivationType int16

// Activation codes. Any other value is stored as-is but has no name.
const (
	ActivationUnknown ActivationType = -1
	CID               ActivationType = 1
	HCD               ActivationType = 2
	ETD               ActivationType = 3
	ECD               ActivationType = 4
	MPD               ActivationType = 5
	Any               ActivationType = 6
	PQD               ActivationType = 7
)

var activationNames = map[ActivationType]string{
	CID: "CID",
	HCD: "HCD",
	ETD: "ETD",
	ECD: "ECD",
	MPD: "MPD",
	Any: "Any",
	PQD: "PQD",
}

// Name returns the canonical display name of the activation code.
func (t ActivationType) Name() (string, error) {
	if name, ok := activationNames[t]; ok {
		return name, nil
	}
	return "", &UnknownTypeError{Kind: "activation", Code: int(t)}
}

func (t ActivationType) String() string {
	if name, err := t.Name(); err == nil {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int16(t))
}

// ParseActivationType maps a display name back to its code (case-insensitive).
func ParseActivationType(name string) (ActivationType, error) {
	for code, n := range activationNames {
		if strings.EqualFold(n, name) {
			return code, nil
		}
	}
	return ActivationUnknown, &UnknownTypeError{Kind: "activation", Code: int(ActivationUnknown), Name: name}
}
