package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned when a maximum or threshold is requested over no peaks.
	ErrEmptyInput = errors.New("empty peak list")
	// ErrDegenerateSpectrum is returned when intensities cannot be normalized.
	ErrDegenerateSpectrum = errors.New("spectrum has no intensity to normalize")
	// ErrUnknownType is matched by every UnknownTypeError.
	ErrUnknownType = errors.New("unknown type code")
)

// UnknownTypeError reports an instrument or activation code outside the fixed tables.
type UnknownTypeError struct {
	Kind string // "instrument" or "activation"
	Code int
	Name string // set when a name lookup failed
}

func (e *UnknownTypeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown %s type %q", e.Kind, e.Name)
	}
	return fmt.Sprintf("unknown %s type %d", e.Kind, e.Code)
}

// Is makes errors.Is(err, ErrUnknownType) hold.
func (e *UnknownTypeError) Is(target error) bool {
	return target == ErrUnknownType
}
