// Package core provides chemistry calculations for charge state handling
package core

import (
	"strconv"
)

const (
	// ProtonMass is the proton mass used for every charge calculation.
	ProtonMass = 1.00727646688

	// LegacyProtonMass is the truncated constant some older exporters used
	// when rendering Z lines. Output never uses it.
	LegacyProtonMass = 1.007276466
)

// DechargeToPlus1 converts an observed m/z at the given charge into the
// singly protonated mass: mz*z - (z-1)*proton.
func DechargeToPlus1(mz float64, charge int) float64 {
	z := float64(charge)
	return mz*z - (z-1)*ProtonMass
}

// ChargeFromPlus1 is the inverse of DechargeToPlus1. Charges below 1 return
// the mass unchanged.
func ChargeFromPlus1(mass float64, charge int) float64 {
	if charge < 1 {
		return mass
	}
	z := float64(charge)
	return (mass + (z-1)*ProtonMass) / z
}

// FormatFloat renders v as the shortest decimal that round-trips, with a
// '.' separator and no exponent, independent of the process locale.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
