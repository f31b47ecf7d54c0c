// Package units provides shared constants and conversion for model length units
package units

import "strings"

// Unit constants as reported by the model's unit string
const (
	Meters      = "m"
	Centimeters = "cm"
	Millimeters = "mm"
	Feet        = "ft"
	Inches      = "in"
)

// FeetPerMeter is the multiplier applied to metric distances when the model
// is authored in feet.
const FeetPerMeter = 3.28084

// ValidUnits contains all unit strings the pipeline recognises
var ValidUnits = []string{Meters, Centimeters, Millimeters, Feet, Inches}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// Multiplier returns the factor that turns a distance in meters into model
// units. Only feet models are corrected; every other unit string, known or
// not, is treated as metric so the offsets stay at their nominal value.
func Multiplier(unit string) float64 {
	switch unit {
	case Feet:
		return FeetPerMeter
	default:
		return 1.0
	}
}
