// Package units provides shared constants and validation for speed units
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

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
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from km/h to the target units.
// The database stores summary speeds in km/h.
func ConvertSpeed(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedKmh * 0.621371 // km/h to mph
	case MPS:
		return speedKmh / 3.6 // km/h to m/s
	case KMPH, KPH:
		return speedKmh // no conversion needed
	default:
		return speedKmh // default to km/h if unknown unit
	}
}

// KmToMeters converts a distance in kilometers to meters.
func KmToMeters(km float64) float64 {
	return km * 1000.0
}

// MetersToKm converts a distance in meters to kilometers.
func MetersToKm(m float64) float64 {
	return m / 1000.0
}
