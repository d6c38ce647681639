package pressure

import "time"

// ThermalState is the device thermal classification, ordered by severity.
type ThermalState int

const (
	// ThermalNominal means the device is at a normal temperature
	ThermalNominal ThermalState = iota

	// ThermalFair means the device is slightly warm
	ThermalFair

	// ThermalSerious means the device is hot and should shed load
	ThermalSerious

	// ThermalCritical means the device is close to throttling or shutdown
	ThermalCritical
)

// String returns the string representation of the thermal state.
func (t ThermalState) String() string {
	switch t {
	case ThermalNominal:
		return "nominal"
	case ThermalFair:
		return "fair"
	case ThermalSerious:
		return "serious"
	case ThermalCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Level is the published pressure classification.
type Level int

const (
	// LevelNormal means no resource signal is tripped
	LevelNormal Level = iota

	// LevelWarning means at least one signal crossed its pressure threshold
	LevelWarning

	// LevelCritical means a signal crossed its critical threshold
	LevelCritical
)

// String returns the string representation of the pressure level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// BatteryUnknown is reported when the battery level cannot be determined;
// the battery signal is skipped in that case.
const BatteryUnknown = -1.0

// Metrics is a point-in-time snapshot of device resource signals. It is
// produced fresh on every check cycle and emitted by value; consumers must
// never see it change after publication.
type Metrics struct {
	ResidentMB         float64      // Resident memory of this process
	AvailableStorageGB float64      // Free bytes at the storage root
	BatteryLevel       float64      // 0..1 fraction, BatteryUnknown if unknown
	Thermal            ThermalState // Device thermal classification
	CPUPercent         float64      // Overall CPU usage
	SampledAt          time.Time
}
