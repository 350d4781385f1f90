package models

import "fmt"

// Severity 异常读数严重程度（有序：none < moderate < high < critical）
type Severity int

const (
	SeverityNone Severity = iota
	SeverityModerate
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityModerate:
		return "moderate"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseSeverity 解析严重程度字符串
func ParseSeverity(s string) (Severity, error) {
	switch s {
	case "", "none":
		return SeverityNone, nil
	case "moderate":
		return SeverityModerate, nil
	case "high":
		return SeverityHigh, nil
	case "critical":
		return SeverityCritical, nil
	}
	return SeverityNone, fmt.Errorf("unknown severity: %q", s)
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ThresholdKind 超出的阈值类型
type ThresholdKind string

const (
	HighSystolic        ThresholdKind = "high_systolic"
	LowSystolic         ThresholdKind = "low_systolic"
	HighDiastolic       ThresholdKind = "high_diastolic"
	LowDiastolic        ThresholdKind = "low_diastolic"
	HighHeartRate       ThresholdKind = "high_heart_rate"
	LowHeartRate        ThresholdKind = "low_heart_rate"
	LowOxygenSaturation ThresholdKind = "low_oxygen_saturation"
	HighTemperature     ThresholdKind = "high_temperature"
)
