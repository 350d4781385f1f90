package evaluator

import (
	"wisefido-vitals/internal/models"
)

// 偏离比例分级边界（含边界归入较低等级）
const (
	criticalRatio = 0.20
	highRatio     = 0.10
)

// Score 根据阈值评估一次测量
// 只有收缩压/舒张压参与偏离比例计算；心率、血氧、体温仅记入 exceeded
func Score(m *models.Measurement, t *models.ThresholdSet) ([]models.ThresholdKind, models.Severity) {
	exceeded := make([]models.ThresholdKind, 0, 2)
	maxRatio := 0.0

	checkBP := func(value int, r models.Range, high, low models.ThresholdKind) {
		if r.Contains(value) {
			return
		}
		switch {
		case value > r.Max:
			exceeded = append(exceeded, high)
			maxRatio = maxFloat(maxRatio, deviation(value, r.Max))
		case value < r.Min:
			exceeded = append(exceeded, low)
			maxRatio = maxFloat(maxRatio, deviation(value, r.Min))
		}
	}

	checkBP(m.Systolic, t.Systolic, models.HighSystolic, models.LowSystolic)
	checkBP(m.Diastolic, t.Diastolic, models.HighDiastolic, models.LowDiastolic)

	if m.HeartRate != nil && !t.HeartRate.Contains(*m.HeartRate) {
		switch {
		case *m.HeartRate > t.HeartRate.Max:
			exceeded = append(exceeded, models.HighHeartRate)
		case *m.HeartRate < t.HeartRate.Min:
			exceeded = append(exceeded, models.LowHeartRate)
		}
	}
	if m.OxygenSaturation != nil && t.OxygenSaturationMin != nil && *m.OxygenSaturation < *t.OxygenSaturationMin {
		exceeded = append(exceeded, models.LowOxygenSaturation)
	}
	if m.Temperature != nil && t.TemperatureMax != nil && *m.Temperature > *t.TemperatureMax {
		exceeded = append(exceeded, models.HighTemperature)
	}

	if len(exceeded) == 0 {
		return exceeded, models.SeverityNone
	}
	return exceeded, classify(maxRatio)
}

func classify(ratio float64) models.Severity {
	switch {
	case ratio > criticalRatio:
		return models.SeverityCritical
	case ratio > highRatio:
		return models.SeverityHigh
	default:
		return models.SeverityModerate
	}
}

// deviation |value - bound| / bound，bound 为 0 时按 0 处理
func deviation(value, bound int) float64 {
	if bound == 0 {
		return 0
	}
	d := float64(value - bound)
	if d < 0 {
		d = -d
	}
	return d / float64(bound)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// SuggestedAction 报警建议措施
func SuggestedAction(sev models.Severity, exceeded []models.ThresholdKind) string {
	var action string
	switch sev {
	case models.SeverityCritical:
		action = "Seek immediate medical attention and re-measure in a resting position"
	case models.SeverityHigh:
		action = "Contact your healthcare provider and re-measure within 15 minutes"
	case models.SeverityModerate:
		action = "Rest for 5 minutes and re-measure"
	default:
		return ""
	}

	for _, k := range exceeded {
		switch k {
		case models.LowOxygenSaturation:
			return action + "; check oxygen saturation sensor placement and breathing"
		case models.HighTemperature:
			return action + "; monitor body temperature"
		}
	}
	return action
}
