package models

import "fmt"

// Range 闭区间正常范围 [Min, Max]
type Range struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains 判断值是否在范围内（含边界）
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// ThresholdSet 生命体征阈值配置（患者个性化或按病症的默认模板）
type ThresholdSet struct {
	PatientID string `json:"patient_id,omitempty"` // 为空表示病症默认模板
	Condition string `json:"condition"`

	Systolic  Range `json:"systolic"`
	Diastolic Range `json:"diastolic"`
	HeartRate Range `json:"heart_rate"`

	OxygenSaturationMin *int     `json:"oxygen_saturation_min,omitempty"`
	TemperatureMax      *float64 `json:"temperature_max,omitempty"`

	// 报警投递设置
	AlertFrequency  int      `json:"alert_frequency"`  // 同一患者两次报警的最小间隔（分钟）
	AlertMethods    []string `json:"alert_methods"`    // 投递渠道，如 "webhook", "stream", "mqtt"
	AlertRecipients []string `json:"alert_recipients"` // 接收人（医护人员ID）
}

// Validate 校验每个范围 min <= max 且 max > 0（缺省的范围会被解码为 {0, 0}）
func (t *ThresholdSet) Validate() error {
	checks := []struct {
		name string
		r    Range
	}{
		{"systolic", t.Systolic},
		{"diastolic", t.Diastolic},
		{"heart_rate", t.HeartRate},
	}
	for _, c := range checks {
		if c.r.Max <= 0 {
			return fmt.Errorf("%w: %s range is missing or non-positive", ErrInvalidThreshold, c.name)
		}
		if c.r.Min > c.r.Max {
			return fmt.Errorf("%w: %s min %d > max %d", ErrInvalidThreshold, c.name, c.r.Min, c.r.Max)
		}
	}
	if t.AlertFrequency < 0 {
		return fmt.Errorf("%w: negative alert_frequency %d", ErrInvalidThreshold, t.AlertFrequency)
	}
	return nil
}

// Clone 深拷贝（解析结果交给调用方后不能影响内置表）
func (t *ThresholdSet) Clone() *ThresholdSet {
	c := *t
	if t.OxygenSaturationMin != nil {
		v := *t.OxygenSaturationMin
		c.OxygenSaturationMin = &v
	}
	if t.TemperatureMax != nil {
		v := *t.TemperatureMax
		c.TemperatureMax = &v
	}
	c.AlertMethods = append([]string(nil), t.AlertMethods...)
	c.AlertRecipients = append([]string(nil), t.AlertRecipients...)
	return &c
}
