package models

import "time"

// BPAverage 血压均值
type BPAverage struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// TimePatterns 时段模式（早 06-12，晚 17-23）
type TimePatterns struct {
	MorningAverage *BPAverage `json:"morning_average,omitempty"`
	EveningAverage *BPAverage `json:"evening_average,omitempty"`
	MorningSurge   *float64   `json:"morning_surge,omitempty"` // 早晨收缩压均值 - 晚间收缩压均值
}

// ActivityStats 按活动类型分组的统计
type ActivityStats struct {
	Count         int     `json:"count"`
	SystolicMean  float64 `json:"systolic_mean"`
	SystolicStd   float64 `json:"systolic_std"`
	DiastolicMean float64 `json:"diastolic_mean"`
	DiastolicStd  float64 `json:"diastolic_std"`
}

// Variability 样本标准差
type Variability struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// 风险因素类型
const (
	RiskHighVariability    = "high_variability"
	RiskMorningSurge       = "morning_surge"
	RiskSustainedElevation = "sustained_elevation"
)

// RiskFactor 由历史模式推导的风险因素
type RiskFactor struct {
	Type           string   `json:"type"`
	Description    string   `json:"description"`
	Severity       Severity `json:"severity"`
	Recommendation string   `json:"recommendation"`
}

// PatternReport 历史读数模式分析报告
type PatternReport struct {
	PatientID    string    `json:"patient_id"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	ReadingCount int       `json:"reading_count"`

	TimePatterns     TimePatterns             `json:"time_patterns"`
	ActivityPatterns map[string]ActivityStats `json:"activity_patterns"`
	Variability      Variability              `json:"variability"`

	// HeartRateSystolicCorrelation 心率与收缩压的 Pearson 相关系数（样本不足时为空）
	HeartRateSystolicCorrelation *float64 `json:"heart_rate_bp_correlation,omitempty"`

	RiskFactors []RiskFactor `json:"risk_factors"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// HasRisk 报告中是否包含指定类型的风险因素
func (p *PatternReport) HasRisk(riskType string) (RiskFactor, bool) {
	for _, rf := range p.RiskFactors {
		if rf.Type == riskType {
			return rf, true
		}
	}
	return RiskFactor{}, false
}

// 趋势方向
const (
	TrendIncreasing       = "increasing"
	TrendDecreasing       = "decreasing"
	TrendStable           = "stable"
	TrendInsufficientData = "insufficient_data"
)

// TrendSummary 血压趋势摘要
type TrendSummary struct {
	PatientID        string  `json:"patient_id"`
	ReadingsCount    int     `json:"readings_count"`
	AbnormalReadings int     `json:"abnormal_readings"`
	AverageSystolic  float64 `json:"average_systolic"`
	AverageDiastolic float64 `json:"average_diastolic"`
	MaxSystolic      int     `json:"max_systolic"`
	MaxDiastolic     int     `json:"max_diastolic"`
	MinSystolic      int     `json:"min_systolic"`
	MinDiastolic     int     `json:"min_diastolic"`
	Trend            string  `json:"trend"`
}
