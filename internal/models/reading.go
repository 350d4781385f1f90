package models

import "time"

// Measurement 一次采样的生命体征数值
type Measurement struct {
	Systolic  int  `json:"systolic"`
	Diastolic int  `json:"diastolic"`
	HeartRate *int `json:"heart_rate,omitempty"`

	OxygenSaturation *int     `json:"oxygen_saturation,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`

	// 活动上下文
	ActivityType *string `json:"activity_type,omitempty"` // "resting", "walking", "exercising"
	StepsCount   *int    `json:"steps_count,omitempty"`

	// 环境上下文
	Location           *string  `json:"location,omitempty"`
	AmbientTemperature *float64 `json:"ambient_temperature,omitempty"`
}

// Sample 设备数据流中的一条原始样本
type Sample struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
	Measurement

	// Cursor 数据流中的位置（Redis Stream 消息ID 等），用于确认消费
	Cursor string `json:"-"`
}

// ReadingContext 读数上下文快照
type ReadingContext struct {
	TimeOfDay          string   `json:"time_of_day"` // "HH:MM"
	Activity           string   `json:"activity"`
	Location           string   `json:"location"`
	AmbientTemperature *float64 `json:"ambient_temp,omitempty"`
}

// AlertAnnotation 读数的报警标注（入库时一次性生成）
type AlertAnnotation struct {
	Generated bool            `json:"alert_generated"`
	Severity  Severity        `json:"severity"`
	Exceeded  []ThresholdKind `json:"threshold_exceeded"`
	Context   ReadingContext  `json:"context"`
}

// VitalsReading 已标注的生命体征读数（对应 vitals_readings 表），创建后不再修改
type VitalsReading struct {
	ID        string    `json:"id" db:"reading_id"`
	PatientID string    `json:"patient_id" db:"patient_id"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Measurement

	Alert     AlertAnnotation `json:"alert"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Abnormal 是否超出阈值
func (r *VitalsReading) Abnormal() bool {
	return r.Alert.Severity != SeverityNone
}
