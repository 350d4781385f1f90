package models

import "time"

// DispatchOutcome 报警派发结果
type DispatchOutcome string

const (
	OutcomeSent                  DispatchOutcome = "sent"
	OutcomeSuppressedRateLimited DispatchOutcome = "suppressed_rate_limited"
)

// AlertEvent 报警事件（瞬时消息，不单独持久化）
type AlertEvent struct {
	EventID         string          `json:"event_id"`
	PatientID       string          `json:"patient_id"`
	Reading         VitalsReading   `json:"reading"`
	Severity        Severity        `json:"severity"`
	Exceeded        []ThresholdKind `json:"threshold_exceeded"`
	SuggestedAction string          `json:"suggested_action"`
	Recipients      []string        `json:"recipients,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
