package evaluator

import (
	"time"

	"wisefido-vitals/internal/models"

	"github.com/google/uuid"
)

const unknownContext = "unknown"

// BuildReading 由评估结果一次性构建带报警标注的读数
func BuildReading(patientID string, sample *models.Sample, exceeded []models.ThresholdKind, sev models.Severity, now time.Time) models.VitalsReading {
	ts := sample.Timestamp
	if ts.IsZero() {
		ts = now
	}

	kinds := make([]models.ThresholdKind, len(exceeded))
	copy(kinds, exceeded)

	return models.VitalsReading{
		ID:          uuid.New().String(),
		PatientID:   patientID,
		DeviceID:    sample.DeviceID,
		Timestamp:   ts,
		Measurement: sample.Measurement,
		Alert: models.AlertAnnotation{
			Generated: sev != models.SeverityNone,
			Severity:  sev,
			Exceeded:  kinds,
			Context:   buildContext(ts, &sample.Measurement),
		},
		CreatedAt: now,
	}
}

// Evaluate 评估样本并返回标注后的读数
func Evaluate(patientID string, sample *models.Sample, thresholds *models.ThresholdSet, now time.Time) models.VitalsReading {
	exceeded, sev := Score(&sample.Measurement, thresholds)
	return BuildReading(patientID, sample, exceeded, sev, now)
}

func buildContext(ts time.Time, m *models.Measurement) models.ReadingContext {
	ctx := models.ReadingContext{
		TimeOfDay:          ts.Format("15:04"),
		Activity:           unknownContext,
		Location:           unknownContext,
		AmbientTemperature: m.AmbientTemperature,
	}
	if m.ActivityType != nil && *m.ActivityType != "" {
		ctx.Activity = *m.ActivityType
	}
	if m.Location != nil && *m.Location != "" {
		ctx.Location = *m.Location
	}
	return ctx
}
