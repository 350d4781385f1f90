package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// ReadingStore 生命体征读数存储（只追加）
type ReadingStore interface {
	Append(ctx context.Context, reading *models.VitalsReading) error
	// Query 返回 [start, end] 内的读数，按 timestamp 升序
	Query(ctx context.Context, patientID string, start, end time.Time) ([]models.VitalsReading, error)
}

// alertDetails vitals_readings.alert_details（JSONB）
type alertDetails struct {
	Severity models.Severity        `json:"severity"`
	Exceeded []models.ThresholdKind `json:"threshold_exceeded"`
	Context  models.ReadingContext  `json:"context"`
}

// ReadingsRepository 读数仓库（PostgreSQL vitals_readings）
type ReadingsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingsRepository 创建读数仓库
func NewReadingsRepository(db *sql.DB, logger *zap.Logger) *ReadingsRepository {
	return &ReadingsRepository{
		db:     db,
		logger: logger,
	}
}

// Append 写入一条已标注读数
func (r *ReadingsRepository) Append(ctx context.Context, reading *models.VitalsReading) error {
	if reading == nil {
		return fmt.Errorf("%w: reading is required", models.ErrStore)
	}
	if reading.PatientID == "" {
		return fmt.Errorf("%w: patient_id is required", models.ErrStore)
	}

	details, err := json.Marshal(alertDetails{
		Severity: reading.Alert.Severity,
		Exceeded: reading.Alert.Exceeded,
		Context:  reading.Alert.Context,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to marshal alert details: %v", models.ErrStore, err)
	}

	query := `
		INSERT INTO vitals_readings (
			reading_id,
			patient_id,
			device_id,
			timestamp,
			systolic,
			diastolic,
			heart_rate,
			oxygen_saturation,
			temperature,
			activity_type,
			steps_count,
			location,
			ambient_temperature,
			alert_generated,
			alert_details,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
		)
	`

	_, err = r.db.ExecContext(ctx,
		query,
		reading.ID,
		reading.PatientID,
		reading.DeviceID,
		reading.Timestamp,
		reading.Systolic,
		reading.Diastolic,
		reading.HeartRate,
		reading.OxygenSaturation,
		reading.Temperature,
		reading.ActivityType,
		reading.StepsCount,
		reading.Location,
		reading.AmbientTemperature,
		reading.Alert.Generated,
		string(details),
		reading.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert reading: %v", models.ErrStore, err)
	}
	return nil
}

// Query 查询患者时间窗口内的读数
func (r *ReadingsRepository) Query(ctx context.Context, patientID string, start, end time.Time) ([]models.VitalsReading, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			reading_id,
			patient_id,
			device_id,
			timestamp,
			systolic,
			diastolic,
			heart_rate,
			oxygen_saturation,
			temperature,
			activity_type,
			steps_count,
			location,
			ambient_temperature,
			alert_generated,
			alert_details,
			created_at
		FROM vitals_readings
		WHERE patient_id = $1
		  AND timestamp >= $2
		  AND timestamp <= $3
		ORDER BY timestamp ASC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, start, end)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query readings: %v", models.ErrStore, err)
	}
	defer rows.Close()

	var readings []models.VitalsReading
	for rows.Next() {
		var rd models.VitalsReading
		var heartRate, spo2, steps sql.NullInt64
		var temperature, ambient sql.NullFloat64
		var activity, location sql.NullString
		var details []byte

		if err := rows.Scan(
			&rd.ID,
			&rd.PatientID,
			&rd.DeviceID,
			&rd.Timestamp,
			&rd.Systolic,
			&rd.Diastolic,
			&heartRate,
			&spo2,
			&temperature,
			&activity,
			&steps,
			&location,
			&ambient,
			&rd.Alert.Generated,
			&details,
			&rd.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan reading: %v", models.ErrStore, err)
		}

		rd.HeartRate = nullIntPtr(heartRate)
		rd.OxygenSaturation = nullIntPtr(spo2)
		rd.StepsCount = nullIntPtr(steps)
		rd.Temperature = nullFloatPtr(temperature)
		rd.AmbientTemperature = nullFloatPtr(ambient)
		rd.ActivityType = nullStringPtr(activity)
		rd.Location = nullStringPtr(location)

		if len(details) > 0 {
			var d alertDetails
			if err := json.Unmarshal(details, &d); err != nil {
				r.logger.Warn("Failed to parse alert_details",
					zap.String("reading_id", rd.ID),
					zap.Error(err),
				)
			} else {
				rd.Alert.Severity = d.Severity
				rd.Alert.Exceeded = d.Exceeded
				rd.Alert.Context = d.Context
			}
		}

		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate readings: %v", models.ErrStore, err)
	}

	return readings, nil
}

func nullIntPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
