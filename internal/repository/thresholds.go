package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// ThresholdsRepository 患者个性化阈值仓库（PostgreSQL patient_vitals_thresholds）
type ThresholdsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewThresholdsRepository 创建阈值仓库
func NewThresholdsRepository(db *sql.DB, logger *zap.Logger) *ThresholdsRepository {
	return &ThresholdsRepository{
		db:     db,
		logger: logger,
	}
}

// GetOverride 获取患者个性化阈值，不存在时返回 (nil, nil)
func (r *ThresholdsRepository) GetOverride(ctx context.Context, patientID string) (*models.ThresholdSet, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			patient_id,
			condition,
			systolic_min,
			systolic_max,
			diastolic_min,
			diastolic_max,
			heart_rate_min,
			heart_rate_max,
			oxygen_saturation_min,
			temperature_max,
			alert_frequency,
			alert_methods,
			alert_recipients
		FROM patient_vitals_thresholds
		WHERE patient_id = $1
	`

	var set models.ThresholdSet
	var condition sql.NullString
	var spo2 sql.NullInt64
	var temperature sql.NullFloat64
	var methods, recipients []byte

	err := r.db.QueryRowContext(ctx, query, patientID).Scan(
		&set.PatientID,
		&condition,
		&set.Systolic.Min,
		&set.Systolic.Max,
		&set.Diastolic.Min,
		&set.Diastolic.Max,
		&set.HeartRate.Min,
		&set.HeartRate.Max,
		&spo2,
		&temperature,
		&set.AlertFrequency,
		&methods,
		&recipients,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get threshold override: %w", err)
	}

	set.Condition = condition.String
	set.OxygenSaturationMin = nullIntPtr(spo2)
	set.TemperatureMax = nullFloatPtr(temperature)

	if len(methods) > 0 {
		if err := json.Unmarshal(methods, &set.AlertMethods); err != nil {
			return nil, fmt.Errorf("failed to parse alert_methods: %w", err)
		}
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &set.AlertRecipients); err != nil {
			return nil, fmt.Errorf("failed to parse alert_recipients: %w", err)
		}
	}

	if err := set.Validate(); err != nil {
		r.logger.Warn("Stored threshold override is invalid",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
		return nil, err
	}

	return &set, nil
}

// SaveOverride 写入或更新患者个性化阈值
func (r *ThresholdsRepository) SaveOverride(ctx context.Context, set *models.ThresholdSet) error {
	if set == nil || set.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if err := set.Validate(); err != nil {
		return err
	}

	methods, err := json.Marshal(nonNil(set.AlertMethods))
	if err != nil {
		return fmt.Errorf("failed to marshal alert_methods: %w", err)
	}
	recipients, err := json.Marshal(nonNil(set.AlertRecipients))
	if err != nil {
		return fmt.Errorf("failed to marshal alert_recipients: %w", err)
	}

	query := `
		INSERT INTO patient_vitals_thresholds (
			patient_id,
			condition,
			systolic_min,
			systolic_max,
			diastolic_min,
			diastolic_max,
			heart_rate_min,
			heart_rate_max,
			oxygen_saturation_min,
			temperature_max,
			alert_frequency,
			alert_methods,
			alert_recipients,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (patient_id) DO UPDATE SET
			condition = EXCLUDED.condition,
			systolic_min = EXCLUDED.systolic_min,
			systolic_max = EXCLUDED.systolic_max,
			diastolic_min = EXCLUDED.diastolic_min,
			diastolic_max = EXCLUDED.diastolic_max,
			heart_rate_min = EXCLUDED.heart_rate_min,
			heart_rate_max = EXCLUDED.heart_rate_max,
			oxygen_saturation_min = EXCLUDED.oxygen_saturation_min,
			temperature_max = EXCLUDED.temperature_max,
			alert_frequency = EXCLUDED.alert_frequency,
			alert_methods = EXCLUDED.alert_methods,
			alert_recipients = EXCLUDED.alert_recipients,
			updated_at = NOW()
	`

	_, err = r.db.ExecContext(ctx,
		query,
		set.PatientID,
		set.Condition,
		set.Systolic.Min,
		set.Systolic.Max,
		set.Diastolic.Min,
		set.Diastolic.Max,
		set.HeartRate.Min,
		set.HeartRate.Max,
		set.OxygenSaturationMin,
		set.TemperatureMax,
		set.AlertFrequency,
		string(methods),
		string(recipients),
	)
	if err != nil {
		return fmt.Errorf("failed to save threshold override: %w", err)
	}
	return nil
}

// DeleteOverride 删除患者个性化阈值（恢复使用病症默认值）
func (r *ThresholdsRepository) DeleteOverride(ctx context.Context, patientID string) error {
	if patientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM patient_vitals_thresholds WHERE patient_id = $1`, patientID); err != nil {
		return fmt.Errorf("failed to delete threshold override: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
